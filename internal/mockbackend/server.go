package mockbackend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/go-admin-session/directory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server serves the dashboard wire protocol from a local directory. It is
// used by tests and by `dashctl mock-backend`.
type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	dir      *directory.Local
	clientID string
	logger   zerolog.Logger

	callsLock sync.Mutex
	calls     map[string]*atomic.Int64

	holdsLock sync.Mutex
	holds     map[string]chan struct{}

	resourcesLock sync.RWMutex
	resources     map[string]any
}

type Option func(*Server)

// WithEnv enables DEV route logging.
func WithEnv(env string) Option {
	return func(s *Server) {
		s.env = env
	}
}

// WithClientID makes the OAuth2 token endpoint require client_id.
func WithClientID(clientID string) Option {
	return func(s *Server) {
		s.clientID = clientID
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(dir *directory.Local, options ...Option) (*Server, error) {
	if dir == nil {
		return nil, fmt.Errorf("[mockbackend New] directory is required")
	}

	s := &Server{
		mux:       http.NewServeMux(),
		dir:       dir,
		logger:    log.Logger,
		calls:     make(map[string]*atomic.Int64),
		holds:     make(map[string]chan struct{}),
		resources: make(map[string]any),
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Calls returns how many requests reached method+path, e.g. "POST /auth/refresh".
func (s *Server) Calls(route string) int64 {
	s.callsLock.Lock()
	defer s.callsLock.Unlock()
	if c, ok := s.calls[route]; ok {
		return c.Load()
	}
	return 0
}

// Hold makes requests whose path starts with prefix wait until the returned
// release is called. Calling release more than once is safe.
func (s *Server) Hold(prefix string) (release func()) {
	gate := make(chan struct{})
	s.holdsLock.Lock()
	s.holds[prefix] = gate
	s.holdsLock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.holdsLock.Lock()
			if s.holds[prefix] == gate {
				delete(s.holds, prefix)
			}
			s.holdsLock.Unlock()
			close(gate)
		})
	}
}

// SetResource seeds the payload served for GET /orgs/{tenantID}/{resource}.
func (s *Server) SetResource(tenantID, resource string, payload any) {
	s.resourcesLock.Lock()
	defer s.resourcesLock.Unlock()
	s.resources[tenantID+"/"+resource] = payload
}

func (s *Server) resource(tenantID, resource string) (any, bool) {
	s.resourcesLock.RLock()
	defer s.resourcesLock.RUnlock()
	payload, ok := s.resources[tenantID+"/"+resource]
	return payload, ok
}

func (s *Server) count(route string) {
	s.callsLock.Lock()
	c, ok := s.calls[route]
	if !ok {
		c = &atomic.Int64{}
		s.calls[route] = c
	}
	s.callsLock.Unlock()
	c.Add(1)
}

func (s *Server) wait(ctx context.Context, path string) {
	s.holdsLock.Lock()
	var gates []chan struct{}
	for prefix, gate := range s.holds {
		if strings.HasPrefix(path, prefix) {
			gates = append(gates, gate)
		}
	}
	s.holdsLock.Unlock()

	for _, gate := range gates {
		select {
		case <-gate:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	s.logger.Info().Msgf("[%-16s] %s", colourMethod(method), path)
}

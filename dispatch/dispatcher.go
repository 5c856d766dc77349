package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/jrsteele09/go-admin-session/internal/metrics"
	"github.com/jrsteele09/go-admin-session/internal/utils"
	"github.com/jrsteele09/go-admin-session/token/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader carries the request ID; a retry after refresh reuses it.
const RequestIDHeader = "X-Request-ID"

// Refresher exchanges credentials after a 401. staleAccess is the token the
// rejected request carried.
type Refresher interface {
	Exchange(ctx context.Context, staleAccess string) (credentials.Pair, error)
}

// Requester is the consumer-facing surface of the dispatcher.
type Requester interface {
	Request(ctx context.Context, path string, opts Options) (*Response, error)
}

// AuthFailureHandler is told about every AuthError before it is returned.
type AuthFailureHandler func(ctx context.Context, err *AuthError)

type Options struct {
	Method  string
	Headers http.Header
	// Body is sent raw for []byte and io.Reader, form encoded for url.Values
	// and JSON encoded otherwise.
	Body any
	// CredentialOverride nil uses the stored access token. A pointer to ""
	// sends no Authorization header (login). Any other value is sent as is.
	// Requests with an override never trigger a refresh.
	CredentialOverride *string
}

// NoCredential is the override used by login so a stale token is never sent.
func NoCredential() *string {
	return utils.Ptr("")
}

// Credential overrides the stored access token for one request. A 401 on it
// is returned as an HTTPError without a refresh.
func Credential(accessToken string) *string {
	return utils.Ptr(accessToken)
}

type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RequestID string
}

func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	return errors.Wrap(json.Unmarshal(r.Body, v), "Response.Decode")
}

type Dispatcher struct {
	store     *credentials.Store
	refresher Refresher
	baseURL   string
	client    *http.Client
	logger    zerolog.Logger

	handlersLock sync.RWMutex
	handlers     []AuthFailureHandler
}

var _ Requester = (*Dispatcher)(nil)

type Option func(*Dispatcher)

func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New builds a dispatcher. baseURL is used when the store holds no base address.
func New(store *credentials.Store, refresher Refresher, baseURL string, options ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		refresher: refresher,
		baseURL:   baseURL,
		client:    http.DefaultClient,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *Dispatcher) OnAuthFailure(h AuthFailureHandler) {
	d.handlersLock.Lock()
	defer d.handlersLock.Unlock()
	d.handlers = append(d.handlers, h)
}

// Request issues an authenticated call. On a 401 it refreshes once and retries
// once with the new token; see Options.CredentialOverride for the exceptions.
func (d *Dispatcher) Request(ctx context.Context, path string, opts Options) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "Dispatcher.Request encode body %s %s", method, path)
	}

	accessToken, err := d.credential(ctx, opts.CredentialOverride)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}

	requestID := uuid.New().String()
	resp, err := d.send(ctx, method, path, opts.Headers, body, contentType, accessToken, requestID)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("transport_error").Inc()
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && opts.CredentialOverride == nil {
		resp, err = d.refreshAndRetry(ctx, method, path, opts.Headers, body, contentType, accessToken, requestID)
		if err != nil {
			return nil, err
		}
	}

	if resp.Status < 200 || resp.Status > 299 {
		metrics.RequestsTotal.WithLabelValues("http_error").Inc()
		return nil, newHTTPError(method, path, resp.Status, resp.Body)
	}

	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

func (d *Dispatcher) refreshAndRetry(ctx context.Context, method, path string, headers http.Header, body []byte, contentType, staleAccess, requestID string) (*Response, error) {
	if d.refresher == nil {
		return nil, d.authFailure(ctx, &AuthError{Path: path, Status: http.StatusUnauthorized})
	}

	pair, err := d.refresher.Exchange(ctx, staleAccess)
	if err != nil {
		if !refresh.IsRefreshError(err) {
			// The caller gave up waiting; the session itself is not known to be bad.
			metrics.RequestsTotal.WithLabelValues("transport_error").Inc()
			return nil, &TransportError{Method: method, Path: path, Err: err}
		}
		return nil, d.authFailure(ctx, &AuthError{Path: path, Status: http.StatusUnauthorized, Cause: err})
	}

	metrics.RequestRetriesTotal.Inc()
	d.logger.Debug().Str("path", path).Str("request_id", requestID).Msg("retrying after refresh")

	resp, err := d.send(ctx, method, path, headers, body, contentType, pair.AccessToken, requestID)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("transport_error").Inc()
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		return nil, d.authFailure(ctx, &AuthError{Path: path, Status: resp.Status, Retried: true})
	}
	return resp, nil
}

func (d *Dispatcher) authFailure(ctx context.Context, authErr *AuthError) error {
	metrics.RequestsTotal.WithLabelValues("auth_error").Inc()
	d.logger.Warn().Err(authErr).Str("path", authErr.Path).Msg("authorization failed")

	d.handlersLock.RLock()
	handlers := append([]AuthFailureHandler(nil), d.handlers...)
	d.handlersLock.RUnlock()

	for _, h := range handlers {
		h(ctx, authErr)
	}
	return authErr
}

func (d *Dispatcher) credential(ctx context.Context, override *string) (string, error) {
	if override != nil {
		return *override, nil
	}
	return d.store.AccessToken(ctx)
}

func (d *Dispatcher) send(ctx context.Context, method, path string, headers http.Header, body []byte, contentType, accessToken, requestID string) (*Response, error) {
	target := d.resolve(ctx, path)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}

	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: errors.Wrap(err, "read body")}
	}

	d.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Msg("request")

	return &Response{
		Status:    resp.StatusCode,
		Header:    resp.Header,
		Body:      payload,
		RequestID: requestID,
	}, nil
}

func (d *Dispatcher) resolve(ctx context.Context, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base := strings.TrimRight(d.store.ResolveBaseURL(ctx, d.baseURL), "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// encodeBody renders the body once so that a retry sends identical bytes.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "application/octet-stream", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/octet-stream", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

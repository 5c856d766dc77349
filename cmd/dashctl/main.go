package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/jrsteele09/go-admin-session/credentials/redisstore"
	"github.com/jrsteele09/go-admin-session/dispatch"
	"github.com/jrsteele09/go-admin-session/internal/config"
	"github.com/jrsteele09/go-admin-session/internal/mockbackend"
	"github.com/jrsteele09/go-admin-session/sessionctx"
	"github.com/jrsteele09/go-admin-session/sessions"
	"github.com/jrsteele09/go-admin-session/token"
	"github.com/jrsteele09/go-admin-session/token/refresh"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: dashctl [flags] <command> [args]

commands:
  login <email> [password]   sign in (password defaults to $DASH_PASSWORD)
  whoami                     restore the stored session and print the principal
  tenants                    list tenants visible to the principal
  load <tenant>...           select tenants in order and print the last view
  logout                     revoke and clear the stored credentials
  mock-backend               serve the in-memory backend on $MOCK_ADDR
`

func main() {
	// .env is optional.
	_ = godotenv.Load()

	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	baseURL := flag.String("base-url", "", "backend base address, persisted with the credentials")
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := config.New()
	setupLogging(c)

	if err := run(c, *baseURL, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Err(err).Str("command", flag.Arg(0)).Msg("dashctl failed")
		os.Exit(1)
	}
}

func run(c config.Config, baseURL, command string, args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if command == "mock-backend" {
		displayAppname(c.GetAppName())
		return serveMockBackend(ctx, c)
	}

	store, closeStore, err := newStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	if baseURL != "" {
		if err := store.SetBaseURL(ctx, baseURL); err != nil {
			return err
		}
	}
	session := newSessionContext(c, store)

	switch command {
	case "login":
		return login(ctx, session, args)
	case "whoami":
		return whoami(ctx, session, store)
	case "tenants":
		return listTenants(ctx, session)
	case "load":
		return load(ctx, session, args)
	case "logout":
		return session.Logout(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func newStore(ctx context.Context, c config.Config) (*credentials.Store, func(), error) {
	switch c.GetCredentialsBackend() {
	case config.BackendRedis:
		rdb, err := redisstore.NewClient(ctx, c.GetRedisURL())
		if err != nil {
			return nil, nil, err
		}
		return credentials.NewStore(redisstore.New(rdb, c.GetRedisPrefix())), func() { _ = rdb.Close() }, nil
	case config.BackendMemory:
		return credentials.NewStore(credentials.NewMemoryKV()), func() {}, nil
	default:
		return credentials.NewStore(credentials.NewFileKV(c.GetCredentialsFile())), func() {}, nil
	}
}

func newSessionContext(c config.Config, store *credentials.Store) *sessionctx.Context {
	client := &http.Client{Timeout: c.GetHTTPTimeout()}

	var exchanger refresh.Exchanger
	switch c.GetRefreshMode() {
	case config.RefreshModeOAuth2:
		exchanger = refresh.NewOAuth2Exchanger(refresh.StoreEndpoint(store, c.GetBaseURL(), refresh.OAuth2RefreshPath), c.GetOAuthClientID(), client)
	case config.RefreshModeOIDC:
		exchanger = refresh.NewOAuth2Exchanger(refresh.DiscoveredEndpoint(store, c.GetBaseURL(), refresh.OAuth2RefreshPath, client), c.GetOAuthClientID(), client)
	default:
		exchanger = refresh.NewJSONExchanger(refresh.StoreEndpoint(store, c.GetBaseURL(), refresh.JSONRefreshPath), client)
	}
	coordinator := refresh.NewCoordinator(store, exchanger, refresh.WithTimeout(c.GetRefreshTimeout()))
	dispatcher := dispatch.New(store, coordinator, c.GetBaseURL(), dispatch.WithHTTPClient(client))

	return sessionctx.New(store, dispatcher,
		sessionctx.WithBootstrapperOptions(sessions.WithBootTimeout(c.GetBootTimeout())),
	)
}

func login(ctx context.Context, session *sessionctx.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("login needs an email")
	}
	password := os.Getenv("DASH_PASSWORD")
	if len(args) > 1 {
		password = args[1]
	}

	s, err := session.Login(ctx, args[0], password)
	if err != nil {
		return err
	}
	session.WaitForLoads()
	printSession(s)
	if view, ok := session.View(); ok {
		printView(view)
	}
	return nil
}

func whoami(ctx context.Context, session *sessionctx.Context, store *credentials.Store) error {
	s, err := session.Bootstrap(ctx)
	if err != nil {
		return err
	}
	printSession(s)
	if access, err := store.AccessToken(ctx); err == nil {
		if exp, ok := token.ExpiresAt(access); ok {
			fmt.Printf("access token expires %s (in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
		}
	}
	return nil
}

func listTenants(ctx context.Context, session *sessionctx.Context) error {
	if _, err := bootstrapActive(ctx, session); err != nil {
		return err
	}
	for _, t := range session.Tenants() {
		fmt.Printf("%-12s %-20s %s\n", t.ID, t.Name, t.Domain)
	}
	return nil
}

func load(ctx context.Context, session *sessionctx.Context, tenantIDs []string) error {
	if len(tenantIDs) == 0 {
		return errors.New("load needs at least one tenant")
	}
	if _, err := bootstrapActive(ctx, session); err != nil {
		return err
	}

	session.OnViewChange(func(v sessionctx.View) {
		log.Debug().Str("tenant_id", v.Selection).Uint64("generation", v.Generation).Msg("view applied")
	})
	for _, id := range tenantIDs {
		session.OnSelectionChange(id)
	}
	session.WaitForLoads()

	view, ok := session.View()
	if !ok {
		return errors.New("no view was applied")
	}
	printView(view)
	return nil
}

func bootstrapActive(ctx context.Context, session *sessionctx.Context) (sessions.Session, error) {
	s, err := session.Bootstrap(ctx)
	if err != nil {
		return s, err
	}
	if !s.IsActive() {
		return s, errors.New("not signed in, run dashctl login")
	}
	return s, nil
}

func printSession(s sessions.Session) {
	if s.Principal == nil {
		fmt.Printf("session: %s\n", s.Status)
		return
	}
	fmt.Printf("session: %s as %s (%s) roles=%v\n", s.Status, s.Principal.Email, s.Principal.ID, s.Principal.Roles)
}

func printView(v sessionctx.View) {
	fmt.Printf("tenant %s (generation %d)\n", v.Selection, v.Generation)
	if v.Err != nil {
		fmt.Printf("  error: %s\n", v.Err)
		return
	}
	for name, raw := range v.Data.Resources {
		fmt.Printf("  %-14s %s\n", name, raw)
	}
	for name, err := range v.Data.Errors {
		fmt.Printf("  %-14s error: %s\n", name, err)
	}
}

func serveMockBackend(ctx context.Context, c config.Config) error {
	dir, err := mockbackend.NewDirectory(c.GetMockSecret(), c.GetAccessTokenTTL(), c.GetRefreshTokenTTL(), nil)
	if err != nil {
		return err
	}
	backend, err := mockbackend.New(dir,
		mockbackend.WithEnv(c.GetEnv()),
		mockbackend.WithClientID(c.GetOAuthClientID()),
	)
	if err != nil {
		return err
	}
	if err := backend.Seed(); err != nil {
		return err
	}
	backend.RegisterRouteFunc("GET /metrics", promhttp.Handler().ServeHTTP)

	server := &http.Server{Addr: c.GetMockAddr(), Handler: backend}
	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("mock backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("server.ListenAndServe %w", err)
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	return shutdown(server)
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

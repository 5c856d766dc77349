package sessionctx

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-admin-session/credentials"
	"github.com/jrsteele09/go-admin-session/dispatch"
	"github.com/jrsteele09/go-admin-session/selection"
	"github.com/jrsteele09/go-admin-session/sessions"
	"github.com/jrsteele09/go-admin-session/tenants"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var DefaultResources = []string{"users", "invoices", "notifications"}

// View is the loaded bundle for the selected tenant.
type View = selection.View[string, selection.Bundle]

// Context is the consumer-facing session surface: session state, the request
// primitive, tenant selection and login/logout.
type Context struct {
	store      *credentials.Store
	dispatcher *dispatch.Dispatcher
	boot       *sessions.Bootstrapper
	loader     *selection.Loader[string, selection.Bundle]
	provider   Provider
	logger     zerolog.Logger
}

type config struct {
	provider    Provider
	resources   []string
	bootOptions []sessions.BootstrapperOption
	logger      zerolog.Logger
	loadCtx     context.Context
}

type Option func(*config)

func WithProvider(p Provider) Option {
	return func(c *config) {
		c.provider = p
	}
}

// WithResources sets the tenant-scoped resources loaded on selection.
func WithResources(resources ...string) Option {
	return func(c *config) {
		c.resources = resources
	}
}

func WithBootstrapperOptions(options ...sessions.BootstrapperOption) Option {
	return func(c *config) {
		c.bootOptions = append(c.bootOptions, options...)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithLoadContext bounds every selection load.
func WithLoadContext(ctx context.Context) Option {
	return func(c *config) {
		c.loadCtx = ctx
	}
}

func New(store *credentials.Store, dispatcher *dispatch.Dispatcher, options ...Option) *Context {
	cfg := config{
		resources: DefaultResources,
		logger:    log.Logger,
		loadCtx:   context.Background(),
	}
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.provider == nil {
		cfg.provider = NewHTTPProvider(dispatcher)
	}

	c := &Context{
		store:      store,
		dispatcher: dispatcher,
		provider:   cfg.provider,
		logger:     cfg.logger,
	}
	c.boot = sessions.NewBootstrapper(store, dispatcher,
		append([]sessions.BootstrapperOption{sessions.WithLogger(cfg.logger)}, cfg.bootOptions...)...)

	// AuthErrors from loads, superseded or not, arrive through the dispatcher.
	c.loader = selection.NewLoader(selection.NewBundleFetcher(dispatcher, cfg.resources...),
		selection.WithContext(cfg.loadCtx),
		selection.WithLogger(cfg.logger),
	)
	dispatcher.OnAuthFailure(func(ctx context.Context, err *dispatch.AuthError) {
		c.invalidate(ctx, "auth_failure", err)
	})
	return c
}

func (c *Context) Session() sessions.Session {
	return c.boot.Session()
}

func (c *Context) OnSessionChange(fn func(sessions.Session)) func() {
	return c.boot.OnChange(fn)
}

func (c *Context) Bootstrap(ctx context.Context) (sessions.Session, error) {
	return c.boot.Run(ctx)
}

// Guard exposes the boot guard state for diagnostics.
func (c *Context) Guard() *sessions.BootGuard {
	return c.boot.Guard()
}

func (c *Context) Request(ctx context.Context, path string, opts dispatch.Options) (*dispatch.Response, error) {
	return c.dispatcher.Request(ctx, path, opts)
}

// Tenants returns the tenant list hydrated at bootstrap.
func (c *Context) Tenants() []*tenants.Tenant {
	return c.boot.Tenants()
}

// OnSelectionChange selects a tenant and starts loading its bundle.
func (c *Context) OnSelectionChange(tenantID string) uint64 {
	return c.loader.OnSelectionChange(tenantID)
}

func (c *Context) CurrentSelection() (string, bool) {
	return c.loader.Selection()
}

func (c *Context) View() (View, bool) {
	return c.loader.Current()
}

func (c *Context) OnViewChange(fn func(View)) {
	c.loader.OnApply(fn)
}

// WaitForLoads blocks until every selection load started so far finished.
func (c *Context) WaitForLoads() {
	c.loader.Wait()
}

// Login authenticates through the provider, stores the pair and bootstraps.
// An active session is reset first.
func (c *Context) Login(ctx context.Context, email, password string) (sessions.Session, error) {
	pair, principal, err := c.provider.Authenticate(ctx, email, password)
	if err != nil {
		return c.Session(), errors.Wrap(err, "Context.Login")
	}

	if c.boot.Guard().State() != sessions.BootIdle {
		c.loader.Reset()
		c.boot.Invalidate(ctx, "relogin", nil)
	}
	if err := c.store.Save(ctx, credentials.OriginLogin, pair); err != nil {
		return c.Session(), errors.Wrap(err, "Context.Login save credentials")
	}

	session, err := c.boot.Run(ctx)
	if err != nil {
		return session, err
	}

	if principal != nil && principal.Tenant != nil {
		if _, selected := c.CurrentSelection(); !selected {
			c.OnSelectionChange(principal.Tenant.ID)
		}
	}
	return session, nil
}

// Logout revokes the tokens server side (best effort), clears credentials and
// resets the session, boot guard and selection.
func (c *Context) Logout(ctx context.Context) error {
	pair, ok, err := c.store.Load(ctx)
	if err != nil {
		log.Err(err).Msg("Context.Logout load credentials")
	}
	if ok {
		_, err := c.dispatcher.Request(ctx, LogoutPath, dispatch.Options{
			Method:             http.MethodPost,
			Body:               map[string]string{"refresh_token": pair.RefreshToken},
			CredentialOverride: dispatch.Credential(pair.AccessToken),
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("server side logout failed")
		}
	}

	c.loader.Reset()
	c.boot.Invalidate(ctx, "logout", nil)
	return nil
}

func (c *Context) invalidate(ctx context.Context, reason string, cause error) {
	c.loader.Reset()
	c.boot.Invalidate(ctx, reason, cause)
}

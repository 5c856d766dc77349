package selection

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/go-admin-session/dispatch"
	"github.com/jrsteele09/go-admin-session/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fetcher loads the data for one selection.
type Fetcher[S, T any] func(ctx context.Context, selection S) (T, error)

// View is the applied result of one load.
type View[S, T any] struct {
	Selection  S
	Generation uint64
	Data       T
	// Err is scoped to this view; it does not affect the session.
	Err error
}

type options struct {
	ctx         context.Context
	logger      zerolog.Logger
	onAuthError func(ctx context.Context, err *dispatch.AuthError)
}

type Option func(*options)

// WithContext sets the context loads run under. Loads are never cancelled
// by a newer selection.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithAuthErrorHandler is called for every AuthError a load returns, whether
// or not its result is still current.
func WithAuthErrorHandler(fn func(ctx context.Context, err *dispatch.AuthError)) Option {
	return func(o *options) {
		o.onAuthError = fn
	}
}

// Loader applies loads keyed by a changing selection in last-selection-wins
// order. Each Load takes a new generation; a result is applied only if its
// generation is still current when it arrives.
type Loader[S, T any] struct {
	fetch Fetcher[S, T]
	opts  options

	mu           sync.Mutex
	generation   uint64
	selection    S
	hasSelection bool
	current      *View[S, T]
	watchers     []func(View[S, T])

	applyMu  sync.Mutex
	inflight sync.WaitGroup
}

func NewLoader[S, T any](fetch Fetcher[S, T], opts ...Option) *Loader[S, T] {
	o := options{
		ctx:    context.Background(),
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[S, T]{fetch: fetch, opts: o}
}

// OnApply registers fn for every applied view.
func (l *Loader[S, T]) OnApply(fn func(View[S, T])) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

func (l *Loader[S, T]) OnSelectionChange(selection S) uint64 {
	return l.Load(selection)
}

// Load starts loading selection in the background and returns its generation.
func (l *Loader[S, T]) Load(selection S) uint64 {
	l.mu.Lock()
	l.generation++
	g := l.generation
	l.selection = selection
	l.hasSelection = true
	l.mu.Unlock()

	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		data, err := l.fetch(l.opts.ctx, selection)
		l.apply(g, selection, data, err)
	}()
	return g
}

// Current returns the last applied view.
func (l *Loader[S, T]) Current() (View[S, T], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return View[S, T]{}, false
	}
	return *l.current, true
}

// Selection returns the most recent selection, loaded or not.
func (l *Loader[S, T]) Selection() (S, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selection, l.hasSelection
}

func (l *Loader[S, T]) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// Reset forgets the selection and view. Loads still in flight are discarded.
func (l *Loader[S, T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero S
	l.generation++
	l.selection = zero
	l.hasSelection = false
	l.current = nil
}

// Wait blocks until every load started so far has finished.
func (l *Loader[S, T]) Wait() {
	l.inflight.Wait()
}

func (l *Loader[S, T]) apply(g uint64, selection S, data T, err error) {
	var authErr *dispatch.AuthError
	if errors.As(err, &authErr) && l.opts.onAuthError != nil {
		l.opts.onAuthError(l.opts.ctx, authErr)
	}

	l.applyMu.Lock()
	defer l.applyMu.Unlock()

	l.mu.Lock()
	if g != l.generation {
		current := l.generation
		l.mu.Unlock()
		metrics.SelectionLoadsTotal.WithLabelValues("discarded").Inc()
		l.opts.logger.Debug().Uint64("generation", g).Uint64("current", current).Msg("discarding stale selection load")
		return
	}
	view := View[S, T]{Selection: selection, Generation: g, Data: data, Err: err}
	l.current = &view
	watchers := append(([]func(View[S, T]))(nil), l.watchers...)
	l.mu.Unlock()

	metrics.SelectionLoadsTotal.WithLabelValues("applied").Inc()
	for _, fn := range watchers {
		fn(view)
	}
}

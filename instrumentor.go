package chitrace

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

// ErrAlreadyActivated is returned when Activate is called on an
// instrumentor that is already active. Double activation is never
// silently accepted: a second set of hooks would produce duplicate
// spans per request.
var ErrAlreadyActivated = errors.New("chitrace: instrumentation already activated")

// Instrumentor installs request tracing into chi routers and owns the
// process-wide activation state. The active flag is written by
// Activate/Deactivate and read once per request by the middleware.
type Instrumentor struct {
	cfg     *config
	exclude *excludeList
	tracer  trace.Tracer
	metrics *serverMetrics
	active  atomic.Bool
}

// NewInstrumentor builds an inactive instrumentor from the option set
// and the OTEL_GO_CHI_* environment. All configuration problems
// (invalid excluded-URL patterns, failing instrument registration)
// surface here, before any hook is installed.
func NewInstrumentor(opts ...Option) (*Instrumentor, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	exclude, err := newExcludeList(cfg.excludedURLs)
	if err != nil {
		return nil, err
	}

	inst := &Instrumentor{
		cfg:     cfg,
		exclude: exclude,
		tracer:  cfg.tracer(),
	}

	if cfg.metricsEnabled {
		m, err := newServerMetrics(cfg.meterProvider)
		if err != nil {
			return nil, err
		}
		inst.metrics = m
	}

	return inst, nil
}

// Activate turns the instrumentation on. It succeeds at most once per
// instrumentor; further calls return ErrAlreadyActivated until
// Deactivate runs.
func (i *Instrumentor) Activate() error {
	if !i.active.CompareAndSwap(false, true) {
		return ErrAlreadyActivated
	}
	return nil
}

// Deactivate turns the instrumentation off. Requests through
// previously instrumented routers pass through untouched afterwards.
// Calling Deactivate on an inactive instrumentor is a no-op.
func (i *Instrumentor) Deactivate() {
	i.active.Store(false)
}

// Active reports whether the instrumentor is currently installed.
func (i *Instrumentor) Active() bool {
	return i.active.Load()
}

// Instrument mounts the tracing middleware on the router and returns
// an uninstall function. chi middleware chains are append-only, so
// uninstalling neutralizes the mounted hook instead of removing it:
// after uninstall, requests reach the next handler with no tracing
// work beyond a single flag load.
//
// Instrument must run before routes are registered on r, per chi's
// middleware rules.
func (i *Instrumentor) Instrument(r chi.Router) (func(), error) {
	if r == nil {
		return nil, errors.New("chitrace: cannot instrument a nil router")
	}

	var installed atomic.Bool
	installed.Store(true)
	mw := i.Middleware()

	r.Use(func(next http.Handler) http.Handler {
		traced := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !installed.Load() {
				next.ServeHTTP(w, req)
				return
			}
			traced.ServeHTTP(w, req)
		})
	})

	return func() { installed.Store(false) }, nil
}

// The package-level default instrumentor mirrors the per-instance
// lifecycle for hosts that want one process-wide activation call.
var (
	defaultMu   sync.Mutex
	defaultInst *Instrumentor
)

// Activate configures and activates the process-wide default
// instrumentor. A second Activate without an intervening Deactivate
// returns ErrAlreadyActivated.
func Activate(opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultInst != nil && defaultInst.Active() {
		return ErrAlreadyActivated
	}

	inst, err := NewInstrumentor(opts...)
	if err != nil {
		return err
	}
	if err := inst.Activate(); err != nil {
		return err
	}
	defaultInst = inst
	return nil
}

// Deactivate shuts off the process-wide default instrumentor. No-op
// when nothing is active.
func Deactivate() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultInst != nil {
		defaultInst.Deactivate()
		defaultInst = nil
	}
}

// Default returns the process-wide instrumentor, or nil when none is
// active.
func Default() *Instrumentor {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultInst
}

// Middleware builds a standalone, always-active tracing middleware
// for hosts that manage no instrumentor lifecycle of their own.
func Middleware(opts ...Option) (func(http.Handler) http.Handler, error) {
	inst, err := NewInstrumentor(opts...)
	if err != nil {
		return nil, err
	}
	if err := inst.Activate(); err != nil {
		return nil, err
	}
	return inst.Middleware(), nil
}

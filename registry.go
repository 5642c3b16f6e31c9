package dash

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Mode selects how an interception treats the call it wraps.
type Mode uint8

const (
	// ModeTiming measures every call.
	ModeTiming Mode = iota
	// ModeReentrantTiming measures only the outermost call of a family sharing a token.
	ModeReentrantTiming
	// ModeExceptionCapturing samples failed calls and records them as exceptions.
	ModeExceptionCapturing
)

// String returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeTiming:
		return "timing"
	case ModeReentrantTiming:
		return "reentrant-timing"
	case ModeExceptionCapturing:
		return "exception-capturing"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Metric is the part of a metric definition the interception engine needs: a way to
// derive the context a measurement is recorded under.
type Metric interface {
	ContextFinder(receiver any, args ...any) any
}

// ContextFinderFunc adapts a function to the Metric interface.
type ContextFinderFunc func(receiver any, args ...any) any

// ContextFinder calls f.
func (f ContextFinderFunc) ContextFinder(receiver any, args ...any) any {
	return f(receiver, args...)
}

// Sample is the artifact an ExceptionHandler produces for a failed call.
type Sample map[string]any

// Handler is a registered interception callback: a TimingHandler or an ExceptionHandler.
type Handler interface {
	handler()
}

// TimingHandler receives the measurement of an intercepted call. scope is the value
// produced by the associated metric's context finder, or nil without a metric.
type TimingHandler func(scope any, receiver any, elapsed time.Duration, args ...any) error

// ExceptionHandler turns a failed call into a sample.
type ExceptionHandler func(err error, receiver any, args ...any) (Sample, error)

func (TimingHandler) handler()    {}
func (ExceptionHandler) handler() {}

// ExceptionRecorder stores captured exceptions, usually the session.
type ExceptionRecorder interface {
	AddException(err error, sample Sample)
}

// Option configures a handler registration.
type Option func(*registration)

type registration struct {
	metric            Metric
	reentrantToken    string
	onlyWithin        string
	markAs            string
	captureExceptions bool
}

// WithMetric associates a metric whose context finder is consulted on every call.
func WithMetric(m Metric) Option {
	return func(r *registration) { r.metric = m }
}

// ReentrantToken selects reentrant timing; calls sharing token are measured once per
// outermost call.
func ReentrantToken(token string) Option {
	return func(r *registration) { r.reentrantToken = token }
}

// OnlyWithin emits measurements only while the named marker is active.
func OnlyWithin(marker string) Option {
	return func(r *registration) { r.onlyWithin = marker }
}

// MarkAs pushes the named marker for the duration of each call.
func MarkAs(marker string) Option {
	return func(r *registration) { r.markAs = marker }
}

// CaptureExceptions selects exception capturing.
func CaptureExceptions() Option {
	return func(r *registration) { r.captureExceptions = true }
}

// descriptor is an immutable registered handler.
type descriptor struct {
	mode       Mode
	timing     TimingHandler
	exception  ExceptionHandler
	token      string
	onlyWithin string
	markAs     string
	metric     int // index into the table's metrics, -1 without a metric
}

// gated reports whether a measurement may be emitted in ctx.
func (d *descriptor) gated(ctx context.Context) bool {
	return d.onlyWithin == "" || MarkerActive(ctx, d.onlyWithin)
}

// table is one generation of the registry. Offsets of a generation start at base.
type table struct {
	base     int
	handlers []*descriptor
	metrics  []Metric
}

// Binder installs an interception at a target's call site. It stands in for whatever
// mechanism the application uses to route calls through a Site.
type Binder interface {
	Bind(site *Site) error
}

// BinderFunc adapts a function to the Binder interface.
type BinderFunc func(site *Site) error

// Bind calls f.
func (f BinderFunc) Bind(site *Site) error { return f(site) }

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBinder sets the binder used by Attach and Add.
func WithBinder(b Binder) RegistryOption {
	return func(r *Registry) { r.binder = b }
}

// WithExceptionRecorder sets where exception-capturing interceptions record samples.
func WithExceptionRecorder(rec ExceptionRecorder) RegistryOption {
	return func(r *Registry) { r.recorder.Store(&recorderBox{rec}) }
}

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// Registry is the table of interception handlers, addressed by offset. Registration is
// append-only: offsets are never reused, and readers dispatch from an immutable snapshot
// so in-flight calls never observe a partially written table.
type Registry struct {
	mu   sync.Mutex // serializes writers
	tab  atomic.Pointer[table]
	next int

	binder   Binder
	recorder atomic.Pointer[recorderBox]
	logger   zerolog.Logger
}

type recorderBox struct {
	ExceptionRecorder
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: log.Logger.With().Str("component", "instrument").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tab.Store(&table{})
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// SetExceptionRecorder replaces the exception recorder. Intended for startup wiring.
func (r *Registry) SetExceptionRecorder(rec ExceptionRecorder) {
	r.recorder.Store(&recorderBox{rec})
}

func (r *Registry) exceptionRecorder() ExceptionRecorder {
	box := r.recorder.Load()
	if box == nil {
		return nil
	}
	return box.ExceptionRecorder
}

// Register adds a handler and returns its offset. The options select the mode:
// CaptureExceptions requires an ExceptionHandler, everything else a TimingHandler.
func (r *Registry) Register(h Handler, opts ...Option) (int, error) {
	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}

	d := &descriptor{
		token:      reg.reentrantToken,
		onlyWithin: reg.onlyWithin,
		markAs:     reg.markAs,
		metric:     -1,
	}
	switch {
	case reg.captureExceptions:
		eh, ok := h.(ExceptionHandler)
		if !ok || eh == nil {
			return 0, fmt.Errorf("%w: %s needs an ExceptionHandler", ErrHandlerMode, ModeExceptionCapturing)
		}
		d.mode = ModeExceptionCapturing
		d.exception = eh
	default:
		th, ok := h.(TimingHandler)
		if !ok || th == nil {
			return 0, fmt.Errorf("%w: timing needs a TimingHandler", ErrHandlerMode)
		}
		d.mode = ModeTiming
		if reg.reentrantToken != "" {
			d.mode = ModeReentrantTiming
		}
		d.timing = th
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.tab.Load()
	metrics := cur.metrics
	if reg.metric != nil {
		metrics = append(metrics, reg.metric)
		d.metric = len(metrics) - 1
	}
	offset := r.next
	r.next++
	r.tab.Store(&table{
		base:     cur.base,
		handlers: append(cur.handlers, d),
		metrics:  metrics,
	})
	return offset, nil
}

// Clear empties the handler and metric tables. It does not detach sites that are already
// bound: they keep running their operations but no longer find a handler to dispatch to.
// Re-attach after clearing to restore measurements.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tab.Store(&table{base: r.next})
}

// Len returns the number of handlers in the current generation.
func (r *Registry) Len() int {
	return len(r.tab.Load().handlers)
}

// Metrics returns the metrics associated with the current generation's handlers.
func (r *Registry) Metrics() []Metric {
	return append([]Metric(nil), r.tab.Load().metrics...)
}

// lookup returns the descriptor at offset and the metric it resolves contexts with.
func (r *Registry) lookup(offset int) (*descriptor, Metric) {
	t := r.tab.Load()
	i := offset - t.base
	if i < 0 || i >= len(t.handlers) {
		return nil, nil
	}
	d := t.handlers[i]
	if d.metric < 0 {
		return d, nil
	}
	return d, t.metrics[d.metric]
}

// Attach registers h and binds a Site for target. A binder failure is returned as an
// *AttachmentError; the handler stays registered.
func (r *Registry) Attach(target Target, h Handler, opts ...Option) (*Site, error) {
	offset, err := r.Register(h, opts...)
	if err != nil {
		return nil, &AttachmentError{Target: target.String(), Err: err}
	}
	site := &Site{registry: r, offset: offset, target: target}

	r.mu.Lock()
	binder := r.binder
	r.mu.Unlock()
	if binder != nil {
		if err := bindSafely(binder, site); err != nil {
			return nil, &AttachmentError{Target: target.String(), Err: err}
		}
	}
	return site, nil
}

// Add parses and attaches each raw target descriptor. A malformed descriptor aborts with
// ErrBadTarget; any other attachment failure is logged and that target is skipped.
func (r *Registry) Add(rawTargets []string, h Handler, opts ...Option) (map[string]*Site, error) {
	sites := make(map[string]*Site, len(rawTargets))
	for _, raw := range rawTargets {
		target, err := ParseTarget(raw)
		if err != nil {
			return sites, err
		}
		site, err := r.Attach(target, h, opts...)
		if err != nil {
			r.logger.Error().Err(err).Str("target", raw).Msg("Unable to instrument target")
			continue
		}
		sites[raw] = site
	}
	return sites, nil
}

// bindSafely runs the binder, converting a panic into an error.
func bindSafely(b Binder, site *Site) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("binder panic: %v", rec)
		}
	}()
	if err := b.Bind(site); err != nil {
		return errors.Join(errors.New("bind failed"), err)
	}
	return nil
}

package dash

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInterval is the reporting interval used when none is configured.
	DefaultInterval = 60 * time.Second
	// defaultMaxInFlight bounds concurrent asynchronous sends.
	defaultMaxInFlight = 8
)

// ReporterOption is a functional option for the Reporter struct.
type ReporterOption func(*Reporter)

// WithInterval sets the reporting interval. Non-positive values are ignored.
func WithInterval(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.interval.Store(d)
		}
	}
}

// WithEndpoints sets the destinations tried for every payload.
func WithEndpoints(endpoints []Endpoint) ReporterOption {
	return func(r *Reporter) { r.endpoints = endpoints }
}

// WithHostInfo sets the host description sent with the info payload.
func WithHostInfo(h HostInfo) ReporterOption {
	return func(r *Reporter) { r.host = h }
}

// WithSCM sets the source control description sent with the info payload.
func WithSCM(s SCM) ReporterOption {
	return func(r *Reporter) { r.scm = s }
}

// WithProcessID sets the process id sent with data payloads.
func WithProcessID(id string) ReporterOption {
	return func(r *Reporter) { r.processID = id }
}

// WithStartedAt overrides the process start time reported to collectors.
func WithStartedAt(t time.Time) ReporterOption {
	return func(r *Reporter) { r.startedAt = t }
}

// WithFaultHandler sets the function called when the reporting loop dies.
func WithFaultHandler(fn func(error)) ReporterOption {
	return func(r *Reporter) { r.onFault = fn }
}

// WithSink sets the observer of reporter events.
func WithSink(sink DeliverySink) ReporterOption {
	return func(r *Reporter) { r.sink = sink }
}

// WithFakeHostCount makes the reporter resend every info and data payload n more times
// under derived host names and process ids. Used to load test collectors.
func WithFakeHostCount(n int) ReporterOption {
	return func(r *Reporter) { r.fakeHosts = n }
}

// WithMaxInFlight bounds how many asynchronous sends may run at once. Sends beyond the
// bound are dropped.
func WithMaxInFlight(n int) ReporterOption {
	return func(r *Reporter) { r.maxInFlight = n }
}

// WithLogger sets the reporter's logger.
func WithLogger(l zerolog.Logger) ReporterOption {
	return func(r *Reporter) { r.logger = l }
}

// Reporter periodically drains a Session and hands the resulting payloads to a
// Deliverer. Info is sent once and gates every later data and exceptions send.
type Reporter struct {
	session   Session
	deliverer Deliverer
	endpoints []Endpoint
	host      HostInfo
	scm       SCM
	processID string
	startedAt time.Time
	fakeHosts int
	sink      DeliverySink
	logger    zerolog.Logger
	onFault   func(error)

	maxInFlight int
	interval    *atomic.Duration

	infoSent   *atomic.Bool
	started    *atomic.Bool
	background *atomic.Bool
	alive      *atomic.Bool
	fault      *atomic.Error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	sends  *errgroup.Group
}

// NewReporter creates a Reporter. It does nothing until started.
func NewReporter(session Session, deliverer Deliverer, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		session:     session,
		deliverer:   deliverer,
		processID:   xid.New().String(),
		startedAt:   time.Now(),
		sink:        nopSink{},
		logger:      log.Logger.With().Str("component", "reporter").Logger(),
		maxInFlight: defaultMaxInFlight,
		interval:    atomic.NewDuration(DefaultInterval),
		infoSent:    atomic.NewBool(false),
		started:     atomic.NewBool(false),
		background:  atomic.NewBool(false),
		alive:       atomic.NewBool(false),
		fault:       atomic.NewError(nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.onFault == nil {
		r.onFault = r.logFault
	}
	if len(r.endpoints) == 0 {
		for _, raw := range DefaultEndpoints {
			if ep, err := ParseEndpoint(raw); err == nil {
				r.endpoints = append(r.endpoints, ep)
			}
		}
	}
	r.sends = r.newSendGroup()
	return r
}

func (r *Reporter) newSendGroup() *errgroup.Group {
	g := &errgroup.Group{}
	if r.maxInFlight > 0 {
		g.SetLimit(r.maxInFlight)
	}
	return g
}

// Interval returns the current reporting interval.
func (r *Reporter) Interval() time.Duration {
	return r.interval.Load()
}

// SetInterval changes the reporting interval, effective from the next sleep.
func (r *Reporter) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, d)
	}
	r.interval.Store(d)
	return nil
}

// StartedAt returns the process start time reported to collectors.
func (r *Reporter) StartedAt() time.Time { return r.startedAt }

// Started reports whether Start was called.
func (r *Reporter) Started() bool { return r.started.Load() }

// Alive reports whether the reporting loop is running.
func (r *Reporter) Alive() bool { return r.started.Load() && r.alive.Load() }

// Foreground reports whether the reporter was started in the caller's goroutine.
func (r *Reporter) Foreground() bool { return r.started.Load() && !r.background.Load() }

// Background reports whether the reporter was started in its own goroutine.
func (r *Reporter) Background() bool { return r.started.Load() && r.background.Load() }

// Fault returns the error that terminated the reporting loop, if any.
func (r *Reporter) Fault() error { return r.fault.Load() }

// InfoSent reports whether the info payload has been accepted by an endpoint.
func (r *Reporter) InfoSent() bool { return r.infoSent.Load() }

// Start runs the reporting loop. In the background it returns immediately; otherwise it
// blocks until Stop is called or the loop faults. Starting an alive reporter is a no-op.
func (r *Reporter) Start(background bool) {
	if !r.alive.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	r.background.Store(background)
	r.started.Store(true)
	r.fault.Store(nil)

	if background {
		go r.run(ctx, done)
		return
	}
	r.run(ctx, done)
}

// Revive restarts a dead background loop. Foreground runs are never revived.
func (r *Reporter) Revive() {
	if !r.Background() || r.alive.Load() {
		return
	}
	r.logger.Info().Msg("Reviving reporter")
	r.Start(true)
}

// Stop ends the reporting loop and waits for in-flight sends.
func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	_ = r.sends.Wait()
	r.started.Store(false)
}

func (r *Reporter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer r.alive.Store(false)
	defer func() {
		if v := recover(); v != nil {
			err := fmt.Errorf("reporter loop: %w", &PanicError{Value: v, Stack: debug.Stack()})
			r.fault.Store(err)
			r.sink.ObserveEvent(EventSchedulingFault, map[string]any{"error": err.Error()})
			r.onFault(err)
		}
	}()

	r.logger.Info().Interface("endpoints", r.endpointStrings()).Msg("Starting reporter")
	for {
		r.sendInfo(ctx)

		timer := time.NewTimer(r.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info().Msg("Reporter stopped")
			return
		case <-timer.C:
		}

		r.sendData()
		r.sendExceptions()
	}
}

// logFault surfaces a dead loop at fatal level without exiting the host process.
func (r *Reporter) logFault(err error) {
	r.logger.WithLevel(zerolog.FatalLevel).Err(err).Msg("Reporter loop terminated")
}

// sendInfo stores the info payload synchronously until one send succeeds.
func (r *Reporter) sendInfo(ctx context.Context) {
	if r.infoSent.Load() {
		return
	}
	payload := NewInfoPayload(r.session.Info(), r.host, r.scm, r.startedAt)
	r.logger.Debug().Interface("params", payload.Params()).Msg("Sending info")
	ok := r.storeSafely(context.WithoutCancel(ctx), payload)
	r.infoSent.Store(ok)
	if ok {
		r.sink.ObserveEvent(EventInfoSent, map[string]any{"process_id": r.processID})
	}
	r.sendFakeInfo(payload)
}

func (r *Reporter) sendData() {
	if !r.infoSent.Load() {
		r.discard("data")
		return
	}
	payload := NewDataPayload(r.session.Data(), r.processID)
	r.logger.Debug().Interface("params", payload.Params()).Msg("Sending data")
	r.dispatch(payload)
	r.sendFakeData(payload)
}

func (r *Reporter) sendExceptions() {
	if !r.infoSent.Load() {
		r.discard("exceptions")
		return
	}
	data := r.session.ExceptionData()
	if len(data) == 0 {
		r.logger.Debug().Msg("No exceptions for this interval")
		return
	}
	r.dispatch(NewExceptionsPayload(data, r.processID))
}

// discard drops the interval so memory stays bounded while info cannot be delivered.
func (r *Reporter) discard(what string) {
	r.session.Reset()
	r.sink.ObserveEvent(EventIntervalDiscarded, map[string]any{"payload": what})
	r.logger.Warn().Str("payload", what).Msg("Discarding interval")
}

// dispatch stores p asynchronously. A full send group drops the payload.
func (r *Reporter) dispatch(p Payload) {
	ok := r.sends.TryGo(func() error {
		r.storeSafely(context.Background(), p)
		return nil
	})
	if !ok {
		r.sink.ObserveEvent(EventSendDropped, map[string]any{"kind": p.Kind().String()})
		r.logger.Warn().Stringer("kind", p.Kind()).Msg("Too many sends in flight, dropping payload")
	}
}

// storeSafely hands p to the deliverer. A panicking deliverer counts as a failed send.
func (r *Reporter) storeSafely(ctx context.Context, p Payload) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			ok = false
			r.logger.Error().Interface("panic", v).Stringer("kind", p.Kind()).Msg("Send panicked")
		}
	}()
	return r.deliverer.Store(ctx, p, r.endpoints)
}

func (r *Reporter) sendFakeInfo(p Payload) {
	if r.fakeHosts <= 0 {
		return
	}
	params := p.Params()
	host, _ := params["hostname"].(string)
	mac, _ := params["mac"].(string)
	for idx := range r.fakeHosts {
		suffix := strconv.Itoa(idx)
		fake := p.With("hostname", host+suffix).With("mac", mac+suffix)
		r.storeSafely(context.Background(), fake)
	}
}

func (r *Reporter) sendFakeData(p Payload) {
	for idx := range r.fakeHosts {
		r.dispatch(p.With("process_id", fakeProcessID(r.processID, idx+1)))
	}
}

func fakeProcessID(processID string, idx int) string {
	return processID + "-" + strconv.Itoa(idx)
}

// Ping synchronously stores a ping payload and reports whether any endpoint accepted it.
func (r *Reporter) Ping(ctx context.Context) bool {
	return r.storeSafely(ctx, NewPingPayload(r.session.Info(), r.startedAt))
}

// SendTrace stores a recorded trace asynchronously. Empty traces are not sent.
func (r *Reporter) SendTrace(t *Trace) {
	if t == nil || t.Empty() {
		r.logger.Debug().Msg("No trace to send")
		return
	}
	payload := NewTracePayload(t, r.processID)
	r.logger.Debug().Str("trace_id", t.ID()).Msg("Sending trace")
	r.dispatch(payload)
}

func (r *Reporter) endpointStrings() []string {
	out := make([]string, len(r.endpoints))
	for i, ep := range r.endpoints {
		out[i] = ep.String()
	}
	return out
}

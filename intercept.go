package dash

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Site is an attached interception: a target bound to a handler offset. Call sites route
// their operation through Call or Invoke; the site looks the handler up on every call,
// so a site outliving a registry Clear degrades to a plain pass-through.
type Site struct {
	registry *Registry
	offset   int
	target   Target
}

// Offset returns the registry offset of the site's handler.
func (s *Site) Offset() int { return s.offset }

// Target returns the target the site was attached to.
func (s *Site) Target() Target { return s.target }

// Invoke runs op through the site. See Call.
func (s *Site) Invoke(ctx context.Context, receiver any, args []any, op func(context.Context) error) error {
	_, err := Call(ctx, s, receiver, args, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Call runs op through the site's interception. The result and error of op are returned
// unchanged, with one exception: a failing handler yields a *HandlerError that wraps the
// original error. op receives a context carrying the interception's markers and
// reentrancy depth, and must pass it on for nested interceptions to see them.
func Call[T any](
	ctx context.Context,
	s *Site,
	receiver any,
	args []any,
	op func(context.Context) (T, error),
) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d, metric := s.registry.lookup(s.offset)
	if d == nil {
		return op(ctx)
	}

	run := func(ctx context.Context) (T, error) {
		switch d.mode {
		case ModeExceptionCapturing:
			return captureCall(ctx, s, d, receiver, args, op)
		case ModeReentrantTiming:
			return reentrantCall(ctx, s, d, metric, receiver, args, op)
		default:
			return timedCall(ctx, s, d, metric, receiver, args, op)
		}
	}

	tracer := TracerFrom(ctx)
	if tracer == nil {
		return run(ctx)
	}
	var result T
	err := tracer.Step(ctx, s.target.String(), func(ctx context.Context) error {
		var err error
		result, err = run(ctx)
		return err
	})
	return result, err
}

// timedCall measures op, pushing the mark-as marker for its duration. Emission happens in
// a deferred function so panicking operations are measured too.
func timedCall[T any](
	ctx context.Context,
	s *Site,
	d *descriptor,
	metric Metric,
	receiver any,
	args []any,
	op func(context.Context) (T, error),
) (result T, err error) {
	scope, findErr := findScope(metric, receiver, args)

	opCtx := ctx
	if d.markAs != "" {
		opCtx = WithMarker(ctx, d.markAs)
	}
	start := time.Now()
	defer func() {
		rec := recover()
		elapsed := time.Since(start)
		// ctx does not carry our own marker: it has been popped.
		if d.gated(ctx) {
			settle(s, emitTiming(s, d, findErr, scope, receiver, elapsed, args, err), rec, &err)
		}
		if rec != nil {
			panic(rec)
		}
	}()
	return op(opCtx)
}

// reentrantCall measures op only when it is the outermost call for the descriptor's
// token. Nested calls sharing the token run with a deeper count and emit nothing.
func reentrantCall[T any](
	ctx context.Context,
	s *Site,
	d *descriptor,
	metric Metric,
	receiver any,
	args []any,
	op func(context.Context) (T, error),
) (result T, err error) {
	scope, findErr := findScope(metric, receiver, args)

	depth := ReentrancyDepth(ctx, d.token)
	opCtx := withReentrancyDepth(ctx, d.token, depth+1)
	start := time.Now()
	defer func() {
		rec := recover()
		elapsed := time.Since(start)
		if depth == 0 && d.gated(ctx) {
			settle(s, emitTiming(s, d, findErr, scope, receiver, elapsed, args, err), rec, &err)
		}
		if rec != nil {
			panic(rec)
		}
	}()
	return op(opCtx)
}

// captureCall samples failures of op and records them with the registry's exception
// recorder. Returned errors pass through; panics are captured and re-raised.
func captureCall[T any](
	ctx context.Context,
	s *Site,
	d *descriptor,
	receiver any,
	args []any,
	op func(context.Context) (T, error),
) (result T, err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		perr := &PanicError{Value: rec, Stack: debug.Stack()}
		if herr := capture(s, d, perr, receiver, args); herr != nil {
			s.registry.logger.Error().Err(herr).Str("target", s.target.String()).
				Msg("Exception handler failed while capturing a panic")
		}
		panic(rec)
	}()

	result, err = op(ctx)
	if err != nil {
		if herr := capture(s, d, err, receiver, args); herr != nil {
			return result, herr
		}
	}
	return result, err
}

// findScope resolves the measurement context with the metric's context finder. A panic
// in the finder is reported at emission time rather than keeping op from running.
func findScope(metric Metric, receiver any, args []any) (scope any, err error) {
	if metric == nil {
		return nil, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("context finder panic: %v", rec)
		}
	}()
	return metric.ContextFinder(receiver, args...), nil
}

func emitTiming(
	s *Site,
	d *descriptor,
	findErr error,
	scope any,
	receiver any,
	elapsed time.Duration,
	args []any,
	opErr error,
) *HandlerError {
	if findErr != nil {
		return &HandlerError{Offset: s.offset, Err: findErr, OpErr: opErr}
	}
	if err := callTiming(d.timing, scope, receiver, elapsed, args); err != nil {
		return &HandlerError{Offset: s.offset, Err: err, OpErr: opErr}
	}
	return nil
}

// settle replaces the call's error with a handler failure. While op is panicking the
// failure can only be logged: the panic is re-raised unchanged.
func settle(s *Site, herr *HandlerError, panicking any, err *error) {
	if herr == nil {
		return
	}
	if panicking != nil {
		s.registry.logger.Error().Err(herr).Str("target", s.target.String()).
			Msg("Timing handler failed while the operation panicked")
		return
	}
	*err = herr
}

func callTiming(h TimingHandler, scope, receiver any, elapsed time.Duration, args []any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(scope, receiver, elapsed, args...)
}

func capture(s *Site, d *descriptor, opErr error, receiver any, args []any) *HandlerError {
	sample, err := callException(d.exception, opErr, receiver, args)
	if err != nil {
		return &HandlerError{Offset: s.offset, Err: err, OpErr: opErr}
	}
	if rec := s.registry.exceptionRecorder(); rec != nil {
		rec.AddException(opErr, sample)
	} else {
		s.registry.logger.Debug().Str("target", s.target.String()).
			Msg("No exception recorder configured, dropping sample")
	}
	return nil
}

func callException(h ExceptionHandler, opErr error, receiver any, args []any) (sample Sample, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(opErr, receiver, args...)
}

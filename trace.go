package dash

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
)

// TraceStep is one recorded region of a trace.
type TraceStep struct {
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Children []*TraceStep  `json:"children,omitempty"`
}

type traceStepKey struct{ trace *Trace }

// Trace records a call tree of intercepted operations. Install it with WithTracer and
// send it with Reporter.SendTrace.
type Trace struct {
	id    xid.ID
	mu    sync.Mutex
	roots []*TraceStep
}

// NewTrace creates an empty trace with a fresh id.
func NewTrace() *Trace {
	return &Trace{id: xid.New()}
}

// ID returns the trace's id.
func (t *Trace) ID() string { return t.id.String() }

// Step records fn as a child of the step active in ctx.
func (t *Trace) Step(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	step := &TraceStep{Name: name, Start: time.Now()}

	t.mu.Lock()
	if parent, ok := ctx.Value(traceStepKey{t}).(*TraceStep); ok {
		parent.Children = append(parent.Children, step)
	} else {
		t.roots = append(t.roots, step)
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		step.Duration = time.Since(step.Start)
		if err != nil {
			step.Error = err.Error()
		}
	}()
	return fn(context.WithValue(ctx, traceStepKey{t}, step))
}

// Data returns a copy of the recorded steps, or nil when nothing was recorded.
func (t *Trace) Data() []*TraceStep {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.roots) == 0 {
		return nil
	}
	return copySteps(t.roots)
}

// Empty reports whether no step was recorded.
func (t *Trace) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.roots) == 0
}

func copySteps(steps []*TraceStep) []*TraceStep {
	out := make([]*TraceStep, len(steps))
	for i, s := range steps {
		c := *s
		if len(s.Children) > 0 {
			c.Children = copySteps(s.Children)
		}
		out[i] = &c
	}
	return out
}

package dash

import "context"

// Execution state that other agents keep per thread (marker stack, reentrancy counters,
// the active trace) is carried in context values here. Each interception derives a new
// context for the operation it wraps, so state never leaks between goroutines and the
// "pop" on exit is implicit: the caller's context is left untouched.

type markerKey struct{}

type reentrancyKey struct{ token string }

type tracerKey struct{}

// markerNode is one entry of a marker stack, linked towards the bottom of the stack.
type markerNode struct {
	name   string
	parent *markerNode
}

// WithMarker returns a context with name pushed onto its marker stack.
func WithMarker(ctx context.Context, name string) context.Context {
	parent, _ := ctx.Value(markerKey{}).(*markerNode)
	return context.WithValue(ctx, markerKey{}, &markerNode{name: name, parent: parent})
}

// MarkerActive reports whether a marker with the given name is on the context's stack.
func MarkerActive(ctx context.Context, name string) bool {
	for n, _ := ctx.Value(markerKey{}).(*markerNode); n != nil; n = n.parent {
		if n.name == name {
			return true
		}
	}
	return false
}

// Markers returns the context's marker stack, bottom first.
func Markers(ctx context.Context) []string {
	var names []string
	for n, _ := ctx.Value(markerKey{}).(*markerNode); n != nil; n = n.parent {
		names = append(names, n.name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// ReentrancyDepth returns how many reentrant interceptions sharing token enclose ctx.
func ReentrancyDepth(ctx context.Context, token string) int {
	depth, _ := ctx.Value(reentrancyKey{token: token}).(int)
	return depth
}

func withReentrancyDepth(ctx context.Context, token string, depth int) context.Context {
	return context.WithValue(ctx, reentrancyKey{token: token}, depth)
}

// Tracer records nested steps around intercepted calls, independently of metric
// collection. Step must run fn exactly once and return its error unchanged.
type Tracer interface {
	Step(ctx context.Context, name string, fn func(context.Context) error) error
}

// WithTracer returns a context in which every interception is also recorded by t.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// TracerFrom returns the tracer active in ctx, if any.
func TracerFrom(ctx context.Context) Tracer {
	t, _ := ctx.Value(tracerKey{}).(Tracer)
	return t
}

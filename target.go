package dash

import (
	"fmt"
	"strings"
)

// Target identifies an instrumented call site: a method on a receiver type.
type Target struct {
	// Receiver is the qualified type name, e.g. "store.Conn".
	Receiver string
	// Method is the method name.
	Method string
	// Static is true for type-level (non-instance) functions.
	Static bool
}

// String returns the descriptor form of the target.
func (t Target) String() string {
	if t.Static {
		return t.Receiver + "." + t.Method
	}
	return t.Receiver + "#" + t.Method
}

// ParseTarget parses a target descriptor. "Type#Method" names an instance method;
// "Type.Method" and "Type::Method" name a static one. The last separator wins, so
// qualified receivers such as "pkg.Type#Method" or "pkg.Type.Method" parse as expected.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, "#"); i > 0 && i < len(raw)-1 {
		return Target{Receiver: raw[:i], Method: raw[i+1:]}, nil
	}
	if i := strings.LastIndex(raw, "::"); i > 0 && i < len(raw)-2 {
		return Target{Receiver: raw[:i], Method: raw[i+2:], Static: true}, nil
	}
	if i := strings.LastIndex(raw, "."); i > 0 && i < len(raw)-1 {
		return Target{Receiver: raw[:i], Method: raw[i+1:], Static: true}, nil
	}
	return Target{}, fmt.Errorf("%w: %q", ErrBadTarget, raw)
}

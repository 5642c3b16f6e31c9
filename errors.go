package dash

import (
	"errors"
	"fmt"
)

var (
	// ErrBadTarget indicates a target descriptor that cannot be parsed.
	ErrBadTarget = errors.New("bad target format")

	// ErrHandlerMode indicates a handler whose type does not match the mode selected by the
	// registration options, e.g. a TimingHandler registered with CaptureExceptions.
	ErrHandlerMode = errors.New("handler does not match interception mode")

	// ErrInvalidInterval indicates a non-positive reporting interval.
	ErrInvalidInterval = errors.New("reporting interval must be positive")
)

// AttachmentError reports a failure to attach an interception to a single target. Batch
// attachment logs and skips these rather than aborting.
type AttachmentError struct {
	Target string
	Err    error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("could not attach %q: %v", e.Target, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// HandlerError reports a registered handler that failed or panicked. It signals a broken
// instrumentation setup and is returned to the caller of the intercepted operation.
// When the intercepted operation failed as well, OpErr holds its original error.
type HandlerError struct {
	Offset int
	Err    error
	OpErr  error
}

func (e *HandlerError) Error() string {
	if e.OpErr != nil {
		return fmt.Sprintf("handler %d failed: %v (operation error: %v)", e.Offset, e.Err, e.OpErr)
	}
	return fmt.Sprintf("handler %d failed: %v", e.Offset, e.Err)
}

// Unwrap exposes both the handler failure and the operation error, so errors.Is matches
// either of them.
func (e *HandlerError) Unwrap() []error {
	if e.OpErr != nil {
		return []error{e.Err, e.OpErr}
	}
	return []error{e.Err}
}

// PanicError carries a panic value recovered from an intercepted operation so that
// exception handlers can sample it. The panic itself is re-raised after capture.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

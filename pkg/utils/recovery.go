package utils

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError wraps a panic value as an error
type PanicError struct {
	Op         string
	Value      interface{}
	StackTrace string
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panicked error value to errors.Is and errors.As.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(op string, r interface{}) *PanicError {
	return &PanicError{
		Op:         op,
		Value:      r,
		StackTrace: string(debug.Stack()),
	}
}

// RecoverAsError recovers from a panic and stores it in *errPtr.
// It must be deferred directly by the function whose result errPtr points at.
//
//	func (h *Hub) Update(ctx context.Context, fn func(context.Context, *Unit) error) (err error) {
//	    defer utils.RecoverAsError("update", &err)
//	    ...
//	}
func RecoverAsError(op string, errPtr *error) {
	if r := recover(); r != nil {
		perr := newPanicError(op, r)
		slog.Error("Recovered from panic", "op", op, "panic", r, "stack", perr.StackTrace)
		*errPtr = perr
	}
}

// RecoverWithCallback recovers from a panic and calls the callback with the
// error. Useful when there is no error return to fill.
func RecoverWithCallback(callback func(error)) {
	if r := recover(); r != nil {
		perr := newPanicError("", r)
		slog.Error("Recovered from panic", "panic", r, "stack", perr.StackTrace)
		if callback != nil {
			callback(perr)
		}
	}
}

// SafeGo runs fn in a goroutine with panic recovery. Any panic is logged and
// passed to the optional onError.
func SafeGo(fn func(), onError func(error)) {
	go func() {
		defer RecoverWithCallback(onError)
		fn()
	}()
}

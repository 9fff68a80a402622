// Package xerrors provides error construction and wrapping helpers that
// capture program counters, so the log package can render call sites and
// stacks without every caller threading them through by hand.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// New returns a new error carrying the caller's stack.
func New(msg string) error { return withStackSkip(errors.New(msg), 2) }

// Newf is New with formatting.
func Newf(f string, args ...any) error { return withStackSkip(fmt.Errorf(f, args...), 2) }

// Wrap annotates err with msg and the wrapping call site.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// WithStack attaches the caller's stack to err unconditionally.
func WithStack(err error) error { return withStackSkip(err, 2) }

// EnsureTrace attaches a stack only if none is present anywhere in the chain.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return withStackSkip(err, 2)
}

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }
func (w *withStack) IsXerrorsWrapper()   {}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

func withStackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	const maxDepth = 64
	pcs := make([]uintptr, maxDepth)
	// 1 skips runtime.Callers itself, skip covers this frame and the helper
	n := runtime.Callers(1+skip, pcs)
	return &withStack{err: err, pcs: pcs[:n]}
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	// 2 skips runtime.Callers and callerPC themselves
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

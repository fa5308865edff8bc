// Package xerrors adds call-site and stack capture to errors so the logger can render
// error_links and stacks. Values stay compatible with errors.Is and errors.As.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

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

// mark carries err's message unchanged and additionally matches sentinel.
type mark struct {
	err      error
	sentinel error
	pc       uintptr
}

func (m *mark) Error() string        { return m.err.Error() }
func (m *mark) Unwrap() error        { return m.err }
func (m *mark) Is(target error) bool { return target == m.sentinel }
func (m *mark) PC() uintptr          { return m.pc }
func (m *mark) IsXerrorsWrapper()    {}

// skip counts frames above runtime.Callers and this helper
func stackAt(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	return pcs[:runtime.Callers(2+skip, pcs)]
}

func pcAt(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error with msg and the caller's stack.
func New(msg string) error { return &withStack{err: errors.New(msg), pcs: stackAt(1)} }

// Newf is New with formatting. %w is honored.
func Newf(format string, args ...any) error {
	return &withStack{err: fmt.Errorf(format, args...), pcs: stackAt(1)}
}

// Wrap prefixes err with msg and records the call site. nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: pcAt(1)}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: pcAt(1)}
}

// Mark makes errors.Is(result, sentinel) true without changing err's message. Used to
// classify transport errors into package sentinels such as ledger.ErrRejected.
func Mark(err, sentinel error) error {
	if err == nil {
		return nil
	}
	return &mark{err: err, sentinel: sentinel, pc: pcAt(1)}
}

// WithStack attaches the caller's stack to err.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: stackAt(1)}
}

// EnsureTrace is WithStack unless err already carries a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &withStack{err: err, pcs: stackAt(1)}
}

// Package kernelerr defines the kernel's structured error type and the
// stable error taxonomy shared by every kernel primitive.
package kernelerr

import (
	"errors"
	"fmt"
)

// Code is the transport-stable error taxonomy shared by every kernel
// primitive. Numeric values are part of the contract: do not renumber.
type Code int

const (
	ENONE        Code = iota // No error
	EFAIL                    // Generic failure
	EARG                     // Invalid argument or bad handle tag
	ETIMEOUT                 // Blocking primitive timed out
	EDEPLETED                // No free slot (task/mutex/sem/queue/timer/pool table full)
	ESTATE                   // Operation invalid in the object's current state
	EWOULDBLOCK              // Non-blocking call would have blocked
	EFLUSH                   // Waiter released by an explicit flush
	ENOTALLOWED              // Forbidden from the calling context (e.g. blocking call from ISR)
	EMEMORY                  // Allocator failure
	ENOTFOUND                // Named object does not exist (e.g. filesystem path lookup)
	EIO                      // Underlying storage/transport read or write failed
	ECORRUPT                 // On-disk or in-memory structure failed a consistency check
)

func (c Code) String() string {
	switch c {
	case ENONE:
		return "ENONE"
	case EFAIL:
		return "EFAIL"
	case EARG:
		return "EARG"
	case ETIMEOUT:
		return "ETIMEOUT"
	case EDEPLETED:
		return "EDEPLETED"
	case ESTATE:
		return "ESTATE"
	case EWOULDBLOCK:
		return "EWOULDBLOCK"
	case EFLUSH:
		return "EFLUSH"
	case ENOTALLOWED:
		return "ENOTALLOWED"
	case EMEMORY:
		return "EMEMORY"
	case ENOTFOUND:
		return "ENOTFOUND"
	case EIO:
		return "EIO"
	case ECORRUPT:
		return "ECORRUPT"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error makes a bare Code usable as an errors.Is target.
func (c Code) Error() string { return c.String() }

// Module tags an error with the subsystem that raised it, mirroring the
// module-number field packed into every error number in the original
// kernel's aaerror.h. It is additive diagnostic context alongside Code, not
// a replacement for it.
type Module string

const (
	ModuleKernel    Module = "kernel"
	ModuleScheduler Module = "scheduler"
	ModuleTask      Module = "task"
	ModuleMutex     Module = "mutex"
	ModuleSem       Module = "sem"
	ModuleSignal    Module = "signal"
	ModuleQueue     Module = "queue"
	ModulePool      Module = "pool"
	ModuleTimer     Module = "timer"
	ModuleTLSF      Module = "tlsf"
	ModuleMFS       Module = "mfs"
)

// Error is a structured kernel error with context and a wrapped cause.
type Error struct {
	Op     string // Operation that failed (e.g. "MutexTake", "TaskCreate")
	Module Module // Subsystem that raised the error
	Handle uint16 // Object handle, if applicable (0 if not applicable)
	Code   Code   // Taxonomy code
	Msg    string // Human-readable message
	Inner  error  // Wrapped error, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Op != "" {
		return fmt.Sprintf("kernel: %s: %s [%s/%s]", e.Op, msg, e.Module, e.Code)
	}
	return fmt.Sprintf("kernel: %s [%s/%s]", msg, e.Module, e.Code)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target is an *Error with the same Code, or a bare Code
// value equal to e.Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if c, ok := target.(Code); ok {
		return e.Code == c
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// New creates a new structured kernel error.
func New(op string, mod Module, code Code, msg string) *Error {
	return &Error{Op: op, Module: mod, Code: code, Msg: msg}
}

// NewWithHandle creates a new structured kernel error tied to an object handle.
func NewWithHandle(op string, mod Module, handle uint16, code Code, msg string) *Error {
	return &Error{Op: op, Module: mod, Handle: handle, Code: code, Msg: msg}
}

// Wrap wraps an existing error with kernel context and taxonomy code.
func Wrap(op string, mod Module, code Code, inner error) *Error {
	if inner == nil {
		return nil
	}
	return &Error{Op: op, Module: mod, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) a kernel Error with the given Code.
func IsCode(err error, code Code) bool {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Code == code
	}
	return false
}

// Package ub defines the terminal classifications of an execution: dynamic
// undefined behavior, a clean machine stop, and the static ill-formed
// rejection. Exactly these three end a run; internal-consistency failures
// are panics, never values of these types.
package ub

import (
	"errors"
	"fmt"
)

// Code categorizes an undefined-behavior diagnostic.
type Code string

const (
	// CodeOutOfBounds is an access outside a live allocation.
	CodeOutOfBounds Code = "OUT_OF_BOUNDS"
	// CodeMisaligned is an access at an insufficiently aligned address.
	CodeMisaligned Code = "MISALIGNED"
	// CodeUseAfterFree is an access into a dead allocation.
	CodeUseAfterFree Code = "USE_AFTER_FREE"
	// CodeDoubleFree is deallocating an already-dead allocation.
	CodeDoubleFree Code = "DOUBLE_FREE"
	// CodeInvalidDealloc is a deallocation with wrong pointer, size or align.
	CodeInvalidDealloc Code = "INVALID_DEALLOC"
	// CodeNoProvenance is a non-zero-size access through a pointer without
	// provenance.
	CodeNoProvenance Code = "NO_PROVENANCE"
	// CodeInvalidValue is a load of bytes that do not decode at the type.
	CodeInvalidValue Code = "INVALID_VALUE"
	// CodeDivByZero is integer division or remainder by zero.
	CodeDivByZero Code = "DIV_BY_ZERO"
	// CodeArithOverflow is the overflowing div/rem corner case.
	CodeArithOverflow Code = "ARITH_OVERFLOW"
	// CodeUnreachable is executing the unreachable terminator.
	CodeUnreachable Code = "UNREACHABLE"
	// CodeAbiMismatch is a caller/callee signature disagreement.
	CodeAbiMismatch Code = "ABI_MISMATCH"
	// CodeDataRace is two conflicting unsynchronized accesses.
	CodeDataRace Code = "DATA_RACE"
	// CodeMemoryLeak is a machine exit with live heap allocations.
	CodeMemoryLeak Code = "MEMORY_LEAK"
	// CodeBadReturn is returning from the outermost frame without exiting.
	CodeBadReturn Code = "BAD_RETURN"
	// CodeDeadLocal is touching a local whose storage is dead.
	CodeDeadLocal Code = "DEAD_LOCAL"
	// CodeBadStorage is StorageLive on a live local or StorageDead on a
	// dead one.
	CodeBadStorage Code = "BAD_STORAGE"
	// CodeBadIntrinsic is an intrinsic call with wrong arity or types.
	CodeBadIntrinsic Code = "BAD_INTRINSIC"
	// CodeOutOfRange is an out-of-range index or size.
	CodeOutOfRange Code = "OUT_OF_RANGE"
)

// Undefined is the unrecoverable dynamic classification. The diagnostic
// names the violated contract; no recovery path exists, an implementation
// reports and stops.
type Undefined struct {
	Code   Code
	Reason string
}

// Error implements the error interface.
func (u *Undefined) Error() string {
	return fmt.Sprintf("undefined behavior: %s: %s", u.Code, u.Reason)
}

// Ub creates an Undefined diagnostic.
func Ub(code Code, format string, args ...any) *Undefined {
	return &Undefined{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// IsUndefined reports whether err is (or wraps) an Undefined.
func IsUndefined(err error) bool {
	var u *Undefined
	return errors.As(err, &u)
}

// AsUndefined unwraps an Undefined from err, if present.
func AsUndefined(err error) (*Undefined, bool) {
	var u *Undefined
	ok := errors.As(err, &u)
	return u, ok
}

// Stop is the clean, programmer-requested halt. It is only produced by the
// exit intrinsic after a successful leak check.
type Stop struct {
	ExitCode int
}

// Error implements the error interface.
func (s *Stop) Error() string {
	return fmt.Sprintf("machine stop (exit code %d)", s.ExitCode)
}

// IsStop reports whether err is (or wraps) a Stop.
func IsStop(err error) bool {
	var s *Stop
	return errors.As(err, &s)
}

// IllFormed is the static classification: the program failed
// well-formedness checking and was never executed. Distinct from UB, which
// is dynamic.
type IllFormed struct {
	Where  string
	Reason string
}

// Error implements the error interface.
func (i *IllFormed) Error() string {
	if i.Where == "" {
		return fmt.Sprintf("ill-formed program: %s", i.Reason)
	}
	return fmt.Sprintf("ill-formed program: %s: %s", i.Where, i.Reason)
}

// Illf creates an IllFormed diagnostic located at where.
func Illf(where, format string, args ...any) *IllFormed {
	return &IllFormed{Where: where, Reason: fmt.Sprintf(format, args...)}
}

// IsIllFormed reports whether err is (or wraps) an IllFormed.
func IsIllFormed(err error) bool {
	var i *IllFormed
	return errors.As(err, &i)
}

// AsIllFormed unwraps an IllFormed from err, if present.
func AsIllFormed(err error) (*IllFormed, bool) {
	var i *IllFormed
	ok := errors.As(err, &i)
	return i, ok
}

package abi

import (
	"context"
	"errors"
	"math"
	"strconv"
)

// Errno is a guest-visible error code. Syscalls return it negated.
type Errno int32

const (
	None           Errno = 0  // no error
	Invalid        Errno = 1  // invalid data or argument
	BadSyscallOp   Errno = 2  // invalid syscall op or syscall op data
	BadFd          Errno = 3  // invalid file descriptor
	BadName        Errno = 4  // invalid or misformed name
	NotFound       Errno = 5  // resource not found
	NameTooLong    Errno = 6  // name too long
	Canceled       Errno = 7  // operation canceled
	NotSupported   Errno = 8  // not supported
	Exists         Errno = 9  // already exists
	EndOfResource  Errno = 10 // end of resource
	AccessDenied   Errno = 11 // permission denied
	NoMemory       Errno = 12 // cannot allocate memory
	MemoryFault    Errno = 13 // bad memory address
	Overflow       Errno = 14 // value too large for defined data type
	maxKnownErrno        = Overflow
)

var errnoNames = [...]string{
	None:          "none",
	Invalid:       "invalid",
	BadSyscallOp:  "sys_op",
	BadFd:         "badfd",
	BadName:       "bad_name",
	NotFound:      "not_found",
	NameTooLong:   "name_too_long",
	Canceled:      "canceled",
	NotSupported:  "not_supported",
	Exists:        "exists",
	EndOfResource: "end",
	AccessDenied:  "access",
	NoMemory:      "nomem",
	MemoryFault:   "mfault",
	Overflow:      "overflow",
}

// String returns the symbolic name of the error code.
func (e Errno) String() string {
	if e >= 0 && e <= maxKnownErrno {
		return errnoNames[e]
	}
	return "errno(" + strconv.Itoa(int(e)) + ")"
}

// Error implements error.
func (e Errno) Error() string {
	return "playsys: " + e.String()
}

// Ret returns the wire encoding of e: its negation.
func (e Errno) Ret() int32 {
	return -int32(e)
}

// ErrnoOf maps err to the code a guest should see.
//
// A nil error is None, an Errno anywhere in the chain is returned as is,
// context cancellation is Canceled and anything else is Invalid.
func ErrnoOf(err error) Errno {
	if err == nil {
		return None
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return Invalid
}

// Result encodes a (count, error) pair the way a syscall returns it.
func Result(n int, err error) int32 {
	if err != nil {
		return ErrnoOf(err).Ret()
	}
	if n > math.MaxInt32 {
		return Overflow.Ret()
	}
	return int32(n)
}

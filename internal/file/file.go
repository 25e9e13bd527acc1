// Package file defines the per-descriptor file objects of a guest process.
//
// Every open descriptor maps to one File. Console serves the standard
// streams, MemoryFile serves entries of the synthetic namespace and HostFile
// serves files opened on the host.
//
// Reads that may need to wait for the host are expressed through the
// optional AsyncReader capability: the file either answers immediately or
// hands back a Pending operation for the dispatcher to run while the guest
// is suspended.
package file

import (
	"context"

	"github.com/GriffinCanCode/playsys/internal/abi"
)

// File is an open file object. Errors returned by its methods are abi.Errno
// values unless documented otherwise.
type File interface {
	// Flags returns the flags the file was opened with.
	Flags() abi.OpenFlag
	Readable() bool
	Writable() bool

	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Seek moves the cursor and returns its new position.
	Seek(offset int64, whence abi.Whence) (int64, error)
	Truncate(size int64) error
	// Flush pushes buffered output to its destination.
	Flush() error
	Close() error
	Size() (int64, error)
}

// Pending is an asynchronous operation. It runs off the guest goroutine and
// returns the value the suspended syscall resumes with.
type Pending func(ctx context.Context) (int, error)

// AsyncReader is implemented by files whose reads may have to wait.
// ReadAsync returns either a result or a non-nil Pending, never both.
type AsyncReader interface {
	ReadAsync(p []byte) (int, Pending, error)
}

// Unreader is implemented by files that can take back bytes a Pending read
// consumed from the host but never delivered to the guest. The next read
// serves them first.
type Unreader interface {
	Unread(p []byte)
}

// flags is embedded by every variant.
type flags abi.OpenFlag

func (f flags) Flags() abi.OpenFlag { return abi.OpenFlag(f) }

func (f flags) Readable() bool { return abi.OpenFlag(f).Readable() }

func (f flags) Writable() bool { return abi.OpenFlag(f).Writable() }

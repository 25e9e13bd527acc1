package vfs

import (
	"io/fs"
	"sync"
	"time"

	"github.com/GriffinCanCode/playsys/internal/abi"
)

// growAlign is the allocation unit for entry buffers.
const growAlign = 4096

// Entry is one synthetic file.
type Entry struct {
	path string
	mode fs.FileMode

	mu    sync.RWMutex
	buf   []byte
	size  int64
	mtime time.Time
	now   func() time.Time
}

// Path returns the registry key of the entry.
func (e *Entry) Path() string { return e.path }

// Mode returns the permission bits the entry was created with.
func (e *Entry) Mode() fs.FileMode { return e.mode }

// Writable reports whether the owner-write bit is set.
func (e *Entry) Writable() bool { return e.mode&0o200 != 0 }

// Size returns the number of valid bytes.
func (e *Entry) Size() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.size
}

// Cap returns the allocated buffer length.
func (e *Entry) Cap() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.buf)
}

// ModTime returns the time of the last modification.
func (e *Entry) ModTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mtime
}

// Bytes returns a copy of the valid contents.
func (e *Entry) Bytes() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]byte, e.size)
	copy(out, e.buf[:e.size])
	return out
}

// ReadAt copies bytes starting at off into p. Reading at or past the end
// is abi.EndOfResource.
func (e *Entry) ReadAt(p []byte, off int64) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if off < 0 {
		return 0, abi.Invalid
	}
	if off >= e.size {
		return 0, abi.EndOfResource
	}
	return copy(p, e.buf[off:e.size]), nil
}

// WriteAt copies p into the entry at off, growing the buffer as needed.
func (e *Entry) WriteAt(p []byte, off int64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if off < 0 {
		return 0, abi.Invalid
	}
	end := off + int64(len(p))
	e.reserve(end)
	n := copy(e.buf[off:end], p)
	if end > e.size {
		e.size = end
	}
	e.mtime = e.now()
	return n, nil
}

// Truncate sets the size of the entry. Extending zero-fills.
func (e *Entry) Truncate(size int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if size < 0 {
		return abi.Invalid
	}
	e.reserve(size)
	if size < e.size {
		// bytes past size are kept zero so a later extension reads zeros
		clear(e.buf[size:e.size])
	}
	e.size = size
	e.mtime = e.now()
	return nil
}

// reserve makes room for n bytes. The new capacity is n rounded up to the
// allocation unit and the valid bytes are carried over.
func (e *Entry) reserve(n int64) {
	if n <= int64(len(e.buf)) {
		return
	}
	grown := make([]byte, align(n, growAlign))
	copy(grown, e.buf[:e.size])
	e.buf = grown
}

// align rounds n up to a multiple of a, which must be a power of two.
func align(n int64, a int64) int64 {
	return (n + a - 1) &^ (a - 1)
}

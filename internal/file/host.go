package file

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/GriffinCanCode/playsys/internal/abi"
)

// DefaultChunkSize is the host read granularity when none is configured.
const DefaultChunkSize = 64 * 1024

// HostFile is a file opened on the host filesystem. Reads pull the host
// file in chunks; the unread tail of the last chunk is served to later
// reads without touching the host.
type HostFile struct {
	flags
	f         afero.File
	chunkSize int

	mu     sync.Mutex
	cur    cursor
	chunk  []byte
	closed bool
}

// NewHostFile wraps an open host file. chunkSize <= 0 means DefaultChunkSize.
func NewHostFile(f afero.File, fl abi.OpenFlag, chunkSize int) *HostFile {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &HostFile{flags: flags(fl), f: f, chunkSize: chunkSize}
}

// Name returns the host name of the file.
func (h *HostFile) Name() string { return h.f.Name() }

// ReadAsync serves p from the buffered chunk when one is held, otherwise it
// returns a Pending that fetches the next chunk.
func (h *HostFile) ReadAsync(p []byte) (int, Pending, error) {
	if !h.Readable() {
		return 0, nil, abi.Invalid
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, abi.BadFd
	}
	if len(p) == 0 {
		return 0, nil, nil
	}
	if len(h.chunk) > 0 {
		return h.take(p), nil, nil
	}
	return 0, func(ctx context.Context) (int, error) { return h.fill(ctx, p) }, nil
}

// Read is the blocking form of ReadAsync.
func (h *HostFile) Read(p []byte) (int, error) {
	n, pending, err := h.ReadAsync(p)
	if err != nil || pending == nil {
		return n, err
	}
	return pending(context.Background())
}

func (h *HostFile) fill(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, abi.Canceled
	}
	buf := make([]byte, h.chunkSize)
	n, err := h.f.Read(buf)

	h.mu.Lock()
	defer h.mu.Unlock()
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return 0, abi.EndOfResource
		}
		return 0, abi.Canceled
	}
	h.chunk = buf[:n]
	return h.take(p), nil
}

// take copies buffered bytes into p. Callers hold mu.
func (h *HostFile) take(p []byte) int {
	n := copy(p, h.chunk)
	h.chunk = h.chunk[n:]
	h.cur.pos += int64(n)
	return n
}

// Unread puts p back in front of the buffered chunk and moves the cursor
// back over it.
func (h *HostFile) Unread(p []byte) {
	if len(p) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	chunk := make([]byte, 0, len(p)+len(h.chunk))
	chunk = append(chunk, p...)
	h.chunk = append(chunk, h.chunk...)
	h.cur.pos -= int64(len(p))
}

// sync moves the host offset back to the cursor if a chunk was read ahead.
// Callers hold mu.
func (h *HostFile) sync() error {
	if len(h.chunk) == 0 {
		return nil
	}
	h.chunk = nil
	if _, err := h.f.Seek(h.cur.pos, io.SeekStart); err != nil {
		return abi.Canceled
	}
	return nil
}

// Write writes p to the host, blocking until the host accepts it.
func (h *HostFile) Write(p []byte) (int, error) {
	if !h.Writable() {
		return 0, abi.Invalid
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, abi.BadFd
	}
	if err := h.sync(); err != nil {
		return 0, err
	}
	n, err := h.f.Write(p)
	h.cur.pos += int64(n)
	if err != nil && n == 0 {
		return 0, hostErrno(err)
	}
	if h.Flags().Has(abi.OpenAppend) {
		if size, serr := h.size(); serr == nil {
			h.cur.pos = size
		}
	}
	return n, nil
}

// Seek repositions the host handle and drops any buffered chunk.
func (h *HostFile) Seek(offset int64, whence abi.Whence) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, abi.BadFd
	}
	size, err := h.size()
	if err != nil {
		return 0, err
	}
	pos, serr := h.cur.seek(offset, whence, size)
	h.chunk = nil
	if _, err := h.f.Seek(pos, io.SeekStart); err != nil {
		return pos, abi.Canceled
	}
	return pos, serr
}

// Truncate resizes the host file. The file must be open for writing.
func (h *HostFile) Truncate(size int64) error {
	if !h.Writable() {
		return abi.Invalid
	}
	if size < 0 {
		return abi.Invalid
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return abi.BadFd
	}
	if err := h.f.Truncate(size); err != nil {
		return hostErrno(err)
	}
	return nil
}

// Flush syncs written data to the host.
func (h *HostFile) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !h.Writable() {
		return nil
	}
	if err := h.f.Sync(); err != nil {
		return hostErrno(err)
	}
	return nil
}

// Close releases the host handle. Closing twice is a no-op.
func (h *HostFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.chunk = nil
	if err := h.f.Close(); err != nil {
		return hostErrno(err)
	}
	return nil
}

func (h *HostFile) Size() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size()
}

func (h *HostFile) size() (int64, error) {
	fi, err := h.f.Stat()
	if err != nil {
		return 0, hostErrno(err)
	}
	return fi.Size(), nil
}

func hostErrno(err error) abi.Errno {
	if errors.Is(err, os.ErrPermission) {
		return abi.AccessDenied
	}
	return abi.Canceled
}

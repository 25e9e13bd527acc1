package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/GriffinCanCode/playsys/internal/abi"
)

// LineSink receives one complete line of console output, without the
// trailing newline.
type LineSink func(line string)

// Console is a standard stream. An output console buffers text and hands
// each complete line to its sink. An input console reads from an optional
// host reader.
type Console struct {
	flags

	mu     sync.Mutex
	sink   LineSink
	line   []byte
	in     io.Reader
	held   []byte
	closed bool
}

// NewOutput returns a write-only console emitting lines to sink.
func NewOutput(sink LineSink) *Console {
	return &Console{flags: flags(abi.OpenWriteOnly), sink: sink}
}

// NewInput returns a read-only console. A nil reader makes every read fail
// with abi.Invalid.
func NewInput(r io.Reader) *Console {
	return &Console{flags: flags(abi.OpenReadOnly), in: r}
}

// Buffered returns the partial line not yet emitted.
func (c *Console) Buffered() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.line)
}

func (c *Console) Write(p []byte) (int, error) {
	if !c.Writable() {
		return 0, abi.Invalid
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, abi.BadFd
	}

	c.line = append(c.line, p...)
	last := bytes.LastIndexByte(c.line, '\n')
	if last < 0 {
		return len(p), nil
	}
	complete := c.line[:last]
	for {
		i := bytes.IndexByte(complete, '\n')
		if i < 0 {
			c.emit(complete)
			break
		}
		c.emit(complete[:i])
		complete = complete[i+1:]
	}
	c.line = append(c.line[:0], c.line[last+1:]...)
	return len(p), nil
}

func (c *Console) emit(line []byte) {
	if c.sink != nil {
		c.sink(string(bytes.ToValidUTF8(line, []byte("�"))))
	}
}

// Flush emits a buffered partial line, if any.
func (c *Console) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.line) > 0 {
		c.emit(c.line)
		c.line = c.line[:0]
	}
	return nil
}

// Close flushes the console. Later writes fail with abi.BadFd.
func (c *Console) Close() error {
	err := c.Flush()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func (c *Console) Read(p []byte) (int, error) {
	if !c.Readable() || c.in == nil {
		return 0, abi.Invalid
	}
	if n := c.takeHeld(p); n > 0 {
		return n, nil
	}
	n, err := c.in.Read(p)
	return consoleResult(n, err)
}

// ReadAsync serves held bytes immediately. Otherwise it defers to a Pending
// so a blocking host reader does not hold up the guest goroutine.
func (c *Console) ReadAsync(p []byte) (int, Pending, error) {
	if !c.Readable() || c.in == nil {
		return 0, nil, abi.Invalid
	}
	if len(p) == 0 {
		return 0, nil, nil
	}
	if n := c.takeHeld(p); n > 0 {
		return n, nil, nil
	}
	return 0, func(ctx context.Context) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, abi.Canceled
		}
		n, err := c.in.Read(p)
		return consoleResult(n, err)
	}, nil
}

// Unread holds p for the next read. Held bytes keep their arrival order.
func (c *Console) Unread(p []byte) {
	c.mu.Lock()
	c.held = append(c.held, p...)
	c.mu.Unlock()
}

// Held returns the number of bytes waiting to be read again.
func (c *Console) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}

func (c *Console) takeHeld(p []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := copy(p, c.held)
	c.held = c.held[n:]
	return n
}

func consoleResult(n int, err error) (int, error) {
	if n > 0 || err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		return 0, abi.EndOfResource
	}
	return 0, abi.Canceled
}

func (c *Console) Seek(int64, abi.Whence) (int64, error) { return 0, abi.NotSupported }

func (c *Console) Truncate(int64) error { return abi.Invalid }

func (c *Console) Size() (int64, error) { return 0, abi.NotSupported }

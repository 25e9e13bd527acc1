// Package process holds the per-guest state: guest memory, the file
// descriptor table, the synthetic namespace and the suspension controller.
package process

import (
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/playsys/internal/abi"
	"github.com/GriffinCanCode/playsys/internal/file"
	"github.com/GriffinCanCode/playsys/internal/logging"
	"github.com/GriffinCanCode/playsys/internal/memory"
	"github.com/GriffinCanCode/playsys/internal/shared/id"
	"github.com/GriffinCanCode/playsys/internal/suspend"
	"github.com/GriffinCanCode/playsys/internal/vfs"
)

// DefaultMaxFiles bounds the descriptor table when Options.MaxFiles is zero.
const DefaultMaxFiles = 1024

// Options configures a Process.
type Options struct {
	// ID names the process. Empty means a freshly generated ID.
	ID id.ProcessID
	// Registry is the synthetic namespace. Nil means a new default one.
	Registry *vfs.Registry
	// Stdin feeds fd 0. Nil makes reads on fd 0 fail.
	Stdin io.Reader
	// Stdout and Stderr receive complete lines written to fds 1 and 2.
	Stdout file.LineSink
	Stderr file.LineSink
	// MaxFiles is one past the highest descriptor that may be allocated.
	MaxFiles int
	// OnFilesChanged is called with the open descriptor count after every
	// change to the table.
	OnFilesChanged func(open int)
	Logger         *logging.Logger
}

// Process is one guest instance. The descriptor table is owned by the guest
// goroutine; the mutex only makes Finalize safe to call from the host.
type Process struct {
	id       id.ProcessID
	mem      *memory.Accessor
	registry *vfs.Registry
	ctl      *suspend.Controller
	log      *logging.Logger
	onFiles  func(int)

	mu        sync.Mutex
	files     map[abi.Fd]file.File
	free      []abi.Fd
	nextFd    abi.Fd
	maxFiles  int
	finalized bool
	exited    bool
	status    int32
}

// New creates a process over mem with fds 0, 1 and 2 open.
func New(mem *memory.Accessor, opts Options) *Process {
	pid := opts.ID
	if pid == "" {
		pid = id.NewProcessID()
	}
	reg := opts.Registry
	if reg == nil {
		reg = vfs.New(vfs.Options{})
	}
	maxFiles := opts.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	p := &Process{
		id:       pid,
		mem:      mem,
		registry: reg,
		ctl:      suspend.New(),
		log:      log.ForProcess(pid),
		onFiles:  opts.OnFilesChanged,
		files: map[abi.Fd]file.File{
			abi.FdStdin:  file.NewInput(opts.Stdin),
			abi.FdStdout: file.NewOutput(opts.Stdout),
			abi.FdStderr: file.NewOutput(opts.Stderr),
		},
		nextFd:   abi.FdStderr,
		maxFiles: maxFiles,
	}
	p.changed()
	return p
}

// ID returns the process identifier.
func (p *Process) ID() id.ProcessID { return p.id }

// Memory returns the guest memory accessor.
func (p *Process) Memory() *memory.Accessor { return p.mem }

// Registry returns the synthetic namespace.
func (p *Process) Registry() *vfs.Registry { return p.registry }

// Controller returns the suspension controller.
func (p *Process) Controller() *suspend.Controller { return p.ctl }

// Logger returns the process logger.
func (p *Process) Logger() *logging.Logger { return p.log }

// AllocFd reserves a descriptor. Freed descriptors are reused, most
// recently freed first, before new ones are minted.
func (p *Process) AllocFd() (abi.Fd, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		fd := p.free[n-1]
		p.free = p.free[:n-1]
		return fd, nil
	}
	if int(p.nextFd)+1 >= p.maxFiles {
		return 0, abi.NoMemory
	}
	p.nextFd++
	return p.nextFd, nil
}


// File returns the file open at fd.
func (p *Process) File(fd abi.Fd) (file.File, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[fd]
	return f, ok
}

// FreeFd removes fd from the table and returns it to the free list.
func (p *Process) FreeFd(fd abi.Fd) {
	p.mu.Lock()
	delete(p.files, fd)
	p.free = append(p.free, fd)
	p.mu.Unlock()
	p.changed()
}

// OpenFds returns the open descriptors in ascending order.
func (p *Process) OpenFds() []abi.Fd {
	p.mu.Lock()
	fds := make([]abi.Fd, 0, len(p.files))
	for fd := range p.files {
		fds = append(fds, fd)
	}
	p.mu.Unlock()
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds
}

// Finalize flushes every writable file, then closes every file and empties
// the descriptor table. Flush and close errors are logged and otherwise
// ignored. Only the first call has an effect.
func (p *Process) Finalize() {
	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		return
	}
	p.finalized = true
	files := p.files
	p.files = make(map[abi.Fd]file.File)
	p.free = nil
	p.mu.Unlock()

	fds := make([]abi.Fd, 0, len(files))
	for fd := range files {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })

	for _, fd := range fds {
		f := files[fd]
		if f.Writable() {
			if err := f.Flush(); err != nil {
				p.log.Debug("flush on finalize failed", zap.Int32("fd", int32(fd)), zap.Error(err))
			}
		}
		if err := f.Close(); err != nil {
			p.log.Debug("close on finalize failed", zap.Int32("fd", int32(fd)), zap.Error(err))
		}
	}
	p.changed()
}

// Finalized reports whether Finalize has run.
func (p *Process) Finalized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalized
}

// Install binds f to an allocated descriptor. After finalization f is
// closed instead, so a host open that completes late cannot leak.
func (p *Process) Install(fd abi.Fd, f file.File) {
	p.mu.Lock()
	if p.finalized {
		p.mu.Unlock()
		_ = f.Close()
		return
	}
	p.files[fd] = f
	p.mu.Unlock()
	p.changed()
}

// Exit finalizes the process and records status. The first call wins.
func (p *Process) Exit(status int32) {
	p.Finalize()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.status = status
}

// Exited reports whether the guest has exited and with which status.
func (p *Process) Exited() (int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exited
}

func (p *Process) changed() {
	if p.onFiles == nil {
		return
	}
	p.mu.Lock()
	n := len(p.files)
	p.mu.Unlock()
	p.onFiles(n)
}

package dispatch

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playsys/internal/abi"
	"github.com/GriffinCanCode/playsys/internal/file"
	"github.com/GriffinCanCode/playsys/internal/hostfs"
	"github.com/GriffinCanCode/playsys/internal/vfs"
)

const nanosPerSecond = 1_000_000_000

func ret(err error) int32 { return abi.ErrnoOf(err).Ret() }

// test reports whether op is implemented.
func (d *Dispatcher) test(args [5]int32) (int32, *pending) {
	if abi.Op(uint32(args[0])).Implemented() {
		return 0, nil
	}
	return abi.NotSupported.Ret(), nil
}

// exit terminates the guest. It does not return.
func (d *Dispatcher) exit(args [5]int32) (int32, *pending) {
	status := args[0]
	d.proc.Exit(status)
	if d.metrics != nil {
		d.metrics.RecordExit(status)
	}
	d.log.Info("guest exited", zap.Int32("status", status))
	d.raiseExit(status)
	return 0, nil
}

func (d *Dispatcher) raiseExit(status int32) {
	if d.onExit != nil {
		d.onExit(status)
	}
	panic(sys.NewExitError(uint32(status)))
}

// path decodes a guest path argument.
func (d *Dispatcher) path(ptr int32) (string, error) {
	p, err := d.proc.Memory().ReadCString(uint32(ptr))
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", abi.Invalid
	}
	if len(p) > MaxPathLen {
		return "", abi.NameTooLong
	}
	return p, nil
}

// base checks the directory descriptor of an *at call. Only the "current
// directory" and an open descriptor are accepted; paths are resolved
// against the namespace root either way.
func (d *Dispatcher) base(fd int32) error {
	if abi.Fd(fd) == abi.AtFdCwd {
		return nil
	}
	if _, ok := d.proc.File(abi.Fd(fd)); !ok {
		return abi.BadFd
	}
	return nil
}

func (d *Dispatcher) openat(args [5]int32) (int32, *pending) {
	path, err := d.path(args[1])
	if err != nil {
		return ret(err), nil
	}
	if err := d.base(args[0]); err != nil {
		return ret(err), nil
	}
	flags := abi.OpenFlag(uint32(args[2]))
	if !flags.ValidAccess() {
		return abi.Invalid.Ret(), nil
	}
	mode := fs.FileMode(uint32(args[3])).Perm()

	reg := d.proc.Registry()
	if entry, ok := reg.Find(path); ok {
		if flags.Has(abi.OpenCreate | abi.OpenExclusive) {
			return abi.Exists.Ret(), nil
		}
		if flags.Writable() && !entry.Writable() {
			return abi.AccessDenied.Ret(), nil
		}
		return d.openEntry(entry, flags), nil
	}

	if flags.Has(abi.OpenCreate) && strings.HasPrefix(path, d.scratch) {
		if mode == 0 {
			mode = 0o644
		}
		return d.openEntry(reg.Create(path, mode, nil), flags), nil
	}

	if d.opener == nil {
		return abi.NotSupported.Ret(), nil
	}
	return 0, &pending{
		run: func(ctx context.Context) (int, error) {
			f, err := d.opener.Open(ctx, path, flags, mode)
			if err != nil {
				return 0, hostErrno(err)
			}
			fd, err := d.proc.AllocFd()
			if err != nil {
				_ = f.Close()
				return 0, err
			}
			d.proc.Install(fd, f)
			return int(fd), nil
		},
		discard: func(n int) {
			fd := abi.Fd(n)
			if f, ok := d.proc.File(fd); ok {
				d.proc.FreeFd(fd)
				_ = f.Close()
			}
		},
	}
}

// openEntry allocates a descriptor for a synthetic entry and applies the
// truncate and append flags. A failure releases the descriptor.
func (d *Dispatcher) openEntry(entry *vfs.Entry, flags abi.OpenFlag) int32 {
	fd, err := d.proc.AllocFd()
	if err != nil {
		return ret(err)
	}
	f := file.NewMemoryFile(entry, flags)
	if flags.Has(abi.OpenTruncate) {
		if err := f.Truncate(0); err != nil {
			d.proc.FreeFd(fd)
			return ret(err)
		}
	}
	if flags.Has(abi.OpenAppend) {
		if _, err := f.Seek(0, abi.SeekEnd); err != nil {
			d.proc.FreeFd(fd)
			return ret(err)
		}
	}
	d.proc.Install(fd, f)
	return int32(fd)
}

// hostErrno maps a host open failure to the code the guest sees.
func hostErrno(err error) error {
	var e abi.Errno
	switch {
	case errors.Is(err, hostfs.ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return abi.Canceled
	case errors.As(err, &e):
		return e
	default:
		return abi.Invalid
	}
}

func (d *Dispatcher) close(args [5]int32) (int32, *pending) {
	fd := abi.Fd(args[0])
	f, ok := d.proc.File(fd)
	if !ok {
		return abi.BadFd.Ret(), nil
	}
	d.proc.FreeFd(fd)
	return abi.Result(0, f.Close()), nil
}

// buffer resolves the descriptor and guest buffer of a read or write.
// buffer resolves the descriptor and guest buffer of a read or write. The
// descriptor must be open in the requested direction before the buffer is
// bounds checked.
func (d *Dispatcher) buffer(args [5]int32, write bool) (file.File, []byte, error) {
	f, ok := d.proc.File(abi.Fd(args[0]))
	if !ok {
		return nil, nil, abi.BadFd
	}
	if write && !f.Writable() || !write && !f.Readable() {
		return nil, nil, abi.Invalid
	}
	buf, err := d.proc.Memory().Slice(uint32(args[1]), uint32(args[2]))
	if err != nil {
		return nil, nil, err
	}
	return f, buf, nil
}

// read fills a private buffer. Guest memory is written only on the guest
// goroutine, after the result has been delivered.
func (d *Dispatcher) read(args [5]int32) (int32, *pending) {
	f, buf, err := d.buffer(args, false)
	if err != nil {
		return ret(err), nil
	}

	ar, ok := f.(file.AsyncReader)
	if !ok {
		return abi.Result(f.Read(buf)), nil
	}
	scratch := make([]byte, len(buf))
	n, run, err := ar.ReadAsync(scratch)
	if run == nil {
		copy(buf, scratch[:n])
		return abi.Result(n, err), nil
	}

	ptr := uint32(args[1])
	p := &pending{
		run: func(ctx context.Context) (int, error) {
			n, err := run(ctx)
			var e abi.Errno
			if err != nil && !errors.As(err, &e) {
				return 0, abi.Canceled
			}
			return n, err
		},
		deliver: func(n int) {
			n = min(n, len(scratch))
			// memory may have grown while suspended
			if dst, err := d.proc.Memory().Slice(ptr, uint32(n)); err == nil {
				copy(dst, scratch[:n])
			}
		},
	}
	if u, ok := f.(file.Unreader); ok {
		p.discard = func(n int) { u.Unread(scratch[:min(n, len(scratch))]) }
	}
	return 0, p
}

func (d *Dispatcher) write(args [5]int32) (int32, *pending) {
	f, buf, err := d.buffer(args, true)
	if err != nil {
		return ret(err), nil
	}
	return abi.Result(f.Write(buf)), nil
}

func (d *Dispatcher) sleep(args [5]int32) (int32, *pending) {
	seconds, nanos := uint32(args[0]), uint32(args[1])
	if nanos >= nanosPerSecond {
		return abi.Invalid.Ret(), nil
	}
	delay := time.Duration(seconds)*time.Second + time.Duration(nanos)

	return 0, &pending{run: func(ctx context.Context) (int, error) {
		select {
		case <-d.clock.After(delay):
			return 0, nil
		case <-ctx.Done():
			return 0, abi.Canceled
		}
	}}
}

// removeat deletes a synthetic entry or, when the host opener supports it,
// a host file. No flags are supported.
func (d *Dispatcher) removeat(args [5]int32) (int32, *pending) {
	path, err := d.path(args[1])
	if err != nil {
		return ret(err), nil
	}
	if err := d.base(args[0]); err != nil {
		return ret(err), nil
	}
	if args[2] != 0 {
		return abi.NotSupported.Ret(), nil
	}

	reg := d.proc.Registry()
	if entry, ok := reg.Find(path); ok {
		if !entry.Writable() {
			return abi.AccessDenied.Ret(), nil
		}
		reg.Delete(path)
		return 0, nil
	}

	remover, ok := d.opener.(hostfs.Remover)
	if !ok {
		return abi.NotFound.Ret(), nil
	}
	return 0, &pending{run: func(ctx context.Context) (int, error) {
		if err := remover.Remove(ctx, path); err != nil {
			return 0, hostErrno(err)
		}
		return 0, nil
	}}
}

package dispatch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/sys"

	"github.com/GriffinCanCode/playsys/internal/abi"
	"github.com/GriffinCanCode/playsys/internal/file"
	"github.com/GriffinCanCode/playsys/internal/hostfs"
	"github.com/GriffinCanCode/playsys/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playsys/internal/memory"
	"github.com/GriffinCanCode/playsys/internal/process"
	"github.com/GriffinCanCode/playsys/internal/suspend"
	"github.com/GriffinCanCode/playsys/internal/vfs"
)

const (
	pathOff = 0
	bufOff  = 512
	memSize = 4096
)

type harness struct {
	t       *testing.T
	mem     memory.Buffer
	proc    *process.Process
	d       *Dispatcher
	stdout  []string
	metrics *monitoring.Metrics
	exits   []int32
}

func newHarness(t *testing.T, opts Options, popts process.Options) *harness {
	t.Helper()
	h := &harness{t: t, mem: make(memory.Buffer, memSize), metrics: monitoring.NewMetrics()}
	popts.Stdout = func(s string) { h.stdout = append(h.stdout, s) }
	h.proc = process.New(memory.New(h.mem), popts)
	opts.Metrics = h.metrics
	opts.OnExit = func(status int32) { h.exits = append(h.exits, status) }
	h.d = New(h.proc, opts)
	return h
}

func (h *harness) call(op abi.Op, args ...int32) int32 {
	h.t.Helper()
	var req Request
	req.Op = op
	copy(req.Args[:], args)
	return h.d.Dispatch(context.Background(), req)
}

// putPath stores a NUL-terminated path at pathOff.
func (h *harness) putPath(p string) int32 {
	n := copy(h.mem[pathOff:], p)
	h.mem[pathOff+n] = 0
	return pathOff
}

func (h *harness) open(p string, flags abi.OpenFlag) int32 {
	h.t.Helper()
	return h.call(abi.OpOpenat, int32(abi.AtFdCwd), h.putPath(p), int32(flags), 0)
}

func (h *harness) write(fd int32, s string) int32 {
	h.t.Helper()
	copy(h.mem[bufOff:], s)
	return h.call(abi.OpWrite, fd, bufOff, int32(len(s)))
}

func (h *harness) read(fd int32, n int) (string, int32) {
	h.t.Helper()
	r := h.call(abi.OpRead, fd, bufOff, int32(n))
	if r < 0 {
		return "", r
	}
	return string(h.mem[bufOff : bufOff+int(r)]), r
}

func TestTestOp(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	for _, op := range []abi.Op{abi.OpTest, abi.OpExit, abi.OpOpenat, abi.OpClose, abi.OpRead, abi.OpWrite, abi.OpSleep, abi.OpRemoveat} {
		assert.Equal(t, int32(0), h.call(abi.OpTest, int32(op)), op.String())
	}
	for _, op := range []abi.Op{abi.OpSeek, abi.OpMmap, abi.OpIoringSetup, abi.OpGuiMksurf, abi.Op(4242)} {
		assert.Equal(t, abi.NotSupported.Ret(), h.call(abi.OpTest, int32(op)), op.String())
	}
}

func TestReservedAndUnknownOps(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	for _, op := range []abi.Op{abi.OpSeek, abi.OpMmap, abi.OpStatat, abi.OpRenameat, abi.OpPipe,
		abi.OpIoringSetup, abi.OpIoringEnter, abi.OpIoringRegister, abi.OpWgpuOpendev, abi.OpGuiMksurf} {
		assert.Equal(t, abi.NotSupported.Ret(), h.call(op), op.String())
	}
	assert.Equal(t, abi.BadSyscallOp.Ret(), h.call(abi.Op(2)))
	assert.Equal(t, abi.BadSyscallOp.Ret(), h.call(abi.Op(99999)))
}

func TestWriteConsole(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	assert.Equal(t, int32(7), h.write(1, "abc\ndef"))
	assert.Equal(t, []string{"abc"}, h.stdout)

	assert.Equal(t, abi.BadFd.Ret(), h.write(9, "x"))
	assert.Equal(t, abi.Invalid.Ret(), h.write(0, "x"))
	assert.Equal(t, abi.MemoryFault.Ret(), h.call(abi.OpWrite, 1, memSize-2, 3))
	assert.Equal(t, abi.MemoryFault.Ret(), h.call(abi.OpWrite, 1, -1, 1))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyscallsTotal.WithLabelValues("write", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyscallsTotal.WithLabelValues("write", "badfd")))
}

func TestReadStdinUnwired(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	_, r := h.read(0, 4)
	assert.Equal(t, abi.Invalid.Ret(), r)
	_, r = h.read(1, 4)
	assert.Equal(t, abi.Invalid.Ret(), r)
}

func TestReadStdin(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{Stdin: strings.NewReader("line\n")})
	got, r := h.read(0, 16)
	assert.Equal(t, int32(5), r)
	assert.Equal(t, "line\n", got)

	_, r = h.read(0, 16)
	assert.Equal(t, abi.EndOfResource.Ret(), r)
	assert.Equal(t, suspend.Normal, h.proc.Controller().State())
}

// enteredReader signals each time a Read starts.
type enteredReader struct {
	io.Reader
	entered chan struct{}
}

func (r *enteredReader) Read(p []byte) (int, error) {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	return r.Reader.Read(p)
}

func TestReadCanceledLeavesGuestMemory(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	stdinReader := &enteredReader{Reader: pr, entered: make(chan struct{}, 1)}
	h := newHarness(t, Options{}, process.Options{Stdin: stdinReader})
	copy(h.mem[bufOff:], "-----")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int32, 1)
	go func() { done <- h.d.Dispatch(ctx, Request{Op: abi.OpRead, Args: [5]int32{0, bufOff, 5}}) }()
	require.Equal(t, suspend.Suspended, waitState(h, suspend.Suspended))
	<-stdinReader.entered
	cancel()
	assert.Equal(t, abi.Canceled.Ret(), <-done)

	go func() { _, _ = pw.Write([]byte("LATE!")) }()
	f, ok := h.proc.File(abi.FdStdin)
	require.True(t, ok)
	stdin := f.(*file.Console)
	assert.Eventually(t, func() bool { return stdin.Held() == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, "-----", string(h.mem[bufOff:bufOff+5]))

	got, r := h.read(0, 16)
	assert.Equal(t, int32(5), r)
	assert.Equal(t, "LATE!", got)
	assert.Equal(t, suspend.Normal, h.proc.Controller().State())
}

func TestReadDeliversAfterSuspend(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := newHarness(t, Options{}, process.Options{Stdin: pr})

	done := make(chan int32, 1)
	go func() { done <- h.call(abi.OpRead, 0, bufOff, 8) }()
	require.Equal(t, suspend.Suspended, waitState(h, suspend.Suspended))
	go func() { _, _ = pw.Write([]byte("hi")) }()

	assert.Equal(t, int32(2), <-done)
	assert.Equal(t, "hi", string(h.mem[bufOff:bufOff+2]))
}

func TestDirectionCheckedBeforeBounds(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{Stdin: strings.NewReader("x")})
	assert.Equal(t, abi.Invalid.Ret(), h.call(abi.OpWrite, 0, memSize-2, 64))
	assert.Equal(t, abi.Invalid.Ret(), h.call(abi.OpWrite, 0, -1, 1))
	assert.Equal(t, abi.Invalid.Ret(), h.call(abi.OpRead, 1, memSize-2, 64))

	assert.Equal(t, abi.MemoryFault.Ret(), h.call(abi.OpRead, 0, memSize-2, 64))
	assert.Equal(t, abi.BadFd.Ret(), h.call(abi.OpRead, 9, -1, 1))
}

func TestOpenUname(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{Registry: vfs.New(vfs.Options{Uname: "test-os"})})

	fd := h.open(vfs.UnamePath, abi.OpenReadOnly)
	require.Equal(t, int32(3), fd)

	got, r := h.read(fd, 64)
	require.Positive(t, r)
	assert.Equal(t, "test-os 1\n", got)

	_, r = h.read(fd, 64)
	assert.Equal(t, abi.EndOfResource.Ret(), r)

	assert.Equal(t, abi.Invalid.Ret(), h.write(fd, "x"))
	assert.Equal(t, int32(0), h.call(abi.OpClose, fd))
	assert.Equal(t, abi.BadFd.Ret(), h.call(abi.OpClose, fd))
}

func TestOpenExclusiveExisting(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	before := h.proc.OpenFds()

	r := h.open(vfs.UnamePath, abi.OpenReadOnly|abi.OpenCreate|abi.OpenExclusive)
	assert.Equal(t, abi.Exists.Ret(), r)
	assert.Equal(t, before, h.proc.OpenFds())

	assert.Equal(t, int32(3), h.open(vfs.UnamePath, abi.OpenReadOnly), "no descriptor was consumed")
}

func TestOpenErrors(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	tests := []struct {
		name string
		call func() int32
		want abi.Errno
	}{
		{"empty path", func() int32 { return h.open("", abi.OpenReadOnly) }, abi.Invalid},
		{"bad access mode", func() int32 { return h.open(vfs.UnamePath, abi.OpenFlag(3)) }, abi.Invalid},
		{"read-only entry for write", func() int32 { return h.open(vfs.UnamePath, abi.OpenWriteOnly) }, abi.AccessDenied},
		{"truncate read-only", func() int32 { return h.open(vfs.UnamePath, abi.OpenReadOnly|abi.OpenTruncate) }, abi.Invalid},
		{"bad base fd", func() int32 {
			return h.call(abi.OpOpenat, 77, h.putPath(vfs.UnamePath), int32(abi.OpenReadOnly), 0)
		}, abi.BadFd},
		{"path out of memory", func() int32 {
			return h.call(abi.OpOpenat, int32(abi.AtFdCwd), memSize+10, 0, 0)
		}, abi.MemoryFault},
		{"unterminated path", func() int32 {
			for i := range h.mem {
				h.mem[i] = 'a'
			}
			return h.call(abi.OpOpenat, int32(abi.AtFdCwd), 0, 0, 0)
		}, abi.Invalid},
		{"no host opener", func() int32 { return h.open("/home/guest/file", abi.OpenReadOnly) }, abi.NotSupported},
		{"create outside scratch", func() int32 { return h.open("/home/new", abi.OpenWriteOnly|abi.OpenCreate) }, abi.NotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want.Ret(), tt.call())
			assert.Equal(t, []abi.Fd{0, 1, 2}, h.proc.OpenFds())
		})
	}

	// every failure above released or never took a descriptor
	assert.Equal(t, int32(3), h.open(vfs.UnamePath, abi.OpenReadOnly))
}

func TestOpenNameTooLong(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	h.mem = make(memory.Buffer, 2*MaxPathLen)
	h.proc = process.New(memory.New(h.mem), process.Options{})
	h.d = New(h.proc, Options{})
	assert.Equal(t, abi.NameTooLong.Ret(), h.open("/"+strings.Repeat("n", MaxPathLen), abi.OpenReadOnly))
}

func TestScratchFileRoundTrip(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})

	w := h.open("/tmp/notes", abi.OpenReadWrite|abi.OpenCreate)
	require.Equal(t, int32(3), w)
	_, r := h.read(w, 8)
	assert.Equal(t, abi.EndOfResource.Ret(), r)

	assert.Equal(t, int32(5), h.write(w, "hello"))

	rd := h.open("/tmp/notes", abi.OpenReadOnly)
	got, _ := h.read(rd, 32)
	assert.Equal(t, "hello", got)

	a := h.open("/tmp/notes", abi.OpenWriteOnly|abi.OpenAppend)
	assert.Equal(t, int32(1), h.write(a, "!"))

	entry, ok := h.proc.Registry().Find("/tmp/notes")
	require.True(t, ok)
	assert.Equal(t, "hello!", string(entry.Bytes()))

	tr := h.open("/tmp/notes", abi.OpenWriteOnly|abi.OpenTruncate)
	require.Positive(t, tr)
	assert.Equal(t, int64(0), entry.Size())

	assert.Equal(t, abi.Exists.Ret(), h.open("/tmp/notes", abi.OpenWriteOnly|abi.OpenCreate|abi.OpenExclusive))
}

func TestCloseReusesFd(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	a := h.open(vfs.UnamePath, abi.OpenReadOnly)
	b := h.open(vfs.UnamePath, abi.OpenReadOnly)
	require.Equal(t, []int32{3, 4}, []int32{a, b})

	require.Equal(t, int32(0), h.call(abi.OpClose, a))
	assert.Equal(t, a, h.open(vfs.UnamePath, abi.OpenReadOnly))
	assert.Equal(t, int32(5), h.open(vfs.UnamePath, abi.OpenReadOnly))
}

func TestOpenFdLimit(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{MaxFiles: 4})
	assert.Equal(t, int32(3), h.open(vfs.UnamePath, abi.OpenReadOnly))
	assert.Equal(t, abi.NoMemory.Ret(), h.open(vfs.UnamePath, abi.OpenReadOnly))
}

func TestHostOpenAndRead(t *testing.T) {
	mfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mfs, "/data/in.txt", []byte("0123456789"), 0o644))
	h := newHarness(t, Options{Opener: hostfs.NewDir(mfs, 4)}, process.Options{})

	fd := h.open("/data/in.txt", abi.OpenReadOnly)
	require.Equal(t, int32(3), fd)
	_, ok := h.proc.File(abi.Fd(fd))
	require.True(t, ok)

	var got strings.Builder
	for {
		s, r := h.read(fd, 3)
		if r == abi.EndOfResource.Ret() {
			break
		}
		require.Positive(t, r)
		got.WriteString(s)
	}
	assert.Equal(t, "0123456789", got.String())
	assert.Equal(t, suspend.Normal, h.proc.Controller().State())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Suspensions.WithLabelValues("openat")))
	assert.Positive(t, testutil.ToFloat64(h.metrics.Suspensions.WithLabelValues("read")))

	assert.Equal(t, int32(0), h.call(abi.OpClose, fd))
}

func TestHostWrite(t *testing.T) {
	mfs := afero.NewMemMapFs()
	h := newHarness(t, Options{Opener: hostfs.NewDir(mfs, 0)}, process.Options{})

	fd := h.open("/out.log", abi.OpenWriteOnly|abi.OpenCreate)
	require.Equal(t, int32(3), fd)
	assert.Equal(t, int32(4), h.write(fd, "data"))
	require.Equal(t, int32(0), h.call(abi.OpClose, fd))

	got, err := afero.ReadFile(mfs, "/out.log")
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) Open(ctx context.Context, name string, flags abi.OpenFlag, perm fs.FileMode) (file.File, error) {
	args := m.Called(name)
	f, _ := args.Get(0).(file.File)
	return f, args.Error(1)
}

func TestHostOpenErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want abi.Errno
	}{
		{"picker canceled", hostfs.ErrCanceled, abi.Canceled},
		{"context canceled", context.Canceled, abi.Canceled},
		{"typed errno", abi.NotFound, abi.NotFound},
		{"wrapped errno", errors.Join(errors.New("lookup"), abi.AccessDenied), abi.AccessDenied},
		{"anything else", errors.New("disk on fire"), abi.Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockOpener{}
			m.On("Open", "/host/file").Return(nil, tt.err)
			h := newHarness(t, Options{Opener: m}, process.Options{})

			assert.Equal(t, tt.want.Ret(), h.open("/host/file", abi.OpenReadOnly))
			assert.Equal(t, []abi.Fd{0, 1, 2}, h.proc.OpenFds())
			assert.Equal(t, suspend.Normal, h.proc.Controller().State())
			m.AssertExpectations(t)
		})
	}
}

func TestSleepZero(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	assert.Equal(t, int32(0), h.call(abi.OpSleep, 0, 0))
	assert.Equal(t, suspend.Normal, h.proc.Controller().State())
	assert.NoError(t, h.proc.Controller().Violation())
}

func TestSleepInvalidNanos(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	assert.Equal(t, abi.Invalid.Ret(), h.call(abi.OpSleep, 0, 1_000_000_000))
	assert.Equal(t, suspend.Normal, h.proc.Controller().State())
}

func TestSleepUsesClock(t *testing.T) {
	c := clockwork.NewFakeClockAt(time.Unix(0, 0))
	h := newHarness(t, Options{Clock: c}, process.Options{})

	done := make(chan int32, 1)
	go func() { done <- h.call(abi.OpSleep, 2, 500) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.BlockUntilContext(ctx, 1))
	assert.Equal(t, suspend.Suspended, waitState(h, suspend.Suspended))
	c.Advance(2*time.Second + 499)
	select {
	case <-done:
		t.Fatal("woke early")
	case <-time.After(10 * time.Millisecond):
	}

	c.Advance(1)
	select {
	case r := <-done:
		assert.Equal(t, int32(0), r)
	case <-time.After(time.Second):
		t.Fatal("sleep never resumed")
	}
	assert.Equal(t, suspend.Normal, h.proc.Controller().State())
}

// waitState polls until the controller reaches want or a second passes.
func waitState(h *harness, want suspend.State) suspend.State {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := h.proc.Controller().State(); s == want {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	return h.proc.Controller().State()
}

func TestSleepCanceled(t *testing.T) {
	c := clockwork.NewFakeClockAt(time.Unix(0, 0))
	h := newHarness(t, Options{Clock: c}, process.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := h.d.Dispatch(ctx, Request{Op: abi.OpSleep, Args: [5]int32{60}})
	assert.Equal(t, abi.Canceled.Ret(), r)
	assert.Equal(t, suspend.Normal, h.proc.Controller().State())
}

func TestRewindingShortCircuits(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	ctl := h.proc.Controller()
	ctl.Suspend()
	ctl.Resume(42)

	// the request is not executed again: fd 9 does not exist
	assert.Equal(t, int32(42), h.call(abi.OpClose, 9))
	assert.Equal(t, suspend.Normal, ctl.State())
}

func TestDoubleSuspendIsViolation(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	h.proc.Controller().Suspend()

	assert.Panics(t, func() { h.call(abi.OpSleep, 0, 0) })
	var v *suspend.ViolationError
	assert.True(t, errors.As(h.proc.Controller().Violation(), &v))
}

func TestExit(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	h.write(1, "unterminated")

	exitCode := func(f func()) (code uint32) {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			exitErr, ok := r.(*sys.ExitError)
			require.True(t, ok, "panic value %T", r)
			code = exitErr.ExitCode()
		}()
		f()
		return 0
	}

	assert.Equal(t, uint32(7), exitCode(func() { h.call(abi.OpExit, 7) }))
	assert.Equal(t, []string{"unterminated"}, h.stdout)
	assert.Equal(t, []int32{7}, h.exits)

	status, exited := h.proc.Exited()
	assert.True(t, exited)
	assert.Equal(t, int32(7), status)

	// no syscall runs after exit
	assert.Equal(t, uint32(7), exitCode(func() { h.write(1, "late\n") }))
	assert.Equal(t, []string{"unterminated"}, h.stdout)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ProcessExits.WithLabelValues("7")))
}

func TestExitClosesHostFiles(t *testing.T) {
	mfs := afero.NewMemMapFs()
	h := newHarness(t, Options{Opener: hostfs.NewDir(mfs, 0)}, process.Options{})

	fd := h.open("/out.log", abi.OpenWriteOnly|abi.OpenCreate)
	require.Equal(t, int32(3), fd)
	f, ok := h.proc.File(abi.Fd(fd))
	require.True(t, ok)
	require.Equal(t, int32(4), h.write(fd, "kept"))

	assert.Panics(t, func() { h.call(abi.OpExit, 0) })

	_, err := f.Write([]byte("lost"))
	assert.ErrorIs(t, err, abi.BadFd)
	assert.Empty(t, h.proc.OpenFds())

	got, err := afero.ReadFile(mfs, "/out.log")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
}

func TestRemoveat(t *testing.T) {
	h := newHarness(t, Options{}, process.Options{})
	reg := h.proc.Registry()
	reg.Create("/tmp/gone", 0o644, []byte("x"))

	rm := func(p string, flags int32) int32 {
		return h.call(abi.OpRemoveat, int32(abi.AtFdCwd), h.putPath(p), flags)
	}
	assert.Equal(t, int32(0), rm("/tmp/gone", 0))
	_, ok := reg.Find("/tmp/gone")
	assert.False(t, ok)

	assert.Equal(t, abi.NotFound.Ret(), rm("/tmp/gone", 0))
	assert.Equal(t, abi.AccessDenied.Ret(), rm(vfs.UnamePath, 0))
	assert.Equal(t, abi.NotSupported.Ret(), rm("/tmp/x", 0x200))
	assert.Equal(t, abi.Invalid.Ret(), rm("", 0))
}

func TestRemoveatHost(t *testing.T) {
	mfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mfs, "/host.txt", []byte("x"), 0o644))
	h := newHarness(t, Options{Opener: hostfs.NewDir(mfs, 0)}, process.Options{})

	r := h.call(abi.OpRemoveat, int32(abi.AtFdCwd), h.putPath("/host.txt"), 0)
	assert.Equal(t, int32(0), r)
	exists, err := afero.Exists(mfs, "/host.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	r = h.call(abi.OpRemoveat, int32(abi.AtFdCwd), h.putPath("/host.txt"), 0)
	assert.Equal(t, abi.NotFound.Ret(), r)
}

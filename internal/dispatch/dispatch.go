// Package dispatch routes guest syscalls to their handlers.
//
// Dispatch is called on the guest goroutine with an opcode and five
// word-sized arguments and returns one word: a non-negative result or a
// negated abi.Errno. A handler that has to wait for the host returns a
// file.Pending instead of a result; the dispatcher then suspends the guest,
// runs the pending work on its own goroutine, and when that completes
// re-enters itself with the same request. The re-entry finds the controller
// Rewinding and returns the stored result, so the guest observes a single
// blocking call.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playsys/internal/abi"
	"github.com/GriffinCanCode/playsys/internal/file"
	"github.com/GriffinCanCode/playsys/internal/hostfs"
	"github.com/GriffinCanCode/playsys/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playsys/internal/logging"
	"github.com/GriffinCanCode/playsys/internal/process"
	"github.com/GriffinCanCode/playsys/internal/suspend"
)

// DefaultScratchPrefix is where a guest may create synthetic files.
const DefaultScratchPrefix = "/tmp/"

// MaxPathLen is the longest path openat and removeat accept.
const MaxPathLen = 4096

// Request is one syscall as the guest issued it.
type Request struct {
	Op   abi.Op
	Args [5]int32
}

// Options configures a Dispatcher.
type Options struct {
	// Opener serves paths that miss the synthetic namespace. Nil makes such
	// opens fail with abi.NotSupported.
	Opener hostfs.Opener
	// Clock drives sleep. Nil means the real clock.
	Clock clockwork.Clock
	// ScratchPrefix is the path prefix under which a create that misses the
	// synthetic namespace makes a new entry. Empty means DefaultScratchPrefix.
	ScratchPrefix string
	// OnExit runs after the process is finalized and before the exit is
	// raised.
	OnExit  func(status int32)
	Metrics *monitoring.Metrics
}

// Dispatcher serves the syscalls of one process.
type Dispatcher struct {
	proc    *process.Process
	ctl     *suspend.Controller
	opener  hostfs.Opener
	clock   clockwork.Clock
	scratch string
	onExit  func(int32)
	metrics *monitoring.Metrics
	log     *logging.Logger
}

type handler func(d *Dispatcher, args [5]int32) (int32, *pending)

// pending is suspended work. deliver runs on the guest goroutine once a
// positive result has been resumed with. discard releases a result that
// arrives after the guest has already been resumed with Canceled.
type pending struct {
	run     file.Pending
	deliver func(n int)
	discard func(n int)
}

var handlers = map[abi.Op]handler{
	abi.OpTest:     (*Dispatcher).test,
	abi.OpExit:     (*Dispatcher).exit,
	abi.OpOpenat:   (*Dispatcher).openat,
	abi.OpClose:    (*Dispatcher).close,
	abi.OpRead:     (*Dispatcher).read,
	abi.OpWrite:    (*Dispatcher).write,
	abi.OpSleep:    (*Dispatcher).sleep,
	abi.OpRemoveat: (*Dispatcher).removeat,
}

// New creates a dispatcher for p.
func New(p *process.Process, opts Options) *Dispatcher {
	d := &Dispatcher{
		proc:    p,
		ctl:     p.Controller(),
		opener:  opts.Opener,
		clock:   opts.Clock,
		scratch: opts.ScratchPrefix,
		onExit:  opts.OnExit,
		metrics: opts.Metrics,
		log:     p.Logger().Named("dispatch"),
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	if d.scratch == "" {
		d.scratch = DefaultScratchPrefix
	}
	return d
}

// Process returns the process being served.
func (d *Dispatcher) Process() *process.Process { return d.proc }

// Dispatch executes req. It panics with a *sys.ExitError when the guest
// exits and with a *suspend.ViolationError when the suspension protocol is
// broken.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) int32 {
	if d.ctl.State() == suspend.Rewinding {
		return d.ctl.ResumeFinalize()
	}
	if status, exited := d.proc.Exited(); exited {
		d.raiseExit(status)
	}

	timer := monitoring.NewTimer(d.metrics, req.Op)
	ret := d.route(ctx, req)
	timer.Stop(ret)

	if ce := d.log.Check(zap.DebugLevel, "syscall"); ce != nil {
		ce.Write(logging.Op(req.Op), zap.Int32s("args", req.Args[:]), logging.Result(ret))
	}
	return ret
}

func (d *Dispatcher) route(ctx context.Context, req Request) int32 {
	h, ok := handlers[req.Op]
	if !ok {
		if req.Op.Known() {
			return abi.NotSupported.Ret()
		}
		return abi.BadSyscallOp.Ret()
	}
	ret, p := h(d, req.Args)
	if p == nil {
		return ret
	}
	return d.suspend(ctx, req, p)
}

// suspend parks the guest until p completes, then re-enters Dispatch so the
// result flows out through ResumeFinalize.
func (d *Dispatcher) suspend(ctx context.Context, req Request, p *pending) int32 {
	d.ctl.Suspend()
	start := time.Now()

	var once sync.Once
	go func() {
		n, err := p.run(ctx)
		delivered := false
		once.Do(func() {
			delivered = true
			d.ctl.Resume(abi.Result(n, err))
		})
		if !delivered && err == nil && p.discard != nil {
			p.discard(n)
		}
	}()

	canceled := false
	d.ctl.Unwound()
	if err := d.ctl.Wait(ctx); err != nil {
		once.Do(func() {
			canceled = true
			d.ctl.Resume(abi.Canceled.Ret())
		})
	}
	if d.metrics != nil {
		d.metrics.RecordSuspension(req.Op, time.Since(start))
	}
	ret := d.Dispatch(ctx, req)
	if !canceled && ret > 0 && p.deliver != nil {
		p.deliver(int(ret))
	}
	return ret
}

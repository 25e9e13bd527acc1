// Package guest runs a WebAssembly guest on wazero against the syscall
// dispatcher.
//
// The guest imports one function, env.sys_syscall(op, a0, a1, a2, a3, a4)
// -> i32, and exports its linear memory as "memory". It is started through
// the first export found among main, __main_argc_argv (both called with
// argc = argv = 0) and _start, unless an entry is named explicitly.
//
// Run blocks; the calling goroutine is the guest goroutine for the whole
// run, and every suspension parks it inside the host function.
package guest

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playsys/internal/dispatch"
	"github.com/GriffinCanCode/playsys/internal/logging"
	"github.com/GriffinCanCode/playsys/internal/memory"
	"github.com/GriffinCanCode/playsys/internal/process"
	"github.com/GriffinCanCode/playsys/internal/shared/id"
)

// DefaultEntries are tried in order when Options.Entry is empty.
var DefaultEntries = []string{"main", "__main_argc_argv", "_start"}

var (
	ErrNoMemory = errors.New("guest does not export memory")
	ErrNoEntry  = errors.New("guest exports no entry point")
)

// Options configures one run.
type Options struct {
	// Entry names the exported function to start. Empty tries DefaultEntries.
	Entry    string
	Process  process.Options
	Dispatch dispatch.Options
}

// Result describes a finished run.
type Result struct {
	PID id.ProcessID
	// ExitCode is the status passed to exit, or the return value of an
	// entry point that returned normally.
	ExitCode int32
	// Exited is set when the guest terminated through the exit syscall.
	Exited bool
}

// Runner runs guests. Each run gets its own wazero runtime.
type Runner struct {
	log *logging.Logger
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Nop()
	}
	return &Runner{log: log}
}

// Run compiles and runs wasm to completion. Cancelling ctx stops the guest.
// A broken suspension protocol is not returned as an error: it panics with
// the *suspend.ViolationError that describes it.
func (r *Runner) Run(ctx context.Context, wasm []byte, opts Options) (*Result, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	defer rt.Close(ctx)

	b := &binding{}
	popts := opts.Process
	if popts.Logger == nil {
		popts.Logger = r.log
	}
	proc := process.New(memory.New(b), popts)
	// covers every return and the violation panic; Exit has usually run it
	defer proc.Finalize()
	log := proc.Logger()

	dopts := opts.Dispatch
	userExit := dopts.OnExit
	dopts.OnExit = func(status int32) {
		if userExit != nil {
			userExit(status)
		}
		b.closeModule(ctx, status)
	}
	d := dispatch.New(proc, dopts)

	if err := instantiateHost(ctx, rt, d); err != nil {
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile guest: %w", err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName(proc.ID().String()).
		WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("instantiate guest: %w", err)
	}
	b.mod = mod
	b.mem = mod.ExportedMemory(MemoryExport)
	if b.mem == nil {
		return nil, ErrNoMemory
	}

	entry, name, err := resolveEntry(mod, opts.Entry)
	if err != nil {
		return nil, err
	}
	log.Info("guest starting", zap.String("entry", name), zap.Uint32("memory_bytes", b.mem.Size()))

	res := &Result{PID: proc.ID()}
	results, err := entry.Call(ctx, entryArgs(entry)...)

	if v := proc.Controller().Violation(); v != nil {
		log.Error("suspension contract violated", zap.Error(v))
		panic(v)
	}

	var exitErr *sys.ExitError
	switch {
	case errors.As(err, &exitErr):
		status, exited := proc.Exited()
		if !exited {
			// closed from outside, e.g. context cancellation
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("guest stopped: %w", ctxErr)
			}
			status = int32(exitErr.ExitCode())
		}
		res.ExitCode, res.Exited = status, exited
	case err != nil:
		return nil, fmt.Errorf("guest trapped: %w", err)
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("guest stopped: %w", ctxErr)
		}
		if len(results) == 1 {
			res.ExitCode = api.DecodeI32(results[0])
		}
	}

	log.Info("guest finished", zap.Int32("exit_code", res.ExitCode), zap.Bool("exited", res.Exited))
	return res, nil
}

func resolveEntry(mod api.Module, name string) (api.Function, string, error) {
	if name != "" {
		if fn := mod.ExportedFunction(name); fn != nil {
			return fn, name, nil
		}
		return nil, "", fmt.Errorf("%w: %q", ErrNoEntry, name)
	}
	for _, n := range DefaultEntries {
		if fn := mod.ExportedFunction(n); fn != nil {
			return fn, n, nil
		}
	}
	return nil, "", ErrNoEntry
}

// entryArgs passes zero for every parameter, which is argc = argv = 0 for
// the C-style entry points.
func entryArgs(fn api.Function) []uint64 {
	return make([]uint64, len(fn.Definition().ParamTypes()))
}

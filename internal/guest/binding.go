package guest

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/GriffinCanCode/playsys/internal/abi"
	"github.com/GriffinCanCode/playsys/internal/dispatch"
)

// Import coordinates of the syscall entry point.
const (
	ImportModule = "env"
	ImportName   = "sys_syscall"
	MemoryExport = "memory"
)

// binding connects one instantiated guest module to its process. The module
// only exists after instantiation, so the memory view and exit hook are
// filled in late.
type binding struct {
	mod api.Module
	mem api.Memory
}

// Bytes implements memory.Backing over the guest's exported memory.
func (b *binding) Bytes() []byte {
	if b.mem == nil {
		return nil
	}
	buf, ok := b.mem.Read(0, b.mem.Size())
	if !ok {
		return nil
	}
	return buf
}

// closeModule marks the module closed with status so no guest code runs
// after exit.
func (b *binding) closeModule(ctx context.Context, status int32) {
	if b.mod != nil {
		_ = b.mod.CloseWithExitCode(ctx, uint32(status))
	}
}

// instantiateHost registers env.sys_syscall(op, a0..a4) -> i32 in rt.
func instantiateHost(ctx context.Context, rt wazero.Runtime, d *dispatch.Dispatcher) error {
	fn := api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
		req := dispatch.Request{Op: abi.Op(api.DecodeU32(stack[0]))}
		for i := range req.Args {
			req.Args[i] = api.DecodeI32(stack[i+1])
		}
		stack[0] = api.EncodeI32(d.Dispatch(ctx, req))
	})

	i32 := api.ValueTypeI32
	_, err := rt.NewHostModuleBuilder(ImportModule).
		NewFunctionBuilder().
		WithGoModuleFunction(fn, []api.ValueType{i32, i32, i32, i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("op", "a0", "a1", "a2", "a3", "a4").
		Export(ImportName).
		Instantiate(ctx)
	return err
}

package abi

import "strconv"

// Op is a syscall operation code.
type Op uint32

const (
	OpRead           Op = 0     // fd, data mutptr, nbyte usize -> nbyte
	OpWrite          Op = 1     // fd, data ptr, nbyte usize -> nbyte
	OpClose          Op = 3     // fd -> err
	OpSeek           Op = 8     // reserved
	OpMmap           Op = 9     // reserved
	OpExit           Op = 60    // status i32 -> does not return
	OpSleep          Op = 230   // seconds usize, nanoseconds usize -> err
	OpOpenat         Op = 257   // base fd, path cstr, flags, mode -> fd
	OpStatat         Op = 262   // reserved
	OpRemoveat       Op = 263   // base fd, path cstr, flags -> err
	OpRenameat       Op = 264   // reserved
	OpPipe           Op = 293   // reserved
	OpIoringSetup    Op = 425   // reserved
	OpIoringEnter    Op = 426   // reserved
	OpIoringRegister Op = 427   // reserved
	OpTest           Op = 10000 // op -> err
	OpWgpuOpendev    Op = 10001 // reserved
	OpGuiMksurf      Op = 10002 // reserved
)

var opNames = map[Op]string{
	OpRead:           "read",
	OpWrite:          "write",
	OpClose:          "close",
	OpSeek:           "seek",
	OpMmap:           "mmap",
	OpExit:           "exit",
	OpSleep:          "sleep",
	OpOpenat:         "openat",
	OpStatat:         "statat",
	OpRemoveat:       "removeat",
	OpRenameat:       "renameat",
	OpPipe:           "pipe",
	OpIoringSetup:    "ioring_setup",
	OpIoringEnter:    "ioring_enter",
	OpIoringRegister: "ioring_register",
	OpTest:           "test",
	OpWgpuOpendev:    "wgpu_opendev",
	OpGuiMksurf:      "gui_mksurf",
}

// String returns the operation name, or "op(N)" for unknown codes.
func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "op(" + strconv.FormatUint(uint64(op), 10) + ")"
}

// Known reports whether op is part of the published opcode table,
// implemented or not.
func (op Op) Known() bool {
	_, ok := opNames[op]
	return ok
}

// Implemented reports whether the host services op.
func (op Op) Implemented() bool {
	switch op {
	case OpTest, OpExit, OpOpenat, OpClose, OpRead, OpWrite, OpSleep, OpRemoveat:
		return true
	}
	return false
}

package guest

// A minimal wasm assembler for test guests. Every guest imports
// env.sys_syscall as function 0 and defines one entry function as
// function 1.

const (
	opI32Const = 0x41
	opCall     = 0x10
	opDrop     = 0x1a
	opLocalGet = 0x20
	opLocalSet = 0x21
	opEnd      = 0x0b
	valI32     = 0x7f
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func section(id byte, content ...[]byte) []byte {
	var body []byte
	for _, c := range content {
		body = append(body, c...)
	}
	return append(append([]byte{id}, uleb(uint32(len(body)))...), body...)
}

// arg is one syscall argument: a constant or the value of a local.
type arg struct {
	local bool
	v     int32
}

func c(v int32) arg     { return arg{v: v} }
func local(i int32) arg { return arg{local: true, v: i} }

// syscall emits a call to sys_syscall. The result stays on the stack.
func syscall(op int32, args ...arg) []byte {
	out := append([]byte{opI32Const}, sleb(op)...)
	for i := 0; i < 5; i++ {
		a := c(0)
		if i < len(args) {
			a = args[i]
		}
		if a.local {
			out = append(out, opLocalGet)
			out = append(out, uleb(uint32(a.v))...)
		} else {
			out = append(out, opI32Const)
			out = append(out, sleb(a.v)...)
		}
	}
	return append(out, opCall, 0x00)
}

func drop(code []byte) []byte { return append(code, opDrop) }

func setLocal(code []byte, i uint32) []byte {
	return append(append(code, opLocalSet), uleb(i)...)
}

func ret(v int32) []byte { return append([]byte{opI32Const}, sleb(v)...) }

type segment struct {
	offset int32
	data   string
}

type guestModule struct {
	entry    string
	noMemory bool
	code     [][]byte
	data     []segment
}

// build assembles the module. The entry has type (i32, i32) -> i32 so its
// two parameters double as scratch locals.
func (g guestModule) build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	syscallType := []byte{0x60, 6, valI32, valI32, valI32, valI32, valI32, valI32, 1, valI32}
	entryType := []byte{0x60, 2, valI32, valI32, 1, valI32}
	out = append(out, section(1, uleb(2), syscallType, entryType)...)

	out = append(out, section(2, uleb(1), name("env"), name("sys_syscall"), []byte{0x00, 0x00})...)
	out = append(out, section(3, uleb(1), uleb(1))...)

	exports := [][]byte{nil}
	count := uint32(1)
	if !g.noMemory {
		out = append(out, section(5, uleb(1), []byte{0x00, 0x01})...)
		exports = append(exports, name("memory"), []byte{0x02, 0x00})
		count++
	}
	entry := g.entry
	if entry == "" {
		entry = "main"
	}
	exports = append(exports, name(entry), []byte{0x00, 0x01})
	exports[0] = uleb(count)
	out = append(out, section(7, exports...)...)

	body := []byte{0x00} // no extra locals
	for _, c := range g.code {
		body = append(body, c...)
	}
	body = append(body, opEnd)
	out = append(out, section(10, uleb(1), uleb(uint32(len(body))), body)...)

	if len(g.data) > 0 && !g.noMemory {
		segs := [][]byte{uleb(uint32(len(g.data)))}
		for _, s := range g.data {
			seg := []byte{0x00, opI32Const}
			seg = append(seg, sleb(s.offset)...)
			seg = append(seg, opEnd)
			seg = append(seg, name(s.data)...)
			segs = append(segs, seg)
		}
		out = append(out, section(11, segs...)...)
	}
	return out
}

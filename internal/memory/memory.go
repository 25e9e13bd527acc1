// Package memory provides a bounds-checked view over a guest's linear memory.
//
// Every guest-supplied pointer or pointer/length pair goes through an
// Accessor before the host touches it. Out of range accesses fail with
// abi.MemoryFault instead of reaching the underlying buffer.
package memory

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/GriffinCanCode/playsys/internal/abi"
)

// Backing supplies the current guest memory buffer.
//
// Bytes is called on every access, so a backing whose memory can grow
// (wasm memory.grow) must return the current view.
type Backing interface {
	Bytes() []byte
}

// Buffer is a fixed Backing over a plain byte slice.
type Buffer []byte

// Bytes implements Backing.
func (b Buffer) Bytes() []byte { return b }

// Accessor decodes and encodes values at guest offsets.
type Accessor struct {
	backing Backing
}

// New creates an accessor over backing.
func New(backing Backing) *Accessor {
	return &Accessor{backing: backing}
}

// Size returns the current size of guest memory in bytes.
func (a *Accessor) Size() int {
	return len(a.backing.Bytes())
}

// Slice returns the guest bytes in [offset, offset+n). The returned slice
// aliases guest memory and is only valid until the memory grows.
func (a *Accessor) Slice(offset uint32, n uint32) ([]byte, error) {
	buf := a.backing.Bytes()
	end := uint64(offset) + uint64(n)
	if end > uint64(len(buf)) {
		return nil, abi.MemoryFault
	}
	return buf[offset:end:end], nil
}

// ReadU8 returns the byte at offset.
func (a *Accessor) ReadU8(offset uint32) (byte, error) {
	b, err := a.Slice(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32 decodes a little-endian uint32 at offset.
func (a *Accessor) ReadU32(offset uint32) (uint32, error) {
	b, err := a.Slice(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadI32 decodes a little-endian int32 at offset.
func (a *Accessor) ReadI32(offset uint32) (int32, error) {
	v, err := a.ReadU32(offset)
	return int32(v), err
}

// WriteU32 encodes v little-endian at offset.
func (a *Accessor) WriteU32(offset uint32, v uint32) error {
	b, err := a.Slice(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// WriteI32 encodes v little-endian at offset.
func (a *Accessor) WriteI32(offset uint32, v int32) error {
	return a.WriteU32(offset, uint32(v))
}

// ReadString decodes n bytes at offset as UTF-8. Invalid sequences are
// replaced with U+FFFD.
func (a *Accessor) ReadString(offset uint32, n uint32) (string, error) {
	b, err := a.Slice(offset, n)
	if err != nil {
		return "", err
	}
	return decode(b), nil
}

// ReadCString decodes the zero-terminated string starting at offset.
// A string whose terminator lies outside guest memory is abi.Invalid.
func (a *Accessor) ReadCString(offset uint32) (string, error) {
	buf := a.backing.Bytes()
	if uint64(offset) >= uint64(len(buf)) {
		return "", abi.MemoryFault
	}
	n := bytes.IndexByte(buf[offset:], 0)
	if n < 0 {
		return "", abi.Invalid
	}
	return decode(buf[offset : int(offset)+n]), nil
}

// WriteString copies the UTF-8 encoding of s to offset, truncated to
// capacity bytes, and returns the number of bytes written. No terminator
// is added.
func (a *Accessor) WriteString(offset uint32, capacity uint32, s string) (int, error) {
	if uint32(len(s)) < capacity {
		capacity = uint32(len(s))
	}
	dst, err := a.Slice(offset, capacity)
	if err != nil {
		return 0, err
	}
	return copy(dst, s), nil
}

func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return string(bytes.ToValidUTF8(b, []byte(string(utf8.RuneError))))
}

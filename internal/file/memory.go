package file

import (
	"sync"

	"github.com/GriffinCanCode/playsys/internal/abi"
	"github.com/GriffinCanCode/playsys/internal/vfs"
)

// MemoryFile is an open synthetic entry. Files on the same entry share its
// buffer but each has its own cursor.
type MemoryFile struct {
	flags
	entry *vfs.Entry

	mu  sync.Mutex
	cur cursor
}

// NewMemoryFile opens entry with the given flags. Truncation and append
// positioning are applied by the caller.
func NewMemoryFile(entry *vfs.Entry, fl abi.OpenFlag) *MemoryFile {
	return &MemoryFile{flags: flags(fl), entry: entry}
}

// Entry returns the backing entry.
func (m *MemoryFile) Entry() *vfs.Entry { return m.entry }

func (m *MemoryFile) Read(p []byte) (int, error) {
	if !m.Readable() {
		return 0, abi.Invalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.entry.ReadAt(p, m.cur.pos)
	m.cur.pos += int64(n)
	return n, err
}

func (m *MemoryFile) Write(p []byte) (int, error) {
	if !m.Writable() {
		return 0, abi.Invalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Flags().Has(abi.OpenAppend) {
		m.cur.pos = m.entry.Size()
	}
	n, err := m.entry.WriteAt(p, m.cur.pos)
	m.cur.pos += int64(n)
	return n, err
}

func (m *MemoryFile) Seek(offset int64, whence abi.Whence) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.seek(offset, whence, m.entry.Size())
}

// Truncate resizes the entry. The file must be open for writing.
func (m *MemoryFile) Truncate(size int64) error {
	if !m.Writable() {
		return abi.Invalid
	}
	return m.entry.Truncate(size)
}

func (m *MemoryFile) Flush() error { return nil }

func (m *MemoryFile) Close() error { return nil }

func (m *MemoryFile) Size() (int64, error) { return m.entry.Size(), nil }

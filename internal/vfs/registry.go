package vfs

import (
	"fmt"
	"io/fs"
	"runtime"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/GriffinCanCode/playsys/internal/abi"
)

// UnamePath is the well-known system identity entry.
const UnamePath = "/sys/uname"

// DefaultUname returns the identity string used when none is configured.
func DefaultUname() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// Options configures a Registry.
type Options struct {
	// Uname is the system name written to /sys/uname. Empty means DefaultUname.
	Uname string
	// Clock stamps modification times. Nil means the real clock.
	Clock clockwork.Clock
}

// Registry maps paths to synthetic entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	clock   clockwork.Clock
}

// New creates a registry seeded with /sys/uname.
func New(opts Options) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		clock:   opts.Clock,
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	uname := opts.Uname
	if uname == "" {
		uname = DefaultUname()
	}
	r.Create(UnamePath, 0o444, []byte(fmt.Sprintf("%s %d\n", uname, abi.APIVersion)))
	return r
}

// Find returns the entry registered at path.
func (r *Registry) Find(path string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[path]
	return e, ok
}

// Create registers a new entry at path, replacing any existing one. A nil
// data starts the entry empty with one allocation unit of capacity.
func (r *Registry) Create(path string, mode fs.FileMode, data []byte) *Entry {
	e := &Entry{
		path:  path,
		mode:  mode.Perm(),
		now:   r.clock.Now,
		mtime: r.clock.Now(),
	}
	if data == nil {
		e.buf = make([]byte, growAlign)
	} else {
		e.buf = make([]byte, len(data))
		copy(e.buf, data)
		e.size = int64(len(data))
	}

	r.mu.Lock()
	r.entries[path] = e
	r.mu.Unlock()
	return e
}

// Delete removes the entry at path and reports whether it existed. Files
// already open on the entry keep their buffer.
func (r *Registry) Delete(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[path]; !ok {
		return false
	}
	delete(r.entries, path)
	return true
}

// Paths returns all registered paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	paths := make([]string, 0, len(r.entries))
	for p := range r.entries {
		paths = append(paths, p)
	}
	r.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

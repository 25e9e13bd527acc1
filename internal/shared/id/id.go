// Package id generates the identifiers attached to guest processes.
//
// IDs are ULIDs with a type prefix ("proc_01J..."), so they sort by creation
// time and are recognisable in logs and metrics labels.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProcessID identifies one guest process.
type ProcessID string

// ProcessPrefix is the prefix of every ProcessID.
const ProcessPrefix = "proc"

func (id ProcessID) String() string { return string(id) }

// Generator generates ULIDs from a monotonic entropy source. It is safe for
// concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader, time.Now)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source
// and time function, for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader, now func() time.Time) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 0), now: now}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewProcessID returns a ProcessID from g.
func (g *Generator) NewProcessID() ProcessID {
	return ProcessID(g.GenerateWithPrefix(ProcessPrefix))
}

// NewProcessID returns a ProcessID from the default generator.
func NewProcessID() ProcessID {
	return Default().NewProcessID()
}

// Parse splits a prefixed ID into its prefix and ULID.
func Parse(s string) (string, ulid.ULID, error) {
	prefix, raw, ok := strings.Cut(s, "_")
	if !ok || prefix == "" {
		return "", ulid.ULID{}, fmt.Errorf("id %q: missing prefix", s)
	}
	u, err := ulid.ParseStrict(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("id %q: %w", s, err)
	}
	return prefix, u, nil
}

// Valid reports whether id is a well-formed ProcessID.
func (id ProcessID) Valid() bool {
	prefix, _, err := Parse(string(id))
	return err == nil && prefix == ProcessPrefix
}

// Timestamp returns the creation time encoded in id.
func (id ProcessID) Timestamp() (time.Time, error) {
	_, u, err := Parse(string(id))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

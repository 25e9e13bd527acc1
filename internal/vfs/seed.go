package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/goccy/go-yaml"
)

// Seed is the document format accepted by LoadSeed.
type Seed struct {
	Entries []SeedEntry `yaml:"entries"`
}

// SeedEntry describes one synthetic file. Mode is an octal string such as
// "0644"; empty means read-only.
type SeedEntry struct {
	Path    string `yaml:"path"`
	Mode    string `yaml:"mode"`
	Content string `yaml:"content"`
}

// LoadSeed decodes a YAML seed document from r and creates its entries.
// It returns the number of entries created.
func (r *Registry) LoadSeed(src io.Reader) (int, error) {
	var seed Seed
	if err := yaml.NewDecoder(src).Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("decode seed: %w", err)
	}

	// validate everything before creating anything
	modes := make([]fs.FileMode, len(seed.Entries))
	for i, e := range seed.Entries {
		if e.Path == "" {
			return 0, fmt.Errorf("seed entry %d: empty path", i)
		}
		mode, err := parseMode(e.Mode)
		if err != nil {
			return 0, fmt.Errorf("seed entry %q: %w", e.Path, err)
		}
		modes[i] = mode
	}

	for i, e := range seed.Entries {
		r.Create(e.Path, modes[i], []byte(e.Content))
	}
	return len(seed.Entries), nil
}

func parseMode(s string) (fs.FileMode, error) {
	if s == "" {
		return 0o444, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	if v&^0o777 != 0 {
		return 0, fmt.Errorf("invalid mode %q: only permission bits allowed", s)
	}
	return fs.FileMode(v), nil
}

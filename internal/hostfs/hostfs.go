// Package hostfs is the host side of openat: paths that miss the synthetic
// namespace are resolved here against an afero filesystem.
//
// In production Dir wraps afero.NewOsFs under a BasePathFs rooted at the
// configured host directory, so a guest cannot name anything outside it.
// Tests use afero.NewMemMapFs.
package hostfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/GriffinCanCode/playsys/internal/abi"
	"github.com/GriffinCanCode/playsys/internal/file"
)

// ErrCanceled reports that the host gave up on an open without a more
// specific reason.
var ErrCanceled = errors.New("hostfs: open canceled")

// Opener opens host files for the guest. It is called off the guest
// goroutine while the guest is suspended.
type Opener interface {
	Open(ctx context.Context, name string, flags abi.OpenFlag, perm fs.FileMode) (file.File, error)
}

// Remover is implemented by openers that can also delete host files.
type Remover interface {
	Remove(ctx context.Context, name string) error
}

// Dir opens files inside an afero filesystem.
type Dir struct {
	fs        afero.Fs
	chunkSize int
}

// NewDir returns an opener over fsys. chunkSize is the host read
// granularity handed to every HostFile.
func NewDir(fsys afero.Fs, chunkSize int) *Dir {
	return &Dir{fs: fsys, chunkSize: chunkSize}
}

// NewOsDir returns an opener confined to root on the host filesystem.
func NewOsDir(root string, chunkSize int) *Dir {
	return NewDir(afero.NewBasePathFs(afero.NewOsFs(), root), chunkSize)
}

// Open opens name with the guest flags. Errors are abi.Errno values.
func (d *Dir) Open(ctx context.Context, name string, flags abi.OpenFlag, perm fs.FileMode) (file.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCanceled
	}
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	osFlag, err := osFlags(flags)
	if err != nil {
		return nil, err
	}
	if perm == 0 {
		perm = 0o644
	}

	f, err := d.fs.OpenFile(clean, osFlag, perm.Perm())
	if err != nil {
		return nil, Errno(err)
	}
	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		_ = f.Close()
		return nil, abi.NotSupported
	}

	h := file.NewHostFile(f, flags, d.chunkSize)
	if flags.Has(abi.OpenAppend) {
		if _, err := h.Seek(0, abi.SeekEnd); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("seek to end of %s: %w", clean, err)
		}
	}
	return h, nil
}

// Remove deletes a regular host file.
func (d *Dir) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return ErrCanceled
	}
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	fi, err := d.fs.Stat(clean)
	if err != nil {
		return Errno(err)
	}
	if fi.IsDir() {
		return abi.NotSupported
	}
	if err := d.fs.Remove(clean); err != nil {
		return Errno(err)
	}
	return nil
}

// cleanName makes name absolute and rejects control characters.
func cleanName(name string) (string, error) {
	if name == "" {
		return "", abi.Invalid
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return "", abi.BadName
	}
	return path.Clean("/" + name), nil
}

func osFlags(flags abi.OpenFlag) (int, error) {
	var f int
	switch flags.Access() {
	case abi.OpenReadOnly:
		f = os.O_RDONLY
	case abi.OpenWriteOnly:
		f = os.O_WRONLY
	case abi.OpenReadWrite:
		f = os.O_RDWR
	default:
		return 0, abi.Invalid
	}
	if flags.Has(abi.OpenAppend) {
		f |= os.O_APPEND
	}
	if flags.Has(abi.OpenCreate) {
		f |= os.O_CREATE
	}
	if flags.Has(abi.OpenTruncate) {
		f |= os.O_TRUNC
	}
	if flags.Has(abi.OpenCreate | abi.OpenExclusive) {
		f |= os.O_EXCL
	}
	return f, nil
}

// Errno maps a host filesystem error to a guest error code.
func Errno(err error) error {
	var e abi.Errno
	switch {
	case err == nil:
		return nil
	case errors.As(err, &e):
		return e
	case errors.Is(err, fs.ErrNotExist):
		return abi.NotFound
	case errors.Is(err, fs.ErrExist):
		return abi.Exists
	case errors.Is(err, fs.ErrPermission):
		return abi.AccessDenied
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCanceled
	}
	return fmt.Errorf("hostfs: %w", err)
}

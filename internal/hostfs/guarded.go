package hostfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/GriffinCanCode/playsys/internal/abi"
	"github.com/GriffinCanCode/playsys/internal/file"
	"github.com/GriffinCanCode/playsys/internal/infrastructure/resilience"
)

// Guarded runs another opener behind a circuit breaker. While the breaker
// is open, opens fail with ErrCanceled without reaching the host.
type Guarded struct {
	next    Opener
	breaker *resilience.Breaker
}

// NewGuarded wraps next. Guest-level outcomes (an abi.Errno) count as
// successes so a guest probing missing files cannot trip the breaker.
func NewGuarded(next Opener, settings resilience.Settings) *Guarded {
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = guestOutcome
	}
	return &Guarded{next: next, breaker: resilience.New("hostfs", settings)}
}

// Breaker exposes the breaker for state inspection.
func (g *Guarded) Breaker() *resilience.Breaker { return g.breaker }

func (g *Guarded) Open(ctx context.Context, name string, flags abi.OpenFlag, perm fs.FileMode) (file.File, error) {
	var f file.File
	err := g.breaker.Execute(func() error {
		var err error
		f, err = g.next.Open(ctx, name, flags, perm)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return f, err
}

// Remove forwards to the wrapped opener when it supports removal.
func (g *Guarded) Remove(ctx context.Context, name string) error {
	r, ok := g.next.(Remover)
	if !ok {
		return abi.NotSupported
	}
	err := g.breaker.Execute(func() error { return r.Remove(ctx, name) })
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return err
}

func guestOutcome(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return false
	}
	var e abi.Errno
	return errors.As(err, &e)
}

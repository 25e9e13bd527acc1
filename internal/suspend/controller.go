// Package suspend implements the single-outstanding suspension protocol
// that lets a synchronous guest call block on asynchronous host work.
//
// The guest runs on one goroutine. A handler that cannot answer at once
// calls Suspend and hands its pending work back to the dispatcher
// (Unwinding). The dispatcher marks the guest parked (Unwound) and blocks in
// Wait. When the work completes, Resume stores the result and moves to
// Rewinding; the dispatcher then re-enters itself with the original request
// and the first thing it does is ResumeFinalize, which returns the stored
// value and puts the controller back in Normal.
//
//	Normal -> Unwinding -> Suspended -> Rewinding -> Normal
//
// Any other transition is a contract violation and panics with a
// *ViolationError. A violation is never turned into a guest error code.
package suspend

import (
	"context"
	"fmt"
	"sync"
)

// State is the position of a Controller in the protocol.
type State int

const (
	Normal State = iota
	Unwinding
	Suspended
	Rewinding
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Unwinding:
		return "unwinding"
	case Suspended:
		return "suspended"
	case Rewinding:
		return "rewinding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ViolationError describes an illegal transition.
type ViolationError struct {
	Op    string
	State State
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("suspend: %s called in state %s", e.Op, e.State)
}

// Controller tracks one guest's suspension state. Resume may be called from
// any goroutine; every other method belongs to the guest goroutine.
type Controller struct {
	mu        sync.Mutex
	state     State
	pending   int32
	wake      chan struct{}
	violation *ViolationError
}

// New returns a controller in Normal.
func New() *Controller {
	return &Controller{wake: make(chan struct{}, 1)}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Violation returns the first contract violation seen, or nil.
func (c *Controller) Violation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.violation == nil {
		return nil
	}
	return c.violation
}

// violate records and raises a violation. Callers hold mu.
func (c *Controller) violate(op string) {
	v := &ViolationError{Op: op, State: c.state}
	if c.violation == nil {
		c.violation = v
	}
	c.mu.Unlock()
	panic(v)
}

// Suspend begins a suspension. It is legal only in Normal.
func (c *Controller) Suspend() {
	c.mu.Lock()
	if c.state != Normal {
		c.violate("suspend")
	}
	c.state = Unwinding
	c.mu.Unlock()
}

// Unwound records that the guest stack has been parked at the dispatcher.
// A Resume that already arrived during unwinding leaves the state as is.
func (c *Controller) Unwound() {
	c.mu.Lock()
	switch c.state {
	case Unwinding:
		c.state = Suspended
	case Rewinding:
	default:
		c.violate("unwound")
	}
	c.mu.Unlock()
}

// Resume delivers the result of the pending operation and wakes the guest.
// It is legal only while a suspension is outstanding.
func (c *Controller) Resume(v int32) {
	c.mu.Lock()
	if c.state != Unwinding && c.state != Suspended {
		c.violate("resume")
	}
	c.pending = v
	c.state = Rewinding
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ResumeFinalize returns the stored result and completes the suspension.
// It is legal only in Rewinding.
func (c *Controller) ResumeFinalize() int32 {
	c.mu.Lock()
	if c.state != Rewinding {
		c.violate("resume finalize")
	}
	v := c.pending
	c.pending = 0
	c.state = Normal
	c.mu.Unlock()

	// drop a wake-up that Wait did not consume
	select {
	case <-c.wake:
	default:
	}
	return v
}

// Wait blocks until Resume is called or ctx is done. It returns ctx.Err()
// in the latter case; the suspension is still outstanding then.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Rewinding {
		c.mu.Unlock()
		return nil
	}
	if c.state != Suspended && c.state != Unwinding {
		c.violate("wait")
	}
	c.mu.Unlock()

	select {
	case <-c.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package cancel tracks cancellation controllers for in-flight device
// operations, keyed by request ID.
//
// Operations on different request IDs never contend; the registry is backed
// by sync.Map and each controller guards its own state.
package cancel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Controller is the cooperative cancellation handle for one operation.
type Controller struct {
	id        uuid.UUID
	ctx       context.Context
	cancel    context.CancelFunc
	signalled atomic.Bool
}

// ID returns the request ID the controller was registered under.
func (c *Controller) ID() uuid.UUID {
	return c.id
}

// Context is done once the controller is signalled or released.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Cancelled reports whether Cancel was called on this controller. Releasing
// a controller on completion does not count as a cancellation.
func (c *Controller) Cancelled() bool {
	return c.signalled.Load()
}

// signal marks the controller cancelled. Returns false if it already was.
func (c *Controller) signal() bool {
	first := c.signalled.CompareAndSwap(false, true)
	c.cancel()
	return first
}

func (c *Controller) release() {
	c.cancel()
}

// Registry maps request IDs to live controllers.
type Registry struct {
	controllers sync.Map // uuid.UUID -> *Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register creates a controller for id derived from parent. A controller
// already registered under the same id is released and replaced, so there
// is never more than one live controller per request ID.
func (r *Registry) Register(parent context.Context, id uuid.UUID) *Controller {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{id: id, ctx: ctx, cancel: cancel}

	if old, loaded := r.controllers.Swap(id, c); loaded {
		old.(*Controller).release()
	}
	return c
}

// Cancel signals the live controller for id. It returns true if one was
// found. The controller stays registered until its owner unregisters it.
func (r *Registry) Cancel(id uuid.UUID) bool {
	v, ok := r.controllers.Load(id)
	if !ok {
		return false
	}
	v.(*Controller).signal()
	return true
}

// Lookup returns the live controller for id, if any.
func (r *Registry) Lookup(id uuid.UUID) (*Controller, bool) {
	v, ok := r.controllers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Controller), true
}

// Unregister removes the controller for id and releases its context. Late
// calls for an id that is already gone are a no-op.
func (r *Registry) Unregister(id uuid.UUID) {
	if v, ok := r.controllers.LoadAndDelete(id); ok {
		v.(*Controller).release()
	}
}

// UnregisterController removes c only if it is still the registered
// controller for its id, so an owner never evicts a replacement.
func (r *Registry) UnregisterController(c *Controller) {
	if c == nil {
		return
	}
	r.controllers.CompareAndDelete(c.id, c)
	c.release()
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	n := 0
	r.controllers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Package lifecycle coordinates client-approved service shutdown.
//
// Before stopping, the service asks every connected client whether it may
// shut down. Any client can veto within the wait window; silence counts as
// consent. A forced shutdown skips the poll.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kiosk-device/cardhub/internal/events"
)

// Broadcaster sends an event to every session.
type Broadcaster interface {
	Broadcast(ev events.Event)
}

// Controller runs the shutdown handshake.
type Controller struct {
	bc    Broadcaster
	stop  func()
	wait  time.Duration
	delay time.Duration
	log   *logrus.Entry

	// pollMu serializes CanShutDown polls.
	pollMu sync.Mutex

	mu       sync.Mutex
	allow    bool
	veto     chan struct{}
	stopping bool
}

// New creates a controller. stop is called once the shutdown task has
// announced itself and waited delay.
func New(bc Broadcaster, stop func(), wait, delay time.Duration, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		bc:    bc,
		stop:  stop,
		wait:  wait,
		delay: delay,
		log:   log.WithField("component", "lifecycle"),
	}
}

// CanShutDown polls the clients and reports whether none vetoed.
func (c *Controller) CanShutDown(ctx context.Context) bool {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	veto := make(chan struct{}, 1)
	c.mu.Lock()
	c.allow = true
	c.veto = veto
	c.mu.Unlock()

	c.bc.Broadcast(events.NewSimpleEvent(events.NameDeviceServiceCanShutDown))

	timer := time.NewTimer(c.wait)
	defer timer.Stop()
	select {
	case <-veto:
	case <-timer.C:
	case <-ctx.Done():
	}

	c.mu.Lock()
	allowed := c.allow
	c.veto = nil
	c.mu.Unlock()

	entry := c.log.WithField("canShutDown", allowed)
	if !allowed {
		entry = entry.WithField("reason", "client prevented shutdown")
	}
	entry.Info("Shutdown poll finished")
	return allowed
}

// SetCanShutDownClientResponse records one client's answer. A veto ends the
// running poll early.
func (c *Controller) SetCanShutDownClientResponse(allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allow = c.allow && allowed
	if allowed || c.veto == nil {
		return
	}
	c.log.WithField("canShutDown", allowed).Info("Client vetoed shutdown")
	select {
	case c.veto <- struct{}{}:
	default:
	}
}

// ShutDown starts the shutdown task when forced or when no client vetoes,
// and reports whether it started.
func (c *Controller) ShutDown(ctx context.Context, force bool, reason string) bool {
	c.log.WithFields(logrus.Fields{"force": force, "reason": reason}).Info("Shutdown requested")

	if !force && !c.CanShutDown(ctx) {
		return false
	}

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		c.log.Info("Shutdown already in progress")
		return true
	}
	c.stopping = true
	c.mu.Unlock()

	c.log.Info("Starting shut down")
	go c.shutDownTask(reason)
	return true
}

// Stopping reports whether the shutdown task has started.
func (c *Controller) Stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

func (c *Controller) shutDownTask(reason string) {
	c.bc.Broadcast(events.NewShutDownStartingEvent(reason))
	time.Sleep(c.delay)
	c.log.Info("Stopping application")
	if c.stop != nil {
		c.stop()
	}
}

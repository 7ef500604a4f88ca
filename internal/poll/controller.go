// Package poll drives periodic re-fetching of server state while any tracked
// entity is still in a non-terminal processing state.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the delay between refreshes.
const DefaultInterval = 5 * time.Second

// Controller is a two-state (inactive/active) polling state machine. While
// active, it invokes refresh on a fixed interval for as long as the active
// predicate holds. The predicate is evaluated fresh on every tick, not
// captured at start time, because the tracked entity set can change between
// ticks; when it goes false the tick cancels the loop itself. Refresh runs
// inside the tick loop, so ticks never overlap. A failed refresh is logged
// and retried on the next tick; only the predicate or Stop end polling.
type Controller struct {
	interval time.Duration
	active   func() bool
	refresh  func(ctx context.Context) error
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New creates a Controller. If interval is <= 0, DefaultInterval is used.
func New(interval time.Duration, active func() bool, refresh func(ctx context.Context) error) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{
		interval: interval,
		active:   active,
		refresh:  refresh,
		log:      slog.Default(),
	}
}

// Sync evaluates the predicate once and moves the controller to the matching
// state: started when anything is processing, stopped otherwise.
func (c *Controller) Sync(ctx context.Context) {
	if c.active() {
		c.Start(ctx)
	} else {
		c.Stop()
	}
}

// Start begins polling. Starting an already-started controller is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	stop := make(chan struct{})
	c.stopCh = stop
	c.mu.Unlock()

	go c.run(ctx, stop)
}

// Stop ends polling. Stopping an already-stopped controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
	c.stopCh = nil
}

// Running reports whether the controller is in the active state.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) run(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.stopLoop(stop)
			return
		case <-stop:
			return
		case <-ticker.C:
			if !c.active() {
				c.stopLoop(stop)
				return
			}
			if err := c.refresh(ctx); err != nil {
				c.log.Warn("poll refresh failed; will retry", "error", err)
			}
		}
	}
}

// stopLoop transitions to inactive, but only if this loop is still the
// current one. A restarted controller owns a fresh stop channel.
func (c *Controller) stopLoop(stop chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running && c.stopCh == stop {
		c.running = false
		close(c.stopCh)
		c.stopCh = nil
	}
}

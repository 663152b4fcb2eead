package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sdx/internal/errors"
)

// Coordinator serializes scan runs. The engine is the index's only writer,
// so a second scan requested while one is in flight is coalesced: it sets a
// dirty flag and runs once after the current scan finishes. Event-driven
// requests are additionally debounced so a burst of filesystem changes
// collapses into a single scan.
type Coordinator struct {
	engine   *Engine
	logger   *slog.Logger
	debounce time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	running    bool
	dirty      bool
	lastReport *Report
	lastScanAt time.Time
}

// NewCoordinator creates a coordinator over the engine.
func NewCoordinator(engine *Engine, debounce time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		engine:   engine,
		logger:   logger,
		debounce: debounce,
	}
}

// Request asks for a scan after the debounce window. Requests arriving
// within the window collapse into one scan.
func (c *Coordinator) Request() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer == nil {
		c.timer = time.AfterFunc(c.debounce, c.fire)
	} else {
		c.timer.Reset(c.debounce)
	}
}

func (c *Coordinator) fire() {
	c.mu.Lock()
	c.timer = nil
	if c.running {
		c.dirty = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go func() {
		if _, err := c.RunNow(context.Background()); err != nil {
			if errors.HasCode(err, errors.ScanInFlight) {
				c.mu.Lock()
				c.dirty = true
				c.mu.Unlock()
				return
			}
			c.logger.Error("Background scan failed", "error", err)
		}
	}()
}

// RunNow runs one scan immediately, or fails with SCAN_IN_FLIGHT when one is
// already running. A request that arrived during the run triggers one
// follow-up scan.
func (c *Coordinator) RunNow(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, errors.New(errors.ScanInFlight, "a scan is already running")
	}
	c.running = true
	c.mu.Unlock()

	report, err := c.engine.Scan(ctx)

	c.mu.Lock()
	c.running = false
	if err == nil {
		c.lastReport = report
		c.lastScanAt = time.Now().UTC()
	}
	rerun := c.dirty
	c.dirty = false
	c.mu.Unlock()

	if rerun {
		c.Request()
	}
	return report, err
}

// LastReport returns the most recent completed scan report and its time, or
// nil when no scan has completed yet.
func (c *Coordinator) LastReport() (*Report, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport, c.lastScanAt
}

// Running reports whether a scan is in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop cancels any pending debounced request.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

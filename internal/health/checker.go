// Package health provides the engine's periodic health checks: storage
// connectivity, time-series store reachability, and processor staleness.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlasbms/atlas/internal/engine"
	"github.com/atlasbms/atlas/internal/infra/sqlite"
)

// Pinger is the reachability probe of the time-series store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TaskSource exposes processor task state for the staleness check.
// Implemented by the daemon over its processors.
type TaskSource interface {
	AllTaskStatuses() map[string][]engine.TaskStatus
}

// Check defines a single health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a health checker with the standard checks.
func NewChecker(db *sqlite.DB, tsdb Pinger, tasks TaskSource) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
			},
			{
				Name: "tsdb",
				CheckFn: func(ctx context.Context) error {
					return tsdb.Ping(ctx)
				},
			},
			{
				Name: "processor_staleness",
				CheckFn: func(ctx context.Context) error {
					return checkStaleness(tasks, time.Now())
				},
			},
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// checkStaleness flags any task whose last run ended more than three
// intervals ago. Tasks that have not completed a first run yet are given
// the benefit of the doubt.
func checkStaleness(tasks TaskSource, now time.Time) error {
	if tasks == nil {
		return nil
	}
	for location, statuses := range tasks.AllTaskStatuses() {
		for _, s := range statuses {
			if s.LastRunEndedAt.IsZero() {
				continue
			}
			if age := now.Sub(s.LastRunEndedAt); age > 3*s.Interval {
				return fmt.Errorf("task %s/%s stale: last run %s ago (interval %s)",
					location, s.Type, age.Round(time.Second), s.Interval)
			}
		}
	}
	return nil
}

// Package janitor periodically deletes expired browser sessions.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes expired records and reports how many went.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Janitor runs a Purger on a fixed interval.
type Janitor struct {
	purger   Purger
	interval time.Duration
}

// New creates a new Janitor.
func New(purger Purger, interval time.Duration) *Janitor {
	return &Janitor{purger: purger, interval: interval}
}

// Start runs one purge immediately and then one per interval. It blocks until
// ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	slog.Info("janitor started", "interval", j.interval.String())
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.purger.Purge(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("janitor: failed to purge expired sessions", "error", err)
		}
		return
	}
	if n > 0 {
		slog.Info("janitor: purged expired sessions", "count", n)
	}
}

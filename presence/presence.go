// Package presence rotates the bot's displayed status.
package presence

import (
	"context"
	"log/slog"
	"time"
)

// Setter sets the bot's status.
type Setter interface {
	SetStatus(ctx context.Context, status string) error
}

// Rotator cycles through statuses.
type Rotator struct {
	set      Setter
	statuses []string
	next     int
}

// New creates a rotator. If statuses is empty, the rotator does nothing.
func New(set Setter, statuses []string) *Rotator {
	return &Rotator{set: set, statuses: statuses}
}

// Step sets the next status and advances, wrapping around after the last.
// It returns the status that was set.
func (r *Rotator) Step(ctx context.Context) string {
	if len(r.statuses) == 0 {
		return ""
	}
	s := r.statuses[r.next]
	r.next = (r.next + 1) % len(r.statuses)
	if err := r.set.SetStatus(ctx, s); err != nil {
		slog.WarnContext(ctx, "couldn't set status", slog.String("status", s), slog.Any("err", err))
	}
	return s
}

// Run sets a status immediately and then again every interval until ctx is
// canceled.
func (r *Rotator) Run(ctx context.Context, interval time.Duration) error {
	if len(r.statuses) == 0 {
		return nil
	}
	r.Step(ctx)
	if len(r.statuses) == 1 {
		return nil
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			r.Step(ctx)
		}
	}
}

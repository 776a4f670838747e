// Package autoclear deletes old messages from designated channels.
package autoclear

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zephyrtronium/warden/metrics"
)

// Config is a guild's auto-clear configuration.
type Config struct {
	// Channels is the list of IDs of channels to clear.
	Channels []string `json:"active_channels"`
	// Delay is the age in seconds at which messages are deleted.
	Delay int `json:"clear_delay"`
}

// DefaultConfig returns the configuration of a guild which has never
// configured auto-clear.
func DefaultConfig() Config {
	return Config{
		Channels: []string{},
		Delay:    300,
	}
}

// Message is a message in a channel's history.
type Message struct {
	ID   string
	Time time.Time
}

// PageSize is the maximum number of messages in a history page and in a
// bulk deletion.
const PageSize = 100

// BulkLimit is the maximum age of messages that can be deleted in bulk.
const BulkLimit = 14 * 24 * time.Hour

// Platform provides access to channel histories.
type Platform interface {
	// CanManage reports whether the bot may delete others' messages in a
	// channel.
	CanManage(ctx context.Context, channel string) (bool, error)
	// History returns up to PageSize messages older than the message with the
	// given ID, or the latest messages if before is empty, newest first.
	History(ctx context.Context, channel, before string) ([]Message, error)
	// BulkDelete deletes between 2 and PageSize messages no older than
	// BulkLimit.
	BulkDelete(ctx context.Context, channel string, ids []string) error
	// Delete deletes a single message.
	Delete(ctx context.Context, channel, id string) error
}

// Source provides guild configurations.
type Source interface {
	All(ctx context.Context) (map[string]Config, error)
}

// Sweeper periodically clears channels.
type Sweeper struct {
	src   Source
	plat  Platform
	lim   *rate.Limiter
	met   *metrics.Metrics
	clock func() time.Time

	// mu ensures one sweep at a time.
	mu sync.Mutex
}

// New creates a sweeper. Each platform call waits on lim.
func New(src Source, plat Platform, lim *rate.Limiter, met *metrics.Metrics) *Sweeper {
	if met == nil {
		met = metrics.Nop()
	}
	return &Sweeper{
		src:   src,
		plat:  plat,
		lim:   lim,
		met:   met,
		clock: time.Now,
	}
}

// Run sweeps every interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "auto-clear sweep failed", slog.Any("err", err))
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "auto-clear sweep", slog.Int("deleted", n))
			}
		}
	}
}

// Sweep deletes messages older than their guilds' delays from all
// configured channels and returns the number deleted. If another sweep is
// in progress, Sweep does nothing. Failures on individual channels are
// logged and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.mu.TryLock() {
		return 0, nil
	}
	defer s.mu.Unlock()
	cfgs, err := s.src.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("couldn't load auto-clear configs: %w", err)
	}
	total := 0
	for _, guild := range slices.Sorted(maps.Keys(cfgs)) {
		cfg := cfgs[guild]
		delay := time.Duration(cfg.Delay) * time.Second
		for _, ch := range cfg.Channels {
			if ctx.Err() != nil {
				return total, nil
			}
			n, err := s.clear(ctx, ch, delay)
			total += n
			if err != nil {
				slog.WarnContext(ctx, "couldn't clear channel",
					slog.String("guild", guild),
					slog.String("channel", ch),
					slog.Any("err", err),
				)
			}
		}
	}
	return total, nil
}

// clear deletes messages in a channel older than delay.
func (s *Sweeper) clear(ctx context.Context, channel string, delay time.Duration) (int, error) {
	if err := s.lim.Wait(ctx); err != nil {
		return 0, err
	}
	ok, err := s.plat.CanManage(ctx, channel)
	if err != nil {
		return 0, fmt.Errorf("couldn't check permissions: %w", err)
	}
	if !ok {
		return 0, nil
	}
	now := s.clock()
	cutoff := now.Add(-delay)
	// History is newest first, so young messages come before old ones.
	var bulk, single []string
	before := ""
	for {
		if err := s.lim.Wait(ctx); err != nil {
			return 0, err
		}
		page, err := s.plat.History(ctx, channel, before)
		if err != nil {
			return 0, fmt.Errorf("couldn't read history: %w", err)
		}
		for _, m := range page {
			switch {
			case !m.Time.Before(cutoff):
				// still young
			case now.Sub(m.Time) < BulkLimit:
				bulk = append(bulk, m.ID)
			default:
				single = append(single, m.ID)
			}
		}
		if len(page) < PageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	n := 0
	for ids := range slices.Chunk(bulk, PageSize) {
		if len(ids) == 1 {
			single = append(single, ids[0])
			break
		}
		if err := s.lim.Wait(ctx); err != nil {
			return n, err
		}
		if err := s.plat.BulkDelete(ctx, channel, ids); err != nil {
			s.met.PlatformErrors.Observe(1, "bulk-delete")
			return n, fmt.Errorf("couldn't delete messages: %w", err)
		}
		n += len(ids)
		s.met.ClearedCount.Observe(float64(len(ids)))
	}
	for _, id := range single {
		if err := s.lim.Wait(ctx); err != nil {
			return n, err
		}
		if err := s.plat.Delete(ctx, channel, id); err != nil {
			s.met.PlatformErrors.Observe(1, "delete")
			return n, fmt.Errorf("couldn't delete message %s: %w", id, err)
		}
		n++
		s.met.ClearedCount.Observe(1)
	}
	return n, nil
}

// Package antispam detects users sending messages faster than a guild allows.
package antispam

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zephyrtronium/warden/deque"
	"github.com/zephyrtronium/warden/syncmap"
)

// Config is a guild's anti-spam configuration.
type Config struct {
	// Enabled indicates whether the guild uses anti-spam at all.
	Enabled bool `json:"enabled"`
	// Channels is the list of IDs of monitored channels.
	Channels []string `json:"active_channels"`
	// MaxMessages is the number of messages a user may send within the window
	// without being considered to spam.
	MaxMessages int `json:"max_messages"`
	// Window is the length of the window in seconds.
	Window int `json:"time_window"`
}

// DefaultConfig returns the configuration of a guild which has never
// configured anti-spam.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Channels:    []string{},
		MaxMessages: 5,
		Window:      5,
	}
}

// Monitors returns whether the configuration enables anti-spam in a channel.
func (c *Config) Monitors(channel string) bool {
	return c.Enabled && slices.Contains(c.Channels, channel)
}

// Source provides guild configurations.
type Source interface {
	Get(ctx context.Context, guild string) (Config, error)
}

// Key identifies a message window.
type Key struct {
	Guild, Channel, User string
}

// window is the recent message times of one user in one channel.
type window struct {
	mu    sync.Mutex
	times deque.Deque[time.Time]
}

// Limiter decides whether messages are spam.
//
// Windows are created for each (guild, channel, user) on their first message
// in a monitored channel and are never removed, so memory grows with the
// number of distinct senders over the process lifetime.
type Limiter struct {
	src     Source
	windows *syncmap.Map[Key, *window]
}

// New creates a limiter reading guild configurations from src.
func New(src Source) *Limiter {
	return &Limiter{
		src:     src,
		windows: syncmap.New[Key, *window](),
	}
}

// Evaluate records a message sent at now and reports whether it exceeds the
// guild's allowed rate. If anti-spam is disabled or the channel is not
// monitored, the message is not recorded and the result is false. Failure to
// load the guild's configuration also gives false.
func (l *Limiter) Evaluate(ctx context.Context, guild, channel, user string, now time.Time) bool {
	cfg, err := l.src.Get(ctx, guild)
	if err != nil {
		slog.WarnContext(ctx, "anti-spam config unavailable; allowing message",
			slog.String("guild", guild),
			slog.Any("err", err),
		)
		return false
	}
	if !cfg.Monitors(channel) {
		return false
	}
	win := time.Duration(cfg.Window) * time.Second
	w, _ := l.windows.LoadOrStore(Key{guild, channel, user}, func() *window { return new(window) })
	w.mu.Lock()
	defer w.mu.Unlock()
	w.times = w.times.Append(now)
	if t := w.times.Slice(); len(t) > 1 && now.Before(t[len(t)-2]) {
		// Handlers run concurrently, so a message can be evaluated after a
		// newer one. Keep the oldest at the front so pruning reaches it.
		slices.SortFunc(t, time.Time.Compare)
	}
	w.times = w.times.DropFrontWhile(func(t time.Time) bool { return now.Sub(t) > win })
	return w.times.Len() > cfg.MaxMessages
}

// Count returns the number of messages currently recorded for a key.
// Entries may be older than the guild's window if the user has not sent a
// message since they expired.
func (l *Limiter) Count(k Key) int {
	w, ok := l.windows.Load(k)
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.times.Len()
}

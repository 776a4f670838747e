// Package invites attributes new members to the invites they joined with.
package invites

import (
	"context"
	"fmt"
	"sync"
)

// Config is a guild's invite tracking configuration.
type Config struct {
	Enabled  bool     `json:"enabled"`
	Channels Channels `json:"channels"`
}

// Channels are the channels where join and leave notices are sent.
// Empty IDs disable the corresponding notices.
type Channels struct {
	Joins  string `json:"joins"`
	Leaves string `json:"leaves"`
}

// DefaultConfig returns the configuration of a guild which has never
// configured invite tracking.
func DefaultConfig() Config {
	return Config{}
}

// Invite is a guild invite as listed by the platform.
type Invite struct {
	Code    string
	Uses    int
	Inviter string
}

// Lister lists a guild's invites.
type Lister interface {
	Invites(ctx context.Context, guild string) ([]Invite, error)
}

// Tracker remembers invite use counts to determine which invite each new
// member used.
type Tracker struct {
	src Lister

	mu   sync.Mutex
	uses map[string]map[string]int
}

// NewTracker creates a tracker listing invites from src.
func NewTracker(src Lister) *Tracker {
	return &Tracker{
		src:  src,
		uses: make(map[string]map[string]int),
	}
}

// Cache snapshots the use counts of a guild's invites.
func (t *Tracker) Cache(ctx context.Context, guild string) error {
	inv, err := t.src.Invites(ctx, guild)
	if err != nil {
		return fmt.Errorf("couldn't list invites for %s: %w", guild, err)
	}
	t.mu.Lock()
	t.uses[guild] = snapshot(inv)
	t.mu.Unlock()
	return nil
}

// Forget drops the snapshot of a guild, e.g. when the bot leaves it.
func (t *Tracker) Forget(guild string) {
	t.mu.Lock()
	delete(t.uses, guild)
	t.mu.Unlock()
}

// FindInviter compares a fresh listing of a guild's invites to the snapshot
// and returns the inviter of the first invite whose uses increased, then
// replaces the snapshot. Invites created since the snapshot count as having
// had zero uses. The result is empty when no invite is identified, including
// when the guild was never cached.
func (t *Tracker) FindInviter(ctx context.Context, guild string) (string, error) {
	inv, err := t.src.Invites(ctx, guild)
	if err != nil {
		return "", fmt.Errorf("couldn't list invites for %s: %w", guild, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.uses[guild]
	t.uses[guild] = snapshot(inv)
	if !ok {
		return "", nil
	}
	for _, v := range inv {
		if v.Uses > old[v.Code] {
			return v.Inviter, nil
		}
	}
	return "", nil
}

func snapshot(inv []Invite) map[string]int {
	m := make(map[string]int, len(inv))
	for _, v := range inv {
		m[v.Code] = v.Uses
	}
	return m
}

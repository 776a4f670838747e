// Package voice manages temporary voice channels.
//
// Members who join a lobby channel get a voice channel of their own which
// they own. When an owner leaves a channel that still has members, ownership
// passes to one of them. When the last member leaves, the channel is deleted.
package voice

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zephyrtronium/warden/metrics"
)

// ErrUnknownChannel is the error a Platform returns when an operation refers
// to a channel that no longer exists.
var ErrUnknownChannel = errors.New("unknown channel")

// Member is an occupant of a voice channel.
type Member struct {
	// ID is the member's user ID.
	ID string
	// Name is the member's display name.
	Name string
}

// Platform performs actions on the chat platform.
// Methods may block and may be called concurrently.
type Platform interface {
	// Parent returns the ID of the category containing a channel, or the
	// empty string if it has none.
	Parent(ctx context.Context, guild, channel string) (string, error)
	// CreateChannel creates a voice channel and returns its ID.
	CreateChannel(ctx context.Context, guild, parent, name string) (string, error)
	// DeleteChannel deletes a channel.
	DeleteChannel(ctx context.Context, channel string) error
	// RenameChannel changes a channel's name.
	RenameChannel(ctx context.Context, channel, name string) error
	// MoveMember moves a member into a voice channel.
	MoveMember(ctx context.Context, guild, user, channel string) error
	// SetPermissions sets a member's permission overwrite in a channel to
	// either the owner's or the standard overwrite.
	SetPermissions(ctx context.Context, channel, user string, owner bool) error
	// Members returns the current members of a voice channel, in the
	// platform's order.
	Members(ctx context.Context, guild, channel string) ([]Member, error)
}

// Transition is a member's movement between voice channels.
// Before and After are channel IDs, empty when the member was or is not in
// any voice channel.
type Transition struct {
	Guild  string
	Member Member
	Before string
	After  string
}

// Channel is a temporary voice channel.
type Channel struct {
	ID    string `json:"id"`
	Guild string `json:"guild"`
	Owner string `json:"owner"`
}

// tracked is the manager's record of a channel.
type tracked struct {
	// mu serializes transitions of the channel.
	// The record may be purged while a transition waits on it.
	mu sync.Mutex
	// ch is the channel. Its Owner is protected by the manager's lock.
	ch Channel
}

// Options configures a Manager.
type Options struct {
	// Lobbies is the list of IDs of lobby channels.
	Lobbies []string
	// NameFormat is the format for channel names, with a single %s verb for
	// the owner's name. Defaults to "Vocal de %s".
	NameFormat string
	// Ledger persists tracked channels. May be nil.
	Ledger Ledger
	// Metrics receives voice metrics. May be nil.
	Metrics *metrics.Metrics
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
}

// Manager tracks temporary voice channels.
type Manager struct {
	plat    Platform
	lobbies map[string]bool
	format  string
	ledger  Ledger
	met     *metrics.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	channels map[string]*tracked
	// perms caches the last permission overwrite written for each member of
	// each channel. It only prevents redundant writes.
	perms map[string]map[string]bool
}

// New creates a manager.
func New(plat Platform, opts Options) *Manager {
	m := &Manager{
		plat:     plat,
		lobbies:  make(map[string]bool, len(opts.Lobbies)),
		format:   cmp.Or(opts.NameFormat, "Vocal de %s"),
		ledger:   opts.Ledger,
		met:      opts.Metrics,
		log:      opts.Log,
		channels: make(map[string]*tracked),
		perms:    make(map[string]map[string]bool),
	}
	for _, l := range opts.Lobbies {
		m.lobbies[l] = true
	}
	if m.ledger == nil {
		m.ledger = nopLedger{}
	}
	if m.met == nil {
		m.met = metrics.Nop()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// ChannelName returns the name of a channel owned by a member named name.
func (m *Manager) ChannelName(name string) string {
	return fmt.Sprintf(m.format, name)
}

// Lookup returns the tracked channel with the given ID.
func (m *Manager) Lookup(id string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.channels[id]
	if t == nil {
		return Channel{}, false
	}
	return t.ch, true
}

// Channels returns all tracked channels ordered by ID.
func (m *Manager) Channels() []Channel {
	m.mu.Lock()
	r := make([]Channel, 0, len(m.channels))
	for _, t := range m.channels {
		r = append(r, t.ch)
	}
	m.mu.Unlock()
	slices.SortFunc(r, func(a, b Channel) int { return cmp.Compare(a.ID, b.ID) })
	return r
}

// HandleVoiceStateChange processes a member's movement between channels.
// Failures of platform actions are logged and do not stop processing.
func (m *Manager) HandleVoiceStateChange(ctx context.Context, tr Transition) {
	if tr.Before == tr.After {
		// Mute, deafen, stream, &c. Membership is unchanged.
		return
	}
	start := time.Now()
	defer func() { m.met.VoiceLatency.Observe(time.Since(start).Seconds()) }()
	log := m.log.With(slog.String("guild", tr.Guild), slog.String("member", tr.Member.ID))
	if m.lobbies[tr.After] {
		m.create(ctx, log, tr.Guild, tr.After, tr.Member)
	}
	if tr.Before != "" {
		if t := m.record(tr.Before); t != nil {
			t.mu.Lock()
			m.settle(ctx, log, t)
			t.mu.Unlock()
		}
	}
	if tr.After != "" {
		if t := m.record(tr.After); t != nil {
			t.mu.Lock()
			m.joined(ctx, log, t, tr.Member.ID)
			t.mu.Unlock()
		}
	}
}

// Sweep revisits every tracked channel, deleting empty ones and reassigning
// ownership of those whose owners are gone. It repairs state after missed or
// failed transitions.
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.Lock()
	all := make([]*tracked, 0, len(m.channels))
	for _, t := range m.channels {
		all = append(all, t)
	}
	m.mu.Unlock()
	for _, t := range all {
		if ctx.Err() != nil {
			return
		}
		t.mu.Lock()
		m.settle(ctx, m.log.With(slog.String("guild", t.ch.Guild)), t)
		t.mu.Unlock()
	}
}

// Restore loads channels persisted in the ledger, e.g. from before a restart.
// Restored channels are settled on the next Sweep.
func (m *Manager) Restore(ctx context.Context) error {
	chs, err := m.ledger.All(ctx)
	if err != nil {
		return fmt.Errorf("couldn't restore voice channels: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range chs {
		if m.channels[ch.ID] != nil {
			continue
		}
		m.channels[ch.ID] = &tracked{ch: ch}
	}
	m.log.InfoContext(ctx, "restored voice channels", slog.Int("count", len(chs)))
	return nil
}

// create gives a member who joined a lobby a channel of their own.
func (m *Manager) create(ctx context.Context, log *slog.Logger, guild, lobby string, member Member) {
	parent, err := m.plat.Parent(ctx, guild, lobby)
	if err != nil {
		// Still worth creating the channel outside any category.
		m.failed(ctx, log, "parent", err)
	}
	id, err := m.plat.CreateChannel(ctx, guild, parent, m.ChannelName(member.Name))
	if err != nil {
		m.failed(ctx, log, "create", err)
		return
	}
	t := &tracked{ch: Channel{ID: id, Guild: guild, Owner: member.ID}}
	// Hold the channel while the member moves in, so that the transition
	// caused by the move waits until ownership is granted.
	t.mu.Lock()
	defer t.mu.Unlock()
	m.mu.Lock()
	m.channels[id] = t
	m.mu.Unlock()
	m.persist(ctx, log, t.ch)
	m.met.VoiceCreated.Observe(1)
	log.InfoContext(ctx, "voice channel created", slog.String("channel", id))
	if err := m.plat.MoveMember(ctx, guild, member.ID, id); err != nil {
		m.failed(ctx, log, "move", err)
		// The member may have disconnected before the move. Don't leave an
		// empty channel behind.
		m.settle(ctx, log, t)
		return
	}
	m.grant(ctx, log, t, member.ID, true)
}

// joined grants a member who joined a tracked channel their permissions.
// t must be locked.
func (m *Manager) joined(ctx context.Context, log *slog.Logger, t *tracked, user string) {
	owner, ok := m.owner(t)
	if !ok {
		return
	}
	m.grant(ctx, log, t, user, owner == user)
}

// settle brings a tracked channel in line with its current members after
// someone leaves: an empty channel is deleted, and a channel whose owner is
// gone passes to its first member. t must be locked.
func (m *Manager) settle(ctx context.Context, log *slog.Logger, t *tracked) {
	id := t.ch.ID
	log = log.With(slog.String("channel", id))
	if _, ok := m.owner(t); !ok {
		return
	}
	members, err := m.plat.Members(ctx, t.ch.Guild, id)
	if err != nil {
		m.failedOn(ctx, log, t, "members", err)
		return
	}
	if len(members) == 0 {
		err := m.plat.DeleteChannel(ctx, id)
		switch {
		case err == nil, errors.Is(err, ErrUnknownChannel):
			m.purge(ctx, log, t)
			m.met.VoiceDeleted.Observe(1)
			log.InfoContext(ctx, "voice channel deleted")
		default:
			// Leave it tracked so a later sweep retries.
			m.failed(ctx, log, "delete", err)
		}
		return
	}
	prev, ok := m.owner(t)
	if !ok {
		return
	}
	if slices.ContainsFunc(members, func(u Member) bool { return u.ID == prev }) {
		return
	}
	next := members[0]
	m.mu.Lock()
	if m.channels[id] != t {
		m.mu.Unlock()
		return
	}
	t.ch.Owner = next.ID
	ch := t.ch
	m.mu.Unlock()
	m.persist(ctx, log, ch)
	m.met.VoiceTransferred.Observe(1)
	log.InfoContext(ctx, "voice channel ownership transferred",
		slog.String("from", prev),
		slog.String("to", next.ID),
	)
	// The previous owner's elevated overwrite outlives their presence.
	if !m.grant(ctx, log, t, prev, false) {
		return
	}
	if !m.grant(ctx, log, t, next.ID, true) {
		return
	}
	if err := m.plat.RenameChannel(ctx, id, m.ChannelName(next.Name)); err != nil {
		m.failedOn(ctx, log, t, "rename", err)
	}
}

// grant sets a member's permission overwrite unless it is already set.
// It reports false if the channel is no longer tracked. t must be locked.
func (m *Manager) grant(ctx context.Context, log *slog.Logger, t *tracked, user string, owner bool) bool {
	id := t.ch.ID
	m.mu.Lock()
	if m.channels[id] != t {
		m.mu.Unlock()
		return false
	}
	if v, ok := m.perms[id][user]; ok && v == owner {
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()
	if err := m.plat.SetPermissions(ctx, id, user, owner); err != nil {
		return m.failedOn(ctx, log, t, "permissions", err)
	}
	log.DebugContext(ctx, "voice permissions set",
		slog.String("channel", id),
		slog.String("user", user),
		slog.Bool("owner", owner),
	)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[id] != t {
		return false
	}
	p := m.perms[id]
	if p == nil {
		p = make(map[string]bool)
		m.perms[id] = p
	}
	p[user] = owner
	return true
}

// record returns the tracked channel with the given ID, or nil.
func (m *Manager) record(id string) *tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[id]
}

// owner returns the owner of a channel and whether it is still tracked.
func (m *Manager) owner(t *tracked) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[t.ch.ID] != t {
		return "", false
	}
	return t.ch.Owner, true
}

// purge stops tracking a channel.
func (m *Manager) purge(ctx context.Context, log *slog.Logger, t *tracked) {
	id := t.ch.ID
	m.mu.Lock()
	if m.channels[id] == t {
		delete(m.channels, id)
		delete(m.perms, id)
	}
	m.mu.Unlock()
	if err := m.ledger.Delete(ctx, id); err != nil {
		log.WarnContext(ctx, "couldn't remove voice channel from ledger", slog.Any("err", err))
	}
}

func (m *Manager) persist(ctx context.Context, log *slog.Logger, ch Channel) {
	if err := m.ledger.Put(ctx, ch); err != nil {
		log.WarnContext(ctx, "couldn't record voice channel in ledger", slog.Any("err", err))
	}
}

// failedOn logs a failed platform action on a tracked channel. If the
// channel no longer exists, it is purged. It reports whether the channel is
// still tracked.
func (m *Manager) failedOn(ctx context.Context, log *slog.Logger, t *tracked, op string, err error) bool {
	m.failed(ctx, log, op, err)
	if errors.Is(err, ErrUnknownChannel) {
		m.purge(ctx, log, t)
		return false
	}
	_, ok := m.owner(t)
	return ok
}

func (m *Manager) failed(ctx context.Context, log *slog.Logger, op string, err error) {
	m.met.PlatformErrors.Observe(1, op)
	log.ErrorContext(ctx, "voice action failed", slog.String("op", op), slog.Any("err", err))
}

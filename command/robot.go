package command

import (
	"context"
	"log/slog"

	"github.com/zephyrtronium/warden/antispam"
	"github.com/zephyrtronium/warden/autoclear"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/invites"
	"github.com/zephyrtronium/warden/linkfilter"
	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/modlog"
)

// Robot is the bot state as is visible to commands.
type Robot struct {
	Log     *slog.Logger
	Mod     Moderator
	ModLog  *modlog.Logger
	Invites *invites.Ledger
	Metrics *metrics.Metrics

	AntiSpam   *guildcfg.Store[antispam.Config]
	AntiLinks  *guildcfg.Store[linkfilter.Config]
	AutoClear  *guildcfg.Store[autoclear.Config]
	Logs       *guildcfg.Store[modlog.Config]
	InvitesCfg *guildcfg.Store[invites.Config]
}

// Moderator performs moderation actions on the platform.
type Moderator interface {
	// Ban bans a user, deleting their messages from the given number of
	// previous days.
	Ban(ctx context.Context, guild, user, reason string, days int) error
	Unban(ctx context.Context, guild, user string) error
	Kick(ctx context.Context, guild, user, reason string) error
	// Purge deletes up to n of the most recent messages in a channel and
	// returns the number deleted.
	Purge(ctx context.Context, channel string, n int) (int, error)
	// Outranks reports whether actor's highest role is above target's.
	// Guild owners outrank everyone.
	Outranks(ctx context.Context, guild, actor, target string) (bool, error)
}

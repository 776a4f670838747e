package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/antispam"
	"github.com/zephyrtronium/warden/autoclear"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/invites"
	"github.com/zephyrtronium/warden/linkfilter"
	"github.com/zephyrtronium/warden/modlog"
)

// Load loads warden's configuration from TOML.
func Load(ctx context.Context, r io.Reader) (*Config, *toml.MetaData, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	expandcfg(&cfg, os.Getenv)
	if u := md.Undecoded(); len(u) != 0 {
		slog.WarnContext(ctx, "unknown config keys", slog.Any("keys", u))
	}
	return &cfg, &md, nil
}

// Config is the marshaled structure of warden's configuration.
type Config struct {
	// Discord is the table of Discord connection settings.
	Discord DiscordCfg `toml:"discord"`
	// Data is the table of storage locations.
	Data DataCfg `toml:"data"`
	// HTTP is the table of HTTP API settings.
	HTTP HTTPCfg `toml:"http"`
	// Presence is the rotating status configuration.
	Presence PresenceCfg `toml:"presence"`
	// Welcome is the welcome message configuration.
	Welcome WelcomeCfg `toml:"welcome"`
	// Notice is the rate limit for warnings posted in each channel.
	Notice Rate `toml:"notice"`
	// Sweep is the configuration of periodic maintenance.
	Sweep SweepCfg `toml:"sweep"`
}

// DiscordCfg is the configuration for connecting to Discord.
type DiscordCfg struct {
	// Token is the bot token. It is typically given as an environment
	// variable reference like ${WARDEN_TOKEN}.
	Token string `toml:"token"`
	// Lobbies is the list of IDs of voice channels which create temporary
	// channels when joined.
	Lobbies []string `toml:"lobbies"`
	// ChannelName is the name format for temporary voice channels, with %s
	// for the owner's name.
	ChannelName string `toml:"channel_name"`
	// Guild, if set, registers commands in that guild only instead of
	// globally. Guild commands update immediately, which is useful for
	// testing.
	Guild string `toml:"guild"`
}

// DataCfg is the configuration of storage.
type DataCfg struct {
	// Dir is the directory containing the guild settings files.
	Dir string `toml:"dir"`
	// SQLite is the DSN of the database holding invite counts and moderation
	// history.
	SQLite string `toml:"sqlite"`
	// Badger is the directory of the database recording temporary voice
	// channels. If empty, voice channels are forgotten on restart.
	Badger string `toml:"badger"`
	// BadgerFlag is a Badger superflag string applied to its options.
	BadgerFlag string `toml:"badger_flag"`
}

// HTTPCfg is the configuration of the HTTP API.
type HTTPCfg struct {
	// Listen is the address on which to serve metrics and the API.
	Listen string `toml:"listen"`
}

// PresenceCfg is the configuration of the rotating status.
type PresenceCfg struct {
	Statuses []string `toml:"statuses"`
	// Interval is the time between status changes in seconds.
	Interval float64 `toml:"interval"`
}

// WelcomeCfg is the configuration of direct messages to new members.
type WelcomeCfg struct {
	// Message is the text sent. Empty disables welcome messages.
	// Occurrences of {user} are replaced with a mention of the member and
	// {guild} with the guild's name.
	Message string `toml:"message"`
}

// SweepCfg is the configuration of periodic maintenance.
type SweepCfg struct {
	// AutoClear is the time between auto-clear sweeps in seconds.
	AutoClear float64 `toml:"autoclear"`
	// Voice is the time between sweeps of temporary voice channels in
	// seconds.
	Voice float64 `toml:"voice"`
	// Rate limits platform calls made by auto-clear sweeps.
	Rate Rate `toml:"rate"`
}

// Rate is a rate limit configuration.
type Rate struct {
	Every float64 `toml:"every"`
	Num   int     `toml:"num"`
}

func expandcfg(cfg *Config, expand func(s string) string) {
	fields := []*string{
		&cfg.Discord.Token,
		&cfg.Discord.Guild,
		&cfg.Data.Dir,
		&cfg.Data.SQLite,
		&cfg.Data.Badger,
		&cfg.HTTP.Listen,
	}
	for _, f := range fields {
		*f = os.Expand(*f, expand)
	}
	for i, s := range cfg.Discord.Lobbies {
		cfg.Discord.Lobbies[i] = os.Expand(s, expand)
	}
}

func fseconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// or returns d if it is positive and def otherwise.
func or(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// stores is the set of guild settings files.
type stores struct {
	antispam  *guildcfg.Store[antispam.Config]
	antilinks *guildcfg.Store[linkfilter.Config]
	autoclear *guildcfg.Store[autoclear.Config]
	logs      *guildcfg.Store[modlog.Config]
	invites   *guildcfg.Store[invites.Config]
}

func openStores(dir string) *stores {
	return &stores{
		antispam:  guildcfg.Open(filepath.Join(dir, "antispam_config.json"), antispam.DefaultConfig),
		antilinks: guildcfg.Open(filepath.Join(dir, "antilinks_config.json"), linkfilter.DefaultConfig),
		autoclear: guildcfg.Open(filepath.Join(dir, "autoclear_config.json"), autoclear.DefaultConfig),
		logs:      guildcfg.Open(filepath.Join(dir, "logs_config.json"), modlog.DefaultConfig),
		invites:   guildcfg.Open(filepath.Join(dir, "invites_config.json"), invites.DefaultConfig),
	}
}

func (s *stores) watched() []guildcfg.Watched {
	return []guildcfg.Watched{s.antispam, s.antilinks, s.autoclear, s.logs, s.invites}
}

// loadDBs opens the databases. kv is nil if no Badger directory is
// configured.
func loadDBs(ctx context.Context, cfg DataCfg) (kv *badger.DB, sql *sqlitex.Pool, err error) {
	if cfg.SQLite == "" {
		return nil, nil, fmt.Errorf("no sqlite database configured")
	}
	slog.DebugContext(ctx, "sqlite db", slog.String("path", cfg.SQLite))
	sql, err = sqlitex.NewPool(cfg.SQLite, sqlitex.PoolOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open sqlite db: %w", err)
	}
	if err := invites.Init(ctx, sql); err != nil {
		sql.Close()
		return nil, nil, err
	}
	if err := modlog.Init(ctx, sql); err != nil {
		sql.Close()
		return nil, nil, err
	}

	if cfg.Badger != "" {
		slog.DebugContext(ctx, "voice ledger", slog.String("path", cfg.Badger), slog.String("flags", cfg.BadgerFlag))
		opts := badger.DefaultOptions(cfg.Badger)
		opts = opts.WithLogger(nil)
		opts = opts.WithCompression(options.None)
		kv, err = badger.Open(opts.FromSuperFlag(cfg.BadgerFlag))
		if err != nil {
			sql.Close()
			return nil, nil, fmt.Errorf("couldn't open voice ledger db: %w", err)
		}
	}
	return kv, sql, nil
}

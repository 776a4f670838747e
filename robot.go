package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/antispam"
	"github.com/zephyrtronium/warden/autoclear"
	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/invites"
	"github.com/zephyrtronium/warden/linkfilter"
	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/modlog"
	"github.com/zephyrtronium/warden/presence"
	"github.com/zephyrtronium/warden/syncmap"
	"github.com/zephyrtronium/warden/voice"
)

// Robot is the overall state of the bot.
type Robot struct {
	// cfg is the process configuration.
	cfg *Config
	// session is the Discord connection.
	session *discordgo.Session
	// plat performs actions through the session.
	plat *platform
	// stores is the guild settings.
	stores *stores
	// kv is the voice ledger database. It may be nil.
	kv *badger.DB
	// sql is the database of invites and moderation history.
	sql *sqlitex.Pool

	spam     *antispam.Limiter
	links    *linkfilter.Filter
	voice    *voice.Manager
	tracker  *invites.Tracker
	ledger   *invites.Ledger
	modlog   *modlog.Logger
	history  *modlog.History
	clear    *autoclear.Sweeper
	presence *presence.Rotator
	// cmd is the state visible to commands.
	cmd *command.Robot

	// notices is the per-channel rate limiters for warnings.
	notices *syncmap.Map[string, *rate.Limiter]
	// metrics is the bot's metrics.
	metrics *metrics.Metrics
}

// New creates a robot from its configuration. The returned robot owns the
// opened databases until Run returns.
func New(ctx context.Context, cfg *Config, met *metrics.Metrics) (*Robot, error) {
	if cfg.Discord.Token == "" {
		return nil, fmt.Errorf("no Discord token configured")
	}
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("couldn't create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildInvites |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	// Message logs need the content of deleted and edited messages.
	session.State.MaxMessageCount = 1000

	kv, sql, err := loadDBs(ctx, cfg.Data)
	if err != nil {
		return nil, err
	}
	st := openStores(cfg.Data.Dir)
	plat := &platform{s: session}
	robo := &Robot{
		cfg:     cfg,
		session: session,
		plat:    plat,
		stores:  st,
		kv:      kv,
		sql:     sql,
		spam:    antispam.New(st.antispam),
		links:   linkfilter.New(st.antilinks),
		tracker: invites.NewTracker(plat),
		ledger:  invites.Open(sql),
		history: modlog.OpenHistory(sql),
		notices: syncmap.New[string, *rate.Limiter](),
		metrics: met,
	}
	robo.modlog = modlog.New(st.logs, plat, robo.history)
	var ledger voice.Ledger
	if kv != nil {
		ledger = voice.NewKV(kv)
	}
	robo.voice = voice.New(plat, voice.Options{
		Lobbies:    cfg.Discord.Lobbies,
		NameFormat: cfg.Discord.ChannelName,
		Ledger:     ledger,
		Metrics:    met,
		Log:        slog.With(slog.String("component", "voice")),
	})
	sweep := cfg.Sweep.Rate
	robo.clear = autoclear.New(st.autoclear, plat, rate.NewLimiter(limit(sweep, 1), max(sweep.Num, 1)), met)
	robo.presence = presence.New(plat, cfg.Presence.Statuses)
	robo.cmd = &command.Robot{
		Log:        slog.With(slog.String("component", "command")),
		Mod:        plat,
		ModLog:     robo.modlog,
		Invites:    robo.ledger,
		Metrics:    met,
		AntiSpam:   st.antispam,
		AntiLinks:  st.antilinks,
		AutoClear:  st.autoclear,
		Logs:       st.logs,
		InvitesCfg: st.invites,
	}
	return robo, nil
}

// limit converts a rate configuration to a limit, using def events per
// second when it is unset.
func limit(r Rate, def rate.Limit) rate.Limit {
	if r.Every <= 0 || r.Num <= 0 {
		return def
	}
	return rate.Limit(float64(r.Num) / r.Every)
}

// Run connects to Discord and serves until ctx is canceled.
func (robo *Robot) Run(ctx context.Context) error {
	defer robo.close()
	if err := robo.voice.Restore(ctx); err != nil {
		slog.WarnContext(ctx, "continuing without restored voice channels", slog.Any("err", err))
	}
	robo.handlers(ctx)
	if err := robo.session.Open(); err != nil {
		return fmt.Errorf("couldn't connect to Discord: %w", err)
	}
	defer robo.session.Close()

	group, ctx := errgroup.WithContext(ctx)
	if robo.cfg.HTTP.Listen != "" {
		group.Go(func() error {
			return robo.api(ctx, robo.cfg.HTTP.Listen, http.NewServeMux(), robo.metrics.Collectors())
		})
	}
	group.Go(func() error {
		return guildcfg.Watch(ctx, robo.stores.watched()...)
	})
	group.Go(func() error {
		return robo.presence.Run(ctx, or(fseconds(robo.cfg.Presence.Interval), 10*time.Second))
	})
	group.Go(func() error {
		return robo.clear.Run(ctx, or(fseconds(robo.cfg.Sweep.AutoClear), time.Minute))
	})
	group.Go(func() error {
		robo.sweepVoice(ctx, or(fseconds(robo.cfg.Sweep.Voice), 5*time.Minute))
		return nil
	})
	err := group.Wait()
	if err == context.Canceled {
		// If the first error is context canceled, then we are shutting down
		// normally in response to a sigint.
		err = nil
	}
	return err
}

func (robo *Robot) sweepVoice(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			robo.voice.Sweep(ctx)
		}
	}
}

func (robo *Robot) close() {
	if err := robo.sql.Close(); err != nil {
		slog.Error("couldn't close sqlite db", slog.Any("err", err))
	}
	if robo.kv != nil {
		if err := robo.kv.Close(); err != nil {
			slog.Error("couldn't close voice ledger", slog.Any("err", err))
		}
	}
}

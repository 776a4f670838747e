package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/invites"
	"github.com/zephyrtronium/warden/metrics"
)

var app = cli.Command{
	Name:  "warden",
	Usage: "Discord moderation and community bot",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
	},
	Commands: []*cli.Command{
		{
			Name:   "check",
			Usage:  "Validate the configuration and guild settings files",
			Action: cliCheck,
		},
		{
			Name:  "invites",
			Usage: "Print a guild's invite leaderboard",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "guild",
					Usage:    "Guild ID",
					Required: true,
				},
				&cli.IntFlag{
					Name:  "n",
					Usage: "Number of inviters to show",
					Value: 10,
				},
			},
			Action: cliInvites,
		},
	},
	Action: cliRun,

	Authors: []any{
		"Branden J Brown  @zephyrtronium",
	},
	Copyright: "Copyright 2024 Branden J Brown",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
	}
}

func loadConfig(ctx context.Context, cmd *cli.Command) (*Config, error) {
	r, err := os.Open(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer r.Close()
	cfg, _, err := Load(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}
	return cfg, nil
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	robo, err := New(ctx, cfg, newMetrics())
	if err != nil {
		return err
	}
	return robo.Run(ctx)
}

func cliCheck(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	var bad error
	if cfg.Discord.Token == "" {
		bad = errors.Join(bad, errors.New("no Discord token"))
	}
	if cfg.Data.SQLite == "" {
		bad = errors.Join(bad, errors.New("no sqlite database"))
	}
	fmt.Printf("lobbies: %d\n", len(cfg.Discord.Lobbies))
	fmt.Printf("statuses: %d\n", len(cfg.Presence.Statuses))
	st := openStores(cfg.Data.Dir)
	bad = errors.Join(bad,
		checkStore(ctx, st.antispam),
		checkStore(ctx, st.antilinks),
		checkStore(ctx, st.autoclear),
		checkStore(ctx, st.logs),
		checkStore(ctx, st.invites),
	)
	return bad
}

// checkStore prints the number of guilds configured in a settings file.
func checkStore[T any](ctx context.Context, s *guildcfg.Store[T]) error {
	m, err := s.All(ctx)
	if err != nil {
		fmt.Printf("%s: %v\n", s.Path(), err)
		return fmt.Errorf("%s: %w", s.Path(), err)
	}
	fmt.Printf("%s: %d guilds\n", s.Path(), len(m))
	return nil
}

func cliInvites(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	kv, sql, err := loadDBs(ctx, cfg.Data)
	if err != nil {
		return err
	}
	defer sql.Close()
	if kv != nil {
		defer kv.Close()
	}
	lb, err := invites.Open(sql).Leaderboard(ctx, cmd.String("guild"), int(cmd.Int("n")))
	if err != nil {
		return err
	}
	for i, e := range lb {
		fmt.Printf("%d\t%s\t%d\n", i+1, e.Inviter, e.Count)
	}
	return nil
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Required:   true,
		Usage:      "TOML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	}
	return slog.New(h)
}

// metrics configuration
func newMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		MessagesCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "discord",
					Name:      "messages",
					Help:      "Number of guild messages received from Discord.",
				},
			),
		),
		SpamCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "filter",
					Name:      "spam",
					Help:      "Number of messages removed as spam.",
				},
			),
		),
		LinkCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "filter",
					Name:      "links",
					Help:      "Number of messages removed for disallowed links.",
				},
			),
		),
		CommandCount: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "commands",
					Name:      "invocations",
					Help:      "Number of slash command invocations.",
				},
				[]string{"command"},
			),
		),
		VoiceCreated: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "voice",
					Name:      "created",
					Help:      "Number of temporary voice channels created.",
				},
			),
		),
		VoiceDeleted: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "voice",
					Name:      "deleted",
					Help:      "Number of temporary voice channels deleted once empty.",
				},
			),
		),
		VoiceTransferred: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "voice",
					Name:      "transferred",
					Help:      "Number of temporary voice channel ownership transfers.",
				},
			),
		),
		PlatformErrors: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "discord",
					Name:      "errors",
					Help:      "Number of failed Discord API calls by operation.",
				},
				[]string{"op"},
			),
		),
		VoiceLatency: metrics.NewPromObserverVec(
			prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 5, 10},
					Namespace: "warden",
					Subsystem: "voice",
					Name:      "transition_latency",
					Help:      "How long it takes to handle a voice state change in seconds",
				},
				[]string{},
			),
		),
		ClearedCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "moderation",
					Name:      "cleared",
					Help:      "Number of messages deleted by clear commands and auto-clear.",
				},
			),
		),
	}
}

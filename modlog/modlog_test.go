package modlog_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/modlog"
)

type source struct {
	cfg modlog.Config
	err error
}

func (s source) Get(ctx context.Context, guild string) (modlog.Config, error) {
	return s.cfg, s.err
}

type sent struct {
	channel string
	embed   *discordgo.MessageEmbed
}

type sender struct {
	sent []sent
	err  error
}

func (s *sender) SendEmbed(ctx context.Context, channel string, embed *discordgo.MessageEmbed) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{channel, embed})
	return nil
}

type recorder struct {
	kinds []modlog.Kind
}

func (r *recorder) Record(ctx context.Context, e *modlog.Entry) error {
	r.kinds = append(r.kinds, e.Kind)
	return nil
}

func TestLog(t *testing.T) {
	cfg := modlog.Config{
		Enabled: true,
		Channels: modlog.Channels{
			Messages:   "L-msg",
			Moderation: "L-mod",
		},
		Filters: modlog.Filters{
			Channels: []string{"C-secret"},
			Users:    []string{"U-quiet"},
			Roles:    []string{"R-staff"},
		},
	}
	cases := []struct {
		name  string
		cfg   modlog.Config
		entry modlog.Entry
		want  string
	}{
		{
			name:  "delete",
			cfg:   cfg,
			entry: modlog.Entry{Kind: modlog.MessageDelete, Guild: "G", Channel: "C", User: "U", Content: "hi"},
			want:  "L-msg",
		},
		{
			name:  "ban",
			cfg:   cfg,
			entry: modlog.Entry{Kind: modlog.MemberBan, Guild: "G", User: "U", Moderator: "M"},
			want:  "L-mod",
		},
		{
			name:  "unconfigured",
			cfg:   cfg,
			entry: modlog.Entry{Kind: modlog.ConfigChanged, Guild: "G", Moderator: "M"},
			want:  "",
		},
		{
			name:  "disabled",
			cfg:   modlog.Config{Channels: cfg.Channels},
			entry: modlog.Entry{Kind: modlog.MessageDelete, Guild: "G", Channel: "C", User: "U"},
			want:  "",
		},
		{
			name:  "ignored-channel",
			cfg:   cfg,
			entry: modlog.Entry{Kind: modlog.MessageDelete, Guild: "G", Channel: "C-secret", User: "U"},
			want:  "",
		},
		{
			name:  "ignored-user",
			cfg:   cfg,
			entry: modlog.Entry{Kind: modlog.MessageEdit, Guild: "G", Channel: "C", User: "U-quiet"},
			want:  "",
		},
		{
			name:  "ignored-role",
			cfg:   cfg,
			entry: modlog.Entry{Kind: modlog.MessageEdit, Guild: "G", Channel: "C", User: "U", Roles: []string{"R", "R-staff"}},
			want:  "",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := new(sender)
			l := modlog.New(source{cfg: c.cfg}, s, nil)
			l.Log(context.Background(), &c.entry)
			switch {
			case c.want == "" && len(s.sent) != 0:
				t.Errorf("entry sent to %s", s.sent[0].channel)
			case c.want != "" && len(s.sent) != 1:
				t.Errorf("wrong number of sends: want 1, got %d", len(s.sent))
			case c.want != "" && s.sent[0].channel != c.want:
				t.Errorf("wrong channel: want %s, got %s", c.want, s.sent[0].channel)
			}
		})
	}
}

func TestLogRecords(t *testing.T) {
	ctx := context.Background()
	rec := new(recorder)
	// History is kept even when the config is broken and logs are off.
	l := modlog.New(source{err: errors.New("no")}, new(sender), rec)
	l.Log(ctx, &modlog.Entry{Kind: modlog.MessageDelete, Guild: "G"})
	l.Log(ctx, &modlog.Entry{Kind: modlog.MemberKick, Guild: "G"})
	l.Log(ctx, &modlog.Entry{Kind: modlog.MessagesCleared, Guild: "G"})
	want := []modlog.Kind{modlog.MemberKick, modlog.MessagesCleared}
	if diff := cmp.Diff(want, rec.kinds); diff != "" {
		t.Errorf("wrong recorded kinds (+got/-want):\n%s", diff)
	}
}

func TestLogSendFailure(t *testing.T) {
	s := &sender{err: errors.New("missing access")}
	cfg := modlog.Config{Enabled: true, Channels: modlog.Channels{Moderation: "L"}}
	l := modlog.New(source{cfg: cfg}, s, nil)
	// Must not panic or block.
	l.Log(context.Background(), &modlog.Entry{Kind: modlog.MemberBan, Guild: "G"})
}

func TestEmbed(t *testing.T) {
	tm := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := modlog.Entry{
		Kind:    modlog.MessageEdit,
		Channel: "C",
		User:    "U",
		Before:  "old",
		Content: "new",
		Message: "M1",
		Time:    tm,
	}
	want := &discordgo.MessageEmbed{
		Title:     "✏️ Message modifié",
		Color:     0x5865F2,
		Timestamp: "2024-05-01T12:00:00Z",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Auteur", Value: "<@U>", Inline: true},
			{Name: "Salon", Value: "<#C>", Inline: true},
			{Name: "Avant", Value: "old"},
			{Name: "Après", Value: "new"},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "ID: M1"},
	}
	if diff := cmp.Diff(want, modlog.Embed(&e)); diff != "" {
		t.Errorf("wrong embed (+got/-want):\n%s", diff)
	}

	ban := modlog.Embed(&modlog.Entry{Kind: modlog.MemberBan, User: "U", Time: tm})
	if got := ban.Fields[2].Value; got != "Aucune raison" {
		t.Errorf("wrong empty reason: %q", got)
	}
	if got := ban.Fields[1].Value; got != "Inconnu" {
		t.Errorf("wrong unknown moderator: %q", got)
	}

	long := modlog.Embed(&modlog.Entry{Kind: modlog.MessageDelete, Content: strings.Repeat("é", 2000), Time: tm})
	if n := len([]rune(long.Fields[2].Value)); n != 1024 {
		t.Errorf("wrong truncated length: want 1024, got %d", n)
	}
}

func TestKindCategory(t *testing.T) {
	cases := []struct {
		kind modlog.Kind
		want string
	}{
		{modlog.MessageDelete, "message"},
		{modlog.MemberSoftban, "moderation"},
		{modlog.ConfigChanged, "administration"},
		{"bare", "bare"},
	}
	for _, c := range cases {
		if got := c.kind.Category(); got != c.want {
			t.Errorf("wrong category for %s: want %q, got %q", c.kind, c.want, got)
		}
	}
}

var dbCount atomic.Int64

func testDB(ctx context.Context) *sqlitex.Pool {
	k := dbCount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:test-modlog-%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		panic(err)
	}
	if err := modlog.Init(ctx, pool); err != nil {
		panic(err)
	}
	return pool
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	db := testDB(ctx)
	defer db.Close()
	h := modlog.OpenHistory(db)
	entries := []modlog.Entry{
		{Kind: modlog.MemberKick, Guild: "G", User: "U", Moderator: "M", Reason: "rude", Time: time.Unix(1, 0)},
		{Kind: modlog.MemberBan, Guild: "G", User: "U", Moderator: "M", Reason: "ruder", Time: time.Unix(2, 0)},
		{Kind: modlog.MemberBan, Guild: "G", User: "V", Moderator: "M", Time: time.Unix(3, 0)},
		{Kind: modlog.MemberBan, Guild: "H", User: "U", Moderator: "N", Time: time.Unix(4, 0)},
	}
	for _, e := range entries {
		if err := h.Record(ctx, &e); err != nil {
			t.Fatalf("couldn't record: %v", err)
		}
	}
	got, err := h.Recent(ctx, "G", "U", 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []modlog.Entry{entries[1], entries[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong history (+got/-want):\n%s", diff)
	}
	got, err = h.Recent(ctx, "G", "U", 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[:1], got); diff != "" {
		t.Errorf("wrong limited history (+got/-want):\n%s", diff)
	}
}

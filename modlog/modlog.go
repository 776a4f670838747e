// Package modlog reports guild events to log channels.
package modlog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Config is a guild's event log configuration.
type Config struct {
	Enabled  bool     `json:"enabled"`
	Channels Channels `json:"channels"`
	Filters  Filters  `json:"filters"`
}

// Channels are the log channels for each category of events.
// Empty IDs disable logging of the category.
type Channels struct {
	Messages       string `json:"messages"`
	Moderation     string `json:"moderation"`
	Administration string `json:"administration"`
}

// Filters exclude events from logs.
type Filters struct {
	Channels []string `json:"ignored_channels"`
	Users    []string `json:"ignored_users"`
	Roles    []string `json:"ignored_roles"`
}

// DefaultConfig returns the configuration of a guild which has never
// configured event logs.
func DefaultConfig() Config {
	return Config{
		Filters: Filters{
			Channels: []string{},
			Users:    []string{},
			Roles:    []string{},
		},
	}
}

// Channel returns the log channel for a kind of event.
func (c *Config) Channel(k Kind) string {
	switch k.Category() {
	case "message":
		return c.Channels.Messages
	case "moderation":
		return c.Channels.Moderation
	case "administration":
		return c.Channels.Administration
	default:
		return ""
	}
}

// Ignores reports whether the filters exclude an entry.
func (c *Config) Ignores(e *Entry) bool {
	if e.Channel != "" && slices.Contains(c.Filters.Channels, e.Channel) {
		return true
	}
	if e.User != "" && slices.Contains(c.Filters.Users, e.User) {
		return true
	}
	for _, r := range e.Roles {
		if slices.Contains(c.Filters.Roles, r) {
			return true
		}
	}
	return false
}

// Kind is a kind of logged event. Its category is the part before the first
// dot.
type Kind string

const (
	MessageDelete   Kind = "message.delete"
	MessageEdit     Kind = "message.edit"
	MemberBan       Kind = "moderation.ban"
	MemberUnban     Kind = "moderation.unban"
	MemberKick      Kind = "moderation.kick"
	MemberSoftban   Kind = "moderation.softban"
	MessagesCleared Kind = "moderation.clear"
	ConfigChanged   Kind = "administration.config"
)

// Category returns the category of the kind.
func (k Kind) Category() string {
	c, _, _ := strings.Cut(string(k), ".")
	return c
}

// Entry is a logged event.
type Entry struct {
	Kind  Kind
	Guild string
	// Channel is the channel where the event happened, if any.
	Channel string
	// User is the user the event concerns: the author of a message, or the
	// target of a moderation action.
	User string
	// Roles is User's roles, if known.
	Roles     []string
	Moderator string
	Reason    string
	// Content is the content of a message. For edits, it is the new content.
	Content string
	// Before is the previous content of an edited message.
	Before string
	// Message is the ID of the message an event concerns.
	Message string
	// Count is the number of messages cleared.
	Count int
	// Detail is a free-form description for administration events.
	Detail string
	Time   time.Time
}

// Source provides guild configurations.
type Source interface {
	Get(ctx context.Context, guild string) (Config, error)
}

// Sender posts embeds to channels.
type Sender interface {
	SendEmbed(ctx context.Context, channel string, embed *discordgo.MessageEmbed) error
}

// Recorder keeps moderation history.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Logger sends entries to guilds' log channels.
type Logger struct {
	src  Source
	send Sender
	rec  Recorder
}

// New creates a logger. rec may be nil to keep no history.
func New(src Source, send Sender, rec Recorder) *Logger {
	return &Logger{src: src, send: send, rec: rec}
}

// Log records a moderation entry in the history, then sends the entry to the
// guild's log channel for its category unless logs are disabled, no channel
// is configured, or the guild's filters exclude it. Failures are logged.
func (l *Logger) Log(ctx context.Context, e *Entry) {
	log := slog.With(slog.String("guild", e.Guild), slog.String("kind", string(e.Kind)))
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if l.rec != nil && e.Kind.Category() == "moderation" {
		if err := l.rec.Record(ctx, e); err != nil {
			log.ErrorContext(ctx, "couldn't record moderation history", slog.Any("err", err))
		}
	}
	cfg, err := l.src.Get(ctx, e.Guild)
	if err != nil {
		log.WarnContext(ctx, "log config unavailable", slog.Any("err", err))
		return
	}
	if !cfg.Enabled || cfg.Ignores(e) {
		return
	}
	ch := cfg.Channel(e.Kind)
	if ch == "" {
		return
	}
	if err := l.send.SendEmbed(ctx, ch, Embed(e)); err != nil {
		log.ErrorContext(ctx, "couldn't send log entry", slog.String("channel", ch), slog.Any("err", err))
	}
}

const color = 0x5865F2

// Embed renders an entry.
func Embed(e *Entry) *discordgo.MessageEmbed {
	em := &discordgo.MessageEmbed{
		Color:     color,
		Timestamp: e.Time.Format(time.RFC3339),
	}
	switch e.Kind {
	case MessageDelete:
		em.Title = "🗑️ Message supprimé"
		em.Fields = []*discordgo.MessageEmbedField{
			{Name: "Auteur", Value: user(e.User), Inline: true},
			{Name: "Salon", Value: channel(e.Channel), Inline: true},
			{Name: "Contenu", Value: content(e.Content)},
		}
	case MessageEdit:
		em.Title = "✏️ Message modifié"
		em.Fields = []*discordgo.MessageEmbedField{
			{Name: "Auteur", Value: user(e.User), Inline: true},
			{Name: "Salon", Value: channel(e.Channel), Inline: true},
			{Name: "Avant", Value: content(e.Before)},
			{Name: "Après", Value: content(e.Content)},
		}
	case MemberBan, MemberKick, MemberSoftban:
		em.Title = map[Kind]string{
			MemberBan:     "🔨 Membre banni",
			MemberKick:    "👢 Membre expulsé",
			MemberSoftban: "🧹 Membre softban",
		}[e.Kind]
		em.Fields = []*discordgo.MessageEmbedField{
			{Name: "Utilisateur", Value: user(e.User), Inline: true},
			{Name: "Modérateur", Value: user(e.Moderator), Inline: true},
			{Name: "Raison", Value: reason(e.Reason)},
		}
	case MemberUnban:
		em.Title = "🔓 Membre débanni"
		em.Fields = []*discordgo.MessageEmbedField{
			{Name: "Utilisateur", Value: user(e.User), Inline: true},
			{Name: "Modérateur", Value: user(e.Moderator), Inline: true},
		}
	case MessagesCleared:
		em.Title = "🧽 Messages supprimés"
		em.Fields = []*discordgo.MessageEmbedField{
			{Name: "Salon", Value: channel(e.Channel), Inline: true},
			{Name: "Modérateur", Value: user(e.Moderator), Inline: true},
			{Name: "Nombre", Value: fmt.Sprint(e.Count), Inline: true},
		}
	default:
		em.Title = "⚙️ " + string(e.Kind)
		em.Description = e.Detail
		if e.Moderator != "" {
			em.Fields = []*discordgo.MessageEmbedField{{Name: "Modérateur", Value: user(e.Moderator), Inline: true}}
		}
	}
	switch {
	case e.Message != "":
		em.Footer = &discordgo.MessageEmbedFooter{Text: "ID: " + e.Message}
	case e.User != "":
		em.Footer = &discordgo.MessageEmbedFooter{Text: "ID: " + e.User}
	}
	return em
}

func user(id string) string {
	if id == "" {
		return "Inconnu"
	}
	return "<@" + id + ">"
}

func channel(id string) string {
	if id == "" {
		return "Inconnu"
	}
	return "<#" + id + ">"
}

// content formats message content for an embed field, which is limited to
// 1024 characters.
func content(s string) string {
	if s == "" {
		return "Aucun contenu"
	}
	if r := []rune(s); len(r) > 1024 {
		return string(r[:1021]) + "..."
	}
	return s
}

func reason(s string) string {
	if s == "" {
		return "Aucune raison"
	}
	return s
}

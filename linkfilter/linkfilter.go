// Package linkfilter detects links posted where a guild disallows them.
package linkfilter

import (
	"context"
	"log/slog"
	"regexp"
	"slices"

	"mvdan.cc/xurls/v2"
)

// Config is a guild's link filter configuration.
type Config struct {
	// Enabled indicates whether the guild filters links at all.
	Enabled bool `json:"enabled"`
	// Channels is the list of IDs of channels in which links are filtered.
	Channels []string `json:"active_channels"`
	// Roles is the list of IDs of roles whose members may post links.
	Roles []string `json:"whitelisted_roles"`
	// Users is the list of IDs of users who may post links.
	Users []string `json:"whitelisted_users"`
}

// DefaultConfig returns the configuration of a guild which has never
// configured the link filter.
func DefaultConfig() Config {
	return Config{
		Channels: []string{},
		Roles:    []string{},
		Users:    []string{},
	}
}

// Message is the part of a message relevant to link filtering.
type Message struct {
	Channel string
	Author  string
	// Roles is the author's role IDs.
	Roles   []string
	Content string
}

var urls = func() *regexp.Regexp {
	re, err := xurls.StrictMatchingScheme(`https?://`)
	if err != nil {
		panic(err)
	}
	return re
}()

// ContainsURL reports whether text contains an http or https URL.
func ContainsURL(text string) bool {
	return urls.MatchString(text)
}

// Whitelisted reports whether the configuration exempts a message's author.
func (c *Config) Whitelisted(msg *Message) bool {
	for _, r := range msg.Roles {
		if slices.Contains(c.Roles, r) {
			return true
		}
	}
	return slices.Contains(c.Users, msg.Author)
}

// Evaluate reports whether a message contains a link that the configuration
// disallows. Whitelisted authors are never checked for links.
func Evaluate(cfg *Config, msg *Message) bool {
	if !cfg.Enabled || !slices.Contains(cfg.Channels, msg.Channel) {
		return false
	}
	if cfg.Whitelisted(msg) {
		return false
	}
	return ContainsURL(msg.Content)
}

// Source provides guild configurations.
type Source interface {
	Get(ctx context.Context, guild string) (Config, error)
}

// Filter applies guild link filter configurations to messages.
type Filter struct {
	src Source
}

// New creates a filter reading guild configurations from src.
func New(src Source) *Filter {
	return &Filter{src: src}
}

// Check reports whether a message in a guild contains a disallowed link.
// If the guild's configuration cannot be loaded, the message is allowed.
func (f *Filter) Check(ctx context.Context, guild string, msg *Message) bool {
	cfg, err := f.src.Get(ctx, guild)
	if err != nil {
		slog.WarnContext(ctx, "link filter config unavailable; allowing message",
			slog.String("guild", guild),
			slog.Any("err", err),
		)
		return false
	}
	return Evaluate(&cfg, msg)
}

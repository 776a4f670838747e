package command

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/zephyrtronium/warden/antispam"
	"github.com/zephyrtronium/warden/autoclear"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/linkfilter"
	"github.com/zephyrtronium/warden/modlog"
)

// admin checks that the invoker administers the guild. If not, it responds
// and returns false.
func admin(ctx context.Context, robo *Robot, call *Invocation) bool {
	if allowed(call, discordgo.PermissionAdministrator) {
		return true
	}
	reply(ctx, robo, call, true, "❌ Cette commande est réservée aux administrateurs et au propriétaire du serveur.")
	return false
}

// update applies an edit to a guild's configuration in a store, records the
// change in the guild's logs, and responds with the edit's description.
func update[T any](ctx context.Context, robo *Robot, call *Invocation, store *guildcfg.Store[T], name string, edit func(*T) string) {
	var desc string
	_, err := store.Update(ctx, call.Guild, func(c *T) { desc = edit(c) })
	if err != nil {
		robo.Log.ErrorContext(ctx, "couldn't update guild config",
			slog.String("guild", call.Guild),
			slog.String("config", name),
			slog.Any("err", err),
		)
		reply(ctx, robo, call, true, "❌ Impossible d'enregistrer la configuration")
		return
	}
	robo.ModLog.Log(ctx, &modlog.Entry{
		Kind:      modlog.ConfigChanged,
		Guild:     call.Guild,
		Channel:   call.Channel,
		Moderator: call.Invoker,
		Detail:    name + " : " + desc,
	})
	reply(ctx, robo, call, true, "✅ %s", desc)
}

// show responds with a guild's configuration in a store.
func show[T any](ctx context.Context, robo *Robot, call *Invocation, store *guildcfg.Store[T], render func(*T) string) {
	cfg, err := store.Get(ctx, call.Guild)
	if err != nil {
		robo.Log.WarnContext(ctx, "couldn't load guild config", slog.String("guild", call.Guild), slog.Any("err", err))
	}
	reply(ctx, robo, call, true, "%s", render(&cfg))
}

// toggle adds id to list if it is absent and removes it otherwise.
// The result never shares memory with list, which other goroutines may be
// reading through a cached config.
func toggle(list []string, id string) ([]string, bool) {
	if k := slices.Index(list, id); k >= 0 {
		r := make([]string, 0, len(list)-1)
		return append(append(r, list[:k]...), list[k+1:]...), false
	}
	return append(slices.Clip(list), id), true
}

func toggled(added bool, what string) string {
	if added {
		return what + " ajouté"
	}
	return what + " retiré"
}

func status(on bool) string {
	if on {
		return "🟢 Activé"
	}
	return "🔴 Désactivé"
}

func enabled(on bool) string {
	if on {
		return "activé"
	}
	return "désactivé"
}

func mentions(prefix string, ids []string) string {
	if len(ids) == 0 {
		return "aucun"
	}
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prefix + id + ">")
	}
	return b.String()
}

func mention(prefix, id string) string {
	if id == "" {
		return "non configuré"
	}
	return prefix + id + ">"
}

// positive parses a positive integer argument.
func positive(call *Invocation, name string) (int, bool) {
	n, err := strconv.Atoi(call.Args[name])
	return n, err == nil && n > 0
}

// AntiSpam configures anti-spam.
func AntiSpam(ctx context.Context, robo *Robot, call *Invocation) {
	if !admin(ctx, robo, call) {
		return
	}
	store := robo.AntiSpam
	switch call.Sub {
	case "enable", "disable":
		on := call.Sub == "enable"
		update(ctx, robo, call, store, "antispam", func(c *antispam.Config) string {
			c.Enabled = on
			return "Anti-spam " + enabled(on)
		})
	case "channel":
		ch := call.Args["channel"]
		update(ctx, robo, call, store, "antispam", func(c *antispam.Config) string {
			var added bool
			c.Channels, added = toggle(c.Channels, ch)
			return toggled(added, "Salon <#"+ch+">")
		})
	case "limit":
		n, ok1 := positive(call, "messages")
		w, ok2 := positive(call, "seconds")
		if !ok1 || !ok2 {
			reply(ctx, robo, call, true, "❌ Les valeurs doivent être des entiers positifs")
			return
		}
		update(ctx, robo, call, store, "antispam", func(c *antispam.Config) string {
			c.MaxMessages, c.Window = n, w
			return fmt.Sprintf("Limite : %d messages en %d secondes", n, w)
		})
	default:
		show(ctx, robo, call, store, func(c *antispam.Config) string {
			return fmt.Sprintf("**Anti-spam** %s\nLimite : %d messages en %d secondes\nSalons : %s",
				status(c.Enabled), c.MaxMessages, c.Window, mentions("<#", c.Channels))
		})
	}
}

// AntiLinks configures the link filter.
func AntiLinks(ctx context.Context, robo *Robot, call *Invocation) {
	if !admin(ctx, robo, call) {
		return
	}
	store := robo.AntiLinks
	switch call.Sub {
	case "enable", "disable":
		on := call.Sub == "enable"
		update(ctx, robo, call, store, "antilinks", func(c *linkfilter.Config) string {
			c.Enabled = on
			return "Anti-liens " + enabled(on)
		})
	case "channel":
		ch := call.Args["channel"]
		update(ctx, robo, call, store, "antilinks", func(c *linkfilter.Config) string {
			var added bool
			c.Channels, added = toggle(c.Channels, ch)
			return toggled(added, "Salon <#"+ch+">")
		})
	case "role":
		r := call.Args["role"]
		update(ctx, robo, call, store, "antilinks", func(c *linkfilter.Config) string {
			var added bool
			c.Roles, added = toggle(c.Roles, r)
			return toggled(added, "Rôle autorisé <@&"+r+">")
		})
	case "user":
		u := call.Args["user"]
		update(ctx, robo, call, store, "antilinks", func(c *linkfilter.Config) string {
			var added bool
			c.Users, added = toggle(c.Users, u)
			return toggled(added, "Utilisateur autorisé <@"+u+">")
		})
	default:
		show(ctx, robo, call, store, func(c *linkfilter.Config) string {
			return fmt.Sprintf("**Anti-liens** %s\nSalons : %s\nRôles autorisés : %s\nUtilisateurs autorisés : %s",
				status(c.Enabled), mentions("<#", c.Channels), mentions("<@&", c.Roles), mentions("<@", c.Users))
		})
	}
}

// AutoClear configures automatic clearing.
func AutoClear(ctx context.Context, robo *Robot, call *Invocation) {
	if !admin(ctx, robo, call) {
		return
	}
	store := robo.AutoClear
	switch call.Sub {
	case "channel":
		ch := call.Args["channel"]
		update(ctx, robo, call, store, "autoclear", func(c *autoclear.Config) string {
			var added bool
			c.Channels, added = toggle(c.Channels, ch)
			return toggled(added, "Salon <#"+ch+">")
		})
	case "delay":
		d, ok := positive(call, "seconds")
		if !ok {
			reply(ctx, robo, call, true, "❌ Le délai doit être un entier positif")
			return
		}
		update(ctx, robo, call, store, "autoclear", func(c *autoclear.Config) string {
			c.Delay = d
			return fmt.Sprintf("Délai : %d secondes", d)
		})
	default:
		show(ctx, robo, call, store, func(c *autoclear.Config) string {
			return fmt.Sprintf("**AutoClear**\nDélai : %d secondes\nSalons : %s", c.Delay, mentions("<#", c.Channels))
		})
	}
}

// Logs configures event logs.
func Logs(ctx context.Context, robo *Robot, call *Invocation) {
	if !admin(ctx, robo, call) {
		return
	}
	store := robo.Logs
	switch call.Sub {
	case "enable", "disable":
		on := call.Sub == "enable"
		update(ctx, robo, call, store, "logs", func(c *modlog.Config) string {
			c.Enabled = on
			return "Logs " + enabled(on)
		})
	case "channel":
		cat, ch := call.Args["category"], call.Args["channel"]
		var dst func(*modlog.Config) *string
		switch cat {
		case "messages":
			dst = func(c *modlog.Config) *string { return &c.Channels.Messages }
		case "moderation":
			dst = func(c *modlog.Config) *string { return &c.Channels.Moderation }
		case "administration":
			dst = func(c *modlog.Config) *string { return &c.Channels.Administration }
		default:
			reply(ctx, robo, call, true, "❌ Catégorie inconnue")
			return
		}
		update(ctx, robo, call, store, "logs", func(c *modlog.Config) string {
			*dst(c) = ch
			return "Salon " + cat + " : " + mention("<#", ch)
		})
	case "ignore":
		var done []string
		update(ctx, robo, call, store, "logs", func(c *modlog.Config) string {
			var added bool
			if ch := call.Args["channel"]; ch != "" {
				c.Filters.Channels, added = toggle(c.Filters.Channels, ch)
				done = append(done, toggled(added, "Salon ignoré <#"+ch+">"))
			}
			if u := call.Args["user"]; u != "" {
				c.Filters.Users, added = toggle(c.Filters.Users, u)
				done = append(done, toggled(added, "Utilisateur ignoré <@"+u+">"))
			}
			if r := call.Args["role"]; r != "" {
				c.Filters.Roles, added = toggle(c.Filters.Roles, r)
				done = append(done, toggled(added, "Rôle ignoré <@&"+r+">"))
			}
			if len(done) == 0 {
				return "Aucun changement"
			}
			return strings.Join(done, ", ")
		})
	default:
		show(ctx, robo, call, store, func(c *modlog.Config) string {
			return fmt.Sprintf("**Logs** %s\nMessages : %s\nModération : %s\nAdministration : %s\nSalons ignorés : %s\nUtilisateurs ignorés : %s\nRôles ignorés : %s",
				status(c.Enabled),
				mention("<#", c.Channels.Messages),
				mention("<#", c.Channels.Moderation),
				mention("<#", c.Channels.Administration),
				mentions("<#", c.Filters.Channels),
				mentions("<@", c.Filters.Users),
				mentions("<@&", c.Filters.Roles),
			)
		})
	}
}

package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zephyrtronium/warden/invites"
)

// Invites shows the invite leaderboard or configures invite tracking.
func Invites(ctx context.Context, robo *Robot, call *Invocation) {
	store := robo.InvitesCfg
	switch call.Sub {
	case "enable", "disable":
		if !admin(ctx, robo, call) {
			return
		}
		on := call.Sub == "enable"
		update(ctx, robo, call, store, "invites", func(c *invites.Config) string {
			c.Enabled = on
			return "Suivi des invitations " + enabled(on)
		})
	case "joins", "leaves":
		if !admin(ctx, robo, call) {
			return
		}
		ch := call.Args["channel"]
		update(ctx, robo, call, store, "invites", func(c *invites.Config) string {
			if call.Sub == "joins" {
				c.Channels.Joins = ch
				return "Salon des arrivées : " + mention("<#", ch)
			}
			c.Channels.Leaves = ch
			return "Salon des départs : " + mention("<#", ch)
		})
	default:
		lb, err := robo.Invites.Leaderboard(ctx, call.Guild, 10)
		if err != nil {
			robo.Log.ErrorContext(ctx, "couldn't get invite leaderboard", slog.String("guild", call.Guild), slog.Any("err", err))
			reply(ctx, robo, call, true, "❌ Impossible de lire le classement")
			return
		}
		reply(ctx, robo, call, false, "%s", Leaderboard(lb))
	}
}

// Leaderboard renders an invite leaderboard.
func Leaderboard(lb []invites.Entry) string {
	if len(lb) == 0 {
		return "Aucune donnée d'invitation disponible."
	}
	var b strings.Builder
	b.WriteString("🏆 **Classement des invitations**")
	for i, e := range lb {
		fmt.Fprintf(&b, "\n%d. <@%s> : %s", i+1, e.Inviter, Plural(e.Count, "invitation"))
	}
	return b.String()
}

// Plural formats a count of a noun which takes a plain s in the plural.
func Plural(n int, noun string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss", n, noun)
	}
	return fmt.Sprintf("%d %s", n, noun)
}

package command

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/zephyrtronium/warden/modlog"
)

// target checks that the invoker may act on the member named in the
// invocation and returns the member's ID. If not, it responds and returns
// the empty string.
func target(ctx context.Context, robo *Robot, call *Invocation, perm int64, verb string) string {
	if !allowed(call, perm) {
		reply(ctx, robo, call, true, "❌ Permission manquante")
		return ""
	}
	user := call.Args["member"]
	if user == "" {
		reply(ctx, robo, call, true, "❌ Membre manquant")
		return ""
	}
	if user == call.Invoker {
		reply(ctx, robo, call, true, "❌ Vous ne pouvez pas vous %s vous-même", verb)
		return ""
	}
	ok, err := robo.Mod.Outranks(ctx, call.Guild, call.Invoker, user)
	if err != nil {
		robo.Log.ErrorContext(ctx, "couldn't compare roles", slog.String("guild", call.Guild), slog.Any("err", err))
		reply(ctx, robo, call, true, "❌ Impossible de vérifier les rôles")
		return ""
	}
	if !ok {
		reply(ctx, robo, call, true, "❌ Vous ne pouvez pas %s ce membre", verb)
		return ""
	}
	return user
}

func Ban(ctx context.Context, robo *Robot, call *Invocation) {
	user := target(ctx, robo, call, discordgo.PermissionBanMembers, "bannir")
	if user == "" {
		return
	}
	reason := call.Args["reason"]
	acknowledge(ctx, robo, call, false)
	if err := robo.Mod.Ban(ctx, call.Guild, user, reason, 0); err != nil {
		robo.Log.ErrorContext(ctx, "ban failed", slog.String("guild", call.Guild), slog.String("user", user), slog.Any("err", err))
		reply(ctx, robo, call, true, "❌ Le bannissement a échoué")
		return
	}
	robo.ModLog.Log(ctx, &modlog.Entry{Kind: modlog.MemberBan, Guild: call.Guild, Channel: call.Channel, User: user, Moderator: call.Invoker, Reason: reason})
	reply(ctx, robo, call, false, "🔨 <@%s> a été banni par <@%s>.%s", user, call.Invoker, because(reason))
}

func Kick(ctx context.Context, robo *Robot, call *Invocation) {
	user := target(ctx, robo, call, discordgo.PermissionKickMembers, "expulser")
	if user == "" {
		return
	}
	reason := call.Args["reason"]
	if err := robo.Mod.Kick(ctx, call.Guild, user, reason); err != nil {
		robo.Log.ErrorContext(ctx, "kick failed", slog.String("guild", call.Guild), slog.String("user", user), slog.Any("err", err))
		reply(ctx, robo, call, true, "❌ L'expulsion a échoué")
		return
	}
	robo.ModLog.Log(ctx, &modlog.Entry{Kind: modlog.MemberKick, Guild: call.Guild, Channel: call.Channel, User: user, Moderator: call.Invoker, Reason: reason})
	reply(ctx, robo, call, false, "👢 <@%s> a été expulsé par <@%s>.%s", user, call.Invoker, because(reason))
}

// Softban bans a member to delete their last day of messages, then unbans
// them so that they may rejoin.
func Softban(ctx context.Context, robo *Robot, call *Invocation) {
	user := target(ctx, robo, call, discordgo.PermissionBanMembers, "softban")
	if user == "" {
		return
	}
	reason := call.Args["reason"]
	acknowledge(ctx, robo, call, false)
	if err := robo.Mod.Ban(ctx, call.Guild, user, reason, 1); err != nil {
		robo.Log.ErrorContext(ctx, "softban failed", slog.String("guild", call.Guild), slog.String("user", user), slog.Any("err", err))
		reply(ctx, robo, call, true, "❌ Le softban a échoué")
		return
	}
	if err := robo.Mod.Unban(ctx, call.Guild, user); err != nil {
		// The member stays banned. Say so rather than pretending.
		robo.Log.ErrorContext(ctx, "softban unban failed", slog.String("guild", call.Guild), slog.String("user", user), slog.Any("err", err))
		robo.ModLog.Log(ctx, &modlog.Entry{Kind: modlog.MemberBan, Guild: call.Guild, Channel: call.Channel, User: user, Moderator: call.Invoker, Reason: reason})
		reply(ctx, robo, call, true, "⚠️ <@%s> a été banni mais n'a pas pu être débanni", user)
		return
	}
	robo.ModLog.Log(ctx, &modlog.Entry{Kind: modlog.MemberSoftban, Guild: call.Guild, Channel: call.Channel, User: user, Moderator: call.Invoker, Reason: reason})
	reply(ctx, robo, call, false, "🔄 Softban de <@%s> effectué par <@%s>.%s", user, call.Invoker, because(reason))
}

func Clear(ctx context.Context, robo *Robot, call *Invocation) {
	if !allowed(call, discordgo.PermissionManageMessages) {
		reply(ctx, robo, call, true, "❌ Permission manquante")
		return
	}
	n, err := strconv.Atoi(call.Args["amount"])
	if err != nil || n < 1 || n > 100 {
		reply(ctx, robo, call, true, "❌ Le nombre doit être entre 1 et 100")
		return
	}
	// Messages too old for bulk deletion go one request at a time.
	acknowledge(ctx, robo, call, true)
	k, err := robo.Mod.Purge(ctx, call.Channel, n)
	if err != nil {
		robo.Log.ErrorContext(ctx, "purge failed",
			slog.String("guild", call.Guild),
			slog.String("channel", call.Channel),
			slog.Int("deleted", k),
			slog.Any("err", err),
		)
		if k == 0 {
			reply(ctx, robo, call, true, "❌ La suppression a échoué")
			return
		}
	}
	robo.Metrics.ClearedCount.Observe(float64(k))
	robo.ModLog.Log(ctx, &modlog.Entry{Kind: modlog.MessagesCleared, Guild: call.Guild, Channel: call.Channel, Moderator: call.Invoker, Count: k})
	reply(ctx, robo, call, true, "🧹 %d messages supprimés sur %d demandés", k, n)
}

func because(reason string) string {
	if reason == "" {
		return ""
	}
	return " Raison : " + reason
}

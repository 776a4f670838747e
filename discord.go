package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/linkfilter"
	"github.com/zephyrtronium/warden/modlog"
	"github.com/zephyrtronium/warden/voice"
)

const (
	// noticeLifetime is how long warnings stay in chat.
	noticeLifetime = 5 * time.Second
	// auditWindow is how recent an audit log entry must be to explain an
	// event.
	auditWindow = 2 * time.Second
)

// handlers registers event handlers on the session.
func (robo *Robot) handlers(ctx context.Context) {
	s := robo.session
	s.AddHandler(func(s *discordgo.Session, e *discordgo.Ready) {
		robo.onReady(ctx, e)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.GuildCreate) {
		if err := robo.tracker.Cache(ctx, e.ID); err != nil {
			slog.WarnContext(ctx, "couldn't cache invites", slog.String("guild", e.ID), slog.Any("err", err))
		}
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.GuildDelete) {
		robo.tracker.Forget(e.ID)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.MessageCreate) {
		robo.onMessage(ctx, e)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.MessageUpdate) {
		robo.onMessageUpdate(ctx, e)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.MessageDelete) {
		robo.onMessageDelete(ctx, e)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		robo.onVoice(ctx, e)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.InteractionCreate) {
		robo.onInteraction(ctx, e)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
		robo.onJoin(ctx, e)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.GuildMemberRemove) {
		robo.onLeave(ctx, e)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.GuildBanAdd) {
		robo.onBan(ctx, e.GuildID, e.User, modlog.MemberBan, discordgo.AuditLogActionMemberBanAdd)
	})
	s.AddHandler(func(s *discordgo.Session, e *discordgo.GuildBanRemove) {
		robo.onBan(ctx, e.GuildID, e.User, modlog.MemberUnban, discordgo.AuditLogActionMemberBanRemove)
	})
}

func (robo *Robot) onReady(ctx context.Context, e *discordgo.Ready) {
	slog.InfoContext(ctx, "connected to Discord",
		slog.String("user", e.User.Username),
		slog.Int("guilds", len(e.Guilds)),
	)
	// Register as global commands unless a test guild is configured.
	_, err := robo.session.ApplicationCommandBulkOverwrite(e.Application.ID, robo.cfg.Discord.Guild, command.Definitions())
	if err != nil {
		slog.ErrorContext(ctx, "couldn't update slash commands", slog.Any("err", err))
	}
}

func (robo *Robot) onMessage(ctx context.Context, e *discordgo.MessageCreate) {
	// Ignore messages sent by bots and outside guilds.
	if e.Author == nil || e.Author.Bot || e.GuildID == "" {
		return
	}
	robo.metrics.MessagesCount.Observe(1)
	log := slog.With(slog.String("trace", e.ID), slog.String("guild", e.GuildID), slog.String("channel", e.ChannelID))
	msg := linkfilter.Message{
		Channel: e.ChannelID,
		Author:  e.Author.ID,
		Content: e.Content,
	}
	if e.Member != nil {
		msg.Roles = e.Member.Roles
	}
	if robo.links.Check(ctx, e.GuildID, &msg) {
		log.InfoContext(ctx, "link removed", slog.String("author", e.Author.ID))
		robo.metrics.LinkCount.Observe(1)
		robo.remove(ctx, log, e.Message, "🔗 <@%s>, les liens ne sont pas autorisés dans ce salon.")
		return
	}
	if robo.spam.Evaluate(ctx, e.GuildID, e.ChannelID, e.Author.ID, e.Timestamp) {
		log.InfoContext(ctx, "spam removed", slog.String("author", e.Author.ID))
		robo.metrics.SpamCount.Observe(1)
		robo.remove(ctx, log, e.Message, "⚠️ <@%s>, merci de ne pas spammer !")
	}
}

// remove deletes a message and warns its author, unless warnings in the
// channel are currently rate limited. The warning deletes itself.
func (robo *Robot) remove(ctx context.Context, log *slog.Logger, m *discordgo.Message, format string) {
	if err := robo.plat.Delete(ctx, m.ChannelID, m.ID); err != nil {
		log.ErrorContext(ctx, "couldn't delete message", slog.Any("err", err))
		robo.metrics.PlatformErrors.Observe(1, "delete")
		return
	}
	lim, _ := robo.notices.LoadOrStore(m.ChannelID, func() *rate.Limiter {
		n := robo.cfg.Notice
		return rate.NewLimiter(limit(n, 0.2), max(n.Num, 1))
	})
	if !lim.Allow() {
		log.DebugContext(ctx, "warning rate limited")
		return
	}
	w, err := robo.session.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content: fmt.Sprintf(format, m.Author.ID),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Users: []string{m.Author.ID},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		log.ErrorContext(ctx, "couldn't send warning", slog.Any("err", err))
		robo.metrics.PlatformErrors.Observe(1, "send")
		return
	}
	time.AfterFunc(noticeLifetime, func() {
		if err := robo.session.ChannelMessageDelete(w.ChannelID, w.ID); err != nil {
			log.WarnContext(ctx, "couldn't delete warning", slog.Any("err", err))
		}
	})
}

func (robo *Robot) onMessageUpdate(ctx context.Context, e *discordgo.MessageUpdate) {
	old := e.BeforeUpdate
	if old == nil || e.Author == nil || e.Author.Bot || e.GuildID == "" || old.Content == e.Content {
		return
	}
	entry := modlog.Entry{
		Kind:    modlog.MessageEdit,
		Guild:   e.GuildID,
		Channel: e.ChannelID,
		User:    e.Author.ID,
		Content: e.Content,
		Before:  old.Content,
		Message: e.ID,
	}
	if e.Member != nil {
		entry.Roles = e.Member.Roles
	}
	robo.modlog.Log(ctx, &entry)
}

func (robo *Robot) onMessageDelete(ctx context.Context, e *discordgo.MessageDelete) {
	// Only messages in the state's cache have known content.
	old := e.BeforeDelete
	if old == nil || old.Author == nil || old.Author.Bot || e.GuildID == "" {
		return
	}
	entry := modlog.Entry{
		Kind:    modlog.MessageDelete,
		Guild:   e.GuildID,
		Channel: e.ChannelID,
		User:    old.Author.ID,
		Content: old.Content,
		Message: e.ID,
	}
	if old.Member != nil {
		entry.Roles = old.Member.Roles
	}
	robo.modlog.Log(ctx, &entry)
}

func (robo *Robot) onVoice(ctx context.Context, e *discordgo.VoiceStateUpdate) {
	tr := voice.Transition{
		Guild:  e.GuildID,
		Member: voice.Member{ID: e.UserID},
		After:  e.ChannelID,
	}
	if e.BeforeUpdate != nil {
		tr.Before = e.BeforeUpdate.ChannelID
	}
	if e.Member != nil {
		tr.Member.Name = displayName(e.Member)
	}
	if tr.Member.Name == "" {
		tr.Member.Name = robo.plat.name(e.GuildID, e.UserID)
	}
	robo.voice.HandleVoiceStateChange(ctx, tr)
}

func (robo *Robot) onInteraction(ctx context.Context, e *discordgo.InteractionCreate) {
	if e.Type != discordgo.InteractionApplicationCommand || e.GuildID == "" || e.Member == nil || e.Member.User == nil {
		return
	}
	data := e.ApplicationCommandData()
	log := slog.With(
		slog.String("trace", uuid.NewString()),
		slog.String("guild", e.GuildID),
		slog.String("command", data.Name),
	)
	f := command.Lookup(data.Name)
	if f == nil {
		log.WarnContext(ctx, "unknown command")
		return
	}
	robo.metrics.CommandCount.Observe(1, data.Name)
	call := command.Invocation{
		Guild:   e.GuildID,
		Channel: e.ChannelID,
		Invoker: e.Member.User.ID,
		Perms:   e.Member.Permissions,
		Resp:    &responder{s: robo.session, i: e.Interaction},
	}
	if g, err := robo.session.State.Guild(e.GuildID); err == nil {
		call.Owner = g.OwnerID == call.Invoker
	}
	call.Sub, call.Args = arguments(data.Options)
	log.InfoContext(ctx, "command",
		slog.String("invoker", call.Invoker),
		slog.String("sub", call.Sub),
		slog.Any("args", call.Args),
	)
	cr := *robo.cmd
	cr.Log = log
	f(ctx, &cr, &call)
}

// arguments flattens command options into a subcommand name and arguments
// keyed by option name.
func arguments(opts []*discordgo.ApplicationCommandInteractionDataOption) (string, map[string]string) {
	var sub string
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		sub = opts[0].Name
		opts = opts[0].Options
	}
	args := make(map[string]string, len(opts))
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionInteger:
			args[o.Name] = strconv.FormatInt(o.IntValue(), 10)
		case discordgo.ApplicationCommandOptionBoolean:
			args[o.Name] = strconv.FormatBool(o.BoolValue())
		default:
			// Strings, and IDs of users, channels, and roles.
			args[o.Name] = fmt.Sprint(o.Value)
		}
	}
	return sub, args
}

func (robo *Robot) onJoin(ctx context.Context, e *discordgo.GuildMemberAdd) {
	if e.User == nil || e.User.Bot {
		return
	}
	log := slog.With(slog.String("guild", e.GuildID), slog.String("member", e.User.ID))
	robo.welcome(ctx, log, e.GuildID, e.User.ID)
	cfg, err := robo.stores.invites.Get(ctx, e.GuildID)
	if err != nil {
		log.WarnContext(ctx, "invite config unavailable", slog.Any("err", err))
		return
	}
	if !cfg.Enabled {
		return
	}
	inviter, err := robo.tracker.FindInviter(ctx, e.GuildID)
	if err != nil {
		log.WarnContext(ctx, "couldn't determine inviter", slog.Any("err", err))
	}
	if inviter == "" {
		robo.say(ctx, log, cfg.Channels.Joins, fmt.Sprintf("📥 <@%s> a rejoint le serveur.", e.User.ID))
		return
	}
	n, err := robo.ledger.Join(ctx, e.GuildID, e.User.ID, inviter)
	if err != nil {
		log.ErrorContext(ctx, "couldn't record invite", slog.String("inviter", inviter), slog.Any("err", err))
		return
	}
	log.InfoContext(ctx, "member invited", slog.String("inviter", inviter), slog.Int("count", n))
	robo.say(ctx, log, cfg.Channels.Joins, fmt.Sprintf("📥 <@%s> a rejoint le serveur, invité par <@%s> (%s).", e.User.ID, inviter, command.Plural(n, "invitation")))
}

// welcome sends the welcome message to a new member.
func (robo *Robot) welcome(ctx context.Context, log *slog.Logger, guild, user string) {
	text := robo.cfg.Welcome.Message
	if text == "" {
		return
	}
	name := guild
	if g, err := robo.session.State.Guild(guild); err == nil {
		name = g.Name
	}
	text = strings.NewReplacer("{user}", "<@"+user+">", "{guild}", name).Replace(text)
	dm, err := robo.session.UserChannelCreate(user, discordgo.WithContext(ctx))
	if err != nil {
		log.WarnContext(ctx, "couldn't open DM", slog.Any("err", err))
		return
	}
	if _, err := robo.session.ChannelMessageSend(dm.ID, text, discordgo.WithContext(ctx)); err != nil {
		// Commonly members who disallow DMs from guild members.
		log.WarnContext(ctx, "couldn't send welcome message", slog.Any("err", err))
	}
}

func (robo *Robot) onLeave(ctx context.Context, e *discordgo.GuildMemberRemove) {
	if e.User == nil || e.User.Bot {
		return
	}
	log := slog.With(slog.String("guild", e.GuildID), slog.String("member", e.User.ID))
	if a := robo.audit(ctx, log, e.GuildID, e.User.ID, discordgo.AuditLogActionMemberKick); a != nil && !robo.self(a) {
		robo.modlog.Log(ctx, &modlog.Entry{
			Kind:      modlog.MemberKick,
			Guild:     e.GuildID,
			User:      e.User.ID,
			Moderator: a.UserID,
			Reason:    a.Reason,
		})
	}
	cfg, err := robo.stores.invites.Get(ctx, e.GuildID)
	if err != nil {
		log.WarnContext(ctx, "invite config unavailable", slog.Any("err", err))
		return
	}
	if !cfg.Enabled {
		return
	}
	inviter, n, err := robo.ledger.Leave(ctx, e.GuildID, e.User.ID)
	if err != nil {
		log.ErrorContext(ctx, "couldn't record departure", slog.Any("err", err))
		return
	}
	if inviter == "" {
		robo.say(ctx, log, cfg.Channels.Leaves, fmt.Sprintf("📤 <@%s> a quitté le serveur.", e.User.ID))
		return
	}
	robo.say(ctx, log, cfg.Channels.Leaves, fmt.Sprintf("📤 <@%s> a quitté le serveur. Il avait été invité par <@%s> (%s).", e.User.ID, inviter, command.Plural(n, "invitation")))
}

func (robo *Robot) onBan(ctx context.Context, guild string, user *discordgo.User, kind modlog.Kind, action discordgo.AuditLogAction) {
	if user == nil {
		return
	}
	log := slog.With(slog.String("guild", guild), slog.String("member", user.ID))
	entry := modlog.Entry{Kind: kind, Guild: guild, User: user.ID}
	if a := robo.audit(ctx, log, guild, user.ID, action); a != nil {
		if robo.self(a) {
			// Our own action, already logged by its command.
			return
		}
		entry.Moderator, entry.Reason = a.UserID, a.Reason
	}
	robo.modlog.Log(ctx, &entry)
}

// self reports whether the bot performed an audited action.
func (robo *Robot) self(a *discordgo.AuditLogEntry) bool {
	return robo.session.State.User != nil && a.UserID == robo.session.State.User.ID
}

// audit finds an audit log entry of an action on a target made within the
// last auditWindow.
func (robo *Robot) audit(ctx context.Context, log *slog.Logger, guild, target string, action discordgo.AuditLogAction) *discordgo.AuditLogEntry {
	al, err := robo.session.GuildAuditLog(guild, "", "", int(action), 5, discordgo.WithContext(ctx))
	if err != nil {
		log.WarnContext(ctx, "couldn't read audit log", slog.Any("err", err))
		return nil
	}
	for _, a := range al.AuditLogEntries {
		if a.TargetID != target {
			continue
		}
		t, err := discordgo.SnowflakeTimestamp(a.ID)
		if err != nil || time.Since(t) > auditWindow {
			continue
		}
		return a
	}
	return nil
}

// say sends a notice to a channel. It does nothing if channel is empty.
func (robo *Robot) say(ctx context.Context, log *slog.Logger, channel, content string) {
	if channel == "" {
		return
	}
	_, err := robo.session.ChannelMessageSendComplex(channel, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		log.ErrorContext(ctx, "couldn't send notice", slog.String("channel", channel), slog.Any("err", err))
	}
}

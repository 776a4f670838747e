package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zephyrtronium/warden/autoclear"
	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/invites"
	"github.com/zephyrtronium/warden/modlog"
	"github.com/zephyrtronium/warden/presence"
	"github.com/zephyrtronium/warden/voice"
)

// platform performs actions through a Discord session.
type platform struct {
	s *discordgo.Session
}

var (
	_ voice.Platform     = (*platform)(nil)
	_ autoclear.Platform = (*platform)(nil)
	_ modlog.Sender      = (*platform)(nil)
	_ command.Moderator  = (*platform)(nil)
	_ invites.Lister     = (*platform)(nil)
	_ presence.Setter    = (*platform)(nil)
)

const (
	// ownerAllow is the permission overwrite of a temporary channel's owner.
	ownerAllow = discordgo.PermissionManageChannels |
		discordgo.PermissionVoiceConnect |
		discordgo.PermissionVoiceSpeak |
		discordgo.PermissionVoiceMuteMembers |
		discordgo.PermissionVoiceDeafenMembers |
		discordgo.PermissionVoiceMoveMembers
	// memberAllow is the permission overwrite of other members.
	memberAllow = discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak
)

// unknown maps Discord's unknown channel errors to voice.ErrUnknownChannel.
func unknown(err error) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil && rerr.Message.Code == discordgo.ErrCodeUnknownChannel {
		return fmt.Errorf("%w: %w", voice.ErrUnknownChannel, err)
	}
	return err
}

func (p *platform) channel(ctx context.Context, id string) (*discordgo.Channel, error) {
	if ch, err := p.s.State.Channel(id); err == nil {
		return ch, nil
	}
	ch, err := p.s.Channel(id, discordgo.WithContext(ctx))
	return ch, unknown(err)
}

func (p *platform) Parent(ctx context.Context, guild, channel string) (string, error) {
	ch, err := p.channel(ctx, channel)
	if err != nil {
		return "", err
	}
	return ch.ParentID, nil
}

func (p *platform) CreateChannel(ctx context.Context, guild, parent, name string) (string, error) {
	data := discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildVoice,
		ParentID: parent,
	}
	ch, err := p.s.GuildChannelCreateComplex(guild, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

func (p *platform) DeleteChannel(ctx context.Context, channel string) error {
	_, err := p.s.ChannelDelete(channel, discordgo.WithContext(ctx))
	return unknown(err)
}

func (p *platform) RenameChannel(ctx context.Context, channel, name string) error {
	_, err := p.s.ChannelEdit(channel, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx))
	return unknown(err)
}

func (p *platform) MoveMember(ctx context.Context, guild, user, channel string) error {
	return unknown(p.s.GuildMemberMove(guild, user, &channel, discordgo.WithContext(ctx)))
}

func (p *platform) SetPermissions(ctx context.Context, channel, user string, owner bool) error {
	var allow int64 = memberAllow
	if owner {
		allow = ownerAllow
	}
	err := p.s.ChannelPermissionSet(channel, user, discordgo.PermissionOverwriteTypeMember, allow, 0, discordgo.WithContext(ctx))
	return unknown(err)
}

// Members reads a voice channel's members from the session state, which the
// gateway keeps current through voice state updates.
func (p *platform) Members(ctx context.Context, guild, channel string) ([]voice.Member, error) {
	g, err := p.s.State.Guild(guild)
	if err != nil {
		return nil, fmt.Errorf("couldn't get guild %s: %w", guild, err)
	}
	var ids []string
	p.s.State.RLock()
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channel {
			ids = append(ids, vs.UserID)
		}
	}
	p.s.State.RUnlock()
	r := make([]voice.Member, 0, len(ids))
	for _, id := range ids {
		r = append(r, voice.Member{ID: id, Name: p.name(guild, id)})
	}
	return r, nil
}

// name returns a member's display name.
func (p *platform) name(guild, user string) string {
	m, err := p.s.State.Member(guild, user)
	if err != nil || m.User == nil {
		return user
	}
	return displayName(m)
}

func displayName(m *discordgo.Member) string {
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User == nil:
		return ""
	case m.User.GlobalName != "":
		return m.User.GlobalName
	default:
		return m.User.Username
	}
}

func (p *platform) CanManage(ctx context.Context, channel string) (bool, error) {
	perms, err := p.s.UserChannelPermissions(p.s.State.User.ID, channel, discordgo.WithContext(ctx))
	if err != nil {
		return false, err
	}
	return perms&discordgo.PermissionManageMessages != 0, nil
}

func (p *platform) History(ctx context.Context, channel, before string) ([]autoclear.Message, error) {
	msgs, err := p.s.ChannelMessages(channel, autoclear.PageSize, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	r := make([]autoclear.Message, len(msgs))
	for i, m := range msgs {
		r[i] = autoclear.Message{ID: m.ID, Time: m.Timestamp}
	}
	return r, nil
}

func (p *platform) BulkDelete(ctx context.Context, channel string, ids []string) error {
	return p.s.ChannelMessagesBulkDelete(channel, ids, discordgo.WithContext(ctx))
}

func (p *platform) Delete(ctx context.Context, channel, id string) error {
	return p.s.ChannelMessageDelete(channel, id, discordgo.WithContext(ctx))
}

func (p *platform) SendEmbed(ctx context.Context, channel string, embed *discordgo.MessageEmbed) error {
	_, err := p.s.ChannelMessageSendEmbed(channel, embed, discordgo.WithContext(ctx))
	return err
}

func (p *platform) Ban(ctx context.Context, guild, user, reason string, days int) error {
	return p.s.GuildBanCreateWithReason(guild, user, reason, days, discordgo.WithContext(ctx))
}

func (p *platform) Unban(ctx context.Context, guild, user string) error {
	return p.s.GuildBanDelete(guild, user, discordgo.WithContext(ctx))
}

func (p *platform) Kick(ctx context.Context, guild, user, reason string) error {
	return p.s.GuildMemberDeleteWithReason(guild, user, reason, discordgo.WithContext(ctx))
}

// Purge deletes the latest n messages in a channel. Messages too old for bulk
// deletion are deleted one at a time.
func (p *platform) Purge(ctx context.Context, channel string, n int) (int, error) {
	msgs, err := p.s.ChannelMessages(channel, n, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-autoclear.BulkLimit)
	var bulk, single []string
	for _, m := range msgs {
		if m.Timestamp.After(cutoff) {
			bulk = append(bulk, m.ID)
		} else {
			single = append(single, m.ID)
		}
	}
	if len(bulk) == 1 {
		single = append(single, bulk...)
		bulk = nil
	}
	k := 0
	if len(bulk) > 0 {
		if err := p.BulkDelete(ctx, channel, bulk); err != nil {
			return 0, err
		}
		k += len(bulk)
	}
	for _, id := range single {
		if err := p.Delete(ctx, channel, id); err != nil {
			return k, err
		}
		k++
	}
	return k, nil
}

// Outranks compares the highest roles of two members. The guild owner
// outranks everyone and is outranked by no one.
func (p *platform) Outranks(ctx context.Context, guild, actor, target string) (bool, error) {
	g, err := p.s.State.Guild(guild)
	if err != nil {
		return false, fmt.Errorf("couldn't get guild %s: %w", guild, err)
	}
	switch {
	case actor == g.OwnerID:
		return true, nil
	case target == g.OwnerID:
		return false, nil
	}
	a, err := p.position(ctx, guild, actor)
	if err != nil {
		return false, err
	}
	t, err := p.position(ctx, guild, target)
	if err != nil {
		return false, err
	}
	return a > t, nil
}

// position returns the position of a member's highest role.
func (p *platform) position(ctx context.Context, guild, user string) (int, error) {
	m, err := p.s.State.Member(guild, user)
	if err != nil {
		m, err = p.s.GuildMember(guild, user, discordgo.WithContext(ctx))
		if err != nil {
			return 0, fmt.Errorf("couldn't get member %s: %w", user, err)
		}
	}
	pos := 0
	for _, id := range m.Roles {
		r, err := p.s.State.Role(guild, id)
		if err != nil {
			continue
		}
		pos = max(pos, r.Position)
	}
	return pos, nil
}

func (p *platform) Invites(ctx context.Context, guild string) ([]invites.Invite, error) {
	inv, err := p.s.GuildInvites(guild, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	r := make([]invites.Invite, len(inv))
	for i, v := range inv {
		r[i] = invites.Invite{Code: v.Code, Uses: v.Uses}
		if v.Inviter != nil {
			r[i].Inviter = v.Inviter.ID
		}
	}
	return r, nil
}

func (p *platform) SetStatus(ctx context.Context, status string) error {
	return p.s.UpdateGameStatus(0, status)
}

// responder responds to an interaction.
type responder struct {
	s *discordgo.Session
	i *discordgo.Interaction
	// deferred is set once the interaction is acknowledged without content.
	deferred bool
	// private is whether the deferred response is ephemeral.
	private bool
}

var _ command.Responder = (*responder)(nil)

func (r *responder) Defer(ctx context.Context, private bool) error {
	resp := discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
	if private {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := r.s.InteractionRespond(r.i, &resp, discordgo.WithContext(ctx)); err != nil {
		return err
	}
	r.deferred, r.private = true, private
	return nil
}

func (r *responder) Respond(ctx context.Context, content string, private bool) error {
	mentions := &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
	}
	if r.deferred {
		return r.followup(ctx, content, private, mentions)
	}
	data := discordgo.InteractionResponseData{
		Content:         content,
		AllowedMentions: mentions,
	}
	if private {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	resp := discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &data,
	}
	return r.s.InteractionRespond(r.i, &resp, discordgo.WithContext(ctx))
}

// followup completes a deferred response. The visibility of the deferred
// response is fixed, so a response with different visibility replaces it
// with a followup message.
func (r *responder) followup(ctx context.Context, content string, private bool, mentions *discordgo.MessageAllowedMentions) error {
	if private == r.private {
		_, err := r.s.InteractionResponseEdit(r.i, &discordgo.WebhookEdit{
			Content:         &content,
			AllowedMentions: mentions,
		}, discordgo.WithContext(ctx))
		return err
	}
	params := discordgo.WebhookParams{
		Content:         content,
		AllowedMentions: mentions,
	}
	if private {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	if _, err := r.s.FollowupMessageCreate(r.i, true, &params, discordgo.WithContext(ctx)); err != nil {
		return err
	}
	if err := r.s.InteractionResponseDelete(r.i, discordgo.WithContext(ctx)); err != nil {
		slog.WarnContext(ctx, "couldn't delete deferred response", slog.Any("err", err))
	}
	return nil
}

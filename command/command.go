package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Invocation is a slash command invocation. An Invocation and its fields must
// not be modified or retained by any command.
type Invocation struct {
	// Guild is the guild where the invocation occurred.
	Guild string
	// Channel is the channel where the invocation occurred.
	Channel string
	// Invoker is the ID of the user who invoked the command.
	Invoker string
	// Perms is the invoker's permissions in the channel.
	Perms int64
	// Owner indicates whether the invoker owns the guild.
	Owner bool
	// Sub is the invoked subcommand, if any.
	Sub string
	// Args is the command's options by name. Users, channels, and roles are
	// given by ID.
	Args map[string]string
	// Resp sends the response to the invocation.
	Resp Responder
}

// Responder responds to an invocation.
type Responder interface {
	// Respond sends the response. Private responses are visible only to the
	// invoker.
	Respond(ctx context.Context, content string, private bool) error
	// Defer acknowledges the invocation without content. A later Respond
	// completes it. Commands which may take longer than Discord waits for
	// an acknowledgement must defer before doing their work.
	Defer(ctx context.Context, private bool) error
}

// Func executes a command.
type Func func(ctx context.Context, robo *Robot, call *Invocation)

// Lookup returns the command with the given name, or nil if there is none.
func Lookup(name string) Func {
	return all[name]
}

var all = map[string]Func{
	"ban":       Ban,
	"kick":      Kick,
	"softban":   Softban,
	"clear":     Clear,
	"invites":   Invites,
	"antispam":  AntiSpam,
	"antilinks": AntiLinks,
	"autoclear": AutoClear,
	"logs":      Logs,
}

// reply responds to an invocation and logs failures.
func reply(ctx context.Context, robo *Robot, call *Invocation, private bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err := call.Resp.Respond(ctx, msg, private); err != nil {
		robo.Log.ErrorContext(ctx, "couldn't respond to command",
			slog.String("guild", call.Guild),
			slog.String("invoker", call.Invoker),
			slog.Any("err", err),
		)
	}
}

// acknowledge defers the response to an invocation and logs failures.
func acknowledge(ctx context.Context, robo *Robot, call *Invocation, private bool) {
	if err := call.Resp.Defer(ctx, private); err != nil {
		robo.Log.WarnContext(ctx, "couldn't defer response",
			slog.String("guild", call.Guild),
			slog.String("invoker", call.Invoker),
			slog.Any("err", err),
		)
	}
}

// allowed reports whether the invoker has all of the given permissions.
// Administrators and guild owners have every permission.
func allowed(call *Invocation, perm int64) bool {
	return call.Owner || call.Perms&discordgo.PermissionAdministrator != 0 || call.Perms&perm == perm
}

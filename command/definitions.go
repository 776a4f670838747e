package command

import "github.com/bwmarrin/discordgo"

func opt(t discordgo.ApplicationCommandOptionType, name, desc string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: t, Name: name, Description: desc, Required: required}
}

func sub(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: desc,
		Options:     opts,
	}
}

func perm(p int64) *int64 { return &p }

var one = 1.0

// Definitions returns the definitions of all commands for registration.
func Definitions() []*discordgo.ApplicationCommand {
	member := opt(discordgo.ApplicationCommandOptionUser, "member", "Membre visé", true)
	reason := opt(discordgo.ApplicationCommandOptionString, "reason", "Raison", false)
	channel := opt(discordgo.ApplicationCommandOptionChannel, "channel", "Salon", true)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "ban",
			Description:              "Bannir un membre",
			DefaultMemberPermissions: perm(discordgo.PermissionBanMembers),
			Options:                  []*discordgo.ApplicationCommandOption{member, reason},
		},
		{
			Name:                     "kick",
			Description:              "Expulser un membre",
			DefaultMemberPermissions: perm(discordgo.PermissionKickMembers),
			Options:                  []*discordgo.ApplicationCommandOption{member, reason},
		},
		{
			Name:                     "softban",
			Description:              "Bannir temporairement un membre et supprimer ses messages",
			DefaultMemberPermissions: perm(discordgo.PermissionBanMembers),
			Options:                  []*discordgo.ApplicationCommandOption{member, reason},
		},
		{
			Name:                     "clear",
			Description:              "Supprimer un nombre de messages",
			DefaultMemberPermissions: perm(discordgo.PermissionManageMessages),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Nombre de messages (1 à 100)",
					Required:    true,
					MinValue:    &one,
					MaxValue:    100,
				},
			},
		},
		{
			Name:        "invites",
			Description: "Classement et configuration des invitations",
			Options: []*discordgo.ApplicationCommandOption{
				sub("leaderboard", "Afficher le classement des invitations"),
				sub("enable", "Activer le suivi des invitations"),
				sub("disable", "Désactiver le suivi des invitations"),
				sub("joins", "Définir le salon des arrivées", channel),
				sub("leaves", "Définir le salon des départs", channel),
			},
		},
		{
			Name:                     "antispam",
			Description:              "Configurer l'anti-spam",
			DefaultMemberPermissions: perm(discordgo.PermissionAdministrator),
			Options: []*discordgo.ApplicationCommandOption{
				sub("show", "Afficher la configuration"),
				sub("enable", "Activer l'anti-spam"),
				sub("disable", "Désactiver l'anti-spam"),
				sub("channel", "Ajouter ou retirer un salon surveillé", channel),
				sub("limit", "Définir la limite de messages",
					opt(discordgo.ApplicationCommandOptionInteger, "messages", "Nombre de messages autorisés", true),
					opt(discordgo.ApplicationCommandOptionInteger, "seconds", "Fenêtre en secondes", true),
				),
			},
		},
		{
			Name:                     "antilinks",
			Description:              "Configurer l'anti-liens",
			DefaultMemberPermissions: perm(discordgo.PermissionAdministrator),
			Options: []*discordgo.ApplicationCommandOption{
				sub("show", "Afficher la configuration"),
				sub("enable", "Activer l'anti-liens"),
				sub("disable", "Désactiver l'anti-liens"),
				sub("channel", "Ajouter ou retirer un salon surveillé", channel),
				sub("role", "Autoriser ou non un rôle",
					opt(discordgo.ApplicationCommandOptionRole, "role", "Rôle", true)),
				sub("user", "Autoriser ou non un utilisateur",
					opt(discordgo.ApplicationCommandOptionUser, "user", "Utilisateur", true)),
			},
		},
		{
			Name:                     "autoclear",
			Description:              "Configurer la suppression automatique des messages",
			DefaultMemberPermissions: perm(discordgo.PermissionAdministrator),
			Options: []*discordgo.ApplicationCommandOption{
				sub("show", "Afficher la configuration"),
				sub("channel", "Ajouter ou retirer un salon", channel),
				sub("delay", "Définir le délai de suppression",
					opt(discordgo.ApplicationCommandOptionInteger, "seconds", "Délai en secondes", true)),
			},
		},
		{
			Name:                     "logs",
			Description:              "Configurer les logs",
			DefaultMemberPermissions: perm(discordgo.PermissionAdministrator),
			Options: []*discordgo.ApplicationCommandOption{
				sub("show", "Afficher la configuration"),
				sub("enable", "Activer les logs"),
				sub("disable", "Désactiver les logs"),
				sub("channel", "Définir le salon d'une catégorie",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "category",
						Description: "Catégorie",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "Messages", Value: "messages"},
							{Name: "Modération", Value: "moderation"},
							{Name: "Administration", Value: "administration"},
						},
					},
					opt(discordgo.ApplicationCommandOptionChannel, "channel", "Salon (vide pour désactiver)", false),
				),
				sub("ignore", "Ignorer ou non un salon, un utilisateur ou un rôle",
					opt(discordgo.ApplicationCommandOptionChannel, "channel", "Salon", false),
					opt(discordgo.ApplicationCommandOptionUser, "user", "Utilisateur", false),
					opt(discordgo.ApplicationCommandOptionRole, "role", "Rôle", false),
				),
			},
		},
	}
}

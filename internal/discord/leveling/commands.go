package leveling

import (
	"github.com/bwmarrin/discordgo"
	"github.com/code-wolf-byte/hunterxp/internal/classes"
)

var adminOnly = int64(discordgo.PermissionAdministrator)

var minXPValue = 0.0

func classChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, len(classes.All))
	for i, c := range classes.All {
		choices[i] = &discordgo.ApplicationCommandOptionChoice{Name: c.String(), Value: string(c)}
	}
	return choices
}

var boardChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "All time", Value: "total"},
	{Name: "This week", Value: "weekly"},
	{Name: "Voice", Value: "voice"},
	{Name: "Season", Value: "season"},
}

func channelOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  description,
		Required:     true,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
	}
}

func subcommand(name, description string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     opts,
	}
}

func intOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

func boolOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionBoolean,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

// commands is the list of slash commands registered in every guild.
var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "xp",
		Description: "Show a hunter profile",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "Whose profile to show (defaults to you)",
			},
		},
	},
	{
		Name:        "compare",
		Description: "Compare your stats with another hunter",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Who to compare with", Required: true},
		},
	},
	{
		Name:        "daily",
		Description: "Claim your daily XP reward",
	},
	{
		Name:        "claimstored",
		Description: "Claim every stored daily credit at once (Mage)",
	},
	{
		Name:        "chooseclass",
		Description: "Choose your hunter class (permanent)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "class",
				Description: "The class to awaken",
				Required:    true,
				Choices:     classChoices(),
			},
		},
	},
	{
		Name:        "myclass",
		Description: "Show a hunter's class",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Whose class to show (defaults to you)"},
		},
	},
	{
		Name:        "classinfo",
		Description: "Show what every class does",
	},
	{
		Name:        "setfocus",
		Description: "Set the channel where you earn double XP (Ranger)",
		Options:     []*discordgo.ApplicationCommandOption{channelOption("Your focus channel")},
	},
	{
		Name:        "leaderboard",
		Description: "Show the top hunters",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "board",
				Description: "Which leaderboard",
				Choices:     boardChoices,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "page",
				Description: "Page number",
				MinValue:    func() *float64 { v := 1.0; return &v }(),
			},
		},
	},
	{
		Name:        "hunters",
		Description: "Show the hall of fame of past seasons",
	},
	{
		Name:        "serverstats",
		Description: "Show XP statistics for this server",
	},
	{
		Name:                     "setxp",
		Description:              "Set a member's total XP (Admin)",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member", Required: true},
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "amount", Description: "New total XP", Required: true, MinValue: &minXPValue},
		},
	},
	{
		Name:                     "addxp",
		Description:              "Add or remove XP from a member (Admin)",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member", Required: true},
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "amount", Description: "XP to add, negative to remove", Required: true},
		},
	},
	{
		Name:                     "endseason",
		Description:              "End the current season now (Admin)",
		DefaultMemberPermissions: &adminOnly,
	},
	{
		Name:                     "syncroles",
		Description:              "Re-apply rank and class roles from stored levels (Admin)",
		DefaultMemberPermissions: &adminOnly,
	},
	{
		Name:                     "xpconfig",
		Description:              "Configure XP for this server (Admin)",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			subcommand("view", "Show the current settings"),
			subcommand("range", "Set the XP range per message", intOption("min", "Minimum XP"), intOption("max", "Maximum XP")),
			subcommand("cooldown", "Set the message cooldown", intOption("seconds", "Cooldown in seconds")),
			subcommand("voice", "Configure voice XP", boolOption("enabled", "Award voice XP"), intOption("rate", "XP per minute")),
			subcommand("daily", "Configure the daily reward", boolOption("enabled", "Allow daily claims"), intOption("reward", "Daily XP")),
			subcommand("levelup", "Configure level-up announcements",
				boolOption("enabled", "Announce level-ups"),
				&discordgo.ApplicationCommandOption{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Announcement channel (defaults to where the member was active)",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				}),
			subcommand("prefix", "Toggle prefix commands", boolOption("enabled", "Accept !xp, !daily and !leaderboard")),
			subcommand("formula", "Set the XP requirement formula",
				&discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "expression",
					Description: "Expression in level, e.g. int(level*120+50); empty restores the default",
				}),
			subcommand("blacklist", "Stop a channel from earning XP", channelOption("Channel")),
			subcommand("unblacklist", "Let a blacklisted channel earn XP again", channelOption("Channel")),
			subcommand("whitelist", "Only let listed channels earn XP", channelOption("Channel")),
			subcommand("unwhitelist", "Remove a channel from the whitelist", channelOption("Channel")),
			subcommand("clearwhitelist", "Let every channel earn XP again"),
			subcommand("multiplier", "Set an XP multiplier for a role",
				&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role", Required: true},
				&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionNumber, Name: "multiplier", Description: "Between 0.1 and 10", Required: true},
			),
			subcommand("removemultiplier", "Remove a role multiplier",
				&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role", Required: true},
			),
		},
	},
}

package discord

import "github.com/bwmarrin/discordgo"

// Command names.
const (
	cmdSetup         = "setup"
	cmdBind          = "bind"
	cmdUnbind        = "unbind"
	cmdGrant         = "grant"
	cmdRevoke        = "revoke"
	cmdDelegates     = "delegates"
	cmdHistory       = "history"
	cmdStart         = "start"
	cmdStop          = "stop"
	cmdStatus        = "status"
	cmdNotifications = "notifications"
	cmdGameStart     = "game_start"
	cmdGameStop      = "game_stop"
	cmdGameStatus    = "game_status"
	cmdInfo          = "info"
	cmdAddonStats    = "addon_stats"
)

// mutating lists the commands subject to the per-user cooldown.
var mutating = map[string]bool{
	cmdSetup:         true,
	cmdBind:          true,
	cmdUnbind:        true,
	cmdGrant:         true,
	cmdRevoke:        true,
	cmdStart:         true,
	cmdStop:          true,
	cmdNotifications: true,
	cmdGameStart:     true,
	cmdGameStop:      true,
}

// Commands returns the slash command definitions registered with Discord.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdSetup,
			Description: "Store your GitHub token and bind a codespace",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("token", "GitHub personal access token with the codespace scope", true),
				stringOption("codespace", "Codespace name (defaults to your first codespace)", false),
			},
		},
		{
			Name:        cmdBind,
			Description: "Bind a different codespace, keeping your delegates",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("codespace", "Codespace name", true),
			},
		},
		{Name: cmdUnbind, Description: "Remove your binding and all delegations"},
		{
			Name:        cmdGrant,
			Description: "Let another user control your codespace",
			Options:     []*discordgo.ApplicationCommandOption{userOption("user", "User to grant")},
		},
		{
			Name:        cmdRevoke,
			Description: "Withdraw a user's control of your codespace",
			Options:     []*discordgo.ApplicationCommandOption{userOption("user", "User to revoke")},
		},
		{Name: cmdDelegates, Description: "List the users who can control your codespace"},
		{Name: cmdHistory, Description: "List codespaces you had bound before"},
		{Name: cmdStart, Description: "Wake the codespace you own or were granted"},
		{Name: cmdStop, Description: "Stop the codespace you own or were granted"},
		{Name: cmdStatus, Description: "Show the codespace state"},
		{
			Name:        cmdNotifications,
			Description: "Choose where you hear about your codespace",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "Delivery mode",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Direct message", Value: "dm"},
						{Name: "Channel", Value: "channel"},
						{Name: "Disabled", Value: "disabled"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel for channel mode (defaults to this one)",
				},
			},
		},
		{Name: cmdGameStart, Description: "Wake the codespace and launch the game server"},
		{Name: cmdGameStop, Description: "Stop monitoring your game server"},
		{
			Name:        cmdGameStatus,
			Description: "Check a game server",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("address", "Server address, host[:port]", true),
			},
		},
		{Name: cmdInfo, Description: "Show your binding, session time and delegates"},
		{Name: cmdAddonStats, Description: "Show the codespace event poller counters"},
	}
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func userOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

package commands

import (
	"github.com/bwmarrin/discordgo"

	"github.com/vocifer/vocifer/internal/app"
	"github.com/vocifer/vocifer/internal/discord"
)

// SayCommands holds the dependencies for /say and playback control commands.
type SayCommands struct {
	manager *app.Manager
	perms   *discord.PermissionChecker
}

// NewSayCommands creates a SayCommands and registers its handlers with the
// bot's router.
func NewSayCommands(bot *discord.Bot, manager *app.Manager) *SayCommands {
	sc := &SayCommands{
		manager: manager,
		perms:   bot.Permissions(),
	}
	sc.Register(bot.Router())
	return sc
}

// Register registers the /say command group with the router.
func (sc *SayCommands) Register(router *discord.CommandRouter) {
	def := sc.Definition()
	router.RegisterCommand("say", def, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/say text`, `/say skip` or `/say stop`.")
	})
	router.RegisterHandler("say/text", sc.handleText)
	router.RegisterHandler("say/skip", sc.handleSkip)
	router.RegisterHandler("say/stop", sc.handleStop)
}

// Definition returns the ApplicationCommand definition for Discord.
func (sc *SayCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "say",
		Description: "Make the assistant speak or control its playback",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "text",
				Description: "Speak the given text in the active call",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "text",
						Description: "The text to speak",
						Required:    true,
						MaxLength:   1000,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "skip",
				Description: "Skip the item currently playing",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop playback and clear the queue",
			},
		},
	}
}

// handleText handles /say text.
func (sc *SayCommands) handleText(s *discordgo.Session, i *discordgo.InteractionCreate) {
	a, ok := sc.assistant(s, i)
	if !ok {
		return
	}

	text := subcommandString(i, "text")
	if text == "" {
		discord.RespondEphemeral(s, i, "Nothing to say.")
		return
	}

	if !a.Speak(text) {
		discord.RespondEphemeral(s, i, "No synthesis engine is available right now.")
		return
	}
	discord.RespondEphemeral(s, i, "Queued for playback.")
}

// handleSkip handles /say skip.
func (sc *SayCommands) handleSkip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	a, ok := sc.assistant(s, i)
	if !ok {
		return
	}
	if !a.Next() {
		discord.RespondEphemeral(s, i, "Nothing is playing.")
		return
	}
	discord.RespondEphemeral(s, i, "Skipped.")
}

// handleStop handles /say stop.
func (sc *SayCommands) handleStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	a, ok := sc.assistant(s, i)
	if !ok {
		return
	}
	if !a.Stop() {
		discord.RespondEphemeral(s, i, "Nothing is playing.")
		return
	}
	discord.RespondEphemeral(s, i, "Playback stopped and queue cleared.")
}

// assistant resolves the guild's active assistant, responding with an error
// message when permissions fail or no call is running.
func (sc *SayCommands) assistant(s *discordgo.Session, i *discordgo.InteractionCreate) (speakControl, bool) {
	if !sc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, "You need the operator role to control playback.")
		return nil, false
	}
	a, ok := sc.manager.Get(i.GuildID)
	if !ok {
		discord.RespondEphemeral(s, i, "No active call in this server.")
		return nil, false
	}
	return a, true
}

// speakControl is the slice of the assistant surface these commands use.
type speakControl interface {
	Speak(text string) bool
	Next() bool
	Stop() bool
}

// subcommandString extracts a string option from the interaction's first
// subcommand, or "" if absent.
func subcommandString(i *discordgo.InteractionCreate, name string) string {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return ""
	}
	for _, opt := range data.Options[0].Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vocifer/vocifer/internal/app"
	"github.com/vocifer/vocifer/internal/discord"
	"github.com/vocifer/vocifer/internal/engine"
)

// maxChoices is Discord's limit on autocomplete results.
const maxChoices = 25

// VoiceCommands holds the dependencies for /voice slash commands.
type VoiceCommands struct {
	manager      *app.Manager
	synthesizers *engine.Registry[engine.Synthesizer]
	perms        *discord.PermissionChecker
}

// NewVoiceCommands creates a VoiceCommands and registers its handlers with
// the bot's router.
func NewVoiceCommands(bot *discord.Bot, manager *app.Manager, synthesizers *engine.Registry[engine.Synthesizer]) *VoiceCommands {
	vc := &VoiceCommands{
		manager:      manager,
		synthesizers: synthesizers,
		perms:        bot.Permissions(),
	}
	vc.Register(bot.Router())
	return vc
}

// Register registers the /voice command group with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	def := vc.Definition()
	router.RegisterCommand("voice", def, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/voice set` or `/voice locale`.")
	})
	router.RegisterHandler("voice/set", vc.handleSet)
	router.RegisterHandler("voice/locale", vc.handleLocale)
	router.RegisterAutocomplete("voice/set", vc.handleVoiceAutocomplete)
}

// Definition returns the ApplicationCommand definition for Discord.
func (vc *VoiceCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "voice",
		Description: "Configure the assistant's voice for this server",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Choose the synthesizer voice",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "voice",
						Description:  "The voice to use",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "locale",
				Description: "Set the recognition and synthesis locale",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "locale",
						Description: "BCP-47 locale, e.g. en-US or de-DE",
						Required:    true,
					},
				},
			},
		},
	}
}

// handleSet handles /voice set.
func (vc *VoiceCommands) handleSet(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !vc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, "You need the operator role to change the voice.")
		return
	}

	voiceID := subcommandString(i, "voice")
	if voiceID == "" {
		discord.RespondEphemeral(s, i, "No voice given.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := vc.manager.SetVoice(ctx, i.GuildID, voiceID); err != nil {
		discord.RespondError(s, i, err)
		return
	}
	discord.RespondEphemeral(s, i, fmt.Sprintf("Voice set to `%s`.", voiceID))
}

// handleLocale handles /voice locale.
func (vc *VoiceCommands) handleLocale(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !vc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, "You need the operator role to change the locale.")
		return
	}

	locale := subcommandString(i, "locale")
	if locale == "" {
		discord.RespondEphemeral(s, i, "No locale given.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := vc.manager.SetLocale(ctx, i.GuildID, locale); err != nil {
		discord.RespondError(s, i, err)
		return
	}
	discord.RespondEphemeral(s, i, fmt.Sprintf("Locale set to `%s`.", locale))
}

// handleVoiceAutocomplete suggests voices from every active synthesizer,
// filtered by the user's partial input.
func (vc *VoiceCommands) handleVoiceAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	partial := strings.ToLower(focusedValue(i))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	choices := vc.voiceChoices(ctx, partial)
	discord.RespondChoices(s, i, choices)
}

// voiceChoices collects matching voices across all active synthesizers, up to
// the Discord autocomplete limit.
func (vc *VoiceCommands) voiceChoices(ctx context.Context, partial string) []*discordgo.ApplicationCommandOptionChoice {
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, syn := range vc.synthesizers.All() {
		if !syn.Active() {
			continue
		}
		voices, err := syn.Voices(ctx)
		if err != nil {
			continue
		}
		for _, v := range voices {
			if partial != "" && !strings.Contains(strings.ToLower(v.ID), partial) {
				continue
			}
			name := v.ID
			if v.Locale != "" {
				name = fmt.Sprintf("%s (%s)", v.ID, v.Locale)
			}
			choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  name,
				Value: v.ID,
			})
			if len(choices) >= maxChoices {
				return choices
			}
		}
	}
	return choices
}

// focusedValue returns the value of the option the user is currently typing
// in, descending into the subcommand's options.
func focusedValue(i *discordgo.InteractionCreate) string {
	data := i.ApplicationCommandData()
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		opts = opts[0].Options
	}
	for _, opt := range opts {
		if opt.Focused {
			if s, ok := opt.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

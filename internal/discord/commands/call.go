// Package commands implements Discord slash command handlers for Vocifer.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vocifer/vocifer/internal/app"
	"github.com/vocifer/vocifer/internal/discord"
)

// CallCommands holds the dependencies for /call slash commands.
type CallCommands struct {
	manager *app.Manager
	perms   *discord.PermissionChecker
}

// NewCallCommands creates a CallCommands and registers its handlers with the
// bot's router.
func NewCallCommands(bot *discord.Bot, manager *app.Manager) *CallCommands {
	cc := &CallCommands{
		manager: manager,
		perms:   bot.Permissions(),
	}
	cc.Register(bot.Router())
	return cc
}

// Register registers the /call command group with the router.
func (cc *CallCommands) Register(router *discord.CommandRouter) {
	def := cc.Definition()
	router.RegisterCommand("call", def, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/call start`, `/call stop` or `/call status`.")
	})
	router.RegisterHandler("call/start", cc.handleStart)
	router.RegisterHandler("call/stop", cc.handleStop)
	router.RegisterHandler("call/status", cc.handleStatus)
}

// Definition returns the ApplicationCommand definition for Discord.
func (cc *CallCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "call",
		Description: "Manage the assistant's voice call in this server",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start a call in your current voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "End the active call",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the active call's connection and queue state",
			},
		},
	}
}

// handleStart handles /call start.
func (cc *CallCommands) handleStart(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !cc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, "You need the operator role to start a call.")
		return
	}

	userID := interactionUserID(i)
	vs, err := s.State.VoiceState(i.GuildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		discord.RespondEphemeral(s, i, "You must be in a voice channel to start a call.")
		return
	}

	// Defer reply since connecting may take a moment.
	discord.DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := cc.manager.Start(ctx, i.GuildID, vs.ChannelID, userID); err != nil {
		discord.FollowUp(s, i, fmt.Sprintf("Failed to start call: %v", err))
		return
	}

	discord.FollowUp(s, i, fmt.Sprintf("Call started in <#%s>.", vs.ChannelID))
}

// handleStop handles /call stop.
func (cc *CallCommands) handleStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !cc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, "You need the operator role to stop a call.")
		return
	}

	info, ok := cc.callInfo(i.GuildID)
	if err := cc.manager.Stop(i.GuildID); err != nil {
		discord.RespondError(s, i, err)
		return
	}

	msg := "Call stopped."
	if ok {
		msg = fmt.Sprintf("Call in <#%s> stopped.\n**Duration:** %s",
			info.ChannelID, time.Since(info.StartedAt).Truncate(time.Second))
	}
	discord.RespondEphemeral(s, i, msg)
}

// handleStatus handles /call status.
func (cc *CallCommands) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	a, ok := cc.manager.Get(i.GuildID)
	if !ok {
		discord.RespondEphemeral(s, i, "No active call in this server.")
		return
	}

	st := a.Status()
	embed := &discordgo.MessageEmbed{
		Title: "Call Status",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Connection", Value: st.Connection.String(), Inline: true},
			{Name: "Channel", Value: fmt.Sprintf("<#%s>", st.Channel), Inline: true},
			{Name: "Queued Items", Value: fmt.Sprintf("%d", st.QueueLen), Inline: true},
			{Name: "Recognition", Value: availability(st.Recognition), Inline: true},
			{Name: "Synthesis", Value: availability(st.Synthesis), Inline: true},
		},
	}
	discord.RespondEmbed(s, i, embed)
}

// callInfo looks up the guild's CallInfo from the manager's active list.
func (cc *CallCommands) callInfo(guildID string) (app.CallInfo, bool) {
	for _, info := range cc.manager.Active() {
		if info.GuildID == guildID {
			return info, true
		}
	}
	return app.CallInfo{}, false
}

func availability(up bool) string {
	if up {
		return "available"
	}
	return "unavailable"
}

// interactionUserID extracts the user ID from an interaction, handling both
// guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

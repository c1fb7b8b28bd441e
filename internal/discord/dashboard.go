package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// CallSummary is one active call's row on the dashboard embed.
type CallSummary struct {
	GuildID   string
	ChannelID string
	StartedAt time.Time
	QueueLen  int
}

// embedColorGreen is the embed sidebar color while the runtime is up.
const embedColorGreen = 0x2ECC71

// embedColorRed is the embed sidebar color after shutdown.
const embedColorRed = 0xE74C3C

// defaultInterval is the default dashboard update interval.
const defaultInterval = 10 * time.Second

// Dashboard renders and periodically updates a Discord embed showing the
// active calls and pipeline statistics. The embed is created on Start and
// edited in place every update interval.
//
// Thread-safe for concurrent use.
type Dashboard struct {
	mu        sync.Mutex
	session   *discordgo.Session
	channelID string
	messageID string // embed message; created on first update
	interval  time.Duration
	getCalls  func() []CallSummary
	stats     *PipelineStats
	done      chan struct{}
	stopOnce  sync.Once
}

// DashboardConfig holds dependencies for creating a Dashboard.
type DashboardConfig struct {
	Session   *discordgo.Session
	ChannelID string
	Interval  time.Duration // Default: 10 seconds
	GetCalls  func() []CallSummary
	Stats     *PipelineStats
}

// NewDashboard creates a Dashboard.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	return &Dashboard{
		session:   cfg.Session,
		channelID: cfg.ChannelID,
		interval:  interval,
		getCalls:  cfg.GetCalls,
		stats:     cfg.Stats,
		done:      make(chan struct{}),
	}
}

// Stats returns the pipeline stats collector for this dashboard, allowing
// callers to record latency and counter values.
func (d *Dashboard) Stats() *PipelineStats {
	return d.stats
}

// Start begins the periodic update loop in a background goroutine.
func (d *Dashboard) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Stop halts the periodic update loop and posts a final "runtime stopped"
// embed.
func (d *Dashboard) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		close(d.done)
		d.postFinalEmbed(ctx)
	})
}

// loop runs the periodic embed update until Stop is called or ctx is
// cancelled.
func (d *Dashboard) loop(ctx context.Context) {
	// Post immediately on start.
	d.update(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.update(ctx)
		}
	}
}

// update builds the embed from current data and creates or edits the message.
func (d *Dashboard) update(ctx context.Context) {
	calls := d.getCalls()
	var snap Snapshot
	if d.stats != nil {
		snap = d.stats.Snapshot()
	}
	embed := buildEmbed(calls, snap)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		msg, err := d.session.ChannelMessageSendEmbed(d.channelID, embed)
		if err != nil {
			slog.Warn("dashboard: failed to create embed message", "channel", d.channelID, "err", err)
			return
		}
		d.messageID = msg.ID
		slog.Debug("dashboard: created embed message", "message_id", msg.ID, "channel", d.channelID)
	} else {
		_, err := d.session.ChannelMessageEditEmbed(d.channelID, d.messageID, embed)
		if err != nil {
			slog.Warn("dashboard: failed to edit embed message", "message_id", d.messageID, "err", err)
		}
	}

	_ = ctx // reserved for future context-aware API calls
}

// postFinalEmbed posts a "runtime stopped" version of the embed.
func (d *Dashboard) postFinalEmbed(_ context.Context) {
	var snap Snapshot
	if d.stats != nil {
		snap = d.stats.Snapshot()
	}
	embed := buildStoppedEmbed(snap)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		return
	}
	_, err := d.session.ChannelMessageEditEmbed(d.channelID, d.messageID, embed)
	if err != nil {
		slog.Warn("dashboard: failed to post final embed", "message_id", d.messageID, "err", err)
	}
}

// buildEmbed creates the live dashboard embed from the active calls and
// pipeline stats.
func buildEmbed(calls []CallSummary, snap Snapshot) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Active Calls", Value: fmt.Sprintf("%d", len(calls)), Inline: true},
		{Name: "Transcripts", Value: fmt.Sprintf("%d", snap.Transcripts), Inline: true},
		{Name: "Errors", Value: fmt.Sprintf("%d", snap.Errors), Inline: true},
	}

	if callField := formatCallsField(calls); callField != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Calls",
			Value:  callField,
			Inline: false,
		})
	}

	if latency := formatLatencyField(snap); latency != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Pipeline Latency",
			Value:  latency,
			Inline: false,
		})
	}

	return &discordgo.MessageEmbed{
		Title:  "Vocifer Dashboard",
		Color:  embedColorGreen,
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Live",
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// buildStoppedEmbed creates the final "runtime stopped" embed.
func buildStoppedEmbed(snap Snapshot) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Transcripts", Value: fmt.Sprintf("%d", snap.Transcripts), Inline: true},
		{Name: "Errors", Value: fmt.Sprintf("%d", snap.Errors), Inline: true},
	}

	return &discordgo.MessageEmbed{
		Title:       "Vocifer Dashboard",
		Description: "Runtime has stopped.",
		Color:       embedColorRed,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Stopped",
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// formatCallsField builds one line per active call. Returns empty string when
// no call is active.
func formatCallsField(calls []CallSummary) string {
	if len(calls) == 0 {
		return ""
	}
	var result strings.Builder
	for _, c := range calls {
		result.WriteString(fmt.Sprintf("<#%s> — up %s, %d queued\n",
			c.ChannelID, formatDuration(time.Since(c.StartedAt)), c.QueueLen))
	}
	return result.String()
}

// formatLatencyField builds a compact multi-line string showing pipeline
// latencies. Returns empty string if no latency data is available.
func formatLatencyField(snap Snapshot) string {
	var lines []string
	if snap.Recognition.P50 > 0 || snap.Recognition.P95 > 0 {
		lines = append(lines, fmt.Sprintf("Recognition: p50=%s p95=%s", formatMs(snap.Recognition.P50), formatMs(snap.Recognition.P95)))
	}
	if snap.Synthesis.P50 > 0 || snap.Synthesis.P95 > 0 {
		lines = append(lines, fmt.Sprintf("Synthesis:   p50=%s p95=%s", formatMs(snap.Synthesis.P50), formatMs(snap.Synthesis.P95)))
	}
	if snap.Playback.P50 > 0 || snap.Playback.P95 > 0 {
		lines = append(lines, fmt.Sprintf("Playback:    p50=%s p95=%s", formatMs(snap.Playback.P50), formatMs(snap.Playback.P95)))
	}
	if len(lines) == 0 {
		return ""
	}
	var result strings.Builder
	result.WriteString("```\n")
	for _, line := range lines {
		result.WriteString(line + "\n")
	}
	result.WriteString("```")
	return result.String()
}

// formatMs formats a duration as milliseconds with one decimal place.
func formatMs(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	return fmt.Sprintf("%.1fms", ms)
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

package discord

import (
	"strings"
	"testing"
	"time"
)

func TestBuildEmbed(t *testing.T) {
	t.Parallel()

	calls := []CallSummary{
		{GuildID: "guild-1", ChannelID: "voice-1", StartedAt: time.Now().Add(-5 * time.Minute), QueueLen: 2},
		{GuildID: "guild-2", ChannelID: "voice-9", StartedAt: time.Now().Add(-time.Minute)},
	}

	embed := buildEmbed(calls, Snapshot{Transcripts: 7, Errors: 1})

	if embed.Title != "Vocifer Dashboard" {
		t.Errorf("Title = %q, want %q", embed.Title, "Vocifer Dashboard")
	}
	if embed.Color != embedColorGreen {
		t.Errorf("Color = %d, want %d", embed.Color, embedColorGreen)
	}
	if embed.Fields[0].Name != "Active Calls" || embed.Fields[0].Value != "2" {
		t.Errorf("Field[0] = %q:%q, want Active Calls:2", embed.Fields[0].Name, embed.Fields[0].Value)
	}
	if embed.Fields[1].Name != "Transcripts" || embed.Fields[1].Value != "7" {
		t.Errorf("Field[1] = %q:%q, want Transcripts:7", embed.Fields[1].Name, embed.Fields[1].Value)
	}
	if embed.Fields[3].Name != "Calls" || !strings.Contains(embed.Fields[3].Value, "<#voice-1>") {
		t.Errorf("Field[3] = %q:%q, want per-call lines", embed.Fields[3].Name, embed.Fields[3].Value)
	}
	if embed.Footer == nil || embed.Footer.Text != "Live" {
		t.Errorf("Footer = %v, want 'Live'", embed.Footer)
	}
}

func TestBuildEmbed_NoCalls(t *testing.T) {
	t.Parallel()

	embed := buildEmbed(nil, Snapshot{})

	if embed.Fields[0].Value != "0" {
		t.Errorf("Active Calls field = %q, want 0", embed.Fields[0].Value)
	}
	for _, f := range embed.Fields {
		if f.Name == "Calls" {
			t.Error("per-call field present with no active calls")
		}
	}
}

func TestBuildStoppedEmbed(t *testing.T) {
	t.Parallel()

	embed := buildStoppedEmbed(Snapshot{Transcripts: 12, Errors: 3})

	if embed.Title != "Vocifer Dashboard" {
		t.Errorf("Title = %q, want %q", embed.Title, "Vocifer Dashboard")
	}
	if embed.Color != embedColorRed {
		t.Errorf("Color = %d, want %d", embed.Color, embedColorRed)
	}
	if embed.Description != "Runtime has stopped." {
		t.Errorf("Description = %q, want %q", embed.Description, "Runtime has stopped.")
	}
	if embed.Footer == nil || embed.Footer.Text != "Stopped" {
		t.Errorf("Footer = %v, want 'Stopped'", embed.Footer)
	}
}

func TestDashboard_Config(t *testing.T) {
	t.Parallel()

	cfg := DashboardConfig{
		Session:   nil,
		ChannelID: "test-channel",
		Interval:  50 * time.Millisecond,
		GetCalls:  func() []CallSummary { return nil },
	}

	d := NewDashboard(cfg)

	if d.interval != 50*time.Millisecond {
		t.Errorf("interval = %v, want 50ms", d.interval)
	}
	if d.channelID != "test-channel" {
		t.Errorf("channelID = %q, want %q", d.channelID, "test-channel")
	}

	d2 := NewDashboard(DashboardConfig{
		ChannelID: "ch",
		GetCalls:  func() []CallSummary { return nil },
	})
	if d2.interval != defaultInterval {
		t.Errorf("default interval = %v, want %v", d2.interval, defaultInterval)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 3*time.Minute + 15*time.Second, "3m 15s"},
		{"hours minutes seconds", 2*time.Hour + 30*time.Minute + 5*time.Second, "2h 30m 5s"},
		{"zero", 0, "0s"},
		{"sub-second truncated", 500 * time.Millisecond, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := formatDuration(tt.d)
			if got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatLatencyField_Empty(t *testing.T) {
	t.Parallel()

	result := formatLatencyField(Snapshot{})
	if result != "" {
		t.Errorf("expected empty string for zero snapshot, got %q", result)
	}
}

func TestFormatLatencyField_Populated(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		Recognition: LatencyPercentiles{P50: 120 * time.Millisecond, P95: 300 * time.Millisecond},
		Synthesis:   LatencyPercentiles{P50: 80 * time.Millisecond, P95: 150 * time.Millisecond},
	}
	result := formatLatencyField(snap)
	if !strings.Contains(result, "Recognition: p50=120.0ms p95=300.0ms") {
		t.Errorf("missing recognition line in %q", result)
	}
	if !strings.Contains(result, "Synthesis") {
		t.Errorf("missing synthesis line in %q", result)
	}
	if strings.Contains(result, "Playback") {
		t.Errorf("unexpected playback line in %q", result)
	}
}

func TestFormatMs(t *testing.T) {
	t.Parallel()

	got := formatMs(150 * time.Millisecond)
	if got != "150.0ms" {
		t.Errorf("formatMs(150ms) = %q, want %q", got, "150.0ms")
	}
}

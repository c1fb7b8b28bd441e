// Package app manages the per-guild assistant lifecycle.
//
// A [Manager] owns at most one [assistant.Assistant] per guild. Guilds are
// fully independent: each gets its own call connection and segmenter, while
// the engine registries and the settings store are shared. All exported
// methods are safe for concurrent use.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vocifer/vocifer/internal/assistant"
	"github.com/vocifer/vocifer/internal/engine"
	"github.com/vocifer/vocifer/internal/observe"
	"github.com/vocifer/vocifer/internal/pipeline/segment"
	"github.com/vocifer/vocifer/internal/settings"
	"github.com/vocifer/vocifer/pkg/voice"
)

// Settings keys for per-guild overrides of the configured defaults.
const (
	keyLocale  = "recognition.locale"
	keyInterim = "recognition.interim"
	keyVoice   = "speech.voice"
	keySpeed   = "speech.speed"
	keyPitch   = "speech.pitch"
)

// CallInfo holds metadata about one guild's active call.
type CallInfo struct {
	// GuildID identifies the guild.
	GuildID string

	// ChannelID is the voice channel the call was started in.
	ChannelID string

	// StartedAt is when the call was started.
	StartedAt time.Time

	// StartedBy is the user who started the call.
	StartedBy string
}

// Deps holds the shared dependencies a [Manager] wires into every assistant.
type Deps struct {
	// Transport returns the voice transport for a guild.
	Transport func(guildID string) voice.Transport

	// Recognizers and Synthesizers are the shared engine registries.
	Recognizers  *engine.Registry[engine.Recognizer]
	Synthesizers *engine.Registry[engine.Synthesizer]

	// Settings stores per-guild overrides. Optional; nil disables overrides.
	Settings settings.Store

	// Metrics instruments the pipelines. Optional.
	Metrics *observe.Metrics

	// Defaults are the configured recognition and synthesis defaults, applied
	// before per-guild settings.
	Defaults assistant.Config

	// Segmenter tunes speech segmentation for every guild.
	Segmenter segment.Config

	// OnTranscript receives every finished transcript. Optional.
	OnTranscript func(guildID, speaker, destination, text string)
}

// entry is one guild's running assistant.
type entry struct {
	assistant *assistant.Assistant
	info      CallInfo
}

// Manager tracks the active assistants, one per guild.
type Manager struct {
	deps Deps

	mu     sync.Mutex
	guilds map[string]*entry
}

// NewManager creates an empty manager.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:   deps,
		guilds: make(map[string]*entry),
	}
}

// Start joins channelID in guildID and begins the voice pipeline there.
// Fails when the guild already has an active call.
func (m *Manager) Start(ctx context.Context, guildID, channelID, startedBy string) error {
	m.mu.Lock()
	if e, ok := m.guilds[guildID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("app: guild %s already in call %s", guildID, e.info.ChannelID)
	}
	// Reserve the slot before the join so concurrent starts for one guild
	// cannot race past each other.
	m.guilds[guildID] = nil
	m.mu.Unlock()

	cfg := m.guildConfig(ctx, guildID)

	a := assistant.New(
		m.deps.Transport(guildID),
		cfg,
		m.deps.Recognizers,
		m.deps.Synthesizers,
		m.assistantHooks(guildID),
		assistant.WithMetrics(m.deps.Metrics),
		assistant.WithSegmenterConfig(m.deps.Segmenter),
	)

	if err := a.Join(ctx, voice.JoinOptions{ChannelID: channelID}); err != nil {
		a.Close()
		m.mu.Lock()
		delete(m.guilds, guildID)
		m.mu.Unlock()
		return fmt.Errorf("app: start call in guild %s: %w", guildID, err)
	}

	info := CallInfo{
		GuildID:   guildID,
		ChannelID: channelID,
		StartedAt: time.Now().UTC(),
		StartedBy: startedBy,
	}
	m.mu.Lock()
	m.guilds[guildID] = &entry{assistant: a, info: info}
	m.mu.Unlock()

	slog.Info("call started", "guild", guildID, "channel", channelID, "by", startedBy)
	return nil
}

// Stop ends guildID's call. Fails when the guild has no active call.
func (m *Manager) Stop(guildID string) error {
	m.mu.Lock()
	e, ok := m.guilds[guildID]
	if ok && e != nil {
		delete(m.guilds, guildID)
	}
	m.mu.Unlock()

	if !ok || e == nil {
		return fmt.Errorf("app: no active call in guild %s", guildID)
	}
	e.assistant.Close()
	slog.Info("call stopped", "guild", guildID, "channel", e.info.ChannelID)
	return nil
}

// StopAll ends every active call. Used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.guilds))
	for _, e := range m.guilds {
		if e != nil {
			entries = append(entries, e)
		}
	}
	m.guilds = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.assistant.Close()
	}
	if len(entries) > 0 {
		slog.Info("all calls stopped", "count", len(entries))
	}
}

// Get returns guildID's assistant, or false when no call is active there.
func (m *Manager) Get(guildID string) (*assistant.Assistant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.guilds[guildID]
	if !ok || e == nil {
		return nil, false
	}
	return e.assistant, true
}

// Active returns metadata for every active call, in unspecified order.
func (m *Manager) Active() []CallInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallInfo, 0, len(m.guilds))
	for _, e := range m.guilds {
		if e != nil {
			out = append(out, e.info)
		}
	}
	return out
}

// ApplyDefaults replaces the configured defaults and pushes the merged
// per-guild config to every active assistant. Called on config hot-reload.
func (m *Manager) ApplyDefaults(ctx context.Context, defaults assistant.Config) {
	m.mu.Lock()
	m.deps.Defaults = defaults
	guilds := make(map[string]*entry, len(m.guilds))
	for id, e := range m.guilds {
		guilds[id] = e
	}
	m.mu.Unlock()

	for id, e := range guilds {
		if e == nil {
			continue
		}
		e.assistant.SetConfig(m.guildConfig(ctx, id))
	}
}

// SetLocale persists guildID's recognition locale and applies it to the
// active call, if any.
func (m *Manager) SetLocale(ctx context.Context, guildID, locale string) error {
	return m.setOverride(ctx, guildID, func(acc *settings.Accessor) error {
		return acc.SetString(ctx, keyLocale, locale)
	})
}

// SetVoice persists guildID's synthesis voice and applies it to the active
// call, if any.
func (m *Manager) SetVoice(ctx context.Context, guildID, voiceID string) error {
	return m.setOverride(ctx, guildID, func(acc *settings.Accessor) error {
		return acc.SetString(ctx, keyVoice, voiceID)
	})
}

func (m *Manager) setOverride(ctx context.Context, guildID string, set func(*settings.Accessor) error) error {
	if m.deps.Settings == nil {
		return fmt.Errorf("app: no settings store configured")
	}
	if err := set(settings.NewAccessor(m.deps.Settings, guildID)); err != nil {
		return err
	}
	if a, ok := m.Get(guildID); ok {
		a.SetConfig(m.guildConfig(ctx, guildID))
	}
	return nil
}

// guildConfig merges the configured defaults with guildID's persisted
// overrides. Settings errors fall back to the defaults with a warning; a
// broken settings store must not keep a guild out of call.
func (m *Manager) guildConfig(ctx context.Context, guildID string) assistant.Config {
	m.mu.Lock()
	cfg := m.deps.Defaults
	m.mu.Unlock()

	if m.deps.Settings == nil {
		return cfg
	}
	acc := settings.NewAccessor(m.deps.Settings, guildID)

	var err error
	if cfg.Locale, err = acc.String(ctx, keyLocale, cfg.Locale); err != nil {
		slog.Warn("settings lookup failed", "guild", guildID, "key", keyLocale, "err", err)
	}
	if cfg.Interim, err = acc.Bool(ctx, keyInterim, cfg.Interim); err != nil {
		slog.Warn("settings lookup failed", "guild", guildID, "key", keyInterim, "err", err)
	}
	if cfg.Voice, err = acc.String(ctx, keyVoice, cfg.Voice); err != nil {
		slog.Warn("settings lookup failed", "guild", guildID, "key", keyVoice, "err", err)
	}
	if cfg.Speed, err = acc.Float(ctx, keySpeed, cfg.Speed); err != nil {
		slog.Warn("settings lookup failed", "guild", guildID, "key", keySpeed, "err", err)
	}
	if cfg.Pitch, err = acc.Float(ctx, keyPitch, cfg.Pitch); err != nil {
		slog.Warn("settings lookup failed", "guild", guildID, "key", keyPitch, "err", err)
	}
	return cfg
}

// assistantHooks bridges one guild's assistant notifications to the manager's
// handler.
func (m *Manager) assistantHooks(guildID string) assistant.Hooks {
	return assistant.Hooks{
		OnTranscript: func(speaker, destination, text string) {
			if m.deps.OnTranscript != nil {
				m.deps.OnTranscript(guildID, speaker, destination, text)
			}
		},
		OnJoin: func(channelID string, rejoin bool) {
			if rejoin {
				slog.Info("call rejoined", "guild", guildID, "channel", channelID)
			}
		},
		OnLeave: func(willRejoin bool) {
			if willRejoin {
				slog.Warn("call dropped, rejoin scheduled", "guild", guildID)
			}
		},
		OnError: func(err error) {
			slog.Error("pipeline error", "guild", guildID, "err", err)
		},
	}
}

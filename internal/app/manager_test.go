package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vocifer/vocifer/internal/assistant"
	"github.com/vocifer/vocifer/internal/engine"
	enginemock "github.com/vocifer/vocifer/internal/engine/mock"
	"github.com/vocifer/vocifer/internal/pipeline/segment"
	"github.com/vocifer/vocifer/internal/settings"
	"github.com/vocifer/vocifer/pkg/voice"
	voicemock "github.com/vocifer/vocifer/pkg/voice/mock"
)

type managerFixture struct {
	manager *Manager
	store   *settings.MemStore
	rec     *enginemock.Recognizer
	syn     *enginemock.Synthesizer

	mu         sync.Mutex
	transports map[string]*voicemock.Transport
}

func newManagerFixture(t *testing.T, defaults assistant.Config) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:      settings.NewMemStore(),
		rec:        &enginemock.Recognizer{EngineName: "webspeech"},
		syn:        &enginemock.Synthesizer{EngineName: "coqui", Fallback: "default-voice"},
		transports: make(map[string]*voicemock.Transport),
	}
	recs := engine.NewRegistry[engine.Recognizer]()
	recs.Register(f.rec)
	syns := engine.NewRegistry[engine.Synthesizer]()
	syns.Register(f.syn)

	f.manager = NewManager(Deps{
		Transport:    f.transport,
		Recognizers:  recs,
		Synthesizers: syns,
		Settings:     f.store,
		Defaults:     defaults,
		Segmenter:    segment.Config{MinFrames: 1},
	})
	t.Cleanup(f.manager.StopAll)
	return f
}

func (f *managerFixture) transport(guildID string) voice.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.transports[guildID]
	if !ok {
		tr = &voicemock.Transport{DialState: voice.StateReady}
		f.transports[guildID] = tr
	}
	return tr
}

func (f *managerFixture) setSetting(t *testing.T, guildID, key string, value any) {
	t.Helper()
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Set(context.Background(), guildID, key, raw); err != nil {
		t.Fatal(err)
	}
}

func TestManager_StartStop(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{Locale: "en-US"})
	ctx := context.Background()

	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	a, ok := f.manager.Get("guild-1")
	if !ok {
		t.Fatal("Get returned no assistant for an active guild")
	}
	if got := a.Status().Channel; got != "voice-1" {
		t.Errorf("Channel = %q, want voice-1", got)
	}

	if err := f.manager.Stop("guild-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := f.manager.Get("guild-1"); ok {
		t.Error("Get returned an assistant after Stop")
	}
}

func TestManager_StartTwiceFails(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{})
	ctx := context.Background()

	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.manager.Start(ctx, "guild-1", "voice-2", "bob"); err == nil {
		t.Fatal("second Start for the same guild succeeded")
	}
}

func TestManager_StartFailureReleasesSlot(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{})
	ctx := context.Background()

	tr := f.transport("guild-1").(*voicemock.Transport)
	tr.DialErr = errors.New("gateway unavailable")

	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err == nil {
		t.Fatal("Start succeeded with a failing transport")
	}

	tr.DialErr = nil
	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start after failed attempt: %v", err)
	}
}

func TestManager_StopUnknownGuild(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{})
	if err := f.manager.Stop("guild-1"); err == nil {
		t.Fatal("Stop succeeded for a guild with no call")
	}
}

func TestManager_GuildsAreIndependent(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{})
	ctx := context.Background()

	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start guild-1: %v", err)
	}
	if err := f.manager.Start(ctx, "guild-2", "voice-9", "bob"); err != nil {
		t.Fatalf("Start guild-2: %v", err)
	}

	if err := f.manager.Stop("guild-1"); err != nil {
		t.Fatalf("Stop guild-1: %v", err)
	}
	if _, ok := f.manager.Get("guild-2"); !ok {
		t.Error("stopping guild-1 affected guild-2")
	}
}

func TestManager_Active(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{})
	ctx := context.Background()

	if got := f.manager.Active(); len(got) != 0 {
		t.Fatalf("Active() = %d entries on an empty manager", len(got))
	}

	before := time.Now()
	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	active := f.manager.Active()
	if len(active) != 1 {
		t.Fatalf("Active() = %d entries, want 1", len(active))
	}
	info := active[0]
	if info.GuildID != "guild-1" || info.ChannelID != "voice-1" || info.StartedBy != "alice" {
		t.Errorf("CallInfo = %+v", info)
	}
	if info.StartedAt.Before(before.Add(-time.Second)) {
		t.Errorf("StartedAt = %v, too old", info.StartedAt)
	}
}

func TestManager_GuildSettingsOverrideDefaults(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{Locale: "en-US", Speed: 1})
	ctx := context.Background()

	f.setSetting(t, "guild-1", keyLocale, "de-DE")
	f.setSetting(t, "guild-1", keyVoice, "zoe")
	f.setSetting(t, "guild-1", keySpeed, 1.25)
	f.setSetting(t, "guild-1", keyPitch, 0.75)

	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a, _ := f.manager.Get("guild-1")

	cfg := a.Config()
	if cfg.Locale != "de-DE" || cfg.Voice != "zoe" || cfg.Speed != 1.25 || cfg.Pitch != 0.75 {
		t.Errorf("merged config = %+v", cfg)
	}

	// A guild without overrides keeps the defaults.
	if err := f.manager.Start(ctx, "guild-2", "voice-1", "bob"); err != nil {
		t.Fatalf("Start guild-2: %v", err)
	}
	b, _ := f.manager.Get("guild-2")
	if cfg := b.Config(); cfg.Locale != "en-US" || cfg.Voice != "" {
		t.Errorf("default config = %+v", cfg)
	}
}

func TestManager_SetLocalePersistsAndApplies(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{Locale: "en-US"})
	ctx := context.Background()

	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.manager.SetLocale(ctx, "guild-1", "fr-FR"); err != nil {
		t.Fatalf("SetLocale: %v", err)
	}

	a, _ := f.manager.Get("guild-1")
	if got := a.Config().Locale; got != "fr-FR" {
		t.Errorf("live config Locale = %q, want fr-FR", got)
	}

	// The override survives the call: a restarted call picks it back up.
	if err := f.manager.Stop("guild-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	a, _ = f.manager.Get("guild-1")
	if got := a.Config().Locale; got != "fr-FR" {
		t.Errorf("restarted config Locale = %q, want fr-FR", got)
	}
}

func TestManager_SetVoiceWithoutActiveCall(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{})
	ctx := context.Background()

	if err := f.manager.SetVoice(ctx, "guild-1", "zoe"); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}

	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a, _ := f.manager.Get("guild-1")
	if got := a.Config().Voice; got != "zoe" {
		t.Errorf("Voice = %q, want zoe", got)
	}
}

func TestManager_ApplyDefaults(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{Locale: "en-US"})
	ctx := context.Background()

	f.setSetting(t, "guild-2", keyLocale, "de-DE")
	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start guild-1: %v", err)
	}
	if err := f.manager.Start(ctx, "guild-2", "voice-1", "bob"); err != nil {
		t.Fatalf("Start guild-2: %v", err)
	}

	f.manager.ApplyDefaults(ctx, assistant.Config{Locale: "es-ES", Speed: 2})

	a, _ := f.manager.Get("guild-1")
	if cfg := a.Config(); cfg.Locale != "es-ES" || cfg.Speed != 2 {
		t.Errorf("guild-1 config = %+v", cfg)
	}

	// Per-guild overrides still win over the new defaults.
	b, _ := f.manager.Get("guild-2")
	if cfg := b.Config(); cfg.Locale != "de-DE" || cfg.Speed != 2 {
		t.Errorf("guild-2 config = %+v", cfg)
	}
}

func TestManager_TranscriptsCarryGuildID(t *testing.T) {
	type transcript struct {
		guild, speaker, dest, text string
	}
	got := make(chan transcript, 1)

	f := newManagerFixture(t, assistant.Config{})
	f.manager.deps.OnTranscript = func(guildID, speaker, destination, text string) {
		got <- transcript{guildID, speaker, destination, text}
	}
	ctx := context.Background()

	if err := f.manager.Start(ctx, "guild-1", "voice-1", "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tr := f.transport("guild-1").(*voicemock.Transport)
	conn := tr.Conns()[0]
	conn.Deliver(voice.AudioFrame{Speaker: "alice", Data: []byte{1}, Arrived: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for len(f.rec.Requests()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("segment never reached the recognizer")
		}
		time.Sleep(5 * time.Millisecond)
	}
	seg := f.rec.Requests()[0].Segment
	seg.Result("hi", true)
	seg.End()

	select {
	case tx := <-got:
		if tx.guild != "guild-1" || tx.speaker != "alice" || tx.text != "hi" {
			t.Errorf("transcript = %+v", tx)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript hook never fired")
	}
}

func TestManager_StopAll(t *testing.T) {
	f := newManagerFixture(t, assistant.Config{})
	ctx := context.Background()

	for _, g := range []string{"guild-1", "guild-2", "guild-3"} {
		if err := f.manager.Start(ctx, g, "voice-1", "alice"); err != nil {
			t.Fatalf("Start %s: %v", g, err)
		}
	}

	f.manager.StopAll()
	if got := f.manager.Active(); len(got) != 0 {
		t.Fatalf("Active() = %d entries after StopAll", len(got))
	}
}

package voicecmd

import (
	"context"
	"testing"
	"time"

	"github.com/vocifer/vocifer/internal/assistant"
	"github.com/vocifer/vocifer/internal/engine"
	enginemock "github.com/vocifer/vocifer/internal/engine/mock"
	"github.com/vocifer/vocifer/pkg/voice"
	voicemock "github.com/vocifer/vocifer/pkg/voice/mock"
)

type fixture struct {
	transport *voicemock.Transport
	syn       *enginemock.Synthesizer
	assistant *assistant.Assistant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transport: &voicemock.Transport{DialState: voice.StateReady},
		syn:       &enginemock.Synthesizer{EngineName: "coqui", Fallback: "default-voice"},
	}
	recs := engine.NewRegistry[engine.Recognizer]()
	recs.Register(&enginemock.Recognizer{EngineName: "webspeech"})
	syns := engine.NewRegistry[engine.Synthesizer]()
	syns.Register(f.syn)

	f.assistant = assistant.New(f.transport, assistant.Config{Locale: "en-US"}, recs, syns, assistant.Hooks{})
	t.Cleanup(f.assistant.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.assistant.Join(ctx, voice.JoinOptions{ChannelID: "voice-1"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return f
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFilter_IgnoresOtherSpeakers(t *testing.T) {
	f := newFixture(t)
	filter := New("operator-1")

	matched, err := filter.Check("someone-else", "say hello", f.assistant)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if matched {
		t.Error("command from a non-operator matched")
	}
	if len(f.syn.Requests()) != 0 {
		t.Error("synthesizer was invoked for a non-operator transcript")
	}
}

func TestFilter_EmptyOperatorMatchesNoOne(t *testing.T) {
	f := newFixture(t)
	filter := New("")

	matched, err := filter.Check("operator-1", "say hello", f.assistant)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if matched {
		t.Error("filter with empty operator matched a transcript")
	}
}

func TestFilter_SayCommand(t *testing.T) {
	f := newFixture(t)
	filter := New("operator-1")

	matched, err := filter.Check("operator-1", "say welcome everyone", f.assistant)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !matched {
		t.Fatal("say command did not match")
	}

	waitFor(t, func() bool { return len(f.syn.Requests()) == 1 },
		"say command never reached the synthesizer")
	if got := f.syn.Requests()[0].Text; got != "welcome everyone" {
		t.Errorf("Text = %q, want %q", got, "welcome everyone")
	}
}

func TestFilter_SayWithWakeWord(t *testing.T) {
	f := newFixture(t)
	filter := New("operator-1")

	matched, err := filter.Check("operator-1", "assistant, say good morning", f.assistant)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !matched {
		t.Fatal("wake-word say command did not match")
	}

	waitFor(t, func() bool { return len(f.syn.Requests()) == 1 },
		"say command never reached the synthesizer")
	if got := f.syn.Requests()[0].Text; got != "good morning" {
		t.Errorf("Text = %q, want %q", got, "good morning")
	}
}

func TestFilter_SkipAndQuietMatch(t *testing.T) {
	f := newFixture(t)
	filter := New("operator-1")

	// Nothing is playing, so the actions report a no-op result, but the
	// pattern still counts as matched.
	for _, text := range []string{"skip", "next", "Skip that", "be quiet", "stop talking", "QUIET"} {
		matched, err := filter.Check("operator-1", text, f.assistant)
		if err != nil {
			t.Errorf("Check(%q): %v", text, err)
		}
		if !matched {
			t.Errorf("Check(%q) did not match", text)
		}
	}
}

func TestFilter_LeaveCommand(t *testing.T) {
	f := newFixture(t)
	filter := New("operator-1")

	matched, err := filter.Check("operator-1", "hang up", f.assistant)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !matched {
		t.Fatal("leave command did not match")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn := f.transport.Conns()[0]
	if err := conn.WaitState(ctx, voice.StateDestroyed); err != nil {
		t.Fatalf("connection was not torn down after leave: %v", err)
	}
}

func TestFilter_NoMatchPassesThrough(t *testing.T) {
	f := newFixture(t)
	filter := New("operator-1")

	for _, text := range []string{"hello everyone", "let's say hi later", "", "   "} {
		matched, err := filter.Check("operator-1", text, f.assistant)
		if err != nil {
			t.Errorf("Check(%q): %v", text, err)
		}
		if matched {
			t.Errorf("Check(%q) matched unexpectedly", text)
		}
	}
}

func TestFilter_ActionErrorIsWrapped(t *testing.T) {
	f := newFixture(t)
	f.syn.Inactive = true
	filter := New("operator-1")

	matched, err := filter.Check("operator-1", "say hello", f.assistant)
	if !matched {
		t.Fatal("say command did not match")
	}
	if err == nil {
		t.Fatal("expected error with no active synthesizer")
	}
}

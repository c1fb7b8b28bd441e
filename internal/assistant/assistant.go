// Package assistant orchestrates one voice call end to end: it joins the
// call, feeds inbound frames to the segmenter, routes finished segments to a
// recognition engine, and turns reply text into queued playback audio.
//
// One [Assistant] serves one call (one guild). Independent assistants share
// nothing and run concurrently.
package assistant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vocifer/vocifer/internal/engine"
	"github.com/vocifer/vocifer/internal/notify"
	"github.com/vocifer/vocifer/internal/observe"
	"github.com/vocifer/vocifer/internal/pipeline/call"
	"github.com/vocifer/vocifer/internal/pipeline/segment"
	"github.com/vocifer/vocifer/pkg/voice"
)

// Config holds the per-call defaults an assistant applies to recognition and
// synthesis requests. All fields may be updated at runtime via
// [Assistant.SetConfig].
type Config struct {
	// RecognizerName selects a recognition engine by name. Empty falls
	// through to locale matching.
	RecognizerName string

	// Locale is the recognition locale and the synthesis voice-selection
	// locale (e.g. "en-US").
	Locale string

	// Interim requests interim transcript results from the recognizer.
	Interim bool

	// SynthesizerName selects a synthesis engine by name. Empty falls
	// through to the first active engine.
	SynthesizerName string

	// Voice is the synthesis voice id. Empty uses the engine's per-locale
	// default.
	Voice string

	// Speed is the playback speed factor for synthesized audio. Zero means
	// normal speed.
	Speed float64

	// Pitch is the voice pitch factor for synthesized audio. Zero means
	// normal pitch.
	Pitch float64
}

// Hooks are the assistant's outbound notifications. All fields are optional.
// Callbacks run on pipeline goroutines and must not block.
type Hooks struct {
	// OnTranscript fires once per successfully recognized segment with the
	// full finalized transcript. destination is where the segment's results
	// were directed, defaulting to the speaker.
	OnTranscript func(speaker, destination, text string)

	// OnJoin fires after the call connects. rejoin is true for automatic
	// re-attempts after a drop.
	OnJoin func(channelID string, rejoin bool)

	// OnLeave fires after the call ends. willRejoin is true when an
	// automatic rejoin is scheduled.
	OnLeave func(willRejoin bool)

	// OnError receives recovered pipeline errors, rate-limited by the
	// assistant's guard.
	OnError func(error)
}

// Status is the read-only availability snapshot of an assistant.
type Status struct {
	// Connection is the call lifecycle state.
	Connection call.Status

	// Channel is the live call's target, or "" when disconnected.
	Channel string

	// QueueLen is the number of queued playback items.
	QueueLen int

	// Recognition reports whether at least one recognition engine is active.
	Recognition bool

	// Synthesis reports whether at least one synthesis engine is active.
	Synthesis bool
}

// Assistant wires the segmenter, the recognition registry, the synthesis
// registry, and one call connection together. Safe for concurrent use.
type Assistant struct {
	recognizers  *engine.Registry[engine.Recognizer]
	synthesizers *engine.Registry[engine.Synthesizer]
	hooks        Hooks
	guard        *notify.Guard
	metrics      *observe.Metrics

	tr        voice.Transport
	conn      *call.Connection
	segmenter *segment.Segmenter

	mu   sync.Mutex
	cfg  Config
	live voice.Conn
}

// Option configures an Assistant at construction time.
type Option func(*Assistant)

// WithMetrics attaches metric instruments. Without it no metrics are
// recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithSegmenterConfig overrides the segmentation tuning knobs.
func WithSegmenterConfig(cfg segment.Config) Option {
	return func(a *Assistant) {
		a.segmenter = segment.NewSegmenter(cfg, a.onSegment)
	}
}

// WithCallConfig overrides the call connection tuning knobs.
func WithCallConfig(cfg call.Config) Option {
	return func(a *Assistant) {
		a.conn = call.New(a.tr, cfg, a.callHooks())
	}
}

// New creates an assistant that dials calls through transport and applies
// cfg's defaults to every recognition and synthesis request.
func New(transport voice.Transport, cfg Config,
	recognizers *engine.Registry[engine.Recognizer],
	synthesizers *engine.Registry[engine.Synthesizer],
	hooks Hooks, opts ...Option,
) *Assistant {
	a := &Assistant{
		recognizers:  recognizers,
		synthesizers: synthesizers,
		hooks:        hooks,
		cfg:          cfg,
	}
	a.guard = notify.NewGuard(func(err error) {
		if a.hooks.OnError != nil {
			a.hooks.OnError(err)
		}
	})
	a.segmenter = segment.NewSegmenter(segment.Config{}, a.onSegment)
	a.tr = transport
	a.conn = call.New(transport, call.Config{}, a.callHooks())
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Join connects to the channel in opts and starts the inbound audio pipeline.
func (a *Assistant) Join(ctx context.Context, opts voice.JoinOptions) error {
	return a.conn.Join(ctx, opts)
}

// Leave ends the call deliberately. No rejoin is scheduled.
func (a *Assistant) Leave() {
	a.conn.Leave()
}

// Close ends the call and stops the inbound pipeline. The engine registries
// are shared across assistants and stay untouched; their owner closes them.
// The assistant cannot be reused.
func (a *Assistant) Close() {
	a.conn.Close()
	a.segmenter.Disable()
}

// SetConfig replaces the per-call defaults. In-flight segments keep the
// parameters they started with.
func (a *Assistant) SetConfig(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

// Config returns the current per-call defaults.
func (a *Assistant) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Status returns the read-only availability snapshot.
func (a *Assistant) Status() Status {
	_, rec := a.recognizers.Lookup("", nil)
	_, syn := a.synthesizers.Lookup("", nil)
	return Status{
		Connection:  a.conn.Status(),
		Channel:     a.conn.Target(),
		QueueLen:    a.conn.Len(),
		Recognition: rec,
		Synthesis:   syn,
	}
}

// Speak synthesizes text and enqueues it for playback on the live call.
// Returns false when no call is connected or no synthesis engine is active.
// Audio generation is asynchronous; the playback queue skips the item if
// generation fails or never becomes ready.
func (a *Assistant) Speak(text string) bool {
	cfg := a.Config()
	syn, ok := a.synthesizers.Lookup(cfg.SynthesizerName, nil)
	if !ok {
		return false
	}

	voiceID := cfg.Voice
	if voiceID == "" {
		voiceID = syn.DefaultVoice(cfg.Locale)
	}

	item := call.NewItem(func(ctx context.Context) (io.Reader, error) {
		start := time.Now()
		r, err := syn.Generate(ctx, engine.SpeechRequest{
			Text:   text,
			Voice:  voiceID,
			Locale: cfg.Locale,
			Speed:  cfg.Speed,
			Pitch:  cfg.Pitch,
		})
		if err != nil {
			return nil, fmt.Errorf("assistant: synthesize: %w", err)
		}
		if a.metrics != nil {
			a.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
		}
		return r, nil
	})

	enqueued := time.Now()
	item.OnStart(func() {
		if a.metrics != nil {
			a.metrics.PlaybackWait.Record(context.Background(), time.Since(enqueued).Seconds())
		}
	})
	return a.conn.Play(item)
}

// Play enqueues pre-rendered or externally generated audio for playback.
func (a *Assistant) Play(item *call.Item) bool {
	return a.conn.Play(item)
}

// Next skips the currently playing item.
func (a *Assistant) Next() bool { return a.conn.Next() }

// Stop halts playback and clears the queue.
func (a *Assistant) Stop() bool { return a.conn.Stop() }

// Transcribe routes seg to a recognition engine using the current defaults.
// Returns false when no suitable engine is active; the segment is aborted in
// that case so its owner observes an outcome.
func (a *Assistant) Transcribe(seg *segment.Segment) bool {
	cfg := a.Config()
	rec, ok := a.recognizers.Lookup(cfg.RecognizerName, func(r engine.Recognizer) bool {
		return engine.SupportsLocale(r, cfg.Locale)
	})
	if !ok {
		seg.Abort()
		return false
	}
	if !rec.Transcribe(engine.RecognitionRequest{
		Segment: seg,
		Locale:  cfg.Locale,
		Interim: cfg.Interim,
	}) {
		seg.Abort()
		return false
	}
	return true
}

// onSegment is the segmenter's promotion callback: a speaker has been
// confirmed speaking and seg is open.
func (a *Assistant) onSegment(seg *segment.Segment) {
	created := time.Now()
	seg.SetHooks(segment.Hooks{
		OnEnd: func() {
			if a.metrics != nil {
				a.metrics.RecordSegment(context.Background(), "finished", time.Since(created).Seconds())
			}
			text := seg.Transcript()
			if text == "" {
				return
			}
			slog.Debug("transcript ready", "speaker", seg.Speaker, "segment", seg.ID)
			if a.hooks.OnTranscript != nil {
				a.hooks.OnTranscript(seg.Speaker, seg.Destination(), text)
			}
		},
		OnAbort: func() {
			if a.metrics != nil {
				a.metrics.RecordSegment(context.Background(), "aborted", 0)
			}
		},
	})
	a.Transcribe(seg)
}

// callHooks builds the connection hooks that bridge call lifecycle into the
// audio pipeline.
func (a *Assistant) callHooks() call.Hooks {
	return call.Hooks{
		OnJoin: func(conn voice.Conn, rejoin bool) {
			// A recovered reconnect re-announces the connection the pipeline
			// is already pumping; only fresh connections start a new pump.
			a.mu.Lock()
			fresh := a.live != conn
			a.live = conn
			a.mu.Unlock()

			if fresh {
				_, haveRecognition := a.recognizers.Lookup("", nil)
				if haveRecognition {
					a.segmenter.Enable()
					go a.pumpFrames(conn)
				}
				if a.metrics != nil {
					a.metrics.ActiveCalls.Add(context.Background(), 1)
				}
			}
			if a.metrics != nil && rejoin {
				a.metrics.RecordReconnect(context.Background(), "rejoined")
			}
			if a.hooks.OnJoin != nil {
				a.hooks.OnJoin(conn.Target(), rejoin)
			}
		},
		OnLeave: func(willRejoin bool) {
			a.mu.Lock()
			a.live = nil
			a.mu.Unlock()
			a.segmenter.Disable()
			if a.metrics != nil {
				a.metrics.ActiveCalls.Add(context.Background(), -1)
			}
			if a.hooks.OnLeave != nil {
				a.hooks.OnLeave(willRejoin)
			}
		},
		OnError: a.guard.Report,
	}
}

// pumpFrames forwards the connection's inbound frames to the segmenter until
// the frame channel closes (connection destroyed).
func (a *Assistant) pumpFrames(conn voice.Conn) {
	for f := range conn.Frames() {
		a.segmenter.Push(f)
	}
}

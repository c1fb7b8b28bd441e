package segment

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vocifer/vocifer/pkg/voice"
)

// Default segmentation parameters. A speaker must produce [DefaultMinFrames]
// contiguous frames within [DefaultResetWindow] to count as speech rather
// than noise; an open segment closes after [DefaultFinishAfter] of silence or
// when the local frame cadence shows a gap larger than [DefaultGapThreshold]
// across the last [DefaultGapFrames] arrivals.
const (
	DefaultMinFrames    = 50
	DefaultResetWindow  = 300 * time.Millisecond
	DefaultFinishAfter  = 1000 * time.Millisecond
	DefaultGapFrames    = 10
	DefaultGapThreshold = 1000 * time.Millisecond
)

// Config holds tuning knobs for a [Segmenter]. Zero-value fields are replaced
// with the package defaults.
type Config struct {
	// MinFrames is the number of buffered frames required before a speaker is
	// considered to be speaking.
	MinFrames int

	// ResetWindow is how long the pre-roll buffer may sit below MinFrames
	// before it is discarded as noise.
	ResetWindow time.Duration

	// FinishAfter is the silence duration after which an open segment closes.
	FinishAfter time.Duration

	// GapFrames is the number of recent frame timestamps inspected for
	// cadence gaps.
	GapFrames int

	// GapThreshold is the maximum spread across the inspected timestamps
	// before the segment is closed.
	GapThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinFrames <= 0 {
		c.MinFrames = DefaultMinFrames
	}
	if c.ResetWindow <= 0 {
		c.ResetWindow = DefaultResetWindow
	}
	if c.FinishAfter <= 0 {
		c.FinishAfter = DefaultFinishAfter
	}
	if c.GapFrames <= 0 {
		c.GapFrames = DefaultGapFrames
	}
	if c.GapThreshold <= 0 {
		c.GapThreshold = DefaultGapThreshold
	}
	return c
}

// Segmenter converts per-speaker [voice.AudioFrame] streams into [Segment]
// boundaries using frame-arrival timing alone. At most one segment per
// speaker is open at any instant; a new one cannot start until the previous
// segment's stream has closed.
//
// Segmenter is safe for concurrent use; frames for one speaker must arrive in
// order (the transport guarantees this).
type Segmenter struct {
	cfg       Config
	onSegment func(*Segment)

	mu       sync.Mutex
	enabled  bool
	speakers map[string]*speakerState
}

// speakerState is the per-speaker capture state. Guarded by its own mutex so
// independent speakers never contend.
type speakerState struct {
	mu          sync.Mutex
	preroll     [][]byte
	resetTimer  *time.Timer
	finishTimer *time.Timer
	frameTimes  []time.Time
	current     *Segment
}

// NewSegmenter creates a Segmenter that invokes onSegment once per promoted
// segment, at promotion time. The segmenter starts disabled.
func NewSegmenter(cfg Config, onSegment func(*Segment)) *Segmenter {
	return &Segmenter{
		cfg:       cfg.withDefaults(),
		onSegment: onSegment,
		speakers:  make(map[string]*speakerState),
	}
}

// Enable starts accepting frames.
func (sg *Segmenter) Enable() {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	sg.enabled = true
}

// Disable stops accepting frames and resets all per-speaker capture state.
// Open segments are closed so downstream readers observe EOF.
func (sg *Segmenter) Disable() {
	sg.mu.Lock()
	sg.enabled = false
	states := make([]*speakerState, 0, len(sg.speakers))
	for _, st := range sg.speakers {
		states = append(states, st)
	}
	sg.speakers = make(map[string]*speakerState)
	sg.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		sg.finishLocked(st)
		stopTimer(st.resetTimer)
		st.preroll = nil
		st.mu.Unlock()
	}
}

// Enabled reports whether the segmenter is accepting frames.
func (sg *Segmenter) Enabled() bool {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.enabled
}

// Push feeds one inbound frame into the segmenter. Zero-length frames are
// dropped silently.
func (sg *Segmenter) Push(f voice.AudioFrame) {
	if len(f.Data) == 0 {
		return
	}
	if f.Arrived.IsZero() {
		f.Arrived = time.Now()
	}

	sg.mu.Lock()
	if !sg.enabled {
		sg.mu.Unlock()
		return
	}
	st, ok := sg.speakers[f.Speaker]
	if !ok {
		st = &speakerState{}
		sg.speakers[f.Speaker] = st
	}
	sg.mu.Unlock()

	var created *Segment

	st.mu.Lock()
	if st.current != nil {
		sg.appendLocked(st, f)
		st.mu.Unlock()
		return
	}

	stopTimer(st.resetTimer)
	st.preroll = append(st.preroll, f.Data)
	if len(st.preroll) < sg.cfg.MinFrames {
		st.resetTimer = time.AfterFunc(sg.cfg.ResetWindow, func() {
			st.mu.Lock()
			if st.current == nil {
				st.preroll = nil
			}
			st.mu.Unlock()
		})
		st.mu.Unlock()
		return
	}

	// Enough contiguous audio: promote the pre-roll buffer to a segment.
	seg := New(f.Speaker)
	for _, chunk := range st.preroll {
		seg.Stream().Write(chunk)
	}
	st.preroll = nil
	st.current = seg
	st.frameTimes = append(st.frameTimes[:0], f.Arrived)
	sg.armFinishTimer(st, seg)
	created = seg
	st.mu.Unlock()

	slog.Debug("segment created", "speaker", created.Speaker, "segment", created.ID)
	if sg.onSegment != nil {
		sg.onSegment(created)
	}
}

// appendLocked handles a frame while a segment is open. Must be called with
// st.mu held.
func (sg *Segmenter) appendLocked(st *speakerState, f voice.AudioFrame) {
	stopTimer(st.finishTimer)

	st.frameTimes = append(st.frameTimes, f.Arrived)
	if len(st.frameTimes) > sg.cfg.GapFrames {
		st.frameTimes = st.frameTimes[1:]
	}
	spread := st.frameTimes[len(st.frameTimes)-1].Sub(st.frameTimes[0])
	if spread > sg.cfg.GapThreshold {
		// Local cadence gap: the frame belongs to a new utterance.
		sg.finishLocked(st)
		return
	}

	if !st.current.Aborted() {
		st.current.Append(f.Data)
	}
	sg.armFinishTimer(st, st.current)
}

// armFinishTimer (re)arms the silence timer for seg. Must be called with
// st.mu held.
func (sg *Segmenter) armFinishTimer(st *speakerState, seg *Segment) {
	st.finishTimer = time.AfterFunc(sg.cfg.FinishAfter, func() {
		st.mu.Lock()
		if st.current == seg {
			sg.finishLocked(st)
		}
		st.mu.Unlock()
	})
}

// finishLocked closes the open segment, if any. Must be called with st.mu
// held.
func (sg *Segmenter) finishLocked(st *speakerState) {
	if st.current == nil {
		return
	}
	stopTimer(st.finishTimer)
	seg := st.current
	st.current = nil
	st.frameTimes = nil
	seg.Stream().Close()
	slog.Debug("segment finished", "speaker", seg.Speaker, "segment", seg.ID)
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

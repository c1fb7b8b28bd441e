package discord

import (
	"math"
	"sort"
	"sync"
	"time"
)

// PipelineStats collects pipeline latency samples and counter values for the
// status embed. It maintains a bounded ring buffer of recent latency
// observations from which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type PipelineStats struct {
	mu sync.Mutex

	recognition latencyBuffer
	synthesis   latencyBuffer
	playback    latencyBuffer

	transcripts int64
	errors      int64
}

// NewPipelineStats creates a PipelineStats with the given window size
// (maximum number of latency samples retained per stage).
func NewPipelineStats(windowSize int) *PipelineStats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &PipelineStats{
		recognition: newLatencyBuffer(windowSize),
		synthesis:   newLatencyBuffer(windowSize),
		playback:    newLatencyBuffer(windowSize),
	}
}

// RecordRecognition records a segment-open-to-transcript latency sample.
func (ps *PipelineStats) RecordRecognition(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.recognition.add(d)
}

// RecordSynthesis records a text-to-audio generation latency sample.
func (ps *PipelineStats) RecordSynthesis(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.synthesis.add(d)
}

// RecordPlaybackWait records an enqueue-to-playback-start latency sample.
func (ps *PipelineStats) RecordPlaybackWait(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.playback.add(d)
}

// IncrTranscripts increments the delivered-transcript counter.
func (ps *PipelineStats) IncrTranscripts() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.transcripts++
}

// IncrErrors increments the error counter.
func (ps *PipelineStats) IncrErrors() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.errors++
}

// LatencyPercentiles holds p50 and p95 values for a latency stage.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot captures a point-in-time view of all pipeline statistics.
type Snapshot struct {
	Recognition LatencyPercentiles
	Synthesis   LatencyPercentiles
	Playback    LatencyPercentiles
	Transcripts int64
	Errors      int64
}

// Snapshot returns a point-in-time view of all pipeline statistics.
func (ps *PipelineStats) Snapshot() Snapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	return Snapshot{
		Recognition: ps.recognition.percentiles(),
		Synthesis:   ps.synthesis.percentiles(),
		Playback:    ps.playback.percentiles(),
		Transcripts: ps.transcripts,
		Errors:      ps.errors,
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	sorted := make([]time.Duration, n)
	if lb.full {
		copy(sorted, lb.data)
	} else {
		copy(sorted, lb.data[:n])
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

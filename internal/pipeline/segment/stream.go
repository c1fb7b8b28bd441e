package segment

import "sync"

// Stream is the append-only byte stream of one [Segment]. Writes never block:
// chunks accumulate in memory until the reader consumes them. The writer side
// closes the stream when the utterance ends; the reader then drains any
// remaining chunks before observing EOF.
//
// Stream is safe for concurrent use by one writer and one reader.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	closed bool
}

// NewStream creates an empty, open stream.
func NewStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write appends a copy of p to the stream. Writes after Close are dropped.
func (s *Stream) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	s.chunks = append(s.chunks, chunk)
	s.cond.Signal()
}

// Close marks the end of the stream. Buffered chunks remain readable.
// Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cond.Broadcast()
}

// Next blocks until a chunk is available or the stream is closed and drained.
// It returns (chunk, true) for each buffered chunk and (nil, false) at EOF.
func (s *Stream) Next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chunks) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.chunks) == 0 {
		return nil, false
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, true
}

// Closed reports whether Close has been called. Buffered chunks may still be
// pending even when Closed returns true.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Buffered returns the number of chunks not yet consumed by the reader.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

package discord

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Compile-time interface assertion is in conn.go via voice.Conn.

// Sink encodes 48 kHz mono little-endian 16-bit PCM to Opus and paces it onto
// the voice connection at the 20 ms frame cadence Discord expects.
//
// Sink is safe for concurrent use.
type Sink struct {
	send     chan<- []byte
	speaking func(bool) error
	done     <-chan struct{}

	mu     sync.Mutex
	cur    *playStream
	idleCb func()
}

// playStream is one Play invocation's lifetime.
type playStream struct {
	stop chan struct{}
	once sync.Once
}

func (p *playStream) halt() { p.once.Do(func() { close(p.stop) }) }

func newSink(send chan<- []byte, speaking func(bool) error, done <-chan struct{}) *Sink {
	return &Sink{
		send:     send,
		speaking: speaking,
		done:     done,
	}
}

// Play starts emitting the audio read from r, replacing any stream currently
// playing. The replaced stream does not produce an idle notification.
func (s *Sink) Play(r io.Reader) error {
	select {
	case <-s.done:
		return errors.New("discord: connection closed")
	default:
	}

	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	stream := &playStream{stop: make(chan struct{})}
	s.mu.Lock()
	prev := s.cur
	s.cur = stream
	s.mu.Unlock()
	if prev != nil {
		prev.halt()
	}

	go s.playLoop(stream, r, enc)
	return nil
}

// Stop halts the current stream, if any. The halted stream still produces an
// idle notification.
func (s *Sink) Stop() {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur != nil {
		cur.halt()
	}
}

// OnIdle registers cb to be invoked whenever the sink finishes or halts a
// stream. Only one callback may be registered; subsequent calls replace the
// previous one.
func (s *Sink) OnIdle(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleCb = cb
}

// playLoop reads PCM from r in frame-sized chunks, encodes each to Opus, and
// sends at the Opus frame cadence until the reader drains or the stream is
// halted.
func (s *Sink) playLoop(stream *playStream, r io.Reader, enc *opusEncoder) {
	if err := s.speaking(true); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", true, "error", err)
	}

	// One 20 ms frame of mono s16le PCM.
	buf := make([]byte, opusFrameSize*2)
	ticker := time.NewTicker(opusFrameSizeMs * time.Millisecond)

	defer func() {
		ticker.Stop()
		if err := s.speaking(false); err != nil {
			slog.Warn("discord: speaking notification error", "speaking", false, "error", err)
		}
		s.finish(stream)
	}()

	for {
		n, err := io.ReadFull(r, buf)
		if n == 0 {
			return
		}
		if err != nil {
			// Short final frame. Pad with silence so the encoder gets a full
			// frame, then stop after sending it.
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
		}

		opus, encErr := enc.encode(monoToStereo(buf))
		if encErr != nil {
			slog.Warn("discord: opus encode error", "error", encErr)
			return
		}

		select {
		case <-stream.stop:
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		select {
		case s.send <- opus:
		case <-stream.stop:
			return
		case <-s.done:
			return
		}

		if err != nil {
			return
		}
	}
}

// finish clears the current stream and fires the idle callback, unless the
// stream was already replaced by a newer Play.
func (s *Sink) finish(stream *playStream) {
	s.mu.Lock()
	if s.cur != stream {
		s.mu.Unlock()
		return
	}
	s.cur = nil
	cb := s.idleCb
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

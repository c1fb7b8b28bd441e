package recognition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vocifer/vocifer/internal/pipeline/segment"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// fakeSession is an in-memory [Session]. With autoStart set it confirms every
// Start immediately, like a healthy engine; Stop and Finalize always confirm
// with OnStop.
type fakeSession struct {
	autoStart bool
	startErr  error
	setupErr  error

	mu        sync.Mutex
	hooks     SessionHooks
	active    bool
	starts    []string
	fed       int
	stops     int
	finalizes int
}

func (s *fakeSession) SetHooks(h SessionHooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

func (s *fakeSession) emit() SessionHooks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hooks
}

func (s *fakeSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *fakeSession) setActive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = v
}

func (s *fakeSession) Setup(context.Context) error {
	if s.setupErr != nil {
		return s.setupErr
	}
	s.setActive(true)
	return nil
}

func (s *fakeSession) Start(locale string, interim bool) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.starts = append(s.starts, locale)
	h := s.hooks
	s.mu.Unlock()
	if s.autoStart && h.OnStart != nil {
		h.OnStart()
	}
	return nil
}

func (s *fakeSession) Feed([]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fed++
	return nil
}

func (s *fakeSession) Finalize() error {
	s.mu.Lock()
	s.finalizes++
	h := s.hooks
	s.mu.Unlock()
	if h.OnStop != nil {
		h.OnStop()
	}
	return nil
}

func (s *fakeSession) Stop() error {
	s.mu.Lock()
	s.stops++
	h := s.hooks
	s.mu.Unlock()
	if h.OnStop != nil {
		h.OnStop()
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.setActive(false)
	return nil
}

func (s *fakeSession) counts() (starts, fed, stops, finalizes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.starts), s.fed, s.stops, s.finalizes
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(packet []byte) ([]float32, error) {
	return make([]float32, len(packet)), nil
}

func newTestWorker(id string, fs *fakeSession, onError func(error)) *Worker {
	w := NewWorker(id, fs, onError)
	w.newDecoder = func() (frameDecoder, error) { return fakeDecoder{}, nil }
	return w
}

func TestWorker_TranscribesSegmentEndToEnd(t *testing.T) {
	fs := &fakeSession{autoStart: true}
	w := newTestWorker("w1", fs, nil)

	seg := segment.New("alice")
	seg.Stream().Write([]byte{1, 2})
	seg.Stream().Write([]byte{3, 4})

	w.Enqueue(Request{Segment: seg, Locale: "de-DE"})
	waitFor(t, "audio to reach the session", func() bool {
		_, fed, _, _ := fs.counts()
		return fed == 2
	})

	fs.emit().OnResult("hallo", false) // interim, not recorded
	fs.emit().OnResult("hallo welt", true)

	seg.Stream().Close()
	waitFor(t, "segment end", func() bool { return seg.Ended() })

	if got := seg.Transcript(); got != "hallo welt" {
		t.Fatalf("Transcript() = %q", got)
	}
	starts, _, _, finalizes := fs.counts()
	if starts != 1 || finalizes != 1 {
		t.Fatalf("starts = %d, finalizes = %d", starts, finalizes)
	}
	if got := fs.starts[0]; got != "de-DE" {
		t.Fatalf("started locale %q", got)
	}
	if w.Queued() != 0 {
		t.Fatalf("Queued() = %d after completion", w.Queued())
	}
}

func TestWorker_DefaultLocale(t *testing.T) {
	fs := &fakeSession{autoStart: true}
	w := newTestWorker("w1", fs, nil)

	seg := segment.New("alice")
	seg.Stream().Close()
	w.Enqueue(Request{Segment: seg})
	waitFor(t, "segment end", func() bool { return seg.Ended() })

	if got := fs.starts[0]; got != DefaultLocale {
		t.Fatalf("started locale %q, want %q", got, DefaultLocale)
	}
}

func TestWorker_ProcessesRequestsInOrder(t *testing.T) {
	fs := &fakeSession{autoStart: true}
	w := newTestWorker("w1", fs, nil)

	first := segment.New("alice")
	second := segment.New("bob")
	first.Stream().Write([]byte{1})
	second.Stream().Write([]byte{2})
	second.Stream().Close()

	w.Enqueue(Request{Segment: first})
	w.Enqueue(Request{Segment: second})

	// The second request must not start while the first is still open.
	time.Sleep(30 * time.Millisecond)
	if starts, _, _, _ := fs.counts(); starts != 1 {
		t.Fatalf("starts = %d while first request active", starts)
	}
	if second.Ended() {
		t.Fatal("second segment ended before first finished")
	}

	first.Stream().Close()
	waitFor(t, "both segments to end", func() bool { return first.Ended() && second.Ended() })
	if starts, _, _, _ := fs.counts(); starts != 2 {
		t.Fatalf("starts = %d, want 2", starts)
	}
}

func TestWorker_AbortStopsEngineAndAdvances(t *testing.T) {
	fs := &fakeSession{autoStart: true}
	w := newTestWorker("w1", fs, nil)

	first := segment.New("alice")
	first.Stream().Write([]byte{1})
	second := segment.New("bob")
	second.Stream().Close()

	w.Enqueue(Request{Segment: first})
	w.Enqueue(Request{Segment: second})
	waitFor(t, "first feed", func() bool {
		_, fed, _, _ := fs.counts()
		return fed == 1
	})

	first.Abort()
	waitFor(t, "second segment to end", func() bool { return second.Ended() })

	if first.Ended() {
		t.Fatal("aborted segment ended normally")
	}
	_, _, stops, finalizes := fs.counts()
	if stops == 0 {
		t.Fatal("abort did not stop the engine")
	}
	if finalizes != 1 {
		t.Fatalf("finalizes = %d, want 1 (second segment only)", finalizes)
	}
	first.Stream().Close() // releases the first feed goroutine
}

func TestWorker_EngineQuitAbortsOpenSegment(t *testing.T) {
	fs := &fakeSession{autoStart: true}
	w := newTestWorker("w1", fs, nil)

	seg := segment.New("alice")
	seg.Stream().Write([]byte{1})
	w.Enqueue(Request{Segment: seg})
	waitFor(t, "feed", func() bool {
		_, fed, _, _ := fs.counts()
		return fed == 1
	})

	// The engine stops on its own while the speaker is still talking.
	fs.emit().OnStop()

	waitFor(t, "segment abort", func() bool { return seg.Aborted() })
	if seg.Ended() {
		t.Fatal("segment ended despite engine quit")
	}
	seg.Stream().Close()
}

func TestWorker_EngineQuitDoesNotAbortNextRequest(t *testing.T) {
	// The select race between a resolved request's done signal and its abort
	// signal only misfires occasionally, so run the scenario repeatedly.
	for i := 0; i < 25; i++ {
		fs := &fakeSession{autoStart: true}
		w := newTestWorker("w1", fs, nil)

		first := segment.New("alice")
		first.Stream().Write([]byte{1})
		second := segment.New("bob")
		second.Stream().Write([]byte{2})

		w.Enqueue(Request{Segment: first})
		w.Enqueue(Request{Segment: second})
		waitFor(t, "first feed", func() bool {
			_, fed, _, _ := fs.counts()
			return fed >= 1
		})

		// The engine quits mid-utterance: the first request resolves as
		// aborted and the second starts on the same session.
		fs.emit().OnStop()
		waitFor(t, "first abort", func() bool { return first.Aborted() })
		waitFor(t, "second start", func() bool {
			starts, _, _, _ := fs.counts()
			return starts == 2
		})

		time.Sleep(5 * time.Millisecond)
		if second.Aborted() {
			t.Fatalf("iteration %d: stale abort watcher killed the second request", i)
		}
		second.Stream().Close()
		waitFor(t, "second end", func() bool { return second.Ended() })
		first.Stream().Close()
	}
}

func TestWorker_StartErrorIsReported(t *testing.T) {
	startErr := errors.New("engine gone")
	fs := &fakeSession{startErr: startErr}
	var mu sync.Mutex
	var reported []error
	w := newTestWorker("w1", fs, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})

	seg := segment.New("alice")
	w.Enqueue(Request{Segment: seg})

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || !errors.Is(reported[0], startErr) {
		t.Fatalf("reported = %v", reported)
	}
}

func TestWorker_StaleStartShutsEngineDown(t *testing.T) {
	fs := &fakeSession{}
	newTestWorker("w1", fs, nil)

	fs.emit().OnStart()
	if _, _, stops, _ := fs.counts(); stops != 1 {
		t.Fatalf("stops = %d, want 1 after stale start", stops)
	}
}

func TestWorker_CloseAbortsQueuedSegments(t *testing.T) {
	fs := &fakeSession{}
	w := newTestWorker("w1", fs, nil)

	seg := segment.New("alice")
	w.Enqueue(Request{Segment: seg})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !seg.Aborted() {
		t.Fatal("queued segment not aborted on close")
	}
	if fs.Active() {
		t.Fatal("session still active after close")
	}
}

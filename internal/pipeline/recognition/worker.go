package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vocifer/vocifer/internal/pipeline/segment"
)

// Request asks for one segment to be transcribed.
type Request struct {
	// Segment is the speech segment to transcribe. Its stream supplies the
	// audio; results and lifecycle events are delivered through its hooks.
	Segment *segment.Segment

	// Locale is the recognition language. Empty means [DefaultLocale].
	Locale string

	// Interim requests provisional results in addition to final ones.
	Interim bool

	// Prepare, when set, runs before the request is handed to a worker.
	// A failure aborts the segment instead.
	Prepare func(ctx context.Context) error
}

func (r Request) locale() string {
	if r.Locale == "" {
		return DefaultLocale
	}
	return r.Locale
}

type frameDecoder interface {
	Decode(packet []byte) ([]float32, error)
}

// Worker serializes transcription requests onto one [Session]. Requests run
// strictly in submission order; a new request starts only after the session
// reports the previous one stopped. A request whose segment is aborted
// mid-transcription is stopped and skipped without affecting the rest of the
// queue.
//
// Worker is safe for concurrent use.
type Worker struct {
	id      string
	session Session
	onError func(error)

	newDecoder func() (frameDecoder, error)

	mu       sync.Mutex
	queue    []Request
	feedDone chan struct{}
}

// NewWorker creates a worker around session. onError receives recovered
// worker and session failures and may be nil.
func NewWorker(id string, session Session, onError func(error)) *Worker {
	w := &Worker{
		id:         id,
		session:    session,
		onError:    onError,
		newDecoder: func() (frameDecoder, error) { return newPCMDecoder() },
	}
	session.SetHooks(SessionHooks{
		OnStart:  w.handleStart,
		OnStop:   w.handleStop,
		OnResult: w.handleResult,
		OnError:  w.handleError,
	})
	return w
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }

// Setup establishes the worker's session.
func (w *Worker) Setup(ctx context.Context) error {
	if err := w.session.Setup(ctx); err != nil {
		return fmt.Errorf("recognition: worker %s setup: %w", w.id, err)
	}
	return nil
}

// Active reports whether the worker's session can accept requests.
func (w *Worker) Active() bool { return w.session.Active() }

// Queued returns the number of requests owned by the worker, including the
// one being transcribed.
func (w *Worker) Queued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Close tears down the session. Queued segments are aborted.
func (w *Worker) Close() error {
	w.mu.Lock()
	dropped := w.queue
	w.queue = nil
	done := w.feedDone
	w.feedDone = nil
	w.mu.Unlock()

	if done != nil {
		close(done)
	}
	for _, req := range dropped {
		req.Segment.Abort()
	}
	return w.session.Close()
}

// Enqueue appends req to the worker's queue. If the worker was idle the
// transcription starts immediately.
func (w *Worker) Enqueue(req Request) {
	w.mu.Lock()
	w.queue = append(w.queue, req)
	kick := len(w.queue) == 1
	w.mu.Unlock()
	if kick {
		w.startHead(req)
	}
}

func (w *Worker) startHead(req Request) {
	if err := w.session.Start(req.locale(), req.Interim); err != nil {
		w.handleError(fmt.Errorf("recognition: worker %s start: %w", w.id, err))
	}
}

// handleStart fires when the session has actually begun recognizing. Audio
// starts flowing from the segment's stream into the session.
func (w *Worker) handleStart() {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		// Stale start with nothing to transcribe; shut the engine back down.
		w.session.Stop()
		return
	}
	req := w.queue[0]
	done := make(chan struct{})
	w.feedDone = done
	w.mu.Unlock()

	seg := req.Segment
	seg.Start()
	go w.feed(seg, done)
	go w.watchAbort(seg, done)
}

// handleStop fires when the session has fully ended the current
// transcription. The head request is resolved and the next one starts.
func (w *Worker) handleStop() {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return
	}
	req := w.queue[0]
	w.queue = w.queue[1:]
	done := w.feedDone
	w.feedDone = nil
	var next *Request
	if len(w.queue) > 0 {
		next = &w.queue[0]
	}
	w.mu.Unlock()

	if done != nil {
		close(done)
	}
	seg := req.Segment
	if !seg.Aborted() {
		if seg.Stream().Closed() {
			seg.End()
		} else {
			// The engine quit while the speaker was still talking.
			seg.Abort()
		}
	}
	if next != nil {
		w.startHead(*next)
	}
}

// handleResult routes a transcript to the segment being transcribed.
func (w *Worker) handleResult(text string, final bool) {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return
	}
	seg := w.queue[0].Segment
	w.mu.Unlock()
	seg.Result(text, final)
}

func (w *Worker) handleError(err error) {
	if err == nil {
		return
	}
	slog.Error("recognition worker error", "worker", w.id, "err", err)
	if w.onError != nil {
		w.onError(err)
	}
}

// feed pumps the segment's audio into the session until the stream ends,
// then asks the engine to finalize. A done signal means the request was
// resolved early (abort or engine stop) and nothing more should be sent.
func (w *Worker) feed(seg *segment.Segment, done <-chan struct{}) {
	dec, err := w.newDecoder()
	if err != nil {
		w.handleError(err)
		w.session.Stop()
		return
	}
	for {
		chunk, ok := seg.Stream().Next()
		if !ok {
			select {
			case <-done:
			default:
				if err := w.session.Finalize(); err != nil {
					w.handleError(err)
				}
			}
			return
		}
		select {
		case <-done:
			return
		default:
		}
		pcm, err := dec.Decode(chunk)
		if err != nil {
			// One bad packet is not worth killing the transcription.
			slog.Debug("dropping undecodable packet", "worker", w.id, "err", err)
			continue
		}
		if err := w.session.Feed(pcm); err != nil {
			w.handleError(err)
			return
		}
	}
}

// watchAbort stops the engine when the segment being transcribed is aborted.
// Resolving a request aborts its segment after the done signal, so both
// channels can be ready at once; the watcher re-checks that its request is
// still head before stopping, or it would kill the next request's
// transcription.
func (w *Worker) watchAbort(seg *segment.Segment, done <-chan struct{}) {
	select {
	case <-seg.AbortSignal():
		w.mu.Lock()
		head := w.feedDone == done
		w.mu.Unlock()
		if head {
			w.session.Stop()
		}
	case <-done:
	}
}

package call

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vocifer/vocifer/pkg/voice"
)

// DefaultPlayTimeout bounds how long the queue waits for an item's
// asynchronously generated audio before skipping it.
const DefaultPlayTimeout = 5 * time.Second

// errNoResource is reported when an item's generator returned without
// producing audio.
var errNoResource = errors.New("call: playable item has no resource")

// Item is one queued unit of outbound audio: either pre-rendered bytes or a
// generator that produces them asynchronously. The queue owns an item from
// enqueue until it ends; at most one item is current at a time.
type Item struct {
	generator func(ctx context.Context) (io.Reader, error)

	mu       sync.Mutex
	resource io.Reader
	genErr   error

	ready  chan struct{}
	failed chan struct{}

	onStart func()
	onEnd   func()

	genOnce   sync.Once
	startOnce sync.Once
	endOnce   sync.Once
}

// NewItem creates an item whose audio is produced lazily by gen. Generation
// begins when the item is enqueued.
func NewItem(gen func(ctx context.Context) (io.Reader, error)) *Item {
	return &Item{
		generator: gen,
		ready:     make(chan struct{}),
		failed:    make(chan struct{}),
	}
}

// NewStaticItem creates an item around pre-rendered audio. It is ready
// immediately.
func NewStaticItem(r io.Reader) *Item {
	i := NewItem(nil)
	i.resource = r
	close(i.ready)
	return i
}

// OnStart registers cb to fire when the item actually begins playing.
// Must be set before enqueueing.
func (i *Item) OnStart(cb func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onStart = cb
}

// OnEnd registers cb to fire exactly once when the item finishes, is skipped,
// or is cancelled. Must be set before enqueueing.
func (i *Item) OnEnd(cb func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onEnd = cb
}

// Generate starts asynchronous audio production. Idempotent; at most one
// resource is ever produced.
func (i *Item) Generate() {
	i.genOnce.Do(func() {
		if i.generator == nil {
			return
		}
		go func() {
			r, err := i.generator(context.Background())
			i.mu.Lock()
			if err == nil && r == nil {
				err = errNoResource
			}
			if err != nil {
				i.genErr = err
				i.mu.Unlock()
				close(i.failed)
				return
			}
			i.resource = r
			i.mu.Unlock()
			close(i.ready)
		}()
	})
}

// Resource returns the generated audio, or nil if not yet available.
func (i *Item) Resource() io.Reader {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.resource
}

// Err returns the generation error, if any.
func (i *Item) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.genErr
}

func (i *Item) markStarted() {
	i.mu.Lock()
	cb := i.onStart
	i.mu.Unlock()
	i.startOnce.Do(func() {
		if cb != nil {
			cb()
		}
	})
}

func (i *Item) end() {
	i.mu.Lock()
	cb := i.onEnd
	i.mu.Unlock()
	i.endOnce.Do(func() {
		if cb != nil {
			cb()
		}
	})
}

// Queue serializes [Item] playback onto the single [voice.Sink] of one call
// connection. Items play strictly in submission order: item N+1 never begins
// its start-attempt until item N has ended. Items whose audio never becomes
// ready within the play timeout are skipped and the queue advances.
//
// Queue is safe for concurrent use.
type Queue struct {
	sink        voice.Sink
	playTimeout time.Duration
	report      func(error)

	mu     sync.Mutex
	items  []*Item
	closed bool
}

// NewQueue creates a queue bound to sink. onError receives playback failures
// (skipped items, sink errors) and may be nil.
func NewQueue(sink voice.Sink, onError func(error)) *Queue {
	q := &Queue{
		sink:        sink,
		playTimeout: DefaultPlayTimeout,
		report:      onError,
	}
	sink.OnIdle(q.onIdle)
	return q
}

// Enqueue appends item to the queue and starts generation. If the queue was
// empty the item's start-attempt begins immediately. Returns false once the
// queue has been closed.
func (q *Queue) Enqueue(item *Item) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	kick := len(q.items) == 1
	q.mu.Unlock()

	item.Generate()
	if kick {
		go q.startAttempt(item)
	}
	return true
}

// Next skips the currently playing item. Reports whether something was
// playing to skip.
func (q *Queue) Next() bool {
	q.mu.Lock()
	if q.closed || len(q.items) == 0 {
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()
	q.sink.Stop()
	return true
}

// Stop halts current playback and clears the entire queue. Every pending item
// ends without playing.
func (q *Queue) Stop() bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	dropped := q.items
	q.items = nil
	q.mu.Unlock()

	q.sink.Stop()
	for _, item := range dropped {
		item.end()
	}
	return true
}

// Close stops playback and permanently rejects further enqueues.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := q.items
	q.items = nil
	q.mu.Unlock()

	q.sink.Stop()
	for _, item := range dropped {
		item.end()
	}
}

// Len returns the number of items owned by the queue, including the current
// one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// startAttempt brings the head item to playback: immediately when its
// resource exists, otherwise after its ready signal, bounded by the play
// timeout. Timeouts and generation errors skip the item.
func (q *Queue) startAttempt(item *Item) {
	if item.Resource() != nil {
		q.playNow(item)
		return
	}

	timer := time.NewTimer(q.playTimeout)
	defer timer.Stop()

	select {
	case <-item.ready:
		q.playNow(item)
	case <-item.failed:
		q.reportErr(item.Err())
		q.skip(item)
	case <-timer.C:
		slog.Warn("playable item timed out waiting for audio")
		q.skip(item)
	}
}

// playNow hands the item's resource to the sink. Must only be called for the
// head item.
func (q *Queue) playNow(item *Item) {
	q.mu.Lock()
	if q.closed || len(q.items) == 0 || q.items[0] != item {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	item.markStarted()
	if err := q.sink.Play(item.Resource()); err != nil {
		q.reportErr(err)
		q.skip(item)
	}
}

// skip advances past item if it is still the head. Items already removed by
// Stop or Close are left alone.
func (q *Queue) skip(item *Item) {
	q.mu.Lock()
	if len(q.items) == 0 || q.items[0] != item {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	q.advance()
}

// onIdle is the sink's idle notification: the current item finished playing.
func (q *Queue) onIdle() {
	q.advance()
}

// advance ends the current head and begins the next item's start-attempt.
func (q *Queue) advance() {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	head := q.items[0]
	q.items = q.items[1:]
	var next *Item
	if len(q.items) > 0 {
		next = q.items[0]
	}
	q.mu.Unlock()

	head.end()
	if next != nil {
		go q.startAttempt(next)
	}
}

func (q *Queue) reportErr(err error) {
	if err != nil && q.report != nil {
		q.report(err)
	}
}

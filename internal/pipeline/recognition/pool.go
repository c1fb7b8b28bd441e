package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Pool distributes transcription requests across a fixed set of workers.
//
// Selection favors idle capacity: with a single worker, requests go to it
// whenever it is active; with several, the first active worker with an empty
// queue wins, otherwise the active worker with the shortest queue. When no
// worker is active the pool reports plain absence of capacity rather than an
// error.
type Pool struct {
	workers []*Worker
}

// NewPool creates a pool over workers.
func NewPool(workers ...*Worker) *Pool {
	return &Pool{workers: workers}
}

// Setup establishes every worker's session concurrently. The first failure
// aborts the remaining setups and is returned.
func (p *Pool) Setup(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Setup(ctx) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("recognition: pool setup: %w", err)
	}
	return nil
}

// Transcribe hands req to the least-loaded active worker. Returns false when
// no worker has capacity; the caller decides what absence of capacity means.
//
// Requests without a prepare step reach the worker's queue on the caller's
// goroutine, so back-to-back submissions keep their order and queue depths
// read by the next pick are never stale. Only the prepare step itself is
// deferred.
func (p *Pool) Transcribe(req Request) bool {
	w := p.pick()
	if w == nil {
		return false
	}
	slog.Debug("transcription dispatched", "worker", w.ID(), "queued", w.Queued())
	if req.Prepare == nil {
		w.Enqueue(req)
		return true
	}
	go func() {
		if err := req.Prepare(context.Background()); err != nil {
			slog.Error("transcription prepare failed", "worker", w.ID(), "err", err)
			req.Segment.Abort()
			return
		}
		w.Enqueue(req)
	}()
	return true
}

func (p *Pool) pick() *Worker {
	if len(p.workers) == 1 {
		if w := p.workers[0]; w.Active() {
			return w
		}
		return nil
	}
	var selected *Worker
	min := int(^uint(0) >> 1)
	for _, w := range p.workers {
		if !w.Active() {
			continue
		}
		queued := w.Queued()
		if queued == 0 {
			return w
		}
		if queued < min {
			selected = w
			min = queued
		}
	}
	return selected
}

// Report returns a one-line-per-worker summary of pool state.
func (p *Pool) Report() string {
	var b strings.Builder
	for i, w := range p.workers {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: active=%t queued=%d", w.ID(), w.Active(), w.Queued())
	}
	return b.String()
}

// Workers returns the pool's workers in registration order.
func (p *Pool) Workers() []*Worker { return p.workers }

// Close tears down every worker.
func (p *Pool) Close() error {
	var firstErr error
	for _, w := range p.workers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

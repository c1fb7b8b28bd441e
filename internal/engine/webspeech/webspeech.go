// Package webspeech exposes the browser-backed recognition pool as a
// registrable speech-recognition engine.
package webspeech

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vocifer/vocifer/internal/engine"
	"github.com/vocifer/vocifer/internal/pipeline/recognition"
	"github.com/vocifer/vocifer/internal/pipeline/recognition/browser"
)

// Compile-time interface assertion.
var _ engine.Recognizer = (*Engine)(nil)

// EngineName is the logical registry name of this engine.
const EngineName = "webspeech"

// Config describes the worker fleet of one [Engine].
type Config struct {
	// Exec is the browser executable launched per worker. Empty disables
	// launching.
	Exec string

	// DataDir is the base directory for browser profiles; each worker gets
	// its own subdirectory.
	DataDir string

	// Ports lists the control-server ports, one worker per entry. 0 picks a
	// free port.
	Ports []int

	// ReadyTimeout bounds each worker's setup handshake.
	ReadyTimeout time.Duration

	// OnError receives worker errors, including fatal browser-relaunch
	// exhaustion. May be nil.
	OnError func(error)
}

// Engine runs speech recognition through a pool of browser-session workers.
type Engine struct {
	pool *recognition.Pool
}

// New creates the engine with one worker per configured port. Call
// [Engine.Setup] before handing the engine to a registry.
func New(cfg Config) *Engine {
	workers := make([]*recognition.Worker, 0, len(cfg.Ports))
	for i, port := range cfg.Ports {
		session := browser.NewSession(browser.Config{
			Port:         port,
			Exec:         cfg.Exec,
			DataDir:      filepath.Join(cfg.DataDir, fmt.Sprintf("worker-%d", i)),
			ReadyTimeout: cfg.ReadyTimeout,
		})
		id := fmt.Sprintf("%s-%d", EngineName, i)
		workers = append(workers, recognition.NewWorker(id, session, cfg.OnError))
	}
	return &Engine{pool: recognition.NewPool(workers...)}
}

// Setup brings all worker sessions up concurrently.
func (e *Engine) Setup(ctx context.Context) error {
	return e.pool.Setup(ctx)
}

// Name implements [engine.Recognizer].
func (e *Engine) Name() string { return EngineName }

// Active reports whether at least one worker session is connected.
func (e *Engine) Active() bool {
	for _, w := range e.pool.Workers() {
		if w.Active() {
			return true
		}
	}
	return false
}

// Locales implements [engine.Recognizer]. The browser's speech engine
// accepts arbitrary BCP-47 tags, so no restriction is reported.
func (e *Engine) Locales() []string { return nil }

// Transcribe hands req to the least-loaded active worker. Reports false when
// no worker has capacity.
func (e *Engine) Transcribe(req engine.RecognitionRequest) bool {
	return e.pool.Transcribe(recognition.Request{
		Segment: req.Segment,
		Locale:  req.Locale,
		Interim: req.Interim,
	})
}

// Report returns the pool's per-worker load summary for operational logging.
func (e *Engine) Report() string { return e.pool.Report() }

// Counts reports how many workers are active out of the configured total.
// Feeds the readiness probe.
func (e *Engine) Counts() (active, total int) {
	workers := e.pool.Workers()
	for _, w := range workers {
		if w.Active() {
			active++
		}
	}
	return active, len(workers)
}

// Close shuts all workers down.
func (e *Engine) Close() error { return e.pool.Close() }

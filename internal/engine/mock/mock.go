// Package mock provides in-memory implementations of [engine.Recognizer] and
// [engine.Synthesizer] for use in unit tests.
//
// The mocks record every call and allow tests to configure return values via
// exported fields. They are safe for concurrent use.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/vocifer/vocifer/internal/engine"
)

// Compile-time interface assertions.
var (
	_ engine.Recognizer  = (*Recognizer)(nil)
	_ engine.Synthesizer = (*Synthesizer)(nil)
)

// Recognizer is a mock implementation of [engine.Recognizer].
type Recognizer struct {
	// EngineName is returned by Name. Defaults to "mock" when empty.
	EngineName string

	// Inactive makes Active report false.
	Inactive bool

	// SupportedLocales is returned by Locales.
	SupportedLocales []string

	// Reject makes Transcribe report false without recording the request.
	Reject bool

	mu         sync.Mutex
	requests   []engine.RecognitionRequest
	closeCalls int
}

// Name implements [engine.Recognizer].
func (r *Recognizer) Name() string {
	if r.EngineName == "" {
		return "mock"
	}
	return r.EngineName
}

// Active implements [engine.Recognizer].
func (r *Recognizer) Active() bool { return !r.Inactive }

// Locales implements [engine.Recognizer].
func (r *Recognizer) Locales() []string { return r.SupportedLocales }

// Transcribe implements [engine.Recognizer]. It records req unless Reject is
// set.
func (r *Recognizer) Transcribe(req engine.RecognitionRequest) bool {
	if r.Reject {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return true
}

// Close implements [engine.Recognizer].
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCalls++
	return nil
}

// Requests returns all recorded transcription requests.
func (r *Recognizer) Requests() []engine.RecognitionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.RecognitionRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// CloseCalls returns how many times Close was called.
func (r *Recognizer) CloseCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCalls
}

// Synthesizer is a mock implementation of [engine.Synthesizer].
type Synthesizer struct {
	// EngineName is returned by Name. Defaults to "mock" when empty.
	EngineName string

	// Inactive makes Active report false.
	Inactive bool

	// VoiceList is returned by Voices.
	VoiceList []engine.Voice

	// Fallback is returned by DefaultVoice regardless of locale.
	Fallback string

	// Audio is the payload Generate wraps in a reader. Defaults to a short
	// non-empty blob so playback items always carry a resource.
	Audio []byte

	// GenerateErr is returned by Generate when set.
	GenerateErr error

	mu         sync.Mutex
	requests   []engine.SpeechRequest
	closeCalls int
}

// Name implements [engine.Synthesizer].
func (s *Synthesizer) Name() string {
	if s.EngineName == "" {
		return "mock"
	}
	return s.EngineName
}

// Active implements [engine.Synthesizer].
func (s *Synthesizer) Active() bool { return !s.Inactive }

// Voices implements [engine.Synthesizer].
func (s *Synthesizer) Voices(context.Context) ([]engine.Voice, error) {
	return s.VoiceList, nil
}

// DefaultVoice implements [engine.Synthesizer].
func (s *Synthesizer) DefaultVoice(string) string { return s.Fallback }

// Generate implements [engine.Synthesizer]. It records req and returns a
// reader over Audio.
func (s *Synthesizer) Generate(_ context.Context, req engine.SpeechRequest) (io.Reader, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.GenerateErr != nil {
		return nil, s.GenerateErr
	}
	audio := s.Audio
	if audio == nil {
		audio = []byte{0, 0, 0, 0}
	}
	return bytes.NewReader(audio), nil
}

// Close implements [engine.Synthesizer].
func (s *Synthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// Requests returns all recorded speech requests.
func (s *Synthesizer) Requests() []engine.SpeechRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.SpeechRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// CloseCalls returns how many times Close was called.
func (s *Synthesizer) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

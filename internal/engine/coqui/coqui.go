// Package coqui provides a speech synthesizer backed by a locally running
// Coqui TTS server (ghcr.io/coqui-ai/tts-cpu). Synthesis is one GET /api/tts
// call per utterance; the voice catalogue comes from GET /details. WAV
// responses are stripped of their container and resampled to the 48 kHz mono
// PCM the playback sink consumes.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vocifer/vocifer/internal/engine"
	"github.com/vocifer/vocifer/internal/resilience"
)

// Compile-time interface assertion.
var _ engine.Synthesizer = (*Engine)(nil)

// EngineName is the logical registry name of this engine.
const EngineName = "coqui"

const (
	ttsEndpoint     = "/api/tts"
	detailsEndpoint = "/details"

	defaultTimeout = 30 * time.Second

	// outputRate is the sample rate of generated PCM, matching the
	// playback sink.
	outputRate = 48000
)

// Config describes one Coqui server connection.
type Config struct {
	// BaseURL is the server address (e.g. "http://localhost:5002").
	BaseURL string

	// DefaultVoice is the speaker id used when a request names no voice and
	// no per-locale default applies.
	DefaultVoice string

	// LocaleVoices maps BCP-47 locales (or primary subtags) to the default
	// speaker id for that language. May be nil.
	LocaleVoices map[string]string

	// Timeout bounds each synthesis request. Zero means 30 s.
	Timeout time.Duration
}

// Engine synthesizes speech through a Coqui TTS server. A circuit breaker
// guards the server connection: repeated request failures mark the engine
// inactive until the server recovers, letting registry lookups skip it.
type Engine struct {
	cfg     Config
	client  *http.Client
	breaker *resilience.CircuitBreaker

	mu     sync.Mutex
	closed bool
}

// New creates the engine. BaseURL must be non-empty.
func New(cfg Config) (*Engine, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("coqui: BaseURL must not be empty")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Engine{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: EngineName}),
	}, nil
}

// Name implements [engine.Synthesizer].
func (e *Engine) Name() string { return EngineName }

// Active implements [engine.Synthesizer]. A tripped circuit breaker reports
// the engine inactive until the server responds again.
func (e *Engine) Active() bool {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	return !closed && e.breaker.State() != resilience.StateOpen
}

// Close implements [engine.Synthesizer].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// DefaultVoice returns the per-locale default speaker, trying the full tag,
// then the primary subtag, then the engine-wide default.
func (e *Engine) DefaultVoice(locale string) string {
	if locale != "" {
		if v, ok := e.cfg.LocaleVoices[locale]; ok {
			return v
		}
		primary, _, _ := strings.Cut(locale, "-")
		if v, ok := e.cfg.LocaleVoices[primary]; ok {
			return v
		}
	}
	return e.cfg.DefaultVoice
}

// detailsResponse is the JSON body returned by GET /details. Speakers is nil
// for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Voices retrieves the voice catalogue from the server. Multi-speaker models
// yield one voice per speaker; single-speaker models yield one voice named
// after the model.
func (e *Engine) Voices(ctx context.Context) ([]engine.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+detailsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create details request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var details detailsResponse
	err = e.breaker.Execute(func() error {
		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("coqui: GET %s: %w", detailsEndpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("coqui: GET %s returned status %d", detailsEndpoint, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
			return fmt.Errorf("coqui: decode details response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(details.Speakers) > 0 {
		speakers := make([]string, len(details.Speakers))
		copy(speakers, details.Speakers)
		sort.Strings(speakers)

		voices := make([]engine.Voice, 0, len(speakers))
		for _, spk := range speakers {
			voices = append(voices, engine.Voice{ID: spk, Locale: details.Language})
		}
		return voices, nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []engine.Voice{{ID: name, Locale: details.Language}}, nil
}

// Generate synthesizes req via GET /api/tts and returns a reader over 48 kHz
// mono 16-bit PCM.
func (e *Engine) Generate(ctx context.Context, req engine.SpeechRequest) (io.Reader, error) {
	voice := req.Voice
	if voice == "" {
		voice = e.DefaultVoice(req.Locale)
	}

	params := url.Values{}
	params.Set("text", req.Text)
	if voice != "" {
		params.Set("speaker_id", voice)
	}
	if req.Locale != "" {
		primary, _, _ := strings.Cut(req.Locale, "-")
		params.Set("language_id", primary)
	}

	reqURL := e.cfg.BaseURL + ttsEndpoint + "?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	var wav []byte
	err = e.breaker.Execute(func() error {
		resp, err := e.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("coqui: GET %s: %w", ttsEndpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("coqui: GET %s returned status %d", ttsEndpoint, resp.StatusCode)
		}
		wav, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("coqui: read WAV response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	if info.Channels != 1 {
		return nil, fmt.Errorf("coqui: expected mono audio, got %d channels", info.Channels)
	}

	// Speed and pitch are folded into the resample target: fewer samples on
	// a fixed-rate sink play both faster and higher. The server has no
	// native pitch parameter, so pitch rides the same varispeed path and a
	// raised pitch also shortens the utterance.
	factor := 1.0
	if req.Speed > 0 {
		factor *= req.Speed
	}
	if req.Pitch > 0 {
		factor *= req.Pitch
	}
	target := outputRate
	if factor != 1.0 {
		target = int(float64(outputRate) / factor)
	}
	pcm := resampleMono16(wav[info.DataOffset:], info.SampleRate, target)
	return bytes.NewReader(pcm), nil
}

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int
	SampleRate int
	Channels   int
}

// parseWAV scans the RIFF/WAVE container and returns the data offset and
// audio format from the "fmt " sub-chunk. The fmt chunk size may vary, so a
// fixed 44-byte offset is not assumed.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("coqui: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("coqui: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				return wavInfo{}, errors.New("coqui: WAV data chunk precedes fmt chunk")
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("coqui: WAV response missing data chunk")
}

// resampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

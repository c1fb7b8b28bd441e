package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// opusEncoder wraps a gopus Opus encoder for the playback sink.
type opusEncoder struct {
	enc *gopus.Encoder
}

// newOpusEncoder creates a new Opus encoder configured for Discord audio.
func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes one frame of interleaved stereo PCM samples into an Opus
// packet.
func (e *opusEncoder) encode(pcm []int16) ([]byte, error) {
	opus, err := e.enc.Encode(pcm, opusFrameSize, len(pcm)*2)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return opus, nil
}

// Decoder turns the Opus frame payloads this adapter delivers back into
// 48 kHz stereo little-endian 16-bit PCM. Each speaker stream needs its own
// Decoder to keep codec state consistent across consecutive frames.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a new Opus decoder configured for Discord audio.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes one Opus frame payload into interleaved PCM bytes.
func (d *Decoder) Decode(frame []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(frame, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// monoToStereo duplicates each mono s16le sample into both channels.
func monoToStereo(mono []byte) []int16 {
	stereo := make([]int16, len(mono))
	for i := 0; i < len(mono)/2; i++ {
		s := int16(mono[i*2]) | int16(mono[i*2+1])<<8
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	return stereo
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

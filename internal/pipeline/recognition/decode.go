package recognition

import (
	"fmt"

	"layeh.com/gopus"
)

const (
	decodeSampleRate = 48000
	decodeChannels   = 1
	// Samples per channel in one 20ms packet at 48kHz.
	decodeFrameSize = 960
)

// pcmDecoder converts the opus packets captured from a call into the mono
// float32 PCM a recognition session consumes. Opus decoding is stateful, so
// one decoder serves exactly one segment.
type pcmDecoder struct {
	dec *gopus.Decoder
}

func newPCMDecoder() (*pcmDecoder, error) {
	dec, err := gopus.NewDecoder(decodeSampleRate, decodeChannels)
	if err != nil {
		return nil, fmt.Errorf("recognition: create opus decoder: %w", err)
	}
	return &pcmDecoder{dec: dec}, nil
}

// Decode converts one opus packet into float32 samples in [-1, 1].
func (d *pcmDecoder) Decode(packet []byte) ([]float32, error) {
	pcm, err := d.dec.Decode(packet, decodeFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("recognition: decode opus packet: %w", err)
	}
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out, nil
}

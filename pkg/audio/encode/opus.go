// ABOUTME: Opus audio encoder
// ABOUTME: Encodes 20ms frames of int32 samples to Opus packets
package encode

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

// maxOpusPacket is the largest packet libopus will produce
const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int
	pcm        []int16
}

// NewOpus creates a new Opus encoder
func NewOpus(cfg Config) (Encoder, error) {
	if cfg.Codec != CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", cfg.Codec)
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return nil, fmt.Errorf("unsupported channel count for Opus: %d", cfg.Channels)
	}

	encoder, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	frameSize := cfg.SampleRate / 50 // 20ms frame

	return &OpusEncoder{
		encoder:    encoder,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		frameSize:  frameSize,
		pcm:        make([]int16, frameSize*cfg.Channels),
	}, nil
}

// FrameSize returns the frames per Opus packet
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// Encode converts one frame of int32 samples to Opus bytes
func (e *OpusEncoder) Encode(samples []int32) ([]byte, error) {
	if len(samples) != len(e.pcm) {
		return nil, fmt.Errorf("opus frame needs %d samples, got %d", len(e.pcm), len(samples))
	}
	for i, sample := range samples {
		e.pcm[i] = audio.SampleToInt16(sample)
	}

	data := make([]byte, maxOpusPacket)
	n, err := e.encoder.Encode(e.pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	return data[:n], nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}

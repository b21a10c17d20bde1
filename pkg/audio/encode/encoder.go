// ABOUTME: Encoder interface definition
// ABOUTME: Common interface and configuration for all audio encoders
package encode

import "fmt"

// Codec names
const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"
)

// Config selects a codec and its stream parameters
type Config struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoder encodes PCM int32 samples to various formats
type Encoder interface {
	// Encode converts PCM samples to encoded audio data
	Encode(samples []int32) ([]byte, error)

	// FrameSize is the number of frames each Encode call must carry, or 0
	// when any length is accepted
	FrameSize() int

	// Close releases encoder resources
	Close() error
}

// New creates the encoder named by cfg.Codec
func New(cfg Config) (Encoder, error) {
	switch cfg.Codec {
	case CodecPCM:
		return NewPCM(cfg)
	case CodecOpus:
		return NewOpus(cfg)
	}
	return nil, fmt.Errorf("unsupported codec: %q", cfg.Codec)
}

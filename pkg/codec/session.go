// ABOUTME: Audio encoding session over captured PCM
// ABOUTME: Converts, resamples and frames PCM before handing it to an encoder
package codec

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/audio/encode"
	"github.com/Resonate-Protocol/playthrough/pkg/audio/resample"
)

// opusRate is the rate every Opus session encodes at
const opusRate = 48000

// Codec names accepted by NewAudioSession
const (
	CodecOpus  = encode.CodecOpus
	CodecPCM16 = "pcm16"
	CodecPCM24 = "pcm24"
)

// Packet is one encoded unit
type Packet struct {
	Data     []byte
	PTS      int64 // TimeBase ticks from the session start
	Duration int64 // TimeBase ticks
}

// AudioSession encodes a stream of packed PCM
type AudioSession struct {
	in        audio.Format
	codec     string
	rate      int
	enc       encode.Encoder
	rs        *resample.Resampler
	onEncoded func(Packet)

	mu        sync.Mutex
	conv      []int32
	resampled []int32
	fifo      []int32
	frames    int64 // frames emitted at the codec rate
	closed    bool
}

// NewAudioSession creates a session encoding in-format PCM with the named
// codec. onEncoded runs on the goroutine calling Write, Flush or Close.
func NewAudioSession(in audio.Format, codec string, onEncoded func(Packet)) (*AudioSession, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.NonInterleaved {
		return nil, fmt.Errorf("%w: planar input", audio.ErrInvalidFormat)
	}
	if onEncoded == nil {
		return nil, fmt.Errorf("codec session needs a packet callback")
	}

	cfg := encode.Config{SampleRate: in.SampleRate, Channels: in.Channels}
	switch codec {
	case CodecOpus:
		cfg.Codec = encode.CodecOpus
		cfg.SampleRate = opusRate
	case CodecPCM16:
		cfg.Codec, cfg.BitDepth = encode.CodecPCM, 16
	case CodecPCM24:
		cfg.Codec, cfg.BitDepth = encode.CodecPCM, 24
	default:
		return nil, codeError(ErrInvalidData, fmt.Sprintf("unknown codec %q", codec))
	}

	enc, err := encode.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s encoder: %w", codec, err)
	}

	s := &AudioSession{
		in:        in,
		codec:     codec,
		rate:      cfg.SampleRate,
		enc:       enc,
		onEncoded: onEncoded,
	}
	if cfg.SampleRate != in.SampleRate {
		s.rs = resample.New(in.SampleRate, cfg.SampleRate, in.Channels)
	}
	logf(LogInfo, "audio session %s: %s -> %d Hz", codec, in, cfg.SampleRate)
	return s, nil
}

// SampleRate returns the encoded rate
func (s *AudioSession) SampleRate() int { return s.rate }

// Codec returns the codec name
func (s *AudioSession) Codec() string { return s.codec }

// Write encodes as many whole codec frames as the accumulated input allows
func (s *AudioSession) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return codeError(ErrEOF, "session closed")
	}

	fs := s.in.FrameSize()
	pcm = pcm[:len(pcm)/fs*fs]
	n := len(pcm) / s.in.BytesPerSample()
	if n == 0 {
		return nil
	}

	if cap(s.conv) < n {
		s.conv = make([]int32, n)
	}
	samples := s.conv[:audio.ToInt32(s.in, pcm, s.conv[:n])]

	if s.rs != nil {
		need := s.rs.OutputSamplesNeeded(len(samples)) + 2*s.in.Channels
		if cap(s.resampled) < need {
			s.resampled = make([]int32, need)
		}
		samples = s.resampled[:s.rs.Resample(samples, s.resampled[:need])]
	}

	s.fifo = append(s.fifo, samples...)
	return s.drain(false)
}

// drain encodes whole frames from the fifo. With pad set the remainder is
// zero-padded into a last frame.
func (s *AudioSession) drain(pad bool) error {
	frameSamples := s.enc.FrameSize() * s.in.Channels
	if frameSamples == 0 {
		if len(s.fifo) == 0 {
			return nil
		}
		err := s.emit(s.fifo)
		s.fifo = s.fifo[:0]
		return err
	}

	if pad && len(s.fifo)%frameSamples != 0 {
		padded := len(s.fifo) + frameSamples - len(s.fifo)%frameSamples
		s.fifo = append(s.fifo, make([]int32, padded-len(s.fifo))...)
	}

	consumed := 0
	for len(s.fifo)-consumed >= frameSamples {
		if err := s.emit(s.fifo[consumed : consumed+frameSamples]); err != nil {
			return err
		}
		consumed += frameSamples
	}
	s.fifo = s.fifo[:copy(s.fifo, s.fifo[consumed:])]
	return nil
}

func (s *AudioSession) emit(samples []int32) error {
	data, err := s.enc.Encode(samples)
	if err != nil {
		logf(LogError, "encode failed: %v", err)
		return fmt.Errorf("failed to encode %s frame: %w", s.codec, err)
	}

	frames := int64(len(samples) / s.in.Channels)
	s.onEncoded(Packet{
		Data:     data,
		PTS:      s.frames * TimeBase / int64(s.rate),
		Duration: frames * TimeBase / int64(s.rate),
	})
	s.frames += frames
	return nil
}

// Flush encodes whatever input is buffered, padding with silence
func (s *AudioSession) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return codeError(ErrEOF, "session closed")
	}
	return s.drain(true)
}

// Close flushes and releases the encoder. Later calls return ErrEOF.
func (s *AudioSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	flushErr := s.drain(true)
	s.closed = true
	if err := s.enc.Close(); err != nil {
		return err
	}
	logf(LogDebug, "audio session %s closed after %d frames", s.codec, s.frames)
	return flushErr
}

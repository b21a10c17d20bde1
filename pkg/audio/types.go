// ABOUTME: Audio type definitions
// ABOUTME: Defines PCM formats, working parameters, buffers and packets
package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

var (
	ErrUnsupportedParameter = errors.New("unsupported audio parameter")
	ErrInvalidFormat        = errors.New("invalid audio format")
)

// SampleKind identifies the in-memory representation of one sample
type SampleKind int

const (
	KindUnknown SampleKind = iota
	Float32
	Uint8
	Int16
	Int32
)

// String returns the kind name
func (k SampleKind) String() string {
	switch k {
	case Float32:
		return "f32"
	case Uint8:
		return "u8"
	case Int16:
		return "s16"
	case Int32:
		return "s32"
	}
	return "unknown"
}

// Size returns bytes per sample, 0 for unknown kinds
func (k SampleKind) Size() int {
	switch k {
	case Uint8:
		return 1
	case Int16:
		return 2
	case Float32, Int32:
		return 4
	}
	return 0
}

// FormatFlags mirrors the host's native format flag bits
type FormatFlags uint32

const (
	FlagFloat FormatFlags = 1 << iota
	FlagSignedInteger
	FlagPacked
	FlagNonInterleaved
)

// Format describes an interleaved, packed PCM layout
type Format struct {
	Kind       SampleKind
	SampleRate int
	Channels   int
	// NonInterleaved marks planar native layouts. Pipeline stages reject it.
	NonInterleaved bool
}

// BytesPerSample returns the size of a single sample
func (f Format) BytesPerSample() int {
	return f.Kind.Size()
}

// BitsPerChannel returns the sample width in bits
func (f Format) BitsPerChannel() int {
	return f.Kind.Size() * 8
}

// FrameSize returns the byte size of one frame (one sample per channel)
func (f Format) FrameSize() int {
	return f.Kind.Size() * f.Channels
}

// Flags returns the native flag set for this format
func (f Format) Flags() FormatFlags {
	flags := FlagPacked
	switch f.Kind {
	case Float32:
		flags |= FlagFloat
	case Int16, Int32:
		flags |= FlagSignedInteger
	}
	if f.NonInterleaved {
		flags |= FlagNonInterleaved
	}
	return flags
}

// Validate checks that the format can be processed
func (f Format) Validate() error {
	if f.Kind.Size() == 0 {
		return fmt.Errorf("%w: unknown sample kind", ErrInvalidFormat)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrInvalidFormat, f.Channels)
	}
	return nil
}

// BytesFor returns the byte length of d, rounded down to whole frames
func (f Format) BytesFor(d time.Duration) int {
	if f.SampleRate <= 0 {
		return 0
	}
	frames := int(d * time.Duration(f.SampleRate) / time.Second)
	return frames * f.FrameSize()
}

// DurationOf returns the playback duration of n bytes
func (f Format) DurationOf(n int) time.Duration {
	fs := f.FrameSize()
	if fs == 0 || f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n/fs) * time.Second / time.Duration(f.SampleRate)
}

// String renders the format for logs
func (f Format) String() string {
	return fmt.Sprintf("%s %dHz %dch", f.Kind, f.SampleRate, f.Channels)
}

// Parameter is the working format of a pipeline instance
type Parameter struct {
	IsFloat        bool
	SampleRate     int
	Channels       int
	BitsPerChannel int
}

// Format maps the parameter onto a concrete sample layout
func (p Parameter) Format() (Format, error) {
	var kind SampleKind
	switch {
	case p.IsFloat && p.BitsPerChannel == 32:
		kind = Float32
	case p.IsFloat:
		return Format{}, fmt.Errorf("%w: %d-bit float", ErrUnsupportedParameter, p.BitsPerChannel)
	case p.BitsPerChannel == 8:
		kind = Uint8
	case p.BitsPerChannel == 16:
		kind = Int16
	case p.BitsPerChannel == 32:
		kind = Int32
	default:
		return Format{}, fmt.Errorf("%w: %d-bit integer", ErrUnsupportedParameter, p.BitsPerChannel)
	}

	f := Format{Kind: kind, SampleRate: p.SampleRate, Channels: p.Channels}
	if err := f.Validate(); err != nil {
		return Format{}, err
	}
	return f, nil
}

// FormatParameter converts a format back into a working parameter
func FormatParameter(f Format) Parameter {
	return Parameter{
		IsFloat:        f.Kind == Float32,
		SampleRate:     f.SampleRate,
		Channels:       f.Channels,
		BitsPerChannel: f.BitsPerChannel(),
	}
}

// Buffer is an interleaved PCM region handed between stages for one call
type Buffer struct {
	Data      []byte
	Frames    int
	Timestamp time.Duration // stream time of the first frame
}

// Packet is a producer-owned chunk queued by the output sink
type Packet struct {
	Data     []byte
	RenderAt time.Time // zero means as soon as possible
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

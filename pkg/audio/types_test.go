// ABOUTME: Tests for audio types
// ABOUTME: Tests format arithmetic, parameter mapping and 24-bit conversion
package audio

import (
	"errors"
	"testing"
	"time"
)

func TestParameterFormat(t *testing.T) {
	tests := []struct {
		name     string
		param    Parameter
		wantKind SampleKind
		wantErr  bool
	}{
		{"float32", Parameter{IsFloat: true, SampleRate: 48000, Channels: 2, BitsPerChannel: 32}, Float32, false},
		{"uint8", Parameter{SampleRate: 8000, Channels: 1, BitsPerChannel: 8}, Uint8, false},
		{"int16", Parameter{SampleRate: 44100, Channels: 2, BitsPerChannel: 16}, Int16, false},
		{"int32", Parameter{SampleRate: 96000, Channels: 2, BitsPerChannel: 32}, Int32, false},
		{"float64 unsupported", Parameter{IsFloat: true, SampleRate: 48000, Channels: 2, BitsPerChannel: 64}, KindUnknown, true},
		{"24-bit unsupported", Parameter{SampleRate: 48000, Channels: 2, BitsPerChannel: 24}, KindUnknown, true},
		{"zero rate", Parameter{SampleRate: 0, Channels: 2, BitsPerChannel: 16}, KindUnknown, true},
		{"zero channels", Parameter{SampleRate: 48000, Channels: 0, BitsPerChannel: 16}, KindUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.param.Format()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got format %v", f)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Kind != tt.wantKind {
				t.Errorf("expected kind %v, got %v", tt.wantKind, f.Kind)
			}
			if got := FormatParameter(f); got != tt.param {
				t.Errorf("expected parameter %+v back, got %+v", tt.param, got)
			}
		})
	}
}

func TestParameterFormatErrorKinds(t *testing.T) {
	_, err := Parameter{SampleRate: 48000, Channels: 2, BitsPerChannel: 12}.Format()
	if !errors.Is(err, ErrUnsupportedParameter) {
		t.Errorf("expected ErrUnsupportedParameter, got %v", err)
	}

	_, err = Parameter{SampleRate: -1, Channels: 2, BitsPerChannel: 16}.Format()
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestFormatArithmetic(t *testing.T) {
	f := Format{Kind: Int16, SampleRate: 48000, Channels: 2}

	if f.FrameSize() != 4 {
		t.Errorf("expected frame size 4, got %d", f.FrameSize())
	}
	if got := f.BytesFor(500 * time.Millisecond); got != 96000 {
		t.Errorf("expected 96000 bytes for 500ms, got %d", got)
	}
	if got := f.DurationOf(96000); got != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", got)
	}
	// partial frames do not count
	if got := f.DurationOf(3); got != 0 {
		t.Errorf("expected 0 for partial frame, got %v", got)
	}
}

func TestFormatFlags(t *testing.T) {
	tests := []struct {
		format Format
		want   FormatFlags
	}{
		{Format{Kind: Float32, SampleRate: 1, Channels: 1}, FlagPacked | FlagFloat},
		{Format{Kind: Int16, SampleRate: 1, Channels: 1}, FlagPacked | FlagSignedInteger},
		{Format{Kind: Uint8, SampleRate: 1, Channels: 1}, FlagPacked},
		{Format{Kind: Int32, SampleRate: 1, Channels: 1, NonInterleaved: true}, FlagPacked | FlagSignedInteger | FlagNonInterleaved},
	}

	for _, tt := range tests {
		t.Run(tt.format.Kind.String(), func(t *testing.T) {
			if got := tt.format.Flags(); got != tt.want {
				t.Errorf("expected flags %b, got %b", tt.want, got)
			}
		})
	}
}


func TestSampleTo24Bit(t *testing.T) {
	tests := []struct {
		name     string
		input    int32
		expected [3]byte
	}{
		{"zero", 0, [3]byte{0, 0, 0}},
		{"positive", 0x123456, [3]byte{0x56, 0x34, 0x12}},
		{"negative", -256, [3]byte{0x00, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleTo24Bit(tt.input)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestSampleFrom24Bit(t *testing.T) {
	tests := []struct {
		name     string
		input    [3]byte
		expected int32
	}{
		{"zero", [3]byte{0, 0, 0}, 0},
		{"positive", [3]byte{0x56, 0x34, 0x12}, 0x123456},
		{"negative", [3]byte{0x00, 0xFF, 0xFF}, -256},
		{"max positive", [3]byte{0xFF, 0xFF, 0x7F}, Max24Bit},
		{"max negative", [3]byte{0x00, 0x00, 0x80}, Min24Bit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFrom24Bit(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestRoundTrip16Bit(t *testing.T) {
	// Test that 16-bit samples survive round-trip conversion
	samples := []int16{0, 100, -100, 1000, -1000, 32767, -32768}

	for _, original := range samples {
		sample32 := SampleFromInt16(original)
		result := SampleToInt16(sample32)
		if result != original {
			t.Errorf("round-trip failed: %d -> %d -> %d", original, sample32, result)
		}
	}
}

func TestRoundTrip24Bit(t *testing.T) {
	// Test that 24-bit samples survive round-trip conversion
	samples := []int32{0, 100000, -100000, Max24Bit, Min24Bit}

	for _, original := range samples {
		bytes := SampleTo24Bit(original)
		result := SampleFrom24Bit(bytes)
		// Mask to 24-bit for comparison
		expected := original & 0xFFFFFF
		if expected&0x800000 != 0 {
			expected |= ^0xFFFFFF
		}
		if result != expected {
			t.Errorf("round-trip failed: %d -> %v -> %d (expected %d)", original, bytes, result, expected)
		}
	}
}

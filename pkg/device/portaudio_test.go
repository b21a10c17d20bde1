//go:build portaudio

// ABOUTME: Tests for PortAudio callback adaptation
// ABOUTME: Checks each stream mode gets a callback with one buffer per direction
package device

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackArity(t *testing.T) {
	noop := func(out, in []byte, frames int) {}
	buf := make([]byte, 64)

	tests := []struct {
		mode StreamMode
		want int
	}{
		{ModeCapture, 1},
		{ModePlayback, 1},
		{ModeDuplex, 2},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, reflect.TypeOf(float32Callback(tt.mode, 2, buf, buf, noop)).NumIn())
			assert.Equal(t, tt.want, reflect.TypeOf(int16Callback(tt.mode, 2, buf, buf, noop)).NumIn())
		})
	}
}

func TestInt16CaptureCallback(t *testing.T) {
	var gotFrames int
	var gotIn []byte
	var gotOut []byte
	cb := int16Callback(ModeCapture, 2, make([]byte, 16), make([]byte, 16), func(out, in []byte, frames int) {
		gotOut, gotIn, gotFrames = out, append([]byte(nil), in...), frames
	})

	fn, ok := cb.(func([]int16))
	require.True(t, ok)
	fn([]int16{1, -1, 256, 0})

	assert.Nil(t, gotOut)
	assert.Equal(t, 2, gotFrames)
	assert.Equal(t, []byte{1, 0, 0xff, 0xff, 0, 1, 0, 0}, gotIn)
}

func TestFloat32PlaybackCallback(t *testing.T) {
	cb := float32Callback(ModePlayback, 1, make([]byte, 16), make([]byte, 16), func(out, in []byte, frames int) {
		assert.Nil(t, in)
		assert.Equal(t, 3, frames)
		putFloat32s(out, []float32{0.5, -0.5, 1})
	})

	fn, ok := cb.(func([]float32))
	require.True(t, ok)
	pout := make([]float32, 3)
	fn(pout)
	assert.Equal(t, []float32{0.5, -0.5, 1}, pout)
}

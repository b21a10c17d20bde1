// ABOUTME: Tests for the test tone backend
// ABOUTME: Checks the endpoint, the waveform and unsupported modes
package device

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

func TestToneEndpoint(t *testing.T) {
	tone := NewTone(0)
	eps, err := tone.Endpoints()
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "Test Tone", eps[0].Name)
	assert.Equal(t, "tone:440", eps[0].UID)
	assert.Equal(t, RoleInput, eps[0].Role)
}

func TestToneReaderWaveform(t *testing.T) {
	f := audio.Format{Kind: audio.Float32, SampleRate: 8000, Channels: 2}
	r := &toneReader{format: f, frequency: 1000}

	buf := make([]byte, 8*f.FrameSize())
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	for i := 0; i < 8; i++ {
		want := 0.5 * math.Sin(2*math.Pi*1000*float64(i)/8000)
		left := audio.ReadSample(f.Kind, buf[i*8:])
		right := audio.ReadSample(f.Kind, buf[i*8+4:])
		assert.InDelta(t, want, left, 1e-6)
		assert.Equal(t, left, right)
	}

	require.NoError(t, r.Rewind())
	again := make([]byte, len(buf))
	_, _ = r.Read(again)
	assert.Equal(t, buf, again)
}

func TestToneCaptureStream(t *testing.T) {
	reg := NewRegistry(NewTone(440))
	ep, ok := reg.DeviceByName("Test Tone", RoleInput)
	require.True(t, ok)

	var mu sync.Mutex
	var calls int
	var peak float64
	stream, err := reg.OpenStream(StreamConfig{Mode: ModeCapture, Input: ep, Format: ep.Format, PeriodFrames: 64},
		func(_, in []byte, frames int) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			for i := 0; i < frames*2; i++ {
				peak = math.Max(peak, math.Abs(audio.ReadSample(audio.Int16, in[i*2:])))
			}
		}, nil)
	require.NoError(t, err)
	require.NoError(t, stream.Start())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, time.Millisecond)
	require.NoError(t, stream.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.InDelta(t, 0.5, peak, 0.01)
}

func TestToneRejectsPlayback(t *testing.T) {
	tone := NewTone(440)
	out := Endpoint{Name: "x", UID: "x", Backend: toneBackendName, Role: RoleOutput, Format: tone.format}
	_, err := tone.OpenStream(StreamConfig{Mode: ModePlayback, Output: out, Format: tone.format}, func(_, _ []byte, _ int) {}, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

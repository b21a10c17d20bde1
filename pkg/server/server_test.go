// ABOUTME: Tests for the session orchestrator
// ABOUTME: Runs whole sessions over the fake backend
package server

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/playthrough/internal/audiotest"
	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
	"github.com/Resonate-Protocol/playthrough/pkg/record"
)

var monoS16 = audio.Format{Kind: audio.Int16, SampleRate: 48000, Channels: 1}

const period = 64

func newRig(t *testing.T, cfg Config) (*Server, *audiotest.Backend) {
	t.Helper()
	b := audiotest.NewBackend(
		audiotest.Input("Mic", "mic", monoS16),
		audiotest.Output("Speakers", "spk", monoS16),
		audiotest.Output("Headphones", "hp", monoS16),
	)
	if cfg.OutputUID == "" {
		cfg.OutputUID = "hp"
	}
	cfg.CaptureFrames = period
	cfg.OutputFrames = period
	srv := New(device.NewRegistry(b), cfg)
	t.Cleanup(srv.StopServer)
	return srv, b
}

func ramp(start, frames int) []byte {
	b := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		v := uint16(start + i)
		b[i*2] = byte(v)
		b[i*2+1] = byte(v >> 8)
	}
	return b
}

type memRecorder struct {
	mu     sync.Mutex
	data   bytes.Buffer
	closed bool
}

func (r *memRecorder) Write(b audio.Buffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Write(b.Data)
	return nil
}

func (r *memRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *memRecorder) snapshot() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data.Bytes()...), r.closed
}

func TestStartUnknownDevice(t *testing.T) {
	srv, b := newRig(t, Config{})

	err := srv.StartServerWithInputDeviceName("Nope")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.False(t, srv.IsRunning())
	assert.Zero(t, b.OpenCount())

	_, ok := srv.Session()
	assert.False(t, ok)
}

func TestStartInputDevice(t *testing.T) {
	srv, b := newRig(t, Config{})

	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))
	assert.True(t, srv.IsRunning())

	info, ok := srv.Session()
	require.True(t, ok)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "mic", info.Input.UID)
	assert.Equal(t, "hp", info.Output.UID)
	assert.Equal(t, monoS16, info.Format)
	assert.False(t, info.Loopback)

	capture := b.StreamFor(device.ModeCapture)
	require.NotNil(t, capture)
	assert.True(t, capture.Running())
	playback := b.StreamFor(device.ModePlayback)
	require.NotNil(t, playback)
	assert.Equal(t, "hp", playback.Config().Output.UID)

	assert.ErrorIs(t, srv.StartServerWithInputDeviceName("Mic"), ErrAlreadyRunning)
}

func TestAudioFlowsThroughFlatEqualizer(t *testing.T) {
	srv, b := newRig(t, Config{})
	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))

	in := ramp(1, period)
	b.StreamFor(device.ModeCapture).Cycle(in, period)

	require.Eventually(t, func() bool {
		st, _, ok := srv.Stats()
		return ok && st.Queued == monoS16.DurationOf(len(in))
	}, time.Second, time.Millisecond)

	out := b.StreamFor(device.ModePlayback).Cycle(nil, period)
	assert.Equal(t, in, out)
}

func TestVolumeAppliesToOutput(t *testing.T) {
	srv, b := newRig(t, Config{})
	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))
	srv.SetVolume(0)

	b.StreamFor(device.ModeCapture).Cycle(ramp(100, period), period)
	require.Eventually(t, func() bool {
		st, _, _ := srv.Stats()
		return st.Queued > 0
	}, time.Second, time.Millisecond)

	out := b.StreamFor(device.ModePlayback).Cycle(nil, period)
	assert.Equal(t, make([]byte, period*2), out)
}

func TestTapOutputDevice(t *testing.T) {
	srv, b := newRig(t, Config{})

	require.NoError(t, srv.StartServerWithInputDeviceName("Speakers"))
	info, ok := srv.Session()
	require.True(t, ok)
	assert.True(t, info.Loopback)
	assert.Equal(t, "spk", info.Input.UID)

	lb := b.StreamFor(device.ModeLoopback)
	require.NotNil(t, lb)
	assert.True(t, lb.Running())
}

func TestTapOwnOutputRejected(t *testing.T) {
	srv, b := newRig(t, Config{OutputUID: "spk"})

	err := srv.StartServerWithInputDeviceName("Speakers")
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.False(t, srv.IsRunning())
	assert.Zero(t, b.OpenCount())
}

func TestStartFailureReleasesEverything(t *testing.T) {
	boom := errors.New("disk full")
	srv, b := newRig(t, Config{
		Recorder: func(audio.Format) (record.Recorder, error) { return nil, boom },
	})

	err := srv.StartServerWithInputDeviceName("Mic")
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.False(t, srv.IsRunning())
	assert.Zero(t, b.OpenCount())

	b.FailOpen(errors.New("busy"))
	err = New(srv.Registry(), Config{OutputUID: "hp"}).StartServerWithInputDeviceName("Mic")
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.Zero(t, b.OpenCount())
}

func TestStopServerIdempotent(t *testing.T) {
	srv, b := newRig(t, Config{})

	srv.StopServer()
	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))
	srv.StopServer()
	srv.StopServer()

	assert.False(t, srv.IsRunning())
	assert.Zero(t, b.OpenCount())
}

func TestSettingsPersistAcrossSessions(t *testing.T) {
	srv, _ := newRig(t, Config{})

	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))
	first, _ := srv.Session()
	srv.SetVolume(0.25)
	require.NoError(t, srv.Equalizer().SetBandGain(4, 6))
	srv.StopServer()

	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))
	second, _ := srv.Session()

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0.25, srv.Volume())
	assert.Equal(t, 6.0, srv.Equalizer().Gains().Bands[4])
	assert.True(t, srv.Equalizer().Configured())
}

func TestDeviceLossStopsSession(t *testing.T) {
	srv, b := newRig(t, Config{})
	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))

	b.StreamFor(device.ModeCapture).Lose()

	require.Eventually(t, func() bool { return !srv.IsRunning() }, time.Second, time.Millisecond)
	assert.Zero(t, b.OpenCount())

	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))
}

func TestOutputLossStopsSession(t *testing.T) {
	srv, b := newRig(t, Config{})
	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))

	b.StreamFor(device.ModePlayback).Lose()

	require.Eventually(t, func() bool { return !srv.IsRunning() }, time.Second, time.Millisecond)
	assert.Zero(t, b.OpenCount())
}

func TestRecorderReceivesProcessedAudio(t *testing.T) {
	rec := &memRecorder{}
	srv, b := newRig(t, Config{
		Recorder: func(f audio.Format) (record.Recorder, error) {
			assert.Equal(t, monoS16, f)
			return rec, nil
		},
	})
	require.NoError(t, srv.StartServerWithInputDeviceName("Mic"))

	capture := b.StreamFor(device.ModeCapture)
	capture.Cycle(ramp(1, period), period)
	capture.Cycle(ramp(1+period, period), period)
	srv.StopServer()

	data, closed := rec.snapshot()
	assert.True(t, closed)
	assert.Equal(t, ramp(1, 2*period), data)
}

func TestSetVolumeClamps(t *testing.T) {
	srv := New(device.NewRegistry(), Config{})
	assert.Equal(t, 1.0, srv.Volume())

	srv.SetVolume(2)
	assert.Equal(t, 1.0, srv.Volume())
	srv.SetVolume(-1)
	assert.Equal(t, 0.0, srv.Volume())

	assert.Equal(t, 0.5, New(device.NewRegistry(), Config{Volume: 0.5}).Volume())
}

func TestShared(t *testing.T) {
	reg := device.NewRegistry()
	assert.Same(t, Shared(reg), Shared(nil))
}

// ABOUTME: Tests for the output sink
// ABOUTME: Queue bounds, silence fill, volume, state machine and device loss
package output

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/playthrough/internal/audiotest"
	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
)

// 1 kHz mono s16 keeps the arithmetic readable: 1 ms is 1 frame is 2 bytes
var testParam = audio.Parameter{SampleRate: 1000, Channels: 1, BitsPerChannel: 16}

type packetQueue struct {
	mu   sync.Mutex
	pkts []audio.Packet
}

func (q *packetQueue) push(p ...audio.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pkts = append(q.pkts, p...)
}

func (q *packetQueue) produce() []audio.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pkts
	q.pkts = nil
	return out
}

func filled(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func newManualSink(t *testing.T, syncTime time.Duration) (*Sink, *audiotest.Backend, *packetQueue) {
	t.Helper()
	f, err := testParam.Format()
	require.NoError(t, err)

	spk := audiotest.Output("Speakers", "spk", f)
	spk.BuiltIn = true
	b := audiotest.NewBackend(spk, audiotest.Input("Mic", "mic", f))
	reg := device.NewRegistry(b)

	s, err := NewSink(reg, "", testParam, Options{BufferFrames: 10, SynchronizeAudioTime: syncTime})
	require.NoError(t, err)
	s.manual = true

	q := &packetQueue{}
	require.NoError(t, s.Start(q.produce))
	return s, b, q
}

func TestNewSinkResolution(t *testing.T) {
	f, _ := testParam.Format()
	reg := device.NewRegistry(audiotest.NewBackend(
		audiotest.Input("Mic", "mic", f),
		audiotest.Output("Speakers", "spk", f),
	))

	s, err := NewSink(reg, "", testParam, Options{})
	require.NoError(t, err)
	assert.Equal(t, "spk", s.Endpoint().UID, "falls back to the default output")
	assert.Equal(t, DefaultSynchronizeAudioTime, s.SynchronizeAudioTime())

	_, err = NewSink(reg, "ghost", testParam, Options{})
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	_, err = NewSink(reg, "mic", testParam, Options{})
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	_, err = NewSink(reg, "spk", audio.Parameter{SampleRate: 1000, Channels: 1, BitsPerChannel: 12}, Options{})
	assert.ErrorIs(t, err, audio.ErrUnsupportedParameter)
}

func TestRenderWritesExactSizeWithSilence(t *testing.T) {
	s, b, q := newManualSink(t, 100*time.Millisecond)
	defer s.Stop()
	stream := b.StreamFor(device.ModePlayback)

	// Nothing queued: silence, and no underrun before the first packet
	out := stream.Cycle(nil, 10)
	assert.Equal(t, make([]byte, 20), out)
	assert.Zero(t, s.Stats().Underruns)

	q.push(audio.Packet{Data: filled(7, 6)})
	s.pump(time.Now())

	out = stream.Cycle(nil, 10)
	require.Len(t, out, 20)
	assert.Equal(t, filled(7, 6), out[:6])
	assert.Equal(t, make([]byte, 14), out[6:])
	assert.Equal(t, uint64(1), s.Stats().Underruns)
	assert.Equal(t, uint64(3), s.Stats().Rendered)
}

func TestBacklogOverLimitIsFlushed(t *testing.T) {
	// Limit is 50 frames, 100 bytes
	s, b, q := newManualSink(t, 50*time.Millisecond)
	defer s.Stop()
	stream := b.StreamFor(device.ModePlayback)

	q.push(audio.Packet{Data: filled(1, 80)})
	s.pump(time.Now())
	assert.Equal(t, 40*time.Millisecond, s.Stats().Queued)

	// 80 + 40 > 100: the old backlog goes, the new packet stays
	q.push(audio.Packet{Data: filled(2, 40)})
	s.pump(time.Now())

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Flushes)
	assert.Equal(t, uint64(80), st.Dropped)
	assert.Equal(t, 20*time.Millisecond, st.Queued)

	out := stream.Cycle(nil, 10)
	assert.Equal(t, filled(2, 20), out)
}

func TestQueueNeverExceedsLimit(t *testing.T) {
	s, _, q := newManualSink(t, 30*time.Millisecond)
	defer s.Stop()

	for i := 0; i < 50; i++ {
		q.push(audio.Packet{Data: filled(byte(i), 2*(i%17+1))})
		s.pump(time.Now())
		require.LessOrEqual(t, s.Stats().Queued, 30*time.Millisecond)
	}
}

func TestOversizePacketKeepsNewestBytes(t *testing.T) {
	s, b, q := newManualSink(t, 10*time.Millisecond)
	defer s.Stop()

	data := append(filled(1, 30), filled(9, 20)...)
	q.push(audio.Packet{Data: data})
	s.pump(time.Now())

	st := s.Stats()
	assert.Equal(t, 10*time.Millisecond, st.Queued)
	assert.Equal(t, uint64(30), st.Dropped)
	assert.Equal(t, filled(9, 20), b.StreamFor(device.ModePlayback).Cycle(nil, 10))
}

func TestLatePacketsDropped(t *testing.T) {
	s, _, q := newManualSink(t, 50*time.Millisecond)
	defer s.Stop()

	now := time.Now()
	q.push(
		audio.Packet{Data: filled(1, 10), RenderAt: now.Add(-time.Second)},
		audio.Packet{Data: filled(2, 10), RenderAt: now.Add(-10 * time.Millisecond)},
		audio.Packet{Data: filled(3, 10)},
	)
	s.pump(now)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Late)
	assert.Equal(t, 10*time.Millisecond, st.Queued)
}

func TestPartialFramesTrimmed(t *testing.T) {
	s, _, q := newManualSink(t, 50*time.Millisecond)
	defer s.Stop()

	q.push(audio.Packet{Data: filled(4, 7)})
	s.pump(time.Now())
	assert.Equal(t, 3*time.Millisecond, s.Stats().Queued)
}

func TestVolumeAppliedAtRender(t *testing.T) {
	s, b, q := newManualSink(t, 50*time.Millisecond)
	defer s.Stop()

	s.SetVolume(2)
	assert.Equal(t, 1.0, s.Volume())
	s.SetVolume(-1)
	assert.Equal(t, 0.0, s.Volume())

	s.SetVolume(0.5)
	pkt := make([]byte, 20)
	for i := 0; i < 10; i++ {
		audio.WriteSample(audio.Int16, pkt[i*2:], 0.5)
	}
	q.push(audio.Packet{Data: pkt})
	s.pump(time.Now())

	out := b.StreamFor(device.ModePlayback).Cycle(nil, 10)
	for i := 0; i < 10; i++ {
		assert.InDelta(t, 0.25, audio.ReadSample(audio.Int16, out[i*2:]), 1e-4)
	}
}

func TestStateMachine(t *testing.T) {
	s, b, q := newManualSink(t, 50*time.Millisecond)
	assert.Equal(t, StatePlaying, s.State())
	assert.ErrorIs(t, s.Start(q.produce), ErrAlreadyPlaying)

	q.push(audio.Packet{Data: filled(5, 10)})
	s.pump(time.Now())

	s.Pause()
	assert.Equal(t, StatePaused, s.State())
	stream := b.StreamFor(device.ModePlayback)
	assert.False(t, stream.Running())
	assert.Equal(t, 5*time.Millisecond, s.Stats().Queued, "pause keeps the queue")

	s.Pause()
	assert.Equal(t, StatePaused, s.State())

	require.NoError(t, s.Start(nil))
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, append(filled(5, 10), make([]byte, 10)...), stream.Cycle(nil, 10))

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
	assert.True(t, stream.Closed())
	assert.Zero(t, s.Stats().Queued)
	s.Stop()

	// Pause from Stopped is a no-op
	s.Pause()
	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Start(nil), ErrNoProducer)
}

func TestSynchronizeTimeAppliesOnNextStart(t *testing.T) {
	s, _, q := newManualSink(t, 50*time.Millisecond)
	s.SetSynchronizeAudioTime(20 * time.Millisecond)

	q.push(audio.Packet{Data: filled(1, 80)})
	s.pump(time.Now())
	assert.Equal(t, 40*time.Millisecond, s.Stats().Queued)

	s.Stop()
	require.NoError(t, s.Start(q.produce))
	defer s.Stop()
	assert.Zero(t, s.Stats().Queued, "a new run starts empty")

	q.push(audio.Packet{Data: filled(1, 80)})
	s.pump(time.Now())
	assert.Equal(t, 20*time.Millisecond, s.Stats().Queued)
}

func TestLateBoundFixedForRun(t *testing.T) {
	s, _, q := newManualSink(t, 50*time.Millisecond)
	defer s.Stop()

	s.SetSynchronizeAudioTime(5 * time.Millisecond)
	now := time.Now()
	q.push(audio.Packet{Data: filled(1, 10), RenderAt: now.Add(-20 * time.Millisecond)})
	s.pump(now)

	st := s.Stats()
	assert.Zero(t, st.Late)
	assert.Equal(t, 5*time.Millisecond, st.Queued)
}

func TestSetSynchronizeAudioTimeWhileFeeding(t *testing.T) {
	f, _ := testParam.Format()
	b := audiotest.NewBackend(audiotest.Output("Speakers", "spk", f))
	s, err := NewSink(device.NewRegistry(b), "spk", testParam, Options{BufferFrames: 10})
	require.NoError(t, err)

	var polls atomic.Int64
	require.NoError(t, s.Start(func() []audio.Packet {
		polls.Add(1)
		return []audio.Packet{{Data: filled(1, 2), RenderAt: time.Now()}}
	}))
	defer s.Stop()

	for i := 0; polls.Load() < 20; i++ {
		s.SetSynchronizeAudioTime(time.Duration(i%50+1) * time.Millisecond)
		time.Sleep(100 * time.Microsecond)
	}
	assert.Zero(t, s.Stats().Late)
}

func TestDeviceLossStopsSink(t *testing.T) {
	s, b, _ := newManualSink(t, 50*time.Millisecond)
	done := s.Done()

	b.StreamFor(device.ModePlayback).Lose()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, audiotest.ErrDeviceGone)
	case <-time.After(time.Second):
		t.Fatal("expected loss on Done")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 0, b.OpenCount())
}

func TestFailedStartLeavesStopped(t *testing.T) {
	f, _ := testParam.Format()
	b := audiotest.NewBackend(audiotest.Output("Speakers", "spk", f))
	s, err := NewSink(device.NewRegistry(b), "spk", testParam, Options{})
	require.NoError(t, err)

	b.FailOpen(assert.AnError)
	assert.ErrorIs(t, s.Start(func() []audio.Packet { return nil }), assert.AnError)
	assert.Equal(t, StateStopped, s.State())
}

func TestFeederPollsProducer(t *testing.T) {
	f, _ := testParam.Format()
	b := audiotest.NewBackend(audiotest.Output("Speakers", "spk", f))
	s, err := NewSink(device.NewRegistry(b), "spk", testParam, Options{BufferFrames: 10})
	require.NoError(t, err)

	q := &packetQueue{}
	q.push(audio.Packet{Data: filled(3, 8)})
	require.NoError(t, s.Start(q.produce))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return s.Stats().Queued == 4*time.Millisecond
	}, time.Second, time.Millisecond)
}

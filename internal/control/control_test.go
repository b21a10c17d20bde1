// ABOUTME: Tests for the control server and client
// ABOUTME: Runs a real WebSocket round trip against a server over the fake backend
package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/playthrough/internal/audiotest"
	"github.com/Resonate-Protocol/playthrough/internal/version"
	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
	"github.com/Resonate-Protocol/playthrough/pkg/eq"
	"github.com/Resonate-Protocol/playthrough/pkg/server"
)

var monoS16 = audio.Format{Kind: audio.Int16, SampleRate: 48000, Channels: 1}

type rig struct {
	srv      *server.Server
	ctl      *Server
	client   *Client
	notifier *device.Notifier
}

func newRig(t *testing.T) *rig {
	t.Helper()
	b := audiotest.NewBackend(
		audiotest.Input("Mic", "mic", monoS16),
		audiotest.Output("Speakers", "spk", monoS16),
	)
	srv := server.New(device.NewRegistry(b), server.Config{OutputUID: "spk"})
	notifier := device.NewNotifier("test.devices")

	ctl := New(srv, Config{Addr: "127.0.0.1:0", Notifier: notifier})
	require.NoError(t, ctl.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, ctl.Addr().String())
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		ctl.Stop()
		srv.StopServer()
	})
	return &rig{srv: srv, ctl: ctl, client: client, notifier: notifier}
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestStatus(t *testing.T) {
	r := newRig(t)

	st, err := r.client.Status(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, r.ctl.ID(), st.ServerID)
	assert.Equal(t, version.Product, st.Product)
	assert.Equal(t, version.Version, st.Version)
	assert.False(t, st.Running)
	assert.Nil(t, st.Session)
	assert.Nil(t, st.Stats)
	assert.Equal(t, 1.0, st.Volume)
	assert.Equal(t, eq.DefaultBands, st.EQ.Centres)
	assert.Len(t, st.EQ.Gains, len(eq.DefaultBands))
}

func TestDevices(t *testing.T) {
	r := newRig(t)

	devs, err := r.client.Devices(ctx(t))
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "Mic", devs[0].Name)
	assert.Equal(t, "input", devs[0].Role)
	assert.Equal(t, "spk", devs[1].UID)
	assert.Equal(t, "output", devs[1].Role)
	assert.Equal(t, monoS16.String(), devs[1].Format)
}

func TestSessionLifecycle(t *testing.T) {
	r := newRig(t)

	st, err := r.client.Start(ctx(t), "Mic")
	require.NoError(t, err)
	assert.True(t, st.Running)
	require.NotNil(t, st.Session)
	assert.Equal(t, "Mic", st.Session.Input)
	assert.Equal(t, "Speakers", st.Session.Output)
	assert.NotNil(t, st.Stats)

	_, err = r.client.Start(ctx(t), "Mic")
	assert.ErrorIs(t, err, ErrRemote)

	st, err = r.client.Stop(ctx(t))
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.False(t, r.srv.IsRunning())
}

func TestStartUnknownDevice(t *testing.T) {
	r := newRig(t)

	_, err := r.client.Start(ctx(t), "Nothing")
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "not found")
}

func TestVolumeAndEqualizer(t *testing.T) {
	r := newRig(t)

	st, err := r.client.SetVolume(ctx(t), 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.3, st.Volume)
	assert.Equal(t, 0.3, r.srv.Volume())

	_, err = r.client.SetGains(ctx(t), []float64{1, 2}, nil)
	assert.ErrorIs(t, err, ErrRemote)

	gains := make([]float64, len(eq.DefaultBands))
	gains[2] = 4
	gains[5] = 20
	overall := -2.0
	st, err = r.client.SetGains(ctx(t), gains, &overall)
	require.NoError(t, err)
	assert.Equal(t, 4.0, st.EQ.Gains[2])
	assert.Equal(t, eq.MaxGain, st.EQ.Gains[5])
	assert.Equal(t, -2.0, st.EQ.Overall)

	st, err = r.client.ResetEQ(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, make([]float64, len(eq.DefaultBands)), st.EQ.Gains)
	assert.Zero(t, st.EQ.Overall)
}

func TestUnknownRequest(t *testing.T) {
	r := newRig(t)

	_, err := r.client.Request(ctx(t), "bogus", nil)
	assert.ErrorIs(t, err, ErrRemote)
}

func TestDevicesChangedPushed(t *testing.T) {
	r := newRig(t)

	// a round trip guarantees the connection is registered
	_, err := r.client.Status(ctx(t))
	require.NoError(t, err)

	r.notifier.Post()

	select {
	case msg := <-r.client.Events():
		assert.Equal(t, TypeDevicesChanged, msg.Type)
		assert.Empty(t, msg.ID)
		var p DevicesPayload
		require.NoError(t, msg.Decode(&p))
		assert.Len(t, p.Devices, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no devices/changed event")
	}
}

func TestServerStopDisconnectsClient(t *testing.T) {
	r := newRig(t)
	_, err := r.client.Status(ctx(t))
	require.NoError(t, err)
	r.ctl.Stop()

	select {
	case _, ok := <-r.client.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("client not disconnected")
	}

	_, err = r.client.Status(ctx(t))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStopWithConnectsInFlight(t *testing.T) {
	b := audiotest.NewBackend(audiotest.Output("Speakers", "spk", monoS16))
	srv := server.New(device.NewRegistry(b), server.Config{OutputUID: "spk"})
	defer srv.StopServer()
	ctl := New(srv, Config{Addr: "127.0.0.1:0", Notifier: device.NewNotifier("test.devices")})
	require.NoError(t, ctl.Start())
	addr := ctl.Addr().String()

	stopped := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopped:
					return
				default:
				}
				c, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				if client, err := Dial(c, addr); err == nil {
					client.Close()
				}
				cancel()
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		ctl.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while clients were connecting")
	}
	close(stopped)
	wg.Wait()
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage(TypeSessionStart, "abc", StartRequest{Device: "Mic"})
	require.NoError(t, err)

	var p StartRequest
	require.NoError(t, msg.Decode(&p))
	assert.Equal(t, "Mic", p.Device)

	empty, err := NewMessage(TypeSessionStop, "", nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Payload)
	assert.NoError(t, empty.Decode(&p))
}

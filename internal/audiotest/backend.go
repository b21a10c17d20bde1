// ABOUTME: In-memory audio backend for tests
// ABOUTME: Scripted endpoints and streams driven synchronously by Cycle
package audiotest

import (
	"errors"
	"sync"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
)

// ErrDeviceGone is the loss reason used by Stream.Lose
var ErrDeviceGone = errors.New("fake device unplugged")

// DefaultFormat is the native format of endpoints built by Input and Output
var DefaultFormat = audio.Format{Kind: audio.Int16, SampleRate: 48000, Channels: 2}

// Input builds an input endpoint owned by the backend named "fake"
func Input(name, uid string, f audio.Format) device.Endpoint {
	return device.Endpoint{Name: name, UID: uid, HardwareID: uid, Backend: Name, Role: device.RoleInput, Format: f}
}

// Output builds an output endpoint owned by the backend named "fake"
func Output(name, uid string, f audio.Format) device.Endpoint {
	return device.Endpoint{Name: name, UID: uid, HardwareID: uid, Backend: Name, Role: device.RoleOutput, DefaultCapable: true, Format: f}
}

// Name is the backend name of every fake endpoint
const Name = "fake"

// Backend is a device.Backend whose endpoints are set by the test
type Backend struct {
	mu         sync.Mutex
	endpoints  []device.Endpoint
	streams    []*Stream
	openErr    error
	enumErr    error
	defaultOut string
	closed     bool
}

// NewBackend creates a fake backend with the given endpoints
func NewBackend(eps ...device.Endpoint) *Backend {
	return &Backend{endpoints: eps}
}

func (b *Backend) Name() string { return Name }

// SetEndpoints replaces the endpoint list, simulating a topology change
func (b *Backend) SetEndpoints(eps ...device.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints = eps
}

// FailOpen makes every following OpenStream return err; nil restores success
func (b *Backend) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// FailEnumerate makes Endpoints return err
func (b *Backend) FailEnumerate(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enumErr = err
}

func (b *Backend) Endpoints() ([]device.Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enumErr != nil {
		return nil, b.enumErr
	}
	out := make([]device.Endpoint, len(b.endpoints))
	copy(out, b.endpoints)
	for i := range out {
		if b.defaultOut != "" && out[i].Role == device.RoleOutput {
			out[i].IsDefault = out[i].UID == b.defaultOut
		}
	}
	return out, nil
}

func (b *Backend) OpenStream(cfg device.StreamConfig, data device.DataFunc, lost device.LostFunc) (device.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := &Stream{cfg: cfg, data: data, lost: lost}
	b.streams = append(b.streams, s)
	return s, nil
}

// SetDefaultOutput marks uid as the default output
func (b *Backend) SetDefaultOutput(uid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ep := range b.endpoints {
		if ep.UID == uid && ep.Role == device.RoleOutput {
			b.defaultOut = uid
			return nil
		}
	}
	return device.ErrDeviceNotFound
}

// DefaultOutput returns the uid last passed to SetDefaultOutput
func (b *Backend) DefaultOutput() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.defaultOut
}

// Streams returns every stream opened so far, oldest first
func (b *Backend) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Stream, len(b.streams))
	copy(out, b.streams)
	return out
}

// StreamFor returns the most recent stream opened in the given mode
func (b *Backend) StreamFor(mode device.StreamMode) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.streams) - 1; i >= 0; i-- {
		if b.streams[i].cfg.Mode == mode {
			return b.streams[i]
		}
	}
	return nil
}

// OpenCount reports how many opened streams are not yet closed
func (b *Backend) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.streams {
		if !s.Closed() {
			n++
		}
	}
	return n
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Stream is a fake hardware stream. Tests play the realtime thread by calling Cycle.
type Stream struct {
	cfg  device.StreamConfig
	data device.DataFunc
	lost device.LostFunc

	mu      sync.Mutex
	running bool
	closed  bool
	cycles  int
}

// Config returns the configuration the stream was opened with
func (s *Stream) Config() device.StreamConfig { return s.cfg }

func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return device.ErrStreamClosed
	}
	s.running = true
	return nil
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.closed = true
	return nil
}

// Running reports whether the stream is started
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Closed reports whether the stream was closed
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Cycles returns how many IO cycles were delivered
func (s *Stream) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// Cycle runs one IO cycle of the given frame count. in is handed to the
// callback for capture, duplex and loopback streams; the rendered output is
// returned for playback and duplex streams. Cycle on a stopped stream does
// nothing and returns nil.
func (s *Stream) Cycle(in []byte, frames int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	var out []byte
	switch s.cfg.Mode {
	case device.ModePlayback, device.ModeDuplex:
		out = make([]byte, frames*s.cfg.Format.FrameSize())
	}
	if s.cfg.Mode == device.ModePlayback {
		in = nil
	}
	s.cycles++
	s.data(out, in, frames)
	return out
}

// Lose stops the stream as if the hardware vanished and reports it
func (s *Stream) Lose() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning && s.lost != nil {
		s.lost(ErrDeviceGone)
	}
}

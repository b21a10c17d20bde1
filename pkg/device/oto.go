// ABOUTME: Playback-only backend using the oto library
// ABOUTME: Exposes the system default output as one endpoint fed by a pull reader
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"
)

const (
	otoBackendName = "oto"
	otoDefaultUID  = "oto:out:default"
)

// Oto is a Backend with a single "System Output" endpoint. oto allows one
// context per process, so the first opened stream fixes the format.
type Oto struct {
	native audio.Format
	log    *logrus.Entry

	mu     sync.Mutex
	ctx    *oto.Context
	format audio.Format
}

// NewOto creates the oto backend. The context is created on first use.
func NewOto(native audio.Format) *Oto {
	if native.Validate() != nil {
		native = audio.Format{Kind: audio.Float32, SampleRate: 48000, Channels: 2}
	}
	return &Oto{
		native: native,
		log:    logrus.WithField("backend", otoBackendName),
	}
}

// Name returns the backend name
func (o *Oto) Name() string {
	return otoBackendName
}

// Endpoints returns the system output endpoint
func (o *Oto) Endpoints() ([]Endpoint, error) {
	return []Endpoint{{
		Name:           "System Output",
		UID:            otoDefaultUID,
		HardwareID:     "default",
		Backend:        otoBackendName,
		Role:           RoleOutput,
		DefaultCapable: true,
		IsDefault:      true,
		Format:         o.native,
	}}, nil
}

func otoFormat(k audio.SampleKind) (oto.Format, error) {
	switch k {
	case audio.Float32:
		return oto.FormatFloat32LE, nil
	case audio.Int16:
		return oto.FormatSignedInt16LE, nil
	case audio.Uint8:
		return oto.FormatUnsignedInt8, nil
	}
	return 0, fmt.Errorf("oto cannot render %s: %w", k, ErrUnsupported)
}

func (o *Oto) context(f audio.Format, period int) (*oto.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx != nil {
		if o.format != f {
			return nil, fmt.Errorf("oto already running at %s, cannot switch to %s: %w", o.format, f, ErrUnsupported)
		}
		return o.ctx, nil
	}

	of, err := otoFormat(f.Kind)
	if err != nil {
		return nil, err
	}

	op := &oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       of,
	}
	if period > 0 {
		op.BufferSize = time.Duration(period) * time.Second / time.Duration(f.SampleRate)
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o.ctx = ctx
	o.format = f
	o.log.WithField("format", f.String()).Info("Oto context initialized")
	return ctx, nil
}

// OpenStream opens a playback stream; other modes are unsupported
func (o *Oto) OpenStream(cfg StreamConfig, data DataFunc, lost LostFunc) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModePlayback {
		return nil, fmt.Errorf("oto %s stream: %w", cfg.Mode, ErrUnsupported)
	}
	if cfg.Output.UID != otoDefaultUID {
		return nil, fmt.Errorf("%s: %w", cfg.Output.UID, ErrDeviceNotFound)
	}

	ctx, err := o.context(cfg.Format, cfg.PeriodFrames)
	if err != nil {
		return nil, err
	}

	s := &otoStream{
		data:      data,
		frameSize: cfg.Format.FrameSize(),
	}
	s.player = ctx.NewPlayer(s)
	return s, nil
}

// Close is a no-op; oto contexts live for the whole process
func (o *Oto) Close() error {
	return nil
}

// otoStream adapts the pull reader oto expects to a DataFunc
type otoStream struct {
	mu        sync.Mutex // held for the duration of each data callback
	player    *oto.Player
	data      DataFunc
	frameSize int
	running   bool
	closed    bool
}

// Read is called from oto's mixing goroutine
func (s *otoStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(p) / s.frameSize * s.frameSize
	if !s.running || n == 0 {
		for i := range p[:n] {
			p[i] = 0
		}
		return n, nil
	}
	s.data(p[:n], nil, n/s.frameSize)
	return n, nil
}

func (s *otoStream) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.running = true
	s.mu.Unlock()

	s.player.Play()
	return nil
}

// Stop waits for any in-flight Read to finish before returning
func (s *otoStream) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.player.Pause()
	return nil
}

func (s *otoStream) Close() error {
	_ = s.Stop()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.player.Close(); err != nil {
		return fmt.Errorf("failed to close oto player: %w", err)
	}
	return nil
}

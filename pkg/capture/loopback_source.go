// ABOUTME: Play-through capture across an input and an output endpoint
// ABOUTME: Taps an output's mix or runs input and output on one clock
package capture

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
)

// LoopbackOptions configures a LoopbackSource
type LoopbackOptions struct {
	// BufferFrames is the hardware period requested for the stream
	BufferFrames int
	// Mute silences the output instead of playing the input through
	Mute bool
}

// LoopbackSource captures through an output endpoint. When the input is an
// output endpoint, or both UIDs match, it taps that output's rendered mix.
// Otherwise it runs the input and output together and plays every cycle's
// input through after the handler has seen it.
type LoopbackSource struct {
	reg    *device.Registry
	input  device.Endpoint
	output device.Endpoint
	mode   device.StreamMode
	format audio.Format
	frames int
	mute   bool
	*lifecycle

	handler   Handler
	delivered int
}

// NewLoopbackSource binds an input and an output endpoint by UID
func NewLoopbackSource(reg *device.Registry, inputUID, outputUID string, opts LoopbackOptions) (*LoopbackSource, error) {
	in, ok := reg.DeviceByUID(inputUID)
	if !ok {
		return nil, fmt.Errorf("no endpoint with uid %q: %w", inputUID, device.ErrDeviceNotFound)
	}
	out, ok := reg.DeviceByUID(outputUID)
	if !ok || out.Role != device.RoleOutput {
		return nil, fmt.Errorf("no output with uid %q: %w", outputUID, device.ErrDeviceNotFound)
	}

	s := &LoopbackSource{
		reg:    reg,
		input:  in,
		output: out,
		frames: opts.BufferFrames,
		mute:   opts.Mute,
	}
	if s.frames <= 0 {
		s.frames = DefaultBufferFrames
	}

	if in.Role == device.RoleOutput || in.UID == out.UID {
		s.mode = device.ModeLoopback
		s.output = in
		s.format = in.Format
	} else {
		s.mode = device.ModeDuplex
		s.format = in.Format
	}
	if err := s.format.Validate(); err != nil {
		return nil, err
	}

	s.lifecycle = newLifecycle(logrus.WithFields(logrus.Fields{
		"component": "capture",
		"input":     in.Name,
		"output":    s.output.Name,
		"mode":      s.mode.String(),
	}))
	return s, nil
}

// Format returns the captured format
func (s *LoopbackSource) Format() audio.Format { return s.format }

// Endpoint returns the captured endpoint: the tapped output, or the input
// feeding the play-through
func (s *LoopbackSource) Endpoint() device.Endpoint {
	if s.mode == device.ModeLoopback {
		return s.output
	}
	return s.input
}

// Output returns the endpoint audio is played through or tapped from
func (s *LoopbackSource) Output() device.Endpoint { return s.output }

// Mode reports whether the source taps a mix or plays through
func (s *LoopbackSource) Mode() device.StreamMode { return s.mode }

// Start begins delivering one buffer per IO cycle to h
func (s *LoopbackSource) Start(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	err := s.begin(func() {
		s.handler = h
		s.delivered = 0
	}, func(lost device.LostFunc) (device.Stream, error) {
		cfg := device.StreamConfig{
			Mode:         s.mode,
			Output:       s.output,
			Format:       s.format,
			PeriodFrames: s.frames,
		}
		if s.mode == device.ModeDuplex {
			cfg.Input = s.input
		}
		return s.reg.OpenStream(cfg, s.onData, lost)
	})
	if err != nil {
		return err
	}
	s.log.WithField("format", s.format).Info("Loopback capture started")
	return nil
}

// Stop ends capture
func (s *LoopbackSource) Stop() Status { return s.end(nil) }

// IsRunning reports whether capture is active
func (s *LoopbackSource) IsRunning() bool { return s.isRunning() }

// Done receives the status when the current run ends
func (s *LoopbackSource) Done() <-chan Status { return s.doneChan() }

func (s *LoopbackSource) onData(out, in []byte, frames int) {
	n := frames * s.format.FrameSize()
	if n > len(in) {
		n = len(in)
	}

	s.handler(audio.Buffer{
		Data:      in[:n],
		Frames:    n / s.format.FrameSize(),
		Timestamp: s.format.DurationOf(s.delivered),
	})
	s.delivered += n

	if out == nil {
		return
	}
	if s.mute {
		audio.Silence(s.format, out)
		return
	}
	c := copy(out, in[:n])
	audio.Silence(s.format, out[c:])
}

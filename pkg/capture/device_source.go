// ABOUTME: Direct capture from an input endpoint
// ABOUTME: Batches hardware periods into fixed-size deliveries in cycle order
package capture

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
)

// DeviceOptions configures a DeviceSource
type DeviceOptions struct {
	// BufferFrames is the number of frames per delivery
	BufferFrames int
}

// DeviceSource captures an input endpoint in its native format
type DeviceSource struct {
	reg      *device.Registry
	endpoint device.Endpoint
	frames   int
	*lifecycle

	// realtime state, reset on every Start
	handler   Handler
	batch     []byte
	fill      int
	delivered int
}

// NewDeviceSource binds an input endpoint by UID
func NewDeviceSource(reg *device.Registry, uid string, opts DeviceOptions) (*DeviceSource, error) {
	ep, ok := reg.DeviceByUID(uid)
	if !ok || ep.Role != device.RoleInput {
		return nil, fmt.Errorf("no input with uid %q: %w", uid, device.ErrDeviceNotFound)
	}
	if err := ep.Format.Validate(); err != nil {
		return nil, err
	}

	frames := opts.BufferFrames
	if frames <= 0 {
		frames = DefaultBufferFrames
	}

	return &DeviceSource{
		reg:      reg,
		endpoint: ep,
		frames:   frames,
		batch:    make([]byte, frames*ep.Format.FrameSize()),
		lifecycle: newLifecycle(logrus.WithFields(logrus.Fields{
			"component": "capture",
			"input":     ep.Name,
		})),
	}, nil
}

// Format returns the endpoint's native format
func (s *DeviceSource) Format() audio.Format { return s.endpoint.Format }

// Endpoint returns the captured endpoint
func (s *DeviceSource) Endpoint() device.Endpoint { return s.endpoint }

// BufferFrames returns the delivery batch size
func (s *DeviceSource) BufferFrames() int { return s.frames }

// Start begins delivering batches to h
func (s *DeviceSource) Start(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	err := s.begin(func() {
		s.handler = h
		s.fill = 0
		s.delivered = 0
	}, func(lost device.LostFunc) (device.Stream, error) {
		return s.reg.OpenStream(device.StreamConfig{
			Mode:         device.ModeCapture,
			Input:        s.endpoint,
			Format:       s.endpoint.Format,
			PeriodFrames: s.frames,
		}, s.onData, lost)
	})
	if err != nil {
		return err
	}
	s.log.WithField("format", s.endpoint.Format).Info("Capture started")
	return nil
}

// Stop ends capture and delivers any partial batch
func (s *DeviceSource) Stop() Status {
	return s.end(s.flushPartial)
}

// IsRunning reports whether capture is active
func (s *DeviceSource) IsRunning() bool { return s.isRunning() }

// Done receives the status when the current run ends
func (s *DeviceSource) Done() <-chan Status { return s.doneChan() }

func (s *DeviceSource) onData(_, in []byte, frames int) {
	n := frames * s.endpoint.Format.FrameSize()
	if n > len(in) {
		n = len(in)
	}
	in = in[:n]

	for len(in) > 0 {
		c := copy(s.batch[s.fill:], in)
		s.fill += c
		in = in[c:]
		if s.fill == len(s.batch) {
			s.deliver(s.batch)
		}
	}
}

func (s *DeviceSource) deliver(data []byte) {
	f := s.endpoint.Format
	s.handler(audio.Buffer{
		Data:      data,
		Frames:    len(data) / f.FrameSize(),
		Timestamp: f.DurationOf(s.delivered),
	})
	s.delivered += len(data)
	s.fill = 0
}

func (s *DeviceSource) flushPartial() {
	if s.fill > 0 {
		s.deliver(s.batch[:s.fill])
	}
}

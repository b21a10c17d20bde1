// ABOUTME: Session orchestrator from capture through equalizer to output
// ABOUTME: Resolves devices by name, builds the pipeline in order and tears it down in reverse
package server

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/internal/ring"
	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/capture"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
	"github.com/Resonate-Protocol/playthrough/pkg/eq"
	"github.com/Resonate-Protocol/playthrough/pkg/output"
	"github.com/Resonate-Protocol/playthrough/pkg/record"
)

var (
	ErrDeviceNotFound = device.ErrDeviceNotFound
	ErrAlreadyRunning = errors.New("server already running")
	ErrStartFailed    = errors.New("failed to start server")
	ErrFeedbackLoop   = errors.New("input taps the output it renders to")
)

const (
	minScratchFrames = 4096
	tapPollInterval  = 10 * time.Millisecond
)

// RecorderFactory opens a recorder for a session's format
type RecorderFactory func(format audio.Format) (record.Recorder, error)

// Config configures a Server
type Config struct {
	// OutputUID selects the output endpoint; empty means the built-in output
	OutputUID string
	// CaptureFrames is the capture delivery batch
	CaptureFrames int
	// OutputFrames is the output hardware period
	OutputFrames int
	// SynchronizeAudioTime bounds queued output audio
	SynchronizeAudioTime time.Duration
	// Volume is the initial output volume; zero means full volume
	Volume float64
	// Recorder, when set, receives every processed buffer off the realtime thread
	Recorder RecorderFactory
}

// SessionInfo describes a running session
type SessionInfo struct {
	ID       string
	Input    device.Endpoint
	Output   device.Endpoint
	Format   audio.Format
	Loopback bool
	Started  time.Time
}

// Server runs at most one capture-to-output session at a time
type Server struct {
	reg *device.Registry
	cfg Config
	eq  *eq.Equalizer
	log *logrus.Entry

	volume atomic.Uint64 // float64 bits

	mu   sync.Mutex
	sess *session
}

type session struct {
	info    SessionInfo
	source  capture.Source
	sink    *output.Sink
	queue   *ring.Ring
	scratch []byte
	pktBuf  []byte
	pkts    [1]audio.Packet
	tap     *tap
	dropped atomic.Uint64
	quit    chan struct{}
}

// New creates a server over a device registry
func New(reg *device.Registry, cfg Config) *Server {
	s := &Server{
		reg: reg,
		cfg: cfg,
		eq:  eq.New(),
		log: logrus.WithField("component", "server"),
	}
	v := cfg.Volume
	if v <= 0 || v > 1 {
		v = 1
	}
	s.volume.Store(math.Float64bits(v))
	return s
}

var (
	sharedOnce sync.Once
	shared     *Server
)

// Shared returns the process-wide server. The registry is only used by the
// first call.
func Shared(reg *device.Registry) *Server {
	sharedOnce.Do(func() {
		shared = New(reg, Config{})
	})
	return shared
}

// Registry returns the device registry the server resolves names in
func (s *Server) Registry() *device.Registry { return s.reg }

// Equalizer returns the server's equalizer. Gains set on it apply to the
// running session and to every later one.
func (s *Server) Equalizer() *eq.Equalizer { return s.eq }

// SetVolume sets the output volume, clamped to [0, 1]
func (s *Server) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.volume.Store(math.Float64bits(v))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		s.sess.sink.SetVolume(v)
	}
}

// Volume returns the output volume
func (s *Server) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

// IsRunning reports whether a session is active
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil
}

// Session returns the running session's description
func (s *Server) Session() (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return SessionInfo{}, false
	}
	return s.sess.info, true
}

// Stats returns the running session's output statistics and the bytes
// dropped because the capture queue was full
func (s *Server) Stats() (output.Stats, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return output.Stats{}, 0, false
	}
	return s.sess.sink.Stats(), s.sess.dropped.Load(), true
}

// resolveSource finds an input endpoint named name, or else an output
// endpoint to tap
func (s *Server) resolveSource(name string) (capture.Source, error) {
	if ep, ok := s.reg.DeviceByName(name, device.RoleInput); ok {
		return capture.NewDeviceSource(s.reg, ep.UID, capture.DeviceOptions{BufferFrames: s.cfg.CaptureFrames})
	}
	if ep, ok := s.reg.DeviceByName(name, device.RoleOutput); ok {
		return capture.NewLoopbackSource(s.reg, ep.UID, ep.UID, capture.LoopbackOptions{BufferFrames: s.cfg.CaptureFrames})
	}
	return nil, fmt.Errorf("no device named %q: %w", name, device.ErrDeviceNotFound)
}

// StartServerWithInputDeviceName starts a session capturing the named
// endpoint: an input is recorded directly, an output has its mix tapped.
func (s *Server) StartServerWithInputDeviceName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess != nil {
		return ErrAlreadyRunning
	}

	log := s.log.WithField("input", name)
	sess, err := s.build(name)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			log.WithError(err).Warn("Input device not found")
			return err
		}
		log.WithError(err).Error("Failed to start session")
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	s.sess = sess
	go s.watch(sess)

	log.WithFields(logrus.Fields{
		"session": sess.info.ID,
		"output":  sess.info.Output.Name,
		"format":  sess.info.Format,
	}).Info("Session started")
	return nil
}

// build assembles a session: source, equalizer, sink, tap. Whatever was
// built is torn down in reverse when a later step fails.
func (s *Server) build(name string) (_ *session, err error) {
	var undo []func()
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()

	source, err := s.resolveSource(name)
	if err != nil {
		return nil, err
	}
	format := source.Format()

	if err := s.eq.Configure(format); err != nil {
		return nil, err
	}

	sink, err := output.NewSink(s.reg, s.cfg.OutputUID, audio.FormatParameter(format), output.Options{
		BufferFrames:         s.cfg.OutputFrames,
		SynchronizeAudioTime: s.cfg.SynchronizeAudioTime,
	})
	if err != nil {
		return nil, err
	}
	if lb, ok := source.(*capture.LoopbackSource); ok && lb.Output().UID == sink.Endpoint().UID {
		return nil, ErrFeedbackLoop
	}
	sink.SetVolume(s.Volume())

	scratchFrames := s.cfg.CaptureFrames
	if scratchFrames < minScratchFrames {
		scratchFrames = minScratchFrames
	}
	queueBytes := 2 * format.BytesFor(sink.SynchronizeAudioTime())
	if floor := 2 * scratchFrames * format.FrameSize(); queueBytes < floor {
		queueBytes = floor
	}

	sess := &session{
		info: SessionInfo{
			ID:       uuid.New().String(),
			Input:    source.Endpoint(),
			Output:   sink.Endpoint(),
			Format:   format,
			Loopback: source.Endpoint().Role == device.RoleOutput,
			Started:  time.Now(),
		},
		source:  source,
		sink:    sink,
		queue:   ring.New(queueBytes),
		scratch: make([]byte, scratchFrames*format.FrameSize()),
		pktBuf:  make([]byte, queueBytes),
		quit:    make(chan struct{}),
	}

	if err := sink.Start(sess.produce); err != nil {
		return nil, err
	}
	undo = append(undo, sink.Stop)

	if s.cfg.Recorder != nil {
		rec, err := s.cfg.Recorder(format)
		if err != nil {
			return nil, fmt.Errorf("failed to open recorder: %w", err)
		}
		sess.tap = newTap(rec, format, queueBytes, s.log.WithField("session", sess.info.ID))
		undo = append(undo, sess.tap.stop)
	}

	if err := source.Start(s.handler(sess)); err != nil {
		return nil, err
	}
	return sess, nil
}

// handler runs on the capture realtime thread
func (s *Server) handler(sess *session) capture.Handler {
	fs := sess.info.Format.FrameSize()
	chunk := len(sess.scratch) / fs * fs
	return func(buf audio.Buffer) {
		data := buf.Data[:len(buf.Data)/fs*fs]
		for len(data) > 0 {
			n := len(data)
			if n > chunk {
				n = chunk
			}
			out := sess.scratch[:n]
			if err := s.eq.Process(data[:n], n, out, n); err != nil {
				sess.dropped.Add(uint64(n))
				data = data[n:]
				continue
			}
			if w := sess.queue.Write(out); w < n {
				sess.dropped.Add(uint64(n - w))
			}
			if sess.tap != nil {
				sess.tap.push(out)
			}
			data = data[n:]
		}
	}
}

// produce drains the capture queue into one packet per poll
func (sess *session) produce() []audio.Packet {
	n := sess.queue.Read(sess.pktBuf)
	if n == 0 {
		return nil
	}
	sess.pkts[0] = audio.Packet{Data: sess.pktBuf[:n]}
	return sess.pkts[:]
}

// watch stops the session when its source or sink ends on its own
func (s *Server) watch(sess *session) {
	var reason string
	select {
	case <-sess.quit:
		return
	case st := <-sess.source.Done():
		reason = "capture ended: " + st.String()
	case err := <-sess.sink.Done():
		reason = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != sess {
		return
	}
	s.log.WithFields(logrus.Fields{
		"session": sess.info.ID,
		"reason":  reason,
	}).Warn("Session lost its device, stopping")
	s.teardown(sess)
	s.sess = nil
}

// StopServer stops the running session. It is safe to call at any time.
func (s *Server) StopServer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess == nil {
		return
	}
	sess := s.sess
	s.sess = nil
	s.teardown(sess)
	s.log.WithFields(logrus.Fields{
		"session":  sess.info.ID,
		"duration": time.Since(sess.info.Started).Round(time.Millisecond),
	}).Info("Session stopped")
}

// teardown releases a session in reverse build order
func (s *Server) teardown(sess *session) {
	close(sess.quit)
	if sess.tap != nil {
		sess.tap.stop()
	}
	sess.sink.Stop()
	if st := sess.source.Stop(); st != capture.StatusOK {
		s.log.WithField("status", st).Warn("Capture ended abnormally")
	}
}

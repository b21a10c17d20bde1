// ABOUTME: Output sink rendering producer packets to an output endpoint
// ABOUTME: Bounded SPSC queue, backlog flushing, volume and playback state
package output

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/internal/drift"
	"github.com/Resonate-Protocol/playthrough/internal/ring"
	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
)

const (
	DefaultBufferFrames         = 512
	DefaultSynchronizeAudioTime = 500 * time.Millisecond

	minPollInterval = 2 * time.Millisecond
)

var (
	ErrAlreadyPlaying = errors.New("sink already playing")
	ErrNoProducer     = errors.New("sink has no producer")
)

// State is the playback state of a Sink
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// Producer returns the packets that became available since the last call.
// It runs on the feeder goroutine and should not block.
type Producer func() []audio.Packet

// Options configures a Sink
type Options struct {
	// BufferFrames is the hardware period
	BufferFrames int
	// SynchronizeAudioTime bounds the queued audio
	SynchronizeAudioTime time.Duration
}

// Stats is a snapshot of sink counters
type Stats struct {
	Queued       time.Duration
	Rendered     uint64 // frames
	Underruns    uint64
	Flushes      uint64
	Dropped      uint64 // bytes discarded by flushes, trimming and lateness
	Late         uint64 // packets
	DriftPPM     float64
	DriftQuality string
}

// Sink plays producer packets on one output endpoint
type Sink struct {
	reg      *device.Registry
	endpoint device.Endpoint
	format   audio.Format
	frames   int
	log      *logrus.Entry

	mu       sync.Mutex
	state    State
	producer Producer
	syncTime time.Duration

	// run-scoped copies read by the feeder; set in Start out of Stopped
	lateAfter time.Duration
	limit     int

	stream   device.Stream
	queue    *ring.Ring
	gen      uint64
	feedStop chan struct{}
	feedDone chan struct{}
	done     chan error
	manual   bool // tests drive pump themselves

	volume atomic.Uint64 // float64 bits

	produced  atomic.Uint64
	rendered  atomic.Uint64
	underruns atomic.Uint64
	flushes   atomic.Uint64
	dropped   atomic.Uint64
	late      atomic.Uint64
	drift     *drift.Estimator
}

// NewSink binds an output endpoint by UID. An empty UID selects the built-in
// output.
func NewSink(reg *device.Registry, uid string, param audio.Parameter, opts Options) (*Sink, error) {
	var ep device.Endpoint
	var ok bool
	if uid == "" {
		ep, ok = reg.BuiltInOutputDevice()
	} else {
		ep, ok = reg.DeviceByUID(uid)
	}
	if !ok || ep.Role != device.RoleOutput {
		return nil, fmt.Errorf("no output with uid %q: %w", uid, device.ErrDeviceNotFound)
	}

	format, err := param.Format()
	if err != nil {
		return nil, err
	}

	frames := opts.BufferFrames
	if frames <= 0 {
		frames = DefaultBufferFrames
	}
	syncTime := opts.SynchronizeAudioTime
	if syncTime <= 0 {
		syncTime = DefaultSynchronizeAudioTime
	}

	s := &Sink{
		reg:      reg,
		endpoint: ep,
		format:   format,
		frames:   frames,
		syncTime: syncTime,
		done:     make(chan error, 1),
		drift:    drift.New(),
		log: logrus.WithFields(logrus.Fields{
			"component": "output",
			"output":    ep.Name,
		}),
	}
	s.volume.Store(math.Float64bits(1))
	return s, nil
}

// Endpoint returns the bound output
func (s *Sink) Endpoint() device.Endpoint { return s.endpoint }

// Format returns the working format
func (s *Sink) Format() audio.Format { return s.format }

// State returns the playback state
func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetVolume sets the render gain, clamped to [0, 1]
func (s *Sink) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.volume.Store(math.Float64bits(v))
}

// Volume returns the render gain
func (s *Sink) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

// SetSynchronizeAudioTime changes the queue bound from the next Start out of Stopped
func (s *Sink) SetSynchronizeAudioTime(d time.Duration) {
	if d <= 0 {
		d = DefaultSynchronizeAudioTime
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncTime = d
}

// SynchronizeAudioTime returns the configured queue bound
func (s *Sink) SynchronizeAudioTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncTime
}

// Done receives an error when the output device is lost
func (s *Sink) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start begins playback. From Paused, a nil producer resumes with the
// previous one. Until the first packet arrives the sink renders silence.
func (s *Sink) Start(p Producer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StatePlaying:
		return ErrAlreadyPlaying
	case StatePaused:
		if p != nil {
			s.producer = p
		}
		if err := s.stream.Start(); err != nil {
			return fmt.Errorf("failed to resume output stream: %w", err)
		}
		s.startFeeder()
		s.state = StatePlaying
		s.log.Info("Output resumed")
		return nil
	}

	if p == nil {
		return ErrNoProducer
	}
	s.producer = p

	s.lateAfter = s.syncTime
	s.limit = s.format.BytesFor(s.syncTime)
	if period := s.frames * s.format.FrameSize(); s.limit < period {
		s.limit = period
	}
	s.queue = ring.New(2 * s.limit)
	s.resetStats()

	s.gen++
	gen := s.gen
	stream, err := s.reg.OpenStream(device.StreamConfig{
		Mode:         device.ModePlayback,
		Output:       s.endpoint,
		Format:       s.format,
		PeriodFrames: s.frames,
	}, s.render, func(err error) {
		go s.lose(gen, err)
	})
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start output stream: %w", err)
	}

	s.stream = stream
	s.done = make(chan error, 1)
	s.startFeeder()
	s.state = StatePlaying
	s.log.WithFields(logrus.Fields{
		"format":    s.format,
		"sync_time": s.syncTime,
	}).Info("Output started")
	return nil
}

// Pause halts rendering and keeps the queue
func (s *Sink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return
	}
	s.stopFeeder()
	if err := s.stream.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to pause output stream")
	}
	s.state = StatePaused
	s.log.Info("Output paused")
}

// Stop halts playback, releases the hardware and clears the queue. It
// returns once no render callback is running.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return
	}
	s.teardown()
	s.log.WithField("stats", s.statsLocked()).Info("Output stopped")
}

func (s *Sink) teardown() {
	s.stopFeeder()
	if err := s.stream.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop output stream")
	}
	if err := s.stream.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close output stream")
	}
	s.stream = nil
	s.queue.Reset()
	s.state = StateStopped
}

// lose moves to Stopped after the hardware stopped on its own
func (s *Sink) lose(gen uint64, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped || s.gen != gen {
		return
	}
	s.log.WithError(reason).Warn("Output device lost")
	s.teardown()
	s.done <- fmt.Errorf("output device lost: %w", reason)
}

func (s *Sink) startFeeder() {
	if s.manual {
		return
	}
	s.feedStop = make(chan struct{})
	s.feedDone = make(chan struct{})
	go s.feed(s.feedStop, s.feedDone)
}

func (s *Sink) stopFeeder() {
	if s.feedStop == nil {
		return
	}
	close(s.feedStop)
	<-s.feedDone
	s.feedStop, s.feedDone = nil, nil
}

func (s *Sink) pollInterval() time.Duration {
	d := s.format.DurationOf(s.frames*s.format.FrameSize()) / 4
	if d < minPollInterval {
		d = minPollInterval
	}
	return d
}

func (s *Sink) feed(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.pump(now)
		}
	}
}

// pump pulls packets from the producer into the queue. Feeder only.
func (s *Sink) pump(now time.Time) {
	for _, p := range s.producer() {
		s.enqueue(p, now)
	}
	s.drift.Update(now, s.produced.Load(), s.rendered.Load())
}

func (s *Sink) enqueue(p audio.Packet, now time.Time) {
	fs := s.format.FrameSize()
	data := p.Data[:len(p.Data)/fs*fs]
	if len(data) == 0 {
		return
	}

	if !p.RenderAt.IsZero() && now.Sub(p.RenderAt) > s.lateAfter {
		s.late.Add(1)
		s.dropped.Add(uint64(len(data)))
		return
	}

	if len(data) > s.limit {
		trim := len(data) - s.limit
		s.dropped.Add(uint64(trim))
		data = data[trim:]
	}

	if s.queue.Buffered()+len(data) > s.limit {
		n := s.queue.Discard()
		s.flushes.Add(1)
		s.dropped.Add(uint64(n))
	}

	w := s.queue.Write(data)
	if w < len(data) {
		s.dropped.Add(uint64(len(data) - w))
	}
	s.produced.Add(uint64(w))
}

// render is the realtime callback. It always fills exactly frames worth of out.
func (s *Sink) render(out, _ []byte, frames int) {
	n := frames * s.format.FrameSize()
	if n > len(out) {
		n = len(out)
	}
	out = out[:n]

	got := s.queue.Read(out)
	if got > 0 {
		audio.Scale(s.format, out[:got], s.Volume())
		s.rendered.Add(uint64(got))
	}
	if got < n {
		audio.Silence(s.format, out[got:])
		// silence before the first packet is not an underrun
		if s.rendered.Load() > 0 {
			s.underruns.Add(1)
		}
	}
}

func (s *Sink) resetStats() {
	s.produced.Store(0)
	s.rendered.Store(0)
	s.underruns.Store(0)
	s.flushes.Store(0)
	s.dropped.Store(0)
	s.late.Store(0)
	s.drift.Reset()
}

// Stats returns a snapshot of the counters for the current or last run
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Sink) statsLocked() Stats {
	ppm, quality := s.drift.Stats()
	st := Stats{
		Rendered:     s.rendered.Load() / uint64(s.format.FrameSize()),
		Underruns:    s.underruns.Load(),
		Flushes:      s.flushes.Load(),
		Dropped:      s.dropped.Load(),
		Late:         s.late.Load(),
		DriftPPM:     ppm,
		DriftQuality: quality.String(),
	}
	if s.queue != nil {
		st.Queued = s.format.DurationOf(s.queue.Buffered())
	}
	return st
}

// ABOUTME: Capture source contract and shared run lifecycle
// ABOUTME: Start/stop bookkeeping, device-loss handling and status reporting
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
)

// DefaultBufferFrames is the delivery batch size when none is configured
const DefaultBufferFrames = 512

var (
	ErrAlreadyRunning = errors.New("capture already running")
	ErrNilHandler     = errors.New("capture handler is nil")
)

// Status is the outcome of a capture run. Zero means success.
type Status int

const (
	StatusOK         Status = 0
	StatusDeviceLost Status = -1
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDeviceLost:
		return "device lost"
	}
	return fmt.Sprintf("status %d", int(s))
}

// Handler receives captured audio on the realtime thread. The buffer is only
// valid for the duration of the call. It must not block.
type Handler func(buf audio.Buffer)

// Source produces captured audio
type Source interface {
	Start(h Handler) error
	// Stop joins the realtime thread and returns the run's status. Stopping
	// a source that is not running returns the status of its last run if
	// that run ended on its own, else StatusOK.
	Stop() Status
	IsRunning() bool
	Format() audio.Format
	Endpoint() device.Endpoint
	// Done receives the status once when the current run ends for any reason
	Done() <-chan Status
}

// lifecycle is the run bookkeeping shared by every source
type lifecycle struct {
	log *logrus.Entry

	mu      sync.Mutex
	running bool
	gen     uint64
	stream  device.Stream
	done    chan Status
	pending Status
}

func newLifecycle(log *logrus.Entry) *lifecycle {
	return &lifecycle{log: log, done: make(chan Status, 1)}
}

// begin opens and starts a stream through open. prepare runs under the
// lifecycle lock before the stream starts.
func (l *lifecycle) begin(prepare func(), open func(lost device.LostFunc) (device.Stream, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrAlreadyRunning
	}

	l.gen++
	gen := l.gen
	prepare()

	stream, err := open(func(err error) {
		go l.lose(gen, err)
	})
	if err != nil {
		return fmt.Errorf("failed to open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start capture stream: %w", err)
	}

	l.stream = stream
	l.running = true
	l.pending = StatusOK
	l.done = make(chan Status, 1)
	return nil
}

// lose ends the run after the hardware stopped on its own
func (l *lifecycle) lose(gen uint64, reason error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running || l.gen != gen {
		return
	}
	l.log.WithError(reason).Warn("Capture device lost")

	_ = l.stream.Stop()
	_ = l.stream.Close()
	l.stream = nil
	l.running = false
	l.pending = StatusDeviceLost
	l.done <- StatusDeviceLost
}

// end stops the current run. drained runs after the realtime thread is joined.
func (l *lifecycle) end(drained func()) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		status := l.pending
		l.pending = StatusOK
		return status
	}

	if err := l.stream.Stop(); err != nil {
		l.log.WithError(err).Warn("Failed to stop capture stream")
	}
	if drained != nil {
		drained()
	}
	if err := l.stream.Close(); err != nil {
		l.log.WithError(err).Warn("Failed to close capture stream")
	}
	l.stream = nil
	l.running = false
	l.done <- StatusOK
	return StatusOK
}

func (l *lifecycle) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *lifecycle) doneChan() <-chan Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// ABOUTME: Recording tap fed from the capture realtime thread
// ABOUTME: A second SPSC ring drained into a recorder by its own goroutine
package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/internal/ring"
	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/record"
)

type tap struct {
	rec     record.Recorder
	format  audio.Format
	queue   *ring.Ring
	buf     []byte
	log     *logrus.Entry
	dropped atomic.Uint64

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newTap(rec record.Recorder, format audio.Format, size int, log *logrus.Entry) *tap {
	t := &tap{
		rec:    rec,
		format: format,
		queue:  ring.New(size),
		buf:    make([]byte, size),
		log:    log.WithField("component", "tap"),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

// push queues processed audio. Realtime thread only.
func (t *tap) push(data []byte) {
	if w := t.queue.Write(data); w < len(data) {
		t.dropped.Add(uint64(len(data) - w))
	}
}

func (t *tap) run() {
	defer close(t.done)

	ticker := time.NewTicker(tapPollInterval)
	defer ticker.Stop()

	failed := false
	for {
		select {
		case <-t.quit:
			if !failed {
				t.drain()
			}
			return
		case <-ticker.C:
			if failed {
				t.queue.Read(t.buf)
				continue
			}
			if err := t.drain(); err != nil {
				t.log.WithError(err).Error("Recorder failed, discarding further audio")
				failed = true
			}
		}
	}
}

func (t *tap) drain() error {
	fs := t.format.FrameSize()
	for {
		n := t.queue.Read(t.buf)
		if n == 0 {
			return nil
		}
		if err := t.rec.Write(audio.Buffer{Data: t.buf[:n], Frames: n / fs}); err != nil {
			return err
		}
	}
}

// stop drains what is queued, closes the recorder and waits for the goroutine
func (t *tap) stop() {
	t.stopOnce.Do(func() {
		close(t.quit)
		<-t.done
		if err := t.rec.Close(); err != nil {
			t.log.WithError(err).Warn("Failed to close recorder")
		}
		if d := t.dropped.Load(); d > 0 {
			t.log.WithField("dropped_bytes", d).Warn("Recording dropped audio")
		}
	})
}

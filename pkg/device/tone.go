// ABOUTME: Virtual input endpoint producing a sine test tone
// ABOUTME: Lets a session run end to end without a microphone
package device

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

const (
	toneBackendName = "tone"
	// DefaultToneFrequency is A4
	DefaultToneFrequency = 440.0
)

// Tone is a Backend with one input endpoint generating a sine at half scale
type Tone struct {
	frequency float64
	format    audio.Format
	log       *logrus.Entry
}

// NewTone creates a tone backend. A non-positive frequency means 440 Hz.
func NewTone(frequency float64) *Tone {
	if frequency <= 0 {
		frequency = DefaultToneFrequency
	}
	return &Tone{
		frequency: frequency,
		format:    audio.Format{Kind: audio.Int16, SampleRate: 48000, Channels: 2},
		log:       logrus.WithField("backend", toneBackendName),
	}
}

func (t *Tone) Name() string { return toneBackendName }

// Endpoints returns the single tone input
func (t *Tone) Endpoints() ([]Endpoint, error) {
	uid := fmt.Sprintf("tone:%g", t.frequency)
	return []Endpoint{{
		Name:       "Test Tone",
		UID:        uid,
		HardwareID: uid,
		Backend:    toneBackendName,
		Role:       RoleInput,
		Format:     t.format,
	}}, nil
}

// OpenStream opens a paced capture stream of the tone in any valid format
func (t *Tone) OpenStream(cfg StreamConfig, data DataFunc, lost LostFunc) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeCapture {
		return nil, fmt.Errorf("tone %s stream: %w", cfg.Mode, ErrUnsupported)
	}
	s := newPacedStream(cfg, data, lost)
	s.reader = &toneReader{format: cfg.Format, frequency: t.frequency}
	s.log = t.log
	return s, nil
}

func (t *Tone) Close() error { return nil }

// toneReader generates the sine as an endless decoder
type toneReader struct {
	format    audio.Format
	frequency float64
	index     uint64
}

func (r *toneReader) Format() audio.Format { return r.format }

func (r *toneReader) Read(p []byte) (int, error) {
	fs := r.format.FrameSize()
	size := r.format.BytesPerSample()
	frames := len(p) / fs
	for i := 0; i < frames; i++ {
		t := float64(r.index+uint64(i)) / float64(r.format.SampleRate)
		v := 0.5 * math.Sin(2*math.Pi*r.frequency*t)
		for ch := 0; ch < r.format.Channels; ch++ {
			audio.WriteSample(r.format.Kind, p[i*fs+ch*size:], v)
		}
	}
	r.index += uint64(frames)
	return frames * fs, nil
}

func (r *toneReader) Rewind() error {
	r.index = 0
	return nil
}

func (r *toneReader) Close() error { return nil }

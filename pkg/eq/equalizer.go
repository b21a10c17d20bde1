// ABOUTME: Multi-band peaking equalizer over packed interleaved PCM
// ABOUTME: Atomic gain snapshots, lock-free processing, bit-identical flat passthrough
package eq

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

const (
	MaxGain = 10.0
	MinGain = -10.0

	bandQ = 1.41
)

// DefaultBands are the octave centre frequencies in Hz
var DefaultBands = []float64{31, 62, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

var (
	ErrNotConfigured  = errors.New("equalizer has no format")
	ErrFrameAlignment = errors.New("length is not a whole number of frames")
	ErrShortOutput    = errors.New("output buffer shorter than input")
	ErrLayout         = errors.New("equalizer requires packed interleaved samples")
	ErrBandIndex      = errors.New("band index out of range")
	ErrBandCount      = errors.New("gain count does not match band count")
)

// GainProfile holds per-band and overall gains in dB
type GainProfile struct {
	Bands   []float64
	Overall float64
}

func (p *GainProfile) flat() bool {
	if p.Overall != 0 {
		return false
	}
	for _, g := range p.Bands {
		if g != 0 {
			return false
		}
	}
	return true
}

func (p *GainProfile) clone() *GainProfile {
	bands := make([]float64, len(p.Bands))
	copy(bands, p.Bands)
	return &GainProfile{Bands: bands, Overall: p.Overall}
}

func clampGain(db float64) float64 {
	if math.IsNaN(db) {
		return 0
	}
	return math.Max(MinGain, math.Min(MaxGain, db))
}

// Option configures an Equalizer
type Option func(*Equalizer)

// WithBands replaces the default band centres
func WithBands(centres []float64) Option {
	return func(e *Equalizer) {
		e.bands = append([]float64(nil), centres...)
	}
}

type biquad struct {
	b0, b1, b2, a1, a2 float64
	active             bool
}

type history struct {
	x1, x2, y1, y2 float64
}

// Equalizer filters audio through per-band peaking filters.
//
// Gain setters may be called from any goroutine. Process, ProcessBuffer and
// Configure belong to a single audio thread and must not overlap each other.
type Equalizer struct {
	bands []float64

	writeMu sync.Mutex
	profile atomic.Pointer[GainProfile]

	resetPending atomic.Bool
	bound        atomic.Pointer[audio.Format] // nil until Configure

	// owned by the audio thread
	format  audio.Format
	applied *GainProfile
	filters []biquad
	hist    []history // channel-major, one per band
	overall float64
	flat    bool
	quiet   bool // history is all zero
}

// New creates an equalizer without a format. Configure must be called
// before Process.
func New(opts ...Option) *Equalizer {
	e := &Equalizer{bands: append([]float64(nil), DefaultBands...)}
	for _, opt := range opts {
		opt(e)
	}
	e.filters = make([]biquad, len(e.bands))
	e.profile.Store(&GainProfile{Bands: make([]float64, len(e.bands))})
	return e
}

// NewWithFormat creates an equalizer ready to process the given format
func NewWithFormat(format audio.Format, opts ...Option) (*Equalizer, error) {
	e := New(opts...)
	if err := e.Configure(format); err != nil {
		return nil, err
	}
	return e, nil
}

// Configure binds the sample format and clears filter history. Gains are kept.
func (e *Equalizer) Configure(format audio.Format) error {
	if format.NonInterleaved {
		return ErrLayout
	}
	if err := format.Validate(); err != nil {
		return fmt.Errorf("failed to configure equalizer: %w", err)
	}

	e.format = format
	e.hist = make([]history, format.Channels*len(e.bands))
	e.applied = nil
	e.quiet = true
	e.resetPending.Store(false)
	bound := format
	e.bound.Store(&bound)
	return nil
}

// Configured reports whether a format is bound
func (e *Equalizer) Configured() bool {
	return e.bound.Load() != nil
}

// Format returns the bound format, or the zero Format before Configure.
// Safe from any goroutine.
func (e *Equalizer) Format() audio.Format {
	if f := e.bound.Load(); f != nil {
		return *f
	}
	return audio.Format{}
}

// Bands returns the band centre frequencies in Hz
func (e *Equalizer) Bands() []float64 {
	return append([]float64(nil), e.bands...)
}

// Gains returns a copy of the current gain profile
func (e *Equalizer) Gains() GainProfile {
	return *e.profile.Load().clone()
}

func (e *Equalizer) update(fn func(p *GainProfile) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	next := e.profile.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	e.profile.Store(next)
	return nil
}

// SetBandGain sets one band's gain in dB, clamped to [MinGain, MaxGain]
func (e *Equalizer) SetBandGain(index int, db float64) error {
	return e.update(func(p *GainProfile) error {
		if index < 0 || index >= len(p.Bands) {
			return fmt.Errorf("%w: %d", ErrBandIndex, index)
		}
		p.Bands[index] = clampGain(db)
		return nil
	})
}

// SetGains sets every band gain at once
func (e *Equalizer) SetGains(gains []float64) error {
	return e.update(func(p *GainProfile) error {
		if len(gains) != len(p.Bands) {
			return fmt.Errorf("%w: got %d, want %d", ErrBandCount, len(gains), len(p.Bands))
		}
		for i, g := range gains {
			p.Bands[i] = clampGain(g)
		}
		return nil
	})
}

// SetOverall sets the gain applied after the band filters
func (e *Equalizer) SetOverall(db float64) {
	_ = e.update(func(p *GainProfile) error {
		p.Overall = clampGain(db)
		return nil
	})
}

// ResetGains sets every band and the overall gain to 0 dB
func (e *Equalizer) ResetGains() {
	_ = e.update(func(p *GainProfile) error {
		for i := range p.Bands {
			p.Bands[i] = 0
		}
		p.Overall = 0
		return nil
	})
}

// Reset clears filter history before the next processed buffer
func (e *Equalizer) Reset() {
	e.resetPending.Store(true)
}

// applyProfile recomputes filter coefficients for a new snapshot
func (e *Equalizer) applyProfile(p *GainProfile) {
	nyquist := float64(e.format.SampleRate) / 2
	channels := e.format.Channels
	for i, centre := range e.bands {
		g := p.Bands[i]
		if g == 0 || centre <= 0 || centre >= nyquist {
			if e.filters[i].active {
				for ch := 0; ch < channels; ch++ {
					e.hist[ch*len(e.bands)+i] = history{}
				}
			}
			e.filters[i] = biquad{}
			continue
		}
		e.filters[i] = peaking(centre, g, float64(e.format.SampleRate))
	}
	e.overall = math.Pow(10, p.Overall/20)
	e.flat = p.flat()
	e.applied = p
}

// peaking returns RBJ cookbook peaking EQ coefficients normalized by a0
func peaking(freq, gainDB, rate float64) biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / rate
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * bandQ)

	a0 := 1 + alpha/a
	return biquad{
		b0:     (1 + alpha*a) / a0,
		b1:     -2 * cosw / a0,
		b2:     (1 - alpha*a) / a0,
		a1:     -2 * cosw / a0,
		a2:     (1 - alpha/a) / a0,
		active: true,
	}
}

func (e *Equalizer) clearHistory() {
	for i := range e.hist {
		e.hist[i] = history{}
	}
	e.quiet = true
}

// Process filters inLen bytes of in into out. It validates every length
// before touching out, so a failed call leaves out unmodified. in and out
// may be the same buffer.
func (e *Equalizer) Process(in []byte, inLen int, out []byte, outLen int) error {
	if e.bound.Load() == nil {
		return ErrNotConfigured
	}
	if inLen < 0 || inLen > len(in) {
		return fmt.Errorf("%w: input length %d exceeds buffer of %d", ErrFrameAlignment, inLen, len(in))
	}
	if outLen < 0 || outLen > len(out) {
		return fmt.Errorf("%w: output length %d exceeds buffer of %d", ErrShortOutput, outLen, len(out))
	}
	fs := e.format.FrameSize()
	if inLen%fs != 0 || outLen%fs != 0 {
		return ErrFrameAlignment
	}
	if outLen < inLen {
		return ErrShortOutput
	}

	if e.resetPending.Swap(false) {
		e.clearHistory()
	}
	if p := e.profile.Load(); p != e.applied {
		e.applyProfile(p)
	}

	if e.flat {
		copy(out[:inLen], in[:inLen])
		if !e.quiet {
			e.clearHistory()
		}
		return nil
	}

	e.quiet = false
	kind := e.format.Kind
	size := e.format.BytesPerSample()
	channels := e.format.Channels
	nb := len(e.bands)

	for off := 0; off < inLen; off += fs {
		for ch := 0; ch < channels; ch++ {
			pos := off + ch*size
			x := audio.ReadSample(kind, in[pos:])
			h := e.hist[ch*nb : ch*nb+nb]
			for i := range e.filters {
				f := &e.filters[i]
				if !f.active {
					continue
				}
				s := &h[i]
				y := f.b0*x + f.b1*s.x1 + f.b2*s.x2 - f.a1*s.y1 - f.a2*s.y2
				s.x2, s.x1 = s.x1, x
				s.y2, s.y1 = s.y1, y
				x = y
			}
			audio.WriteSample(kind, out[pos:], x*e.overall)
		}
	}
	return nil
}

// ProcessBuffer filters a buffer in place
func (e *Equalizer) ProcessBuffer(b *audio.Buffer) error {
	if e.bound.Load() == nil {
		return ErrNotConfigured
	}
	n := b.Frames * e.format.FrameSize()
	if n > len(b.Data) {
		return fmt.Errorf("%w: %d frames exceed buffer", ErrFrameAlignment, b.Frames)
	}
	return e.Process(b.Data, n, b.Data, n)
}

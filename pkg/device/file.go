// ABOUTME: Virtual endpoints backed by audio files
// ABOUTME: Looping file inputs and WAV-writing outputs paced by a wall-clock ticker
package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/audio/decode"
)

const (
	fileBackendName     = "file"
	defaultPeriodFrames = 512
)

// Files is a Backend exposing audio files as endpoints. Inputs decode
// MP3/FLAC/WAV files and loop at the end; outputs write WAV files.
type Files struct {
	inputs  []string
	outputs []string
	log     *logrus.Entry

	mu      sync.Mutex
	formats map[string]audio.Format // probed input formats by path
}

// NewFiles creates a file backend over the given input and output paths
func NewFiles(inputs, outputs []string) *Files {
	return &Files{
		inputs:  absPaths(inputs),
		outputs: absPaths(outputs),
		log:     logrus.WithField("backend", fileBackendName),
		formats: make(map[string]audio.Format),
	}
}

func absPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		out = append(out, p)
	}
	return out
}

// Name returns the backend name
func (f *Files) Name() string {
	return fileBackendName
}

func (f *Files) probe(path string) (audio.Format, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if format, ok := f.formats[path]; ok {
		return format, nil
	}
	r, err := decode.Open(path)
	if err != nil {
		return audio.Format{}, err
	}
	defer r.Close()
	f.formats[path] = r.Format()
	return r.Format(), nil
}

// Endpoints lists readable input files and every output path
func (f *Files) Endpoints() ([]Endpoint, error) {
	var eps []Endpoint
	for _, path := range f.inputs {
		format, err := f.probe(path)
		if err != nil {
			f.log.WithError(err).WithField("path", path).Debug("Skipping unreadable input file")
			continue
		}
		eps = append(eps, Endpoint{
			Name:       filepath.Base(path),
			UID:        "file:in:" + path,
			HardwareID: path,
			Backend:    fileBackendName,
			Role:       RoleInput,
			Format:     format,
		})
	}
	for _, path := range f.outputs {
		eps = append(eps, Endpoint{
			Name:       filepath.Base(path),
			UID:        "file:out:" + path,
			HardwareID: path,
			Backend:    fileBackendName,
			Role:       RoleOutput,
			Format:     audio.Format{Kind: audio.Int16, SampleRate: 48000, Channels: 2},
		})
	}
	return eps, nil
}

// OpenStream opens a paced capture stream over an input file or a playback
// stream into a WAV file
func (f *Files) OpenStream(cfg StreamConfig, data DataFunc, lost LostFunc) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := newPacedStream(cfg, data, lost)

	switch cfg.Mode {
	case ModeCapture:
		r, err := decode.Open(cfg.Input.HardwareID)
		if err != nil {
			return nil, err
		}
		if r.Format() != cfg.Format {
			r.Close()
			return nil, fmt.Errorf("file %s is %s, not %s: %w", cfg.Input.Name, r.Format(), cfg.Format, ErrUnsupported)
		}
		s.reader = r
		s.log = f.log.WithField("input", cfg.Input.Name)

	case ModePlayback:
		if cfg.Format.Kind == audio.Float32 {
			return nil, fmt.Errorf("WAV output of float samples: %w", ErrUnsupported)
		}
		out, err := os.Create(cfg.Output.HardwareID)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		bits := cfg.Format.BitsPerChannel()
		s.file = out
		s.encoder = wav.NewEncoder(out, cfg.Format.SampleRate, bits, cfg.Format.Channels, 1)
		s.intBuf = &goaudio.IntBuffer{
			Format:         &goaudio.Format{SampleRate: cfg.Format.SampleRate, NumChannels: cfg.Format.Channels},
			Data:           make([]int, s.frames*cfg.Format.Channels),
			SourceBitDepth: bits,
		}
		s.log = f.log.WithField("output", cfg.Output.Name)

	default:
		return nil, fmt.Errorf("file %s stream: %w", cfg.Mode, ErrUnsupported)
	}

	return s, nil
}

// Close is a no-op; streams own their files
func (f *Files) Close() error {
	return nil
}

// newPacedStream builds a stream that runs one period per wall-clock
// period; the caller sets its reader or encoder
func newPacedStream(cfg StreamConfig, data DataFunc, lost LostFunc) *fileStream {
	period := cfg.PeriodFrames
	if period <= 0 {
		period = defaultPeriodFrames
	}
	return &fileStream{
		data:     data,
		lost:     lost,
		frames:   period,
		format:   cfg.Format,
		interval: time.Duration(period) * time.Second / time.Duration(cfg.Format.SampleRate),
		buf:      make([]byte, period*cfg.Format.FrameSize()),
	}
}

type fileStream struct {
	data     DataFunc
	lost     LostFunc
	frames   int
	format   audio.Format
	interval time.Duration
	buf      []byte
	log      *logrus.Entry

	reader decode.Reader

	file    *os.File
	encoder *wav.Encoder
	intBuf  *goaudio.IntBuffer

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func (s *fileStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	return nil
}

func (s *fileStream) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		var err error
		if s.reader != nil {
			err = s.capture()
		} else {
			err = s.render()
		}
		if err != nil {
			s.log.WithError(err).Warn("File stream failed")
			if s.lost != nil {
				s.lost(err)
			}
			return
		}
	}
}

// capture reads one period, looping at end of file
func (s *fileStream) capture() error {
	filled := 0
	rewound := false
	for filled < len(s.buf) {
		n, err := s.reader.Read(s.buf[filled:])
		filled += n
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			if rewound {
				return fmt.Errorf("input file is empty: %w", io.ErrUnexpectedEOF)
			}
			if err := s.reader.Rewind(); err != nil {
				return err
			}
			rewound = true
			continue
		}
		if err != nil {
			return err
		}
		rewound = false
	}
	s.data(nil, s.buf, s.frames)
	return nil
}

// render pulls one period and appends it to the WAV file
func (s *fileStream) render() error {
	s.data(s.buf, nil, s.frames)

	size := s.format.BytesPerSample()
	for i := range s.intBuf.Data {
		v := audio.ReadSample(s.format.Kind, s.buf[i*size:])
		s.intBuf.Data[i] = int(v * float64(int64(1)<<(s.format.BitsPerChannel()-1)))
		if s.format.Kind == audio.Uint8 {
			s.intBuf.Data[i] = int(s.buf[i])
		}
	}
	return s.encoder.Write(s.intBuf)
}

// Stop joins the pacing goroutine
func (s *fileStream) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (s *fileStream) Close() error {
	_ = s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.reader != nil {
		return s.reader.Close()
	}
	if err := s.encoder.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return s.file.Close()
}

// ABOUTME: Ogg Vorbis file decoder
// ABOUTME: Decodes to float32 PCM via jfreymuth/oggvorbis
package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

// OggReader decodes an Ogg Vorbis file into float32 samples
type OggReader struct {
	file   *os.File
	dec    *oggvorbis.Reader
	format audio.Format
	buf    []float32
}

// NewOgg creates a reader over an open Ogg Vorbis file
func NewOgg(f *os.File) (*OggReader, error) {
	dec, err := oggvorbis.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFile, err)
	}
	format := audio.Format{
		Kind:       audio.Float32,
		SampleRate: dec.SampleRate(),
		Channels:   dec.Channels(),
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &OggReader{file: f, dec: dec, format: format}, nil
}

func (r *OggReader) Format() audio.Format { return r.format }

func (r *OggReader) Read(p []byte) (int, error) {
	samples := wholeFrames(len(p), r.format.FrameSize()) / 4
	if samples == 0 {
		return 0, nil
	}
	if cap(r.buf) < samples {
		r.buf = make([]float32, samples)
	}
	r.buf = r.buf[:samples]

	n, err := r.dec.Read(r.buf)
	n = n / r.format.Channels * r.format.Channels
	for i, v := range r.buf[:n] {
		audio.WriteSample(audio.Float32, p[i*4:], float64(v))
	}
	if n == 0 {
		if err == nil || err == io.EOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("ogg decode error: %w", err)
	}
	return n * 4, nil
}

// Rewind restarts from the first frame
func (r *OggReader) Rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind Ogg: %w", err)
	}
	dec, err := oggvorbis.NewReader(r.file)
	if err != nil {
		return fmt.Errorf("failed to rewind Ogg: %w", err)
	}
	r.dec = dec
	return nil
}

func (r *OggReader) Close() error {
	return r.file.Close()
}

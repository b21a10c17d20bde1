// ABOUTME: AIFF file decoder
// ABOUTME: Decodes integer PCM AIFF files via go-audio/aiff
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

// AIFFReader decodes a PCM AIFF file
type AIFFReader struct {
	file     *os.File
	decoder  *aiff.Decoder
	format   audio.Format
	bitDepth int
	intBuf   *goaudio.IntBuffer
}

// NewAIFF creates a reader over an open AIFF file
func NewAIFF(f *os.File) (*AIFFReader, error) {
	decoder := aiff.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid AIFF file", ErrUnsupportedFile)
	}
	decoder.ReadInfo()
	if err := decoder.Err(); err != nil {
		return nil, fmt.Errorf("failed to read AIFF header: %w", err)
	}

	bitDepth := int(decoder.BitDepth)
	var kind audio.SampleKind
	switch bitDepth {
	case 16:
		kind = audio.Int16
	case 24, 32:
		kind = audio.Int32
	default:
		return nil, fmt.Errorf("%w: %d-bit AIFF", ErrUnsupportedFile, bitDepth)
	}

	format := audio.Format{
		Kind:       kind,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	return &AIFFReader{
		file:     f,
		decoder:  decoder,
		format:   format,
		bitDepth: bitDepth,
		intBuf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		},
	}, nil
}

func (r *AIFFReader) Format() audio.Format { return r.format }

func (r *AIFFReader) Read(p []byte) (int, error) {
	size := r.format.BytesPerSample()
	samples := wholeFrames(len(p), r.format.FrameSize()) / size
	if samples == 0 {
		return 0, nil
	}
	if cap(r.intBuf.Data) < samples {
		r.intBuf.Data = make([]int, samples)
	}
	r.intBuf.Data = r.intBuf.Data[:samples]

	n, err := r.decoder.PCMBuffer(r.intBuf)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("aiff decode error: %w", err)
	}
	n = n / r.format.Channels * r.format.Channels
	if n == 0 {
		return 0, io.EOF
	}

	for i, s := range r.intBuf.Data[:n] {
		off := i * size
		switch r.format.Kind {
		case audio.Int16:
			binary.LittleEndian.PutUint16(p[off:], uint16(int16(s)))
		case audio.Int32:
			binary.LittleEndian.PutUint32(p[off:], uint32(int32(s)<<(32-r.bitDepth)))
		}
	}
	return n * size, nil
}

// Rewind restarts from the first frame by re-reading the header
func (r *AIFFReader) Rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind AIFF: %w", err)
	}
	r.decoder = aiff.NewDecoder(r.file)
	r.decoder.ReadInfo()
	return r.decoder.Err()
}

func (r *AIFFReader) Close() error {
	return r.file.Close()
}

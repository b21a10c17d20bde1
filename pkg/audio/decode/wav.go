// ABOUTME: WAV file decoder
// ABOUTME: Decodes integer PCM WAV files via go-audio/wav
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

// WAVReader decodes a PCM WAV file
type WAVReader struct {
	file     *os.File
	decoder  *wav.Decoder
	format   audio.Format
	bitDepth int
	intBuf   *goaudio.IntBuffer
}

// NewWAV creates a reader over an open WAV file
func NewWAV(f *os.File) (*WAVReader, error) {
	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV file", ErrUnsupportedFile)
	}

	bitDepth := int(decoder.BitDepth)
	var kind audio.SampleKind
	switch {
	case bitDepth == 8:
		kind = audio.Uint8
	case bitDepth == 16:
		kind = audio.Int16
	case bitDepth == 24 || bitDepth == 32:
		kind = audio.Int32
	default:
		return nil, fmt.Errorf("%w: %d-bit WAV", ErrUnsupportedFile, bitDepth)
	}

	format := audio.Format{
		Kind:       kind,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	return &WAVReader{
		file:     f,
		decoder:  decoder,
		format:   format,
		bitDepth: bitDepth,
		intBuf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		},
	}, nil
}

func (r *WAVReader) Format() audio.Format { return r.format }

func (r *WAVReader) Read(p []byte) (int, error) {
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
	if err != nil {
		return 0, fmt.Errorf("wav decode error: %w", err)
	}
	n = n / r.format.Channels * r.format.Channels
	if n == 0 {
		return 0, io.EOF
	}

	for i, s := range r.intBuf.Data[:n] {
		off := i * size
		switch r.format.Kind {
		case audio.Uint8:
			p[off] = byte(s)
		case audio.Int16:
			binary.LittleEndian.PutUint16(p[off:], uint16(int16(s)))
		case audio.Int32:
			binary.LittleEndian.PutUint32(p[off:], uint32(int32(s)<<(32-r.bitDepth)))
		}
	}
	return n * size, nil
}

func (r *WAVReader) Rewind() error {
	if err := r.decoder.Rewind(); err != nil {
		return fmt.Errorf("failed to rewind WAV: %w", err)
	}
	return nil
}

func (r *WAVReader) Close() error {
	return r.file.Close()
}

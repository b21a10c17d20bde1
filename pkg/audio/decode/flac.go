// ABOUTME: FLAC file decoder
// ABOUTME: Decodes FLAC frames to packed 8, 16 or 32-bit PCM
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/mewkiz/flac"
)

// FLACReader decodes a FLAC file
type FLACReader struct {
	file     *os.File
	stream   *flac.Stream
	format   audio.Format
	bitDepth int
	pending  []byte // decoded bytes not yet returned
}

// NewFLAC creates a reader over an open FLAC file
func NewFLAC(f *os.File) (*FLACReader, error) {
	stream, err := flac.New(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	bitDepth := int(info.BitsPerSample)
	kind := audio.Int32
	switch {
	case bitDepth <= 8:
		kind = audio.Uint8
	case bitDepth <= 16:
		kind = audio.Int16
	}

	return &FLACReader{
		file:     f,
		stream:   stream,
		bitDepth: bitDepth,
		format: audio.Format{
			Kind:       kind,
			SampleRate: int(info.SampleRate),
			Channels:   int(info.NChannels),
		},
	}, nil
}

func (r *FLACReader) Format() audio.Format { return r.format }

func (r *FLACReader) Read(p []byte) (int, error) {
	want := wholeFrames(len(p), r.format.FrameSize())
	total := 0
	for total < want {
		if len(r.pending) == 0 {
			if err := r.decodeFrame(); err != nil {
				if errors.Is(err, io.EOF) && total > 0 {
					return total, nil
				}
				return total, err
			}
		}
		n := copy(p[total:want], r.pending)
		r.pending = r.pending[n:]
		total += n
	}
	return total, nil
}

// decodeFrame parses the next FLAC frame into pending
func (r *FLACReader) decodeFrame() error {
	frame, err := r.stream.ParseNext()
	if err != nil {
		return err
	}

	size := r.format.BytesPerSample()
	need := int(frame.BlockSize) * r.format.Channels * size
	buf := r.pending[:0]
	if cap(buf) < need {
		buf = make([]byte, need)
	}
	buf = buf[:need]

	off := 0
	for i := 0; i < int(frame.BlockSize); i++ {
		for ch := 0; ch < r.format.Channels; ch++ {
			s := frame.Subframes[ch].Samples[i]
			switch r.format.Kind {
			case audio.Uint8:
				buf[off] = byte(s + 128)
			case audio.Int16:
				binary.LittleEndian.PutUint16(buf[off:], uint16(int16(s<<(16-r.bitDepth))))
			case audio.Int32:
				binary.LittleEndian.PutUint32(buf[off:], uint32(s<<(32-r.bitDepth)))
			}
			off += size
		}
	}
	r.pending = buf
	return nil
}

func (r *FLACReader) Rewind() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(r.file)
	if err != nil {
		return fmt.Errorf("failed to create new stream: %w", err)
	}
	r.stream = stream
	r.pending = r.pending[:0]
	return nil
}

func (r *FLACReader) Close() error {
	return r.file.Close()
}

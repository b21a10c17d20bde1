// ABOUTME: MP3 file decoder
// ABOUTME: Decodes MP3 to 16-bit stereo PCM
package decode

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// MP3Reader decodes an MP3 file
type MP3Reader struct {
	file    *os.File
	decoder *mp3.Decoder
	format  audio.Format
}

// NewMP3 creates a reader over an open MP3 file
func NewMP3(f *os.File) (*MP3Reader, error) {
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	return &MP3Reader{
		file:    f,
		decoder: decoder,
		// go-mp3 always produces 16-bit little-endian stereo
		format: audio.Format{Kind: audio.Int16, SampleRate: decoder.SampleRate(), Channels: 2},
	}, nil
}

func (r *MP3Reader) Format() audio.Format { return r.format }

func (r *MP3Reader) Read(p []byte) (int, error) {
	want := wholeFrames(len(p), r.format.FrameSize())
	total := 0
	for total < want {
		n, err := r.decoder.Read(p[total:want])
		total += n
		if errors.Is(err, io.EOF) {
			total = wholeFrames(total, r.format.FrameSize())
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		}
		if err != nil {
			return wholeFrames(total, r.format.FrameSize()), fmt.Errorf("mp3 decode error: %w", err)
		}
	}
	return total, nil
}

func (r *MP3Reader) Rewind() error {
	if _, err := r.decoder.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	return nil
}

func (r *MP3Reader) Close() error {
	return r.file.Close()
}

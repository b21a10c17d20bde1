// ABOUTME: Reader interface definition and extension-based opener
// ABOUTME: Common interface for all file decoders
package decode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

var ErrUnsupportedFile = errors.New("unsupported audio file")

// Reader decodes a file into packed PCM of Format()
type Reader interface {
	Format() audio.Format

	// Read fills p with whole frames and returns io.EOF at end of stream
	Read(p []byte) (int, error)

	// Rewind restarts decoding from the first frame
	Rewind() error

	// Close releases the file
	Close() error
}

// Open picks a decoder by file extension
func Open(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	var r Reader
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		r, err = NewMP3(f)
	case ".flac":
		r, err = NewFLAC(f)
	case ".wav", ".wave":
		r, err = NewWAV(f)
	case ".aif", ".aiff":
		r, err = NewAIFF(f)
	case ".ogg", ".oga":
		r, err = NewOgg(f)
	default:
		err = fmt.Errorf("%w: %s (supported: .mp3, .flac, .wav, .aiff, .ogg)", ErrUnsupportedFile, ext)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// wholeFrames rounds n down to a frame multiple
func wholeFrames(n, frameSize int) int {
	return n / frameSize * frameSize
}

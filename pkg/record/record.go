// ABOUTME: Recorders persisting captured audio to files
// ABOUTME: WAV files via go-audio/wav and length-prefixed encoded packet streams
package record

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/codec"
)

// Recorder consumes captured buffers off the realtime thread
type Recorder interface {
	Write(buf audio.Buffer) error
	Close() error
}

// Open creates a recorder at path. An empty codec or "wav" writes a WAV
// file; any codec name accepted by codec.NewAudioSession writes encoded
// packets.
func Open(path string, format audio.Format, codecName string) (Recorder, error) {
	switch codecName {
	case "", "wav":
		return NewWAV(path, format)
	}
	return NewEncoded(path, format, codecName)
}

// WAVRecorder writes PCM into a WAV file
type WAVRecorder struct {
	file    *os.File
	encoder *wav.Encoder
	format  audio.Format
	bits    int
	buf     *goaudio.IntBuffer
}

// NewWAV creates a WAV file for the given format. Float input is stored as
// 24-bit integers.
func NewWAV(path string, format audio.Format) (*WAVRecorder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	bits := format.BitsPerChannel()
	if format.Kind == audio.Float32 {
		bits = 24
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	return &WAVRecorder{
		file:    f,
		encoder: wav.NewEncoder(f, format.SampleRate, bits, format.Channels, 1),
		format:  format,
		bits:    bits,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
			SourceBitDepth: bits,
		},
	}, nil
}

// Write appends a buffer
func (r *WAVRecorder) Write(b audio.Buffer) error {
	size := r.format.BytesPerSample()
	n := len(b.Data) / r.format.FrameSize() * r.format.Channels
	if cap(r.buf.Data) < n {
		r.buf.Data = make([]int, n)
	}
	r.buf.Data = r.buf.Data[:n]

	scale := float64(int64(1) << (r.bits - 1))
	for i := 0; i < n; i++ {
		off := i * size
		switch r.format.Kind {
		case audio.Uint8:
			r.buf.Data[i] = int(b.Data[off])
		case audio.Int16:
			r.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(b.Data[off:])))
		case audio.Int32:
			r.buf.Data[i] = int(int32(binary.LittleEndian.Uint32(b.Data[off:])))
		default:
			v := audio.ReadSample(r.format.Kind, b.Data[off:]) * scale
			if v > scale-1 {
				v = scale - 1
			}
			r.buf.Data[i] = int(v)
		}
	}
	if err := r.encoder.Write(r.buf); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file
func (r *WAVRecorder) Close() error {
	if err := r.encoder.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return r.file.Close()
}

// EncodedRecorder writes codec packets as a stream of records:
// big-endian uint32 length, big-endian int64 PTS, then the payload
type EncodedRecorder struct {
	file    *os.File
	w       *bufio.Writer
	session *codec.AudioSession
	err     error
}

// NewEncoded creates an encoded packet file
func NewEncoded(path string, format audio.Format, codecName string) (*EncodedRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	r := &EncodedRecorder{file: f, w: bufio.NewWriter(f)}
	r.session, err = codec.NewAudioSession(format, codecName, r.writePacket)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return r, nil
}

func (r *EncodedRecorder) writePacket(p codec.Packet) {
	if r.err != nil {
		return
	}
	var header [12]byte
	binary.BigEndian.PutUint32(header[0:], uint32(len(p.Data)))
	binary.BigEndian.PutUint64(header[4:], uint64(p.PTS))
	if _, err := r.w.Write(header[:]); err != nil {
		r.err = err
		return
	}
	if _, err := r.w.Write(p.Data); err != nil {
		r.err = err
	}
}

// Write encodes a buffer
func (r *EncodedRecorder) Write(b audio.Buffer) error {
	if err := r.session.Write(b.Data); err != nil {
		return err
	}
	return r.err
}

// Close flushes the codec and the file
func (r *EncodedRecorder) Close() error {
	sessErr := r.session.Close()
	flushErr := r.w.Flush()
	closeErr := r.file.Close()
	for _, err := range []error{sessErr, r.err, flushErr, closeErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

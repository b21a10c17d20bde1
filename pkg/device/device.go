// ABOUTME: Endpoint model and backend abstraction for audio devices
// ABOUTME: Defines endpoint identity, capabilities, stream modes and callbacks
package device

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

var (
	ErrDeviceNotFound = errors.New("audio device not found")
	ErrUnsupported    = errors.New("operation not supported by audio backend")
	ErrStreamClosed   = errors.New("audio stream closed")
)

// Role is the direction of an endpoint
type Role int

const (
	RoleInput Role = iota + 1
	RoleOutput
)

// String returns the role name
func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	}
	return "unknown"
}

// Endpoint is an immutable snapshot of one audio unit taken at enumeration time
type Endpoint struct {
	Name       string
	UID        string // stable across enumerations for the same device
	HardwareID string
	Backend    string
	Role       Role

	DefaultCapable bool
	IsDefault      bool
	BuiltIn        bool
	Bluetooth      bool

	Format audio.Format // native format
}

// String renders the endpoint for logs
func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s, %s)", e.Name, e.Role, e.UID)
}

// StreamMode selects how a stream is wired to hardware
type StreamMode int

const (
	ModeCapture StreamMode = iota
	ModePlayback
	// ModeDuplex runs Input and Output on one clock, one callback per IO cycle
	ModeDuplex
	// ModeLoopback captures the mix rendered to Output
	ModeLoopback
)

// String returns the mode name
func (m StreamMode) String() string {
	switch m {
	case ModeCapture:
		return "capture"
	case ModePlayback:
		return "playback"
	case ModeDuplex:
		return "duplex"
	case ModeLoopback:
		return "loopback"
	}
	return "unknown"
}

// StreamConfig describes a stream to open
type StreamConfig struct {
	Mode         StreamMode
	Input        Endpoint // capture, duplex
	Output       Endpoint // playback, duplex, loopback
	Format       audio.Format
	PeriodFrames int
}

// Validate checks the endpoints required by the mode are present
func (c StreamConfig) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if c.Format.NonInterleaved {
		return fmt.Errorf("%w: planar layout", audio.ErrInvalidFormat)
	}
	switch c.Mode {
	case ModeCapture:
		if c.Input.UID == "" {
			return fmt.Errorf("capture stream needs an input: %w", ErrDeviceNotFound)
		}
	case ModePlayback, ModeLoopback:
		if c.Output.UID == "" {
			return fmt.Errorf("%s stream needs an output: %w", c.Mode, ErrDeviceNotFound)
		}
	case ModeDuplex:
		if c.Input.UID == "" || c.Output.UID == "" {
			return fmt.Errorf("duplex stream needs input and output: %w", ErrDeviceNotFound)
		}
	default:
		return fmt.Errorf("unknown stream mode %d", c.Mode)
	}
	return nil
}

// DataFunc runs on the realtime thread once per hardware IO cycle. out is
// nil for capture streams and in is nil for playback streams. It must not
// block, allocate or log.
type DataFunc func(out, in []byte, frames int)

// LostFunc reports that the hardware stopped the stream on its own
type LostFunc func(err error)

// Stream is an opened hardware stream
type Stream interface {
	Start() error
	// Stop halts callbacks. No DataFunc call is running or will run once it returns.
	Stop() error
	// Close stops the stream and releases its resources
	Close() error
}

// Backend enumerates endpoints and opens streams on them
type Backend interface {
	Name() string
	Endpoints() ([]Endpoint, error)
	OpenStream(cfg StreamConfig, data DataFunc, lost LostFunc) (Stream, error)
	Close() error
}

// DefaultOutputSetter is implemented by backends that can redirect the
// system default output
type DefaultOutputSetter interface {
	SetDefaultOutput(uid string) error
}

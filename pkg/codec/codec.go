// ABOUTME: Codec bridge constants, numeric error codes and log routing
// ABOUTME: Mirrors the status codes and time base used by encoding sessions
package codec

import (
	"fmt"
	"math"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

// PixFmtRGB32 is the packed 32-bit pixel format id (BGRA in memory on
// little-endian hosts)
const PixFmtRGB32 = 28

// Numeric status codes
const (
	ErrEOF         = -541478725 // end of stream
	ErrInvalidData = -1094995529
)

// ErrEAGAIN means the session needs more input before it can emit
var ErrEAGAIN = -int(syscall.EAGAIN)

const (
	// NoPTSValue marks a packet without a presentation timestamp
	NoPTSValue int64 = math.MinInt64
	// TimeBase is the number of timestamp ticks per second
	TimeBase = 1000000
)

// Log levels passed to the log callback
const (
	LogError   = 16
	LogWarning = 24
	LogInfo    = 32
	LogDebug   = 48
)

// ErrorDomain is the audio.Error domain of codec failures
const ErrorDomain = "codec"

// Err2Str describes a numeric status code
func Err2Str(code int) string {
	switch {
	case code == 0:
		return "Success"
	case code == ErrEOF:
		return "End of file"
	case code == ErrInvalidData:
		return "Invalid data found when processing input"
	case code < 0 && code > -4096:
		return syscall.Errno(-code).Error()
	}
	return fmt.Sprintf("Error number %d occurred", code)
}

// codeError wraps a status code as an audio.Error
func codeError(code int, reason string) *audio.Error {
	if reason == "" {
		reason = Err2Str(code)
	}
	return audio.NewError(ErrorDomain, code, reason)
}

var (
	logMu       sync.RWMutex
	logCallback func(level int, msg string)
)

// SetLogCallback receives every codec log line. Passing nil restores logrus only.
func SetLogCallback(cb func(level int, msg string)) {
	logMu.Lock()
	defer logMu.Unlock()
	logCallback = cb
}

func logf(level int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	logMu.RLock()
	cb := logCallback
	logMu.RUnlock()
	if cb != nil {
		cb(level, msg)
	}

	entry := logrus.WithField("component", "codec")
	switch {
	case level <= LogError:
		entry.Error(msg)
	case level <= LogWarning:
		entry.Warn(msg)
	case level <= LogInfo:
		entry.Info(msg)
	default:
		entry.Debug(msg)
	}
}

// ABOUTME: Process-wide logging setup and diagnostic callback hook
// ABOUTME: Configures logrus and forwards entries to one registered callback
package audiolog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level is the severity passed to the diagnostic callback
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

// String returns the level name
func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "info"
}

// Callback receives diagnostics. It must not block.
type Callback func(level Level, msg string)

var (
	hookOnce sync.Once
	hook     = &callbackHook{}
)

type callbackHook struct {
	mu sync.RWMutex
	cb Callback
}

func (h *callbackHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel,
		logrus.WarnLevel, logrus.InfoLevel,
	}
}

func (h *callbackHook) Fire(entry *logrus.Entry) error {
	h.mu.RLock()
	cb := h.cb
	h.mu.RUnlock()
	if cb == nil {
		return nil
	}

	msg := entry.Message
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k, v := range entry.Data {
			keys = append(keys, fmt.Sprintf("%s=%v", k, v))
		}
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(keys, " "))
	}
	cb(levelOf(entry.Level), msg)
	return nil
}

func levelOf(l logrus.Level) Level {
	switch l {
	case logrus.WarnLevel:
		return LevelWarning
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return LevelError
	}
	return LevelInfo
}

// SetCallback registers the process-wide diagnostic callback. nil clears it.
func SetCallback(cb Callback) {
	hookOnce.Do(func() {
		logrus.AddHook(hook)
	})
	hook.mu.Lock()
	hook.cb = cb
	hook.mu.Unlock()
}

// Logf routes a message through the process logger at the given level
func Logf(level Level, format string, args ...interface{}) {
	switch level {
	case LevelWarning:
		logrus.Warnf(format, args...)
	case LevelError:
		logrus.Errorf(format, args...)
	default:
		logrus.Infof(format, args...)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Configure sets the process log level and output. Level is one of
// none, error, warn, info or debug. With an empty file, logs go to stderr.
// The returned closer releases the log file.
func Configure(level, file string, alsoStdout bool) (io.Closer, error) {
	switch strings.ToLower(level) {
	case "none":
		logrus.SetOutput(io.Discard)
		return nopCloser{}, nil
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info", "":
		logrus.SetLevel(logrus.InfoLevel)
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	if file == "" {
		logrus.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	if alsoStdout {
		logrus.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		logrus.SetOutput(f)
	}
	return f, nil
}

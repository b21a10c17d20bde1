// ABOUTME: Tests for logging configuration and the diagnostic hook
// ABOUTME: Verifies level mapping, callback registration and file output
package audiolog

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu      sync.Mutex
	entries []struct {
		level Level
		msg   string
	}
}

func (c *captured) record(level Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, struct {
		level Level
		msg   string
	}{level, msg})
}

func TestCallbackReceivesLevels(t *testing.T) {
	logrus.SetOutput(io.Discard)
	logrus.SetLevel(logrus.InfoLevel)

	c := &captured{}
	SetCallback(c.record)
	defer SetCallback(nil)

	Logf(LevelInfo, "hello %d", 1)
	Logf(LevelWarning, "careful")
	Logf(LevelError, "broken")

	require.Len(t, c.entries, 3)
	assert.Equal(t, LevelInfo, c.entries[0].level)
	assert.Equal(t, "hello 1", c.entries[0].msg)
	assert.Equal(t, LevelWarning, c.entries[1].level)
	assert.Equal(t, LevelError, c.entries[2].level)
}

func TestCallbackIncludesFields(t *testing.T) {
	logrus.SetOutput(io.Discard)

	c := &captured{}
	SetCallback(c.record)
	defer SetCallback(nil)

	logrus.WithField("device", "mic").Warn("lost")

	require.Len(t, c.entries, 1)
	assert.Equal(t, "lost [device=mic]", c.entries[0].msg)
}

func TestCallbackCleared(t *testing.T) {
	logrus.SetOutput(io.Discard)

	c := &captured{}
	SetCallback(c.record)
	SetCallback(nil)

	Logf(LevelError, "nobody hears this")
	assert.Empty(t, c.entries)
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		want    logrus.Level
		wantErr bool
	}{
		{"error", "error", logrus.ErrorLevel, false},
		{"warn", "warn", logrus.WarnLevel, false},
		{"info", "info", logrus.InfoLevel, false},
		{"debug", "DEBUG", logrus.DebugLevel, false},
		{"bogus", "loud", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closer, err := Configure(tt.level, "", false)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer closer.Close()
			assert.Equal(t, tt.want, logrus.GetLevel())
		})
	}
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playthrough.log")
	closer, err := Configure("info", path, false)
	require.NoError(t, err)

	logrus.Info("written to file")
	require.NoError(t, closer.Close())
	logrus.SetOutput(io.Discard)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

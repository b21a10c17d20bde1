// ABOUTME: Process configuration loaded through viper
// ABOUTME: Defaults, optional config file and PLAYTHROUGH_ environment overrides
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	DefaultControlPort  = 8928
	DefaultPollInterval = 2 * time.Second
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved process configuration
type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`

	Input struct {
		Device string `mapstructure:"device"`
	} `mapstructure:"input"`

	Output struct {
		UID           string `mapstructure:"uid"`
		SynchronizeMS int    `mapstructure:"synchronize_ms"`
		BufferFrames  int    `mapstructure:"buffer_frames"`
	} `mapstructure:"output"`

	Capture struct {
		BufferFrames int `mapstructure:"buffer_frames"`
	} `mapstructure:"capture"`

	Volume float64 `mapstructure:"volume"`

	EQ struct {
		Gains   []float64 `mapstructure:"gains"`
		Overall float64   `mapstructure:"overall"`
	} `mapstructure:"eq"`

	Files struct {
		Inputs  []string `mapstructure:"inputs"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"files"`

	Record struct {
		Path  string `mapstructure:"path"`
		Codec string `mapstructure:"codec"`
	} `mapstructure:"record"`

	Control struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
		MDNS    bool `mapstructure:"mdns"`
	} `mapstructure:"control"`

	Devices struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"devices"`
}

// SynchronizeAudioTime returns the output queue bound as a duration
func (c *Config) SynchronizeAudioTime() time.Duration {
	return time.Duration(c.Output.SynchronizeMS) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("input.device", "")
	v.SetDefault("output.uid", "")
	v.SetDefault("output.synchronize_ms", 500)
	v.SetDefault("output.buffer_frames", 512)
	v.SetDefault("capture.buffer_frames", 512)
	v.SetDefault("volume", 1.0)
	v.SetDefault("eq.gains", []float64{})
	v.SetDefault("eq.overall", 0.0)
	v.SetDefault("files.inputs", []string{})
	v.SetDefault("files.outputs", []string{})
	v.SetDefault("record.path", "")
	v.SetDefault("record.codec", "")
	v.SetDefault("control.enabled", false)
	v.SetDefault("control.port", DefaultControlPort)
	v.SetDefault("control.mdns", true)
	v.SetDefault("devices.poll_interval", DefaultPollInterval)
}

// Load reads configuration from path, or from playthrough.{yaml,toml,json}
// in the working directory or ~/.config/playthrough when path is empty. A
// missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("playthrough")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("playthrough")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/playthrough")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logrus.WithField("path", path).Debug("No config file found, using defaults")
	} else {
		logrus.WithField("path", v.ConfigFileUsed()).Info("Loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "none", "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("%w: volume %v outside [0, 1]", ErrInvalid, c.Volume)
	}
	if c.Output.SynchronizeMS <= 0 {
		return fmt.Errorf("%w: output.synchronize_ms must be positive", ErrInvalid)
	}
	if c.Output.BufferFrames <= 0 || c.Capture.BufferFrames <= 0 {
		return fmt.Errorf("%w: buffer_frames must be positive", ErrInvalid)
	}
	switch c.Record.Codec {
	case "", "wav", "pcm", "opus":
	default:
		return fmt.Errorf("%w: record.codec %q", ErrInvalid, c.Record.Codec)
	}
	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		return fmt.Errorf("%w: control.port %d", ErrInvalid, c.Control.Port)
	}
	if c.Devices.PollInterval <= 0 {
		return fmt.Errorf("%w: devices.poll_interval must be positive", ErrInvalid)
	}
	return nil
}

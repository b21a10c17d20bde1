// ABOUTME: Entry point for the playthrough audio router
// ABOUTME: Loads config, builds the device registry and runs a capture-to-output session
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/internal/config"
	"github.com/Resonate-Protocol/playthrough/internal/control"
	"github.com/Resonate-Protocol/playthrough/internal/discovery"
	"github.com/Resonate-Protocol/playthrough/internal/version"
	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/audiolog"
	"github.com/Resonate-Protocol/playthrough/pkg/codec"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
	"github.com/Resonate-Protocol/playthrough/pkg/permissions"
	"github.com/Resonate-Protocol/playthrough/pkg/record"
	"github.com/Resonate-Protocol/playthrough/pkg/server"
)

var (
	configPath = flag.String("config", "", "Config file (default: ./playthrough.yaml or ~/.config/playthrough/)")
	list       = flag.Bool("list", false, "List audio devices and exit")
	input      = flag.String("input", "", "Input device name (an output name taps its mix)")
	outputUID  = flag.String("output", "", "Output device UID (default: built-in output)")
	logLevel   = flag.String("log-level", "", "Log level: none, error, warn, info, debug")
	logFile    = flag.String("log-file", "", "Log file path")
	volume     = flag.Float64("volume", -1, "Output volume 0..1")
	recordPath = flag.String("record", "", "Record the processed stream to this file")
	recordAs   = flag.String("codec", "", "Recording codec: wav, pcm or opus")
	controlOn  = flag.Bool("control", false, "Serve the WebSocket control surface")
	port       = flag.Int("port", 0, "Control surface port")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	closer, err := audiolog.Configure(cfg.Log.Level, cfg.Log.File, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	reg := buildRegistry(cfg)
	defer reg.Close()

	if *list {
		printDevices(reg)
		return
	}

	logrus.WithField("version", version.Version).Infof("Starting %s", version.Product)

	if !awaitMicrophone() {
		logrus.Warn(permissions.SettingsHint)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reg.Watch(ctx, cfg.Devices.PollInterval)

	srv := server.New(reg, server.Config{
		OutputUID:            cfg.Output.UID,
		CaptureFrames:        cfg.Capture.BufferFrames,
		OutputFrames:         cfg.Output.BufferFrames,
		SynchronizeAudioTime: cfg.SynchronizeAudioTime(),
		Volume:               cfg.Volume,
		Recorder:             recorderFactory(cfg),
	})
	if cfg.Volume == 0 {
		srv.SetVolume(0)
	}
	if len(cfg.EQ.Gains) > 0 {
		if err := srv.Equalizer().SetGains(cfg.EQ.Gains); err != nil {
			logrus.WithError(err).Warn("Ignoring configured equalizer gains")
		}
	}
	srv.Equalizer().SetOverall(cfg.EQ.Overall)

	if cfg.Control.Enabled {
		ctl := control.New(srv, control.Config{Addr: fmt.Sprintf(":%d", cfg.Control.Port)})
		if err := ctl.Start(); err != nil {
			logrus.WithError(err).Fatal("Failed to start control server")
		}
		defer ctl.Stop()

		if cfg.Control.MDNS {
			mdns := discovery.NewManager(discovery.Config{
				ServiceName: serviceName(),
				Port:        cfg.Control.Port,
			})
			if err := mdns.Advertise(); err != nil {
				logrus.WithError(err).Warn("Failed to start mDNS advertisement")
			}
			defer mdns.Stop()
		}
	}

	if cfg.Input.Device != "" {
		if err := srv.StartServerWithInputDeviceName(cfg.Input.Device); err != nil {
			logrus.WithError(err).Error("Failed to start session")
			if !cfg.Control.Enabled {
				os.Exit(1)
			}
		}
	} else if !cfg.Control.Enabled {
		fmt.Fprintln(os.Stderr, "no input device given; use -input NAME, -list, or -control")
		os.Exit(2)
	}

	logrus.Info("Press Ctrl-C to stop")
	<-ctx.Done()

	logrus.Info("Shutting down")
	srv.StopServer()
}

// applyFlags overrides config values with flags given on the command line
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input.Device = *input
		case "output":
			cfg.Output.UID = *outputUID
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-file":
			cfg.Log.File = *logFile
		case "volume":
			cfg.Volume = *volume
		case "record":
			cfg.Record.Path = *recordPath
		case "codec":
			cfg.Record.Codec = *recordAs
		case "control":
			cfg.Control.Enabled = *controlOn
		case "port":
			cfg.Control.Port = *port
		case "no-mdns":
			cfg.Control.MDNS = !*noMDNS
		}
	})
}

func buildRegistry(cfg *config.Config) *device.Registry {
	var backends []device.Backend

	if m, err := device.NewMalgo(); err != nil {
		logrus.WithError(err).Warn("miniaudio backend unavailable")
	} else {
		backends = append(backends, m)
	}
	if pa, err := device.NewPortAudio(); err != nil {
		logrus.WithError(err).Debug("PortAudio backend unavailable")
	} else {
		backends = append(backends, pa)
	}
	if len(backends) == 0 {
		backends = append(backends, device.NewOto(audio.Format{}))
	}
	backends = append(backends, device.NewTone(device.DefaultToneFrequency))
	if len(cfg.Files.Inputs) > 0 || len(cfg.Files.Outputs) > 0 {
		backends = append(backends, device.NewFiles(cfg.Files.Inputs, cfg.Files.Outputs))
	}
	return device.NewRegistry(backends...)
}

func recorderFactory(cfg *config.Config) server.RecorderFactory {
	if cfg.Record.Path == "" {
		return nil
	}
	path := cfg.Record.Path
	codecName := cfg.Record.Codec
	if codecName == "pcm" {
		codecName = codec.CodecPCM16
	}
	return func(format audio.Format) (record.Recorder, error) {
		return record.Open(path, format, codecName)
	}
}

// awaitMicrophone blocks until the OS answers the permission request
func awaitMicrophone() bool {
	result := make(chan bool, 1)
	permissions.RequestAccess(func(granted bool) { result <- granted })
	select {
	case granted := <-result:
		return granted
	case <-time.After(2 * time.Minute):
		return false
	}
}

func printDevices(reg *device.Registry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tNAME\tUID\tBACKEND\tFORMAT\tFLAGS")
	for _, ep := range reg.ListDevices() {
		var flags []string
		if ep.IsDefault {
			flags = append(flags, "default")
		}
		if ep.BuiltIn {
			flags = append(flags, "built-in")
		}
		if ep.Bluetooth {
			flags = append(flags, "bluetooth")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ep.Role, ep.Name, ep.UID, ep.Backend, ep.Format, strings.Join(flags, ","))
	}
	w.Flush()
}

func serviceName() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-playthrough", hostname)
}

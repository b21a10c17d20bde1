// ABOUTME: Hardware backend using malgo (miniaudio bindings)
// ABOUTME: Enumerates devices and opens capture, playback, duplex and loopback streams
package device

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

const malgoBackendName = "malgo"

// Malgo is a Backend over the platform's native audio API via miniaudio
type Malgo struct {
	ctx *malgo.AllocatedContext
	log *logrus.Entry

	mu  sync.Mutex
	ids map[string]malgo.DeviceID // UID -> device ID, refreshed on enumeration
}

// NewMalgo initializes a miniaudio context
func NewMalgo() (*Malgo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	return &Malgo{
		ctx: ctx,
		log: logrus.WithField("backend", malgoBackendName),
		ids: make(map[string]malgo.DeviceID),
	}, nil
}

// Name returns the backend name
func (m *Malgo) Name() string {
	return malgoBackendName
}

// Endpoints enumerates capture and playback devices
func (m *Malgo) Endpoints() ([]Endpoint, error) {
	kinds := []struct {
		typ  malgo.DeviceType
		role Role
	}{
		{malgo.Capture, RoleInput},
		{malgo.Playback, RoleOutput},
	}

	ids := make(map[string]malgo.DeviceID)
	var eps []Endpoint
	for _, k := range kinds {
		infos, err := m.ctx.Devices(k.typ)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate %s devices: %w", k.role, err)
		}
		for _, info := range infos {
			ep := m.endpoint(k.typ, k.role, info)
			ids[ep.UID] = info.ID
			eps = append(eps, ep)
		}
	}

	m.mu.Lock()
	m.ids = ids
	m.mu.Unlock()
	return eps, nil
}

func (m *Malgo) endpoint(typ malgo.DeviceType, role Role, info malgo.DeviceInfo) Endpoint {
	hw := trimDeviceID(info.ID.String())
	name := info.Name()

	// Native format needs a full info query; enumeration only fills identity
	format := audio.Format{Kind: audio.Float32, SampleRate: 48000, Channels: 2}
	if full, err := m.ctx.DeviceInfo(typ, info.ID, malgo.Shared); err == nil && full.FormatCount > 0 {
		native := full.Formats[0]
		format = audio.Format{
			Kind:       kindFromMalgo(native.Format),
			SampleRate: int(native.SampleRate),
			Channels:   int(native.Channels),
		}
		if format.SampleRate == 0 {
			format.SampleRate = 48000
		}
		if format.Channels == 0 {
			format.Channels = 2
		}
	}

	prefix := "in"
	if role == RoleOutput {
		prefix = "out"
	}

	return Endpoint{
		Name:           name,
		UID:            fmt.Sprintf("%s:%s:%s", malgoBackendName, prefix, hw),
		HardwareID:     hw,
		Backend:        malgoBackendName,
		Role:           role,
		DefaultCapable: true,
		IsDefault:      info.IsDefault != 0,
		BuiltIn:        looksBuiltIn(name),
		Bluetooth:      looksBluetooth(name),
		Format:         format,
	}
}

// trimDeviceID drops the zero padding of the device ID union
func trimDeviceID(hex string) string {
	for len(hex) > 2 && strings.HasSuffix(hex, "00") {
		hex = hex[:len(hex)-2]
	}
	return hex
}

func kindFromMalgo(f malgo.FormatType) audio.SampleKind {
	switch f {
	case malgo.FormatU8:
		return audio.Uint8
	case malgo.FormatS16:
		return audio.Int16
	case malgo.FormatS24, malgo.FormatS32:
		// 24-bit packed devices are delivered widened to 32-bit containers
		return audio.Int32
	}
	return audio.Float32
}

func malgoFormat(k audio.SampleKind) malgo.FormatType {
	switch k {
	case audio.Uint8:
		return malgo.FormatU8
	case audio.Int16:
		return malgo.FormatS16
	case audio.Int32:
		return malgo.FormatS32
	}
	return malgo.FormatF32
}

func looksBuiltIn(name string) bool {
	n := strings.ToLower(name)
	for _, hint := range []string{"built-in", "builtin", "internal", "macbook", "imac"} {
		if strings.Contains(n, hint) {
			return true
		}
	}
	return false
}

func looksBluetooth(name string) bool {
	n := strings.ToLower(name)
	for _, hint := range []string{"bluetooth", "airpods", "a2dp", "hands-free", "headset"} {
		if strings.Contains(n, hint) {
			return true
		}
	}
	return false
}

func (m *Malgo) deviceID(uid string) (malgo.DeviceID, error) {
	m.mu.Lock()
	id, ok := m.ids[uid]
	m.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := m.Endpoints(); err != nil {
		return malgo.DeviceID{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.ids[uid]; ok {
		return id, nil
	}
	return malgo.DeviceID{}, fmt.Errorf("%s: %w", uid, ErrDeviceNotFound)
}

// OpenStream opens a miniaudio device for the configured mode
func (m *Malgo) OpenStream(cfg StreamConfig, data DataFunc, lost LostFunc) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var deviceType malgo.DeviceType
	switch cfg.Mode {
	case ModeCapture:
		deviceType = malgo.Capture
	case ModePlayback:
		deviceType = malgo.Playback
	case ModeDuplex:
		deviceType = malgo.Duplex
	case ModeLoopback:
		deviceType = malgo.Loopback
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.SampleRate = uint32(cfg.Format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if cfg.PeriodFrames > 0 {
		deviceConfig.PeriodSizeInFrames = uint32(cfg.PeriodFrames)
	}

	format := malgoFormat(cfg.Format.Kind)
	channels := uint32(cfg.Format.Channels)

	if cfg.Mode == ModeCapture || cfg.Mode == ModeDuplex {
		id, err := m.deviceID(cfg.Input.UID)
		if err != nil {
			return nil, err
		}
		deviceConfig.Capture.Format = format
		deviceConfig.Capture.Channels = channels
		deviceConfig.Capture.DeviceID = id.Pointer()
	}
	if cfg.Mode == ModePlayback || cfg.Mode == ModeDuplex {
		id, err := m.deviceID(cfg.Output.UID)
		if err != nil {
			return nil, err
		}
		deviceConfig.Playback.Format = format
		deviceConfig.Playback.Channels = channels
		deviceConfig.Playback.DeviceID = id.Pointer()
	}
	if cfg.Mode == ModeLoopback {
		// loopback captures from a playback device
		id, err := m.deviceID(cfg.Output.UID)
		if err != nil {
			return nil, err
		}
		deviceConfig.Capture.Format = format
		deviceConfig.Capture.Channels = channels
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	s := &malgoStream{log: m.log.WithField("mode", cfg.Mode.String())}
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			data(pOutputSample, pInputSamples, int(frameCount))
		},
		Stop: func() {
			if s.stopping.Load() {
				return
			}
			s.log.Warn("Device stopped unexpectedly")
			if lost != nil {
				lost(fmt.Errorf("%s device stopped: %w", cfg.Mode, ErrStreamClosed))
			}
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s device: %w", cfg.Mode, err)
	}
	s.device = device
	s.stopping.Store(true)

	s.log.WithFields(logrus.Fields{
		"format": cfg.Format.String(),
		"period": cfg.PeriodFrames,
	}).Info("Opened malgo stream")
	return s, nil
}

// Close releases the miniaudio context
func (m *Malgo) Close() error {
	if m.ctx == nil {
		return nil
	}
	if err := m.ctx.Uninit(); err != nil {
		return fmt.Errorf("failed to uninit malgo context: %w", err)
	}
	m.ctx.Free()
	m.ctx = nil
	return nil
}

type malgoStream struct {
	mu       sync.Mutex
	device   *malgo.Device
	stopping atomic.Bool // set while a stop is ours, so the Stop callback is not a loss
	log      *logrus.Entry
}

func (s *malgoStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return ErrStreamClosed
	}
	s.stopping.Store(false)
	if err := s.device.Start(); err != nil {
		s.stopping.Store(true)
		return fmt.Errorf("failed to start device: %w", err)
	}
	return nil
}

// Stop blocks until miniaudio has halted the device thread
func (s *malgoStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	s.stopping.Store(true)
	if !s.device.IsStarted() {
		return nil
	}
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	return nil
}

func (s *malgoStream) Close() error {
	if err := s.Stop(); err != nil {
		s.log.WithError(err).Warn("Stop before close failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	return nil
}

//go:build portaudio

// ABOUTME: PortAudio hardware backend
// ABOUTME: Enumerates devices and opens capture, playback and duplex streams via PortAudio
package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

const portAudioBackendName = "portaudio"

// PortAudio is a Backend over the PortAudio library
type PortAudio struct {
	log *logrus.Entry

	mu      sync.Mutex
	devices map[string]*portaudio.DeviceInfo
}

// NewPortAudio initializes PortAudio
func NewPortAudio() (Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &PortAudio{
		log:     logrus.WithField("backend", portAudioBackendName),
		devices: make(map[string]*portaudio.DeviceInfo),
	}, nil
}

// Name returns the backend name
func (p *PortAudio) Name() string {
	return portAudioBackendName
}

// Endpoints enumerates PortAudio devices, one endpoint per direction
func (p *PortAudio) Endpoints() ([]Endpoint, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate portaudio devices: %w", err)
	}

	var defIn, defOut string
	if d, err := portaudio.DefaultInputDevice(); err == nil {
		defIn = d.Name
	}
	if d, err := portaudio.DefaultOutputDevice(); err == nil {
		defOut = d.Name
	}

	devices := make(map[string]*portaudio.DeviceInfo)
	var inputs, outputs []Endpoint
	for _, info := range infos {
		api := ""
		if info.HostApi != nil {
			api = info.HostApi.Name
		}
		hw := fmt.Sprintf("%s/%s", api, info.Name)
		rate := int(info.DefaultSampleRate)

		if info.MaxInputChannels > 0 {
			ep := p.endpoint(info, hw, RoleInput, info.MaxInputChannels, rate, info.Name == defIn)
			devices[ep.UID] = info
			inputs = append(inputs, ep)
		}
		if info.MaxOutputChannels > 0 {
			ep := p.endpoint(info, hw, RoleOutput, info.MaxOutputChannels, rate, info.Name == defOut)
			devices[ep.UID] = info
			outputs = append(outputs, ep)
		}
	}

	p.mu.Lock()
	p.devices = devices
	p.mu.Unlock()
	return append(inputs, outputs...), nil
}

func (p *PortAudio) endpoint(info *portaudio.DeviceInfo, hw string, role Role, channels, rate int, isDefault bool) Endpoint {
	if channels > 2 {
		channels = 2
	}
	prefix := "in"
	if role == RoleOutput {
		prefix = "out"
	}
	return Endpoint{
		Name:           info.Name,
		UID:            fmt.Sprintf("%s:%s:%s", portAudioBackendName, prefix, hw),
		HardwareID:     hw,
		Backend:        portAudioBackendName,
		Role:           role,
		DefaultCapable: true,
		IsDefault:      isDefault,
		BuiltIn:        looksBuiltIn(info.Name),
		Bluetooth:      looksBluetooth(info.Name),
		Format:         audio.Format{Kind: audio.Float32, SampleRate: rate, Channels: channels},
	}
}

func (p *PortAudio) device(uid string) (*portaudio.DeviceInfo, error) {
	p.mu.Lock()
	info, ok := p.devices[uid]
	p.mu.Unlock()
	if ok {
		return info, nil
	}
	if _, err := p.Endpoints(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if info, ok := p.devices[uid]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("%s: %w", uid, ErrDeviceNotFound)
}

// OpenStream opens a PortAudio stream. Loopback is not available.
func (p *PortAudio) OpenStream(cfg StreamConfig, data DataFunc, lost LostFunc) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == ModeLoopback {
		return nil, fmt.Errorf("portaudio loopback: %w", ErrUnsupported)
	}
	if cfg.Format.Kind != audio.Float32 && cfg.Format.Kind != audio.Int16 {
		return nil, fmt.Errorf("portaudio %s streams: %w", cfg.Format.Kind, ErrUnsupported)
	}

	frames := cfg.PeriodFrames
	if frames <= 0 {
		frames = 512
	}
	params := portaudio.StreamParameters{
		SampleRate:      float64(cfg.Format.SampleRate),
		FramesPerBuffer: frames,
	}

	if cfg.Mode == ModeCapture || cfg.Mode == ModeDuplex {
		info, err := p.device(cfg.Input.UID)
		if err != nil {
			return nil, err
		}
		params.Input = portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Format.Channels,
			Latency:  info.DefaultLowInputLatency,
		}
	}
	if cfg.Mode == ModePlayback || cfg.Mode == ModeDuplex {
		info, err := p.device(cfg.Output.UID)
		if err != nil {
			return nil, err
		}
		params.Output = portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Format.Channels,
			Latency:  info.DefaultLowOutputLatency,
		}
	}

	size := frames * cfg.Format.FrameSize()
	in := make([]byte, size)
	out := make([]byte, size)

	// PortAudio takes one buffer argument per active direction
	var callback interface{}
	switch cfg.Format.Kind {
	case audio.Float32:
		callback = float32Callback(cfg.Mode, cfg.Format.Channels, in, out, data)
	case audio.Int16:
		callback = int16Callback(cfg.Mode, cfg.Format.Channels, in, out, data)
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}
	return &portAudioStream{stream: stream}, nil
}

func float32Callback(mode StreamMode, channels int, in, out []byte, data DataFunc) interface{} {
	switch mode {
	case ModeCapture:
		return func(pin []float32) {
			putFloat32s(in, pin)
			data(nil, in[:len(pin)*4], len(pin)/channels)
		}
	case ModePlayback:
		return func(pout []float32) {
			data(out[:len(pout)*4], nil, len(pout)/channels)
			getFloat32s(pout, out)
		}
	}
	return func(pin, pout []float32) {
		putFloat32s(in, pin)
		data(out[:len(pout)*4], in[:len(pin)*4], len(pout)/channels)
		getFloat32s(pout, out)
	}
}

func int16Callback(mode StreamMode, channels int, in, out []byte, data DataFunc) interface{} {
	switch mode {
	case ModeCapture:
		return func(pin []int16) {
			putInt16s(in, pin)
			data(nil, in[:len(pin)*2], len(pin)/channels)
		}
	case ModePlayback:
		return func(pout []int16) {
			data(out[:len(pout)*2], nil, len(pout)/channels)
			getInt16s(pout, out)
		}
	}
	return func(pin, pout []int16) {
		putInt16s(in, pin)
		data(out[:len(pout)*2], in[:len(pin)*2], len(pout)/channels)
		getInt16s(pout, out)
	}
}

func putFloat32s(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func getFloat32s(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}

func putInt16s(dst []byte, src []int16) {
	for i, v := range src {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
}

func getInt16s(dst []int16, src []byte) {
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
}

// Close terminates PortAudio
func (p *PortAudio) Close() error {
	return portaudio.Terminate()
}

type portAudioStream struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	started bool
}

func (s *portAudioStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return ErrStreamClosed
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}
	s.started = true
	return nil
}

// Stop returns after PortAudio has finished the last callback
func (s *portAudioStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || !s.started {
		return nil
	}
	s.started = false
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio stream: %w", err)
	}
	return nil
}

func (s *portAudioStream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

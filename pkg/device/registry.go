// ABOUTME: Device registry over one or more audio backends
// ABOUTME: Enumeration, lookups by UID/name, stream dispatch and topology watching
package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Registry enumerates endpoints across backends. Every query re-enumerates;
// callers must treat endpoints held across a DevicesChangedNotification as stale.
type Registry struct {
	backends []Backend
	log      *logrus.Entry
}

// NewRegistry creates a registry over the given backends, in priority order
func NewRegistry(backends ...Backend) *Registry {
	return &Registry{
		backends: backends,
		log:      logrus.WithField("component", "device-registry"),
	}
}

// Backends returns the registered backends
func (r *Registry) Backends() []Backend {
	return r.backends
}

// ListDevices returns every endpoint: inputs first, then outputs, each in backend order
func (r *Registry) ListDevices() []Endpoint {
	var all []Endpoint
	for _, b := range r.backends {
		eps, err := b.Endpoints()
		if err != nil {
			r.log.WithError(err).WithField("backend", b.Name()).Warn("Failed to enumerate devices")
			continue
		}
		all = append(all, eps...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Role < all[j].Role
	})
	return all
}

func (r *Registry) find(match func(Endpoint) bool) (Endpoint, bool) {
	for _, ep := range r.ListDevices() {
		if match(ep) {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// DefaultOutputDevice returns the system default output
func (r *Registry) DefaultOutputDevice() (Endpoint, bool) {
	if ep, ok := r.find(func(ep Endpoint) bool { return ep.Role == RoleOutput && ep.IsDefault }); ok {
		return ep, true
	}
	return r.find(func(ep Endpoint) bool { return ep.Role == RoleOutput })
}

// DefaultInputDevice returns the system default input
func (r *Registry) DefaultInputDevice() (Endpoint, bool) {
	if ep, ok := r.find(func(ep Endpoint) bool { return ep.Role == RoleInput && ep.IsDefault }); ok {
		return ep, true
	}
	return r.find(func(ep Endpoint) bool { return ep.Role == RoleInput })
}

// BuiltInOutputDevice returns the built-in output, or the default output
// when no endpoint reports itself as built in
func (r *Registry) BuiltInOutputDevice() (Endpoint, bool) {
	if ep, ok := r.find(func(ep Endpoint) bool { return ep.Role == RoleOutput && ep.BuiltIn }); ok {
		return ep, true
	}
	return r.DefaultOutputDevice()
}

// DeviceByUID looks up an endpoint by UID
func (r *Registry) DeviceByUID(uid string) (Endpoint, bool) {
	if uid == "" {
		return Endpoint{}, false
	}
	return r.find(func(ep Endpoint) bool { return ep.UID == uid })
}

// DeviceByName looks up the first endpoint with the given name and role.
// A zero role matches either direction, inputs first.
func (r *Registry) DeviceByName(name string, role Role) (Endpoint, bool) {
	if name == "" {
		return Endpoint{}, false
	}
	return r.find(func(ep Endpoint) bool {
		return ep.Name == name && (role == 0 || ep.Role == role)
	})
}

// ContainsDeviceNamed reports whether any endpoint carries the given name
func (r *Registry) ContainsDeviceNamed(name string) bool {
	_, ok := r.DeviceByName(name, 0)
	return ok
}

// OpenStream opens a stream on the backend owning the configured endpoints
func (r *Registry) OpenStream(cfg StreamConfig, data DataFunc, lost LostFunc) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	owner := cfg.Output.Backend
	if cfg.Mode == ModeCapture || cfg.Mode == ModeDuplex {
		owner = cfg.Input.Backend
	}
	if cfg.Mode == ModeDuplex && cfg.Input.Backend != cfg.Output.Backend {
		return nil, fmt.Errorf("duplex across backends %s and %s: %w",
			cfg.Input.Backend, cfg.Output.Backend, ErrUnsupported)
	}

	for _, b := range r.backends {
		if b.Name() == owner {
			return b.OpenStream(cfg, data, lost)
		}
	}
	return nil, fmt.Errorf("no backend %q: %w", owner, ErrDeviceNotFound)
}

// SetDefaultOutput redirects the system default output when the owning backend allows it
func (r *Registry) SetDefaultOutput(ep Endpoint) error {
	for _, b := range r.backends {
		if b.Name() != ep.Backend {
			continue
		}
		setter, ok := b.(DefaultOutputSetter)
		if !ok {
			return ErrUnsupported
		}
		return setter.SetDefaultOutput(ep.UID)
	}
	return ErrDeviceNotFound
}

// Close releases every backend
func (r *Registry) Close() error {
	var firstErr error
	for _, b := range r.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fingerprint summarizes what a topology change consists of
func fingerprint(eps []Endpoint) string {
	var sb strings.Builder
	for _, ep := range eps {
		fmt.Fprintf(&sb, "%s|%t|%s;", ep.UID, ep.IsDefault, ep.Format)
	}
	return sb.String()
}

// Watch re-enumerates every interval and posts DevicesChanged when the
// topology (endpoints, defaults or native formats) differs. It returns when
// ctx is done.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	last := fingerprint(r.ListDevices())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := fingerprint(r.ListDevices())
			if current != last {
				last = current
				r.log.Info("Audio device topology changed")
				DevicesChanged.Post()
			}
		}
	}
}

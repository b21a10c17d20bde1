// ABOUTME: Redirects the system default output to a chosen endpoint
// ABOUTME: Restores the previous default when stopped
package capture

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/pkg/device"
)

// ExtensionController routes system audio to one endpoint while running
type ExtensionController struct {
	reg      *device.Registry
	endpoint device.Endpoint
	log      *logrus.Entry

	mu       sync.Mutex
	running  bool
	previous device.Endpoint
}

// NewExtensionController binds an output endpoint by UID
func NewExtensionController(reg *device.Registry, uid string) (*ExtensionController, error) {
	ep, ok := reg.DeviceByUID(uid)
	if !ok || ep.Role != device.RoleOutput {
		return nil, fmt.Errorf("no output with uid %q: %w", uid, device.ErrDeviceNotFound)
	}
	return &ExtensionController{
		reg:      reg,
		endpoint: ep,
		log:      logrus.WithFields(logrus.Fields{"component": "extension", "output": ep.Name}),
	}, nil
}

// Start makes the bound endpoint the system default output. Backends that
// cannot redirect return device.ErrUnsupported.
func (c *ExtensionController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}
	previous, _ := c.reg.DefaultOutputDevice()
	if err := c.reg.SetDefaultOutput(c.endpoint); err != nil {
		return fmt.Errorf("failed to redirect default output: %w", err)
	}
	c.previous = previous
	c.running = true
	c.log.Info("Default output redirected")
	return nil
}

// Stop restores the previous default output
func (c *ExtensionController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	if c.previous.UID == "" || c.previous.UID == c.endpoint.UID {
		return nil
	}
	if err := c.reg.SetDefaultOutput(c.previous); err != nil {
		return fmt.Errorf("failed to restore default output: %w", err)
	}
	c.log.WithField("restored", c.previous.Name).Info("Default output restored")
	return nil
}

// IsRunning reports whether the redirection is active
func (c *ExtensionController) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

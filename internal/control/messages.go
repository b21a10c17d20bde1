// ABOUTME: Control surface message definitions
// ABOUTME: JSON envelope, request payloads and server state snapshots
package control

import (
	"encoding/json"
	"time"
)

// Request types
const (
	TypeServerStatus = "server/status"
	TypeDevicesList  = "devices/list"
	TypeSessionStart = "session/start"
	TypeSessionStop  = "session/stop"
	TypeOutputVolume = "output/volume"
	TypeEQGains      = "eq/gains"
	TypeEQReset      = "eq/reset"
)

// Reply and event types
const (
	TypeServerState    = "server/state"
	TypeDevices        = "devices"
	TypeDevicesChanged = "devices/changed"
	TypeError          = "error"
)

// Message is the top-level wrapper for every control message. Replies carry
// the ID of the request they answer; pushed events have no ID.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with payload encoded as JSON
func NewMessage(typ, id string, payload interface{}) (Message, error) {
	msg := Message{Type: typ, ID: id}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// StartRequest is the payload of session/start
type StartRequest struct {
	Device string `json:"device"`
}

// VolumeRequest is the payload of output/volume
type VolumeRequest struct {
	Volume float64 `json:"volume"`
}

// GainsRequest is the payload of eq/gains. Nil fields are left unchanged.
type GainsRequest struct {
	Bands   []float64 `json:"bands,omitempty"`
	Overall *float64  `json:"overall,omitempty"`
}

// ErrorPayload is the payload of error replies
type ErrorPayload struct {
	Message string `json:"message"`
}

// DeviceInfo describes one endpoint
type DeviceInfo struct {
	Name      string `json:"name"`
	UID       string `json:"uid"`
	Backend   string `json:"backend"`
	Role      string `json:"role"`
	IsDefault bool   `json:"is_default,omitempty"`
	BuiltIn   bool   `json:"built_in,omitempty"`
	Format    string `json:"format"`
}

// DevicesPayload is the payload of devices and devices/changed
type DevicesPayload struct {
	Devices []DeviceInfo `json:"devices"`
}

// SessionState describes the running session
type SessionState struct {
	ID       string    `json:"id"`
	Input    string    `json:"input"`
	Output   string    `json:"output"`
	Format   string    `json:"format"`
	Loopback bool      `json:"loopback,omitempty"`
	Started  time.Time `json:"started"`
}

// StatsState is a snapshot of the output counters
type StatsState struct {
	QueuedMS       float64 `json:"queued_ms"`
	Rendered       uint64  `json:"rendered_frames"`
	Underruns      uint64  `json:"underruns"`
	Flushes        uint64  `json:"flushes"`
	Dropped        uint64  `json:"dropped_bytes"`
	Late           uint64  `json:"late_packets"`
	CaptureDropped uint64  `json:"capture_dropped_bytes"`
	DriftPPM       float64 `json:"drift_ppm"`
	DriftQuality   string  `json:"drift_quality"`
}

// EQState describes the equalizer bands and gains
type EQState struct {
	Centres []float64 `json:"centres"`
	Gains   []float64 `json:"gains"`
	Overall float64   `json:"overall"`
}

// ServerState is the payload of server/state
type ServerState struct {
	ServerID string        `json:"server_id"`
	Product  string        `json:"product"`
	Version  string        `json:"version"`
	Running  bool          `json:"running"`
	Volume   float64       `json:"volume"`
	EQ       EQState       `json:"eq"`
	Session  *SessionState `json:"session,omitempty"`
	Stats    *StatsState   `json:"stats,omitempty"`
}

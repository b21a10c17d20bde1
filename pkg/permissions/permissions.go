// ABOUTME: Microphone permission request shared across platforms
// ABOUTME: Maps the platform authorization state onto an asynchronous grant callback
package permissions

import "github.com/sirupsen/logrus"

// Status is the microphone authorization state
type Status int

const (
	StatusNotDetermined Status = iota
	StatusRestricted
	StatusDenied
	StatusAuthorized
)

// SettingsHint tells the user where to grant access after a denial
const SettingsHint = "Grant microphone access in System Settings → Privacy & Security → Microphone"

func (s Status) String() string {
	switch s {
	case StatusNotDetermined:
		return "not determined"
	case StatusRestricted:
		return "restricted"
	case StatusDenied:
		return "denied"
	case StatusAuthorized:
		return "authorized"
	}
	return "unknown"
}

// CheckMicrophone returns the current authorization state without prompting
func CheckMicrophone() Status {
	return microphoneStatus()
}

// RequestAccess asks for microphone access and calls handler once, from its
// own goroutine, with the outcome. A false result means the user has to
// change the OS privacy settings.
func RequestAccess(handler func(granted bool)) {
	go func() {
		granted := requestAccess()
		logrus.WithField("granted", granted).Debug("Microphone access resolved")
		if handler != nil {
			handler(granted)
		}
	}()
}

func requestAccess() bool {
	switch microphoneStatus() {
	case StatusAuthorized:
		return true
	case StatusDenied, StatusRestricted:
		return false
	}
	return requestMicrophone()
}

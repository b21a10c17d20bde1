//go:build !darwin || !cgo

// ABOUTME: Microphone permission stub for platforms without an app-level gate
// ABOUTME: Access is always reported as granted
package permissions

func microphoneStatus() Status {
	return StatusAuthorized
}

func requestMicrophone() bool {
	return true
}

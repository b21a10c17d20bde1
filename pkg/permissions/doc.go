// ABOUTME: Microphone permission package
// ABOUTME: Asynchronous capture authorization with a platform backend
// Package permissions asks the operating system for microphone access.
//
// On macOS the AVFoundation authorization state is consulted and, when the
// user has not decided yet, the system prompt is shown. Other platforms have
// no per-app microphone gate and always report access as granted.
//
//	permissions.RequestAccess(func(granted bool) {
//		if !granted {
//			log.Println(permissions.SettingsHint)
//		}
//	})
package permissions

// ABOUTME: Capture source package
// ABOUTME: Device and loopback sources delivering packed PCM buffers
// Package capture delivers PCM from audio endpoints to a handler running on
// the hardware's realtime thread.
//
// DeviceSource records an input endpoint directly. LoopbackSource either taps
// the mix rendered to an output endpoint or runs an input and an output on a
// shared clock, handing each cycle's input to the handler before playing it
// through. ExtensionController redirects the system default output to a
// chosen endpoint on backends that allow it.
package capture

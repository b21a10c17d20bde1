// ABOUTME: Playthrough server package
// ABOUTME: Owns the capture to equalizer to output session lifecycle
// Package server wires a capture source, the equalizer and an output sink
// into one running session.
//
// A Server owns the equalizer and the output volume for its whole life, so
// settings survive stopping and starting. Each session gets fresh filter
// history, queues, statistics and a new ID.
//
// Example:
//
//	srv := server.New(registry, server.Config{})
//	if err := srv.StartServerWithInputDeviceName("MacBook Pro Microphone"); err != nil {
//		return err
//	}
//	srv.Equalizer().SetBandGain(3, 4)
//	defer srv.StopServer()
package server

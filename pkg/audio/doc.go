// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Parameter, Buffer, Packet and sample conversion functions
// Package audio provides the PCM format model shared by every pipeline stage.
//
// This package defines:
//   - Format: packed, interleaved layout (sample kind, sample rate, channels)
//   - Parameter: the working format a pipeline instance is built around
//   - Buffer: a PCM region passed between stages for the duration of one call
//   - Packet: a producer chunk with an intended render time
//
// Sample helpers read and write normalized values with saturation, so no
// stage can wrap around the representable range of its sample kind.
//
// Example:
//
//	format, err := audio.Parameter{
//	    SampleRate:     48000,
//	    Channels:       2,
//	    BitsPerChannel: 16,
//	}.Format()
//	if err != nil {
//	    return err
//	}
//	n := format.BytesFor(20 * time.Millisecond) // 3840
package audio

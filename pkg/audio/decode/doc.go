// ABOUTME: Audio file decoder package backing virtual input endpoints
// ABOUTME: Provides Reader interface and implementations for MP3, FLAC, WAV, AIFF and Ogg Vorbis
// Package decode turns audio files into packed PCM.
//
// Supports: MP3 (16-bit stereo), FLAC (8 to 32-bit), WAV (8 to 32-bit),
// AIFF (16 to 32-bit) and Ogg Vorbis (float32).
//
// Every Reader reports the native format it produces and reads whole frames
// only, so its output can be handed to any pipeline stage unchanged.
//
// Example:
//
//	r, err := decode.Open("input.flac")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	buf := make([]byte, 512*r.Format().FrameSize())
//	n, err := r.Read(buf)
package decode

// ABOUTME: Graphic equalizer package
// ABOUTME: Realtime-safe biquad band cascade over packed PCM
// Package eq provides a realtime-safe graphic equalizer for packed PCM.
//
// An Equalizer runs a cascade of peaking biquad filters, one per band and
// channel, followed by an overall gain. Gains are published through an
// atomic snapshot so control code can change them while the audio thread
// keeps processing without locks or allocation.
//
// Example:
//
//	e, err := eq.NewWithFormat(audio.Format{Kind: audio.Float32, SampleRate: 48000, Channels: 2})
//	if err != nil {
//		return err
//	}
//	e.SetBandGain(0, 6) // +6 dB at 31 Hz
//	err = e.Process(in, len(in), out, len(out))
package eq

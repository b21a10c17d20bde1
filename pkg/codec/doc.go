// ABOUTME: Codec bridge package encoding captured PCM
// ABOUTME: Status codes, log callback and the audio encoding session
// Package codec bridges captured PCM into compressed or wire-format
// streams.
//
// An AudioSession accepts packed PCM of any supported sample kind, converts
// it to the 24-bit sample domain, resamples it to the codec's rate, gathers
// whole codec frames and hands each encoded packet to a callback with a
// presentation timestamp in TimeBase ticks. Failures carry numeric status
// codes as *audio.Error values whose text comes from Err2Str.
package codec

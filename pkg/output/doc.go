// ABOUTME: Output sink package
// ABOUTME: Renders producer packets to an output endpoint
// Package output renders queued PCM packets to an output endpoint.
//
// A Sink polls a Producer for packets on a feeder goroutine and queues them
// in a lock-free ring that the hardware's render callback drains. The queue
// never holds more than the synchronize time: a backlog that would exceed it
// is discarded whole so playback stays close to real time.
package output

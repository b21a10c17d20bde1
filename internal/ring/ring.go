// ABOUTME: Lock-free single-producer/single-consumer byte ring
// ABOUTME: Supports a producer-requested flush applied by the consumer
package ring

import "sync/atomic"

// Ring is a fixed-capacity SPSC byte queue. Exactly one goroutine may call the
// producer methods (Write, Discard) and exactly one the consumer method (Read)
// at a time. Neither side blocks or allocates.
type Ring struct {
	buf []byte

	// Monotonic byte counters. The slot of counter c is c % len(buf).
	write atomic.Uint64
	read  atomic.Uint64
	// flushTo is a read floor set by the producer. Bytes below it are dropped
	// the next time the consumer reads.
	flushTo atomic.Uint64
}

// New creates a ring holding up to capacity bytes
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Cap returns the physical capacity in bytes
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Buffered returns the bytes a consumer would still see, excluding any
// pending flush. Safe from either side.
func (r *Ring) Buffered() int {
	w := r.write.Load()
	rd := r.read.Load()
	if f := r.flushTo.Load(); f > rd {
		rd = f
	}
	if rd > w {
		return 0
	}
	return int(w - rd)
}

// Free returns the physical space available to the producer
func (r *Ring) Free() int {
	return len(r.buf) - int(r.write.Load()-r.read.Load())
}

// Write copies as much of p as fits and returns the count. Producer only.
func (r *Ring) Write(p []byte) int {
	w := r.write.Load()
	free := len(r.buf) - int(w-r.read.Load())
	n := len(p)
	if n > free {
		n = free
	}
	if n <= 0 {
		return 0
	}

	start := int(w % uint64(len(r.buf)))
	first := copy(r.buf[start:], p[:n])
	if first < n {
		copy(r.buf, p[first:n])
	}
	r.write.Store(w + uint64(n))
	return n
}

// Discard drops the whole backlog written so far and returns its size.
// Producer only; the consumer applies it before its next read.
func (r *Ring) Discard() int {
	dropped := r.Buffered()
	r.flushTo.Store(r.write.Load())
	return dropped
}

// Read copies up to len(p) bytes into p and returns the count. Consumer only.
func (r *Ring) Read(p []byte) int {
	rd := r.read.Load()
	if f := r.flushTo.Load(); f > rd {
		rd = f
		r.read.Store(rd)
	}

	avail := int(r.write.Load() - rd)
	n := len(p)
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0
	}

	start := int(rd % uint64(len(r.buf)))
	first := copy(p[:n], r.buf[start:])
	if first < n {
		copy(p[first:n], r.buf)
	}
	r.read.Store(rd + uint64(n))
	return n
}

// Reset empties the ring. Callers must ensure neither side is active.
func (r *Ring) Reset() {
	r.write.Store(0)
	r.read.Store(0)
	r.flushTo.Store(0)
}

// ABOUTME: Producer/consumer rate drift estimation
// ABOUTME: Smooths the ratio of produced to rendered bytes into a ppm figure
package drift

import (
	"sync"
	"time"
)

// Quality represents how trustworthy the current estimate is
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

// String returns a short label for the quality
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	}
	return "lost"
}

const (
	// samples older than this mark the estimate lost
	staleAfter = 5 * time.Second
	// residuals beyond this many ppm are treated as bursts, not drift
	outlierPPM = 50000
)

// Estimator tracks drift between a software producer and a hardware-clocked
// consumer. It is updated from control goroutines only.
type Estimator struct {
	mu            sync.Mutex
	ppm           float64 // smoothed (produced/consumed - 1) * 1e6
	quality       Quality
	lastUpdate    time.Time
	lastProduced  uint64
	lastConsumed  uint64
	sampleCount   int
	smoothingRate float64
}

// New creates an estimator with no samples
func New() *Estimator {
	return &Estimator{
		smoothingRate: 0.1, // 10% weight to new samples
		quality:       QualityLost,
	}
}

// Update feeds cumulative produced and consumed byte counts observed at now
func (e *Estimator) Update(now time.Time, produced, consumed uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sampleCount == 0 {
		e.lastUpdate = now
		e.lastProduced = produced
		e.lastConsumed = consumed
		e.sampleCount++
		return
	}

	dp := float64(produced - e.lastProduced)
	dc := float64(consumed - e.lastConsumed)
	if dc <= 0 || !now.After(e.lastUpdate) {
		// consumer idle; nothing to compare against
		return
	}

	measured := (dp/dc - 1) * 1e6
	e.lastUpdate = now
	e.lastProduced = produced
	e.lastConsumed = consumed

	if e.sampleCount == 1 {
		e.ppm = measured
		e.sampleCount++
		e.quality = QualityGood
		return
	}

	residual := measured - e.ppm
	if residual > outlierPPM || residual < -outlierPPM {
		e.quality = QualityDegraded
		return
	}

	e.ppm += e.smoothingRate * residual
	e.sampleCount++
	e.quality = QualityGood
}

// Stats returns the current estimate and its quality
func (e *Estimator) Stats() (ppm float64, quality Quality) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sampleCount > 0 && time.Since(e.lastUpdate) > staleAfter {
		e.quality = QualityLost
	}
	return e.ppm, e.quality
}

// Reset forgets all samples
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ppm = 0
	e.quality = QualityLost
	e.sampleCount = 0
	e.lastProduced = 0
	e.lastConsumed = 0
}

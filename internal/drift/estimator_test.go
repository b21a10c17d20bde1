// ABOUTME: Tests for drift estimation
// ABOUTME: Verifies initialization, smoothing, outlier rejection and reset
package drift

import (
	"testing"
	"time"
)

func TestNewEstimatorIsLost(t *testing.T) {
	e := New()
	ppm, q := e.Stats()
	if ppm != 0 || q != QualityLost {
		t.Errorf("expected 0ppm/lost, got %f/%v", ppm, q)
	}
}

func TestEstimatorConvergesOnRate(t *testing.T) {
	e := New()
	now := time.Now()

	var produced, consumed uint64
	e.Update(now, produced, consumed)

	// producer runs 1000ppm fast
	for i := 1; i <= 50; i++ {
		produced += 1001000
		consumed += 1000000
		e.Update(now.Add(time.Duration(i)*10*time.Millisecond), produced, consumed)
	}

	ppm, q := e.Stats()
	if q != QualityGood {
		t.Fatalf("expected good quality, got %v", q)
	}
	if ppm < 990 || ppm > 1010 {
		t.Errorf("expected ~1000ppm, got %f", ppm)
	}
}

func TestEstimatorRejectsBursts(t *testing.T) {
	e := New()
	now := time.Now()
	e.Update(now, 0, 0)
	e.Update(now.Add(10*time.Millisecond), 1000, 1000)

	// a 2x burst is not drift
	e.Update(now.Add(20*time.Millisecond), 3000, 2000)

	ppm, q := e.Stats()
	if q != QualityDegraded {
		t.Errorf("expected degraded after burst, got %v", q)
	}
	if ppm != 0 {
		t.Errorf("expected estimate to be unchanged, got %f", ppm)
	}
}

func TestEstimatorIgnoresIdleConsumer(t *testing.T) {
	e := New()
	now := time.Now()
	e.Update(now, 0, 0)
	e.Update(now.Add(time.Second), 500, 0)

	if _, q := e.Stats(); q != QualityLost {
		t.Errorf("expected lost with idle consumer, got %v", q)
	}
}

func TestEstimatorReset(t *testing.T) {
	e := New()
	now := time.Now()
	e.Update(now, 0, 0)
	e.Update(now.Add(time.Millisecond), 2000, 1000)
	e.Reset()

	ppm, q := e.Stats()
	if ppm != 0 || q != QualityLost {
		t.Errorf("expected reset estimate, got %f/%v", ppm, q)
	}
}

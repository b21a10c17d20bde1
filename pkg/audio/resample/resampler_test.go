// ABOUTME: Tests for audio resampler
// ABOUTME: Tests linear interpolation resampling between sample rates
package resample

import (
	"testing"
)

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func TestNew(t *testing.T) {
	r := New(44100, 48000, 2)

	if r.InputRate() != 44100 {
		t.Errorf("expected inputRate 44100, got %d", r.InputRate())
	}
	if r.OutputRate() != 48000 {
		t.Errorf("expected outputRate 48000, got %d", r.OutputRate())
	}
	if r.channels != 2 {
		t.Errorf("expected channels 2, got %d", r.channels)
	}
}

func TestResampleUpsampling(t *testing.T) {
	// 44100 -> 48000 (upsampling by factor of ~1.088)
	r := New(44100, 48000, 2)

	input := make([]int32, 200)
	for i := range input {
		input[i] = int32(i * 100) // Ramp signal
	}

	expectedSize := int(float64(len(input)) * float64(48000) / float64(44100))
	output := make([]int32, r.OutputSamplesNeeded(len(input))+2)

	n := r.Resample(input, output)

	if n == 0 {
		t.Fatal("resampler produced no output")
	}
	if n < expectedSize-10 || n > expectedSize+10 {
		t.Errorf("expected ~%d samples, got %d", expectedSize, n)
	}
}

func TestResampleDownsampling(t *testing.T) {
	// 48000 -> 44100 (downsampling by factor of ~0.91875)
	r := New(48000, 44100, 2)

	input := make([]int32, 200)
	for i := range input {
		input[i] = int32(i * 100)
	}

	expectedSize := int(float64(len(input)) * float64(44100) / float64(48000))
	output := make([]int32, r.OutputSamplesNeeded(len(input))+2)

	n := r.Resample(input, output)

	if n == 0 {
		t.Fatal("resampler produced no output")
	}
	if n < expectedSize-10 || n > expectedSize+10 {
		t.Errorf("expected ~%d samples, got %d", expectedSize, n)
	}
}

func TestResampleSameRate(t *testing.T) {
	r := New(48000, 48000, 2)

	input := make([]int32, 200)
	for i := range input {
		input[i] = int32(i * 100)
	}

	output := make([]int32, len(input)+10)
	n := r.Resample(input, output)

	if n < len(input)-5 || n > len(input)+5 {
		t.Errorf("expected ~%d samples, got %d", len(input), n)
	}
	for i := 0; i < n; i++ {
		if output[i] != input[i] {
			t.Errorf("sample %d: expected %d, got %d", i, input[i], output[i])
		}
	}
}

func TestResampleStereo(t *testing.T) {
	r := New(44100, 48000, 2)

	input := make([]int32, 20) // 10 stereo frames
	for i := 0; i < 10; i++ {
		input[i*2] = 1000
		input[i*2+1] = -1000
	}

	output := make([]int32, 30)
	n := r.Resample(input, output)

	if n == 0 {
		t.Fatal("resampler produced no output")
	}
	for i := 0; i < n/2; i++ {
		if output[i*2] != 1000 {
			t.Errorf("frame %d: left channel got %d", i, output[i*2])
		}
		if output[i*2+1] != -1000 {
			t.Errorf("frame %d: right channel got %d", i, output[i*2+1])
		}
	}
}

func TestResampleLargeRatioUp(t *testing.T) {
	// 44.1k -> 192k
	r := New(44100, 192000, 2)

	input := make([]int32, 200)
	for i := range input {
		input[i] = int32(i * 10)
	}

	output := make([]int32, r.OutputSamplesNeeded(len(input))+2)
	n := r.Resample(input, output)

	if n < len(input)*3 {
		t.Errorf("expected at least 3x upsampling, got %d from %d", n, len(input))
	}
}

func TestResampleChunksAreContinuous(t *testing.T) {
	// A ramp resampled in pieces must match the ramp resampled whole
	ramp := make([]int32, 1000)
	for i := range ramp {
		ramp[i] = int32(i * 64)
	}

	whole := New(44100, 48000, 1)
	wholeOut := make([]int32, whole.OutputSamplesNeeded(len(ramp))+1)
	wn := whole.Resample(ramp, wholeOut)

	chunked := New(44100, 48000, 1)
	var chunkOut []int32
	for start := 0; start < len(ramp); start += 37 {
		end := start + 37
		if end > len(ramp) {
			end = len(ramp)
		}
		buf := make([]int32, chunked.OutputSamplesNeeded(end-start)+2)
		n := chunked.Resample(ramp[start:end], buf)
		chunkOut = append(chunkOut, buf[:n]...)
	}

	if abs(len(chunkOut)-wn) > 1 {
		t.Fatalf("expected ~%d samples in chunks, got %d", wn, len(chunkOut))
	}
	for i := 0; i < wn && i < len(chunkOut); i++ {
		if abs(int(chunkOut[i])-int(wholeOut[i])) > 1 {
			t.Fatalf("sample %d: chunked %d, whole %d", i, chunkOut[i], wholeOut[i])
		}
	}
}

func TestReset(t *testing.T) {
	r := New(44100, 48000, 1)
	input := []int32{5, 5, 5, 5}
	out := make([]int32, 8)
	r.Resample(input, out)
	r.Reset()

	if r.position != 0 {
		t.Errorf("expected position 0 after reset, got %f", r.position)
	}
	for _, s := range r.lastSample {
		if s != 0 {
			t.Errorf("expected cleared history, got %d", s)
		}
	}
}

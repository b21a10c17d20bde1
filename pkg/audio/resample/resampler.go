// ABOUTME: Streaming linear resampler for converting audio sample rates
// ABOUTME: Carries the last input frame across calls so chunk boundaries interpolate
package resample

import "math"

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	// position of the next output frame, in input frames relative to the
	// start of the next chunk; -1 addresses lastSample
	position   float64
	lastSample []int32 // one sample per channel
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastSample: make([]int32, channels),
	}
}

// InputRate returns the source rate
func (r *Resampler) InputRate() int { return r.inputRate }

// OutputRate returns the target rate
func (r *Resampler) OutputRate() int { return r.outputRate }

// Resample converts interleaved input at inputRate into interleaved output at
// outputRate and returns the number of samples written. Consecutive calls
// form one continuous stream. Output that does not fit is lost, so size
// output with OutputSamplesNeeded plus one frame.
func (r *Resampler) Resample(input []int32, output []int32) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}
	outputFrames := len(output) / r.channels

	at := func(frame, ch int) float64 {
		if frame < 0 {
			return float64(r.lastSample[ch])
		}
		return float64(input[frame*r.channels+ch])
	}

	outIdx := 0
	for outIdx < outputFrames {
		base := math.Floor(r.position)
		idx := int(base)
		if idx+1 >= inputFrames {
			break
		}
		frac := r.position - base

		for ch := 0; ch < r.channels; ch++ {
			v := at(idx, ch)*(1.0-frac) + at(idx+1, ch)*frac
			output[outIdx*r.channels+ch] = int32(math.Round(v))
		}

		outIdx++
		r.position += r.ratio
	}

	// Rebase onto the next chunk, keeping this chunk's last frame
	copy(r.lastSample, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
	r.position -= float64(inputFrames)
	if r.position < -1 {
		r.position = -1
	}

	return outIdx * r.channels
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(math.Ceil(float64(inputFrames) / r.ratio))
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}

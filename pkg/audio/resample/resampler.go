// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Brings cached assets recorded at other rates onto the device rate
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
	}
}

// Resample converts input samples to output sample rate using linear interpolation
// input: interleaved samples at inputRate
// output: interleaved samples at outputRate
func (r *Resampler) Resample(input []float32, output []float32) int {
	inputFrames := len(input) / r.channels
	outputFrames := len(output) / r.channels
	if inputFrames == 0 {
		return 0
	}

	outIdx := 0
	for outIdx < outputFrames {
		inputIdx := int(r.position)
		if inputIdx >= inputFrames {
			break
		}

		frac := float32(r.position - float64(inputIdx))
		next := inputIdx + 1
		if next >= inputFrames {
			// Hold the final frame
			next = inputIdx
		}

		for ch := 0; ch < r.channels; ch++ {
			s1 := input[inputIdx*r.channels+ch]
			s2 := input[next*r.channels+ch]
			output[outIdx*r.channels+ch] = s1*(1-frac) + s2*frac
		}

		outIdx++
		r.position += r.ratio
	}

	// Carry the fractional position into the next buffer
	r.position -= float64(inputFrames)
	if r.position < 0 {
		r.position = 0
	}

	return outIdx * r.channels
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio + 0.5)
	return outputFrames * r.channels
}

// Convert resamples a complete buffer in one call
func Convert(input []float32, inputRate, outputRate, channels int) []float32 {
	if inputRate == outputRate || len(input) == 0 {
		return input
	}
	r := New(inputRate, outputRate, channels)
	output := make([]float32, r.OutputSamplesNeeded(len(input)))
	n := r.Resample(input, output)
	return output[:n]
}

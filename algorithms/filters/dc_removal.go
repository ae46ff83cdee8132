package filters

import (
	"math"
)

// DCRemoval implements a DC blocking filter (one-pole high-pass) that removes
// the 0 Hz component and slow offsets from a sample stream.
//
//	y[n] = x[n] - x[n-1] + R * y[n-1]
//
// The filter is stateful across calls; Reset it at stream boundaries.
type DCRemoval struct {
	poleLocation float64 // R parameter (0 < R < 1)

	x1 float64 // Previous input sample x[n-1]
	y1 float64 // Previous output sample y[n-1]
}

// NewDCRemoval creates a new DC removal filter with the standard pole of 0.995,
// roughly 35 Hz cutoff at 44.1 kHz.
func NewDCRemoval() *DCRemoval {
	return NewDCRemovalWithPole(0.995)
}

// NewDCRemovalWithPole creates a DC removal filter with explicit pole location.
// Values outside (0, 1) fall back to 0.995.
func NewDCRemovalWithPole(poleLocation float64) *DCRemoval {
	if !(poleLocation > 0 && poleLocation < 1) {
		poleLocation = 0.995
	}
	return &DCRemoval{poleLocation: poleLocation}
}

// Process applies DC removal to a single sample.
func (dc *DCRemoval) Process(input float64) float64 {
	output := input - dc.x1 + dc.poleLocation*dc.y1

	dc.x1 = input
	dc.y1 = output

	return output
}

// ProcessBuffer applies DC removal to an entire buffer of samples.
func (dc *DCRemoval) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	for i, sample := range input {
		output[i] = dc.Process(sample)
	}
	return output
}

// Reset clears the filter's internal state.
func (dc *DCRemoval) Reset() {
	dc.x1 = 0.0
	dc.y1 = 0.0
}

// GetPoleLocation returns the current pole location parameter.
func (dc *DCRemoval) GetPoleLocation() float64 {
	return dc.poleLocation
}

// GetCutoffFrequency calculates the approximate -3dB cutoff frequency.
// fc ≈ (1-R)*fs/(2*pi)
func (dc *DCRemoval) GetCutoffFrequency(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0.0
	}

	return (1.0 - dc.poleLocation) * float64(sampleRate) / (2.0 * math.Pi)
}

package spectral

import (
	"github.com/mjibson/go-dsp/fft"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
)

// FFT provides Fast Fourier Transform functionality
type FFT struct {
	// No state needed for now
}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes Fast Fourier Transform using mjibson/go-dsp
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	// mjibson/go-dsp handles all sizes efficiently, including non-power-of-2
	return fft.FFTReal(x)
}

// ComputeInverseReal computes inverse FFT and returns real part only
func (f *FFT) ComputeInverseReal(x []complex128) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	result := fft.IFFT(x)
	realResult := make([]float64, len(result))

	for i, val := range result {
		realResult[i] = real(val)
	}

	return realResult
}

// Autocorrelation returns the linear autocorrelation r[tau] = sum x[j]*x[j+tau]
// for tau in [0, len(x)).
//
// The signal is zero-padded to a power of two of at least twice its length
// so the circular correlation of the FFT equals the linear one.
func (f *FFT) Autocorrelation(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return []float64{}
	}

	padded := make([]float64, common.NextPowerOf2(2*n))
	copy(padded, x)

	spectrum := f.Compute(padded)

	// Power spectrum: X * conj(X)
	for i, bin := range spectrum {
		re, im := real(bin), imag(bin)
		spectrum[i] = complex(re*re+im*im, 0)
	}

	return f.ComputeInverseReal(spectrum)[:n]
}

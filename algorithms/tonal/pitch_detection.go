package tonal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/spectral"
	"github.com/RyanBlaney/sonido-tuner/algorithms/windowing"
)

// Window functions accepted by PitchEstimatorParams.WindowFunction
const (
	WindowNone = "none"
	WindowHann = "hann"
)

// Instrument range limits: C0 and C8
const (
	DefaultMinFreq = 16.35
	DefaultMaxFreq = 4186.01
)

// PitchEstimate is the fundamental frequency found in one analysis window.
// FrequencyHz is 0 when the window is silent, noisy or out of range.
type PitchEstimate struct {
	FrequencyHz float64       `json:"frequency_hz"`
	Confidence  float64       `json:"confidence"` // NSDF peak height (0-1)
	RMS         float64       `json:"rms"`
	Timestamp   time.Duration `json:"timestamp"` // Stream time at the end of the window
}

// Voiced reports whether a pitch was detected
func (e PitchEstimate) Voiced() bool {
	return e.FrequencyHz > 0
}

// PitchEstimatorParams contains parameters for pitch estimation
type PitchEstimatorParams struct {
	// Frequency range constraints
	MinFreq float64 `json:"min_freq" yaml:"min_freq"` // Minimum frequency (Hz)
	MaxFreq float64 `json:"max_freq" yaml:"max_freq"` // Maximum frequency (Hz)

	// Quality thresholds
	SilenceThreshold    float64 `json:"silence_threshold" yaml:"silence_threshold"`       // RMS noise gate
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"` // Minimum NSDF peak
	PeakThreshold       float64 `json:"peak_threshold" yaml:"peak_threshold"`             // Key maximum cut, relative to the highest

	// Preprocessing options
	WindowFunction string `json:"window_function" yaml:"window_function"` // "none" or "hann"
}

// DefaultPitchEstimatorParams returns parameters suited to a chromatic tuner
func DefaultPitchEstimatorParams() PitchEstimatorParams {
	return PitchEstimatorParams{
		MinFreq:             DefaultMinFreq,
		MaxFreq:             DefaultMaxFreq,
		SilenceThreshold:    0.005,
		ConfidenceThreshold: 0.1,
		PeakThreshold:       0.9,
		WindowFunction:      WindowNone,
	}
}

// Validate checks that the parameters are usable
func (p PitchEstimatorParams) Validate() error {
	if p.MinFreq <= 0 || p.MaxFreq <= p.MinFreq {
		return fmt.Errorf("invalid frequency range: [%v, %v]", p.MinFreq, p.MaxFreq)
	}
	if p.SilenceThreshold < 0 {
		return fmt.Errorf("silence threshold must not be negative: %v", p.SilenceThreshold)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0, 1]: %v", p.ConfidenceThreshold)
	}
	if p.PeakThreshold <= 0 || p.PeakThreshold > 1 {
		return fmt.Errorf("peak threshold must be in (0, 1]: %v", p.PeakThreshold)
	}
	switch p.WindowFunction {
	case "", WindowNone, WindowHann:
	default:
		return fmt.Errorf("unsupported window function: %q", p.WindowFunction)
	}
	return nil
}

// PitchEstimator finds the fundamental frequency of a window with the
// normalized square difference function (NSDF) computed from an FFT
// autocorrelation, picking the first strong key maximum.
//
// References:
// - McLeod, P., Wyvill, G. (2005). "A smarter way to find pitch"
// - Rabiner, L.R. (1977). "On the use of autocorrelation analysis for pitch detection"
//
// Estimate is a pure function of the window: the same samples always
// produce the same estimate.
type PitchEstimator struct {
	params PitchEstimatorParams
	fft    *spectral.FFT

	mu      sync.Mutex
	windows map[int]*windowing.Hann
}

// NewPitchEstimator creates a pitch estimator with default parameters
func NewPitchEstimator() *PitchEstimator {
	return NewPitchEstimatorWithParams(DefaultPitchEstimatorParams())
}

// NewPitchEstimatorWithParams creates a pitch estimator with custom parameters
func NewPitchEstimatorWithParams(params PitchEstimatorParams) *PitchEstimator {
	return &PitchEstimator{
		params:  params,
		fft:     spectral.NewFFT(),
		windows: make(map[int]*windowing.Hann),
	}
}

// GetParameters returns the estimator parameters
func (pe *PitchEstimator) GetParameters() PitchEstimatorParams {
	return pe.params
}

// Estimate returns the pitch of one window. It never fails: silence,
// noise and out-of-range pitches are reported as FrequencyHz 0.
func (pe *PitchEstimator) Estimate(window common.SampleWindow) PitchEstimate {
	estimate := PitchEstimate{Timestamp: window.Timestamp()}

	n := window.Len()
	if n < 4 || window.SampleRate <= 0 {
		return estimate
	}

	estimate.RMS = common.RMS(window.Samples)
	if estimate.RMS < pe.params.SilenceThreshold || estimate.RMS == 0 {
		return estimate
	}

	frame := pe.preprocessFrame(window.Samples)
	nsdf := pe.nsdf(frame, pe.maxLag(n, window.SampleRate))

	lag, value, ok := pe.pickPeak(nsdf)
	if !ok {
		return estimate
	}

	confidence := common.Clamp(value, 0, 1)
	if confidence < pe.params.ConfidenceThreshold || lag <= 0 {
		return estimate
	}

	frequency := float64(window.SampleRate) / lag
	if frequency < pe.params.MinFreq || frequency > pe.params.MaxFreq {
		return estimate
	}

	estimate.FrequencyHz = frequency
	estimate.Confidence = confidence
	return estimate
}

// preprocessFrame removes the DC offset and applies the analysis window
func (pe *PitchEstimator) preprocessFrame(samples []float64) []float64 {
	frame := common.RemoveMean(samples)

	if pe.params.WindowFunction == WindowHann {
		// Sizes always match: the window is built for len(frame).
		_ = pe.hann(len(frame)).ApplyInPlace(frame)
	}

	return frame
}

func (pe *PitchEstimator) hann(size int) *windowing.Hann {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	w, ok := pe.windows[size]
	if !ok {
		w = windowing.NewHann(size, true)
		pe.windows[size] = w
	}
	return w
}

// maxLag returns the number of NSDF lags searched for a window of n
// samples: at least n/2, extended to cover the period of MinFreq, but never
// past 3n/4 so every lag still overlaps a quarter of the window.
func (pe *PitchEstimator) maxLag(n, sampleRate int) int {
	limit := n / 2
	if pe.params.MinFreq > 0 {
		// One lag past the period so its peak is not the last point
		needed := int(math.Ceil(float64(sampleRate)/pe.params.MinFreq)) + 2
		limit = max(limit, needed)
	}
	return min(limit, n-n/4)
}

// LowestDetectable returns the lowest frequency a window of windowSize
// samples at sampleRate can resolve, never below MinFreq.
func (pe *PitchEstimator) LowestDetectable(windowSize, sampleRate int) float64 {
	if windowSize < 4 || sampleRate <= 0 {
		return 0
	}
	lag := pe.maxLag(windowSize, sampleRate) - 2
	if lag < 1 {
		return 0
	}
	return math.Max(pe.params.MinFreq, float64(sampleRate)/float64(lag))
}

// nsdf computes n(tau) = 2*r(tau) / m(tau) for tau < lags, where
// m(tau) = sum x[j]^2 + x[j+tau]^2 over the overlapping part.
func (pe *PitchEstimator) nsdf(frame []float64, lags int) []float64 {
	n := len(frame)

	acf := pe.fft.Autocorrelation(frame)
	out := make([]float64, lags)

	m := 2 * acf[0]
	for tau := range lags {
		if tau > 0 {
			head := frame[tau-1]
			tail := frame[n-tau]
			m -= head*head + tail*tail
		}
		if m > 0 {
			out[tau] = 2 * acf[tau] / m
		}
	}

	return out
}

// pickPeak finds the key maxima of the NSDF (the highest point of every
// positive region after the zero-lag lobe) and returns the interpolated
// lag and height of the first one above PeakThreshold times the highest.
func (pe *PitchEstimator) pickPeak(nsdf []float64) (float64, float64, bool) {
	var keyMaxima []int

	tau := 1
	// Skip the zero-lag lobe
	for tau < len(nsdf) && nsdf[tau] > 0 {
		tau++
	}

	best := -1
	for tau < len(nsdf) {
		// Wait for a positive-going zero crossing
		for tau < len(nsdf) && nsdf[tau] <= 0 {
			tau++
		}
		if tau >= len(nsdf) {
			break
		}

		peak := -1
		for tau < len(nsdf) && nsdf[tau] > 0 {
			if peak < 0 || nsdf[tau] > nsdf[peak] {
				peak = tau
			}
			tau++
		}

		// A region cut off by the end of the NSDF has no proven maximum.
		if tau >= len(nsdf) && peak == len(nsdf)-1 {
			break
		}

		keyMaxima = append(keyMaxima, peak)
		if best < 0 || nsdf[peak] > nsdf[best] {
			best = peak
		}
	}

	if len(keyMaxima) == 0 {
		return 0, 0, false
	}

	cutoff := pe.params.PeakThreshold * nsdf[best]
	for _, peak := range keyMaxima {
		if nsdf[peak] >= cutoff {
			shift, value := common.ParabolicPeak(nsdf, peak)
			return float64(peak) + shift, value, true
		}
	}

	return 0, 0, false
}

package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistical functions used across algorithms using gonum for robustness

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// Energy returns the sum of squared samples
func Energy(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Dot(data, data)
}

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return math.Sqrt(Energy(data) / float64(len(data)))
}

// RemoveMean returns a copy of data with its mean subtracted
func RemoveMean(data []float64) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}
	copy(out, data)
	floats.AddConst(-Mean(data), out)
	return out
}

// Clamp limits value to [lo, hi]
func Clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

// NextPowerOf2 returns the smallest power of two >= n
func NextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// ParabolicPeak refines a local extremum at index i using the
// neighbouring samples. It returns the fractional offset in [-0.5, 0.5]
// and the interpolated value.
func ParabolicPeak(data []float64, i int) (float64, float64) {
	if i <= 0 || i >= len(data)-1 {
		return 0, data[i]
	}

	y1 := data[i-1]
	y2 := data[i]
	y3 := data[i+1]

	a := (y1 - 2*y2 + y3) / 2
	b := (y3 - y1) / 2
	if a == 0 {
		return 0, y2
	}

	shift := Clamp(-b/(2*a), -0.5, 0.5)
	return shift, y2 + b*shift + a*shift*shift
}

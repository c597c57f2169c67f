package analysis

import (
	"errors"
	"math"
	"math/cmplx"
)

var ErrTooShort = errors.New("analysis: series too short")

// FFT is a radix-2 transform. len(data) must be a power of two.
func FFT(data []float64) []complex128 {
	n := len(data)
	if n <= 1 {
		result := make([]complex128, n)
		for i := range data {
			result[i] = complex(data[i], 0)
		}
		return result
	}

	even := make([]float64, n/2)
	odd := make([]float64, n/2)
	for i := 0; i < n/2; i++ {
		even[i] = data[2*i]
		odd[i] = data[2*i+1]
	}

	feven := FFT(even)
	fodd := FFT(odd)

	result := make([]complex128, n)
	for k := 0; k < n/2; k++ {
		w := cmplx.Exp(complex(0, -2*math.Pi*float64(k)/float64(n)))
		result[k] = feven[k] + w*fodd[k]
		result[k+n/2] = feven[k] - w*fodd[k]
	}
	return result
}

// PowerSpectrum returns |X_k| for k < n/2.
func PowerSpectrum(data []float64) []float64 {
	fft := FFT(data)
	ps := make([]float64, len(fft)/2)
	for i := range ps {
		ps[i] = cmplx.Abs(fft[i])
	}
	return ps
}

// Spectrum removes the mean of values, zero pads them to a power of two
// and returns the magnitude of each frequency bin with the bin width.
// Samples must be evenly spaced by dt.
func Spectrum(values []float64, dt float64) ([]float64, float64, error) {
	if len(values) < 4 || dt <= 0 {
		return nil, 0, ErrTooShort
	}
	n := 1
	for n < len(values) {
		n <<= 1
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	padded := make([]float64, n)
	for i, v := range values {
		padded[i] = v - mean
	}
	return PowerSpectrum(padded), 1 / (float64(n) * dt), nil
}

// DominantFrequency returns the frequency of the strongest non-constant
// component of values sampled at times, or 0 for a flat series.
func DominantFrequency(times, values []float64) (float64, error) {
	if len(times) != len(values) || len(times) < 4 {
		return 0, ErrTooShort
	}
	dt := (times[len(times)-1] - times[0]) / float64(len(times)-1)
	ps, df, err := Spectrum(values, dt)
	if err != nil {
		return 0, err
	}

	best, peak := 0, 0.0
	for k := 1; k < len(ps); k++ {
		if ps[k] > peak {
			best, peak = k, ps[k]
		}
	}
	if peak < 1e-12 {
		return 0, nil
	}
	return float64(best) * df, nil
}

// SPDX-License-Identifier: MIT

package feature

import (
	"math"
)

// Scalar feature kernels. All statistics use population moments (divide by
// n), matching the feature contract; the tiny epsilon guards keep the Hjorth
// ratios and relative powers finite on degenerate signals.

const eps = 1e-10

// popMoments returns the mean, population variance, skewness and excess
// kurtosis of x.
func popMoments(x []float64) (mean, variance, skewness, kurtosis float64) {
	n := float64(len(x))
	if n == 0 {
		return 0, 0, 0, 0
	}
	for _, v := range x {
		mean += v
	}
	mean /= n

	var m2, m3, m4 float64
	for _, v := range x {
		d := v - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= n
	m3 /= n
	m4 /= n
	variance = m2
	if m2 > 0 {
		s := math.Sqrt(m2)
		skewness = m3 / (s * s * s)
		kurtosis = m4/(m2*m2) - 3
	}
	return mean, variance, skewness, kurtosis
}

func popVariance(x []float64) float64 {
	_, v, _, _ := popMoments(x)
	return v
}

// TimeFeatures holds the time-domain statistics of one epoch channel.
type TimeFeatures struct {
	Mean          float64
	Std           float64
	Skewness      float64
	Kurtosis      float64
	RMS           float64
	PeakToPeak    float64
	ZeroCrossings float64
}

// ComputeTimeFeatures extracts the time-domain statistics of x.
func ComputeTimeFeatures(x []float64) TimeFeatures {
	mean, variance, skewness, kurtosis := popMoments(x)

	var sumSq float64
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range x {
		sumSq += v * v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	rms := 0.0
	ptp := 0.0
	if len(x) > 0 {
		rms = math.Sqrt(sumSq / float64(len(x)))
		ptp = maxV - minV
	}

	// Zero crossings count sign changes, treating exact zeros as their own
	// sign state.
	crossings := 0
	for i := 1; i < len(x); i++ {
		if signOf(x[i]) != signOf(x[i-1]) {
			crossings++
		}
	}

	return TimeFeatures{
		Mean:          mean,
		Std:           math.Sqrt(variance),
		Skewness:      skewness,
		Kurtosis:      kurtosis,
		RMS:           rms,
		PeakToPeak:    ptp,
		ZeroCrossings: float64(crossings),
	}
}

func signOf(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Hjorth holds the three Hjorth parameters.
type Hjorth struct {
	Activity   float64
	Mobility   float64
	Complexity float64
}

// ComputeHjorth extracts the Hjorth activity, mobility and complexity of x.
func ComputeHjorth(x []float64) Hjorth {
	d1 := diff(x)
	d2 := diff(d1)

	activity := popVariance(x)
	mobility := math.Sqrt(popVariance(d1) / (activity + eps))
	mobilityD1 := math.Sqrt(popVariance(d2) / (popVariance(d1) + eps))
	return Hjorth{
		Activity:   activity,
		Mobility:   mobility,
		Complexity: mobilityD1 / (mobility + eps),
	}
}

func diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for i := range out {
		out[i] = x[i+1] - x[i]
	}
	return out
}

// SampleEntropy computes the sample entropy of x with embedding dimension m
// and tolerance r (Chebyshev distance, strict inequality). Degenerate cases
// where either template count is zero yield 0.
func SampleEntropy(x []float64, m int, r float64) float64 {
	n := len(x)
	if n < m+2 {
		return 0
	}
	b := countTemplateMatches(x, m, r)
	a := countTemplateMatches(x, m+1, r)
	if a == 0 || b == 0 {
		return 0
	}
	return -math.Log(float64(a) / float64(b))
}

func countTemplateMatches(x []float64, length int, r float64) int {
	n := len(x) - length
	count := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			match := true
			for k := 0; k < length; k++ {
				if math.Abs(x[i+k]-x[j+k]) >= r {
					match = false
					break
				}
			}
			if match {
				count += 2 // ordered pairs
			}
		}
	}
	return count
}

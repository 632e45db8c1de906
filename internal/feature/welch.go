// SPDX-License-Identifier: MIT

// Package feature computes the per-epoch feature set from cleaned recordings:
// Welch band powers, relative powers, time-domain statistics, Hjorth
// parameters, sample entropy and band-averaged coherence.
package feature

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Welch spectral estimation with a periodic Hann window, 50% overlap,
// per-segment mean removal and one-sided density scaling.

func hannPeriodic(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

type welchPlan struct {
	nperseg  int
	step     int
	window   []float64
	winSumSq float64
	fft      *fourier.FFT
}

func newWelchPlan(n, nperseg int) welchPlan {
	if nperseg > n {
		nperseg = n
	}
	if nperseg < 2 {
		nperseg = 2
	}
	w := hannPeriodic(nperseg)
	var sumSq float64
	for _, v := range w {
		sumSq += v * v
	}
	return welchPlan{
		nperseg:  nperseg,
		step:     nperseg - nperseg/2,
		window:   w,
		winSumSq: sumSq,
		fft:      fourier.NewFFT(nperseg),
	}
}

func (p welchPlan) freqs(sfreq float64) []float64 {
	nf := p.nperseg/2 + 1
	out := make([]float64, nf)
	for k := range out {
		out[k] = float64(k) * sfreq / float64(p.nperseg)
	}
	return out
}

// segments returns the windowed, mean-removed FFT of each segment of x.
func (p welchPlan) segments(x []float64) [][]complex128 {
	var out [][]complex128
	buf := make([]float64, p.nperseg)
	for start := 0; start+p.nperseg <= len(x); start += p.step {
		seg := x[start : start+p.nperseg]
		var mean float64
		for _, v := range seg {
			mean += v
		}
		mean /= float64(p.nperseg)
		for i, v := range seg {
			buf[i] = (v - mean) * p.window[i]
		}
		out = append(out, p.fft.Coefficients(nil, buf))
	}
	return out
}

// WelchPSD estimates the one-sided power spectral density of x. The returned
// frequency axis spans [0, sfreq/2].
func WelchPSD(x []float64, sfreq float64, nperseg int) (freqs, psd []float64) {
	p := newWelchPlan(len(x), nperseg)
	freqs = p.freqs(sfreq)
	psd = make([]float64, len(freqs))

	segs := p.segments(x)
	if len(segs) == 0 {
		return freqs, psd
	}
	norm := 1 / (sfreq * p.winSumSq)
	for _, coeffs := range segs {
		for k := range psd {
			c := coeffs[k]
			psd[k] += (real(c)*real(c) + imag(c)*imag(c)) * norm
		}
	}
	for k := range psd {
		psd[k] /= float64(len(segs))
		if k != 0 && !(p.nperseg%2 == 0 && k == len(psd)-1) {
			psd[k] *= 2
		}
	}
	return freqs, psd
}

// Coherence estimates the magnitude-squared coherence between x and y on the
// same Welch grid.
func Coherence(x, y []float64, sfreq float64, nperseg int) (freqs, coh []float64) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	p := newWelchPlan(n, nperseg)
	freqs = p.freqs(sfreq)
	coh = make([]float64, len(freqs))

	segsX := p.segments(x[:n])
	segsY := p.segments(y[:n])
	if len(segsX) == 0 || len(segsX) != len(segsY) {
		return freqs, coh
	}

	pxx := make([]float64, len(freqs))
	pyy := make([]float64, len(freqs))
	pxy := make([]complex128, len(freqs))
	for s := range segsX {
		for k := range freqs {
			cx, cy := segsX[s][k], segsY[s][k]
			pxx[k] += real(cx)*real(cx) + imag(cx)*imag(cx)
			pyy[k] += real(cy)*real(cy) + imag(cy)*imag(cy)
			pxy[k] += cmplx.Conj(cx) * cy
		}
	}
	for k := range coh {
		den := pxx[k] * pyy[k]
		if den > 0 {
			m := cmplx.Abs(pxy[k])
			coh[k] = m * m / den
		}
	}
	return freqs, coh
}

// BandPower integrates a PSD over [low, high] Hz with the trapezoidal rule.
// Returns 0 when the band contains no bins.
func BandPower(freqs, psd []float64, low, high float64) float64 {
	lo, hi, ok := bandIndices(freqs, low, high)
	if !ok {
		return 0
	}
	return trapezoid(freqs, psd, lo, hi)
}

// trapezoid integrates y over x on the inclusive index range [lo, hi].
func trapezoid(x, y []float64, lo, hi int) float64 {
	var area float64
	for i := lo; i < hi; i++ {
		area += 0.5 * (y[i] + y[i+1]) * (x[i+1] - x[i])
	}
	return area
}

// bandIndices returns the inclusive index range of freqs within [low, high],
// or ok=false when the band contains no bins.
func bandIndices(freqs []float64, low, high float64) (lo, hi int, ok bool) {
	lo = -1
	for i, f := range freqs {
		if f >= low && f <= high {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	return lo, hi, lo >= 0
}

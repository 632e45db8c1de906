// SPDX-License-Identifier: MIT

// Package dsp implements the preprocessing kernels: resampling, notch and
// band-pass filtering, bad-channel detection and interpolation, ICA-based
// ocular/cardiac artifact removal and muscle-segment annotation.
package dsp

import (
	"fmt"
	"math"

	"github.com/neurolab/neurolab/internal/errdefs"
)

// FIR filters are windowed-sinc designs with a Hamming window, applied
// zero-phase: the kernel is symmetric and the signal is reflect-padded so the
// filtered output keeps the input's length and alignment.

func hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// oddTaps returns the Hamming-window tap count for a transition bandwidth in
// Hz, forced odd so the kernel has a symmetric center.
func oddTaps(transitionHz, sfreq float64) int {
	n := int(math.Ceil(3.3 * sfreq / transitionHz))
	if n%2 == 0 {
		n++
	}
	if n < 3 {
		n = 3
	}
	return n
}

// lowpassKernel designs a unity-gain low-pass with cutoff in Hz.
func lowpassKernel(cutoff, sfreq float64, taps int) []float64 {
	h := make([]float64, taps)
	w := hamming(taps)
	f := 2 * cutoff / sfreq // normalized to fs/2=1
	mid := float64(taps-1) / 2
	var sum float64
	for i := range h {
		m := float64(i) - mid
		h[i] = f * sinc(f*m) * w[i]
		sum += h[i]
	}
	// Normalize DC gain to 1.
	for i := range h {
		h[i] /= sum
	}
	return h
}

// highpassKernel is the spectral inversion of a low-pass at the same cutoff.
func highpassKernel(cutoff, sfreq float64, taps int) []float64 {
	h := lowpassKernel(cutoff, sfreq, taps)
	for i := range h {
		h[i] = -h[i]
	}
	h[(taps-1)/2] += 1
	return h
}

// bandpassKernel composes high-pass and low-pass cutoffs in Hz.
func bandpassKernel(low, high, sfreq float64, taps int) []float64 {
	lp := lowpassKernel(high, sfreq, taps)
	hp := highpassKernel(low, sfreq, taps)
	// band-pass = all-pass - (low-stop + high-stop)
	h := make([]float64, taps)
	for i := range h {
		h[i] = lp[i] + hp[i]
	}
	h[(taps-1)/2] -= 1
	return h
}

// bandstopKernel rejects [low, high] Hz.
func bandstopKernel(low, high, sfreq float64, taps int) []float64 {
	lp := lowpassKernel(low, sfreq, taps)
	hp := highpassKernel(high, sfreq, taps)
	h := make([]float64, taps)
	for i := range h {
		h[i] = lp[i] + hp[i]
	}
	return h
}

// reflectPad mirrors n samples of x on each side (without repeating the edge
// sample).
func reflectPad(x []float64, n int) []float64 {
	if len(x) < 2 {
		return append([]float64(nil), x...)
	}
	out := make([]float64, 0, len(x)+2*n)
	for i := n; i >= 1; i-- {
		out = append(out, x[mirrorIndex(i, len(x))])
	}
	out = append(out, x...)
	for i := 1; i <= n; i++ {
		out = append(out, x[mirrorIndex(len(x)-1-i, len(x))])
	}
	return out
}

func mirrorIndex(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// filterZeroPhase convolves x with the symmetric kernel h after reflect
// padding; the output has the same length and no group delay.
func filterZeroPhase(x, h []float64) []float64 {
	half := (len(h) - 1) / 2
	padded := reflectPad(x, half)
	out := make([]float64, len(x))
	for i := range out {
		var acc float64
		for j, hv := range h {
			acc += hv * padded[i+j]
		}
		out[i] = acc
	}
	return out
}

func applyKernel(data [][]float64, h []float64) {
	for ch := range data {
		data[ch] = filterZeroPhase(data[ch], h)
	}
}

// BandpassFilter applies a zero-phase FIR band-pass in place.
func BandpassFilter(data [][]float64, low, high, sfreq float64) error {
	nyq := sfreq / 2
	if low <= 0 || high <= low || high >= nyq {
		return &errdefs.DSPError{
			Stage: "band-pass",
			Err:   fmt.Errorf("cutoffs [%g, %g] invalid for sample rate %g", low, high, sfreq),
		}
	}
	trans := math.Min(math.Max(low*0.25, 2), low)
	transHigh := math.Min(math.Max(high*0.25, 2), nyq-high)
	if transHigh < trans {
		trans = transHigh
	}
	taps := oddTaps(trans, sfreq)
	applyKernel(data, bandpassKernel(low, high, sfreq, taps))
	return nil
}

// NotchFilter rejects each line frequency (and is a no-op for frequencies at
// or above Nyquist).
func NotchFilter(data [][]float64, freqs []float64, sfreq float64) error {
	nyq := sfreq / 2
	for _, f0 := range freqs {
		if f0 <= 0 {
			return &errdefs.DSPError{Stage: "notch", Err: fmt.Errorf("invalid notch frequency %g", f0)}
		}
		if f0 >= nyq-1 {
			continue
		}
		taps := oddTaps(1.0, sfreq)
		applyKernel(data, bandstopKernel(f0-0.5, f0+0.5, sfreq, taps))
	}
	return nil
}

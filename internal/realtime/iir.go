// SPDX-License-Identifier: MIT

// Package realtime processes live signal chunks: ring-buffer accumulation,
// low-latency IIR filtering, lightweight features and model inference over
// the most recent window.
package realtime

import (
	"fmt"
	"math"
	"math/cmplx"
)

// The streaming path uses IIR filters instead of the offline FIR kernels:
// a biquad notch (Q=30) per line frequency and a 4th-order Butterworth
// band-pass, both applied forward-backward for zero phase.

// biquad is one second-order section, coefficients normalized to a0=1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// apply runs the section over x with direct form II transposed state.
func (q biquad) apply(x []float64) []float64 {
	out := make([]float64, len(x))
	var z1, z2 float64
	for i, v := range x {
		y := q.b0*v + z1
		z1 = q.b1*v - q.a1*y + z2
		z2 = q.b2*v - q.a2*y
		out[i] = y
	}
	return out
}

// notchBiquad designs a narrow-band reject section at f0 Hz with the given
// quality factor.
func notchBiquad(f0, q, fs float64) biquad {
	w0 := 2 * math.Pi * f0 / fs
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: 1 / a0,
		b1: -2 * cosw / a0,
		b2: 1 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// butterBandpass designs an order-n Butterworth band-pass as cascaded
// second-order sections via the analog prototype, band transform and
// bilinear transform. n must be even.
func butterBandpass(low, high, fs float64, n int) ([]biquad, error) {
	if low <= 0 || high <= low || high >= fs/2 {
		return nil, fmt.Errorf("realtime: invalid band [%g, %g] at fs %g", low, high, fs)
	}
	if n%2 != 0 {
		return nil, fmt.Errorf("realtime: band-pass order must be even, got %d", n)
	}

	// Prewarped analog edges.
	warped := func(f float64) float64 { return 2 * fs * math.Tan(math.Pi*f/fs) }
	w1, w2 := warped(low), warped(high)
	bw := w2 - w1
	w0 := math.Sqrt(w1 * w2)

	// Low-pass prototype poles in the upper-left quadrant; their conjugates
	// are implicit in the second-order sections.
	var proto []complex128
	for k := 1; k <= n/2; k++ {
		theta := math.Pi * float64(2*k+n-1) / float64(2*n)
		proto = append(proto, cmplx.Exp(complex(0, theta)))
	}

	// Band transform doubles the order: each prototype pole p maps to the
	// two roots of s^2 - bw*p*s + w0^2. Each root, together with its
	// conjugate (coming from conj(p)), forms one section.
	var reps []complex128
	for _, p := range proto {
		half := complex(bw/2, 0) * p
		disc := cmplx.Sqrt(half*half - complex(w0*w0, 0))
		reps = append(reps, half+disc, half-disc)
	}

	// Bilinear transform. Analog zeros are n at the origin and n at
	// infinity, mapping to z=1 and z=-1. The gain accumulates the conjugate
	// pole factors as squared magnitudes.
	fs2 := complex(2*fs, 0)
	gain := math.Pow(bw, float64(n)) * math.Pow(2*fs, float64(n))
	zReps := make([]complex128, len(reps))
	for i, s := range reps {
		zReps[i] = (fs2 + s) / (fs2 - s)
		m := cmplx.Abs(fs2 - s)
		gain /= m * m
	}

	sections := make([]biquad, n)
	// Spread the gain across sections to keep intermediate magnitudes sane.
	gs := math.Pow(gain, 1/float64(n))
	for i, p := range zReps {
		// One z=1 and one z=-1 zero per section: (z-1)(z+1) = z^2 - 1.
		sections[i] = biquad{
			b0: gs, b1: 0, b2: -gs,
			a1: -2 * real(p),
			a2: real(p)*real(p) + imag(p)*imag(p),
		}
	}
	return sections, nil
}

// filtfilt applies the sections forward and backward with odd-reflection
// edge padding, removing phase distortion.
func filtfilt(sections []biquad, x []float64) []float64 {
	if len(x) < 2 {
		return append([]float64(nil), x...)
	}
	pad := 3 * 3 * len(sections)
	if pad >= len(x) {
		pad = len(x) - 1
	}

	ext := make([]float64, pad+len(x)+pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+len(x)+i] = 2*x[len(x)-1] - x[len(x)-2-i]
	}
	copy(ext[pad:], x)

	run := func(sig []float64) []float64 {
		for _, sec := range sections {
			sig = sec.apply(sig)
		}
		return sig
	}
	reverse := func(sig []float64) {
		for i, j := 0, len(sig)-1; i < j; i, j = i+1, j-1 {
			sig[i], sig[j] = sig[j], sig[i]
		}
	}

	y := run(ext)
	reverse(y)
	y = run(y)
	reverse(y)
	return y[pad : pad+len(x)]
}

// filterChunk applies notch filters and the band-pass to every channel.
func filterChunk(data [][]float64, sfreq float64, notchFreqs []float64, low, high float64) ([][]float64, error) {
	var notches []biquad
	for _, f0 := range notchFreqs {
		if f0 >= sfreq/2 {
			continue
		}
		notches = append(notches, notchBiquad(f0, notchQ, sfreq))
	}
	bp, err := butterBandpass(low, high, sfreq, bandpassOrder)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(data))
	for ch, x := range data {
		y := x
		for _, sec := range notches {
			y = filtfilt([]biquad{sec}, y)
		}
		out[ch] = filtfilt(bp, y)
	}
	return out, nil
}

const (
	notchQ        = 30.0
	bandpassOrder = 4
)

// SPDX-License-Identifier: MIT

package dsp

import (
	"fmt"
	"math"

	"github.com/neurolab/neurolab/internal/errdefs"
)

// Polyphase resampling: the rate change is expressed as a rational factor
// up/down, the signal is upsampled, filtered with an anti-aliasing low-pass
// and decimated in one pass.

// rationalApprox finds p/q ~= ratio with q bounded, via continued fractions.
func rationalApprox(ratio float64, maxDen int) (int, int) {
	if ratio <= 0 {
		return 1, 1
	}
	bestP, bestQ := 1, 1
	bestErr := math.Abs(ratio - 1)
	h0, h1 := 1, int(math.Floor(ratio))
	k0, k1 := 0, 1
	x := ratio
	for i := 0; i < 64; i++ {
		if k1 > maxDen {
			break
		}
		if err := math.Abs(ratio - float64(h1)/float64(k1)); h1 > 0 && err < bestErr {
			bestP, bestQ, bestErr = h1, k1, err
		}
		frac := x - math.Floor(x)
		if frac < 1e-12 {
			break
		}
		x = 1 / frac
		a := int(math.Floor(x))
		h0, h1 = h1, a*h1+h0
		k0, k1 = k1, a*k1+k0
	}
	if bestP == 0 {
		bestP = 1
	}
	return bestP, bestQ
}

// upfirdn upsamples x by up, convolves with h and downsamples by down.
func upfirdn(x, h []float64, up, down int) []float64 {
	nOut := (len(x)*up + down - 1) / down
	out := make([]float64, nOut)
	for i := range out {
		// Output sample i corresponds to upsampled index i*down.
		t := i * down
		for j, hv := range h {
			k := t - j
			if k < 0 {
				break
			}
			if k%up != 0 {
				continue
			}
			xi := k / up
			if xi < len(x) {
				out[i] += hv * x[xi]
			}
		}
	}
	return out
}

// Resample converts each channel from origRate to targetRate and returns the
// new per-channel data. A matching rate returns the input untouched.
func Resample(data [][]float64, origRate, targetRate float64) ([][]float64, error) {
	if origRate <= 0 || targetRate <= 0 {
		return nil, &errdefs.DSPError{
			Stage: "resample",
			Err:   fmt.Errorf("invalid rates %g -> %g", origRate, targetRate),
		}
	}
	if origRate == targetRate {
		return data, nil
	}
	up, down := rationalApprox(targetRate/origRate, 1000)
	if up == down {
		return data, nil
	}

	maxFactor := up
	if down > maxFactor {
		maxFactor = down
	}
	// Anti-aliasing cutoff at the smaller of the two Nyquist rates, with a
	// half-length of 10 periods of the widest polyphase branch.
	half := 10 * maxFactor
	taps := 2*half + 1
	h := make([]float64, taps)
	w := hamming(taps)
	fc := 1.0 / float64(maxFactor)
	var sum float64
	for i := range h {
		m := float64(i - half)
		h[i] = fc * sinc(fc*m) * w[i]
		sum += h[i]
	}
	for i := range h {
		h[i] *= float64(up) / sum
	}

	out := make([][]float64, len(data))
	want := int(math.Round(float64(len(data[0])) * float64(up) / float64(down)))
	for ch := range data {
		// Compensate the kernel's group delay so output stays aligned.
		padded := reflectPad(data[ch], half/up+1)
		y := upfirdn(padded, h, up, down)
		offset := ((half/up+1)*up + half) / down
		if offset+want > len(y) {
			want = len(y) - offset
		}
		out[ch] = append([]float64(nil), y[offset:offset+want]...)
	}
	return out, nil
}

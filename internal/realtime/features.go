// SPDX-License-Identifier: MIT

package realtime

import (
	"math"

	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/feature"
)

// LightFeatures computes the low-latency feature map over a filtered window:
// absolute and relative band powers of the channel-averaged PSD, whole-window
// RMS and population standard deviation. Band keys are the plain band names,
// relative powers are rel_{name}, plus total_power.
func LightFeatures(data [][]float64, sfreq float64, bands []config.Band) map[string]float64 {
	out := make(map[string]float64, 2*len(bands)+3)
	if len(data) == 0 || len(data[0]) == 0 {
		return out
	}
	n := len(data[0])

	nperseg := int(sfreq)
	if nperseg > n {
		nperseg = n
	}

	// Average the PSD across channels on a shared frequency grid.
	var freqs, avgPSD []float64
	for _, x := range data {
		f, psd := feature.WelchPSD(x, sfreq, nperseg)
		if avgPSD == nil {
			freqs = f
			avgPSD = make([]float64, len(psd))
		}
		for k, v := range psd {
			avgPSD[k] += v
		}
	}
	for k := range avgPSD {
		avgPSD[k] /= float64(len(data))
	}

	var total float64
	for _, b := range bands {
		p := feature.BandPower(freqs, avgPSD, b.Low, b.High)
		out[b.Name] = p
		total += p
	}
	out["total_power"] = total
	den := total
	if den == 0 {
		den = 1
	}
	for _, b := range bands {
		out["rel_"+b.Name] = out[b.Name] / den
	}

	var sum, sumSq float64
	count := 0
	for _, x := range data {
		for _, v := range x {
			sum += v
			sumSq += v * v
			count++
		}
	}
	mean := sum / float64(count)
	out["rms"] = math.Sqrt(sumSq / float64(count))
	out["std"] = math.Sqrt(sumSq/float64(count) - mean*mean)
	return out
}

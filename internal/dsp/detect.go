// SPDX-License-Identifier: MIT

package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/sigio"
)

// BadChannelCriteria holds the per-criterion hits from detection.
type BadChannelCriteria struct {
	Flat         []string
	HighKurtosis []string
	HighVariance []string
}

// excessKurtosis returns the Fisher kurtosis of x (0 for a Gaussian).
func excessKurtosis(x []float64) float64 {
	mean, std := stat.MeanStdDev(x, nil)
	if std == 0 {
		return 0
	}
	var m4 float64
	for _, v := range x {
		d := (v - mean) / std
		m4 += d * d * d * d
	}
	return m4/float64(len(x)) - 3
}

// DetectBadChannels flags EEG channels that are flat, heavy-tailed or
// variance outliers, and returns the union in channel order along with the
// per-criterion breakdown.
func DetectBadChannels(b *sigio.Buffer, cfg ArtifactConfig) ([]string, BadChannelCriteria) {
	eeg := b.EEGIndices()
	var crit BadChannelCriteria
	bad := make(map[string]bool)

	variances := make([]float64, len(eeg))
	for k, i := range eeg {
		_, std := stat.MeanStdDev(b.Data[i], nil)
		variances[k] = std * std
		name := b.ChannelNames[i]
		if std < cfg.FlatThreshold {
			crit.Flat = append(crit.Flat, name)
			bad[name] = true
		}
		if excessKurtosis(b.Data[i]) > cfg.KurtosisThreshold {
			crit.HighKurtosis = append(crit.HighKurtosis, name)
			bad[name] = true
		}
	}

	vMean, vStd := stat.MeanStdDev(variances, nil)
	if vStd > 0 {
		for k, i := range eeg {
			if math.Abs((variances[k]-vMean)/vStd) > cfg.HighVarianceZScore {
				name := b.ChannelNames[i]
				crit.HighVariance = append(crit.HighVariance, name)
				bad[name] = true
			}
		}
	}

	var out []string
	for _, i := range eeg {
		if bad[b.ChannelNames[i]] {
			out = append(out, b.ChannelNames[i])
		}
	}
	return out, crit
}

// ArtifactConfig mirrors the artifact-detection thresholds.
type ArtifactConfig struct {
	FlatThreshold      float64
	HighVarianceZScore float64
	KurtosisThreshold  float64
	MuscleRMSThreshold float64
	MaxBadChannelsPct  float64
}

// InterpolateBadChannels rewrites each bad channel as the inverse-distance
// weighted average of the good EEG channels, using montage positions. Bad
// channels without a montage position are left untouched and reported back.
func InterpolateBadChannels(b *sigio.Buffer) (interpolated, skipped []string, err error) {
	if len(b.Bads) == 0 {
		return nil, nil, nil
	}
	if b.Montage == nil {
		return nil, append([]string(nil), b.Bads...), nil
	}

	badSet := make(map[string]bool, len(b.Bads))
	for _, n := range b.Bads {
		badSet[n] = true
	}
	var good []int
	for _, i := range b.EEGIndices() {
		name := b.ChannelNames[i]
		if _, ok := b.Montage[name]; ok && !badSet[name] {
			good = append(good, i)
		}
	}
	if len(good) == 0 {
		return nil, nil, &errdefs.DSPError{
			Stage: "interpolate",
			Err:   fmt.Errorf("no good channels with positions remain"),
		}
	}

	for _, name := range b.Bads {
		idx := b.ChannelIndex(name)
		pos, ok := b.Montage[name]
		if idx < 0 || !ok {
			skipped = append(skipped, name)
			continue
		}
		weights := make([]float64, len(good))
		var wSum float64
		for k, gi := range good {
			d := pos.Distance(b.Montage[b.ChannelNames[gi]])
			if d < 1e-9 {
				d = 1e-9
			}
			weights[k] = 1 / (d * d)
			wSum += weights[k]
		}
		row := b.Data[idx]
		for s := range row {
			var acc float64
			for k, gi := range good {
				acc += weights[k] * b.Data[gi][s]
			}
			row[s] = acc / wSum
		}
		interpolated = append(interpolated, name)
	}
	return interpolated, skipped, nil
}

// MuscleSegment marks a window contaminated by high-frequency muscle
// activity, in seconds from recording start.
type MuscleSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	RMS   float64 `json:"rms"`
}

// DetectMuscleArtifacts scans 0.5 s windows of the 20-40 Hz band across EEG
// channels and marks windows whose mean RMS exceeds the threshold.
func DetectMuscleArtifacts(b *sigio.Buffer, threshold float64) ([]MuscleSegment, error) {
	eeg := b.EEGIndices()
	if len(eeg) == 0 || b.NSamples() == 0 {
		return nil, nil
	}
	high := 40.0
	if nyq := b.SampleRate / 2; high >= nyq {
		high = nyq - 1
	}
	if high <= 20 {
		return nil, nil
	}

	band := make([][]float64, len(eeg))
	for k, i := range eeg {
		band[k] = append([]float64(nil), b.Data[i]...)
	}
	if err := BandpassFilter(band, 20, high, b.SampleRate); err != nil {
		return nil, err
	}

	win := int(0.5 * b.SampleRate)
	if win < 1 {
		win = 1
	}
	var segments []MuscleSegment
	for start := 0; start+win <= b.NSamples(); start += win {
		var sumSq float64
		for _, ch := range band {
			for _, v := range ch[start : start+win] {
				sumSq += v * v
			}
		}
		rms := math.Sqrt(sumSq / float64(win*len(band)))
		if rms > threshold {
			segments = append(segments, MuscleSegment{
				Start: float64(start) / b.SampleRate,
				End:   float64(start+win) / b.SampleRate,
				RMS:   rms,
			})
		}
	}
	return segments, nil
}

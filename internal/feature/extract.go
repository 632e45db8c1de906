// SPDX-License-Identifier: MIT

package feature

import (
	"fmt"
	"math"
	"sort"

	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/sigio"
)

// EpochRow is one feature vector: one epoch of one channel. Column names
// follow the feature contract and double as the parquet schema.
type EpochRow struct {
	EpochID int64  `parquet:"epoch_id" json:"epoch_id"`
	Channel string `parquet:"channel,dict" json:"channel"`

	BandDelta  float64 `parquet:"band_delta" json:"band_delta"`
	BandTheta  float64 `parquet:"band_theta" json:"band_theta"`
	BandAlpha  float64 `parquet:"band_alpha" json:"band_alpha"`
	BandBeta   float64 `parquet:"band_beta" json:"band_beta"`
	BandGamma  float64 `parquet:"band_gamma" json:"band_gamma"`
	TotalPower float64 `parquet:"total_power" json:"total_power"`

	RelDelta float64 `parquet:"rel_delta" json:"rel_delta"`
	RelTheta float64 `parquet:"rel_theta" json:"rel_theta"`
	RelAlpha float64 `parquet:"rel_alpha" json:"rel_alpha"`
	RelBeta  float64 `parquet:"rel_beta" json:"rel_beta"`
	RelGamma float64 `parquet:"rel_gamma" json:"rel_gamma"`

	Mean          float64 `parquet:"mean" json:"mean"`
	Std           float64 `parquet:"std" json:"std"`
	Skewness      float64 `parquet:"skewness" json:"skewness"`
	Kurtosis      float64 `parquet:"kurtosis" json:"kurtosis"`
	RMS           float64 `parquet:"rms" json:"rms"`
	PeakToPeak    float64 `parquet:"peak_to_peak" json:"peak_to_peak"`
	ZeroCrossings float64 `parquet:"zero_crossings" json:"zero_crossings"`

	HjorthActivity   float64 `parquet:"hjorth_activity" json:"hjorth_activity"`
	HjorthMobility   float64 `parquet:"hjorth_mobility" json:"hjorth_mobility"`
	HjorthComplexity float64 `parquet:"hjorth_complexity" json:"hjorth_complexity"`

	SampleEntropy float64 `parquet:"sample_entropy" json:"sample_entropy"`
}

// Names lists the feature columns in contract order (without the epoch_id and
// channel keys).
func Names() []string {
	return []string{
		"band_delta", "band_theta", "band_alpha", "band_beta", "band_gamma",
		"total_power",
		"rel_delta", "rel_theta", "rel_alpha", "rel_beta", "rel_gamma",
		"mean", "std", "skewness", "kurtosis", "rms", "peak_to_peak", "zero_crossings",
		"hjorth_activity", "hjorth_mobility", "hjorth_complexity",
		"sample_entropy",
	}
}

// Values returns the feature values in the same order as Names.
func (r EpochRow) Values() []float64 {
	return []float64{
		r.BandDelta, r.BandTheta, r.BandAlpha, r.BandBeta, r.BandGamma,
		r.TotalPower,
		r.RelDelta, r.RelTheta, r.RelAlpha, r.RelBeta, r.RelGamma,
		r.Mean, r.Std, r.Skewness, r.Kurtosis, r.RMS, r.PeakToPeak, r.ZeroCrossings,
		r.HjorthActivity, r.HjorthMobility, r.HjorthComplexity,
		r.SampleEntropy,
	}
}

func (r *EpochRow) setValues(v []float64) {
	r.BandDelta, r.BandTheta, r.BandAlpha, r.BandBeta, r.BandGamma = v[0], v[1], v[2], v[3], v[4]
	r.TotalPower = v[5]
	r.RelDelta, r.RelTheta, r.RelAlpha, r.RelBeta, r.RelGamma = v[6], v[7], v[8], v[9], v[10]
	r.Mean, r.Std, r.Skewness, r.Kurtosis, r.RMS, r.PeakToPeak, r.ZeroCrossings = v[11], v[12], v[13], v[14], v[15], v[16], v[17]
	r.HjorthActivity, r.HjorthMobility, r.HjorthComplexity = v[18], v[19], v[20]
	r.SampleEntropy = v[21]
}

// AveragedRow is a channel-averaged feature vector for one epoch.
type AveragedRow struct {
	EpochID int64 `parquet:"epoch_id" json:"epoch_id"`

	BandDelta  float64 `parquet:"band_delta" json:"band_delta"`
	BandTheta  float64 `parquet:"band_theta" json:"band_theta"`
	BandAlpha  float64 `parquet:"band_alpha" json:"band_alpha"`
	BandBeta   float64 `parquet:"band_beta" json:"band_beta"`
	BandGamma  float64 `parquet:"band_gamma" json:"band_gamma"`
	TotalPower float64 `parquet:"total_power" json:"total_power"`

	RelDelta float64 `parquet:"rel_delta" json:"rel_delta"`
	RelTheta float64 `parquet:"rel_theta" json:"rel_theta"`
	RelAlpha float64 `parquet:"rel_alpha" json:"rel_alpha"`
	RelBeta  float64 `parquet:"rel_beta" json:"rel_beta"`
	RelGamma float64 `parquet:"rel_gamma" json:"rel_gamma"`

	Mean          float64 `parquet:"mean" json:"mean"`
	Std           float64 `parquet:"std" json:"std"`
	Skewness      float64 `parquet:"skewness" json:"skewness"`
	Kurtosis      float64 `parquet:"kurtosis" json:"kurtosis"`
	RMS           float64 `parquet:"rms" json:"rms"`
	PeakToPeak    float64 `parquet:"peak_to_peak" json:"peak_to_peak"`
	ZeroCrossings float64 `parquet:"zero_crossings" json:"zero_crossings"`

	HjorthActivity   float64 `parquet:"hjorth_activity" json:"hjorth_activity"`
	HjorthMobility   float64 `parquet:"hjorth_mobility" json:"hjorth_mobility"`
	HjorthComplexity float64 `parquet:"hjorth_complexity" json:"hjorth_complexity"`

	SampleEntropy float64 `parquet:"sample_entropy" json:"sample_entropy"`
}

// Values returns the averaged feature values in Names order.
func (r AveragedRow) Values() []float64 {
	return []float64{
		r.BandDelta, r.BandTheta, r.BandAlpha, r.BandBeta, r.BandGamma,
		r.TotalPower,
		r.RelDelta, r.RelTheta, r.RelAlpha, r.RelBeta, r.RelGamma,
		r.Mean, r.Std, r.Skewness, r.Kurtosis, r.RMS, r.PeakToPeak, r.ZeroCrossings,
		r.HjorthActivity, r.HjorthMobility, r.HjorthComplexity,
		r.SampleEntropy,
	}
}

func (r *AveragedRow) setValues(v []float64) {
	r.BandDelta, r.BandTheta, r.BandAlpha, r.BandBeta, r.BandGamma = v[0], v[1], v[2], v[3], v[4]
	r.TotalPower = v[5]
	r.RelDelta, r.RelTheta, r.RelAlpha, r.RelBeta, r.RelGamma = v[6], v[7], v[8], v[9], v[10]
	r.Mean, r.Std, r.Skewness, r.Kurtosis, r.RMS, r.PeakToPeak, r.ZeroCrossings = v[11], v[12], v[13], v[14], v[15], v[16], v[17]
	r.HjorthActivity, r.HjorthMobility, r.HjorthComplexity = v[18], v[19], v[20]
	r.SampleEntropy = v[21]
}

// canonicalBandOrder maps band names to their column slot.
var canonicalBandOrder = map[string]int{
	"delta": 0, "theta": 1, "alpha": 2, "beta": 3, "gamma": 4,
}

// defaultConnectivityPairs are the frontal-parietal pairs.
var defaultConnectivityPairs = [][2]string{
	{"Fz", "Pz"}, {"F3", "P3"}, {"F4", "P4"},
}

// Extractor computes the feature set with fixed parameters.
type Extractor struct {
	bands          []config.Band
	welchWindowSec float64
	epochLengthSec float64
	epochOverlap   float64
	entropyM       int
	entropyRFactor float64
}

// NewExtractor validates the feature configuration. The band set must be the
// canonical five names (edges are configurable) because the feature table
// schema is fixed.
func NewExtractor(cfg config.Features) (*Extractor, error) {
	if len(cfg.Bands) != len(canonicalBandOrder) {
		return nil, fmt.Errorf("feature: %d bands configured, want %d", len(cfg.Bands), len(canonicalBandOrder))
	}
	for _, b := range cfg.Bands {
		if _, ok := canonicalBandOrder[b.Name]; !ok {
			return nil, fmt.Errorf("feature: unknown band %q", b.Name)
		}
	}
	return &Extractor{
		bands:          cfg.Bands,
		welchWindowSec: cfg.WelchWindowSec,
		epochLengthSec: cfg.EpochLengthSec,
		epochOverlap:   cfg.EpochOverlap,
		entropyM:       cfg.EntropyM,
		entropyRFactor: cfg.EntropyRFactor,
	}, nil
}

// bandPowers integrates the Welch PSD over each configured band plus the
// 1-45 Hz total, returning powers indexed by canonical slot.
func (e *Extractor) bandPowers(x []float64, sfreq float64) (powers [5]float64, total float64) {
	nperseg := int(e.welchWindowSec * sfreq)
	freqs, psd := WelchPSD(x, sfreq, nperseg)

	for _, b := range e.bands {
		if lo, hi, ok := bandIndices(freqs, b.Low, b.High); ok {
			powers[canonicalBandOrder[b.Name]] = trapezoid(freqs, psd, lo, hi)
		}
	}
	if lo, hi, ok := bandIndices(freqs, 1, 45); ok {
		total = trapezoid(freqs, psd, lo, hi)
	}
	return powers, total
}

// ExtractAll computes per-epoch, per-channel feature rows. Epochs step by
// length*(1-overlap) and a trailing partial window is dropped. A recording
// shorter than one epoch yields a DataError.
func (e *Extractor) ExtractAll(b *sigio.Buffer) ([]EpochRow, error) {
	sfreq := b.SampleRate
	epochSamples := int(e.epochLengthSec * sfreq)
	step := int(e.epochLengthSec * (1 - e.epochOverlap) * sfreq)
	if epochSamples < 2 || step < 1 {
		return nil, &errdefs.DataError{Reason: fmt.Sprintf("invalid epoching: %d samples, step %d", epochSamples, step)}
	}
	if b.NSamples() < epochSamples {
		return nil, &errdefs.DataError{
			Reason: fmt.Sprintf("recording too short: %d samples, need %d for one epoch", b.NSamples(), epochSamples),
		}
	}
	nEpochs := (b.NSamples()-epochSamples)/step + 1

	// Channels still marked bad were not interpolated and carry no usable
	// signal.
	badSet := make(map[string]bool, len(b.Bads))
	for _, n := range b.Bads {
		badSet[n] = true
	}

	var rows []EpochRow
	for epoch := 0; epoch < nEpochs; epoch++ {
		start := epoch * step
		end := start + epochSamples
		if end > b.NSamples() {
			break
		}
		for ch, name := range b.ChannelNames {
			if badSet[name] {
				continue
			}
			x := b.Data[ch][start:end]

			row := EpochRow{EpochID: int64(epoch), Channel: name}
			powers, total := e.bandPowers(x, sfreq)
			row.BandDelta, row.BandTheta, row.BandAlpha, row.BandBeta, row.BandGamma =
				powers[0], powers[1], powers[2], powers[3], powers[4]
			row.TotalPower = total

			den := total
			if den == 0 {
				den = eps
			}
			row.RelDelta = powers[0] / den
			row.RelTheta = powers[1] / den
			row.RelAlpha = powers[2] / den
			row.RelBeta = powers[3] / den
			row.RelGamma = powers[4] / den

			tf := ComputeTimeFeatures(x)
			row.Mean, row.Std, row.Skewness, row.Kurtosis = tf.Mean, tf.Std, tf.Skewness, tf.Kurtosis
			row.RMS, row.PeakToPeak, row.ZeroCrossings = tf.RMS, tf.PeakToPeak, tf.ZeroCrossings

			hj := ComputeHjorth(x)
			row.HjorthActivity, row.HjorthMobility, row.HjorthComplexity = hj.Activity, hj.Mobility, hj.Complexity

			row.SampleEntropy = SampleEntropy(x, e.entropyM, e.entropyRFactor*tf.Std)

			rows = append(rows, row)
		}
	}
	return rows, nil
}

// ChannelAveraged averages the per-channel rows of each epoch into one row.
func ChannelAveraged(rows []EpochRow) []AveragedRow {
	byEpoch := make(map[int64][]EpochRow)
	for _, r := range rows {
		byEpoch[r.EpochID] = append(byEpoch[r.EpochID], r)
	}
	epochs := make([]int64, 0, len(byEpoch))
	for id := range byEpoch {
		epochs = append(epochs, id)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	out := make([]AveragedRow, 0, len(epochs))
	for _, id := range epochs {
		group := byEpoch[id]
		acc := make([]float64, len(Names()))
		for _, r := range group {
			for i, v := range r.Values() {
				acc[i] += v
			}
		}
		for i := range acc {
			acc[i] /= float64(len(group))
		}
		avg := AveragedRow{EpochID: id}
		avg.setValues(acc)
		out = append(out, avg)
	}
	return out
}

// Connectivity computes band-averaged coherence for the default
// frontal-parietal pairs over the whole recording. Pairs whose channels are
// missing are silently skipped.
func (e *Extractor) Connectivity(b *sigio.Buffer) map[string]float64 {
	out := make(map[string]float64)
	nperseg := int(e.welchWindowSec * b.SampleRate)
	for _, pair := range defaultConnectivityPairs {
		i1 := b.ChannelIndex(pair[0])
		i2 := b.ChannelIndex(pair[1])
		if i1 < 0 || i2 < 0 {
			continue
		}
		freqs, coh := Coherence(b.Data[i1], b.Data[i2], b.SampleRate, nperseg)
		for _, band := range e.bands {
			lo, hi, ok := bandIndices(freqs, band.Low, band.High)
			if !ok {
				continue
			}
			var sum float64
			for k := lo; k <= hi; k++ {
				sum += coh[k]
			}
			key := fmt.Sprintf("coh_%s_%s_%s", pair[0], pair[1], band.Name)
			out[key] = sum / float64(hi-lo+1)
		}
	}
	return out
}

// ColumnStats summarizes one feature column across all rows.
type ColumnStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Summary is the sidecar metadata written next to the feature tables.
type Summary struct {
	NEpochs      int                    `json:"n_epochs"`
	NChannels    int                    `json:"n_channels"`
	NFeatures    int                    `json:"n_features"`
	FeatureNames []string               `json:"feature_names"`
	Connectivity map[string]float64     `json:"connectivity"`
	Stats        map[string]ColumnStats `json:"stats"`
}

// Summarize builds the summary from the per-channel rows and connectivity.
func Summarize(rows []EpochRow, connectivity map[string]float64) *Summary {
	names := Names()
	s := &Summary{
		NFeatures:    len(names),
		FeatureNames: names,
		Connectivity: connectivity,
		Stats:        make(map[string]ColumnStats, len(names)),
	}
	epochs := make(map[int64]bool)
	channels := make(map[string]bool)
	cols := make([][]float64, len(names))
	for _, r := range rows {
		epochs[r.EpochID] = true
		channels[r.Channel] = true
		for i, v := range r.Values() {
			cols[i] = append(cols[i], v)
		}
	}
	s.NEpochs = len(epochs)
	s.NChannels = len(channels)

	for i, name := range names {
		s.Stats[name] = columnStats(cols[i])
	}
	return s
}

// columnStats uses the sample standard deviation (n-1), matching the summary
// contract.
func columnStats(x []float64) ColumnStats {
	if len(x) == 0 {
		return ColumnStats{}
	}
	var mean float64
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range x {
		mean += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	mean /= float64(len(x))
	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	std := 0.0
	if len(x) > 1 {
		std = math.Sqrt(ss / float64(len(x)-1))
	}
	return ColumnStats{Mean: mean, Std: std, Min: minV, Max: maxV}
}

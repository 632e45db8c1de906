// SPDX-License-Identifier: MIT

package dsp

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/sigio"
)

// FastICA with the logcosh contrast and symmetric decorrelation, seeded for
// reproducible unmixing. Components correlated with EOG/ECG reference
// channels beyond their thresholds are zeroed before reconstruction.

// ICAConfig mirrors the ICA knobs.
type ICAConfig struct {
	NComponents      int
	RandomState      int64
	EOGCorrThreshold float64
	ECGCorrThreshold float64
}

// ICAResult reports what the artifact-removal stage did.
type ICAResult struct {
	NComponents  int      `json:"n_components"`
	ExcludedEOG  []int    `json:"excluded_eog"`
	ExcludedECG  []int    `json:"excluded_ecg"`
	Skipped      bool     `json:"skipped"`
	SkipReason   string   `json:"skip_reason,omitempty"`
	RefChannels  []string `json:"ref_channels,omitempty"`
}

const (
	icaMaxIter = 200
	icaTol     = 1e-4
)

// numericalRank counts singular values above a relative tolerance.
func numericalRank(x *mat.Dense) int {
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return 0
	}
	vals := svd.Values(nil)
	if len(vals) == 0 {
		return 0
	}
	tol := vals[0] * 1e-10 * float64(len(vals))
	rank := 0
	for _, v := range vals {
		if v > tol {
			rank++
		}
	}
	return rank
}

// symmetricDecorrelate replaces W with (W W^T)^{-1/2} W.
func symmetricDecorrelate(w *mat.Dense) error {
	n, _ := w.Dims()
	var wwt mat.Dense
	wwt.Mul(w, w.T())

	var eig mat.EigenSym
	var sym mat.SymDense
	sym = *mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, wwt.At(i, j))
		}
	}
	if !eig.Factorize(&sym, true) {
		return fmt.Errorf("eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	invSqrt := mat.NewDense(n, n, nil)
	for i := range vals {
		if vals[i] <= 0 {
			return fmt.Errorf("non-positive eigenvalue %g", vals[i])
		}
		invSqrt.Set(i, i, 1/math.Sqrt(vals[i]))
	}
	var tmp, whitener mat.Dense
	tmp.Mul(&vecs, invSqrt)
	whitener.Mul(&tmp, vecs.T())

	var out mat.Dense
	out.Mul(&whitener, w)
	w.CloneFrom(&out)
	return nil
}

// fastICA unmixes whitened data xw (components x samples) into sources.
// Returns the unmixing matrix in whitened space.
func fastICA(xw *mat.Dense, nComp int, rng *rand.Rand) (*mat.Dense, error) {
	_, nSamples := xw.Dims()
	w := mat.NewDense(nComp, nComp, nil)
	for i := 0; i < nComp; i++ {
		for j := 0; j < nComp; j++ {
			w.Set(i, j, rng.NormFloat64())
		}
	}
	if err := symmetricDecorrelate(w); err != nil {
		return nil, err
	}

	gwx := mat.NewDense(nComp, nSamples, nil)
	for iter := 0; iter < icaMaxIter; iter++ {
		// Source estimates under the current unmixing.
		var s mat.Dense
		s.Mul(w, xw)

		// logcosh contrast: g = tanh, g' = 1 - tanh^2.
		gPrimeMean := make([]float64, nComp)
		for i := 0; i < nComp; i++ {
			var gpSum float64
			for t := 0; t < nSamples; t++ {
				g := math.Tanh(s.At(i, t))
				gwx.Set(i, t, g)
				gpSum += 1 - g*g
			}
			gPrimeMean[i] = gpSum / float64(nSamples)
		}

		var wNew mat.Dense
		wNew.Mul(gwx, xw.T())
		wNew.Scale(1/float64(nSamples), &wNew)
		for i := 0; i < nComp; i++ {
			for j := 0; j < nComp; j++ {
				wNew.Set(i, j, wNew.At(i, j)-gPrimeMean[i]*w.At(i, j))
			}
		}
		if err := symmetricDecorrelate(&wNew); err != nil {
			return nil, err
		}

		// Convergence: |diag(W_new W^T)| -> 1.
		var prod mat.Dense
		prod.Mul(&wNew, w.T())
		maxDelta := 0.0
		for i := 0; i < nComp; i++ {
			d := math.Abs(math.Abs(prod.At(i, i)) - 1)
			if d > maxDelta {
				maxDelta = d
			}
		}
		w.CloneFrom(&wNew)
		if maxDelta < icaTol {
			break
		}
	}
	return w, nil
}

func pearson(a, b []float64) float64 {
	return stat.Correlation(a, b, nil)
}

// frontalEOGProxies lists frontal electrodes used for EOG scoring when no
// dedicated EOG channel was recorded.
var frontalEOGProxies = map[string]bool{
	"FP1": true, "FP2": true, "FPZ": true,
	"AF3": true, "AF4": true, "AF7": true, "AF8": true,
}

// RemoveArtifactsICA runs seeded FastICA over the EEG channels, zeroes
// components correlated with EOG/ECG reference channels and reconstructs the
// EEG data in place. Recordings without a dedicated EOG channel fall back to
// frontal electrodes for EOG scoring; the stage is skipped only when neither
// references nor frontal channels exist, or the data rank is degenerate.
func RemoveArtifactsICA(b *sigio.Buffer, cfg ICAConfig) (*ICAResult, error) {
	res := &ICAResult{}
	eeg := b.EEGIndices()
	nCh, nSamples := len(eeg), b.NSamples()
	if nCh < 2 || nSamples < nCh {
		res.Skipped = true
		res.SkipReason = "too few EEG channels or samples"
		return res, nil
	}

	var refEOG, refECG [][]float64
	for i, name := range b.ChannelNames {
		switch sigio.Kind(name) {
		case sigio.KindEOG:
			refEOG = append(refEOG, b.Data[i])
			res.RefChannels = append(res.RefChannels, name)
		case sigio.KindECG:
			refECG = append(refECG, b.Data[i])
			res.RefChannels = append(res.RefChannels, name)
		}
	}
	if len(refEOG) == 0 {
		// Without a dedicated EOG channel, frontal electrodes carry enough
		// ocular signal to score components against.
		for _, i := range eeg {
			name := b.ChannelNames[i]
			if frontalEOGProxies[strings.ToUpper(strings.TrimSpace(name))] {
				refEOG = append(refEOG, b.Data[i])
				res.RefChannels = append(res.RefChannels, name)
			}
		}
	}
	if len(refEOG) == 0 && len(refECG) == 0 {
		res.Skipped = true
		res.SkipReason = "no EOG or ECG reference channels and no frontal channels"
		return res, nil
	}

	// Center channels and assemble the EEG matrix.
	x := mat.NewDense(nCh, nSamples, nil)
	means := make([]float64, nCh)
	for k, i := range eeg {
		m := stat.Mean(b.Data[i], nil)
		means[k] = m
		for t, v := range b.Data[i] {
			x.Set(k, t, v-m)
		}
	}

	rank := numericalRank(x)
	if rank < 2 {
		res.Skipped = true
		res.SkipReason = "data rank below 2"
		return res, nil
	}
	nComp := cfg.NComponents
	if nComp <= 0 || nComp > rank-1 {
		nComp = rank - 1
	}
	if nComp > nCh {
		nComp = nCh
	}
	res.NComponents = nComp

	// Whiten via SVD: xw = D^{-1} U^T x, keeping nComp components.
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, &errdefs.DSPError{Stage: "ica", Err: fmt.Errorf("svd failed")}
	}
	var u mat.Dense
	svd.UTo(&u)
	vals := svd.Values(nil)

	k := mat.NewDense(nComp, nCh, nil) // whitening matrix
	scale := math.Sqrt(float64(nSamples))
	for i := 0; i < nComp; i++ {
		for j := 0; j < nCh; j++ {
			k.Set(i, j, u.At(j, i)/vals[i]*scale)
		}
	}
	var xw mat.Dense
	xw.Mul(k, x)

	rng := rand.New(rand.NewSource(cfg.RandomState)) // #nosec G404 -- reproducibility, not security
	w, err := fastICA(&xw, nComp, rng)
	if err != nil {
		return nil, &errdefs.DSPError{Stage: "ica", Err: err}
	}

	// Sources and correlation-based exclusion.
	var sources mat.Dense
	sources.Mul(w, &xw)
	exclude := make(map[int]bool)
	for c := 0; c < nComp; c++ {
		src := mat.Row(nil, c, &sources)
		for _, ref := range refEOG {
			if math.Abs(pearson(src, ref)) > cfg.EOGCorrThreshold {
				exclude[c] = true
				res.ExcludedEOG = append(res.ExcludedEOG, c)
				break
			}
		}
		if exclude[c] {
			continue
		}
		for _, ref := range refECG {
			if math.Abs(pearson(src, ref)) > cfg.ECGCorrThreshold {
				exclude[c] = true
				res.ExcludedECG = append(res.ExcludedECG, c)
				break
			}
		}
	}
	if len(exclude) == 0 {
		return res, nil
	}

	// Zero excluded sources and project back: x ~= pinv(WK) S.
	for c := range exclude {
		for t := 0; t < nSamples; t++ {
			sources.Set(c, t, 0)
		}
	}
	var unmix mat.Dense
	unmix.Mul(w, k) // nComp x nCh
	pinv, err := pseudoInverse(&unmix)
	if err != nil {
		return nil, &errdefs.DSPError{Stage: "ica", Err: err}
	}
	var recon mat.Dense
	recon.Mul(pinv, &sources)

	for k, i := range eeg {
		for t := 0; t < nSamples; t++ {
			b.Data[i][t] = recon.At(k, t) + means[k]
		}
	}
	return res, nil
}

// pseudoInverse computes the Moore-Penrose inverse via SVD.
func pseudoInverse(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDThin) {
		return nil, fmt.Errorf("pseudo-inverse svd failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vals := svd.Values(nil)

	tol := 0.0
	if len(vals) > 0 {
		tol = vals[0] * 1e-12
	}
	sInv := mat.NewDense(len(vals), len(vals), nil)
	for i, s := range vals {
		if s > tol {
			sInv.Set(i, i, 1/s)
		}
	}
	var tmp, pinv mat.Dense
	tmp.Mul(&v, sInv)
	pinv.Mul(&tmp, u.T())
	return &pinv, nil
}

// SPDX-License-Identifier: MIT

package train

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PCA projects feature vectors onto the leading principal components of the
// training data. Components are stored row-wise so the artifact stays plain
// slices.
type PCA struct {
	NComponents int         `msgpack:"n_components"`
	Mean        []float64   `msgpack:"mean"`
	Components  [][]float64 `msgpack:"components"`
}

// Fit computes up to nComponents principal axes of X via thin SVD of the
// centered data matrix. The effective component count is capped by the data
// rank bound min(nSamples, nFeatures).
func (p *PCA) Fit(x [][]float64) error {
	n := len(x)
	if n == 0 {
		return fmt.Errorf("pca: empty input")
	}
	d := len(x[0])

	p.Mean = make([]float64, d)
	for _, row := range x {
		for j, v := range row {
			p.Mean[j] += v
		}
	}
	for j := range p.Mean {
		p.Mean[j] /= float64(n)
	}

	centered := mat.NewDense(n, d, nil)
	for i, row := range x {
		for j, v := range row {
			centered.Set(i, j, v-p.Mean[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return fmt.Errorf("pca: svd did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	k := p.NComponents
	if max := min(n, d); k > max || k <= 0 {
		k = max
	}
	p.NComponents = k
	p.Components = make([][]float64, k)
	for c := 0; c < k; c++ {
		comp := make([]float64, d)
		for j := 0; j < d; j++ {
			comp[j] = v.At(j, c)
		}
		p.Components[c] = comp
	}
	return nil
}

// Transform projects X onto the fitted components.
func (p *PCA) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		proj := make([]float64, p.NComponents)
		for c, comp := range p.Components {
			var dot float64
			for j, v := range row {
				dot += (v - p.Mean[j]) * comp[j]
			}
			proj[c] = dot
		}
		out[i] = proj
	}
	return out
}

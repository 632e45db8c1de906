// SPDX-License-Identifier: MIT

// Package train builds, evaluates and serializes the classifier pipelines
// that run over channel-averaged feature tables. Classifiers are implemented
// on gonum; artifacts serialize with msgpack so the realtime inference path
// can reload them without this package's training machinery.
package train

import "math"

// StandardScaler centers each feature column and divides by its population
// standard deviation. Constant columns keep scale 1 so they pass through
// centered instead of dividing by zero.
type StandardScaler struct {
	Mean  []float64 `msgpack:"mean"`
	Scale []float64 `msgpack:"scale"`
}

// Fit learns per-column mean and scale from X.
func (s *StandardScaler) Fit(x [][]float64) {
	if len(x) == 0 {
		return
	}
	nFeat := len(x[0])
	s.Mean = make([]float64, nFeat)
	s.Scale = make([]float64, nFeat)

	n := float64(len(x))
	for _, row := range x {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range x {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
}

// Transform returns the standardized copy of X.
func (s *StandardScaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		o := make([]float64, len(row))
		for j, v := range row {
			o[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = o
	}
	return out
}

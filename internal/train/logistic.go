// SPDX-License-Identifier: MIT

package train

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Classifier is the interface both pipeline heads satisfy.
type Classifier interface {
	Fit(x [][]float64, y []int) error
	// PredictProba returns per-sample class probabilities in Classes order.
	PredictProba(x [][]float64) [][]float64
	Classes() []int
}

// LogisticRegression is an L2-penalized multinomial softmax classifier
// trained with LBFGS. C is the inverse regularization strength; the bias is
// not penalized.
type LogisticRegression struct {
	C       float64 `msgpack:"c"`
	MaxIter int     `msgpack:"max_iter"`

	ClassList []int       `msgpack:"classes"`
	Weights   [][]float64 `msgpack:"weights"` // [class][feature]
	Bias      []float64   `msgpack:"bias"`
}

// NewLogisticRegression returns a classifier with the standard
// hyperparameters.
func NewLogisticRegression() *LogisticRegression {
	return &LogisticRegression{C: 1.0, MaxIter: 1000}
}

// Classes returns the fitted class labels in ascending order.
func (lr *LogisticRegression) Classes() []int { return lr.ClassList }

// Fit minimizes the penalized negative log likelihood over the flattened
// weight matrix.
func (lr *LogisticRegression) Fit(x [][]float64, y []int) error {
	if len(x) == 0 {
		return fmt.Errorf("logistic: empty training set")
	}
	classes, _ := classIndices(y)
	if len(classes) < 2 {
		return fmt.Errorf("logistic: need at least 2 classes, got %d", len(classes))
	}
	lr.ClassList = classes

	nClass := len(classes)
	d := len(x[0])
	slot := make(map[int]int, nClass)
	for i, c := range classes {
		slot[c] = i
	}
	yi := make([]int, len(y))
	for i, label := range y {
		yi[i] = slot[label]
	}

	// Parameter layout: nClass blocks of d weights followed by nClass biases.
	dim := nClass*d + nClass
	lambda := 0.5 / lr.C

	objective := func(theta []float64, grad []float64) float64 {
		if grad != nil {
			for i := range grad {
				grad[i] = 0
			}
		}
		var loss float64
		logits := make([]float64, nClass)
		for i, row := range x {
			for c := 0; c < nClass; c++ {
				w := theta[c*d : (c+1)*d]
				z := theta[nClass*d+c]
				for j, v := range row {
					z += w[j] * v
				}
				logits[c] = z
			}
			maxZ := logits[0]
			for _, z := range logits[1:] {
				if z > maxZ {
					maxZ = z
				}
			}
			var sumExp float64
			for c := range logits {
				sumExp += math.Exp(logits[c] - maxZ)
			}
			logSum := maxZ + math.Log(sumExp)
			loss += logSum - logits[yi[i]]

			if grad != nil {
				for c := 0; c < nClass; c++ {
					p := math.Exp(logits[c] - logSum)
					if c == yi[i] {
						p -= 1
					}
					g := grad[c*d : (c+1)*d]
					for j, v := range row {
						g[j] += p * v
					}
					grad[nClass*d+c] += p
				}
			}
		}
		// L2 on weights only.
		for c := 0; c < nClass; c++ {
			for j := 0; j < d; j++ {
				w := theta[c*d+j]
				loss += lambda * w * w
				if grad != nil {
					grad[c*d+j] += 2 * lambda * w
				}
			}
		}
		return loss
	}

	problem := optimize.Problem{
		Func: func(theta []float64) float64 { return objective(theta, nil) },
		Grad: func(grad, theta []float64) { objective(theta, grad) },
	}
	settings := &optimize.Settings{
		MajorIterations:   lr.MaxIter,
		GradientThreshold: 1e-6,
	}
	result, err := optimize.Minimize(problem, make([]float64, dim), settings, &optimize.LBFGS{})
	if err != nil && result == nil {
		return fmt.Errorf("logistic: optimization failed: %w", err)
	}

	theta := result.X
	lr.Weights = make([][]float64, nClass)
	lr.Bias = make([]float64, nClass)
	for c := 0; c < nClass; c++ {
		lr.Weights[c] = append([]float64(nil), theta[c*d:(c+1)*d]...)
		lr.Bias[c] = theta[nClass*d+c]
	}
	return nil
}

// PredictProba returns softmax probabilities for each row.
func (lr *LogisticRegression) PredictProba(x [][]float64) [][]float64 {
	nClass := len(lr.ClassList)
	out := make([][]float64, len(x))
	for i, row := range x {
		logits := make([]float64, nClass)
		maxZ := math.Inf(-1)
		for c := 0; c < nClass; c++ {
			z := lr.Bias[c]
			for j, v := range row {
				z += lr.Weights[c][j] * v
			}
			logits[c] = z
			if z > maxZ {
				maxZ = z
			}
		}
		var sum float64
		for c := range logits {
			logits[c] = math.Exp(logits[c] - maxZ)
			sum += logits[c]
		}
		for c := range logits {
			logits[c] /= sum
		}
		out[i] = logits
	}
	return out
}

// SPDX-License-Identifier: MIT

package train

import "fmt"

// Model type identifiers accepted by the trainer.
const (
	ModelLogistic     = "logistic"
	ModelRandomForest = "random_forest"
)

// pcaComponents is the fixed projection size of the logistic pipeline.
const pcaComponents = 20

// Pipeline chains standardization, an optional PCA projection and a
// classifier head. Fit learns every stage on the training data; Transform
// order is fixed.
type Pipeline struct {
	Scaler StandardScaler `msgpack:"scaler"`
	PCA    *PCA           `msgpack:"pca"` // nil for the forest pipeline

	Logistic *LogisticRegression `msgpack:"logistic"`
	Forest   *RandomForest       `msgpack:"forest"`
}

// NewPipeline builds the untrained pipeline for modelType. The forest's grid
// hyperparameters come from params when present.
func NewPipeline(modelType string, seed int64, params map[string]any) (*Pipeline, error) {
	switch modelType {
	case ModelLogistic:
		return &Pipeline{
			PCA:      &PCA{NComponents: pcaComponents},
			Logistic: NewLogisticRegression(),
		}, nil
	case ModelRandomForest:
		rf := NewRandomForest(seed)
		if n, ok := intParam(params, "n_estimators"); ok {
			rf.NEstimators = n
		}
		if d, ok := intParam(params, "max_depth"); ok {
			rf.MaxDepth = d
		}
		if mf, ok := params["max_features"]; ok {
			switch v := mf.(type) {
			case string:
				rf.MaxFeatures = v
			case float64:
				rf.MaxFeatures = "frac"
				rf.FeatureFrac = v
			}
		}
		return &Pipeline{Forest: rf}, nil
	default:
		return nil, fmt.Errorf("train: unknown model type %q", modelType)
	}
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (p *Pipeline) head() Classifier {
	if p.Logistic != nil {
		return p.Logistic
	}
	return p.Forest
}

// ModelType reports which head the pipeline carries.
func (p *Pipeline) ModelType() string {
	if p.Logistic != nil {
		return ModelLogistic
	}
	return ModelRandomForest
}

// Classes returns the fitted class labels.
func (p *Pipeline) Classes() []int { return p.head().Classes() }

// Fit learns all stages from the training set.
func (p *Pipeline) Fit(x [][]float64, y []int) error {
	p.Scaler.Fit(x)
	z := p.Scaler.Transform(x)
	if p.PCA != nil {
		if err := p.PCA.Fit(z); err != nil {
			return err
		}
		z = p.PCA.Transform(z)
	}
	return p.head().Fit(z, y)
}

func (p *Pipeline) transform(x [][]float64) [][]float64 {
	z := p.Scaler.Transform(x)
	if p.PCA != nil {
		z = p.PCA.Transform(z)
	}
	return z
}

// PredictProba returns per-sample class probabilities in Classes order.
func (p *Pipeline) PredictProba(x [][]float64) [][]float64 {
	return p.head().PredictProba(p.transform(x))
}

// Predict returns hard labels via argmax over PredictProba.
func (p *Pipeline) Predict(x [][]float64) []int {
	return predictLabels(pipelineClassifier{p}, x)
}

// pipelineClassifier adapts Pipeline to the Classifier interface for the
// shared argmax helper.
type pipelineClassifier struct{ p *Pipeline }

func (a pipelineClassifier) Fit(x [][]float64, y []int) error  { return a.p.Fit(x, y) }
func (a pipelineClassifier) PredictProba(x [][]float64) [][]float64 {
	return a.p.PredictProba(x)
}
func (a pipelineClassifier) Classes() []int { return a.p.Classes() }

// FeatureImportances returns the forest's normalized gini importances, nil
// for the logistic pipeline.
func (p *Pipeline) FeatureImportances() []float64 {
	if p.Forest == nil {
		return nil
	}
	return p.Forest.Importances
}

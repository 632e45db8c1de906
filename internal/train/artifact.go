// SPDX-License-Identifier: MIT

package train

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// artifactVersion guards against loading artifacts written by an
// incompatible release.
const artifactVersion = 1

// Artifact is the serialized form of a trained pipeline. FeatureNames pins
// the input column order so inference can rebuild vectors from sparse
// feature maps.
type Artifact struct {
	Version      int       `msgpack:"version"`
	ModelType    string    `msgpack:"model_type"`
	FeatureNames []string  `msgpack:"feature_names"`
	Pipeline     *Pipeline `msgpack:"pipeline"`
}

// EncodeArtifact serializes a trained pipeline.
func EncodeArtifact(p *Pipeline, featureNames []string) ([]byte, error) {
	a := Artifact{
		Version:      artifactVersion,
		ModelType:    p.ModelType(),
		FeatureNames: featureNames,
		Pipeline:     p,
	}
	data, err := msgpack.Marshal(&a)
	if err != nil {
		return nil, fmt.Errorf("train: encode artifact: %w", err)
	}
	return data, nil
}

// DecodeArtifact deserializes a model artifact.
func DecodeArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("train: decode artifact: %w", err)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("train: artifact version %d not supported", a.Version)
	}
	if a.Pipeline == nil {
		return nil, fmt.Errorf("train: artifact has no pipeline")
	}
	return &a, nil
}

// Vector assembles an input row from a sparse feature map in FeatureNames
// order. Missing features contribute zero.
func (a *Artifact) Vector(features map[string]float64) []float64 {
	row := make([]float64, len(a.FeatureNames))
	for i, name := range a.FeatureNames {
		row[i] = features[name]
	}
	return row
}

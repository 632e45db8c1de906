// SPDX-License-Identifier: MIT

package train

import (
	"fmt"
	"math"
	"math/rand"
)

// MaxFeatures values accepted by the forest: "sqrt" or a fraction in (0,1].
const maxFeaturesSqrt = "sqrt"

// RandomForest is a bagged ensemble of CART trees. Probabilities are the
// mean of per-tree leaf distributions.
type RandomForest struct {
	NEstimators int     `msgpack:"n_estimators"`
	MaxDepth    int     `msgpack:"max_depth"` // 0 means unlimited
	MaxFeatures string  `msgpack:"max_features"`
	FeatureFrac float64 `msgpack:"feature_frac"` // used when MaxFeatures is numeric
	Seed        int64   `msgpack:"seed"`

	ClassList   []int           `msgpack:"classes"`
	Trees       []*decisionTree `msgpack:"trees"`
	Importances []float64       `msgpack:"importances"`
}

// NewRandomForest returns a forest with the standard hyperparameters.
func NewRandomForest(seed int64) *RandomForest {
	return &RandomForest{
		NEstimators: 200,
		MaxFeatures: maxFeaturesSqrt,
		Seed:        seed,
	}
}

// Classes returns the fitted class labels in ascending order.
func (rf *RandomForest) Classes() []int { return rf.ClassList }

func (rf *RandomForest) featuresPerSplit(nFeat int) int {
	var k int
	switch rf.MaxFeatures {
	case maxFeaturesSqrt, "":
		k = int(math.Sqrt(float64(nFeat)))
	default:
		k = int(rf.FeatureFrac * float64(nFeat))
	}
	if k < 1 {
		k = 1
	}
	if k > nFeat {
		k = nFeat
	}
	return k
}

// Fit grows NEstimators trees on bootstrap resamples. Tree construction is
// deterministic for a fixed seed.
func (rf *RandomForest) Fit(x [][]float64, y []int) error {
	if len(x) == 0 {
		return fmt.Errorf("forest: empty training set")
	}
	classes, _ := classIndices(y)
	if len(classes) < 2 {
		return fmt.Errorf("forest: need at least 2 classes, got %d", len(classes))
	}
	rf.ClassList = classes

	slot := make(map[int]int, len(classes))
	for i, c := range classes {
		slot[c] = i
	}
	yi := make([]int, len(y))
	for i, label := range y {
		yi[i] = slot[label]
	}

	nFeat := len(x[0])
	k := rf.featuresPerSplit(nFeat)

	rf.Trees = make([]*decisionTree, rf.NEstimators)
	rf.Importances = make([]float64, nFeat)
	n := len(x)

	for t := 0; t < rf.NEstimators; t++ {
		rng := rand.New(rand.NewSource(rf.Seed + int64(t)))
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		grower := &treeGrower{
			x:           x,
			yi:          yi,
			nClass:      len(classes),
			maxDepth:    rf.MaxDepth,
			maxFeatures: k,
			rng:         rng,
			importances: make([]float64, nFeat),
			nTotal:      float64(n),
		}
		rf.Trees[t] = &decisionTree{Root: grower.grow(idx, 0)}
		for f, imp := range grower.importances {
			rf.Importances[f] += imp
		}
	}

	var total float64
	for _, imp := range rf.Importances {
		total += imp
	}
	if total > 0 {
		for f := range rf.Importances {
			rf.Importances[f] /= total
		}
	}
	return nil
}

// PredictProba averages the per-tree class distributions.
func (rf *RandomForest) PredictProba(x [][]float64) [][]float64 {
	nClass := len(rf.ClassList)
	out := make([][]float64, len(x))
	for i, row := range x {
		acc := make([]float64, nClass)
		for _, tree := range rf.Trees {
			for c, p := range tree.proba(row, nClass) {
				acc[c] += p
			}
		}
		for c := range acc {
			acc[c] /= float64(len(rf.Trees))
		}
		out[i] = acc
	}
	return out
}

// rfCandidate is one grid-search hyperparameter combination.
type rfCandidate struct {
	NEstimators int
	MaxDepth    int
	MaxFeatures string
	FeatureFrac float64
}

func rfGrid() []rfCandidate {
	var grid []rfCandidate
	for _, n := range []int{100, 200, 500} {
		for _, depth := range []int{0, 10, 20} {
			for _, mf := range []struct {
				name string
				frac float64
			}{{maxFeaturesSqrt, 0}, {"frac", 0.2}, {"frac", 0.5}} {
				grid = append(grid, rfCandidate{
					NEstimators: n,
					MaxDepth:    depth,
					MaxFeatures: mf.name,
					FeatureFrac: mf.frac,
				})
			}
		}
	}
	return grid
}

// GridSearchRF evaluates the hyperparameter grid with stratified k-fold CV
// accuracy and returns a forest configured with the best combination, not
// yet fitted.
func GridSearchRF(x [][]float64, y []int, folds int, seed int64) *RandomForest {
	foldIdx := StratifiedKFold(y, folds, seed)

	best := rfGrid()[0]
	bestScore := math.Inf(-1)
	for _, cand := range rfGrid() {
		var score float64
		for _, valIdx := range foldIdx {
			trainIdx := complement(len(y), valIdx)
			xTrain, yTrain := subset(x, y, trainIdx)
			xVal, yVal := subset(x, y, valIdx)

			rf := &RandomForest{
				NEstimators: cand.NEstimators,
				MaxDepth:    cand.MaxDepth,
				MaxFeatures: cand.MaxFeatures,
				FeatureFrac: cand.FeatureFrac,
				Seed:        seed,
			}
			if err := rf.Fit(xTrain, yTrain); err != nil {
				continue
			}
			score += Accuracy(yVal, predictLabels(rf, xVal))
		}
		score /= float64(len(foldIdx))
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}
	return &RandomForest{
		NEstimators: best.NEstimators,
		MaxDepth:    best.MaxDepth,
		MaxFeatures: best.MaxFeatures,
		FeatureFrac: best.FeatureFrac,
		Seed:        seed,
	}
}

// predictLabels converts probabilities to hard labels via argmax.
func predictLabels(c Classifier, x [][]float64) []int {
	proba := c.PredictProba(x)
	classes := c.Classes()
	out := make([]int, len(x))
	for i, p := range proba {
		bestC, bestP := 0, math.Inf(-1)
		for j, v := range p {
			if v > bestP {
				bestP = v
				bestC = j
			}
		}
		out[i] = classes[bestC]
	}
	return out
}

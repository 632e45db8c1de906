// SPDX-License-Identifier: MIT

package train

import (
	"math/rand"
	"sort"
)

// classIndices groups sample indices by label, classes in ascending order.
func classIndices(y []int) ([]int, map[int][]int) {
	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes, byClass
}

// StratifiedSplit partitions sample indices into train and test sets keeping
// per-class proportions. Each class contributes at least one test sample.
func StratifiedSplit(y []int, testFrac float64, seed int64) (trainIdx, testIdx []int) {
	rng := rand.New(rand.NewSource(seed))
	classes, byClass := classIndices(y)

	for _, c := range classes {
		idx := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(float64(len(idx)) * testFrac)
		if nTest < 1 {
			nTest = 1
		}
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		if nTest < 0 {
			nTest = 0
		}
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	sort.Ints(trainIdx)
	sort.Ints(testIdx)
	return trainIdx, testIdx
}

// StratifiedKFold returns k validation folds with per-class proportions
// preserved. The folds partition the index set; fold i's training set is the
// complement of its validation set.
func StratifiedKFold(y []int, k int, seed int64) [][]int {
	rng := rand.New(rand.NewSource(seed))
	classes, byClass := classIndices(y)

	folds := make([][]int, k)
	for _, c := range classes {
		idx := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for i, sample := range idx {
			folds[i%k] = append(folds[i%k], sample)
		}
	}
	for _, fold := range folds {
		sort.Ints(fold)
	}
	return folds
}

// complement returns all indices in [0,n) not present in the sorted exclude
// set.
func complement(n int, exclude []int) []int {
	out := make([]int, 0, n-len(exclude))
	j := 0
	for i := 0; i < n; i++ {
		if j < len(exclude) && exclude[j] == i {
			j++
			continue
		}
		out = append(out, i)
	}
	return out
}

// subset gathers the rows and labels at idx.
func subset(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, s := range idx {
		xs[i] = x[s]
		ys[i] = y[s]
	}
	return xs, ys
}

// SPDX-License-Identifier: MIT

package train

import (
	"math/rand"
	"sort"
)

// treeNode is one node of a CART decision tree. Leaves carry the class
// distribution of the training samples that reached them; internal nodes
// split on Feature <= Threshold.
type treeNode struct {
	Feature   int       `msgpack:"feature"` // -1 marks a leaf
	Threshold float64   `msgpack:"threshold"`
	Left      *treeNode `msgpack:"left"`
	Right     *treeNode `msgpack:"right"`
	Counts    []float64 `msgpack:"counts"`
}

// decisionTree grows a gini-impurity CART tree on a feature subsample per
// split.
type decisionTree struct {
	Root *treeNode `msgpack:"root"`
}

type treeGrower struct {
	x           [][]float64
	yi          []int // class slots
	nClass      int
	maxDepth    int // 0 means unlimited
	maxFeatures int
	rng         *rand.Rand
	importances []float64
	nTotal      float64
}

func (g *treeGrower) counts(idx []int) []float64 {
	c := make([]float64, g.nClass)
	for _, i := range idx {
		c[g.yi[i]]++
	}
	return c
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	imp := 1.0
	for _, c := range counts {
		p := c / n
		imp -= p * p
	}
	return imp
}

func pure(counts []float64) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

// bestSplit scans a random feature subset for the threshold with the lowest
// weighted child impurity. Returns ok=false when no split improves on the
// parent.
func (g *treeGrower) bestSplit(idx []int, parentImp float64) (feature int, threshold float64, ok bool) {
	nFeat := len(g.x[0])
	perm := g.rng.Perm(nFeat)
	candidates := perm[:g.maxFeatures]

	n := float64(len(idx))
	bestImp := parentImp
	type valSlot struct {
		v    float64
		slot int
	}
	vals := make([]valSlot, len(idx))

	for _, f := range candidates {
		for i, s := range idx {
			vals[i] = valSlot{g.x[s][f], g.yi[s]}
		}
		sort.Slice(vals, func(a, b int) bool { return vals[a].v < vals[b].v })

		left := make([]float64, g.nClass)
		right := g.counts(idx)
		var nLeft float64
		for i := 0; i < len(vals)-1; i++ {
			left[vals[i].slot]++
			right[vals[i].slot]--
			nLeft++
			if vals[i].v == vals[i+1].v {
				continue
			}
			nRight := n - nLeft
			imp := (nLeft*gini(left, nLeft) + nRight*gini(right, nRight)) / n
			if imp < bestImp {
				bestImp = imp
				feature = f
				threshold = (vals[i].v + vals[i+1].v) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func (g *treeGrower) grow(idx []int, depth int) *treeNode {
	counts := g.counts(idx)
	n := float64(len(idx))
	imp := gini(counts, n)

	leaf := func() *treeNode {
		return &treeNode{Feature: -1, Counts: counts}
	}
	if len(idx) < 2 || pure(counts) {
		return leaf()
	}
	if g.maxDepth > 0 && depth >= g.maxDepth {
		return leaf()
	}
	feature, threshold, ok := g.bestSplit(idx, imp)
	if !ok {
		return leaf()
	}

	var leftIdx, rightIdx []int
	for _, s := range idx {
		if g.x[s][feature] <= threshold {
			leftIdx = append(leftIdx, s)
		} else {
			rightIdx = append(rightIdx, s)
		}
	}
	if len(leftIdx) == 0 || len(rightIdx) == 0 {
		return leaf()
	}

	nl, nr := float64(len(leftIdx)), float64(len(rightIdx))
	childImp := (nl*gini(g.counts(leftIdx), nl) + nr*gini(g.counts(rightIdx), nr)) / n
	g.importances[feature] += (imp - childImp) * n / g.nTotal

	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      g.grow(leftIdx, depth+1),
		Right:     g.grow(rightIdx, depth+1),
	}
}

// proba walks the tree and returns the leaf class distribution, normalized.
func (t *decisionTree) proba(row []float64, nClass int) []float64 {
	node := t.Root
	for node.Feature >= 0 {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	out := make([]float64, nClass)
	var total float64
	for _, c := range node.Counts {
		total += c
	}
	if total == 0 {
		return out
	}
	for i, c := range node.Counts {
		out[i] = c / total
	}
	return out
}

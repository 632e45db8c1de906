// SPDX-License-Identifier: MIT

package train

import "sort"

// Accuracy is the fraction of correct predictions.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

// ConfusionMatrix returns counts[i][j] = samples of classes[i] predicted as
// classes[j].
func ConfusionMatrix(yTrue, yPred []int, classes []int) [][]int {
	slot := make(map[int]int, len(classes))
	for i, c := range classes {
		slot[c] = i
	}
	m := make([][]int, len(classes))
	for i := range m {
		m[i] = make([]int, len(classes))
	}
	for i := range yTrue {
		m[slot[yTrue[i]]][slot[yPred[i]]]++
	}
	return m
}

// WeightedPRF computes precision, recall and F1, each averaged over classes
// weighted by class support. Classes with no predicted samples contribute
// zero precision.
func WeightedPRF(yTrue, yPred []int, classes []int) (precision, recall, f1 float64) {
	cm := ConfusionMatrix(yTrue, yPred, classes)
	total := float64(len(yTrue))
	if total == 0 {
		return 0, 0, 0
	}
	for i := range classes {
		tp := float64(cm[i][i])
		var predicted, actual float64
		for j := range classes {
			predicted += float64(cm[j][i])
			actual += float64(cm[i][j])
		}
		var p, r float64
		if predicted > 0 {
			p = tp / predicted
		}
		if actual > 0 {
			r = tp / actual
		}
		var f float64
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		w := actual / total
		precision += w * p
		recall += w * r
		f1 += w * f
	}
	return precision, recall, f1
}

// ROCAUCBinary computes the area under the ROC curve from positive-class
// scores, using the rank statistic with tied scores averaged. Returns 0.5
// when either class is absent.
func ROCAUCBinary(yTrue []int, score []float64, positive int) float64 {
	n := len(yTrue)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return score[order[a]] < score[order[b]] })

	// Average ranks across ties.
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && score[order[j]] == score[order[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[order[k]] = avg
		}
		i = j
	}

	var nPos, nNeg, rankSum float64
	for i, label := range yTrue {
		if label == positive {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

// ROCAUCOVR computes the one-vs-rest macro ROC-AUC for multiclass
// probabilities, proba[i][c] being the probability of classes[c].
func ROCAUCOVR(yTrue []int, proba [][]float64, classes []int) float64 {
	if len(classes) == 0 {
		return 0.5
	}
	var sum float64
	for c, class := range classes {
		score := make([]float64, len(yTrue))
		for i := range yTrue {
			score[i] = proba[i][c]
		}
		sum += ROCAUCBinary(yTrue, score, class)
	}
	return sum / float64(len(classes))
}

// ROCAUC dispatches on class count: positive-class score for binary problems,
// one-vs-rest macro average otherwise.
func ROCAUC(yTrue []int, proba [][]float64, classes []int) float64 {
	if len(classes) == 2 {
		score := make([]float64, len(yTrue))
		for i := range yTrue {
			score[i] = proba[i][1]
		}
		return ROCAUCBinary(yTrue, score, classes[1])
	}
	return ROCAUCOVR(yTrue, proba, classes)
}

// ROCPoints returns the (fpr, tpr) curve for binary scores, sorted by
// descending threshold, beginning at (0,0) and ending at (1,1).
func ROCPoints(yTrue []int, score []float64, positive int) (fpr, tpr []float64) {
	order := make([]int, len(yTrue))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return score[order[a]] > score[order[b]] })

	var nPos, nNeg float64
	for _, label := range yTrue {
		if label == positive {
			nPos++
		} else {
			nNeg++
		}
	}
	fpr = []float64{0}
	tpr = []float64{0}
	var tp, fp float64
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && score[order[j]] == score[order[i]] {
			if yTrue[order[j]] == positive {
				tp++
			} else {
				fp++
			}
			j++
		}
		if nNeg > 0 {
			fpr = append(fpr, fp/nNeg)
		} else {
			fpr = append(fpr, 0)
		}
		if nPos > 0 {
			tpr = append(tpr, tp/nPos)
		} else {
			tpr = append(tpr, 0)
		}
		i = j
	}
	return fpr, tpr
}

// SPDX-License-Identifier: MIT

package train

import (
	"bytes"
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// importancePlotLimit caps the bar chart at the most important features.
const importancePlotLimit = 15

func renderPNG(p *plot.Plot, w, h vg.Length) ([]byte, error) {
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("train: render plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("train: write plot: %w", err)
	}
	return buf.Bytes(), nil
}

// confusionGrid adapts a confusion matrix to the heat map interface. Row 0
// is drawn at the bottom, so rows are flipped to read top-down.
type confusionGrid struct {
	m [][]int
}

func (g confusionGrid) Dims() (int, int)   { return len(g.m), len(g.m) }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }
func (g confusionGrid) Z(c, r int) float64 { return float64(g.m[len(g.m)-1-r][c]) }

// PlotConfusionMatrix renders the test-set confusion matrix as a heat map
// PNG.
func PlotConfusionMatrix(yTrue, yPred []int, classes []int) ([]byte, error) {
	cm := ConfusionMatrix(yTrue, yPred, classes)

	p := plot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "True"

	hm := plotter.NewHeatMap(confusionGrid{cm}, palette.Heat(12, 1))
	p.Add(hm)

	labels := make([]string, len(classes))
	for i, c := range classes {
		labels[i] = fmt.Sprintf("%d", c)
	}
	p.NominalX(labels...)
	rev := make([]string, len(labels))
	for i := range labels {
		rev[i] = labels[len(labels)-1-i]
	}
	p.NominalY(rev...)

	return renderPNG(p, 5*vg.Inch, 4*vg.Inch)
}

// PlotROCCurve renders the ROC curve PNG. For multiclass problems one curve
// per class (one-vs-rest) is drawn.
func PlotROCCurve(yTrue []int, proba [][]float64, classes []int) ([]byte, error) {
	p := plot.New()
	p.Title.Text = "ROC Curve"
	p.X.Label.Text = "False Positive Rate"
	p.Y.Label.Text = "True Positive Rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Legend.Top = false

	curveClasses := classes
	if len(classes) == 2 {
		curveClasses = classes[1:]
	}
	for _, class := range curveClasses {
		col := 0
		for i, c := range classes {
			if c == class {
				col = i
			}
		}
		score := make([]float64, len(yTrue))
		for i := range yTrue {
			score[i] = proba[i][col]
		}
		fpr, tpr := ROCPoints(yTrue, score, class)

		pts := make(plotter.XYs, len(fpr))
		for i := range fpr {
			pts[i] = plotter.XY{X: fpr[i], Y: tpr[i]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("train: roc line: %w", err)
		}
		p.Add(line)
		auc := ROCAUCBinary(yTrue, score, class)
		p.Legend.Add(fmt.Sprintf("class %d (AUC %.3f)", class, auc), line)
	}

	// Chance diagonal.
	diag, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return nil, fmt.Errorf("train: roc diagonal: %w", err)
	}
	diag.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(diag)

	return renderPNG(p, 5*vg.Inch, 4*vg.Inch)
}

// PlotFeatureImportance renders a bar chart of the top feature importances.
func PlotFeatureImportance(names []string, importances []float64) ([]byte, error) {
	type pair struct {
		name string
		imp  float64
	}
	pairs := make([]pair, len(names))
	for i := range names {
		pairs[i] = pair{names[i], importances[i]}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].imp > pairs[b].imp })
	if len(pairs) > importancePlotLimit {
		pairs = pairs[:importancePlotLimit]
	}

	p := plot.New()
	p.Title.Text = "Feature Importance"
	p.Y.Label.Text = "Gini importance"

	vals := make(plotter.Values, len(pairs))
	labels := make([]string, len(pairs))
	for i, pr := range pairs {
		vals[i] = pr.imp
		labels[i] = pr.name
	}
	bars, err := plotter.NewBarChart(vals, vg.Points(14))
	if err != nil {
		return nil, fmt.Errorf("train: importance bars: %w", err)
	}
	p.Add(bars)
	p.NominalX(labels...)
	p.X.Tick.Label.Rotation = 0.9
	p.X.Tick.Label.XAlign = -0.9
	p.X.Tick.Label.YAlign = -0.4

	return renderPNG(p, 7*vg.Inch, 4*vg.Inch)
}

// SPDX-License-Identifier: MIT

package train

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/feature"
	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
)

// twoClusters generates linearly separable 2-class data in d dimensions.
func twoClusters(n, d int, gap float64, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		row := make([]float64, d)
		label := i % 2
		for j := range row {
			row[j] = rng.NormFloat64()
			if j == 0 {
				row[j] += gap * float64(label)
			}
		}
		x[i] = row
		y[i] = label
	}
	return x, y
}

func TestStandardScaler(t *testing.T) {
	x := [][]float64{{1, 5, 7}, {3, 5, 9}, {5, 5, 11}}
	var s StandardScaler
	s.Fit(x)
	z := s.Transform(x)

	for j := 0; j < 3; j++ {
		var mean float64
		for i := range z {
			mean += z[i][j]
		}
		assert.InDelta(t, 0, mean/3, 1e-12, "column %d not centered", j)
	}
	// Constant column passes through centered, not divided by zero.
	assert.Equal(t, 1.0, s.Scale[1])
	for i := range z {
		assert.Equal(t, 0.0, z[i][1])
		assert.False(t, math.IsNaN(z[i][2]))
	}
}

func TestPCAReducesDimensions(t *testing.T) {
	x, _ := twoClusters(60, 10, 6, 1)
	p := &PCA{NComponents: 3}
	require.NoError(t, p.Fit(x))
	z := p.Transform(x)

	require.Len(t, z, 60)
	assert.Len(t, z[0], 3)

	// The separation lives on axis 0, so the first component must carry it.
	var lo, hi float64
	for i, row := range z {
		if i%2 == 0 {
			lo += row[0]
		} else {
			hi += row[0]
		}
	}
	assert.Greater(t, math.Abs(hi-lo)/30, 2.0)
}

func TestPCACapsComponentsAtRank(t *testing.T) {
	x := [][]float64{{1, 2, 3}, {4, 5, 6}}
	p := &PCA{NComponents: 20}
	require.NoError(t, p.Fit(x))
	assert.Equal(t, 2, p.NComponents)
}

func TestStratifiedSplitKeepsProportions(t *testing.T) {
	y := make([]int, 100)
	for i := 30; i < 100; i++ {
		y[i] = 1
	}
	trainIdx, testIdx := StratifiedSplit(y, 0.2, 42)
	assert.Len(t, testIdx, 20)
	assert.Len(t, trainIdx, 80)

	var testPos int
	for _, i := range testIdx {
		testPos += y[i]
	}
	assert.Equal(t, 14, testPos, "70%% positives should hold in the test set")

	// Deterministic for a fixed seed.
	trainIdx2, testIdx2 := StratifiedSplit(y, 0.2, 42)
	assert.Equal(t, trainIdx, trainIdx2)
	assert.Equal(t, testIdx, testIdx2)
}

func TestStratifiedKFoldPartitions(t *testing.T) {
	y := make([]int, 50)
	for i := 20; i < 50; i++ {
		y[i] = 1
	}
	folds := StratifiedKFold(y, 5, 42)
	require.Len(t, folds, 5)

	seen := make(map[int]int)
	for _, fold := range folds {
		assert.Len(t, fold, 10)
		for _, i := range fold {
			seen[i]++
		}
	}
	assert.Len(t, seen, 50)
	for i, count := range seen {
		assert.Equal(t, 1, count, "sample %d appears in multiple folds", i)
	}
}

func TestMetricsKnownValues(t *testing.T) {
	yTrue := []int{0, 0, 0, 1, 1, 1}
	yPred := []int{0, 0, 1, 1, 1, 0}

	assert.InDelta(t, 4.0/6.0, Accuracy(yTrue, yPred), 1e-12)

	cm := ConfusionMatrix(yTrue, yPred, []int{0, 1})
	assert.Equal(t, [][]int{{2, 1}, {1, 2}}, cm)

	precision, recall, f1 := WeightedPRF(yTrue, yPred, []int{0, 1})
	assert.InDelta(t, 2.0/3.0, precision, 1e-12)
	assert.InDelta(t, 2.0/3.0, recall, 1e-12)
	assert.InDelta(t, 2.0/3.0, f1, 1e-12)
}

func TestROCAUCBinary(t *testing.T) {
	yTrue := []int{0, 0, 1, 1}

	assert.Equal(t, 1.0, ROCAUCBinary(yTrue, []float64{0.1, 0.2, 0.8, 0.9}, 1))
	assert.Equal(t, 0.0, ROCAUCBinary(yTrue, []float64{0.9, 0.8, 0.2, 0.1}, 1))
	// All scores tied is chance level.
	assert.Equal(t, 0.5, ROCAUCBinary(yTrue, []float64{0.5, 0.5, 0.5, 0.5}, 1))
	// Single class present.
	assert.Equal(t, 0.5, ROCAUCBinary([]int{1, 1}, []float64{0.2, 0.8}, 1))
}

func TestLogisticRegressionSeparable(t *testing.T) {
	x, y := twoClusters(80, 4, 8, 7)
	lr := NewLogisticRegression()
	require.NoError(t, lr.Fit(x, y))

	proba := lr.PredictProba(x)
	correct := 0
	for i, p := range proba {
		assert.InDelta(t, 1.0, p[0]+p[1], 1e-9)
		if (p[1] > 0.5) == (y[i] == 1) {
			correct++
		}
	}
	assert.GreaterOrEqual(t, float64(correct)/80, 0.95)
}

func TestRandomForestSeparable(t *testing.T) {
	x, y := twoClusters(80, 4, 8, 7)
	rf := NewRandomForest(42)
	rf.NEstimators = 30
	require.NoError(t, rf.Fit(x, y))

	pred := predictLabels(rf, x)
	assert.GreaterOrEqual(t, Accuracy(y, pred), 0.95)

	// Importances normalize and concentrate on the separating feature.
	var total float64
	for _, imp := range rf.Importances {
		total += imp
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Greater(t, rf.Importances[0], 0.5)
}

func TestRandomForestDeterministic(t *testing.T) {
	x, y := twoClusters(40, 4, 3, 9)
	a := NewRandomForest(42)
	a.NEstimators = 10
	b := NewRandomForest(42)
	b.NEstimators = 10
	require.NoError(t, a.Fit(x, y))
	require.NoError(t, b.Fit(x, y))
	assert.Equal(t, a.PredictProba(x), b.PredictProba(x))
}

func TestGridSearchSelectsCandidate(t *testing.T) {
	if testing.Short() {
		t.Skip("grid search is slow")
	}
	x, y := twoClusters(40, 4, 6, 11)
	rf := GridSearchRF(x, y, 3, 42)
	require.NotNil(t, rf)
	assert.Contains(t, []int{100, 200, 500}, rf.NEstimators)
	assert.Nil(t, rf.Trees, "grid search returns an unfitted forest")
}

func TestArtifactRoundTrip(t *testing.T) {
	x, y := twoClusters(60, 22, 6, 3)
	p, err := NewPipeline(ModelLogistic, 42, nil)
	require.NoError(t, err)
	require.NoError(t, p.Fit(x, y))

	blob, err := EncodeArtifact(p, feature.Names())
	require.NoError(t, err)

	a, err := DecodeArtifact(blob)
	require.NoError(t, err)
	assert.Equal(t, ModelLogistic, a.ModelType)
	assert.Equal(t, feature.Names(), a.FeatureNames)
	assert.Equal(t, p.PredictProba(x[:5]), a.Pipeline.PredictProba(x[:5]))
}

func TestArtifactVector(t *testing.T) {
	a := &Artifact{FeatureNames: []string{"rms", "mean", "std"}}
	v := a.Vector(map[string]float64{"std": 3, "rms": 1})
	assert.Equal(t, []float64{1, 0, 3}, v)
}

// trainEnv wires a trainer against a temp SQLite store and filesystem object
// store.
type trainEnv struct {
	st      *store.DB
	objects *storage.FSStore
	trainer *Trainer
}

func newTrainEnv(t *testing.T) *trainEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	objects, err := storage.NewFSStore(filepath.Join(dir, "objects"), "neurolab", "test-key")
	require.NoError(t, err)

	cfg := config.Default().Training
	return &trainEnv{
		st:      st,
		objects: objects,
		trainer: NewTrainer(st, objects, cfg, zerolog.Nop()),
	}
}

// seedLabelled creates a recording whose averaged feature table separates on
// BandAlpha by class.
func (e *trainEnv) seedLabelled(t *testing.T, class int, epochs int, seed int64) string {
	t.Helper()
	ctx := context.Background()

	sub := &store.Subject{Label: "S"}
	require.NoError(t, e.st.CreateSubject(ctx, sub))
	sess := &store.Session{SubjectID: sub.ID}
	require.NoError(t, e.st.CreateSession(ctx, sess))
	rec := &store.Recording{SessionID: sess.ID, Filename: "rec.edf"}
	require.NoError(t, e.st.CreateRecording(ctx, rec))

	rng := rand.New(rand.NewSource(seed))
	rows := make([]feature.AveragedRow, epochs)
	for i := range rows {
		rows[i] = feature.AveragedRow{
			EpochID:   int64(i),
			BandAlpha: float64(class)*5 + rng.NormFloat64()*0.3,
			BandDelta: 1 + rng.NormFloat64()*0.3,
			RMS:       1 + rng.NormFloat64()*0.1,
			Std:       1 + rng.NormFloat64()*0.1,
		}
	}
	blob, err := feature.EncodeParquet(rows)
	require.NoError(t, err)
	_, err = e.objects.PutBytes(ctx, blob, storage.AveragedFeaturesPath(rec.ID), "application/octet-stream")
	require.NoError(t, err)
	require.NoError(t, e.st.SetRecordingFeaturesPath(ctx, rec.ID, storage.AveragedFeaturesPath(rec.ID)))
	return rec.ID
}

func TestTrainerRunLogistic(t *testing.T) {
	env := newTrainEnv(t)
	ctx := context.Background()

	var recIDs []string
	for i := 0; i < 4; i++ {
		recIDs = append(recIDs, env.seedLabelled(t, i%2, 25, int64(i+1)))
	}
	labels := map[string]int{recIDs[1]: 1, recIDs[3]: 1}

	var progress []float64
	model, err := env.trainer.Run(ctx, "model-1", recIDs, ModelLogistic, nil, labels,
		func(f float64) error {
			progress = append(progress, f)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, store.StageCandidate, model.Stage, "separable data must clear promotion bars")
	assert.Greater(t, model.Metrics["roc_auc"], 0.8)
	assert.Greater(t, model.Metrics["f1"], 0.8)
	assert.Equal(t, feature.Names(), model.FeatureNames)

	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress must be monotonic")
	}

	// Artifact, metrics and plots landed in the object store.
	for _, path := range []string{
		storage.ModelPath("model-1"),
		storage.ModelMetricsPath("model-1"),
		storage.EvalPlotPath("model-1", "confusion_matrix"),
		storage.EvalPlotPath("model-1", "roc_curve"),
	} {
		ok, err := env.objects.Exists(ctx, path)
		require.NoError(t, err)
		assert.True(t, ok, path)
	}

	var metrics map[string]float64
	data, err := env.objects.GetBytes(ctx, storage.ModelMetricsPath("model-1"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &metrics))
	assert.Equal(t, model.Metrics["roc_auc"], metrics["roc_auc"])
}

func TestTrainerRunForestImportancePlot(t *testing.T) {
	env := newTrainEnv(t)
	ctx := context.Background()

	var recIDs []string
	for i := 0; i < 4; i++ {
		recIDs = append(recIDs, env.seedLabelled(t, i%2, 20, int64(i+10)))
	}
	labels := map[string]int{recIDs[1]: 1, recIDs[3]: 1}

	model, err := env.trainer.Run(ctx, "model-rf", recIDs, ModelRandomForest,
		map[string]any{"n_estimators": 30}, labels, nil)
	require.NoError(t, err)
	assert.Equal(t, ModelRandomForest, model.Type)

	ok, err := env.objects.Exists(ctx, storage.EvalPlotPath("model-rf", "feature_importance"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrainerRunNeedsTwoRecordings(t *testing.T) {
	env := newTrainEnv(t)
	recID := env.seedLabelled(t, 0, 10, 1)

	_, err := env.trainer.Run(context.Background(), "m", []string{recID}, ModelLogistic, nil, nil, nil)
	var de *errdefs.DataError
	require.ErrorAs(t, err, &de)
}

func TestTrainerRunNeedsTwoClasses(t *testing.T) {
	env := newTrainEnv(t)
	a := env.seedLabelled(t, 0, 10, 1)
	b := env.seedLabelled(t, 0, 10, 2)

	_, err := env.trainer.Run(context.Background(), "m", []string{a, b}, ModelLogistic, nil, nil, nil)
	var de *errdefs.DataError
	require.ErrorAs(t, err, &de)
}

func TestTrainerRunAbortsOnProgressError(t *testing.T) {
	env := newTrainEnv(t)
	ctx := context.Background()

	var recIDs []string
	for i := 0; i < 4; i++ {
		recIDs = append(recIDs, env.seedLabelled(t, i%2, 10, int64(i+20)))
	}
	labels := map[string]int{recIDs[1]: 1, recIDs[3]: 1}

	_, err := env.trainer.Run(ctx, "m", recIDs, ModelLogistic, nil, labels,
		func(float64) error { return errdefs.ErrCancelled })
	require.ErrorIs(t, err, errdefs.ErrCancelled)
}

func TestPromoteEnforcesThresholds(t *testing.T) {
	env := newTrainEnv(t)
	ctx := context.Background()

	weak := &store.Model{
		ID:      "weak",
		Type:    ModelLogistic,
		Metrics: map[string]float64{"roc_auc": 0.6, "f1": 0.9},
		Stage:   store.StageCandidate,
	}
	require.NoError(t, env.st.CreateModel(ctx, weak))

	err := env.trainer.Promote(ctx, "weak")
	var te *errdefs.ThresholdError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "roc_auc", te.Metric)
}

func TestPromoteSwapsProduction(t *testing.T) {
	env := newTrainEnv(t)
	ctx := context.Background()

	mk := func(id string) {
		require.NoError(t, env.st.CreateModel(ctx, &store.Model{
			ID:      id,
			Type:    ModelLogistic,
			Metrics: map[string]float64{"roc_auc": 0.9, "f1": 0.85},
			Stage:   store.StageCandidate,
		}))
	}
	mk("first")
	mk("second")

	require.NoError(t, env.trainer.Promote(ctx, "first"))
	prod, err := env.st.ProductionModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", prod.ID)

	require.NoError(t, env.trainer.Promote(ctx, "second"))
	prod, err = env.st.ProductionModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", prod.ID)

	demoted, err := env.st.GetModel(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, store.StageCandidate, demoted.Stage)
}

func TestPredictOverStoredFeatures(t *testing.T) {
	env := newTrainEnv(t)
	ctx := context.Background()

	var recIDs []string
	for i := 0; i < 4; i++ {
		recIDs = append(recIDs, env.seedLabelled(t, i%2, 20, int64(i+30)))
	}
	labels := map[string]int{recIDs[1]: 1, recIDs[3]: 1}

	_, err := env.trainer.Run(ctx, "model-p", recIDs, ModelLogistic, nil, labels, nil)
	require.NoError(t, err)

	// An unseen class-1 recording should be predicted mostly 1.
	target := env.seedLabelled(t, 1, 15, 99)
	result, err := env.trainer.Predict(ctx, "model-p", target)
	require.NoError(t, err)
	require.Equal(t, 15, result.NSamples)

	ones := 0
	for _, p := range result.Predictions {
		if p == 1 {
			ones++
		}
	}
	assert.GreaterOrEqual(t, ones, 13)
	for _, probs := range result.Probabilities {
		assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)
	}
}

func TestPredictMissingArtifact(t *testing.T) {
	env := newTrainEnv(t)
	ctx := context.Background()

	require.NoError(t, env.st.CreateModel(ctx, &store.Model{ID: "untrained", Type: ModelLogistic}))
	_, err := env.trainer.Predict(ctx, "untrained", "whatever")
	var me *errdefs.ModelError
	require.ErrorAs(t, err, &me)
}

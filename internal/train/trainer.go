// SPDX-License-Identifier: MIT

package train

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/feature"
	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
)

// randomSeed fixes every stochastic stage of training so repeated runs over
// the same data produce the same model.
const randomSeed int64 = 42

// Trainer runs the full training flow: dataset assembly, cross-validation,
// holdout evaluation, artifact and plot upload, model registration.
type Trainer struct {
	st      *store.DB
	objects storage.Store
	cfg     config.Training
	logger  zerolog.Logger
}

// NewTrainer wires the trainer's dependencies.
func NewTrainer(st *store.DB, objects storage.Store, cfg config.Training, logger zerolog.Logger) *Trainer {
	return &Trainer{
		st:      st,
		objects: objects,
		cfg:     cfg,
		logger:  logger.With().Str("component", "trainer").Logger(),
	}
}

// Progress receives fractional completion in [0,1]. A non-nil return aborts
// the run, which is how cooperative cancellation reaches the trainer.
type Progress func(fraction float64) error

func reportProgress(p Progress, fraction float64) error {
	if p == nil {
		return nil
	}
	return p(fraction)
}

// Run trains modelType over the recordings, evaluates it and registers the
// resulting model row. The model starts at stage candidate when it clears
// the promotion thresholds, development otherwise.
func (t *Trainer) Run(
	ctx context.Context,
	modelID string,
	recordingIDs []string,
	modelType string,
	params map[string]any,
	labels map[string]int,
	progress Progress,
) (*store.Model, error) {
	ds, err := BuildDataset(ctx, t.st, t.objects, recordingIDs, labels, t.logger)
	if err != nil {
		return nil, err
	}
	if len(ds.ClassCounts) < 2 {
		return nil, &errdefs.DataError{
			Reason: fmt.Sprintf("need at least 2 classes, got %d", len(ds.ClassCounts)),
		}
	}
	t.logger.Info().
		Int("n_samples", len(ds.X)).
		Int("n_recordings", len(ds.RecordingIDs)).
		Interface("class_counts", ds.ClassCounts).
		Msg("training data assembled")
	if err := reportProgress(progress, 0.2); err != nil {
		return nil, err
	}

	trainIdx, testIdx := StratifiedSplit(ds.Y, t.cfg.TestSplit, randomSeed)
	xTrain, yTrain := subset(ds.X, ds.Y, trainIdx)
	xTest, yTest := subset(ds.X, ds.Y, testIdx)

	if modelType == ModelRandomForest {
		if v, ok := params["grid_search"].(bool); ok && v {
			best := GridSearchRF(xTrain, yTrain, t.cfg.CVFolds, randomSeed)
			params = map[string]any{
				"n_estimators": best.NEstimators,
				"max_depth":    best.MaxDepth,
				"max_features": best.MaxFeatures,
			}
			if best.MaxFeatures == "frac" {
				params["max_features"] = best.FeatureFrac
			}
			t.logger.Info().Interface("params", params).Msg("grid search selected hyperparameters")
		}
	}

	// Cross-validation on the training portion.
	cvScores := map[string][]float64{"accuracy": {}, "f1": {}, "roc_auc": {}}
	folds := StratifiedKFold(yTrain, t.cfg.CVFolds, randomSeed)
	for _, valIdx := range folds {
		foldTrain := complement(len(yTrain), valIdx)
		xf, yf := subset(xTrain, yTrain, foldTrain)
		xv, yv := subset(xTrain, yTrain, valIdx)

		p, err := NewPipeline(modelType, randomSeed, params)
		if err != nil {
			return nil, err
		}
		if err := p.Fit(xf, yf); err != nil {
			return nil, fmt.Errorf("train: cv fold fit: %w", err)
		}
		pred := p.Predict(xv)
		proba := p.PredictProba(xv)

		cvScores["accuracy"] = append(cvScores["accuracy"], Accuracy(yv, pred))
		_, _, f1 := WeightedPRF(yv, pred, p.Classes())
		cvScores["f1"] = append(cvScores["f1"], f1)
		cvScores["roc_auc"] = append(cvScores["roc_auc"], ROCAUC(yv, proba, p.Classes()))
	}
	if err := reportProgress(progress, 0.5); err != nil {
		return nil, err
	}

	// Final fit on the full training set, evaluate on the holdout.
	pipeline, err := NewPipeline(modelType, randomSeed, params)
	if err != nil {
		return nil, err
	}
	if err := pipeline.Fit(xTrain, yTrain); err != nil {
		return nil, fmt.Errorf("train: final fit: %w", err)
	}
	if err := reportProgress(progress, 0.7); err != nil {
		return nil, err
	}

	yPred := pipeline.Predict(xTest)
	yProba := pipeline.PredictProba(xTest)

	accuracy := Accuracy(yTest, yPred)
	precision, recall, f1 := WeightedPRF(yTest, yPred, pipeline.Classes())
	auc := ROCAUC(yTest, yProba, pipeline.Classes())

	metrics := map[string]float64{
		"cv_accuracy_mean": meanOf(cvScores["accuracy"]),
		"cv_accuracy_std":  stdOf(cvScores["accuracy"]),
		"cv_f1_mean":       meanOf(cvScores["f1"]),
		"cv_f1_std":        stdOf(cvScores["f1"]),
		"cv_roc_auc_mean":  meanOf(cvScores["roc_auc"]),
		"cv_roc_auc_std":   stdOf(cvScores["roc_auc"]),
		"test_accuracy":    accuracy,
		"test_precision":   precision,
		"test_recall":      recall,
		"test_f1":          f1,
		"test_roc_auc":     auc,
		"accuracy":         accuracy,
		"f1":               f1,
		"roc_auc":          auc,
	}

	artifactURI, err := t.uploadArtifacts(ctx, modelID, pipeline, ds, metrics, yTest, yPred, yProba)
	if err != nil {
		return nil, err
	}
	if err := reportProgress(progress, 0.9); err != nil {
		return nil, err
	}

	stage := store.StageDevelopment
	if auc >= t.cfg.PromotionThresholds.ROCAUC && f1 >= t.cfg.PromotionThresholds.F1 {
		stage = store.StageCandidate
	}

	cvResults := make(map[string]any, len(cvScores))
	for k, v := range cvScores {
		cvResults[k] = v
	}
	model := &store.Model{
		ID:           modelID,
		Name:         fmt.Sprintf("%s over %d recordings", modelType, len(ds.RecordingIDs)),
		Type:         modelType,
		Hyperparams:  params,
		Metrics:      metrics,
		FeatureNames: ds.FeatureNames,
		CVResults:    cvResults,
		DatasetInfo: map[string]any{
			"n_samples":    len(ds.X),
			"n_recordings": len(ds.RecordingIDs),
			"class_counts": ds.ClassCounts,
			"test_split":   t.cfg.TestSplit,
			"cv_folds":     t.cfg.CVFolds,
		},
		Stage:        stage,
		ArtifactPath: artifactURI,
		RandomSeed:   randomSeed,
	}
	if err := t.st.CreateModel(ctx, model); err != nil {
		return nil, fmt.Errorf("train: register model: %w", err)
	}

	t.logger.Info().
		Str("model_id", modelID).
		Str("stage", string(stage)).
		Float64("roc_auc", auc).
		Float64("f1", f1).
		Msg("model training completed")
	return model, nil
}

func (t *Trainer) uploadArtifacts(
	ctx context.Context,
	modelID string,
	pipeline *Pipeline,
	ds *Dataset,
	metrics map[string]float64,
	yTest, yPred []int,
	yProba [][]float64,
) (string, error) {
	blob, err := EncodeArtifact(pipeline, ds.FeatureNames)
	if err != nil {
		return "", err
	}
	uri, err := t.objects.PutBytes(ctx, blob, storage.ModelPath(modelID), "application/octet-stream")
	if err != nil {
		return "", fmt.Errorf("train: upload artifact: %w", err)
	}

	metricsJSON, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("train: marshal metrics: %w", err)
	}
	if _, err := t.objects.PutBytes(ctx, metricsJSON, storage.ModelMetricsPath(modelID), "application/json"); err != nil {
		return "", fmt.Errorf("train: upload metrics: %w", err)
	}

	// Evaluation plots are best effort: a rendering failure is logged, not
	// fatal for the run.
	if png, err := PlotConfusionMatrix(yTest, yPred, pipeline.Classes()); err == nil {
		if _, err := t.objects.PutBytes(ctx, png, storage.EvalPlotPath(modelID, "confusion_matrix"), "image/png"); err != nil {
			return "", fmt.Errorf("train: upload confusion plot: %w", err)
		}
	} else {
		t.logger.Warn().Err(err).Msg("confusion matrix plot failed")
	}
	if png, err := PlotROCCurve(yTest, yProba, pipeline.Classes()); err == nil {
		if _, err := t.objects.PutBytes(ctx, png, storage.EvalPlotPath(modelID, "roc_curve"), "image/png"); err != nil {
			return "", fmt.Errorf("train: upload roc plot: %w", err)
		}
	} else {
		t.logger.Warn().Err(err).Msg("roc curve plot failed")
	}
	if imp := pipeline.FeatureImportances(); imp != nil {
		if png, err := PlotFeatureImportance(ds.FeatureNames, imp); err == nil {
			if _, err := t.objects.PutBytes(ctx, png, storage.EvalPlotPath(modelID, "feature_importance"), "image/png"); err != nil {
				return "", fmt.Errorf("train: upload importance plot: %w", err)
			}
		} else {
			t.logger.Warn().Err(err).Msg("feature importance plot failed")
		}
	}
	return uri, nil
}

// Promote moves a candidate model to production after re-checking the metric
// thresholds. The previous production model is demoted in the same
// transaction.
func (t *Trainer) Promote(ctx context.Context, modelID string) error {
	model, err := t.st.GetModel(ctx, modelID)
	if err != nil {
		return err
	}
	if auc := model.Metrics["roc_auc"]; auc < t.cfg.PromotionThresholds.ROCAUC {
		return &errdefs.ThresholdError{Metric: "roc_auc", Got: auc, Want: t.cfg.PromotionThresholds.ROCAUC}
	}
	if f1 := model.Metrics["f1"]; f1 < t.cfg.PromotionThresholds.F1 {
		return &errdefs.ThresholdError{Metric: "f1", Got: f1, Want: t.cfg.PromotionThresholds.F1}
	}
	if err := t.st.PromoteModel(ctx, modelID); err != nil {
		return err
	}
	if err := t.st.AppendAudit(ctx, "model_promoted", "model", modelID, map[string]any{
		"roc_auc": model.Metrics["roc_auc"],
		"f1":      model.Metrics["f1"],
	}); err != nil {
		t.logger.Warn().Err(err).Str("model_id", modelID).Msg("audit append failed")
	}
	t.logger.Info().Str("model_id", modelID).Msg("model promoted to production")
	return nil
}

// LoadArtifact fetches and decodes a model's serialized pipeline.
func (t *Trainer) LoadArtifact(ctx context.Context, modelID string) (*Artifact, error) {
	model, err := t.st.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if model.ArtifactPath == "" {
		return nil, &errdefs.ModelError{ModelID: modelID, Reason: "model has no trained artifact"}
	}
	blob, err := t.objects.GetBytes(ctx, storage.ModelPath(modelID))
	if err != nil {
		return nil, fmt.Errorf("train: download artifact: %w", err)
	}
	return DecodeArtifact(blob)
}

// PredictionResult is the outcome of batch prediction over a recording's
// stored features.
type PredictionResult struct {
	ModelID       string      `json:"model_id"`
	RecordingID   string      `json:"recording_id"`
	NSamples      int         `json:"n_samples"`
	Predictions   []int       `json:"predictions"`
	Probabilities [][]float64 `json:"probabilities"`
}

// Predict runs a trained model over a recording's channel-averaged feature
// table, one prediction per epoch.
func (t *Trainer) Predict(ctx context.Context, modelID, recordingID string) (*PredictionResult, error) {
	artifact, err := t.LoadArtifact(ctx, modelID)
	if err != nil {
		return nil, err
	}
	rec, err := t.st.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if rec.FeaturesPath == "" {
		return nil, &errdefs.DataError{Reason: fmt.Sprintf("recording %s has no features", recordingID)}
	}
	data, err := t.objects.GetBytes(ctx, storage.AveragedFeaturesPath(recordingID))
	if err != nil {
		return nil, fmt.Errorf("train: download features: %w", err)
	}
	rows, err := feature.DecodeParquet[feature.AveragedRow](data)
	if err != nil {
		return nil, fmt.Errorf("train: parse features: %w", err)
	}

	x := make([][]float64, len(rows))
	for i, row := range rows {
		x[i] = row.Values()
	}
	return &PredictionResult{
		ModelID:       modelID,
		RecordingID:   recordingID,
		NSamples:      len(x),
		Predictions:   artifact.Pipeline.Predict(x),
		Probabilities: artifact.Pipeline.PredictProba(x),
	}, nil
}

func meanOf(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// stdOf is the population standard deviation, matching how CV fold spreads
// are reported.
func stdOf(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	m := meanOf(x)
	var ss float64
	for _, v := range x {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(x)))
}

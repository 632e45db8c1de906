// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedRecording(t *testing.T, db *DB) *Recording {
	t.Helper()
	ctx := context.Background()
	sub := &Subject{Label: "S-" + t.Name()}
	require.NoError(t, db.CreateSubject(ctx, sub))
	sess := &Session{SubjectID: sub.ID}
	require.NoError(t, db.CreateSession(ctx, sess))
	rec := &Recording{SessionID: sess.ID, Filename: "rest.edf"}
	require.NoError(t, db.CreateRecording(ctx, rec))
	return rec
}

func TestRecordingLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)

	got, err := db.GetRecording(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, RecordingUploaded, got.Status)

	require.NoError(t, db.UpdateRecordingStatus(ctx, rec.ID, RecordingProcessing))
	require.NoError(t, db.UpdateRecordingStatus(ctx, rec.ID, RecordingProcessed))

	// processed -> processing is allowed (reprocessing), processed -> uploaded is not.
	require.NoError(t, db.UpdateRecordingStatus(ctx, rec.ID, RecordingProcessing))
	err = db.UpdateRecordingStatus(ctx, rec.ID, RecordingUploaded)
	var te *TransitionError
	require.ErrorAs(t, err, &te)

	require.NoError(t, db.UpdateRecordingStatus(ctx, rec.ID, RecordingNeedsReview))
	got, err = db.GetRecording(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, RecordingNeedsReview, got.Status)
}

func TestRecordingStatusIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)
	require.NoError(t, db.UpdateRecordingStatus(ctx, rec.ID, RecordingUploaded))
}

func TestIllegalTransitionFromUploaded(t *testing.T) {
	db := openTestDB(t)
	rec := seedRecording(t, db)
	err := db.UpdateRecordingStatus(context.Background(), rec.ID, RecordingProcessed)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "uploaded", te.From)
}

func TestRecordingArtifactPathsAndMeta(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)

	require.NoError(t, db.SetRecordingSignal(ctx, rec.ID, 250, 32, 120.5))
	require.NoError(t, db.SetRecordingProcessedPath(ctx, rec.ID, "s3://neurolab/processed/x/cleaned_raw.fif"))
	require.NoError(t, db.SetRecordingFeaturesPath(ctx, rec.ID, "s3://neurolab/features/x/features.parquet"))
	require.NoError(t, db.PatchRecordingMeta(ctx, rec.ID, map[string]any{"bad_channels": []any{"Pz"}}))
	require.NoError(t, db.PatchRecordingMeta(ctx, rec.ID, map[string]any{"n_epochs": float64(9)}))

	got, err := db.GetRecording(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 250.0, got.Sfreq)
	assert.Equal(t, 32, got.Channels)
	assert.NotEmpty(t, got.ProcessedPath)
	assert.Equal(t, []any{"Pz"}, got.Meta["bad_channels"], "earlier patches survive later ones")
	assert.Equal(t, float64(9), got.Meta["n_epochs"])
}

func TestJobClaimIsExclusive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)

	j1, err := db.EnqueueJob(ctx, rec.ID, StepPreprocessing, nil)
	require.NoError(t, err)
	_, err = db.EnqueueJob(ctx, rec.ID, StepTraining, nil)
	require.NoError(t, err)

	claimed, err := db.ClaimJob(ctx, StepPreprocessing)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, j1.ID, claimed.ID)
	assert.Equal(t, JobRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	// The queue is now empty for this step.
	again, err := db.ClaimJob(ctx, StepPreprocessing)
	require.NoError(t, err)
	assert.Nil(t, again)

	// The training job is untouched by the preprocessing queue.
	trainJob, err := db.ClaimJob(ctx, StepTraining)
	require.NoError(t, err)
	require.NotNil(t, trainJob)
	assert.Equal(t, StepTraining, trainJob.Step)
}

func TestJobClaimOldestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)

	first, err := db.EnqueueJob(ctx, rec.ID, StepFeatureExtraction, nil)
	require.NoError(t, err)
	_, err = db.EnqueueJob(ctx, rec.ID, StepFeatureExtraction, nil)
	require.NoError(t, err)

	claimed, err := db.ClaimJob(ctx, StepFeatureExtraction)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestJobProgressAndCompletion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)
	job, err := db.EnqueueJob(ctx, rec.ID, StepPreprocessing, map[string]any{"notch": float64(50)})
	require.NoError(t, err)

	_, err = db.ClaimJob(ctx, StepPreprocessing)
	require.NoError(t, err)

	require.NoError(t, db.SetJobProgress(ctx, job.ID, 0.4))
	require.NoError(t, db.AppendJobLog(ctx, job.ID, "Applying notch filter..."))
	require.NoError(t, db.AppendJobLog(ctx, job.ID, "Applying band-pass filter..."))
	require.NoError(t, db.CompleteJob(ctx, job.ID))

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Contains(t, got.Log, "notch filter")
	assert.Contains(t, got.Log, "band-pass filter")
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, float64(50), got.Params["notch"])

	// Terminal jobs reject further transitions.
	err = db.FailJob(ctx, job.ID, "boom")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
}

func TestRequestCancelPendingJob(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)
	job, err := db.EnqueueJob(ctx, rec.ID, StepTraining, nil)
	require.NoError(t, err)

	require.NoError(t, db.RequestCancel(ctx, job.ID))
	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, got.Status, "pending jobs cancel immediately")

	// A cancelled job cannot be claimed.
	claimed, err := db.ClaimJob(ctx, StepTraining)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestRequestCancelRunningJob(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)
	job, err := db.EnqueueJob(ctx, rec.ID, StepPreprocessing, nil)
	require.NoError(t, err)
	_, err = db.ClaimJob(ctx, StepPreprocessing)
	require.NoError(t, err)

	require.NoError(t, db.RequestCancel(ctx, job.ID))

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status, "running jobs cancel at the next checkpoint")

	flag, err := db.CancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, flag)

	require.NoError(t, db.CancelJob(ctx, job.ID))
	got, err = db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, got.Status)
}

func TestFailedJobKeepsCheckpointedProgress(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)
	job, err := db.EnqueueJob(ctx, rec.ID, StepPreprocessing, nil)
	require.NoError(t, err)
	_, err = db.ClaimJob(ctx, StepPreprocessing)
	require.NoError(t, err)

	require.NoError(t, db.SetJobProgress(ctx, job.ID, 0.6))
	require.NoError(t, db.FailJob(ctx, job.ID, "decode failed"))

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, 0.6, got.Progress, "failure must not rewind progress")
	assert.Equal(t, "decode failed", got.Error)
}

func TestCancelledJobKeepsCheckpointedProgress(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)
	job, err := db.EnqueueJob(ctx, rec.ID, StepPreprocessing, nil)
	require.NoError(t, err)
	_, err = db.ClaimJob(ctx, StepPreprocessing)
	require.NoError(t, err)

	require.NoError(t, db.SetJobProgress(ctx, job.ID, 0.5))
	require.NoError(t, db.CancelJob(ctx, job.ID))

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, got.Status)
	assert.Equal(t, 0.5, got.Progress, "cancellation must not rewind progress")
}

func TestRequestCancelFinishedJobIsNoop(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := seedRecording(t, db)
	job, err := db.EnqueueJob(ctx, rec.ID, StepPreprocessing, nil)
	require.NoError(t, err)
	_, err = db.ClaimJob(ctx, StepPreprocessing)
	require.NoError(t, err)
	require.NoError(t, db.CompleteJob(ctx, job.ID))

	require.NoError(t, db.RequestCancel(ctx, job.ID), "cancelling a finished job is idempotent")

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)

	var nf *NotFoundError
	require.ErrorAs(t, db.RequestCancel(ctx, "nope"), &nf, "unknown jobs still 404")
}

func TestModelPromotionSwapsProduction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mA := &Model{Name: "rest-vs-task", Type: "logistic", Stage: StageCandidate,
		Metrics: map[string]float64{"roc_auc": 0.8, "f1_weighted": 0.7}}
	require.NoError(t, db.CreateModel(ctx, mA))
	require.NoError(t, db.PromoteModel(ctx, mA.ID))

	prod, err := db.ProductionModel(ctx)
	require.NoError(t, err)
	require.NotNil(t, prod)
	assert.Equal(t, mA.ID, prod.ID)

	mB := &Model{Name: "rest-vs-task", Type: "random_forest", Stage: StageCandidate,
		Metrics: map[string]float64{"roc_auc": 0.85, "f1_weighted": 0.72}}
	require.NoError(t, db.CreateModel(ctx, mB))
	require.NoError(t, db.PromoteModel(ctx, mB.ID))

	prod, err = db.ProductionModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, mB.ID, prod.ID)

	demoted, err := db.GetModel(ctx, mA.ID)
	require.NoError(t, err)
	assert.Equal(t, StageCandidate, demoted.Stage, "old production demotes in the same transaction")
}

func TestPromoteRequiresCandidate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := &Model{Name: "m", Type: "logistic"}
	require.NoError(t, db.CreateModel(ctx, m))

	err := db.PromoteModel(ctx, m.ID)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "development", te.From)

	require.NoError(t, db.SetModelStage(ctx, m.ID, StageCandidate))
	require.NoError(t, db.PromoteModel(ctx, m.ID))
	require.NoError(t, db.PromoteModel(ctx, m.ID), "promoting the production model is a no-op")
}

func TestModelRoundTripFields(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := &Model{
		Name:         "rest-vs-task",
		Type:         "random_forest",
		Hyperparams:  map[string]any{"n_estimators": float64(200)},
		Metrics:      map[string]float64{"accuracy": 0.9},
		FeatureNames: []string{"band_alpha", "rel_alpha"},
		DatasetInfo:  map[string]any{"n_samples": float64(180)},
		ArtifactPath: "s3://neurolab/models/x/model.msgpack",
		RandomSeed:   42,
	}
	require.NoError(t, db.CreateModel(ctx, m))

	got, err := db.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.FeatureNames, got.FeatureNames)
	assert.Equal(t, m.Metrics, got.Metrics)
	assert.Equal(t, m.Hyperparams, got.Hyperparams)
	assert.Equal(t, "1.0.0", got.Version)
	assert.Equal(t, int64(42), got.RandomSeed)
}

func TestTrainableRecordingCounts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	withFeatures := seedRecording(t, db)
	require.NoError(t, db.SetRecordingFeaturesPath(ctx, withFeatures.ID, "s3://neurolab/features/a/features.parquet"))
	seedRecording(t, db) // no features

	n, err := db.CountTrainableRecordingsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = db.CountTrainableRecordingsSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	list, err := db.ListTrainableRecordings(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, withFeatures.ID, list[0].ID)
}

func TestAuditTrail(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AppendAudit(ctx, "model_promoted", "model", "m-1",
		map[string]any{"roc_auc": 0.8}))
	require.NoError(t, db.AppendAudit(ctx, "retrain_recommended", "", "",
		map[string]any{"new_recordings": float64(25)}))

	entries, err := db.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	actions := []string{entries[0].Action, entries[1].Action}
	assert.Contains(t, actions, "model_promoted")
	assert.Contains(t, actions, "retrain_recommended")
}

// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/dsp"
	"github.com/neurolab/neurolab/internal/sigio"
	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
	"github.com/neurolab/neurolab/internal/viz"
)

// Progress fractions of the preprocessing checkpoints.
var preprocessProgress = map[string]float64{
	"download":           0.1,
	"decode":             0.2,
	dsp.StageResample:    0.3,
	dsp.StageNotch:       0.4,
	dsp.StageBandpass:    0.5,
	dsp.StageBadChannels: 0.6,
	dsp.StageICA:         0.7,
	"save":               0.85,
	"visualizations":     0.9,
}

// PreprocessWorker downloads the raw recording, runs the cleaning chain and
// stores the cleaned FIF plus visualization artifacts. On success it chains
// a feature-extraction job.
type PreprocessWorker struct {
	cfg     config.Config
	st      *store.DB
	objects storage.Store
	orch    *Orchestrator
}

func NewPreprocessWorker(cfg config.Config, st *store.DB, objects storage.Store, orch *Orchestrator) *PreprocessWorker {
	return &PreprocessWorker{cfg: cfg, st: st, objects: objects, orch: orch}
}

func (w *PreprocessWorker) Step() store.JobStep { return store.StepPreprocessing }

func (w *PreprocessWorker) Run(ctx context.Context, job *store.Job, checkpoint Checkpoint) error {
	rec, err := w.st.GetRecording(ctx, job.RecordingID)
	if err != nil {
		return err
	}
	if rec.RawPath == "" {
		return fmt.Errorf("recording %s has no raw artifact", rec.ID)
	}
	if err := w.st.UpdateRecordingStatus(ctx, rec.ID, store.RecordingProcessing); err != nil {
		return err
	}
	w.orch.publishRecording(ctx, rec.ID, store.RecordingProcessing, nil)

	if err := checkpoint("download", preprocessProgress["download"]); err != nil {
		return err
	}
	raw, err := w.objects.GetBytes(ctx, rec.RawPath)
	if err != nil {
		return err
	}

	if err := checkpoint("decode", preprocessProgress["decode"]); err != nil {
		return err
	}
	buf, err := sigio.Decode(rec.Filename, raw)
	if err != nil {
		return err
	}
	// Signal geometry is captured on first decode and immutable after.
	if rec.Sfreq == 0 {
		if err := w.st.SetRecordingSignal(ctx, rec.ID, buf.SampleRate, buf.NChannels(), buf.Duration()); err != nil {
			return err
		}
	}

	report, err := dsp.Preprocess(buf, dsp.Config{
		TargetSfreq:  w.cfg.TargetSfreq,
		NotchFreqs:   w.cfg.NotchFreqs,
		BandpassLow:  w.cfg.Bandpass.Low,
		BandpassHigh: w.cfg.Bandpass.High,
		ICA: dsp.ICAConfig{
			NComponents:      w.cfg.ICA.NComponents,
			RandomState:      w.cfg.ICA.RandomState,
			EOGCorrThreshold: w.cfg.ICA.EOGCorrThreshold,
			ECGCorrThreshold: w.cfg.ICA.ECGCorrThreshold,
		},
		Artifact: dsp.ArtifactConfig{
			FlatThreshold:      w.cfg.Artifact.FlatThreshold,
			HighVarianceZScore: w.cfg.Artifact.HighVarianceZScore,
			KurtosisThreshold:  w.cfg.Artifact.KurtosisThreshold,
			MuscleRMSThreshold: w.cfg.Artifact.MuscleRMSThreshold,
			MaxBadChannelsPct:  w.cfg.Artifact.MaxBadChannelsPct,
		},
	}, func(stage string) error {
		return checkpoint(stage, preprocessProgress[stage])
	})
	if err != nil {
		return err
	}

	if err := checkpoint("save", preprocessProgress["save"]); err != nil {
		return err
	}
	cleaned, err := sigio.EncodeFIF(buf)
	if err != nil {
		return err
	}
	cleanedPath := storage.CleanedPath(rec.ID)
	if _, err := w.objects.PutBytes(ctx, cleaned, cleanedPath, "application/octet-stream"); err != nil {
		return err
	}
	if err := w.st.SetRecordingProcessedPath(ctx, rec.ID, cleanedPath); err != nil {
		return err
	}
	if err := w.st.PatchRecordingMeta(ctx, rec.ID, map[string]any{"preprocessing": reportMap(report)}); err != nil {
		return err
	}

	if err := checkpoint("visualizations", preprocessProgress["visualizations"]); err != nil {
		return err
	}
	w.uploadPlots(ctx, rec.ID, buf)

	next := store.RecordingProcessed
	if report.NeedsReview {
		next = store.RecordingNeedsReview
	}
	if err := w.st.UpdateRecordingStatus(ctx, rec.ID, next); err != nil {
		return err
	}
	w.orch.publishRecording(ctx, rec.ID, next, map[string]any{
		"bad_channels": report.BadChannels,
		"needs_review": report.NeedsReview,
	})

	if !report.NeedsReview {
		if _, err := w.st.EnqueueJob(ctx, rec.ID, store.StepFeatureExtraction, nil); err != nil {
			return fmt.Errorf("chain feature extraction: %w", err)
		}
	}
	return nil
}

// uploadPlots renders and stores the visualization artifacts. Failures are
// logged by the caller's job log, never fatal.
func (w *PreprocessWorker) uploadPlots(ctx context.Context, recordingID string, buf *sigio.Buffer) {
	if png, err := viz.PSDPlot(buf, w.cfg.Features.WelchWindowSec); err == nil {
		_, _ = w.objects.PutBytes(ctx, png, storage.VisualizationPath(recordingID, "psd"), "image/png")
	}
	if png, err := viz.WaveformPlot(buf); err == nil {
		_, _ = w.objects.PutBytes(ctx, png, storage.VisualizationPath(recordingID, "waveform"), "image/png")
	}
}

// reportMap converts the typed report into a JSON-friendly map for the
// recording's meta column.
func reportMap(r *dsp.Report) map[string]any {
	raw, err := json.Marshal(r)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}

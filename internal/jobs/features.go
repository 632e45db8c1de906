// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/feature"
	"github.com/neurolab/neurolab/internal/sigio"
	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
)

// FeatureWorker computes the feature tables from a cleaned recording and
// uploads the parquet pair plus the summary sidecar.
type FeatureWorker struct {
	cfg     config.Config
	st      *store.DB
	objects storage.Store
}

func NewFeatureWorker(cfg config.Config, st *store.DB, objects storage.Store) *FeatureWorker {
	return &FeatureWorker{cfg: cfg, st: st, objects: objects}
}

func (w *FeatureWorker) Step() store.JobStep { return store.StepFeatureExtraction }

func (w *FeatureWorker) Run(ctx context.Context, job *store.Job, checkpoint Checkpoint) error {
	rec, err := w.st.GetRecording(ctx, job.RecordingID)
	if err != nil {
		return err
	}
	if rec.ProcessedPath == "" {
		return &errdefs.DataError{Reason: fmt.Sprintf("recording %s has not been preprocessed", rec.ID)}
	}

	if err := checkpoint("download", 0.2); err != nil {
		return err
	}
	cleaned, err := w.objects.GetBytes(ctx, rec.ProcessedPath)
	if err != nil {
		return err
	}

	if err := checkpoint("load", 0.3); err != nil {
		return err
	}
	buf, err := sigio.DecodeFIF(cleaned)
	if err != nil {
		return err
	}
	extractor, err := feature.NewExtractor(w.cfg.Features)
	if err != nil {
		return err
	}

	if err := checkpoint("epochs", 0.5); err != nil {
		return err
	}
	rows, err := extractor.ExtractAll(buf)
	if err != nil {
		return err
	}
	averaged := feature.ChannelAveraged(rows)

	if err := checkpoint("connectivity", 0.7); err != nil {
		return err
	}
	connectivity := extractor.Connectivity(buf)
	summary := feature.Summarize(rows, connectivity)

	if err := checkpoint("save", 0.85); err != nil {
		return err
	}
	perChannel, err := feature.EncodeParquet(rows)
	if err != nil {
		return err
	}
	avgBlob, err := feature.EncodeParquet(averaged)
	if err != nil {
		return err
	}
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	featuresPath := storage.FeaturesPath(rec.ID)
	if _, err := w.objects.PutBytes(ctx, perChannel, featuresPath, "application/octet-stream"); err != nil {
		return err
	}
	if _, err := w.objects.PutBytes(ctx, avgBlob, storage.AveragedFeaturesPath(rec.ID), "application/octet-stream"); err != nil {
		return err
	}
	if _, err := w.objects.PutBytes(ctx, summaryJSON, storage.FeatureSummaryPath(rec.ID), "application/json"); err != nil {
		return err
	}
	return w.st.SetRecordingFeaturesPath(ctx, rec.ID, featuresPath)
}

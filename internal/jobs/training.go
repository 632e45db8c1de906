// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/store"
	"github.com/neurolab/neurolab/internal/train"
)

// TrainWorker runs a training job. Job params:
//
//	model_type    "logistic" (default) or "random_forest"
//	model_id      optional, generated when absent
//	recording_ids optional, all trainable recordings when absent
//	labels        map recording_id -> class label
//	grid_search   bool, random_forest only
type TrainWorker struct {
	cfg     config.Config
	st      *store.DB
	trainer *train.Trainer
}

func NewTrainWorker(cfg config.Config, st *store.DB, trainer *train.Trainer) *TrainWorker {
	return &TrainWorker{cfg: cfg, st: st, trainer: trainer}
}

func (w *TrainWorker) Step() store.JobStep { return store.StepTraining }

func (w *TrainWorker) Run(ctx context.Context, job *store.Job, checkpoint Checkpoint) error {
	modelType := train.ModelLogistic
	if v, ok := job.Params["model_type"].(string); ok && v != "" {
		modelType = v
	}
	modelID, _ := job.Params["model_id"].(string)
	if modelID == "" {
		modelID = uuid.NewString()
	}

	recordingIDs, err := w.resolveRecordings(ctx, job)
	if err != nil {
		return err
	}
	labels := parseLabels(job.Params["labels"])

	if err := checkpoint("dataset", 0.1); err != nil {
		return err
	}
	model, err := w.trainer.Run(ctx, modelID, recordingIDs, modelType, job.Params, labels,
		func(fraction float64) error {
			// Map the trainer's [0,1] onto the job's [0.1, 0.95] band.
			return checkpoint("training", 0.1+0.85*fraction)
		})
	if err != nil {
		return err
	}

	if err := w.st.AppendAudit(ctx, "model_trained", "model", model.ID, map[string]any{
		"type":    model.Type,
		"stage":   string(model.Stage),
		"roc_auc": model.Metrics["roc_auc"],
		"f1":      model.Metrics["f1"],
	}); err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

// resolveRecordings reads the explicit ID list from params, falling back to
// every recording with stored features.
func (w *TrainWorker) resolveRecordings(ctx context.Context, job *store.Job) ([]string, error) {
	if raw, ok := job.Params["recording_ids"].([]any); ok && len(raw) > 0 {
		ids := make([]string, 0, len(raw))
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("recording_ids entry %v is not a string", v)
			}
			ids = append(ids, s)
		}
		return ids, nil
	}
	recs, err := w.st.ListTrainableRecordings(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &errdefs.DataError{Reason: "no recordings with features available"}
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return ids, nil
}

// parseLabels tolerates the numeric types JSON round trips produce.
func parseLabels(raw any) map[string]int {
	out := make(map[string]int)
	m, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range m {
		switch n := v.(type) {
		case int:
			out[k] = n
		case int64:
			out[k] = int(n)
		case float64:
			out[k] = int(n)
		}
	}
	return out
}

// SPDX-License-Identifier: MIT

// Package retrain periodically checks whether enough new labelled data has
// accumulated since the production model was trained and, when it has,
// either enqueues a retraining job or records a recommendation for a human
// to act on.
package retrain

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/neurolab/neurolab/internal/audit"
	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/store"
)

// Scheduler runs the retrain tick.
type Scheduler struct {
	cfg    config.Config
	st     *store.DB
	trail  *audit.Trail
	logger zerolog.Logger
}

func New(cfg config.Config, st *store.DB, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		st:     st,
		trail:  audit.NewTrail(st, logger),
		logger: logger.With().Str("component", "retrain").Logger(),
	}
}

// Run ticks at the configured period until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	period := s.cfg.Retrain.Period
	if period <= 0 {
		period = time.Hour
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("retrain tick failed")
			}
		}
	}
}

// Tick runs one retrain evaluation. Without a production model there is no
// baseline to improve on, so the tick is a no-op.
func (s *Scheduler) Tick(ctx context.Context) error {
	prod, err := s.st.ProductionModel(ctx)
	if err != nil {
		return err
	}
	if prod == nil {
		s.logger.Debug().Msg("no production model, skipping retrain check")
		return nil
	}

	fresh, err := s.st.CountTrainableRecordingsSince(ctx, prod.CreatedAt)
	if err != nil {
		return err
	}
	if fresh < s.cfg.Retrain.MinRecordings {
		s.logger.Debug().
			Int("new_recordings", fresh).
			Int("min_recordings", s.cfg.Retrain.MinRecordings).
			Msg("not enough new data for retrain")
		return nil
	}

	if len(s.cfg.DefaultLabels) == 0 {
		// No label source configured, so a human has to launch the run.
		s.logger.Info().
			Int("new_recordings", fresh).
			Str("production_model", prod.ID).
			Msg("retrain recommended, no default labels configured")
		return s.trail.Record(ctx, audit.Event{
			Action:     audit.ActionRetrainRecommended,
			TargetType: "model",
			TargetID:   prod.ID,
			Detail: map[string]any{
				"new_recordings": fresh,
				"min_required":   s.cfg.Retrain.MinRecordings,
			},
		})
	}

	labels := make(map[string]any, len(s.cfg.DefaultLabels))
	for k, v := range s.cfg.DefaultLabels {
		labels[k] = v
	}
	// Training jobs hang off a recording row; anchor on the newest one.
	recs, err := s.st.ListTrainableRecordings(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	anchor := recs[len(recs)-1]
	job, err := s.st.EnqueueJob(ctx, anchor.ID, store.StepTraining, map[string]any{
		"model_type": prod.Type,
		"labels":     labels,
		"trigger":    "auto_retrain",
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Int("new_recordings", fresh).
		Str("production_model", prod.ID).
		Msg("auto-retrain job enqueued")
	return s.trail.Record(ctx, audit.Event{
		Action:     audit.ActionRetrainEnqueued,
		TargetType: "job",
		TargetID:   job.ID,
		Detail: map[string]any{
			"new_recordings":   fresh,
			"production_model": prod.ID,
		},
	})
}

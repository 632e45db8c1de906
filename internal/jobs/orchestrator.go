// SPDX-License-Identifier: MIT

// Package jobs runs the asynchronous processing pipeline: it claims pending
// job rows from the store, executes the matching worker with checkpointed
// progress, and owns the failure, timeout and cancellation paths.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/neurolab/neurolab/internal/bus"
	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/metrics"
	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
	"github.com/neurolab/neurolab/internal/train"
)

const (
	// pollInterval between claim attempts on an idle queue.
	pollInterval = 500 * time.Millisecond
	// softTimeLimit after which the next checkpoint aborts the job.
	softTimeLimit = 50 * time.Minute
	// hardTimeLimit kills the job context outright.
	hardTimeLimit = 60 * time.Minute
)

// Handler executes one claimed job. Implementations report progress through
// the runner's checkpoint callback and return errdefs errors for the failure
// handler to classify.
type Handler interface {
	Step() store.JobStep
	Run(ctx context.Context, job *store.Job, checkpoint Checkpoint) error
}

// Checkpoint records a named stage at a progress fraction. It returns
// errdefs.ErrCancelled when cancellation was requested and a TimeoutError
// past the soft limit; workers abort on any non-nil return.
type Checkpoint func(stage string, progress float64) error

// queue binds a set of job steps to a worker concurrency.
type queue struct {
	name        string
	steps       []store.JobStep
	concurrency int
}

// Orchestrator drives all job queues.
type Orchestrator struct {
	st      *store.DB
	events  bus.Bus
	logger  zerolog.Logger
	handler map[store.JobStep]Handler
	queues  []queue
}

// New assembles the orchestrator with the standard three queues:
// preprocessing and feature extraction share one serial queue, training is
// serial, realtime jobs fan out over the configured worker count.
func New(cfg config.Config, st *store.DB, objects storage.Store, events bus.Bus, trainer *train.Trainer, logger zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		st:      st,
		events:  events,
		logger:  logger.With().Str("component", "jobs").Logger(),
		handler: make(map[store.JobStep]Handler),
		queues: []queue{
			{name: "preprocessing", steps: []store.JobStep{store.StepPreprocessing, store.StepFeatureExtraction}, concurrency: 1},
			{name: "training", steps: []store.JobStep{store.StepTraining}, concurrency: 1},
		},
	}
	o.Register(NewPreprocessWorker(cfg, st, objects, o))
	o.Register(NewFeatureWorker(cfg, st, objects))
	o.Register(NewTrainWorker(cfg, st, trainer))
	return o
}

// Register adds a handler for its step. Handlers must be registered before
// Run starts.
func (o *Orchestrator) Register(h Handler) {
	o.handler[h.Step()] = h
}

// Run polls all queues until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range o.queues {
		for i := 0; i < q.concurrency; i++ {
			g.Go(func() error { return o.runQueue(ctx, q) })
		}
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (o *Orchestrator) runQueue(ctx context.Context, q queue) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		job, err := o.st.ClaimJob(ctx, q.steps...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error().Err(err).Str("queue", q.name).Msg("claim failed")
			continue
		}
		if job == nil {
			continue
		}
		o.execute(ctx, q.name, job)
	}
}

// execute runs one claimed job through its handler with progress reporting,
// time limits and the failure handler.
func (o *Orchestrator) execute(ctx context.Context, queueName string, job *store.Job) {
	started := time.Now()
	metrics.JobsRunning.WithLabelValues(queueName).Inc()
	defer metrics.JobsRunning.WithLabelValues(queueName).Dec()

	logger := o.logger.With().
		Str("job_id", job.ID).
		Str("step", string(job.Step)).
		Str("recording_id", job.RecordingID).
		Logger()
	logger.Info().Str("event", "job.start").Msg("job claimed")

	jobCtx, cancel := context.WithTimeout(ctx, hardTimeLimit)
	defer cancel()

	checkpoint := o.checkpointFunc(jobCtx, job, started, logger)

	handler, ok := o.handler[job.Step]
	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for step %s", job.Step)
	} else {
		err = handler.Run(jobCtx, job, checkpoint)
	}

	switch {
	case err == nil:
		if cerr := o.st.CompleteJob(ctx, job.ID); cerr != nil {
			logger.Error().Err(cerr).Msg("completion write failed")
		}
		o.publishProgress(ctx, job, 1.0, string(store.JobCompleted), "")
		metrics.ObserveJobDone(string(job.Step), string(store.JobCompleted), time.Since(started))
		logger.Info().Str("event", "job.done").Dur("took", time.Since(started)).Msg("job completed")

	case errors.Is(err, errdefs.ErrCancelled):
		if cerr := o.st.CancelJob(ctx, job.ID); cerr != nil {
			logger.Error().Err(cerr).Msg("cancel write failed")
		}
		o.publishProgress(ctx, job, job.Progress, string(store.JobCancelled), "")
		metrics.JobCancellations.WithLabelValues(string(job.Step)).Inc()
		metrics.ObserveJobDone(string(job.Step), string(store.JobCancelled), time.Since(started))
		logger.Info().Str("event", "job.cancelled").Msg("job cancelled at checkpoint")
		o.failRecording(ctx, job, logger)

	default:
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			err = &errdefs.TimeoutError{Limit: hardTimeLimit.String()}
		}
		if lerr := o.st.AppendJobLog(ctx, job.ID, "ERROR: "+err.Error()); lerr != nil {
			logger.Warn().Err(lerr).Msg("log append failed")
		}
		if ferr := o.st.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failure write failed")
		}
		o.publishProgress(ctx, job, job.Progress, string(store.JobFailed), err.Error())
		metrics.ObserveJobDone(string(job.Step), string(store.JobFailed), time.Since(started))
		logger.Error().Err(err).Str("event", "job.failed").Msg("job failed")
		o.failRecording(ctx, job, logger)
	}
}

// failRecording moves the recording to failed, but only for the
// preprocessing step: downstream steps leave the processed artifact intact.
func (o *Orchestrator) failRecording(ctx context.Context, job *store.Job, logger zerolog.Logger) {
	if job.Step != store.StepPreprocessing {
		return
	}
	rec, err := o.st.GetRecording(ctx, job.RecordingID)
	if err != nil || rec.Status != store.RecordingProcessing {
		return
	}
	if err := o.st.UpdateRecordingStatus(ctx, job.RecordingID, store.RecordingFailed); err != nil {
		logger.Error().Err(err).Msg("recording failure transition failed")
		return
	}
	o.publishRecording(ctx, job.RecordingID, store.RecordingFailed, nil)
}

// checkpointFunc builds the per-job checkpoint: cancellation poll, soft
// limit, progress persistence and bus fan-out.
func (o *Orchestrator) checkpointFunc(ctx context.Context, job *store.Job, started time.Time, logger zerolog.Logger) Checkpoint {
	return func(stage string, progress float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cancelled, err := o.st.CancelRequested(ctx, job.ID)
		if err != nil {
			logger.Warn().Err(err).Msg("cancellation poll failed")
		} else if cancelled {
			return errdefs.ErrCancelled
		}
		if time.Since(started) > softTimeLimit {
			return &errdefs.TimeoutError{Limit: softTimeLimit.String()}
		}

		job.Progress = progress
		if err := o.st.SetJobProgress(ctx, job.ID, progress); err != nil {
			logger.Warn().Err(err).Msg("progress write failed")
		}
		line := fmt.Sprintf("%s: %s", time.Now().UTC().Format(time.RFC3339), stage)
		if err := o.st.AppendJobLog(ctx, job.ID, line); err != nil {
			logger.Warn().Err(err).Msg("log append failed")
		}
		o.publishProgress(ctx, job, progress, string(store.JobRunning), stage)
		logger.Debug().Str("stage", stage).Float64("progress", progress).Msg("checkpoint")
		return nil
	}
}

func (o *Orchestrator) publishProgress(ctx context.Context, job *store.Job, progress float64, status, logLine string) {
	msg := bus.JobProgress{
		JobID:    job.ID,
		Progress: progress,
		Status:   status,
		Log:      logLine,
	}
	if err := bus.PublishJobProgress(ctx, o.events, msg); err != nil && ctx.Err() == nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("progress publish failed")
	}
}

func (o *Orchestrator) publishRecording(ctx context.Context, recordingID string, status store.RecordingStatus, data map[string]any) {
	msg := bus.Message{
		Event: bus.EventRecordingUpdate,
		Payload: bus.RecordingUpdate{
			RecordingID: recordingID,
			Status:      string(status),
			Data:        data,
		},
	}
	if err := o.events.Publish(ctx, bus.RecordingRoom(recordingID), msg); err != nil && ctx.Err() == nil {
		o.logger.Warn().Err(err).Str("recording_id", recordingID).Msg("recording publish failed")
	}
}

// EnqueueBatch creates one job per recording, returning the created jobs.
// Individual enqueue failures abort the batch.
func (o *Orchestrator) EnqueueBatch(ctx context.Context, recordingIDs []string, step store.JobStep, params map[string]any) ([]*store.Job, error) {
	jobs := make([]*store.Job, 0, len(recordingIDs))
	for _, recID := range recordingIDs {
		job, err := o.st.EnqueueJob(ctx, recID, step, params)
		if err != nil {
			return jobs, fmt.Errorf("jobs: enqueue %s for %s: %w", step, recID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

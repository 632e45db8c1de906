// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/neurolab/neurolab/internal/bus"
	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/metrics"
	"github.com/neurolab/neurolab/internal/ringbuf"
	"github.com/neurolab/neurolab/internal/store"
	"github.com/neurolab/neurolab/internal/train"
)

// Chunk states reported to callers.
const (
	StateBuffering = "buffering"
	StateProcessed = "processed"
)

// minBufferedSeconds of signal must accumulate before filtering starts.
const minBufferedSeconds = 2.0

// inferenceWindowSeconds of the freshest signal feed the model.
const inferenceWindowSeconds = 2.0

// ArtifactLoader resolves a model ID to its trained pipeline.
type ArtifactLoader interface {
	LoadArtifact(ctx context.Context, modelID string) (*train.Artifact, error)
}

// Processor runs the streaming path for one daemon: per-recording ring
// buffers in redis, IIR cleanup, light features and on-demand inference.
type Processor struct {
	cfg    config.Config
	rdb    redis.Cmdable
	events bus.Bus
	st     *store.DB
	models ArtifactLoader
	logger zerolog.Logger
}

// NewProcessor wires the streaming processor.
func NewProcessor(cfg config.Config, rdb redis.Cmdable, events bus.Bus, st *store.DB, models ArtifactLoader, logger zerolog.Logger) *Processor {
	return &Processor{
		cfg:    cfg,
		rdb:    rdb,
		events: events,
		st:     st,
		models: models,
		logger: logger.With().Str("component", "realtime").Logger(),
	}
}

// ChunkResult reports what happened to one chunk.
type ChunkResult struct {
	State    string             `json:"state"`
	Features map[string]float64 `json:"features,omitempty"`
}

// ProcessChunk appends a [channel][sample] chunk to the recording's ring
// buffer and, once at least two seconds of signal have accumulated, filters
// the buffer and publishes light features over the most recent hop window.
func (p *Processor) ProcessChunk(ctx context.Context, recordingID string, chunk [][]float64, sfreq float64) (*ChunkResult, error) {
	started := time.Now()
	if len(chunk) == 0 || len(chunk[0]) == 0 {
		metrics.RealtimeChunksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("realtime: empty chunk for recording %s", recordingID)
	}
	if sfreq <= 0 {
		metrics.RealtimeChunksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("realtime: invalid sample rate %g", sfreq)
	}

	buf := ringbuf.New(p.rdb, recordingID, int(sfreq), p.cfg.Realtime.BufferSeconds, len(chunk))
	if err := buf.Append(ctx, chunk); err != nil {
		metrics.RealtimeChunksTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	data, err := buf.Data(ctx)
	if err != nil {
		metrics.RealtimeChunksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if data == nil || float64(len(data[0])) < minBufferedSeconds*sfreq {
		metrics.RealtimeChunksTotal.WithLabelValues("buffering").Inc()
		return &ChunkResult{State: StateBuffering}, nil
	}

	filtered, err := filterChunk(data, sfreq, p.cfg.NotchFreqs, p.cfg.Bandpass.Low, p.cfg.Bandpass.High)
	if err != nil {
		metrics.RealtimeChunksTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// Feature window: the most recent hop of filtered signal.
	hop := int(p.cfg.Realtime.HopSeconds * sfreq)
	if hop < 1 || hop > len(filtered[0]) {
		hop = len(filtered[0])
	}
	window := make([][]float64, len(filtered))
	for ch, x := range filtered {
		window[ch] = x[len(x)-hop:]
	}
	feats := LightFeatures(window, sfreq, p.cfg.Features.Bands)

	msg := bus.RealtimeFeatures{
		RecordingID: recordingID,
		Timestamp:   time.Now().UTC(),
		Features:    feats,
	}
	if err := p.events.Publish(ctx, bus.RecordingRoom(recordingID), bus.Message{
		Event:   bus.EventRealtimeFeatures,
		Payload: msg,
	}); err != nil {
		p.logger.Warn().Err(err).Str("recording_id", recordingID).Msg("feature publish failed")
	}

	metrics.RealtimeChunksTotal.WithLabelValues("processed").Inc()
	metrics.RealtimeChunkDuration.Observe(time.Since(started).Seconds())
	return &ChunkResult{State: StateProcessed, Features: feats}, nil
}

// RequestInference runs the model over the last two seconds of buffered
// signal and publishes the prediction. At least one second must be buffered.
func (p *Processor) RequestInference(ctx context.Context, recordingID, modelID string) (*bus.RealtimePrediction, error) {
	rec, err := p.st.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	sfreq := rec.Sfreq
	if sfreq <= 0 {
		sfreq = p.cfg.TargetSfreq
	}
	if rec.Channels <= 0 {
		return nil, &errdefs.DataError{Reason: fmt.Sprintf("recording %s has no channel count", recordingID)}
	}

	buf := ringbuf.New(p.rdb, recordingID, int(sfreq), p.cfg.Realtime.BufferSeconds, rec.Channels)
	data, err := buf.Last(ctx, inferenceWindowSeconds)
	if err != nil {
		return nil, err
	}
	if data == nil || len(data[0]) < int(sfreq) {
		return nil, &errdefs.DataError{Reason: "insufficient buffered signal for inference"}
	}

	filtered, err := filterChunk(data, sfreq, p.cfg.NotchFreqs, p.cfg.Bandpass.Low, p.cfg.Bandpass.High)
	if err != nil {
		return nil, err
	}
	feats := LightFeatures(filtered, sfreq, p.cfg.Features.Bands)

	artifact, err := p.models.LoadArtifact(ctx, modelID)
	if err != nil {
		return nil, err
	}
	x := [][]float64{artifact.Vector(feats)}
	label := artifact.Pipeline.Predict(x)[0]
	proba := artifact.Pipeline.PredictProba(x)[0]

	best := 0.0
	for _, v := range proba {
		if v > best {
			best = v
		}
	}
	pred := &bus.RealtimePrediction{
		RecordingID:   recordingID,
		Prediction:    label,
		Probability:   best,
		Probabilities: proba,
		Timestamp:     time.Now().UTC(),
	}
	if err := p.events.Publish(ctx, bus.RecordingRoom(recordingID), bus.Message{
		Event:   bus.EventRealtimePrediction,
		Payload: *pred,
	}); err != nil {
		p.logger.Warn().Err(err).Str("recording_id", recordingID).Msg("prediction publish failed")
	}
	return pred, nil
}

// Reset drops the recording's buffered signal.
func (p *Processor) Reset(ctx context.Context, recordingID string, sfreq float64, nChannels int) error {
	buf := ringbuf.New(p.rdb, recordingID, int(sfreq), p.cfg.Realtime.BufferSeconds, nChannels)
	return buf.Clear(ctx)
}

// SPDX-License-Identifier: MIT

// Package audit records WHO/WHAT/WHEN events for operations that change
// model lifecycle or data ownership. Every event is written twice: as a
// structured zerolog line for log aggregation and as a row in the metadata
// store for in-band queries.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Actions recorded on the trail.
const (
	ActionModelTrained       = "model_trained"
	ActionModelPromoted      = "model_promoted"
	ActionModelDemoted       = "model_demoted"
	ActionModelDeleted       = "model_deleted"
	ActionRecordingIngested  = "recording_ingested"
	ActionRecordingDeleted   = "recording_deleted"
	ActionRetrainRecommended = "retrain_recommended"
	ActionRetrainEnqueued    = "retrain_enqueued"
)

// Event is one audit entry. Actor defaults to "system" for daemon-initiated
// actions.
type Event struct {
	Action     string
	TargetType string
	TargetID   string
	Actor      string
	Detail     map[string]any
}

// Sink persists audit rows. *store.DB satisfies it.
type Sink interface {
	AppendAudit(ctx context.Context, action, targetType, targetID string, detail map[string]any) error
}

// Trail writes audit events to the log and the sink.
type Trail struct {
	sink   Sink
	logger zerolog.Logger
}

func NewTrail(sink Sink, logger zerolog.Logger) *Trail {
	return &Trail{
		sink: sink,
		logger: logger.With().
			Str("component", "audit").
			Str("log_type", "audit").
			Logger(),
	}
}

// Record logs and persists one event. The log line is written even when the
// sink fails so the trail never goes fully dark.
func (t *Trail) Record(ctx context.Context, e Event) error {
	if e.Actor == "" {
		e.Actor = "system"
	}
	evt := t.logger.Info().
		Time("timestamp", time.Now().UTC()).
		Str("action", e.Action).
		Str("actor", e.Actor).
		Str("target_type", e.TargetType).
		Str("target_id", e.TargetID)
	if len(e.Detail) > 0 {
		evt = evt.Interface("detail", e.Detail)
	}
	evt.Msg("audit event")

	if t.sink == nil {
		return nil
	}
	return t.sink.AppendAudit(ctx, e.Action, e.TargetType, e.TargetID, e.Detail)
}

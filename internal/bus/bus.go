// SPDX-License-Identifier: MIT

// Package bus provides the room-scoped event bus used for job progress and
// realtime feature/prediction broadcasts. Delivery is best-effort: slow
// subscribers cause drops, never backpressure into workers.
package bus

import (
	"context"
	"fmt"
	"time"
)

// Event names carried on the bus. These match the client-facing message
// schema one-to-one.
const (
	EventJobProgress        = "job_progress"
	EventRecordingUpdate    = "recording_update"
	EventRealtimeFeatures   = "realtime_features"
	EventRealtimePrediction = "realtime_prediction"
)

// JobRoom returns the room name scoped to a single job.
func JobRoom(jobID string) string { return "job_" + jobID }

// RecordingRoom returns the room name scoped to a single recording.
func RecordingRoom(recordingID string) string { return "recording_" + recordingID }

// Message is a single bus payload. Timestamps are UTC ISO-8601 when
// serialized by the transport layer.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// JobProgress reports a job's progress and optionally appended log text.
type JobProgress struct {
	JobID    string  `json:"job_id"`
	Progress float64 `json:"progress"`
	Status   string  `json:"status"`
	Log      string  `json:"log,omitempty"`
}

// RecordingUpdate reports a recording status transition.
type RecordingUpdate struct {
	RecordingID string         `json:"recording_id"`
	Status      string         `json:"status"`
	Data        map[string]any `json:"data,omitempty"`
}

// RealtimeFeatures carries one window of channel-averaged features.
type RealtimeFeatures struct {
	RecordingID string             `json:"recording_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Features    map[string]float64 `json:"features"`
}

// RealtimePrediction carries a model prediction over the live buffer.
type RealtimePrediction struct {
	RecordingID   string    `json:"recording_id"`
	Prediction    int       `json:"prediction"`
	Probability   float64   `json:"probability"`
	Probabilities []float64 `json:"probabilities"`
	Timestamp     time.Time `json:"timestamp"`
}

// Subscriber receives messages for one room until closed.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Bus is the publish side of the event system.
type Bus interface {
	Publish(ctx context.Context, room string, msg Message) error
	Subscribe(ctx context.Context, room string) (Subscriber, error)
}

// PublishJobProgress is a convenience wrapper for the most common publish.
func PublishJobProgress(ctx context.Context, b Bus, p JobProgress) error {
	if b == nil {
		return fmt.Errorf("bus is nil")
	}
	return b.Publish(ctx, JobRoom(p.JobID), Message{Event: EventJobProgress, Payload: p})
}

// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	RecordingIDKey       = "recording.id"
	RecordingSfreqKey    = "recording.sfreq"
	RecordingChannelsKey = "recording.channels"

	JobIDKey       = "job.id"
	JobStepKey     = "job.step"
	JobStatusKey   = "job.status"
	JobDurationKey = "job.duration_ms"

	ModelIDKey    = "model.id"
	ModelTypeKey  = "model.type"
	ModelStageKey = "model.stage"

	RealtimeSamplesKey = "realtime.samples"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes builds the common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// RecordingAttributes builds recording span attributes, skipping unset
// signal geometry.
func RecordingAttributes(recordingID string, sfreq float64, channels int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(RecordingIDKey, recordingID)}
	if sfreq > 0 {
		attrs = append(attrs, attribute.Float64(RecordingSfreqKey, sfreq))
	}
	if channels > 0 {
		attrs = append(attrs, attribute.Int(RecordingChannelsKey, channels))
	}
	return attrs
}

// JobAttributes builds pipeline-job span attributes.
func JobAttributes(jobID, step, status string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(JobStepKey, step),
		attribute.String(JobStatusKey, status),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// ModelAttributes builds model span attributes.
func ModelAttributes(modelID, modelType, stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ModelIDKey, modelID),
		attribute.String(ModelTypeKey, modelType),
		attribute.String(ModelStageKey, stage),
	}
}

// ErrorAttributes marks a span as failed with a classification.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

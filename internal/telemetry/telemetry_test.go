// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewProviderDisabledIsNoop(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:     false,
		ServiceName: "neurolab-test",
	})
	require.NoError(t, err)
	require.NotNil(t, provider)

	tracer := otel.Tracer("test")
	_, span := tracer.Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "neurolab-test",
		ExporterType: "carrier-pigeon",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestRecordingAttributesSkipUnsetGeometry(t *testing.T) {
	m := attrMap(RecordingAttributes("rec-1", 0, 0))
	assert.Len(t, m, 1)
	assert.Equal(t, "rec-1", m[RecordingIDKey].AsString())

	m = attrMap(RecordingAttributes("rec-2", 250, 32))
	assert.Equal(t, 250.0, m[RecordingSfreqKey].AsFloat64())
	assert.Equal(t, int64(32), m[RecordingChannelsKey].AsInt64())
}

func TestJobAttributes(t *testing.T) {
	m := attrMap(JobAttributes("job-1", "preprocessing", "completed", 1500))
	assert.Equal(t, "preprocessing", m[JobStepKey].AsString())
	assert.Equal(t, "completed", m[JobStatusKey].AsString())
	assert.Equal(t, int64(1500), m[JobDurationKey].AsInt64())
}

func TestErrorAttributes(t *testing.T) {
	m := attrMap(ErrorAttributes("data_error"))
	assert.True(t, m[ErrorKey].AsBool())
	assert.Equal(t, "data_error", m[ErrorTypeKey].AsString())
}

// SPDX-License-Identifier: MIT

// Package errdefs defines the typed error taxonomy shared by the processing
// pipeline. Workers return these; the orchestrator's failure handler is the
// only place that converts them into job-row mutations and terminal events.
package errdefs

import (
	"errors"
	"fmt"
)

// StorageKind classifies object-store failures.
type StorageKind string

const (
	StorageNotFound  StorageKind = "NotFound"
	StorageAuth      StorageKind = "Auth"
	StorageTransient StorageKind = "Transient"
	StorageFatal     StorageKind = "Fatal"
)

// StorageError is returned by the object store adapter. Callers retry only
// when Kind is StorageTransient.
type StorageError struct {
	Kind StorageKind
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable reports whether err is a transient storage error.
func Retryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == StorageTransient
}

// FormatError indicates an unsupported or corrupt recording file.
type FormatError struct {
	Format string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unsupported recording format %q", e.Format)
	}
	return fmt.Sprintf("corrupt %s recording: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// DSPError wraps a failure inside a named kernel stage. Partial artifacts of
// the failing run are discarded by the caller.
type DSPError struct {
	Stage string
	Err   error
}

func (e *DSPError) Error() string {
	return fmt.Sprintf("dsp stage %s: %v", e.Stage, e.Err)
}

func (e *DSPError) Unwrap() error { return e.Err }

// DataError indicates missing or insufficient feature data for training.
type DataError struct {
	Reason string
}

func (e *DataError) Error() string { return "data: " + e.Reason }

// ModelError indicates an unavailable model or a feature-name mismatch
// between a trained artifact and the inference input.
type ModelError struct {
	ModelID string
	Reason  string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %s", e.ModelID, e.Reason)
}

// ThresholdError indicates a promotion denied by metric thresholds.
type ThresholdError struct {
	Metric string
	Got    float64
	Want   float64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("promotion denied: %s %.4f below threshold %.4f", e.Metric, e.Got, e.Want)
}

// TimeoutError indicates a job exceeded its hard time limit.
type TimeoutError struct {
	Limit string
}

func (e *TimeoutError) Error() string { return "job exceeded " + e.Limit + " time limit" }

// ErrCancelled is the sentinel for cooperative job cancellation. Workers
// observing it abort cleanly without treating the run as failed.
var ErrCancelled = errors.New("job cancelled")

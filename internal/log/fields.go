// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID       = "job_id"
	FieldRecordingID = "recording_id"
	FieldModelID     = "model_id"
	FieldSubjectID   = "subject_id"
	FieldSessionID   = "session_id"

	// Pipeline fields
	FieldComponent = "component"
	FieldStep      = "step"
	FieldStage     = "stage"
	FieldProgress  = "progress"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Storage fields
	FieldPath   = "path"
	FieldBucket = "bucket"
)

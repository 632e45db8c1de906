// SPDX-License-Identifier: MIT

// Package store persists the experiment metadata: subjects, sessions,
// recordings, processing jobs, trained models and the audit trail. Recording
// and job status changes go through a small state machine so illegal
// transitions fail loudly instead of corrupting lifecycle state.
package store

import (
	"fmt"
	"time"
)

// RecordingStatus is the lifecycle state of a recording.
type RecordingStatus string

const (
	RecordingUploaded    RecordingStatus = "uploaded"
	RecordingProcessing  RecordingStatus = "processing"
	RecordingProcessed   RecordingStatus = "processed"
	RecordingFailed      RecordingStatus = "failed"
	RecordingNeedsReview RecordingStatus = "needs_review"
)

var recordingTransitions = map[RecordingStatus][]RecordingStatus{
	RecordingUploaded:    {RecordingProcessing},
	RecordingProcessing:  {RecordingProcessed, RecordingFailed, RecordingNeedsReview},
	RecordingProcessed:   {RecordingProcessing},
	RecordingFailed:      {RecordingProcessing},
	RecordingNeedsReview: {RecordingProcessing},
}

// CanTransition reports whether a recording may move from to next.
func (s RecordingStatus) CanTransition(next RecordingStatus) bool {
	for _, allowed := range recordingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobStep identifies the pipeline step a job executes.
type JobStep string

const (
	StepPreprocessing     JobStep = "preprocessing"
	StepFeatureExtraction JobStep = "feature_extraction"
	StepTraining          JobStep = "training"
	StepRealtime          JobStep = "realtime"
)

// ModelStage is the deployment stage of a trained model.
type ModelStage string

const (
	StageDevelopment ModelStage = "development"
	StageCandidate   ModelStage = "candidate"
	StageProduction  ModelStage = "production"
)

// Subject is an experiment participant.
type Subject struct {
	ID        string
	Label     string
	DOB       *time.Time
	Notes     map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is one acquisition session for a subject.
type Session struct {
	ID        string
	SubjectID string
	Date      time.Time
	Protocol  map[string]any
	Notes     string
	CreatedAt time.Time
}

// Recording is one uploaded signal file and its derived artifacts.
type Recording struct {
	ID            string
	SessionID     string
	Filename      string
	Sfreq         float64
	Channels      int
	DurationSec   float64
	Status        RecordingStatus
	RawPath       string
	ProcessedPath string
	FeaturesPath  string
	Meta          map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Job is one queued or running pipeline step for a recording.
type Job struct {
	ID              string
	RecordingID     string
	Step            JobStep
	Params          map[string]any
	Status          JobStatus
	Progress        float64
	Log             string
	Error           string
	CancelRequested bool
	StartedAt       *time.Time
	FinishedAt      *time.Time
	CreatedAt       time.Time
}

// Model is a trained classifier artifact plus its evaluation record.
type Model struct {
	ID           string
	Name         string
	Version      string
	Type         string
	Hyperparams  map[string]any
	Metrics      map[string]float64
	FeatureNames []string
	CVResults    map[string]any
	DatasetInfo  map[string]any
	Stage        ModelStage
	ArtifactPath string
	RandomSeed   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuditRecord is one immutable audit-trail entry.
type AuditRecord struct {
	ID         string
	Action     string
	TargetType string
	TargetID   string
	Detail     map[string]any
	CreatedAt  time.Time
}

// TransitionError reports an illegal status change.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: illegal transition %s -> %s", e.Entity, e.From, e.To)
}

// NotFoundError reports a missing row.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neurolab/neurolab/internal/persistence/sqlite"
)

const schemaVersion = 1

// DB is the SQLite-backed metadata store.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the metadata database and applies migrations.
func Open(path string) (*DB, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *DB) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *DB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *DB) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL UNIQUE,
		dob TEXT,
		notes TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL REFERENCES subjects(id),
		date TEXT NOT NULL,
		protocol TEXT NOT NULL DEFAULT '{}',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_subject ON sessions(subject_id);

	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		filename TEXT NOT NULL,
		sfreq REAL NOT NULL DEFAULT 0,
		channels INTEGER NOT NULL DEFAULT 0,
		duration_sec REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'uploaded',
		raw_path TEXT NOT NULL DEFAULT '',
		processed_path TEXT NOT NULL DEFAULT '',
		features_path TEXT NOT NULL DEFAULT '',
		meta TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_session ON recordings(session_id);
	CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(status);

	CREATE TABLE IF NOT EXISTS processing_jobs (
		id TEXT PRIMARY KEY,
		recording_id TEXT NOT NULL REFERENCES recordings(id),
		step TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		progress REAL NOT NULL DEFAULT 0,
		log TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		started_at TEXT,
		finished_at TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON processing_jobs(status, step, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_recording ON processing_jobs(recording_id);

	CREATE TABLE IF NOT EXISTS models (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '1.0.0',
		model_type TEXT NOT NULL,
		hyperparams TEXT NOT NULL DEFAULT '{}',
		metrics TEXT NOT NULL DEFAULT '{}',
		feature_names TEXT NOT NULL DEFAULT '[]',
		cv_results TEXT NOT NULL DEFAULT '{}',
		dataset_info TEXT NOT NULL DEFAULT '{}',
		stage TEXT NOT NULL DEFAULT 'development',
		artifact_path TEXT NOT NULL DEFAULT '',
		random_seed INTEGER NOT NULL DEFAULT 42,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_models_single_production
		ON models(stage) WHERE stage = 'production';

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL DEFAULT '',
		target_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_logs(created_at);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func now() time.Time { return time.Now().UTC().Truncate(time.Second) }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func unmarshalMap(raw string) map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// CreateSubject inserts a subject, assigning ID and timestamps.
func (s *DB) CreateSubject(ctx context.Context, sub *Subject) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.CreatedAt = now()
	sub.UpdatedAt = sub.CreatedAt

	var dob any
	if sub.DOB != nil {
		dob = fmtTime(*sub.DOB)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, label, dob, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Label, dob, marshalJSON(sub.Notes), fmtTime(sub.CreatedAt), fmtTime(sub.UpdatedAt))
	return err
}

// GetSubject loads one subject.
func (s *DB) GetSubject(ctx context.Context, id string) (*Subject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, dob, notes, created_at, updated_at FROM subjects WHERE id = ?`, id)
	var sub Subject
	var dob sql.NullString
	var notes, created, updated string
	if err := row.Scan(&sub.ID, &sub.Label, &dob, &notes, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "subject", ID: id}
		}
		return nil, err
	}
	if dob.Valid {
		t := parseTime(dob.String)
		sub.DOB = &t
	}
	sub.Notes = unmarshalMap(notes)
	sub.CreatedAt, sub.UpdatedAt = parseTime(created), parseTime(updated)
	return &sub, nil
}

// SubjectByLabel looks a subject up by its unique label, returning nil when
// no subject carries it.
func (s *DB) SubjectByLabel(ctx context.Context, label string) (*Subject, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM subjects WHERE label = ?`, label).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetSubject(ctx, id)
}

// CreateSession inserts a session.
func (s *DB) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Date.IsZero() {
		sess.Date = now()
	}
	sess.CreatedAt = now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, subject_id, date, protocol, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SubjectID, fmtTime(sess.Date), marshalJSON(sess.Protocol), sess.Notes, fmtTime(sess.CreatedAt))
	return err
}

// CreateRecording inserts a recording in the uploaded state.
func (s *DB) CreateRecording(ctx context.Context, rec *Recording) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = RecordingUploaded
	}
	rec.CreatedAt = now()
	rec.UpdatedAt = rec.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, session_id, filename, sfreq, channels, duration_sec,
			status, raw_path, processed_path, features_path, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Filename, rec.Sfreq, rec.Channels, rec.DurationSec,
		rec.Status, rec.RawPath, rec.ProcessedPath, rec.FeaturesPath,
		marshalJSON(rec.Meta), fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt))
	return err
}

func scanRecording(scan func(...any) error) (*Recording, error) {
	var rec Recording
	var meta, created, updated string
	err := scan(&rec.ID, &rec.SessionID, &rec.Filename, &rec.Sfreq, &rec.Channels,
		&rec.DurationSec, &rec.Status, &rec.RawPath, &rec.ProcessedPath,
		&rec.FeaturesPath, &meta, &created, &updated)
	if err != nil {
		return nil, err
	}
	rec.Meta = unmarshalMap(meta)
	rec.CreatedAt, rec.UpdatedAt = parseTime(created), parseTime(updated)
	return &rec, nil
}

const recordingCols = `id, session_id, filename, sfreq, channels, duration_sec,
	status, raw_path, processed_path, features_path, meta, created_at, updated_at`

// GetRecording loads one recording.
func (s *DB) GetRecording(ctx context.Context, id string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingCols+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "recording", ID: id}
	}
	return rec, err
}

// ListRecordings returns recordings, optionally filtered by status.
func (s *DB) ListRecordings(ctx context.Context, status *RecordingStatus) ([]*Recording, error) {
	query := `SELECT ` + recordingCols + ` FROM recordings`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateRecordingStatus moves a recording through its state machine,
// rejecting illegal transitions.
func (s *DB) UpdateRecordingStatus(ctx context.Context, id string, next RecordingStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current RecordingStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM recordings WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Entity: "recording", ID: id}
	}
	if err != nil {
		return err
	}
	if current == next {
		return tx.Commit()
	}
	if !current.CanTransition(next) {
		return &TransitionError{Entity: "recording", From: string(current), To: string(next)}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE recordings SET status = ?, updated_at = ? WHERE id = ?`,
		next, fmtTime(now()), id); err != nil {
		return err
	}
	return tx.Commit()
}

// SetRecordingSignal records the decoded signal properties.
func (s *DB) SetRecordingSignal(ctx context.Context, id string, sfreq float64, channels int, durationSec float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET sfreq = ?, channels = ?, duration_sec = ?, updated_at = ? WHERE id = ?`,
		sfreq, channels, durationSec, fmtTime(now()), id)
	return err
}

// SetRecordingRawPath records the raw object path.
func (s *DB) SetRecordingRawPath(ctx context.Context, id, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET raw_path = ?, updated_at = ? WHERE id = ?`, path, fmtTime(now()), id)
	return err
}

// SetRecordingProcessedPath records the cleaned artifact path.
func (s *DB) SetRecordingProcessedPath(ctx context.Context, id, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET processed_path = ?, updated_at = ? WHERE id = ?`, path, fmtTime(now()), id)
	return err
}

// SetRecordingFeaturesPath records the feature table path.
func (s *DB) SetRecordingFeaturesPath(ctx context.Context, id, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET features_path = ?, updated_at = ? WHERE id = ?`, path, fmtTime(now()), id)
	return err
}

// PatchRecordingMeta merges patch into the recording's metadata document.
func (s *DB) PatchRecordingMeta(ctx context.Context, id string, patch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT meta FROM recordings WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Entity: "recording", ID: id}
	}
	if err != nil {
		return err
	}
	meta := unmarshalMap(raw)
	for k, v := range patch {
		meta[k] = v
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE recordings SET meta = ?, updated_at = ? WHERE id = ?`,
		marshalJSON(meta), fmtTime(now()), id); err != nil {
		return err
	}
	return tx.Commit()
}

// CountTrainableRecordingsSince counts recordings with extracted features
// created after t.
func (s *DB) CountTrainableRecordingsSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM recordings
		WHERE features_path != '' AND created_at > ?`, fmtTime(t)).Scan(&n)
	return n, err
}

// ListTrainableRecordings returns recordings that have a feature table.
func (s *DB) ListTrainableRecordings(ctx context.Context) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordingCols+` FROM recordings
		WHERE features_path != '' ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EnqueueJob inserts a pending job for a recording step.
func (s *DB) EnqueueJob(ctx context.Context, recordingID string, step JobStep, params map[string]any) (*Job, error) {
	job := &Job{
		ID:          uuid.NewString(),
		RecordingID: recordingID,
		Step:        step,
		Params:      params,
		Status:      JobPending,
		CreatedAt:   now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_jobs (id, recording_id, step, params, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.RecordingID, job.Step, marshalJSON(job.Params), job.Status, fmtTime(job.CreatedAt))
	if err != nil {
		return nil, err
	}
	return job, nil
}

const jobCols = `id, recording_id, step, params, status, progress, log, error,
	cancel_requested, started_at, finished_at, created_at`

func scanJob(scan func(...any) error) (*Job, error) {
	var job Job
	var params, created string
	var started, finished sql.NullString
	err := scan(&job.ID, &job.RecordingID, &job.Step, &params, &job.Status,
		&job.Progress, &job.Log, &job.Error, &job.CancelRequested,
		&started, &finished, &created)
	if err != nil {
		return nil, err
	}
	job.Params = unmarshalMap(params)
	job.CreatedAt = parseTime(created)
	if started.Valid {
		t := parseTime(started.String)
		job.StartedAt = &t
	}
	if finished.Valid {
		t := parseTime(finished.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

// GetJob loads one job.
func (s *DB) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM processing_jobs WHERE id = ?`, id)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "job", ID: id}
	}
	return job, err
}

// ListJobs returns the jobs of one recording, oldest first.
func (s *DB) ListJobs(ctx context.Context, recordingID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobCols+` FROM processing_jobs
		WHERE recording_id = ? ORDER BY created_at, id`, recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ClaimJob atomically takes the oldest pending job in the given steps and
// marks it running. It returns nil when no job is pending.
func (s *DB) ClaimJob(ctx context.Context, steps ...JobStep) (*Job, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("store: claim requires at least one step")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(steps)), ",")
	args := []any{fmtTime(now())}
	for _, st := range steps {
		args = append(args, st)
	}

	// The inner SELECT and the status guard make the claim atomic: two
	// concurrent claimers cannot both move the same row out of pending.
	row := s.db.QueryRowContext(ctx, `
		UPDATE processing_jobs SET status = 'running', started_at = ?
		WHERE id = (
			SELECT id FROM processing_jobs
			WHERE status = 'pending' AND step IN (`+placeholders+`)
			ORDER BY created_at, id LIMIT 1
		) AND status = 'pending'
		RETURNING `+jobCols, args...)

	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// SetJobProgress updates the progress fraction.
func (s *DB) SetJobProgress(ctx context.Context, id string, progress float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processing_jobs SET progress = ? WHERE id = ?`, progress, id)
	return err
}

// AppendJobLog appends one line to the job log.
func (s *DB) AppendJobLog(ctx context.Context, id, line string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processing_jobs SET log = log || ? WHERE id = ?`, line+"\n", id)
	return err
}

// finishJob moves a job to a terminal status. progress is nil for failure
// and cancellation so the last checkpointed value survives; progress never
// moves backwards.
func (s *DB) finishJob(ctx context.Context, id string, status JobStatus, progress any, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs SET status = ?, progress = COALESCE(?, progress), error = ?, finished_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`,
		status, progress, errMsg, fmtTime(now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return err
		}
		return &TransitionError{Entity: "job", From: string(job.Status), To: string(status)}
	}
	return nil
}

// CompleteJob marks a job completed with full progress.
func (s *DB) CompleteJob(ctx context.Context, id string) error {
	return s.finishJob(ctx, id, JobCompleted, 1.0, "")
}

// FailJob marks a job failed with an error message. Progress stays at the
// last checkpoint.
func (s *DB) FailJob(ctx context.Context, id, errMsg string) error {
	return s.finishJob(ctx, id, JobFailed, nil, errMsg)
}

// CancelJob marks a job cancelled; running jobs reach this through the
// cooperative cancel flag, pending jobs directly.
func (s *DB) CancelJob(ctx context.Context, id string) error {
	return s.finishJob(ctx, id, JobCancelled, nil, "")
}

// RequestCancel flags a job for cooperative cancellation. A still-pending job
// is cancelled immediately; a job already in a terminal status is a no-op.
func (s *DB) RequestCancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs SET cancel_requested = 1,
			status = CASE WHEN status = 'pending' THEN 'cancelled' ELSE status END,
			finished_at = CASE WHEN status = 'pending' THEN ? ELSE finished_at END
		WHERE id = ? AND status IN ('pending', 'running')`,
		fmtTime(now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		// The job already finished; cancelling it again changes nothing.
		return nil
	}
	return nil
}

// CancelRequested reports the cooperative cancel flag.
func (s *DB) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM processing_jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &NotFoundError{Entity: "job", ID: id}
	}
	return flag, err
}

// CreateModel inserts a model row.
func (s *DB) CreateModel(ctx context.Context, m *Model) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Version == "" {
		m.Version = "1.0.0"
	}
	if m.Stage == "" {
		m.Stage = StageDevelopment
	}
	m.CreatedAt = now()
	m.UpdatedAt = m.CreatedAt

	names, err := json.Marshal(m.FeatureNames)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO models (id, name, version, model_type, hyperparams, metrics,
			feature_names, cv_results, dataset_info, stage, artifact_path,
			random_seed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Version, m.Type, marshalJSON(m.Hyperparams), marshalJSON(m.Metrics),
		string(names), marshalJSON(m.CVResults), marshalJSON(m.DatasetInfo), m.Stage,
		m.ArtifactPath, m.RandomSeed, fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt))
	return err
}

const modelCols = `id, name, version, model_type, hyperparams, metrics,
	feature_names, cv_results, dataset_info, stage, artifact_path,
	random_seed, created_at, updated_at`

func scanModel(scan func(...any) error) (*Model, error) {
	var m Model
	var hyper, metrics, names, cv, dataset, created, updated string
	err := scan(&m.ID, &m.Name, &m.Version, &m.Type, &hyper, &metrics,
		&names, &cv, &dataset, &m.Stage, &m.ArtifactPath,
		&m.RandomSeed, &created, &updated)
	if err != nil {
		return nil, err
	}
	m.Hyperparams = unmarshalMap(hyper)
	m.Metrics = map[string]float64{}
	_ = json.Unmarshal([]byte(metrics), &m.Metrics)
	_ = json.Unmarshal([]byte(names), &m.FeatureNames)
	m.CVResults = unmarshalMap(cv)
	m.DatasetInfo = unmarshalMap(dataset)
	m.CreatedAt, m.UpdatedAt = parseTime(created), parseTime(updated)
	return &m, nil
}

// GetModel loads one model.
func (s *DB) GetModel(ctx context.Context, id string) (*Model, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelCols+` FROM models WHERE id = ?`, id)
	m, err := scanModel(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "model", ID: id}
	}
	return m, err
}

// ListModels returns all models, newest first.
func (s *DB) ListModels(ctx context.Context) ([]*Model, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+modelCols+` FROM models ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Model
	for rows.Next() {
		m, err := scanModel(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ProductionModel returns the single production model, or nil when none is
// deployed.
func (s *DB) ProductionModel(ctx context.Context) (*Model, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+modelCols+` FROM models WHERE stage = 'production'`)
	m, err := scanModel(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// SetModelStage moves a model between development and candidate. Promotion to
// production must go through PromoteModel.
func (s *DB) SetModelStage(ctx context.Context, id string, stage ModelStage) error {
	if stage == StageProduction {
		return fmt.Errorf("store: use PromoteModel for production")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE models SET stage = ?, updated_at = ? WHERE id = ?`,
		stage, fmtTime(now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Entity: "model", ID: id}
	}
	return nil
}

// PromoteModel moves a candidate to production and demotes the current
// production model to candidate, in one transaction. The partial unique index
// on stage backs the single-production invariant.
func (s *DB) PromoteModel(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var stage ModelStage
	err = tx.QueryRowContext(ctx, `SELECT stage FROM models WHERE id = ?`, id).Scan(&stage)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Entity: "model", ID: id}
	}
	if err != nil {
		return err
	}
	if stage == StageProduction {
		return tx.Commit()
	}
	if stage != StageCandidate {
		return &TransitionError{Entity: "model", From: string(stage), To: string(StageProduction)}
	}

	ts := fmtTime(now())
	if _, err := tx.ExecContext(ctx, `
		UPDATE models SET stage = 'candidate', updated_at = ?
		WHERE stage = 'production'`, ts); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE models SET stage = 'production', updated_at = ? WHERE id = ?`, ts, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendAudit writes one audit-trail entry.
func (s *DB) AppendAudit(ctx context.Context, action, targetType, targetID string, detail map[string]any) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, target_type, target_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), action, targetType, targetID, marshalJSON(detail), fmtTime(now()))
	return err
}

// ListAudit returns the newest audit entries up to limit.
func (s *DB) ListAudit(ctx context.Context, limit int) ([]*AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, target_type, target_id, detail, created_at
		FROM audit_logs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var detail, created string
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.TargetType, &rec.TargetID, &detail, &created); err != nil {
			return nil, err
		}
		rec.Detail = unmarshalMap(detail)
		rec.CreatedAt = parseTime(created)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

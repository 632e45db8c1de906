// SPDX-License-Identifier: MIT

// Package ingest watches the inbox directory for dropped recording files,
// registers them and queues preprocessing. The expected layout is
// inbox/<subject-label>/<file>; the session is created per drop and the file
// is removed from the inbox once the raw copy is safely in object storage.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/neurolab/neurolab/internal/audit"
	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
)

// settleWindow is how long a file must stop growing before it is picked up.
// Acquisition software writes large files in bursts.
const settleWindow = 500 * time.Millisecond

var recordingExts = map[string]bool{
	".edf": true,
	".bdf": true,
	".fif": true,
	".set": true,
}

// Watcher ingests recording files dropped into the inbox.
type Watcher struct {
	cfg     config.Config
	st      *store.DB
	objects storage.Store
	trail   *audit.Trail
	logger  zerolog.Logger
}

func New(cfg config.Config, st *store.DB, objects storage.Store, logger zerolog.Logger) *Watcher {
	return &Watcher{
		cfg:     cfg,
		st:      st,
		objects: objects,
		trail:   audit.NewTrail(st, logger),
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Run watches the inbox until ctx is cancelled. Files already present at
// startup are ingested first so nothing is lost across restarts.
func (w *Watcher) Run(ctx context.Context) error {
	inbox := w.cfg.Storage.InboxDir
	if inbox == "" {
		w.logger.Info().Msg("no inbox directory configured, ingest watcher disabled")
		return nil
	}
	if err := os.MkdirAll(inbox, 0o750); err != nil {
		return fmt.Errorf("ingest: create inbox %s: %w", inbox, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: fsnotify.NewWatcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(inbox); err != nil {
		return fmt.Errorf("ingest: watch %s: %w", inbox, err)
	}
	// Subject directories are one level down; watch existing ones and any
	// created later.
	entries, _ := os.ReadDir(inbox)
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(inbox, e.Name()))
		}
	}

	w.sweep(ctx, inbox)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("ingest: watcher channel closed")
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				_ = watcher.Add(event.Name)
				continue
			}
			if err := w.ingestWhenSettled(ctx, inbox, event.Name); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Str("file", event.Name).Msg("ingest failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("ingest: watcher error channel closed")
			}
			w.logger.Warn().Err(err).Msg("inbox watcher error")
		}
	}
}

// sweep ingests everything already sitting in the inbox.
func (w *Watcher) sweep(ctx context.Context, inbox string) {
	err := filepath.WalkDir(inbox, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if ierr := w.ingestWhenSettled(ctx, inbox, path); ierr != nil && ctx.Err() == nil {
			w.logger.Error().Err(ierr).Str("file", path).Msg("ingest failed")
		}
		return ctx.Err()
	})
	if err != nil && ctx.Err() == nil {
		w.logger.Warn().Err(err).Msg("inbox sweep incomplete")
	}
}

// ingestWhenSettled waits for the file size to stop changing, then ingests.
func (w *Watcher) ingestWhenSettled(ctx context.Context, inbox, path string) error {
	if !recordingExts[strings.ToLower(filepath.Ext(path))] {
		return nil
	}
	var lastSize int64 = -1
	for {
		info, err := os.Stat(path)
		if err != nil {
			// Removed between the event and the stat.
			return nil
		}
		if info.Size() == lastSize && info.Size() > 0 {
			break
		}
		lastSize = info.Size()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settleWindow):
		}
	}
	return w.Ingest(ctx, inbox, path)
}

// Ingest registers one recording file and queues preprocessing. The subject
// label is the first path element under the inbox; files dropped at the top
// level land under the "unassigned" subject.
func (w *Watcher) Ingest(ctx context.Context, inbox, path string) error {
	rel, err := filepath.Rel(inbox, path)
	if err != nil {
		return fmt.Errorf("ingest: %s is outside the inbox: %w", path, err)
	}
	label := "unassigned"
	if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
		label = parts[0]
	}

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return fmt.Errorf("ingest: read %s: %w", path, err)
	}

	sub, err := w.st.SubjectByLabel(ctx, label)
	if err != nil {
		return err
	}
	if sub == nil {
		sub = &store.Subject{Label: label}
		if err := w.st.CreateSubject(ctx, sub); err != nil {
			return fmt.Errorf("ingest: create subject %q: %w", label, err)
		}
	}
	sess := &store.Session{
		SubjectID: sub.ID,
		Notes:     "auto-ingested from inbox",
	}
	if err := w.st.CreateSession(ctx, sess); err != nil {
		return err
	}
	rec := &store.Recording{
		SessionID: sess.ID,
		Filename:  filepath.Base(path),
	}
	if err := w.st.CreateRecording(ctx, rec); err != nil {
		return err
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	rawPath := storage.RawPath(sub.ID, sess.ID, rec.ID, ext)
	if _, err := w.objects.PutBytes(ctx, data, rawPath, "application/octet-stream"); err != nil {
		return fmt.Errorf("ingest: store raw copy: %w", err)
	}
	if err := w.st.SetRecordingRawPath(ctx, rec.ID, rawPath); err != nil {
		return err
	}
	if _, err := w.st.EnqueueJob(ctx, rec.ID, store.StepPreprocessing, nil); err != nil {
		return err
	}

	// The inbox copy is redundant now. Removal failures leave a file that
	// would re-ingest on restart, so they are fatal for this path.
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("ingest: remove inbox copy: %w", err)
	}
	w.logger.Info().
		Str("recording_id", rec.ID).
		Str("subject", label).
		Str("file", rec.Filename).
		Msg("recording ingested from inbox")
	return w.trail.Record(ctx, audit.Event{
		Action:     audit.ActionRecordingIngested,
		TargetType: "recording",
		TargetID:   rec.ID,
		Detail: map[string]any{
			"subject": label,
			"file":    rec.Filename,
		},
	})
}

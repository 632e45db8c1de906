// SPDX-License-Identifier: MIT

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/sigio"
	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
)

func newWatcher(t *testing.T) (*Watcher, *store.DB, *storage.FSStore, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	objects, err := storage.NewFSStore(filepath.Join(dir, "objects"), "neurolab", "test-key")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Storage.InboxDir = filepath.Join(dir, "inbox")
	require.NoError(t, os.MkdirAll(cfg.Storage.InboxDir, 0o750))

	return New(cfg, st, objects, zerolog.Nop()), st, objects, cfg.Storage.InboxDir
}

func fifFixture(t *testing.T) []byte {
	t.Helper()
	blob, err := sigio.EncodeFIF(&sigio.Buffer{
		SampleRate:   100,
		ChannelNames: []string{"Fz"},
		Data:         [][]float64{make([]float64, 200)},
	})
	require.NoError(t, err)
	return blob
}

func TestIngestRegistersAndEnqueues(t *testing.T) {
	w, st, objects, inbox := newWatcher(t)
	ctx := context.Background()

	subjectDir := filepath.Join(inbox, "S001")
	require.NoError(t, os.MkdirAll(subjectDir, 0o750))
	dropped := filepath.Join(subjectDir, "rest.fif")
	require.NoError(t, os.WriteFile(dropped, fifFixture(t), 0o600))

	require.NoError(t, w.Ingest(ctx, inbox, dropped))

	// Inbox copy is gone once the raw artifact is stored.
	_, err := os.Stat(dropped)
	assert.True(t, os.IsNotExist(err))

	sub, err := st.SubjectByLabel(ctx, "S001")
	require.NoError(t, err)
	require.NotNil(t, sub)

	recs, err := st.ListTrainableRecordings(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs, "no features yet")

	job, err := st.ClaimJob(ctx, store.StepPreprocessing)
	require.NoError(t, err)
	require.NotNil(t, job)

	rec, err := st.GetRecording(ctx, job.RecordingID)
	require.NoError(t, err)
	assert.Equal(t, "rest.fif", rec.Filename)
	assert.NotEmpty(t, rec.RawPath)

	ok, err := objects.Exists(ctx, rec.RawPath)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIngestReusesSubjectByLabel(t *testing.T) {
	w, st, _, inbox := newWatcher(t)
	ctx := context.Background()

	subjectDir := filepath.Join(inbox, "S002")
	require.NoError(t, os.MkdirAll(subjectDir, 0o750))
	for _, name := range []string{"a.fif", "b.fif"} {
		p := filepath.Join(subjectDir, name)
		require.NoError(t, os.WriteFile(p, fifFixture(t), 0o600))
		require.NoError(t, w.Ingest(ctx, inbox, p))
	}

	sub, err := st.SubjectByLabel(ctx, "S002")
	require.NoError(t, err)
	require.NotNil(t, sub)

	// Both drops landed under the same subject, one job each.
	for i := 0; i < 2; i++ {
		job, err := st.ClaimJob(ctx, store.StepPreprocessing)
		require.NoError(t, err)
		require.NotNil(t, job, "drop %d should have a job", i)
	}
}

func TestIngestTopLevelFileLandsUnassigned(t *testing.T) {
	w, st, _, inbox := newWatcher(t)
	ctx := context.Background()

	dropped := filepath.Join(inbox, "loose.edf")
	require.NoError(t, os.WriteFile(dropped, []byte("edf bytes"), 0o600))
	require.NoError(t, w.Ingest(ctx, inbox, dropped))

	sub, err := st.SubjectByLabel(ctx, "unassigned")
	require.NoError(t, err)
	require.NotNil(t, sub)
}

func TestRunPicksUpDroppedFile(t *testing.T) {
	w, st, _, inbox := newWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to arm before dropping the file.
	time.Sleep(100 * time.Millisecond)
	subjectDir := filepath.Join(inbox, "S003")
	require.NoError(t, os.MkdirAll(subjectDir, 0o750))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(subjectDir, "live.fif"), fifFixture(t), 0o600))

	require.Eventually(t, func() bool {
		sub, err := st.SubjectByLabel(context.Background(), "S003")
		return err == nil && sub != nil
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestIngestIgnoresUnknownExtensions(t *testing.T) {
	w, st, _, inbox := newWatcher(t)
	ctx := context.Background()

	p := filepath.Join(inbox, "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o600))
	require.NoError(t, w.ingestWhenSettled(ctx, inbox, p))

	// Still there, nothing registered.
	_, err := os.Stat(p)
	require.NoError(t, err)
	job, err := st.ClaimJob(ctx, store.StepPreprocessing)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRunWithoutInboxIsDisabled(t *testing.T) {
	w, _, _, _ := newWatcher(t)
	w.cfg.Storage.InboxDir = ""
	require.NoError(t, w.Run(context.Background()))
}

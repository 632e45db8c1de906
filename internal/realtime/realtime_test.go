// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurolab/neurolab/internal/bus"
	"github.com/neurolab/neurolab/internal/config"
	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/store"
	"github.com/neurolab/neurolab/internal/train"
)

func sine(freq, amp, sfreq float64, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/sfreq)
	}
	return x
}

// amplitudeAt estimates the amplitude of a known frequency via quadrature
// correlation, insensitive to phase shifts.
func amplitudeAt(x []float64, freq, sfreq float64) float64 {
	var c, s float64
	for i, v := range x {
		phase := 2 * math.Pi * freq * float64(i) / sfreq
		c += v * math.Cos(phase)
		s += v * math.Sin(phase)
	}
	n := float64(len(x))
	return 2 * math.Hypot(c/n, s/n)
}

func TestNotchBiquadRejectsLine(t *testing.T) {
	const sfreq = 250.0
	n := 4 * int(sfreq)
	x := make([]float64, n)
	for i := range x {
		x[i] = sine(10, 1, sfreq, n)[i] + sine(50, 1, sfreq, n)[i]
	}

	y := filtfilt([]biquad{notchBiquad(50, notchQ, sfreq)}, x)

	assert.Less(t, amplitudeAt(y, 50, sfreq), 0.1, "line frequency must be rejected")
	assert.InDelta(t, 1.0, amplitudeAt(y, 10, sfreq), 0.05, "passband must be preserved")
}

func TestButterBandpassResponse(t *testing.T) {
	const sfreq = 250.0
	sections, err := butterBandpass(1, 40, sfreq, bandpassOrder)
	require.NoError(t, err)
	require.Len(t, sections, bandpassOrder)

	n := 8 * int(sfreq)
	probe := func(freq float64) float64 {
		y := filtfilt(sections, sine(freq, 1, sfreq, n))
		// Ignore filter edge transients.
		return amplitudeAt(y[n/4:3*n/4], freq, sfreq)
	}

	assert.InDelta(t, 1.0, probe(10), 0.1, "mid-band gain")
	assert.InDelta(t, 1.0, probe(25), 0.1, "mid-band gain")
	assert.Less(t, probe(0.2), 0.2, "below-band rejection")
	assert.Less(t, probe(70), 0.05, "above-band rejection")
}

func TestButterBandpassRejectsBadEdges(t *testing.T) {
	_, err := butterBandpass(40, 1, 250, 4)
	require.Error(t, err)
	_, err = butterBandpass(1, 130, 250, 4)
	require.Error(t, err)
}

func TestLightFeaturesAlphaDominant(t *testing.T) {
	const sfreq = 250.0
	n := 2 * int(sfreq)
	data := [][]float64{sine(10, 1, sfreq, n), sine(10, 0.8, sfreq, n)}

	feats := LightFeatures(data, sfreq, config.DefaultBands())

	assert.Greater(t, feats["rel_alpha"], 0.8)
	var relSum float64
	for _, b := range config.DefaultBands() {
		relSum += feats["rel_"+b.Name]
	}
	assert.InDelta(t, 1.0, relSum, 1e-9)
	assert.Greater(t, feats["rms"], 0.0)
	assert.Greater(t, feats["std"], 0.0)
}

func TestLightFeaturesKnownRMS(t *testing.T) {
	data := [][]float64{{1, -1, 1, -1}, {2, -2, 2, -2}}
	feats := LightFeatures(data, 4, config.DefaultBands())
	want := math.Sqrt((4*1 + 4*4) / 8.0)
	assert.InDelta(t, want, feats["rms"], 1e-12)
	assert.InDelta(t, want, feats["std"], 1e-12, "zero-mean signal has std equal to rms")
}

type testEnv struct {
	proc *Processor
	rdb  *redis.Client
	bus  *bus.MemoryBus
	st   *store.DB
}

type fakeLoader struct {
	artifact *train.Artifact
}

func (f *fakeLoader) LoadArtifact(_ context.Context, _ string) (*train.Artifact, error) {
	if f.artifact == nil {
		return nil, &errdefs.ModelError{ModelID: "missing", Reason: "not trained"}
	}
	return f.artifact, nil
}

func newTestEnv(t *testing.T, loader ArtifactLoader) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := store.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	b := bus.NewMemoryBus()
	cfg := config.Default()
	return &testEnv{
		proc: NewProcessor(cfg, rdb, b, st, loader, zerolog.Nop()),
		rdb:  rdb,
		bus:  b,
		st:   st,
	}
}

func TestProcessChunkBuffersThenProcesses(t *testing.T) {
	env := newTestEnv(t, &fakeLoader{})
	ctx := context.Background()
	const sfreq = 250.0

	// First one-second chunk: not enough signal yet.
	chunk := [][]float64{sine(10, 50e-6, sfreq, int(sfreq))}
	res, err := env.proc.ProcessChunk(ctx, "rec-1", chunk, sfreq)
	require.NoError(t, err)
	assert.Equal(t, StateBuffering, res.State)

	sub, err := env.bus.Subscribe(ctx, bus.RecordingRoom("rec-1"))
	require.NoError(t, err)
	defer sub.Close()

	// Stream 30 seconds of alpha; features must emerge and stay
	// alpha-dominant.
	var last *ChunkResult
	for i := 0; i < 30; i++ {
		last, err = env.proc.ProcessChunk(ctx, "rec-1", chunk, sfreq)
		require.NoError(t, err)
	}
	require.Equal(t, StateProcessed, last.State)
	assert.Greater(t, last.Features["rel_alpha"], 0.5)

	msg := <-sub.C()
	assert.Equal(t, bus.EventRealtimeFeatures, msg.Event)
	payload, ok := msg.Payload.(bus.RealtimeFeatures)
	require.True(t, ok)
	assert.Equal(t, "rec-1", payload.RecordingID)
	assert.Greater(t, payload.Features["rel_alpha"], 0.5)
}

func TestProcessChunkRejectsEmpty(t *testing.T) {
	env := newTestEnv(t, &fakeLoader{})
	_, err := env.proc.ProcessChunk(context.Background(), "rec-1", nil, 250)
	require.Error(t, err)
}

// trainTinyArtifact fits a logistic pipeline on the light-feature names so
// inference has real learned weights: class 1 is high rel_alpha.
func trainTinyArtifact(t *testing.T) *train.Artifact {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	names := []string{"rel_alpha", "rms"}
	var x [][]float64
	var y []int
	for i := 0; i < 60; i++ {
		label := i % 2
		x = append(x, []float64{
			0.2 + 0.6*float64(label) + 0.05*rng.NormFloat64(),
			1 + 0.1*rng.NormFloat64(),
		})
		y = append(y, label)
	}
	p, err := train.NewPipeline(train.ModelLogistic, 42, nil)
	require.NoError(t, err)
	require.NoError(t, p.Fit(x, y))

	blob, err := train.EncodeArtifact(p, names)
	require.NoError(t, err)
	a, err := train.DecodeArtifact(blob)
	require.NoError(t, err)
	return a
}

func TestRequestInference(t *testing.T) {
	loader := &fakeLoader{artifact: trainTinyArtifact(t)}
	env := newTestEnv(t, loader)
	ctx := context.Background()
	const sfreq = 250.0

	// Register the recording so inference knows its geometry.
	sub := &store.Subject{Label: "S"}
	require.NoError(t, env.st.CreateSubject(ctx, sub))
	sess := &store.Session{SubjectID: sub.ID}
	require.NoError(t, env.st.CreateSession(ctx, sess))
	rec := &store.Recording{SessionID: sess.ID, Filename: "live.edf"}
	require.NoError(t, env.st.CreateRecording(ctx, rec))
	require.NoError(t, env.st.SetRecordingSignal(ctx, rec.ID, sfreq, 1, 0))

	// Not enough buffered signal yet.
	_, err := env.proc.RequestInference(ctx, rec.ID, "model-1")
	var de *errdefs.DataError
	require.ErrorAs(t, err, &de)

	// Stream alpha-dominant signal, then infer.
	chunk := [][]float64{sine(10, 50e-6, sfreq, int(sfreq))}
	for i := 0; i < 4; i++ {
		_, err := env.proc.ProcessChunk(ctx, rec.ID, chunk, sfreq)
		require.NoError(t, err)
	}

	roomSub, err := env.bus.Subscribe(ctx, bus.RecordingRoom(rec.ID))
	require.NoError(t, err)
	defer roomSub.Close()

	pred, err := env.proc.RequestInference(ctx, rec.ID, "model-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pred.Prediction, "alpha-dominant window must classify as class 1")
	assert.InDelta(t, 1.0, pred.Probabilities[0]+pred.Probabilities[1], 1e-9)
	assert.Equal(t, pred.Probability, math.Max(pred.Probabilities[0], pred.Probabilities[1]))

	msg := <-roomSub.C()
	assert.Equal(t, bus.EventRealtimePrediction, msg.Event)
}

func TestPoolEnqueueAndDrop(t *testing.T) {
	env := newTestEnv(t, &fakeLoader{})
	pool := NewPool(env.proc, 1)

	chunk := Chunk{RecordingID: "rec-p", Samples: [][]float64{sine(10, 1, 250, 250)}, Sfreq: 250}
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Enqueue(chunk))
	}
	// Queue holds workers*4; the fifth enqueue without a running pool drops.
	require.Error(t, pool.Enqueue(chunk))
}

func TestPoolProcessesQueued(t *testing.T) {
	env := newTestEnv(t, &fakeLoader{})
	pool := NewPool(env.proc, 2)
	ctx, cancel := context.WithCancel(context.Background())

	const sfreq = 250.0
	chunk := Chunk{RecordingID: "rec-q", Samples: [][]float64{sine(10, 1, sfreq, int(sfreq))}, Sfreq: sfreq}
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Enqueue(chunk))
	}

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	// The workers drain the queue; the ring buffer ends up with the
	// appended samples.
	require.Eventually(t, func() bool {
		n, err := env.rdb.Exists(context.Background(), "realtime_buffer:rec-q").Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

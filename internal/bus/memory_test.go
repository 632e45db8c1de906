// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, JobRoom("j1"))
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	msg := Message{Event: EventJobProgress, Payload: JobProgress{JobID: "j1", Progress: 0.5, Status: "running"}}
	require.NoError(t, b.Publish(ctx, JobRoom("j1"), msg))

	select {
	case got := <-sub.C():
		assert.Equal(t, EventJobProgress, got.Event)
		p, ok := got.Payload.(JobProgress)
		require.True(t, ok)
		assert.Equal(t, 0.5, p.Progress)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBus_RoomIsolation(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	subA, err := b.Subscribe(ctx, RecordingRoom("a"))
	require.NoError(t, err)
	defer func() { _ = subA.Close() }()

	require.NoError(t, b.Publish(ctx, RecordingRoom("b"), Message{Event: EventRecordingUpdate}))

	select {
	case <-subA.C():
		t.Fatal("message leaked across rooms")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "room")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	// Fill well past the subscriber buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = b.Publish(ctx, "room", Message{Event: EventRealtimeFeatures})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestMemoryBus_CloseIsIdempotent(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "room")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, open := <-sub.C()
	assert.False(t, open, "channel should be closed")
}

func TestMemoryBus_PublishCancelledContext(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Publish(ctx, "room", Message{Event: EventJobProgress})
	assert.Error(t, err)
}

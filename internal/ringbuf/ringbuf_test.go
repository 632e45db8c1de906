// SPDX-License-Identifier: MIT

package ringbuf

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T, sampleRate, bufferSeconds, nChannels int) (*Buffer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "rec-1", sampleRate, bufferSeconds, nChannels), mr
}

func ramp(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func TestAppendAndRead(t *testing.T) {
	b, _ := newTestBuffer(t, 10, 3, 2)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, [][]float64{ramp(0, 5), ramp(100, 5)}))
	require.NoError(t, b.Append(ctx, [][]float64{ramp(5, 5), ramp(105, 5)}))

	data, err := b.Data(ctx)
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, ramp(0, 10), data[0])
	assert.Equal(t, ramp(100, 10), data[1])
}

func TestEmptyBufferReturnsNil(t *testing.T) {
	b, _ := newTestBuffer(t, 10, 3, 2)
	data, err := b.Data(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestTrimToCapacity(t *testing.T) {
	// Capacity: 10 Hz x 2 s = 20 samples.
	b, _ := newTestBuffer(t, 10, 2, 1)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, [][]float64{ramp(0, 30)}))
	data, err := b.Data(ctx)
	require.NoError(t, err)
	require.Len(t, data[0], 20)
	assert.Equal(t, ramp(10, 20), data[0], "oldest samples drop first")

	require.NoError(t, b.Append(ctx, [][]float64{ramp(30, 5)}))
	data, err = b.Data(ctx)
	require.NoError(t, err)
	require.Len(t, data[0], 20)
	assert.Equal(t, 15.0, data[0][0])
	assert.Equal(t, 34.0, data[0][19])
}

func TestLastWindow(t *testing.T) {
	b, _ := newTestBuffer(t, 10, 3, 1)
	ctx := context.Background()
	require.NoError(t, b.Append(ctx, [][]float64{ramp(0, 30)}))

	data, err := b.Last(ctx, 1.0)
	require.NoError(t, err)
	require.Len(t, data[0], 10)
	assert.Equal(t, ramp(20, 10), data[0])

	// Asking for more than is buffered returns everything.
	data, err = b.Last(ctx, 60)
	require.NoError(t, err)
	assert.Len(t, data[0], 30)
}

func TestTTLRefreshedOnAppend(t *testing.T) {
	b, mr := newTestBuffer(t, 10, 30, 1)
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, [][]float64{ramp(0, 5)}))
	ttl := mr.TTL(b.Key())
	assert.Equal(t, 60*time.Second, ttl, "TTL is twice the window length")

	mr.FastForward(30 * time.Second)
	require.NoError(t, b.Append(ctx, [][]float64{ramp(5, 5)}))
	assert.Equal(t, 60*time.Second, mr.TTL(b.Key()))
}

func TestExpiredBufferIsGone(t *testing.T) {
	b, mr := newTestBuffer(t, 10, 1, 1)
	ctx := context.Background()
	require.NoError(t, b.Append(ctx, [][]float64{ramp(0, 5)}))

	mr.FastForward(3 * time.Second)
	data, err := b.Data(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestClear(t *testing.T) {
	b, _ := newTestBuffer(t, 10, 3, 1)
	ctx := context.Background()
	require.NoError(t, b.Append(ctx, [][]float64{ramp(0, 5)}))
	require.NoError(t, b.Clear(ctx))

	data, err := b.Data(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestAppendRejectsChannelMismatch(t *testing.T) {
	b, _ := newTestBuffer(t, 10, 3, 2)
	err := b.Append(context.Background(), [][]float64{ramp(0, 5)})
	require.Error(t, err)
}

// SPDX-License-Identifier: MIT

// Package ringbuf keeps a sliding window of streamed samples per recording in
// Redis so any worker can process the most recent data.
package ringbuf

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Buffer is a capacity-bounded sample window for one recording. The value is
// stored as one channel-major float64 byte string under
// realtime_buffer:{recording_id} with a TTL of twice the window length, so
// stale streams expire on their own.
type Buffer struct {
	rdb           redis.Cmdable
	recordingID   string
	sampleRate    int
	bufferSeconds int
	nChannels     int
}

// New returns a buffer handle; no Redis traffic happens until use.
func New(rdb redis.Cmdable, recordingID string, sampleRate, bufferSeconds, nChannels int) *Buffer {
	return &Buffer{
		rdb:           rdb,
		recordingID:   recordingID,
		sampleRate:    sampleRate,
		bufferSeconds: bufferSeconds,
		nChannels:     nChannels,
	}
}

// Key returns the Redis key backing this buffer.
func (b *Buffer) Key() string {
	return "realtime_buffer:" + b.recordingID
}

// Capacity returns the maximum number of samples retained per channel.
func (b *Buffer) Capacity() int {
	return b.sampleRate * b.bufferSeconds
}

func (b *Buffer) encode(data [][]float64) []byte {
	if len(data) == 0 {
		return nil
	}
	nSamples := len(data[0])
	out := make([]byte, 0, len(data)*nSamples*8)
	var scratch [8]byte
	for _, ch := range data {
		for _, v := range ch {
			binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
			out = append(out, scratch[:]...)
		}
	}
	return out
}

func (b *Buffer) decode(raw []byte) ([][]float64, error) {
	if b.nChannels <= 0 {
		return nil, fmt.Errorf("ringbuf: channel count not set")
	}
	total := len(raw) / 8
	if total%b.nChannels != 0 {
		return nil, fmt.Errorf("ringbuf: %d samples do not divide into %d channels", total, b.nChannels)
	}
	nSamples := total / b.nChannels
	out := make([][]float64, b.nChannels)
	for ch := range out {
		row := make([]float64, nSamples)
		base := ch * nSamples * 8
		for s := range row {
			row[s] = math.Float64frombits(binary.LittleEndian.Uint64(raw[base+s*8:]))
		}
		out[ch] = row
	}
	return out, nil
}

// Append adds a chunk (channels x samples) and trims the window to capacity.
func (b *Buffer) Append(ctx context.Context, chunk [][]float64) error {
	if len(chunk) != b.nChannels {
		return fmt.Errorf("ringbuf: chunk has %d channels, want %d", len(chunk), b.nChannels)
	}
	current, err := b.Data(ctx)
	if err != nil {
		return err
	}

	combined := chunk
	if current != nil {
		combined = make([][]float64, b.nChannels)
		for ch := range combined {
			combined[ch] = append(append([]float64(nil), current[ch]...), chunk[ch]...)
		}
	}
	limit := b.Capacity()
	for ch := range combined {
		if len(combined[ch]) > limit {
			combined[ch] = combined[ch][len(combined[ch])-limit:]
		}
	}

	ttl := time.Duration(2*b.bufferSeconds) * time.Second
	if err := b.rdb.Set(ctx, b.Key(), b.encode(combined), ttl).Err(); err != nil {
		return fmt.Errorf("ringbuf: set %s: %w", b.Key(), err)
	}
	return nil
}

// Data returns the whole window, or nil when nothing is buffered.
func (b *Buffer) Data(ctx context.Context) ([][]float64, error) {
	raw, err := b.rdb.Get(ctx, b.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ringbuf: get %s: %w", b.Key(), err)
	}
	return b.decode(raw)
}

// Last returns the trailing duration of the window (all of it when shorter).
func (b *Buffer) Last(ctx context.Context, duration float64) ([][]float64, error) {
	data, err := b.Data(ctx)
	if err != nil || data == nil {
		return data, err
	}
	n := int(duration * float64(b.sampleRate))
	for ch := range data {
		if len(data[ch]) > n {
			data[ch] = data[ch][len(data[ch])-n:]
		}
	}
	return data, nil
}

// Clear drops the buffered window.
func (b *Buffer) Clear(ctx context.Context) error {
	if err := b.rdb.Del(ctx, b.Key()).Err(); err != nil {
		return fmt.Errorf("ringbuf: del %s: %w", b.Key(), err)
	}
	return nil
}

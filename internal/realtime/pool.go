// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/neurolab/neurolab/internal/metrics"
)

// Chunk is one queued unit of streaming work.
type Chunk struct {
	RecordingID string
	Samples     [][]float64 // [channel][sample]
	Sfreq       float64
}

// Pool drains a bounded chunk queue with a fixed number of workers. A full
// queue rejects the chunk instead of blocking the producer; live data that
// cannot keep up is stale by the time it would be processed.
type Pool struct {
	proc    *Processor
	queue   chan Chunk
	workers int
}

// NewPool sizes the queue at four chunks per worker.
func NewPool(proc *Processor, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		proc:    proc,
		queue:   make(chan Chunk, workers*4),
		workers: workers,
	}
}

// Enqueue hands a chunk to the pool. Returns an error when the queue is
// full.
func (p *Pool) Enqueue(c Chunk) error {
	select {
	case p.queue <- c:
		metrics.RealtimeQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return fmt.Errorf("realtime: queue full, chunk for %s dropped", c.RecordingID)
	}
}

// Run processes chunks until ctx is cancelled. It blocks, so callers start
// it in its own goroutine (typically via errgroup).
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case c := <-p.queue:
					metrics.RealtimeQueueDepth.Set(float64(len(p.queue)))
					if _, err := p.proc.ProcessChunk(ctx, c.RecordingID, c.Samples, c.Sfreq); err != nil {
						p.proc.logger.Error().Err(err).
							Str("recording_id", c.RecordingID).
							Msg("chunk processing failed")
					}
				}
			}
		})
	}
	return g.Wait()
}

// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"time"

	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/log"
	"github.com/neurolab/neurolab/internal/metrics"
)

const maxAttempts = 3

var backoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// WithRetry runs op, retrying transient storage errors with bounded
// exponential backoff. All other error kinds are returned immediately.
func WithRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !errdefs.Retryable(err) {
			return err
		}
		metrics.IncStorageRetry()
		logger := log.WithComponent("storage")
		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("transient storage error, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff[attempt]):
		}
	}
	return err
}

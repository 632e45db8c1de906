// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storageRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "neurolab_storage_retries_total",
	Help: "Transient object-store operations retried with backoff",
})

// IncStorageRetry records one transient-error retry.
func IncStorageRetry() {
	storageRetries.Inc()
}

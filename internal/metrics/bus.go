// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var busDropTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "neurolab_bus_publish_drops_total",
	Help: "Event bus publishes dropped, by room and reason",
}, []string{"room", "reason"})

// IncBusDropReason records a dropped bus publish.
func IncBusDropReason(room, reason string) {
	busDropTotal.WithLabelValues(room, reason).Inc()
}

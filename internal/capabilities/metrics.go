package capabilities

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "animator",
		Subsystem: "capabilities",
		Name:      "fetch_total",
		Help:      "Capability document fetches by outcome.",
	}, []string{"kind", "outcome"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "animator",
		Subsystem: "capabilities",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of a full capabilities refresh pass.",
		Buckets:   prometheus.DefBuckets,
	})

	cachedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "animator",
		Subsystem: "capabilities",
		Name:      "entries",
		Help:      "Capability documents currently cached.",
	})
)

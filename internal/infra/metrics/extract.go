package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(extractLatency) }

var extractLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pdf2md_extract_duration_seconds",
		Help:    "Page extractor call latency by provider and outcome.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	},
	[]string{"provider", "outcome"},
)

func ObserveExtract(provider string, d time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	extractLatency.WithLabelValues(norm(provider), outcome).Observe(d.Seconds())
}

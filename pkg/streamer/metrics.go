package streamer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtsp_demo_sessions_started_total",
		Help: "Sessions that reached the active state.",
	})
	metricSessionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtsp_demo_sessions_failed_total",
		Help: "Offers that ended in a failed session.",
	})
	metricNegotiationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtsp_demo_negotiation_seconds",
		Help:    "Offer to answer latency.",
		Buckets: prometheus.DefBuckets,
	})
)

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricFramesForwarded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rtsp_demo_frames_forwarded_total",
	Help: "Frames pushed through the graph into the transport sink.",
})

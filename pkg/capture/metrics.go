package capture

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rtsp_demo_capture_reconnects_total",
	Help: "Camera reconnect attempts.",
})

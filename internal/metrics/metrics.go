// Package metrics provides Prometheus instrumentation for the sync daemon:
// a connection gauge, counters for frames and reconnects, and a histogram
// for outbound send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connected is 1 while the session is established, 0 otherwise.
	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_connected",
		Help: "Whether the websocket session is currently established",
	})

	// ReconnectsTotal counts reconnect attempts since process start.
	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reconnects_total",
		Help: "Total number of websocket reconnect attempts",
	})

	// FramesTotal counts inbound frames, labeled by decoded frame type:
	// "hello", "established", "event", "unknown", or "invalid".
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_frames_total",
		Help: "Total number of inbound websocket frames by type",
	}, []string{"type"})

	// MessagesTotal counts application messages, labeled by direction:
	// "received", "sent", "sent_rest".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"direction"})

	// SendLatency records outbound action send latency in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatsync_send_latency_seconds",
		Help:    "Outbound action send latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

func init() {
	prometheus.MustRegister(
		Connected,
		ReconnectsTotal,
		FramesTotal,
		MessagesTotal,
		SendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatagramsReceivedTotal counts UDP datagrams read by the trap listener
	DatagramsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trapd_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		},
	)

	// ReceiveErrorsTotal counts socket read failures while listening
	ReceiveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trapd_receive_errors_total",
			Help: "Total number of UDP receive errors while listening",
		},
	)

	// DecodeResultsTotal counts decoded records by outcome (clean, partial, aborted)
	DecodeResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapd_decode_results_total",
			Help: "Total number of decoded trap records by outcome",
		},
		[]string{"outcome"},
	)

	// DecodeLatencySeconds measures per-datagram decode time
	DecodeLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trapd_decode_latency_seconds",
			Help:    "Latency of decoding one datagram in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// HandlerPanicsTotal counts datagrams whose handling panicked
	HandlerPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trapd_handler_panics_total",
			Help: "Total number of recovered panics while handling a datagram",
		},
	)

	// SinkRecordsTotal counts records stored per sink
	SinkRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapd_sink_records_total",
			Help: "Total number of trap records stored by sink",
		},
		[]string{"sink"},
	)

	// SinkErrorsTotal counts store failures per sink
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapd_sink_errors_total",
			Help: "Total number of failed store calls by sink",
		},
		[]string{"sink"},
	)

	// ListenerUp is 1 while the trap listener is bound
	ListenerUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trapd_listener_up",
			Help: "Whether the trap listener is listening (1) or idle (0)",
		},
	)

	// WebRequestsTotal counts viewer requests by route and status code
	WebRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapd_web_requests_total",
			Help: "Total number of web viewer requests",
		},
		[]string{"route", "code"},
	)

	// ControlRequestsTotal counts control socket requests by method and result
	ControlRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapd_control_requests_total",
			Help: "Total number of control socket requests by method and result",
		},
		[]string{"method", "result"},
	)
)

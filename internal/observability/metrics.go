package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urbilink",
			Subsystem: "client",
			Name:      "received_bytes_total",
			Help:      "Bytes appended to the reception buffer.",
		},
		[]string{"host"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urbilink",
			Subsystem: "client",
			Name:      "sent_bytes_total",
			Help:      "Bytes flushed to the transport.",
		},
		[]string{"host"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urbilink",
			Subsystem: "client",
			Name:      "messages_total",
			Help:      "Messages decoded from the server, by kind.",
		},
		[]string{"host", "kind"},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urbilink",
			Subsystem: "client",
			Name:      "callback_deliveries_total",
			Help:      "Handler invocations performed by dispatch.",
		},
		[]string{"host"},
	)
	clientErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urbilink",
			Subsystem: "client",
			Name:      "errors_total",
			Help:      "Local client errors reported through the client-error channel.",
		},
		[]string{"host", "reason"},
	)
	discardedLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "urbilink",
			Subsystem: "client",
			Name:      "discarded_lines_total",
			Help:      "Lines dropped because of a malformed header.",
		},
		[]string{"host"},
	)
	registrations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "urbilink",
			Subsystem: "client",
			Name:      "registrations",
			Help:      "Live callback registrations.",
		},
		[]string{"host"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			bytesReceived,
			bytesSent,
			messagesReceived,
			deliveries,
			clientErrors,
			discardedLines,
			registrations,
		)
	})
}

func RecordReceived(host string, n int) {
	RegisterMetrics()
	bytesReceived.WithLabelValues(host).Add(float64(n))
}

func RecordSent(host string, n int) {
	RegisterMetrics()
	bytesSent.WithLabelValues(host).Add(float64(n))
}

func RecordMessage(host, kind string, delivered int) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(host, kind).Inc()
	deliveries.WithLabelValues(host).Add(float64(delivered))
}

func RecordClientError(host, reason string) {
	RegisterMetrics()
	clientErrors.WithLabelValues(host, reason).Inc()
}

func RecordDiscarded(host string, n uint64) {
	RegisterMetrics()
	discardedLines.WithLabelValues(host).Add(float64(n))
}

func SetRegistrations(host string, n int) {
	RegisterMetrics()
	registrations.WithLabelValues(host).Set(float64(n))
}

package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "simcircuit"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total debug API HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Debug API HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	circuitDatagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "datagrams_total",
			Help:      "Datagrams written or read by a circuit.",
		},
		[]string{"circuit", "direction", "reliable"},
	)
	circuitBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "bytes_total",
			Help:      "Datagram bytes written or read by a circuit.",
		},
		[]string{"circuit", "direction"},
	)
	circuitResends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "resends_total",
			Help:      "Reliable datagrams retransmitted.",
		},
		[]string{"circuit"},
	)
	circuitDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "duplicates_total",
			Help:      "Inbound datagrams dropped by the dedupe window.",
		},
		[]string{"circuit"},
	)
	circuitDeliveryFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "delivery_failed_total",
			Help:      "Reliable messages dropped after exhausting retries.",
		},
		[]string{"circuit"},
	)
	circuitMalformed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "malformed_total",
			Help:      "Inbound datagrams dropped as malformed or unknown.",
		},
		[]string{"circuit", "reason"},
	)
	circuitAcks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "acks_total",
			Help:      "Acks sent or received.",
		},
		[]string{"circuit", "direction"},
	)
	circuitLost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "lost_packets_total",
			Help:      "Inbound sequence numbers skipped over.",
		},
		[]string{"circuit"},
	)
	circuitPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "pending_reliable",
			Help:      "Reliable messages awaiting an ack.",
		},
		[]string{"circuit"},
	)
	dispatchMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Messages offered to listeners.",
		},
		[]string{"message", "handled"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent running listeners for one message.",
			Buckets:   []float64{.00001, .0001, .001, .01, .1, 1},
		},
		[]string{"message"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			circuitDatagrams, circuitBytes, circuitResends, circuitDuplicates,
			circuitDeliveryFailed, circuitMalformed, circuitAcks, circuitLost, circuitPending,
			dispatchMessages, dispatchDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// Direction labels for circuit traffic.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

func RecordDatagram(circuit, direction string, reliable bool, size int) {
	RegisterMetrics()
	circuitDatagrams.WithLabelValues(circuit, direction, strconv.FormatBool(reliable)).Inc()
	circuitBytes.WithLabelValues(circuit, direction).Add(float64(size))
}

func RecordResend(circuit string) {
	RegisterMetrics()
	circuitResends.WithLabelValues(circuit).Inc()
}

func RecordDuplicate(circuit string) {
	RegisterMetrics()
	circuitDuplicates.WithLabelValues(circuit).Inc()
}

func RecordDeliveryFailed(circuit string) {
	RegisterMetrics()
	circuitDeliveryFailed.WithLabelValues(circuit).Inc()
}

func RecordMalformed(circuit, reason string) {
	RegisterMetrics()
	circuitMalformed.WithLabelValues(circuit, reason).Inc()
}

func RecordAcks(circuit, direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	circuitAcks.WithLabelValues(circuit, direction).Add(float64(n))
}

func RecordLost(circuit string, n uint32) {
	if n == 0 {
		return
	}
	RegisterMetrics()
	circuitLost.WithLabelValues(circuit).Add(float64(n))
}

func SetPendingReliable(circuit string, n int) {
	RegisterMetrics()
	circuitPending.WithLabelValues(circuit).Set(float64(n))
}

// RecordDispatch counts a message a listener claimed and the time it took.
func RecordDispatch(message string, duration time.Duration) {
	RegisterMetrics()
	dispatchMessages.WithLabelValues(message, "true").Inc()
	dispatchDuration.WithLabelValues(message).Observe(duration.Seconds())
}

// RecordUnhandled counts a message no listener claimed.
func RecordUnhandled(message string) {
	RegisterMetrics()
	dispatchMessages.WithLabelValues(message, "false").Inc()
}

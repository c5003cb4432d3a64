package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BMPMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmp_messages_total",
			Help: "Total BMP messages received, by message type.",
		},
		[]string{"type"},
	)

	UpdatesEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updates_emitted_total",
			Help: "Total route updates emitted downstream, by router and announce/withdraw.",
		},
		[]string{"router", "announced"},
	)

	KafkaMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_total",
			Help: "Total Kafka publish attempts, by result status.",
		},
		[]string{"status"},
	)

	SnapshotDumpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_dumps_total",
			Help: "Total snapshot dump attempts, by result.",
		},
		[]string{"result"},
	)

	SnapshotDumpDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapshot_dump_duration_seconds",
			Help:    "Duration of snapshot dumps, in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	PeerEstablished = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "peer_established",
			Help: "1 if a (router, peer) session is currently up, 0 otherwise.",
		},
		[]string{"router", "peer"},
	)

	RIBPrefixes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rib_prefixes",
			Help: "Number of prefixes currently held for a (router, peer) session.",
		},
		[]string{"router", "peer"},
	)
)

var registerOnce sync.Once

// Register registers every collector-defined metric with the default
// Prometheus registry. Safe to call more than once; only the first call
// registers anything.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			BMPMessagesTotal,
			UpdatesEmittedTotal,
			KafkaMessagesTotal,
			SnapshotDumpsTotal,
			SnapshotDumpDurationSeconds,
			PeerEstablished,
			RIBPrefixes,
		)
	})
}

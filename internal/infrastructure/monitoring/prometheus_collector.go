package monitoring

import (
	"time"

	"streamcast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes relay-side signaling metrics. All methods
// are safe for concurrent use and tolerate a nil receiver so the relay can
// run without monitoring wired.
type PrometheusCollector struct {
	roomsActive    prometheus.Gauge
	peersConnected *prometheus.GaugeVec

	joinsTotal          prometheus.Counter
	leavesTotal         prometheus.Counter
	signalsRelayedTotal prometheus.Counter
	signalsDroppedTotal *prometheus.CounterVec
	messagesRejected    prometheus.Counter

	joinSnapshotDuration prometheus.Histogram
	broadcastFanout      prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamcast_rooms_active",
			Help: "Number of rooms with at least one member",
		}),

		peersConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamcast_peers_connected",
			Help: "Number of joined peers by role",
		}, []string{"role"}),

		joinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcast_joins_total",
			Help: "Total room joins processed",
		}),

		leavesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcast_leaves_total",
			Help: "Total room leaves processed, explicit or by disconnect",
		}),

		signalsRelayedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcast_signals_relayed_total",
			Help: "Signal envelopes forwarded to their target",
		}),

		signalsDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcast_signals_dropped_total",
			Help: "Signal envelopes silently dropped, by reason",
		}, []string{"reason"}),

		messagesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcast_messages_rejected_total",
			Help: "Inbound messages rejected by the per-connection rate limit",
		}),

		joinSnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamcast_join_snapshot_duration_seconds",
			Help:    "Time from join receipt to the peers-in-room reply",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),

		broadcastFanout: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamcast_broadcast_fanout_peers",
			Help:    "Recipients per topology broadcast",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

func (p *PrometheusCollector) RecordPeerJoined(role domain.Role, createdRoom bool, snapshotLatency time.Duration) {
	if p == nil {
		return
	}
	p.joinsTotal.Inc()
	p.peersConnected.WithLabelValues(string(role)).Inc()
	if createdRoom {
		p.roomsActive.Inc()
	}
	p.joinSnapshotDuration.Observe(snapshotLatency.Seconds())
}

func (p *PrometheusCollector) RecordPeerLeft(role domain.Role, closedRoom bool) {
	if p == nil {
		return
	}
	p.leavesTotal.Inc()
	p.peersConnected.WithLabelValues(string(role)).Dec()
	if closedRoom {
		p.roomsActive.Dec()
	}
}

func (p *PrometheusCollector) RecordSignalRelayed() {
	if p == nil {
		return
	}
	p.signalsRelayedTotal.Inc()
}

func (p *PrometheusCollector) RecordSignalDropped(reason string) {
	if p == nil {
		return
	}
	p.signalsDroppedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordMessageRejected() {
	if p == nil {
		return
	}
	p.messagesRejected.Inc()
}

func (p *PrometheusCollector) RecordBroadcast(recipients int) {
	if p == nil {
		return
	}
	p.broadcastFanout.Observe(float64(recipients))
}

package routesim

// metrics.go exposes the activity of runs as prometheus collectors.  A nil *Metrics
// is valid and records nothing, so the model calls its methods unconditionally

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// reasons a packet copy leaves the network undelivered
const (
	dropStale     = "stale"
	dropFirewall  = "firewall"
	dropExhausted = "exhausted"
)

// Metrics holds the collectors updated by runs
type Metrics struct {
	PacketsSent      *prometheus.CounterVec
	PacketsDelivered *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	Retransmissions  prometheus.Counter
	EventsDispatched *prometheus.CounterVec
	DeliveryLatency  prometheus.Histogram
}

// CreateMetrics is a constructor.  The collectors are registered with reg
func CreateMetrics(reg prometheus.Registerer) *Metrics {
	mt := new(Metrics)
	mt.PacketsSent = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "routesim_packets_sent_total",
			Help: "Packets first sent by a computer",
		},
		[]string{"kind"},
	)

	mt.PacketsDelivered = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "routesim_packets_delivered_total",
			Help: "Packets received by their destination computer in time",
		},
		[]string{"kind"},
	)

	mt.PacketsDropped = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "routesim_packets_dropped_total",
			Help: "Packet copies removed from the network undelivered",
		},
		[]string{"reason"},
	)

	mt.Retransmissions = promauto.With(reg).NewCounter(
		prometheus.CounterOpts{
			Name: "routesim_retransmissions_total",
			Help: "Packets sent again after a timeout",
		},
	)

	mt.EventsDispatched = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "routesim_events_dispatched_total",
			Help: "Events dispatched by the scheduler",
		},
		[]string{"event"},
	)

	mt.DeliveryLatency = promauto.With(reg).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routesim_delivery_latency_ticks",
			Help:    "Ticks from first send to delivery",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		},
	)
	return mt
}

func kindLabel(malicious bool) string {
	if malicious {
		return "malicious"
	}
	return "benign"
}

func (mt *Metrics) sent(malicious bool) {
	if mt == nil {
		return
	}
	mt.PacketsSent.WithLabelValues(kindLabel(malicious)).Inc()
}

func (mt *Metrics) delivered(malicious bool, latency uint64) {
	if mt == nil {
		return
	}
	mt.PacketsDelivered.WithLabelValues(kindLabel(malicious)).Inc()
	mt.DeliveryLatency.Observe(float64(latency))
}

func (mt *Metrics) dropped(reason string) {
	if mt == nil {
		return
	}
	mt.PacketsDropped.WithLabelValues(reason).Inc()
}

func (mt *Metrics) resent() {
	if mt == nil {
		return
	}
	mt.Retransmissions.Inc()
}

func (mt *Metrics) eventDispatched(evtType EventType) {
	if mt == nil {
		return
	}
	mt.EventsDispatched.WithLabelValues(evtType.String()).Inc()
}

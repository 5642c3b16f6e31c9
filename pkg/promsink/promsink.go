// Package promsink exports delivery attempts and reporter events as Prometheus metrics.
package promsink

import (
	"strconv"

	"github.com/jkbrsn/dash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dash"

// Sink implements dash.DeliverySink on top of a Prometheus registerer.
type Sink struct {
	deliveries *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	events     *prometheus.CounterVec
}

// New registers the sink's collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Sink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Sink{
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by payload kind, scheme, outcome and status code.",
		}, []string{"kind", "scheme", "outcome", "status"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_bytes_total",
			Help:      "Bytes accepted by endpoints, by payload kind.",
		}, []string{"kind"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Time from sending a request to receiving the collector's response.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"kind"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reporter_events_total",
			Help:      "Reporter lifecycle events by name.",
		}, []string{"event"}),
	}
}

// ObserveDelivery records one delivery attempt.
func (s *Sink) ObserveDelivery(m dash.DeliveryMetrics) {
	kind := m.Kind.String()
	status := ""
	if m.StatusCode != 0 {
		status = strconv.Itoa(m.StatusCode)
	}
	s.deliveries.WithLabelValues(kind, m.Scheme, string(m.Outcome), status).Inc()
	if m.Outcome == dash.OutcomeDelivered {
		s.bytes.WithLabelValues(kind).Add(float64(m.SizeBytes))
	}
	if m.Times.Latency > 0 {
		s.latency.WithLabelValues(kind).Observe(m.Times.Latency.Seconds())
	}
}

// ObserveEvent counts a reporter event.
func (s *Sink) ObserveEvent(name string, _ map[string]any) {
	s.events.WithLabelValues(name).Inc()
}

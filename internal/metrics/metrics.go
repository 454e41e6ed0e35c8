// Package metrics defines the Prometheus collectors exported on /metrics.
// All recording methods are safe to call on a nil *Metrics so components
// can run without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// HTTP requests (method, path, status_code)
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP latency (method, path)
	HTTPRequestDuration *prometheus.HistogramVec

	// commit/cancel outcomes (operation, result)
	ReservationsTotal *prometheus.CounterVec

	// hold transitions (event: blocked, released, expired)
	HoldEventsTotal *prometheus.CounterVec

	// realtime events dropped because a subscriber buffer was full
	EventsDroppedTotal prometheus.Counter

	// open realtime sessions
	RealtimeSessions prometheus.Gauge
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reservations_total",
				Help: "Reservation commit and cancel attempts by result",
			},
			[]string{"operation", "result"},
		),
		HoldEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seat_hold_events_total",
				Help: "Seat hold transitions",
			},
			[]string{"event"},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "realtime_events_dropped_total",
				Help: "Realtime events dropped because a session buffer was full",
			},
		),
		RealtimeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_sessions",
				Help: "Currently connected realtime sessions",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ReservationsTotal,
		m.HoldEventsTotal,
		m.EventsDroppedTotal,
		m.RealtimeSessions,
	)

	return m
}

func (m *Metrics) ObserveReservation(operation, result string) {
	if m == nil {
		return
	}
	m.ReservationsTotal.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveHold(event string) {
	if m == nil {
		return
	}
	m.HoldEventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.RealtimeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.RealtimeSessions.Dec()
}

// Package metrics exposes the system's prometheus surface: events
// processed/dropped, per-event latency, inbound/outbound queue depth,
// active symbol count, ticks flushed, tick-flush latency, and tick
// cadence skew, per spec.md §6. Adapted from the teacher's
// internal/metrics/websocket_metrics.go registration idiom (gauges and
// counters built in a constructor and registered against a
// prometheus.Registerer in one MustRegister call).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide matching-engine metrics set.
type Metrics struct {
	eventsProcessedTotal *prometheus.CounterVec
	eventsDroppedTotal   *prometheus.CounterVec
	eventLatency         prometheus.Histogram

	inboundQueueDepth  *prometheus.GaugeVec
	outboundQueueDepth *prometheus.GaugeVec

	activeSymbols prometheus.Gauge

	ticksFlushedTotal prometheus.Counter
	tickFlushLatency  prometheus.Histogram
	tickCadenceSkew   prometheus.Histogram

	routerEnqueuedTotal             prometheus.Counter
	routerRejectedBackpressureTotal prometheus.Counter
	routerActivationRequestsTotal   prometheus.Counter
}

// New builds the metrics set and registers it against registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whistle_events_processed_total",
			Help: "Total engine events processed by kind.",
		}, []string{"kind"}),
		eventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whistle_events_dropped_total",
			Help: "Total engine events dropped, by reason.",
		}, []string{"reason"}),
		eventLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whistle_event_latency_seconds",
			Help:    "Latency from event production to execution-manager dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
		inboundQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whistle_inbound_queue_depth",
			Help: "Current depth of a symbol's inbound queue.",
		}, []string{"symbol"}),
		outboundQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whistle_outbound_queue_depth",
			Help: "Current depth of a symbol's outbound queue.",
		}, []string{"symbol"}),
		activeSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whistle_active_symbols",
			Help: "Number of symbols with an active matching engine.",
		}),
		ticksFlushedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whistle_ticks_flushed_total",
			Help: "Total ticks flushed by the execution manager.",
		}),
		tickFlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whistle_tick_flush_latency_seconds",
			Help:    "Latency of flushing a completed tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
		tickCadenceSkew: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whistle_tick_cadence_skew_seconds",
			Help:    "Difference between actual and target tick cadence.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
		routerEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whistle_router_enqueued_total",
			Help: "Total inbound messages successfully routed.",
		}),
		routerRejectedBackpressureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whistle_router_rejected_backpressure_total",
			Help: "Total inbound messages rejected due to queue backpressure.",
		}),
		routerActivationRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whistle_router_activation_requests_total",
			Help: "Total symbol activation requests issued by the router.",
		}),
	}

	registry.MustRegister(
		m.eventsProcessedTotal,
		m.eventsDroppedTotal,
		m.eventLatency,
		m.inboundQueueDepth,
		m.outboundQueueDepth,
		m.activeSymbols,
		m.ticksFlushedTotal,
		m.tickFlushLatency,
		m.tickCadenceSkew,
		m.routerEnqueuedTotal,
		m.routerRejectedBackpressureTotal,
		m.routerActivationRequestsTotal,
	)

	return m
}

// RecordEventProcessed increments the processed counter for kind.
func (m *Metrics) RecordEventProcessed(kind string) {
	m.eventsProcessedTotal.WithLabelValues(kind).Inc()
}

// RecordEventDropped increments the dropped counter for reason.
func (m *Metrics) RecordEventDropped(reason string) {
	m.eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordEventLatency observes the time from production to dispatch.
func (m *Metrics) RecordEventLatency(d time.Duration) {
	m.eventLatency.Observe(d.Seconds())
}

// SetInboundQueueDepth records symbol's current inbound depth.
func (m *Metrics) SetInboundQueueDepth(symbol string, depth float64) {
	m.inboundQueueDepth.WithLabelValues(symbol).Set(depth)
}

// SetOutboundQueueDepth records symbol's current outbound depth.
func (m *Metrics) SetOutboundQueueDepth(symbol string, depth float64) {
	m.outboundQueueDepth.WithLabelValues(symbol).Set(depth)
}

// SetActiveSymbols records the number of currently active symbols.
func (m *Metrics) SetActiveSymbols(n int) {
	m.activeSymbols.Set(float64(n))
}

// RecordTickFlushed records one tick-flush completion and its latency.
func (m *Metrics) RecordTickFlushed(d time.Duration) {
	m.ticksFlushedTotal.Inc()
	m.tickFlushLatency.Observe(d.Seconds())
}

// RecordTickCadenceSkew records the gap between a tick's actual and
// target cadence.
func (m *Metrics) RecordTickCadenceSkew(d time.Duration) {
	m.tickCadenceSkew.Observe(d.Seconds())
}

// RecordRouterEnqueued increments the router's success counter.
func (m *Metrics) RecordRouterEnqueued() {
	m.routerEnqueuedTotal.Inc()
}

// RecordRouterRejectedBackpressure increments the router's backpressure
// rejection counter.
func (m *Metrics) RecordRouterRejectedBackpressure() {
	m.routerRejectedBackpressureTotal.Inc()
}

// RecordRouterActivationRequest increments the router's activation
// request counter.
func (m *Metrics) RecordRouterActivationRequest() {
	m.routerActivationRequestsTotal.Inc()
}

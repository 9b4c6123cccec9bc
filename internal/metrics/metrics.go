// Package metrics wires every component-level metrics interface
// (gateway.Metrics, risk.RejectCounter, the normalizer's error counter,
// and so on) to a single prometheus registry. The registry is an
// explicit struct constructed at startup and passed by reference, never
// a package-level singleton.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the engine exports and implements the
// narrow per-component interfaces (gateway.Metrics, risk.RejectCounter,
// the normalizer's error counter, bus overflow) so each subsystem
// depends only on the method set it actually uses.
type Registry struct {
	BusOverflowTotal         prometheus.Counter
	PipelineLatencyNs        *prometheus.HistogramVec
	NormalizationErrorsTotal *prometheus.CounterVec
	RiskRejectTotal          *prometheus.CounterVec
	OrderActionsTotal        *prometheus.CounterVec
	OrderRejectTotal         prometheus.Counter
	BrokerLatencySeconds     prometheus.Histogram
	StormGuardMode           *prometheus.GaugeVec
	GatewayPolicyMode        prometheus.Gauge
	ExecutionRouterLagNs     prometheus.Gauge
	RecorderDroppedTotal     *prometheus.CounterVec
	DiskPressureLevel        prometheus.Gauge
}

// New creates a Registry and registers every metric against reg.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		BusOverflowTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_overflow_total",
			Help: "Cumulative count of consumer skip-to-latest events on the RingBus.",
		}),
		PipelineLatencyNs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_latency_ns",
			Help:    "End-to-end latency in nanoseconds per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 12),
		}, []string{"stage"}),
		NormalizationErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "normalization_errors_total",
			Help: "Count of dropped/failed normalization attempts by error kind.",
		}, []string{"type"}),
		RiskRejectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_reject_total",
			Help: "Count of OrderIntents rejected by the risk pipeline.",
		}, []string{"strategy", "reason"}),
		OrderActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_actions_total",
			Help: "Count of order actions by type (submit/broker_failure).",
		}, []string{"type"}),
		OrderRejectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_reject_total",
			Help: "Count of order dispatches rejected by OrderAdapter (rate limit, circuit open, deadline).",
		}),
		BrokerLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "broker_dispatch_latency_seconds",
			Help:    "Observed latency of broker dispatch calls.",
			Buckets: prometheus.DefBuckets,
		}),
		StormGuardMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stormguard_mode",
			Help: "Current StormGuard state as an integer gauge (0=NORMAL..3=HALT), labeled by strategy.",
		}, []string{"strategy"}),
		GatewayPolicyMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_policy_mode",
			Help: "Current GatewayPolicy mode as an integer gauge (0=NORMAL,1=DEGRADE,2=HALT).",
		}),
		ExecutionRouterLagNs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execution_router_lag_ns",
			Help: "Observed lag between broker callback ingest and ExecutionRouter processing, in nanoseconds.",
		}),
		RecorderDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_dropped_total",
			Help: "Count of recorder rows dropped by table and backpressure policy.",
		}, []string{"table", "policy"}),
		DiskPressureLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_disk_pressure_level",
			Help: "Current WAL-directory disk pressure level (0=OK,1=WARN,2=CRITICAL,3=HALT).",
		}),
	}

	reg.MustRegister(
		m.BusOverflowTotal,
		m.PipelineLatencyNs,
		m.NormalizationErrorsTotal,
		m.RiskRejectTotal,
		m.OrderActionsTotal,
		m.OrderRejectTotal,
		m.BrokerLatencySeconds,
		m.StormGuardMode,
		m.GatewayPolicyMode,
		m.ExecutionRouterLagNs,
		m.RecorderDroppedTotal,
		m.DiskPressureLevel,
	)
	return m
}

// IncNormalizationError implements normalizer's errorCounter.
func (m *Registry) IncNormalizationError(kind string) {
	m.NormalizationErrorsTotal.WithLabelValues(kind).Inc()
}

// IncRiskReject implements risk.RejectCounter.
func (m *Registry) IncRiskReject(strategy, reason string) {
	m.RiskRejectTotal.WithLabelValues(strategy, reason).Inc()
}

// IncOrderSubmitted implements gateway.Metrics.
func (m *Registry) IncOrderSubmitted(strategy, symbol string) {
	m.OrderActionsTotal.WithLabelValues("submit").Inc()
}

// IncOrderRejectedGateway implements gateway.Metrics.
func (m *Registry) IncOrderRejectedGateway(strategy, reason string) {
	m.OrderRejectTotal.Inc()
}

// IncBrokerFailure implements gateway.Metrics.
func (m *Registry) IncBrokerFailure(strategy string) {
	m.OrderActionsTotal.WithLabelValues("broker_failure").Inc()
}

// ObserveBrokerLatency implements gateway.Metrics.
func (m *Registry) ObserveBrokerLatency(seconds float64) {
	m.BrokerLatencySeconds.Observe(seconds)
}

// ObserveBusOverflow is wired to bus.OverflowHook.
func (m *Registry) ObserveBusOverflow() {
	m.BusOverflowTotal.Inc()
}

// SetStormGuardMode publishes the StormGuard gauge for one strategy scope
// ("global" for the process-wide guard).
func (m *Registry) SetStormGuardMode(strategy string, state int) {
	m.StormGuardMode.WithLabelValues(strategy).Set(float64(state))
}

// SetGatewayPolicyMode publishes the GatewayPolicy gauge.
func (m *Registry) SetGatewayPolicyMode(mode int) {
	m.GatewayPolicyMode.Set(float64(mode))
}

// SetExecutionRouterLag publishes the execution-router lag gauge.
func (m *Registry) SetExecutionRouterLag(ns int64) {
	m.ExecutionRouterLagNs.Set(float64(ns))
}

// IncRecorderDropped implements the recorder batcher's drop counter.
func (m *Registry) IncRecorderDropped(table, policy string) {
	m.RecorderDroppedTotal.WithLabelValues(table, policy).Inc()
}

// SetDiskPressureLevel publishes the disk-pressure gauge.
func (m *Registry) SetDiskPressureLevel(level int) {
	m.DiskPressureLevel.Set(float64(level))
}

// ObservePipelineLatency records a stage latency sample.
func (m *Registry) ObservePipelineLatency(stage string, ns float64) {
	m.PipelineLatencyNs.WithLabelValues(stage).Observe(ns)
}

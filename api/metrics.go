package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/stellar-gateway/engine"
	"github.com/VanDung-dev/stellar-gateway/gateway"
	"github.com/VanDung-dev/stellar-gateway/network"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory
	ns       string

	// Remote call metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec

	// Workflow metrics
	WorkflowsTotal      *prometheus.CounterVec
	WorkflowTransitions *prometheus.CounterVec

	// Delivery metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
	RateLimitedTotal    *prometheus.CounterVec
}

var (
	_ engine.CallObserver = (*Metrics)(nil)
	_ gateway.EventSink   = (*Metrics)(nil)
)

// NewMetrics creates metrics under namespace on a dedicated registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		factory:  factory,
		ns:       namespace,

		RPCCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Remote RPC calls by name and outcome",
		}, []string{"call", "outcome"}),
		RPCCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_call_duration_seconds",
			Help:      "Time until a remote RPC call resolved, by name",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"call"}),

		WorkflowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_workflows_total",
			Help:      "Finished account creation workflows by terminal state",
		}, []string{"state"}),
		WorkflowTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_workflow_transitions_total",
			Help:      "Account creation workflow transitions by state",
		}, []string{"state"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		GRPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC requests by method and status",
		}, []string{"method", "status"}),
		GRPCRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request duration by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-client limiter, by surface",
		}, []string{"surface"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCall records the terminal state of one remote call.
func (m *Metrics) ObserveCall(name string, state engine.State, elapsed time.Duration) {
	m.RPCCallsTotal.WithLabelValues(name, state.String()).Inc()
	m.RPCCallDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// Publish counts workflow transitions and terminal outcomes.
func (m *Metrics) Publish(e gateway.Event) {
	m.WorkflowTransitions.WithLabelValues(string(e.State)).Inc()
	if e.State.Terminal() {
		m.WorkflowsTotal.WithLabelValues(string(e.State)).Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method, code string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordGRPCRequest records a gRPC request.
func (m *Metrics) RecordGRPCRequest(method, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRateLimited counts a refused request.
func (m *Metrics) RecordRateLimited(surface string) {
	m.RateLimitedTotal.WithLabelValues(surface).Inc()
}

// PoolStatser reports worker pool statistics.
type PoolStatser interface {
	Stats() engine.PoolStats
}

// BindPool exposes pool statistics as gauges read at scrape time.
func (m *Metrics) BindPool(pool PoolStatser) {
	labels := prometheus.Labels{"pool": pool.Stats().Name}
	gauge := func(name, help string, read func(engine.PoolStats) float64) {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   m.ns,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return read(pool.Stats()) })
	}
	counter := func(name, help string, read func(engine.PoolStats) float64) {
		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.ns,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return read(pool.Stats()) })
	}

	gauge("worker_pool_workers", "Number of live workers", func(s engine.PoolStats) float64 { return float64(s.Workers) })
	gauge("worker_pool_active", "Number of workers running a task", func(s engine.PoolStats) float64 { return float64(s.Active) })
	gauge("worker_pool_pending", "Number of tasks waiting for a worker", func(s engine.PoolStats) float64 { return float64(s.Pending) })
	gauge("worker_pool_capacity", "Maximum admitted tasks", func(s engine.PoolStats) float64 { return float64(s.Capacity) })
	counter("worker_pool_completed_total", "Tasks that returned without error", func(s engine.PoolStats) float64 { return float64(s.Completed) })
	counter("worker_pool_failed_total", "Tasks that returned an error or panicked", func(s engine.PoolStats) float64 { return float64(s.Failed) })
	counter("worker_pool_rejected_total", "Submissions refused at capacity", func(s engine.PoolStats) float64 { return float64(s.Rejected) })
}

// BindPublisher exposes event feed statistics.
func (m *Metrics) BindPublisher(p *network.Publisher) {
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.ns,
		Name:      "events_published_total",
		Help:      "Workflow events written to the feed",
	}, func() float64 { return float64(p.Stats().Published) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.ns,
		Name:      "events_dropped_total",
		Help:      "Workflow events dropped because the feed buffer was full",
	}, func() float64 { return float64(p.Stats().Dropped) })
}

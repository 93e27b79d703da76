package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rushairer/asyncsql"
)

// Options Prometheus 上报器配置
type Options struct {
	Namespace   string
	ConstLabels prometheus.Labels
	// RuntimeCollectors 是否注册 Go 运行时与进程指标
	RuntimeCollectors bool
}

// PrometheusMetrics Prometheus 指标收集器，实现 asyncsql.MetricsReporter
type PrometheusMetrics struct {
	acquireLatency  *prometheus.HistogramVec
	executeDuration *prometheus.HistogramVec
	executeTotal    *prometheus.CounterVec
	statements      *prometheus.CounterVec
	batchSize       *prometheus.HistogramVec

	acquired *prometheus.CounterVec
	released *prometheus.CounterVec
	inflight *prometheus.GaugeVec

	txOutcome  *prometheus.CounterVec
	errorTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics 创建使用独立 registry 的收集器
func NewPrometheusMetrics(opts Options) *PrometheusMetrics {
	if opts.Namespace == "" {
		opts.Namespace = "asyncsql"
	}
	ns, cl := opts.Namespace, opts.ConstLabels
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		acquireLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Name:        "acquire_duration_seconds",
				Help:        "Time spent acquiring a pooled connection",
				Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
				ConstLabels: cl,
			},
			[]string{"pool"},
		),
		executeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Name:        "execute_duration_seconds",
				Help:        "Duration of statement and batch execution",
				Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
				ConstLabels: cl,
			},
			[]string{"pool", "op", "status"},
		),
		executeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Name:        "execute_total",
				Help:        "Total number of executions",
				ConstLabels: cl,
			},
			[]string{"pool", "op", "status"},
		),
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Name:        "statements_total",
				Help:        "Total number of statements covered by executions",
				ConstLabels: cl,
			},
			[]string{"pool", "op"},
		),
		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Name:        "batch_size",
				Help:        "Number of entries per batch",
				Buckets:     prometheus.ExponentialBuckets(1, 2, 15), // 1 to ~16k
				ConstLabels: cl,
			},
			[]string{"pool"},
		),
		acquired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Name:        "connections_acquired_total",
				Help:        "Total number of connections acquired from the pool",
				ConstLabels: cl,
			},
			[]string{"pool"},
		),
		released: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Name:        "connections_released_total",
				Help:        "Total number of connections returned to the pool",
				ConstLabels: cl,
			},
			[]string{"pool"},
		),
		inflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Name:        "connections_inflight",
				Help:        "Connections currently held by callers",
				ConstLabels: cl,
			},
			[]string{"pool"},
		),
		txOutcome: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Name:        "transactions_total",
				Help:        "Transaction lifecycle events by outcome",
				ConstLabels: cl,
			},
			[]string{"pool", "outcome"},
		),
		errorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Name:        "errors_total",
				Help:        "Total number of errors by reason",
				ConstLabels: cl,
			},
			[]string{"pool", "reason"},
		),
		registry: registry,
	}

	registry.MustRegister(
		pm.acquireLatency,
		pm.executeDuration,
		pm.executeTotal,
		pm.statements,
		pm.batchSize,
		pm.acquired,
		pm.released,
		pm.inflight,
		pm.txOutcome,
		pm.errorTotal,
	)

	if opts.RuntimeCollectors {
		registry.MustRegister(collectors.NewBuildInfoCollector())
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	return pm
}

// Registry 独立的 registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler /metrics 的 HTTP handler
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{EnableOpenMetrics: false})
}

func (pm *PrometheusMetrics) ObserveAcquireLatency(pool string, d time.Duration) {
	pm.acquireLatency.WithLabelValues(pool).Observe(d.Seconds())
}

func (pm *PrometheusMetrics) ObserveExecuteDuration(pool, op string, n int, d time.Duration, status string) {
	pm.executeDuration.WithLabelValues(pool, op, status).Observe(d.Seconds())
	pm.executeTotal.WithLabelValues(pool, op, status).Inc()
	pm.statements.WithLabelValues(pool, op).Add(float64(n))
}

func (pm *PrometheusMetrics) ObserveBatchSize(pool string, n int) {
	pm.batchSize.WithLabelValues(pool).Observe(float64(n))
}

func (pm *PrometheusMetrics) IncAcquired(pool string) {
	pm.acquired.WithLabelValues(pool).Inc()
	pm.inflight.WithLabelValues(pool).Inc()
}

func (pm *PrometheusMetrics) IncReleased(pool string) {
	pm.released.WithLabelValues(pool).Inc()
	pm.inflight.WithLabelValues(pool).Dec()
}

func (pm *PrometheusMetrics) IncTxOutcome(pool, outcome string) {
	pm.txOutcome.WithLabelValues(pool, outcome).Inc()
}

func (pm *PrometheusMetrics) IncError(pool, reason string) {
	pm.errorTotal.WithLabelValues(pool, reason).Inc()
}

// 确保PrometheusMetrics实现了MetricsReporter接口
var _ asyncsql.MetricsReporter = (*PrometheusMetrics)(nil)

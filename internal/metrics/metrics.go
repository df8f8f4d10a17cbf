package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perpagent"

// Collectors 汇总运行期指标；每个实例使用独立 Registry，便于测试与多实例隔离。
type Collectors struct {
	Registry      *prometheus.Registry
	LLMRequests   *prometheus.CounterVec
	LLMLatency    *prometheus.HistogramVec
	Downgrades    *prometheus.CounterVec
	Failsafes     *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
	Orders        *prometheus.CounterVec
	Reconciled    prometheus.Counter
	ManagedTrades prometheus.Gauge
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
}

func New() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Model provider requests by purpose and HTTP status.",
		}, []string{"purpose", "status"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_seconds",
			Help:      "Model provider request latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"purpose"}),
		Downgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_downgrades_total",
			Help:      "Optional request features disabled after provider rejection.",
		}, []string{"feature"}),
		Failsafes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failsafe_batches_total",
			Help:      "Synthetic all-hold batches by reason.",
		}, []string{"reason"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "fetch_indicator invocations by outcome.",
		}, []string{"outcome"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Exchange orders by asset, kind and outcome.",
		}, []string{"asset", "kind", "outcome"}),
		Reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_removed_total",
			Help:      "Managed trades dropped by reconciliation.",
		}),
		ManagedTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "managed_trades",
			Help:      "Current number of managed trades.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Scheduler cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Wall-clock duration of one trading cycle.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	c.Registry.MustRegister(
		c.LLMRequests, c.LLMLatency, c.Downgrades, c.Failsafes, c.ToolCalls,
		c.Orders, c.Reconciled, c.ManagedTrades, c.Cycles, c.CycleDuration,
	)
	return c
}

var (
	defaultOnce sync.Once
	defaultSet  *Collectors
)

// Default 返回进程级共享实例；组件未显式注入时使用。
func Default() *Collectors {
	defaultOnce.Do(func() { defaultSet = New() })
	return defaultSet
}

func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

func (c *Collectors) ObserveLLM(purpose string, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.LLMRequests.WithLabelValues(purpose, status).Inc()
	c.LLMLatency.WithLabelValues(purpose).Observe(d.Seconds())
}

func (c *Collectors) Downgrade(feature string) {
	if c == nil {
		return
	}
	c.Downgrades.WithLabelValues(feature).Inc()
}

func (c *Collectors) Failsafe(reason string) {
	if c == nil {
		return
	}
	c.Failsafes.WithLabelValues(reason).Inc()
}

func (c *Collectors) ToolCall(outcome string) {
	if c == nil {
		return
	}
	c.ToolCalls.WithLabelValues(outcome).Inc()
}

func (c *Collectors) Order(asset, kind, outcome string) {
	if c == nil {
		return
	}
	c.Orders.WithLabelValues(asset, kind, outcome).Inc()
}

func (c *Collectors) ReconcileRemoved() {
	if c == nil {
		return
	}
	c.Reconciled.Inc()
}

func (c *Collectors) SetManaged(n int) {
	if c == nil {
		return
	}
	c.ManagedTrades.Set(float64(n))
}

func (c *Collectors) Cycle(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(outcome).Inc()
	c.CycleDuration.Observe(d.Seconds())
}

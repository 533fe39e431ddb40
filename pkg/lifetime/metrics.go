package lifetime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the lifetime counters to Prometheus.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// Admitted counts admitted requests, labeled by caller.
	Admitted *prometheus.CounterVec

	// Rejected counts requests refused after the server stopped serving.
	Rejected *prometheus.CounterVec

	// Processing tracks in-flight requests.
	Processing prometheus.Gauge

	// Serving is 1 while new requests are admitted, 0 afterwards.
	Serving prometheus.Gauge

	// Threshold is the drawn shutdown threshold, -1 when unlimited.
	Threshold prometheus.Gauge

	// DrainWaits counts drain intervals spent waiting for in-flight requests.
	DrainWaits prometheus.Counter
}

// NewMetrics creates and registers lifetime metrics with the given
// registerer. If reg is nil, metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leaf",
			Name:      "requests_admitted_total",
			Help:      "Total number of requests admitted",
		}, []string{"caller"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leaf",
			Name:      "requests_rejected_total",
			Help:      "Total number of requests rejected while shutting down",
		}, []string{"caller"}),
		Processing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leaf",
			Name:      "requests_processing",
			Help:      "Current number of in-flight requests",
		}),
		Serving: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leaf",
			Name:      "serving",
			Help:      "1 while the server admits new requests",
		}),
		Threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leaf",
			Name:      "shutdown_threshold",
			Help:      "Request total after which the server stops serving (-1 = unlimited)",
		}),
		DrainWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leaf",
			Name:      "drain_waits_total",
			Help:      "Total number of drain intervals waited for in-flight requests",
		}),
	}

	if reg != nil {
		m.Admitted = registerOrReuse(reg, m.Admitted).(*prometheus.CounterVec)
		m.Rejected = registerOrReuse(reg, m.Rejected).(*prometheus.CounterVec)
		m.Processing = registerOrReuse(reg, m.Processing).(prometheus.Gauge)
		m.Serving = registerOrReuse(reg, m.Serving).(prometheus.Gauge)
		m.Threshold = registerOrReuse(reg, m.Threshold).(prometheus.Gauge)
		m.DrainWaits = registerOrReuse(reg, m.DrainWaits).(prometheus.Counter)
	}

	return m
}

// registerOrReuse registers a collector, returning the already registered
// one when the same metric was registered before.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *Metrics) recordThreshold(threshold int64) {
	if m == nil {
		return
	}
	m.Threshold.Set(float64(threshold))
}

func (m *Metrics) recordAdmitted(caller string) {
	if m == nil {
		return
	}
	m.Admitted.WithLabelValues(caller).Inc()
}

func (m *Metrics) recordRejected(caller string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(caller).Inc()
}

// observe publishes the gauges. Callers hold the stats lock so gauge
// writes happen in the same order as the counter changes.
func (m *Metrics) observe(c *counters) {
	if m == nil {
		return
	}
	m.Processing.Set(float64(c.processing))
	if c.serving {
		m.Serving.Set(1)
	} else {
		m.Serving.Set(0)
	}
}

func (m *Metrics) recordDrainWait() {
	if m == nil {
		return
	}
	m.DrainWaits.Inc()
}

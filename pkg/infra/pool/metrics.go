package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors exposes the pool occupancy and task outcomes as Prometheus
// metrics labeled with the pool name. Values are read at scrape time.
func (p *Pool) Collectors() []prometheus.Collector {
	labels := prometheus.Labels{"pool": p.name}
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "leaf",
			Subsystem:   "pool",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, fn)
	}
	counter := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "leaf",
			Subsystem:   "pool",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, fn)
	}

	return []prometheus.Collector{
		gauge("workers", "Number of workers in the pool", func() float64 { return float64(p.Cap()) }),
		gauge("running", "Number of workers running a task", func() float64 { return float64(p.Running()) }),
		gauge("waiting", "Number of tasks waiting for a worker", func() float64 { return float64(p.Waiting()) }),
		counter("rejected_total", "Tasks refused because the pool was full", func() float64 {
			return float64(p.stats.RejectedTasks.Load())
		}),
		counter("panics_total", "Tasks that panicked", func() float64 {
			return float64(p.stats.PanicRecovered.Load())
		}),
	}
}

// Register registers the pool collectors with reg.
func (p *Pool) Register(reg prometheus.Registerer) error {
	for _, c := range p.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

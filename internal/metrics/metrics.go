// Package metrics exposes processor and agent metrics for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orrn/kitchenprint/internal/core"
)

const namespace = "printd"

// Collector implements core.Metrics and agent.ConnectedGauge on a private registry.
type Collector struct {
	registry *prometheus.Registry

	jobsSucceeded   *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec
	jobsExhausted   prometheus.Counter
	jobsReclaimed   prometheus.Counter
	sendLatency     prometheus.Histogram
	cycleDuration   prometheus.Histogram
	cycleBatch      prometheus.Histogram
	connectedAgents prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_succeeded_total",
			Help:      "Print jobs delivered, by job type",
		}, []string{"type"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Failed delivery attempts, by error kind",
		}, []string{"kind"}),
		jobsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_exhausted_total",
			Help:      "Jobs that used up their retries",
		}),
		jobsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reclaimed_total",
			Help:      "Jobs found stuck in processing and marked failed",
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_latency_seconds",
			Help:      "Time to deliver one successful job",
			Buckets:   prometheus.DefBuckets,
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of poll cycles that found work",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		cycleBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_due_jobs",
			Help:      "Due jobs fetched per poll cycle",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		connectedAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_agents",
			Help:      "Remote agents with a live session",
		}),
	}

	c.registry.MustRegister(
		c.jobsSucceeded,
		c.jobsFailed,
		c.jobsExhausted,
		c.jobsReclaimed,
		c.sendLatency,
		c.cycleDuration,
		c.cycleBatch,
		c.connectedAgents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) CycleCompleted(d time.Duration, due int) {
	c.cycleDuration.Observe(d.Seconds())
	c.cycleBatch.Observe(float64(due))
}

func (c *Collector) JobSucceeded(t core.JobType, sendLatency time.Duration) {
	c.jobsSucceeded.WithLabelValues(string(t)).Inc()
	c.sendLatency.Observe(sendLatency.Seconds())
}

func (c *Collector) JobFailed(kind core.ErrorKind) {
	c.jobsFailed.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) JobExhausted() {
	c.jobsExhausted.Inc()
}

func (c *Collector) JobsReclaimed(n int) {
	c.jobsReclaimed.Add(float64(n))
}

func (c *Collector) SetConnectedAgents(n int) {
	c.connectedAgents.Set(float64(n))
}

// Register adds extra collectors, such as a queue depth gauge backed by the store.
func (c *Collector) Register(cs ...prometheus.Collector) error {
	for _, col := range cs {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

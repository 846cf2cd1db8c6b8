package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the query-layer metrics so they can be registered on any registry.
type Collectors struct {
	QueryLatency     *prometheus.HistogramVec
	QueryErrors      *prometheus.CounterVec
	RetryAttempts    *prometheus.CounterVec
	SlowQueries      *prometheus.CounterVec
	DeadLetterLength prometheus.Gauge
}

func New() *Collectors {
	return &Collectors{
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_execution_duration_seconds",
				Help:    "Duration of query execution in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"query_name", "outcome"},
		),
		QueryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_errors_total",
				Help: "Total number of query errors",
			},
			[]string{"query_name", "kind"},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_retry_attempts_total",
				Help: "Total number of retry attempts",
			},
			[]string{"query_name"},
		),
		SlowQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slow_queries_total",
				Help: "Total number of queries at or above the slow query threshold",
			},
			[]string{"query_name"},
		),
		DeadLetterLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dead_letter_queue_length",
				Help: "Number of failed write invocations waiting for replay",
			},
		),
	}
}

// Register adds every collector to reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.QueryLatency, c.QueryErrors, c.RetryAttempts, c.SlowQueries, c.DeadLetterLength} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates run metrics, scraped via the status server.
type Collector struct {
	probesTotal     *prometheus.CounterVec
	probeLossRate   prometheus.Histogram
	nodeResults     *prometheus.CounterVec
	speedMbps       *prometheus.HistogramVec
	sourcesLoaded   *prometheus.CounterVec
	statusRequests  *prometheus.CounterVec
	statusDurations *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	return &Collector{
		probesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of node latency probes",
			},
			[]string{"result"},
		),
		probeLossRate: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_loss_rate",
				Help:      "Per-node loss rate across latency rounds",
				Buckets:   []float64{0, 0.1, 0.2, 0.3, 0.5, 0.8, 1},
			},
		),
		nodeResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_results_total",
				Help:      "Node results by final status",
			},
			[]string{"status"},
		),
		speedMbps: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "speed_mbps",
				Help:      "Measured download throughput in Mbps",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"endpoint"},
		),
		sourcesLoaded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_nodes_total",
				Help:      "Nodes loaded per subscription source",
			},
			[]string{"source"},
		),
		statusRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_requests_total",
				Help:      "Status server requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		statusDurations: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "status_request_duration_seconds",
				Help:      "Status server request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

// Record methods tolerate a nil collector so metrics stay optional.

func (c *Collector) RecordProbe(lossRate float64) {
	if c == nil {
		return
	}
	if lossRate >= 1 {
		c.probesTotal.WithLabelValues("dead").Inc()
	} else {
		c.probesTotal.WithLabelValues("alive").Inc()
	}
	c.probeLossRate.Observe(lossRate)
}

func (c *Collector) RecordNodeResult(status string) {
	if c == nil {
		return
	}
	c.nodeResults.WithLabelValues(status).Inc()
}

func (c *Collector) RecordSpeed(endpoint string, mbps float64) {
	if c == nil {
		return
	}
	c.speedMbps.WithLabelValues(endpoint).Observe(mbps)
}

func (c *Collector) RecordSourceNodes(source string, count int) {
	if c == nil {
		return
	}
	c.sourcesLoaded.WithLabelValues(source).Add(float64(count))
}

func (c *Collector) RecordStatusRequest(method, endpoint, status string) {
	if c == nil {
		return
	}
	c.statusRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordStatusDuration(method, endpoint string, seconds float64) {
	if c == nil {
		return
	}
	c.statusDurations.WithLabelValues(method, endpoint).Observe(seconds)
}

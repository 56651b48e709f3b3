package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes pipeline counters and timings. Registration happens once
// per process regardless of how many runners are constructed.
type Metrics struct {
	runsTotal         *prometheus.CounterVec
	recordsScreened   prometheus.Counter
	findingsTotal     *prometheus.CounterVec
	embeddingFailures prometheus.Counter
	runDuration       prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics returns the process-wide pipeline metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fraudlens",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Screening runs by outcome status.",
			}, []string{"status"}),
			recordsScreened: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "fraudlens",
				Subsystem: "pipeline",
				Name:      "records_screened_total",
				Help:      "Records that completed screening.",
			}),
			findingsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fraudlens",
				Subsystem: "pipeline",
				Name:      "findings_total",
				Help:      "Threat findings by type.",
			}, []string{"type"}),
			embeddingFailures: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "fraudlens",
				Subsystem: "pipeline",
				Name:      "embedding_failures_total",
				Help:      "Records whose embedding failed and skipped similarity screening.",
			}),
			runDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "fraudlens",
				Subsystem: "pipeline",
				Name:      "run_duration_seconds",
				Help:      "End-to-end screening run duration.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			}),
		}
	})
	return metricsInst
}

func (m *Metrics) observeRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) observeRecords(n int) {
	if m == nil {
		return
	}
	m.recordsScreened.Add(float64(n))
}

func (m *Metrics) observeFinding(threatType string) {
	if m == nil {
		return
	}
	m.findingsTotal.WithLabelValues(threatType).Inc()
}

func (m *Metrics) observeEmbeddingFailures(n int) {
	if m == nil || n == 0 {
		return
	}
	m.embeddingFailures.Add(float64(n))
}

package pipeline

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	BatchOutcomeCommitted  = "committed"
	BatchOutcomeRolledBack = "rolled_back"
)

// Metrics captures pipeline throughput and backpressure signals.
type Metrics struct {
	batches       *prometheus.CounterVec
	records       prometheus.Counter
	batchDuration prometheus.Observer
	queueDepth    prometheus.Gauge
	backpressure  prometheus.Counter
}

// MetricsConfig labels the pipeline metrics with deployment identity.
type MetricsConfig struct {
	ServiceName string
	Environment string
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *Metrics
)

// SharedMetrics returns the singleton pipeline metrics registry.
func SharedMetrics(cfg MetricsConfig) *Metrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetMetricsForTest resets the pipeline metrics singleton for tests.
func ResetMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newMetrics(registerer prometheus.Registerer, cfg MetricsConfig) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "ratecore"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ratecore_pipeline_batches_total",
		Help:        "Rating batches finished by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	records := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "ratecore_pipeline_records_total",
		Help:        "Usage records processed by the rating pipeline.",
		ConstLabels: constLabels,
	})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "ratecore_pipeline_batch_duration_seconds",
		Help:        "Rating batch latency from dequeue to commit.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "ratecore_pipeline_queue_depth",
		Help:        "Batches waiting in the pipeline queue.",
		ConstLabels: constLabels,
	})
	backpressure := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "ratecore_pipeline_backpressure_waits_total",
		Help:        "Producer waits caused by the queue high-water mark.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(batches, records, batchDuration, queueDepth, backpressure)

	return &Metrics{
		batches:       batches,
		records:       records,
		batchDuration: batchDuration,
		queueDepth:    queueDepth,
		backpressure:  backpressure,
	}
}

// IncBatch counts one finished batch by outcome.
func (m *Metrics) IncBatch(outcome string) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
}

// AddRecords counts processed records.
func (m *Metrics) AddRecords(count int) {
	if m == nil || m.records == nil || count <= 0 {
		return
	}
	m.records.Add(float64(count))
}

// ObserveBatchDuration records batch latency in seconds.
func (m *Metrics) ObserveBatchDuration(seconds float64) {
	if m == nil || m.batchDuration == nil {
		return
	}
	m.batchDuration.Observe(seconds)
}

// SetQueueDepth records the current queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// IncBackpressureWait counts one producer wait at the high-water mark.
func (m *Metrics) IncBackpressureWait() {
	if m == nil || m.backpressure == nil {
		return
	}
	m.backpressure.Inc()
}

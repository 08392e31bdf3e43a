// Package metrics holds the prometheus collectors for the service on a
// dedicated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docrelay"

type Metrics struct {
	Registry *prometheus.Registry

	DocumentsProcessed *prometheus.CounterVec
	ProcessingSeconds  *prometheus.HistogramVec
	BatchesStored      prometheus.Counter
	BatchesSwept       prometheus.Counter
	LLMCalls           *prometheus.CounterVec
	Callbacks          *prometheus.CounterVec
	InFlightJobs       prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		DocumentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents processed, by document type and outcome.",
		}, []string{"document_type", "outcome"}),
		ProcessingSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_processing_seconds",
			Help:      "Time spent processing a single document.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		}, []string{"document_type"}),
		BatchesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_stored_total",
			Help:      "Batches written to the batch store.",
		}),
		BatchesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_swept_total",
			Help:      "Expired batches removed by sweeps.",
		}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Question answering calls, by outcome.",
		}, []string{"outcome"}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Callback notifications, by reported status and outcome.",
		}, []string{"status", "outcome"}),
		InFlightJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "background_jobs_in_flight",
			Help:      "Background document jobs currently running.",
		}),
	}
	reg.MustRegister(
		m.DocumentsProcessed,
		m.ProcessingSeconds,
		m.BatchesStored,
		m.BatchesSwept,
		m.LLMCalls,
		m.Callbacks,
		m.InFlightJobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveDocument records one processed document. A nil receiver is a no-op.
func (m *Metrics) ObserveDocument(docType string, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.DocumentsProcessed.WithLabelValues(docType, outcome(ok)).Inc()
	m.ProcessingSeconds.WithLabelValues(docType).Observe(took.Seconds())
}

func (m *Metrics) ObserveLLM(ok bool) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) ObserveCallback(status string, ok bool) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(status, outcome(ok)).Inc()
}

func (m *Metrics) BatchStored() {
	if m == nil {
		return
	}
	m.BatchesStored.Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BatchesSwept.Add(float64(n))
}

func (m *Metrics) JobStarted() {
	if m != nil {
		m.InFlightJobs.Inc()
	}
}

func (m *Metrics) JobDone() {
	if m != nil {
		m.InFlightJobs.Dec()
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

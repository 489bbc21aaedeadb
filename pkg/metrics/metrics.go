// Package metrics exposes Prometheus collectors for the statement pipeline
// and the HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "statement_ledger"

// Metrics owns its registry so tests can create isolated instances
type Metrics struct {
	Registry *prometheus.Registry

	extractions        *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	pages              *prometheus.CounterVec
	imports            *prometheus.CounterVec
	transactions       prometheus.Counter
	rejectedLines      prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Documents run through text extraction.",
		}, []string{"document_type", "source", "outcome"}),
		extractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time spent extracting text from a document.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"document_type", "source"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognized_pages_total",
			Help:      "Pages sent through rasterization and recognition.",
		}, []string{"outcome"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Statement imports by final status.",
		}, []string{"status"}),
		transactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_parsed_total",
			Help:      "Transaction records parsed and stored.",
		}),
		rejectedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_rejected_total",
			Help:      "Ledger-shaped lines dropped because a field failed validation.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.extractions,
		m.extractionDuration,
		m.pages,
		m.imports,
		m.transactions,
		m.rejectedLines,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// ExtractionFinished records one document extraction
func (m *Metrics) ExtractionFinished(docType string, usedFallback bool, outcome string, elapsed time.Duration) {
	source := "structural"
	if usedFallback {
		source = "recognition"
	}
	m.extractions.WithLabelValues(docType, source, outcome).Inc()
	m.extractionDuration.WithLabelValues(docType, source).Observe(elapsed.Seconds())
}

// PageRecognized records one page of the recognition fallback
func (m *Metrics) PageRecognized(outcome string) {
	m.pages.WithLabelValues(outcome).Inc()
}

// ImportFinished records the final state of an import
func (m *Metrics) ImportFinished(status string, transactions, rejected int) {
	m.imports.WithLabelValues(status).Inc()
	m.transactions.Add(float64(transactions))
	m.rejectedLines.Add(float64(rejected))
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

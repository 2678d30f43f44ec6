// Package metrics exposes Prometheus counters and histograms for the
// embedding service on a dedicated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vectorize"

// Metrics owns the registry and the service's collectors. Every metric carries
// a constant service label.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	modelLoads        *prometheus.CounterVec
	modelLoadDuration prometheus.Histogram
	encodeDuration    *prometheus.HistogramVec
	encodedTexts      *prometheus.CounterVec
}

// New builds the registry. defaultCollectors adds the Go runtime and process
// collectors.
func New(service string, defaultCollectors bool) *Metrics {
	registry := prometheus.NewRegistry()
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	m := &Metrics{
		Registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model load attempts by result.",
		}, []string{"model", "result"}),
		modelLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading the model.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		encodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_duration_seconds",
			Help:      "Time spent in a single model encode call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model", "result"}),
		encodedTexts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encoded_texts_total",
			Help:      "Texts passed to the model.",
		}, []string{"model"}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.modelLoads,
		m.modelLoadDuration,
		m.encodeDuration,
		m.encodedTexts,
	)
	if defaultCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one handled HTTP request.
func (m *Metrics) ObserveRequest(endpoint string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, statusLabel(status)).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) ObserveLoad(model string, d time.Duration, err error) {
	m.modelLoads.WithLabelValues(model, resultLabel(err)).Inc()
	m.modelLoadDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveEncode(model string, texts int, d time.Duration, err error) {
	m.encodeDuration.WithLabelValues(model, resultLabel(err)).Observe(d.Seconds())
	if err == nil {
		m.encodedTexts.WithLabelValues(model).Add(float64(texts))
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

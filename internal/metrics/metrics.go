package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StorageMetrics собирает метрики операций хранилища.
type StorageMetrics interface {
	ObserveOperation(backend, operation, status string, durationSeconds float64)
}

// HTTPMetrics собирает метрики запросов HTTP API.
type HTTPMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop реализует метрики без записи.
type Noop struct{}

func (Noop) ObserveOperation(string, string, string, float64) {}
func (Noop) ObserveRequest(string, string, string, float64)   {}

// Prom реализует StorageMetrics и HTTPMetrics поверх Prometheus.
type Prom struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	opLatency  *prometheus.HistogramVec
	requests   *prometheus.CounterVec
	reqLatency *prometheus.HistogramVec
}

// NewProm создает метрики в собственном реестре.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Storage operations by backend, operation and status",
		}, []string{"backend", "operation", "status"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage operation latency by backend and operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		reqLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	p.registry.MustRegister(p.operations, p.opLatency, p.requests, p.reqLatency)
	return p
}

func (p *Prom) ObserveOperation(backend, operation, status string, durationSeconds float64) {
	p.operations.WithLabelValues(backend, operation, status).Inc()
	p.opLatency.WithLabelValues(backend, operation).Observe(durationSeconds)
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.reqLatency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Registry возвращает реестр метрик.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

// Handler возвращает HTTP-обработчик для /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grydemo",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grydemo",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	prometheus.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// PipelineMetrics covers the event path: publish outcomes, consume
// outcomes, retries and dead-letter routing.
type PipelineMetrics struct {
	Published    *prometheus.CounterVec
	Consumed     *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	DeadLettered *prometheus.CounterVec
	HandlerMS    *prometheus.HistogramVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	return NewPipelineMetricsWith(prometheus.DefaultRegisterer, service)
}

func NewPipelineMetricsWith(reg prometheus.Registerer, service string) *PipelineMetrics {
	m := &PipelineMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grydemo",
			Subsystem: service,
			Name:      "events_published_total",
			Help:      "Domain events published, by topic, type and outcome.",
		}, []string{"topic", "type", "status"}),
		Consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grydemo",
			Subsystem: service,
			Name:      "events_consumed_total",
			Help:      "Messages consumed, by topic and outcome.",
		}, []string{"topic", "status"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grydemo",
			Subsystem: service,
			Name:      "event_retries_total",
			Help:      "Handler retries scheduled, by topic.",
		}, []string{"topic"}),
		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grydemo",
			Subsystem: service,
			Name:      "events_dead_lettered_total",
			Help:      "Messages routed to a dead-letter topic.",
		}, []string{"topic"}),
		HandlerMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grydemo",
			Subsystem: service,
			Name:      "event_handler_duration_ms",
			Help:      "Handler latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"topic"}),
	}
	reg.MustRegister(m.Published, m.Consumed, m.Retries, m.DeadLettered, m.HandlerMS)
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queriesTotal     *prometheus.CounterVec
	partialTotal     *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	stageErrorsTotal *prometheus.CounterVec
	retrievedChunks  *prometheus.HistogramVec
	reasoningSteps   *prometheus.HistogramVec
	citationsEmitted *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rqe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rqe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rqe",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rqe",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Total finished pipeline runs by terminal state.",
		},
		[]string{"service", "state"},
	)
	partialTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rqe",
			Subsystem: "pipeline",
			Name:      "partial_results_total",
			Help:      "Total pipeline runs finalized with partial results.",
		},
		[]string{"service"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rqe",
			Subsystem: "pipeline",
			Name:      "query_duration_seconds",
			Help:      "End-to-end pipeline duration in seconds by terminal state.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "state"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rqe",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	stageErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rqe",
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Total recorded stage errors, fatal and degraded alike.",
		},
		[]string{"service", "stage", "kind"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rqe",
			Subsystem: "pipeline",
			Name:      "retrieved_chunks",
			Help:      "Distribution of chunks surviving retrieval and rerank.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	reasoningSteps := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rqe",
			Subsystem: "pipeline",
			Name:      "reasoning_steps",
			Help:      "Distribution of chain-of-thought steps per run that reasoned.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
		},
		[]string{"service"},
	)
	citationsEmitted := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rqe",
			Subsystem: "pipeline",
			Name:      "citations_emitted",
			Help:      "Distribution of citations attributed per answered query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queriesTotal,
		partialTotal,
		queryDuration,
		stageDuration,
		stageErrorsTotal,
		retrievedChunks,
		reasoningSteps,
		citationsEmitted,
	)

	return &HTTPServerMetrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		queriesTotal:     queriesTotal,
		partialTotal:     partialTotal,
		queryDuration:    queryDuration,
		stageDuration:    stageDuration,
		stageErrorsTotal: stageErrorsTotal,
		retrievedChunks:  retrievedChunks,
		reasoningSteps:   reasoningSteps,
		citationsEmitted: citationsEmitted,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordQueryOutcome captures the terminal shape of one pipeline run.
func (m *HTTPServerMetrics) RecordQueryOutcome(service, state string, partial bool, chunkCount int, duration time.Duration) {
	if state == "" {
		state = "unknown"
	}
	m.queriesTotal.WithLabelValues(service, state).Inc()
	m.queryDuration.WithLabelValues(service, state).Observe(duration.Seconds())
	m.retrievedChunks.WithLabelValues(service).Observe(float64(chunkCount))
	if partial {
		m.partialTotal.WithLabelValues(service).Inc()
	}
}

func (m *HTTPServerMetrics) RecordStageDuration(service, stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(service, stage).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordStageError(service, stage, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.stageErrorsTotal.WithLabelValues(service, stage, kind).Inc()
}

func (m *HTTPServerMetrics) RecordReasoningSteps(service string, steps int) {
	if steps <= 0 {
		return
	}
	m.reasoningSteps.WithLabelValues(service).Observe(float64(steps))
}

func (m *HTTPServerMetrics) RecordCitations(service string, citations int) {
	m.citationsEmitted.WithLabelValues(service).Observe(float64(citations))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}

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

	chatRequestsTotal *prometheus.CounterVec
	chatFallbackTotal *prometheus.CounterVec
	chatSources       *prometheus.HistogramVec
	chatHopsPerRun    *prometheus.HistogramVec
	chatDuration      *prometheus.HistogramVec
	feedbackTotal     *prometheus.CounterVec
	correctionsTotal  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mrag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mrag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chatRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total completed chat requests by answer mode.",
		},
		[]string{"service", "endpoint", "mode"},
	)
	chatFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "chat",
			Name:      "fallback_total",
			Help:      "Total knowledge requests answered with the fallback.",
		},
		[]string{"service", "endpoint"},
	)
	chatSources := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mrag",
			Subsystem: "chat",
			Name:      "sources",
			Help:      "Distribution of cited sources per answered request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "endpoint"},
	)
	chatHopsPerRun := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mrag",
			Subsystem: "retrieval",
			Name:      "hops_per_run",
			Help:      "Distribution of executed hops per multi-hop run.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
		},
		[]string{"service"},
	)
	chatDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mrag",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Chat execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	feedbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "feedback",
			Name:      "submissions_total",
			Help:      "Total feedback submissions by direction.",
		},
		[]string{"service", "direction"},
	)
	correctionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mrag",
			Subsystem: "feedback",
			Name:      "corrections_total",
			Help:      "Total feedback submissions carrying a correction.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		chatRequestsTotal,
		chatFallbackTotal,
		chatSources,
		chatHopsPerRun,
		chatDuration,
		feedbackTotal,
		correctionsTotal,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		chatRequestsTotal: chatRequestsTotal,
		chatFallbackTotal: chatFallbackTotal,
		chatSources:       chatSources,
		chatHopsPerRun:    chatHopsPerRun,
		chatDuration:      chatDuration,
		feedbackTotal:     feedbackTotal,
		correctionsTotal:  correctionsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
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
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordChatRequest(service, endpoint, mode string, sourceCount int, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	m.chatRequestsTotal.WithLabelValues(service, endpoint, mode).Inc()
	m.chatSources.WithLabelValues(service, endpoint).Observe(float64(sourceCount))
	m.chatDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordFallback(service, endpoint string) {
	m.chatFallbackTotal.WithLabelValues(service, endpoint).Inc()
}

func (m *HTTPServerMetrics) RecordHops(service string, hops int) {
	if hops <= 0 {
		return
	}
	m.chatHopsPerRun.WithLabelValues(service).Observe(float64(hops))
}

func (m *HTTPServerMetrics) RecordFeedback(service string, feedback int, hasCorrection bool) {
	direction := "positive"
	if feedback < 0 {
		direction = "negative"
	}
	m.feedbackTotal.WithLabelValues(service, direction).Inc()
	if hasCorrection {
		m.correctionsTotal.WithLabelValues(service).Inc()
	}
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

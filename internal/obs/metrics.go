package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	importRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_rows_total",
			Help: "Rows written by the CSV import pipeline, by phase and outcome.",
		},
		[]string{"phase", "outcome"},
	)

	redemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redemptions_total",
			Help: "Milestone redemption attempts by outcome.",
		},
		[]string{"outcome"},
	)

	auditFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_failures_total",
		Help: "Audit entries that could not be persisted.",
	})

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			importRowsTotal,
			redemptionsTotal,
			auditFailuresTotal,
			readyGauge,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveImportRows adds n rows to the phase/outcome counter.
func ObserveImportRows(phase, outcome string, n int) {
	if n <= 0 {
		return
	}
	importRowsTotal.WithLabelValues(phase, outcome).Add(float64(n))
}

// ObserveRedemption counts a redemption attempt.
func ObserveRedemption(outcome string) {
	redemptionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAuditFailure counts a dropped audit entry.
func ObserveAuditFailure() {
	auditFailuresTotal.Inc()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument measures in-flight requests, counts and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// idSegmentParents lists path segments whose next segment is an identifier.
var idSegmentParents = map[string]struct{}{
	"courses":       {},
	"enrollments":   {},
	"organizations": {},
	"redemptions":   {},
	"perks":         {},
	"users":         {},
	"imports":       {},
}

// CanonicalPath collapses identifiers so metric labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	segments := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(segments); i++ {
		if _, ok := idSegmentParents[segments[i-1]]; ok && segments[i] != "" {
			segments[i] = ":id"
			i++
		}
	}
	return "/" + strings.Join(segments, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers stream through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the instrumentation wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController and websocket hijacking.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	Assignments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignments_total",
		Help: "Condition assignments handed out, by condition and status (new or existing)",
	}, []string{"condition", "status"})
	Completions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "completions_total",
		Help: "Completed assignments, by condition",
	}, []string{"condition"})
	SweptRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swept_records_total",
		Help: "Active assignments reclaimed after the session timeout",
	})
	ArchivedSubmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archived_submissions_total",
		Help: "Submission CSVs written to the data archive",
	})
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, Assignments, Completions, SweptRecords, ArchivedSubmissions)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// get route pattern if available
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tillpoint",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests handled, by method, route and status code.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tillpoint",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency, by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricRoute collapses path parameters so the label set stays bounded.
func metricRoute(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if strings.ContainsRune(part, '-') && (strings.HasPrefix(part, "ord-") ||
			strings.HasPrefix(part, "prd-") || strings.HasPrefix(part, "ses-") ||
			strings.HasPrefix(part, "oit-") || strings.HasPrefix(part, "ofr-")) {
			parts[i] = ":id"
		}
		if i > 0 && parts[i-1] == "cashiers" {
			parts[i] = ":username"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func instrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		route := metricRoute(r.URL.Path)

		timer := prometheus.NewTimer(requestDuration.WithLabelValues(r.Method, route))
		next.ServeHTTP(recorder, r)
		timer.ObserveDuration()

		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).Inc()
	})
}

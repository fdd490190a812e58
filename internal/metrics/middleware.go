package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes of the telemetry server
const (
	PathMetrics = "/metrics"
	PathHealth  = "/healthz"

	otherPath = "other"
)

// statusWriter captures the status code written by the wrapped handler
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request metrics. Paths other than the server's
// own routes share one label value so scanners cannot grow the series.
func HTTPMiddleware(reg *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reg.InFlightInc()
			defer reg.InFlightDec()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			reg.RecordRequest(r.Method, routeLabel(r.URL.Path), sw.statusCode, time.Since(start).Seconds())
		})
	}
}

func routeLabel(p string) string {
	switch p {
	case PathMetrics, PathHealth:
		return p
	default:
		return otherPath
	}
}

// Handler serves the registry in the Prometheus exposition format,
// instrumented with the HTTP metrics.
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathMetrics, promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	return HTTPMiddleware(r)(mux)
}

// NewServer returns an http.Server exposing the registry on addr
func NewServer(addr string, reg *Registry) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           reg.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

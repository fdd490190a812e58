package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Instrument outcome labels
const (
	StatusOK        = "ok"
	StatusNoTrades  = "no_trades"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics for the scrape endpoint
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Business metrics
	instrumentsTotal   *prometheus.CounterVec
	instrumentDuration prometheus.Histogram
	tradesTotal        *prometheus.CounterVec
	workersActive      prometheus.Gauge
	batchesTotal       *prometheus.CounterVec
	batchDuration      prometheus.Histogram
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Business metrics
	r.instrumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_instruments_total",
			Help: "Instruments backtested, by outcome",
		},
		[]string{"status"},
	)
	r.instrumentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "breakout_instrument_duration_seconds",
			Help:    "Time to load and backtest one instrument",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)
	r.tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_trades_total",
			Help: "Simulated trades, by exit reason",
		},
		[]string{"exit_reason"},
	)
	r.workersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_workers_active",
			Help: "Workers currently running an instrument",
		},
	)
	r.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_batches_total",
			Help: "Batch runs, by outcome",
		},
		[]string{"status"},
	)
	r.batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "breakout_batch_duration_seconds",
			Help:    "Batch run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
		},
	)

	reg.MustRegister(r.instrumentsTotal)
	reg.MustRegister(r.instrumentDuration)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.workersActive)
	reg.MustRegister(r.batchesTotal)
	reg.MustRegister(r.batchDuration)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordInstrument records one instrument's outcome and wall time.
func (r *Registry) RecordInstrument(status string, duration float64) {
	r.instrumentsTotal.WithLabelValues(status).Inc()
	r.instrumentDuration.Observe(duration)
}

// RecordTrades adds n trades with the given exit reason.
func (r *Registry) RecordTrades(exitReason string, n int) {
	r.tradesTotal.WithLabelValues(exitReason).Add(float64(n))
}

// WorkerStarted and WorkerDone track busy workers.
func (r *Registry) WorkerStarted() { r.workersActive.Inc() }
func (r *Registry) WorkerDone()    { r.workersActive.Dec() }

// RecordBatch records a batch completion.
func (r *Registry) RecordBatch(status string, duration float64) {
	r.batchesTotal.WithLabelValues(status).Inc()
	r.batchDuration.Observe(duration)
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// Package metrics exposes clawconsole's Prometheus collectors and the
// /metrics handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startTime)
}

var (
	ShellCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawconsole_shell_commands_total",
			Help: "Total shell commands by terminal status",
		},
		[]string{"status"},
	)

	ShellAuditTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawconsole_shell_audit_total",
			Help: "Total shell audit entries by outcome",
		},
		[]string{"outcome"},
	)

	ShellActiveCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clawconsole_shell_active_commands",
			Help: "Commands currently holding a concurrency slot",
		},
	)

	ShellCommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clawconsole_shell_command_duration_seconds",
			Help:    "Wall time of spawned shell commands",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawconsole_http_requests_total",
			Help: "Total HTTP requests served by the console",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ShellCommandsTotal,
		ShellAuditTotal,
		ShellActiveCommands,
		ShellCommandDuration,
		HTTPRequestsTotal,
	)
}

// Handler renders all registered metrics in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument counts requests to next under the route pattern.
func Instrument(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		next(sr, r)
		HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(sr.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

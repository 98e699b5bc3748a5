// Package metrics exposes the gateway's Prometheus instrumentation,
// mirroring the counters and gauges the original tracked by hand in
// monitoring/metrics.py, declared as package-level collectors registered
// with promauto's default registry.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownGrace = 5 * time.Second

// statusValue mirrors update_shuttle_status's status_map, used to expose
// shuttle status as a single numeric gauge Prometheus can graph directly.
var statusValue = map[string]float64{
	"UNKNOWN":       0,
	"FREE":          1,
	"BUSY":          2,
	"ERROR":         3,
	"NOT_READY":     4,
	"AWAITING_MRCD": 5,
	"MOVING":        6,
	"LOADING":       7,
	"UNLOADING":     8,
	"CHARGING":      9,
	"LOW_BATTERY":   10,
}

var (
	commandCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shuttle_commands_total",
		Help: "Total number of commands processed",
	}, []string{"shuttle_id", "command_type", "status"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shuttle_command_duration_seconds",
		Help:    "Command processing duration in seconds",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	}, []string{"shuttle_id", "command_type"})

	shuttleStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shuttle_status",
		Help: "Current shuttle status (0=unknown, 1=free, 2=busy, 3=error, ...)",
	}, []string{"shuttle_id"})

	shuttleBattery = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shuttle_battery_level",
		Help: "Current shuttle battery level in percent",
	}, []string{"shuttle_id"})

	shuttleConnection = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shuttle_connection_status",
		Help: "Shuttle connection status (1=connected, 0=disconnected)",
	}, []string{"shuttle_id"})

	queueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "command_queue_size",
		Help: "Current size of a shuttle's command queue",
	}, []string{"shuttle_id"})

	wmsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wms_api_requests_total",
		Help: "Total number of WMS API requests",
	}, []string{"endpoint", "status"})

	wmsDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wms_api_request_duration_seconds",
		Help:    "WMS API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"endpoint"})

	systemInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shuttle_gateway_info",
		Help: "Static info about the running gateway build",
	}, []string{"version"})
)

// SetBuildInfo records the running version as a constant gauge, the Go
// analogue of start_metrics_server's SYSTEM_INFO.labels(version=...).set(1).
func SetBuildInfo(version string) {
	systemInfo.WithLabelValues(version).Set(1)
}

// UpdateShuttleStatus records a shuttle's current status as a numeric gauge.
func UpdateShuttleStatus(shuttleID, status string) {
	v, ok := statusValue[status]
	if !ok {
		v = 0
	}
	shuttleStatus.WithLabelValues(shuttleID).Set(v)
}

// UpdateShuttleBattery records a shuttle's battery gauge from the raw wire
// value (e.g. "45%", "<15%"); unparsable values are silently skipped, same
// as the original's bare except ValueError.
func UpdateShuttleBattery(shuttleID, raw string) {
	level, ok := parsePercent(raw)
	if !ok {
		return
	}
	shuttleBattery.WithLabelValues(shuttleID).Set(level)
}

func parsePercent(raw string) (float64, bool) {
	trimmed := strings.Trim(strings.TrimSpace(raw), "<>")
	trimmed = strings.TrimSuffix(trimmed, "%")
	level, err := strconv.ParseFloat(trimmed, 64)
	return level, err == nil
}

// UpdateShuttleConnection records whether a shuttle currently has a live
// TCP link registered.
func UpdateShuttleConnection(shuttleID string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	shuttleConnection.WithLabelValues(shuttleID).Set(v)
}

// UpdateQueueSize records a shuttle's current command queue depth.
func UpdateQueueSize(shuttleID string, size int) {
	queueSize.WithLabelValues(shuttleID).Set(float64(size))
}

// RecordCommand increments the command-completion counter.
func RecordCommand(shuttleID, commandType, status string) {
	commandCounter.WithLabelValues(shuttleID, commandType, status).Inc()
}

// ObserveCommandDuration records how long a dispatch took end to end.
func ObserveCommandDuration(shuttleID, commandType string, seconds float64) {
	commandDuration.WithLabelValues(shuttleID, commandType).Observe(seconds)
}

// RecordWMSRequest increments the WMS API request counter.
func RecordWMSRequest(endpoint, status string) {
	wmsRequests.WithLabelValues(endpoint, status).Inc()
}

// ObserveWMSRequestDuration records a WMS HTTP call's latency.
func ObserveWMSRequestDuration(endpoint string, seconds float64) {
	wmsDuration.WithLabelValues(endpoint).Observe(seconds)
}

// Serve runs the Prometheus /metrics HTTP endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

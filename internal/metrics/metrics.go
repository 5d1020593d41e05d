package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector exported on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// CheckinsTotal counts device check-ins by outcome:
	// no_firmware, up_to_date, update_available, auto_triggered.
	CheckinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofc_firmware_checkins_total",
			Help: "Total number of device firmware check-ins.",
		},
		[]string{"result"},
	)

	// RolloutsTotal counts devices moved to UPDATE_PENDING, by trigger (auto, force, deploy).
	RolloutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofc_rollouts_total",
			Help: "Total number of firmware rollouts started.",
		},
		[]string{"trigger"},
	)

	DeviceRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofc_device_registrations_total",
			Help: "Total number of device registrations.",
		},
		[]string{"created"},
	)

	FirmwareUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofc_firmware_uploads_total",
			Help: "Total number of firmware uploads.",
		},
		[]string{"status"}, // success/failed
	)

	FirmwareUploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ofc_firmware_upload_bytes",
			Help:    "Size of uploaded firmware binaries.",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10),
		},
	)

	// NotificationsTotal counts device notifications published to the broker.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofc_notifications_total",
			Help: "Total number of device notifications published.",
		},
		[]string{"status"}, // success/failed
	)

	// BrokerConnected is 1 while the MQTT connection is up.
	BrokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ofc_mqtt_connected",
			Help: "MQTT broker connectivity (1=connected, 0=disconnected).",
		},
	)

	LiveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ofc_websocket_clients",
			Help: "Number of connected live-event websocket clients.",
		},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ofc_http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CheckinsTotal,
		RolloutsTotal,
		DeviceRegistrationsTotal,
		FirmwareUploadsTotal,
		FirmwareUploadBytes,
		NotificationsTotal,
		BrokerConnected,
		LiveClients,
		HTTPRequestDuration,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request latency labelled by the matched route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Status returns "success" or "failed" for a status label.
func Status(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

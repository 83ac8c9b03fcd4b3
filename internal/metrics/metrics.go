package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trajectory_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trajectory_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// MQTT метрики
	MQTTMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trajectory_mqtt_messages_received_total",
			Help: "Total number of MQTT messages received",
		},
	)

	MQTTParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trajectory_mqtt_parse_errors_total",
			Help: "Total number of MQTT payload parse errors",
		},
	)

	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trajectory_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Метрики батчера записей
	RecordsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trajectory_records_queued_total",
			Help: "Total number of point records queued for persistence",
		},
	)

	RecordsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trajectory_records_flushed_total",
			Help: "Total number of point records flushed to the history store",
		},
	)

	RecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trajectory_records_dropped_total",
			Help: "Total number of point records dropped due to a full queue",
		},
	)

	FlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trajectory_flush_errors_total",
			Help: "Total number of failed history store flushes",
		},
	)

	// Метрики построения набора траекторий
	CollectionBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trajectory_collection_build_duration_seconds",
			Help:    "Duration of trajectory collection rebuilds in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CollectionTrajectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trajectory_collection_trajectories",
			Help: "Number of trajectories in the current collection",
		},
	)

	CollectionBuildErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trajectory_collection_build_errors_total",
			Help: "Total number of failed collection rebuilds",
		},
	)

	// WebSocket метрики
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trajectory_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trajectory_websocket_messages_out_total",
			Help: "Total number of WebSocket messages sent",
		},
	)
)

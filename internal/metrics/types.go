package metrics

import "time"

// MetricPrefix is prepended to every exposed metric name.
const MetricPrefix = "docmill_"

// MetricType classifies an ad hoc metric value.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
	MetricTypeSummary   MetricType = "summary"
)

type AlertSeverity string

const (
	SeverityInfo      AlertSeverity = "info"
	SeverityWarning   AlertSeverity = "warning"
	SeverityCritical  AlertSeverity = "critical"
	SeverityEmergency AlertSeverity = "emergency"
)

// ConnectionMetrics describes client connection activity since service start.
// Durations are in seconds.
type ConnectionMetrics struct {
	ActiveConnections     int     `json:"active_connections"`
	TotalConnections      int     `json:"total_connections"`
	ConnectionDurationAvg float64 `json:"connection_duration_avg"`
	ConnectionDurationMax float64 `json:"connection_duration_max"`
	ConnectionDurationMin float64 `json:"connection_duration_min"`
	ConnectionErrors      int     `json:"connection_errors"`
	ConnectionSuccessRate float64 `json:"connection_success_rate"`
	ConnectionQueueSize   int     `json:"connection_queue_size"`
	RejectedConnections   int     `json:"rejected_connections"`
}

// RequestMetrics describes request handling. Response times are in seconds,
// request_rate is requests per second over the trailing minute and throughput
// is payload bytes per second since service start.
type RequestMetrics struct {
	RequestCount    int     `json:"request_count"`
	RequestRate     float64 `json:"request_rate"`
	ResponseTimeAvg float64 `json:"response_time_avg"`
	ResponseTimeP50 float64 `json:"response_time_p50"`
	ResponseTimeP95 float64 `json:"response_time_p95"`
	ResponseTimeP99 float64 `json:"response_time_p99"`
	ResponseTimeMax float64 `json:"response_time_max"`
	ResponseTimeMin float64 `json:"response_time_min"`
	SuccessRate     float64 `json:"success_rate"`
	ErrorRate       float64 `json:"error_rate"`
	TimeoutRate     float64 `json:"timeout_rate"`
	Throughput      float64 `json:"throughput"`
}

// ResourceMetrics describes host and process resource usage.
type ResourceMetrics struct {
	CpuUsagePercent     float64 `json:"cpu_usage_percent"`
	MemoryUsageBytes    uint64  `json:"memory_usage_bytes"`
	MemoryUsagePercent  float64 `json:"memory_usage_percent"`
	DiskUsageBytes      uint64  `json:"disk_usage_bytes"`
	DiskUsagePercent    float64 `json:"disk_usage_percent"`
	NetworkInBytes      uint64  `json:"network_in_bytes"`
	NetworkOutBytes     uint64  `json:"network_out_bytes"`
	NetworkInRate       float64 `json:"network_in_rate"`
	NetworkOutRate      float64 `json:"network_out_rate"`
	OpenFileDescriptors int     `json:"open_file_descriptors"`
	ThreadCount         int     `json:"thread_count"`
	ProcessCount        int     `json:"process_count"`
}

// StreamMetrics describes server push stream activity. Processing times and
// latencies are in seconds.
type StreamMetrics struct {
	EventsSent             int     `json:"events_sent"`
	EventsReceived         int     `json:"events_received"`
	EventQueueSize         int     `json:"event_queue_size"`
	EventProcessingTimeAvg float64 `json:"event_processing_time_avg"`
	EventProcessingTimeMax float64 `json:"event_processing_time_max"`
	EventProcessingTimeMin float64 `json:"event_processing_time_min"`
	StreamLatencyAvg       float64 `json:"stream_latency_avg"`
	StreamLatencyMax       float64 `json:"stream_latency_max"`
	StreamErrors           int     `json:"stream_errors"`
	KeepaliveSent          int     `json:"keepalive_sent"`
	ClientDisconnects      int     `json:"client_disconnects"`
}

// ToolMetrics describes document tool invocations. Execution times are in seconds.
type ToolMetrics struct {
	ToolCallsTotal       int            `json:"tool_calls_total"`
	ToolCallsSuccess     int            `json:"tool_calls_success"`
	ToolCallsError       int            `json:"tool_calls_error"`
	ToolCallsTimeout     int            `json:"tool_calls_timeout"`
	ToolExecutionTimeAvg float64        `json:"tool_execution_time_avg"`
	ToolExecutionTimeP50 float64        `json:"tool_execution_time_p50"`
	ToolExecutionTimeP95 float64        `json:"tool_execution_time_p95"`
	ToolExecutionTimeP99 float64        `json:"tool_execution_time_p99"`
	ToolExecutionTimeMax float64        `json:"tool_execution_time_max"`
	ToolExecutionTimeMin float64        `json:"tool_execution_time_min"`
	ToolCallsByName      map[string]int `json:"tool_calls_by_name"`
	ToolErrorsByName     map[string]int `json:"tool_errors_by_name"`
	ToolTimeoutsByName   map[string]int `json:"tool_timeouts_by_name"`
}

type SystemMetrics struct {
	UptimeSeconds       float64    `json:"uptime_seconds"`
	StartTime           time.Time  `json:"start_time"`
	HealthCheckStatus   string     `json:"health_check_status"`
	HealthCheckFailures int        `json:"health_check_failures"`
	LastHealthCheck     *time.Time `json:"last_health_check"`
	ServiceStatus       string     `json:"service_status"`
	RestartCount        int        `json:"restart_count"`
	ErrorCountTotal     int        `json:"error_count_total"`
	WarningCountTotal   int        `json:"warning_count_total"`
}

// MetricValue is an ad hoc metric recorded outside the fixed categories.
type MetricValue struct {
	Name        string            `json:"name"`
	Value       float64           `json:"value"`
	MetricType  MetricType        `json:"metric_type"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Description string            `json:"description,omitempty"`
}

// MetricsSnapshot is an immutable point in time rollup of all categories.
// Snapshots are identified and ordered by their timestamp.
type MetricsSnapshot struct {
	Timestamp     time.Time              `json:"timestamp"`
	Connection    ConnectionMetrics      `json:"connection_metrics"`
	Request       RequestMetrics         `json:"request_metrics"`
	Resource      ResourceMetrics        `json:"resource_metrics"`
	Stream        StreamMetrics          `json:"stream_metrics"`
	Tool          ToolMetrics            `json:"tool_metrics"`
	System        SystemMetrics          `json:"system_metrics"`
	CustomMetrics map[string]MetricValue `json:"custom_metrics,omitempty"`
}

// Alert is a threshold violation raised by the alert engine. At most one
// unresolved alert exists per (metric name, severity) pair.
type Alert struct {
	Id             string            `json:"id"`
	Severity       AlertSeverity     `json:"severity"`
	MetricName     string            `json:"metric_name"`
	CurrentValue   float64           `json:"current_value"`
	ThresholdValue float64           `json:"threshold_value"`
	Message        string            `json:"message"`
	Labels         map[string]string `json:"labels,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Acknowledged   bool              `json:"acknowledged"`
	Resolved       bool              `json:"resolved"`
	ResolvedAt     *time.Time        `json:"resolved_at"`
}

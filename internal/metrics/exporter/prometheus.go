package exporter

import (
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/docmillproject/docmill/internal/metrics"
)

// SnapshotSource supplies the snapshot rendered on each scrape.
type SnapshotSource interface {
	GetCurrentSnapshot() *metrics.MetricsSnapshot
}

// SnapshotCollector exposes the current snapshot as prometheus series. All
// series are const metrics rebuilt on each scrape, nothing in the collection
// pipeline is mutated from the scrape path. With no snapshot published yet it
// emits nothing.
type SnapshotCollector struct {
	source SnapshotSource
}

func NewSnapshotCollector(source SnapshotSource) *SnapshotCollector {
	return &SnapshotCollector{source: source}
}

var (
	activeConnectionsDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"active_connections",
		"Number of currently open client connections",
		nil, nil)
	connectionsTotalDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"connections_total",
		"Total client connections accepted since start",
		nil, nil)
	connectionErrorsDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"connection_errors_total",
		"Total connection failures since start",
		nil, nil)
	rejectedConnectionsDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"rejected_connections_total",
		"Total connections rejected since start",
		nil, nil)
	connectionSuccessRateDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"connection_success_rate",
		"Percentage of connections established without error",
		nil, nil)
	connectionQueueSizeDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"connection_queue_size",
		"Number of connections waiting to be accepted",
		nil, nil)
	connectionDurationDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"connection_duration_seconds",
		"Connection lifetime distribution",
		nil, nil)
)

var (
	requestsTotalDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"requests_total",
		"Total requests handled since start",
		nil, nil)
	requestRateDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"request_rate",
		"Requests per second over the trailing minute",
		nil, nil)
	requestSuccessRateDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"request_success_rate",
		"Percentage of requests completed successfully",
		nil, nil)
	requestErrorRateDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"request_error_rate",
		"Percentage of requests that failed",
		nil, nil)
	requestTimeoutRateDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"request_timeout_rate",
		"Percentage of requests that timed out",
		nil, nil)
	throughputDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"request_throughput_bytes_per_second",
		"Payload bytes handled per second since start",
		nil, nil)
	responseTimeDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"response_time_seconds",
		"Response time distribution",
		nil, nil)
)

var (
	cpuUsageDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"cpu_usage_percent",
		"Process CPU usage percentage",
		nil, nil)
	memoryUsageBytesDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"memory_usage_bytes",
		"Process resident memory in bytes",
		nil, nil)
	memoryUsagePercentDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"memory_usage_percent",
		"Process memory usage percentage",
		nil, nil)
	diskUsageBytesDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"disk_usage_bytes",
		"Used bytes on the monitored disk",
		nil, nil)
	diskUsagePercentDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"disk_usage_percent",
		"Used percentage of the monitored disk",
		nil, nil)
	networkInBytesDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"network_in_bytes_total",
		"Total bytes received on all interfaces",
		nil, nil)
	networkOutBytesDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"network_out_bytes_total",
		"Total bytes sent on all interfaces",
		nil, nil)
	networkInRateDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"network_in_rate_bytes_per_second",
		"Receive rate since the previous probe",
		nil, nil)
	networkOutRateDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"network_out_rate_bytes_per_second",
		"Send rate since the previous probe",
		nil, nil)
	openFileDescriptorsDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"open_file_descriptors",
		"Open file descriptors held by the process",
		nil, nil)
	threadCountDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"thread_count",
		"Threads in the process",
		nil, nil)
	processCountDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"process_count",
		"Processes on the host",
		nil, nil)
)

var (
	eventsSentDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"stream_events_sent_total",
		"Total events pushed to stream clients",
		nil, nil)
	eventsReceivedDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"stream_events_received_total",
		"Total events received for streaming",
		nil, nil)
	eventQueueSizeDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"stream_event_queue_size",
		"Events waiting to be streamed",
		nil, nil)
	streamErrorsDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"stream_errors_total",
		"Total stream delivery failures",
		nil, nil)
	keepaliveSentDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"stream_keepalive_sent_total",
		"Total keepalive frames sent",
		nil, nil)
	clientDisconnectsDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"stream_client_disconnects_total",
		"Total stream client disconnects",
		nil, nil)
	eventProcessingTimeDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"stream_event_processing_time_seconds",
		"Event processing time distribution",
		nil, nil)
	streamLatencyAvgDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"stream_latency_avg_seconds",
		"Mean delivery latency of streamed events",
		nil, nil)
	streamLatencyMaxDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"stream_latency_max_seconds",
		"Worst delivery latency of streamed events",
		nil, nil)
)

var (
	toolCallsTotalDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"tool_calls_total",
		"Total document tool invocations",
		nil, nil)
	toolCallsSuccessDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"tool_calls_success_total",
		"Total successful tool invocations",
		nil, nil)
	toolCallsErrorDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"tool_calls_error_total",
		"Total failed tool invocations",
		nil, nil)
	toolCallsTimeoutDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"tool_calls_timeout_total",
		"Total timed out tool invocations",
		nil, nil)
	toolExecutionTimeDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"tool_execution_time_seconds",
		"Tool execution time distribution",
		nil, nil)
	toolCallsByNameDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"tool_calls_by_name_total",
		"Total invocations per tool",
		[]string{"tool_name"}, nil)
	toolErrorsByNameDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"tool_errors_by_name_total",
		"Total failures per tool",
		[]string{"tool_name"}, nil)
	toolTimeoutsByNameDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"tool_timeouts_by_name_total",
		"Total timeouts per tool",
		[]string{"tool_name"}, nil)
)

var (
	uptimeDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"uptime_seconds",
		"Seconds since service start",
		nil, nil)
	serviceStatusDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"service_status",
		"1 while the collection loop is running, 0 otherwise",
		nil, nil)
	healthCheckFailuresDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"health_check_failures_total",
		"Total failed health checks",
		nil, nil)
	lastHealthCheckDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"last_health_check_timestamp_seconds",
		"Unix time of the most recent health check",
		nil, nil)
	restartsDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"restarts_total",
		"Total service restarts observed",
		nil, nil)
	errorsTotalDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"errors_total",
		"Total errors recorded",
		nil, nil)
	warningsTotalDesc = prometheus.NewDesc(
		metrics.MetricPrefix+"warnings_total",
		"Total warnings recorded",
		nil, nil)
)

// Describe sends nothing, registering the collector as unchecked. Custom
// metric names are only known at collect time, so the registry cannot check
// collected series against a fixed descriptor set.
func (c *SnapshotCollector) Describe(out chan<- *prometheus.Desc) {}

func (c *SnapshotCollector) Collect(out chan<- prometheus.Metric) {
	snapshot := c.source.GetCurrentSnapshot()
	if snapshot == nil {
		return
	}

	connection := snapshot.Connection
	out <- prometheus.MustNewConstMetric(activeConnectionsDesc, prometheus.GaugeValue, float64(connection.ActiveConnections))
	out <- prometheus.MustNewConstMetric(connectionsTotalDesc, prometheus.CounterValue, float64(connection.TotalConnections))
	out <- prometheus.MustNewConstMetric(connectionErrorsDesc, prometheus.CounterValue, float64(connection.ConnectionErrors))
	out <- prometheus.MustNewConstMetric(rejectedConnectionsDesc, prometheus.CounterValue, float64(connection.RejectedConnections))
	out <- prometheus.MustNewConstMetric(connectionSuccessRateDesc, prometheus.GaugeValue, connection.ConnectionSuccessRate)
	out <- prometheus.MustNewConstMetric(connectionQueueSizeDesc, prometheus.GaugeValue, float64(connection.ConnectionQueueSize))
	out <- prometheus.MustNewConstSummary(
		connectionDurationDesc,
		uint64(connection.TotalConnections),
		connection.ConnectionDurationAvg*float64(connection.TotalConnections),
		map[float64]float64{0.5: connection.ConnectionDurationAvg, 1.0: connection.ConnectionDurationMax},
	)

	request := snapshot.Request
	out <- prometheus.MustNewConstMetric(requestsTotalDesc, prometheus.CounterValue, float64(request.RequestCount))
	out <- prometheus.MustNewConstMetric(requestRateDesc, prometheus.GaugeValue, request.RequestRate)
	out <- prometheus.MustNewConstMetric(requestSuccessRateDesc, prometheus.GaugeValue, request.SuccessRate)
	out <- prometheus.MustNewConstMetric(requestErrorRateDesc, prometheus.GaugeValue, request.ErrorRate)
	out <- prometheus.MustNewConstMetric(requestTimeoutRateDesc, prometheus.GaugeValue, request.TimeoutRate)
	out <- prometheus.MustNewConstMetric(throughputDesc, prometheus.GaugeValue, request.Throughput)
	out <- prometheus.MustNewConstSummary(
		responseTimeDesc,
		uint64(request.RequestCount),
		request.ResponseTimeAvg*float64(request.RequestCount),
		map[float64]float64{
			0.5:  request.ResponseTimeP50,
			0.95: request.ResponseTimeP95,
			0.99: request.ResponseTimeP99,
			1.0:  request.ResponseTimeMax,
		},
	)

	resource := snapshot.Resource
	out <- prometheus.MustNewConstMetric(cpuUsageDesc, prometheus.GaugeValue, resource.CpuUsagePercent)
	out <- prometheus.MustNewConstMetric(memoryUsageBytesDesc, prometheus.GaugeValue, float64(resource.MemoryUsageBytes))
	out <- prometheus.MustNewConstMetric(memoryUsagePercentDesc, prometheus.GaugeValue, resource.MemoryUsagePercent)
	out <- prometheus.MustNewConstMetric(diskUsageBytesDesc, prometheus.GaugeValue, float64(resource.DiskUsageBytes))
	out <- prometheus.MustNewConstMetric(diskUsagePercentDesc, prometheus.GaugeValue, resource.DiskUsagePercent)
	out <- prometheus.MustNewConstMetric(networkInBytesDesc, prometheus.CounterValue, float64(resource.NetworkInBytes))
	out <- prometheus.MustNewConstMetric(networkOutBytesDesc, prometheus.CounterValue, float64(resource.NetworkOutBytes))
	out <- prometheus.MustNewConstMetric(networkInRateDesc, prometheus.GaugeValue, resource.NetworkInRate)
	out <- prometheus.MustNewConstMetric(networkOutRateDesc, prometheus.GaugeValue, resource.NetworkOutRate)
	out <- prometheus.MustNewConstMetric(openFileDescriptorsDesc, prometheus.GaugeValue, float64(resource.OpenFileDescriptors))
	out <- prometheus.MustNewConstMetric(threadCountDesc, prometheus.GaugeValue, float64(resource.ThreadCount))
	out <- prometheus.MustNewConstMetric(processCountDesc, prometheus.GaugeValue, float64(resource.ProcessCount))

	stream := snapshot.Stream
	out <- prometheus.MustNewConstMetric(eventsSentDesc, prometheus.CounterValue, float64(stream.EventsSent))
	out <- prometheus.MustNewConstMetric(eventsReceivedDesc, prometheus.CounterValue, float64(stream.EventsReceived))
	out <- prometheus.MustNewConstMetric(eventQueueSizeDesc, prometheus.GaugeValue, float64(stream.EventQueueSize))
	out <- prometheus.MustNewConstMetric(streamErrorsDesc, prometheus.CounterValue, float64(stream.StreamErrors))
	out <- prometheus.MustNewConstMetric(keepaliveSentDesc, prometheus.CounterValue, float64(stream.KeepaliveSent))
	out <- prometheus.MustNewConstMetric(clientDisconnectsDesc, prometheus.CounterValue, float64(stream.ClientDisconnects))
	out <- prometheus.MustNewConstSummary(
		eventProcessingTimeDesc,
		uint64(stream.EventsReceived),
		stream.EventProcessingTimeAvg*float64(stream.EventsReceived),
		map[float64]float64{0.5: stream.EventProcessingTimeAvg, 1.0: stream.EventProcessingTimeMax},
	)
	out <- prometheus.MustNewConstMetric(streamLatencyAvgDesc, prometheus.GaugeValue, stream.StreamLatencyAvg)
	out <- prometheus.MustNewConstMetric(streamLatencyMaxDesc, prometheus.GaugeValue, stream.StreamLatencyMax)

	tool := snapshot.Tool
	out <- prometheus.MustNewConstMetric(toolCallsTotalDesc, prometheus.CounterValue, float64(tool.ToolCallsTotal))
	out <- prometheus.MustNewConstMetric(toolCallsSuccessDesc, prometheus.CounterValue, float64(tool.ToolCallsSuccess))
	out <- prometheus.MustNewConstMetric(toolCallsErrorDesc, prometheus.CounterValue, float64(tool.ToolCallsError))
	out <- prometheus.MustNewConstMetric(toolCallsTimeoutDesc, prometheus.CounterValue, float64(tool.ToolCallsTimeout))
	out <- prometheus.MustNewConstSummary(
		toolExecutionTimeDesc,
		uint64(tool.ToolCallsTotal),
		tool.ToolExecutionTimeAvg*float64(tool.ToolCallsTotal),
		map[float64]float64{
			0.5:  tool.ToolExecutionTimeP50,
			0.95: tool.ToolExecutionTimeP95,
			0.99: tool.ToolExecutionTimeP99,
			1.0:  tool.ToolExecutionTimeMax,
		},
	)
	for name, count := range tool.ToolCallsByName {
		out <- prometheus.MustNewConstMetric(toolCallsByNameDesc, prometheus.CounterValue, float64(count), name)
	}
	for name, count := range tool.ToolErrorsByName {
		out <- prometheus.MustNewConstMetric(toolErrorsByNameDesc, prometheus.CounterValue, float64(count), name)
	}
	for name, count := range tool.ToolTimeoutsByName {
		out <- prometheus.MustNewConstMetric(toolTimeoutsByNameDesc, prometheus.CounterValue, float64(count), name)
	}

	system := snapshot.System
	out <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, system.UptimeSeconds)
	serviceStatus := 0.0
	if system.ServiceStatus == "running" {
		serviceStatus = 1.0
	}
	out <- prometheus.MustNewConstMetric(serviceStatusDesc, prometheus.GaugeValue, serviceStatus)
	out <- prometheus.MustNewConstMetric(healthCheckFailuresDesc, prometheus.CounterValue, float64(system.HealthCheckFailures))
	if system.LastHealthCheck != nil {
		out <- prometheus.MustNewConstMetric(lastHealthCheckDesc, prometheus.GaugeValue, float64(system.LastHealthCheck.Unix()))
	}
	out <- prometheus.MustNewConstMetric(restartsDesc, prometheus.CounterValue, float64(system.RestartCount))
	out <- prometheus.MustNewConstMetric(errorsTotalDesc, prometheus.CounterValue, float64(system.ErrorCountTotal))
	out <- prometheus.MustNewConstMetric(warningsTotalDesc, prometheus.CounterValue, float64(system.WarningCountTotal))

	c.collectCustom(snapshot, out)
}

var metricNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// collectCustom emits ad hoc metrics recorded through SetCustomMetric. Their
// descs are built per scrape since the name set is not known up front, and a
// malformed entry is skipped rather than failing the whole scrape.
func (c *SnapshotCollector) collectCustom(snapshot *metrics.MetricsSnapshot, out chan<- prometheus.Metric) {
	for name, value := range snapshot.CustomMetrics {
		desc := prometheus.NewDesc(
			metrics.MetricPrefix+"custom_"+metricNameSanitizer.ReplaceAllString(name, "_"),
			value.Description,
			nil,
			prometheus.Labels(value.Labels),
		)
		valueType := prometheus.GaugeValue
		if value.MetricType == metrics.MetricTypeCounter {
			valueType = prometheus.CounterValue
		}
		metric, err := prometheus.NewConstMetric(desc, valueType, value.Value)
		if err != nil {
			log.WithError(err).Warnf("Skipping custom metric %s", name)
			continue
		}
		out <- metric
	}
}

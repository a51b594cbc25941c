package dashboard

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/docmillproject/docmill/internal/common/util"
	"github.com/docmillproject/docmill/internal/metrics"
)

// Payload is the rounded snapshot subset shipped to dashboard viewers.
// Response and execution times are converted to whole milliseconds, rates to
// one decimal place.
type Payload struct {
	Timestamp  string            `json:"timestamp"`
	Connection ConnectionSummary `json:"connection_metrics"`
	Request    RequestSummary    `json:"request_metrics"`
	Resource   ResourceSummary   `json:"resource_metrics"`
	Stream     StreamSummary     `json:"stream_metrics"`
	Tool       ToolSummary       `json:"tool_metrics"`
	System     SystemSummary     `json:"system_metrics"`
}

type ConnectionSummary struct {
	ActiveConnections     int     `json:"active_connections"`
	TotalConnections      int     `json:"total_connections"`
	ConnectionDurationAvg float64 `json:"connection_duration_avg"`
	ConnectionSuccessRate float64 `json:"connection_success_rate"`
}

type RequestSummary struct {
	RequestCount      int     `json:"request_count"`
	RequestRate       float64 `json:"request_rate"`
	ResponseTimeAvgMs float64 `json:"response_time_avg"`
	ResponseTimeP95Ms float64 `json:"response_time_p95"`
	SuccessRate       float64 `json:"success_rate"`
	ErrorRate         float64 `json:"error_rate"`
}

type ResourceSummary struct {
	CpuUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	MemoryUsageBytes   uint64  `json:"memory_usage_bytes"`
	MemoryUsageMb      float64 `json:"memory_usage_mb"`
	DiskUsagePercent   float64 `json:"disk_usage_percent"`
}

type StreamSummary struct {
	EventsSent        int `json:"events_sent"`
	EventsReceived    int `json:"events_received"`
	StreamErrors      int `json:"stream_errors"`
	KeepaliveSent     int `json:"keepalive_sent"`
	ClientDisconnects int `json:"client_disconnects"`
}

type ToolSummary struct {
	ToolCallsTotal       int     `json:"tool_calls_total"`
	ToolCallsSuccess     int     `json:"tool_calls_success"`
	ToolCallsError       int     `json:"tool_calls_error"`
	ToolCallsTimeout     int     `json:"tool_calls_timeout"`
	ToolExecutionTimeAvg float64 `json:"tool_execution_time_avg"`
}

type SystemSummary struct {
	UptimeSeconds       float64 `json:"uptime_seconds"`
	UptimeHours         float64 `json:"uptime_hours"`
	HealthCheckFailures int     `json:"health_check_failures"`
	ErrorCountTotal     int     `json:"error_count_total"`
	WarningCountTotal   int     `json:"warning_count_total"`
}

// BuildPayload flattens a snapshot for dashboard consumption. A nil snapshot
// yields the zero payload with 100% success rates stamped with now, so a
// dashboard opened before the first collection tick renders cleanly.
func BuildPayload(snapshot *metrics.MetricsSnapshot, now time.Time) Payload {
	if snapshot == nil {
		return Payload{
			Timestamp:  now.Format(time.RFC3339),
			Connection: ConnectionSummary{ConnectionSuccessRate: 100},
			Request:    RequestSummary{SuccessRate: 100},
		}
	}
	return Payload{
		Timestamp: snapshot.Timestamp.Format(time.RFC3339),
		Connection: ConnectionSummary{
			ActiveConnections:     snapshot.Connection.ActiveConnections,
			TotalConnections:      snapshot.Connection.TotalConnections,
			ConnectionDurationAvg: round(snapshot.Connection.ConnectionDurationAvg, 2),
			ConnectionSuccessRate: round(snapshot.Connection.ConnectionSuccessRate, 1),
		},
		Request: RequestSummary{
			RequestCount:      snapshot.Request.RequestCount,
			RequestRate:       round(snapshot.Request.RequestRate, 2),
			ResponseTimeAvgMs: round(snapshot.Request.ResponseTimeAvg*1000, 0),
			ResponseTimeP95Ms: round(snapshot.Request.ResponseTimeP95*1000, 0),
			SuccessRate:       round(snapshot.Request.SuccessRate, 1),
			ErrorRate:         round(snapshot.Request.ErrorRate, 1),
		},
		Resource: ResourceSummary{
			CpuUsagePercent:    round(snapshot.Resource.CpuUsagePercent, 1),
			MemoryUsagePercent: round(snapshot.Resource.MemoryUsagePercent, 1),
			MemoryUsageBytes:   snapshot.Resource.MemoryUsageBytes,
			MemoryUsageMb:      round(float64(snapshot.Resource.MemoryUsageBytes)/(1024*1024), 1),
			DiskUsagePercent:   round(snapshot.Resource.DiskUsagePercent, 1),
		},
		Stream: StreamSummary{
			EventsSent:        snapshot.Stream.EventsSent,
			EventsReceived:    snapshot.Stream.EventsReceived,
			StreamErrors:      snapshot.Stream.StreamErrors,
			KeepaliveSent:     snapshot.Stream.KeepaliveSent,
			ClientDisconnects: snapshot.Stream.ClientDisconnects,
		},
		Tool: ToolSummary{
			ToolCallsTotal:       snapshot.Tool.ToolCallsTotal,
			ToolCallsSuccess:     snapshot.Tool.ToolCallsSuccess,
			ToolCallsError:       snapshot.Tool.ToolCallsError,
			ToolCallsTimeout:     snapshot.Tool.ToolCallsTimeout,
			ToolExecutionTimeAvg: round(snapshot.Tool.ToolExecutionTimeAvg*1000, 0),
		},
		System: SystemSummary{
			UptimeSeconds:       round(snapshot.System.UptimeSeconds, 0),
			UptimeHours:         round(snapshot.System.UptimeSeconds/3600, 1),
			HealthCheckFailures: snapshot.System.HealthCheckFailures,
			ErrorCountTotal:     snapshot.System.ErrorCountTotal,
			WarningCountTotal:   snapshot.System.WarningCountTotal,
		},
	}
}

func round(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}

// DataHandler serves the dashboard's polled JSON feed. It always answers 200,
// before the first snapshot it serves the zero payload.
type DataHandler struct {
	source SnapshotSource
	clock  util.Clock
}

func NewDataHandler(source SnapshotSource, clock util.Clock) *DataHandler {
	return &DataHandler{source: source, clock: clock}
}

func (h *DataHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload := BuildPayload(h.source.GetCurrentSnapshot(), h.clock.Now())
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("Failed to marshal dashboard data")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

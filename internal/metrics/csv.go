package metrics

import (
	"strconv"
	"time"
)

// CsvHeader is the flattened snapshot column set served by the CSV endpoint
// and written by range exports. The column order is frozen, downstream
// consumers index by position.
func CsvHeader() []string {
	return []string{
		"timestamp",
		"active_connections",
		"total_connections",
		"request_count",
		"request_rate",
		"response_time_avg",
		"cpu_usage_percent",
		"memory_usage_percent",
		"events_sent",
		"events_received",
		"tool_calls_total",
		"uptime_seconds",
		"error_count_total",
	}
}

// CsvRecord flattens a snapshot into one row matching CsvHeader.
func CsvRecord(s *MetricsSnapshot) []string {
	return []string{
		s.Timestamp.Format(time.RFC3339),
		strconv.Itoa(s.Connection.ActiveConnections),
		strconv.Itoa(s.Connection.TotalConnections),
		strconv.Itoa(s.Request.RequestCount),
		formatFloat(s.Request.RequestRate),
		formatFloat(s.Request.ResponseTimeAvg),
		formatFloat(s.Resource.CpuUsagePercent),
		formatFloat(s.Resource.MemoryUsagePercent),
		strconv.Itoa(s.Stream.EventsSent),
		strconv.Itoa(s.Stream.EventsReceived),
		strconv.Itoa(s.Tool.ToolCallsTotal),
		formatFloat(s.System.UptimeSeconds),
		strconv.Itoa(s.System.ErrorCountTotal),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package exporter

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmillproject/docmill/internal/metrics"
)

type stubSource struct {
	snapshot *metrics.MetricsSnapshot
}

func (s *stubSource) GetCurrentSnapshot() *metrics.MetricsSnapshot {
	return s.snapshot
}

func fullSnapshot() *metrics.MetricsSnapshot {
	lastCheck := time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)
	return &metrics.MetricsSnapshot{
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Connection: metrics.ConnectionMetrics{
			ActiveConnections:     3,
			TotalConnections:      10,
			ConnectionDurationAvg: 1.5,
			ConnectionDurationMax: 4,
			ConnectionErrors:      1,
			ConnectionSuccessRate: 90,
		},
		Request: metrics.RequestMetrics{
			RequestCount:    100,
			RequestRate:     1.5,
			ResponseTimeAvg: 0.2,
			ResponseTimeP50: 0.18,
			ResponseTimeP95: 0.35,
			ResponseTimeP99: 0.4,
			ResponseTimeMax: 0.5,
			SuccessRate:     98,
			ErrorRate:       2,
			Throughput:      1024,
		},
		Resource: metrics.ResourceMetrics{
			CpuUsagePercent:    42.5,
			MemoryUsageBytes:   1 << 20,
			MemoryUsagePercent: 12.5,
			NetworkInBytes:     2048,
			NetworkOutBytes:    4096,
		},
		Stream: metrics.StreamMetrics{
			EventsSent:     50,
			EventsReceived: 60,
			StreamErrors:   2,
		},
		Tool: metrics.ToolMetrics{
			ToolCallsTotal:       8,
			ToolCallsSuccess:     7,
			ToolCallsError:       1,
			ToolExecutionTimeAvg: 0.3,
			ToolExecutionTimeP95: 0.9,
			ToolExecutionTimeMax: 1.1,
			ToolCallsByName:      map[string]int{"pdf_convert": 5, "ocr": 3},
			ToolErrorsByName:     map[string]int{"ocr": 1},
		},
		System: metrics.SystemMetrics{
			UptimeSeconds:   3600,
			ServiceStatus:   "running",
			LastHealthCheck: &lastCheck,
			ErrorCountTotal: 4,
		},
		CustomMetrics: map[string]metrics.MetricValue{
			"queue depth": {Name: "queue depth", Value: 7, MetricType: metrics.MetricTypeGauge},
			"jobs_done":   {Name: "jobs_done", Value: 12, MetricType: metrics.MetricTypeCounter},
		},
	}
}

func TestRenderTextContainsSnapshotSeries(t *testing.T) {
	exporter := New(&stubSource{snapshot: fullSnapshot()}, prometheus.NewRegistry())

	text, err := exporter.RenderText()
	require.NoError(t, err)
	rendered := string(text)

	assert.Contains(t, rendered, "# TYPE docmill_requests_total counter")
	assert.Contains(t, rendered, "docmill_requests_total 100")
	assert.Contains(t, rendered, "docmill_active_connections 3")
	assert.Contains(t, rendered, "docmill_cpu_usage_percent 42.5")
	assert.Contains(t, rendered, `docmill_response_time_seconds{quantile="0.95"} 0.35`)
	assert.Contains(t, rendered, `docmill_response_time_seconds{quantile="1"} 0.5`)
	assert.Contains(t, rendered, "docmill_response_time_seconds_sum 20")
	assert.Contains(t, rendered, "docmill_response_time_seconds_count 100")
	assert.Contains(t, rendered, `docmill_tool_calls_by_name_total{tool_name="pdf_convert"} 5`)
	assert.Contains(t, rendered, `docmill_tool_errors_by_name_total{tool_name="ocr"} 1`)
	assert.Contains(t, rendered, "docmill_service_status 1")
	assert.Contains(t, rendered, "docmill_custom_queue_depth 7")
	assert.Contains(t, rendered, "docmill_custom_jobs_done 12")
}

func TestRenderTextIsCached(t *testing.T) {
	source := &stubSource{snapshot: fullSnapshot()}
	exporter := New(source, prometheus.NewRegistry())

	first, err := exporter.RenderText()
	require.NoError(t, err)

	updated := fullSnapshot()
	updated.Connection.ActiveConnections = 99
	source.snapshot = updated

	second, err := exporter.RenderText()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCollectorEmitsNothingWithoutSnapshot(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(&stubSource{}, registry)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestRegistryIsSharedWithOtherComponents(t *testing.T) {
	registry := prometheus.NewRegistry()
	exporter := New(&stubSource{snapshot: fullSnapshot()}, registry)

	sideCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docmill_side_counter_total",
		Help: "Counter registered outside the snapshot collector",
	})
	registry.MustRegister(sideCounter)
	sideCounter.Inc()

	text, err := exporter.RenderText()
	require.NoError(t, err)
	assert.Contains(t, string(text), "docmill_side_counter_total 1")
}

func TestHandleText(t *testing.T) {
	exporter := New(&stubSource{snapshot: fullSnapshot()}, prometheus.NewRegistry())
	recorder := httptest.NewRecorder()

	exporter.HandleText(recorder, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, textContentType, recorder.Header().Get("Content-Type"))
	assert.Contains(t, recorder.Body.String(), "docmill_active_connections 3")
}

func TestHandleTextWithoutSnapshot(t *testing.T) {
	exporter := New(&stubSource{}, prometheus.NewRegistry())
	recorder := httptest.NewRecorder()

	exporter.HandleText(recorder, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "# No metrics available\n", recorder.Body.String())
}

func TestHandleJson(t *testing.T) {
	snapshot := fullSnapshot()
	exporter := New(&stubSource{snapshot: snapshot}, prometheus.NewRegistry())
	recorder := httptest.NewRecorder()

	exporter.HandleJson(recorder, httptest.NewRequest("GET", "/metrics/json", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, jsonContentType, recorder.Header().Get("Content-Type"))

	var decoded metrics.MetricsSnapshot
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	assert.True(t, decoded.Timestamp.Equal(snapshot.Timestamp))
	assert.Equal(t, 100, decoded.Request.RequestCount)
}

func TestHandleJsonWithoutSnapshot(t *testing.T) {
	exporter := New(&stubSource{}, prometheus.NewRegistry())
	recorder := httptest.NewRecorder()

	exporter.HandleJson(recorder, httptest.NewRequest("GET", "/metrics/json", nil))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.JSONEq(t, `{"error":"No metrics available"}`, recorder.Body.String())
}

func TestHandleCsv(t *testing.T) {
	exporter := New(&stubSource{snapshot: fullSnapshot()}, prometheus.NewRegistry())
	recorder := httptest.NewRecorder()

	exporter.HandleCsv(recorder, httptest.NewRequest("GET", "/metrics/csv", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/csv", recorder.Header().Get("Content-Type"))
	assert.Contains(t, recorder.Header().Get("Content-Disposition"), "attachment")

	rows, err := csv.NewReader(recorder.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, metrics.CsvHeader(), rows[0])
	assert.Equal(t, "2024-05-01T12:00:00Z", rows[1][0])
	assert.Equal(t, "3", rows[1][1])
	assert.Equal(t, "100", rows[1][3])
}

func TestHandleCsvWithoutSnapshot(t *testing.T) {
	exporter := New(&stubSource{}, prometheus.NewRegistry())
	recorder := httptest.NewRecorder()

	exporter.HandleCsv(recorder, httptest.NewRequest("GET", "/metrics/csv", nil))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.JSONEq(t, `{"error":"No metrics available"}`, recorder.Body.String())
}

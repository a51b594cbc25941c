package collector

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/docmillproject/docmill/internal/common/task"
	"github.com/docmillproject/docmill/internal/common/util"
	"github.com/docmillproject/docmill/internal/docmill/configuration"
	"github.com/docmillproject/docmill/internal/metrics"
)

const (
	connectionDurationBufferSize = 1000
	responseTimeBufferSize       = 10000
	streamBufferSize             = 1000
	toolTimeBufferSize           = 1000
	sharedToolTimeBufferSize     = 10000

	// rateWindow is the trailing window over which per second rates are computed.
	rateWindow = 60 * time.Second
)

// RequestToken marks the start of a request. The zero token turns
// RecordRequestEnd into a no-op.
type RequestToken struct {
	start time.Time
}

// Collector accepts instrumentation calls from arbitrary goroutines and
// periodically materializes them into an immutable MetricsSnapshot. All
// ingestion calls complete in O(1) amortized time under a single mutex and
// never fail, so instrumented request paths are unaffected by metrics state.
type Collector struct {
	config     configuration.MetricsConfig
	probe      ResourceProbe
	clock      util.Clock
	registerer prometheus.Registerer

	mu sync.Mutex

	activeConnections   map[string]time.Time
	totalConnections    int
	connectionErrors    int
	connectionDurations *metrics.SampleBuffer

	requestCount  int
	requestErrors int
	timeoutCount  int
	totalBytes    float64
	responseTimes *metrics.SampleBuffer

	eventsSent           int
	eventsReceived       int
	eventProcessingTimes *metrics.SampleBuffer
	streamLatencies      *metrics.SampleBuffer
	streamErrors         int
	keepaliveSent        int
	clientDisconnects    int

	toolCallsByName    map[string]int
	toolErrorsByName   map[string]int
	toolTimeoutsByName map[string]int
	toolTimesByName    map[string]*metrics.SampleBuffer
	allToolTimes       *metrics.SampleBuffer
	toolSuccessTotal   int
	toolErrorTotal     int
	toolTimeoutTotal   int

	healthCheckStatus   string
	healthCheckFailures int
	lastHealthCheck     *time.Time
	errorCount          int
	warningCount        int

	customMetrics map[string]metrics.MetricValue

	startTime   time.Time
	current     *metrics.MetricsSnapshot
	history     []*metrics.MetricsSnapshot
	subscribers []func(*metrics.MetricsSnapshot)

	taskManager *task.BackgroundTaskManager
}

func New(config configuration.MetricsConfig, probe ResourceProbe, clock util.Clock, registerer prometheus.Registerer) *Collector {
	return &Collector{
		config:               config,
		probe:                probe,
		clock:                clock,
		registerer:           registerer,
		activeConnections:    map[string]time.Time{},
		connectionDurations:  metrics.NewSampleBuffer(connectionDurationBufferSize),
		responseTimes:        metrics.NewSampleBuffer(responseTimeBufferSize),
		eventProcessingTimes: metrics.NewSampleBuffer(streamBufferSize),
		streamLatencies:      metrics.NewSampleBuffer(streamBufferSize),
		toolCallsByName:      map[string]int{},
		toolErrorsByName:     map[string]int{},
		toolTimeoutsByName:   map[string]int{},
		toolTimesByName:      map[string]*metrics.SampleBuffer{},
		allToolTimes:         metrics.NewSampleBuffer(sharedToolTimeBufferSize),
		healthCheckStatus:    "healthy",
		customMetrics:        map[string]metrics.MetricValue{},
		startTime:            clock.Now(),
	}
}

// Start begins periodic snapshot production at the configured collection
// interval. Starting a disabled or already running collector is a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.config.Enabled || c.taskManager != nil {
		return
	}
	c.taskManager = task.NewBackgroundTaskManager(c.registerer, metrics.MetricPrefix)
	c.taskManager.Register(func() { c.Collect() }, c.config.CollectionInterval, "metrics_collection")
	log.Infof("Metrics collection started with interval %s", c.config.CollectionInterval)
}

// Stop cancels snapshot production. Safe to call twice or before Start.
func (c *Collector) Stop() {
	c.mu.Lock()
	manager := c.taskManager
	c.taskManager = nil
	c.mu.Unlock()
	if manager == nil {
		return
	}
	if timedOut := manager.StopAll(5 * time.Second); timedOut {
		log.Warn("Timed out waiting for metrics collection to stop")
	}
	log.Info("Metrics collection stopped")
}

// Subscribe registers a function invoked with every newly produced snapshot.
// Subscribers run on the collection goroutine, panics are recovered and logged.
func (c *Collector) Subscribe(subscriber func(*metrics.MetricsSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, subscriber)
}

func (c *Collector) RecordConnectionStart(id string) {
	if !c.config.Enabled {
		return
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeConnections[id] = now
	c.totalConnections++
}

// RecordConnectionEnd closes a tracked connection. Unknown ids are ignored,
// the connection may predate the collector.
func (c *Collector) RecordConnectionEnd(id string, failed bool) {
	if !c.config.Enabled {
		return
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	start, ok := c.activeConnections[id]
	if !ok {
		return
	}
	delete(c.activeConnections, id)
	c.connectionDurations.Append(now.Sub(start).Seconds(), now)
	if failed {
		c.connectionErrors++
	}
}

func (c *Collector) RecordConnectionError() {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionErrors++
}

func (c *Collector) RecordRequestStart() RequestToken {
	if !c.config.Enabled {
		return RequestToken{}
	}
	return RequestToken{start: c.clock.Now()}
}

func (c *Collector) RecordRequestEnd(token RequestToken, success bool, bytes int, timeout bool) {
	if !c.config.Enabled || token.start.IsZero() {
		return
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCount++
	c.responseTimes.Append(now.Sub(token.start).Seconds(), now)
	c.totalBytes += float64(bytes)
	if !success {
		c.requestErrors++
	}
	if timeout {
		c.timeoutCount++
	}
}

func (c *Collector) RecordToolCall(name string, duration time.Duration, success bool, timeout bool) {
	if !c.config.Enabled {
		return
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolCallsByName[name]++
	if success {
		c.toolSuccessTotal++
	} else {
		c.toolErrorsByName[name]++
		c.toolErrorTotal++
	}
	if timeout {
		c.toolTimeoutsByName[name]++
		c.toolTimeoutTotal++
	}
	buffer, ok := c.toolTimesByName[name]
	if !ok {
		buffer = metrics.NewSampleBuffer(toolTimeBufferSize)
		c.toolTimesByName[name] = buffer
	}
	buffer.Append(duration.Seconds(), now)
	c.allToolTimes.Append(duration.Seconds(), now)
}

func (c *Collector) RecordStreamEventSent() {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsSent++
}

// RecordStreamEventReceived counts an inbound stream event. A zero processing
// duration records the count only.
func (c *Collector) RecordStreamEventReceived(processing time.Duration) {
	if !c.config.Enabled {
		return
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsReceived++
	if processing > 0 {
		c.eventProcessingTimes.Append(processing.Seconds(), now)
	}
}

func (c *Collector) RecordStreamLatency(latency time.Duration) {
	if !c.config.Enabled {
		return
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamLatencies.Append(latency.Seconds(), now)
}

func (c *Collector) RecordStreamError() {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamErrors++
}

func (c *Collector) RecordKeepaliveSent() {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepaliveSent++
}

func (c *Collector) RecordClientDisconnect() {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientDisconnects++
}

func (c *Collector) RecordHealthCheck(status string, failed bool) {
	if !c.config.Enabled {
		return
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthCheckStatus = status
	c.lastHealthCheck = &now
	if failed {
		c.healthCheckFailures++
	}
}

func (c *Collector) RecordError(severity string) {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if severity == "warning" {
		c.warningCount++
	} else {
		c.errorCount++
	}
}

// SetCustomMetric upserts an ad hoc metric carried on subsequent snapshots.
func (c *Collector) SetCustomMetric(value metrics.MetricValue) {
	if !c.config.Enabled {
		return
	}
	if value.Timestamp.IsZero() {
		value.Timestamp = c.clock.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customMetrics[value.Name] = value
}

// Reset clears all counters and buffers but keeps the service start time,
// the snapshot history and any registered subscribers.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeConnections = map[string]time.Time{}
	c.totalConnections = 0
	c.connectionErrors = 0
	c.connectionDurations = metrics.NewSampleBuffer(connectionDurationBufferSize)
	c.requestCount = 0
	c.requestErrors = 0
	c.timeoutCount = 0
	c.totalBytes = 0
	c.responseTimes = metrics.NewSampleBuffer(responseTimeBufferSize)
	c.eventsSent = 0
	c.eventsReceived = 0
	c.eventProcessingTimes = metrics.NewSampleBuffer(streamBufferSize)
	c.streamLatencies = metrics.NewSampleBuffer(streamBufferSize)
	c.streamErrors = 0
	c.keepaliveSent = 0
	c.clientDisconnects = 0
	c.toolCallsByName = map[string]int{}
	c.toolErrorsByName = map[string]int{}
	c.toolTimeoutsByName = map[string]int{}
	c.toolTimesByName = map[string]*metrics.SampleBuffer{}
	c.allToolTimes = metrics.NewSampleBuffer(sharedToolTimeBufferSize)
	c.toolSuccessTotal = 0
	c.toolErrorTotal = 0
	c.toolTimeoutTotal = 0
	c.healthCheckStatus = "healthy"
	c.healthCheckFailures = 0
	c.lastHealthCheck = nil
	c.errorCount = 0
	c.warningCount = 0
	c.customMetrics = map[string]metrics.MetricValue{}
}

// snapshotInputs is the staging copy taken under the lock. Sorting and
// percentile math happen on it after the lock is released.
type snapshotInputs struct {
	activeConnections   int
	totalConnections    int
	connectionErrors    int
	connectionDurations []float64

	requestCount     int
	requestErrors    int
	timeoutCount     int
	totalBytes       float64
	responseTimes    []float64
	requestsInWindow int

	eventsSent           int
	eventsReceived       int
	eventProcessingTimes []float64
	streamLatencies      []float64
	streamErrors         int
	keepaliveSent        int
	clientDisconnects    int

	toolCallsByName    map[string]int
	toolErrorsByName   map[string]int
	toolTimeoutsByName map[string]int
	allToolTimes       []float64
	toolSuccessTotal   int
	toolErrorTotal     int
	toolTimeoutTotal   int

	healthCheckStatus   string
	healthCheckFailures int
	lastHealthCheck     *time.Time
	errorCount          int
	warningCount        int

	customMetrics map[string]metrics.MetricValue
	running       bool
}

// Collect materializes a snapshot from the current counters, stores it as
// current, appends it to the bounded history and notifies subscribers.
// The background task calls this every collection interval.
func (c *Collector) Collect() *metrics.MetricsSnapshot {
	if !c.config.Enabled {
		return nil
	}
	now := c.clock.Now()

	// Probe outside the lock, it performs syscalls.
	resource := c.collectResourceMetrics()

	c.mu.Lock()
	inputs := c.copyInputs(now)
	c.mu.Unlock()

	snapshot := &metrics.MetricsSnapshot{
		Timestamp:     now,
		Connection:    buildConnectionMetrics(inputs),
		Request:       buildRequestMetrics(inputs, now.Sub(c.startTime).Seconds()),
		Resource:      resource,
		Stream:        buildStreamMetrics(inputs),
		Tool:          buildToolMetrics(inputs),
		System:        buildSystemMetrics(inputs, c.startTime, now),
		CustomMetrics: inputs.customMetrics,
	}

	c.mu.Lock()
	c.current = snapshot
	c.history = append(c.history, snapshot)
	c.evictHistory(now)
	subscribers := make([]func(*metrics.MetricsSnapshot), len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()

	for _, subscriber := range subscribers {
		notifySubscriber(subscriber, snapshot)
	}
	return snapshot
}

// copyInputs must be called with the lock held.
func (c *Collector) copyInputs(now time.Time) snapshotInputs {
	return snapshotInputs{
		activeConnections:    len(c.activeConnections),
		totalConnections:     c.totalConnections,
		connectionErrors:     c.connectionErrors,
		connectionDurations:  c.connectionDurations.Values(),
		requestCount:         c.requestCount,
		requestErrors:        c.requestErrors,
		timeoutCount:         c.timeoutCount,
		totalBytes:           c.totalBytes,
		responseTimes:        c.responseTimes.Values(),
		requestsInWindow:     c.responseTimes.CountSince(now.Add(-rateWindow)),
		eventsSent:           c.eventsSent,
		eventsReceived:       c.eventsReceived,
		eventProcessingTimes: c.eventProcessingTimes.Values(),
		streamLatencies:      c.streamLatencies.Values(),
		streamErrors:         c.streamErrors,
		keepaliveSent:        c.keepaliveSent,
		clientDisconnects:    c.clientDisconnects,
		toolCallsByName:      copyCounts(c.toolCallsByName),
		toolErrorsByName:     copyCounts(c.toolErrorsByName),
		toolTimeoutsByName:   copyCounts(c.toolTimeoutsByName),
		allToolTimes:         c.allToolTimes.Values(),
		toolSuccessTotal:     c.toolSuccessTotal,
		toolErrorTotal:       c.toolErrorTotal,
		toolTimeoutTotal:     c.toolTimeoutTotal,
		healthCheckStatus:    c.healthCheckStatus,
		healthCheckFailures:  c.healthCheckFailures,
		lastHealthCheck:      c.lastHealthCheck,
		errorCount:           c.errorCount,
		warningCount:         c.warningCount,
		customMetrics:        copyCustomMetrics(c.customMetrics),
		running:              c.taskManager != nil,
	}
}

func notifySubscriber(subscriber func(*metrics.MetricsSnapshot), snapshot *metrics.MetricsSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Snapshot subscriber panicked: %v", r)
		}
	}()
	subscriber(snapshot)
}

// evictHistory must be called with the lock held.
func (c *Collector) evictHistory(now time.Time) {
	if len(c.history) > c.config.HistoryLimit {
		c.history = c.history[len(c.history)-c.config.HistoryLimit:]
	}
	cutoff := now.Add(-time.Duration(c.config.RetentionHours * float64(time.Hour)))
	firstLive := 0
	for firstLive < len(c.history) && c.history[firstLive].Timestamp.Before(cutoff) {
		firstLive++
	}
	c.history = c.history[firstLive:]
}

func (c *Collector) GetCurrentSnapshot() *metrics.MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// GetHistory returns the retained snapshots from the trailing window, oldest first.
func (c *Collector) GetHistory(hours float64) []*metrics.MetricsSnapshot {
	cutoff := c.clock.Now().Add(-time.Duration(hours * float64(time.Hour)))
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]*metrics.MetricsSnapshot, 0, len(c.history))
	for _, snapshot := range c.history {
		if !snapshot.Timestamp.Before(cutoff) {
			result = append(result, snapshot)
		}
	}
	return result
}

// GetAllMetricsAsMap returns the current snapshot keyed by category, for ad
// hoc JSON serving. Returns nil if no snapshot has been produced yet.
func (c *Collector) GetAllMetricsAsMap() map[string]interface{} {
	snapshot := c.GetCurrentSnapshot()
	if snapshot == nil {
		return nil
	}
	return map[string]interface{}{
		"timestamp":          snapshot.Timestamp,
		"connection_metrics": snapshot.Connection,
		"request_metrics":    snapshot.Request,
		"resource_metrics":   snapshot.Resource,
		"stream_metrics":     snapshot.Stream,
		"tool_metrics":       snapshot.Tool,
		"system_metrics":     snapshot.System,
		"custom_metrics":     snapshot.CustomMetrics,
	}
}

// ToolExecutionStats summarises the bounded latency buffer of one tool.
type ToolExecutionStats struct {
	Count int
	Avg   float64
	P50   float64
	P95   float64
	P99   float64
	Min   float64
	Max   float64
}

// GetToolExecutionStats computes per tool latency percentiles for operator
// tooling. The second return is false for tools never recorded.
func (c *Collector) GetToolExecutionStats(name string) (ToolExecutionStats, bool) {
	c.mu.Lock()
	buffer, ok := c.toolTimesByName[name]
	if !ok {
		c.mu.Unlock()
		return ToolExecutionStats{}, false
	}
	values := buffer.Values()
	c.mu.Unlock()

	sorted := metrics.SortAscending(values)
	return ToolExecutionStats{
		Count: len(sorted),
		Avg:   metrics.Mean(sorted),
		P50:   metrics.Percentile(sorted, 0.5),
		P95:   metrics.Percentile(sorted, 0.95),
		P99:   metrics.Percentile(sorted, 0.99),
		Min:   metrics.Min(sorted),
		Max:   metrics.Max(sorted),
	}, true
}

// Check reports readiness for the health endpoint.
func (c *Collector) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config.Enabled && c.taskManager == nil {
		return errors.New("metrics collector is not running")
	}
	return nil
}

func (c *Collector) collectResourceMetrics() metrics.ResourceMetrics {
	if c.probe == nil {
		return metrics.ResourceMetrics{}
	}
	resource, err := c.probe.Probe()
	if err != nil {
		// Degrade the category to zero values, never fail the snapshot.
		log.WithError(err).Error("Failed to collect resource metrics")
		return metrics.ResourceMetrics{}
	}
	return resource
}

func buildConnectionMetrics(inputs snapshotInputs) metrics.ConnectionMetrics {
	successRate := 100.0
	if inputs.totalConnections > 0 {
		successRate = float64(inputs.totalConnections-inputs.connectionErrors) / float64(inputs.totalConnections) * 100
	}
	durations := inputs.connectionDurations
	return metrics.ConnectionMetrics{
		ActiveConnections:     inputs.activeConnections,
		TotalConnections:      inputs.totalConnections,
		ConnectionDurationAvg: metrics.Mean(durations),
		ConnectionDurationMax: metrics.Max(durations),
		ConnectionDurationMin: metrics.Min(durations),
		ConnectionErrors:      inputs.connectionErrors,
		ConnectionSuccessRate: successRate,
	}
}

func buildRequestMetrics(inputs snapshotInputs, uptimeSeconds float64) metrics.RequestMetrics {
	sorted := metrics.SortAscending(inputs.responseTimes)
	successRate := 100.0
	errorRate := 0.0
	timeoutRate := 0.0
	if inputs.requestCount > 0 {
		successRate = float64(inputs.requestCount-inputs.requestErrors) / float64(inputs.requestCount) * 100
		errorRate = float64(inputs.requestErrors) / float64(inputs.requestCount) * 100
		timeoutRate = float64(inputs.timeoutCount) / float64(inputs.requestCount) * 100
	}
	throughput := 0.0
	if uptimeSeconds > 0 {
		throughput = inputs.totalBytes / uptimeSeconds
	}
	return metrics.RequestMetrics{
		RequestCount:    inputs.requestCount,
		RequestRate:     float64(inputs.requestsInWindow) / rateWindow.Seconds(),
		ResponseTimeAvg: metrics.Mean(sorted),
		ResponseTimeP50: metrics.Percentile(sorted, 0.5),
		ResponseTimeP95: metrics.Percentile(sorted, 0.95),
		ResponseTimeP99: metrics.Percentile(sorted, 0.99),
		ResponseTimeMax: metrics.Max(sorted),
		ResponseTimeMin: metrics.Min(sorted),
		SuccessRate:     successRate,
		ErrorRate:       errorRate,
		TimeoutRate:     timeoutRate,
		Throughput:      throughput,
	}
}

func buildStreamMetrics(inputs snapshotInputs) metrics.StreamMetrics {
	processing := inputs.eventProcessingTimes
	latencies := inputs.streamLatencies
	return metrics.StreamMetrics{
		EventsSent:             inputs.eventsSent,
		EventsReceived:         inputs.eventsReceived,
		EventProcessingTimeAvg: metrics.Mean(processing),
		EventProcessingTimeMax: metrics.Max(processing),
		EventProcessingTimeMin: metrics.Min(processing),
		StreamLatencyAvg:       metrics.Mean(latencies),
		StreamLatencyMax:       metrics.Max(latencies),
		StreamErrors:           inputs.streamErrors,
		KeepaliveSent:          inputs.keepaliveSent,
		ClientDisconnects:      inputs.clientDisconnects,
	}
}

func buildToolMetrics(inputs snapshotInputs) metrics.ToolMetrics {
	sorted := metrics.SortAscending(inputs.allToolTimes)
	total := 0
	for _, count := range inputs.toolCallsByName {
		total += count
	}
	return metrics.ToolMetrics{
		ToolCallsTotal:       total,
		ToolCallsSuccess:     inputs.toolSuccessTotal,
		ToolCallsError:       inputs.toolErrorTotal,
		ToolCallsTimeout:     inputs.toolTimeoutTotal,
		ToolExecutionTimeAvg: metrics.Mean(sorted),
		ToolExecutionTimeP50: metrics.Percentile(sorted, 0.5),
		ToolExecutionTimeP95: metrics.Percentile(sorted, 0.95),
		ToolExecutionTimeP99: metrics.Percentile(sorted, 0.99),
		ToolExecutionTimeMax: metrics.Max(sorted),
		ToolExecutionTimeMin: metrics.Min(sorted),
		ToolCallsByName:      inputs.toolCallsByName,
		ToolErrorsByName:     inputs.toolErrorsByName,
		ToolTimeoutsByName:   inputs.toolTimeoutsByName,
	}
}

func buildSystemMetrics(inputs snapshotInputs, startTime time.Time, now time.Time) metrics.SystemMetrics {
	serviceStatus := "stopped"
	if inputs.running {
		serviceStatus = "running"
	}
	return metrics.SystemMetrics{
		UptimeSeconds:       now.Sub(startTime).Seconds(),
		StartTime:           startTime,
		HealthCheckStatus:   inputs.healthCheckStatus,
		HealthCheckFailures: inputs.healthCheckFailures,
		LastHealthCheck:     inputs.lastHealthCheck,
		ServiceStatus:       serviceStatus,
		ErrorCountTotal:     inputs.errorCount,
		WarningCountTotal:   inputs.warningCount,
	}
}

func copyCounts(counts map[string]int) map[string]int {
	result := make(map[string]int, len(counts))
	for name, count := range counts {
		result[name] = count
	}
	return result
}

func copyCustomMetrics(customMetrics map[string]metrics.MetricValue) map[string]metrics.MetricValue {
	if len(customMetrics) == 0 {
		return nil
	}
	result := make(map[string]metrics.MetricValue, len(customMetrics))
	for name, value := range customMetrics {
		result[name] = value
	}
	return result
}

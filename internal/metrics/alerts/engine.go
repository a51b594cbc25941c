package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/docmillproject/docmill/internal/common/task"
	"github.com/docmillproject/docmill/internal/common/util"
	"github.com/docmillproject/docmill/internal/docmill/configuration"
	"github.com/docmillproject/docmill/internal/metrics"
)

const alertHistoryCapacity = 1000

// resolveFactor scales the warning threshold down to the auto resolve bound
// for warning severity alerts. Critical alerts resolve below the warning
// threshold itself. The asymmetric band keeps a metric oscillating around a
// threshold from repeatedly opening and closing alerts.
const resolveFactor = 0.8

// SnapshotSource supplies the snapshot evaluated on each tick.
type SnapshotSource interface {
	GetCurrentSnapshot() *metrics.MetricsSnapshot
}

// Handler is notified once for every newly created alert. Updates to an
// existing unresolved alert do not fan out.
type Handler interface {
	HandleAlert(alert metrics.Alert) error
}

// ValueExtractor reads one monitored value from a snapshot.
type ValueExtractor func(*metrics.MetricsSnapshot) float64

var statusCodes = map[metrics.AlertSeverity]int{
	metrics.SeverityInfo:      1,
	metrics.SeverityWarning:   2,
	metrics.SeverityCritical:  3,
	metrics.SeverityEmergency: 4,
}

func defaultThresholds() map[string]configuration.Threshold {
	return map[string]configuration.Threshold{
		"cpu_usage_percent":    {Warning: 70, Critical: 85},
		"memory_usage_percent": {Warning: 80, Critical: 90},
		"response_time_p95":    {Warning: 1000, Critical: 2000},
		"error_rate":           {Warning: 5, Critical: 10},
		"connection_errors":    {Warning: 10, Critical: 50},
		"tool_timeout_rate":    {Warning: 2, Critical: 5},
	}
}

func defaultExtractors() map[string]ValueExtractor {
	return map[string]ValueExtractor{
		"cpu_usage_percent": func(s *metrics.MetricsSnapshot) float64 {
			return s.Resource.CpuUsagePercent
		},
		"memory_usage_percent": func(s *metrics.MetricsSnapshot) float64 {
			return s.Resource.MemoryUsagePercent
		},
		// thresholds are in milliseconds, the snapshot stores seconds
		"response_time_p95": func(s *metrics.MetricsSnapshot) float64 {
			return s.Request.ResponseTimeP95 * 1000
		},
		"error_rate": func(s *metrics.MetricsSnapshot) float64 {
			return s.Request.ErrorRate
		},
		"connection_errors": func(s *metrics.MetricsSnapshot) float64 {
			return float64(s.Connection.ConnectionErrors)
		},
		"tool_timeout_rate": func(s *metrics.MetricsSnapshot) float64 {
			if s.Tool.ToolCallsTotal == 0 {
				return 0
			}
			return float64(s.Tool.ToolCallsTimeout) / float64(s.Tool.ToolCallsTotal) * 100
		},
	}
}

// Manager evaluates the current snapshot against per metric thresholds and
// maintains the no flap alert lifecycle: at most one unresolved alert per
// (metric name, severity), handler fan out on creation only, hysteresis on
// auto resolve.
type Manager struct {
	config     configuration.AlertingConfig
	source     SnapshotSource
	clock      util.Clock
	registerer prometheus.Registerer

	mu          sync.Mutex
	thresholds  map[string]configuration.Threshold
	extractors  map[string]ValueExtractor
	active      map[string]*metrics.Alert
	history     []*metrics.Alert
	handlers    []Handler
	taskManager *task.BackgroundTaskManager
}

func NewManager(config configuration.MetricsConfig, source SnapshotSource, clock util.Clock, registerer prometheus.Registerer) *Manager {
	thresholds := defaultThresholds()
	for name, threshold := range config.AlertThresholds {
		thresholds[name] = threshold
	}
	return &Manager{
		config:     config.Alerting,
		source:     source,
		clock:      clock,
		registerer: registerer,
		thresholds: thresholds,
		extractors: defaultExtractors(),
		active:     map[string]*metrics.Alert{},
	}
}

// Start begins periodic evaluation at the configured check interval.
// Starting a disabled or already running manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.config.Enabled || m.taskManager != nil {
		return
	}
	m.taskManager = task.NewBackgroundTaskManager(m.registerer, metrics.MetricPrefix)
	m.taskManager.Register(m.Evaluate, m.config.CheckInterval, "alert_evaluation")
	log.Infof("Alert evaluation started with interval %s", m.config.CheckInterval)
}

// Stop cancels periodic evaluation. Safe to call twice or before Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	manager := m.taskManager
	m.taskManager = nil
	m.mu.Unlock()
	if manager == nil {
		return
	}
	if timedOut := manager.StopAll(5 * time.Second); timedOut {
		log.Warn("Timed out waiting for alert evaluation to stop")
	}
	log.Info("Alert evaluation stopped")
}

func (m *Manager) AddHandler(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// RegisterMetric makes a named snapshot value alertable. It only fires once
// a threshold for the same name is configured.
func (m *Manager) RegisterMetric(name string, extractor ValueExtractor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractors[name] = extractor
}

// UpdateThresholds merges the given thresholds over the current ones.
func (m *Manager) UpdateThresholds(thresholds map[string]configuration.Threshold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, threshold := range thresholds {
		m.thresholds[name] = threshold
	}
}

// Evaluate runs one evaluation tick against the current snapshot. Does
// nothing before the first snapshot exists.
func (m *Manager) Evaluate() {
	snapshot := m.source.GetCurrentSnapshot()
	if snapshot == nil {
		return
	}
	now := m.clock.Now()

	m.mu.Lock()
	var created []metrics.Alert
	for name, extractor := range m.extractors {
		threshold, ok := m.thresholds[name]
		if !ok {
			continue
		}
		value := extractor(snapshot)
		if value >= threshold.Critical {
			if alert, isNew := m.upsert(name, metrics.SeverityCritical, value, threshold.Critical, now); isNew {
				created = append(created, *alert)
			}
		} else if value >= threshold.Warning {
			if alert, isNew := m.upsert(name, metrics.SeverityWarning, value, threshold.Warning, now); isNew {
				created = append(created, *alert)
			}
		}
	}
	m.autoResolve(snapshot, now)
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, alert := range created {
		log.Warnf("Alert %s: %s", alert.Severity, alert.Message)
		for _, handler := range handlers {
			dispatch(handler, alert)
		}
	}
}

func dispatch(handler Handler, alert metrics.Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Alert handler panicked: %v", r)
		}
	}()
	if err := handler.HandleAlert(alert); err != nil {
		log.WithError(err).Error("Alert handler failed")
	}
}

// upsert must be called with the lock held.
func (m *Manager) upsert(name string, severity metrics.AlertSeverity, value float64, threshold float64, now time.Time) (*metrics.Alert, bool) {
	message := fmt.Sprintf("%s is %.2f (threshold: %.2f)", name, value, threshold)
	for _, alert := range m.active {
		if alert.MetricName == name && alert.Severity == severity {
			alert.CurrentValue = value
			alert.Message = message
			alert.UpdatedAt = now
			return alert, false
		}
	}
	alert := &metrics.Alert{
		Id:             uuid.NewString(),
		Severity:       severity,
		MetricName:     name,
		CurrentValue:   value,
		ThresholdValue: threshold,
		Message:        message,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.active[alert.Id] = alert
	if len(m.history) >= alertHistoryCapacity {
		m.history = m.history[1:]
	}
	m.history = append(m.history, alert)
	return alert, true
}

// autoResolve must be called with the lock held.
func (m *Manager) autoResolve(snapshot *metrics.MetricsSnapshot, now time.Time) {
	for id, alert := range m.active {
		extractor, ok := m.extractors[alert.MetricName]
		if !ok {
			continue
		}
		threshold, ok := m.thresholds[alert.MetricName]
		if !ok {
			continue
		}
		var bound float64
		switch alert.Severity {
		case metrics.SeverityCritical:
			bound = threshold.Warning
		case metrics.SeverityWarning:
			bound = resolveFactor * threshold.Warning
		default:
			continue
		}
		if extractor(snapshot) < bound {
			alert.Resolved = true
			alert.ResolvedAt = &now
			alert.UpdatedAt = now
			delete(m.active, id)
			log.Infof("Alert resolved: %s", alert.Message)
		}
	}
}

// Acknowledge marks an active alert as seen by an operator. Returns false
// for unknown or already resolved ids.
func (m *Manager) Acknowledge(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.active[id]
	if !ok {
		return false
	}
	alert.Acknowledged = true
	alert.UpdatedAt = m.clock.Now()
	return true
}

// Resolve resolves an active alert by operator action. Returns false for
// unknown or already resolved ids.
func (m *Manager) Resolve(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.active[id]
	if !ok {
		return false
	}
	now := m.clock.Now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.UpdatedAt = now
	delete(m.active, id)
	return true
}

// ActiveAlerts returns unresolved alerts ordered by creation time.
func (m *Manager) ActiveAlerts() []metrics.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedActive()
}

// sortedActive must be called with the lock held.
func (m *Manager) sortedActive() []metrics.Alert {
	result := make([]metrics.Alert, 0, len(m.active))
	for _, alert := range m.active {
		result = append(result, *alert)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Id < result[j].Id
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// AlertsBySeverity returns unresolved alerts of one severity, ordered by
// creation time.
func (m *Manager) AlertsBySeverity(severity metrics.AlertSeverity) []metrics.Alert {
	all := m.ActiveAlerts()
	result := make([]metrics.Alert, 0, len(all))
	for _, alert := range all {
		if alert.Severity == severity {
			result = append(result, alert)
		}
	}
	return result
}

// History returns the most recent limit alert records, oldest first.
// A non positive limit returns the whole retained history.
func (m *Manager) History(limit int) []metrics.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	result := make([]metrics.Alert, 0, len(m.history)-start)
	for _, alert := range m.history[start:] {
		result = append(result, *alert)
	}
	return result
}

// Summary is the operator facing rollup of the current alert state.
type Summary struct {
	TotalActive    int             `json:"total_active"`
	BySeverity     map[string]int  `json:"by_severity"`
	Acknowledged   int             `json:"acknowledged"`
	Unacknowledged int             `json:"unacknowledged"`
	Alerts         []metrics.Alert `json:"alerts"`
}

func (m *Manager) GetSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := Summary{
		BySeverity: map[string]int{},
		Alerts:     m.sortedActive(),
	}
	for _, alert := range m.active {
		summary.TotalActive++
		summary.BySeverity[string(alert.Severity)]++
		if alert.Acknowledged {
			summary.Acknowledged++
		} else {
			summary.Unacknowledged++
		}
	}
	return summary
}

// HealthStatus reduces the active alerts to a single status keyed by the
// highest severity present.
type HealthStatus struct {
	Status       string `json:"status"`
	StatusCode   int    `json:"status_code"`
	ActiveAlerts int    `json:"active_alerts"`
}

func (m *Manager) GetHealthStatus() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := HealthStatus{Status: "healthy", ActiveAlerts: len(m.active)}
	for _, alert := range m.active {
		code, ok := statusCodes[alert.Severity]
		if !ok {
			code = 5
		}
		if code > status.StatusCode {
			status.StatusCode = code
			status.Status = string(alert.Severity)
		}
	}
	return status
}

// Reset drops all active alerts and history.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = map[string]*metrics.Alert{}
	m.history = nil
}

// Check reports alert state for the health endpoint. Unresolved critical or
// emergency alerts mark the service unhealthy.
func (m *Manager) Check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, alert := range m.active {
		if alert.Severity == metrics.SeverityCritical || alert.Severity == metrics.SeverityEmergency {
			return errors.Errorf("unresolved %s alert: %s", alert.Severity, alert.Message)
		}
	}
	return nil
}

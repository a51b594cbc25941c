package configuration

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

type StorageBackend string

const (
	StorageBackendMemory StorageBackend = "memory"
	StorageBackendFile   StorageBackend = "file"
)

func ParseStorageBackend(s string) (StorageBackend, error) {
	switch backend := StorageBackend(strings.ToLower(s)); backend {
	case StorageBackendMemory, StorageBackendFile:
		return backend, nil
	default:
		return "", errors.Errorf("unknown storage backend: %q", s)
	}
}

type DocmillConfig struct {
	HttpPort uint16 `validate:"required"`

	Metrics MetricsConfig
}

// Threshold is a pair of alert bounds for one monitored metric. Breaching
// Warning raises a warning alert, breaching Critical upgrades it.
type Threshold struct {
	Warning  float64 `validate:"gt=0"`
	Critical float64 `validate:"gtfield=Warning"`
}

type MetricsConfig struct {
	// Enabled turns the whole subsystem into a no-op when false.
	Enabled            bool
	CollectionInterval time.Duration `validate:"required,gt=0"`
	// RetentionHours bounds both the in memory history and on disk partitions.
	RetentionHours float64 `validate:"gt=0"`
	// HistoryLimit caps the number of snapshots held in memory.
	HistoryLimit         int            `validate:"gt=0"`
	StorageBackend       StorageBackend `validate:"oneof=memory file"`
	StoragePath          string
	CompressionEnabled   bool
	CompressionThreshold int `validate:"gt=0"`
	PrometheusEnabled    bool

	// AlertThresholds overrides the built in thresholds per metric name.
	AlertThresholds map[string]Threshold `validate:"dive"`

	Alerting  AlertingConfig
	Dashboard DashboardConfig
}

type AlertingConfig struct {
	Enabled       bool
	CheckInterval time.Duration `validate:"required,gt=0"`
	// WebhookUrl receives alert JSON on creation when set.
	WebhookUrl string `validate:"omitempty,url"`
}

type DashboardConfig struct {
	Enabled bool
}

package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() DocmillConfig {
	return DocmillConfig{
		HttpPort: 8080,
		Metrics: MetricsConfig{
			Enabled:              true,
			CollectionInterval:   10 * time.Second,
			RetentionHours:       24,
			HistoryLimit:         10000,
			StorageBackend:       StorageBackendMemory,
			CompressionThreshold: 1000,
			AlertThresholds: map[string]Threshold{
				"cpu_usage_percent": {Warning: 70, Critical: 85},
			},
			Alerting: AlertingConfig{
				Enabled:       true,
				CheckInterval: 30 * time.Second,
			},
		},
	}
}

func TestValidConfigPassesValidation(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestCriticalThresholdMustExceedWarning(t *testing.T) {
	config := validConfig()
	config.Metrics.AlertThresholds["cpu_usage_percent"] = Threshold{Warning: 85, Critical: 70}

	assert.Error(t, config.Validate())
}

func TestCriticalThresholdEqualToWarningIsRejected(t *testing.T) {
	config := validConfig()
	config.Metrics.AlertThresholds["cpu_usage_percent"] = Threshold{Warning: 85, Critical: 85}

	assert.Error(t, config.Validate())
}

func TestUnknownStorageBackendIsRejected(t *testing.T) {
	config := validConfig()
	config.Metrics.StorageBackend = StorageBackend("s3")

	assert.Error(t, config.Validate())
}

func TestInvalidWebhookUrlIsRejected(t *testing.T) {
	config := validConfig()
	config.Metrics.Alerting.WebhookUrl = "not a url"

	assert.Error(t, config.Validate())
}

func TestParseStorageBackend(t *testing.T) {
	backend, err := ParseStorageBackend("file")
	require.NoError(t, err)
	assert.Equal(t, StorageBackendFile, backend)

	backend, err = ParseStorageBackend("MEMORY")
	require.NoError(t, err)
	assert.Equal(t, StorageBackendMemory, backend)

	_, err = ParseStorageBackend("postgres")
	assert.Error(t, err)
}

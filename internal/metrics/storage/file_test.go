package storage

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmillproject/docmill/internal/common/util"
	"github.com/docmillproject/docmill/internal/docmill/configuration"
	"github.com/docmillproject/docmill/internal/metrics"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fileConfig(t *testing.T) configuration.MetricsConfig {
	return configuration.MetricsConfig{
		Enabled:              true,
		RetentionHours:       24,
		StorageBackend:       configuration.StorageBackendFile,
		StoragePath:          t.TempDir(),
		CompressionThreshold: 1000,
	}
}

func newTestStore(t *testing.T, config configuration.MetricsConfig) (*FileStore, *util.DummyClock) {
	clock := &util.DummyClock{T: baseTime}
	store, err := NewFileStore(config, clock)
	require.NoError(t, err)
	return store, clock
}

func snapshotAt(timestamp time.Time) *metrics.MetricsSnapshot {
	return &metrics.MetricsSnapshot{
		Timestamp:  timestamp,
		Connection: metrics.ConnectionMetrics{ActiveConnections: 3, TotalConnections: 10},
		Request:    metrics.RequestMetrics{RequestCount: 100, ResponseTimeAvg: 0.25},
		System:     metrics.SystemMetrics{UptimeSeconds: 3600},
	}
}

func countEntries(t *testing.T, bucket string, suffix string) int {
	entries, err := os.ReadDir(bucket)
	require.NoError(t, err)
	count := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), suffix) {
			count++
		}
	}
	return count
}

func TestPersistWritesDayPartitionedFile(t *testing.T) {
	config := fileConfig(t)
	store, _ := newTestStore(t, config)

	require.NoError(t, store.Persist(snapshotAt(baseTime)))

	path := filepath.Join(config.StoragePath, "20240501", "metrics_120000.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var stored metrics.MetricsSnapshot
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.True(t, stored.Timestamp.Equal(baseTime))
	assert.Equal(t, 3, stored.Connection.ActiveConnections)
}

func TestPersistNilSnapshotIsNoOp(t *testing.T) {
	config := fileConfig(t)
	store, _ := newTestStore(t, config)

	require.NoError(t, store.Persist(nil))

	entries, err := os.ReadDir(config.StoragePath)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQueryReturnsSnapshotsSortedByTimestamp(t *testing.T) {
	store, _ := newTestStore(t, fileConfig(t))

	for _, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		require.NoError(t, store.Persist(snapshotAt(baseTime.Add(offset))))
	}

	snapshots, err := store.Query(baseTime.Add(-time.Hour), baseTime.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.True(t, snapshots[0].Timestamp.Equal(baseTime))
	assert.True(t, snapshots[1].Timestamp.Equal(baseTime.Add(time.Minute)))
	assert.True(t, snapshots[2].Timestamp.Equal(baseTime.Add(2*time.Minute)))
}

func TestQueryFiltersRangeInclusive(t *testing.T) {
	store, _ := newTestStore(t, fileConfig(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Persist(snapshotAt(baseTime.Add(time.Duration(i)*time.Minute))))
	}

	snapshots, err := store.Query(baseTime.Add(time.Minute), baseTime.Add(3*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.True(t, snapshots[0].Timestamp.Equal(baseTime.Add(time.Minute)))
	assert.True(t, snapshots[2].Timestamp.Equal(baseTime.Add(3*time.Minute)))
}

func TestQueryLimitKeepsMostRecent(t *testing.T) {
	store, _ := newTestStore(t, fileConfig(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Persist(snapshotAt(baseTime.Add(time.Duration(i)*time.Minute))))
	}

	snapshots, err := store.Query(baseTime, baseTime.Add(time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.True(t, snapshots[0].Timestamp.Equal(baseTime.Add(3*time.Minute)))
	assert.True(t, snapshots[1].Timestamp.Equal(baseTime.Add(4*time.Minute)))
}

func TestQuerySpansDayBuckets(t *testing.T) {
	store, clock := newTestStore(t, fileConfig(t))

	require.NoError(t, store.Persist(snapshotAt(baseTime)))
	clock.T = baseTime.Add(20 * time.Hour)
	require.NoError(t, store.Persist(snapshotAt(clock.T)))

	snapshots, err := store.Query(baseTime, baseTime.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestQuerySkipsCorruptEntries(t *testing.T) {
	config := fileConfig(t)
	store, _ := newTestStore(t, config)

	require.NoError(t, store.Persist(snapshotAt(baseTime)))
	corrupt := filepath.Join(config.StoragePath, "20240501", "metrics_235959.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("not json"), 0644))

	snapshots, err := store.Query(baseTime.Add(-time.Hour), baseTime.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.True(t, snapshots[0].Timestamp.Equal(baseTime))
}

func TestCompressionKeepsNewestEntriesRaw(t *testing.T) {
	config := fileConfig(t)
	config.CompressionEnabled = true
	config.CompressionThreshold = 15
	store, _ := newTestStore(t, config)

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Persist(snapshotAt(baseTime.Add(time.Duration(i)*time.Second))))
	}

	bucket := filepath.Join(config.StoragePath, "20240501")
	assert.Equal(t, 10, countEntries(t, bucket, ".json"))
	assert.Equal(t, 10, countEntries(t, bucket, ".json.gz"))

	// compression must not change what a query returns
	snapshots, err := store.Query(baseTime, baseTime.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 20)
	assert.True(t, snapshots[0].Timestamp.Equal(baseTime))
	assert.True(t, snapshots[19].Timestamp.Equal(baseTime.Add(19*time.Second)))
}

func TestRetentionSweepRemovesExpiredBuckets(t *testing.T) {
	config := fileConfig(t)
	store, clock := newTestStore(t, config)

	notes := filepath.Join(config.StoragePath, "notes")
	require.NoError(t, os.MkdirAll(notes, 0755))

	clock.T = baseTime.Add(-72 * time.Hour)
	require.NoError(t, store.Persist(snapshotAt(clock.T)))
	_, err := os.Stat(filepath.Join(config.StoragePath, "20240428"))
	require.NoError(t, err)

	clock.T = baseTime
	require.NoError(t, store.Persist(snapshotAt(baseTime)))

	_, err = os.Stat(filepath.Join(config.StoragePath, "20240428"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(config.StoragePath, "20240501"))
	assert.NoError(t, err)
	// directories not named like a date are left alone
	_, err = os.Stat(notes)
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	config := fileConfig(t)
	store, clock := newTestStore(t, config)

	require.NoError(t, store.Persist(snapshotAt(baseTime)))
	require.NoError(t, store.Persist(snapshotAt(baseTime.Add(time.Minute))))
	clock.T = baseTime.Add(20 * time.Hour)
	require.NoError(t, store.Persist(snapshotAt(clock.T)))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, "file", stats.Backend)
	assert.Equal(t, config.StoragePath, stats.Path)
	assert.Equal(t, 24.0, stats.RetentionHours)
	assert.Equal(t, 2, stats.Buckets)
	assert.Equal(t, 3, stats.Files)
	assert.Greater(t, stats.TotalSizeBytes, int64(0))
}

func TestCleanupCompressesAndSweeps(t *testing.T) {
	config := fileConfig(t)
	store, clock := newTestStore(t, config)

	clock.T = baseTime.Add(-72 * time.Hour)
	require.NoError(t, store.Persist(snapshotAt(clock.T)))
	clock.T = baseTime
	for i := 0; i < 12; i++ {
		require.NoError(t, store.Persist(snapshotAt(baseTime.Add(time.Duration(i)*time.Second))))
	}

	// the expired bucket was already swept by the later persists, recreate it
	oldBucket := filepath.Join(config.StoragePath, "20240428")
	require.NoError(t, os.MkdirAll(oldBucket, 0755))

	compacting := config
	compacting.CompressionEnabled = true
	compacting.CompressionThreshold = 12
	compactor, err := NewFileStore(compacting, clock)
	require.NoError(t, err)
	require.NoError(t, compactor.Cleanup())

	bucket := filepath.Join(config.StoragePath, "20240501")
	assert.Equal(t, 10, countEntries(t, bucket, ".json"))
	assert.Equal(t, 2, countEntries(t, bucket, ".json.gz"))
	_, err = os.Stat(oldBucket)
	assert.True(t, os.IsNotExist(err))
}

func TestExportRangeJson(t *testing.T) {
	config := fileConfig(t)
	store, _ := newTestStore(t, config)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Persist(snapshotAt(baseTime.Add(time.Duration(i)*time.Minute))))
	}

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, store.ExportRange(path, baseTime, baseTime.Add(time.Hour), FormatJson))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var document struct {
		ExportInfo ExportInfo                 `json:"export_info"`
		Snapshots  []*metrics.MetricsSnapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(data, &document))
	assert.Equal(t, 3, document.ExportInfo.SnapshotCount)
	assert.True(t, document.ExportInfo.ExportTimestamp.Equal(baseTime))
	require.Len(t, document.Snapshots, 3)
	assert.True(t, document.Snapshots[0].Timestamp.Equal(baseTime))
}

func TestExportRangeCsv(t *testing.T) {
	config := fileConfig(t)
	store, _ := newTestStore(t, config)

	require.NoError(t, store.Persist(snapshotAt(baseTime)))
	require.NoError(t, store.Persist(snapshotAt(baseTime.Add(time.Minute))))

	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, store.ExportRange(path, baseTime, baseTime.Add(time.Hour), FormatCsv))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, metrics.CsvHeader(), rows[0])
	assert.Equal(t, "2024-05-01T12:00:00Z", rows[1][0])
	assert.Equal(t, "3", rows[1][1])
	assert.Equal(t, "100", rows[1][3])
}

func TestExportRangeUnknownFormat(t *testing.T) {
	store, _ := newTestStore(t, fileConfig(t))

	err := store.ExportRange(filepath.Join(t.TempDir(), "out"), baseTime, baseTime, "xml")
	assert.Error(t, err)
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	config := fileConfig(t)
	config.StoragePath = ""
	_, err := NewFileStore(config, &util.DummyClock{T: baseTime})
	assert.Error(t, err)
}

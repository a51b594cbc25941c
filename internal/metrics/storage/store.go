package storage

import (
	"time"

	"github.com/pkg/errors"

	"github.com/docmillproject/docmill/internal/common/util"
	"github.com/docmillproject/docmill/internal/docmill/configuration"
	"github.com/docmillproject/docmill/internal/metrics"
)

// Store persists snapshots and serves range queries back out.
type Store interface {
	Persist(snapshot *metrics.MetricsSnapshot) error
	Query(start time.Time, end time.Time, limit int) ([]*metrics.MetricsSnapshot, error)
	ExportRange(path string, start time.Time, end time.Time, format string) error
	Stats() (Stats, error)
	Cleanup() error
}

// Stats summarises what a store currently holds.
type Stats struct {
	Backend            string  `json:"backend"`
	Path               string  `json:"path,omitempty"`
	RetentionHours     float64 `json:"retention_hours"`
	CompressionEnabled bool    `json:"compression_enabled"`
	Buckets            int     `json:"buckets"`
	Files              int     `json:"files"`
	TotalSizeBytes     int64   `json:"total_size_bytes"`
}

// New selects the store implementation for the configured backend.
func New(config configuration.MetricsConfig, clock util.Clock) (Store, error) {
	switch config.StorageBackend {
	case configuration.StorageBackendMemory:
		return NewMemoryStore(config), nil
	case configuration.StorageBackendFile:
		return NewFileStore(config, clock)
	default:
		return nil, errors.Errorf("unknown storage backend %q", config.StorageBackend)
	}
}

// MemoryStore discards snapshots. Recent history already lives in memory in
// the collector, so the memory backend only has to satisfy the Store surface.
type MemoryStore struct {
	config configuration.MetricsConfig
}

func NewMemoryStore(config configuration.MetricsConfig) *MemoryStore {
	return &MemoryStore{config: config}
}

func (s *MemoryStore) Persist(snapshot *metrics.MetricsSnapshot) error {
	return nil
}

func (s *MemoryStore) Query(start time.Time, end time.Time, limit int) ([]*metrics.MetricsSnapshot, error) {
	return nil, nil
}

func (s *MemoryStore) ExportRange(path string, start time.Time, end time.Time, format string) error {
	return errors.New("range export requires the file storage backend")
}

func (s *MemoryStore) Stats() (Stats, error) {
	return Stats{
		Backend:        string(configuration.StorageBackendMemory),
		RetentionHours: s.config.RetentionHours,
	}, nil
}

func (s *MemoryStore) Cleanup() error {
	return nil
}

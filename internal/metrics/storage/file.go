package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/docmillproject/docmill/internal/common/compress"
	"github.com/docmillproject/docmill/internal/common/util"
	"github.com/docmillproject/docmill/internal/docmill/configuration"
	"github.com/docmillproject/docmill/internal/metrics"
)

const (
	bucketDateLayout = "20060102"
	entryTimeLayout  = "150405"

	rawSuffix        = ".json"
	compressedSuffix = ".json.gz"

	// the lexically newest raw entries stay uncompressed so the most recent
	// data remains directly readable on disk
	rawEntriesKept = 10
)

// FileStore keeps one directory per day under the storage root, with one
// snapshot file per entry. Older entries within a day are gzipped once the
// day grows past the compression threshold, whole days are removed once they
// fall out of the retention window.
type FileStore struct {
	root                 string
	retention            time.Duration
	compressionEnabled   bool
	compressionThreshold int
	clock                util.Clock

	// mu serializes bucket mutation against range queries. The compressor
	// reuses internal buffers and must only be used with the write lock held.
	mu           sync.RWMutex
	compressor   compress.Compressor
	decompressor compress.Decompressor
}

func NewFileStore(config configuration.MetricsConfig, clock util.Clock) (*FileStore, error) {
	if config.StoragePath == "" {
		return nil, errors.New("storage path must be set for the file storage backend")
	}
	if err := os.MkdirAll(config.StoragePath, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	return &FileStore{
		root:                 config.StoragePath,
		retention:            time.Duration(config.RetentionHours * float64(time.Hour)),
		compressionEnabled:   config.CompressionEnabled,
		compressionThreshold: config.CompressionThreshold,
		clock:                clock,
		compressor:           compress.NewGzipCompressor(),
		decompressor:         compress.NewThreadSafeGzipDecompressor(),
	}, nil
}

// Persist writes the snapshot into its day bucket, then opportunistically
// compresses that bucket and sweeps expired ones. Compression and sweep
// failures are logged, only the write itself is surfaced to the caller.
func (s *FileStore) Persist(snapshot *metrics.MetricsSnapshot) error {
	if snapshot == nil {
		return nil
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := filepath.Join(s.root, snapshot.Timestamp.Format(bucketDateLayout))
	if err := os.MkdirAll(bucket, 0755); err != nil {
		return errors.WithStack(err)
	}
	name := fmt.Sprintf("metrics_%s%s", snapshot.Timestamp.Format(entryTimeLayout), rawSuffix)
	if err := os.WriteFile(filepath.Join(bucket, name), data, 0644); err != nil {
		return errors.WithStack(err)
	}

	if s.compressionEnabled {
		if err := s.compressBucket(bucket); err != nil {
			log.WithError(err).Warnf("Failed to compress metrics bucket %s", bucket)
		}
	}
	if err := s.sweepExpired(); err != nil {
		log.WithError(err).Warn("Failed to sweep expired metrics buckets")
	}
	return nil
}

// compressBucket gzips every raw entry except the newest few once the bucket
// reaches the configured threshold. Entry names carry the record time, so
// lexical order is chronological order. Must be called with the write lock
// held.
func (s *FileStore) compressBucket(bucket string) error {
	raw, err := filepath.Glob(filepath.Join(bucket, "metrics_*"+rawSuffix))
	if err != nil {
		return errors.WithStack(err)
	}
	if len(raw) < s.compressionThreshold || len(raw) <= rawEntriesKept {
		return nil
	}
	sort.Strings(raw)
	var result *multierror.Error
	for _, path := range raw[:len(raw)-rawEntriesKept] {
		if err := s.compressEntry(path); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *FileStore) compressEntry(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	compressed, err := s.compressor.Compress(data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".gz", compressed, 0644); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Remove(path))
}

// sweepExpired removes whole day buckets older than the retention window.
// Only directories named like a date are considered. Must be called with the
// write lock held.
func (s *FileStore) sweepExpired() error {
	cutoffDay := s.clock.Now().Add(-s.retention).Format(bucketDateLayout)
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return errors.WithStack(err)
	}
	var result *multierror.Error
	for _, entry := range entries {
		if !isBucket(entry) {
			continue
		}
		if entry.Name() >= cutoffDay {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			result = multierror.Append(result, errors.WithStack(err))
			continue
		}
		log.Infof("Removed expired metrics bucket %s", entry.Name())
	}
	return result.ErrorOrNil()
}

// Query returns all stored snapshots with timestamps in [start, end], sorted
// ascending. When limit is positive only the most recent limit snapshots are
// returned. Unreadable entries are logged and skipped, they never fail the
// whole query.
func (s *FileStore) Query(start time.Time, end time.Time, limit int) ([]*metrics.MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets, err := s.bucketsInRange(start, end)
	if err != nil {
		return nil, err
	}
	var snapshots []*metrics.MetricsSnapshot
	var failures *multierror.Error
	for _, bucket := range buckets {
		files, err := os.ReadDir(bucket)
		if err != nil {
			failures = multierror.Append(failures, errors.WithStack(err))
			continue
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			snapshot, err := s.loadEntry(filepath.Join(bucket, file.Name()))
			if err != nil {
				failures = multierror.Append(failures, err)
				continue
			}
			if snapshot == nil {
				continue
			}
			if snapshot.Timestamp.Before(start) || snapshot.Timestamp.After(end) {
				continue
			}
			snapshots = append(snapshots, snapshot)
		}
	}
	if err := failures.ErrorOrNil(); err != nil {
		log.WithError(err).Warn("Skipped unreadable metrics entries during query")
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})
	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[len(snapshots)-limit:]
	}
	return snapshots, nil
}

// bucketsInRange must be called with at least the read lock held.
func (s *FileStore) bucketsInRange(start time.Time, end time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	startDay := start.Format(bucketDateLayout)
	endDay := end.Format(bucketDateLayout)
	var buckets []string
	for _, entry := range entries {
		if !isBucket(entry) {
			continue
		}
		if entry.Name() < startDay || entry.Name() > endDay {
			continue
		}
		buckets = append(buckets, filepath.Join(s.root, entry.Name()))
	}
	sort.Strings(buckets)
	return buckets, nil
}

// loadEntry parses one stored snapshot, transparently decompressing gzipped
// entries. Files that are neither raw nor compressed entries are ignored.
func (s *FileStore) loadEntry(path string) (*metrics.MetricsSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	switch {
	case strings.HasSuffix(path, compressedSuffix):
		if data, err = s.decompressor.Decompress(data); err != nil {
			return nil, errors.Wrapf(err, "failed to decompress %s", path)
		}
	case strings.HasSuffix(path, rawSuffix):
	default:
		return nil, nil
	}
	var snapshot metrics.MetricsSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return &snapshot, nil
}

func (s *FileStore) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Backend:            string(configuration.StorageBackendFile),
		Path:               s.root,
		RetentionHours:     s.retention.Hours(),
		CompressionEnabled: s.compressionEnabled,
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return stats, errors.WithStack(err)
	}
	for _, entry := range entries {
		if !isBucket(entry) {
			continue
		}
		stats.Buckets++
		files, err := os.ReadDir(filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue
		}
		for _, file := range files {
			info, err := file.Info()
			if err != nil {
				continue
			}
			stats.Files++
			stats.TotalSizeBytes += info.Size()
		}
	}
	return stats, nil
}

// Cleanup runs the compression and retention passes over every bucket on
// demand, independent of the persist path.
func (s *FileStore) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	if s.compressionEnabled {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return errors.WithStack(err)
		}
		for _, entry := range entries {
			if !isBucket(entry) {
				continue
			}
			if err := s.compressBucket(filepath.Join(s.root, entry.Name())); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := s.sweepExpired(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func isBucket(entry os.DirEntry) bool {
	if !entry.IsDir() {
		return false
	}
	_, err := time.Parse(bucketDateLayout, entry.Name())
	return err == nil
}

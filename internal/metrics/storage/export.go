package storage

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/docmillproject/docmill/internal/metrics"
)

const (
	FormatJson = "json"
	FormatCsv  = "csv"
)

// ExportInfo describes the range written by an export.
type ExportInfo struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	SnapshotCount   int       `json:"snapshot_count"`
	ExportTimestamp time.Time `json:"export_timestamp"`
}

type exportDocument struct {
	ExportInfo ExportInfo                 `json:"export_info"`
	Snapshots  []*metrics.MetricsSnapshot `json:"snapshots"`
}

// ExportRange writes every stored snapshot in [start, end] to path in the
// given format, json or csv.
func (s *FileStore) ExportRange(path string, start time.Time, end time.Time, format string) error {
	snapshots, err := s.Query(start, end, 0)
	if err != nil {
		return err
	}
	if snapshots == nil {
		snapshots = []*metrics.MetricsSnapshot{}
	}
	switch format {
	case FormatJson:
		info := ExportInfo{
			StartTime:       start,
			EndTime:         end,
			SnapshotCount:   len(snapshots),
			ExportTimestamp: s.clock.Now(),
		}
		return writeJsonExport(path, info, snapshots)
	case FormatCsv:
		return writeCsvExport(path, snapshots)
	default:
		return errors.Errorf("unknown export format %q", format)
	}
}

func writeJsonExport(path string, info ExportInfo, snapshots []*metrics.MetricsSnapshot) error {
	document := exportDocument{ExportInfo: info, Snapshots: snapshots}
	data, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(path, data, 0644))
}

func writeCsvExport(path string, snapshots []*metrics.MetricsSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithStack(err)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(metrics.CsvHeader()); err != nil {
		return errors.WithStack(err)
	}
	for _, snapshot := range snapshots {
		if err := writer.Write(metrics.CsvRecord(snapshot)); err != nil {
			return errors.WithStack(err)
		}
	}
	writer.Flush()
	return errors.WithStack(writer.Error())
}

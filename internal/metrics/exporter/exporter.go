package exporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"

	"github.com/docmillproject/docmill/internal/metrics"
)

const (
	textContentType = "text/plain; version=0.0.4; charset=utf-8"
	jsonContentType = "application/json"

	noMetricsComment = "# No metrics available\n"
	noMetricsJson    = `{"error":"No metrics available"}`

	renderedTextKey = "rendered_text"
	renderCacheTtl  = 10 * time.Second
)

// Exporter renders the current snapshot for scraping. The text exposition
// render is cached briefly to bound render cost under frequent scraping,
// JSON and CSV renders are built per request.
type Exporter struct {
	source   SnapshotSource
	registry *prometheus.Registry
	cache    *cache.Cache
}

// New registers a SnapshotCollector for source on the given registry. Series
// registered on the same registry by other components are served alongside
// the snapshot series.
func New(source SnapshotSource, registry *prometheus.Registry) *Exporter {
	registry.MustRegister(NewSnapshotCollector(source))
	return &Exporter{
		source:   source,
		registry: registry,
		cache:    cache.New(renderCacheTtl, time.Minute),
	}
}

// RenderText renders the registry in the prometheus text exposition format,
// reusing a cached render when one is fresh enough.
func (e *Exporter) RenderText() ([]byte, error) {
	if cached, found := e.cache.Get(renderedTextKey); found {
		if text, ok := cached.([]byte); ok {
			return text, nil
		}
	}
	families, err := e.registry.Gather()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var buffer bytes.Buffer
	encoder := expfmt.NewEncoder(&buffer, expfmt.FmtText)
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	text := buffer.Bytes()
	e.cache.Set(renderedTextKey, text, cache.DefaultExpiration)
	return text, nil
}

// HandleText serves GET /metrics.
func (e *Exporter) HandleText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", textContentType)
	if e.source.GetCurrentSnapshot() == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(noMetricsComment))
		return
	}
	text, err := e.RenderText()
	if err != nil {
		log.WithError(err).Error("Failed to render metrics")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(text)
}

// HandleJson serves GET /metrics/json with the full current snapshot.
func (e *Exporter) HandleJson(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonContentType)
	snapshot := e.source.GetCurrentSnapshot()
	if snapshot == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(noMetricsJson))
		return
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		log.WithError(err).Error("Failed to marshal snapshot")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

// HandleCsv serves GET /metrics/csv with the current snapshot flattened to
// one row.
func (e *Exporter) HandleCsv(w http.ResponseWriter, r *http.Request) {
	snapshot := e.source.GetCurrentSnapshot()
	if snapshot == nil {
		w.Header().Set("Content-Type", jsonContentType)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(noMetricsJson))
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="metrics.csv"`)
	writer := csv.NewWriter(w)
	_ = writer.Write(metrics.CsvHeader())
	_ = writer.Write(metrics.CsvRecord(snapshot))
	writer.Flush()
	if err := writer.Error(); err != nil {
		log.WithError(err).Warn("Failed to write metrics CSV response")
	}
}

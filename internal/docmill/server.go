package docmill

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/docmillproject/docmill/internal/common/health"
	"github.com/docmillproject/docmill/internal/metrics/collector"
	"github.com/docmillproject/docmill/internal/metrics/dashboard"
)

// Handler builds the http surface: scrape endpoints, alert operator actions,
// the dashboard feed and the health check.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	if a.config.Metrics.PrometheusEnabled {
		mux.HandleFunc("/metrics", a.Exporter.HandleText)
		mux.HandleFunc("/metrics/json", a.Exporter.HandleJson)
		mux.HandleFunc("/metrics/csv", a.Exporter.HandleCsv)
	}

	mux.HandleFunc("/api/alerts", a.handleAlertSummary)
	mux.HandleFunc("/api/alerts/acknowledge", a.handleAlertAction(a.AlertManager.Acknowledge))
	mux.HandleFunc("/api/alerts/resolve", a.handleAlertAction(a.AlertManager.Resolve))

	if a.config.Metrics.Dashboard.Enabled {
		mux.Handle("/dashboard/data", dashboard.NewDataHandler(a.Collector, a.clock))
		mux.HandleFunc("/dashboard/ws", a.Hub.HandleWS)
	}

	health.SetupHttpMux(mux, &recordingChecker{collector: a.Collector, inner: a.healthChecks})
	return mux
}

func (a *App) handleAlertSummary(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, a.AlertManager.GetSummary())
}

// handleAlertAction serves the operator acknowledge and resolve actions.
// Unknown or already resolved ids answer 404.
func (a *App) handleAlertAction(action func(id string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJson(w, http.StatusBadRequest, map[string]string{"error": "missing alert id"})
			return
		}
		if !action(id) {
			writeJson(w, http.StatusNotFound, map[string]string{"error": "no active alert with id " + id})
			return
		}
		writeJson(w, http.StatusOK, map[string]string{"id": id, "status": "ok"})
	}
}

func writeJson(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		log.WithError(err).Error("Failed to marshal response")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// recordingChecker folds every health evaluation back into the collector's
// system category before answering.
type recordingChecker struct {
	collector *collector.Collector
	inner     health.Checker
}

func (c *recordingChecker) Check() error {
	err := c.inner.Check()
	if err != nil {
		c.collector.RecordHealthCheck("unhealthy", true)
	} else {
		c.collector.RecordHealthCheck("healthy", false)
	}
	return err
}

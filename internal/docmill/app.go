package docmill

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/docmillproject/docmill/internal/common/health"
	"github.com/docmillproject/docmill/internal/common/util"
	"github.com/docmillproject/docmill/internal/docmill/configuration"
	"github.com/docmillproject/docmill/internal/metrics"
	"github.com/docmillproject/docmill/internal/metrics/alerts"
	"github.com/docmillproject/docmill/internal/metrics/collector"
	"github.com/docmillproject/docmill/internal/metrics/dashboard"
	"github.com/docmillproject/docmill/internal/metrics/exporter"
	"github.com/docmillproject/docmill/internal/metrics/storage"
)

// App owns every subsystem instance. Request handling code receives the
// Collector by reference and records through it, everything else hangs off
// the snapshots it produces.
type App struct {
	config *configuration.DocmillConfig

	Collector    *collector.Collector
	AlertManager *alerts.Manager
	Store        storage.Store
	Exporter     *exporter.Exporter
	Hub          *dashboard.Hub

	clock        util.Clock
	registry     *prometheus.Registry
	healthChecks *health.MultiChecker
}

// New constructs and wires all subsystems but starts nothing.
func New(config *configuration.DocmillConfig) (*App, error) {
	clock := &util.DefaultClock{}
	registry := prometheus.NewRegistry()

	var probe collector.ResourceProbe
	if config.Metrics.Enabled {
		systemProbe, err := collector.NewSystemResourceProbe(clock)
		if err != nil {
			return nil, err
		}
		probe = systemProbe
	}
	metricsCollector := collector.New(config.Metrics, probe, clock, registry)

	store, err := storage.New(config.Metrics, clock)
	if err != nil {
		return nil, err
	}

	alertManager := alerts.NewManager(config.Metrics, metricsCollector, clock, registry)
	alertManager.AddHandler(&alerts.LogHandler{})
	if url := config.Metrics.Alerting.WebhookUrl; url != "" {
		alertManager.AddHandler(alerts.NewWebhookHandler(url))
	}

	metricsExporter := exporter.New(metricsCollector, registry)
	hub := dashboard.NewHub(metricsCollector)

	// Every produced snapshot is persisted, then pushed to dashboard viewers.
	// Persistence failures are logged and swallowed so the collection loop
	// keeps running on whatever history remains in memory.
	metricsCollector.Subscribe(func(snapshot *metrics.MetricsSnapshot) {
		if err := store.Persist(snapshot); err != nil {
			log.WithError(err).Error("Failed to persist metrics snapshot")
		}
	})
	if config.Metrics.Dashboard.Enabled {
		metricsCollector.Subscribe(hub.Broadcast)
	}

	return &App{
		config:       config,
		Collector:    metricsCollector,
		AlertManager: alertManager,
		Store:        store,
		Exporter:     metricsExporter,
		Hub:          hub,
		clock:        clock,
		registry:     registry,
		healthChecks: health.NewMultiChecker(metricsCollector, alertManager),
	}, nil
}

// Run starts the collection and alert evaluation loops and serves the HTTP
// surface until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	log.Info("Docmill metrics subsystem starting")
	defer log.Info("Docmill metrics subsystem shutting down")

	// Run all services within an errgroup so a server failure propagates.
	// Defer cancelling the parent context to ensure the errgroup is cancelled
	// on return.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	a.Collector.Start()
	defer a.Collector.Stop()
	a.AlertManager.Start()
	defer a.AlertManager.Stop()
	defer a.Hub.Close()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.HttpPort),
		Handler: a.Handler(),
	}
	g.Go(func() error {
		log.Infof("Docmill http server listening on %d", a.config.HttpPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

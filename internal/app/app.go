// Package app wires configuration into the pipeline's components.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/cache"
	"github.com/trailblaze-app/trailblaze-scraper/internal/clock/system"
	"github.com/trailblaze-app/trailblaze-scraper/internal/config"
	"github.com/trailblaze-app/trailblaze-scraper/internal/enrich"
	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
	fetchercolly "github.com/trailblaze-app/trailblaze-scraper/internal/fetcher/colly"
	"github.com/trailblaze-app/trailblaze-scraper/internal/geocode"
	"github.com/trailblaze-app/trailblaze-scraper/internal/id/uuid"
	"github.com/trailblaze-app/trailblaze-scraper/internal/logging"
	"github.com/trailblaze-app/trailblaze-scraper/internal/metrics"
	"github.com/trailblaze-app/trailblaze-scraper/internal/orchestrator"
	"github.com/trailblaze-app/trailblaze-scraper/internal/parser/aerc"
	"github.com/trailblaze-app/trailblaze-scraper/internal/queue/memory"
	"github.com/trailblaze-app/trailblaze-scraper/internal/ratelimit"
	"github.com/trailblaze-app/trailblaze-scraper/internal/repository/postgres"
	"github.com/trailblaze-app/trailblaze-scraper/internal/scheduler"
)

// triggerQueueCapacity bounds pending location-change notifications.
// Overflow is harmless: the batch geocode pass catches up.
const triggerQueueCapacity = 256

// App holds the wired components for one process.
type App struct {
	Config *config.Config
	Log    *zap.Logger
	Clock  events.Clock

	Repo          *postgres.Repository
	Orchestrator  *orchestrator.Orchestrator
	GeocodeWorker *geocode.Worker
	EnrichWorker  *enrich.Worker
	Scheduler     *scheduler.Scheduler

	metricsServer *http.Server
}

// New loads configuration and builds the full pipeline. Callers must
// Close the returned App.
func New(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging.Development || cfg.Scraper.Debug)
	if err != nil {
		return nil, err
	}

	metrics.Init()
	clk := system.New()

	store, err := cache.New(cfg.Cache.Dir, clk, log)
	if err != nil {
		return nil, fmt.Errorf("open content cache: %w", err)
	}

	limiter := ratelimit.New(cfg.HTTP.RequestsPerSecond, cfg.HTTP.Burst, log)
	policy := fetchercolly.RetryPolicy{
		MaxRetries: cfg.HTTP.MaxRetries,
		BaseDelay:  cfg.HTTP.BaseDelay,
		MaxDelay:   cfg.HTTP.MaxDelay,
	}

	pageFetcher := fetchercolly.New(store, limiter, fetchercolly.Options{
		UserAgent:      cfg.HTTP.UserAgent,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Policy:         policy,
		ForceRefresh:   cfg.Scraper.Refresh,
	}, log)

	// Nominatim requires an identifying user agent, so the geocode
	// traffic gets its own fetcher on the same limiter and cache.
	geoFetcher := fetchercolly.New(store, limiter, fetchercolly.Options{
		UserAgent:      cfg.Geocoding.UserAgent,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Policy:         policy,
	}, log)

	repo, err := postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, clk, log)
	if err != nil {
		return nil, err
	}
	triggers := memory.New(triggerQueueCapacity)
	repo = repo.WithTriggerQueue(triggers)

	geocoder, err := buildGeocoder(cfg, geoFetcher)
	if err != nil {
		repo.Close()
		return nil, err
	}

	orch := orchestrator.New(
		pageFetcher,
		aerc.New(log),
		events.NewNormalizer(log),
		repo,
		clk,
		uuid.NewGenerator(),
		orchestrator.Options{
			CalendarURL:    cfg.Scraper.CalendarURL,
			AjaxURL:        cfg.Scraper.AjaxURL,
			PageTTL:        cfg.Cache.HTMLTTL,
			RunDeadline:    cfg.Scraper.RunDeadline,
			UpsertWorkers:  cfg.Scraper.UpsertWorkers,
			MaxInvalidRows: cfg.Scraper.MaxInvalidRows,
			ValidateOnly:   cfg.Scraper.ValidateOnly,
		},
		log,
	)

	app := &App{
		Config:        cfg,
		Log:           log,
		Clock:         clk,
		Repo:          repo,
		Orchestrator:  orch,
		GeocodeWorker: geocode.NewWorker(repo, geocoder, triggers, cfg.Geocoding.Provider, cfg.Geocoding.BatchSize, log),
		EnrichWorker: enrich.NewWorker(repo, pageFetcher,
			enrich.NewGemini(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout),
			clk, cfg.Gemini.BatchSize, cfg.Gemini.MaxChars, log),
		Scheduler: scheduler.New(log),
	}

	if cfg.Metrics.Enabled {
		app.startMetricsServer()
	}
	return app, nil
}

func buildGeocoder(cfg *config.Config, fetcher events.Fetcher) (events.Geocoder, error) {
	switch cfg.Geocoding.Provider {
	case "nominatim":
		return geocode.NewNominatim(fetcher, cfg.Cache.GeocodeTTL), nil
	case "google":
		return geocode.NewGoogle(fetcher, cfg.Geocoding.APIKey, cfg.Cache.GeocodeTTL), nil
	default:
		return nil, fmt.Errorf("geocoding provider %q is not supported", cfg.Geocoding.Provider)
	}
}

func (a *App) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsServer = &http.Server{Addr: a.Config.Metrics.Addr, Handler: mux}
	go func() {
		a.Log.Info("metrics listener starting", zap.String("addr", a.Config.Metrics.Addr))
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Log.Error("metrics listener failed", zap.Error(err))
		}
	}()
}

// Close shuts down the app's long-lived resources.
func (a *App) Close() {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Log.Warn("metrics listener shutdown", zap.Error(err))
		}
	}
	if a.Repo != nil {
		a.Repo.Close()
	}
	_ = a.Log.Sync()
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/globe-weather-grid/internal/api/http"
	"github.com/i474232898/globe-weather-grid/internal/config"
	"github.com/i474232898/globe-weather-grid/internal/fetch"
	"github.com/i474232898/globe-weather-grid/internal/globe"
	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/metrics"
	"github.com/i474232898/globe-weather-grid/internal/preload"
	"github.com/i474232898/globe-weather-grid/internal/scheduler"
	"github.com/i474232898/globe-weather-grid/internal/store"
	"github.com/i474232898/globe-weather-grid/internal/visibility"
	"github.com/i474232898/globe-weather-grid/internal/weather"
	"github.com/i474232898/globe-weather-grid/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{}).WithError(err).Error("failed to load config")
		os.Exit(1)
	}

	lg := logger.New(logger.Options{Level: cfg.LogLevel, Env: cfg.LogEnv, File: cfg.LogFile})
	if cfg.DotEnvErr != nil {
		lg.WithError(cfg.DotEnvErr).Info("no .env file loaded, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	medium, closeMedium, err := openMedium(ctx, cfg)
	if err != nil {
		lg.WithError(err).Error("failed to open cache medium")
		return
	}
	defer closeMedium()
	lg.WithField("backend", cfg.CacheBackend).Info("cache medium ready")

	cache := store.NewAggregateCache(medium, lg.WithField("component", "cache"),
		store.WithTTL(cfg.CacheTTL), store.WithMetrics(m))

	// Current-conditions providers with resilience (backoff + circuit breaker).
	openMeteo := providers.NewOpenMeteoProvider(httpClient, "")
	provs := []weather.Provider{openMeteo}
	if cfg.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey, ""))
	}
	if cfg.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey, ""))
	}

	var geo weather.Geocoder
	if g, err := providers.NewGoogleGeocoder(cfg.GeocoderAPIKey); err == nil {
		geo = g
	} else {
		lg.Info("GEOCODER_API_KEY not set; city forecasts are disabled")
	}

	service := weather.NewService(provs, openMeteo, geo, lg)
	preloader := preload.New(service, preload.Options{TTL: cfg.PreloadTTL}, lg)

	sessions := globe.NewRegistry(globe.Config{
		Archive: providers.NewOpenMeteoArchive(httpClient, cfg.ArchiveURL),
		Cache:   cache,
		Visibility: visibility.Options{
			MaxCameraDistance: cfg.MaxCameraDistance,
			MinInterval:       cfg.MinVisibilityInterval,
		},
		Fetch: fetch.Options{
			Concurrency:    cfg.FetchConcurrency,
			MaxPerPass:     cfg.FetchMaxPerPass,
			BatchDelay:     cfg.FetchBatchDelay,
			RequestTimeout: cfg.RequestTimeout,
		},
		MaxCells: cfg.MaxCells,
	}, lg, m)
	defer sessions.Close()

	// Maintenance: reap idle sessions and purge expired cache entries.
	sched := scheduler.New(sessions, cache, scheduler.Options{
		ReapInterval:  cfg.ReapInterval,
		SessionIdle:   cfg.SessionIdle,
		PurgeInterval: cfg.PurgeInterval,
	}, lg)
	if err := sched.Start(); err != nil {
		lg.WithError(err).Error("failed to start scheduler")
		return
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "globe-weather-grid",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler(lg),
	})

	// Global middleware
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"service":  "globe-weather-grid",
			"sessions": sessions.Len(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Sessions: sessions,
		Weather:  service,
		Preload:  preloader,
	})

	go func() {
		lg.WithField("port", cfg.Port).Info("listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			lg.WithError(err).Error("fiber server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.WithError(err).Error("error during shutdown")
	}
}

// openMedium connects the configured cache backend.
func openMedium(ctx context.Context, cfg *config.AppConfig) (store.Medium, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		r, err := store.NewRedisMedium(ctx, store.RedisOptions{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPass,
			DB:         cfg.RedisDB,
			Expiration: cfg.CacheTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case config.CachePostgres:
		p, err := store.NewPostgresMedium(ctx, store.PostgresOptions{
			DSN:             cfg.PostgresDSN,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		return store.NewMemoryMedium(), func() {}, nil
	}
}

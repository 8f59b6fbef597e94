package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/openapi"
	"github.com/hms/hms/internal/platform/telemetry"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// deps holds everything the HTTP layer needs. pool is nil for STORE=memory.
type deps struct {
	pool    *pgxpool.Pool
	svc     *scheduling.Service
	metrics *telemetry.Registry
	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// buildDeps wires the store, cache and event publisher selected by cfg.
// Redis and RabbitMQ are optional: when their URL is set but unreachable the
// server starts without them and logs a warning.
func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	d := &deps{metrics: telemetry.NewRegistry()}
	d.metrics.Describe(scheduling.MetricBookings, "Booking requests by outcome.")
	d.metrics.Describe(scheduling.MetricCancellations, "Cancellations by outcome.")
	opts := []scheduling.Option{scheduling.WithLogger(logger), scheduling.WithMetrics(d.metrics)}

	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, availability cache disabled")
		} else {
			d.closers = append(d.closers, func() { _ = client.Close() })
			opts = append(opts, scheduling.WithCache(cache.NewRedisCache(client, cfg.AvailabilityCacheTTL)))
			logger.Info().Dur("ttl", cfg.AvailabilityCacheTTL).Msg("availability cache enabled")
		}
	}

	if cfg.AMQPURL != "" {
		conn, err := events.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Warn().Err(err).Msg("amqp unavailable, scheduling events disabled")
		} else {
			pub, err := events.NewPublisher(conn, cfg.EventsQueue)
			if err != nil {
				_ = conn.Close()
				d.Close()
				return nil, err
			}
			d.closers = append(d.closers, func() {
				_ = pub.Close()
				_ = conn.Close()
			})
			opts = append(opts, scheduling.WithEvents(pub))
			logger.Info().Str("queue", cfg.EventsQueue).Msg("publishing scheduling events")
		}
	}

	switch cfg.Store {
	case config.StoreMemory:
		store := scheduling.NewMemoryStore()
		d.svc = scheduling.NewService(store.Availability(), store.Appointments(), store, opts...)
		logger.Warn().Msg("using in-memory store; data is lost on restart")
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		d.pool = pool
		d.closers = append(d.closers, pool.Close)
		d.svc = scheduling.NewService(
			scheduling.NewAvailabilityRepoPG(pool),
			scheduling.NewAppointmentRepoPG(pool),
			db.NewTxManager(pool),
			opts...,
		)
		logger.Info().Msg("connected to database")
	}
	return d, nil
}

// newEcho builds the HTTP server. clock supplies "today" for the week views.
func newEcho(cfg *config.Config, logger zerolog.Logger, d *deps, clock scheduling.Clock) (*echo.Echo, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(d.metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Auth middleware
	if cfg.IsDev() && key == nil {
		logger.Warn().Msg("DevAuthMiddleware is active; unauthenticated requests get admin access")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: key,
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"store":   cfg.Store,
		})
	})
	if d.pool != nil {
		e.GET("/health/db", db.HealthHandler(d.pool))
	}
	e.GET("/metrics", d.metrics.PrometheusHandler())

	apiV1 := e.Group("/api/v1")
	schedHandler := scheduling.NewHandler(d.svc, clock, loc)
	schedHandler.RegisterRoutes(apiV1)

	docs := openapi.NewGenerator("Hospital Scheduling API", version, fmt.Sprintf("http://localhost:%s", cfg.Port))
	docs.Add("/api/v1", schedHandler)
	for name, schema := range scheduling.Schemas() {
		docs.AddSchema(name, schema)
	}
	docs.RegisterRoutes(e)

	return e, nil
}

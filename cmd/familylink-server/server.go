package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ehr/familylink/internal/config"
	"github.com/ehr/familylink/internal/domain/directory"
	"github.com/ehr/familylink/internal/domain/linkflow"
	"github.com/ehr/familylink/internal/domain/relationship"
	"github.com/ehr/familylink/internal/platform/auth"
	"github.com/ehr/familylink/internal/platform/db"
	"github.com/ehr/familylink/internal/platform/events"
	"github.com/ehr/familylink/internal/platform/httpx"
	"github.com/ehr/familylink/internal/platform/metrics"
	"github.com/ehr/familylink/internal/platform/middleware"
)

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "familylink").Logger()
}

// app is the assembled service, ready to serve.
type app struct {
	echo     *echo.Echo
	service  *relationship.Service
	registry *linkflow.Registry
	sweeper  *relationship.Sweeper
}

func newApp(cfg *config.Config, be *backend, pub relationship.Publisher, logger zerolog.Logger, reg *prometheus.Registry) (*app, error) {
	m := metrics.New(reg)

	svc := relationship.NewService(be.store)
	svc.SetLogger(logger)
	svc.SetMetrics(m)
	if pub != nil {
		svc.SetPublisher(pub)
	}

	search := directory.NewBreakerDirectory(be.directory, directory.BreakerSettings{
		FailureThreshold: cfg.BreakerFailures,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		Logger:           logger,
	})

	registry := linkflow.NewRegistry(cfg.LinkSessionTTL, func(ownerID uuid.UUID) *linkflow.Workflow {
		return linkflow.New(ownerID, search, svc, linkflow.WithLogger(logger), linkflow.WithMetrics(m))
	}, m)

	var sweeper *relationship.Sweeper
	if cfg.OrphanSweepSchedule != "" {
		sweeper = relationship.NewSweeper(svc, be.directory, logger)
		sweeper.SetScope(be.scope(cfg.DefaultTenant))
		if err := sweeper.Schedule(cfg.OrphanSweepSchedule); err != nil {
			return nil, err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = httpx.NewValidator()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", be.health)
	e.GET("/metrics", metrics.Handler(reg))

	api := e.Group("/api/v1")
	api.Use(middleware.BodyLimit(cfg.BodyLimit))
	api.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" {
		logger.Warn().Msg("development auth is active: every request is treated as admin")
		api.Use(auth.DevAuthMiddleware(cfg.DefaultTenant))
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rl))
	if be.pool != nil {
		api.Use(db.TenantMiddleware(be.pool, cfg.DefaultTenant))
	}

	directory.NewHandler(search, be.directory).RegisterRoutes(api)
	relationship.NewHandler(svc).RegisterRoutes(api)
	linkflow.NewHandler(registry).RegisterRoutes(api)

	return &app{echo: e, service: svc, registry: registry, sweeper: sweeper}, nil
}

// newPublisher picks Redis when configured and the log otherwise.
func newPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (relationship.Publisher, func(), error) {
	if cfg.RedisURL == "" {
		return events.NewLogPublisher(logger), func() {}, nil
	}
	p, err := events.NewRedisPublisher(ctx, cfg.RedisURL, cfg.EventsChannel, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { p.Close() }, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	be, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.DBDriver).Msg("failed to open database")
		return err
	}
	defer be.Close()
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to database")

	pub, closePub, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to event broker")
		return err
	}
	defer closePub()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, be, pub, logger, reg)
	if err != nil {
		return err
	}
	if a.sweeper != nil {
		a.sweeper.Start()
		defer a.sweeper.Stop()
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Int("open_sessions", a.registry.Len()).Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

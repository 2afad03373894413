package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/carelane/clinic-api/internal/api/router"
	"github.com/carelane/clinic-api/internal/appointments"
	"github.com/carelane/clinic-api/internal/availability"
	"github.com/carelane/clinic-api/internal/catalog"
	appconfig "github.com/carelane/clinic-api/internal/config"
	"github.com/carelane/clinic-api/internal/identity"
	"github.com/carelane/clinic-api/internal/notify"
	"github.com/carelane/clinic-api/internal/observability/metrics"
	"github.com/carelane/clinic-api/internal/tokens"
	"github.com/carelane/clinic-api/pkg/logging"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting clinic-api server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		catalogRepo  catalog.Repository
		hoursRepo    availability.HoursRepository
		apptRepo     appointments.Repository
		patientRepo  identity.Repository
		tokenStore   tokens.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("failed to ping postgres", "error", err)
			os.Exit(1)
		}
		catalogRepo = catalog.NewPostgresRepository(pool)
		hoursRepo = availability.NewPostgresHours(pool)
		apptRepo = appointments.NewPostgresRepository(pool)
		patientRepo = identity.NewPostgresRepository(pool)
		tokenStore = tokens.NewPostgresStore(pool)
		logger.Info("using postgres storage")
	} else {
		catalogRepo = catalog.NewInMemoryRepository()
		hoursRepo = availability.NewInMemoryHours()
		apptRepo = appointments.NewInMemoryRepository()
		patientRepo = identity.NewInMemoryRepository()
		tokenStore = tokens.NewInMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	schedMetrics := metrics.NewSchedulingMetrics(nil)

	engine := availability.NewEngine(catalogRepo, hoursRepo, apptRepo, cfg.DefaultSlotMinutes)
	patients := identity.NewService(patientRepo, logger)
	gateway := tokens.NewGateway(tokenStore, logger)

	svc := appointments.NewService(apptRepo, catalogRepo, engine, patients, gateway, logger).
		WithMetrics(schedMetrics)

	// Booking velocity limits need Redis; without it they are skipped.
	if cfg.RedisAddr != "" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient := redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()

		velocityCfg := appointments.VelocityConfig{
			MaxBookingsPerPhone: cfg.MaxBookingsPerPhone,
			Window:              cfg.BookingWindow,
			Enabled:             true,
		}
		svc = svc.WithVelocity(appointments.NewVelocityChecker(redisClient, velocityCfg, logger))
		logger.Info("booking velocity limits enabled",
			"maxPerPhone", cfg.MaxBookingsPerPhone,
			"window", cfg.BookingWindow.String(),
		)
	} else {
		logger.Warn("REDIS_ADDR not set, booking velocity limits disabled")
	}

	// Email: SendGrid when configured, stub sender otherwise.
	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
		logger.Info("email notifications enabled via SendGrid")
	} else {
		emailSender = notify.NewStubEmailSender(logger)
		logger.Warn("SENDGRID_API_KEY not set, using stub email sender")
	}
	svc = svc.WithEmail(emailSender, notify.NewBuilder(cfg.PublicBaseURL))

	if cfg.StaffJWTSecret == "" {
		logger.Warn("STAFF_JWT_SECRET not set, staff endpoints will reject all requests")
	}

	r := router.New(&router.Config{
		Logger:              logger,
		CatalogHandler:      catalog.NewHandler(catalogRepo, logger),
		AvailabilityHandler: availability.NewHandler(engine, schedMetrics, logger),
		BookingHandler:      appointments.NewHandler(svc, logger),
		StaffHandler:        appointments.NewStaffHandler(svc, logger),
		StaffJWTSecret:      cfg.StaffJWTSecret,
		MetricsHandler:      promhttp.Handler(),
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		GuestRatePerSecond:  cfg.GuestRatePerSecond,
		GuestRateBurst:      cfg.GuestRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

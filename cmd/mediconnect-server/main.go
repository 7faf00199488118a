package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mediconnect/mediconnect/internal/config"
	"github.com/mediconnect/mediconnect/internal/domain/appointment"
	"github.com/mediconnect/mediconnect/internal/domain/doctor"
	"github.com/mediconnect/mediconnect/internal/domain/slot"
	"github.com/mediconnect/mediconnect/internal/domain/user"
	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/clock"
	"github.com/mediconnect/mediconnect/internal/platform/db"
	"github.com/mediconnect/mediconnect/internal/platform/lock"
	"github.com/mediconnect/mediconnect/internal/platform/middleware"
	"github.com/mediconnect/mediconnect/internal/platform/notification"
	"github.com/mediconnect/mediconnect/internal/platform/openapi"
	"github.com/mediconnect/mediconnect/internal/platform/telemetry"
	"github.com/mediconnect/mediconnect/internal/platform/validate"
	"github.com/mediconnect/mediconnect/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mediconnect-server",
		Short: "Appointment slots and same-day queue API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg != nil && cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level := zerolog.InfoLevel
	if cfg != nil {
		if l, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && l != zerolog.NoLevel {
			level = l
		}
	}
	return logger.Level(level)
}

// loadConfig loads and validates configuration for commands that talk to the
// database.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func poolOptions(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.DBTimeout,
	}
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		SigningKey:     []byte(cfg.AuthSigningKey),
		Issuer:         cfg.AuthIssuer,
		Audience:       cfg.AuthAudience,
		AllowAnonymous: true,
	}
}

func runServer() error {
	// Config
	cfg, err := loadConfig()
	if err != nil {
		newLogger(nil).Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	logger := newLogger(cfg)

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	// Booking lock
	readiness := map[string]db.Pinger{}
	var locker lock.Locker = lock.Noop{}
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		redisLocker := lock.NewRedisLocker(client, cfg.BookingLockTTL, cfg.BookingLockWait)
		locker = redisLocker
		readiness["redis"] = redisLocker
		logger.Info().Msg("booking lock backed by redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set, booking relies on the database lock only")
	}

	// Repositories
	users := user.NewRepoPG(pool, cfg.DBTimeout)
	doctorRepo := doctor.NewRepoPG(pool, cfg.DBTimeout)
	ruleRepo := slot.NewRepoPG(pool, cfg.DBTimeout)
	apptRepo := appointment.NewRepoPG(pool, cfg.DBTimeout)
	contacts := user.NewDirectory(users)

	// Notifications
	hub := websocket.NewHub(logger)
	templates := notification.NewTemplateEngine()
	sinks := []notification.Sink{notification.NewHubSink(hub), notification.NewLogSink(logger)}
	if cfg.SMTPEnabled() {
		sender := notification.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		sinks = append(sinks, notification.NewMailSink(sender, contacts, templates))
	}
	if cfg.TwilioEnabled() {
		sender := notification.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		sinks = append(sinks, notification.NewSMSSink(sender, contacts, templates))
	}
	dispatcher := notification.NewDispatcher(cfg.NotifyBuffer, logger, sinks...)
	dispatcher.Start(ctx)

	metrics := telemetry.New()

	// Services
	doctors := doctor.NewService(doctorRepo)
	slots := slot.NewService(ruleRepo, doctors, clk, cfg.BookingWindowDays)
	deps := appointment.Deps{
		Appointments: apptRepo,
		Rules:        ruleRepo,
		Sessions:     slots,
		Doctors:      doctors,
		Locker:       locker,
		Tx:           db.NewTransactor(pool, cfg.DBTimeout),
		Events:       dispatcher,
		Contacts:     contacts,
		Metrics:      metrics,
		SheetFont:    cfg.QueueSheetFont,
		Clock:        clk,
		Logger:       logger,
	}
	booking := appointment.NewBookingService(deps)
	queue := appointment.NewQueueService(deps)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M"))

	// Auth middleware
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled, X-User-ID headers are trusted")
		e.Use(auth.DevAuthMiddleware(jwtConfig(cfg)))
	} else {
		e.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	// Health checks stay outside the rate-limited group
	db.RegisterHealthRoutes(e.Group("/api/v1"), pool, readiness)
	e.GET("/metrics", metrics.Handler(pool))

	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	doctor.NewHandler(doctors).RegisterRoutes(apiV1)
	slot.NewHandler(slots).RegisterRoutes(apiV1)
	appointment.NewHandler(booking, queue).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	docs := openapi.NewGenerator(e, "MediConnect API", "1.0.0", "/api/v1")
	for _, path := range []string{
		"/api/v1/health/live",
		"/api/v1/health/ready",
		"/api/v1/doctors",
		"/api/v1/doctors/:doctorId",
		"/api/v1/slots/doctor/:doctorId",
		"/api/v1/slots/available/:doctorId",
		"/api/v1/openapi.json",
	} {
		docs.Public(http.MethodGet, path)
	}
	docs.RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", cfg.Timezone).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	dispatcher.Stop()
	logger.Info().Msg("server stopped")
	return nil
}

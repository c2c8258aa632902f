package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	database "github.com/saldiviabuses/erp-server/app/db"
	appLogger "github.com/saldiviabuses/erp-server/app/logger"
	"github.com/saldiviabuses/erp-server/app/observability/metrics"
	"github.com/saldiviabuses/erp-server/app/tracer"
	"github.com/saldiviabuses/erp-server/config"
	"github.com/saldiviabuses/erp-server/internal/api/audit"
	"github.com/saldiviabuses/erp-server/internal/api/auth"
	"github.com/saldiviabuses/erp-server/internal/api/dashboard"
	"github.com/saldiviabuses/erp-server/internal/api/system"
	"github.com/saldiviabuses/erp-server/internal/api/user"
	"github.com/saldiviabuses/erp-server/internal/router"
	"github.com/saldiviabuses/erp-server/internal/seed"
)

const sessionSweepInterval = time.Hour

func main() {
	// Use standard log until slog is configured, in case godotenv fails.
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := setupLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Observability ---
	tracer.InitTracingAndMetrics(cfg.Handlers.Prometheus.Port)
	metrics.InitAppMetrics()

	// --- Database Setup ---
	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}

	// Database trouble is not fatal: the break-glass identity authenticates
	// from configuration alone, and every other request fails closed per
	// request until the database is back.
	if err = database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
		logger.Warn("Failed to run database migrations, continuing without them", slog.Any("error", err))
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if database.WaitForDB(ctx, pool, logger) {
		if err = seed.New(pool, &cfg, logger).Run(ctx); err != nil {
			logger.Warn("Startup seeding failed", slog.Any("error", err))
		}
	} else {
		logger.Warn("Database not reachable at startup, serving break-glass access only until it recovers")
	}

	// --- Dependency Injection ---
	authRepo := auth.NewPostgresAuthRepo(pool, logger)
	authService := auth.NewAuthService(authRepo, cfg, logger)
	authHandler := auth.NewHandlerImpl(authService, logger)

	auditRepo := audit.NewPostgresAuditRepo(pool, logger)

	fallbackStore := user.NewFallbackStore(cfg.Auth.Breakglass.ProfileFile, logger)
	authService.SetBreakglassOverlay(fallbackStore)

	userRepo := user.NewPostgresUserRepo(pool, logger)
	userService := user.NewUserService(userRepo, auditRepo, fallbackStore, logger)
	userHandler := user.NewHandlerImpl(userService, logger)

	systemRepo := system.NewPostgresSystemRepo(pool, logger)
	systemHandler := system.NewHandlerImpl(systemRepo, auditRepo, logger)

	dashboardHandler := dashboard.NewHandlerImpl(logger)

	go sweepExpiredSessions(ctx, authRepo, logger)

	// --- Router Setup ---
	apiRouter := router.SetupRouter(&router.Config{
		Logger:           logger,
		AuthHandler:      authHandler,
		AuthService:      authService,
		UserHandler:      userHandler,
		SystemHandler:    systemHandler,
		DashboardHandler: dashboardHandler,
	})

	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(appLogger.StructuredLogger(logger))
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.StripSlashes)
	mux.Use(middleware.Timeout(60 * time.Second))
	mux.Use(middleware.Compress(5, "application/json"))
	mux.Mount("/", apiRouter)

	// --- HTTP Server ---
	serverAddress := fmt.Sprintf(":%s", cfg.Server.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddress,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("address", serverAddress))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server ListenAndServe error", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
	} else {
		logger.Info("HTTP server gracefully stopped")
	}

	logger.Info("Application shut down complete.")
}

// sweepExpiredSessions periodically removes expired session rows so the
// sessions table does not grow without bound.
func sweepExpiredSessions(ctx context.Context, repo auth.AuthRepo, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.DeleteExpiredSessions(ctx, time.Now())
			if err != nil {
				logger.Warn("Expired session sweep failed", slog.Any("error", err))
				continue
			}
			if deleted > 0 {
				logger.Info("Expired sessions removed", slog.Int64("count", deleted))
			}
		}
	}
}

// setupLogger configures and returns the application logger.
func setupLogger() *slog.Logger {
	var logger *slog.Logger
	env := os.Getenv("APP_ENV")

	if env == "development" || env == "" {
		tintOpts := &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}
		logger = slog.New(tint.NewHandler(os.Stdout, tintOpts))
		log.Println("Initialized development logger (tint)")
	} else {
		jsonOpts := &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: false,
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, jsonOpts))
		log.Println("Initialized production logger (JSON)")
	}
	return logger
}

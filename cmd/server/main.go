package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/tutorbook/internal"
	"github.com/DukeRupert/tutorbook/internal/billing"
	"github.com/DukeRupert/tutorbook/internal/handler"
	"github.com/DukeRupert/tutorbook/internal/metrics"
	"github.com/DukeRupert/tutorbook/internal/middleware"
	"github.com/DukeRupert/tutorbook/internal/plans"
	"github.com/DukeRupert/tutorbook/internal/repository"
	"github.com/DukeRupert/tutorbook/internal/scheduler"
	"github.com/DukeRupert/tutorbook/internal/service"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Run migrations over database/sql; the pgx pool below serves queries
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := internal.RunMigrations(db); err != nil {
		db.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	db.Close()

	pool, err := repository.Connect(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database pool failed: %w", err)
	}
	defer pool.Close()
	logger.Info("Database ready")

	// Initialize repository
	store := repository.New(pool)

	// Load plan catalog
	catalog := plans.Default()
	if cfg.PlanCatalogPath != "" {
		catalog, err = plans.Load(cfg.PlanCatalogPath)
		if err != nil {
			return fmt.Errorf("plan catalog failed: %w", err)
		}
		logger.Info("Plan catalog loaded", "path", cfg.PlanCatalogPath)
	}

	// Initialize billing (optional; webhook routes degrade to a stub without it)
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, catalog, catalog.PriceIDs())
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing disabled: STRIPE_SECRET_KEY not set")
	}

	// Initialize services
	accountService := service.NewAccountService(store, logger)
	bookingService := service.NewBookingService(store, store, store, logger)
	reconcilerService := service.NewReconcilerService(store, catalog, logger)

	// Weekly reset scheduler
	schedCfg := scheduler.DefaultConfig()
	schedCfg.BatchSize = cfg.SchedulerBatchSize
	sched, err := scheduler.New(store, catalog, schedCfg, logger)
	if err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	intakeLimiter := middleware.NewRateLimitMiddleware(
		middleware.NewRateLimiter(10, time.Hour, logger), logger)

	// Initialize handlers
	accountHandler := handler.NewAccountHandler(accountService, logger)
	bookingHandler := handler.NewBookingHandler(bookingService, logger)
	billingHandler := handler.NewBillingHandler(billingService, accountService, cfg.BaseURL, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, reconcilerService, accountService, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics (basic auth when configured)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Account intake is rate limited per client IP
	mux.Handle("POST /api/accounts", intakeLimiter.Limit(http.HandlerFunc(accountHandler.CreateAccount)))
	mux.HandleFunc("GET /api/account", accountHandler.GetAccount)

	bookingHandler.RegisterRoutes(mux)
	billingHandler.RegisterRoutes(mux)
	webhookHandler.RegisterRoutes(mux)

	root := middleware.Stack(securityMw.Handler, loggingMw.Handler, metrics.Middleware)(mux)

	// ==========================================================================
	// Start server and scheduler
	// ==========================================================================

	if cfg.SchedulerEnabled {
		sched.Start(ctx)
		defer sched.Stop()
	} else {
		logger.Info("Weekly reset scheduler disabled")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

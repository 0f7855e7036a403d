// Package main is the entry point for the lead funnel API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/brightpath-solar/lead-funnel/internal/cache"
	"github.com/brightpath-solar/lead-funnel/internal/config"
	"github.com/brightpath-solar/lead-funnel/internal/crm"
	"github.com/brightpath-solar/lead-funnel/internal/handler"
	"github.com/brightpath-solar/lead-funnel/internal/llm"
	"github.com/brightpath-solar/lead-funnel/internal/middleware"
	"github.com/brightpath-solar/lead-funnel/internal/notify"
	"github.com/brightpath-solar/lead-funnel/internal/reconcile"
	"github.com/brightpath-solar/lead-funnel/internal/scheduler"
	"github.com/brightpath-solar/lead-funnel/internal/session"
	"github.com/brightpath-solar/lead-funnel/internal/store"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
	"github.com/brightpath-solar/lead-funnel/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "lead-funnel", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the store. An empty DATABASE_PATH selects the in-memory store,
	// which is only suitable for local development.
	var (
		st     store.Store
		pinger handler.Pinger
	)
	if cfg.DatabasePath != "" {
		db, err := store.NewSQLite(cfg.DatabasePath)
		if err != nil {
			log.Error("failed to open database", zap.Error(err))
			os.Exit(1)
		}
		st = db
		pinger = db
	} else {
		log.Warn("no database path configured, using in-memory store")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	// Connect to NATS. An empty URL disables the broker; notifications
	// and follow-up dispatches fall back to the log.
	var (
		natsConn  *notify.NATSMessenger
		messenger notify.Messenger
		courier   scheduler.Courier
	)
	if cfg.NATSURL != "" {
		natsConn, err = notify.ConnectNATS(notify.NATSConfig{
			URL:   cfg.NATSURL,
			Token: cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsConn.Close()
		messenger = natsConn
		courier = notify.NewNATSCourier(natsConn)
	} else {
		log.Warn("no NATS URL configured, notifications go to the log")
		messenger = notify.NewLogMessenger(log)
		courier = notify.NewLogCourier(log)
	}

	// Notification router with a cooldown limiter.
	limiter := cache.NewMemory(ctx, time.Minute)
	router := notify.NewRouter(messenger, limiter, cfg.NotifyCooldown, log)

	// CRM client
	if cfg.CRMBaseURL == "" {
		log.Warn("no CRM base URL configured, mirror syncs will fail until one is set")
	}
	crmClient := crm.NewHTTPClient(cfg.CRMBaseURL, cfg.CRMAPIKey, cfg.CRMTimeout)

	// Initialize LLM client for assistant sessions
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client, assistant replies disabled", zap.Error(err))
		}
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create OpenAI client, assistant replies disabled", zap.Error(err))
		}
	}

	// Initialize services
	sessionSvc := session.NewService(st, router, llmClient, log)
	reconciler := reconcile.New(st, crmClient, router, cfg.ReconcileWindow, log)
	sessionSvc.SetSaver(reconciler)
	sched := scheduler.New(st, router, reconciler, courier, scheduler.Config{
		IdleTimeout:    cfg.IdleTimeout,
		AbandonTimeout: cfg.AbandonTimeout,
		HighValuePhase: cfg.HighValuePhase,
	}, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(pinger, natsConn)
	sessionHandler := handler.NewSessionHandler(sessionSvc, log)
	schedulerHandler := handler.NewSchedulerHandler(sched, log)
	adminHandler := handler.NewAdminHandler(sessionSvc, st, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Public capture API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Post("/resume", sessionHandler.Resume)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Patch("/", sessionHandler.Update)
				r.Post("/advance", sessionHandler.Advance)
				r.Post("/complete", sessionHandler.Complete)
				r.Post("/save", sessionHandler.Save)
				r.Post("/turns", sessionHandler.AppendTurn)
			})
		})

		// Staff endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.StaffAuth(cfg.StaffJWTSecret))

			r.Get("/sessions", adminHandler.ListSessions)
			r.Get("/leads/{id}", adminHandler.GetLead)
		})
	})

	// Sweep triggers, invoked by an external cron
	r.Route("/internal/cron", func(r chi.Router) {
		r.Use(middleware.CronAuth(cfg.CronSecret))

		r.Post("/lifecycle", schedulerHandler.Lifecycle)
		r.Post("/reconcile", schedulerHandler.Reconcile)
		r.Post("/followups", schedulerHandler.FollowUps)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

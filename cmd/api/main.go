package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farmsight/farmsight-backend/internal/api"
	"github.com/farmsight/farmsight-backend/internal/auth"
	"github.com/farmsight/farmsight-backend/internal/config"
	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/farms"
	"github.com/farmsight/farmsight-backend/internal/initializer"
	"github.com/farmsight/farmsight-backend/internal/jobs"
	"github.com/farmsight/farmsight-backend/internal/log"
	"github.com/farmsight/farmsight-backend/internal/metrics"
	"github.com/farmsight/farmsight-backend/internal/settings"
	"github.com/farmsight/farmsight-backend/internal/videos"
	"github.com/farmsight/farmsight-backend/internal/ws"
	"github.com/farmsight/farmsight-backend/pkg/kv"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/file"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/memory"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting FarmSight API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"storage", cfg.Storage.Backend,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("farmsight-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Durable kv storage holding the database image
	kvCfg := cfg.KVConfig()
	kvCfg.Logger = logger.Infow
	kvStore, err := kv.NewStoreFromConfig(kvCfg)
	if err != nil {
		logger.Fatalw("Failed to open storage", "error", err)
	}
	defer kvStore.Close()

	store := db.New(kvStore, logger.Named("db"),
		db.WithKey(cfg.Storage.Key),
		db.WithMetrics(metricsObj),
	)
	defer store.Close()

	// Setup services
	authSvc := auth.NewService(store, logger.Named("auth"),
		auth.WithSessionTTL(cfg.Auth.SessionTTL),
		auth.WithBcryptCost(cfg.Auth.BcryptCost),
	)
	settingsSvc := settings.NewService(store, logger.Named("settings"))
	videoSvc := videos.NewService(store, logger.Named("videos"))

	// Alerts are pushed to connected owners over websockets
	wsHub := ws.NewHub(authSvc, settingsSvc, cfg.Security.CORSAllowedOrigins, logger.Named("ws"), metricsObj)
	farmSvc := farms.NewService(store, logger.Named("farms"), farms.WithNotifier(wsHub))

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go wsHub.Run(hubCtx)

	// Open the database, seeding it on first start. A failure leaves the
	// server up in degraded mode: health endpoints answer, data routes 503.
	seeder := initializer.New(store, authSvc, farmSvc, videoSvc, logger.Named("initializer"))
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	seeded, err := seeder.Bootstrap(bootCtx, initializer.BootstrapOptions{
		Seed:         cfg.Seed.OnStart,
		DemoPassword: cfg.Seed.DemoPassword,
		AdminEmail:   cfg.Auth.AdminEmail,
	})
	bootCancel()
	switch {
	case err != nil:
		logger.Errorw("Database unavailable; running in degraded mode", "error", err)
	case seeded != nil:
		logger.Infow("Demo data seeded", "email", seeded.Email, "farms", len(seeded.FarmIDs))
	default:
		logger.Infow("Database ready")
	}

	// Expired sessions are also purged periodically, not only at startup
	sweeper := jobs.NewSessionSweeper(authSvc, cfg.Auth.SweepInterval, logger.Named("jobs"))
	go func() {
		if err := sweeper.Start(hubCtx); err != nil && err != context.Canceled {
			logger.Errorw("Session sweeper error", "error", err)
		}
	}()

	// Setup API handler and middleware
	handler := api.NewHandler(store, authSvc, farmSvc, settingsSvc, videoSvc, wsHub, logger.Named("api"))
	middleware := api.NewMiddleware(logger.Named("http"), metricsObj, authSvc)
	router := handler.Routes(middleware, metricsHandler, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)

	// Log configured CORS origins for easier debugging in dev
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Setup HTTP server
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Errorw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		hubCancel()

		// flush the latest image before the temp files go away
		if err := store.Persist(ctx); err != nil {
			logger.Errorw("Final persist failed", "error", err)
		}
		logger.Infow("Server stopped")
	}
}

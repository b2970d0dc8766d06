// Package main is the entry point for the deployment manager server.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samlabs/depman/internal/artifact"
	"github.com/samlabs/depman/internal/config"
	"github.com/samlabs/depman/internal/database"
	"github.com/samlabs/depman/internal/handler"
	"github.com/samlabs/depman/internal/middleware"
	"github.com/samlabs/depman/internal/repository"
	"github.com/samlabs/depman/internal/service"
)

func main() {
	migrateDown := flag.Int("migrate-down", 0, "roll back N database migrations and exit")
	flag.Parse()

	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting deployment manager server",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	if *migrateDown > 0 {
		if err := db.MigrateDown(cfg.Database, *migrateDown); err != nil {
			log.Fatalf("Failed to roll back migrations: %v", err)
		}
		logger.Info("Rolled back migrations", slog.Int("steps", *migrateDown))
		return
	}

	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Redis is optional; without it the server runs unlimited.
	var redis *database.Redis
	if cfg.Redis.Enabled {
		redis, err = database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		logger.Info("Connected to Redis")
	}

	store, err := artifact.NewStore(cfg.Artifact.Dir)
	if err != nil {
		log.Fatalf("Failed to open artifact store: %v", err)
	}

	clientRepo := repository.NewClientRepository(db.Pool())
	versionRepo := repository.NewVersionRepository(db.Pool())
	logRepo := repository.NewUpdateLogRepository(db.Pool())

	checkinService := service.NewCheckinService(clientRepo, versionRepo, logRepo, logger)
	versionService := service.NewVersionService(versionRepo, store, logger)
	clientService := service.NewClientService(clientRepo, versionRepo, logRepo, logger)

	agentHandler := handler.NewAgentHandler(checkinService, versionService)
	clientHandler := handler.NewClientHandler(clientService)
	versionHandler := handler.NewVersionHandler(versionService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(10 * time.Minute))

	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(db, redis))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if redis != nil {
			r.Use(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig()))
		}

		// Agent endpoints, authenticated by per-client API key.
		r.Group(func(r chi.Router) {
			r.Use(middleware.AgentAuth(clientRepo.GetByAPIKey))
			r.Post("/checkin", agentHandler.Checkin)
			r.Post("/update-result", agentHandler.UpdateResult)
		})

		// Artifact download is shared by agents (mid-update) and operators.
		r.Get("/artifacts/{version}", agentHandler.DownloadArtifact)

		// Admin endpoints.
		r.Mount("/clients", clientHandler.Routes())
		r.Mount("/versions", versionHandler.Routes())
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// healthHandler reports liveness. Plain text, matching what the agent's
// default health check expects from managed services.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// readyHandler verifies backing stores are reachable.
func readyHandler(db *database.Postgres, redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}
		if redis != nil {
			if err := redis.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"error","component":"redis"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

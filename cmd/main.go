package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/threadscope/threadscope-backend/internal/config"
	"github.com/threadscope/threadscope-backend/internal/data/db"
	"github.com/threadscope/threadscope-backend/internal/data/repos"
	"github.com/threadscope/threadscope-backend/internal/handlers"
	"github.com/threadscope/threadscope-backend/internal/jobs/pipeline/post_analyze"
	"github.com/threadscope/threadscope-backend/internal/jobs/runtime"
	"github.com/threadscope/threadscope-backend/internal/jobs/worker"
	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/observability"
	"github.com/threadscope/threadscope-backend/internal/realtime/bus"
	"github.com/threadscope/threadscope-backend/internal/server"
	"github.com/threadscope/threadscope-backend/internal/services"
	"github.com/threadscope/threadscope-backend/internal/sse"
	"github.com/threadscope/threadscope-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pipeline config
	cfg, err := config.Load(log)
	if err != nil {
		log.Error("Pipeline config invalid", "error", err)
		os.Exit(1)
	}

	// Tracing
	shutdownOtel := observability.InitOTel(rootCtx, log, observability.OtelConfig{
		ServiceName: "threadscope-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	postRepo := repos.NewPostRepo(thePG, log)
	commentRepo := repos.NewCommentRepo(thePG, log)
	edgeRepo := repos.NewEdgeRepo(thePG, log)
	clusterRepo := repos.NewClusterRepo(thePG, log)
	quantRunRepo := repos.NewQuantRunRepo(thePG, log)
	jobItemRepo := repos.NewJobItemRepo(thePG, log)
	jobBatchRepo := repos.NewJobBatchRepo(thePG, jobItemRepo, log)

	// SSE hub, optional cross-process bus
	log.Info("Setting up SSE hub now...")
	hub := sse.NewHub(log)
	var eventBus bus.Bus
	if os.Getenv("REDIS_ADDR") != "" {
		eventBus, err = bus.NewRedisBus(log)
		if err != nil {
			log.Warn("Redis bus init failed, SSE stays process-local", "error", err)
			eventBus = nil
		} else if err := eventBus.StartForwarder(rootCtx, hub.Broadcast); err != nil {
			log.Warn("Redis forwarder failed to start", "error", err)
		}
	}
	notifier := services.NewJobNotifier(hub, eventBus)

	// Services
	log.Info("Setting up services from main...")
	fetcher, err := services.NewHTTPThreadFetcher(log)
	if err != nil {
		log.Error("Could not init thread fetcher", "error", err)
		os.Exit(1)
	}
	archive, err := services.NewSnapshotArchive(log)
	if err != nil {
		log.Warn("Snapshot archive unavailable, raw HTML will not be kept", "error", err)
	}
	vision, err := services.NewVisionProvider(log)
	if err != nil {
		log.Warn("Vision provider unavailable, image annotation disabled", "error", err)
		vision = nil
	}
	backend, err := services.NewHTTPClusterBackend(log)
	if err != nil {
		log.Error("Could not init cluster backend", "error", err)
		os.Exit(1)
	}
	analyst, err := services.NewHTTPAnalyst(log)
	if err != nil {
		log.Error("Could not init narrative analyst", "error", err)
		os.Exit(1)
	}
	audit := services.NewQuantAudit(thePG, log, quantRunRepo)
	store := services.NewAnalysisStore(thePG, log, postRepo, commentRepo, clusterRepo, services.StoreOptions{
		WriteMode:     cfg.AssignmentWriteMode,
		CoverageMin:   cfg.AssignmentCoverageMin,
		Strict:        cfg.AssignmentStrict,
		ForceReassign: cfg.ForceReassign,
	})
	naming := services.NewNamingEnrichment(thePG, log, postRepo, clusterRepo, analyst, services.NamingOptions{
		Enabled:       cfg.NamingEnrichmentEnabled,
		WritebackMode: cfg.NamingWritebackMode,
	})
	jobService := services.NewJobService(thePG, log, jobBatchRepo, jobItemRepo, notifier)
	hydration := services.NewAssignmentHydration(thePG, log, commentRepo)

	// Job registry and worker pool
	registry := runtime.NewRegistry()
	analyzePipeline := post_analyze.New(
		thePG, log, cfg,
		postRepo, commentRepo, edgeRepo,
		fetcher, archive, vision, backend, analyst,
		audit, store, naming,
	)
	if err := registry.Register(analyzePipeline); err != nil {
		log.Error("Pipeline registration failed", "error", err)
		os.Exit(1)
	}
	pool := worker.NewPool(thePG, log, jobItemRepo, jobBatchRepo, registry, notifier, analyzePipeline.Type(), cfg)
	pool.Start(rootCtx)

	// One-shot backfill for posts whose comments predate noise keys.
	if utils.GetEnvAsBool("HYDRATE_ASSIGNMENTS_ON_START", false, log) {
		go func() {
			n, hErr := hydration.Run(rootCtx, 50, 4)
			if hErr != nil {
				log.Warn("Assignment hydration aborted", "error", hErr)
				return
			}
			log.Info("Assignment hydration done", "comments_updated", n)
		}()
	}

	// Handlers and router
	log.Info("Setting up handlers from main...")
	jobsHandler := handlers.NewJobsHandler(log, jobService)
	postsHandler := handlers.NewPostsHandler(log, postRepo, clusterRepo, quantRunRepo)
	sseHandler := handlers.NewSSEHandler(log, hub)

	router := server.NewRouter(server.RouterConfig{
		JobsHandler:  jobsHandler,
		PostsHandler: postsHandler,
		SSEHandler:   sseHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}
	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server stopped", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown error", "error", err)
	}
	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			log.Warn("Redis bus close error", "error", err)
		}
	}
	if shutdownOtel != nil {
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Warn("Otel shutdown error", "error", err)
		}
	}
	log.Info("Shutdown complete")
}

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
	"github.com/medcapture/capture-gateway/internal/cache"
	"github.com/medcapture/capture-gateway/internal/config"
	"github.com/medcapture/capture-gateway/internal/database"
	"github.com/medcapture/capture-gateway/internal/encoder"
	"github.com/medcapture/capture-gateway/internal/handlers"
	"github.com/medcapture/capture-gateway/internal/metrics"
	"github.com/medcapture/capture-gateway/internal/middleware"
	"github.com/medcapture/capture-gateway/internal/models"
	"github.com/medcapture/capture-gateway/internal/notify"
	"github.com/medcapture/capture-gateway/internal/queue"
	"github.com/medcapture/capture-gateway/internal/repository"
	"github.com/medcapture/capture-gateway/internal/session"
	"github.com/medcapture/capture-gateway/internal/transport"
	"github.com/medcapture/capture-gateway/internal/worklist"
	"github.com/medcapture/capture-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting capture gateway")

	// Database is optional; without it export history is not persisted
	var db *gorm.DB
	if cfg.Database.Enabled {
		db, err = database.Connect(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			LogLevel: cfg.Database.LogLevel,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close(db)
		log.Info().Msg("Database connected")
	}

	var cacheImpl cache.Cache
	if cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		cacheImpl, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Redis cache initialized")
	} else {
		cacheImpl = cache.NewMemoryCache(cfg.Cache.CleanupInterval)
		log.Info().Msg("Memory cache initialized")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	notifier := notify.New()
	pacsTransport := transport.New(log)
	endpoint := cfg.PACS.Endpoint()
	enc := encoder.New(encoder.Config{MaxVideoFrames: cfg.Encoder.MaxVideoFrames}, log)

	var exportRepo *repository.ExportRepository
	var history queue.History
	if db != nil {
		exportRepo = repository.NewExportRepository(db)
		history = exportRepo
	}

	// The queue's outcome callback targets the session manager; the
	// manager in turn enqueues into the queue, so wire via closure.
	var manager *session.Manager
	exportQueue := queue.New(queue.Config{
		Workers:     cfg.Queue.Workers,
		MaxRetries:  cfg.Queue.MaxRetries,
		BaseBackoff: cfg.Queue.BaseBackoff,
		MaxBackoff:  cfg.Queue.MaxBackoff,
	}, pacsTransport, history, func(job models.UploadJob, jobErr error) {
		manager.HandleOutcome(job, jobErr)
	}, m, log)
	manager = session.NewManager(enc, exportQueue, endpoint, notifier, log)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exportQueue.Start(rootCtx)
	defer exportQueue.Close()

	worklistCache := worklist.New(worklist.Config{
		TTL:             cfg.Worklist.TTL,
		RefreshInterval: cfg.Worklist.RefreshInterval,
		StationAE:       cfg.Worklist.StationAE,
		Modality:        cfg.Worklist.Modality,
	}, pacsTransport, endpoint, cacheImpl, notifier, m, log)
	go worklistCache.RunPeriodicRefresh(rootCtx)

	if exportRepo != nil {
		go runHistoryPurge(rootCtx, exportRepo, cfg.Database.PurgeInterval, cfg.Database.HistoryRetention, log)
	}

	sessionHandler := handlers.NewSessionHandler(manager, exportQueue, cfg.EmergencyTemplates)
	worklistHandler := handlers.NewWorklistHandler(worklistCache)
	pacsHandler := handlers.NewPACSHandler(pacsTransport, endpoint, exportQueue, exportRepo, m)
	eventsHandler := handlers.NewEventsHandler(notifier)
	healthHandler := handlers.NewHealthHandler(db)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.Post("/", sessionHandler.Start)
			r.Post("/emergency/{templateID}", sessionHandler.StartEmergency)
			r.Post("/end", sessionHandler.End)
			r.Post("/captures", sessionHandler.AddCapture)
			r.Delete("/captures/{captureID}", sessionHandler.RemoveCapture)
			r.Post("/export", sessionHandler.Export)
			r.Post("/captures/{captureID}/retry", sessionHandler.RetryExport)
			r.Delete("/captures/{captureID}/export", sessionHandler.CancelExport)
		})

		r.Get("/templates", sessionHandler.Templates)

		r.Route("/worklist", func(r chi.Router) {
			r.Get("/", worklistHandler.Query)
			r.Post("/refresh", worklistHandler.Refresh)
		})

		r.Post("/pacs/echo", pacsHandler.Echo)
		r.Get("/queue/stats", pacsHandler.QueueStats)
		r.Get("/exports", pacsHandler.RecentExports)
		r.Get("/exports/{sessionID}", pacsHandler.SessionExports)

		r.Get("/events", eventsHandler.Stream)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// SSE streams outlive the write timeout; rely on client disconnects
		WriteTimeout: 0,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// runHistoryPurge periodically deletes export records older than the
// retention window
func runHistoryPurge(ctx context.Context, repo *repository.ExportRepository, interval, retention time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Warn().Err(err).Msg("Export history purge failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("purged", n).Msg("Export history purged")
			}
		}
	}
}

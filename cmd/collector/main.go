package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/errstats"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/notification"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/aws"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/cache"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/config"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/observability"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/resilience"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/worker"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/recovery"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad("config.yaml")

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("air-quality-collector", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "air-quality-collector", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(ctx)

	logger.Info("observability setup complete")

	// Setup caching
	logger.Info("setting up caches...")
	memCache := cache.NewMemoryCache(cache.MemoryCacheConfig{
		MaxSize:        cfg.Cache.L1MaxSize,
		StaleRetention: cfg.Cache.StaleRetention,
		SweepInterval:  cfg.Cache.SweepInterval,
	})
	defer memCache.Close()

	var redisCache *cache.RedisCache
	if cfg.Cache.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:           cfg.Redis.Address,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			StaleRetention: cfg.Cache.StaleRetention,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create Redis cache", err)
			log.Fatalf("Failed to create Redis cache: %v", err)
		}
		defer redisCache.Close()
	}
	store := cache.NewLayeredCache(memCache, redisCache)

	// Error tracking
	logger.Info("setting up error tracking...")
	suppressor := errstats.NewSuppressor(errstats.SuppressorConfig{
		Threshold: cfg.Errors.SuppressThreshold,
		Window:    cfg.Errors.SuppressWindow,
		Cooldown:  cfg.Errors.SuppressCooldown,
		Retention: cfg.Errors.StateRetention,
	})
	stats := errstats.NewStats(cfg.Stats.RecentErrors)

	persister, err := errstats.NewPersister(errstats.PersisterConfig{
		SnapshotPath:     cfg.Stats.SnapshotPath,
		SnapshotInterval: cfg.Stats.SnapshotInterval,
		LogPath:          cfg.Stats.LogPath,
		LogMaxBytes:      cfg.Stats.LogMaxBytes,
		LogMaxRotations:  cfg.Stats.LogMaxRotations,
	}, stats, logger)
	if err != nil {
		logger.LogError(ctx, "failed to create stats persister", err)
		log.Fatalf("Failed to create stats persister: %v", err)
	}
	defer persister.Close()

	// Recovery engine with default strategies
	engine := recovery.NewEngine(recovery.EngineConfig{
		AttemptCap: cfg.Errors.RecoveryAttemptCap,
		Logger:     logger,
		Metrics:    metrics,
	})
	recovery.RegisterDefaults(engine, store)

	// Alert publisher: SNS when enabled, log-only otherwise
	var alerts errstats.AlertPublisher
	if cfg.AWS.Enabled {
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{
			Region:   cfg.AWS.Region,
			Endpoint: cfg.AWS.Endpoint,
		})
		if err != nil {
			logger.LogError(ctx, "failed to load AWS config", err)
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			Logger:    logger,
			Metrics:   metrics,
		})
		alerts, err = notification.NewPublisher(notification.PublisherConfig{
			SNSClient: snsClient,
			TopicARN:  cfg.AWS.SNSTopicARN,
			Logger:    logger,
			Tracer:    observability.NewTracer("air-quality-collector"),
		})
		if err != nil {
			logger.LogError(ctx, "failed to create alert publisher", err)
			log.Fatalf("Failed to create alert publisher: %v", err)
		}
	} else {
		alerts = notification.NewNoOpPublisher(logger)
	}

	reporter := errstats.NewReporter(errstats.ReporterDeps{
		Suppressor: suppressor,
		Stats:      stats,
		Engine:     engine,
		Persister:  persister,
		Alerts:     alerts,
		Logger:     logger,
		Metrics:    metrics,
	})

	// ThingSpeak client
	logger.Info("creating ThingSpeak client...")
	gate := resilience.NewRateGate(resilience.RateGateConfig{
		MinInterval: cfg.ThingSpeak.RateLimit.MinInterval,
		PerMinute:   cfg.ThingSpeak.RateLimit.PerMinute,
		PerDay:      cfg.ThingSpeak.RateLimit.PerDay,
	})
	client, err := telemetry.NewClient(telemetry.ClientConfig{
		BaseURL: cfg.ThingSpeak.BaseURL,
		APIKey:  cfg.ThingSpeak.APIKey,
		Timeout: cfg.ThingSpeak.Timeout,
		Gate:    gate,
		RetryConfig: resilience.RetryConfig{
			MaxRetries: cfg.ThingSpeak.Retry.MaxRetries,
			BaseDelay:  cfg.ThingSpeak.Retry.BaseDelay,
			MaxDelay:   cfg.ThingSpeak.Retry.MaxDelay,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create ThingSpeak client", err)
		log.Fatalf("Failed to create ThingSpeak client: %v", err)
	}

	channels := make([]telemetry.ChannelRef, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		channels[i] = telemetry.ChannelRef{ID: ch.ID, Name: ch.Name, ReadKey: ch.ReadKey}
	}

	service := telemetry.NewService(telemetry.ServiceConfig{
		Client:      client,
		Store:       store,
		Reporter:    reporter,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      observability.NewTracer("air-quality-collector"),
		TTL:         cfg.Cache.DefaultTTL,
		MaxStaleAge: cfg.Cache.MaxStaleAge,
		Channels:    channels,
	})

	// Background maintenance
	go persister.Run(ctx)
	go reporter.RunSweeper(ctx, cfg.Errors.SweepInterval)

	// Cache warmup
	if cfg.Cache.WarmupOnStart {
		warmer := cache.NewWarmer(logger, cache.WarmupConfig{
			Timeout:         2 * time.Minute,
			ContinueOnError: true,
		})
		warmer.RegisterProvider(service)
		warmer.Warmup(ctx)
	}

	// HTTP server for health, metrics and admin operations
	logger.Info("starting HTTP server...")
	go startHTTPServer(cfg.HTTP.Port, service, metrics, logger)

	// Signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Run poll loop
	logger.Info("starting collector...", "channels", len(channels))
	go runCollector(ctx, service, cfg, logger)

	<-sigCh
	logger.Info("shutdown signal received, gracefully stopping...")
	cancel()

	// Persister flushes on Close via the deferred call.
	logger.Info("collector stopped")
}

// runCollector polls every registered channel on the refresh cadence. The
// worker pool bounds concurrency; the rate gate below it paces the actual
// upstream calls.
func runCollector(ctx context.Context, service *telemetry.Service, cfg *config.Config, logger *observability.Logger) {
	pool := worker.NewPool(ctx, 2, len(cfg.Channels)*2)
	defer pool.Close()

	interval := cfg.Cache.DefaultTTL
	if interval < cfg.ThingSpeak.RateLimit.MinInterval {
		interval = cfg.ThingSpeak.RateLimit.MinInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := func() {
		jobs := make([]worker.Job, 0, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			id := ch.ID
			jobs = append(jobs, worker.Job{
				ID: fmt.Sprintf("feed-%d", id),
				Execute: func(ctx context.Context) (interface{}, error) {
					resp := service.Feed(ctx, id, 100)
					if !resp.Success {
						return nil, resp.Err
					}
					return resp.Data, nil
				},
			})
		}
		for _, res := range pool.SubmitAndWait(jobs) {
			if res.Err != nil {
				logger.LogWarn(ctx, "channel poll degraded to failure", "job", res.JobID, "error", res.Err)
			}
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, stopping collector")
			return
		case <-ticker.C:
			poll()
		}
	}
}

// startHTTPServer serves health checks, Prometheus metrics and the admin
// data API.
func startHTTPServer(port int, service *telemetry.Service, metrics *observability.Metrics, logger *observability.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"upstream": service.Health(),
		})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/feed", func(w http.ResponseWriter, r *http.Request) {
		channelID, _ := strconv.Atoi(r.URL.Query().Get("channel"))
		results, _ := strconv.Atoi(r.URL.Query().Get("results"))
		writeResponse(w, service.Feed(r.Context(), channelID, results))
	})

	mux.HandleFunc("/api/last", func(w http.ResponseWriter, r *http.Request) {
		channelID, _ := strconv.Atoi(r.URL.Query().Get("channel"))
		writeResponse(w, service.LastEntry(r.Context(), channelID))
	})

	mux.HandleFunc("/api/channel", func(w http.ResponseWriter, r *http.Request) {
		channelID, _ := strconv.Atoi(r.URL.Query().Get("channel"))
		writeResponse(w, service.ChannelInfo(r.Context(), channelID))
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		detailed := r.URL.Query().Get("detailed") == "true"
		writeJSON(w, http.StatusOK, service.Stats(detailed))
	})

	mux.HandleFunc("/api/recovery", func(w http.ResponseWriter, r *http.Request) {
		kind := faults.Kind(r.URL.Query().Get("kind"))
		if !kind.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown error kind"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"kind":       kind,
			"strategies": service.RecoveryStrategies(kind),
		})
	})

	mux.HandleFunc("/api/cache/clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		n, err := service.ClearCache(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
	})

	mux.HandleFunc("/api/stats/clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		records, states := service.ClearStats(r.Context())
		writeJSON(w, http.StatusOK, map[string]int{"records": records, "states": states})
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogError(context.Background(), "HTTP server error", err)
	}
}

func writeResponse(w http.ResponseWriter, resp telemetry.Response) {
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
		if resp.Err != nil && resp.Err.HTTPStatus != 0 {
			status = resp.Err.HTTPStatus
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already out on encode failure; nothing useful left to do.
	_ = json.NewEncoder(w).Encode(v)
}

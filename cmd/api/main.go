package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iago/recognition-orchestrator/internal/batch"
	"github.com/iago/recognition-orchestrator/internal/config"
	"github.com/iago/recognition-orchestrator/internal/content"
	httpserver "github.com/iago/recognition-orchestrator/internal/http"
	"github.com/iago/recognition-orchestrator/internal/http/handlers"
	"github.com/iago/recognition-orchestrator/internal/notify"
	"github.com/iago/recognition-orchestrator/internal/platform"
	"github.com/iago/recognition-orchestrator/internal/quality"
	"github.com/iago/recognition-orchestrator/internal/recognition"
	"github.com/iago/recognition-orchestrator/internal/result"
	"github.com/iago/recognition-orchestrator/internal/retry"
	"github.com/iago/recognition-orchestrator/internal/service"
	"github.com/iago/recognition-orchestrator/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[recognizer] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	loaded, err := config.LoadDotEnv(".env", ".env.local")
	if err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	if len(loaded) > 0 {
		logger.Printf("env files loaded files=%v", loaded)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := platform.OpenStores(ctx, cfg, false, logger)
	if err != nil {
		logger.Fatalf("open stores: %v", err)
	}
	defer stores.Close()

	redisClient, err := platform.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Printf("redis unavailable, continuing with in-process backends: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	jobQueue := platform.OpenQueue(ctx, cfg, redisClient, logger)
	defer jobQueue.Close()

	coordination, err := platform.OpenCoordination(cfg, redisClient, logger)
	if err != nil {
		logger.Fatalf("open coordination: %v", err)
	}
	logger.Printf("coordination backend=%s queue backend=%s", coordination.Backend, jobQueue.Backend)

	loader := setupContentLoader(cfg, logger)
	jobsService := service.NewJobsService(stores.Jobs, jobQueue.Producer, logger)
	recognitionService := setupRecognition(cfg, stores, coordination, loader, jobsService, logger)

	api := handlers.NewAPI(handlers.Dependencies{
		Cases:          stores.Cases,
		Jobs:           jobsService,
		Recognition:    recognitionService,
		CallbackSecret: cfg.DamageCallbackSecret,
		HealthChecks:   healthChecks(stores, redisClient),
		Logger:         logger,
	})
	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(worker.Dependencies{
			Consumer:   jobQueue.Consumer,
			Jobs:       stores.Jobs,
			Requeuer:   jobsService,
			Recognizer: recognitionService,
			Webhooks: notify.NewWebhookSender(notify.WebhookConfig{
				URL:    cfg.WebhookURL,
				Secret: cfg.WebhookSecret,
			}, logger),
			Retry: retry.NewController(retry.DefaultPolicy(), logger),
			Config: worker.Config{
				Concurrency: cfg.WorkerConcurrency,
				JobTimeout:  cfg.JobTimeout(),
			},
			Logger: logger,
		})
		go func() {
			processor.Start(ctx)
			close(workerDone)
		}()
		logger.Printf("worker enabled and started concurrency=%d", cfg.WorkerConcurrency)
	} else {
		close(workerDone)
		logger.Printf("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
		stop()
	}

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Printf("worker did not stop within %s", shutdownTimeout)
	}
}

func setupContentLoader(cfg config.Config, logger *log.Logger) content.Loader {
	routerConfig := content.RouterConfig{Root: cfg.ContentRoot}
	if cfg.AzureStorageConnectionString != "" {
		blob, err := content.NewBlobLoader(cfg.AzureStorageConnectionString)
		if err != nil {
			logger.Printf("azure blob loader disabled: %v", err)
		} else {
			routerConfig.Blob = blob
			logger.Printf("azure blob loader enabled")
		}
	}
	return content.NewRouter(routerConfig)
}

func setupRecognition(
	cfg config.Config,
	stores platform.Stores,
	coordination platform.Coordination,
	loader content.Loader,
	scheduler *service.JobsService,
	logger *log.Logger,
) *service.RecognitionService {
	documents := recognition.NewDocumentClient(recognition.DocumentClientConfig{
		BaseURL:           cfg.DocumentsBaseURL,
		APIKey:            cfg.DocumentsAPIKey,
		RecognizeEndpoint: cfg.DocumentsRecognizeEndpoint,
		ResultEndpoint:    cfg.DocumentsResultEndpoint,
		Timeout:           time.Duration(cfg.DocumentsTimeoutMS) * time.Millisecond,
		RPS:               cfg.DocumentsRPS,
		Burst:             cfg.DocumentsBurst,
	}, logger)
	damage := recognition.NewDamageClient(recognition.DamageClientConfig{
		BaseURL:          cfg.DamageBaseURL,
		APIKey:           cfg.DamageAPIKey,
		SessionTimeLimit: time.Duration(cfg.DamageSessionLimitHours) * time.Hour,
		Features:         cfg.DamageFeatures,
		Timeout:          time.Duration(cfg.DamageTimeoutMS) * time.Millisecond,
		RPS:              cfg.DamageRPS,
		Burst:            cfg.DamageBurst,
	}, logger)
	if !documents.Available() {
		logger.Printf("documents recognizer not configured, rounds will be skipped")
	}
	if !damage.Available() {
		logger.Printf("damage inspector not configured, rounds will be skipped")
	}

	filter := quality.NewFilter(quality.Config{
		MinBytes:     cfg.QualityMinBytes,
		MinDimension: cfg.QualityMinDimension,
	})

	recognitionConfig := service.DefaultRecognitionConfig()
	recognitionConfig.DocumentsGate.Capacity = cfg.DocumentsGateCapacity
	recognitionConfig.CollectGate.Capacity = cfg.DocumentsGateCapacity
	recognitionConfig.CollectGate.TTL = time.Duration(cfg.DocumentsCollectTTLSeconds) * time.Second
	recognitionConfig.DamageGate.Capacity = cfg.DamageGateCapacity
	recognitionConfig.NotifyPerItem = cfg.NotifyPerItem()
	recognitionConfig.NotifyCeiling = cfg.NotifyCeiling()
	recognitionConfig.CallbackURL = callbackURL(cfg)

	return service.NewRecognitionService(service.RecognitionDependencies{
		Store:     stores.Cases,
		Gate:      coordination.Gate,
		Locker:    coordination.Locker,
		Builder:   batch.NewBuilder(stores.Cases, loader, filter, logger),
		Merger:    result.NewMerger(stores.Cases, coordination.Locker, result.MergerConfig{}, logger),
		Detector:  result.NewDetector(),
		Documents: documents,
		Damage:    damage,
		Scheduler: scheduler,
		Config:    recognitionConfig,
		Logger:    logger,
	})
}

// callbackURL appends the shared callback secret so the vendor echoes it back.
func callbackURL(cfg config.Config) string {
	if cfg.DamageCallbackURL == "" || cfg.DamageCallbackSecret == "" {
		return cfg.DamageCallbackURL
	}
	separator := "?"
	if strings.Contains(cfg.DamageCallbackURL, "?") {
		separator = "&"
	}
	return cfg.DamageCallbackURL + separator + "token=" + url.QueryEscape(cfg.DamageCallbackSecret)
}

func healthChecks(stores platform.Stores, client redis.UniversalClient) map[string]handlers.HealthCheck {
	checks := make(map[string]handlers.HealthCheck)
	if stores.Postgres != nil {
		checks["postgres"] = stores.Postgres.Ping
	}
	if client != nil {
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return checks
}

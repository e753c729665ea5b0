package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/healthcheck"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/jetstream"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/media"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/media/providers/localfs"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/relayworker"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/sweeper"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/usecase"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/webhook"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

const (
	serviceVersion  = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting CRM Webhook Ingestor",
		zap.String("environment", cfg.Environment),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
	)

	postgresRepo, err := initPostgresRepo(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	contactRepo := storage.NewContactRepoAdapter(postgresRepo)
	conversationRepo := storage.NewConversationRepoAdapter(postgresRepo)
	messageRepo := storage.NewMessageRepoAdapter(postgresRepo)
	leadRepo := storage.NewLeadRepoAdapter(postgresRepo)
	visitorRepo := storage.NewVisitorRepoAdapter(postgresRepo)
	customFieldRepo := storage.NewCustomFieldRepoAdapter(postgresRepo)
	exhaustedRepo := storage.NewExhaustedRelayTaskRepoAdapter(postgresRepo)

	mediaStore, err := localfs.New(cfg.Media.StorageRoot, cfg.Media.PublicBaseURL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize media storage", zap.Error(err))
	}
	relayer := media.NewRelayer(media.NewHTTPFetcher(media.FetcherOptions{
		Timeout:      cfg.Media.DownloadTimeout,
		MaxBytes:     cfg.Media.MaxBytes,
		Rate:         cfg.Media.FetchRate,
		Burst:        cfg.Media.FetchBurst,
		AuthHeader:   cfg.Media.AuthHeader,
		AllowedHosts: cfg.Media.AllowedHosts,
	}), mediaStore)
	if len(cfg.Media.AllowedHosts) == 0 {
		logger.Log.Warn("media.allowedHosts is empty, instance tokens will not be sent on media fetches")
	}

	var (
		jsClient  *jetstream.Client
		publisher usecase.RelayTaskPublisher
	)
	if cfg.NATS.Enabled {
		jsClient, err = jetstream.NewClient(cfg.NATS.URL, "crm-webhook-ingestor")
		if err != nil {
			logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
		}
		publisher = jetstream.NewRelayPublisher(jsClient, cfg.NATS.RelaySubject)
	} else {
		logger.Log.Warn("NATS disabled, failed media relays keep the provider URL and are not retried")
	}

	attributionWorker, err := usecase.NewAttributionWorker(
		cfg.WorkerPools.Attribution,
		leadRepo,
		usecase.NewAttributionEngine(leadRepo, visitorRepo, cfg.Attribution),
		usecase.NewCustomFieldRegistry(customFieldRepo, 0),
		logger.Log,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize attribution worker pool", zap.Error(err))
	}

	service := usecase.NewPipelineService(
		postgresRepo,
		contactRepo,
		conversationRepo,
		messageRepo,
		leadRepo,
		exhaustedRepo,
		relayer,
		publisher,
		attributionWorker,
		cfg.Attribution,
	)

	var relayWorker *relayworker.Worker
	if jsClient != nil {
		relayWorker, err = relayworker.NewWorker(cfg.NATS, logger.Log, jsClient, service)
		if err != nil {
			logger.Log.Fatal("Failed to initialize relay worker", zap.Error(err))
		}
	}

	var mediaSweeper *sweeper.Sweeper
	if cfg.Sweeper.Enabled && publisher != nil {
		mediaSweeper = sweeper.New(cfg.Sweeper, messageRepo, publisher, logger.Log).
			WithRetryHorizon(relayworker.RetryHorizon(cfg.NATS))
		if err := mediaSweeper.Start(); err != nil {
			logger.Log.Fatal("Failed to start media sweeper", zap.Error(err))
		}
	}

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), serviceVersion, logger.Log)
	healthServer.AddReadinessCheck("database", postgresRepo.Ping)
	if jsClient != nil {
		healthServer.AddReadinessCheck("nats", func(ctx context.Context) error {
			if !jsClient.IsConnected() {
				return fmt.Errorf("nats connection is down")
			}
			return nil
		})
	}
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
	}
	healthServer.Start()

	webhookServer := webhook.NewServer(cfg.HTTP, service, logger.Log)
	if cfg.Media.ServePath != "" {
		webhookServer.ServeMedia(cfg.Media.ServePath, mediaStore)
	}

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fail := func(component string, err error) {
		logger.Log.Error(component+" stopped unexpectedly, initiating shutdown...", zap.Error(err))
		mainCancel()
		select {
		case sigChan <- syscall.SIGTERM:
		default:
		}
	}

	utils.SafeGo(func() {
		if err := webhookServer.Start(); err != nil {
			fail("Webhook server", err)
		}
	}, nil)

	if relayWorker != nil {
		utils.SafeGo(func() {
			if err := relayWorker.Start(mainCtx); err != nil {
				fail("Relay worker", err)
			}
		}, nil)
	}

	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))
	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	// Stop intake before draining the pools.
	stopComponent("webhook server", func() {
		if err := webhookServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping webhook server", zap.Error(err))
		}
	})

	var wg sync.WaitGroup
	shutdownAsync(&wg, "attribution worker pool", attributionWorker.Stop)
	if relayWorker != nil {
		shutdownAsync(&wg, "relay worker", relayWorker.Stop)
	}
	if mediaSweeper != nil {
		shutdownAsync(&wg, "media sweeper", mediaSweeper.Stop)
	}
	shutdownAsync(&wg, "health check server", func() {
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		}
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] Workers stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, closing connections anyway")
	}

	stopComponent("connections", func() {
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		}
		if jsClient != nil {
			jsClient.Close()
		}
	})

	logger.Log.Info("CRM Webhook Ingestor shutdown complete")
}

// shutdownAsync stops a component in its own goroutine, tolerating panics.
func shutdownAsync(wg *sync.WaitGroup, name string, stop func()) {
	wg.Add(1)
	utils.SafeGo(func() {
		defer wg.Done()
		stopComponent(name, stop)
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping "+name,
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
	})
}

func stopComponent(name string, stop func()) {
	logger.Log.Info("[shutdown] Stopping " + name)
	start := time.Now()
	stop()
	logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
}

func initPostgresRepo(cfg *config.Config) (*storage.PostgresRepo, error) {
	if cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, storage.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

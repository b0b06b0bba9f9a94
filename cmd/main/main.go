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

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/ai"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/campaign"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/chatbot"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/config"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/events"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/gateway"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/healthcheck"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/ingestion"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/jetstream"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/media"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/segment"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/speech"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/storage"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/taskqueue"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/utils"
)

// scheduledCampaignPollInterval is how often due scheduled campaigns are
// picked up and started.
const scheduledCampaignPollInterval = time.Minute

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting WA Campaign Engine",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
		zap.Bool("chatbot_enabled", cfg.Chatbot.Enabled),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client
	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Repository adapters
	accountRepo := storage.NewAccountRepoAdapter(postgresRepo)
	contactRepo := storage.NewContactRepoAdapter(postgresRepo)
	conversationRepo := storage.NewConversationRepoAdapter(postgresRepo)
	messageRepo := storage.NewMessageRepoAdapter(postgresRepo)
	campaignRepo := storage.NewCampaignRepoAdapter(postgresRepo)
	campaignContactRepo := storage.NewCampaignContactRepoAdapter(postgresRepo)

	// Downstream service clients
	waClient := gateway.NewClient(cfg.WhatsApp.BaseURL, cfg.WhatsApp.APIVersion, cfg.WhatsApp.Timeout)
	votaboxClient := segment.NewClient(cfg.Votabox.BaseURL, cfg.Votabox.APIKey, cfg.Votabox.TenantID, cfg.Votabox.Timeout)
	aiClient := ai.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.KnowledgeBasePath, cfg.AI.Timeout)
	speechClient := speech.NewClient(cfg.Speech.BaseURL, cfg.Speech.APIKey, cfg.Speech.Timeout)

	// In-process event bus
	dispatcher := events.NewDispatcher()

	// Worker pools
	dispatchPool, err := taskqueue.NewPool("dispatch", cfg.WorkerPools.Dispatch, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize dispatch worker pool", zap.Error(err))
	}
	mediaPool, err := taskqueue.NewPool("media", cfg.WorkerPools.Media, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize media worker pool", zap.Error(err))
	}

	// Conversation engine and idle sweeper, both optional
	var (
		chatEngine        *chatbot.Engine
		sweeper           *chatbot.Sweeper
		transcriptHandler media.TranscriptHandler
	)
	if cfg.Chatbot.Enabled {
		chatEngine = chatbot.NewEngine(
			waClient,
			aiClient,
			speechClient,
			chatbot.NewStaticLocator(),
			accountRepo,
			contactRepo,
			conversationRepo,
			messageRepo,
			dispatcher,
			dispatchPool,
			cfg.Chatbot.OnboardingAudioURL,
		)
		dispatcher.SubscribeMessageReceived(chatEngine.HandleMessageReceived)
		transcriptHandler = chatEngine

		sweeper = chatbot.NewSweeper(
			chatEngine,
			accountRepo,
			contactRepo,
			conversationRepo,
			messageRepo,
			cfg.Chatbot.IdleTimeout,
			cfg.Chatbot.SweepInterval,
		)
		sweeper.Start()
	}

	// Media backfill worker
	mediaWorker := media.NewWorker(waClient, speechClient, transcriptHandler, messageRepo, dispatcher, mediaPool)

	// Ingestion pipeline, JetStream consumer and webhook HTTP handler
	pipeline := ingestion.NewPipeline(accountRepo, contactRepo, conversationRepo, messageRepo, campaignContactRepo, dispatcher, mediaWorker)
	consumer := ingestion.NewWebhookConsumer(jsClient, pipeline, cfg.NATS.Webhook)
	if err := consumer.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up webhook consumer", zap.Error(err))
	}

	webhookSubject := ""
	if len(cfg.NATS.Webhook.SubjectList) > 0 {
		webhookSubject = cfg.NATS.Webhook.SubjectList[0]
	}
	webhookHandler := ingestion.NewWebhookHandler(jsClient, webhookSubject, cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret)

	// Campaign dispatch engine
	campaignEngine := campaign.NewEngine(
		waClient,
		votaboxClient,
		accountRepo,
		contactRepo,
		conversationRepo,
		messageRepo,
		campaignRepo,
		campaignContactRepo,
		dispatcher,
		dispatchPool,
		cfg.Campaign,
	)
	campaignEngine.StartScheduler(scheduledCampaignPollInterval)

	// HTTP server: health, readiness, metrics and the provider webhook
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.RegisterWebhookHandler(webhookHandler)
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}
	healthServer.Start()

	logger.Log.Info("HTTP endpoints available",
		zap.String("webhook", fmt.Sprintf("http://localhost:%d/webhook", cfg.Server.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	// Start consuming queued webhook events
	if err := consumer.Start(); err != nil {
		logger.Log.Fatal("Failed to start webhook consumer", zap.Error(err))
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(4)

	// Stop the webhook consumer so no new events enter the pipeline
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping webhook consumer")
		start := time.Now()
		consumer.Stop()
		logger.Log.Info("[shutdown] Webhook consumer stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping webhook consumer",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Stop the campaign engine and the idle sweeper
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping campaign engine")
		start := time.Now()
		campaignEngine.Stop()
		if sweeper != nil {
			sweeper.Stop()
		}
		logger.Log.Info("[shutdown] Campaign engine stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping campaign engine",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Drain and release worker pools
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Releasing worker pools")
		start := time.Now()
		dispatchPool.Release()
		mediaPool.Release()
		logger.Log.Info("[shutdown] Worker pools released",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while releasing worker pools",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Stop the HTTP server and close connections
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping HTTP server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping HTTP server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] HTTP server stopped",
				zap.Duration("duration", time.Since(start)))
		}

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping HTTP server and connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("WA Campaign Engine shutdown complete")
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient connects to NATS with JetStream enabled. Stream and
// consumer setup happens in the webhook consumer's Setup.
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	return client, nil
}

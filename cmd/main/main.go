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
	"gitlab.com/timkado/api/conversation-router/internal/broker"
	"gitlab.com/timkado/api/conversation-router/internal/config"
	"gitlab.com/timkado/api/conversation-router/internal/dlqworker"
	"gitlab.com/timkado/api/conversation-router/internal/fanout"
	"gitlab.com/timkado/api/conversation-router/internal/healthcheck"
	"gitlab.com/timkado/api/conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/internal/presence"
	"gitlab.com/timkado/api/conversation-router/internal/provider"
	"gitlab.com/timkado/api/conversation-router/internal/storage"
	"gitlab.com/timkado/api/conversation-router/internal/usecase"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
	"go.uber.org/zap"
)

// shutdownStep is one component stopped during graceful shutdown.
type shutdownStep struct {
	name string
	stop func(ctx context.Context) error
}

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

	logger.Log.Info("Starting Conversation Router",
		zap.String("environment", cfg.Environment),
		zap.String("schema", cfg.Database.Schema),
		zap.String("nats_url", cfg.NATS.URL),
	)

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Database.Schema)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	tracker := presence.NewTracker()

	// Realtime fanout: local rooms, cross-instance relay, optional broker
	hub, err := fanout.NewHub(cfg.WorkerPools.Fanout, fanout.WithBufferSize(cfg.Realtime.BufferSize))
	if err != nil {
		logger.Log.Fatal("Failed to initialize fanout hub", zap.Error(err))
	}
	relay := fanout.NewRelay(jsClient, cfg.NATS.RealtimeSubject, hub)
	hub.AddSink(relay)

	var brokerPublisher *broker.Publisher
	if cfg.Broker.Enabled {
		brokerPublisher, err = broker.NewPublisher(mainCtx, cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			logger.Log.Fatal("Failed to initialize broker publisher", zap.Error(err))
		}
		hub.AddSink(brokerPublisher)
	}

	exhaustedEventRepo := storage.NewExhaustedEventRepoAdapter(postgresRepo)
	service := usecase.NewEventService(
		postgresRepo,
		storage.NewConversationRepoAdapter(postgresRepo),
		storage.NewAssignmentRepoAdapter(postgresRepo),
		storage.NewMessageRepoAdapter(postgresRepo),
		exhaustedEventRepo,
		postgresRepo,
		tracker,
		hub,
		usecase.WithSender(provider.NewNATSSender(jsClient, cfg.NATS.ProviderSendSubject, cfg.NATS.SendTimeout)),
		usecase.WithLockTimeout(cfg.Assignment.LockTimeout),
	)

	processor := usecase.NewProcessor(service, jsClient, cfg)
	if err := processor.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up processor", zap.Error(err))
	}

	dlqWorker, err := dlqworker.NewWorker(cfg, logger.Log, jsClient, processor.GetRouter(), service)
	if err != nil {
		logger.Log.Fatal("Failed to initialize DLQ Worker", zap.Error(err))
	}

	realtimeServer := fanout.NewServer(cfg.Realtime, hub, tracker)

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.RegisterCheck("postgres", postgresRepo.Ping)
	healthServer.RegisterCheck("nats", func(context.Context) error {
		if !jsClient.IsConnected() {
			return fmt.Errorf("nats disconnected")
		}
		return nil
	})

	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	if err := relay.Start(); err != nil {
		logger.Log.Fatal("Failed to start realtime relay", zap.Error(err))
	}

	if err := processor.Start(); err != nil {
		logger.Log.Fatal("Failed to start processor", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	trigger := func() {
		mainCancel()
		select {
		case sigChan <- syscall.SIGTERM:
		default:
			logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
		}
	}

	utils.SafeGo(func() {
		logger.Log.Info("Realtime server listening", zap.Int("port", cfg.Realtime.Port))
		if err := realtimeServer.Start(); err != nil {
			logger.Log.Error("Realtime server failed, initiating shutdown...", zap.Error(err))
			trigger()
		}
	}, nil)

	go func() {
		if err := dlqWorker.Start(mainCtx); err != nil {
			logger.Log.Error("DLQ Worker failed to start or encountered an error, initiating shutdown...", zap.Error(err))
			trigger()
		}
	}()

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	// Intake stops first so nothing new reaches the hub while it drains.
	runShutdown(shutdownCtx, []shutdownStep{
		{name: "event processor", stop: func(context.Context) error { processor.Stop(); return nil }},
		{name: "DLQ worker", stop: func(context.Context) error { dlqWorker.Stop(); return nil }},
	})

	runShutdown(shutdownCtx, []shutdownStep{
		{name: "realtime server", stop: realtimeServer.Shutdown},
		{name: "health check server", stop: healthServer.Stop},
		{name: "realtime relay", stop: func(context.Context) error { relay.Stop(); return nil }},
	})

	hub.Close()

	runShutdown(shutdownCtx, []shutdownStep{
		{name: "broker publisher", stop: func(context.Context) error {
			if brokerPublisher == nil {
				return nil
			}
			return brokerPublisher.Close()
		}},
		{name: "PostgreSQL connection", stop: postgresRepo.Close},
		{name: "JetStream connection", stop: func(context.Context) error { jsClient.Close(); return nil }},
	})

	logger.Log.Info("Conversation Router shutdown complete")
}

// runShutdown stops the given components concurrently and waits for all of them
// or for ctx to expire.
func runShutdown(ctx context.Context, steps []shutdownStep) {
	var wg sync.WaitGroup
	wg.Add(len(steps))

	for _, step := range steps {
		step := step
		utils.SafeGo(func() {
			defer wg.Done()
			logger.Log.Info("[shutdown] Stopping " + step.name)
			start := time.Now()
			if err := step.stop(ctx); err != nil {
				logger.Log.Error("[shutdown] Error stopping "+step.name, zap.Error(err))
				return
			}
			logger.Log.Info("[shutdown] Stopped "+step.name, zap.Duration("duration", time.Since(start)))
		}, func(r interface{}, stack []byte) {
			logger.Log.Error("[shutdown] Panic while stopping "+step.name,
				zap.Any("panic", r),
				zap.ByteString("stack", stack),
			)
		})
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-ctx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool, schema string) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	return client, nil
}

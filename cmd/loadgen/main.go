package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc/pool"
	"gitlab.com/timkado/api/conversation-router/internal/config"
	"gitlab.com/timkado/api/conversation-router/internal/jetstream"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"go.uber.org/zap"
)

// publishTask is one message to publish.
type publishTask struct {
	BaseSubject string
	TenantID    string
}

const defaultBatchSize = 50

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	subjectsStr := flag.String("subjects", "v1.router.inbound,v1.router.delivery,v1.router.read", "Comma-separated list of base NATS subjects")
	rate := flag.Int("rate", 100, "Target messages per second (total)")
	duration := flag.Duration("duration", 1*time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent publishers")
	tenantIDsStr := flag.String("tenant_ids", "1", "Comma-separated list of tenant IDs")
	batchSize := flag.Int("batch-size", defaultBatchSize, "Number of messages per publisher batch")
	peers := flag.Int("peers", 200, "Number of distinct peers per tenant; smaller values exercise conversation reuse")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Conversation Router Load Generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Publishes inbound messages and status watermarks to the router subjects.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
	}
	if *peers <= 0 {
		*peers = 200
	}
	if *rate <= 0 {
		fmt.Println("rate must be positive")
		os.Exit(1)
	}

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := startMetricsServer(*metricsPort)
	var metricsWg sync.WaitGroup
	metricsWg.Add(1)
	go func() {
		defer metricsWg.Done()
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		}
	}()

	logger.Log.Info("Starting load generator",
		zap.String("nats_url", *natsURL),
		zap.String("subjects", *subjectsStr),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("batch_size", *batchSize),
		zap.String("tenant_ids", *tenantIDsStr),
		zap.Int("peers", *peers),
	)

	natsClient, err := jetstream.NewClient(*natsURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()

	baseSubjects := splitList(*subjectsStr)
	tenantIDs := splitList(*tenantIDsStr)
	if len(baseSubjects) == 0 {
		logger.Log.Fatal("No base subjects provided")
	}
	if len(tenantIDs) == 0 {
		logger.Log.Fatal("No tenant IDs provided")
	}

	gofakeit.Seed(time.Now().UnixNano())
	gen := newGenerator(*peers)

	publishers := pool.New().WithMaxGoroutines(*concurrency)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runLoadLoop(ctx, *rate, *duration, *batchSize, baseSubjects, tenantIDs, func(batch []publishTask) {
			publishers.Go(func() {
				publishBatch(natsClient, gen, batch)
			})
		})
	}()

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal, shutting down...", zap.String("signal", sig.String()))
		cancel()
	case <-loopDone:
		logger.Log.Info("Load generation duration finished")
	}

	<-loopDone
	logger.Log.Info("Waiting for in-flight batches...")
	publishers.Wait()

	cancel()
	metricsWg.Wait()
	logger.Log.Info("Load generator shutdown complete.")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()

	return server
}

// runLoadLoop emits tasks at rate and hands them to submit in batches.
func runLoadLoop(ctx context.Context, rate int, duration time.Duration, batchSize int, subjects, tenants []string, submit func([]publishTask)) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	counter := 0
	batch := make([]publishTask, 0, batchSize)
	flush := func() {
		if len(batch) > 0 {
			submit(batch)
			batch = make([]publishTask, 0, batchSize)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-durationTimer.C:
			flush()
			return
		case <-ticker.C:
			task := publishTask{
				BaseSubject: subjects[counter%len(subjects)],
				TenantID:    tenants[counter%len(tenants)],
			}
			counter++
			observer.IncLoadgenMessagesAttempted(task.BaseSubject, task.TenantID)

			batch = append(batch, task)
			if len(batch) >= batchSize {
				flush()
			}
		}
	}
}

func publishBatch(client jetstream.ClientInterface, gen *generator, batch []publishTask) {
	for _, task := range batch {
		subject := fmt.Sprintf("%s.%s", task.BaseSubject, task.TenantID)

		payload, err := gen.payloadFor(model.EventType(task.BaseSubject), task.TenantID)
		if err != nil {
			logger.Log.Error("Unsupported base subject", zap.String("subject", task.BaseSubject), zap.Error(err))
			observer.IncLoadgenPublishErrors(task.BaseSubject, task.TenantID)
			continue
		}

		data, err := json.Marshal(payload)
		if err != nil {
			logger.Log.Error("Failed to marshal payload", zap.String("subject", subject), zap.Error(err))
			observer.IncLoadgenPublishErrors(task.BaseSubject, task.TenantID)
			continue
		}

		headers := map[string]string{"Nats-Msg-Id": uuid.NewString()}
		if err := client.Publish(subject, data, headers); err != nil {
			logger.Log.Error("Failed to publish message", zap.String("subject", subject), zap.Error(err))
			observer.IncLoadgenPublishErrors(task.BaseSubject, task.TenantID)
			continue
		}
		observer.IncLoadgenMessagesPublished(task.BaseSubject, task.TenantID)
	}
}

// generator hands out payloads over a fixed set of peers per tenant, so
// repeated inbound messages land on existing conversations and watermarks
// address peers the router has seen.
type generator struct {
	mu     sync.Mutex
	size   int
	peers  map[string][]model.IdentityKey
	sentTo map[string][]string
}

func newGenerator(peersPerTenant int) *generator {
	return &generator{
		size:   peersPerTenant,
		peers:  make(map[string][]model.IdentityKey),
		sentTo: make(map[string][]string),
	}
}

func (g *generator) peer(tenantID string) model.IdentityKey {
	g.mu.Lock()
	defer g.mu.Unlock()

	known := g.peers[tenantID]
	if len(known) < g.size {
		channel := model.FakeChannel()
		key := model.FakeIdentity(channel)
		g.peers[tenantID] = append(known, key)
		return key
	}
	return known[gofakeit.Number(0, len(known)-1)]
}

func (g *generator) remember(tenantID, providerMessageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := append(g.sentTo[tenantID], providerMessageID)
	if len(ids) > 100 {
		ids = ids[len(ids)-100:]
	}
	g.sentTo[tenantID] = ids
}

func (g *generator) recent(tenantID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := g.sentTo[tenantID]
	if len(ids) == 0 {
		return nil
	}
	return []string{ids[gofakeit.Number(0, len(ids)-1)]}
}

func (g *generator) payloadFor(base model.EventType, tenantID string) (interface{}, error) {
	switch base {
	case model.V1RouterInbound:
		payload := model.FakeInboundPayload(&model.InboundMessagePayload{Identity: g.peer(tenantID)})
		g.remember(tenantID, payload.ProviderMessageID)
		return payload, nil
	case model.V1RouterDelivery:
		return model.FakeDeliveryPayload(g.peer(tenantID), g.recent(tenantID)...), nil
	case model.V1RouterRead:
		return model.FakeReadPayload(g.peer(tenantID)), nil
	case model.V1RouterSend:
		return model.FakeSendPayload(int64(gofakeit.Number(1, 1000))), nil
	}
	return nil, fmt.Errorf("no payload generator for %s", base)
}

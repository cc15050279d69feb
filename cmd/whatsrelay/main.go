package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaykit/whatsrelay/internal/config"
	"github.com/relaykit/whatsrelay/internal/connector"
	"github.com/relaykit/whatsrelay/internal/dlq"
	"github.com/relaykit/whatsrelay/internal/handlers"
	"github.com/relaykit/whatsrelay/internal/health"
	"github.com/relaykit/whatsrelay/internal/ingest"
	"github.com/relaykit/whatsrelay/internal/logging"
	"github.com/relaykit/whatsrelay/internal/server"
	"github.com/relaykit/whatsrelay/internal/store"
	"github.com/relaykit/whatsrelay/internal/webhook"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("whatsrelay"))
	logging.SetDefault(logger)

	slog.Info("Starting WhatsApp relay",
		slog.Int("port", cfg.Server.Port),
		slog.String("redis_mode", cfg.Redis.Mode),
		slog.String("log_level", cfg.Logging.Level),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// Initialize the message store
	st, err := store.Open(cfg.Redis.URL, cfg.Redis.Mode, cfg.Redis.KeyPrefix)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}
	defer st.Close()
	log.Printf("Message store ready (backend: %s, prefix: %s)", cfg.Redis.Mode, cfg.Redis.KeyPrefix)

	// Initialize Dead Letter Queue
	var dlqWriter dlq.Writer
	if cfg.DLQ.Enabled {
		switch cfg.DLQ.Backend {
		case "jetstream":
			jsDLQ, err := dlq.NewJetStreamQueue(context.Background(), cfg.DLQ.NatsURL)
			if err != nil {
				log.Fatalf("Failed to initialize JetStream DLQ: %v", err)
			}
			dlqWriter = jsDLQ
			log.Printf("Dead Letter Queue enabled (backend: jetstream, nats: %s)", cfg.DLQ.NatsURL)
		case "file":
			fileDLQ, err := dlq.NewFileQueue(cfg.DLQ.BasePath)
			if err != nil {
				log.Fatalf("Failed to initialize file DLQ: %v", err)
			}
			dlqWriter = fileDLQ
			log.Printf("Dead Letter Queue enabled (backend: file, path: %s)", cfg.DLQ.BasePath)
			log.Println("WARNING: File-based DLQ does not support multiple relay instances")
		}
		defer dlqWriter.Close()
	} else {
		log.Println("Dead Letter Queue disabled")
	}

	// Initialize the bridge client
	conn := connector.New(cfg.Connector.URL, cfg.Connector.SendTimeout)
	log.Printf("Connector bridge configured at %s", cfg.Connector.URL)

	// Initialize webhook delivery
	registry := webhook.NewRegistry()
	dispatcher := webhook.NewDispatcher(st, registry, webhook.Config{
		MaxAttempts:  cfg.Webhook.MaxAttempts,
		BaseBackoff:  cfg.Webhook.BaseBackoff,
		Timeout:      cfg.Webhook.Timeout,
		PollInterval: cfg.Webhook.PollInterval,
		BatchSize:    cfg.Webhook.BatchSize,
	}, logger)
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	// Initialize ingestion
	ingestService := ingest.NewService(st, dlqWriter, logger)
	ingestService.OnAppend(dispatcher.Wake)

	// Initialize health monitoring
	monitor := health.NewMonitor(st, conn, cfg.Connector.ProbeTimeout)

	// Initialize HTTP handlers
	handler := handlers.New(st, ingestService, dispatcher, conn, monitor, logger)
	router := server.NewRouter(handler)

	// Create server with config values
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Relay listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voicelink/internal/config"
	"voicelink/internal/logging"
	"voicelink/internal/metrics"
	"voicelink/internal/recognition"
	"voicelink/internal/server"
	"voicelink/internal/storage"
)

const (
	defaultConfigPath = "configs/server.yaml"
	serviceName       = "voicelink-server"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_connections", cfg.Server.MaxConnections),
		slog.String("recognition_engine", cfg.Recognition.Engine),
		slog.String("language", cfg.Recognition.Language),
		slog.Bool("storage_enabled", cfg.Storage.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Initialize speech recognition engine
	recognizer, err := newRecognizer(ctx, cfg.Recognition, logger)
	if err != nil {
		logger.Error("Failed to create recognizer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if closer, ok := recognizer.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	logger.Info("Recognition engine initialized", slog.String("engine", cfg.Recognition.Engine))

	// Initialize recording storage (if enabled)
	var store *storage.Store
	if cfg.Storage.Enabled {
		store, err = storage.NewStore(cfg.Storage.Directory, logger)
		if err != nil {
			logger.Error("Failed to create recording store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Recording store initialized", slog.String("directory", cfg.Storage.Directory))
	}

	// Initialize session server
	tcpServer := server.NewTCPServer(cfg, logger, recognizer, store, appMetrics)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, tcpServer, appMetrics)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := tcpServer.Start(); err != nil {
			return fmt.Errorf("session server: %w", err)
		}
		return nil
	})

	if httpServer != nil {
		group.Go(func() error {
			if err := httpServer.Start(); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("Startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service started successfully, waiting for signals...")

	<-groupCtx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop session server (tears down connections and joins goroutines)
	if err := tcpServer.Stop(); err != nil {
		logger.Error("Error stopping session server", slog.String("error", err.Error()))
	}

	stats := tcpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("connections_refused", stats.ConnectionsRefused),
		slog.Uint64("handshake_rejects", stats.HandshakeRejects),
	)

	logger.Info("Service stopped")
}

// newRecognizer selects the speech engine from configuration.
func newRecognizer(ctx context.Context, cfg config.RecognitionConfig, logger *slog.Logger) (recognition.Recognizer, error) {
	switch cfg.Engine {
	case "mock":
		return &recognition.Mock{}, nil
	default:
		return recognition.NewGoogle(ctx, recognition.GoogleConfig{
			APIKey:       cfg.APIKey,
			LanguageCode: cfg.Language,
		}, logger)
	}
}

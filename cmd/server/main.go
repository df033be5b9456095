package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"relay/internal/api"
	"relay/internal/auth"
	"relay/internal/config"
	"relay/internal/fyers"
	"relay/internal/idempotency"
	"relay/internal/journal"
	"relay/internal/metrics"
	"relay/internal/monitor"
	"relay/internal/notify"
	"relay/internal/orders"
	"relay/internal/retry"
	"relay/internal/symbols"
	"relay/internal/token"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	// A .env file is optional; deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	log.Info().
		Int("port", cfg.Server.Port).
		Str("version", version).
		Str("log_level", cfg.Logging.Level).
		Float64("rate_limit", cfg.Server.RateLimit).
		Bool("monitor_enabled", cfg.Monitor.Enabled).
		Msg("Starting relay service")

	// Brokerage credentials and the session client used for the
	// auth-code and refresh flows.
	creds := auth.NewCredentials(cfg.Fyers.AppID, cfg.Fyers.SecretID)
	session := fyers.NewSessionClient(creds, cfg.Fyers.RedirectURI,
		fyers.WithSessionBaseURL(cfg.Fyers.BaseURL))

	// Token persistence: local file, optionally replicated to a remote
	// blob store so restarts on fresh hosts pick up the last token.
	var blob token.BlobStore
	if cfg.Tokens.StoreURL != "" {
		blob = token.NewHTTPBlobStore(cfg.Tokens.StoreURL)
	}
	store := token.NewStore(cfg.Tokens.File, blob, cfg.Tokens.StoreKey, logger)

	factory := func(accessToken string) *fyers.Client {
		return fyers.NewClient(creds, accessToken,
			fyers.WithBaseURL(cfg.Fyers.BaseURL),
			fyers.WithTimeout(cfg.Fyers.Timeout))
	}

	collector := metrics.NewCollector()

	// Alerts go to the configured webhook, or the log when none is set.
	// The collector rides along to count every alert by event.
	var sink notify.Notifier = notify.NewLog(logger)
	var webhookSink *notify.Webhook
	if cfg.Notify.URL != "" {
		webhookSink = notify.NewWebhook(cfg.Notify.URL, logger)
		sink = webhookSink
	}
	notifier := notify.Multi{sink, collector}

	manager := token.NewManager(store, session, factory, cfg.Fyers.AuthCode, cfg.Fyers.PIN,
		token.WithNotifier(notifier),
		token.WithEvents(collector),
		token.WithLogger(logger))
	if err := manager.Load(context.Background()); err != nil {
		log.Warn().Err(err).Msg("No stored token at startup; authorize via /auth-url")
	}

	master := symbols.NewMaster(logger, symbols.WithURL(cfg.Symbols.MasterURL))
	if err := master.Load(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Symbol master download failed; option resolution unavailable")
	}

	jrnl, err := journal.Open(cfg.Journal.DBPath, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trade journal")
	}

	executor := retry.NewExecutor(retry.Policy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
	}, manager, logger, retry.WithRecorder(collector))

	cache := idempotency.NewStore(cfg.Idempotency.TTL)

	pipeline := orders.NewPipeline(manager, executor, master, jrnl, cache, logger,
		orders.WithRecorder(collector))

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	if cfg.Monitor.Enabled {
		mon := monitor.NewMonitor(manager, jrnl, notifier, logger,
			monitor.WithScanInterval(cfg.Monitor.PollingInterval),
			monitor.WithRecorder(collector))
		go mon.Run(monitorCtx)
	}

	serverConfig := api.ServerConfig{
		Port:           cfg.Server.Port,
		Host:           cfg.Server.Host,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
		SecretToken:    cfg.Webhook.SecretToken,
		Version:        version,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		LogLevel:       cfg.Logging.Level,
	}

	server, err := api.NewServer(serverConfig, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}
	server.SetDependencies(pipeline, manager, manager, collector, collector)

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown server gracefully")
		}

		stopMonitor()
		if webhookSink != nil {
			webhookSink.Flush()
		}

		log.Info().Msg("Shutdown complete")
	}
}

// setupLogger builds the process-wide logger. JSON goes to stdout by
// default; console format is for local development. A log file adds
// size-based rotation alongside the primary writer.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = zerolog.MultiLevelWriter(out, rotating)
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

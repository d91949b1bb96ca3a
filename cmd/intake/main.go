package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"order-intake/config"
	"order-intake/internal/application"
	"order-intake/internal/domain"
	"order-intake/internal/infra"
	"order-intake/internal/infra/assemblyai"
	"order-intake/internal/infra/httpapi"
	"order-intake/internal/infra/live"
	"order-intake/internal/infra/openai"
	"order-intake/internal/infra/proxy"
	"order-intake/internal/infra/rabbitmq"
	"order-intake/internal/infra/store"
	"order-intake/internal/infra/transcode"
	"order-intake/internal/infra/twilio"
)

func main() {
	configPath := cli.StringP("config", "c", "config.yaml", "path to config file (.yaml or .toml)")
	envFile := cli.StringP("env", "e", ".env", "env file path")
	logLevel := cli.StringP("log", "l", "", "log level override")
	cli.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("loading env file", "path", *envFile, "error", err)
	}

	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !cli.CommandLine.Changed("config") {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := setupLogger(cfg.Log)

	if err := run(cfg, logger); err != nil {
		logger.Error("order intake stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient, err := proxy.NewHTTPClient(cfg.Proxy.SOCKS5, config.Duration(cfg.Proxy.Timeout))
	if err != nil {
		return fmt.Errorf("creating http client: %w", err)
	}

	catalog, err := domain.NewCatalog(cfg.MenuEntries())
	if err != nil {
		return fmt.Errorf("building menu: %w", err)
	}

	orders, closeStore, err := createStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	twilioClient := createTwilioClient(cfg.Twilio, httpClient, logger)

	var hub *live.Hub
	broadcasters := application.MultiBroadcaster{}
	if !cfg.Broadcast.WebSocket.Disabled {
		hub = live.NewHub(cfg.Server.FrontendOrigin, cfg.Broadcast.WebSocket.QueueSize, logger)
		defer hub.Close()
		broadcasters = append(broadcasters, hub)
	}
	if cfg.Broadcast.AMQP.URL != "" {
		publisher, err := rabbitmq.Dial(cfg.Broadcast.AMQP.URL, cfg.Broadcast.AMQP.Exchange, cfg.Broadcast.AMQP.QueueSize, logger)
		if err != nil {
			logger.Warn("amqp broadcast disabled", "error", err)
		} else {
			defer publisher.Close()
			broadcasters = append(broadcasters, publisher)
		}
	}

	intake := application.NewIntake(
		twilio.NewMediaFetcher(twilioClient),
		createTranscoder(cfg.Transcoder, logger),
		createTranscriber(cfg.Transcription, httpClient, logger),
		application.NewMenuParser(catalog),
		orders,
		twilio.NewReplyDispatcher(twilioClient),
		broadcasters,
		logger,
	)

	dispatcher := application.NewDispatcher(ctx, intake, cfg.Intake.MaxInFlight, config.Duration(cfg.Intake.EventTimeout), logger)

	var liveHandler http.Handler
	if hub != nil {
		liveHandler = hub
	}
	server := httpapi.NewServer(httpapi.Options{
		Addr:           cfg.Server.Addr,
		FrontendOrigin: cfg.Server.FrontendOrigin,
		WebhookToken:   cfg.Server.WebhookToken,
		Async:          cfg.IsAsync(),
		RateLimit:      cfg.Server.RateLimit,
		RateWindow:     config.Duration(cfg.Server.RateWindow),
		TrustProxy:     cfg.Server.TrustProxy,
	}, dispatcher, orders, liveHandler, logger)

	logger.Info("starting order intake",
		"addr", cfg.Server.Addr,
		"transcription", cfg.Transcription.Provider,
		"transcoder", cfg.Transcoder.Backend,
		"store", cfg.Store.Driver,
		"async", cfg.IsAsync(),
		"menu_items", len(catalog.Items()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})

	err = g.Wait()

	logger.Info("shutting down, draining in-flight events", "in_flight", dispatcher.InFlight())
	dispatcher.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (application.OrderStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		retry := infra.RetryConfig{
			MaxAttempts:  10,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		}
		pg, err := store.ConnectPostgres(ctx, cfg.DSN, retry, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		logger.Warn("using in-memory order store, orders are lost on restart")
		return store.NewMemory(), func() {}, nil
	}
}

func createTwilioClient(cfg config.TwilioConfig, httpClient *http.Client, logger *slog.Logger) *twilio.Client {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.WhatsAppNumber == "" {
		logger.Warn("twilio credentials incomplete, replies will fail and media downloads are unauthenticated")
	}
	if cfg.BaseURL != "" {
		return twilio.NewClientWithURL(cfg.AccountSID, cfg.AuthToken, cfg.WhatsAppNumber, httpClient, cfg.BaseURL)
	}
	return twilio.NewClient(cfg.AccountSID, cfg.AuthToken, cfg.WhatsAppNumber, httpClient)
}

func createTranscoder(cfg config.TranscoderConfig, logger *slog.Logger) application.Transcoder {
	switch cfg.Backend {
	case "native":
		return transcode.NewNative(logger)
	case "none":
		return &application.NoopTranscoder{}
	default:
		return transcode.NewFFmpeg(cfg.FFmpegPath, domain.AudioFormat(cfg.Target), logger)
	}
}

func createTranscriber(cfg config.TranscriptionConfig, httpClient *http.Client, logger *slog.Logger) application.Transcriber {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			logger.Warn("OPENAI_API_KEY not set, voice orders will fall back to message text")
		}
		return openai.NewWhisperClientWithURL(cfg.OpenAI.APIKey, cfg.Language, config.Duration(cfg.Timeout), httpClient, cfg.OpenAI.BaseURL)
	case "none":
		return &application.NoopTranscriber{}
	default:
		if cfg.AssemblyAI.APIKey == "" {
			logger.Warn("ASSEMBLYAI_API_KEY not set, voice orders will fall back to message text")
		}
		poll := infra.PollConfig{
			Interval:    config.Duration(cfg.PollInterval),
			MaxInterval: config.Duration(cfg.PollMaxInterval),
			Multiplier:  1.5,
			Timeout:     config.Duration(cfg.Timeout),
		}
		if cfg.AssemblyAI.BaseURL != "" {
			return assemblyai.NewClientWithURL(cfg.AssemblyAI.APIKey, cfg.Language, httpClient, poll, logger, cfg.AssemblyAI.BaseURL)
		}
		return assemblyai.NewClient(cfg.AssemblyAI.APIKey, cfg.Language, httpClient, poll, logger)
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	case "tint":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

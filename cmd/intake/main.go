package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/intake/internal/anthropic"
	"github.com/MikeSquared-Agency/intake/internal/api"
	"github.com/MikeSquared-Agency/intake/internal/config"
	"github.com/MikeSquared-Agency/intake/internal/criteria"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
	"github.com/MikeSquared-Agency/intake/internal/hermes"
	"github.com/MikeSquared-Agency/intake/internal/ledger"
	"github.com/MikeSquared-Agency/intake/internal/metrics"
	"github.com/MikeSquared-Agency/intake/internal/processor"
	"github.com/MikeSquared-Agency/intake/internal/slack"
	"github.com/MikeSquared-Agency/intake/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("intake starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Agency criteria
	criteriaSource, err := criteria.NewSource(cfg.CriteriaFile, slog.Default())
	if err != nil {
		slog.Error("failed to load agency criteria", "file", cfg.CriteriaFile, "error", err)
		os.Exit(1)
	}
	geography := criteriaSource.Geography()
	slog.Info("agency criteria loaded", "file", cfg.CriteriaFile, "zip_centroids", len(geography.ZipCentroids))

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// Idempotency ledger: Redis when shared across replicas, memory otherwise
	var led ledger.Ledger
	checks := map[string]func(context.Context) error{"database": db.Ping}
	if cfg.RedisAddr != "" {
		rdb, err := ledger.OpenRedis(ctx, ledger.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		led = ledger.NewRedis(rdb, cfg.LedgerTTL, 0)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		slog.Info("redis ledger ready", "addr", cfg.RedisAddr, "ttl", cfg.LedgerTTL)
	} else {
		led = ledger.NewMemory(cfg.LedgerTTL)
		slog.Warn("REDIS_ADDR not set, using in-process ledger")
	}

	// Extractor: labeled-field regexes, with the LLM as a fallback when configured
	var fields extractor.FieldExtractor = extractor.RegexFields{}
	if cfg.AnthropicAPIKey != "" {
		llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		fields = extractor.Fallback{Primary: extractor.RegexFields{}, Secondary: extractor.NewLLMFields(llm, slog.Default())}
		slog.Info("anthropic fallback ready", "model", cfg.AnthropicModel)
	}
	// Geography is read through the source so a reload reaches the extractor
	ext := extractor.New(fields, criteriaSource, criteriaSource, slog.Default())

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)
	checks["nats"] = func(context.Context) error {
		if !hermesClient.Connected() {
			return errors.New("not connected")
		}
		return nil
	}

	deps := processor.Deps{
		Criteria:          criteriaSource,
		Extractor:         ext,
		Ledger:            led,
		Store:             db,
		Notifier:          hermes.NewNotifier(hermesClient),
		Events:            hermesClient,
		Metrics:           metrics.New(),
		Logger:            slog.Default(),
		DownstreamTimeout: cfg.DownstreamTimeout,
	}

	// Slack poster (optional; without it review-band referrals wait in the database)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		deps.Reviews = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, running without review loop")
	}

	// Processor: the main pipeline
	proc := processor.New(deps)

	if err := hermesClient.Subscribe(hermes.SubjectEmailReceived, proc.HandleEnvelope); err != nil {
		slog.Error("failed to subscribe to inbound email", "error", err)
		os.Exit(1)
	}

	if err := hermesClient.Subscribe(hermes.SubjectSlackReaction, proc.HandleReaction); err != nil {
		slog.Error("failed to subscribe to slack reactions", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Processor:    proc,
		Criteria:     criteriaSource,
		Referrals:    db,
		Checks:       checks,
		WebhookRate:  cfg.WebhookRateLimit,
		WebhookBurst: cfg.WebhookBurst,
		Logger:       slog.Default(),
	})
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish(hermes.SubjectAgentRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"mode":      "active",
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("intake ready", "port", cfg.Port)

	// SIGHUP reloads criteria; SIGINT/SIGTERM shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			_ = criteriaSource.Reload()
			continue
		}
		break
	}
	slog.Info("shutting down")
	cancel()
	slog.Info("intake stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

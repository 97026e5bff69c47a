package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_bot/internal/bot"
	"news_bot/internal/config"
	"news_bot/internal/extract"
	"news_bot/internal/fetcher"
	"news_bot/internal/filter"
	"news_bot/internal/llm"
	"news_bot/internal/monitor"
	"news_bot/internal/publisher"
	"news_bot/internal/registry"
	"news_bot/internal/storage"
	"news_bot/internal/telemetry"
)

const metricsInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownMetrics, err := telemetry.Init(ctx, telemetry.Options{
		Stdout:       cfg.MetricsStdout,
		OTLPEndpoint: cfg.MetricsOTLPEndpoint,
		Interval:     metricsInterval,
	})
	if err != nil {
		log.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("shutdown telemetry", "error", err)
		}
	}()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	var feeds storage.FeedRegistry = store
	if cfg.FeedsPath != "" {
		feeds = registry.NewFile(cfg.FeedsPath)
		log.Info("using feed registry file", "path", cfg.FeedsPath)
	}

	rules, err := filter.ParseRules(cfg.FilterInclude, cfg.FilterExclude)
	if err != nil {
		log.Error("parse filter rules", "error", err)
		os.Exit(1)
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	pub, err := publisher.NewTelegram(api, cfg.TelegramChannel, log)
	if err != nil {
		log.Error("create publisher", "error", err)
		os.Exit(1)
	}

	f := fetcher.New(http.DefaultClient, extract.New(), cfg.RedirectHosts, log)
	client := llm.New(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.Topic)

	mon := monitor.New(monitor.Deps{
		Registry:   feeds,
		Store:      store,
		Fetcher:    f,
		Classifier: filter.NewGate(rules, client, log),
		Summarizer: client,
		Publisher:  pub,
	}, monitor.Config{
		PollInterval:     cfg.PollInterval,
		RetryAttempts:    cfg.RetryAttempts,
		RetryBackoff:     cfg.RetryBackoff,
		MaxConcurrency:   cfg.MaxConcurrency,
		BaselineNewFeeds: cfg.BaselineNewFeeds,
	}, log.With("component", "monitor"))

	b := bot.New(api, feeds, store, f, cfg.IsUserAllowed, log.With("component", "bot"))

	log.Info("starting bot",
		"bot", api.Self.UserName,
		"channel", cfg.TelegramChannel,
		"poll_interval", cfg.PollInterval,
		"filters", len(rules),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	b.Run(ctx)
	wg.Wait()

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/chatrelay/internal/anthropic"
	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/config"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/conversation"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/dummy"
	"github.com/stupiduntilnot/chatrelay/internal/httpapi"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/observability"
	"github.com/stupiduntilnot/chatrelay/internal/openai"
	"github.com/stupiduntilnot/chatrelay/internal/relay"
	"github.com/stupiduntilnot/chatrelay/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[relay] %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func newLogger(cfg config.Config) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})
	return slog.New(handler).With("component", "relay")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	journal, closeJournal, err := openJournal(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeJournal()

	processEventID, err := journal.Log(nil, db.EventProcessStarted, map[string]any{
		"role":     "relay",
		"pid":      os.Getpid(),
		"provider": cfg.ModelProvider,
		"model":    cfg.ModelName(),
		"source":   cfg.Commander,
	})
	if err != nil {
		logger.Warn("failed to log process.started", "error", err)
	}

	metrics := observability.NewMetrics("relay")

	commander, err := newCommander(cfg)
	if err != nil {
		return fmt.Errorf("init commander: %w", err)
	}
	provider, err := newModelProvider(cfg)
	if err != nil {
		return fmt.Errorf("init model provider: %w", err)
	}

	store := conversation.NewStore(conversation.Options{
		MaxUsers: cfg.HistoryMaxUsers,
		IdleTTL:  cfg.HistoryTTL,
		OnEvict: func(userID int64, entries int) {
			logger.Debug("history evicted", "user_id", userID, "entries", entries)
			parent := processEventID
			if _, err := journal.Log(&parent, db.EventHistoryEvicted, map[string]any{
				"user_id": userID,
				"entries": entries,
			}); err != nil {
				logger.Warn("journal write failed", "event", db.EventHistoryEvicted, "error", err)
			}
		},
	})

	metrics.TrackActiveHistories(store.Users)

	r := relay.New(store, provider, commander, relay.Options{
		SystemPrompt: cfg.SystemPrompt,
		Params: modelpkg.Params{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		},
		MaxLength:         cfg.MaxMessageLength,
		CompletionTimeout: cfg.CompletionTimeout,
		ProviderName:      cfg.ModelProvider,
		Logger:            logger,
		Journal:           journal,
		Metrics:           metrics,
		ParentEventID:     processEventID,
	})

	var idleSleep time.Duration
	if cfg.Commander == "dummy" {
		idleSleep = time.Second
	}
	poller := relay.NewPoller(commander, r, relay.PollerOptions{
		PollTimeout:    cfg.PollTimeout,
		MaxConcurrency: cfg.MaxConcurrency,
		IdleSleep:      idleSleep,
		Logger:         logger,
		Journal:        journal,
		Metrics:        metrics,
		Circuit:        control.NewCircuitBreaker(5, 30*time.Second),
		ParentEventID:  processEventID,
	})

	logger.Info("relay running",
		"model", cfg.ModelName(),
		"provider", cfg.ModelProvider,
		"source", cfg.Commander,
		"history_max_users", cfg.HistoryMaxUsers,
		"history_ttl", cfg.HistoryTTL,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx)
	})
	if cfg.Port != "" {
		srv := httpapi.New(httpapi.Info{
			Bot:   cfg.BotName,
			Model: cfg.ModelName(),
			API:   cfg.APIName,
		}, metrics)
		addr := net.JoinHostPort("", cfg.Port)
		logger.Info("http server listening", "addr", addr)
		g.Go(func() error {
			if err := srv.Serve(gctx, addr); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	parent := processEventID
	if _, logErr := journal.Log(&parent, db.EventProcessStopped, map[string]any{"pid": os.Getpid()}); logErr != nil {
		logger.Warn("failed to log process.stopped", "error", logErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openJournal opens the SQLite journal when path is set. An empty path
// yields a disabled journal.
func openJournal(path string) (*db.Journal, func(), error) {
	if path == "" {
		return &db.Journal{}, func() {}, nil
	}
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return &db.Journal{DB: database}, func() { _ = database.Close() }, nil
}

func newCommander(cfg config.Config) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase, time.Duration(cfg.PollTimeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelProvider(cfg config.Config) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case "openai":
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIChatCompURL, cfg.OpenAIModel, cfg.CompletionTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(anthropic.Config{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			BaseURL: cfg.AnthropicBaseURL,
			Timeout: cfg.CompletionTimeout,
		}), nil
	case "dummy":
		return dummy.NewProvider(cfg.ModelName(), cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}

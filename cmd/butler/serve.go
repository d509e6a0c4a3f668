package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noble1911/butler/internal/agent"
	"github.com/noble1911/butler/internal/agent/providers"
	"github.com/noble1911/butler/internal/audit"
	"github.com/noble1911/butler/internal/auth"
	"github.com/noble1911/butler/internal/config"
	"github.com/noble1911/butler/internal/notify"
	"github.com/noble1911/butler/internal/notify/webpush"
	"github.com/noble1911/butler/internal/notify/whatsapp"
	"github.com/noble1911/butler/internal/ratelimit"
	"github.com/noble1911/butler/internal/scheduler"
	"github.com/noble1911/butler/internal/server"
	"github.com/noble1911/butler/internal/store"
	"github.com/noble1911/butler/internal/tools/calendar"
	"github.com/noble1911/butler/internal/tools/facts"
	"github.com/noble1911/butler/internal/tools/homeassistant"
	"github.com/noble1911/butler/internal/tools/reminders"
	"github.com/noble1911/butler/internal/tools/weather"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the butler server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "butler.yaml", "Path to configuration file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	authService := auth.NewService(cfg.Auth)

	// Notification channels are assembled once; a channel is either
	// present and working or absent.
	var pushChannel, waChannel notify.Channel
	if cfg.Channels.Push.Enabled {
		transport, err := webpush.NewTransport(webpush.Config{
			VAPIDPublicKey:  cfg.Channels.Push.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.Channels.Push.VAPIDPrivateKey,
			Subscriber:      cfg.Channels.Push.Subscriber,
		})
		if err != nil {
			return fmt.Errorf("push channel: %w", err)
		}
		pushChannel = notify.NewPushChannel(db, transport, logger)
	}
	if cfg.Channels.WhatsApp.Enabled {
		wa, err := whatsapp.New(&cfg.Channels.WhatsApp.Config, logger)
		if err != nil {
			return fmt.Errorf("whatsapp channel: %w", err)
		}
		if err := wa.Connect(ctx); err != nil {
			return fmt.Errorf("whatsapp connect: %w", err)
		}
		defer wa.Close()
		waChannel = wa
	}
	router := notify.NewRouter(pushChannel, waChannel, logger)

	registry := buildRegistry(cfg, db, logger)

	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.Agent.APIKey,
		DefaultModel: cfg.Agent.Model,
	})
	if err != nil {
		return fmt.Errorf("anthropic provider: %w", err)
	}

	orch := agent.New(provider, registry, audit.NewLogger(logger), logger, agent.Config{
		MaxRounds: cfg.Agent.MaxRounds,
		MaxTokens: cfg.Agent.MaxTokens,
		Model:     cfg.Agent.Model,
	})

	limiter := ratelimit.NewLimiter(ratelimit.WithLogger(logger))
	middleware := ratelimit.NewMiddleware(limiter, authService,
		cfg.RateLimit.Categories, cfg.RateLimit.Fallback, logger)

	sched := scheduler.New(db, registry, router,
		scheduler.WithLogger(logger),
		scheduler.WithPollInterval(cfg.Scheduler.PollInterval))

	srv := server.New(orch, db, authService, middleware, logger, server.Config{
		Addr:         cfg.Server.Addr(),
		SystemPrompt: cfg.Agent.SystemPrompt,
		HistoryLimit: cfg.Agent.HistoryLimit,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		limiter.Run(ctx)
	}()
	sched.Start(ctx)

	err = srv.Start(ctx)

	cancel()
	if stopErr := sched.Stop(context.Background()); stopErr != nil {
		logger.Warn("scheduler stop error", "error", stopErr)
	}
	wg.Wait()
	return err
}

// buildRegistry wires the configured tools. The registry is assembled
// once at startup and never mutated afterwards.
func buildRegistry(cfg *config.Config, db *store.Store, logger *slog.Logger) *agent.Registry {
	registry := agent.NewRegistry()

	registry.Register(facts.NewRememberTool(db))
	registry.Register(facts.NewRecallTool(db))
	registry.Register(facts.NewForgetTool(db))
	registry.Register(calendar.NewListEventsTool(db))
	registry.Register(calendar.NewAddEventTool(db))
	registry.Register(reminders.NewSetTool(db))
	registry.Register(reminders.NewListTool(db))
	registry.Register(reminders.NewCancelTool(db))

	if cfg.Tools.HomeAssistant.Enabled {
		client, err := homeassistant.NewClient(cfg.Tools.HomeAssistant.Config)
		if err != nil {
			logger.Warn("home assistant tools disabled", "error", err)
		} else {
			registry.Register(homeassistant.NewCallServiceTool(client))
			registry.Register(homeassistant.NewGetStateTool(client))
			registry.Register(homeassistant.NewListEntitiesTool(client))
		}
	}
	if cfg.Tools.Weather.Enabled {
		registry.Register(weather.New(cfg.Tools.Weather.Config))
	}
	return registry
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

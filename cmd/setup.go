package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"commandbot/pkg/config"
	"commandbot/pkg/conversation/assistant"
	"commandbot/pkg/logger"
	"commandbot/pkg/provider"
)

const providerHealthTimeout = 10 * time.Second

// loadRuntime reads configuration and installs the process logger. The
// returned func releases the log file, if any.
func loadRuntime() (*config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, closeLog, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	return cfg, appLogger, closeLog, nil
}

// assistantClient connects the LLM provider when an assistant topic is
// configured. Failures are logged; the topic is then skipped.
func assistantClient(ctx context.Context, cfg *config.Config, log *slog.Logger) provider.Client {
	if !usesAssistant(cfg) {
		return nil
	}

	client, err := provider.New(cfg)
	if err != nil {
		log.Error("Failed to initialize provider, assistant topic disabled", "error", err)
		return nil
	}

	healthCtx, cancel := context.WithTimeout(ctx, providerHealthTimeout)
	defer cancel()
	if err := client.Health(healthCtx); err != nil {
		log.Warn("Provider health check failed", "provider", cfg.Assistant.Provider, "error", err)
	}
	return client
}

func usesAssistant(cfg *config.Config) bool {
	return slices.ContainsFunc(cfg.Topics, func(entry config.PluginConfig) bool {
		return entry.Name == assistant.Name
	})
}

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"commandbot/pkg/config"
	"commandbot/pkg/provider/fantasy"
	provideropenai "commandbot/pkg/provider/openai"
	"commandbot/pkg/provider/opencode"
	providertypes "commandbot/pkg/provider/types"
)

// Client is a conversational LLM backend.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, sessionID string, prompt string, model string, agent string) (providertypes.PromptResult, error)
}

func New(cfg *config.Config) (Client, error) {
	providerID := strings.TrimSpace(cfg.Assistant.Provider)
	if providerID == "" {
		providerID = "opencode"
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "opencode":
		return opencode.New(cfg)
	case "openai":
		return provideropenai.New(cfg)
	case "fantasy":
		return fantasy.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}

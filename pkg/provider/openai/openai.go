package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"commandbot/pkg/config"
	providertypes "commandbot/pkg/provider/types"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const component = "provider.openai"

// Client talks to the OpenAI Responses API, keeping one server-side
// conversation per dialogue.
type Client struct {
	client         osdk.Client
	requestTimeout time.Duration
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Providers.OpenAI
	apiKey := resolveAPIKey(providerCfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		requestTimeout: requestTimeout,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	call := providertypes.StartCall(component, "health")

	if _, err := c.client.Models.List(ctx); err != nil {
		return call.Fail(fmt.Errorf("health check failed: %w", err))
	}
	call.Done()
	return nil
}

// CreateSession opens a server-side conversation. OpenAI conversations are
// untitled, so title only shows up in the debug log.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	call := providertypes.StartCall(component, "create_session", "title", strings.TrimSpace(title))

	conversation, err := c.client.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		return "", call.Fail(fmt.Errorf("create session failed: %w", err))
	}
	id := ""
	if conversation != nil {
		id = strings.TrimSpace(conversation.ID)
	}
	if id == "" {
		return "", call.Fail(errors.New("create session returned empty conversation id"))
	}
	call.Done("session_id", id)
	return id, nil
}

// Prompt sends one user turn into conversation sessionID. agent has no
// OpenAI counterpart and is ignored.
func (c *Client) Prompt(ctx context.Context, sessionID string, prompt string, model string, _ string) (providertypes.PromptResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	prompt = strings.TrimSpace(prompt)
	switch {
	case sessionID == "":
		return providertypes.PromptResult{}, errors.New("session id is required")
	case prompt == "":
		return providertypes.PromptResult{}, errors.New("prompt is required")
	}

	modelID, err := normalizeModel(model)
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	call := providertypes.StartCall(component, "prompt", "session_id", sessionID, "model", modelID, "prompt_length", len(prompt))

	response, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: modelID,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: sessionID},
		},
	})
	if err != nil {
		return providertypes.PromptResult{}, call.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		return providertypes.PromptResult{}, call.Fail(errors.New("prompt succeeded but returned no text"))
	}
	call.Done("response_length", len(text))

	return providertypes.PromptResult{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: "openai",
			Model:    modelID,
			Usage: usageOf(providertypes.TokenUsage{
				InputTokens:     response.Usage.InputTokens,
				OutputTokens:    response.Usage.OutputTokens,
				TotalTokens:     response.Usage.TotalTokens,
				ReasoningTokens: response.Usage.OutputTokensDetails.ReasoningTokens,
				CacheReadTokens: response.Usage.InputTokensDetails.CachedTokens,
			}),
		},
	}, nil
}

func usageOf(usage providertypes.TokenUsage) *providertypes.TokenUsage {
	if usage.IsZero() {
		return nil
	}
	return &usage
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// normalizeModel accepts "model" or "openai/model".
func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	providerID, modelID, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}

	providerID, modelID = strings.TrimSpace(providerID), strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}
	return modelID, nil
}

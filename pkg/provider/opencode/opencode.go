package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"commandbot/pkg/config"
	providertypes "commandbot/pkg/provider/types"

	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
)

const component = "provider.opencode"

// Client talks to an OpenCode server, one session per dialogue.
type Client struct {
	client         *sdk.Client
	requestTimeout time.Duration
}

type healthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Providers.OpenCode
	baseURL := strings.TrimSpace(providerCfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if authHeader, ok := buildBasicAuthHeader(providerCfg); ok {
		opts = append(opts, option.WithHeader("Authorization", authHeader))
	}

	return &Client{
		client:         sdk.NewClient(opts...),
		requestTimeout: time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	call := providertypes.StartCall(component, "health")

	var response healthResponse
	if err := c.client.Get(ctx, "/global/health", nil, &response); err != nil {
		return call.Fail(fmt.Errorf("health check failed: %w", err))
	}
	if !response.Healthy {
		return call.Fail(errors.New("opencode server reported unhealthy status"))
	}
	call.Done("version", response.Version)
	return nil
}

func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	title = strings.TrimSpace(title)
	call := providertypes.StartCall(component, "create_session", "title", title)

	params := sdk.SessionNewParams{}
	if title != "" {
		params.Title = sdk.F(title)
	}

	session, err := c.client.Session.New(ctx, params)
	if err != nil {
		return "", call.Fail(fmt.Errorf("create session failed: %w", err))
	}
	if session.ID == "" {
		return "", call.Fail(errors.New("create session returned empty session id"))
	}
	call.Done("session_id", session.ID)
	return session.ID, nil
}

// Prompt sends one user turn into session sessionID. model is a
// "provider/model" reference; agent selects an OpenCode agent.
func (c *Client) Prompt(ctx context.Context, sessionID string, prompt string, model string, agent string) (providertypes.PromptResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	agent = strings.TrimSpace(agent)
	call := providertypes.StartCall(component, "prompt",
		"session_id", strings.TrimSpace(sessionID),
		"model", strings.TrimSpace(model),
		"agent", agent,
		"prompt_length", len(strings.TrimSpace(prompt)),
	)

	params := sdk.SessionPromptParams{
		Parts: sdk.F([]sdk.SessionPromptParamsPartUnion{
			sdk.TextPartInputParam{
				Type: sdk.F(sdk.TextPartInputTypeText),
				Text: sdk.F(prompt),
			},
		}),
	}
	if agent != "" {
		params.Agent = sdk.F(agent)
	}
	if providerID, modelID, ok := parseModelRef(model); ok {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(providerID),
			ModelID:    sdk.F(modelID),
		})
	}

	response, err := c.client.Session.Prompt(ctx, sessionID, params)
	if err != nil {
		return providertypes.PromptResult{}, call.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	text := extractText(response.Parts)
	if text == "" {
		return providertypes.PromptResult{}, call.Fail(errors.New("prompt succeeded but returned no text parts"))
	}
	call.Done("response_length", len(text), "parts_count", len(response.Parts))

	tokens := response.Info.Tokens
	usage := providertypes.TokenUsage{
		InputTokens:     tokenCount(tokens.Input),
		OutputTokens:    tokenCount(tokens.Output),
		TotalTokens:     tokenCount(tokens.Input) + tokenCount(tokens.Output),
		ReasoningTokens: tokenCount(tokens.Reasoning),
		CacheReadTokens: tokenCount(tokens.Cache.Read),
	}
	result := providertypes.PromptResult{
		Text: text,
		Metadata: providertypes.PromptMetadata{
			Provider: strings.TrimSpace(response.Info.ProviderID),
			Model:    strings.TrimSpace(response.Info.ModelID),
			Agent:    agent,
		},
	}
	if !usage.IsZero() {
		result.Metadata.Usage = &usage
	}
	return result, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func buildBasicAuthHeader(cfg config.OpenCodeProviderConfig) (string, bool) {
	passwordEnv := strings.TrimSpace(cfg.PasswordEnv)
	if passwordEnv == "" {
		return "", false
	}
	password := strings.TrimSpace(os.Getenv(passwordEnv))
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "opencode"
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)), true
}

func parseModelRef(input string) (providerID string, modelID string, ok bool) {
	providerID, modelID, found := strings.Cut(strings.TrimSpace(input), "/")
	if !found {
		return "", "", false
	}
	providerID, modelID = strings.TrimSpace(providerID), strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", "", false
	}
	return providerID, modelID, true
}

func extractText(parts []sdk.Part) string {
	var lines []string
	for _, part := range parts {
		if part.Type != sdk.PartTypeText {
			continue
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

func tokenCount(value float64) int64 {
	if value <= 0 {
		return 0
	}
	return int64(math.Round(value))
}

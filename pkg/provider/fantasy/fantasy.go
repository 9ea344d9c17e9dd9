// Package fantasy is an in-process agent provider: the dialogue history
// lives in this process and every turn replays it to the model.
package fantasy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"commandbot/pkg/config"
	providertypes "commandbot/pkg/provider/types"
)

const (
	component = "provider.fantasy"

	defaultMaxSessions = 256
	defaultSessionTTL  = time.Hour
	defaultMaxHistory  = 40
)

var ErrUnknownSession = errors.New("session is not started or has expired")

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

type generateFunc func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)

// Client keeps one message history per session. Idle sessions expire and
// the least recently used are evicted once the table is full.
type Client struct {
	provider        languageModelProvider
	generate        generateFunc
	requestTimeout  time.Duration
	modelID         string
	systemPrompt    string
	maxHistory      int
	maxOutputTokens *int64
	temperature     *float64

	mu       sync.Mutex
	sessions *expirable.LRU[string, []core.Message]
}

func New(cfg *config.Config) (*Client, error) {
	apiKey := resolveAPIKey(cfg.Providers.OpenAI)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	modelID, err := normalizeModel(cfg.Assistant.Model)
	if err != nil {
		return nil, err
	}

	options := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.Providers.OpenAI.BaseURL); baseURL != "" {
		options = append(options, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Providers.OpenAI.Organization); organization != "" {
		options = append(options, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Providers.OpenAI.Project); project != "" {
		options = append(options, provideropenai.WithProject(project))
	}

	languageModels, err := provideropenai.New(options...)
	if err != nil {
		return nil, fmt.Errorf("initialize openai language models: %w", err)
	}

	client := newClient(languageModels, modelID, cfg.Providers.Fantasy)
	client.requestTimeout = time.Duration(cfg.Providers.OpenAI.RequestTimeoutSeconds) * time.Second
	return client, nil
}

func newClient(provider languageModelProvider, modelID string, cfg config.FantasyProviderConfig) *Client {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	ttl := time.Duration(cfg.SessionTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	maxHistory := cfg.MaxHistoryMessages
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}

	client := &Client{
		provider:     provider,
		generate:     generateWithAgent,
		modelID:      modelID,
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		maxHistory:   maxHistory,
		sessions:     expirable.NewLRU[string, []core.Message](maxSessions, nil, ttl),
	}
	if cfg.MaxOutputTokens > 0 {
		maxTokens := int64(cfg.MaxOutputTokens)
		client.maxOutputTokens = &maxTokens
	}
	if cfg.Temperature > 0 {
		temperature := cfg.Temperature
		client.temperature = &temperature
	}
	return client
}

// Health resolves the configured model.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	call := providertypes.StartCall(component, "health", "model", c.modelID)

	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return call.Fail(fmt.Errorf("health check failed: %w", err))
	}
	call.Done()
	return nil
}

// CreateSession starts an empty history. The title is only logged.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	call := providertypes.StartCall(component, "create_session", "title", strings.TrimSpace(title))

	sessionID := "fantasy-" + uuid.NewString()
	var history []core.Message
	if c.systemPrompt != "" {
		history = append(history, core.Message{
			Role:    core.MessageRoleSystem,
			Content: []core.MessagePart{core.TextPart{Text: c.systemPrompt}},
		})
	}

	c.mu.Lock()
	c.sessions.Add(sessionID, history)
	c.mu.Unlock()

	call.Done("session_id", sessionID)
	return sessionID, nil
}

// Prompt runs one turn against the session history. An empty model uses
// the configured one.
func (c *Client) Prompt(ctx context.Context, sessionID string, prompt string, model string, agent string) (providertypes.PromptResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	sessionID = strings.TrimSpace(sessionID)
	prompt = strings.TrimSpace(prompt)
	call := providertypes.StartCall(component, "prompt", "session_id", sessionID, "model", model, "prompt_length", len(prompt))
	if sessionID == "" {
		return providertypes.PromptResult{}, call.Fail(errors.New("session id is required"))
	}
	if prompt == "" {
		return providertypes.PromptResult{}, call.Fail(errors.New("prompt is required"))
	}

	modelID := c.modelID
	if strings.TrimSpace(model) != "" {
		normalized, err := normalizeModel(model)
		if err != nil {
			return providertypes.PromptResult{}, call.Fail(err)
		}
		modelID = normalized
	}

	history, ok := c.history(sessionID)
	if !ok {
		return providertypes.PromptResult{}, call.Fail(ErrUnknownSession)
	}

	languageModel, err := c.provider.LanguageModel(ctx, modelID)
	if err != nil {
		return providertypes.PromptResult{}, call.Fail(fmt.Errorf("resolve language model: %w", err))
	}

	agentCall := core.AgentCall{
		Prompt:          prompt,
		Messages:        history,
		MaxOutputTokens: c.maxOutputTokens,
		Temperature:     c.temperature,
	}
	result, err := c.generate(ctx, languageModel, agentCall)
	if err != nil {
		return providertypes.PromptResult{}, call.Fail(fmt.Errorf("prompt failed: %w", err))
	}

	text := extractText(result.Response.Content)
	if text == "" {
		return providertypes.PromptResult{}, call.Fail(errors.New("prompt succeeded but returned no text"))
	}

	c.appendHistory(sessionID,
		core.NewUserMessage(prompt),
		core.Message{
			Role:    core.MessageRoleAssistant,
			Content: []core.MessagePart{core.TextPart{Text: text}},
		},
	)
	call.Done("response_length", len(text))

	usage := providertypes.TokenUsage{
		InputTokens:         result.TotalUsage.InputTokens,
		OutputTokens:        result.TotalUsage.OutputTokens,
		TotalTokens:         result.TotalUsage.TotalTokens,
		ReasoningTokens:     result.TotalUsage.ReasoningTokens,
		CacheCreationTokens: result.TotalUsage.CacheCreationTokens,
		CacheReadTokens:     result.TotalUsage.CacheReadTokens,
	}
	metadata := providertypes.PromptMetadata{
		Provider: "openai",
		Model:    modelID,
		Agent:    strings.TrimSpace(agent),
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}
	return providertypes.PromptResult{Text: text, Metadata: metadata}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// history returns a copy of the session's messages.
func (c *Client) history(sessionID string) ([]core.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	history, ok := c.sessions.Get(sessionID)
	if !ok {
		return nil, false
	}
	return append([]core.Message(nil), history...), true
}

func (c *Client) appendHistory(sessionID string, messages ...core.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	history, ok := c.sessions.Get(sessionID)
	if !ok {
		return
	}
	c.sessions.Add(sessionID, trimHistory(append(history, messages...), c.maxHistory))
}

// trimHistory drops the oldest turns beyond limit, keeping a leading
// system message.
func trimHistory(history []core.Message, limit int) []core.Message {
	if len(history) <= limit {
		return history
	}
	var system []core.Message
	if len(history) > 0 && history[0].Role == core.MessageRoleSystem {
		system, history = history[:1], history[1:]
		limit--
	}
	if limit < 0 {
		limit = 0
	}
	kept := history[len(history)-limit:]
	return append(append([]core.Message(nil), system...), kept...)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if envName := strings.TrimSpace(cfg.APIKeyEnv); envName != "" {
		if apiKey := strings.TrimSpace(os.Getenv(envName)); apiKey != "" {
			return apiKey
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// normalizeModel accepts "model" or "openai/model".
func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("assistant.model is required")
	}

	providerID, modelID, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}
	providerID, modelID = strings.TrimSpace(providerID), strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", fmt.Errorf("model %q is invalid", model)
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by the fantasy provider", providerID)
	}
	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	var lines []string
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}
		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}
		if line := strings.TrimSpace(textPart.Text); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func generateWithAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	return core.NewAgent(model).Generate(ctx, call)
}

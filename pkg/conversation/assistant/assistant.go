// Package assistant provides a conversation topic that answers through an
// LLM provider, one provider session per dialogue.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"commandbot/pkg/config"
	"commandbot/pkg/conversation"
	"commandbot/pkg/plugin"
	"commandbot/pkg/provider"
	"commandbot/pkg/stanza"
)

// Name is the catalog key the topic registers under.
const Name = "assistant"

const sessionValue = "assistant.session"

// Register adds the assistant topic to catalog. Nothing is registered
// without a client.
func Register(catalog *plugin.Catalog[conversation.Topic], client provider.Client, defaults config.AssistantConfig) {
	if client == nil {
		return
	}
	catalog.Register(Name, func() conversation.Topic {
		return New(client, defaults.Model, defaults.Agent)
	})
}

// Topic relays each message to the provider and sends back its answer. A
// message equal to the farewell word ends the dialogue.
type Topic struct {
	client   provider.Client
	model    string
	agent    string
	farewell string
	goodbye  string
	log      *slog.Logger
}

type topicConfig struct {
	Model    string `config:"model"`
	Agent    string `config:"agent"`
	Farewell string `config:"farewell"`
	Goodbye  string `config:"goodbye"`
}

// New builds an assistant topic over client.
func New(client provider.Client, model, agent string) *Topic {
	return &Topic{
		client: client,
		model:  strings.TrimSpace(model),
		agent:  strings.TrimSpace(agent),
		log:    slog.Default().With("component", "conversation.assistant"),
	}
}

func (t *Topic) Configure(raw map[string]any) error {
	var cfg topicConfig
	if err := plugin.Decode(raw, &cfg); err != nil {
		return err
	}
	if t.client == nil {
		return errors.New("assistant topic has no provider client")
	}
	if model := strings.TrimSpace(cfg.Model); model != "" {
		t.model = model
	}
	if agent := strings.TrimSpace(cfg.Agent); agent != "" {
		t.agent = agent
	}
	t.farewell = strings.ToLower(strings.TrimSpace(cfg.Farewell))
	t.goodbye = cfg.Goodbye
	if t.goodbye == "" {
		t.goodbye = "Bye."
	}
	return nil
}

// Handle answers the farewell word in place. Provider round trips run as
// background work of the dialogue so the caller's read loop keeps going.
func (t *Topic) Handle(ctx context.Context, c *conversation.Conversation, msg *stanza.Message) (bool, error) {
	prompt := strings.TrimSpace(msg.Body)
	if prompt == "" {
		return true, nil
	}
	if t.farewell != "" && strings.ToLower(prompt) == t.farewell {
		return false, c.Send(t.goodbye)
	}

	c.Go(ctx, func(ctx context.Context) error {
		return t.answer(ctx, c, prompt)
	})
	return true, nil
}

func (t *Topic) answer(ctx context.Context, c *conversation.Conversation, prompt string) error {
	sessionID, err := t.session(ctx, c)
	if err != nil {
		return err
	}

	result, err := t.client.Prompt(ctx, sessionID, prompt, t.model, t.agent)
	if err != nil {
		return fmt.Errorf("prompt assistant: %w", err)
	}
	t.log.Debug("assistant answered", append([]any{"peer", c.Peer().String()}, result.Metadata.LogAttrs()...)...)
	return c.Send(result.Text)
}

// session returns the provider session bound to c, opening one on the
// first message.
func (t *Topic) session(ctx context.Context, c *conversation.Conversation) (string, error) {
	if value, ok := c.Value(sessionValue); ok {
		if id, ok := value.(string); ok && id != "" {
			return id, nil
		}
	}
	id, err := t.client.CreateSession(ctx, "chat with "+c.Peer().Bare().String())
	if err != nil {
		return "", fmt.Errorf("open assistant session: %w", err)
	}
	c.SetValue(sessionValue, id)
	return id, nil
}

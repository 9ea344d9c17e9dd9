package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"commandbot/pkg/config"
	"commandbot/pkg/conversation"
	"commandbot/pkg/plugin"
	providertypes "commandbot/pkg/provider/types"
	"commandbot/pkg/stanza"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu        sync.Mutex
	sessions  int
	prompts   []string
	models    []string
	promptErr error
	// release, when set, holds every prompt until it is closed.
	release chan struct{}
}

func (f *fakeClient) Health(context.Context) error { return nil }

func (f *fakeClient) CreateSession(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return "session-1", nil
}

func (f *fakeClient) Prompt(ctx context.Context, sessionID, prompt, model, _ string) (providertypes.PromptResult, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return providertypes.PromptResult{}, ctx.Err()
		}
	}
	if f.promptErr != nil {
		return providertypes.PromptResult{}, f.promptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, sessionID+":"+prompt)
	f.models = append(f.models, model)
	return providertypes.PromptResult{
		Text:     "answer to " + prompt,
		Metadata: providertypes.PromptMetadata{Provider: "fake", Model: model, Usage: &providertypes.TokenUsage{InputTokens: 3, OutputTokens: 4}},
	}, nil
}

type outbox struct {
	mu   sync.Mutex
	sent []*stanza.Message
}

func (o *outbox) Send(st stanza.Stanza) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, st.(*stanza.Message))
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

func chat(body string) *stanza.Message {
	return chatFrom("peer@example.org/x", body)
}

func chatFrom(from, body string) *stanza.Message {
	return &stanza.Message{Type: stanza.MessageChat, From: from, Thread: "t1", Body: body}
}

func newRouter(t *testing.T, topic conversation.Topic) *conversation.Router {
	t.Helper()
	r, err := conversation.NewRouter(nil, nil, map[string]conversation.Topic{conversation.DefaultTopic: topic})
	require.NoError(t, err)
	return r
}

func TestAssistantKeepsOneSessionPerDialogue(t *testing.T) {
	client := &fakeClient{}
	topic := New(client, "openai/gpt-test", "")
	require.NoError(t, topic.Configure(map[string]any{"farewell": "bye", "goodbye": "See you."}))

	r := newRouter(t, topic)
	out := &outbox{}
	ctx := context.Background()

	require.NoError(t, r.Route(ctx, out, chat("hello")))
	require.NoError(t, r.Route(ctx, out, chat("again")))
	r.Wait()

	require.Equal(t, 1, client.sessions)
	require.Equal(t, []string{"session-1:hello", "session-1:again"}, client.prompts)
	require.Len(t, out.sent, 2)
	require.Equal(t, "answer to hello", out.sent[0].Body)
	require.Equal(t, "t1", out.sent[0].Thread)

	require.NoError(t, r.Route(ctx, out, chat(" BYE ")))
	require.Equal(t, "See you.", out.sent[2].Body)
	require.Zero(t, r.Len())
}

func TestAssistantModelOverride(t *testing.T) {
	client := &fakeClient{}
	topic := New(client, "default-model", "")
	require.NoError(t, topic.Configure(map[string]any{"model": "override-model"}))

	r := newRouter(t, topic)
	require.NoError(t, r.Route(context.Background(), &outbox{}, chat("hi")))
	r.Wait()
	require.Equal(t, []string{"override-model"}, client.models)
}

func TestAssistantProviderFailureEndsDialogue(t *testing.T) {
	topic := New(&fakeClient{promptErr: errors.New("provider down")}, "", "")
	require.NoError(t, topic.Configure(nil))

	r := newRouter(t, topic)
	out := &outbox{}
	require.NoError(t, r.Route(context.Background(), out, chat("hello")))
	r.Wait()

	require.Zero(t, r.Len())
	require.Zero(t, out.count())
}

func TestAssistantDoesNotBlockRouting(t *testing.T) {
	client := &fakeClient{release: make(chan struct{})}
	topic := New(client, "", "")
	require.NoError(t, topic.Configure(nil))

	r := newRouter(t, topic)
	out := &outbox{}
	ctx := context.Background()

	routed := make(chan error, 1)
	go func() {
		err := r.Route(ctx, out, chatFrom("alice@example.org/x", "first"))
		if err == nil {
			err = r.Route(ctx, out, chatFrom("alice@example.org/x", "second"))
		}
		if err == nil {
			err = r.Route(ctx, out, chatFrom("bob@example.org/y", "hello"))
		}
		routed <- err
	}()

	select {
	case err := <-routed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("routing blocked on a pending prompt")
	}
	require.Zero(t, out.count())
	require.Equal(t, 2, r.Len())

	close(client.release)
	r.Wait()

	require.Equal(t, 3, out.count())
	var alice []string
	for _, msg := range out.sent {
		if msg.To == "alice@example.org/x" {
			alice = append(alice, msg.Body)
		}
	}
	require.Equal(t, []string{"answer to first", "answer to second"}, alice)
}

func TestAssistantRejectsUnknownConfig(t *testing.T) {
	require.Error(t, New(&fakeClient{}, "", "").Configure(map[string]any{"temperature": 1}))
}

func TestRegister(t *testing.T) {
	catalog := plugin.NewCatalog[conversation.Topic]("topic")
	Register(catalog, nil, config.AssistantConfig{})
	require.Empty(t, catalog.Names())

	Register(catalog, &fakeClient{}, config.AssistantConfig{Model: "m"})
	require.Equal(t, []string{Name}, catalog.Names())
	topic, err := catalog.New(Name)
	require.NoError(t, err)
	require.NoError(t, topic.Configure(nil))
}

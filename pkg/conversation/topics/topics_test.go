package topics

import (
	"context"
	"strings"
	"testing"

	"commandbot/pkg/conversation"
	"commandbot/pkg/plugin"
	"commandbot/pkg/stanza"
)

type outbox struct{ sent []*stanza.Message }

func (o *outbox) Send(st stanza.Stanza) error {
	o.sent = append(o.sent, st.(*stanza.Message))
	return nil
}

func chat(body string) *stanza.Message {
	return &stanza.Message{Type: stanza.MessageChat, From: "peer@example.org/x", Body: body}
}

func newRouter(t *testing.T, topics map[string]conversation.Topic) *conversation.Router {
	t.Helper()
	r, err := conversation.NewRouter(nil, nil, topics)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func TestIgnoreEndsAfterOneMessage(t *testing.T) {
	r := newRouter(t, map[string]conversation.Topic{conversation.DefaultTopic: &Ignore{}})
	out := &outbox{}

	for _, body := range []string{"hello", "   ", "stop"} {
		if err := r.Route(context.Background(), out, chat(body)); err != nil {
			t.Fatalf("Route: %v", err)
		}
		if r.Len() != 0 {
			t.Fatalf("ignore kept the dialogue after %q", body)
		}
	}
	if len(out.sent) != 0 {
		t.Fatalf("ignore sent %d replies", len(out.sent))
	}
}

func TestEchoRepliesOncePerMessage(t *testing.T) {
	r := newRouter(t, map[string]conversation.Topic{conversation.DefaultTopic: &Echo{}})
	out := &outbox{}

	for i, body := range []string{"first", "second line\nwith newline"} {
		if err := r.Route(context.Background(), out, chat(body)); err != nil {
			t.Fatalf("Route: %v", err)
		}
		if len(out.sent) != i+1 {
			t.Fatalf("sent %d replies after %d messages", len(out.sent), i+1)
		}
		if got := out.sent[i]; got.Body != body || got.To != "peer@example.org/x" {
			t.Fatalf("reply = %#v", got)
		}
		if r.Len() != 1 {
			t.Fatal("echo should keep the dialogue going")
		}
	}
}

func TestSwitchboardChangesTopic(t *testing.T) {
	board := &Switchboard{}
	if err := board.Configure(map[string]any{"greeting": "Hi.", "routes": map[string]any{"Echo": "echo"}}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	r := newRouter(t, map[string]conversation.Topic{conversation.DefaultTopic: board, "echo": &Echo{}})
	out := &outbox{}
	ctx := context.Background()

	_ = r.Route(ctx, out, chat("what?"))
	if !strings.Contains(out.sent[0].Body, "Say one of: echo") || !strings.HasPrefix(out.sent[0].Body, "Hi.") {
		t.Fatalf("menu reply = %q", out.sent[0].Body)
	}

	_ = r.Route(ctx, out, chat(" ECHO "))
	_ = r.Route(ctx, out, chat("ping"))
	if last := out.sent[len(out.sent)-1]; last.Body != "ping" {
		t.Fatalf("after switching, reply = %q", last.Body)
	}
}

func TestSwitchboardLinkedTopics(t *testing.T) {
	board := &Switchboard{}
	if err := board.Configure(map[string]any{"routes": map[string]any{"b": "beta", "a": "alpha"}}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	var linker conversation.Linker = board
	if got := strings.Join(linker.LinkedTopics(), ","); got != "alpha,beta" {
		t.Fatalf("LinkedTopics = %q", got)
	}
}

func TestSwitchboardRequiresRoutes(t *testing.T) {
	if err := (&Switchboard{}).Configure(nil); err == nil {
		t.Fatal("expected error without routes")
	}
}

func TestRegister(t *testing.T) {
	catalog := plugin.NewCatalog[conversation.Topic]("topic")
	Register(catalog)

	names := catalog.Names()
	if strings.Join(names, ",") != "echo,ignore,switchboard" {
		t.Fatalf("names = %v", names)
	}
	topic, err := catalog.New("echo")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := topic.Configure(map[string]any{"prefix": "> "}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
}

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"commandbot/pkg/jid"
	"commandbot/pkg/plugin"
	"commandbot/pkg/stanza"
)

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

// recordingTopic remembers which conversation saw each message.
type recordingTopic struct {
	seen     []*Conversation
	more     bool
	switchTo string
	err      error
}

func (*recordingTopic) Configure(map[string]any) error { return nil }

func (t *recordingTopic) Handle(_ context.Context, c *Conversation, msg *stanza.Message) (bool, error) {
	t.seen = append(t.seen, c)
	if t.err != nil {
		return false, t.err
	}
	if t.switchTo != "" {
		if err := c.ChangeTopic(t.switchTo); err != nil {
			return false, err
		}
	}
	return t.more, c.Send("re: " + msg.Body)
}

func chat(from, thread, body string) *stanza.Message {
	return &stanza.Message{Type: stanza.MessageChat, From: from, Thread: thread, Body: body}
}

func newRouter(t *testing.T, topics map[string]Topic) *Router {
	t.Helper()
	r, err := NewRouter(nil, nil, topics)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func TestNewRouterRequiresDefaultTopic(t *testing.T) {
	if _, err := NewRouter(nil, nil, map[string]Topic{"echo": &recordingTopic{}}); !errors.Is(err, ErrNoDefaultTopic) {
		t.Fatalf("err = %v", err)
	}
}

func TestKeyRequiresPeer(t *testing.T) {
	if _, err := NewKey(jid.JID{}, "t"); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("err = %v", err)
	}

	a, _ := NewKey(jid.MustParse("a@example.org/x"), "")
	b, _ := NewKey(jid.MustParse("a@example.org/x"), "")
	c, _ := NewKey(jid.MustParse("a@example.org/x"), "t")
	if a != b || a == c {
		t.Fatal("key equality must cover peer and thread")
	}
	if a.Bare().Peer().String() != "a@example.org" || !a.Bare().IsBare() {
		t.Fatalf("bare key = %v", a.Bare())
	}
}

func TestSameKeyRoutesToSameConversation(t *testing.T) {
	topic := &recordingTopic{more: true}
	r := newRouter(t, map[string]Topic{DefaultTopic: topic})
	out := &outbox{}
	ctx := context.Background()

	for _, body := range []string{"one", "two"} {
		if err := r.Route(ctx, out, chat("alice@example.org/desk", "t1", body)); err != nil {
			t.Fatalf("Route: %v", err)
		}
	}
	if len(topic.seen) != 2 || topic.seen[0] != topic.seen[1] {
		t.Fatal("same address and thread should share a conversation")
	}

	if err := r.Route(ctx, out, chat("alice@example.org/desk", "t2", "three")); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if topic.seen[2] == topic.seen[0] {
		t.Fatal("different thread should start a new conversation")
	}
	if r.Len() != 2 {
		t.Fatalf("conversations = %d", r.Len())
	}
}

func TestBareSenderMergesWithFullEntry(t *testing.T) {
	topic := &recordingTopic{more: true}
	r := newRouter(t, map[string]Topic{DefaultTopic: topic})
	out := &outbox{}
	ctx := context.Background()

	_ = r.Route(ctx, out, chat("alice@example.org/desk", "t1", "hi"))
	_ = r.Route(ctx, out, chat("alice@example.org", "t1", "again"))

	if topic.seen[0] != topic.seen[1] {
		t.Fatal("bare sender should merge with the full-address conversation")
	}
	if r.Len() != 1 {
		t.Fatalf("conversations = %d, want 1", r.Len())
	}
}

func TestFullSenderMigratesBareEntry(t *testing.T) {
	topic := &recordingTopic{more: true}
	r := newRouter(t, map[string]Topic{DefaultTopic: topic})
	out := &outbox{}
	ctx := context.Background()

	_ = r.Route(ctx, out, chat("bob@example.org", "", "hello"))
	_ = r.Route(ctx, out, chat("bob@example.org/phone", "", "reply"))

	if topic.seen[0] != topic.seen[1] {
		t.Fatal("full sender should take over the bare conversation")
	}
	if r.Len() != 1 {
		t.Fatalf("conversations = %d, want 1", r.Len())
	}

	fullKey, _ := NewKey(jid.MustParse("bob@example.org/phone"), "")
	bareKey, _ := NewKey(jid.MustParse("bob@example.org"), "")
	if _, ok := r.Lookup(fullKey); !ok {
		t.Fatal("conversation should live under the full key")
	}
	if _, ok := r.Lookup(bareKey); ok {
		t.Fatal("bare key should be gone after migration")
	}
	if last := out.sent[len(out.sent)-1]; last.To != "bob@example.org/phone" {
		t.Fatalf("reply addressed to %q after migration", last.To)
	}
}

func TestEndedConversationIsRemoved(t *testing.T) {
	topic := &recordingTopic{more: false}
	r := newRouter(t, map[string]Topic{DefaultTopic: topic})
	out := &outbox{}
	ctx := context.Background()

	_ = r.Route(ctx, out, chat("carol@example.org/x", "", "bye"))
	if r.Len() != 0 {
		t.Fatalf("conversations = %d after end", r.Len())
	}
	_ = r.Route(ctx, out, chat("carol@example.org/x", "", "hello again"))
	if topic.seen[0] == topic.seen[1] {
		t.Fatal("a new message after the end should start a new conversation")
	}
}

type panickingTopic struct{ counts map[string]int }

func (*panickingTopic) Configure(map[string]any) error { return nil }

func (t *panickingTopic) Handle(context.Context, *Conversation, *stanza.Message) (bool, error) {
	t.counts["turns"]++
	return true, nil
}

func TestPanickingTopicEndsConversation(t *testing.T) {
	r := newRouter(t, map[string]Topic{DefaultTopic: &panickingTopic{}})
	out := &outbox{}

	err := r.Route(context.Background(), out, chat("dave@example.org/x", "", "hi"))
	if err == nil {
		t.Fatal("expected an error from the panicking topic")
	}
	if r.Len() != 0 {
		t.Fatalf("conversations = %d after panic", r.Len())
	}
	if len(out.sent) != 0 {
		t.Fatalf("unexpected replies: %#v", out.sent)
	}
}

// deferredTopic replies from background work.
type deferredTopic struct{ fail bool }

func (*deferredTopic) Configure(map[string]any) error { return nil }

func (t *deferredTopic) Handle(ctx context.Context, c *Conversation, msg *stanza.Message) (bool, error) {
	body := msg.Body
	c.Go(ctx, func(context.Context) error {
		if t.fail {
			var counts map[string]int
			counts[body]++
		}
		return c.Send("later: " + body)
	})
	return true, nil
}

func TestBackgroundWorkKeepsOrder(t *testing.T) {
	r := newRouter(t, map[string]Topic{DefaultTopic: &deferredTopic{}})
	out := &outbox{}
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three"} {
		if err := r.Route(ctx, out, chat("erin@example.org/x", "", body)); err != nil {
			t.Fatalf("Route(%q): %v", body, err)
		}
	}
	r.Wait()

	if len(out.sent) != 3 {
		t.Fatalf("sent %d replies, want 3", len(out.sent))
	}
	for i, want := range []string{"later: one", "later: two", "later: three"} {
		if out.sent[i].Body != want {
			t.Fatalf("reply %d = %q, want %q", i, out.sent[i].Body, want)
		}
	}
}

func TestPanickingBackgroundWorkEndsConversation(t *testing.T) {
	r := newRouter(t, map[string]Topic{DefaultTopic: &deferredTopic{fail: true}})
	out := &outbox{}

	if err := r.Route(context.Background(), out, chat("frank@example.org/x", "", "hi")); err != nil {
		t.Fatalf("Route: %v", err)
	}
	r.Wait()

	if r.Len() != 0 {
		t.Fatalf("conversations = %d after failed background work", r.Len())
	}
	if len(out.sent) != 0 {
		t.Fatalf("unexpected replies: %#v", out.sent)
	}
}

func TestChangeTopic(t *testing.T) {
	next := &recordingTopic{more: true}
	first := &recordingTopic{more: true, switchTo: "next"}
	r := newRouter(t, map[string]Topic{DefaultTopic: first, "next": next})
	out := &outbox{}
	ctx := context.Background()

	_ = r.Route(ctx, out, chat("dave@example.org/x", "", "switch"))
	_ = r.Route(ctx, out, chat("dave@example.org/x", "", "now in next"))

	if len(first.seen) != 1 || len(next.seen) != 1 {
		t.Fatalf("first saw %d, next saw %d", len(first.seen), len(next.seen))
	}
	if next.seen[0].TopicName() != "next" {
		t.Fatalf("topic name = %q", next.seen[0].TopicName())
	}
}

func TestUnknownTopicIsConfigurationError(t *testing.T) {
	topic := &recordingTopic{more: true, switchTo: "missing"}
	r := newRouter(t, map[string]Topic{DefaultTopic: topic})

	err := r.Route(context.Background(), &outbox{}, chat("erin@example.org/x", "", "go"))
	var cfgErr *plugin.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Name != "missing" {
		t.Fatalf("err = %v", err)
	}
	if r.Len() != 0 {
		t.Fatal("failed conversation should be removed")
	}
}

func TestRouteIgnoresNonChat(t *testing.T) {
	topic := &recordingTopic{more: true}
	r := newRouter(t, map[string]Topic{DefaultTopic: topic})
	ctx := context.Background()

	_ = r.Route(ctx, &outbox{}, &stanza.Message{Type: stanza.MessageGroupChat, From: "room@muc/x", Body: "hi"})
	_ = r.Route(ctx, &outbox{}, &stanza.Message{Type: stanza.MessageChat, From: "a@b/c"})
	if len(topic.seen) != 0 {
		t.Fatalf("topic saw %d ignored messages", len(topic.seen))
	}
	if err := r.Route(ctx, &outbox{}, chat("", "", "hi")); err == nil {
		t.Fatal("message without sender should fail")
	}
}

func TestSendSkipsEmptyBody(t *testing.T) {
	r := newRouter(t, map[string]Topic{DefaultTopic: &recordingTopic{}})
	out := &outbox{}
	key, _ := NewKey(jid.MustParse("a@b/c"), "t")
	c := r.resolve(key)
	c.touch(out, time.Now())

	if err := c.Send(""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(out.sent) != 1 || out.sent[0].Thread != "t" || out.sent[0].Type != stanza.MessageChat {
		t.Fatalf("sent = %#v", out.sent)
	}

	c.SetValue("k", 1)
	if v, ok := c.Value("k"); !ok || v.(int) != 1 {
		t.Fatalf("value = %v", v)
	}
}

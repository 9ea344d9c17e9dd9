package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"commandbot/pkg/jid"
	"commandbot/pkg/metrics"
	"commandbot/pkg/stanza"
)

// DefaultTopic is the name new conversations start in.
const DefaultTopic = ""

var ErrNoDefaultTopic = errors.New("no default topic configured")

// Router maps dialogue keys to live conversations and delivers chat
// messages to them.
type Router struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	topics  map[string]Topic
	now     func() time.Time

	mu            sync.Mutex
	conversations map[Key]*Conversation

	inflight sync.WaitGroup
}

// NewRouter builds a router over configured topics. topics must hold an
// entry under DefaultTopic.
func NewRouter(log *slog.Logger, m *metrics.Metrics, topics map[string]Topic) (*Router, error) {
	if _, ok := topics[DefaultTopic]; !ok {
		return nil, ErrNoDefaultTopic
	}
	if log == nil {
		log = slog.Default()
	}

	copied := make(map[string]Topic, len(topics))
	for name, topic := range topics {
		copied[name] = topic
	}

	return &Router{
		log:           log.With("component", "conversation.router"),
		metrics:       m,
		topics:        copied,
		now:           time.Now,
		conversations: make(map[Key]*Conversation),
	}, nil
}

// Wait blocks until all background work queued by conversations has
// finished.
func (r *Router) Wait() {
	r.inflight.Wait()
}

// Topic returns the topic configured under name.
func (r *Router) Topic(name string) (Topic, bool) {
	topic, ok := r.topics[name]
	return topic, ok
}

// TopicNames lists configured topic names, the default topic first.
func (r *Router) TopicNames() []string {
	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len is the number of live conversations.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conversations)
}

// Lookup returns the conversation stored under key exactly.
func (r *Router) Lookup(key Key) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[key]
	return c, ok
}

// Route delivers a chat message to its conversation, replying through out.
// Messages that are not non-empty chat messages are ignored.
func (r *Router) Route(ctx context.Context, out stanza.Sender, msg *stanza.Message) error {
	if msg.Type != stanza.MessageChat || msg.Body == "" {
		return nil
	}

	from, err := jid.Parse(msg.From)
	if err != nil {
		return fmt.Errorf("route message: invalid sender %q: %w", msg.From, err)
	}
	key, err := NewKey(from, msg.Thread)
	if err != nil {
		return fmt.Errorf("route message: %w", err)
	}

	c := r.resolve(key)
	c.touch(out, r.now())

	continues, err := c.handle(ctx, msg)
	if err != nil || !continues {
		r.remove(c)
		if err != nil {
			return fmt.Errorf("conversation %s: %w", key, err)
		}
		r.log.Debug("conversation ended", "key", key.String())
	}
	return nil
}

// resolve finds or creates the conversation for key.
func (r *Router) resolve(key Key) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conversations[key]; ok {
		return c
	}

	if !key.IsBare() {
		bare := key.Bare()
		if c, ok := r.conversations[bare]; ok {
			// affinity moves from the bare address to the resource that replied
			delete(r.conversations, bare)
			r.conversations[key] = c
			c.mu.Lock()
			c.key = key
			c.mu.Unlock()
			r.metrics.ConversationEvent("migrated")
			r.log.Debug("conversation migrated", "from", bare.String(), "to", key.String())
			return c
		}
	} else if c := r.latestForBare(key); c != nil {
		return c
	}

	c := &Conversation{
		router:    r,
		log:       r.log.With("peer", key.Peer().String(), "thread", key.Thread()),
		key:       key,
		topic:     r.topics[DefaultTopic],
		topicName: DefaultTopic,
	}
	r.conversations[key] = c
	r.metrics.ConversationEvent("started")
	r.metrics.SetConversations(len(r.conversations))
	r.log.Debug("conversation started", "key", key.String())
	return c
}

// latestForBare finds the most recently active full-address conversation
// sharing bare's address and thread. The caller holds r.mu.
func (r *Router) latestForBare(bare Key) *Conversation {
	var (
		latest     *Conversation
		latestSeen time.Time
	)
	for key, c := range r.conversations {
		if key.IsBare() || key.Thread() != bare.Thread() || !key.Peer().SameBare(bare.Peer()) {
			continue
		}
		c.mu.Lock()
		seen := c.lastActive
		c.mu.Unlock()
		if latest == nil || seen.After(latestSeen) {
			latest, latestSeen = c, seen
		}
	}
	return latest
}

func (r *Router) remove(c *Conversation) {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conversations[key] == c {
		delete(r.conversations, key)
		r.metrics.ConversationEvent("ended")
		r.metrics.SetConversations(len(r.conversations))
	}
}

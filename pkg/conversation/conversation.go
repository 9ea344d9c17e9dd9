package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"commandbot/pkg/jid"
	"commandbot/pkg/plugin"
	"commandbot/pkg/stanza"
)

// Topic governs how one dialogue responds, turn by turn. A topic instance
// is shared by every conversation currently in it and must keep
// per-dialogue state on the Conversation.
type Topic interface {
	Configure(cfg map[string]any) error
	// Handle reacts to msg, replying through c. It returns false when the
	// dialogue is over.
	Handle(ctx context.Context, c *Conversation, msg *stanza.Message) (bool, error)
}

// Linker is a topic that switches dialogues to other topics by name.
type Linker interface {
	// LinkedTopics names every topic the topic may switch to.
	LinkedTopics() []string
}

// Conversation is one live dialogue with a peer.
type Conversation struct {
	router *Router
	log    *slog.Logger

	// handling serializes messages within the dialogue.
	handling sync.Mutex

	mu         sync.Mutex
	key        Key
	out        stanza.Sender
	topic      Topic
	topicName  string
	values     map[string]any
	lastActive time.Time
	// pending closes when the most recently queued background work ends.
	pending <-chan struct{}
}

func (c *Conversation) Peer() jid.JID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key.Peer()
}

func (c *Conversation) Thread() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key.Thread()
}

// TopicName is the configured name of the current topic.
func (c *Conversation) TopicName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topicName
}

// Send replies to the peer on the dialogue's thread. Empty bodies are not
// sent.
func (c *Conversation) Send(body string) error {
	c.mu.Lock()
	key, out := c.key, c.out
	c.mu.Unlock()

	if body == "" {
		c.log.Debug("skipping empty reply", "peer", key.Peer().String())
		return nil
	}
	if out == nil {
		return errors.New("conversation has no sender")
	}
	msg := &stanza.Message{
		Type:   stanza.MessageChat,
		To:     key.Peer().String(),
		Thread: key.Thread(),
		Body:   body,
	}
	if err := out.Send(msg); err != nil {
		return fmt.Errorf("send reply to %s: %w", key.Peer(), err)
	}
	return nil
}

// ChangeTopic switches the dialogue to the topic configured under name. An
// unknown name is a configuration error.
func (c *Conversation) ChangeTopic(name string) error {
	topic, ok := c.router.Topic(name)
	if !ok {
		return &plugin.ConfigurationError{Kind: "topic", Name: name, Err: errors.New("no topic configured under this name")}
	}

	c.mu.Lock()
	previous := c.topicName
	c.topic, c.topicName = topic, name
	c.mu.Unlock()

	c.log.Debug("topic changed", "from", previous, "to", name)
	return nil
}

// Value returns dialogue-scoped state stored by a topic.
func (c *Conversation) Value(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	return value, ok
}

func (c *Conversation) SetValue(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

// Go runs work off the caller's goroutine, after any work the dialogue
// queued before it. A failing or panicking work item ends the dialogue.
// Work still queued when ctx ends is skipped.
func (c *Conversation) Go(ctx context.Context, work func(ctx context.Context) error) {
	done := make(chan struct{})
	c.mu.Lock()
	previous := c.pending
	c.pending = done
	c.mu.Unlock()

	c.router.inflight.Add(1)
	go func() {
		defer c.router.inflight.Done()
		defer close(done)
		if previous != nil {
			select {
			case <-previous:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := c.runBackground(ctx, work); err != nil {
			c.log.Warn("background work failed", "topic", c.TopicName(), "error", err)
			c.router.remove(c)
		}
	}()
}

func (c *Conversation) runBackground(ctx context.Context, work func(ctx context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("background work panicked: %v", recovered)
		}
	}()
	return work(ctx)
}

// handle passes msg to the current topic. A panicking topic ends the
// dialogue with an error.
func (c *Conversation) handle(ctx context.Context, msg *stanza.Message) (continues bool, err error) {
	c.handling.Lock()
	defer c.handling.Unlock()

	c.mu.Lock()
	topic, name := c.topic, c.topicName
	c.mu.Unlock()

	defer func() {
		if recovered := recover(); recovered != nil {
			continues = false
			err = fmt.Errorf("topic %q panicked: %v", name, recovered)
		}
	}()
	return topic.Handle(ctx, c, msg)
}

func (c *Conversation) touch(out stanza.Sender, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = out
	c.lastActive = now
}

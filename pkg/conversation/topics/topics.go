package topics

import (
	"context"
	"errors"
	"sort"
	"strings"

	"commandbot/pkg/conversation"
	"commandbot/pkg/plugin"
	"commandbot/pkg/stanza"
)

// Register adds the built-in topics to catalog under their configuration
// names.
func Register(catalog *plugin.Catalog[conversation.Topic]) {
	catalog.Register("ignore", func() conversation.Topic { return &Ignore{} })
	catalog.Register("echo", func() conversation.Topic { return &Echo{} })
	catalog.Register("switchboard", func() conversation.Topic { return &Switchboard{} })
}

// Ignore ends every dialogue after one message without replying.
type Ignore struct{}

func (*Ignore) Configure(cfg map[string]any) error {
	return plugin.Decode(cfg, &struct{}{})
}

func (*Ignore) Handle(context.Context, *conversation.Conversation, *stanza.Message) (bool, error) {
	return false, nil
}

// Echo repeats every message back to its sender and never ends the
// dialogue.
type Echo struct {
	prefix string
}

type echoConfig struct {
	Prefix string `config:"prefix"`
}

func (e *Echo) Configure(raw map[string]any) error {
	var cfg echoConfig
	if err := plugin.Decode(raw, &cfg); err != nil {
		return err
	}
	e.prefix = cfg.Prefix
	return nil
}

func (e *Echo) Handle(_ context.Context, c *conversation.Conversation, msg *stanza.Message) (bool, error) {
	return true, c.Send(e.prefix + msg.Body)
}

// Switchboard moves a dialogue to another topic when the peer sends one of
// its keywords, and lists the keywords otherwise.
type Switchboard struct {
	greeting string
	routes   map[string]string
}

type switchboardConfig struct {
	Greeting string            `config:"greeting"`
	Routes   map[string]string `config:"routes"`
}

func (s *Switchboard) Configure(raw map[string]any) error {
	var cfg switchboardConfig
	if err := plugin.Decode(raw, &cfg); err != nil {
		return err
	}
	if len(cfg.Routes) == 0 {
		return errors.New("switchboard needs at least one route")
	}

	s.greeting = cfg.Greeting
	s.routes = make(map[string]string, len(cfg.Routes))
	for keyword, topic := range cfg.Routes {
		s.routes[strings.ToLower(strings.TrimSpace(keyword))] = topic
	}
	return nil
}

// LinkedTopics lists the route targets in keyword order.
func (s *Switchboard) LinkedTopics() []string {
	keywords := make([]string, 0, len(s.routes))
	for keyword := range s.routes {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)

	targets := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		targets = append(targets, s.routes[keyword])
	}
	return targets
}

func (s *Switchboard) Handle(_ context.Context, c *conversation.Conversation, msg *stanza.Message) (bool, error) {
	keyword := strings.ToLower(strings.TrimSpace(msg.Body))
	if topic, ok := s.routes[keyword]; ok {
		if err := c.ChangeTopic(topic); err != nil {
			return false, err
		}
		return true, c.Send("Switched to " + keyword + ".")
	}

	keywords := make([]string, 0, len(s.routes))
	for keyword := range s.routes {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)

	reply := "Say one of: " + strings.Join(keywords, ", ")
	if s.greeting != "" {
		reply = s.greeting + "\n" + reply
	}
	return true, c.Send(reply)
}

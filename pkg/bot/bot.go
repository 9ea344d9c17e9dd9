// Package bot assembles the command bot: the query chain, discovery, ad-hoc
// commands and conversations behind one stanza handler, and the supervisor
// that keeps it connected.
package bot

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"

	"commandbot/pkg/command"
	"commandbot/pkg/command/examples"
	"commandbot/pkg/config"
	"commandbot/pkg/conversation"
	"commandbot/pkg/conversation/assistant"
	"commandbot/pkg/conversation/topics"
	"commandbot/pkg/disco"
	"commandbot/pkg/dispatch"
	"commandbot/pkg/metrics"
	"commandbot/pkg/plugin"
	"commandbot/pkg/provider"
	"commandbot/pkg/roster"
	"commandbot/pkg/stanza"
)

// Name is the software name reported through version and discovery.
const Name = "CommandBot"

// fallbackTopic answers when no topic is configured at all.
const fallbackTopic = "ignore"

// Options configures New.
type Options struct {
	Config *config.Config
	// Provider backs the assistant topic; nil leaves it unavailable.
	Provider provider.Client
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Bot routes the stanzas of an online session. It implements Handler.
type Bot struct {
	log       *slog.Logger
	packetLog bool
	metrics   *metrics.Metrics

	Chain    *dispatch.Chain
	Registry *disco.Registry
	Commands *command.Dispatcher
	Sessions *command.SessionTable
	Router   *conversation.Router
	Roster   *roster.Roster
}

// New builds a bot from configuration. Command and topic entries that fail
// to configure are logged and skipped.
func New(opts Options) (*Bot, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config

	b := &Bot{
		log:       log.With("component", "bot"),
		packetLog: cfg.Connection.PacketLog,
		metrics:   opts.Metrics,
		Roster:    roster.New(),
	}

	root := &disco.StaticNode{
		Info: disco.Info{
			Identities: []stanza.Identity{{Category: "client", Type: "bot", Name: Name}},
			Features: []string{
				stanza.NSDiscoInfo,
				stanza.NSDiscoItems,
				stanza.NSVersion,
				stanza.NSCommands,
			},
		},
	}
	b.Registry = disco.NewRegistry(root)
	b.Sessions = command.NewSessionTable(cfg.Sessions.MaxSessions, cfg.Sessions.TTL(), opts.Metrics)
	b.Commands = command.NewDispatcher(log, b.Registry, b.Sessions, opts.Metrics)
	root.Children = []disco.Node{b.Commands}

	for _, handler := range b.configureCommands(CommandCatalog(b.Roster), cfg.Commands) {
		b.Commands.Add(handler)
	}

	topicMap := b.configureTopics(TopicCatalog(opts.Provider, cfg.Assistant), cfg.Topics)
	router, err := conversation.NewRouter(log, opts.Metrics, topicMap)
	if err != nil {
		return nil, fmt.Errorf("build conversation router: %w", err)
	}
	b.Router = router

	b.Chain = dispatch.NewChain(log, opts.Metrics,
		dispatch.Query("version", dispatch.NewVersionHandler(Name), opts.Metrics),
		dispatch.Query("disco", b.Registry, opts.Metrics),
		b.Commands.Responder(),
		dispatch.Unimplemented(opts.Metrics),
	)
	return b, nil
}

// CommandCatalog lists the command implementations that can be configured.
func CommandCatalog(presence examples.PresenceSource) *plugin.Catalog[command.Handler] {
	catalog := plugin.NewCatalog[command.Handler]("command")
	examples.Register(catalog, presence)
	return catalog
}

// TopicCatalog lists the topic implementations that can be configured.
// The assistant topic is only present when client is non-nil.
func TopicCatalog(client provider.Client, defaults config.AssistantConfig) *plugin.Catalog[conversation.Topic] {
	catalog := plugin.NewCatalog[conversation.Topic]("topic")
	topics.Register(catalog)
	assistant.Register(catalog, client, defaults)
	return catalog
}

func (b *Bot) configureCommands(catalog *plugin.Catalog[command.Handler], entries []config.PluginConfig) []command.Handler {
	handlers := make([]command.Handler, 0, len(entries))
	for _, entry := range entries {
		handler, err := catalog.New(entry.Name)
		if err == nil {
			if cfgErr := handler.Configure(entry.Config); cfgErr != nil {
				err = &plugin.ConfigurationError{Kind: "command", Name: entry.Name, Err: cfgErr}
			}
		}
		if err != nil {
			b.log.Error("skipping command", "name", entry.Name, "error", err)
			continue
		}
		handlers = append(handlers, handler)
	}
	return handlers
}

// configureTopics builds the router's topic map. The entry marked default,
// or else the first usable one, is also registered as the default topic.
// Topics that switch to unconfigured names are skipped.
func (b *Bot) configureTopics(catalog *plugin.Catalog[conversation.Topic], entries []config.PluginConfig) map[string]conversation.Topic {
	type built struct {
		name      string
		topic     conversation.Topic
		isDefault bool
	}

	var usable []built
	configured := make(map[string]conversation.Topic, len(entries)+1)
	for _, entry := range entries {
		topic, err := catalog.New(entry.Name)
		if err == nil {
			if cfgErr := topic.Configure(entry.Config); cfgErr != nil {
				err = &plugin.ConfigurationError{Kind: "topic", Name: entry.Name, Err: cfgErr}
			}
		}
		if err != nil {
			b.log.Error("skipping topic", "name", entry.Name, "error", err)
			continue
		}

		name := entry.TopicName()
		if _, exists := configured[name]; exists {
			b.log.Warn("topic name configured twice, keeping the last", "name", name)
		}
		configured[name] = topic
		usable = append(usable, built{name: name, topic: topic, isDefault: entry.Default})
	}

	// dropping one topic may strand another that links to it
	for pruned := true; pruned; {
		pruned = false
		for name, topic := range configured {
			missing := b.missingLinks(topic, configured)
			if len(missing) == 0 {
				continue
			}
			err := &plugin.ConfigurationError{Kind: "topic", Name: name, Err: fmt.Errorf("links to unconfigured topics %v", missing)}
			b.log.Error("skipping topic", "name", name, "error", err)
			delete(configured, name)
			pruned = true
		}
	}

	var first, marked conversation.Topic
	for _, entry := range usable {
		if configured[entry.name] != entry.topic {
			continue
		}
		if first == nil {
			first = entry.topic
		}
		if entry.isDefault && marked == nil {
			marked = entry.topic
		}
	}

	switch {
	case marked != nil:
		configured[conversation.DefaultTopic] = marked
	case first != nil:
		configured[conversation.DefaultTopic] = first
	default:
		b.log.Warn("no topics configured, chat messages will be ignored")
		configured[conversation.DefaultTopic] = &topics.Ignore{}
		configured[fallbackTopic] = configured[conversation.DefaultTopic]
	}
	return configured
}

// missingLinks lists the topics linker may switch to that are not in
// configured. The default topic always resolves.
func (b *Bot) missingLinks(topic conversation.Topic, configured map[string]conversation.Topic) []string {
	linker, ok := topic.(conversation.Linker)
	if !ok {
		return nil
	}
	var missing []string
	for _, target := range linker.LinkedTopics() {
		if target == conversation.DefaultTopic {
			continue
		}
		if _, ok := configured[target]; !ok {
			missing = append(missing, target)
		}
	}
	return missing
}

// Online clears per-connection state when a new session comes up.
func (b *Bot) Online(stanza.Sender) {
	b.Roster.Reset()
}

// HandleStanza routes one inbound stanza. Queries go through the chain,
// chat messages to their conversation and presence into the roster.
func (b *Bot) HandleStanza(ctx context.Context, out stanza.Sender, st stanza.Stanza) {
	b.metrics.InboundStanza(st.StanzaKind())
	if b.packetLog {
		b.logPacket(st)
	}

	switch st := st.(type) {
	case *stanza.IQ:
		b.Chain.Dispatch(ctx, out, st)
	case *stanza.Message:
		if err := b.Router.Route(ctx, out, st); err != nil {
			b.log.Warn("message routing failed", "from", st.From, "error", err)
		}
	case *stanza.Presence:
		b.Roster.Update(st)
	}
}

func (b *Bot) logPacket(st stanza.Stanza) {
	raw, err := xml.Marshal(st)
	if err != nil {
		b.log.Debug("inbound stanza", "kind", st.StanzaKind(), "error", err)
		return
	}
	b.log.Debug("inbound stanza", "kind", st.StanzaKind(), "xml", string(raw))
}

package bot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"commandbot/pkg/bus"
	"commandbot/pkg/channel"
	"commandbot/pkg/channel/telegram"
	"commandbot/pkg/config"
	"commandbot/pkg/jid"
	"commandbot/pkg/metrics"
	"commandbot/pkg/provider"
	"commandbot/pkg/status"
	"commandbot/pkg/xmpp"
)

// Service runs the bot with everything around it: the supervised XMPP
// session, the optional status server and any bridged chat channels.
type Service struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	events  *bus.Bus

	Bot        *Bot
	supervisor *Supervisor
	status     *status.Server
	channels   []channel.Adapter
}

// ServiceOptions configures NewService.
type ServiceOptions struct {
	Config   *config.Config
	Provider provider.Client
	// Transport replaces dialing the configured server; tests use it.
	Transport Transport
	Log       *slog.Logger
}

func NewService(opts ServiceOptions) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	account, err := jid.Parse(cfg.Connection.JID)
	if err != nil {
		return nil, fmt.Errorf("connection.jid: %w", err)
	}

	m := metrics.New()
	events := bus.New()

	b, err := New(Options{Config: cfg, Provider: opts.Provider, Metrics: m, Log: log})
	if err != nil {
		return nil, err
	}

	transport := opts.Transport
	if transport == nil {
		transport = newDialTransport(cfg.Connection, account.Domain, log)
	}

	supervisor, err := NewSupervisor(SupervisorConfig{
		Transport:      transport,
		Negotiator:     NewNegotiator(log),
		Credentials:    xmpp.Credentials{JID: account, Password: cfg.Connection.ResolvePassword()},
		Handler:        b,
		ReconnectDelay: cfg.Connection.ReconnectDelay(),
		ConnectTimeout: cfg.Connection.ConnectTimeout(),
		Priority:       cfg.Connection.PresencePriority(),
		Bus:            events,
		Metrics:        m,
		Log:            log,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		log:        log.With("component", "bot.service"),
		metrics:    m,
		events:     events,
		Bot:        b,
		supervisor: supervisor,
	}
	if cfg.Status.Enabled {
		s.status = status.New(cfg.Status, m, log)
	}
	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("initialize telegram channel: %w", err)
		}
		s.channels = append(s.channels, adapter)
	}
	return s, nil
}

// newDialTransport dials the configured server, resolving it through SRV
// records unless a host is given.
func newDialTransport(cfg config.ConnectionConfig, domain string, log *slog.Logger) Transport {
	dialer := &xmpp.Dialer{
		Host:      strings.TrimSpace(cfg.Host),
		Port:      cfg.Port,
		DirectTLS: cfg.TLS,
		TLSConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		Proxy:   strings.TrimSpace(cfg.Proxy),
		Timeout: cfg.ConnectTimeout(),
		Log:     log,
	}
	if dialer.Host == "" {
		resolver, err := xmpp.NewResolver()
		if err != nil {
			log.Warn("srv resolution unavailable, dialing the domain directly", "error", err)
		} else {
			dialer.Resolver = resolver
		}
	}

	return TransportFunc(func(ctx context.Context) (Stream, error) {
		return dialer.Connect(ctx, domain)
	})
}

// Run blocks until ctx is done or a component fails.
func (s *Service) Run(ctx context.Context) error {
	defer s.events.Close()

	g, ctx := errgroup.WithContext(ctx)
	if s.status != nil {
		s.status.Follow(ctx, s.events)
		g.Go(func() error { return s.status.Run(ctx) })
	}

	g.Go(func() error { return s.supervisor.Run(ctx) })

	handler := channel.RouterHandler(s.Bot.Router)
	for _, adapter := range s.channels {
		g.Go(func() error {
			s.publishChannel(ctx, adapter.Name(), "running", nil)
			err := adapter.Run(ctx, handler)
			s.publishChannel(ctx, adapter.Name(), "stopped", err)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	// background conversation work observes ctx and drains promptly
	s.Bot.Router.Wait()
	return err
}

// State is the supervisor's current connection state.
func (s *Service) State() State {
	return s.supervisor.State()
}

// Events exposes the lifecycle bus.
func (s *Service) Events() *bus.Bus {
	return s.events
}

func (s *Service) publishChannel(ctx context.Context, name, state string, err error) {
	event := bus.Event{Type: bus.EventChannelState, Channel: name, State: state}
	if err != nil {
		event.Error = err.Error()
	}
	s.events.Publish(context.WithoutCancel(ctx), event)
}

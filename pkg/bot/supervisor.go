package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"commandbot/pkg/bus"
	"commandbot/pkg/metrics"
	"commandbot/pkg/stanza"
	"commandbot/pkg/xmpp"
)

// State is where the supervisor is in its connection cycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Online
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Online:
		return "online"
	default:
		return "disconnected"
	}
}

// Transport opens streams to the server.
type Transport interface {
	Connect(ctx context.Context) (Stream, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context) (Stream, error)

func (f TransportFunc) Connect(ctx context.Context) (Stream, error) { return f(ctx) }

// Handler consumes the stanzas of an online session.
type Handler interface {
	// Online is called once per session, before the first stanza.
	Online(out stanza.Sender)
	HandleStanza(ctx context.Context, out stanza.Sender, st stanza.Stanza)
}

// SupervisorConfig holds the supervisor's collaborators and settings.
type SupervisorConfig struct {
	Transport   Transport
	Negotiator  *Negotiator
	Credentials xmpp.Credentials
	Handler     Handler
	// ReconnectDelay is waited after every failed session.
	ReconnectDelay time.Duration
	// ConnectTimeout bounds dialing and, separately, authentication. Zero
	// means no bound.
	ConnectTimeout time.Duration
	// Priority is announced in the initial presence.
	Priority int
	Bus      *bus.Bus
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Supervisor keeps one authenticated session alive: connect, log in, pump
// stanzas to the handler until the stream fails, wait, repeat.
type Supervisor struct {
	cfg   SupervisorConfig
	log   *slog.Logger
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Negotiator == nil {
		cfg.Negotiator = NewNegotiator(cfg.Log)
	}
	return &Supervisor{
		cfg:   cfg,
		log:   cfg.Log.With("component", "bot.supervisor"),
		after: time.After,
	}, nil
}

// State is the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError is the failure that ended the most recent session.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start launches the connection loop. Starting a running supervisor does
// nothing.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.loop(ctx)
	}(s.done)
}

// Stop ends the loop, closing any open stream. It is safe to call more
// than once and before Start.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until a started loop has exited.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Run starts the loop and blocks until ctx is done or Stop is called.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Start(ctx)
	s.Wait()
	return nil
}

func (s *Supervisor) loop(ctx context.Context) {
	for ctx.Err() == nil {
		err := s.session(ctx)
		s.setState(ctx, Disconnected)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.log.Error("session ended", "error", err, "retry_in", s.cfg.ReconnectDelay.String())

		select {
		case <-ctx.Done():
			return
		case <-s.after(s.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to failure. It always returns a
// non-nil error unless ctx was canceled.
func (s *Supervisor) session(ctx context.Context) error {
	s.setState(ctx, Connecting)
	s.cfg.Metrics.ConnectAttempt()

	connectCtx, cancel := s.bounded(ctx)
	stream, err := s.cfg.Transport.Connect(connectCtx)
	cancel()
	if err != nil {
		return s.fail(ctx, "connect", bus.EventConnectFailed, &TransportError{Op: "connect", Err: err})
	}
	defer func() {
		if err := stream.Close(); err != nil {
			s.log.Debug("stream close", "error", err)
		}
	}()
	// Next has no context; closing the stream is what unblocks it.
	stopWatch := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stopWatch()

	s.setState(ctx, Authenticating)
	authCtx, cancel := s.bounded(ctx)
	err = s.cfg.Negotiator.Authenticate(authCtx, stream, s.cfg.Credentials)
	cancel()
	if err != nil {
		return s.fail(ctx, "auth", bus.EventAuthFailed, err)
	}

	s.setState(ctx, Online)
	s.cfg.Handler.Online(stream)
	if err := stream.Send(&stanza.Presence{Priority: s.cfg.Priority}); err != nil {
		return s.fail(ctx, "stream", bus.EventStreamFailed, &TransportError{Op: "send presence", Err: err})
	}

	for {
		st, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return s.fail(ctx, "stream", bus.EventStreamFailed, &TransportError{Op: "read", Err: err})
		}
		s.cfg.Handler.HandleStanza(ctx, stream, st)
	}
}

func (s *Supervisor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ConnectTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.ConnectTimeout)
}

func (s *Supervisor) fail(ctx context.Context, stage string, event bus.EventType, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	s.cfg.Metrics.SessionFailure(stage)
	s.cfg.Bus.Publish(ctx, bus.Event{Type: event, Error: err.Error()})
	return err
}

func (s *Supervisor) setState(ctx context.Context, state State) {
	s.mu.Lock()
	previous := s.state
	s.state = state
	s.mu.Unlock()
	if previous == state {
		return
	}

	s.cfg.Metrics.SetSessionState(state.String())
	s.log.Info("state changed", "from", previous.String(), "to", state.String())
	// Disconnected is still published after a stop.
	s.cfg.Bus.Publish(context.WithoutCancel(ctx), bus.Event{Type: bus.EventStateChanged, State: state.String()})
}

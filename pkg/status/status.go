// Package status serves the bot's health, readiness and metrics over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"commandbot/pkg/bus"
	"commandbot/pkg/config"
	"commandbot/pkg/metrics"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 18790

	stateOnline = "online"
)

// Server tracks lifecycle events from the bus and reports them.
type Server struct {
	cfg     config.StatusConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu            sync.RWMutex
	startedAt     time.Time
	state         string
	onlineSince   time.Time
	lastError     string
	lastErrorAt   time.Time
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	State         string                  `json:"state"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	OnlineSince   string                  `json:"online_since,omitempty"`
	LastError     string                  `json:"last_error,omitempty"`
	LastErrorAt   string                  `json:"last_error_at,omitempty"`
	Channels      map[string]channelState `json:"channels"`
}

func New(cfg config.StatusConfig, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:           cfg,
		log:           log.With("component", "status.server"),
		metrics:       m,
		now:           time.Now,
		startedAt:     time.Now().UTC(),
		state:         "disconnected",
		channelStates: make(map[string]channelState),
	}
}

// Follow subscribes to events before returning, then applies them in the
// background until ctx is done or the bus closes.
func (s *Server) Follow(ctx context.Context, events *bus.Bus) {
	if events == nil {
		return
	}
	ch, unsubscribe := events.Subscribe(ctx, 0)
	go func() {
		defer unsubscribe()
		for event := range ch {
			s.Apply(event)
		}
	}()
}

// Apply folds one lifecycle event into the reported status.
func (s *Server) Apply(event bus.Event) {
	at := event.At
	if at.IsZero() {
		at = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch event.Type {
	case bus.EventStateChanged:
		if event.State == stateOnline && s.state != stateOnline {
			s.onlineSince = at
		}
		if event.State != stateOnline {
			s.onlineSince = time.Time{}
		}
		s.state = event.State
	case bus.EventConnectFailed, bus.EventAuthFailed, bus.EventStreamFailed:
		s.lastError = event.Error
		s.lastErrorAt = at
	case bus.EventChannelState:
		s.channelStates[event.Channel] = channelState{
			Running: event.State == "running",
			Error:   event.Error,
		}
	}
}

// Handler routes the status endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/status", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	return r
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHost
	}
	port := s.cfg.Port
	if port <= 0 {
		port = defaultPort
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info("Status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start status server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Server) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Server) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	return statusResponse{
		Status:        status,
		State:         s.state,
		UptimeSeconds: int64(s.now().Sub(s.startedAt).Seconds()),
		OnlineSince:   formatTime(s.onlineSince),
		LastError:     s.lastError,
		LastErrorAt:   formatTime(s.lastErrorAt),
		Channels:      channels,
	}
}

// isReady holds only while the XMPP session is online.
func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateOnline
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

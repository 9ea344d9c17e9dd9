package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's collectors on a private registry. A nil *Metrics
// records nothing, so components can take one unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	connectAttempts    prometheus.Counter
	sessionFailures    *prometheus.CounterVec
	sessionState       *prometheus.GaugeVec
	inboundStanzas     *prometheus.CounterVec
	queries            *prometheus.CounterVec
	conversations      prometheus.Gauge
	commandSessions    prometheus.Gauge
	conversationEvents *prometheus.CounterVec
}

// States tracked by the session state gauge.
var sessionStates = []string{"disconnected", "connecting", "authenticating", "online"}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commandbot_connect_attempts_total",
			Help: "Total number of connection attempts",
		}),
		sessionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commandbot_session_failures_total",
			Help: "Session failures by stage",
		}, []string{"stage"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "commandbot_session_state",
			Help: "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		inboundStanzas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commandbot_inbound_stanzas_total",
			Help: "Inbound stanzas by kind",
		}, []string{"kind"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commandbot_queries_total",
			Help: "Answered queries by responder and outcome",
		}, []string{"responder", "outcome"}),
		conversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commandbot_active_conversations",
			Help: "Conversations currently held by the router",
		}),
		commandSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "commandbot_active_command_sessions",
			Help: "Command sessions awaiting a continuation",
		}),
		conversationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commandbot_conversation_events_total",
			Help: "Conversation lifecycle events",
		}, []string{"event"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectAttempts,
		m.sessionFailures,
		m.sessionState,
		m.inboundStanzas,
		m.queries,
		m.conversations,
		m.commandSessions,
		m.conversationEvents,
	)
	m.SetSessionState("disconnected")
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

// SessionFailure counts a failed session at stage (connect, auth, stream).
func (m *Metrics) SessionFailure(stage string) {
	if m == nil {
		return
	}
	m.sessionFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) SetSessionState(state string) {
	if m == nil {
		return
	}
	for _, known := range sessionStates {
		value := 0.0
		if known == state {
			value = 1
		}
		m.sessionState.WithLabelValues(known).Set(value)
	}
}

func (m *Metrics) InboundStanza(kind string) {
	if m == nil {
		return
	}
	m.inboundStanzas.WithLabelValues(kind).Inc()
}

// Query counts one answered query. outcome is "ok" or the error condition.
func (m *Metrics) Query(responder, outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(responder, outcome).Inc()
}

func (m *Metrics) SetConversations(n int) {
	if m == nil {
		return
	}
	m.conversations.Set(float64(n))
}

func (m *Metrics) SetCommandSessions(n int) {
	if m == nil {
		return
	}
	m.commandSessions.Set(float64(n))
}

// ConversationEvent counts started, migrated and ended conversations.
func (m *Metrics) ConversationEvent(event string) {
	if m == nil {
		return
	}
	m.conversationEvents.WithLabelValues(event).Inc()
}

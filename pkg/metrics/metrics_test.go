package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.ConnectAttempt()
	m.SessionFailure("connect")
	m.SetSessionState("online")
	m.InboundStanza("iq")
	m.Query("disco", "ok")
	m.SetConversations(3)
	m.SetCommandSessions(1)
	m.ConversationEvent("started")

	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestSessionStateIsExclusive(t *testing.T) {
	m := New()
	m.SetSessionState("online")

	if got := testutil.ToFloat64(m.sessionState.WithLabelValues("online")); got != 1 {
		t.Fatalf("online gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.sessionState.WithLabelValues("disconnected")); got != 0 {
		t.Fatalf("disconnected gauge = %v", got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ConnectAttempt()
	m.Query("commands", "item-not-found")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "commandbot_connect_attempts_total 1") {
		t.Fatalf("connect attempts missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, `commandbot_queries_total{outcome="item-not-found",responder="commands"} 1`) {
		t.Fatalf("query counter missing from exposition:\n%s", body)
	}
}

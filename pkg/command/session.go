package command

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"commandbot/pkg/metrics"
	"commandbot/pkg/stanza"
)

const (
	DefaultSessionTTL   = 10 * time.Minute
	DefaultMaxSessions  = 1024
	sessionIDCollisions = 4
)

// Session is the continuation state of one multi-step command exchange.
type Session struct {
	ID     string
	Node   string
	Peer   string
	Status string
	// Payload is handler-owned state carried between steps.
	Payload any
}

// Done reports whether the exchange has finished.
func (s *Session) Done() bool {
	return s.Status == stanza.StatusCompleted || s.Status == stanza.StatusCanceled
}

// SessionTable tracks in-flight command sessions. Sessions that are never
// continued expire after the table's TTL; the oldest are evicted when the
// table is full.
type SessionTable struct {
	sessions *expirable.LRU[string, *Session]
	metrics  *metrics.Metrics
}

func NewSessionTable(maxSessions int, ttl time.Duration, m *metrics.Metrics) *SessionTable {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionTable{
		sessions: expirable.NewLRU[string, *Session](maxSessions, nil, ttl),
		metrics:  m,
	}
}

// Begin starts a session for node on behalf of peer. When id is empty a
// fresh one is minted.
func (t *SessionTable) Begin(id, node, peer string) *Session {
	if id == "" {
		id = t.newID()
	}
	session := &Session{ID: id, Node: node, Peer: peer, Status: stanza.StatusExecuting}
	t.sessions.Add(id, session)
	t.metrics.SetCommandSessions(t.sessions.Len())
	return session
}

func (t *SessionTable) newID() string {
	for range sessionIDCollisions {
		id := uuid.NewString()
		if !t.sessions.Contains(id) {
			return id
		}
	}
	return uuid.NewString()
}

// Lookup returns the live session with id.
func (t *SessionTable) Lookup(id string) (*Session, bool) {
	return t.sessions.Get(id)
}

// Save records the session after a step. Finished sessions are dropped,
// unfinished ones get a fresh TTL.
func (t *SessionTable) Save(session *Session) {
	if session.Done() {
		t.sessions.Remove(session.ID)
	} else {
		t.sessions.Add(session.ID, session)
	}
	t.metrics.SetCommandSessions(t.sessions.Len())
}

// Drop forgets the session with id.
func (t *SessionTable) Drop(id string) {
	t.sessions.Remove(id)
	t.metrics.SetCommandSessions(t.sessions.Len())
}

// Len is the number of live sessions.
func (t *SessionTable) Len() int {
	return t.sessions.Len()
}

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"commandbot/pkg/stanza"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []stanza.Stanza
}

func (s *recordingSender) Send(st stanza.Stanza) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, st)
	return nil
}

func (s *recordingSender) only(t *testing.T) *stanza.IQ {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) != 1 {
		t.Fatalf("sent %d stanzas, want 1", len(s.sent))
	}
	iq, ok := s.sent[0].(*stanza.IQ)
	if !ok {
		t.Fatalf("sent %T, want *stanza.IQ", s.sent[0])
	}
	return iq
}

type fakeHandler struct {
	supports bool
	payload  stanza.Extension
	err      error
	panicked bool
	calls    int
}

func (h *fakeHandler) Supports(stanza.Extension) bool { return h.supports }

func (h *fakeHandler) Process(context.Context, *stanza.IQ) (stanza.Extension, error) {
	h.calls++
	if h.panicked {
		panic("handler exploded")
	}
	return h.payload, h.err
}

func versionRequest() *stanza.IQ {
	return &stanza.IQ{ID: "q1", Type: stanza.IQGet, From: "user@example.org/home", To: "bot@example.org/bot", Payload: &stanza.Version{}}
}

func TestChainStopsAtFirstClaim(t *testing.T) {
	a := &fakeHandler{supports: false}
	b := &fakeHandler{supports: true, err: stanza.NewError(stanza.BadRequest, "nope")}
	c := &fakeHandler{supports: true, payload: &stanza.Version{Name: "c"}}

	chain := NewChain(nil, nil, Query("a", a, nil), Query("b", b, nil), Query("c", c, nil))
	out := &recordingSender{}

	if !chain.Dispatch(context.Background(), out, versionRequest()) {
		t.Fatal("expected request to be claimed")
	}
	if a.calls != 0 {
		t.Fatalf("declining responder processed %d times", a.calls)
	}
	if b.calls != 1 {
		t.Fatalf("claiming responder processed %d times", b.calls)
	}
	if c.calls != 0 {
		t.Fatalf("responder after claim invoked %d times", c.calls)
	}

	reply := out.only(t)
	if reply.Type != stanza.IQError || reply.Error.Condition != stanza.BadRequest {
		t.Fatalf("reply should carry b's error: %#v", reply)
	}
	if reply.ID != "q1" || reply.To != "user@example.org/home" || reply.From != "bot@example.org/bot" {
		t.Fatalf("reply addressing wrong: %#v", reply)
	}
}

func TestChainConvertsUnexpectedFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler *fakeHandler
	}{
		{name: "plain error", handler: &fakeHandler{supports: true, err: errors.New("disk on fire")}},
		{name: "panic", handler: &fakeHandler{supports: true, panicked: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := NewChain(nil, nil, Query("broken", tt.handler, nil), Unimplemented(nil))
			out := &recordingSender{}

			if !chain.Dispatch(context.Background(), out, versionRequest()) {
				t.Fatal("expected request to be claimed")
			}
			reply := out.only(t)
			if reply.Error == nil || reply.Error.Condition != stanza.InternalServerError {
				t.Fatalf("expected internal-server-error, got %#v", reply.Error)
			}
		})
	}
}

func TestUnimplementedFallback(t *testing.T) {
	chain := NewChain(nil, nil, Query("version", NewVersionHandler("CommandBot"), nil), Unimplemented(nil))
	out := &recordingSender{}

	req := &stanza.IQ{ID: "u1", Type: stanza.IQGet, From: "a@b/c", Payload: &stanza.Unknown{}}
	if !chain.Dispatch(context.Background(), out, req) {
		t.Fatal("fallback should claim everything")
	}
	if reply := out.only(t); reply.Error.Condition != stanza.FeatureNotImplemented {
		t.Fatalf("expected feature-not-implemented, got %#v", reply.Error)
	}
}

func TestChainIgnoresNonRequests(t *testing.T) {
	chain := NewChain(nil, nil, Unimplemented(nil))
	out := &recordingSender{}

	ignored := []stanza.Stanza{
		&stanza.IQ{ID: "r", Type: stanza.IQResult},
		&stanza.IQ{ID: "e", Type: stanza.IQError},
		&stanza.Message{Body: "hi"},
		&stanza.Presence{},
	}
	for _, st := range ignored {
		if chain.Dispatch(context.Background(), out, st) {
			t.Fatalf("%T claimed", st)
		}
	}
	if len(out.sent) != 0 {
		t.Fatalf("sent %d replies for non-requests", len(out.sent))
	}
}

func TestVersionHandler(t *testing.T) {
	chain := NewChain(nil, nil, Query("version", &VersionHandler{Name: "CommandBot", Version: "1.2.3"}, nil))
	out := &recordingSender{}

	chain.Dispatch(context.Background(), out, versionRequest())

	reply := out.only(t)
	version, ok := reply.Payload.(*stanza.Version)
	if !ok {
		t.Fatalf("payload = %T", reply.Payload)
	}
	if version.Name != "CommandBot" || version.Version != "1.2.3" || version.OS == "" {
		t.Fatalf("unexpected version: %#v", version)
	}
}

package examples

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"commandbot/pkg/command"
	"commandbot/pkg/disco"
	"commandbot/pkg/dispatch"
	"commandbot/pkg/jid"
	"commandbot/pkg/plugin"
	"commandbot/pkg/roster"
	"commandbot/pkg/stanza"
)

type capture struct{ sent []*stanza.IQ }

func (c *capture) Send(st stanza.Stanza) error {
	c.sent = append(c.sent, st.(*stanza.IQ))
	return nil
}

func (c *capture) last() *stanza.IQ { return c.sent[len(c.sent)-1] }

type harness struct {
	chain *dispatch.Chain
	out   *capture
}

func newHarness(t *testing.T, presence PresenceSource) *harness {
	t.Helper()
	registry := disco.NewRegistry(&disco.StaticNode{})
	dispatcher := command.NewDispatcher(nil, registry, command.NewSessionTable(0, 0, nil), nil)

	catalog := plugin.NewCatalog[command.Handler]("command")
	Register(catalog, presence)
	for _, name := range catalog.Names() {
		h, err := catalog.New(name)
		require.NoError(t, err)
		require.NoError(t, h.Configure(nil))
		dispatcher.Add(h)
	}

	return &harness{
		chain: dispatch.NewChain(nil, nil, dispatcher.Responder(), dispatch.Query("disco", registry, nil), dispatch.Unimplemented(nil)),
		out:   &capture{},
	}
}

func (h *harness) run(t *testing.T, payload stanza.Extension) *stanza.IQ {
	t.Helper()
	iqType := stanza.IQSet
	if _, ok := payload.(*stanza.Command); !ok {
		iqType = stanza.IQGet
	}
	require.True(t, h.chain.Dispatch(context.Background(), h.out, &stanza.IQ{
		ID: "x", Type: iqType, From: "user@example.org/desk", To: "bot@example.org/bot", Payload: payload,
	}))
	return h.out.last()
}

func TestCalculatorAddsNumbers(t *testing.T) {
	h := newHarness(t, roster.New())

	first := h.run(t, &stanza.Command{Node: CalculatorNode})
	require.Equal(t, stanza.IQResult, first.Type)
	initial := first.Payload.(*stanza.Command)
	require.Equal(t, stanza.StatusExecuting, initial.Status)
	require.NotEmpty(t, initial.SessionID)
	require.Len(t, initial.Form.Fields, 2)

	submit := stanza.NewForm(stanza.FormTypeSubmit)
	submit.SetValue("param1", "2")
	submit.SetValue("param2", "3")
	second := h.run(t, &stanza.Command{Node: CalculatorNode, SessionID: initial.SessionID, Form: submit})
	require.Equal(t, stanza.IQResult, second.Type)

	done := second.Payload.(*stanza.Command)
	require.Equal(t, stanza.StatusCompleted, done.Status)
	require.Equal(t, initial.SessionID, done.SessionID)
	require.Contains(t, strings.Join(done.Form.Instructions, " "), "5")
}

func TestCalculatorRejectsNonNumbers(t *testing.T) {
	h := newHarness(t, roster.New())

	initial := h.run(t, &stanza.Command{Node: CalculatorNode}).Payload.(*stanza.Command)

	submit := stanza.NewForm(stanza.FormTypeSubmit)
	submit.SetValue("param1", "two")
	submit.SetValue("param2", "3")
	reply := h.run(t, &stanza.Command{Node: CalculatorNode, SessionID: initial.SessionID, Form: submit})

	require.Equal(t, stanza.IQError, reply.Type)
	require.Equal(t, stanza.BadRequest, reply.Error.Condition)
	require.Equal(t, stanza.ErrorModify, reply.Error.Type)

	fixed := stanza.NewForm(stanza.FormTypeSubmit)
	fixed.SetValue("param1", "2")
	fixed.SetValue("param2", "3")
	retry := h.run(t, &stanza.Command{Node: CalculatorNode, SessionID: initial.SessionID, Form: fixed})
	require.Equal(t, stanza.IQResult, retry.Type)
	done := retry.Payload.(*stanza.Command)
	require.Equal(t, stanza.StatusCompleted, done.Status)
	require.Contains(t, strings.Join(done.Form.Instructions, " "), "5")
}

func TestCalculatorConfigure(t *testing.T) {
	calc := NewCalculator()
	require.NoError(t, calc.Configure(map[string]any{"instructions": "Add them up."}))
	require.Error(t, calc.Configure(map[string]any{"precision": 2}))

	resp := &stanza.Command{}
	require.NoError(t, calc.HandleCommand(context.Background(), &command.Request{Command: &stanza.Command{}}, resp))
	require.Equal(t, []string{"Add them up."}, resp.Form.Instructions)
}

func TestPresenceLookup(t *testing.T) {
	r := roster.New()
	r.Update(&stanza.Presence{From: "alice@example.org/desk", Show: "away", Status: "lunch", Priority: 3})
	h := newHarness(t, r)

	initial := h.run(t, &stanza.Command{Node: PresenceNode}).Payload.(*stanza.Command)
	require.Equal(t, stanza.StatusExecuting, initial.Status)

	submit := stanza.NewForm(stanza.FormTypeSubmit)
	submit.SetValue("jid", "alice@example.org")
	done := h.run(t, &stanza.Command{Node: PresenceNode, SessionID: initial.SessionID, Form: submit}).Payload.(*stanza.Command)
	require.Equal(t, stanza.StatusCompleted, done.Status)
	require.Contains(t, done.Form.Instructions[0], "away: lunch")
	status, _ := done.Form.Value("status")
	require.Equal(t, "lunch", status)

	lookup := NewPresenceLookup(r)
	resp := &stanza.Command{}
	form := stanza.NewForm(stanza.FormTypeSubmit)
	form.SetValue("jid", "bob@example.org")
	require.NoError(t, lookup.HandleCommand(context.Background(), &command.Request{From: jid.MustParse("user@example.org/desk"), Command: &stanza.Command{Form: form}}, resp))
	require.Contains(t, resp.Form.Instructions[0], "unavailable")
}

func TestDiscoveryOverChain(t *testing.T) {
	h := newHarness(t, roster.New())

	items := h.run(t, &stanza.DiscoItems{Node: stanza.NSCommands}).Payload.(*stanza.DiscoItems)
	require.Len(t, items.Items, 2)
	names := map[string]string{}
	for _, item := range items.Items {
		names[item.Node] = item.Name
		require.Equal(t, "bot@example.org/bot", item.JID)
	}
	require.Equal(t, "Calculator", names[CalculatorNode])
	require.Equal(t, "Presence Lookup", names[PresenceNode])

	info := h.run(t, &stanza.DiscoInfo{Node: CalculatorNode}).Payload.(*stanza.DiscoInfo)
	require.Contains(t, info.Features, stanza.Feature{Var: stanza.NSData})

	missing := h.run(t, &stanza.DiscoInfo{Node: "urn:nowhere"})
	require.Equal(t, stanza.IQError, missing.Type)
	require.Equal(t, stanza.ItemNotFound, missing.Error.Condition)
}

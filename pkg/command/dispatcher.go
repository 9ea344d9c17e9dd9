package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"commandbot/pkg/disco"
	"commandbot/pkg/dispatch"
	"commandbot/pkg/jid"
	"commandbot/pkg/metrics"
	"commandbot/pkg/stanza"
)

// Dispatcher routes command requests to handlers by node and owns the
// command-list discovery node.
type Dispatcher struct {
	log      *slog.Logger
	registry *disco.Registry
	sessions *SessionTable
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewDispatcher builds a dispatcher and registers its command-list node in
// registry.
func NewDispatcher(log *slog.Logger, registry *disco.Registry, sessions *SessionTable, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		log:      log.With("component", "command.dispatcher"),
		registry: registry,
		sessions: sessions,
		metrics:  m,
		handlers: make(map[string]Handler),
	}
	registry.Add(d)
	return d
}

// Add registers h under its node, replacing any handler already there, and
// mirrors it into discovery.
func (d *Dispatcher) Add(h Handler) {
	d.mu.Lock()
	if _, exists := d.handlers[h.Node()]; !exists {
		d.order = append(d.order, h.Node())
	}
	d.handlers[h.Node()] = h
	d.mu.Unlock()

	d.registry.Add(commandNode{h})
	d.log.Debug("command registered", "node", h.Node(), "name", h.Name())
}

// Handlers lists registered handlers in registration order.
func (d *Dispatcher) Handlers() []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Handler, 0, len(d.order))
	for _, node := range d.order {
		out = append(out, d.handlers[node])
	}
	return out
}

func (d *Dispatcher) handler(node string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[node]
	return h, ok
}

// Responder exposes the dispatcher as a dispatch chain link.
func (d *Dispatcher) Responder() dispatch.Responder {
	return dispatch.Query("commands", d, d.metrics)
}

func (d *Dispatcher) NodeID() string { return stanza.NSCommands }

func (d *Dispatcher) DiscoInfo() disco.Info {
	return disco.Info{
		Identities: []stanza.Identity{{Category: "automation", Type: "command-list", Name: "Ad-hoc Commands"}},
	}
}

func (d *Dispatcher) DiscoChildren() []disco.Node {
	handlers := d.Handlers()
	children := make([]disco.Node, 0, len(handlers))
	for _, h := range handlers {
		children = append(children, commandNode{h})
	}
	return children
}

func (d *Dispatcher) Supports(payload stanza.Extension) bool {
	_, ok := payload.(*stanza.Command)
	return ok
}

func (d *Dispatcher) Process(ctx context.Context, iq *stanza.IQ) (stanza.Extension, error) {
	req, ok := iq.Payload.(*stanza.Command)
	if !ok {
		return nil, stanza.NewError(stanza.BadRequest, "")
	}
	if iq.Type != stanza.IQSet {
		return nil, stanza.NewError(stanza.BadRequest, "commands are executed with set requests")
	}

	h, ok := d.handler(req.Node)
	if !ok {
		return nil, stanza.Errorf(stanza.ItemNotFound, "no command at node %q", req.Node)
	}

	from, err := jid.Parse(iq.From)
	if err != nil {
		return nil, stanza.Errorf(stanza.BadRequest, "invalid sender: %v", err)
	}

	session, err := d.session(req, iq.From)
	if err != nil {
		return nil, err
	}
	log := d.log.With("node", req.Node, "session_id", session.ID, "from", iq.From)

	resp := &stanza.Command{Node: req.Node, SessionID: session.ID}
	if req.Action == stanza.ActionCancel {
		resp.Status = stanza.StatusCanceled
		session.Status = resp.Status
		d.sessions.Save(session)
		log.Debug("command canceled")
		return resp, nil
	}

	if err := h.HandleCommand(ctx, &Request{From: from, Command: req, Session: session}, resp); err != nil {
		stanzaErr, ok := stanza.AsError(err)
		if ok && stanzaErr.Type == stanza.ErrorModify {
			// The peer may correct its data and resubmit on the same session.
			d.sessions.Save(session)
			log.Debug("command step rejected", "error", err)
			return nil, err
		}
		d.sessions.Drop(session.ID)
		if ok {
			return nil, err
		}
		return nil, fmt.Errorf("command %s: %w", req.Node, err)
	}

	if resp.Status == "" {
		resp.Status = stanza.StatusCompleted
	}
	session.Status = resp.Status
	d.sessions.Save(session)
	log.Debug("command step handled", "status", resp.Status)
	return resp, nil
}

// session resolves the session a request belongs to, starting one when the
// request is the first step.
func (d *Dispatcher) session(req *stanza.Command, peer string) (*Session, error) {
	if req.SessionID == "" {
		return d.sessions.Begin("", req.Node, peer), nil
	}

	initial := !req.HasPayload() && req.Action != stanza.ActionCancel
	session, ok := d.sessions.Lookup(req.SessionID)
	switch {
	case !ok && initial:
		return d.sessions.Begin(req.SessionID, req.Node, peer), nil
	case !ok:
		return nil, stanza.Errorf(stanza.BadRequest, "unknown or expired session %q", req.SessionID)
	case session.Node == req.Node && session.Peer == peer:
		return session, nil
	case initial:
		// A first step never joins someone else's exchange.
		return d.sessions.Begin("", req.Node, peer), nil
	default:
		return nil, stanza.Errorf(stanza.BadRequest, "session %q belongs to another exchange", req.SessionID)
	}
}

// commandNode presents a handler as a discovery node.
type commandNode struct {
	Handler
}

func (n commandNode) NodeID() string { return n.Node() }

func (n commandNode) DiscoInfo() disco.Info {
	info := disco.Info{
		Identities: []stanza.Identity{{Category: "automation", Type: "command-node", Name: n.Name()}},
		Features:   []string{stanza.NSCommands},
	}
	if advertiser, ok := n.Handler.(FeatureAdvertiser); ok {
		info.Features = append(info.Features, advertiser.Features()...)
	}
	return info
}

func (commandNode) DiscoChildren() []disco.Node { return nil }

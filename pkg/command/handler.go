package command

import (
	"context"

	"commandbot/pkg/jid"
	"commandbot/pkg/stanza"
)

// Handler implements one ad-hoc command node.
type Handler interface {
	// Node is the command's uri-style identifier.
	Node() string
	// Name is the display name advertised through discovery.
	Name() string
	// Configure applies the opaque configuration block for this command.
	Configure(cfg map[string]any) error
	// HandleCommand performs one step. It fills resp with a status and an
	// optional form; a *stanza.Error return is reported to the requester.
	HandleCommand(ctx context.Context, req *Request, resp *stanza.Command) error
}

// FeatureAdvertiser is implemented by handlers that support namespaces
// beyond the commands protocol itself.
type FeatureAdvertiser interface {
	Features() []string
}

// Request is one step of a command exchange.
type Request struct {
	From    jid.JID
	Command *stanza.Command
	Session *Session
}

// Initial reports whether this is the first step, carrying no submitted
// data.
func (r *Request) Initial() bool {
	return !r.Command.HasPayload()
}

// Base provides the identity half of Handler for embedding.
type Base struct {
	node string
	name string
}

func NewBase(node, name string) Base {
	return Base{node: node, name: name}
}

func (b Base) Node() string { return b.node }

func (b Base) Name() string { return b.name }

func (Base) Configure(map[string]any) error { return nil }

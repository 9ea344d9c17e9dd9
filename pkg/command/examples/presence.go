package examples

import (
	"context"
	"fmt"

	"commandbot/pkg/command"
	"commandbot/pkg/jid"
	"commandbot/pkg/stanza"
)

const PresenceNode = "http://trypticon.org/commands/examples/presence"

// PresenceSource answers presence lookups; *roster.Roster implements it.
type PresenceSource interface {
	Presence(address jid.JID) (stanza.Presence, bool)
}

// PresenceLookup reports the best known presence of an address.
type PresenceLookup struct {
	command.Base
	source PresenceSource
}

func NewPresenceLookup(source PresenceSource) *PresenceLookup {
	return &PresenceLookup{
		Base:   command.NewBase(PresenceNode, "Presence Lookup"),
		source: source,
	}
}

func (p *PresenceLookup) Features() []string {
	return []string{stanza.NSData}
}

func (p *PresenceLookup) HandleCommand(_ context.Context, req *command.Request, resp *stanza.Command) error {
	if req.Initial() {
		resp.Form = stanza.NewForm(stanza.FormTypeForm, "Enter the address to look up.").
			AddField("jid", stanza.FieldJIDSingle, "Address")
		resp.Status = stanza.StatusExecuting
		return nil
	}

	raw, _ := req.Command.Form.Value("jid")
	address, err := jid.Parse(raw)
	if err != nil {
		return stanza.Errorf(stanza.BadRequest, "invalid address %q", raw)
	}

	result := stanza.NewForm(stanza.FormTypeResult)
	if presence, ok := p.source.Presence(address); ok {
		result.Instructions = []string{fmt.Sprintf("%s is available (%s)", address.Bare(), describe(presence))}
		result.SetValue("show", presence.Show)
		result.SetValue("status", presence.Status)
		result.SetValue("priority", fmt.Sprint(presence.Priority))
	} else {
		result.Instructions = []string{fmt.Sprintf("%s is unavailable", address.Bare())}
	}

	resp.Form = result
	resp.Status = stanza.StatusCompleted
	return nil
}

func describe(p stanza.Presence) string {
	show := p.Show
	if show == "" {
		show = "online"
	}
	if p.Status == "" {
		return show
	}
	return show + ": " + p.Status
}

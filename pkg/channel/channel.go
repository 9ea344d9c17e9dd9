// Package channel bridges non-XMPP chat networks into the conversation
// router. A bridged user appears as <user-id>@<channel>/<chat-id>.
package channel

import (
	"context"
	"fmt"
	"strings"

	"commandbot/pkg/bus"
	"commandbot/pkg/jid"
	"commandbot/pkg/stanza"
)

// Handler delivers one inbound message. Replies, any number of them, go
// through out.
type Handler func(ctx context.Context, msg bus.InboundMessage, out stanza.Sender) error

// Adapter bridges one external transport (for example Telegram) into the
// bot.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// MessageRouter is the part of *conversation.Router a bridge needs.
type MessageRouter interface {
	Route(ctx context.Context, out stanza.Sender, msg *stanza.Message) error
}

// RouterHandler feeds inbound bridge messages into router as chat messages.
func RouterHandler(router MessageRouter) Handler {
	return func(ctx context.Context, msg bus.InboundMessage, out stanza.Sender) error {
		chat, err := ToStanza(msg)
		if err != nil {
			return err
		}
		return router.Route(ctx, out, chat)
	}
}

// Address is the bridged identity of a user in a chat.
func Address(channel, senderID, chatID string) (jid.JID, error) {
	address := jid.JID{
		Node:     strings.TrimSpace(senderID),
		Domain:   strings.ToLower(strings.TrimSpace(channel)),
		Resource: strings.TrimSpace(chatID),
	}
	if address.Node == "" || address.Domain == "" || address.Resource == "" {
		return jid.JID{}, fmt.Errorf("incomplete bridge address %q", address.String())
	}
	return address, nil
}

// ToStanza converts an inbound bridge message to a chat message.
func ToStanza(msg bus.InboundMessage) (*stanza.Message, error) {
	from, err := Address(msg.Channel, msg.SenderID, msg.ChatID)
	if err != nil {
		return nil, err
	}
	return &stanza.Message{
		Type:   stanza.MessageChat,
		From:   from.String(),
		Thread: msg.Thread,
		Body:   msg.Content,
	}, nil
}

// FromStanza converts a reply addressed to a bridged identity back into an
// outbound message for its channel.
func FromStanza(st stanza.Stanza) (bus.OutboundMessage, error) {
	msg, ok := st.(*stanza.Message)
	if !ok {
		return bus.OutboundMessage{}, fmt.Errorf("cannot bridge %s stanzas", st.StanzaKind())
	}
	to, err := jid.Parse(msg.To)
	if err != nil {
		return bus.OutboundMessage{}, fmt.Errorf("reply address: %w", err)
	}
	if to.Resource == "" {
		return bus.OutboundMessage{}, fmt.Errorf("reply address %s names no chat", to)
	}
	return bus.OutboundMessage{
		Channel: to.Domain,
		ChatID:  to.Resource,
		Thread:  msg.Thread,
		Content: msg.Body,
	}, nil
}

// ReplySender converts replies with FromStanza and hands them to send.
func ReplySender(ctx context.Context, send func(context.Context, bus.OutboundMessage) error) stanza.Sender {
	return stanza.SenderFunc(func(st stanza.Stanza) error {
		out, err := FromStanza(st)
		if err != nil {
			return err
		}
		return send(ctx, out)
	})
}

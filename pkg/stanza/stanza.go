package stanza

import (
	"encoding/xml"
	"fmt"
	"io"

	"commandbot/pkg/jid"
)

// Namespaces used on the client stream.
const (
	NSClient     = "jabber:client"
	NSStream     = "http://etherx.jabber.org/streams"
	NSStanzas    = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSVersion    = "jabber:iq:version"
	NSDiscoInfo  = "http://jabber.org/protocol/disco#info"
	NSDiscoItems = "http://jabber.org/protocol/disco#items"
	NSCommands   = "http://jabber.org/protocol/commands"
	NSData       = "jabber:x:data"
)

// IQ types.
const (
	IQGet    = "get"
	IQSet    = "set"
	IQResult = "result"
	IQError  = "error"
)

// Message types.
const (
	MessageChat      = "chat"
	MessageNormal    = "normal"
	MessageGroupChat = "groupchat"
	MessageHeadline  = "headline"
	MessageError     = "error"
)

// PresenceUnavailable is the only presence type the roster tracks besides
// plain availability (no type).
const PresenceUnavailable = "unavailable"

// Stanza is one top-level unit exchanged on the stream: *IQ, *Message or
// *Presence.
type Stanza interface {
	StanzaKind() string
}

// Sender accepts outbound stanzas. The transport stream is the usual
// implementation; bridges provide their own.
type Sender interface {
	Send(Stanza) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(Stanza) error

func (f SenderFunc) Send(st Stanza) error { return f(st) }

// IQ is an info/query request or response carrying at most one payload
// extension.
type IQ struct {
	ID      string
	Type    string
	From    string
	To      string
	Payload Extension
	Error   *Error
}

func (*IQ) StanzaKind() string { return "iq" }

// Sender returns the parsed from address.
func (iq *IQ) Sender() (jid.JID, error) { return jid.Parse(iq.From) }

// IsRequest reports whether iq expects a response.
func (iq *IQ) IsRequest() bool {
	return iq.Type == IQGet || iq.Type == IQSet
}

// Reply builds a response addressed back to the requester with the same id.
func (iq *IQ) Reply(payload Extension) *IQ {
	return &IQ{
		ID:      iq.ID,
		Type:    IQResult,
		From:    iq.To,
		To:      iq.From,
		Payload: payload,
	}
}

// ReplyError builds an error response that echoes the request payload.
func (iq *IQ) ReplyError(stanzaErr *Error) *IQ {
	reply := iq.Reply(iq.Payload)
	reply.Type = IQError
	reply.Error = stanzaErr
	return reply
}

func (iq *IQ) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: "iq"}}
	start.Attr = appendAttr(start.Attr, "id", iq.ID)
	start.Attr = appendAttr(start.Attr, "type", iq.Type)
	start.Attr = appendAttr(start.Attr, "from", iq.From)
	start.Attr = appendAttr(start.Attr, "to", iq.To)

	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if iq.Payload != nil {
		if err := e.Encode(iq.Payload); err != nil {
			return fmt.Errorf("encode %s payload: %w", iq.Payload.ExtensionName().Local, err)
		}
	}
	if iq.Error != nil {
		if err := e.Encode(iq.Error); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func (iq *IQ) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			iq.ID = attr.Value
		case "type":
			iq.Type = attr.Value
		case "from":
			iq.From = attr.Value
		case "to":
			iq.To = attr.Value
		}
	}

	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "error" && (t.Name.Space == "" || t.Name.Space == NSClient) {
				var stanzaErr Error
				if err := d.DecodeElement(&stanzaErr, &t); err != nil {
					return err
				}
				iq.Error = &stanzaErr
				continue
			}
			if iq.Payload != nil {
				if err := d.Skip(); err != nil {
					return err
				}
				continue
			}
			ext := NewExtension(t.Name)
			if err := d.DecodeElement(ext, &t); err != nil {
				return fmt.Errorf("decode %s payload: %w", t.Name.Local, err)
			}
			iq.Payload = ext
		case xml.EndElement:
			return nil
		}
	}
}

// Message is a chat, normal or headline message.
type Message struct {
	XMLName xml.Name `xml:"message"`
	ID      string   `xml:"id,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`
	From    string   `xml:"from,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Subject string   `xml:"subject,omitempty"`
	Body    string   `xml:"body,omitempty"`
	Thread  string   `xml:"thread,omitempty"`
	Error   *Error   `xml:"error,omitempty"`
}

func (*Message) StanzaKind() string { return "message" }

// Sender returns the parsed from address.
func (m *Message) Sender() (jid.JID, error) { return jid.Parse(m.From) }

// Presence announces availability.
type Presence struct {
	XMLName  xml.Name `xml:"presence"`
	ID       string   `xml:"id,attr,omitempty"`
	Type     string   `xml:"type,attr,omitempty"`
	From     string   `xml:"from,attr,omitempty"`
	To       string   `xml:"to,attr,omitempty"`
	Show     string   `xml:"show,omitempty"`
	Status   string   `xml:"status,omitempty"`
	Priority int      `xml:"priority,omitempty"`
}

func (*Presence) StanzaKind() string { return "presence" }

// Sender returns the parsed from address.
func (p *Presence) Sender() (jid.JID, error) { return jid.Parse(p.From) }

// Available reports whether p announces availability rather than departure.
func (p *Presence) Available() bool {
	return p.Type == ""
}

func appendAttr(attrs []xml.Attr, name string, value string) []xml.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

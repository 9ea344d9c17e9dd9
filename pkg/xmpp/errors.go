package xmpp

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Namespaces of stream-level negotiation elements.
const (
	nsStreamErrors = "urn:ietf:params:xml:ns:xmpp-streams"
	nsTLS          = "urn:ietf:params:xml:ns:xmpp-tls"
	nsSASL         = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind         = "urn:ietf:params:xml:ns:xmpp-bind"
	nsSession      = "urn:ietf:params:xml:ns:xmpp-session"
	nsLegacyAuth   = "jabber:iq:auth"
)

// StreamError is a <stream:error/> sent by the server. The stream is
// unusable after one.
type StreamError struct {
	Condition string
	Text      string
}

func (e *StreamError) Error() string {
	if e.Text == "" {
		return "stream error: " + e.Condition
	}
	return fmt.Sprintf("stream error: %s: %s", e.Condition, e.Text)
}

func (e *StreamError) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	condition, text, err := decodeCondition(d, nsStreamErrors)
	e.Condition, e.Text = condition, text
	return err
}

// SASLError is a <failure/> answer to an authentication attempt.
type SASLError struct {
	Mechanism string
	Condition string
	Text      string
}

func (e *SASLError) Error() string {
	msg := fmt.Sprintf("sasl %s failed: %s", e.Mechanism, e.Condition)
	if e.Text != "" {
		msg += ": " + e.Text
	}
	return msg
}

func (e *SASLError) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	condition, text, err := decodeCondition(d, nsSASL)
	e.Condition, e.Text = condition, text
	return err
}

// decodeCondition reads the children of an error element: one defined
// condition in space plus an optional <text/>.
func decodeCondition(d *xml.Decoder, space string) (condition, text string, err error) {
	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return condition, text, io.ErrUnexpectedEOF
			}
			return condition, text, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "text" {
				if err := d.DecodeElement(&text, &t); err != nil {
					return condition, text, err
				}
				continue
			}
			if condition == "" && (t.Name.Space == space || t.Name.Space == "") {
				condition = t.Name.Local
			}
			if err := d.Skip(); err != nil {
				return condition, text, err
			}
		case xml.EndElement:
			if condition == "" {
				condition = "undefined-condition"
			}
			return condition, text, nil
		}
	}
}

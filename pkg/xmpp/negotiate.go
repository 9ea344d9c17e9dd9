package xmpp

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"

	"commandbot/pkg/jid"
	"commandbot/pkg/stanza"
)

// DefaultResource is bound when the account address carries none and the
// server needs one.
const DefaultResource = "commandbot"

const mechanismPlain = "PLAIN"

// Outcome reports which negotiation steps completed. Failure is set when a
// step was attempted and failed; steps that were never offered simply stay
// false.
type Outcome struct {
	SecureChannel      bool
	Authenticated      bool
	Bound              bool
	SessionEstablished bool
	// JID is the full address the server bound.
	JID     jid.JID
	Failure error
}

type bindPayload struct {
	XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	Resource string   `xml:"resource,omitempty"`
	JID      string   `xml:"jid,omitempty"`
}

func (*bindPayload) ExtensionName() xml.Name { return xml.Name{Space: nsBind, Local: "bind"} }

type sessionPayload struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-session session"`
}

func (*sessionPayload) ExtensionName() xml.Name { return xml.Name{Space: nsSession, Local: "session"} }

// legacyAuthQuery is the jabber:iq:auth query. Nil pointers are fields the
// server did not offer.
type legacyAuthQuery struct {
	XMLName  xml.Name `xml:"jabber:iq:auth query"`
	Username string   `xml:"username,omitempty"`
	Password *string  `xml:"password"`
	Digest   *string  `xml:"digest"`
	Resource *string  `xml:"resource"`
}

func (*legacyAuthQuery) ExtensionName() xml.Name { return xml.Name{Space: nsLegacyAuth, Local: "query"} }

func init() {
	stanza.RegisterExtension(xml.Name{Space: nsBind, Local: "bind"}, func() stanza.Extension { return &bindPayload{} })
	stanza.RegisterExtension(xml.Name{Space: nsSession, Local: "session"}, func() stanza.Extension { return &sessionPayload{} })
	stanza.RegisterExtension(xml.Name{Space: nsLegacyAuth, Local: "query"}, func() stanza.Extension { return &legacyAuthQuery{} })
}

// Negotiate runs the version 1.0 feature negotiation: STARTTLS when
// offered, SASL PLAIN, resource binding and session establishment, in that
// order. A server that offers no usable SASL mechanism leaves
// Authenticated false without a Failure.
func (c *Conn) Negotiate(ctx context.Context, creds Credentials) Outcome {
	defer c.watch(ctx)()

	var out Outcome
	if c.features.StartTLS != nil && c.tlsConfig != nil && !c.secure {
		if err := c.startTLS(ctx); err != nil {
			out.Failure = err
			return out
		}
	}
	out.SecureChannel = c.secure

	if !c.features.Offers(mechanismPlain) {
		c.log.Debug("no usable sasl mechanism offered")
		return out
	}
	if err := c.authPlain(creds); err != nil {
		out.Failure = err
		return out
	}
	out.Authenticated = true
	if err := c.restart(); err != nil {
		out.Failure = err
		return out
	}

	if c.features.Bind == nil {
		return out
	}
	bound, err := c.bind(creds.JID.Resource)
	if err != nil {
		out.Failure = fmt.Errorf("bind resource: %w", err)
		return out
	}
	out.Bound, out.JID = true, bound

	if c.features.Session == nil || c.features.Session.Optional != nil {
		out.SessionEstablished = true
		return out
	}
	if _, err := c.roundTrip(&stanza.IQ{Type: stanza.IQSet, To: c.domain, Payload: &sessionPayload{}}); err != nil {
		out.Failure = fmt.Errorf("establish session: %w", err)
		return out
	}
	out.SessionEstablished = true
	return out
}

// LegacyAuth logs in with jabber:iq:auth, using the digest form when the
// server offers it.
func (c *Conn) LegacyAuth(ctx context.Context, creds Credentials) error {
	defer c.watch(ctx)()

	resource := creds.JID.Resource
	if resource == "" {
		resource = DefaultResource
	}

	reply, err := c.roundTrip(&stanza.IQ{
		Type:    stanza.IQGet,
		To:      c.domain,
		Payload: &legacyAuthQuery{Username: creds.JID.Node},
	})
	if err != nil {
		return fmt.Errorf("query legacy auth fields: %w", err)
	}
	offered, ok := reply.Payload.(*legacyAuthQuery)
	if !ok {
		return errors.New("legacy auth answer carried no query")
	}

	login := &legacyAuthQuery{Username: creds.JID.Node, Resource: &resource}
	switch {
	case offered.Digest != nil && c.streamID != "":
		digest := legacyDigest(c.streamID, creds.Password)
		login.Digest = &digest
	case offered.Password != nil:
		password := creds.Password
		login.Password = &password
	default:
		return errors.New("server offers neither digest nor password login")
	}

	if _, err := c.roundTrip(&stanza.IQ{Type: stanza.IQSet, To: c.domain, Payload: login}); err != nil {
		return fmt.Errorf("legacy auth: %w", err)
	}
	c.log.Debug("legacy auth succeeded", "digest", login.Digest != nil)
	return nil
}

func (c *Conn) startTLS(ctx context.Context) error {
	if err := c.writeRaw("<starttls xmlns='" + nsTLS + "'/>"); err != nil {
		return fmt.Errorf("request starttls: %w", err)
	}
	start, err := c.nextStart()
	if err != nil {
		return fmt.Errorf("read starttls answer: %w", err)
	}
	if err := c.dec.Skip(); err != nil {
		return err
	}
	if start.Name.Space != nsTLS || start.Name.Local != "proceed" {
		return fmt.Errorf("server refused starttls with <%s>", start.Name.Local)
	}

	cfg := c.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = c.domain
	}
	tlsConn := tls.Client(c.current(), cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("tls handshake: %w", err)
	}
	c.reset(tlsConn)
	c.secure = true
	return c.open()
}

func (c *Conn) authPlain(creds Credentials) error {
	token := "\x00" + creds.JID.Node + "\x00" + creds.Password
	request := fmt.Sprintf("<auth xmlns='%s' mechanism='%s'>%s</auth>",
		nsSASL, mechanismPlain, base64.StdEncoding.EncodeToString([]byte(token)))
	if err := c.writeRaw(request); err != nil {
		return fmt.Errorf("send sasl auth: %w", err)
	}

	start, err := c.nextStart()
	if err != nil {
		return fmt.Errorf("read sasl answer: %w", err)
	}
	switch {
	case start.Name.Space == nsSASL && start.Name.Local == "success":
		return c.dec.Skip()
	case start.Name.Space == nsSASL && start.Name.Local == "failure":
		failure := &SASLError{}
		if err := c.dec.DecodeElement(failure, &start); err != nil {
			return fmt.Errorf("decode sasl failure: %w", err)
		}
		failure.Mechanism = mechanismPlain
		return failure
	case start.Name.Space == stanza.NSStream && start.Name.Local == "error":
		return c.decodeStreamError(start)
	default:
		// PLAIN sends everything up front, so a challenge is unexpected.
		if err := c.dec.Skip(); err != nil {
			return err
		}
		return fmt.Errorf("unexpected <%s> during sasl", start.Name.Local)
	}
}

// restart opens a fresh stream over the same connection after
// authentication.
func (c *Conn) restart() error {
	c.reset(c.current())
	if err := c.open(); err != nil {
		return fmt.Errorf("restart stream: %w", err)
	}
	return nil
}

func (c *Conn) bind(resource string) (jid.JID, error) {
	reply, err := c.roundTrip(&stanza.IQ{Type: stanza.IQSet, Payload: &bindPayload{Resource: resource}})
	if err != nil {
		return jid.JID{}, err
	}
	payload, ok := reply.Payload.(*bindPayload)
	if !ok || payload.JID == "" {
		return jid.JID{}, errors.New("bind answer carried no address")
	}
	return jid.Parse(payload.JID)
}

// legacyDigest is hex(SHA-1(stream id + password)).
func legacyDigest(streamID, password string) string {
	sum := sha1.Sum([]byte(streamID + password))
	return hex.EncodeToString(sum[:])
}

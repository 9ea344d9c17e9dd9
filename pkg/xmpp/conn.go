// Package xmpp is the client side of an XMPP stream: dialing, stream
// negotiation and stanza exchange.
package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"commandbot/pkg/jid"
	"commandbot/pkg/stanza"

	"go.uber.org/multierr"
)

const closeTimeout = time.Second

// Features is what the server offers after opening a version 1.0 stream.
type Features struct {
	XMLName    xml.Name         `xml:"http://etherx.jabber.org/streams features"`
	StartTLS   *startTLSFeature `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
	Mechanisms *mechanisms      `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanisms"`
	Bind       *struct{}        `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	Session    *sessionFeature  `xml:"urn:ietf:params:xml:ns:xmpp-session session"`
	LegacyAuth *struct{}        `xml:"http://jabber.org/features/iq-auth auth"`
}

type startTLSFeature struct {
	Required *struct{} `xml:"required"`
}

type mechanisms struct {
	Names []string `xml:"mechanism"`
}

type sessionFeature struct {
	Optional *struct{} `xml:"optional"`
}

// Offers reports whether mechanism is among the offered SASL mechanisms.
func (f Features) Offers(mechanism string) bool {
	if f.Mechanisms == nil {
		return false
	}
	for _, name := range f.Mechanisms.Names {
		if strings.EqualFold(strings.TrimSpace(name), mechanism) {
			return true
		}
	}
	return false
}

// Credentials authenticate the bot's account.
type Credentials struct {
	JID      jid.JID
	Password string
}

// Conn is one client stream over a network connection. Send may be called
// from any goroutine; Open, Negotiate, LegacyAuth and Next belong to the
// single goroutine driving the stream.
type Conn struct {
	log       *slog.Logger
	domain    string
	tlsConfig *tls.Config

	mu  sync.Mutex
	raw net.Conn
	enc *xml.Encoder

	dec      *xml.Decoder
	streamID string
	version  string
	features Features
	secure   bool
	nextID   uint64

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps raw, an established connection to the server of domain.
// tlsConfig is used for STARTTLS; nil disables the upgrade.
func NewConn(raw net.Conn, domain string, tlsConfig *tls.Config, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	_, secure := raw.(*tls.Conn)
	c := &Conn{
		log:       log.With("component", "xmpp.conn", "domain", domain),
		domain:    domain,
		tlsConfig: tlsConfig,
		secure:    secure,
	}
	c.reset(raw)
	return c
}

// StreamID is the id the server assigned to the current stream.
func (c *Conn) StreamID() string { return c.streamID }

// Version is the protocol version the server announced; empty for
// pre-1.0 servers.
func (c *Conn) Version() string { return c.version }

// Features returns the features offered on the current stream.
func (c *Conn) Features() Features { return c.features }

// Secure reports whether the connection is encrypted.
func (c *Conn) Secure() bool { return c.secure }

// Open sends the stream header and reads the server's, including the
// feature list of a version 1.0 stream.
func (c *Conn) Open(ctx context.Context) error {
	defer c.watch(ctx)()
	return c.open()
}

func (c *Conn) open() error {
	header := fmt.Sprintf(
		"<?xml version='1.0'?><stream:stream to='%s' version='1.0' xmlns='%s' xmlns:stream='%s'>",
		xmlEscape(c.domain), stanza.NSClient, stanza.NSStream,
	)
	if err := c.writeRaw(header); err != nil {
		return fmt.Errorf("write stream header: %w", err)
	}

	start, err := c.nextStart()
	if err != nil {
		return fmt.Errorf("read stream header: %w", err)
	}
	if start.Name.Space != stanza.NSStream || start.Name.Local != "stream" {
		return fmt.Errorf("unexpected stream root <%s>", start.Name.Local)
	}

	c.streamID, c.version = "", ""
	for _, attr := range start.Attr {
		if attr.Name.Space != "" {
			continue
		}
		switch attr.Name.Local {
		case "id":
			c.streamID = attr.Value
		case "version":
			c.version = attr.Value
		}
	}

	c.features = Features{}
	if !strings.HasPrefix(c.version, "1.") {
		return nil
	}
	start, err = c.nextStart()
	if err != nil {
		return fmt.Errorf("read stream features: %w", err)
	}
	if start.Name.Space == stanza.NSStream && start.Name.Local == "error" {
		return c.decodeStreamError(start)
	}
	if start.Name.Space != stanza.NSStream || start.Name.Local != "features" {
		return fmt.Errorf("expected stream features, got <%s>", start.Name.Local)
	}
	if err := c.dec.DecodeElement(&c.features, &start); err != nil {
		return fmt.Errorf("decode stream features: %w", err)
	}
	c.log.Debug("stream opened", "stream_id", c.streamID, "version", c.version, "secure", c.secure)
	return nil
}

// Send writes one stanza.
func (c *Conn) Send(st stanza.Stanza) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(st); err != nil {
		return fmt.Errorf("send %s: %w", st.StanzaKind(), err)
	}
	return nil
}

// Next blocks until the server sends the next stanza. It returns io.EOF
// when the server closes the stream and a *StreamError when it reports
// one.
func (c *Conn) Next() (stanza.Stanza, error) {
	for {
		start, err := c.nextStart()
		if err != nil {
			return nil, err
		}
		st, err := c.decodeStanza(start)
		if err != nil {
			return nil, err
		}
		if st != nil {
			return st, nil
		}
	}
}

// Close ends the stream and closes the connection. Calls after the first
// return the first call's result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		raw := c.current()
		_ = raw.SetWriteDeadline(time.Now().Add(closeTimeout))

		c.mu.Lock()
		_, writeErr := io.WriteString(raw, "</stream:stream>")
		c.mu.Unlock()
		if errors.Is(writeErr, net.ErrClosed) || errors.Is(writeErr, io.ErrClosedPipe) {
			writeErr = nil
		}

		c.closeErr = multierr.Combine(writeErr, raw.Close())
	})
	return c.closeErr
}

func (c *Conn) decodeStanza(start xml.StartElement) (stanza.Stanza, error) {
	var st stanza.Stanza
	switch {
	case start.Name.Space == stanza.NSStream && start.Name.Local == "error":
		return nil, c.decodeStreamError(start)
	case start.Name.Local == "iq":
		st = &stanza.IQ{}
	case start.Name.Local == "message":
		st = &stanza.Message{}
	case start.Name.Local == "presence":
		st = &stanza.Presence{}
	default:
		c.log.Debug("skipping unknown top-level element", "name", start.Name.Local, "namespace", start.Name.Space)
		return nil, c.dec.Skip()
	}
	if err := c.dec.DecodeElement(st, &start); err != nil {
		return nil, fmt.Errorf("decode %s: %w", start.Name.Local, err)
	}
	return st, nil
}

func (c *Conn) decodeStreamError(start xml.StartElement) error {
	var streamErr StreamError
	if err := c.dec.DecodeElement(&streamErr, &start); err != nil {
		return fmt.Errorf("decode stream error: %w", err)
	}
	return &streamErr
}

// nextStart returns the next top-level start element. The closing
// </stream:stream> is reported as io.EOF.
func (c *Conn) nextStart() (xml.StartElement, error) {
	for {
		tok, err := c.dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.EndElement:
			return xml.StartElement{}, io.EOF
		}
	}
}

// roundTrip sends a request IQ and waits for its answer. Other stanzas
// arriving meanwhile are dropped; only negotiation uses it.
func (c *Conn) roundTrip(iq *stanza.IQ) (*stanza.IQ, error) {
	c.nextID++
	iq.ID = fmt.Sprintf("neg%d", c.nextID)
	if err := c.Send(iq); err != nil {
		return nil, err
	}

	for {
		st, err := c.Next()
		if err != nil {
			return nil, err
		}
		reply, ok := st.(*stanza.IQ)
		if !ok || reply.ID != iq.ID {
			c.log.Debug("dropping stanza during negotiation", "kind", st.StanzaKind())
			continue
		}
		switch reply.Type {
		case stanza.IQResult:
			return reply, nil
		case stanza.IQError:
			if reply.Error != nil {
				return nil, reply.Error
			}
			return nil, stanza.NewError(stanza.UndefinedCondition, "")
		default:
			return nil, fmt.Errorf("unexpected %q answer to %s", reply.Type, iq.ID)
		}
	}
}

func (c *Conn) writeRaw(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.raw, s)
	return err
}

// reset points the codec at raw, as needed after a TLS upgrade or a stream
// restart.
func (c *Conn) reset(raw net.Conn) {
	c.mu.Lock()
	c.raw = raw
	c.enc = xml.NewEncoder(raw)
	c.mu.Unlock()
	c.dec = xml.NewDecoder(raw)
}

func (c *Conn) current() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

// watch applies ctx's deadline and cancellation to blocking I/O until the
// returned func is called.
func (c *Conn) watch(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.current().SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.current().SetDeadline(time.Now())
	})
	return func() {
		stop()
		_ = c.current().SetDeadline(time.Time{})
	}
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"commandbot/pkg/stanza"
	"commandbot/pkg/xmpp"
)

// Stream is an open client stream. *xmpp.Conn implements it.
type Stream interface {
	Version() string
	Negotiate(ctx context.Context, creds xmpp.Credentials) xmpp.Outcome
	LegacyAuth(ctx context.Context, creds xmpp.Credentials) error
	Send(st stanza.Stanza) error
	Next() (stanza.Stanza, error)
	Close() error
}

// Negotiator logs a stream in: SASL on version 1.0 streams, jabber:iq:auth
// on older servers or when SASL is not offered.
type Negotiator struct {
	log *slog.Logger
}

func NewNegotiator(log *slog.Logger) *Negotiator {
	if log == nil {
		log = slog.Default()
	}
	return &Negotiator{log: log.With("component", "bot.negotiator")}
}

// Authenticate returns nil once the stream is ready for stanzas, or an
// *AuthError.
func (n *Negotiator) Authenticate(ctx context.Context, stream Stream, creds xmpp.Credentials) error {
	version := stream.Version()
	if !strings.HasPrefix(version, "1.") {
		if version != "" {
			n.log.Warn("unexpected stream version, trying legacy login", "version", version)
		}
		return n.legacy(ctx, stream, creds)
	}

	outcome := stream.Negotiate(ctx, creds)
	if outcome.Failure != nil {
		return newAuthError(outcome.Failure)
	}
	if !outcome.Authenticated {
		n.log.Info("server offered no usable sasl mechanism, falling back to legacy login")
		return n.legacy(ctx, stream, creds)
	}
	if !outcome.Bound {
		return &AuthError{Level: ApplicationLevel, Err: stanza.NewError(stanza.ResourceConstraint, "resource was not bound")}
	}
	if !outcome.SessionEstablished {
		return &AuthError{Level: ApplicationLevel, Err: stanza.NewError(stanza.ServiceUnavailable, "session was not established")}
	}

	n.log.Info("authenticated", "jid", outcome.JID.String(), "secure", outcome.SecureChannel)
	return nil
}

func (n *Negotiator) legacy(ctx context.Context, stream Stream, creds xmpp.Credentials) error {
	if err := stream.LegacyAuth(ctx, creds); err != nil {
		return newAuthError(fmt.Errorf("legacy login: %w", err))
	}
	n.log.Info("authenticated with legacy login", "jid", creds.JID.String())
	return nil
}

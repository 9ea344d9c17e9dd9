package bot

import (
	"errors"
	"fmt"

	"commandbot/pkg/stanza"
	"commandbot/pkg/xmpp"
)

// TransportError is a failure to reach the server or to keep reading from
// it. It never reaches a peer; the supervisor reconnects.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FailureLevel says where an authentication failure originated.
type FailureLevel string

const (
	// StreamLevel failures come from the stream itself: I/O, stream errors
	// or malformed negotiation.
	StreamLevel FailureLevel = "stream"
	// ApplicationLevel failures are refusals the server answered with:
	// rejected credentials, failed binding or session setup.
	ApplicationLevel FailureLevel = "application"
)

// AuthError is fatal to the connection attempt it happened in.
type AuthError struct {
	Level FailureLevel
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%s level): %v", e.Level, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// newAuthError classifies err. Server refusals are application level;
// anything else broke the stream.
func newAuthError(err error) *AuthError {
	var (
		stanzaErr *stanza.Error
		saslErr   *xmpp.SASLError
	)
	level := StreamLevel
	if errors.As(err, &stanzaErr) || errors.As(err, &saslErr) {
		level = ApplicationLevel
	}
	return &AuthError{Level: level, Err: err}
}

package dispatch

import (
	"context"
	"fmt"

	"commandbot/pkg/metrics"
	"commandbot/pkg/stanza"
)

// QueryHandler answers one kind of query payload.
type QueryHandler interface {
	Supports(payload stanza.Extension) bool
	// Process returns the response payload, or an error. A *stanza.Error is
	// sent to the requester as is; any other error becomes
	// internal-server-error.
	Process(ctx context.Context, iq *stanza.IQ) (stanza.Extension, error)
}

type queryResponder struct {
	name    string
	handler QueryHandler
	metrics *metrics.Metrics
}

// Query adapts h into a Responder that claims every request whose payload h
// supports and always answers it.
func Query(name string, h QueryHandler, m *metrics.Metrics) Responder {
	return &queryResponder{name: name, handler: h, metrics: m}
}

func (q *queryResponder) Name() string { return q.name }

func (q *queryResponder) Respond(ctx context.Context, out stanza.Sender, iq *stanza.IQ) (bool, error) {
	if iq.Payload == nil || !q.handler.Supports(iq.Payload) {
		return false, nil
	}

	payload, err := q.handler.Process(ctx, iq)
	if err != nil {
		stanzaErr, ok := stanza.AsError(err)
		if !ok {
			stanzaErr = stanza.NewError(stanza.InternalServerError, "")
		}
		q.metrics.Query(q.name, string(stanzaErr.Condition))
		if sendErr := out.Send(iq.ReplyError(stanzaErr)); sendErr != nil {
			return true, fmt.Errorf("send error reply: %w", sendErr)
		}
		return true, err
	}

	q.metrics.Query(q.name, "ok")
	if err := out.Send(iq.Reply(payload)); err != nil {
		return true, fmt.Errorf("send reply: %w", err)
	}
	return true, nil
}

type unimplemented struct {
	metrics *metrics.Metrics
}

// Unimplemented is the terminal responder: it claims every request and
// answers feature-not-implemented.
func Unimplemented(m *metrics.Metrics) Responder {
	return unimplemented{metrics: m}
}

func (unimplemented) Name() string { return "unimplemented" }

func (u unimplemented) Respond(_ context.Context, out stanza.Sender, iq *stanza.IQ) (bool, error) {
	u.metrics.Query(u.Name(), string(stanza.FeatureNotImplemented))
	if err := out.Send(iq.ReplyError(stanza.NewError(stanza.FeatureNotImplemented, ""))); err != nil {
		return true, fmt.Errorf("send error reply: %w", err)
	}
	return true, nil
}

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"commandbot/pkg/metrics"
	"commandbot/pkg/stanza"
)

// Responder is one link of the chain. Respond reports whether it claimed
// the request; once claimed the chain stops, and any error describes the
// responder's own processing after it already answered.
type Responder interface {
	Name() string
	Respond(ctx context.Context, out stanza.Sender, iq *stanza.IQ) (bool, error)
}

// Chain offers iq requests to its responders in registration order until one
// claims them.
type Chain struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	responders []Responder
}

func NewChain(log *slog.Logger, m *metrics.Metrics, responders ...Responder) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{
		log:        log.With("component", "dispatch.chain"),
		metrics:    m,
		responders: responders,
	}
}

// Add appends r after the existing responders.
func (c *Chain) Add(r Responder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responders = append(c.responders, r)
}

// Dispatch hands st to the chain. Only iq get/set requests are considered;
// everything else is ignored and reported unclaimed.
func (c *Chain) Dispatch(ctx context.Context, out stanza.Sender, st stanza.Stanza) bool {
	iq, ok := st.(*stanza.IQ)
	if !ok || !iq.IsRequest() {
		return false
	}

	c.mu.RLock()
	responders := append([]Responder(nil), c.responders...)
	c.mu.RUnlock()

	for _, responder := range responders {
		claimed, err := c.respond(ctx, responder, out, iq)
		if !claimed {
			continue
		}
		if err != nil {
			c.log.Warn("query failed", "responder", responder.Name(), "id", iq.ID, "from", iq.From, "error", err)
		} else {
			c.log.Debug("query answered", "responder", responder.Name(), "id", iq.ID, "from", iq.From)
		}
		return true
	}

	c.log.Debug("query unclaimed", "id", iq.ID, "from", iq.From)
	return false
}

func (c *Chain) respond(ctx context.Context, responder Responder, out stanza.Sender, iq *stanza.IQ) (claimed bool, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		claimed = true
		err = fmt.Errorf("responder %s panicked: %v", responder.Name(), recovered)
		c.metrics.Query(responder.Name(), string(stanza.InternalServerError))
		if sendErr := out.Send(iq.ReplyError(stanza.NewError(stanza.InternalServerError, ""))); sendErr != nil {
			c.log.Error("send internal error reply failed", "id", iq.ID, "error", sendErr)
		}
	}()

	claimed, err = responder.Respond(ctx, out, iq)
	return claimed, err
}

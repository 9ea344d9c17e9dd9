package roster

import (
	"math"
	"sync"

	"commandbot/pkg/jid"
	"commandbot/pkg/stanza"
)

// Roster is an in-memory snapshot of peer presence for the current
// connection. It is cleared whenever a new connection comes online.
type Roster struct {
	mu       sync.RWMutex
	presence map[jid.JID]map[string]stanza.Presence
}

func New() *Roster {
	return &Roster{presence: make(map[jid.JID]map[string]stanza.Presence)}
}

// Reset forgets every presence held so far.
func (r *Roster) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.presence)
}

// Update applies an inbound presence. Only availability and unavailability
// are tracked; subscriptions and errors are ignored. It reports whether p
// changed the snapshot.
func (r *Roster) Update(p *stanza.Presence) bool {
	if p.Type != "" && p.Type != stanza.PresenceUnavailable {
		return false
	}
	from, err := jid.Parse(p.From)
	if err != nil {
		return false
	}

	bare := from.Bare()
	r.mu.Lock()
	defer r.mu.Unlock()

	resources, ok := r.presence[bare]
	if !ok {
		if !p.Available() {
			return false
		}
		resources = make(map[string]stanza.Presence)
		r.presence[bare] = resources
	}

	if p.Available() {
		resources[from.Resource] = *p
	} else {
		delete(resources, from.Resource)
	}
	if len(resources) == 0 {
		delete(r.presence, bare)
	}
	return true
}

// Presence returns the highest-priority available presence for the bare
// form of address. Among equal priorities the lowest resource name wins.
func (r *Roster) Presence(address jid.JID) (stanza.Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best     stanza.Presence
		bestRes  string
		found    bool
		priority = math.MinInt
	)
	for resource, p := range r.presence[address.Bare()] {
		if p.Priority > priority || (p.Priority == priority && resource < bestRes) {
			best, bestRes, found, priority = p, resource, true, p.Priority
		}
	}
	return best, found
}

// Len is the number of bare addresses with at least one available resource.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presence)
}

package disco

import (
	"context"
	"sort"
	"sync"

	"commandbot/pkg/stanza"
)

// Node is something that can be discovered: the bot itself, the command
// list, or a single command.
type Node interface {
	// NodeID is the disco node attribute; the bot itself uses "".
	NodeID() string
	DiscoInfo() Info
	// DiscoChildren lists child nodes in display order. The returned nodes
	// are references, never owned.
	DiscoChildren() []Node
}

// Info is the identity and feature listing of one node.
type Info struct {
	Identities []stanza.Identity
	Features   []string
}

// Name is the display name of the first named identity.
func (i Info) Name() string {
	for _, identity := range i.Identities {
		if identity.Name != "" {
			return identity.Name
		}
	}
	return ""
}

// Item is one entry of an items listing.
type Item struct {
	Node string
	Name string
}

// Registry maps node ids to discoverable nodes and answers disco#info and
// disco#items for them.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

// NewRegistry builds a registry whose root is root. root.NodeID() should be
// "".
func NewRegistry(root Node) *Registry {
	r := &Registry{nodes: make(map[string]Node)}
	r.Add(root)
	return r
}

// Add registers node under its id, replacing any earlier node with that id.
func (r *Registry) Add(node Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.NodeID()] = node
}

func (r *Registry) lookup(id string) (Node, error) {
	r.mu.RLock()
	node, ok := r.nodes[id]
	r.mu.RUnlock()
	if !ok {
		return nil, stanza.Errorf(stanza.ItemNotFound, "no such node %q", id)
	}
	return node, nil
}

// Info returns the listing for node id.
func (r *Registry) Info(id string) (Info, error) {
	node, err := r.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return node.DiscoInfo(), nil
}

// Items returns the children of node id. Each name comes from the child's
// own Info, so both queries agree on naming.
func (r *Registry) Items(id string) ([]Item, error) {
	node, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	children := node.DiscoChildren()
	items := make([]Item, 0, len(children))
	for _, child := range children {
		items = append(items, Item{Node: child.NodeID(), Name: child.DiscoInfo().Name()})
	}
	return items, nil
}

// IDs lists every registered node id in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Supports(payload stanza.Extension) bool {
	switch payload.(type) {
	case *stanza.DiscoInfo, *stanza.DiscoItems:
		return true
	default:
		return false
	}
}

func (r *Registry) Process(_ context.Context, iq *stanza.IQ) (stanza.Extension, error) {
	if iq.Type != stanza.IQGet {
		return nil, stanza.NewError(stanza.BadRequest, "discovery queries must be get requests")
	}

	switch query := iq.Payload.(type) {
	case *stanza.DiscoInfo:
		info, err := r.Info(query.Node)
		if err != nil {
			return nil, err
		}
		resp := &stanza.DiscoInfo{Node: query.Node, Identities: info.Identities}
		for _, feature := range info.Features {
			resp.Features = append(resp.Features, stanza.Feature{Var: feature})
		}
		return resp, nil
	case *stanza.DiscoItems:
		items, err := r.Items(query.Node)
		if err != nil {
			return nil, err
		}
		resp := &stanza.DiscoItems{Node: query.Node}
		for _, item := range items {
			resp.Items = append(resp.Items, stanza.DiscoItem{JID: iq.To, Node: item.Node, Name: item.Name})
		}
		return resp, nil
	default:
		return nil, stanza.NewError(stanza.FeatureNotImplemented, "")
	}
}

// StaticNode is a Node with a fixed listing.
type StaticNode struct {
	ID       string
	Info     Info
	Children []Node
}

func (n *StaticNode) NodeID() string        { return n.ID }
func (n *StaticNode) DiscoInfo() Info       { return n.Info }
func (n *StaticNode) DiscoChildren() []Node { return n.Children }

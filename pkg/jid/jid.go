package jid

import (
	"errors"
	"fmt"
	"strings"
)

// JID is a parsed XMPP address: node@domain/resource. The zero value is the
// absent address.
type JID struct {
	Node     string
	Domain   string
	Resource string
}

var errEmptyDomain = errors.New("address domain is empty")

// Parse splits raw into its node, domain and resource parts.
func Parse(raw string) (JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return JID{}, errors.New("address is empty")
	}

	var out JID
	rest := raw
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		out.Resource = rest[slash+1:]
		rest = rest[:slash]
		if out.Resource == "" {
			return JID{}, fmt.Errorf("address %q has an empty resource", raw)
		}
	}
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		out.Node = rest[:at]
		rest = rest[at+1:]
		if out.Node == "" {
			return JID{}, fmt.Errorf("address %q has an empty node", raw)
		}
	}
	out.Domain = strings.ToLower(rest)
	if out.Domain == "" {
		return JID{}, fmt.Errorf("parse %q: %w", raw, errEmptyDomain)
	}

	return out, nil
}

// MustParse is Parse for addresses known at compile time.
func MustParse(raw string) JID {
	out, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return out
}

// IsZero reports whether j is the absent address.
func (j JID) IsZero() bool {
	return j.Domain == ""
}

// Bare returns j without its resource.
func (j JID) Bare() JID {
	return JID{Node: j.Node, Domain: j.Domain}
}

// IsBare reports whether j has no resource.
func (j JID) IsBare() bool {
	return j.Resource == ""
}

// SameBare reports whether j and other name the same account regardless of
// resource.
func (j JID) SameBare(other JID) bool {
	return j.Node == other.Node && j.Domain == other.Domain
}

// WithResource returns a copy of j bound to resource.
func (j JID) WithResource(resource string) JID {
	j.Resource = resource
	return j
}

func (j JID) String() string {
	if j.IsZero() {
		return ""
	}

	var b strings.Builder
	if j.Node != "" {
		b.WriteString(j.Node)
		b.WriteByte('@')
	}
	b.WriteString(j.Domain)
	if j.Resource != "" {
		b.WriteByte('/')
		b.WriteString(j.Resource)
	}
	return b.String()
}

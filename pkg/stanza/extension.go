package stanza

import (
	"encoding/xml"
	"sync"
)

// Extension is the namespaced payload element carried by an IQ.
type Extension interface {
	ExtensionName() xml.Name
}

var (
	extensionsMu sync.RWMutex
	extensions   = map[xml.Name]func() Extension{
		{Space: NSVersion, Local: "query"}:    func() Extension { return &Version{} },
		{Space: NSDiscoInfo, Local: "query"}:  func() Extension { return &DiscoInfo{} },
		{Space: NSDiscoItems, Local: "query"}: func() Extension { return &DiscoItems{} },
		{Space: NSCommands, Local: "command"}: func() Extension { return &Command{} },
	}
)

// RegisterExtension makes IQ decoding produce the type built by factory for
// payloads named name. Later registrations replace earlier ones.
func RegisterExtension(name xml.Name, factory func() Extension) {
	extensionsMu.Lock()
	defer extensionsMu.Unlock()
	extensions[name] = factory
}

// NewExtension returns an empty payload for name, or *Unknown when no type
// is registered for it.
func NewExtension(name xml.Name) Extension {
	extensionsMu.RLock()
	factory, ok := extensions[name]
	extensionsMu.RUnlock()
	if !ok {
		return &Unknown{}
	}
	return factory()
}

// Unknown keeps a payload nobody registered a type for, verbatim, so it can
// be echoed back in error responses.
type Unknown struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

func (u *Unknown) ExtensionName() xml.Name { return u.XMLName }

func (u *Unknown) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	u.XMLName = start.Name
	u.Attrs = u.Attrs[:0]
	for _, attr := range start.Attr {
		// the namespace declaration is re-emitted from XMLName
		if attr.Name.Local == "xmlns" || attr.Name.Space == "xmlns" {
			continue
		}
		u.Attrs = append(u.Attrs, attr)
	}

	var body struct {
		Inner string `xml:",innerxml"`
	}
	if err := d.DecodeElement(&body, &start); err != nil {
		return err
	}
	u.Inner = body.Inner
	return nil
}

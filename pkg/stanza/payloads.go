package stanza

import "encoding/xml"

// Version answers jabber:iq:version queries.
type Version struct {
	XMLName xml.Name `xml:"jabber:iq:version query"`
	Name    string   `xml:"name,omitempty"`
	Version string   `xml:"version,omitempty"`
	OS      string   `xml:"os,omitempty"`
}

func (*Version) ExtensionName() xml.Name { return xml.Name{Space: NSVersion, Local: "query"} }

// Identity is one category/type/name triple advertised by a discoverable
// node.
type Identity struct {
	Category string `xml:"category,attr"`
	Type     string `xml:"type,attr"`
	Name     string `xml:"name,attr,omitempty"`
}

// Feature is one namespace a discoverable node supports.
type Feature struct {
	Var string `xml:"var,attr"`
}

// DiscoInfo is a disco#info request or response.
type DiscoInfo struct {
	XMLName    xml.Name   `xml:"http://jabber.org/protocol/disco#info query"`
	Node       string     `xml:"node,attr,omitempty"`
	Identities []Identity `xml:"identity"`
	Features   []Feature  `xml:"feature"`
}

func (*DiscoInfo) ExtensionName() xml.Name { return xml.Name{Space: NSDiscoInfo, Local: "query"} }

// DiscoItem is one child entry of a disco#items response.
type DiscoItem struct {
	JID  string `xml:"jid,attr"`
	Node string `xml:"node,attr,omitempty"`
	Name string `xml:"name,attr,omitempty"`
}

// DiscoItems is a disco#items request or response.
type DiscoItems struct {
	XMLName xml.Name    `xml:"http://jabber.org/protocol/disco#items query"`
	Node    string      `xml:"node,attr,omitempty"`
	Items   []DiscoItem `xml:"item"`
}

func (*DiscoItems) ExtensionName() xml.Name { return xml.Name{Space: NSDiscoItems, Local: "query"} }

// Command statuses.
const (
	StatusExecuting = "executing"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
)

// Command actions.
const (
	ActionExecute  = "execute"
	ActionCancel   = "cancel"
	ActionNext     = "next"
	ActionPrev     = "prev"
	ActionComplete = "complete"
)

// Note is an informational line attached to a command response.
type Note struct {
	Type string `xml:"type,attr,omitempty"`
	Text string `xml:",chardata"`
}

// Command is an ad-hoc command request or response.
type Command struct {
	XMLName   xml.Name `xml:"http://jabber.org/protocol/commands command"`
	Node      string   `xml:"node,attr"`
	SessionID string   `xml:"sessionid,attr,omitempty"`
	Action    string   `xml:"action,attr,omitempty"`
	Status    string   `xml:"status,attr,omitempty"`
	Notes     []Note   `xml:"note"`
	Form      *Form    `xml:"jabber:x:data x"`
}

func (*Command) ExtensionName() xml.Name { return xml.Name{Space: NSCommands, Local: "command"} }

// HasPayload reports whether the request carries submitted data.
func (c *Command) HasPayload() bool {
	return c.Form != nil
}

// Form types.
const (
	FormTypeForm   = "form"
	FormTypeSubmit = "submit"
	FormTypeResult = "result"
	FormTypeCancel = "cancel"
)

// Field types used by the built-in commands.
const (
	FieldTextSingle = "text-single"
	FieldJIDSingle  = "jid-single"
	FieldFixed      = "fixed"
)

// Field is one jabber:x:data field.
type Field struct {
	Var    string   `xml:"var,attr,omitempty"`
	Type   string   `xml:"type,attr,omitempty"`
	Label  string   `xml:"label,attr,omitempty"`
	Values []string `xml:"value"`
}

// Form is a jabber:x:data form.
type Form struct {
	XMLName      xml.Name `xml:"jabber:x:data x"`
	Type         string   `xml:"type,attr"`
	Title        string   `xml:"title,omitempty"`
	Instructions []string `xml:"instructions"`
	Fields       []Field  `xml:"field"`
}

// NewForm builds a form of formType with optional instructions.
func NewForm(formType string, instructions ...string) *Form {
	return &Form{Type: formType, Instructions: instructions}
}

// AddField appends a field and returns the form for chaining.
func (f *Form) AddField(name, fieldType, label string) *Form {
	f.Fields = append(f.Fields, Field{Var: name, Type: fieldType, Label: label})
	return f
}

// Value returns the first value of the named field.
func (f *Form) Value(name string) (string, bool) {
	for _, field := range f.Fields {
		if field.Var != name {
			continue
		}
		if len(field.Values) == 0 {
			return "", true
		}
		return field.Values[0], true
	}
	return "", false
}

// SetValue replaces the values of the named field, adding it when missing.
func (f *Form) SetValue(name string, value string) {
	for i := range f.Fields {
		if f.Fields[i].Var == name {
			f.Fields[i].Values = []string{value}
			return
		}
	}
	f.Fields = append(f.Fields, Field{Var: name, Values: []string{value}})
}

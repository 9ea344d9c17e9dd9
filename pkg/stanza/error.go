package stanza

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// Error types.
const (
	ErrorCancel   = "cancel"
	ErrorModify   = "modify"
	ErrorAuth     = "auth"
	ErrorWait     = "wait"
	ErrorContinue = "continue"
)

// Condition is a defined stanza error condition.
type Condition string

const (
	BadRequest            Condition = "bad-request"
	FeatureNotImplemented Condition = "feature-not-implemented"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	NotAuthorized         Condition = "not-authorized"
	ResourceConstraint    Condition = "resource-constraint"
	ServiceUnavailable    Condition = "service-unavailable"
	UndefinedCondition    Condition = "undefined-condition"
)

// defaultTypes pairs each condition with the error type a server would
// normally attach to it.
var defaultTypes = map[Condition]string{
	BadRequest:            ErrorModify,
	FeatureNotImplemented: ErrorCancel,
	InternalServerError:   ErrorCancel,
	ItemNotFound:          ErrorCancel,
	NotAuthorized:         ErrorAuth,
	ResourceConstraint:    ErrorWait,
	ServiceUnavailable:    ErrorCancel,
	UndefinedCondition:    ErrorCancel,
}

// Error is an application-level failure reported to the remote peer inside
// an error stanza. It also satisfies the error interface so handlers can
// return it directly.
type Error struct {
	Type      string
	Condition Condition
	Text      string
}

// NewError builds an error for condition with its default type.
func NewError(condition Condition, text string) *Error {
	errType, ok := defaultTypes[condition]
	if !ok {
		errType = ErrorCancel
	}
	return &Error{Type: errType, Condition: condition, Text: text}
}

// Errorf builds an error for condition with a formatted text.
func Errorf(condition Condition, format string, args ...any) *Error {
	return NewError(condition, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Text == "" {
		return string(e.Condition)
	}
	return fmt.Sprintf("%s: %s", e.Condition, e.Text)
}

// Is matches errors carrying the same condition.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Condition == other.Condition
}

// AsError returns the stanza error wrapped by err, if any.
func AsError(err error) (*Error, bool) {
	var stanzaErr *Error
	if errors.As(err, &stanzaErr) {
		return stanzaErr, true
	}
	return nil, false
}

// ConditionOf returns the condition carried by err, or InternalServerError
// when err is not a stanza error.
func ConditionOf(err error) Condition {
	if err == nil {
		return ""
	}
	if stanzaErr, ok := AsError(err); ok {
		return stanzaErr.Condition
	}
	return InternalServerError
}

func (e *Error) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: "error"}}
	start.Attr = appendAttr(start.Attr, "type", e.Type)
	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	condition := xml.StartElement{Name: xml.Name{Space: NSStanzas, Local: string(e.Condition)}}
	if err := enc.EncodeToken(condition); err != nil {
		return err
	}
	if err := enc.EncodeToken(condition.End()); err != nil {
		return err
	}

	if e.Text != "" {
		text := xml.StartElement{Name: xml.Name{Space: NSStanzas, Local: "text"}}
		if err := enc.EncodeElement(e.Text, text); err != nil {
			return err
		}
	}

	return enc.EncodeToken(start.End())
}

func (e *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == "type" {
			e.Type = attr.Value
		}
	}

	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "text" {
				var text string
				if err := d.DecodeElement(&text, &t); err != nil {
					return err
				}
				e.Text = text
				continue
			}
			if t.Name.Space == NSStanzas && e.Condition == "" {
				e.Condition = Condition(t.Name.Local)
			}
			if err := d.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			if e.Condition == "" {
				e.Condition = UndefinedCondition
			}
			return nil
		}
	}
}

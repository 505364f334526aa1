// Package transport exposes a single authenticated XMPP stream as a
// stanza handler registry. Handlers are matched on the stanza element
// name, its type attribute and the namespace of a direct child
// payload; each handler tells the transport whether it wants to stay
// registered by returning an explicit HandlerResult rather than a
// bare boolean.
package transport

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"

	"mellium.im/xmpp/jid"
)

// HandlerResult tells the transport what to do with a handler after
// it ran.
type HandlerResult int

const (
	// Keep leaves the handler registered
	Keep HandlerResult = iota
	// Unregister removes the handler after this invocation
	Unregister
)

// HandlerFunc processes one inbound stanza
type HandlerFunc func(st *Stanza) HandlerResult

// Match selects the stanzas a handler receives. Empty fields are
// wildcards: NS matches a direct child payload namespace, Name the
// stanza element (message/presence/iq), Type the type attribute.
type Match struct {
	NS   string
	Name string
	Type string
}

// Transport is the connection handle consumed by the protocol
// subsystems: handler registration, stanza sending and a few
// predicates about the stream.
type Transport interface {
	// AddHandler registers a permanent-until-unregistered stanza handler
	AddHandler(m Match, fn HandlerFunc)

	// Send encodes a stanza onto the stream
	Send(ctx context.Context, v interface{}) error

	// Connected reports whether the stream is currently established
	Connected() bool

	// Resumable reports whether the stream holds a session-resumption
	// token, i.e. whether an unannounced disconnect can be resumed
	// without rejoining rooms
	Resumable() bool

	// LocalJID returns the bound JID. It returns an error before
	// resource binding has established an identity.
	LocalJID() (jid.JID, error)
}

// Payload is a direct child element of a stanza, kept as raw XML so
// subsystems can decode the namespaces they understand.
type Payload struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

// Attr returns the value of a payload attribute
func (p *Payload) Attr(local string) string {
	for _, a := range p.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// OuterXML reconstructs the payload element including its namespace,
// suitable for xml.Unmarshal into a typed struct.
func (p *Payload) OuterXML() []byte {
	var buf bytes.Buffer
	buf.WriteByte('<')
	buf.WriteString(p.XMLName.Local)
	if p.XMLName.Space != "" {
		buf.WriteString(` xmlns="`)
		_ = xml.EscapeText(&buf, []byte(p.XMLName.Space))
		buf.WriteByte('"')
	}
	for _, a := range p.Attrs {
		if a.Name.Local == "xmlns" || a.Name.Space == "xmlns" {
			continue
		}
		buf.WriteByte(' ')
		buf.WriteString(a.Name.Local)
		buf.WriteString(`="`)
		_ = xml.EscapeText(&buf, []byte(a.Value))
		buf.WriteByte('"')
	}
	buf.WriteByte('>')
	buf.Write(p.Inner)
	buf.WriteString("</" + p.XMLName.Local + ">")
	return buf.Bytes()
}

// Stanza is a generically decoded protocol unit. Attribute access is
// parsed once; payload children stay raw until a subsystem decodes
// them.
type Stanza struct {
	XMLName  xml.Name
	ID       string    `xml:"id,attr"`
	From     string    `xml:"from,attr"`
	To       string    `xml:"to,attr"`
	Type     string    `xml:"type,attr"`
	Body     string    `xml:"body"`
	Payloads []Payload `xml:",any"`
}

// FromJID parses the from attribute
func (s *Stanza) FromJID() (jid.JID, error) {
	if s.From == "" {
		return jid.JID{}, fmt.Errorf("stanza has no from address")
	}
	return jid.Parse(s.From)
}

// Payload returns the first direct child in the given namespace with
// the given local name; an empty local name matches any element.
func (s *Stanza) Payload(ns, local string) (*Payload, bool) {
	for i := range s.Payloads {
		p := &s.Payloads[i]
		if p.XMLName.Space != ns {
			continue
		}
		if local != "" && p.XMLName.Local != local {
			continue
		}
		return p, true
	}
	return nil, false
}

// Matches reports whether the stanza satisfies a handler match
func (s *Stanza) Matches(m Match) bool {
	if m.Name != "" && s.XMLName.Local != m.Name {
		return false
	}
	if m.Type != "" && s.Type != m.Type {
		return false
	}
	if m.NS != "" {
		if _, ok := s.Payload(m.NS, ""); !ok {
			return false
		}
	}
	return true
}

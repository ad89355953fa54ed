package template

import (
	"fmt"

	"github.com/danmuck/rammbock/internal/protocol/value"
)

// Protocol is the header layout shared by messages, closed by a pdu marker
// whose length names the header field carrying the payload size.
type Protocol struct {
	containerBase
	pdu       *Field
	headerLen int
}

func NewProtocol(name string, littleEndian bool) *Protocol {
	p := &Protocol{containerBase: newContainerBase(name)}
	p.littleEndian = littleEndian
	return p
}

func (p *Protocol) add(t Template) error {
	if p.pdu != nil {
		return schemaErrorf("protocol %s: pdu must be the last field, got %s after it", p.name, t.Name())
	}
	if f, ok := t.(*Field); ok && f.kind == value.KindPDU {
		p.pdu = f
		return nil
	}
	return p.containerBase.add(t)
}

// finish fixes the header length; every header field must be statically sized.
func (p *Protocol) finish() error {
	total := 0
	for _, t := range p.fields {
		n, ok := t.staticLength()
		if !ok {
			return schemaErrorf("protocol %s: header field %s has a dynamic length", p.name, t.Name())
		}
		total += n
	}
	p.headerLen = total
	return nil
}

// HeaderLength is the byte size of the header preceding the pdu.
func (p *Protocol) HeaderLength() int { return p.headerLen }

// PDU returns the payload marker, or nil when the protocol has none.
func (p *Protocol) PDU() *Field { return p.pdu }

// DecodeHeader decodes the header from the front of data and returns the
// bytes that follow it.
func (p *Protocol) DecodeHeader(data []byte) (*value.Header, []byte, error) {
	if len(data) < p.headerLen {
		return nil, nil, decodeErrorf("protocol %s header needs %d bytes, have %d", p.name, p.headerLen, len(data))
	}
	hdr := value.NewHeader(p.name)
	used, err := p.decodeFields(data[:p.headerLen], hdr, false)
	if err != nil {
		return nil, nil, err
	}
	return hdr, data[used:], nil
}

// PayloadLength evaluates the pdu length against a decoded header.
func (p *Protocol) PayloadLength(hdr *value.Header) (int, error) {
	if p.pdu == nil {
		return 0, decodeErrorf("protocol %s has no pdu", p.name)
	}
	n, err := p.pdu.length.Decode(hdr, -1)
	if err != nil {
		return 0, fmt.Errorf("%w: pdu: %w", ErrDecode, err)
	}
	return n, nil
}

// encodeHeader fills the header for a body of bodyLen bytes. A pdu length
// field without a value is derived from bodyLen.
func (p *Protocol) encodeHeader(hp Params, bodyLen int) (*value.Header, error) {
	hdr := value.NewHeader(p.name)
	if err := p.encodeFields(hp, hdr, false); err != nil {
		return nil, err
	}
	if err := checkLeftovers(hp, "header of "+p.name); err != nil {
		return nil, err
	}
	if p.pdu != nil {
		if _, err := p.pdu.length.FindAndSet(hdr, bodyLen); err != nil {
			return nil, fmt.Errorf("%w: pdu: %w", ErrEncode, err)
		}
	}
	return hdr, nil
}

// ValidateHeader compares a decoded header with expected values.
func (p *Protocol) ValidateHeader(hdr *value.Header, hp Params) []string {
	return p.validateFields(hdr, hp.Copy())
}

// MatchHeaderField reports whether one header field matches expected.
func (p *Protocol) MatchHeaderField(hdr *value.Header, name, expected string) bool {
	t, ok := p.index[name]
	if !ok {
		return false
	}
	f, ok := t.(*Field)
	if !ok {
		return false
	}
	n, ok := hdr.Child(name)
	if !ok {
		return false
	}
	field, ok := n.(*value.Field)
	if !ok {
		return false
	}
	return len(f.Match(field, expected)) == 0
}

func (p *Protocol) encode(Params, value.Container, string, bool) (value.Node, error) {
	return nil, encodeErrorf("protocol %s is not a field", p.name)
}

func (p *Protocol) decode([]byte, value.Container, string, bool) (value.Node, int, error) {
	return nil, 0, decodeErrorf("protocol %s is not a field", p.name)
}

func (p *Protocol) validate(value.Container, Params, string) []string { return nil }

func (p *Protocol) staticLength() (int, bool) { return p.headerLen, true }

// Message is a top level layout, optionally framed by a protocol header.
type Message struct {
	containerBase
	protocol     *Protocol
	headerParams Params
	defaults     Params
}

func NewMessage(name string, protocol *Protocol, headerParams Params) *Message {
	m := &Message{
		containerBase: newContainerBase(name),
		protocol:      protocol,
		headerParams:  headerParams.Copy(),
		defaults:      Params{},
	}
	if protocol != nil {
		m.littleEndian = protocol.littleEndian
	}
	return m
}

func (m *Message) Protocol() *Protocol { return m.protocol }

// HeaderParams returns the header values the message was declared with.
func (m *Message) HeaderParams() Params { return m.headerParams.Copy() }

// Defaults returns the body values stored with the message.
func (m *Message) Defaults() Params { return m.defaults.Copy() }

// WithParams returns a copy sharing the layout with extra stored values.
func (m *Message) WithParams(body, header Params) *Message {
	out := *m
	out.defaults = m.defaults.Merge(body)
	out.headerParams = m.headerParams.Merge(header)
	return &out
}

// Encode builds the message tree. Unknown params fail the encode.
func (m *Message) Encode(p, hp Params) (*value.Message, error) {
	params := m.defaults.Merge(p)
	msg := value.NewMessage(m.name)
	if err := m.encodeFields(params, msg, false); err != nil {
		return nil, err
	}
	if err := checkLeftovers(params, "message "+m.name); err != nil {
		return nil, err
	}
	if m.protocol != nil {
		hdr, err := m.protocol.encodeHeader(m.headerParams.Merge(hp), msg.BodyLen())
		if err != nil {
			return nil, withField("header", err)
		}
		msg.SetHeader(hdr)
	}
	if pending := value.Unresolved(msg); len(pending) > 0 {
		return nil, encodeErrorf("length fields never resolved: %v", pending)
	}
	return msg, nil
}

// Decode reads the body from data; every byte must be consumed.
func (m *Message) Decode(data []byte, hdr *value.Header) (*value.Message, error) {
	msg := value.NewMessage(m.name)
	if hdr != nil {
		msg.SetHeader(hdr)
	}
	used, err := m.decodeFields(data, msg, false)
	if err != nil {
		return nil, err
	}
	if used != len(data) {
		return nil, decodeErrorf("message %s is %d bytes, %d bytes left over", m.name, used, len(data)-used)
	}
	return msg, nil
}

// Validate compares msg with the stored and given expectations, header first.
func (m *Message) Validate(msg *value.Message, p, hp Params) []string {
	var errs []string
	if m.protocol != nil && msg.Header() != nil {
		errs = append(errs, m.protocol.ValidateHeader(msg.Header(), m.headerParams.Merge(hp))...)
	}
	return append(errs, m.validateFields(msg, m.defaults.Merge(p))...)
}

// MatchesHeader reports whether hdr carries this message: only the filter
// field when one is given, otherwise every declared header value.
func (m *Message) MatchesHeader(hdr *value.Header, filter string) bool {
	if m.protocol == nil || hdr == nil {
		return m.protocol == nil
	}
	if hdr.Protocol() != m.protocol.name {
		return false
	}
	if filter == "" {
		return len(m.protocol.ValidateHeader(hdr, m.headerParams)) == 0
	}
	want, ok := m.headerParams[filter]
	if !ok {
		return false
	}
	return m.protocol.MatchHeaderField(hdr, filter, want)
}

func (m *Message) encode(Params, value.Container, string, bool) (value.Node, error) {
	return nil, encodeErrorf("message %s cannot be nested", m.name)
}

func (m *Message) decode([]byte, value.Container, string, bool) (value.Node, int, error) {
	return nil, 0, decodeErrorf("message %s cannot be nested", m.name)
}

func (m *Message) validate(value.Container, Params, string) []string { return nil }

func (m *Message) staticLength() (int, bool) { return m.staticSum() }

package value

import (
	"github.com/danmuck/rammbock/internal/protocol/binconv"
)

// Struct is an ordered group of named children padded to its alignment.
type Struct struct {
	composite
	align int
}

func NewStruct(name string, parent Container, align int) *Struct {
	return &Struct{composite: newComposite(name, parent), align: align}
}

func (s *Struct) Set(name string, n Node) { s.put(s, name, n) }

// UnalignedLen is the sum of the children without trailing padding.
func (s *Struct) UnalignedLen() int { return s.composite.Len() }

func (s *Struct) Len() int { return alignUp(s.composite.Len(), s.align) }

func (s *Struct) Raw() []byte {
	out := make([]byte, s.Len())
	copy(out, s.composite.Raw())
	return out
}

// List holds repeated elements keyed "0".."N-1".
type List struct {
	composite
}

func NewList(name string, parent Container) *List {
	return &List{composite: newComposite(name, parent)}
}

func (l *List) Set(name string, n Node) { l.put(l, name, n) }

// Append adds n under the next free index.
func (l *List) Append(n Node) { l.put(l, indexName(len(l.names)), n) }

func (l *List) Count() int { return len(l.names) }

// Index returns the i-th element.
func (l *List) Index(i int) (Node, bool) { return l.Child(indexName(i)) }

// Union materializes one or more alternative interpretations of the same bytes.
type Union struct {
	composite
	length int
}

func NewUnion(name string, parent Container, length int) *Union {
	return &Union{composite: newComposite(name, parent), length: length}
}

func (u *Union) Set(name string, n Node) { u.put(u, name, n) }

func (u *Union) Len() int { return u.length }

// Raw is the longest alternative padded with zeros to the union length.
func (u *Union) Raw() []byte {
	var longest []byte
	for _, name := range u.names {
		if b := u.children[name].Raw(); len(b) > len(longest) {
			longest = b
		}
	}
	out := make([]byte, u.length)
	copy(out, longest)
	return out
}

// Bag holds one List of matches per configured case.
type Bag struct {
	composite
}

func NewBag(name string, parent Container) *Bag {
	return &Bag{composite: newComposite(name, parent)}
}

func (b *Bag) Set(name string, n Node) { b.put(b, name, n) }

// Case returns the matches recorded for a case, creating the entry on first use.
func (b *Bag) Case(name string) *List {
	if n, ok := b.children[name]; ok {
		if l, ok := n.(*List); ok {
			return l
		}
	}
	l := NewList(name, b)
	b.Set(name, l)
	return l
}

// Conditional is present on the wire only when its guard held.
type Conditional struct {
	composite
	exists bool
}

func NewConditional(name string, parent Container, exists bool) *Conditional {
	return &Conditional{composite: newComposite(name, parent), exists: exists}
}

func (c *Conditional) Set(name string, n Node) { c.put(c, name, n) }

func (c *Conditional) Exists() bool { return c.exists }

// BinaryContainer packs bit fields into a contiguous bit string.
type BinaryContainer struct {
	composite
	littleEndian bool
}

func NewBinaryContainer(name string, parent Container, littleEndian bool) *BinaryContainer {
	return &BinaryContainer{composite: newComposite(name, parent), littleEndian: littleEndian}
}

func (b *BinaryContainer) Set(name string, n Node) { b.put(b, name, n) }

func (b *BinaryContainer) bits() string {
	out := ""
	for _, name := range b.names {
		if f, ok := b.children[name].(*Field); ok {
			out += f.Bin()
		}
	}
	return out
}

func (b *BinaryContainer) Len() int { return len(b.bits()) / 8 }

// Raw packs the children; a little-endian container reverses the whole byte string.
func (b *BinaryContainer) Raw() []byte {
	out, err := binconv.BitStringToBytes(b.bits())
	if err != nil {
		return nil
	}
	if b.littleEndian {
		return binconv.Reverse(out)
	}
	return out
}

// TBCDContainer packs the digits of its children two per byte.
type TBCDContainer struct {
	composite
}

func NewTBCDContainer(name string, parent Container) *TBCDContainer {
	return &TBCDContainer{composite: newComposite(name, parent)}
}

func (t *TBCDContainer) Set(name string, n Node) { t.put(t, name, n) }

// Digits is the concatenation of all child digits.
func (t *TBCDContainer) Digits() string {
	out := ""
	for _, name := range t.names {
		if f, ok := t.children[name].(*Field); ok {
			out += f.TBCD()
		}
	}
	return out
}

func (t *TBCDContainer) Len() int { return (len(t.Digits()) + 1) / 2 }

func (t *TBCDContainer) Raw() []byte {
	out, err := binconv.ToTBCDBinary(t.Digits())
	if err != nil {
		return nil
	}
	return out
}

// Header is the decoded or encoded protocol header of a message.
type Header struct {
	composite
	protocol string
}

func NewHeader(protocol string) *Header {
	return &Header{composite: newComposite("", nil), protocol: protocol}
}

func (h *Header) Set(name string, n Node) { h.put(h, name, n) }

func (h *Header) Protocol() string { return h.protocol }

// Message is a message body plus its optional protocol header.
type Message struct {
	composite
	header *Header
}

func NewMessage(name string) *Message {
	return &Message{composite: newComposite(name, nil)}
}

func (m *Message) Set(name string, n Node) { m.put(m, name, n) }

func (m *Message) Header() *Header { return m.header }

func (m *Message) SetHeader(h *Header) { m.header = h }

// BodyLen is the serialized length of the body alone.
func (m *Message) BodyLen() int { return m.composite.Len() }

// Body is the serialized body without the header.
func (m *Message) Body() []byte { return m.composite.Raw() }

func (m *Message) Len() int { return len(m.Raw()) }

func (m *Message) Raw() []byte {
	if m.header == nil {
		return m.composite.Raw()
	}
	return append(m.header.Raw(), m.composite.Raw()...)
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

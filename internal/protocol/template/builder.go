package template

import (
	"github.com/danmuck/rammbock/internal/protocol/value"
)

// Builder assembles protocols and messages one field at a time. Containers
// are pushed, filled and popped; a popped container is added to its parent.
// A Builder is not safe for concurrent use.
type Builder struct {
	stack []Container
}

func NewBuilder() *Builder { return &Builder{} }

// Depth is the number of open containers.
func (b *Builder) Depth() int { return len(b.stack) }

// Current returns the innermost open container.
func (b *Builder) Current() (Container, bool) {
	if len(b.stack) == 0 {
		return nil, false
	}
	return b.stack[len(b.stack)-1], true
}

// Reset drops everything under construction.
func (b *Builder) Reset() { b.stack = nil }

func (b *Builder) StartProtocol(name string, littleEndian bool) error {
	if len(b.stack) > 0 {
		return schemaErrorf("protocol %s started inside %s", name, b.stack[0].Name())
	}
	b.stack = append(b.stack, NewProtocol(name, littleEndian))
	return nil
}

func (b *Builder) EndProtocol() (*Protocol, error) {
	if len(b.stack) != 1 {
		return nil, schemaErrorf("protocol closed with %d containers open", len(b.stack))
	}
	p, ok := b.stack[0].(*Protocol)
	if !ok {
		return nil, schemaErrorf("%s is not a protocol", b.stack[0].Name())
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	b.stack = nil
	return p, nil
}

func (b *Builder) StartMessage(name string, protocol *Protocol, headerParams Params) error {
	if len(b.stack) > 0 {
		return schemaErrorf("message %s started inside %s", name, b.stack[0].Name())
	}
	b.stack = append(b.stack, NewMessage(name, protocol, headerParams))
	return nil
}

// ExtendMessage opens a new message holding m's fields and stored values so
// more fields can be appended. m itself is left untouched.
func (b *Builder) ExtendMessage(m *Message) error {
	if len(b.stack) > 0 {
		return schemaErrorf("message %s started inside %s", m.name, b.stack[0].Name())
	}
	out := NewMessage(m.name, m.protocol, m.headerParams)
	out.defaults = m.defaults.Copy()
	for _, t := range m.fields {
		if err := out.add(t); err != nil {
			return err
		}
	}
	b.stack = append(b.stack, out)
	return nil
}

// EndMessage closes the message; nested containers must already be popped.
func (b *Builder) EndMessage() (*Message, error) {
	if len(b.stack) != 1 {
		return nil, schemaErrorf("message closed with %d containers open", len(b.stack))
	}
	m, ok := b.stack[0].(*Message)
	if !ok {
		return nil, schemaErrorf("%s is not a message", b.stack[0].Name())
	}
	b.stack = nil
	return m, nil
}

// Add places t in the innermost open container. Fields and structs whose
// length names another field mark that field as referenced later.
func (b *Builder) Add(t Template) error {
	top, ok := b.Current()
	if !ok {
		return schemaErrorf("field %s added outside of a message or protocol", t.Name())
	}
	if err := b.markReferences(t); err != nil {
		return err
	}
	return top.add(t)
}

// Push opens c as the new innermost container.
func (b *Builder) Push(c Container) error {
	if len(b.stack) == 0 {
		return schemaErrorf("container %s opened outside of a message or protocol", c.Name())
	}
	if l, ok := c.(*List); ok && l.length.Kind == LengthDynamic {
		if _, err := b.lookup(l.length.Ref); err != nil {
			return err
		}
	}
	b.stack = append(b.stack, c)
	return nil
}

// Pop closes the innermost container and adds it to its parent.
func (b *Builder) Pop() (Container, error) {
	if len(b.stack) < 2 {
		return nil, schemaErrorf("no nested container is open")
	}
	c := b.stack[len(b.stack)-1]
	if err := c.finish(); err != nil {
		return nil, err
	}
	b.stack = b.stack[:len(b.stack)-1]
	if err := b.Add(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Builder) markReferences(t Template) error {
	var l Length
	switch v := t.(type) {
	case *Field:
		l = v.length
	case *Struct:
		if v.length == nil {
			return nil
		}
		l = *v.length
	default:
		return nil
	}
	if l.Kind != LengthDynamic {
		return nil
	}
	ref, err := b.lookup(l.Ref)
	if err != nil {
		return err
	}
	if f, ok := ref.(*Field); ok {
		f.referencedLater = true
	}
	return nil
}

// lookup finds a dotted path among the fields already added to the open
// containers, innermost first.
func (b *Builder) lookup(path string) (Template, error) {
	parts := value.SplitPath(path)
	for i := len(b.stack) - 1; i >= 0; i-- {
		if t, ok := descend(b.stack[i].base(), parts); ok {
			return t, nil
		}
	}
	return nil, schemaErrorf("length reference %s not found", path)
}

func descend(c *containerBase, parts []string) (Template, bool) {
	if len(parts) == 0 {
		return nil, false
	}
	t, ok := c.index[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return t, true
	}
	next, ok := t.(Container)
	if !ok {
		return nil, false
	}
	return descend(next.base(), parts[1:])
}

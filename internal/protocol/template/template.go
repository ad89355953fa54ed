// Package template describes binary layouts and turns parameter maps into
// value trees (encode), bytes into value trees (decode) and value trees plus
// expectations into mismatch lists (validate).
//
// The variant set is closed: scalar Field, Struct, List, Union, Bag, Case,
// BinaryContainer, TBCDContainer, Conditional, Message and Protocol.
package template

import (
	"github.com/danmuck/rammbock/internal/protocol/value"
)

// Template is one node of a layout definition. Templates are immutable once
// built and may be shared by concurrent encode and decode calls.
type Template interface {
	Name() string
	encode(p Params, parent value.Container, name string, le bool) (value.Node, error)
	// decode returns the node and the number of bytes it consumed.
	decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error)
	validate(parent value.Container, p Params, name string) []string
	staticLength() (int, bool)
}

// Container is a template that owns ordered named children.
type Container interface {
	Template
	add(t Template) error
	// finish runs once the builder closes the container.
	finish() error
	base() *containerBase
}

type containerBase struct {
	name         string
	fields       []Template
	index        map[string]Template
	littleEndian bool
}

func newContainerBase(name string) containerBase {
	return containerBase{name: name, index: make(map[string]Template)}
}

func (c *containerBase) Name() string         { return c.name }
func (c *containerBase) base() *containerBase { return c }
func (c *containerBase) finish() error        { return nil }

// Fields returns the children in declaration order.
func (c *containerBase) Fields() []Template {
	out := make([]Template, len(c.fields))
	copy(out, c.fields)
	return out
}

// Field returns the child called name.
func (c *containerBase) Field(name string) (Template, bool) {
	t, ok := c.index[name]
	return t, ok
}

func (c *containerBase) add(t Template) error {
	if _, dup := c.index[t.Name()]; dup {
		return schemaErrorf("duplicate field %s in %s", t.Name(), c.name)
	}
	c.fields = append(c.fields, t)
	c.index[t.Name()] = t
	return nil
}

func (c *containerBase) encodeFields(p Params, into value.Container, le bool) error {
	le = le || c.littleEndian
	for _, t := range c.fields {
		n, err := t.encode(p, into, t.Name(), le)
		if err != nil {
			return withField(t.Name(), err)
		}
		into.Set(t.Name(), n)
	}
	return nil
}

func (c *containerBase) decodeFields(data []byte, into value.Container, le bool) (int, error) {
	le = le || c.littleEndian
	off := 0
	for _, t := range c.fields {
		n, used, err := t.decode(data[off:], into, t.Name(), le)
		if err != nil {
			return 0, withField(t.Name(), err)
		}
		into.Set(t.Name(), n)
		off += used
	}
	return off, nil
}

func (c *containerBase) validateFields(node value.Container, p Params) []string {
	var errs []string
	for _, t := range c.fields {
		errs = append(errs, t.validate(node, p, t.Name())...)
	}
	return errs
}

func (c *containerBase) staticSum() (int, bool) {
	total := 0
	for _, t := range c.fields {
		n, ok := t.staticLength()
		if !ok {
			return 0, false
		}
		total += n
	}
	return total, true
}

func checkLeftovers(p Params, name string) error {
	if left := p.leftovers(); len(left) > 0 {
		return encodeErrorf("unknown fields in %s: %v", name, left)
	}
	return nil
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

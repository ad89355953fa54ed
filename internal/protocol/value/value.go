// Package value holds the runtime trees produced by encoding and decoding.
//
// Ownership boundary:
// - scalar fields and the pending placeholder for forward-referenced lengths
// - composite nodes (struct, list, union, bag, containers, message, header)
// - path lookup used by length and condition resolution
//
// Parent links are non-owning; they exist only so a node can resolve the
// names its template refers to.
package value

import (
	"strconv"
	"strings"
)

// Node is one element of a value tree.
type Node interface {
	Name() string
	// Len is the serialized length in bytes, padding included.
	Len() int
	// Raw is the serialized wire form, padding included.
	Raw() []byte
	Parent() Container
	setParent(Container)
}

// Container is a node with ordered named children.
type Container interface {
	Node
	Child(name string) (Node, bool)
	Names() []string
	// Set appends a new child or replaces an existing one in place.
	Set(name string, n Node)
}

type node struct {
	name   string
	parent Container
}

func (n *node) Name() string          { return n.name }
func (n *node) Parent() Container     { return n.parent }
func (n *node) setParent(p Container) { n.parent = p }

// composite is the ordered child mapping shared by every container kind.
type composite struct {
	node
	names    []string
	children map[string]Node
}

func newComposite(name string, parent Container) composite {
	return composite{
		node:     node{name: name, parent: parent},
		children: make(map[string]Node),
	}
}

func (c *composite) Child(name string) (Node, bool) {
	n, ok := c.children[name]
	return n, ok
}

func (c *composite) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

func (c *composite) put(self Container, name string, n Node) {
	if _, ok := c.children[name]; !ok {
		c.names = append(c.names, name)
	}
	c.children[name] = n
	n.setParent(self)
}

func (c *composite) Len() int {
	total := 0
	for _, name := range c.names {
		total += c.children[name].Len()
	}
	return total
}

func (c *composite) Raw() []byte {
	out := make([]byte, 0, c.Len())
	for _, name := range c.names {
		out = append(out, c.children[name].Raw()...)
	}
	return out
}

// Path returns the dotted name of n from the root of its tree.
func Path(n Node) string {
	parts := []string{}
	for cur := Node(n); cur != nil; {
		if cur.Name() != "" {
			parts = append(parts, cur.Name())
		}
		p := cur.Parent()
		if p == nil {
			break
		}
		cur = p
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// SplitPath splits "a.b[2].c" into ["a", "b", "2", "c"].
func SplitPath(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	raw := strings.Split(path, ".")
	out := raw[:0]
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Get descends from c along path.
func Get(c Container, path string) (Node, bool) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return nil, false
	}
	var cur Node = c
	for _, part := range parts {
		cc, ok := cur.(Container)
		if !ok {
			return nil, false
		}
		next, ok := cc.Child(part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Resolve looks path up in start and then in each ancestor of start.
func Resolve(start Container, path string) (Node, bool) {
	for c := start; c != nil; c = c.Parent() {
		if n, ok := Get(c, path); ok {
			return n, true
		}
	}
	return nil, false
}

// Walk visits n and all of its descendants depth first.
func Walk(n Node, fn func(Node)) {
	fn(n)
	c, ok := n.(Container)
	if !ok {
		return
	}
	for _, name := range c.Names() {
		child, _ := c.Child(name)
		Walk(child, fn)
	}
	if m, ok := n.(*Message); ok && m.header != nil {
		Walk(m.header, fn)
	}
}

// Unresolved lists the paths of placeholders still left in the tree.
func Unresolved(n Node) []string {
	var out []string
	Walk(n, func(cur Node) {
		if _, ok := cur.(*Pending); ok {
			out = append(out, Path(cur))
		}
	})
	return out
}

func indexName(i int) string {
	return strconv.Itoa(i)
}

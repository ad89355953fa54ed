package template

import (
	"sort"
	"strings"
)

// Wildcard supplies a value for every field of a subtree that is otherwise unset.
const Wildcard = "*"

// Params maps dotted field paths to literal values. Encoding and validation
// consume entries as fields claim them; what remains afterwards is unknown.
//
// Keys: "outer.inner.field", "list[3]", "list[3].field", "*".
type Params map[string]string

func (p Params) Copy() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with o.
func (p Params) Merge(o Params) Params {
	out := p.Copy()
	for k, v := range o {
		out[k] = v
	}
	return out
}

func (p Params) take(name string) (string, bool) {
	v, ok := p[name]
	if ok {
		delete(p, name)
	}
	return v, ok
}

func (p Params) wildcard() (string, bool) {
	v, ok := p[Wildcard]
	return v, ok
}

// subTree consumes every key under name and returns them relative to it.
// The wildcard is copied, not consumed.
func (p Params) subTree(name string) Params {
	out := Params{}
	for k, v := range p {
		rest, ok := relative(k, name)
		if !ok {
			continue
		}
		out[rest] = v
		delete(p, k)
	}
	if v, ok := p.wildcard(); ok {
		if _, set := out[Wildcard]; !set {
			out[Wildcard] = v
		}
	}
	return out
}

// has reports whether any key addresses name or something below it.
func (p Params) has(name string) bool {
	for k := range p {
		if k == name {
			return true
		}
		if _, ok := relative(k, name); ok {
			return true
		}
	}
	return false
}

func (p Params) leftovers() []string {
	var out []string
	for k := range p {
		if k != Wildcard {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// relative strips name from the front of key: "s.a" -> "a", "l[2].a" -> "2.a".
func relative(key, name string) (string, bool) {
	if !strings.HasPrefix(key, name) || len(key) == len(name) {
		return "", false
	}
	rest := key[len(name):]
	switch rest[0] {
	case '.':
		return rest[1:], rest != "."
	case '[':
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", false
		}
		return rest[1:end] + rest[end+1:], end > 1
	}
	return "", false
}

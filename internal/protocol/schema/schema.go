// Package schema loads protocol and message definitions from YAML.
//
// A document has two lists, protocols and messages. Every node mirrors a
// template builder call:
//
//	protocols:
//	  - name: Example
//	    fields:
//	      - {type: uint, name: id, length: 1}
//	      - {type: uint, name: length, length: 2}
//	      - {type: pdu, name: pdu, length: length-2}
//	messages:
//	  - name: Request
//	    protocol: Example
//	    header: {id: 0x01}
//	    fields:
//	      - {type: uint, name: count, length: 1}
//	      - type: list
//	        name: items
//	        length: count
//	        fields:
//	          - {type: chars, name: item, length: 4}
package schema

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/rammbock/internal/protocol/template"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Scalar is a YAML scalar kept as written, so 0x05 stays a hex literal
// instead of becoming the integer 5.
type Scalar struct {
	Raw string
	Set bool
}

func (s *Scalar) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar, got %s", n.Line, kindName(n.Kind))
	}
	if n.Tag == "!!null" {
		return nil
	}
	s.Raw = n.Value
	s.Set = true
	return nil
}

func (s Scalar) String() string { return s.Raw }

// Node is one field or container.
type Node struct {
	Type         string `yaml:"type"`
	Name         string `yaml:"name"`
	Length       Scalar `yaml:"length"`
	Value        Scalar `yaml:"value"`
	Align        int    `yaml:"align"`
	Terminator   string `yaml:"terminator"`
	LittleEndian bool   `yaml:"little_endian"`
	Condition    string `yaml:"condition"`
	Size         Scalar `yaml:"size"`
	Fields       []Node `yaml:"fields"`
	Line         int    `yaml:"-"`
}

func (n *Node) UnmarshalYAML(y *yaml.Node) error {
	type plain Node
	var p plain
	if err := y.Decode(&p); err != nil {
		return err
	}
	*n = Node(p)
	n.Line = y.Line
	return nil
}

type ProtocolDef struct {
	Name         string `yaml:"name"`
	LittleEndian bool   `yaml:"little_endian"`
	Fields       []Node `yaml:"fields"`
}

type MessageDef struct {
	Name     string            `yaml:"name"`
	Protocol string            `yaml:"protocol"`
	Header   map[string]Scalar `yaml:"header"`
	Fields   []Node            `yaml:"fields"`
}

// Definitions is a parsed, not yet built, document.
type Definitions struct {
	Protocols []ProtocolDef `yaml:"protocols"`
	Messages  []MessageDef  `yaml:"messages"`
}

// ValidationError locates a definition problem by its node path.
type ValidationError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("schema: %s (line %d): %s", e.Path, e.Line, msg)
	}
	return fmt.Sprintf("schema: %s: %s", e.Path, msg)
}

// Unwrap exposes template.ErrSchema and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{template.ErrSchema, e.Err}
	}
	return []error{template.ErrSchema}
}

// Set holds built templates by name.
type Set struct {
	Protocols map[string]*template.Protocol
	Messages  map[string]*template.Message
	// MessageOrder lists messages in document order.
	MessageOrder []string
}

func Parse(data []byte) (*Definitions, error) {
	var d Definitions
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", template.ErrSchema, err)
	}
	return &d, nil
}

// Load parses and builds data. known supplies protocols defined elsewhere.
func Load(data []byte, known map[string]*template.Protocol) (*Set, error) {
	d, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return d.Build(known)
}

func LoadFile(path string, known map[string]*template.Protocol) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	set, err := Load(data, known)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("protocols", len(set.Protocols)).Int("messages", len(set.Messages)).Msg("definitions loaded")
	return set, nil
}

// Build turns the definitions into templates. Protocols are built first so
// messages may name any protocol in the same document.
func (d *Definitions) Build(known map[string]*template.Protocol) (*Set, error) {
	set := &Set{
		Protocols: make(map[string]*template.Protocol),
		Messages:  make(map[string]*template.Message),
	}
	b := template.NewBuilder()
	for i, pd := range d.Protocols {
		path := fmt.Sprintf("protocols[%d]", i)
		if pd.Name == "" {
			return nil, &ValidationError{Path: path, Reason: "protocol has no name"}
		}
		path = "protocols." + pd.Name
		if _, dup := set.Protocols[pd.Name]; dup {
			return nil, &ValidationError{Path: path, Reason: "duplicate protocol"}
		}
		if err := b.StartProtocol(pd.Name, pd.LittleEndian); err != nil {
			return nil, &ValidationError{Path: path, Err: err}
		}
		if err := addNodes(b, pd.Fields, path); err != nil {
			b.Reset()
			return nil, err
		}
		p, err := b.EndProtocol()
		if err != nil {
			b.Reset()
			return nil, &ValidationError{Path: path, Err: err}
		}
		set.Protocols[pd.Name] = p
	}

	for i, md := range d.Messages {
		path := fmt.Sprintf("messages[%d]", i)
		if md.Name == "" {
			return nil, &ValidationError{Path: path, Reason: "message has no name"}
		}
		path = "messages." + md.Name
		if _, dup := set.Messages[md.Name]; dup {
			return nil, &ValidationError{Path: path, Reason: "duplicate message"}
		}
		var proto *template.Protocol
		if md.Protocol != "" {
			proto = set.Protocols[md.Protocol]
			if proto == nil {
				proto = known[md.Protocol]
			}
			if proto == nil {
				return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("unknown protocol %q", md.Protocol)}
			}
		}
		hp := make(template.Params, len(md.Header))
		for k, v := range md.Header {
			hp[k] = v.Raw
		}
		if err := b.StartMessage(md.Name, proto, hp); err != nil {
			return nil, &ValidationError{Path: path, Err: err}
		}
		if err := addNodes(b, md.Fields, path); err != nil {
			b.Reset()
			return nil, err
		}
		m, err := b.EndMessage()
		if err != nil {
			b.Reset()
			return nil, &ValidationError{Path: path, Err: err}
		}
		set.Messages[md.Name] = m
		set.MessageOrder = append(set.MessageOrder, md.Name)
	}
	return set, nil
}

var scalarKinds = map[string]value.Kind{
	"uint":  value.KindUint,
	"int":   value.KindInt,
	"chars": value.KindChars,
	"bin":   value.KindBin,
	"tbcd":  value.KindTBCD,
	"pdu":   value.KindPDU,
}

func addNodes(b *template.Builder, nodes []Node, parent string) error {
	for i := range nodes {
		if err := addNode(b, &nodes[i], parent); err != nil {
			return err
		}
	}
	return nil
}

func addNode(b *template.Builder, n *Node, parent string) error {
	if n.Name == "" {
		return &ValidationError{Path: parent, Line: n.Line, Reason: fmt.Sprintf("%s node has no name", n.Type)}
	}
	path := parent + "." + n.Name
	fail := func(err error) error {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return &ValidationError{Path: path, Line: n.Line, Err: err}
	}

	if kind, ok := scalarKinds[n.Type]; ok {
		if len(n.Fields) > 0 {
			return &ValidationError{Path: path, Line: n.Line, Reason: n.Type + " field cannot have fields"}
		}
		var opts []template.FieldOption
		if n.Value.Set {
			opts = append(opts, template.WithDefault(n.Value.Raw))
		}
		if n.Align > 0 {
			opts = append(opts, template.WithAlign(n.Align))
		}
		if n.Terminator != "" {
			opts = append(opts, template.WithTerminator(n.Terminator))
		}
		if n.LittleEndian {
			opts = append(opts, template.WithLittleEndian())
		}
		f, err := template.NewField(kind, n.Name, n.Length.Raw, opts...)
		if err != nil {
			return fail(err)
		}
		if err := b.Add(f); err != nil {
			return fail(err)
		}
		return nil
	}

	c, err := newContainer(n)
	if err != nil {
		return fail(err)
	}
	if err := b.Push(c); err != nil {
		return fail(err)
	}
	if err := addNodes(b, n.Fields, path); err != nil {
		return err
	}
	if _, err := b.Pop(); err != nil {
		return fail(err)
	}
	return nil
}

func newContainer(n *Node) (template.Container, error) {
	switch strings.ToLower(n.Type) {
	case "struct":
		return template.NewStruct(n.Name, n.Length.Raw, n.Align, n.LittleEndian)
	case "list":
		if !n.Length.Set {
			return nil, errors.New("list needs a length")
		}
		return template.NewList(n.Name, n.Length.Raw)
	case "union":
		return template.NewUnion(n.Name), nil
	case "bag":
		return template.NewBag(n.Name), nil
	case "case":
		return template.NewCase(n.Name, lengthOr(n.Size, "*"))
	case "bin_container":
		return template.NewBinaryContainer(n.Name, n.LittleEndian), nil
	case "tbcd_container":
		return template.NewTBCDContainer(n.Name), nil
	case "conditional":
		if n.Condition == "" {
			return nil, errors.New("conditional needs a condition")
		}
		return template.NewConditional(n.Name, n.Condition)
	case "":
		return nil, errors.New("node has no type")
	default:
		return nil, fmt.Errorf("unknown node type %q", n.Type)
	}
}

func lengthOr(s Scalar, fallback string) string {
	if s.Set {
		return s.Raw
	}
	return fallback
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "scalar"
	}
}

package value

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot exports n as plain data: scalars become their String form,
// containers become nested maps. A message header is kept under "_header".
func Snapshot(n Node) any {
	switch v := n.(type) {
	case *Field:
		return v.String()
	case *Pending:
		return nil
	case Container:
		if c, ok := v.(*Conditional); ok && !c.exists {
			return nil
		}
		out := make(map[string]any, len(v.Names())+1)
		for _, name := range v.Names() {
			child, _ := v.Child(name)
			out[name] = Snapshot(child)
		}
		if m, ok := v.(*Message); ok && m.header != nil {
			out["_header"] = Snapshot(m.header)
		}
		return out
	default:
		return nil
	}
}

var snapshotEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// MarshalCBOR encodes the snapshot of n in deterministic CBOR.
func MarshalCBOR(n Node) ([]byte, error) {
	return snapshotEncMode.Marshal(Snapshot(n))
}

// Format renders n as an indented tree in declaration order.
func Format(n Node) string {
	var sb strings.Builder
	format(&sb, n, 0)
	return sb.String()
}

func format(sb *strings.Builder, n Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v := n.(type) {
	case *Field:
		fmt.Fprintf(sb, "%s%s %s = %s\n", indent, v.kind, v.name, v.String())
	case *Pending:
		fmt.Fprintf(sb, "%s%s = <pending>\n", indent, v.name)
	case Container:
		label := containerLabel(v)
		if c, ok := v.(*Conditional); ok && !c.exists {
			fmt.Fprintf(sb, "%s%s %s (absent)\n", indent, label, v.Name())
			return
		}
		fmt.Fprintf(sb, "%s%s %s\n", indent, label, v.Name())
		if m, ok := v.(*Message); ok && m.header != nil {
			format(sb, m.header, depth+1)
		}
		for _, name := range v.Names() {
			child, _ := v.Child(name)
			format(sb, child, depth+1)
		}
	}
}

func containerLabel(c Container) string {
	switch v := c.(type) {
	case *Message:
		return "Message"
	case *Header:
		return "Header " + v.protocol
	case *Struct:
		return "Struct"
	case *List:
		return "List"
	case *Union:
		return "Union"
	case *Bag:
		return "Bag"
	case *Conditional:
		return "Conditional"
	case *BinaryContainer:
		return "BinaryContainer"
	case *TBCDContainer:
		return "TBCDContainer"
	default:
		return "Container"
	}
}

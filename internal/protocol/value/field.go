package value

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/danmuck/rammbock/internal/protocol/binconv"
)

// Kind identifies the scalar codec that produced a Field.
type Kind string

const (
	KindUint  Kind = "uint"
	KindInt   Kind = "int"
	KindChars Kind = "chars"
	KindBin   Kind = "bin"
	KindTBCD  Kind = "tbcd"
	KindPDU   Kind = "pdu"
)

// Field is a scalar value. wire holds the bytes as they appear on the wire;
// accessors read them in big-endian order regardless of the field's byte order.
type Field struct {
	node
	kind         Kind
	wire         []byte
	alignedLen   int
	littleEndian bool
	bitLen       int
}

// NewField builds a byte-aligned scalar. alignedLen smaller than the wire
// length is treated as no padding.
func NewField(kind Kind, name string, wire []byte, alignedLen int, littleEndian bool) *Field {
	if alignedLen < len(wire) {
		alignedLen = len(wire)
	}
	return &Field{
		node:         node{name: name},
		kind:         kind,
		wire:         wire,
		alignedLen:   alignedLen,
		littleEndian: littleEndian,
	}
}

// NewBitField builds a bit-packed field of bitLen bits stored right-aligned in data.
func NewBitField(name string, data []byte, bitLen int) *Field {
	f := NewField(KindBin, name, data, len(data), false)
	f.bitLen = bitLen
	return f
}

func (f *Field) Kind() Kind         { return f.kind }
func (f *Field) LittleEndian() bool { return f.littleEndian }
func (f *Field) Len() int           { return f.alignedLen }

// BitLen is the width of a bit-packed field, or eight bits per byte otherwise.
func (f *Field) BitLen() int {
	if f.bitLen > 0 {
		return f.bitLen
	}
	return len(f.wire) * 8
}

func (f *Field) Raw() []byte {
	out := make([]byte, f.alignedLen)
	copy(out, f.wire)
	return out
}

// Bytes is the unpadded value in big-endian order.
func (f *Field) Bytes() []byte {
	if f.littleEndian {
		return binconv.Reverse(f.wire)
	}
	out := make([]byte, len(f.wire))
	copy(out, f.wire)
	return out
}

// BigInt interprets the value as an integer; int fields are sign-extended.
func (f *Field) BigInt() *big.Int {
	v := binconv.BytesToInt(f.Bytes())
	if f.kind == KindInt {
		return binconv.FromTwosComplement(v, len(f.wire)*8)
	}
	return v
}

func (f *Field) Int() int64   { return f.BigInt().Int64() }
func (f *Field) Uint() uint64 { return f.BigInt().Uint64() }

func (f *Field) Hex() string { return binconv.Hex0x(f.Bytes()) }

// ASCII keeps only the printable characters of the value.
func (f *Field) ASCII() string {
	var sb strings.Builder
	for _, b := range f.Bytes() {
		if b >= 32 && b < 127 {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

// Bin renders the value as a bit string of BitLen characters.
func (f *Field) Bin() string {
	bits := binconv.ToBitString(f.Bytes())
	if f.bitLen > 0 && f.bitLen < len(bits) {
		return bits[len(bits)-f.bitLen:]
	}
	return bits
}

func (f *Field) TBCD() string { return binconv.ToTBCDValue(f.Bytes()) }

// String is the default presentation of the value for its kind.
func (f *Field) String() string {
	switch f.kind {
	case KindUint, KindInt:
		return f.BigInt().String()
	case KindChars:
		return f.ASCII()
	case KindBin:
		return "0b" + f.Bin()
	case KindTBCD:
		return f.TBCD()
	default:
		return f.Hex()
	}
}

func (f *Field) GoString() string {
	return fmt.Sprintf("%s %s = %s", f.kind, f.name, f.String())
}

// Pending stands in for a length field whose value depends on a sibling that
// has not been encoded yet. It is replaced in its parent once resolved.
type Pending struct {
	node
	resolve func(value int) (*Field, error)
}

// NewPending records how to build the concrete field once its value is known.
func NewPending(name string, resolve func(value int) (*Field, error)) *Pending {
	return &Pending{node: node{name: name}, resolve: resolve}
}

func (p *Pending) Len() int    { return 0 }
func (p *Pending) Raw() []byte { return nil }

// Resolve encodes v as the concrete field and overwrites the placeholder in
// its parent, so later lookups of the same name observe the concrete value.
func (p *Pending) Resolve(v int) (*Field, error) {
	f, err := p.resolve(v)
	if err != nil {
		return nil, err
	}
	if p.parent == nil {
		return nil, fmt.Errorf("value: placeholder %s has no parent", p.name)
	}
	p.parent.Set(p.name, f)
	return f, nil
}

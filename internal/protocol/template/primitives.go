package template

import (
	"bytes"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/danmuck/rammbock/internal/protocol/binconv"
	"github.com/danmuck/rammbock/internal/protocol/value"
)

// Field is a scalar template: uint, int, chars, bin, tbcd or the pdu marker.
// bin lengths count bits and tbcd lengths count digits.
type Field struct {
	name            string
	kind            value.Kind
	length          Length
	def             string
	hasDef          bool
	terminator      []byte
	littleEndian    bool
	referencedLater bool
}

type FieldOption func(*fieldConfig)

type fieldConfig struct {
	def          *string
	align        int
	terminator   string
	littleEndian bool
}

// WithDefault sets the value used when params do not name the field.
func WithDefault(v string) FieldOption { return func(c *fieldConfig) { c.def = &v } }

func WithAlign(n int) FieldOption { return func(c *fieldConfig) { c.align = n } }

// WithTerminator appends the literal (e.g. "0x00") to chars values.
func WithTerminator(t string) FieldOption { return func(c *fieldConfig) { c.terminator = t } }

func WithLittleEndian() FieldOption { return func(c *fieldConfig) { c.littleEndian = true } }

// NewField validates a scalar definition.
func NewField(kind value.Kind, name, length string, opts ...FieldOption) (*Field, error) {
	cfg := fieldConfig{align: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if name == "" {
		return nil, schemaErrorf("%s field without a name", kind)
	}
	l, err := ParseLength(length, cfg.align)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", name, err)
	}
	f := &Field{name: name, kind: kind, length: l}
	if cfg.def != nil {
		f.def, f.hasDef = *cfg.def, true
	}
	switch kind {
	case value.KindUint, value.KindInt:
		f.littleEndian = cfg.littleEndian
	case value.KindChars:
		if cfg.terminator != "" {
			if f.terminator, err = binconv.ToBin(cfg.terminator); err != nil {
				return nil, schemaErrorf("field %s terminator: %v", name, err)
			}
		}
	case value.KindBin:
		if l.Kind != LengthStatic || l.Value == 0 {
			return nil, schemaErrorf("bin field %s needs a static bit length", name)
		}
	case value.KindTBCD:
		if l.Kind == LengthDynamic {
			return nil, schemaErrorf("tbcd field %s length must be static or *", name)
		}
	case value.KindPDU:
		if l.Kind != LengthDynamic {
			return nil, schemaErrorf("pdu length must reference a header field")
		}
	default:
		return nil, schemaErrorf("unknown field kind %q", kind)
	}
	if cfg.littleEndian && !f.littleEndian {
		return nil, schemaErrorf("little endian is not supported on %s field %s", kind, name)
	}
	if cfg.terminator != "" && kind != value.KindChars {
		return nil, schemaErrorf("terminator is only supported on chars, not %s field %s", kind, name)
	}
	return f, nil
}

func (f *Field) Name() string         { return f.name }
func (f *Field) Kind() value.Kind     { return f.kind }
func (f *Field) Length() Length       { return f.length }
func (f *Field) ReferencedLater() bool { return f.referencedLater }

func (f *Field) staticLength() (int, bool) {
	n, ok := f.length.Static()
	if !ok {
		return 0, false
	}
	switch f.kind {
	case value.KindPDU:
		return 0, true
	case value.KindBin:
		return (n + 7) / 8, true
	case value.KindTBCD:
		return (n + 1) / 2, true
	}
	return f.length.aligned(n), true
}

func (f *Field) usesLittleEndian(inherited bool) bool {
	if f.kind != value.KindUint && f.kind != value.KindInt {
		return false
	}
	return f.littleEndian || inherited
}

// lookup resolves the value for name: explicit param, template default, wildcard.
func (f *Field) lookup(p Params, name string) (string, bool) {
	if v, ok := p.take(name); ok {
		return v, true
	}
	if f.hasDef {
		return f.def, true
	}
	return p.wildcard()
}

func (f *Field) encode(p Params, parent value.Container, name string, le bool) (value.Node, error) {
	if f.kind == value.KindPDU {
		return nil, encodeErrorf("pdu marker %s is not encoded", name)
	}
	v, ok := f.lookup(p, name)
	if !ok {
		if f.referencedLater {
			return value.NewPending(name, func(n int) (*value.Field, error) {
				return f.encodeValue(strconv.Itoa(n), parent, name, le)
			}), nil
		}
		return nil, encodeErrorf("value of %s not set", name)
	}
	return f.encodeValue(v, parent, name, le)
}

func (f *Field) encodeValue(v string, parent value.Container, name string, le bool) (*value.Field, error) {
	switch f.kind {
	case value.KindBin:
		return f.encodeBits(v, name)
	case value.KindTBCD:
		return f.encodeDigits(v, name)
	}
	minimal, err := f.minimal(v)
	if err != nil {
		return nil, err
	}
	n, static := f.length.Static()
	if !static {
		if n, err = f.length.FindAndSet(parent, len(minimal)); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrEncode, name, err)
		}
	}
	wire, err := f.fit(v, minimal, n)
	if err != nil {
		return nil, err
	}
	useLE := f.usesLittleEndian(le)
	if useLE {
		wire = binconv.Reverse(wire)
	}
	return value.NewField(f.kind, name, wire, f.length.aligned(n), useLE), nil
}

// minimal is the shortest big-endian encoding of v.
func (f *Field) minimal(v string) ([]byte, error) {
	switch f.kind {
	case value.KindUint:
		b, err := binconv.ToBin(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		return b, nil
	case value.KindInt:
		iv, err := binconv.ToInt(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		n := 1
		for !fitsSigned(iv, n) {
			n++
		}
		return make([]byte, n), nil
	default:
		return append([]byte(v), f.terminator...), nil
	}
}

// fit encodes v into exactly n bytes.
func (f *Field) fit(v string, minimal []byte, n int) ([]byte, error) {
	switch f.kind {
	case value.KindUint:
		b, err := binconv.ToBinOfLength(n, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrEncode, f.name, err)
		}
		return b, nil
	case value.KindInt:
		iv, _ := binconv.ToInt(v)
		if !fitsSigned(iv, n) {
			lo, hi := binconv.SignedRange(n * 8)
			return nil, encodeErrorf("value %s of %s out of range [%s, %s]", iv, f.name, lo, hi)
		}
		return binconv.IntToBinOfLength(n, binconv.ToTwosComplement(iv, n*8))
	default:
		if len(minimal) > n {
			return nil, encodeErrorf("value of %s needs %d bytes, length is %d", f.name, len(minimal), n)
		}
		out := make([]byte, n)
		copy(out, minimal)
		return out, nil
	}
}

func fitsSigned(v *big.Int, n int) bool {
	lo, hi := binconv.SignedRange(n * 8)
	return v.Cmp(lo) >= 0 && v.Cmp(hi) <= 0
}

func (f *Field) encodeBits(v, name string) (*value.Field, error) {
	iv, err := binconv.ToInt(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncode, name, err)
	}
	if _, err := binconv.IntToBitString(iv, f.length.Value); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncode, name, err)
	}
	data, err := binconv.IntToBinOfLength((f.length.Value+7)/8, iv)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncode, name, err)
	}
	return value.NewBitField(name, data, f.length.Value), nil
}

func (f *Field) encodeDigits(v, name string) (*value.Field, error) {
	if n, ok := f.length.Static(); ok && len(v) != n {
		return nil, encodeErrorf("tbcd %s has %d digits, length is %d", name, len(v), n)
	}
	wire, err := binconv.ToTBCDBinary(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncode, name, err)
	}
	return value.NewField(value.KindTBCD, name, wire, len(wire), false), nil
}

func (f *Field) decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error) {
	if f.kind == value.KindBin || f.kind == value.KindTBCD || f.kind == value.KindPDU {
		return nil, 0, decodeErrorf("%s field %s cannot be decoded outside its container", f.kind, name)
	}
	n, err := f.length.Decode(parent, len(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", ErrDecode, name, err)
	}
	if n > len(data) {
		return nil, 0, decodeErrorf("not enough data for %s: need %d bytes, have %d", name, n, len(data))
	}
	wire := data[:n]
	if len(f.terminator) > 0 {
		if i := bytes.Index(wire, f.terminator); i >= 0 {
			wire = wire[:i+len(f.terminator)]
		}
	}
	// Only a free length stops at the terminator; a resolved length is
	// consumed in full and the bytes after the terminator are padding.
	if f.length.Kind == LengthFree {
		n = len(wire)
	}
	aligned := f.length.aligned(n)
	if aligned > len(data) {
		return nil, 0, decodeErrorf("not enough data for %s padding: need %d bytes, have %d", name, aligned, len(data))
	}
	own := make([]byte, len(wire))
	copy(own, wire)
	return value.NewField(f.kind, name, own, aligned, f.usesLittleEndian(le)), aligned, nil
}

// fromBits builds a bin value from its slice of a container bit string.
func (f *Field) fromBits(name, bits string) (*value.Field, error) {
	iv, err := binconv.BitStringToInt(bits)
	if err != nil {
		return nil, err
	}
	data, err := binconv.IntToBinOfLength((len(bits)+7)/8, iv)
	if err != nil {
		return nil, err
	}
	return value.NewBitField(name, data, len(bits)), nil
}

func (f *Field) fromDigits(name, digits string) (*value.Field, error) {
	return f.encodeDigits(digits, name)
}

func (f *Field) validate(parent value.Container, p Params, name string) []string {
	expected, ok := f.lookup(p, name)
	if !ok || f.kind == value.KindPDU {
		return nil
	}
	n, ok := parent.Child(name)
	if !ok {
		return []string{fmt.Sprintf("Field %s missing", pathOf(parent, name))}
	}
	field, ok := n.(*value.Field)
	if !ok {
		return []string{fmt.Sprintf("Field %s has no value", pathOf(parent, name))}
	}
	return f.Match(field, expected)
}

// Match compares a decoded value with an expected literal. Forms:
// "" or "None" skip, "(a|b)" alternation, "v&mask", "REGEXP:pattern",
// otherwise the literal is encoded the same way as the field and compared.
func (f *Field) Match(field *value.Field, expected string) []string {
	exp := strings.TrimSpace(expected)
	if exp == "" || exp == "None" {
		return nil
	}
	mismatch := []string{fmt.Sprintf("Value of field %s does not match %s!=%s", value.Path(field), field.String(), exp)}
	switch {
	case strings.HasPrefix(exp, "(") && strings.HasSuffix(exp, ")"):
		for _, alt := range strings.Split(exp[1:len(exp)-1], "|") {
			if len(f.Match(field, alt)) == 0 {
				return nil
			}
		}
		return mismatch
	case strings.HasPrefix(exp, "REGEXP:"):
		re, err := regexp.Compile("^(?:" + strings.TrimPrefix(exp, "REGEXP:") + ")")
		if err != nil {
			return []string{fmt.Sprintf("Invalid regular expression for field %s: %v", value.Path(field), err)}
		}
		if !re.MatchString(field.ASCII()) {
			return mismatch
		}
		return nil
	case strings.Contains(exp, "&") && (f.kind == value.KindUint || f.kind == value.KindInt || f.kind == value.KindBin):
		parts := strings.SplitN(exp, "&", 2)
		want, err1 := binconv.ToInt(parts[0])
		mask, err2 := binconv.ToInt(parts[1])
		if err1 != nil || err2 != nil {
			return []string{fmt.Sprintf("Invalid masked value %s for field %s", exp, value.Path(field))}
		}
		got := new(big.Int).And(field.BigInt(), mask)
		if got.Cmp(new(big.Int).And(want, mask)) != 0 {
			return mismatch
		}
		return nil
	}
	ok, err := f.equal(field, exp)
	if err != nil {
		return []string{fmt.Sprintf("Value of field %s could not be compared with %s: %v", value.Path(field), exp, err)}
	}
	if !ok {
		return mismatch
	}
	return nil
}

// equal re-encodes exp at the field's own width and compares.
func (f *Field) equal(field *value.Field, exp string) (bool, error) {
	switch f.kind {
	case value.KindUint:
		want, err := binconv.ToBinOfLength(len(field.Bytes()), exp)
		if err != nil {
			return false, err
		}
		return bytes.Equal(want, field.Bytes()), nil
	case value.KindInt:
		iv, err := binconv.ToInt(exp)
		if err != nil {
			return false, err
		}
		return iv.Cmp(field.BigInt()) == 0, nil
	case value.KindBin:
		iv, err := binconv.ToInt(exp)
		if err != nil {
			return false, err
		}
		want, err := binconv.IntToBitString(iv, field.BitLen())
		if err != nil {
			return false, err
		}
		return want == field.Bin(), nil
	case value.KindTBCD:
		return exp == field.TBCD(), nil
	default:
		want := []byte(exp)
		if len(f.terminator) > 0 && !bytes.HasSuffix(want, f.terminator) {
			want = append(want, f.terminator...)
		}
		return bytes.Equal(bytes.TrimRight(want, "\x00"), bytes.TrimRight(field.Bytes(), "\x00")), nil
	}
}

func pathOf(parent value.Container, name string) string {
	if p := value.Path(parent); p != "" {
		return p + "." + name
	}
	return name
}

package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/rammbock/internal/protocol/binconv"
	"github.com/danmuck/rammbock/internal/protocol/condition"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/rs/zerolog/log"
)

// Struct groups fields. A declared length must match the encoded size exactly.
type Struct struct {
	containerBase
	length *Length
	align  int
}

// NewStruct builds a struct; length may be empty for "sum of children".
func NewStruct(name, length string, align int, littleEndian bool) (*Struct, error) {
	if align == 0 {
		align = 1
	}
	if align < 1 {
		return nil, schemaErrorf("struct %s alignment %d must be positive", name, align)
	}
	s := &Struct{containerBase: newContainerBase(name), align: align}
	s.littleEndian = littleEndian
	if length != "" {
		l, err := ParseLength(length, 1)
		if err != nil {
			return nil, fmt.Errorf("struct %s: %w", name, err)
		}
		s.length = &l
	}
	return s, nil
}

func (s *Struct) Length() (Length, bool) {
	if s.length == nil {
		return Length{}, false
	}
	return *s.length, true
}

func (s *Struct) encode(p Params, parent value.Container, name string, le bool) (value.Node, error) {
	sub := p.subTree(name)
	node := value.NewStruct(name, parent, s.align)
	if err := s.encodeFields(sub, node, le); err != nil {
		return nil, err
	}
	if err := checkLeftovers(sub, name); err != nil {
		return nil, err
	}
	if s.length == nil || s.length.Kind == LengthFree {
		return node, nil
	}
	got := node.UnalignedLen()
	want := got
	if n, ok := s.length.Static(); ok {
		want = n
	} else {
		var err error
		if want, err = s.length.FindAndSet(parent, got); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
	}
	if want != got {
		return nil, encodeErrorf("struct %s is %d bytes, declared length is %d", name, got, want)
	}
	return node, nil
}

func (s *Struct) decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error) {
	node := value.NewStruct(name, parent, s.align)
	bound := data
	declared := -1
	if s.length != nil && s.length.Kind != LengthFree {
		n, err := s.length.Decode(parent, len(data))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if n > len(data) {
			return nil, 0, decodeErrorf("not enough data for struct %s: need %d bytes, have %d", name, n, len(data))
		}
		bound, declared = data[:n], n
	}
	used, err := s.decodeFields(bound, node, le)
	if err != nil {
		return nil, 0, err
	}
	if declared >= 0 && used != declared {
		return nil, 0, decodeErrorf("struct %s decoded %d bytes, declared length is %d", name, used, declared)
	}
	consumed := alignUp(used, s.align)
	if consumed > len(data) {
		return nil, 0, decodeErrorf("not enough data for struct %s padding", name)
	}
	return node, consumed, nil
}

func (s *Struct) validate(parent value.Container, p Params, name string) []string {
	sub := p.subTree(name)
	node, errs := childContainer(parent, name)
	if node == nil {
		return errs
	}
	return s.validateFields(node, sub)
}

func (s *Struct) staticLength() (int, bool) {
	if s.length != nil {
		if n, ok := s.length.Static(); ok {
			return alignUp(n, s.align), true
		}
		return 0, false
	}
	n, ok := s.staticSum()
	return alignUp(n, s.align), ok
}

// List repeats its single element template Length times.
type List struct {
	containerBase
	length Length
}

func NewList(name, length string) (*List, error) {
	l, err := ParseLength(length, 1)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	return &List{containerBase: newContainerBase(name), length: l}, nil
}

func (l *List) Length() Length { return l.length }

func (l *List) add(t Template) error {
	if len(l.fields) > 0 {
		return schemaErrorf("list %s already has element %s", l.name, l.fields[0].Name())
	}
	return l.containerBase.add(t)
}

func (l *List) finish() error {
	if len(l.fields) != 1 {
		return schemaErrorf("list %s needs exactly one element template", l.name)
	}
	return nil
}

func (l *List) elem() Template { return l.fields[0] }

func (l *List) encode(p Params, parent value.Container, name string, le bool) (value.Node, error) {
	if l.length.Kind == LengthFree {
		return nil, encodeErrorf("list %s with free length cannot be encoded", name)
	}
	count, err := l.length.Decode(parent, -1)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	sub := p.subTree(name)
	node := value.NewList(name, parent)
	for i := 0; i < count; i++ {
		idx := strconv.Itoa(i)
		n, err := l.elem().encode(sub, node, idx, le)
		if err != nil {
			return nil, withField(idx, err)
		}
		node.Set(idx, n)
	}
	if err := checkLeftovers(sub, name); err != nil {
		return nil, err
	}
	return node, nil
}

func (l *List) decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error) {
	node := value.NewList(name, parent)
	off := 0
	if l.length.Kind == LengthFree {
		for i := 0; off < len(data); i++ {
			idx := strconv.Itoa(i)
			n, used, err := l.elem().decode(data[off:], node, idx, le)
			if err != nil {
				return nil, 0, withField(idx, err)
			}
			if used == 0 {
				return nil, 0, decodeErrorf("list %s element %d consumed no data", name, i)
			}
			node.Set(idx, n)
			off += used
		}
		return node, off, nil
	}
	count, err := l.length.Decode(parent, -1)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	for i := 0; i < count; i++ {
		idx := strconv.Itoa(i)
		n, used, err := l.elem().decode(data[off:], node, idx, le)
		if err != nil {
			return nil, 0, withField(idx, err)
		}
		node.Set(idx, n)
		off += used
	}
	return node, off, nil
}

func (l *List) validate(parent value.Container, p Params, name string) []string {
	sub := p.subTree(name)
	node, errs := childContainer(parent, name)
	if node == nil {
		return errs
	}
	for _, idx := range node.Names() {
		errs = append(errs, l.elem().validate(node, sub, idx)...)
	}
	return errs
}

func (l *List) staticLength() (int, bool) {
	count, ok := l.length.Static()
	if !ok || len(l.fields) == 0 {
		return 0, false
	}
	n, ok := l.elem().staticLength()
	return count * n, ok
}

// Union overlays statically sized alternatives on the same bytes.
type Union struct {
	containerBase
	size int
}

func NewUnion(name string) *Union {
	return &Union{containerBase: newContainerBase(name)}
}

func (u *Union) Size() int { return u.size }

func (u *Union) add(t Template) error {
	n, ok := t.staticLength()
	if !ok {
		return schemaErrorf("union %s member %s must have a static length", u.name, t.Name())
	}
	if err := u.containerBase.add(t); err != nil {
		return err
	}
	if n > u.size {
		u.size = n
	}
	return nil
}

func (u *Union) encode(p Params, parent value.Container, name string, le bool) (value.Node, error) {
	chosen, ok := p.take(name)
	if !ok {
		return nil, encodeErrorf("value not chosen for union %s", name)
	}
	child, ok := u.index[chosen]
	if !ok {
		return nil, encodeErrorf("unknown union field %s in %s", chosen, name)
	}
	sub := p.subTree(name)
	node := value.NewUnion(name, parent, u.size)
	n, err := child.encode(sub, node, chosen, le || u.littleEndian)
	if err != nil {
		return nil, withField(chosen, err)
	}
	node.Set(chosen, n)
	if err := checkLeftovers(sub, name); err != nil {
		return nil, err
	}
	return node, nil
}

func (u *Union) decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error) {
	if len(data) < u.size {
		return nil, 0, decodeErrorf("not enough data for union %s: need %d bytes, have %d", name, u.size, len(data))
	}
	node := value.NewUnion(name, parent, u.size)
	if _, err := u.decodeAll(data[:u.size], node, le); err != nil {
		return nil, 0, err
	}
	return node, u.size, nil
}

// decodeAll materializes every alternative against the same bytes.
func (u *Union) decodeAll(data []byte, node *value.Union, le bool) (int, error) {
	le = le || u.littleEndian
	for _, t := range u.fields {
		n, _, err := t.decode(data, node, t.Name(), le)
		if err != nil {
			return 0, withField(t.Name(), err)
		}
		node.Set(t.Name(), n)
	}
	return len(data), nil
}

func (u *Union) validate(parent value.Container, p Params, name string) []string {
	chosen, hasChoice := p.take(name)
	sub := p.subTree(name)
	node, errs := childContainer(parent, name)
	if node == nil {
		return errs
	}
	if hasChoice {
		child, ok := u.index[chosen]
		if !ok {
			return []string{fmt.Sprintf("Unknown union field %s in %s", chosen, value.Path(node))}
		}
		return child.validate(node, sub, chosen)
	}
	for _, t := range u.fields {
		if sub.has(t.Name()) {
			errs = append(errs, t.validate(node, sub, t.Name())...)
		}
	}
	return errs
}

func (u *Union) staticLength() (int, bool) { return u.size, true }

// Bag matches an unordered run of optional elements by trial decode.
type Bag struct {
	containerBase
}

func NewBag(name string) *Bag {
	return &Bag{containerBase: newContainerBase(name)}
}

func (b *Bag) add(t Template) error {
	if _, ok := t.(*Case); !ok {
		return schemaErrorf("bag %s accepts only cases, got %s", b.name, t.Name())
	}
	return b.containerBase.add(t)
}

func (b *Bag) encode(p Params, parent value.Container, name string, le bool) (value.Node, error) {
	return nil, encodeErrorf("bag %s cannot be encoded", name)
}

func (b *Bag) decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error) {
	node := value.NewBag(name, parent)
	for _, t := range b.fields {
		node.Case(t.Name())
	}
	off := 0
	for off < len(data) {
		matched := false
		for _, t := range b.fields {
			c := t.(*Case)
			list := node.Case(c.name)
			el, used, ok := c.try(data[off:], list, le || b.littleEndian)
			if !ok {
				continue
			}
			list.Append(el)
			off += used
			matched = true
			log.Debug().Str("bag", name).Str("case", c.name).Int("count", list.Count()).Msg("bag case matched")
			break
		}
		if !matched {
			return nil, 0, decodeErrorf("no case of bag %s matches data at offset %d", name, off)
		}
	}
	return node, off, nil
}

func (b *Bag) validate(parent value.Container, p Params, name string) []string {
	sub := p.subTree(name)
	n, ok := parent.Child(name)
	if !ok {
		return []string{fmt.Sprintf("Field %s missing", pathOf(parent, name))}
	}
	node, ok := n.(*value.Bag)
	if !ok {
		return []string{fmt.Sprintf("Field %s is not a bag", pathOf(parent, name))}
	}
	var errs []string
	for _, t := range b.fields {
		c := t.(*Case)
		list := node.Case(c.name)
		if !c.inRange(list.Count()) {
			errs = append(errs, fmt.Sprintf("Bag %s case %s occurred %d times, expected %s", value.Path(node), c.name, list.Count(), c.rangeString()))
		}
		csub := sub.subTree(c.name)
		for _, idx := range list.Names() {
			errs = append(errs, c.child().validate(list, csub, idx)...)
		}
	}
	return errs
}

func (b *Bag) staticLength() (int, bool) { return 0, false }

// Case is one bag element kind with its allowed repeat count.
type Case struct {
	containerBase
	min, max int // max < 0 is unbounded
}

// NewCase parses size as "min-max", "n" or "*".
func NewCase(name, size string) (*Case, error) {
	c := &Case{containerBase: newContainerBase(name)}
	s := strings.TrimSpace(size)
	var err error
	switch {
	case s == "*":
		c.min, c.max = 0, -1
	case strings.Contains(s, "-"):
		parts := strings.SplitN(s, "-", 2)
		if c.min, err = strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
			c.max, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		}
	default:
		c.min, err = strconv.Atoi(s)
		c.max = c.min
	}
	if err != nil || c.min < 0 || (c.max >= 0 && c.max < c.min) {
		return nil, schemaErrorf("case %s has invalid size %q", name, size)
	}
	return c, nil
}

func (c *Case) add(t Template) error {
	if len(c.fields) > 0 {
		return schemaErrorf("case %s already wraps %s", c.name, c.fields[0].Name())
	}
	return c.containerBase.add(t)
}

func (c *Case) finish() error {
	if len(c.fields) != 1 {
		return schemaErrorf("case %s needs exactly one field", c.name)
	}
	return nil
}

func (c *Case) child() Template { return c.fields[0] }

func (c *Case) inRange(n int) bool {
	return n >= c.min && (c.max < 0 || n <= c.max)
}

func (c *Case) rangeString() string {
	switch {
	case c.max < 0:
		return fmt.Sprintf("%d-*", c.min)
	case c.min == c.max:
		return strconv.Itoa(c.min)
	}
	return fmt.Sprintf("%d-%d", c.min, c.max)
}

// try decodes one element and accepts it only if it validates against the
// template defaults.
func (c *Case) try(data []byte, list *value.List, le bool) (value.Node, int, bool) {
	idx := strconv.Itoa(list.Count())
	scratch := value.NewStruct(c.name, list.Parent(), 1)
	n, used, err := c.child().decode(data, scratch, idx, le)
	if err != nil || used == 0 {
		return nil, 0, false
	}
	scratch.Set(idx, n)
	if errs := c.child().validate(scratch, Params{}, idx); len(errs) > 0 {
		return nil, 0, false
	}
	return n, used, true
}

func (c *Case) encode(p Params, parent value.Container, name string, le bool) (value.Node, error) {
	return nil, encodeErrorf("case %s cannot be encoded", name)
}

func (c *Case) decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error) {
	return c.child().decode(data, parent, name, le)
}

func (c *Case) validate(parent value.Container, p Params, name string) []string {
	return c.child().validate(parent, p, name)
}

func (c *Case) staticLength() (int, bool) { return 0, false }

// BinaryContainer packs bin fields MSB first into whole bytes.
type BinaryContainer struct {
	containerBase
	bits int
}

func NewBinaryContainer(name string, littleEndian bool) *BinaryContainer {
	b := &BinaryContainer{containerBase: newContainerBase(name)}
	b.littleEndian = littleEndian
	return b
}

func (b *BinaryContainer) add(t Template) error {
	f, ok := t.(*Field)
	if !ok || f.kind != value.KindBin {
		return schemaErrorf("binary container %s accepts only bin fields, got %s", b.name, t.Name())
	}
	if err := b.containerBase.add(t); err != nil {
		return err
	}
	b.bits += f.length.Value
	return nil
}

func (b *BinaryContainer) finish() error {
	if b.bits == 0 || b.bits%8 != 0 {
		return schemaErrorf("binary container %s is %d bits, not a whole number of bytes", b.name, b.bits)
	}
	return nil
}

func (b *BinaryContainer) encode(p Params, parent value.Container, name string, le bool) (value.Node, error) {
	sub := p.subTree(name)
	node := value.NewBinaryContainer(name, parent, le || b.littleEndian)
	if err := b.encodeFields(sub, node, false); err != nil {
		return nil, err
	}
	if err := checkLeftovers(sub, name); err != nil {
		return nil, err
	}
	return node, nil
}

func (b *BinaryContainer) decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error) {
	size := b.bits / 8
	if len(data) < size {
		return nil, 0, decodeErrorf("not enough data for binary container %s: need %d bytes, have %d", name, size, len(data))
	}
	littleEndian := le || b.littleEndian
	chunk := data[:size]
	if littleEndian {
		chunk = binconv.Reverse(chunk)
	}
	bits := binconv.ToBitString(chunk)
	node := value.NewBinaryContainer(name, parent, littleEndian)
	off := 0
	for _, t := range b.fields {
		f := t.(*Field)
		w := f.length.Value
		field, err := f.fromBits(f.name, bits[off:off+w])
		if err != nil {
			return nil, 0, withField(f.name, fmt.Errorf("%w: %w", ErrDecode, err))
		}
		node.Set(f.name, field)
		off += w
	}
	return node, size, nil
}

func (b *BinaryContainer) validate(parent value.Container, p Params, name string) []string {
	sub := p.subTree(name)
	node, errs := childContainer(parent, name)
	if node == nil {
		return errs
	}
	return b.validateFields(node, sub)
}

func (b *BinaryContainer) staticLength() (int, bool) { return b.bits / 8, true }

// TBCDContainer packs the digits of its tbcd fields two per byte.
type TBCDContainer struct {
	containerBase
}

func NewTBCDContainer(name string) *TBCDContainer {
	return &TBCDContainer{containerBase: newContainerBase(name)}
}

func (c *TBCDContainer) add(t Template) error {
	f, ok := t.(*Field)
	if !ok || f.kind != value.KindTBCD {
		return schemaErrorf("tbcd container %s accepts only tbcd fields, got %s", c.name, t.Name())
	}
	if n := len(c.fields); n > 0 {
		if last := c.fields[n-1].(*Field); last.length.Kind == LengthFree {
			return schemaErrorf("tbcd container %s: only the last field may have a free length", c.name)
		}
	}
	return c.containerBase.add(t)
}

func (c *TBCDContainer) digits() (int, bool) {
	total := 0
	for _, t := range c.fields {
		n, ok := t.(*Field).length.Static()
		if !ok {
			return 0, false
		}
		total += n
	}
	return total, true
}

func (c *TBCDContainer) encode(p Params, parent value.Container, name string, le bool) (value.Node, error) {
	sub := p.subTree(name)
	node := value.NewTBCDContainer(name, parent)
	if err := c.encodeFields(sub, node, false); err != nil {
		return nil, err
	}
	if err := checkLeftovers(sub, name); err != nil {
		return nil, err
	}
	return node, nil
}

func (c *TBCDContainer) decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error) {
	size := len(data)
	if n, ok := c.digits(); ok {
		size = (n + 1) / 2
	}
	if len(data) < size {
		return nil, 0, decodeErrorf("not enough data for tbcd container %s: need %d bytes, have %d", name, size, len(data))
	}
	digits := binconv.ToTBCDValue(data[:size])
	node := value.NewTBCDContainer(name, parent)
	off := 0
	for _, t := range c.fields {
		f := t.(*Field)
		w, ok := f.length.Static()
		if !ok {
			w = len(digits) - off
		}
		if off+w > len(digits) {
			return nil, 0, decodeErrorf("tbcd container %s has %d digits, %s needs %d more", name, len(digits), f.name, off+w-len(digits))
		}
		field, err := f.fromDigits(f.name, digits[off:off+w])
		if err != nil {
			return nil, 0, withField(f.name, fmt.Errorf("%w: %w", ErrDecode, err))
		}
		node.Set(f.name, field)
		off += w
	}
	return node, size, nil
}

func (c *TBCDContainer) validate(parent value.Container, p Params, name string) []string {
	sub := p.subTree(name)
	node, errs := childContainer(parent, name)
	if node == nil {
		return errs
	}
	return c.validateFields(node, sub)
}

func (c *TBCDContainer) staticLength() (int, bool) {
	n, ok := c.digits()
	return (n + 1) / 2, ok
}

// Conditional includes its fields only while its condition holds against
// the values already present in the parent.
type Conditional struct {
	containerBase
	expr *condition.Expr
}

func NewConditional(name, expr string) (*Conditional, error) {
	e, err := condition.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: conditional %s: %w", ErrSchema, name, err)
	}
	return &Conditional{containerBase: newContainerBase(name), expr: e}, nil
}

func (c *Conditional) Condition() string { return c.expr.String() }

func (c *Conditional) exists(parent value.Container) (bool, error) {
	return c.expr.Eval(parent)
}

func (c *Conditional) encode(p Params, parent value.Container, name string, le bool) (value.Node, error) {
	ok, err := c.exists(parent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	sub := p.subTree(name)
	node := value.NewConditional(name, parent, ok)
	if !ok {
		return node, nil
	}
	if err := c.encodeFields(sub, node, le); err != nil {
		return nil, err
	}
	if err := checkLeftovers(sub, name); err != nil {
		return nil, err
	}
	return node, nil
}

func (c *Conditional) decode(data []byte, parent value.Container, name string, le bool) (value.Node, int, error) {
	ok, err := c.exists(parent)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	node := value.NewConditional(name, parent, ok)
	if !ok {
		return node, 0, nil
	}
	used, err := c.decodeFields(data, node, le)
	if err != nil {
		return nil, 0, err
	}
	return node, used, nil
}

func (c *Conditional) validate(parent value.Container, p Params, name string) []string {
	sub := p.subTree(name)
	n, ok := parent.Child(name)
	if !ok {
		return []string{fmt.Sprintf("Field %s missing", pathOf(parent, name))}
	}
	node, ok := n.(*value.Conditional)
	if !ok {
		return []string{fmt.Sprintf("Field %s is not conditional", pathOf(parent, name))}
	}
	if !node.Exists() {
		return nil
	}
	return c.validateFields(node, sub)
}

func (c *Conditional) staticLength() (int, bool) { return 0, false }

func childContainer(parent value.Container, name string) (value.Container, []string) {
	n, ok := parent.Child(name)
	if !ok {
		return nil, []string{fmt.Sprintf("Field %s missing", pathOf(parent, name))}
	}
	c, ok := n.(value.Container)
	if !ok {
		return nil, []string{fmt.Sprintf("Field %s is not a container", pathOf(parent, name))}
	}
	return c, nil
}

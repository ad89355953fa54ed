package template

import (
	"errors"
	"testing"

	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustField(t *testing.T, kind value.Kind, name, length string, opts ...FieldOption) *Field {
	t.Helper()
	f, err := NewField(kind, name, length, opts...)
	require.NoError(t, err)
	return f
}

func buildMessage(t *testing.T, name string, proto *Protocol, hp Params, fill func(b *Builder)) *Message {
	t.Helper()
	b := NewBuilder()
	require.NoError(t, b.StartMessage(name, proto, hp))
	fill(b)
	m, err := b.EndMessage()
	require.NoError(t, err)
	return m
}

func exampleProtocol(t *testing.T) *Protocol {
	t.Helper()
	b := NewBuilder()
	require.NoError(t, b.StartProtocol("Example", false))
	require.NoError(t, b.Add(mustField(t, value.KindUint, "id", "1")))
	require.NoError(t, b.Add(mustField(t, value.KindUint, "length", "2")))
	require.NoError(t, b.Add(mustField(t, value.KindPDU, "pdu", "length-2")))
	p, err := b.EndProtocol()
	require.NoError(t, err)
	return p
}

func fieldOf(t *testing.T, c value.Container, path string) *value.Field {
	t.Helper()
	n, ok := value.Get(c, path)
	require.True(t, ok, path)
	f, ok := n.(*value.Field)
	require.True(t, ok, path)
	return f
}

func TestForwardReferenceResolvesLength(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindUint, "len", "1")))
		require.NoError(t, b.Add(mustField(t, value.KindChars, "data", "len")))
	})
	lenT, _ := m.Field("len")
	assert.True(t, lenT.(*Field).ReferencedLater())

	msg, err := m.Encode(Params{"data": "abcd"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), fieldOf(t, msg, "len").Int())
	assert.Equal(t, []byte("\x04abcd"), msg.Raw())

	back, err := m.Decode(msg.Raw(), nil)
	require.NoError(t, err)
	assert.Equal(t, "abcd", fieldOf(t, back, "data").ASCII())
}

func TestForwardReferenceWithTransformAndExplicitValue(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindUint, "len", "2")))
		require.NoError(t, b.Add(mustField(t, value.KindChars, "data", "len-2")))
	})
	msg, err := m.Encode(Params{"data": "ab"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), fieldOf(t, msg, "len").Int())

	msg, err = m.Encode(Params{"len": "7", "data": "ab"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00\x07ab\x00\x00\x00"), msg.Raw())

	_, err = m.Encode(Params{"len": "3", "data": "ab"}, nil)
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
}

func TestRoundTripNestedStructsAndLists(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindUint, "count", "1")))
		l, err := NewList("items", "count")
		require.NoError(t, err)
		require.NoError(t, b.Push(l))
		s, err := NewStruct("item", "", 1, false)
		require.NoError(t, err)
		require.NoError(t, b.Push(s))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "a", "1")))
		require.NoError(t, b.Add(mustField(t, value.KindInt, "b", "2", WithLittleEndian())))
		_, err = b.Pop()
		require.NoError(t, err)
		_, err = b.Pop()
		require.NoError(t, err)
	})
	params := Params{
		"count":      "2",
		"items[0].a": "1",
		"items[0].b": "-2",
		"items[1].a": "0x10",
		"items[1].b": "300",
	}
	msg, err := m.Encode(params, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0xfe, 0xff, 0x10, 0x2c, 0x01}, msg.Raw())

	back, err := m.Decode(msg.Raw(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), fieldOf(t, back, "items[0].b").Int())
	assert.Equal(t, int64(300), fieldOf(t, back, "items.1.b").Int())
	assert.Empty(t, m.Validate(back, Params{"items[1].a": "16", "items[0].b": "-2"}, nil))
}

func TestStructDeclaredLengthAndAlignment(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		s, err := NewStruct("s", "3", 4, false)
		require.NoError(t, err)
		require.NoError(t, b.Push(s))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "a", "1")))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "b", "2")))
		_, err = b.Pop()
		require.NoError(t, err)
		require.NoError(t, b.Add(mustField(t, value.KindChars, "c", "3", WithAlign(4))))
	})
	msg, err := m.Encode(Params{"s.a": "1", "s.b": "2", "c": "xy"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0, 'x', 'y', 0, 0}, msg.Raw())

	back, err := m.Decode(msg.Raw(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fieldOf(t, back, "s.b").Int())

	short := buildMessage(t, "Short", nil, nil, func(b *Builder) {
		s, err := NewStruct("s", "4", 1, false)
		require.NoError(t, err)
		require.NoError(t, b.Push(s))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "a", "1")))
		_, err = b.Pop()
		require.NoError(t, err)
	})
	_, err = short.Encode(Params{"s.a": "1"}, nil)
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode for struct length mismatch, got %v", err)
	}
}

func TestIntRangeCheck(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindInt, "v", "1")))
	})
	_, err := m.Encode(Params{"v": "128"}, nil)
	assert.True(t, errors.Is(err, ErrEncode))
	msg, err := m.Encode(Params{"v": "-128"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80}, msg.Raw())
}

func TestUnionSelection(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Push(NewUnion("u")))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "small", "1")))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "big", "4")))
		_, err := b.Pop()
		require.NoError(t, err)
	})
	u, _ := m.Field("u")
	assert.Equal(t, 4, u.(*Union).Size())

	_, err := m.Encode(Params{"u.small": "1"}, nil)
	assert.True(t, errors.Is(err, ErrEncode), "no selector")
	_, err = m.Encode(Params{"u": "nope"}, nil)
	assert.True(t, errors.Is(err, ErrEncode), "unknown selector")

	msg, err := m.Encode(Params{"u": "small", "u.small": "7"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 0, 0}, msg.Raw())

	back, err := m.Decode(msg.Raw(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), fieldOf(t, back, "u.small").Int())
	assert.Equal(t, int64(0x07000000), fieldOf(t, back, "u.big").Int())
	assert.Empty(t, m.Validate(back, Params{"u": "big", "u.big": "0x07000000"}, nil))
	assert.Len(t, m.Validate(back, Params{"u.small": "8"}, nil), 1)
}

func TestUnionRejectsDynamicMember(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.StartMessage("M", nil, nil))
	require.NoError(t, b.Add(mustField(t, value.KindUint, "len", "1")))
	require.NoError(t, b.Push(NewUnion("u")))
	err := b.Add(mustField(t, value.KindChars, "c", "len"))
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestBagCountsCases(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Push(NewBag("bag")))
		for _, c := range []struct{ name, size, tag string }{{"a", "0-2", "1"}, {"b", "*", "2"}} {
			cs, err := NewCase(c.name, c.size)
			require.NoError(t, err)
			require.NoError(t, b.Push(cs))
			s, err := NewStruct("elem", "", 1, false)
			require.NoError(t, err)
			require.NoError(t, b.Push(s))
			require.NoError(t, b.Add(mustField(t, value.KindUint, "tag", "1", WithDefault(c.tag))))
			require.NoError(t, b.Add(mustField(t, value.KindUint, "v", "1")))
			_, err = b.Pop()
			require.NoError(t, err)
			_, err = b.Pop()
			require.NoError(t, err)
		}
		_, err := b.Pop()
		require.NoError(t, err)
	})
	data := []byte{1, 10, 2, 20, 1, 11, 1, 12}
	msg, err := m.Decode(data, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12), fieldOf(t, msg, "bag.a[2].v").Int())
	assert.Equal(t, int64(20), fieldOf(t, msg, "bag.b[0].v").Int())

	errs := m.Validate(msg, nil, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "occurred 3 times")

	_, err = m.Decode([]byte{9, 9}, nil)
	assert.True(t, errors.Is(err, ErrDecode))

	_, err = m.Encode(nil, nil)
	assert.True(t, errors.Is(err, ErrEncode))
}

func TestBinaryContainer(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Push(NewBinaryContainer("flags", false)))
		require.NoError(t, b.Add(mustField(t, value.KindBin, "a", "1")))
		require.NoError(t, b.Add(mustField(t, value.KindBin, "b", "3")))
		require.NoError(t, b.Add(mustField(t, value.KindBin, "c", "12")))
		_, err := b.Pop()
		require.NoError(t, err)
	})
	msg, err := m.Encode(Params{"flags.a": "1", "flags.b": "0b010", "flags.c": "0xabc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbc}, msg.Raw())

	back, err := m.Decode(msg.Raw(), nil)
	require.NoError(t, err)
	assert.Equal(t, "010", fieldOf(t, back, "flags.b").Bin())
	assert.Empty(t, m.Validate(back, Params{"flags.c": "2748", "flags.b": "2"}, nil))

	b := NewBuilder()
	require.NoError(t, b.StartMessage("Bad", nil, nil))
	require.NoError(t, b.Push(NewBinaryContainer("odd", false)))
	require.NoError(t, b.Add(mustField(t, value.KindBin, "a", "3")))
	_, err = b.Pop()
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestTBCDContainer(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Push(NewTBCDContainer("imsi")))
		require.NoError(t, b.Add(mustField(t, value.KindTBCD, "mcc", "3")))
		require.NoError(t, b.Add(mustField(t, value.KindTBCD, "rest", "*")))
		_, err := b.Pop()
		require.NoError(t, err)
	})
	msg, err := m.Encode(Params{"imsi.mcc": "244", "imsi.rest": "12"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42, 0x14, 0xf2}, msg.Raw())

	back, err := m.Decode(msg.Raw(), nil)
	require.NoError(t, err)
	assert.Equal(t, "12", fieldOf(t, back, "imsi.rest").TBCD())
	assert.Empty(t, m.Validate(back, Params{"imsi.mcc": "244"}, nil))
}

func TestConditional(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindUint, "flag", "1")))
		c, err := NewConditional("opt", "flag==1")
		require.NoError(t, err)
		require.NoError(t, b.Push(c))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "x", "1")))
		_, err = b.Pop()
		require.NoError(t, err)
	})
	opt, _ := m.Field("opt")
	assert.Equal(t, "flag==1", opt.(*Conditional).Condition())

	msg, err := m.Encode(Params{"flag": "0", "opt.x": "5"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, msg.Raw())

	msg, err = m.Encode(Params{"flag": "1", "opt.x": "5"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 5}, msg.Raw())

	back, err := m.Decode([]byte{0}, nil)
	require.NoError(t, err)
	n, _ := back.Child("opt")
	assert.False(t, n.(*value.Conditional).Exists())
	assert.Empty(t, m.Validate(back, Params{"opt.x": "9"}, nil))
}

func TestValidationForms(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindUint, "n", "1")))
		require.NoError(t, b.Add(mustField(t, value.KindChars, "s", "5")))
	})
	msg, err := m.Encode(Params{"n": "5", "s": "hello"}, nil)
	require.NoError(t, err)

	for _, ok := range []Params{
		{"n": "0x05"}, {"n": "0b101"}, {"n": "(1|5)"}, {"n": "0xf5&0x0f"},
		{"n": ""}, {"n": "None"}, {"s": "REGEXP:h.l+"}, {"s": "hello"},
	} {
		assert.Empty(t, m.Validate(msg, ok, nil), ok)
	}
	errs := m.Validate(msg, Params{"n": "6", "s": "REGEXP:world"}, nil)
	require.Len(t, errs, 2)
	assert.Equal(t, "Value of field M.n does not match 5!=6", errs[0])
}

func TestUnknownParamsFailEncode(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindUint, "a", "1")))
	})
	_, err := m.Encode(Params{"a": "1", "b": "2"}, nil)
	assert.True(t, errors.Is(err, ErrEncode))

	msg, err := m.Encode(Params{"*": "3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, msg.Raw())
}

func TestProtocolHeaderAndPDU(t *testing.T) {
	proto := exampleProtocol(t)
	assert.Equal(t, 3, proto.HeaderLength())

	hdr, rest, err := proto.DecodeHeader([]byte{0xff, 0x00, 0x04, 0xca, 0xfe})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe}, rest)
	n, err := proto.PayloadLength(hdr)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m := buildMessage(t, "Req", proto, Params{"id": "0xff"}, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindUint, "body", "2")))
	})
	msg, err := m.Encode(Params{"body": "0xcafe"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00, 0x04, 0xca, 0xfe}, msg.Raw())
	assert.True(t, m.MatchesHeader(hdr, ""))
	assert.True(t, m.MatchesHeader(hdr, "id"))

	back, err := m.Decode(rest, hdr)
	require.NoError(t, err)
	assert.Empty(t, m.Validate(back, Params{"body": "0xcafe"}, Params{"length": "4"}))

	_, err = m.Decode([]byte{0xca, 0xfe, 0x00}, hdr)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestProtocolRejectsDynamicHeaderAndFieldsAfterPDU(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.StartProtocol("P", false))
	require.NoError(t, b.Add(mustField(t, value.KindUint, "len", "1")))
	require.NoError(t, b.Add(mustField(t, value.KindChars, "name", "len")))
	require.NoError(t, b.Add(mustField(t, value.KindPDU, "pdu", "len")))
	_, err := b.EndProtocol()
	assert.True(t, errors.Is(err, ErrSchema))

	b = NewBuilder()
	require.NoError(t, b.StartProtocol("P", false))
	require.NoError(t, b.Add(mustField(t, value.KindUint, "len", "1")))
	require.NoError(t, b.Add(mustField(t, value.KindPDU, "pdu", "len")))
	err = b.Add(mustField(t, value.KindUint, "after", "1"))
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestSchemaErrors(t *testing.T) {
	_, err := NewField(value.KindChars, "c", "4", WithLittleEndian())
	assert.True(t, errors.Is(err, ErrSchema))

	b := NewBuilder()
	require.NoError(t, b.StartMessage("M", nil, nil))
	require.NoError(t, b.Add(mustField(t, value.KindUint, "a", "1")))
	assert.True(t, errors.Is(b.Add(mustField(t, value.KindUint, "a", "1")), ErrSchema))
	assert.True(t, errors.Is(b.Add(mustField(t, value.KindChars, "c", "missing")), ErrSchema))
}

func TestFieldErrorCarriesPath(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		s, err := NewStruct("outer", "", 1, false)
		require.NoError(t, err)
		require.NoError(t, b.Push(s))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "x", "1")))
		_, err = b.Pop()
		require.NoError(t, err)
	})
	_, err := m.Encode(Params{"outer.x": "999"}, nil)
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "outer.x", fe.Path)
	assert.True(t, errors.Is(err, ErrEncode))
}

func TestParamsSubTree(t *testing.T) {
	p := Params{"s.a": "1", "l[2].b": "2", "l[3]": "3", "other": "4", "*": "0"}
	sub := p.subTree("l")
	assert.Equal(t, Params{"2.b": "2", "3": "3", "*": "0"}, sub)
	assert.Equal(t, []string{"other", "s.a"}, p.leftovers())
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindUint, "a", "1")))
	})
	_, err := m.Decode([]byte{0x01, 0x02}, nil)
	assert.True(t, errors.Is(err, ErrDecode), "got %v", err)

	msg, err := m.Decode([]byte{0x01}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fieldOf(t, msg, "a").Uint())
}

func TestCharsTerminatorKeepsResolvedLength(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindChars, "s", "8", WithTerminator("0x00"))))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "n", "1")))
	})
	msg, err := m.Encode(Params{"s": "abc", "n": "7"}, nil)
	require.NoError(t, err)
	raw := []byte{'a', 'b', 'c', 0, 0, 0, 0, 0, 7}
	assert.Equal(t, raw, msg.Raw())

	back, err := m.Decode(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", fieldOf(t, back, "s").ASCII())
	assert.Equal(t, 8, fieldOf(t, back, "s").Len())
	assert.Equal(t, uint64(7), fieldOf(t, back, "n").Uint())
	assert.Equal(t, raw, back.Raw())
	assert.Empty(t, m.Validate(back, Params{"s": "abc", "n": "7"}, nil))
	assert.Len(t, m.Validate(back, Params{"s": "abd"}, nil), 1)
}

func TestCharsTerminatorEndsFreeLength(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindChars, "s", "*", WithTerminator("0x3b"))))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "n", "1")))
	})
	msg, err := m.Encode(Params{"s": "ab", "n": "9"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab;\x09"), msg.Raw())

	back, err := m.Decode(msg.Raw(), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab;"), fieldOf(t, back, "s").Bytes())
	assert.Equal(t, uint64(9), fieldOf(t, back, "n").Uint())
	assert.Empty(t, m.Validate(back, Params{"s": "ab"}, nil))
}

func TestFreeListDecodesUntilDataEnds(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		l, err := NewList("items", "*")
		require.NoError(t, err)
		require.NoError(t, b.Push(l))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "v", "2")))
		_, err = b.Pop()
		require.NoError(t, err)
	})
	back, err := m.Decode([]byte{0x00, 0x01, 0x00, 0x02, 0x01, 0x00}, nil)
	require.NoError(t, err)
	n, _ := back.Child("items")
	assert.Equal(t, 3, n.(*value.List).Count())
	assert.Equal(t, uint64(0x0100), fieldOf(t, back, "items[2]").Uint())

	_, err = m.Decode([]byte{0x00, 0x01, 0x00}, nil)
	assert.True(t, errors.Is(err, ErrDecode), "partial element: %v", err)

	_, err = m.Encode(Params{}, nil)
	assert.True(t, errors.Is(err, ErrEncode), "free list encode: %v", err)
}

func TestFreeListRejectsEmptyElements(t *testing.T) {
	m := buildMessage(t, "M", nil, nil, func(b *Builder) {
		require.NoError(t, b.Add(mustField(t, value.KindUint, "flag", "1")))
		l, err := NewList("items", "*")
		require.NoError(t, err)
		require.NoError(t, b.Push(l))
		c, err := NewConditional("opt", "flag==1")
		require.NoError(t, err)
		require.NoError(t, b.Push(c))
		require.NoError(t, b.Add(mustField(t, value.KindUint, "x", "1")))
		_, err = b.Pop()
		require.NoError(t, err)
		_, err = b.Pop()
		require.NoError(t, err)
	})
	back, err := m.Decode([]byte{0x01, 0x05, 0x06}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), fieldOf(t, back, "items[1].x").Uint())

	_, err = m.Decode([]byte{0x00, 0x05}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.Contains(t, err.Error(), "consumed no data")
}

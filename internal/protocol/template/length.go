package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/rs/zerolog/log"
)

type LengthKind int

const (
	LengthStatic LengthKind = iota
	LengthDynamic
	LengthFree
)

// Length is a field or container size: a constant, a reference to another
// field with an optional -k, +k or *k transform, or "*" for whatever remains.
type Length struct {
	Kind    LengthKind
	Value   int
	Ref     string
	Op      byte
	Operand int
	Align   int
}

var dynamicLength = regexp.MustCompile(`^([A-Za-z_][\w.\[\]]*)\s*(?:([-+*])\s*(\d+))?$`)

// ParseLength reads "4", "len", "len-2", "count*4" or "*".
func ParseLength(raw string, align int) (Length, error) {
	if align == 0 {
		align = 1
	}
	if align < 1 {
		return Length{}, schemaErrorf("alignment %d must be positive", align)
	}
	s := strings.TrimSpace(raw)
	if s == "*" {
		return Length{Kind: LengthFree, Align: align}, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return Length{}, schemaErrorf("negative length %q", raw)
		}
		return Length{Kind: LengthStatic, Value: n, Align: align}, nil
	}
	m := dynamicLength.FindStringSubmatch(s)
	if m == nil {
		return Length{}, schemaErrorf("invalid length %q", raw)
	}
	l := Length{Kind: LengthDynamic, Ref: m[1], Align: align}
	if m[2] != "" {
		l.Op = m[2][0]
		l.Operand, _ = strconv.Atoi(m[3])
		if l.Op == '*' && l.Operand == 0 {
			return Length{}, schemaErrorf("length %q multiplies by zero", raw)
		}
	}
	return l, nil
}

func (l Length) String() string {
	switch l.Kind {
	case LengthStatic:
		return strconv.Itoa(l.Value)
	case LengthFree:
		return "*"
	}
	if l.Op == 0 {
		return l.Ref
	}
	return fmt.Sprintf("%s%c%d", l.Ref, l.Op, l.Operand)
}

// Static returns the unaligned constant size.
func (l Length) Static() (int, bool) {
	return l.Value, l.Kind == LengthStatic
}

func (l Length) aligned(n int) int {
	if l.Align <= 1 {
		return n
	}
	return (n + l.Align - 1) / l.Align * l.Align
}

// forward maps the reference value to a byte count.
func (l Length) forward(ref int) int {
	switch l.Op {
	case '-':
		return ref - l.Operand
	case '+':
		return ref + l.Operand
	case '*':
		return ref * l.Operand
	}
	return ref
}

// inverse maps a byte count back to the smallest reference value covering it.
func (l Length) inverse(n int) int {
	switch l.Op {
	case '-':
		return n + l.Operand
	case '+':
		return n - l.Operand
	case '*':
		return (n + l.Operand - 1) / l.Operand
	}
	return n
}

func (l Length) reference(parent value.Container) (value.Node, error) {
	if parent == nil {
		return nil, fmt.Errorf("length reference %s has no scope", l.Ref)
	}
	n, ok := value.Resolve(parent, l.Ref)
	if !ok {
		return nil, fmt.Errorf("length reference %s not found", l.Ref)
	}
	return n, nil
}

// Decode resolves the unaligned length against already materialized values.
// max bounds a free length; a negative max means no bound is known.
func (l Length) Decode(parent value.Container, max int) (int, error) {
	switch l.Kind {
	case LengthStatic:
		return l.Value, nil
	case LengthFree:
		if max < 0 {
			return 0, fmt.Errorf("free length needs a known maximum")
		}
		return max, nil
	}
	n, err := l.reference(parent)
	if err != nil {
		return 0, err
	}
	f, ok := n.(*value.Field)
	if !ok {
		if _, pending := n.(*value.Pending); pending {
			return 0, fmt.Errorf("length reference %s value not set", l.Ref)
		}
		return 0, fmt.Errorf("length reference %s is not a scalar", l.Ref)
	}
	out := l.forward(int(f.Int()))
	if out < 0 {
		return 0, fmt.Errorf("length reference %s gives negative length %d", l.Ref, out)
	}
	return out, nil
}

// FindAndSet returns the unaligned length to encode data needing minLen
// bytes. A pending reference is resolved to cover exactly minLen; a concrete
// one must already cover it.
func (l Length) FindAndSet(parent value.Container, minLen int) (int, error) {
	switch l.Kind {
	case LengthStatic:
		if l.Value < minLen {
			return 0, fmt.Errorf("value needs %d bytes, length is %d", minLen, l.Value)
		}
		return l.Value, nil
	case LengthFree:
		return minLen, nil
	}
	n, err := l.reference(parent)
	if err != nil {
		return 0, err
	}
	switch ref := n.(type) {
	case *value.Pending:
		v := l.inverse(minLen)
		if _, err := ref.Resolve(v); err != nil {
			return 0, fmt.Errorf("resolve %s: %w", l.Ref, err)
		}
		log.Debug().Str("ref", l.Ref).Int("value", v).Msg("length placeholder resolved")
		return l.forward(v), nil
	case *value.Field:
		have := l.forward(int(ref.Int()))
		if have < minLen {
			return 0, fmt.Errorf("length %s=%d is shorter than the %d bytes needed", l.Ref, have, minLen)
		}
		return have, nil
	}
	return 0, fmt.Errorf("length reference %s is not a scalar", l.Ref)
}

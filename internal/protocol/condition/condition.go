// Package condition evaluates the guards of conditional fields.
//
// Grammar: term (("&&" | "||") term)*, term = path ("==" | "!=") int.
// Joins fold strictly left to right: "a==1 || b==1 && c==1" is
// "(a==1 || b==1) && c==1".
package condition

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/danmuck/rammbock/internal/protocol/binconv"
	"github.com/danmuck/rammbock/internal/protocol/value"
)

var (
	ErrSyntax       = errors.New("condition: syntax error")
	ErrUnknownField = errors.New("condition: unknown field")
)

type term struct {
	field  string
	negate bool
	want   *big.Int
}

// Expr is a parsed guard.
type Expr struct {
	source string
	terms  []term
	joins  []string // joins[i] sits between terms[i] and terms[i+1]
}

var (
	joinPattern = regexp.MustCompile(`\s*(&&|\|\|)\s*`)
	termPattern = regexp.MustCompile(`^\s*([A-Za-z_][\w.\[\]]*)\s*(==|!=)\s*(\S+)\s*$`)
)

func Parse(expr string) (*Expr, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: empty condition", ErrSyntax)
	}
	e := &Expr{source: strings.TrimSpace(expr)}
	for _, m := range joinPattern.FindAllStringSubmatch(expr, -1) {
		e.joins = append(e.joins, m[1])
	}
	for _, raw := range joinPattern.Split(expr, -1) {
		m := termPattern.FindStringSubmatch(raw)
		if m == nil {
			return nil, fmt.Errorf("%w: %q in %q", ErrSyntax, strings.TrimSpace(raw), expr)
		}
		want, err := binconv.ToInt(m[3])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, m[3], err)
		}
		e.terms = append(e.terms, term{field: m[1], negate: m[2] == "!=", want: want})
	}
	return e, nil
}

func (e *Expr) String() string { return e.source }

// Fields lists the paths the expression reads.
func (e *Expr) Fields() []string {
	out := make([]string, len(e.terms))
	for i, t := range e.terms {
		out[i] = t.field
	}
	return out
}

// Eval looks every field up from parent outward. A field that is not present
// yet is an error, not false.
func (e *Expr) Eval(parent value.Container) (bool, error) {
	result, err := e.terms[0].eval(parent)
	if err != nil {
		return false, err
	}
	for i, join := range e.joins {
		next, err := e.terms[i+1].eval(parent)
		if err != nil {
			return false, err
		}
		if join == "&&" {
			result = result && next
		} else {
			result = result || next
		}
	}
	return result, nil
}

func (t term) eval(parent value.Container) (bool, error) {
	if parent == nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownField, t.field)
	}
	n, ok := value.Resolve(parent, t.field)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownField, t.field)
	}
	f, ok := n.(*value.Field)
	if !ok {
		return false, fmt.Errorf("%w: %s has no scalar value", ErrUnknownField, t.field)
	}
	equal := f.BigInt().Cmp(t.want) == 0
	return equal != t.negate, nil
}

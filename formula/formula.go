// Package formula implements a parsed, evaluable arithmetic expression over
// cell references. The sheet package treats it as an opaque component,
// constructing it from raw text and driving it through Evaluate, Print and
// Referenced; it never inspects the AST directly.
package formula

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/Maxibang/sheet/position"
)

// Lookup resolves a referenced cell's position to a number, or raises a
// FormulaLookupError (Ref, Value, or Div0) when it cannot. Evaluate never
// calls Lookup outside of this contract: it propagates whatever Lookup
// raises as its own result.
type Lookup func(pos position.Position) (float64, error)

// FormulaLookupError is raised by a Lookup implementation (and returned by
// Evaluate) to signal one of the three formula error kinds. It is distinct
// from cellvalue.FormulaError so this package has no dependency on the
// sheet's cell-value representation; callers translate between the two.
type FormulaLookupError struct {
	Kind ErrorKind
}

// ErrorKind mirrors cellvalue.ErrorKind without importing it, keeping this
// package's only dependency the position package it addresses cells with.
type ErrorKind int

const (
	RefErr ErrorKind = iota
	ValueErr
	Div0Err
)

func (e FormulaLookupError) Error() string {
	switch e.Kind {
	case RefErr:
		return "#REF!"
	case ValueErr:
		return "#VALUE!"
	default:
		return "#DIV/0!"
	}
}

// Expression is a parsed formula, ready to be evaluated against a Lookup
// any number of times.
type Expression struct {
	root Node
}

// New parses raw (without the leading '=') into an Expression, failing
// with an error wrapping ErrParse on malformed input.
func New(raw string) (*Expression, error) {
	root, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Expression{root: root}, nil
}

// Evaluate walks the expression, invoking lookup for every cell reference.
// A non-finite result (including NaN) is reported as Div0Err; this is the
// only place that check happens, so callers never see raw Inf/NaN leak out
// as a Number.
func (e *Expression) Evaluate(lookup Lookup) (float64, error) {
	v, err := eval(e.root, lookup)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, FormulaLookupError{Kind: Div0Err}
	}
	return v, nil
}

func eval(n Node, lookup Lookup) (float64, error) {
	switch n := n.(type) {
	case NumberNode:
		return n.Value, nil
	case CellRefNode:
		return lookup(n.Pos)
	case UnaryNode:
		x, err := eval(n.X, lookup)
		if err != nil {
			return 0, err
		}
		return -x, nil
	case BinaryNode:
		x, err := eval(n.X, lookup)
		if err != nil {
			return 0, err
		}
		y, err := eval(n.Y, lookup)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case PLUS:
			return x + y, nil
		case MINUS:
			return x - y, nil
		case ASTERISK:
			return x * y, nil
		case SLASH:
			return x / y, nil // a zero divisor yields +-Inf/NaN, caught by Evaluate
		}
	}
	return 0, fmt.Errorf("formula: unreachable node %T", n)
}

// Print renders the expression's canonical textual form. Whitespace may
// differ from the original source; semantics never do. Parentheses the
// parser collapsed are re-derived from operator precedence, so the printed
// form re-parses to the same tree.
func (e *Expression) Print() string {
	return printNode(e.root)
}

func printNode(n Node) string {
	switch n := n.(type) {
	case NumberNode:
		// plain decimal, never exponent form: the lexer reads only digits and '.'
		return strconv.FormatFloat(n.Value, 'f', -1, 64)
	case CellRefNode:
		return n.Pos.String()
	case UnaryNode:
		return "-" + printChild(n.X, unaryPrec, false)
	case BinaryNode:
		p := opPrec(n.Op)
		// the right operand of a non-commutative operator keeps parens even
		// at equal precedence: A1-(A2-A3) must not flatten to A1-A2-A3.
		strictRight := n.Op == MINUS || n.Op == SLASH
		return printChild(n.X, p, false) + string(n.Op) + printChild(n.Y, p, strictRight)
	}
	return ""
}

// printChild wraps a subexpression in parentheses when its operator binds
// looser than the surrounding one.
func printChild(n Node, parent int, strict bool) string {
	s := printNode(n)
	p := nodePrec(n)
	if p < parent || (strict && p == parent) {
		return "(" + s + ")"
	}
	return s
}

const (
	addPrec = iota + 1
	mulPrec
	unaryPrec
	atomPrec
)

func opPrec(op TokenType) int {
	if op == PLUS || op == MINUS {
		return addPrec
	}
	return mulPrec
}

func nodePrec(n Node) int {
	switch n := n.(type) {
	case BinaryNode:
		return opPrec(n.Op)
	case UnaryNode:
		return unaryPrec
	}
	return atomPrec
}

// Referenced returns every position the expression mentions, in
// parser-determined order (duplicates and ordering are the sheet's
// responsibility to normalize).
func (e *Expression) Referenced() []position.Position {
	return collectRefs(e.root, nil)
}

func collectRefs(n Node, acc []position.Position) []position.Position {
	switch n := n.(type) {
	case CellRefNode:
		return append(acc, n.Pos)
	case UnaryNode:
		return collectRefs(n.X, acc)
	case BinaryNode:
		acc = collectRefs(n.X, acc)
		return collectRefs(n.Y, acc)
	}
	return acc
}

// SortPositions orders positions row-major, then by column, in place.
func SortPositions(ps []position.Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Less(ps[j]) })
}

// FormatNumber renders a float64 the way the sheet prints numeric cell
// values: the shortest decimal representation that round-trips.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

package sheet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Maxibang/sheet/cellvalue"
	"github.com/Maxibang/sheet/formula"
	"github.com/Maxibang/sheet/position"
)

// FormulaSign marks a cell's raw text as a formula; EscapeSign, as the
// first character of a text cell, is stripped from the displayed value.
const (
	FormulaSign = '='
	EscapeSign  = '\''
)

// kind tags the closed CellBody variant: Empty, Text, or Formula.
type kind int

const (
	kindEmpty kind = iota
	kindText
	kindFormula
)

// Cell is a handle pairing one of the three body shapes with a
// back-reference to its owning Sheet, used to resolve sibling cells during
// evaluation and cycle detection. The back-reference is non-owning: Sheet
// exclusively owns its cells, never the reverse.
type Cell struct {
	sheet *Sheet

	kind kind

	// Text variant payload.
	text string

	// Formula variant payload.
	expr   *formula.Expression
	cached *cellvalue.Value // nil means not cached
}

// newCell builds an Empty Cell attached to sheet; callers apply raw via set.
func newCell(sheet *Sheet) *Cell {
	return &Cell{sheet: sheet, kind: kindEmpty}
}

// set applies raw to the cell: an empty string clears the cell to Empty;
// text not starting with '=' (or exactly "=") becomes Text; anything else
// is parsed as a Formula, failing with ErrParseFormula on malformed input.
// The receiver's previous body is fully replaced on success and left
// untouched on failure.
func (c *Cell) set(raw string) error {
	switch {
	case raw == "":
		c.kind = kindEmpty
		c.text = ""
		c.expr = nil
		c.cached = nil
		return nil
	case raw[0] != FormulaSign || raw == "=":
		c.kind = kindText
		c.text = raw
		c.expr = nil
		c.cached = nil
		return nil
	default:
		expr, err := formula.New(raw[1:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrParseFormula, err)
		}
		c.kind = kindFormula
		c.text = ""
		c.expr = expr
		c.cached = nil
		return nil
	}
}

// Value returns the cell's evaluated value. A Formula's Number result is
// memoized; an error result is not, and is recomputed on the next call.
func (c *Cell) Value() cellvalue.Value {
	switch c.kind {
	case kindEmpty:
		return cellvalue.NumberValue(0)
	case kindText:
		if len(c.text) > 0 && c.text[0] == EscapeSign {
			return cellvalue.TextValue(c.text[1:])
		}
		return cellvalue.TextValue(c.text)
	default: // kindFormula
		if c.cached != nil {
			return *c.cached
		}
		n, err := c.expr.Evaluate(c.lookup)
		if err != nil {
			lookupErr, ok := err.(formula.FormulaLookupError)
			if !ok {
				return cellvalue.ErrorValue(cellvalue.ValueError)
			}
			return cellvalue.ErrValue(cellvalue.FormulaError{Kind: toCellKind(lookupErr.Kind)})
		}
		v := cellvalue.NumberValue(n)
		c.cached = &v
		return v
	}
}

// Text returns the cell's raw display text.
func (c *Cell) Text() string {
	switch c.kind {
	case kindEmpty:
		return ""
	case kindText:
		return c.text
	default:
		return string(FormulaSign) + c.expr.Print()
	}
}

// Referenced returns the positions the cell's formula mentions, deduplicated
// and sorted by position order. Empty and Text cells reference nothing.
func (c *Cell) Referenced() []position.Position {
	if c.kind != kindFormula {
		return nil
	}
	refs := c.expr.Referenced()
	return dedupSorted(refs)
}

// Invalidate drops a Formula cell's memoized value. No effect on Empty/Text.
func (c *Cell) Invalidate() {
	if c.kind == kindFormula {
		c.cached = nil
	}
}

// Cached reports whether the cell's value is already computed. Empty and
// Text cells are always cached; a Formula cell is cached iff it holds a
// memoized value.
func (c *Cell) Cached() bool {
	return c.kind != kindFormula || c.cached != nil
}

// IsEmpty reports whether this is the Empty variant.
func (c *Cell) IsEmpty() bool {
	return c.kind == kindEmpty
}

// lookup is the per-position closure given to the formula's evaluator:
// absent cells are 0, numbers pass through, errors propagate immediately,
// and text is coerced to a number only if every character is a digit or
// '.'.
func (c *Cell) lookup(pos position.Position) (float64, error) {
	if !pos.IsValid() {
		return 0, formula.FormulaLookupError{Kind: formula.RefErr}
	}
	target := c.sheet.cellAt(pos)
	if target == nil {
		return 0, nil
	}
	v := target.Value()
	switch v.Kind {
	case cellvalue.KindNumber:
		return v.Number, nil
	case cellvalue.KindError:
		return 0, formula.FormulaLookupError{Kind: fromCellKind(v.Err.Kind)}
	default: // KindText
		if isNumericText(v.Text) {
			n, err := strconv.ParseFloat(v.Text, 64)
			if err != nil {
				return 0, formula.FormulaLookupError{Kind: formula.ValueErr}
			}
			return n, nil
		}
		return 0, formula.FormulaLookupError{Kind: formula.ValueErr}
	}
}

// isNumericText reports whether s consists solely of decimal digits and
// periods (and is non-empty) — the only text the lookup closure coerces.
func isNumericText(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	}) == -1
}

func toCellKind(k formula.ErrorKind) cellvalue.ErrorKind {
	switch k {
	case formula.RefErr:
		return cellvalue.RefError
	case formula.ValueErr:
		return cellvalue.ValueError
	default:
		return cellvalue.Div0Error
	}
}

func fromCellKind(k cellvalue.ErrorKind) formula.ErrorKind {
	switch k {
	case cellvalue.RefError:
		return formula.RefErr
	case cellvalue.ValueError:
		return formula.ValueErr
	default:
		return formula.Div0Err
	}
}

// dedupSorted removes duplicate positions and sorts the remainder in
// position order.
func dedupSorted(ps []position.Position) []position.Position {
	if len(ps) == 0 {
		return nil
	}
	seen := make(map[position.Position]struct{}, len(ps))
	out := make([]position.Position, 0, len(ps))
	for _, p := range ps {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	formula.SortPositions(out)
	return out
}

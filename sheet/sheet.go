// Package sheet implements the spreadsheet evaluation core: a sparse grid
// of Cells, their reverse dependency map, and the SetCell/ClearCell edit
// protocol that keeps the dependency graph acyclic and formula caches sound.
package sheet

import (
	"errors"
	"fmt"
	"io"

	"github.com/Maxibang/sheet/cellvalue"
	"github.com/Maxibang/sheet/formula"
	"github.com/Maxibang/sheet/position"
)

// Errors returned by the public edit protocol. FormulaError (Ref/Value/
// Div0) is never one of these: evaluation errors are reported as cell
// values, not API failures.
var (
	ErrInvalidPosition    = errors.New("invalid position")
	ErrParseFormula       = errors.New("could not parse formula")
	ErrCircularDependency = errors.New("circular dependency")
)

// Sheet is the grid: a row-major, sparse-trimmed container of Cells plus a
// reverse dependency map (referenced -> set of dependents). All public
// operations are assumed serialized by the caller; Sheet itself does no
// locking.
type Sheet struct {
	rows      [][]*Cell
	printable position.Size

	// dependents maps a position to the set of positions whose formulas
	// directly reference it — the inverse of each cell's Referenced() list.
	dependents map[position.Position]map[position.Position]struct{}
}

// New creates an empty Sheet.
func New() *Sheet {
	return &Sheet{dependents: make(map[position.Position]map[position.Position]struct{})}
}

// cellAt returns the cell at pos, or nil if absent or out of the current
// grid bounds. It performs no validation; it is used internally by formula
// lookups and cycle detection, both of which must treat an absent cell as
// yielding zero rather than failing.
func (s *Sheet) cellAt(pos position.Position) *Cell {
	if pos.Row < 0 || pos.Row >= len(s.rows) {
		return nil
	}
	row := s.rows[pos.Row]
	if pos.Col < 0 || pos.Col >= len(row) {
		return nil
	}
	return row[pos.Col]
}

func (s *Sheet) setGridCell(pos position.Position, c *Cell) {
	s.rows[pos.Row][pos.Col] = c
}

// GetCell returns the cell at pos, or nil if the position holds no cell.
func (s *Sheet) GetCell(pos position.Position) (*Cell, error) {
	if !pos.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPosition, pos)
	}
	return s.cellAt(pos), nil
}

// PrintableSize returns the current minimal bounding rectangle.
func (s *Sheet) PrintableSize() position.Size {
	return s.printable
}

// Dependents returns the positions whose formulas directly reference pos,
// in no particular order. Callers that need to propagate a change (e.g. a
// live-update driver rebroadcasting affected cells) walk this recursively;
// Sheet itself only uses it internally for cache invalidation.
func (s *Sheet) Dependents(pos position.Position) []position.Position {
	deps := s.dependents[pos]
	if len(deps) == 0 {
		return nil
	}
	out := make([]position.Position, 0, len(deps))
	for p := range deps {
		out = append(out, p)
	}
	return out
}

// SetCell implements the edit protocol. It validates pos,
// replaces (or creates) the cell's body, rejects edits that would
// introduce a circular dependency (restoring the prior body on failure),
// and otherwise rewires the reverse dependency map and re-trims the grid.
func (s *Sheet) SetCell(pos position.Position, raw string) error {
	if !pos.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidPosition, pos)
	}

	if existing := s.cellAt(pos); existing != nil {
		prevText := existing.Text()

		s.invalidateCacheOf(pos)

		if err := existing.set(raw); err != nil {
			// set() does not mutate on failure and the dependency map has
			// not been touched yet: a parse error leaves no trace beyond
			// the cache invalidation above.
			return err
		}

		s.clearOutboundDeps(pos)

		if s.hasCyclicDependency(existing, pos) {
			_ = existing.set(prevText) // restore; prevText was already valid once
			for _, ref := range existing.Referenced() {
				s.addDependency(ref, pos)
			}
			return fmt.Errorf("%w: %s", ErrCircularDependency, pos)
		}

		for _, ref := range existing.Referenced() {
			s.addDependency(ref, pos)
		}
	} else {
		candidate := newCell(s)
		if err := candidate.set(raw); err != nil {
			return err
		}

		if s.hasCyclicDependency(candidate, pos) {
			// the candidate is discarded without ever entering the grid;
			// any cells materialized while walking its references remain —
			// a side effect of the auto-materializing cycle check below,
			// not cleaned up here.
			return fmt.Errorf("%w: %s", ErrCircularDependency, pos)
		}

		for _, ref := range candidate.Referenced() {
			s.addDependency(ref, pos)
		}

		s.expand(pos)
		s.setGridCell(pos, candidate)
	}

	s.trimRows()
	s.trimCols()
	return nil
}

// ClearCell removes the cell at pos: the slot becomes absent,
// the grid is re-trimmed, and this cell's outbound dependency edges are
// dropped. Reverse edges from cells that reference pos are intentionally
// retained — they will observe an absent cell (value 0) on next read.
func (s *Sheet) ClearCell(pos position.Position) error {
	if !pos.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidPosition, pos)
	}
	if s.cellAt(pos) != nil {
		// dependents must drop their memoized values here: a cached Number
		// would otherwise short-circuit Value() and never observe the
		// now-absent cell reading as 0.
		s.invalidateCacheOf(pos)
		s.setGridCell(pos, nil)
	}
	s.trimRows()
	s.trimCols()
	s.clearOutboundDeps(pos)
	return nil
}

// invalidateCacheOf recursively drops the memoized value of every direct
// and transitive dependent of pos. Termination relies on the acyclicity
// invariant; no visited set is needed.
func (s *Sheet) invalidateCacheOf(pos position.Position) {
	for dep := range s.dependents[pos] {
		if cell := s.cellAt(dep); cell != nil {
			cell.Invalidate()
			s.invalidateCacheOf(dep)
		}
	}
}

// addDependency records that the formula at dependent references target,
// i.e. adds the reverse edge target -> dependent.
func (s *Sheet) addDependency(target, dependent position.Position) {
	set, ok := s.dependents[target]
	if !ok {
		set = make(map[position.Position]struct{})
		s.dependents[target] = set
	}
	set[dependent] = struct{}{}
}

// clearOutboundDeps removes pos's outbound edges: every entry in the
// reverse map where pos is listed as a dependent.
func (s *Sheet) clearOutboundDeps(pos position.Position) {
	for target, deps := range s.dependents {
		delete(deps, pos)
		if len(deps) == 0 {
			delete(s.dependents, target)
		}
	}
}

// hasCyclicDependency walks cell's referenced positions looking for target.
// A referenced position with no cell present is auto-materialized as an
// empty cell before the walk continues, so the walk never dereferences an
// absent lookup. No visited set is kept: a position reachable along several
// paths is walked once per path. An invalid
// referenced position terminates that branch of the walk without
// materializing anything — it cannot be a cell itself, let alone a cyclic
// one.
func (s *Sheet) hasCyclicDependency(cell *Cell, target position.Position) bool {
	for _, ref := range cell.Referenced() {
		if ref == target {
			return true
		}
		if !ref.IsValid() {
			continue
		}
		next := s.cellAt(ref)
		if next == nil {
			next = s.materializeEmpty(ref)
		}
		if s.hasCyclicDependency(next, target) {
			return true
		}
	}
	return false
}

// materializeEmpty installs a fresh Empty cell at pos, expanding and
// re-trimming the grid exactly as a SetCell(pos, "") would. It never fails
// and never checks for cycles: an Empty cell has no references.
func (s *Sheet) materializeEmpty(pos position.Position) *Cell {
	c := newCell(s)
	s.expand(pos)
	s.setGridCell(pos, c)
	s.trimRows()
	s.trimCols()
	return c
}

// expand grows the grid to contain pos: the row vector to at least
// pos.Row+1 (new rows start zero-length), and the touched row's columns to
// at least pos.Col+1. Printable columns grows if this exceeds it.
func (s *Sheet) expand(pos position.Position) {
	if len(s.rows) < pos.Row+1 {
		grown := make([][]*Cell, pos.Row+1)
		copy(grown, s.rows)
		s.rows = grown
	}
	row := s.rows[pos.Row]
	if len(row) < pos.Col+1 {
		grown := make([]*Cell, pos.Col+1)
		copy(grown, row)
		s.rows[pos.Row] = grown
		if s.printable.Cols < pos.Col+1 {
			s.printable.Cols = pos.Col + 1
		}
	}
}

// trimRows drops trailing rows containing only absent cells.
func (s *Sheet) trimRows() {
	n := len(s.rows)
	for n > 0 && rowIsEmpty(s.rows[n-1]) {
		n--
	}
	s.rows = s.rows[:n]
	s.printable.Rows = n
}

func rowIsEmpty(row []*Cell) bool {
	for _, c := range row {
		if c != nil {
			return false
		}
	}
	return true
}

// trimCols finds the largest column index holding a non-absent cell in any
// row, resizes every row to that width, and updates printable columns.
// trimRows must run first: a row trimmed away should not hold trimCols'
// width hostage.
func (s *Sheet) trimCols() {
	max := 0
	for _, row := range s.rows {
		for c := len(row) - 1; c >= max; c-- {
			if row[c] != nil {
				max = c + 1
				break
			}
		}
	}
	for i, row := range s.rows {
		if len(row) != max {
			resized := make([]*Cell, max)
			copy(resized, row)
			s.rows[i] = resized
		}
	}
	s.printable.Cols = max
}

// PrintValues writes the grid in printable-size order, tab-separated, one
// row per line: absent cells emit nothing between their delimiting tabs;
// Empty emits "0"; Text emits its (escape-stripped) value; Formula emits
// its numeric value or its error display string.
func (s *Sheet) PrintValues(w io.Writer) error {
	for _, row := range s.rows {
		for i, cell := range row {
			if i > 0 {
				if _, err := io.WriteString(w, "\t"); err != nil {
					return err
				}
			}
			if cell == nil {
				continue
			}
			var text string
			switch v := cell.Value(); v.Kind {
			case cellvalue.KindText:
				text = v.Text
			case cellvalue.KindNumber:
				text = formula.FormatNumber(v.Number)
			case cellvalue.KindError:
				text = v.Err.Error()
			}
			if _, err := io.WriteString(w, text); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// PrintTexts writes the grid the same way as PrintValues, but each present
// cell emits its raw Text() instead of its evaluated value.
func (s *Sheet) PrintTexts(w io.Writer) error {
	for _, row := range s.rows {
		for i, cell := range row {
			if i > 0 {
				if _, err := io.WriteString(w, "\t"); err != nil {
					return err
				}
			}
			if cell == nil {
				continue
			}
			if _, err := io.WriteString(w, cell.Text()); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

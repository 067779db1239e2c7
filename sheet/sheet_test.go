package sheet

import (
	"errors"
	"testing"

	"github.com/Maxibang/sheet/cellvalue"
	"github.com/Maxibang/sheet/position"
)

func mustSet(t *testing.T, s *Sheet, addr, raw string) {
	t.Helper()
	if err := s.SetCell(position.Parse(addr), raw); err != nil {
		t.Fatalf("SetCell(%s, %q) failed: %v", addr, raw, err)
	}
}

func getCell(t *testing.T, s *Sheet, addr string) *Cell {
	t.Helper()
	c, err := s.GetCell(position.Parse(addr))
	if err != nil {
		t.Fatalf("GetCell(%s) failed: %v", addr, err)
	}
	return c
}

func valueOf(t *testing.T, s *Sheet, addr string) cellvalue.Value {
	t.Helper()
	c := getCell(t, s, addr)
	if c == nil {
		t.Fatalf("%s is absent", addr)
	}
	return c.Value()
}

func expectNumber(t *testing.T, s *Sheet, addr string, want float64) {
	t.Helper()
	v := valueOf(t, s, addr)
	if v.Kind != cellvalue.KindNumber || v.Number != want {
		t.Fatalf("value(%s) = %+v, want Number(%v)", addr, v, want)
	}
}

func expectError(t *testing.T, s *Sheet, addr string, kind cellvalue.ErrorKind) {
	t.Helper()
	v := valueOf(t, s, addr)
	if v.Kind != cellvalue.KindError || v.Err.Kind != kind {
		t.Fatalf("value(%s) = %+v, want Error(%v)", addr, v, kind)
	}
}

// Scenario A: text and escape.
func TestScenarioA_TextAndEscape(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "hello")
	mustSet(t, s, "A2", "'=notaformula")

	a1 := getCell(t, s, "A1")
	if a1.Text() != "hello" {
		t.Fatalf("text(A1) = %q, want %q", a1.Text(), "hello")
	}
	if v := a1.Value(); v.Kind != cellvalue.KindText || v.Text != "hello" {
		t.Fatalf("value(A1) = %+v, want Text(hello)", v)
	}

	a2 := getCell(t, s, "A2")
	if a2.Text() != "'=notaformula" {
		t.Fatalf("text(A2) = %q, want %q", a2.Text(), "'=notaformula")
	}
	if v := a2.Value(); v.Kind != cellvalue.KindText || v.Text != "=notaformula" {
		t.Fatalf("value(A2) = %+v, want Text(=notaformula)", v)
	}
}

// Scenario B: arithmetic propagation, including cache invalidation on edit.
func TestScenarioB_ArithmeticPropagation(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "2")
	mustSet(t, s, "A2", "3")
	mustSet(t, s, "B1", "=A1+A2")
	mustSet(t, s, "B2", "=B1*2")

	expectNumber(t, s, "B1", 5)
	expectNumber(t, s, "B2", 10)

	mustSet(t, s, "A1", "4")
	expectNumber(t, s, "B1", 7)
	expectNumber(t, s, "B2", 14)
}

// Scenario C: cycle rejection leaves the target cell as it was.
func TestScenarioC_CycleRejection(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "=B1")
	mustSet(t, s, "B1", "=C1")

	c1Before := ""
	if c := getCell(t, s, "C1"); c != nil {
		c1Before = c.Text()
	}

	err := s.SetCell(position.Parse("C1"), "=A1")
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("SetCell(C1,=A1) err = %v, want ErrCircularDependency", err)
	}

	c1After := ""
	if c := getCell(t, s, "C1"); c != nil {
		c1After = c.Text()
	}
	if c1Before != c1After {
		t.Fatalf("text(C1) changed across rejected edit: before %q after %q", c1Before, c1After)
	}
}

// Scenario D: division by zero.
func TestScenarioD_Div0(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "0")
	mustSet(t, s, "B1", "=1/A1")
	expectError(t, s, "B1", cellvalue.Div0Error)
}

// Scenario E: non-numeric text coerced in arithmetic.
func TestScenarioE_ValueError(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "hello")
	mustSet(t, s, "B1", "=A1+1")
	expectError(t, s, "B1", cellvalue.ValueError)
}

// Scenario F: an absent reference reads as zero.
func TestScenarioF_AbsentReferenceIsZero(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "=Z9+1")
	expectNumber(t, s, "A1", 1)
}

// Scenario G: a lone "=" is text, not a formula.
func TestScenarioG_LoneEquals(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "=")
	a1 := getCell(t, s, "A1")
	if a1.Text() != "=" {
		t.Fatalf("text(A1) = %q, want %q", a1.Text(), "=")
	}
	if v := a1.Value(); v.Kind != cellvalue.KindText || v.Text != "=" {
		t.Fatalf("value(A1) = %+v, want Text(=)", v)
	}
}

// Scenario H: clearing the only cell trims the sheet back to (0,0).
func TestScenarioH_Trimming(t *testing.T) {
	s := New()
	mustSet(t, s, "C3", "x")
	if err := s.ClearCell(position.Parse("C3")); err != nil {
		t.Fatalf("ClearCell(C3) failed: %v", err)
	}
	size := s.PrintableSize()
	if size.Rows != 0 || size.Cols != 0 {
		t.Fatalf("PrintableSize() = %+v, want (0,0)", size)
	}
}

// Invariant 1: acyclicity. A direct self-reference is rejected outright and
// the position is left absent, since the candidate never enters the grid.
func TestInvariant_AcyclicitySelfReferenceRejected(t *testing.T) {
	s := New()
	err := s.SetCell(position.Parse("A1"), "=A1")
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("SetCell(A1,=A1) err = %v, want ErrCircularDependency", err)
	}
	c, getErr := s.GetCell(position.Parse("A1"))
	if getErr != nil {
		t.Fatalf("GetCell(A1) failed: %v", getErr)
	}
	if c != nil {
		t.Fatalf("A1 should remain absent after a rejected self-referencing SetCell")
	}
}

// Invariant 2: reverse-map consistency, observed through propagation: a
// formula cell's referenced positions must each be able to invalidate it.
func TestInvariant_ReverseMapConsistency(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "1")
	mustSet(t, s, "B1", "=A1")
	expectNumber(t, s, "B1", 1)

	mustSet(t, s, "A1", "2")
	expectNumber(t, s, "B1", 2)
}

// Invariant 3 & 4: cache soundness and invalidation.
func TestInvariant_CacheSoundnessAndInvalidation(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "1")
	mustSet(t, s, "B1", "=A1+1")

	b1 := getCell(t, s, "B1")
	if b1.Cached() {
		t.Fatalf("expected B1 uncached before its first evaluation")
	}
	expectNumber(t, s, "B1", 2)
	if !b1.Cached() {
		t.Fatalf("expected B1 cached after evaluation")
	}

	mustSet(t, s, "A1", "5")
	if b1.Cached() {
		t.Fatalf("expected B1's cache invalidated after editing its dependency A1")
	}
	expectNumber(t, s, "B1", 6)
}

// Invariant 5: printable minimality — the bounding rectangle never carries
// slack rows/columns.
func TestInvariant_PrintableMinimality(t *testing.T) {
	s := New()
	mustSet(t, s, "B2", "x")
	size := s.PrintableSize()
	if size.Rows != 2 || size.Cols != 2 {
		t.Fatalf("PrintableSize() = %+v, want (2,2)", size)
	}

	mustSet(t, s, "A1", "y")
	size = s.PrintableSize()
	if size.Rows != 2 || size.Cols != 2 {
		t.Fatalf("PrintableSize() = %+v, want (2,2) after filling A1", size)
	}

	if err := s.ClearCell(position.Parse("B2")); err != nil {
		t.Fatalf("ClearCell(B2) failed: %v", err)
	}
	size = s.PrintableSize()
	if size.Rows != 1 || size.Cols != 1 {
		t.Fatalf("PrintableSize() = %+v, want (1,1) after clearing B2", size)
	}
}

// Invariant 6: escape round-trip for arbitrary non-formula text.
func TestInvariant_EscapeRoundTrip(t *testing.T) {
	cases := []struct {
		raw       string
		wantValue string
	}{
		{"plain", "plain"},
		{"'escaped", "escaped"},
		{"''double", "'double"},
	}
	for _, c := range cases {
		s := New()
		mustSet(t, s, "A1", c.raw)
		cell := getCell(t, s, "A1")
		if cell.Text() != c.raw {
			t.Fatalf("text(A1) = %q, want %q", cell.Text(), c.raw)
		}
		v := cell.Value()
		if v.Kind != cellvalue.KindText || v.Text != c.wantValue {
			t.Fatalf("value(A1) = %+v, want Text(%q)", v, c.wantValue)
		}
	}
}

// Clearing a referenced cell drops its dependents' caches so they re-read
// the absent position as 0 instead of serving the memoized value.
func TestClearCellInvalidatesDependents(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "5")
	mustSet(t, s, "B1", "=A1+1")
	expectNumber(t, s, "B1", 6)

	if err := s.ClearCell(position.Parse("A1")); err != nil {
		t.Fatalf("ClearCell(A1) failed: %v", err)
	}
	expectNumber(t, s, "B1", 1)
}

func TestClearCellOnAbsentPositionIsNoop(t *testing.T) {
	s := New()
	if err := s.ClearCell(position.Parse("A1")); err != nil {
		t.Fatalf("ClearCell on an absent position should succeed, got %v", err)
	}
}

func TestSetCellInvalidPosition(t *testing.T) {
	s := New()
	if err := s.SetCell(position.Invalid, "1"); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("SetCell(Invalid, ...) err = %v, want ErrInvalidPosition", err)
	}
}

func TestSetCellMalformedFormula(t *testing.T) {
	s := New()
	err := s.SetCell(position.Parse("A1"), "=1+")
	if !errors.Is(err, ErrParseFormula) {
		t.Fatalf("SetCell with malformed formula err = %v, want ErrParseFormula", err)
	}
	if _, getErr := s.GetCell(position.Parse("A1")); getErr != nil {
		t.Fatalf("GetCell(A1) failed: %v", getErr)
	}
}

// A malformed edit to an existing formula cell must leave its dependency
// edges intact: edits to its references still invalidate it afterward.
func TestMalformedEditOnExistingCellKeepsDependencies(t *testing.T) {
	s := New()
	mustSet(t, s, "B1", "1")
	mustSet(t, s, "A1", "=B1+1")
	expectNumber(t, s, "A1", 2)

	err := s.SetCell(position.Parse("A1"), "=1+")
	if !errors.Is(err, ErrParseFormula) {
		t.Fatalf("SetCell(A1,=1+) err = %v, want ErrParseFormula", err)
	}
	if got := getCell(t, s, "A1").Text(); got != "=B1+1" {
		t.Fatalf("text(A1) = %q after rejected edit, want %q", got, "=B1+1")
	}

	mustSet(t, s, "B1", "5")
	expectNumber(t, s, "A1", 6)
}

func TestPrintValuesAndTexts(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "1")
	mustSet(t, s, "B1", "=A1+1")

	var valuesOut, textsOut builderWriter
	if err := s.PrintValues(&valuesOut); err != nil {
		t.Fatalf("PrintValues failed: %v", err)
	}
	if err := s.PrintTexts(&textsOut); err != nil {
		t.Fatalf("PrintTexts failed: %v", err)
	}

	if got, want := valuesOut.String(), "1\t2\n"; got != want {
		t.Fatalf("PrintValues() = %q, want %q", got, want)
	}
	if got, want := textsOut.String(), "1\t=A1+1\n"; got != want {
		t.Fatalf("PrintTexts() = %q, want %q", got, want)
	}
}

type builderWriter struct {
	buf []byte
}

func (w *builderWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *builderWriter) String() string { return string(w.buf) }

func TestDependents(t *testing.T) {
	s := New()
	mustSet(t, s, "A1", "1")
	mustSet(t, s, "B1", "=A1")
	mustSet(t, s, "C1", "=B1")

	deps := s.Dependents(position.Parse("A1"))
	if len(deps) != 1 || deps[0] != position.Parse("B1") {
		t.Fatalf("Dependents(A1) = %v, want [B1]", deps)
	}
}

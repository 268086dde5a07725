// Package location defines zero-based positions and the locations that
// bind a position to a script, a loaded source, a URL or a URL regexp.
package location

import "fmt"

// NoColumn marks a position whose column was not specified.
const NoColumn = -1

// Unmapped is the position recorded for a location that could not be
// translated (e.g. the source map had no mapping for it).
var Unmapped = Position{Line: -1, Column: NoColumn}

// Position is a zero-based (line, column) pair.
type Position struct {
	Line   int
	Column int
}

// At returns the position (line, column).
func At(line, column int) Position {
	return Position{Line: line, Column: column}
}

// Line returns the position at the start of line with no column.
func Line(line int) Position {
	return Position{Line: line, Column: NoColumn}
}

// HasColumn reports whether the column was specified.
func (p Position) HasColumn() bool { return p.Column != NoColumn }

// ColumnOrZero returns the column, or 0 if unspecified.
func (p Position) ColumnOrZero() int {
	if p.Column == NoColumn {
		return 0
	}
	return p.Column
}

// Compare orders positions by line then column; an unspecified column
// sorts as column 0.
func (p Position) Compare(o Position) int {
	switch {
	case p.Line < o.Line:
		return -1
	case p.Line > o.Line:
		return 1
	}
	pc, oc := p.ColumnOrZero(), o.ColumnOrZero()
	switch {
	case pc < oc:
		return -1
	case pc > oc:
		return 1
	}
	return 0
}

// IsBefore reports whether p sorts strictly before o.
func (p Position) IsBefore(o Position) bool { return p.Compare(o) < 0 }

func (p Position) String() string {
	if !p.HasColumn() {
		return fmt.Sprintf("%d", p.Line)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Location binds a position to a resource: a script handle, a loaded
// source handle, a URL identifier or a URL regexp.
type Location[R comparable] struct {
	Resource R
	Position Position
}

// New returns the location of p within r.
func New[R comparable](r R, p Position) Location[R] {
	return Location[R]{Resource: r, Position: p}
}

func (l Location[R]) String() string {
	return fmt.Sprintf("%v:%s", l.Resource, l.Position)
}

// Range is the span from Start to End, both inclusive, within one
// resource.
type Range struct {
	Start Position
	End   Position
}

// Contains reports whether p lies in r. A zero End means the range is
// unbounded.
func (r Range) Contains(p Position) bool {
	if p.IsBefore(r.Start) {
		return false
	}
	if r.End == (Position{}) {
		return true
	}
	return p.Compare(r.End) <= 0
}

// RestOfLine returns the range from p to the start of the next line.
func RestOfLine(p Position) Range {
	return Range{Start: At(p.Line, p.ColumnOrZero()), End: At(p.Line+1, 0)}
}

// WholeLine returns the range covering all of p's line.
func WholeLine(p Position) Range {
	return Range{Start: At(p.Line, 0), End: At(p.Line+1, 0)}
}

package deck

import (
	"slices"
	"strings"

	"github.com/ndisidore/inpdeck/pkg/scalar"
)

// Line is one data record. Most records occupy a single source line;
// element records may continue over several lines, recorded in Breaks.
type Line struct {
	Cells []scalar.Scalar
	// Breaks lists where the record continues on a new source line.
	Breaks []Break
}

// Break marks a continuation: the cell at index At starts a new source
// line. Tail is the text between the previous cell and the newline, usually
// a comma with optional blanks; it is empty when the line ended without one.
// Comments holds "**" or blank lines found between the two source lines.
type Break struct {
	At       int
	Tail     string
	Comments []string
}

// Comment is a "**" or blank line inside a data region. Index is the
// position of the comment among the interleaved records and comments.
type Comment struct {
	Index int
	Text  string
}

// NewLine builds a single-line record from cell values.
func NewLine(cells ...scalar.Scalar) Line {
	return Line{Cells: cells}
}

// TextLine builds a record from cell source strings.
func TextLine(cells ...string) Line {
	return Line{Cells: mapSlice(cells, scalar.MustParse)}
}

// Clone returns a deep copy.
func (l Line) Clone() Line {
	out := Line{Cells: slices.Clone(l.Cells), Breaks: slices.Clone(l.Breaks)}
	for i := range out.Breaks {
		out.Breaks[i].Comments = slices.Clone(out.Breaks[i].Comments)
	}
	return out
}

// IsBlank reports whether every cell is blank.
func (l Line) IsBlank() bool {
	for _, c := range l.Cells {
		if !c.IsBlank() {
			return false
		}
	}
	return true
}

// Len returns the number of cells.
func (l Line) Len() int { return len(l.Cells) }

// Format renders the record. Continuation breaks are emitted as "\n".
func (l Line) Format(opts scalar.FormatOpts) string {
	var b strings.Builder
	brk := 0
	for i, c := range l.Cells {
		if i > 0 {
			if brk < len(l.Breaks) && l.Breaks[brk].At == i {
				_, _ = b.WriteString(l.Breaks[brk].Tail)
				_ = b.WriteByte('\n')
				for _, c := range l.Breaks[brk].Comments {
					_, _ = b.WriteString(c)
					_ = b.WriteByte('\n')
				}
				brk++
			} else {
				_ = b.WriteByte(',')
			}
		}
		_, _ = b.WriteString(c.Format(opts))
	}
	return b.String()
}

// DeleteCells removes the cells in [from, to) and shifts later breaks.
// Breaks that fall inside the removed range collapse onto the next cell.
// Their comments move to a surviving break, or are dropped when none is left.
func (l *Line) DeleteCells(from, to int) {
	from = max(from, 0)
	to = min(to, len(l.Cells))
	if from >= to {
		return
	}
	n := to - from
	l.Cells = slices.Delete(l.Cells, from, to)
	out := l.Breaks[:0]
	var lost []string
	for _, br := range l.Breaks {
		switch {
		case br.At <= from:
		case br.At < to:
			br.At = from
		default:
			br.At -= n
		}
		if br.At <= 0 || br.At >= len(l.Cells) {
			lost = append(lost, br.Comments...)
			continue
		}
		if len(out) > 0 && out[len(out)-1].At == br.At {
			prev := &out[len(out)-1]
			prev.Comments = append(prev.Comments, br.Comments...)
			continue
		}
		if len(lost) > 0 {
			br.Comments = append(lost, br.Comments...)
			lost = nil
		}
		out = append(out, br)
	}
	if len(lost) > 0 && len(out) > 0 {
		last := &out[len(out)-1]
		last.Comments = append(last.Comments, lost...)
	}
	l.Breaks = out
}

package refs

import (
	"errors"
	"fmt"

	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/deck"
)

// ErrNoStride is returned when a stride depends on a block the deck lacks.
var ErrNoStride = errors.New("line stride unavailable")

// predicate reports whether cell i of line l holds a reference.
type predicate func(l deck.Line, i int) bool

// stride returns the records to scan in block b.
type stride func(d *deck.Deck, b *deck.Block) (Slice, error)

var _predicates = map[string]predicate{
	"after-nodes":     after("nodes"),
	"not-after-nodes": func(l deck.Line, i int) bool { return !after("nodes")(l, i) },
	"after-surface":   after("surface"),
	"wetting-advance": func(l deck.Line, _ int) bool { return textIs(l, 4, "wettingadvance") },
	"quasi-static":    func(l deck.Line, _ int) bool { return textIs(l, 1, "qs") },
	"not-material":    func(l deck.Line, i int) bool { return !textIs(l, i+3, "material") },
}

var _strides = map[string]stride{
	"temperature-points": temperatureStride,
	"esdv":               esdvStride,
	"backstresses":       backstressStride,
	"fluid-species":      speciesStride,
	"field-variable":     fieldVariableStride,
	"distribution":       distributionStride,
}

// after matches when the previous cell is the literal word.
func after(word string) predicate {
	return func(l deck.Line, i int) bool { return textIs(l, i-1, word) }
}

func textIs(l deck.Line, i int, word string) bool {
	return i >= 0 && i < len(l.Cells) && csmap.Normalize(l.Cells[i].Text()) == word
}

// every returns a stride of one record spanning n lines.
func every(n int) Slice {
	return Slice{Start: 0, Stop: -1, Step: max(n, 1)}
}

// linesFor returns how many lines hold one record of n values after the
// leading label, eight values per line.
func linesFor(n int) int {
	return (n + 1 + 7) / 8
}

func paramInt(d *deck.Deck, b *deck.Block, name string) (int, bool) {
	v, ok := b.Param(name)
	if !ok {
		return 0, false
	}
	n, ok := d.Substitute(v).Int()
	return int(n), ok
}

func firstInt(d *deck.Deck, b *deck.Block) (int, bool) {
	if len(b.Data) == 0 || len(b.Data[0].Cells) == 0 {
		return 0, false
	}
	n, ok := d.Substitute(b.Data[0].Cells[0]).Int()
	return int(n), ok
}

// temperatureStride spans the temperature points of the largest
// *SHELL SECTION, TEMPERATURE=n or arbitrary *BEAM SECTION.
func temperatureStride(d *deck.Deck, _ *deck.Block) (Slice, error) {
	points := 0
	for _, h := range d.ByName("shell section") {
		if n, ok := paramInt(d, d.Block(h), "temperature"); ok {
			points = max(points, n)
		}
	}
	for _, h := range d.ByName("beam section") {
		b := d.Block(h)
		if csmap.Normalize(b.ParamText("section")) != "arbitrary" || csmap.Normalize(b.ParamText("temperature")) != "values" {
			continue
		}
		if n, ok := firstInt(d, b); ok {
			points = max(points, n)
		}
	}
	if points <= 7 {
		return All, nil
	}
	return every(linesFor(points)), nil
}

// esdvStride spans the variables declared by
// *ELEMENT SOLUTION-DEPENDENT VARIABLES.
func esdvStride(d *deck.Deck, _ *deck.Block) (Slice, error) {
	hs := d.ByName("element solution-dependent variables")
	if len(hs) == 0 {
		return Slice{}, fmt.Errorf("%w: no *ELEMENT SOLUTION-DEPENDENT VARIABLES block", ErrNoStride)
	}
	n := 0
	for _, h := range hs {
		if v, ok := firstInt(d, d.Block(h)); ok {
			n = max(n, v)
		}
	}
	return every(linesFor(n)), nil
}

func backstressStride(d *deck.Deck, b *deck.Block) (Slice, error) {
	n, ok := paramInt(d, b, "number backstresses")
	if !ok {
		return Slice{}, fmt.Errorf("%w: NUMBER BACKSTRESSES is not an integer", ErrNoStride)
	}
	return every(n), nil
}

func speciesStride(d *deck.Deck, b *deck.Block) (Slice, error) {
	n, ok := paramInt(d, b, "number species")
	if !ok {
		return Slice{}, fmt.Errorf("%w: NUMBER SPECIES is not an integer", ErrNoStride)
	}
	return every(linesFor(n)), nil
}

// fieldVariableStride: the first line holds the node and seven values,
// the following lines eight values each.
func fieldVariableStride(d *deck.Deck, b *deck.Block) (Slice, error) {
	v, ok := paramInt(d, b, "variable")
	if !ok {
		return Slice{}, fmt.Errorf("%w: VARIABLE is not an integer", ErrNoStride)
	}
	if v <= 7 {
		return All, nil
	}
	return every(1 + (v-7+7)/8), nil
}

// distributionStride skips the default line and infers the record length
// from the first line lengths.
func distributionStride(_ *deck.Deck, b *deck.Block) (Slice, error) {
	lens := make([]int, 0, 3)
	for _, l := range b.Data[:min(3, len(b.Data))] {
		lens = append(lens, len(l.Cells))
	}
	switch {
	case len(lens) == 3 && lens[0] == 8 && lens[1] == 8 && lens[2] == 6:
		return Slice{Start: 3, Stop: -1, Step: 3}, nil
	case len(lens) == 3 && lens[0] == 8 && lens[1] == 2 && lens[2] == 8:
		return Slice{Start: 2, Stop: -1, Step: 2}, nil
	default:
		return Slice{Start: 1, Stop: -1, Step: 1}, nil
	}
}

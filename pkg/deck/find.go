package deck

import (
	"fmt"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/ndisidore/inpdeck/pkg/csmap"
)

// Mode controls how Query criteria combine.
type Mode uint8

// Query modes.
const (
	// ModeAll requires the keyword name and every criterion to match.
	ModeAll Mode = iota
	// ModeKeyAndOne requires the keyword name and at least one criterion.
	ModeKeyAndOne
	// ModeKeyAndAny accepts a keyword name match or any single criterion.
	ModeKeyAndAny
)

// ParseMode parses "all", "keyandone" or "keyandany".
func ParseMode(s string) (Mode, error) {
	switch csmap.Normalize(s) {
	case "", "all":
		return ModeAll, nil
	case "keyandone":
		return ModeKeyAndOne, nil
	case "keyandany":
		return ModeKeyAndAny, nil
	default:
		return 0, fmt.Errorf("mode %q: %w", s, errdefs.ErrInvalidArgument)
	}
}

// Query selects blocks by keyword, parameters and data.
type Query struct {
	// Names lists keyword names; empty matches every keyword.
	Names []string
	// Params maps parameter names to values. An empty value tests presence;
	// string values match as normalized substrings; numbers by value.
	Params map[string]string
	// Exclude rejects blocks carrying these parameters. An empty value
	// rejects on presence, otherwise on an equal value.
	Exclude map[string]string
	// Data is a substring searched in the normalized formatted data.
	Data string
	Mode Mode
	// Parent restricts the search to the direct children of a block.
	Parent Handle
}

// NewQuery returns a query for the given keyword names with no parent
// restriction.
func NewQuery(names ...string) Query {
	return Query{Names: names, Parent: NoHandle}
}

// Find returns matching blocks in document order. No match returns an
// ErrKeywordNotFound error that also satisfies errdefs.IsNotFound.
func (d *Deck) Find(q Query) ([]Handle, error) {
	var candidates []Handle
	if q.Parent != NoHandle {
		candidates = d.Children(q.Parent)
	} else {
		candidates = d.Handles()
	}
	names := make(map[string]struct{}, len(q.Names))
	for _, n := range q.Names {
		names[csmap.Normalize(n)] = struct{}{}
	}
	var out []Handle
	for _, h := range candidates {
		b := d.Block(h)
		if b == nil || b.Placeholder {
			continue
		}
		if d.matches(b, q, names) {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("*%s: %w: %w", strings.Join(q.Names, ","), ErrKeywordNotFound, errdefs.ErrNotFound)
	}
	return out, nil
}

func (d *Deck) matches(b *Block, q Query, names map[string]struct{}) bool {
	_, nameOK := names[b.Name]
	if len(names) == 0 {
		nameOK = true
	}
	for k, v := range q.Exclude {
		if got, ok := b.Params.Get(k); ok && (v == "" || csmap.Normalize(got.Text()) == csmap.Normalize(v)) {
			return false
		}
	}
	var hits, total int
	for k, v := range q.Params {
		total++
		if paramMatches(b, k, v) {
			hits++
		}
	}
	if q.Data != "" {
		total++
		if strings.Contains(csmap.Normalize(strings.Join(b.FormatData(d.Config.FormatOpts()), "\n")), csmap.Normalize(q.Data)) {
			hits++
		}
	}
	switch q.Mode {
	case ModeKeyAndOne:
		return nameOK && (total == 0 || hits > 0)
	case ModeKeyAndAny:
		return (len(q.Names) > 0 && nameOK) || hits > 0
	default:
		return nameOK && hits == total
	}
}

func paramMatches(b *Block, key, want string) bool {
	p, ok := b.Params.Get(key)
	if !ok {
		return false
	}
	if want == "" {
		return true
	}
	w := TextLine(want).Cells[0]
	if w.IsString() || p.Value.IsString() {
		return strings.Contains(csmap.Normalize(p.Text()), csmap.Normalize(want))
	}
	return w.Equal(p.Value)
}

// ByName returns every block of keyword name in document order.
func (d *Deck) ByName(name string) []Handle {
	hs, _ := d.Find(NewQuery(name))
	return hs
}

// Steps returns the *STEP blocks in document order.
func (d *Deck) Steps() []Handle {
	return d.ByName("step")
}

// ParentOf returns the nearest enclosing block of keyword name, or
// NoHandle. An empty name returns the direct parent.
func (d *Deck) ParentOf(h Handle, name string) Handle {
	if name == "" {
		if b := d.Block(h); b != nil {
			return b.Parent
		}
		return NoHandle
	}
	return d.Ancestor(h, name)
}

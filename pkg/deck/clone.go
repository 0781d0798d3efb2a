package deck

import (
	"slices"
)

// Clone returns a deep copy of the deck. Block handles keep their values,
// so handles taken from d address the same blocks in the copy.
func (d *Deck) Clone() *Deck {
	out := *d
	out.blocks = make([]*Block, len(d.blocks))
	for i, b := range d.blocks {
		if b != nil {
			out.blocks[i] = b.Clone()
		}
	}
	out.Roots = slices.Clone(d.Roots)
	out.Config.Extensions = slices.Clone(d.Config.Extensions)
	if d.File != nil {
		f := *d.File
		out.File = &f
	}
	out.Mesh = d.Mesh.Clone()
	out.Registry = d.Registry.Clone()
	out.Parameters = d.Parameters.Clone()
	out.Problems = slices.Clone(d.Problems)
	return &out
}

// Clone returns a deep copy of the registry.
func (r *Registry) Clone() *Registry {
	out := NewRegistry()
	for kind, m := range r.kinds {
		c := m.Clone()
		for name, hs := range m.All() {
			c.Set(name, slices.Clone(hs))
		}
		out.kinds[kind] = c
	}
	return out
}

// Replace swaps the contents of d with those of other. Mutations work on a
// clone and commit through Replace.
func (d *Deck) Replace(other *Deck) {
	*d = *other
}

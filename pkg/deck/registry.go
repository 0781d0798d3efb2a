package deck

import (
	"maps"
	"slices"

	"github.com/ndisidore/inpdeck/pkg/csmap"
)

// Registry maps an entity kind to the blocks defining each name.
type Registry struct {
	kinds map[string]*csmap.Map[[]Handle]
}

// NamedRef is one entity defined by a block.
type NamedRef struct {
	Kind string
	Name string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*csmap.Map[[]Handle])}
}

// Add records that block h defines name of kind.
func (r *Registry) Add(kind, name string, h Handle) {
	kind = csmap.Normalize(kind)
	m, ok := r.kinds[kind]
	if !ok {
		m = csmap.New[[]Handle]()
		r.kinds[kind] = m
	}
	hs, _ := m.Get(name)
	if !slices.Contains(hs, h) {
		m.Set(name, append(hs, h))
	}
}

// Lookup returns the blocks defining name of kind.
func (r *Registry) Lookup(kind, name string) []Handle {
	hs, _ := r.kinds[csmap.Normalize(kind)].Get(name)
	return hs
}

// Has reports whether name of kind is defined.
func (r *Registry) Has(kind, name string) bool {
	return len(r.Lookup(kind, name)) > 0
}

// Names returns the names of kind in first-definition order.
func (r *Registry) Names(kind string) []string {
	return r.kinds[csmap.Normalize(kind)].Keys()
}

// Kinds returns the registered kinds sorted.
func (r *Registry) Kinds() []string {
	return slices.Sorted(maps.Keys(r.kinds))
}

// Defines returns the named entities block h declares.
func (d *Deck) Defines(h Handle) []NamedRef {
	b := d.Block(h)
	if b == nil || b.Placeholder {
		return nil
	}
	def, ok := d.Config.Catalog.Keywords.Define(b.Name)
	if !ok {
		if name := b.ParamText("name"); name != "" {
			return []NamedRef{{Kind: b.Name, Name: name}}
		}
		return nil
	}
	if def.Param != "" {
		if name := b.ParamText(def.Param); name != "" {
			return []NamedRef{{Kind: def.Kind, Name: name}}
		}
		return nil
	}
	var out []NamedRef
	for _, l := range b.Data {
		if def.DataCell < len(l.Cells) && !l.Cells[def.DataCell].IsBlank() {
			out = append(out, NamedRef{Kind: def.Kind, Name: l.Cells[def.DataCell].Text()})
		}
	}
	return out
}

// RebuildRegistry recomputes the registry from every live block.
func (d *Deck) RebuildRegistry() {
	r := NewRegistry()
	d.Walk(func(h Handle, _ int) bool {
		for _, ref := range d.Defines(h) {
			r.Add(ref.Kind, ref.Name, h)
		}
		return true
	})
	d.Registry = r
}

// DefinedBy returns the distinct entities declared by blocks hs, with
// names normalized.
func (d *Deck) DefinedBy(hs []Handle) []NamedRef {
	return collectUnique(flatMap(hs, d.Defines), func(r NamedRef) NamedRef {
		return NamedRef{Kind: csmap.Normalize(r.Kind), Name: csmap.Normalize(r.Name)}
	})
}

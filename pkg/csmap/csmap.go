// Package csmap provides an insertion-ordered map whose keys compare after
// lowercasing and removing whitespace.
package csmap

import (
	"iter"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/ndisidore/inpdeck/pkg/scalar"
)

type entry[V any] struct {
	key string
	val V
}

// Map is an ordered case- and whitespace-insensitive map. The first key
// spelling inserted for a normalized key is kept on write-back. A nil *Map
// behaves as an empty map for reads.
type Map[V any] struct {
	m *linkedhashmap.Map
}

// New returns an empty Map.
func New[V any]() *Map[V] {
	return &Map[V]{m: linkedhashmap.New()}
}

// Normalize returns the comparison form of key.
func Normalize(key string) string {
	return scalar.NormalizeName(key)
}

// Set inserts or overwrites key. On collision the value is replaced and the
// stored spelling is kept.
func (c *Map[V]) Set(key string, val V) {
	if c.m == nil {
		c.m = linkedhashmap.New()
	}
	norm := Normalize(key)
	if prev, ok := c.m.Get(norm); ok {
		key = prev.(entry[V]).key
	}
	c.m.Put(norm, entry[V]{key: key, val: val})
}

// Get returns the value stored for key.
func (c *Map[V]) Get(key string) (V, bool) {
	e, ok := c.lookup(key)
	return e.val, ok
}

// Spelling returns the stored spelling for key.
func (c *Map[V]) Spelling(key string) (string, bool) {
	e, ok := c.lookup(key)
	return e.key, ok
}

func (c *Map[V]) lookup(key string) (entry[V], bool) {
	if c == nil || c.m == nil {
		return entry[V]{}, false
	}
	v, ok := c.m.Get(Normalize(key))
	if !ok {
		return entry[V]{}, false
	}
	return v.(entry[V]), true
}

// Has reports whether key is present.
func (c *Map[V]) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// Delete removes key. It reports whether the key was present.
func (c *Map[V]) Delete(key string) bool {
	if !c.Has(key) {
		return false
	}
	c.m.Remove(Normalize(key))
	return true
}

// Len returns the number of entries.
func (c *Map[V]) Len() int {
	if c == nil || c.m == nil {
		return 0
	}
	return c.m.Size()
}

// Keys returns the stored key spellings in insertion order.
func (c *Map[V]) Keys() []string {
	keys := make([]string, 0, c.Len())
	for k := range c.All() {
		keys = append(keys, k)
	}
	return keys
}

// All iterates over stored spellings and values in insertion order.
func (c *Map[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		if c == nil || c.m == nil {
			return
		}
		it := c.m.Iterator()
		for it.Next() {
			e := it.Value().(entry[V])
			if !yield(e.key, e.val) {
				return
			}
		}
	}
}

// Update copies every entry of other into c, following the Set rules.
func (c *Map[V]) Update(other *Map[V]) {
	for k, v := range other.All() {
		c.Set(k, v)
	}
}

// Clone returns a shallow copy preserving order and spellings.
func (c *Map[V]) Clone() *Map[V] {
	out := New[V]()
	out.Update(c)
	return out
}

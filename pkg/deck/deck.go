// Package deck is the in-memory model of an Abaqus input deck: an arena of
// keyword blocks addressed by handles, with typed paths, a named-entity
// registry and a mesh index.
package deck

import (
	"errors"
	"slices"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"

	"github.com/ndisidore/inpdeck/pkg/catalog"
	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/mesh"
	"github.com/ndisidore/inpdeck/pkg/scalar"
)

// Sentinel errors for deck lookups.
var (
	ErrKeywordNotFound = errors.New("keyword not found")
	ErrInvalidPath     = errors.New("invalid path")
	ErrInvalidHandle   = errors.New("invalid block handle")
)

// Handle addresses a block in a Deck arena. Handles stay valid until the
// block is removed.
type Handle int32

// NoHandle is the absent handle.
const NoHandle Handle = -1

// SourceFile describes one file read into the deck.
type SourceFile struct {
	// Name is the resolved path the file was read from.
	Name string
	// Ref is the file name as written in the referencing block.
	Ref string
	// Newline is "\n" or "\r\n".
	Newline string
	// Prologue is the text before the first keyword line.
	Prologue string
	// TrailingNewline records whether the file ended with a newline.
	TrailingNewline bool
	Digest          digest.Digest
	Encoding        string
}

// Deck is a parsed input deck. Blocks live in an arena; Roots lists the
// top-level blocks of the main file in document order.
type Deck struct {
	Config Config
	File   *SourceFile
	Roots  []Handle

	Mesh       *mesh.Index
	Registry   *Registry
	Parameters *csmap.Map[scalar.Scalar]
	// Problems collects recoverable errors met while parsing.
	Problems []error

	blocks []*Block
}

// New returns an empty deck using cfg.
func New(cfg Config) *Deck {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	return &Deck{
		Config:     cfg,
		File:       &SourceFile{Newline: "\n"},
		Mesh:       mesh.New(),
		Registry:   NewRegistry(),
		Parameters: csmap.New[scalar.Scalar](),
	}
}

// Add stores b in the arena without attaching it to the tree.
func (d *Deck) Add(b *Block) Handle {
	d.blocks = append(d.blocks, b)
	return Handle(len(d.blocks) - 1)
}

// Block returns the block for h, or nil when h is invalid or removed.
func (d *Deck) Block(h Handle) *Block {
	if h < 0 || int(h) >= len(d.blocks) {
		return nil
	}
	return d.blocks[h]
}

// MustBlock returns the block for h or an ErrInvalidHandle error.
func (d *Deck) MustBlock(h Handle) (*Block, error) {
	b := d.Block(h)
	if b == nil {
		return nil, errors.Join(ErrInvalidHandle, errdefs.ErrNotFound)
	}
	return b, nil
}

// Len returns the number of live blocks.
func (d *Deck) Len() int {
	n := 0
	for _, b := range d.blocks {
		if b != nil {
			n++
		}
	}
	return n
}

// Children returns the handles nested under parent, or the roots when
// parent is NoHandle.
func (d *Deck) Children(parent Handle) []Handle {
	if parent == NoHandle {
		return d.Roots
	}
	if b := d.Block(parent); b != nil {
		return b.Subs
	}
	return nil
}

func (d *Deck) setChildren(parent Handle, hs []Handle) {
	if parent == NoHandle {
		d.Roots = hs
		return
	}
	d.blocks[parent].Subs = hs
}

// Append attaches b as the last child of parent and returns its handle.
func (d *Deck) Append(parent Handle, b *Block) Handle {
	h := d.Add(b)
	b.Parent = parent
	d.setChildren(parent, append(d.Children(parent), h))
	return h
}

// Attach inserts an arena block into parent's children at index i.
func (d *Deck) Attach(parent Handle, i int, h Handle) error {
	b := d.Block(h)
	if b == nil {
		return errors.Join(ErrInvalidHandle, errdefs.ErrNotFound)
	}
	kids := d.Children(parent)
	if i < 0 || i > len(kids) {
		return errors.Join(ErrInvalidPath, errdefs.ErrInvalidArgument)
	}
	b.Parent = parent
	d.setChildren(parent, slices.Insert(slices.Clone(kids), i, h))
	return nil
}

// Detach unlinks h from its parent without removing it from the arena.
func (d *Deck) Detach(h Handle) {
	b := d.Block(h)
	if b == nil {
		return
	}
	kids := d.Children(b.Parent)
	if i := slices.Index(kids, h); i >= 0 {
		d.setChildren(b.Parent, slices.Delete(slices.Clone(kids), i, i+1))
	}
}

// Remove detaches h and clears it and its descendants from the arena.
// It returns the removed handles.
func (d *Deck) Remove(h Handle) []Handle {
	if d.Block(h) == nil {
		return nil
	}
	d.Detach(h)
	var removed []Handle
	d.walk(h, 0, func(x Handle, _ int) bool {
		removed = append(removed, x)
		return true
	})
	for _, x := range removed {
		d.blocks[x] = nil
	}
	return removed
}

// Walk visits every block depth-first in document order. Returning false
// from fn skips the block's descendants.
func (d *Deck) Walk(fn func(h Handle, depth int) bool) {
	for _, h := range d.Roots {
		d.walk(h, 0, fn)
	}
}

func (d *Deck) walk(h Handle, depth int, fn func(Handle, int) bool) {
	b := d.Block(h)
	if b == nil {
		return
	}
	if !fn(h, depth) {
		return
	}
	for _, s := range b.Subs {
		d.walk(s, depth+1, fn)
	}
}

// Handles returns every live block in document order.
func (d *Deck) Handles() []Handle {
	out := make([]Handle, 0, len(d.blocks))
	d.Walk(func(h Handle, _ int) bool {
		out = append(out, h)
		return true
	})
	return out
}

// Reindex regenerates paths and parent links by walking the tree, then
// rebuilds the registry.
func (d *Deck) Reindex() {
	var visit func(parent Handle, base Path, kids []Handle)
	visit = func(parent Handle, base Path, kids []Handle) {
		for i, h := range kids {
			b := d.Block(h)
			if b == nil {
				continue
			}
			seg := PathSeg{Kind: SegSub, Index: i}
			if parent == NoHandle {
				seg.Kind = SegKeyword
			}
			b.Parent = parent
			b.Path = append(slices.Clone(base), seg)
			visit(h, b.Path, b.Subs)
		}
	}
	d.Roots = slices.DeleteFunc(d.Roots, func(h Handle) bool { return d.Block(h) == nil })
	visit(NoHandle, nil, d.Roots)
	d.RebuildRegistry()
}

// Ancestor returns the nearest enclosing block of keyword name, or
// NoHandle.
func (d *Deck) Ancestor(h Handle, name string) Handle {
	norm := csmap.Normalize(name)
	b := d.Block(h)
	for b != nil && b.Parent != NoHandle {
		h = b.Parent
		b = d.Block(h)
		if b != nil && b.Name == norm {
			return h
		}
	}
	return NoHandle
}

// SourceOf returns the file a block is written to: the nearest enclosing
// block that hosts a child deck, or the main file.
func (d *Deck) SourceOf(h Handle) *SourceFile {
	b := d.Block(h)
	for b != nil && b.Parent != NoHandle {
		p := d.Block(b.Parent)
		if p != nil && p.File != nil && (p.Placeholder || d.hostsDeck(p)) {
			return p.File
		}
		b = p
	}
	return d.File
}

func (d *Deck) hostsDeck(b *Block) bool {
	return d.Config.Catalog.Keywords.In(catalog.GroupEndOfFile, b.Name)
}

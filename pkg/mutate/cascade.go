package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/ndisidore/inpdeck/pkg/catalog"
	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/refs"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// DefaultLimit caps the rounds of a cascading deletion.
const DefaultLimit = 100

// Options tunes DeleteReferences.
type Options struct {
	// Limit caps the deletion rounds. Zero means DefaultLimit.
	Limit int
	// DeleteModifiedCouplings deletes couplings whose set or surface lost
	// any data, not only those left with fewer than two records.
	DeleteModifiedCouplings bool
	// DeleteFreedNodes deletes nodes left without elements when the
	// elements were deleted as part of a node deletion. Element deletions
	// requested directly always delete the nodes they free.
	DeleteFreedNodes bool
	// Resolver finds references to cascaded names. Nil uses the embedded
	// rules without dangling-name warnings.
	Resolver *refs.Resolver
}

// Result summarizes a deletion.
type Result struct {
	// Rounds is the number of deletion rounds run.
	Rounds int
	// Blocks lists the keyword lines of the deleted blocks.
	Blocks   []string
	Nodes    []int64
	Elements []int64
	// Cells counts data cells and records removed.
	Cells int
	// Destroyed lists the named entities whose last definition was deleted.
	Destroyed []deck.NamedRef
	// Warnings holds non-fatal conditions, such as ErrIterationCap.
	Warnings []error
}

// DeleteNames resolves names of kind and deletes every reference to them.
func DeleteNames(ctx context.Context, d *deck.Deck, kind string, names []string, opts Options) (*Result, error) {
	return DeleteReferences(ctx, d, refs.FindReferences(ctx, d, kind, names), opts)
}

// DeleteReferences removes the references in res and cascades: node
// deletions delete their elements, emptied records and blocks are removed,
// and names whose defining blocks disappear have their own references
// deleted in a following round.
func DeleteReferences(ctx context.Context, d *deck.Deck, res *refs.Result, opts Options) (*Result, error) {
	if res == nil {
		return nil, invalid(ErrNoReferences)
	}
	var out *Result
	err := commit(ctx, d, func(c *deck.Deck) error {
		var err error
		out, err = cascadeOn(ctx, c, res, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete references to %s: %w", res.Kind, err)
	}
	return out, nil
}

func cascadeOn(ctx context.Context, d *deck.Deck, res *refs.Result, opts Options) (*Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Resolver == nil {
		opts.Resolver = &refs.Resolver{Rules: refs.DefaultRules()}
	}
	c := newCascade(d, opts)
	if err := c.run(ctx, res); err != nil {
		return nil, err
	}
	return c.out, nil
}

func comparePaths(a, b any) int {
	return deck.Compare(a.(deck.Path), b.(deck.Path))
}

// cascade holds the work sets of one deletion. data and blocks are keyed
// by path so they drain in reverse document order.
type cascade struct {
	d    *deck.Deck
	kw   *catalog.Keywords
	opts Options
	out  *Result

	data     *redblacktree.Tree
	blocks   *redblacktree.Tree
	modified map[deck.Handle]struct{}
}

func newCascade(d *deck.Deck, opts Options) *cascade {
	return &cascade{
		d:        d,
		kw:       d.Config.Catalog.Keywords,
		opts:     opts,
		out:      &Result{},
		data:     redblacktree.NewWith(comparePaths),
		blocks:   redblacktree.NewWith(comparePaths),
		modified: make(map[deck.Handle]struct{}),
	}
}

func (c *cascade) run(ctx context.Context, seed *refs.Result) error {
	log := slogctx.FromContext(ctx)
	batch := []*refs.Result{seed}
	for round := 0; len(batch) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if round == c.opts.Limit {
			err := fmt.Errorf("stopped after %d rounds: %w", round, ErrIterationCap)
			log.LogAttrs(ctx, slog.LevelWarn, "cascading deletion stopped early",
				slog.Int("rounds", round),
				slog.String("error", err.Error()),
			)
			c.out.Warnings = append(c.out.Warnings, err)
			break
		}
		for _, res := range batch {
			c.schedule(ctx, res, round == 0)
		}
		c.applyData()
		c.sweep(ctx)
		destroyed := c.applyBlocks(ctx)
		refresh(ctx, c.d)
		c.out.Rounds = round + 1
		batch = c.follow(ctx, destroyed)
	}
	return nil
}

// schedule queues the deletions for one resolver result. top marks the
// caller's own request, as opposed to cascaded lookups.
func (c *cascade) schedule(ctx context.Context, res *refs.Result, top bool) {
	switch res.Kind {
	case "node":
		c.nodes(ctx, res.Names())
	case "element":
		c.elements(ctx, res.Names(), top)
	}
	for _, r := range res.Refs() {
		c.target(ctx, r)
	}
}

func (c *cascade) nodes(ctx context.Context, names []string) {
	var elems []string
	for _, name := range names {
		label, ok := parseLabel(name)
		if !ok {
			continue
		}
		n, ok := c.d.Mesh.Node(label)
		if !ok {
			continue
		}
		c.definition(deck.Handle(n.Owner), label)
		for _, e := range c.d.Mesh.ElementsOf(label) {
			elems = append(elems, strconv.FormatInt(e, 10))
		}
		c.d.Mesh.DeleteNode(label)
		c.out.Nodes = append(c.out.Nodes, label)
	}
	slices.Sort(elems)
	if elems = slices.Compact(elems); len(elems) > 0 {
		res := c.opts.Resolver.Find(ctx, c.d, "element", elems)
		c.elements(ctx, res.Names(), false)
		for _, r := range res.Refs() {
			c.target(ctx, r)
		}
	}
}

func (c *cascade) elements(ctx context.Context, names []string, top bool) {
	var freed []int64
	for _, name := range names {
		label, ok := parseLabel(name)
		if !ok {
			continue
		}
		e, ok := c.d.Mesh.DeleteElement(label)
		if !ok {
			continue
		}
		c.definition(deck.Handle(e.Owner), label)
		freed = append(freed, e.Nodes...)
		c.out.Elements = append(c.out.Elements, label)
	}
	if !top && !c.opts.DeleteFreedNodes {
		return
	}
	var orphans []string
	for _, n := range c.d.Mesh.Orphans(freed) {
		if _, ok := c.d.Mesh.Node(n); ok {
			orphans = append(orphans, strconv.FormatInt(n, 10))
		}
	}
	if len(orphans) == 0 {
		return
	}
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "deleting nodes freed by element deletion",
		slog.Int("count", len(orphans)),
	)
	res := c.opts.Resolver.Find(ctx, c.d, "node", orphans)
	c.nodes(ctx, res.Names())
	for _, r := range res.Refs() {
		c.target(ctx, r)
	}
}

// definition queues the *NODE or *ELEMENT record defining label.
func (c *cascade) definition(h deck.Handle, label int64) {
	b := c.d.Block(h)
	if li := c.d.LineOfLabel(h, label); b != nil && li >= 0 {
		c.data.Put(b.Path.Child(deck.SegData, li), h)
	}
}

func (c *cascade) target(ctx context.Context, r refs.Ref) {
	b := c.d.Block(r.Block)
	if b == nil {
		return
	}
	switch r.Region {
	case refs.RegionBlock:
		c.blocks.Put(b.Path, r.Block)
	case refs.RegionGenerate:
		c.generated(ctx, r, b)
	case refs.RegionAllData:
		for li := range b.Data {
			c.data.Put(b.Path.Child(deck.SegData, li), r.Block)
		}
	case refs.RegionSubLine:
		c.data.Put(r.Path, r.Block)
	default:
		for _, p := range r.Affected {
			c.data.Put(p, r.Block)
		}
	}
}

// generated expands a GENERATE set so the label becomes a cell of its own,
// then queues that cell.
func (c *cascade) generated(ctx context.Context, r refs.Ref, b *deck.Block) {
	label, ok := parseLabel(r.Name)
	if !ok {
		return
	}
	if b.HasParam("generate") {
		if err := expandGenerate(c.d, b); err != nil {
			slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "skipping GENERATE reference",
				slog.String("path", r.Path.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		c.modified[r.Block] = struct{}{}
	}
	for li, l := range b.Data {
		for ci, cell := range l.Cells {
			if n, err := c.d.LabelOf(cell); err == nil && n == label {
				c.data.Put(b.Path.Child(deck.SegData, li).Child(deck.SegCell, ci), r.Block)
			}
		}
	}
}

// applyData deletes the queued cells in reverse document order, then the
// queued and emptied records of each block from the last one up.
func (c *cascade) applyData() {
	lines := make(map[deck.Handle]map[int]struct{})
	it := c.data.Iterator()
	for it.End(); it.Prev(); {
		p := it.Key().(deck.Path)
		h := it.Value().(deck.Handle)
		b := c.d.Block(h)
		li, ci := p.Line(), p.Cell()
		if b == nil || li < 0 || li >= len(b.Data) {
			continue
		}
		if lines[h] == nil {
			lines[h] = make(map[int]struct{})
		}
		c.modified[h] = struct{}{}
		if ci < 0 {
			lines[h][li] = struct{}{}
			continue
		}
		l := &b.Data[li]
		if ci >= len(l.Cells) {
			continue
		}
		l.DeleteCells(ci, ci+1)
		c.out.Cells++
		if l.IsBlank() {
			lines[h][li] = struct{}{}
		}
	}
	c.data.Clear()
	for h, set := range lines {
		b := c.d.Block(h)
		idx := make([]int, 0, len(set))
		for li := range set {
			idx = append(idx, li)
		}
		slices.Sort(idx)
		for _, li := range slices.Backward(idx) {
			b.DeleteLine(li)
			c.out.Cells++
		}
	}
}

// sweep queues modified blocks that lost all their data, and couplings
// whose application region was emptied.
func (c *cascade) sweep(ctx context.Context) {
	hs := make([]deck.Handle, 0, len(c.modified))
	for h := range c.modified {
		if c.d.Block(h) != nil {
			hs = append(hs, h)
		}
	}
	clear(c.modified)
	c.d.SortHandles(hs)
	for _, h := range hs {
		b := c.d.Block(h)
		c.couplings(ctx, b)
		switch {
		case len(b.Data) == 0 && !c.kw.In(catalog.GroupEmptyDataAllowed, b.Name):
			c.blocks.Put(b.Path, h)
		case b.Is("distribution") && len(b.Data) == 1:
			// Only the default record is left.
			c.blocks.Put(b.Path, h)
		}
	}
}

// couplings queues the coupling constraints applied to set or surface b.
func (c *cascade) couplings(ctx context.Context, b *deck.Block) {
	if !c.opts.DeleteModifiedCouplings && len(b.Data) >= 2 {
		return
	}
	var (
		keyword string
		match   func(*deck.Block) bool
	)
	switch {
	case b.Is("nset"):
		name := b.ParamKey("nset")
		keyword = "kinematic coupling"
		match = func(k *deck.Block) bool {
			return len(k.Data) > 0 && len(k.Data[0].Cells) > 0 && csmap.Normalize(k.Data[0].Cells[0].Text()) == name
		}
	case b.Is("elset"):
		name := b.ParamKey("elset")
		keyword = "distributing coupling"
		match = func(k *deck.Block) bool { return k.ParamKey("elset") == name }
	case b.Is("surface"):
		name := b.ParamKey("name")
		keyword = "coupling"
		match = func(k *deck.Block) bool { return k.ParamKey("surface") == name }
	default:
		return
	}
	for _, h := range c.d.ByName(keyword) {
		if k := c.d.Block(h); match(k) {
			slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelInfo, "deleting coupling on emptied region",
				slog.String("keyword", strings.TrimSpace(k.FormatHeader(c.d.Config.FormatOpts()))),
				slog.String("region", b.Path.String()),
			)
			c.blocks.Put(k.Path, h)
		}
	}
}

// applyBlocks removes the queued blocks in reverse document order and
// returns the entities they defined.
func (c *cascade) applyBlocks(ctx context.Context) []deck.NamedRef {
	log := slogctx.FromContext(ctx)
	var destroyed []deck.NamedRef
	it := c.blocks.Iterator()
	for it.End(); it.Prev(); {
		h := it.Value().(deck.Handle)
		b := c.d.Block(h)
		if b == nil {
			continue
		}
		if parent, ok := c.kw.DeleteParent(b.Name); ok {
			if a := c.d.Ancestor(h, parent); a != deck.NoHandle {
				log.LogAttrs(ctx, slog.LevelInfo, "deleting enclosing block",
					slog.String("keyword", b.NameRaw),
					slog.String("parent", c.d.Block(a).NameRaw),
				)
				h, b = a, c.d.Block(a)
			}
		}
		destroyed = append(destroyed, c.defines(h)...)
		c.out.Blocks = append(c.out.Blocks, strings.TrimSpace(b.FormatHeader(c.d.Config.FormatOpts())))
		log.LogAttrs(ctx, slog.LevelDebug, "deleting block", slog.String("path", b.Path.String()))
		c.d.Remove(h)
	}
	c.blocks.Clear()
	return destroyed
}

// defines returns the entities declared by h and its sub-blocks.
func (c *cascade) defines(h deck.Handle) []deck.NamedRef {
	out := c.d.Defines(h)
	if b := c.d.Block(h); b != nil {
		for _, s := range b.Subs {
			out = append(out, c.defines(s)...)
		}
	}
	return out
}

// follow resolves the destroyed names that no remaining block defines.
func (c *cascade) follow(ctx context.Context, destroyed []deck.NamedRef) []*refs.Result {
	byKind := csmap.New[[]string]()
	for _, ref := range destroyed {
		if ref.Name == "" || c.d.Registry.Has(ref.Kind, ref.Name) {
			continue
		}
		names, _ := byKind.Get(ref.Kind)
		if slices.ContainsFunc(names, func(n string) bool { return csmap.Normalize(n) == csmap.Normalize(ref.Name) }) {
			continue
		}
		byKind.Set(ref.Kind, append(names, ref.Name))
		c.out.Destroyed = append(c.out.Destroyed, ref)
	}
	var batch []*refs.Result
	for kind, names := range byKind.All() {
		res := c.opts.Resolver.Find(ctx, c.d, kind, names)
		if res.Len() > 0 {
			slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelInfo, "deleting references to removed definitions",
				slog.String("kind", kind),
				slog.String("names", strings.Join(names, ",")),
			)
			batch = append(batch, res)
		}
	}
	return batch
}

func parseLabel(name string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(name), 10, 64)
	return n, err == nil
}

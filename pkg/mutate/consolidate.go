package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ndisidore/inpdeck/pkg/catalog"
	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/scalar"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// StepRange selects steps by position, Start inclusive and Stop
// exclusive. Stop -1 runs to the last step.
type StepRange struct {
	Start, Stop int
}

// AllSteps selects every step.
var AllSteps = StepRange{Start: 0, Stop: -1}

func (r StepRange) pick(steps []deck.Handle) ([]deck.Handle, error) {
	stop := r.Stop
	if stop < 0 {
		stop = len(steps)
	}
	if r.Start < 0 || r.Start > stop || stop > len(steps) {
		return nil, fmt.Errorf("steps [%d:%d] of %d: %w", r.Start, r.Stop, len(steps), invalid(deck.ErrInvalidPath))
	}
	return steps[r.Start:stop], nil
}

// merge modes for runs of identical OP keyword blocks.
type opMode uint8

const (
	opNone opMode = iota
	// opAppend concatenates the records.
	opAppend
	// opDofRange coalesces region, first dof, last dof, magnitude records.
	opDofRange
	// opRepack flattens the items and repacks them a fixed number per record.
	opRepack
)

// ConsolidateOPKeywords merges, within each selected step, consecutive
// sub-blocks of a consolidation keyword whose keyword lines are identical.
// Appendable keywords concatenate their records and merge sub-blocks with
// identical keyword lines; degree-of-freedom keywords coalesce contiguous
// ranges per region and magnitude; repack keywords flatten their items.
// *BOUNDARY records of at most two items append, longer ones coalesce.
// It returns the number of blocks merged away.
func ConsolidateOPKeywords(ctx context.Context, d *deck.Deck, r StepRange) (int, error) {
	merged := 0
	err := commit(ctx, d, func(c *deck.Deck) error {
		steps, err := r.pick(c.Steps())
		if err != nil {
			return err
		}
		o := &consolidator{d: c, kw: c.Config.Catalog.Keywords}
		for _, step := range steps {
			merged += o.step(ctx, step)
		}
		refresh(ctx, c)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("consolidate OP keywords: %w", err)
	}
	return merged, nil
}

type consolidator struct {
	d  *deck.Deck
	kw *catalog.Keywords
}

func (o *consolidator) header(b *deck.Block) string {
	return csmap.Normalize(b.FormatHeader(o.d.Config.FormatOpts()))
}

func (o *consolidator) step(ctx context.Context, step deck.Handle) int {
	kids := slices.Clone(o.d.Children(step))
	merged := 0
	for i := 0; i < len(kids); {
		first := o.d.Block(kids[i])
		j := i + 1
		if isOPKeyword(o.kw, first) {
			key := o.header(first)
			for j < len(kids) && o.header(o.d.Block(kids[j])) == key {
				j++
			}
		}
		if j-i > 1 {
			if mode, n := o.mode(kids[i:j]); mode != opNone {
				o.merge(kids[i:j], mode, n)
				merged += j - i - 1
				slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "consolidated keyword blocks",
					slog.String("keyword", first.NameRaw),
					slog.String("path", first.Path.String()),
					slog.Int("blocks", j-i),
				)
			}
		}
		i = j
	}
	return merged
}

func (o *consolidator) mode(run []deck.Handle) (opMode, int) {
	b := o.d.Block(run[0])
	if n, ok := repackLimit(o.kw, b); ok {
		return opRepack, n
	}
	switch {
	case o.kw.In(catalog.GroupOPAppend, b.Name):
		return opAppend, 0
	case o.kw.In(catalog.GroupOPDofRange, b.Name):
		return opDofRange, 0
	case b.Is("boundary"):
		widest := 0
		for _, h := range run {
			for _, l := range o.d.Block(h).Data {
				widest = max(widest, l.Len())
			}
		}
		if widest <= 2 {
			return opAppend, 0
		}
		return opDofRange, 0
	default:
		return opNone, 0
	}
}

// merge folds run into its first block and removes the others.
func (o *consolidator) merge(run []deck.Handle, mode opMode, n int) {
	first := o.d.Block(run[0])
	rest := make([]*deck.Block, 0, len(run)-1)
	for _, h := range run[1:] {
		rest = append(rest, o.d.Block(h))
	}
	switch mode {
	case opAppend:
		for _, b := range rest {
			appendData(first, b)
		}
		o.mergeSubs(run)
	case opDofRange:
		var lines []deck.Line
		var comments []deck.Comment
		for _, b := range append([]*deck.Block{first}, rest...) {
			lines = append(lines, b.Data...)
			comments = append(comments, b.Comments...)
		}
		first.Data = coalesceDofs(o.d, lines)
		first.Comments = trailing(comments, len(first.Data))
	case opRepack:
		var cells []scalar.Scalar
		var comments []deck.Comment
		for _, b := range append([]*deck.Block{first}, rest...) {
			for _, l := range b.Data {
				cells = append(cells, l.Cells...)
			}
			comments = append(comments, b.Comments...)
		}
		first.Data = pack(cells, n)
		first.Comments = trailing(comments, len(first.Data))
	}
	for _, h := range run[1:] {
		o.d.Remove(h)
	}
}

// appendData appends b's records and comments to dst, keeping comment
// positions relative to the records they followed.
func appendData(dst, b *deck.Block) {
	offset := len(dst.Data) + len(dst.Comments)
	for _, cm := range b.Comments {
		cm.Index += offset
		dst.Comments = append(dst.Comments, cm)
	}
	dst.Data = append(dst.Data, b.Data...)
}

// trailing moves comments after the last of n records.
func trailing(comments []deck.Comment, n int) []deck.Comment {
	out := make([]deck.Comment, len(comments))
	for i, cm := range comments {
		cm.Index = n + i
		out[i] = cm
	}
	return out
}

// mergeSubs folds the sub-blocks of run into the first block: sub-blocks
// with the same keyword line pool their items, others move over.
func (o *consolidator) mergeSubs(run []deck.Handle) {
	first := o.d.Block(run[0])
	for _, h := range run[1:] {
		for _, s := range slices.Clone(o.d.Block(h).Subs) {
			sb := o.d.Block(s)
			key := o.header(sb)
			idx := slices.IndexFunc(first.Subs, func(x deck.Handle) bool { return o.header(o.d.Block(x)) == key })
			if idx < 0 {
				o.d.Detach(s)
				_ = o.d.Attach(run[0], len(first.Subs), s)
				continue
			}
			dst := o.d.Block(first.Subs[idx])
			var cells []scalar.Scalar
			for _, l := range append(slices.Clone(dst.Data), sb.Data...) {
				cells = append(cells, l.Cells...)
			}
			dst.Data = pack(cells, LabelsPerLine)
			dst.Comments = trailing(append(dst.Comments, sb.Comments...), len(dst.Data))
		}
	}
}

// repackLimit matches b against the repack keys: a keyword name,
// optionally followed by ", param=value".
func repackLimit(kw *catalog.Keywords, b *deck.Block) (int, bool) {
	for _, key := range kw.OPMergeKeys() {
		name, crit, _ := strings.Cut(key, ",")
		if csmap.Normalize(name) != b.Name {
			continue
		}
		if crit != "" {
			k, v, _ := strings.Cut(crit, "=")
			if b.ParamKey(k) != csmap.Normalize(v) {
				continue
			}
		}
		n, _ := kw.OPMerge(key)
		return n, n > 0
	}
	return 0, false
}

func isOPKeyword(kw *catalog.Keywords, b *deck.Block) bool {
	if b == nil {
		return false
	}
	if kw.In(catalog.GroupOP, b.Name) || kw.In(catalog.GroupOPAppend, b.Name) || kw.In(catalog.GroupOPDofRange, b.Name) {
		return true
	}
	for _, key := range kw.OPMergeKeys() {
		name, _, _ := strings.Cut(key, ",")
		if csmap.Normalize(name) == b.Name {
			return true
		}
	}
	return false
}

// dofGroup collects the degrees of freedom constrained on one region with
// one magnitude.
type dofGroup struct {
	dofs  []int64
	first map[int64]deck.Line
	last  map[int64]deck.Line
}

// coalesceDofs merges region, first, last[, magnitude] records whose
// ranges touch. Other records come first, unchanged. Each merged record
// keeps the spelling of the records its bounds came from.
func coalesceDofs(d *deck.Deck, lines []deck.Line) []deck.Line {
	var (
		other  []deck.Line
		order  []string
		groups = make(map[string]*dofGroup)
	)
	for _, l := range lines {
		lo, hi, ok := dofRange(d, l)
		if !ok {
			other = append(other, l)
			continue
		}
		key := d.Substitute(l.Cells[0]).Key()
		if len(l.Cells) == 4 {
			key += "\x00" + d.Substitute(l.Cells[3]).Key()
		}
		g, ok := groups[key]
		if !ok {
			g = &dofGroup{first: make(map[int64]deck.Line), last: make(map[int64]deck.Line)}
			groups[key] = g
			order = append(order, key)
		}
		for v := lo; v <= hi; v++ {
			g.dofs = append(g.dofs, v)
		}
		if _, seen := g.first[lo]; !seen {
			g.first[lo] = l
		}
		if _, seen := g.last[hi]; !seen {
			g.last[hi] = l
		}
	}
	out := other
	for _, key := range order {
		g := groups[key]
		for _, r := range runs(g.dofs) {
			l := g.first[r[0]].Clone()
			l.Breaks = nil
			l.Cells[2] = g.last[r[1]].Cells[2]
			out = append(out, l)
		}
	}
	return out
}

func dofRange(d *deck.Deck, l deck.Line) (int64, int64, bool) {
	if n := l.Len(); n != 3 && n != 4 {
		return 0, 0, false
	}
	lo, err := d.LabelOf(l.Cells[1])
	if err != nil {
		return 0, 0, false
	}
	hi, err := d.LabelOf(l.Cells[2])
	if err != nil || hi < lo {
		return 0, 0, false
	}
	return lo, hi, true
}

// runs returns the maximal [lo, hi] runs of consecutive values.
func runs(vals []int64) [][2]int64 {
	vals = slices.Clone(vals)
	slices.Sort(vals)
	vals = slices.Compact(vals)
	var out [][2]int64
	for _, v := range vals {
		if n := len(out); n > 0 && out[n-1][1]+1 == v {
			out[n-1][1] = v
			continue
		}
		out = append(out, [2]int64{v, v})
	}
	return out
}

// ConvertOptions selects the steps ConvertOPNewToMod rewrites.
type ConvertOptions struct {
	Steps StepRange
	// Base is the position of the step every selected step is compared
	// with. -1 compares each step with its own base step.
	Base int
}

// ConvertOPNewToMod removes, from each selected step, the OP keyword
// blocks identical to a block of its base step, and rewrites the rest to
// OP=MOD (OP=REPLACE for *OUTPUT). Features active in the base step but
// absent from a later step are not deactivated. It returns the number of
// blocks removed.
func ConvertOPNewToMod(ctx context.Context, d *deck.Deck, opts ConvertOptions) (int, error) {
	removed := 0
	err := commit(ctx, d, func(c *deck.Deck) error {
		all := c.Steps()
		steps, err := opts.Steps.pick(all)
		if err != nil {
			return err
		}
		base := deck.NoHandle
		if opts.Base >= 0 {
			if opts.Base >= len(all) {
				return fmt.Errorf("base step %d of %d: %w", opts.Base, len(all), invalid(deck.ErrInvalidPath))
			}
			base = all[opts.Base]
		}
		kw := c.Config.Catalog.Keywords
		opBlocks := func(step deck.Handle) []deck.Handle {
			var out []deck.Handle
			for _, h := range c.Children(step) {
				if isOPKeyword(kw, c.Block(h)) {
					out = append(out, h)
				}
			}
			return out
		}
		texts := make(map[deck.Handle]string)
		for _, s := range all {
			for _, h := range opBlocks(s) {
				texts[h] = render(c, h)
			}
		}

		var drop, keep []deck.Handle
		for _, s := range steps {
			b := base
			if b == deck.NoHandle {
				b = c.Block(s).BaseStep
			}
			inBase := make(map[string]struct{})
			if b != deck.NoHandle && b != s {
				for _, h := range opBlocks(b) {
					inBase[texts[h]] = struct{}{}
				}
			}
			for _, h := range opBlocks(s) {
				if _, dup := inBase[texts[h]]; dup {
					drop = append(drop, h)
				} else {
					keep = append(keep, h)
				}
			}
		}
		for _, h := range keep {
			b := c.Block(h)
			if b.Is("output") {
				b.SetParam("OP", "REPLACE")
			} else {
				b.SetParam("OP", "MOD")
			}
		}
		for _, h := range drop {
			c.Remove(h)
		}
		removed = len(drop)
		refresh(ctx, c)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("convert OP=NEW to OP=MOD: %w", err)
	}
	return removed, nil
}

// render formats h and its sub-blocks for comparison.
func render(d *deck.Deck, h deck.Handle) string {
	b := d.Block(h)
	var sb strings.Builder
	_, _ = sb.WriteString(strings.TrimSpace(b.Format(d.Config.FormatOpts())))
	for _, s := range b.Subs {
		_ = sb.WriteByte('\n')
		_, _ = sb.WriteString(render(d, s))
	}
	return sb.String()
}

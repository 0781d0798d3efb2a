package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ndisidore/inpdeck/pkg/catalog"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/scalar"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// blockData parses the pending data lines of b into records and comments.
func (r *run) blockData(ctx context.Context, b *deck.Block) error {
	lines := b.Pending
	b.Pending = nil
	switch {
	case r.kw.In(catalog.GroupVerbatim, b.Name):
		for _, l := range lines {
			b.Data = append(b.Data, deck.NewLine(scalar.FromString(l)))
		}
		return nil
	case b.Is("parameter"):
		for _, l := range lines {
			if t := strings.TrimSpace(l); t == "" || strings.HasPrefix(t, "#") || isComment(l) {
				addComment(b, l)
				continue
			}
			b.Data = append(b.Data, deck.NewLine(scalar.FromString(l)))
		}
		return nil
	case b.Is("element"):
		return r.elementData(ctx, b, lines)
	case b.Is("node"):
		r.generalData(ctx, b, lines, scalar.HintUnknown, true)
		return nil
	default:
		r.generalData(ctx, b, lines, scalar.HintUnknown, false)
		return nil
	}
}

// addComment records a comment line at the current interleaved position.
func addComment(b *deck.Block, text string) {
	b.Comments = append(b.Comments, deck.Comment{Index: len(b.Data) + len(b.Comments), Text: text})
}

// generalData splits each line on commas. Blank lines are kept as records
// with one blank cell unless blankIsComment is set.
func (r *run) generalData(ctx context.Context, b *deck.Block, lines []string, hint scalar.Hint, blankIsComment bool) {
	for _, l := range lines {
		if isComment(l) || (blankIsComment && strings.TrimSpace(l) == "") {
			addComment(b, l)
			continue
		}
		b.Data = append(b.Data, deck.Line{Cells: r.cells(ctx, b, strings.Split(l, ","), hint)})
	}
}

func (r *run) cells(ctx context.Context, b *deck.Block, items []string, hint scalar.Hint) []scalar.Scalar {
	out := make([]scalar.Scalar, len(items))
	for i, it := range items {
		s, err := scalar.Parse(it, hint)
		if err != nil {
			slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "keeping value as text",
				slog.String("block", where(b)),
				slog.String("value", strings.TrimSpace(it)),
				slog.String("error", err.Error()),
			)
		}
		out[i] = s.WithPreserve(r.cfg.PreserveSpacing)
	}
	return out
}

// elementData parses element records. A record continues onto the next
// line while it lacks nodes (fixed-node types) or while its line ends in a
// comma (variable-node types).
func (r *run) elementData(ctx context.Context, b *deck.Block, lines []string) error {
	typ := strings.TrimSpace(b.ParamText("type"))
	if typ == "" {
		r.generalData(ctx, b, lines, scalar.HintInt, true)
		return ErrMissingType
	}
	cat := r.cfg.Catalog
	et, ok := cat.Element(typ)
	if !ok {
		var err error
		if et, err = cat.Guess(ctx, typ, guessNodes(lines)); err != nil {
			r.generalData(ctx, b, lines, scalar.HintInt, true)
			return err
		}
	}

	var (
		errs     []error
		cur      *deck.Line
		prevTail string
		pending  []string
	)
	flush := func() {
		if err := checkElement(typ, et, *cur); err != nil {
			errs = append(errs, err)
		}
		b.Data = append(b.Data, *cur)
		cur = nil
	}
	for _, l := range lines {
		if isComment(l) || strings.TrimSpace(l) == "" {
			if cur != nil {
				pending = append(pending, l)
			} else {
				addComment(b, l)
			}
			continue
		}
		items := strings.Split(l, ",")
		var last string
		trailing := len(items) > 1 && strings.TrimSpace(items[len(items)-1]) == ""
		tail := ""
		if trailing {
			last = items[len(items)-1]
			tail = "," + last
			items = items[:len(items)-1]
		}
		if cur == nil {
			cur = &deck.Line{}
		} else {
			cur.Breaks = append(cur.Breaks, deck.Break{At: len(cur.Cells), Tail: prevTail, Comments: pending})
			pending = nil
		}
		cur.Cells = append(cur.Cells, r.cells(ctx, b, items, scalar.HintInt)...)
		prevTail = tail

		done := !trailing
		if !et.Variable() {
			done = len(cur.Cells) >= et.Nodes+1
		}
		if done {
			if trailing {
				cur.Cells = append(cur.Cells, r.cells(ctx, b, []string{last}, scalar.HintInt)...)
			}
			flush()
		}
	}
	if cur != nil {
		if prevTail != "" {
			cur.Cells = append(cur.Cells, r.cells(ctx, b, []string{prevTail[1:]}, scalar.HintInt)...)
		}
		label := ""
		if len(cur.Cells) > 0 {
			label = cur.Cells[0].Text()
		}
		b.Data = append(b.Data, *cur)
		for _, c := range pending {
			addComment(b, c)
		}
		errs = append(errs, fmt.Errorf("element %s: record ends before its last node: %w", label, ErrElementNodeCount))
	}
	return errors.Join(errs...)
}

// checkElement compares the node count of a record with its type.
func checkElement(typ string, et catalog.ElementType, l deck.Line) error {
	n := 0
	for _, c := range l.Cells {
		if !c.IsBlank() {
			n++
		}
	}
	n-- // label
	if et.Accepts(n) {
		return nil
	}
	allowed := et.Allowed
	if !et.Variable() {
		allowed = []int{et.Nodes}
	}
	label := ""
	if len(l.Cells) > 0 {
		label = l.Cells[0].Text()
	}
	return &ElementNodeCountError{Type: typ, Label: label, Count: n, Allowed: allowed}
}

// guessNodes counts the nodes of the first record of an unknown element
// type: the items on every line up to the first one not ending in a comma,
// less the label.
func guessNodes(lines []string) int {
	n := 0
	for _, l := range lines {
		if isComment(l) || strings.TrimSpace(l) == "" {
			continue
		}
		for it := range strings.SplitSeq(l, ",") {
			if strings.TrimSpace(it) != "" {
				n++
			}
		}
		if !strings.HasSuffix(strings.TrimRight(l, " \t"), ",") {
			break
		}
	}
	return max(n-1, 0)
}

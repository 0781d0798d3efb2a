package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/containerd/errdefs"

	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/refs"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// Pair maps a node to the node replacing it.
type Pair struct {
	Old int64
	New int64
}

// MergeNodes rewrites every element citing a pair's old node to cite the
// new node, then deletes the old nodes and all remaining references to
// them. Only *ELEMENT connectivity is relabeled; other references to an
// old node are removed.
func MergeNodes(ctx context.Context, d *deck.Deck, pairs []Pair, opts Options) (*Result, error) {
	var out *Result
	err := commit(ctx, d, func(c *deck.Deck) error {
		olds := make([]string, 0, len(pairs))
		for _, p := range pairs {
			if err := relink(ctx, c, p); err != nil {
				return err
			}
			olds = append(olds, strconv.FormatInt(p.Old, 10))
		}
		res := (&refs.Resolver{Rules: refs.DefaultRules()}).Find(ctx, c, "node", olds)
		var err error
		out, err = cascadeOn(ctx, c, res, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("merge nodes: %w", err)
	}
	return out, nil
}

func relink(ctx context.Context, d *deck.Deck, p Pair) error {
	if p.Old == p.New {
		return fmt.Errorf("node %d merged into itself: %w", p.Old, errdefs.ErrInvalidArgument)
	}
	for _, label := range []int64{p.Old, p.New} {
		if _, ok := d.Mesh.Node(label); !ok {
			return fmt.Errorf("node %d: %w: %w", label, ErrUnknownNode, errdefs.ErrNotFound)
		}
	}
	for _, el := range d.Mesh.ElementsOf(p.Old) {
		e, _ := d.Mesh.Element(el)
		h := deck.Handle(e.Owner)
		li := d.LineOfLabel(h, el)
		if li < 0 {
			continue
		}
		l := &d.Block(h).Data[li]
		for ci := 1; ci < len(l.Cells); ci++ {
			if n, err := d.LabelOf(l.Cells[ci]); err == nil && n == p.Old {
				l.Cells[ci] = relabel(l.Cells[ci], p.New)
			}
		}
		d.Mesh.ReplaceNode(el, p.Old, p.New)
	}
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "merged node",
		slog.Int64("old", p.Old),
		slog.Int64("new", p.New),
	)
	return nil
}

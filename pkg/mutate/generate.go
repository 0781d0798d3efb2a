package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/scalar"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// LabelsPerLine is the record width used when writing expanded label lists.
const LabelsPerLine = 16

// _keepGenerate lists keywords whose GENERATE parameter does not describe
// label ranges.
var _keepGenerate = []string{"time points", "nodal thickness", "nodal energy rate"}

// RemoveGenerate expands the start, stop, step records of GENERATE blocks
// into explicit label lists and drops the parameter. With no handles it
// rewrites every such block except the keywords where GENERATE means
// something else. It returns the number of blocks rewritten.
func RemoveGenerate(ctx context.Context, d *deck.Deck, hs ...deck.Handle) (int, error) {
	log := slogctx.FromContext(ctx)
	n := 0
	err := commit(ctx, d, func(c *deck.Deck) error {
		if len(hs) == 0 {
			q := deck.NewQuery()
			q.Params = map[string]string{"generate": ""}
			found, _ := c.Find(q)
			for _, h := range found {
				if !c.Block(h).Is(_keepGenerate...) {
					hs = append(hs, h)
				}
			}
		}
		for _, h := range hs {
			b, err := c.MustBlock(h)
			if err != nil {
				return err
			}
			if !b.HasParam("generate") {
				log.LogAttrs(ctx, slog.LevelDebug, "skipping block without GENERATE", slog.String("path", b.Path.String()))
				continue
			}
			if err := expandGenerate(c, b); err != nil {
				return fmt.Errorf("%s: %w", b.Path, err)
			}
			n++
		}
		refresh(ctx, c)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remove generate: %w", err)
	}
	return n, nil
}

// expandGenerate rewrites b in place. Each record is start, stop and an
// optional step; labels run from start up to and including stop.
func expandGenerate(d *deck.Deck, b *deck.Block) error {
	var labels []int64
	for i, l := range b.Data {
		if l.IsBlank() {
			continue
		}
		if len(l.Cells) < 2 {
			return fmt.Errorf("record %d: %w", i, invalid(ErrBadGenerate))
		}
		start, err := d.LabelOf(l.Cells[0])
		if err != nil {
			return fmt.Errorf("record %d: %w: %w", i, err, invalid(ErrBadGenerate))
		}
		stop, err := d.LabelOf(l.Cells[1])
		if err != nil {
			return fmt.Errorf("record %d: %w: %w", i, err, invalid(ErrBadGenerate))
		}
		step := int64(1)
		if len(l.Cells) > 2 && !l.Cells[2].IsBlank() {
			if step, err = d.LabelOf(l.Cells[2]); err != nil {
				return fmt.Errorf("record %d: %w: %w", i, err, invalid(ErrBadGenerate))
			}
		}
		if step <= 0 || stop < start {
			return fmt.Errorf("record %d: range %d..%d step %d: %w", i, start, stop, step, invalid(ErrBadGenerate))
		}
		for v := start; v <= stop; v += step {
			labels = append(labels, v)
		}
	}
	b.Data = packLabels(labels, LabelsPerLine)
	b.Comments = nil
	b.DeleteParam("generate")
	return nil
}

// packLabels lays labels out n per record, separated by ", ".
func packLabels(labels []int64, n int) []deck.Line {
	cells := make([]scalar.Scalar, len(labels))
	for i, v := range labels {
		cells[i] = scalar.FromInt(v)
	}
	return pack(cells, n)
}

// pack lays cells out n per record. Cells after the first on a record get
// a leading blank when they have none.
func pack(cells []scalar.Scalar, n int) []deck.Line {
	out := make([]deck.Line, 0, (len(cells)+n-1)/n)
	for len(cells) > 0 {
		k := min(n, len(cells))
		line := make([]scalar.Scalar, k)
		for i, c := range cells[:k] {
			line[i] = spaced(c, i > 0)
		}
		out = append(out, deck.NewLine(line...))
		cells = cells[k:]
	}
	return out
}

func spaced(c scalar.Scalar, lead bool) scalar.Scalar {
	raw := c.Raw()
	trimmed := trimLeft(raw)
	switch {
	case lead && trimmed == raw:
		return scalar.MustParse(" " + raw)
	case !lead && trimmed != raw:
		return scalar.MustParse(trimmed)
	default:
		return c
	}
}

func trimLeft(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	return s
}

// relabel returns c holding label, keeping c's leading blanks.
func relabel(c scalar.Scalar, label int64) scalar.Scalar {
	raw := c.Raw()
	lead := raw[:len(raw)-len(trimLeft(raw))]
	return scalar.MustParse(lead + strconv.FormatInt(label, 10))
}

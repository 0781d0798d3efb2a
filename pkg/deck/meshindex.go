package deck

import (
	"context"
	"log/slog"
	"slices"

	"github.com/ndisidore/inpdeck/pkg/mesh"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// RebuildMesh recomputes the mesh index from every *NODE and *ELEMENT
// block. Records whose labels do not resolve to integers are skipped with
// a warning.
func (d *Deck) RebuildMesh(ctx context.Context) {
	d.Mesh = mesh.New()
	for _, h := range d.ByName("node") {
		d.IndexNodes(ctx, h)
	}
	for _, h := range d.ByName("element") {
		d.IndexElements(ctx, h)
	}
}

// IndexNodes adds the records of *NODE block h to the mesh.
func (d *Deck) IndexNodes(ctx context.Context, h Handle) {
	b := d.Block(h)
	for i, l := range b.Data {
		if l.IsBlank() {
			continue
		}
		label, err := d.LabelOf(l.Cells[0])
		if err != nil {
			d.warnLabel(ctx, b, i, err)
			continue
		}
		d.Mesh.InsertNode(ctx, mesh.Node{Label: label, Coords: slices.Clone(l.Cells[1:]), Owner: int(h)})
	}
}

// IndexElements adds the records of *ELEMENT block h to the mesh.
func (d *Deck) IndexElements(ctx context.Context, h Handle) {
	b := d.Block(h)
	typ := b.ParamText("type")
	for i, l := range b.Data {
		if l.IsBlank() {
			continue
		}
		labels, err := d.labels(l)
		if err != nil {
			d.warnLabel(ctx, b, i, err)
			continue
		}
		d.Mesh.InsertElement(ctx, mesh.Element{Label: labels[0], Type: typ, Nodes: labels[1:], Owner: int(h)})
	}
}

func (d *Deck) labels(l Line) ([]int64, error) {
	out := make([]int64, 0, len(l.Cells))
	for _, c := range l.Cells {
		if c.IsBlank() {
			continue
		}
		n, err := d.LabelOf(c)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (d *Deck) warnLabel(ctx context.Context, b *Block, line int, err error) {
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "skipping record without integer label",
		slog.String("path", b.Path.Child(SegData, line).String()),
		slog.String("error", err.Error()),
	)
}

// LineOfLabel returns the index of the record of block h whose first cell
// is label, or -1.
func (d *Deck) LineOfLabel(h Handle, label int64) int {
	b := d.Block(h)
	if b == nil {
		return -1
	}
	return slices.IndexFunc(b.Data, func(l Line) bool {
		if len(l.Cells) == 0 {
			return false
		}
		n, err := d.LabelOf(l.Cells[0])
		return err == nil && n == label
	})
}

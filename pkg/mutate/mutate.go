// Package mutate edits a parsed deck: block insertion, replacement and
// deletion by path, cascading reference deletion, node merging and the
// OP keyword rewrites. Every exported operation works on a clone and
// commits only when it succeeds, so a failed call leaves the deck as it was.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"

	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/parser"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// Sentinel errors for mutations.
var (
	ErrNotBlockPath = errors.New("path does not address a block position")
	ErrEmptyInsert  = errors.New("insert content holds no keyword block")
	ErrUnknownNode  = errors.New("node not in mesh")
	ErrBadGenerate  = errors.New("malformed GENERATE record")
	ErrNoReferences = errors.New("no reference result")
	ErrIterationCap = errors.New("cascading deletion did not reach a fixed point")
)

// commit runs fn on a clone of d and swaps the clone in when fn succeeds.
func commit(ctx context.Context, d *deck.Deck, fn func(c *deck.Deck) error) error {
	c := d.Clone()
	if err := fn(c); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mutation abandoned: %w", err)
	}
	d.Replace(c)
	return nil
}

// refresh regenerates paths, the registry and the mesh index.
func refresh(ctx context.Context, d *deck.Deck) {
	d.Reindex()
	d.RebuildMesh(ctx)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", err, errdefs.ErrInvalidArgument)
}

// position resolves a block path to the parent handle and child index it
// names. The index may equal the child count, which appends.
func position(d *deck.Deck, at deck.Path) (deck.Handle, int, error) {
	if len(at) == 0 || len(at.Block()) != len(at) || at[0].Kind != deck.SegKeyword {
		return deck.NoHandle, 0, fmt.Errorf("%s: %w", at, invalid(ErrNotBlockPath))
	}
	parent := deck.NoHandle
	if len(at) > 1 {
		t, err := d.Navigate(at[:len(at)-1])
		if err != nil {
			return deck.NoHandle, 0, err
		}
		parent = t.Block
	}
	i := at[len(at)-1].Index
	if i < 0 || i > len(d.Children(parent)) {
		return deck.NoHandle, 0, fmt.Errorf("%s: index %d out of range: %w", at, i, invalid(ErrNotBlockPath))
	}
	return parent, i, nil
}

// Insert parses content as one or more keyword blocks and places them at
// the block position at. Blocks at and after that position shift down.
// It returns the handles of the inserted top-level blocks.
func Insert(ctx context.Context, d *deck.Deck, content string, at deck.Path) ([]deck.Handle, error) {
	var out []deck.Handle
	err := commit(ctx, d, func(c *deck.Deck) error {
		parent, i, err := position(c, at)
		if err != nil {
			return err
		}
		out, err = place(ctx, c, content, parent, i)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert at %s: %w", at, err)
	}
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "inserted blocks",
		slog.String("path", at.String()),
		slog.Int("count", len(out)),
	)
	return out, nil
}

// Replace swaps the block at path for the blocks parsed from content.
func Replace(ctx context.Context, d *deck.Deck, content string, at deck.Path) ([]deck.Handle, error) {
	var out []deck.Handle
	err := commit(ctx, d, func(c *deck.Deck) error {
		parent, i, err := position(c, at)
		if err != nil {
			return err
		}
		t, err := c.Navigate(at)
		if err != nil {
			return err
		}
		c.Remove(t.Block)
		out, err = place(ctx, c, content, parent, i)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replace %s: %w", at, err)
	}
	return out, nil
}

func place(ctx context.Context, d *deck.Deck, content string, parent deck.Handle, i int) ([]deck.Handle, error) {
	hs, err := parser.New(d.Config).ParseBlocks(ctx, d, content)
	if err != nil {
		return nil, err
	}
	if len(hs) == 0 {
		return nil, invalid(ErrEmptyInsert)
	}
	for k, h := range hs {
		if err := d.Attach(parent, i+k, h); err != nil {
			return nil, err
		}
	}
	refresh(ctx, d)
	return hs, nil
}

// Delete removes what path addresses: a block with its sub-blocks, a data
// record, one cell of a record, or a header parameter.
func Delete(ctx context.Context, d *deck.Deck, at deck.Path) error {
	err := commit(ctx, d, func(c *deck.Deck) error {
		t, err := c.Navigate(at)
		if err != nil {
			return err
		}
		b := c.Block(t.Block)
		switch {
		case t.Param != "":
			b.DeleteParam(t.Param)
		case t.Cell >= 0:
			b.Data[t.Line].DeleteCells(t.Cell, t.Cell+1)
		case t.Line >= 0:
			b.DeleteLine(t.Line)
		default:
			c.Remove(t.Block)
		}
		refresh(ctx, c)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", at, err)
	}
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "deleted", slog.String("path", at.String()))
	return nil
}

package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/containerd/errdefs"
	"golang.org/x/sync/errgroup"

	"github.com/ndisidore/inpdeck/pkg/catalog"
	"github.com/ndisidore/inpdeck/pkg/deck"
)

// _maxIncludeDepth prevents runaway nested child files.
const _maxIncludeDepth = 64

// _manifestPrefix names the placeholder block standing in for each
// manifest child deck.
const _manifestPrefix = "DUMMY-MANIFEST_"

// includeState tracks the chain of files being read for cycle detection.
type includeState struct {
	ancestors   []string
	ancestorSet map[string]struct{}
}

func newIncludeState() *includeState {
	return &includeState{ancestorSet: make(map[string]struct{})}
}

// push adds a path to the ancestry stack, returning an error on cycles or
// depth overflow.
func (s *includeState) push(absPath string) error {
	if _, ok := s.ancestorSet[absPath]; ok {
		cycle := append(slices.Clone(s.ancestors), absPath)
		return fmt.Errorf("%w: %s", ErrCircularInclude, strings.Join(cycle, " -> "))
	}
	if len(s.ancestors) >= _maxIncludeDepth {
		return fmt.Errorf("%w: depth %d at %s", ErrIncludeDepth, len(s.ancestors), absPath)
	}
	s.ancestors = append(s.ancestors, absPath)
	s.ancestorSet[absPath] = struct{}{}
	return nil
}

// pop removes the last path from the ancestry stack.
func (s *includeState) pop() {
	last := s.ancestors[len(s.ancestors)-1]
	s.ancestors = s.ancestors[:len(s.ancestors)-1]
	delete(s.ancestorSet, last)
}

// depth is the number of files above the current one.
func (s *includeState) depth() int {
	return max(len(s.ancestors)-1, 0)
}

// fork copies the state for a child read on another goroutine.
func (s *includeState) fork() *includeState {
	out := &includeState{
		ancestors:   slices.Clone(s.ancestors),
		ancestorSet: make(map[string]struct{}, len(s.ancestorSet)),
	}
	for k := range s.ancestorSet {
		out.ancestorSet[k] = struct{}{}
	}
	return out
}

// children reads the child files a block refers to: *INCLUDE and
// *MANIFEST decks, and INPUT= data files when ParseSubFiles is set.
func (r *run) children(ctx context.Context, n *node, from string, state *includeState) error {
	b := n.block
	switch {
	case b.Is("include"):
		return r.include(ctx, n, from, state)
	case b.Is("manifest"):
		return r.manifest(ctx, n, from, state)
	case r.cfg.ParseSubFiles && r.kw.In(catalog.GroupDataFromFile, b.Name) && b.HasParam("input"):
		return r.dataFile(ctx, b, from)
	default:
		return nil
	}
}

// include parses the *INCLUDE file; its top-level blocks become the
// block's subs.
func (r *run) include(ctx context.Context, n *node, from string, state *includeState) error {
	ref := n.block.ParamText("input")
	if ref == "" {
		return r.problem(ctx, fmt.Errorf("%s: *INCLUDE without INPUT: %w", from, ErrMalformedHeader))
	}
	roots, src, err := r.readChild(ctx, ref, from, state)
	if err != nil {
		return r.childError(ctx, err)
	}
	n.block.File = src
	n.subs = roots
	return nil
}

// manifest parses every deck listed in the *MANIFEST data. Each child hangs
// under a placeholder block. With ManifestWorkers > 0 the children are read
// concurrently and joined in listing order.
func (r *run) manifest(ctx context.Context, n *node, from string, state *includeState) error {
	var refs []string
	for _, l := range n.block.Pending {
		if isComment(l) || strings.TrimSpace(l) == "" {
			continue
		}
		refs = append(refs, strings.TrimSpace(l))
	}

	type result struct {
		roots []*node
		src   *deck.SourceFile
		err   error
	}
	results := make([]result, len(refs))
	// Child failures stay in results so they are reported in listing order;
	// only cancellation stops the listing.
	read := func(ctx context.Context, i int, st *includeState) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		roots, src, err := r.readChild(ctx, refs[i], from, st)
		results[i] = result{roots: roots, src: src, err: err}
		return nil
	}

	if r.cfg.ManifestWorkers > 0 && len(refs) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.ManifestWorkers)
		for i := range refs {
			st := state.fork()
			g.Go(func() error { return read(gctx, i, st) })
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("%s: reading manifest: %w", from, err)
		}
	} else {
		for i := range refs {
			if err := read(ctx, i, state); err != nil {
				return fmt.Errorf("%s: reading manifest: %w", from, err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: reading manifest: %w", from, err)
	}

	for i, res := range results {
		ph := deck.NewBlock(_manifestPrefix + refs[i])
		ph.Placeholder = true
		sub := &node{block: ph}
		n.subs = append(n.subs, sub)
		if res.err != nil {
			if err := r.childError(ctx, res.err); err != nil {
				return err
			}
			continue
		}
		ph.File = res.src
		sub.subs = res.roots
	}
	return nil
}

// dataFile reads the data lines of a keyword from its INPUT= file. The
// lines written after the header in the host file move to Inline.
func (r *run) dataFile(ctx context.Context, b *deck.Block, from string) error {
	ref := b.ParamText("input")
	if b.Is("matrixinput") && strings.EqualFold(filepath.Ext(ref), ".sim") {
		return nil
	}
	raw, abs, err := r.open(ref, from)
	if err != nil {
		return r.childError(ctx, err)
	}
	t, err := decode(ctx, raw, abs, r.cfg.Encoding)
	if err != nil {
		return r.problem(ctx, err)
	}
	t.src.Ref = ref
	b.File = t.src
	b.Inline = b.Pending
	b.Pending = t.lines
	return nil
}

// readChild resolves and parses a child deck.
func (r *run) readChild(ctx context.Context, ref, from string, state *includeState) ([]*node, *deck.SourceFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s: reading %q: %w", from, ref, err)
	}
	raw, abs, err := r.open(ref, from)
	if err != nil {
		return nil, nil, err
	}
	if err := state.push(abs); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", from, err)
	}
	defer state.pop()

	roots, src, err := r.readDeck(ctx, raw, abs, state)
	if err != nil {
		return nil, nil, err
	}
	src.Ref = ref
	return roots, src, nil
}

// open reads a child file through the resolver, relative to the folder of
// the referencing file.
func (r *run) open(ref, from string) (data []byte, abs string, err error) {
	rc, abs, err := r.p.Resolver.Resolve(ref, filepath.Dir(from))
	if err != nil {
		return nil, "", fmt.Errorf("%s: %q: %w: %w: %w", from, ref, ErrMissingChildFile, errdefs.ErrNotFound, err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", abs, cerr)
		}
	}()
	data, err = io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", abs, err)
	}
	return data, abs, nil
}

// childError classifies a failed child read: missing files, cycles and
// depth overflow are recorded and skipped; anything else follows the
// strict setting.
func (r *run) childError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if errdefs.IsNotFound(err) || isIncludeLoop(err) {
		r.warn(ctx, err)
		return nil
	}
	return r.problem(ctx, err)
}

func isIncludeLoop(err error) bool {
	return errors.Is(err, ErrCircularInclude) || errors.Is(err, ErrIncludeDepth)
}

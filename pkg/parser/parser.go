// Package parser reads Abaqus input decks into a deck.Deck, following
// *INCLUDE, *MANIFEST and INPUT= child files through a Resolver.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/ndisidore/inpdeck/pkg/catalog"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// Sentinel errors for parse failures.
var (
	ErrMalformedHeader  = errors.New("malformed keyword line")
	ErrElementNodeCount = errors.New("element node count mismatch")
	ErrMissingType      = errors.New("element block without TYPE")
	ErrMissingChildFile = errors.New("child file not found")
	ErrUnmatchedEnd     = errors.New("unmatched *END keyword")
	ErrCircularInclude  = errors.New("circular include")
	ErrIncludeDepth     = errors.New("include depth exceeded")
	ErrUnknownEncoding  = errors.New("unknown encoding")
)

// ElementNodeCountError reports an element record whose node count does not
// fit its type.
type ElementNodeCountError struct {
	Type string
	// Label is the element label as written.
	Label string
	Count int
	// Allowed lists the permitted counts; one entry for fixed types.
	Allowed []int
}

func (e *ElementNodeCountError) Error() string {
	if len(e.Allowed) > 1 {
		lo, hi := slices.Min(e.Allowed), slices.Max(e.Allowed)
		return fmt.Sprintf("element %s: an element of type %s must have between %d and %d nodes, got %d", e.Label, e.Type, lo, hi, e.Count)
	}
	want := 0
	if len(e.Allowed) == 1 {
		want = e.Allowed[0]
	}
	return fmt.Sprintf("element %s: an element of type %s must have %d nodes, got %d", e.Label, e.Type, want, e.Count)
}

// Unwrap lets errors.Is match ErrElementNodeCount.
func (*ElementNodeCountError) Unwrap() error { return ErrElementNodeCount }

// Parser reads decks. The zero value is not usable; build one with New or
// set Resolver and Config.
type Parser struct {
	Resolver Resolver
	Config   deck.Config
	// Events receives one Started and one Done or Failed event per file.
	// It is never closed by the parser.
	Events chan<- Event
}

// New returns a Parser reading from the local filesystem.
func New(cfg deck.Config) *Parser {
	return &Parser{Resolver: &FileResolver{}, Config: cfg}
}

// ParseFile reads the deck at path with the default configuration.
func ParseFile(ctx context.Context, path string) (*deck.Deck, error) {
	return New(deck.DefaultConfig()).ParseFile(ctx, path)
}

// ParseString parses deck text with the default configuration.
func ParseString(ctx context.Context, content string) (*deck.Deck, error) {
	return New(deck.DefaultConfig()).ParseString(ctx, content)
}

// ParseFile reads and parses the deck at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (d *deck.Deck, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	return p.Parse(ctx, f, path)
}

// ParseString parses deck text. Relative child files resolve against the
// working directory.
func (p *Parser) ParseString(ctx context.Context, content string) (*deck.Deck, error) {
	return p.Parse(ctx, strings.NewReader(content), "<string>")
}

// Parse reads a deck from r. filename names the source in errors and is
// the base for resolving child files.
func (p *Parser) Parse(ctx context.Context, r io.Reader, filename string) (*deck.Deck, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}

	run := p.newRun()
	state := newIncludeState()
	if err := state.push(filename); err != nil {
		return nil, err
	}
	roots, src, err := run.readDeck(ctx, raw, filename, state)
	if err != nil {
		return nil, err
	}

	d := deck.New(run.cfg)
	d.File = src
	place(d, deck.NoHandle, roots)
	if err := run.finish(ctx, d, d.Handles()); err != nil {
		return nil, err
	}
	d.Problems = run.problems
	return d, nil
}

// ParseBlocks parses keyword text into blocks stored in d's arena but not
// attached to the tree. It returns the handles of the top-level blocks in
// order. Child files are not read.
func (p *Parser) ParseBlocks(ctx context.Context, d *deck.Deck, content string) ([]deck.Handle, error) {
	run := p.newRun()
	run.cfg = d.Config
	run.cfg.ParseSubFiles = false

	t, err := decode(ctx, []byte(content), "<insert>", "")
	if err != nil {
		return nil, err
	}
	nodes, err := run.readChunks(ctx, split(t), "<insert>", nil)
	if err != nil {
		return nil, err
	}
	roots, err := run.nest(ctx, "<insert>", nodes)
	if err != nil {
		return nil, err
	}

	out := make([]deck.Handle, 0, len(roots))
	var added []deck.Handle
	for _, n := range roots {
		h := d.Add(n.block)
		out = append(out, h)
		added = append(added, h)
		added = append(added, place(d, h, n.subs)...)
	}
	if err := run.dataPasses(ctx, d, added); err != nil {
		return nil, err
	}
	if len(run.problems) > 0 {
		return nil, errors.Join(run.problems...)
	}
	return out, nil
}

// run carries the state of one parse.
type run struct {
	p   *Parser
	cfg deck.Config
	kw  *catalog.Keywords

	mu       sync.Mutex
	problems []error
}

func (p *Parser) newRun() *run {
	cfg := p.Config
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if p.Resolver == nil {
		p.Resolver = &FileResolver{}
	}
	return &run{p: p, cfg: cfg, kw: cfg.Catalog.Keywords}
}

// problem records a recoverable error. In strict mode it returns err so the
// parse stops.
func (r *run) problem(ctx context.Context, err error) error {
	if r.cfg.Strict {
		return err
	}
	r.warn(ctx, err)
	return nil
}

// warn records a recoverable error regardless of strict mode.
func (r *run) warn(ctx context.Context, err error) {
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "parse problem", slog.String("error", err.Error()))
	r.mu.Lock()
	r.problems = append(r.problems, err)
	r.mu.Unlock()
}

// node is a block with its nested blocks, before placement in the arena.
type node struct {
	block *deck.Block
	subs  []*node
}

// place appends the nodes under parent and returns every handle added, in
// document order.
func place(d *deck.Deck, parent deck.Handle, nodes []*node) []deck.Handle {
	var added []deck.Handle
	for _, n := range nodes {
		h := d.Append(parent, n.block)
		added = append(added, h)
		added = append(added, place(d, h, n.subs)...)
	}
	return added
}

// readDeck parses one file into nested nodes.
func (r *run) readDeck(ctx context.Context, raw []byte, name string, state *includeState) ([]*node, *deck.SourceFile, error) {
	r.emit(ctx, Event{Kind: EventStarted, File: name, Depth: state.depth()})
	t, err := decode(ctx, raw, name, r.cfg.Encoding)
	if err != nil {
		r.emit(ctx, Event{Kind: EventFailed, File: name, Depth: state.depth(), Err: err})
		return nil, nil, err
	}
	chunks := split(t)
	nodes, err := r.readChunks(ctx, chunks, name, state)
	if err == nil {
		nodes, err = r.nest(ctx, name, nodes)
	}
	if err != nil {
		r.emit(ctx, Event{Kind: EventFailed, File: name, Depth: state.depth(), Err: err})
		return nil, nil, err
	}
	r.emit(ctx, Event{
		Kind:   EventDone,
		File:   name,
		Depth:  state.depth(),
		Blocks: len(chunks),
		Lines:  len(t.lines),
		Digest: t.src.Digest,
	})
	return nodes, t.src, nil
}

// readChunks parses the headers of a file's blocks and reads their child
// files. state is nil when child files are not followed.
func (r *run) readChunks(ctx context.Context, chunks []chunk, name string, state *includeState) ([]*node, error) {
	nodes := make([]*node, 0, len(chunks))
	for _, c := range chunks {
		b, err := parseHeader(name, c.header, r.cfg.PreserveSpacing)
		if err != nil {
			if err := r.problem(ctx, fmt.Errorf("line %d: %w", c.line, err)); err != nil {
				return nil, err
			}
		}
		b.Pending = c.data
		n := &node{block: b}
		if state != nil {
			if err := r.children(ctx, n, name, state); err != nil {
				return nil, err
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// finish parses block data, derives indexes and runs extensions.
func (r *run) finish(ctx context.Context, d *deck.Deck, hs []deck.Handle) error {
	d.Reindex()
	if err := r.dataPasses(ctx, d, hs); err != nil {
		return err
	}
	setBaseSteps(d)
	d.RebuildMesh(ctx)
	d.Reindex()

	for _, h := range d.Handles() {
		for _, ext := range r.cfg.Extensions {
			if err := ext.OnBlock(ctx, d, h); err != nil {
				err = fmt.Errorf("extension %s: %s: %w", ext.Name(), d.PathOf(h), err)
				if err := r.problem(ctx, err); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// dataPasses parses pending data of the given blocks, one pass per delay
// level so *PARAMETER tables exist before other data and *ELEMENT comes
// last.
func (r *run) dataPasses(ctx context.Context, d *deck.Deck, hs []deck.Handle) error {
	for pass := range r.kw.MaxDelay() + 1 {
		for _, h := range hs {
			b := d.Block(h)
			if b == nil || b.Placeholder || r.kw.Delay(b.Name) != pass {
				continue
			}
			if err := r.blockData(ctx, b); err != nil {
				err = fmt.Errorf("%s: %w", where(b), err)
				if err := r.problem(ctx, err); err != nil {
					return err
				}
			}
			if b.Is("parameter") {
				d.DefineParameters(ctx, h)
			}
		}
	}
	return nil
}

func (r *run) emit(ctx context.Context, ev Event) {
	if r.p.Events == nil {
		return
	}
	select {
	case r.p.Events <- ev:
	case <-ctx.Done():
	}
}

// where names a block in errors: its keyword and, once placed, its path.
func where(b *deck.Block) string {
	s := "*" + strings.TrimSpace(b.NameRaw)
	if len(b.Path) > 0 {
		s += " at " + b.Path.String()
	}
	if b.File != nil {
		s = b.File.Name + ": " + s
	}
	return s
}

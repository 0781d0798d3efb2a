// Package writer renders a deck.Deck back to Abaqus input text. A deck read
// without changes writes back byte for byte, child files included.
package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/parser"
	"github.com/ndisidore/inpdeck/pkg/scalar"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// ErrEncode is returned when text cannot be represented in the output
// encoding.
var ErrEncode = errors.New("encoding output")

// File is one rendered output file.
type File struct {
	// Path is where the file is written. The main file keeps the name it
	// was rendered under; child files sit next to the file that refers to
	// them.
	Path string
	// Source is the file the content was read from, if any.
	Source *deck.SourceFile
	Data   []byte
	Digest digest.Digest
}

// Unchanged reports whether the rendered bytes equal the bytes read.
func (f File) Unchanged() bool {
	return f.Source != nil && f.Source.Digest != "" && f.Source.Digest == f.Digest
}

// Result lists the files produced by a write, main file first.
type Result struct {
	Files []File
}

// Unchanged reports whether every file matches its source.
func (r *Result) Unchanged() bool {
	for _, f := range r.Files {
		if !f.Unchanged() {
			return false
		}
	}
	return true
}

// Render produces the main file and every child file of d in memory. name
// is the path of the main output file; child paths are derived from it.
func Render(ctx context.Context, d *deck.Deck, name string) (*Result, error) {
	r := &renderer{
		d:      d,
		opts:   d.Config.FormatOpts(),
		suffix: d.Config.JobSuffix,
	}
	src := d.File
	if src == nil {
		src = &deck.SourceFile{Newline: "\n"}
	}
	if err := r.file(ctx, name, src, d.Roots); err != nil {
		return nil, err
	}
	return &Result{Files: r.files}, nil
}

// Write renders the main file of d to w. Child files are not written.
func Write(ctx context.Context, d *deck.Deck, w io.Writer) error {
	name := "<deck>"
	if d.File != nil && d.File.Name != "" {
		name = d.File.Name
	}
	res, err := Render(ctx, d, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(res.Files[0].Data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// WriteString renders the main file of d as a string.
func WriteString(ctx context.Context, d *deck.Deck) (string, error) {
	var buf bytes.Buffer
	if err := Write(ctx, d, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteFile writes d to path and its child files next to it.
func WriteFile(ctx context.Context, d *deck.Deck, path string) (*Result, error) {
	res, err := Render(ctx, d, path)
	if err != nil {
		return nil, err
	}
	log := slogctx.FromContext(ctx)
	for _, f := range res.Files {
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating folder for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(f.Path, f.Data, 0o644); err != nil { //nolint:gosec // decks are not secrets
			return nil, fmt.Errorf("writing %s: %w", f.Path, err)
		}
		log.LogAttrs(ctx, slog.LevelDebug, "wrote file",
			slog.String("file", f.Path),
			slog.Int("bytes", len(f.Data)),
			slog.String("digest", f.Digest.String()),
		)
	}
	return res, nil
}

type renderer struct {
	d      *deck.Deck
	opts   scalar.FormatOpts
	suffix string
	files  []File
}

// file renders the blocks hs as the content of one output file.
func (r *renderer) file(ctx context.Context, path string, src *deck.SourceFile, hs []deck.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	at := len(r.files)
	r.files = append(r.files, File{Path: path, Source: src})

	var parts []string
	if err := r.blocks(ctx, path, hs, &parts); err != nil {
		return err
	}
	return r.finish(at, src, src.Prologue+strings.Join(parts, "\n"))
}

// dataFile renders the data of a keyword that reads INPUT= data.
func (r *renderer) dataFile(ctx context.Context, path string, b *deck.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	at := len(r.files)
	r.files = append(r.files, File{Path: path, Source: b.File})
	return r.finish(at, b.File, b.File.Prologue+strings.Join(b.FormatData(r.opts), "\n"))
}

// finish applies the newline and encoding of src to text and stores the
// bytes in file slot at.
func (r *renderer) finish(at int, src *deck.SourceFile, text string) error {
	if src.TrailingNewline {
		text += "\n"
	}
	if nl := src.Newline; nl != "" && nl != "\n" {
		text = strings.ReplaceAll(text, "\n", nl)
	}
	enc := src.Encoding
	if enc == "" {
		enc = r.d.Config.Encoding
	}
	data := []byte(text)
	e, err := parser.LookupEncoding(enc)
	if err != nil {
		return fmt.Errorf("%s: %w", r.files[at].Path, err)
	}
	if e != nil {
		if data, err = e.NewEncoder().Bytes(data); err != nil {
			return fmt.Errorf("%s: %w: %s: %w", r.files[at].Path, ErrEncode, enc, err)
		}
	}
	r.files[at].Data = data
	r.files[at].Digest = digest.FromBytes(data)
	return nil
}

// blocks appends the text of hs and their descendants to parts, spawning
// child files as they are met.
func (r *renderer) blocks(ctx context.Context, host string, hs []deck.Handle, parts *[]string) error {
	for _, h := range hs {
		b := r.d.Block(h)
		switch {
		case b == nil, b.Placeholder:
			continue
		case b.Is("include"):
			if err := r.include(ctx, host, b, parts); err != nil {
				return err
			}
			continue
		case b.Is("manifest"):
			if err := r.manifest(ctx, host, b, parts); err != nil {
				return err
			}
			continue
		case b.File != nil:
			ref := r.ref(b.File.Ref)
			out := withInput(b, b.File.Ref, ref)
			*parts = append(*parts, out.FormatHeader(r.opts))
			*parts = append(*parts, b.Inline...)
			if err := r.dataFile(ctx, r.childPath(host, ref), b); err != nil {
				return err
			}
		default:
			*parts = append(*parts, b.Format(r.opts))
		}
		if err := r.blocks(ctx, host, b.Subs, parts); err != nil {
			return err
		}
	}
	return nil
}

// include writes the *INCLUDE line and renders its file. An include whose
// file was not read keeps its line and writes nothing else.
func (r *renderer) include(ctx context.Context, host string, b *deck.Block, parts *[]string) error {
	if b.File == nil {
		slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "include has no parsed content, not writing it",
			slog.String("file", host),
			slog.String("input", b.ParamText("input")),
		)
		*parts = append(*parts, b.Format(r.opts))
		return nil
	}
	ref := r.ref(b.File.Ref)
	*parts = append(*parts, withInput(b, b.File.Ref, ref).Format(r.opts))
	return r.file(ctx, r.childPath(host, ref), b.File, b.Subs)
}

// manifest writes the *MANIFEST block with renamed entries and renders one
// file per child deck.
func (r *renderer) manifest(ctx context.Context, host string, b *deck.Block, parts *[]string) error {
	renames := make(map[string]string)
	for _, ph := range b.Subs {
		if c := r.d.Block(ph); c != nil && c.File != nil {
			renames[c.File.Ref] = r.ref(c.File.Ref)
		}
	}
	out := b
	if r.suffix != "" && len(renames) > 0 {
		out = b.Clone()
		for i, l := range out.Data {
			if len(l.Cells) == 0 {
				continue
			}
			old := l.Cells[0]
			if repl, ok := renames[old.Text()]; ok {
				out.Data[i].Cells[0] = scalar.FromString(strings.Replace(old.Raw(), old.Text(), repl, 1))
			}
		}
	}
	*parts = append(*parts, out.Format(r.opts))

	for _, ph := range b.Subs {
		c := r.d.Block(ph)
		if c == nil || c.File == nil {
			continue
		}
		if err := r.file(ctx, r.childPath(host, renames[c.File.Ref]), c.File, c.Subs); err != nil {
			return err
		}
	}
	return nil
}

// ref returns the name a child file is written under. With a job suffix
// the suffix stem is spliced in before the extension: part.inp becomes
// part_NEW.inp for the suffix "_NEW.inp".
func (r *renderer) ref(ref string) string {
	if r.suffix == "" {
		return ref
	}
	if filepath.IsAbs(ref) {
		ref = filepath.Base(ref)
	}
	ext := filepath.Ext(ref)
	stem := strings.TrimSuffix(r.suffix, filepath.Ext(r.suffix))
	return strings.TrimSuffix(ref, ext) + stem + ext
}

// childPath places a child file relative to the folder of its host file.
func (r *renderer) childPath(host, ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(host), ref)
}

// withInput returns b with its INPUT parameter renamed from old to repl,
// keeping quotes. b is returned unchanged when the name stays the same.
func withInput(b *deck.Block, old, repl string) *deck.Block {
	if old == repl {
		return b
	}
	out := b.Clone()
	p, _ := out.Params.Get("input")
	raw := p.Value.Raw()
	lead := raw[:len(raw)-len(strings.TrimLeft(raw, " \t"))]
	val := repl
	if strings.HasPrefix(strings.TrimSpace(raw), `"`) {
		val = `"` + repl + `"`
	}
	p.Value = scalar.FromString(lead + val)
	p.HasValue = true
	out.Params.Set("input", p)
	out.RawHeader = ""
	return out
}

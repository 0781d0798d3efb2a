package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opencontainers/go-digest"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// LookupEncoding resolves an IANA encoding name. UTF-8 and the empty name
// return a nil encoding, meaning no transcoding.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch csmap.Normalize(name) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownEncoding)
	}
	return enc, nil
}

// text is one decoded file split into LF-terminated lines.
type text struct {
	src   *deck.SourceFile
	lines []string
}

// decode transcodes raw to UTF-8, records the newline convention and splits
// the content into lines. Files mixing CRLF and LF are read with LF
// newlines and a warning.
func decode(ctx context.Context, raw []byte, name, enc string) (text, error) {
	src := &deck.SourceFile{Name: name, Newline: "\n", Digest: digest.FromBytes(raw), Encoding: enc}
	e, err := LookupEncoding(enc)
	if err != nil {
		return text{}, fmt.Errorf("%s: %w", name, err)
	}
	if e != nil {
		if raw, err = e.NewDecoder().Bytes(raw); err != nil {
			return text{}, fmt.Errorf("%s: decoding %s: %w", name, enc, err)
		}
	}

	crlf := bytes.Count(raw, []byte("\r\n"))
	lf := bytes.Count(raw, []byte("\n"))
	s := string(raw)
	switch {
	case crlf > 0 && crlf == lf:
		src.Newline = "\r\n"
		s = strings.ReplaceAll(s, "\r\n", "\n")
	case crlf > 0:
		slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "inconsistent line endings, writing LF",
			slog.String("file", name),
			slog.Int("crlf", crlf),
			slog.Int("lf", lf-crlf),
		)
		s = strings.ReplaceAll(s, "\r\n", "\n")
	}

	var lines []string
	if s != "" {
		src.TrailingNewline = strings.HasSuffix(s, "\n")
		lines = strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	}
	return text{src: src, lines: lines}, nil
}

// chunk is the text of one keyword block before parsing.
type chunk struct {
	header string
	data   []string
	// line is the 1-based source line of the header.
	line int
}

// split stores the prologue of t and cuts the rest into keyword blocks at
// each line opening a keyword.
func split(t text) []chunk {
	first := -1
	for i, l := range t.lines {
		if _keywordLine.MatchString(l) {
			first = i
			break
		}
	}
	if first < 0 {
		t.src.Prologue = strings.Join(t.lines, "\n")
		return nil
	}
	if first > 0 {
		t.src.Prologue = strings.Join(t.lines[:first], "\n") + "\n"
	}

	var out []chunk
	for i := first; i < len(t.lines); {
		end := i + 1
		for end < len(t.lines) && !_keywordLine.MatchString(t.lines[end]) {
			end++
		}
		block := t.lines[i:end]
		n := headerLines(block)
		out = append(out, chunk{
			header: strings.Join(block[:n], "\n"),
			data:   block[n:],
			line:   i + 1,
		})
		i = end
	}
	return out
}

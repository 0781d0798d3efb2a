package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/scalar"
)

// _headerLexer splits a keyword line into quoted runs, separators and the
// text between them. Text spans newlines, so continuation lines lex as one
// stream.
var _headerLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Quoted", Pattern: `"[^"]*"`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Equals", Pattern: `=`},
	{Name: "Text", Pattern: `[^,="]+`},
})

var (
	_tokComma  = _headerLexer.Symbols()["Comma"]
	_tokEquals = _headerLexer.Symbols()["Equals"]
)

// _keywordLine matches a line opening a keyword block.
var _keywordLine = regexp.MustCompile(`^[ \t]*\*[A-Za-z]`)

// segment is the text between two top-level commas. eq is the offset of
// the first top-level '=' or -1.
type segment struct {
	text string
	eq   int
}

// splitHeader lexes a header and splits it on top-level commas. Commas and
// '=' inside double quotes do not split.
func splitHeader(filename, header string) ([]segment, error) {
	lex, err := _headerLexer.LexString(filename, header)
	if err != nil {
		return nil, err
	}
	toks, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, err
	}
	var (
		segs []segment
		cur  strings.Builder
		eq   = -1
	)
	for _, t := range toks {
		switch t.Type {
		case lexer.EOF:
		case _tokComma:
			segs = append(segs, segment{text: cur.String(), eq: eq})
			cur.Reset()
			eq = -1
		case _tokEquals:
			if eq < 0 {
				eq = cur.Len()
			}
			_, _ = cur.WriteString(t.Value)
		default:
			_, _ = cur.WriteString(t.Value)
		}
	}
	return append(segs, segment{text: cur.String(), eq: eq}), nil
}

// parseHeader fills the keyword fields of b from the header text (LF
// newlines, continuation lines included). A header that cannot be split
// keeps its keyword name and is stored verbatim in RawHeader.
func parseHeader(filename, header string, preserve bool) (*deck.Block, error) {
	trimmed := strings.TrimLeft(header, " \t")
	lead := header[:len(header)-len(trimmed)]
	body := strings.TrimPrefix(trimmed, "*")

	segs, err := splitHeader(filename, body)
	if err != nil {
		b := rawBlock(lead, body, header)
		return b, fmt.Errorf("%s: %q: %w: %w", filename, firstLine(header), ErrMalformedHeader, err)
	}

	b := deck.NewBlock(segs[0].text)
	b.Lead = lead
	if segs[0].eq >= 0 {
		b = rawBlock(lead, body, header)
		return b, fmt.Errorf("%s: %q: %w: '=' in keyword name", filename, firstLine(header), ErrMalformedHeader)
	}
	for i, seg := range segs[1:] {
		last := i == len(segs)-2
		if strings.TrimSpace(seg.text) == "" {
			if last {
				b.HeaderTail = "," + seg.text
				continue
			}
			b = rawBlock(lead, body, header)
			return b, fmt.Errorf("%s: %q: %w: empty parameter", filename, firstLine(header), ErrMalformedHeader)
		}
		p := deck.Param{Key: seg.text}
		if seg.eq >= 0 {
			p.Key = seg.text[:seg.eq]
			v, _ := scalar.Parse(seg.text[seg.eq+1:], scalar.HintUnknown)
			p.Value = v.WithPreserve(preserve)
			p.HasValue = true
		}
		if strings.TrimSpace(p.Key) == "" {
			b = rawBlock(lead, body, header)
			return b, fmt.Errorf("%s: %q: %w: parameter without a name", filename, firstLine(header), ErrMalformedHeader)
		}
		if b.Params.Has(p.Key) {
			b = rawBlock(lead, body, header)
			return b, fmt.Errorf("%s: %q: %w: repeated parameter %q", filename, firstLine(header), ErrMalformedHeader, strings.TrimSpace(p.Key))
		}
		b.Params.Set(p.Key, p)
	}
	return b, nil
}

// rawBlock builds a block whose header is kept verbatim. The keyword name
// is the text before the first comma.
func rawBlock(lead, body, header string) *deck.Block {
	name, _, _ := strings.Cut(body, ",")
	b := deck.NewBlock(strings.TrimSpace(firstLine(name)))
	b.Lead = lead
	b.RawHeader = header
	return b
}

// headerLines returns how many of lines form the keyword line: the first
// line plus every continuation line after a line ending in a comma.
func headerLines(lines []string) int {
	n := 1
	for n < len(lines) && strings.HasSuffix(strings.TrimRight(lines[n-1], " \t"), ",") {
		n++
	}
	return n
}

func firstLine(s string) string {
	l, _, _ := strings.Cut(s, "\n")
	return l
}

// isComment reports whether a line is a "**" comment.
func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "**")
}

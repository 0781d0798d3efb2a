package deck

import (
	"slices"
	"strings"

	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/scalar"
)

// Param is one keyword parameter as spelled in the header.
type Param struct {
	// Key is the source spelling after the separating comma, including
	// leading whitespace and continuation newlines.
	Key string
	// Value holds the text after '='. Unset for flag parameters.
	Value    scalar.Scalar
	HasValue bool
}

// Text returns the unquoted, trimmed value.
func (p Param) Text() string { return p.Value.Text() }

// Block is one *KEYWORD record.
type Block struct {
	// Name is the normalized keyword name: lowercase, no spaces.
	Name string
	// Lead is whitespace preceding the '*'.
	Lead string
	// NameRaw is the keyword spelling between '*' and the first comma.
	NameRaw string
	Params  *csmap.Map[Param]
	// HeaderTail is a trailing ",<spaces>" after the last parameter.
	HeaderTail string
	// RawHeader holds the verbatim header of a block whose parameters could
	// not be parsed. When set, the header is written unchanged.
	RawHeader string

	Data     []Line
	Comments []Comment
	Subs     []Handle
	Parent   Handle
	Path     Path

	// File is the child file of an include or manifest entry, or the data
	// file of a keyword that reads INPUT= data.
	File *SourceFile
	// Placeholder marks manifest entries that stand in for a child deck.
	// Placeholders are never written.
	Placeholder bool
	// BaseStep is the step whose end state seeds this step, or NoHandle.
	BaseStep Handle

	// Pending holds raw data lines awaiting a later parsing pass.
	Pending []string
	// Inline holds the lines written after the header of a block whose
	// data lives in File.
	Inline []string
}

// NewBlock returns a parameterless block for keyword name.
func NewBlock(name string) *Block {
	return &Block{
		Name:     csmap.Normalize(name),
		NameRaw:  name,
		Params:   csmap.New[Param](),
		Parent:   NoHandle,
		BaseStep: NoHandle,
	}
}

// Is reports whether the block's keyword matches one of names.
func (b *Block) Is(names ...string) bool {
	return slices.ContainsFunc(names, func(n string) bool { return csmap.Normalize(n) == b.Name })
}

// Param returns the value of a parameter.
func (b *Block) Param(name string) (scalar.Scalar, bool) {
	p, ok := b.Params.Get(name)
	return p.Value, ok
}

// ParamText returns the unquoted text of a parameter, or "".
func (b *Block) ParamText(name string) string {
	p, _ := b.Params.Get(name)
	return p.Text()
}

// ParamKey returns the normalized text of a parameter value, or "".
func (b *Block) ParamKey(name string) string {
	return csmap.Normalize(b.ParamText(name))
}

// HasParam reports whether the parameter is present.
func (b *Block) HasParam(name string) bool {
	return b.Params.Has(name)
}

// SetParam sets a parameter value, keeping the spelling of an existing key.
// An empty value sets a flag parameter.
func (b *Block) SetParam(name, value string) {
	if b.Params == nil {
		b.Params = csmap.New[Param]()
	}
	p, ok := b.Params.Get(name)
	if !ok {
		p.Key = " " + name
	}
	p.HasValue = value != ""
	p.Value = scalar.FromString(value)
	b.Params.Set(name, p)
	b.RawHeader = ""
}

// DeleteParam removes a parameter.
func (b *Block) DeleteParam(name string) bool {
	ok := b.Params.Delete(name)
	if ok {
		b.RawHeader = ""
	}
	return ok
}

// FormatHeader renders the keyword line, including continuation newlines.
func (b *Block) FormatHeader(opts scalar.FormatOpts) string {
	if b.RawHeader != "" {
		return b.RawHeader
	}
	var sb strings.Builder
	_, _ = sb.WriteString(b.Lead)
	_ = sb.WriteByte('*')
	_, _ = sb.WriteString(b.NameRaw)
	for _, p := range b.Params.All() {
		_ = sb.WriteByte(',')
		_, _ = sb.WriteString(p.Key)
		if p.HasValue {
			_ = sb.WriteByte('=')
			_, _ = sb.WriteString(p.Value.Format(opts))
		}
	}
	_, _ = sb.WriteString(b.HeaderTail)
	return sb.String()
}

// FormatData renders records and comments interleaved. Comments whose index
// lies past the end are appended.
func (b *Block) FormatData(opts scalar.FormatOpts) []string {
	out := make([]string, 0, len(b.Data)+len(b.Comments))
	ci, di := 0, 0
	for pos := 0; di < len(b.Data) || ci < len(b.Comments); pos++ {
		if ci < len(b.Comments) && (b.Comments[ci].Index <= pos || di >= len(b.Data)) {
			out = append(out, b.Comments[ci].Text)
			ci++
			continue
		}
		out = append(out, b.Data[di].Format(opts))
		di++
	}
	return out
}

// Format renders the header and data joined with "\n".
func (b *Block) Format(opts scalar.FormatOpts) string {
	return strings.Join(append([]string{b.FormatHeader(opts)}, b.FormatData(opts)...), "\n")
}

// Clone returns a deep copy of the block. Sub-block handles are copied as
// values and still refer to the original arena.
func (b *Block) Clone() *Block {
	out := *b
	out.Params = b.Params.Clone()
	out.Data = mapSlice(b.Data, Line.Clone)
	out.Comments = slices.Clone(b.Comments)
	out.Subs = slices.Clone(b.Subs)
	out.Path = slices.Clone(b.Path)
	out.Pending = slices.Clone(b.Pending)
	out.Inline = slices.Clone(b.Inline)
	if b.File != nil {
		f := *b.File
		out.File = &f
	}
	return &out
}

// linePositions returns the interleaved output position of each record.
func (b *Block) linePositions() []int {
	pos := make([]int, len(b.Data))
	ci, di := 0, 0
	for p := 0; di < len(b.Data); p++ {
		if ci < len(b.Comments) && b.Comments[ci].Index <= p {
			ci++
			continue
		}
		pos[di] = p
		di++
	}
	return pos
}

// DeleteLine removes record i and shifts later comments up by one.
func (b *Block) DeleteLine(i int) {
	if i < 0 || i >= len(b.Data) {
		return
	}
	p := b.linePositions()[i]
	b.Data = slices.Delete(b.Data, i, i+1)
	for ci := range b.Comments {
		if b.Comments[ci].Index > p {
			b.Comments[ci].Index--
		}
	}
}

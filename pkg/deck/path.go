package deck

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
)

// SegKind identifies one step of a Path.
type SegKind uint8

// Path segment kinds.
const (
	SegKeyword SegKind = iota // top-level block
	SegSub                    // nested block
	SegData                   // data record
	SegCell                   // cell of a record
	SegParam                  // header parameter
)

// PathSeg is one step of a Path. Name is used by SegParam only.
type PathSeg struct {
	Kind  SegKind
	Index int
	Name  string
}

// Path addresses a block, record, cell or parameter inside a deck.
type Path []PathSeg

// Block returns the prefix of p that addresses a block.
func (p Path) Block() Path {
	n := 0
	for n < len(p) && (p[n].Kind == SegKeyword || p[n].Kind == SegSub) {
		n++
	}
	return p[:n]
}

// Line returns the record index addressed by p, or -1.
func (p Path) Line() int {
	for _, s := range p {
		if s.Kind == SegData {
			return s.Index
		}
	}
	return -1
}

// Cell returns the cell index addressed by p, or -1.
func (p Path) Cell() int {
	for _, s := range p {
		if s.Kind == SegCell {
			return s.Index
		}
	}
	return -1
}

// Child returns a copy of p extended by one segment.
func (p Path) Child(kind SegKind, i int) Path {
	return append(slices.Clone(p), PathSeg{Kind: kind, Index: i})
}

// ParamPath returns a copy of p addressing parameter name.
func (p Path) ParamPath(name string) Path {
	return append(slices.Clone(p), PathSeg{Kind: SegParam, Name: name})
}

// String renders the path as root.keywords[i].sub_blocks[j].data[k][l].
func (p Path) String() string {
	var sb strings.Builder
	_, _ = sb.WriteString("root")
	for _, s := range p {
		switch s.Kind {
		case SegKeyword:
			_, _ = fmt.Fprintf(&sb, ".keywords[%d]", s.Index)
		case SegSub:
			_, _ = fmt.Fprintf(&sb, ".sub_blocks[%d]", s.Index)
		case SegData:
			_, _ = fmt.Fprintf(&sb, ".data[%d]", s.Index)
		case SegCell:
			_, _ = fmt.Fprintf(&sb, "[%d]", s.Index)
		case SegParam:
			_, _ = fmt.Fprintf(&sb, ".parameter[%q]", s.Name)
		}
	}
	return sb.String()
}

// Compare orders paths in document order: segment indices compared
// lexicographically, a prefix before its extensions.
func Compare(a, b Path) int {
	for i := range min(len(a), len(b)) {
		if c := cmp.Compare(a[i].Kind, b[i].Kind); c != 0 {
			return c
		}
		if c := cmp.Compare(a[i].Index, b[i].Index); c != 0 {
			return c
		}
		if c := cmp.Compare(a[i].Name, b[i].Name); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

var _segPattern = regexp.MustCompile(`^\.(keywords|sub_blocks|data)\[(\d+)\]|^\[(\d+)\]|^\.parameter\["((?:[^"\\]|\\.)*)"\]`)

// ParsePath parses the String form of a Path.
func ParsePath(s string) (Path, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "root")
	if !ok {
		return nil, fmt.Errorf("%q: missing root: %w", s, errInvalidPath())
	}
	var p Path
	for rest != "" {
		m := _segPattern.FindStringSubmatch(rest)
		if m == nil {
			return nil, fmt.Errorf("%q: unexpected %q: %w", s, rest, errInvalidPath())
		}
		rest = rest[len(m[0]):]
		switch {
		case m[1] == "keywords":
			p = append(p, PathSeg{Kind: SegKeyword, Index: atoi(m[2])})
		case m[1] == "sub_blocks":
			p = append(p, PathSeg{Kind: SegSub, Index: atoi(m[2])})
		case m[1] == "data":
			p = append(p, PathSeg{Kind: SegData, Index: atoi(m[2])})
		case m[3] != "":
			p = append(p, PathSeg{Kind: SegCell, Index: atoi(m[3])})
		default:
			name, err := strconv.Unquote(`"` + m[4] + `"`)
			if err != nil {
				return nil, fmt.Errorf("%q: parameter name: %w", s, errInvalidPath())
			}
			p = append(p, PathSeg{Kind: SegParam, Name: name})
		}
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%q: %w", s, err)
	}
	return p, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func errInvalidPath() error {
	return fmt.Errorf("%w: %w", ErrInvalidPath, errdefs.ErrInvalidArgument)
}

// validate checks segment ordering: one keyword, subs, then at most one
// record with one cell, or one parameter.
func (p Path) validate() error {
	if len(p) == 0 || p[0].Kind != SegKeyword {
		return errInvalidPath()
	}
	stage := SegSub
	for _, s := range p[1:] {
		switch {
		case s.Kind == SegSub && stage == SegSub:
		case s.Kind == SegData && stage == SegSub:
			stage = SegData
		case s.Kind == SegCell && stage == SegData:
			stage = SegCell
		case s.Kind == SegParam && stage == SegSub:
			stage = SegParam
		default:
			return errInvalidPath()
		}
	}
	return nil
}

// Target is what a Path resolves to. Line and Cell are -1 when the path
// stops at a block; Param is set for parameter paths.
type Target struct {
	Block Handle
	Line  int
	Cell  int
	Param string
}

// Navigate resolves p against the tree.
func (d *Deck) Navigate(p Path) (Target, error) {
	if err := p.validate(); err != nil {
		return Target{}, fmt.Errorf("%s: %w", p, err)
	}
	t := Target{Block: NoHandle, Line: -1, Cell: -1}
	for _, s := range p {
		switch s.Kind {
		case SegKeyword, SegSub:
			kids := d.Children(t.Block)
			if s.Index < 0 || s.Index >= len(kids) {
				return Target{}, fmt.Errorf("%s: block index %d out of range: %w", p, s.Index, errNotFound())
			}
			t.Block = kids[s.Index]
		case SegData:
			b := d.Block(t.Block)
			if s.Index < 0 || s.Index >= len(b.Data) {
				return Target{}, fmt.Errorf("%s: record %d out of range: %w", p, s.Index, errNotFound())
			}
			t.Line = s.Index
		case SegCell:
			b := d.Block(t.Block)
			if s.Index < 0 || s.Index >= len(b.Data[t.Line].Cells) {
				return Target{}, fmt.Errorf("%s: cell %d out of range: %w", p, s.Index, errNotFound())
			}
			t.Cell = s.Index
		case SegParam:
			if !d.Block(t.Block).HasParam(s.Name) {
				return Target{}, fmt.Errorf("%s: parameter %q: %w", p, s.Name, errNotFound())
			}
			t.Param = s.Name
		}
	}
	return t, nil
}

func errNotFound() error {
	return fmt.Errorf("%w: %w", ErrInvalidPath, errdefs.ErrNotFound)
}

// PathOf returns the current path of block h.
func (d *Deck) PathOf(h Handle) Path {
	if b := d.Block(h); b != nil {
		return b.Path
	}
	return nil
}

// SortHandles orders handles in document order by path.
func (d *Deck) SortHandles(hs []Handle) {
	slices.SortStableFunc(hs, func(a, b Handle) int {
		return Compare(d.PathOf(a), d.PathOf(b))
	})
}

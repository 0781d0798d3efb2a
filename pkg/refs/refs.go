// Package refs finds where named entities and mesh labels are referred to
// inside a deck. Scans are driven by an embedded rule table; resolving
// never modifies the deck.
package refs

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/scalar"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// ErrDanglingReference marks a requested name with no defining block. It
// is logged, never returned.
var ErrDanglingReference = errors.New("dangling reference")

// Region says what goes away when a reference is removed.
type Region uint8

// Regions.
const (
	// RegionLine is the whole data record.
	RegionLine Region = iota
	// RegionMultiLine is a group of consecutive records.
	RegionMultiLine
	// RegionSubLine is a slice of one record.
	RegionSubLine
	// RegionAllData is every record of the block.
	RegionAllData
	// RegionBlock is the block itself, for parameter references.
	RegionBlock
	// RegionGenerate is a GENERATE triple whose range covers a label. The
	// triple has to be expanded before the label can be removed.
	RegionGenerate
)

var _regionNames = [...]string{
	RegionLine:      "line",
	RegionMultiLine: "multi_line",
	RegionSubLine:   "sub_line",
	RegionAllData:   "all_data",
	RegionBlock:     "block",
	RegionGenerate:  "generate",
}

func (r Region) String() string {
	if int(r) < len(_regionNames) {
		return _regionNames[r]
	}
	return "region(" + strconv.Itoa(int(r)) + ")"
}

// ParseRegion reads a region name; '-', '_' and blanks are ignored.
func ParseRegion(s string) (Region, error) {
	n := _regionFold.Replace(csmap.Normalize(s))
	for i, name := range _regionNames {
		if _regionFold.Replace(name) == n {
			return Region(i), nil
		}
	}
	return 0, fmt.Errorf("region %q: %w", s, ErrTypeMismatch)
}

var _regionFold = strings.NewReplacer("-", "", "_", "")

// Ref is one place a name is referred to.
type Ref struct {
	Name  string
	Block deck.Handle
	// Path addresses the cell or parameter holding the name. Generate refs
	// address the record.
	Path   deck.Path
	Region Region
	// Affected lists what removing the reference removes: records for line
	// regions, cells for sub-line regions, the block otherwise.
	Affected []deck.Path
}

// Result holds the references found per requested name.
type Result struct {
	Kind string
	refs *csmap.Map[[]Ref]
}

func newResult(kind string, names []string) *Result {
	r := &Result{Kind: kind, refs: csmap.New[[]Ref]()}
	for _, n := range names {
		if !r.refs.Has(n) {
			r.refs.Set(n, nil)
		}
	}
	return r
}

// Get returns the references to name in document order.
func (r *Result) Get(name string) []Ref {
	refs, _ := r.refs.Get(name)
	return refs
}

// Names returns the requested names in request order.
func (r *Result) Names() []string {
	return r.refs.Keys()
}

// All yields each requested name with its references.
func (r *Result) All() iter.Seq2[string, []Ref] {
	return r.refs.All()
}

// Len returns the total number of references.
func (r *Result) Len() int {
	n := 0
	for _, refs := range r.refs.All() {
		n += len(refs)
	}
	return n
}

// Refs returns every reference in document order.
func (r *Result) Refs() []Ref {
	var out []Ref
	for _, refs := range r.refs.All() {
		out = append(out, refs...)
	}
	slices.SortStableFunc(out, func(a, b Ref) int { return deck.Compare(a.Path, b.Path) })
	return out
}

// Resolver scans a deck with a rule table.
type Resolver struct {
	Rules *Rules
	// CheckDefined warns about names with no defining block.
	CheckDefined bool
}

// New returns a Resolver over the embedded rules that warns about
// dangling names.
func New() *Resolver {
	return &Resolver{Rules: DefaultRules(), CheckDefined: true}
}

// FindReferences resolves names of kind in d with the default Resolver.
func FindReferences(ctx context.Context, d *deck.Deck, kind string, names []string) *Result {
	return New().Find(ctx, d, kind, names)
}

// Find returns every reference to names of kind. An unknown kind yields
// entries with no references.
func (r *Resolver) Find(ctx context.Context, d *deck.Deck, kind string, names []string) *Result {
	res := newResult(csmap.Normalize(kind), names)
	rules := r.Rules.For(kind)
	log := slogctx.FromContext(ctx)
	if rules == nil {
		log.LogAttrs(ctx, slog.LevelDebug, "no reference rules for kind", slog.String("kind", kind))
		return res
	}
	if r.CheckDefined {
		r.checkDefined(ctx, d, res)
	}

	s := &scan{d: d, res: res, seen: make(map[string]struct{}), wanted: make(map[string]string)}
	for _, n := range res.Names() {
		s.wanted[key(n)] = n
	}
	for _, rule := range rules {
		switch {
		case rule.Connectivity:
			s.connectivity()
		case rule.Param != "":
			s.param(rule)
		default:
			s.data(ctx, rule)
		}
	}
	for name, refs := range res.refs.All() {
		slices.SortStableFunc(refs, func(a, b Ref) int { return deck.Compare(a.Path, b.Path) })
		res.refs.Set(name, refs)
	}
	return res
}

// checkDefined logs names with no defining block.
func (r *Resolver) checkDefined(ctx context.Context, d *deck.Deck, res *Result) {
	log := slogctx.FromContext(ctx)
	for _, name := range res.Names() {
		if defined(d, res.Kind, name) {
			continue
		}
		log.LogAttrs(ctx, slog.LevelWarn, ErrDanglingReference.Error(),
			slog.String("kind", res.Kind),
			slog.String("name", name),
		)
	}
}

func defined(d *deck.Deck, kind, name string) bool {
	switch kind {
	case "node", "element":
		label, err := strconv.ParseInt(name, 10, 64)
		if err != nil || d.Mesh == nil {
			return false
		}
		if kind == "node" {
			_, ok := d.Mesh.Node(label)
			return ok
		}
		_, ok := d.Mesh.Element(label)
		return ok
	default:
		return d.Registry != nil && d.Registry.Has(kind, name)
	}
}

// key is the comparison form of a name: integer labels in decimal, other
// names normalized.
func key(name string) string {
	if n, err := strconv.ParseInt(name, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return csmap.Normalize(name)
}

type scan struct {
	d      *deck.Deck
	res    *Result
	wanted map[string]string
	seen   map[string]struct{}
}

// cellKey is the comparison form of a data cell after parameter
// substitution.
func (s *scan) cellKey(c scalar.Scalar) string {
	c = s.d.Substitute(c)
	if n, ok := c.Int(); ok {
		return strconv.FormatInt(n, 10)
	}
	return csmap.Normalize(c.Text())
}

func (s *scan) add(name string, ref Ref) {
	id := name + "|" + ref.Path.String()
	if _, dup := s.seen[id]; dup {
		return
	}
	s.seen[id] = struct{}{}
	ref.Name = name
	s.res.refs.Set(name, append(s.res.Get(name), ref))
}

func (s *scan) blocks(rule *Rule) []deck.Handle {
	hs, _ := s.d.Find(deck.NewQuery(rule.keywords()...))
	out := hs[:0]
	for _, h := range hs {
		if s.accepts(rule, s.d.Block(h)) {
			out = append(out, h)
		}
	}
	return out
}

func (s *scan) accepts(rule *Rule, b *deck.Block) bool {
	for _, c := range rule.Exclude {
		if matches(b, c) {
			return false
		}
	}
	if len(rule.Params) > 0 {
		hits := 0
		for _, c := range rule.Params {
			if matches(b, c) {
				hits++
			}
		}
		if (rule.Any && hits == 0) || (!rule.Any && hits < len(rule.Params)) {
			return false
		}
	}
	if rule.Parent == "" {
		return true
	}
	p := s.d.Block(b.Parent)
	switch {
	case p == nil || p.Name != rule.Parent:
		return false
	case rule.ParentHas != "" && !p.HasParam(rule.ParentHas):
		return false
	case rule.ParentLacks != "" && p.HasParam(rule.ParentLacks):
		return false
	}
	return true
}

func matches(b *deck.Block, c Criterion) bool {
	p, ok := b.Params.Get(c.Key)
	if !ok {
		return false
	}
	return c.Value == "" || csmap.Normalize(p.Text()) == c.Value
}

func (s *scan) param(rule *Rule) {
	for _, h := range s.blocks(rule) {
		b := s.d.Block(h)
		p, ok := b.Params.Get(rule.Param)
		if !ok || !p.HasValue {
			continue
		}
		name, ok := s.wanted[s.cellKey(p.Value)]
		if !ok {
			continue
		}
		spelling, _ := b.Params.Spelling(rule.Param)
		s.add(name, Ref{
			Block:    h,
			Path:     b.Path.ParamPath(strings.TrimSpace(spelling)),
			Region:   RegionBlock,
			Affected: []deck.Path{b.Path},
		})
	}
}

func (s *scan) data(ctx context.Context, rule *Rule) {
	for _, h := range s.blocks(rule) {
		b := s.d.Block(h)
		if b.HasParam("generate") && b.Is("nset", "elset") {
			s.generate(h, b)
			continue
		}
		lines, region := rule.Lines, rule.Region
		if rule.Every != "" {
			sl, err := _strides[rule.Every](s.d, b)
			if err != nil {
				slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "skipping reference scan",
					slog.String("keyword", b.NameRaw),
					slog.String("path", b.Path.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			lines = sl
			if !rule.regionSet && sl.Step > 1 {
				region = RegionMultiLine
			}
		}
		for _, li := range lines.Indices(len(b.Data)) {
			l := b.Data[li]
			for _, ci := range rule.Cells.Indices(len(l.Cells)) {
				if rule.When != "" && !_predicates[rule.When](l, ci) {
					continue
				}
				name, ok := s.wanted[s.cellKey(l.Cells[ci])]
				if !ok {
					continue
				}
				s.add(name, Ref{
					Block:    h,
					Path:     b.Path.Child(deck.SegData, li).Child(deck.SegCell, ci),
					Region:   region,
					Affected: affected(b, region, li, ci, lines.Step, rule.Cells.Step),
				})
			}
		}
	}
}

// affected lists the paths a reference at record li, cell ci removes.
func affected(b *deck.Block, region Region, li, ci, lineStep, cellStep int) []deck.Path {
	switch region {
	case RegionMultiLine:
		out := make([]deck.Path, 0, lineStep)
		for i := li; i < min(li+lineStep, len(b.Data)); i++ {
			out = append(out, b.Path.Child(deck.SegData, i))
		}
		return out
	case RegionSubLine:
		line := b.Path.Child(deck.SegData, li)
		out := make([]deck.Path, 0, cellStep)
		for i := ci; i < min(ci+cellStep, len(b.Data[li].Cells)); i++ {
			out = append(out, line.Child(deck.SegCell, i))
		}
		return out
	case RegionAllData, RegionBlock:
		return []deck.Path{b.Path}
	default:
		return []deck.Path{b.Path.Child(deck.SegData, li)}
	}
}

// generate matches labels inside the start, stop, step triples of a
// GENERATE set block.
func (s *scan) generate(h deck.Handle, b *deck.Block) {
	for li, l := range b.Data {
		if len(l.Cells) < 2 {
			continue
		}
		start, err1 := s.d.LabelOf(l.Cells[0])
		stop, err2 := s.d.LabelOf(l.Cells[1])
		if err1 != nil || err2 != nil {
			continue
		}
		step := int64(1)
		if len(l.Cells) > 2 && !l.Cells[2].IsBlank() {
			if n, err := s.d.LabelOf(l.Cells[2]); err == nil && n > 0 {
				step = n
			}
		}
		line := b.Path.Child(deck.SegData, li)
		for k, name := range s.wanted {
			label, err := strconv.ParseInt(k, 10, 64)
			if err != nil || label < start || label > stop || (label-start)%step != 0 {
				continue
			}
			s.add(name, Ref{
				Block:    h,
				Path:     line,
				Region:   RegionGenerate,
				Affected: []deck.Path{line},
			})
		}
	}
}

// connectivity reports each *ELEMENT record that cites a wanted node.
func (s *scan) connectivity() {
	if s.d.Mesh == nil {
		return
	}
	for k, name := range s.wanted {
		label, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		for _, el := range s.d.Mesh.ElementsOf(label) {
			e, ok := s.d.Mesh.Element(el)
			if !ok {
				continue
			}
			h := deck.Handle(e.Owner)
			b := s.d.Block(h)
			li := s.d.LineOfLabel(h, el)
			if b == nil || li < 0 {
				continue
			}
			line := b.Path.Child(deck.SegData, li)
			for ci, c := range b.Data[li].Cells[1:] {
				if n, err := s.d.LabelOf(c); err == nil && n == label {
					s.add(name, Ref{
						Block:    h,
						Path:     line.Child(deck.SegCell, ci+1),
						Region:   RegionLine,
						Affected: []deck.Path{line},
					})
				}
			}
		}
	}
}

package refs

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/ndisidore/inpdeck/pkg/csmap"
)

//go:embed refs.kdl
var _rulesKDL []byte

// Sentinel errors for rule loading.
var (
	ErrUnknownNode  = errors.New("unknown rule node")
	ErrMissingField = errors.New("missing required field")
	ErrTypeMismatch = errors.New("argument type mismatch")
	ErrBadSlice     = errors.New("malformed slice")
	ErrUnknownHook  = errors.New("unknown predicate or stride")
)

// Slice selects indices start, start+step, ... below stop. Stop -1 runs
// to the end.
type Slice struct {
	Start, Stop, Step int
}

// All selects every index.
var All = Slice{Start: 0, Stop: -1, Step: 1}

// ParseSlice reads "n", "a:b", "a:b:c" (brackets optional), "odd", "even"
// or "" for all.
func ParseSlice(s string) (Slice, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	switch strings.ToLower(s) {
	case "":
		return All, nil
	case "odd":
		return Slice{Start: 1, Stop: -1, Step: 2}, nil
	case "even":
		return Slice{Start: 0, Stop: -1, Step: 2}, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return Slice{}, fmt.Errorf("%q: %w", s, ErrBadSlice)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			nums[i] = -1
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Slice{}, fmt.Errorf("%q: %w", s, ErrBadSlice)
		}
		nums[i] = n
	}
	if len(parts) == 1 {
		return Slice{Start: nums[0], Stop: nums[0] + 1, Step: 1}, nil
	}
	out := Slice{Start: max(nums[0], 0), Stop: nums[1], Step: 1}
	if len(parts) == 3 && nums[2] >= 0 {
		if nums[2] == 0 {
			return Slice{}, fmt.Errorf("%q: zero step: %w", s, ErrBadSlice)
		}
		out.Step = nums[2]
	}
	return out, nil
}

// Indices returns the selected indices below n.
func (s Slice) Indices(n int) []int {
	stop := n
	if s.Stop >= 0 {
		stop = min(s.Stop, n)
	}
	var out []int
	for i := s.Start; i < stop; i += s.Step {
		out = append(out, i)
	}
	return out
}

// Criterion tests one header parameter. An empty Value tests presence.
type Criterion struct {
	Key   string
	Value string
}

func parseCriteria(s string) []Criterion {
	var out []Criterion
	for part := range strings.SplitSeq(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		out = append(out, Criterion{Key: csmap.Normalize(k), Value: csmap.Normalize(v)})
	}
	return out
}

// Rule is one place a name can appear.
type Rule struct {
	// Keywords are the normalized keyword names the rule scans.
	Keywords map[string]struct{}
	// Param names the parameter holding the name. Data rules leave it empty.
	Param string
	// Connectivity scans *ELEMENT records through the mesh index.
	Connectivity bool

	Cells   Slice
	Lines   Slice
	Region  Region
	Params  []Criterion
	Any     bool
	Exclude []Criterion

	Parent      string
	ParentHas   string
	ParentLacks string

	// When names a line predicate; Every names a line stride function.
	When  string
	Every string

	// regionSet records an explicit region so strides keep it.
	regionSet bool
}

// Rules maps reference kinds to their scan rules.
type Rules struct {
	kinds *csmap.Map[[]*Rule]
}

var _default = sync.OnceValue(func() *Rules {
	r, err := LoadRules(bytes.NewReader(_rulesKDL))
	if err != nil {
		panic(fmt.Sprintf("refs: embedded rule table: %v", err))
	}
	return r
})

// DefaultRules returns the embedded rule table. It is shared and must not
// be modified.
func DefaultRules() *Rules {
	return _default()
}

// LoadRules parses a KDL rule table.
func LoadRules(r io.Reader) (*Rules, error) {
	doc, err := kdl.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing rule table: %w", err)
	}
	out := &Rules{kinds: csmap.New[[]*Rule]()}
	for _, node := range doc.Nodes {
		if name := node.Name.ValueString(); name != "kind" {
			return nil, fmt.Errorf("rule table: %q: %w", name, ErrUnknownNode)
		}
		kinds, err := stringArgs(node, 0)
		if err != nil || len(kinds) == 0 {
			return nil, fmt.Errorf("rule table: kind: %w", errOr(err, ErrMissingField))
		}
		rules := make([]*Rule, 0, len(node.Children))
		for _, child := range node.Children {
			rule, err := parseRule(child)
			if err != nil {
				return nil, fmt.Errorf("rule table: kind %q: %w", kinds[0], err)
			}
			rules = append(rules, rule)
		}
		for _, k := range kinds {
			prev, _ := out.kinds.Get(k)
			out.kinds.Set(k, append(prev, rules...))
		}
	}
	return out, nil
}

// For returns the rules of kind, or nil for an unknown kind.
func (r *Rules) For(kind string) []*Rule {
	rules, _ := r.kinds.Get(kind)
	return rules
}

// Kinds returns the known kinds in table order.
func (r *Rules) Kinds() []string {
	return r.kinds.Keys()
}

func parseRule(node *document.Node) (*Rule, error) {
	kind := node.Name.ValueString()
	rule := &Rule{Cells: All, Lines: All, Region: RegionLine, Keywords: make(map[string]struct{})}
	switch kind {
	case "connectivity":
		rule.Connectivity = true
		rule.Keywords["element"] = struct{}{}
		return rule, nil
	case "param":
		args, err := stringArgs(node, 0)
		if err != nil {
			return nil, fmt.Errorf("param: %w", err)
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("param: %w", ErrMissingField)
		}
		rule.Param = csmap.Normalize(args[0])
		rule.Region = RegionBlock
		rule.addKeywords(args[1:])
		return rule, nil
	case "data":
		args, err := stringArgs(node, 0)
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("data: %w", ErrMissingField)
		}
		rule.addKeywords(args)
		if err := rule.applyProps(node); err != nil {
			return nil, fmt.Errorf("data %q: %w", args[0], err)
		}
		return rule, nil
	default:
		return nil, fmt.Errorf("%q: %w", kind, ErrUnknownNode)
	}
}

func (r *Rule) addKeywords(names []string) {
	for _, n := range names {
		r.Keywords[csmap.Normalize(n)] = struct{}{}
	}
}

func (r *Rule) applyProps(node *document.Node) error {
	for key, v := range node.Properties {
		s, ok := v.ResolvedValue().(string)
		if !ok {
			return fmt.Errorf("property %q: %w", key, ErrTypeMismatch)
		}
		var err error
		switch key {
		case "cells":
			r.Cells, err = ParseSlice(s)
		case "lines":
			r.Lines, err = ParseSlice(s)
		case "region":
			r.Region, err = ParseRegion(s)
			r.regionSet = true
		case "params":
			r.Params = parseCriteria(s)
		case "mode":
			switch s {
			case "all":
			case "any":
				r.Any = true
			default:
				err = fmt.Errorf("mode %q: %w", s, ErrTypeMismatch)
			}
		case "exclude":
			r.Exclude = parseCriteria(s)
		case "parent":
			r.Parent = csmap.Normalize(s)
		case "parent-has":
			r.ParentHas = csmap.Normalize(s)
		case "parent-lacks":
			r.ParentLacks = csmap.Normalize(s)
		case "when":
			if _, ok := _predicates[s]; !ok {
				err = fmt.Errorf("when %q: %w", s, ErrUnknownHook)
			}
			r.When = s
		case "every":
			if _, ok := _strides[s]; !ok {
				err = fmt.Errorf("every %q: %w", s, ErrUnknownHook)
			}
			r.Every = s
		default:
			err = fmt.Errorf("property %q: %w", key, ErrUnknownNode)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Scans reports whether the rule applies to keyword name.
func (r *Rule) Scans(name string) bool {
	_, ok := r.Keywords[csmap.Normalize(name)]
	return ok
}

// keywords returns the rule's keywords sorted, for queries.
func (r *Rule) keywords() []string {
	out := make([]string, 0, len(r.Keywords))
	for k := range r.Keywords {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func stringArgs(node *document.Node, from int) ([]string, error) {
	out := make([]string, 0, max(len(node.Arguments)-from, 0))
	for i := from; i < len(node.Arguments); i++ {
		s, ok := node.Arguments[i].ResolvedValue().(string)
		if !ok {
			return nil, fmt.Errorf("argument %d: not a string: %w", i, ErrTypeMismatch)
		}
		out = append(out, s)
	}
	return out, nil
}

func errOr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

package catalog

import (
	"fmt"
	"io"
	"maps"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/ndisidore/inpdeck/pkg/csmap"
)

// Group names a set of keywords that share a parsing or mutation rule.
type Group string

// Keyword groups.
const (
	GroupEnd              Group = "end"
	GroupEndOfFile        Group = "end-of-file"
	GroupDataFromFile     Group = "data-from-file"
	GroupVerbatim         Group = "verbatim"
	GroupGeneralStep      Group = "general-step"
	GroupPerturbationStep Group = "perturbation-step"
	GroupOPAppend         Group = "op-append"
	GroupOPDofRange       Group = "op-dof-range"
	GroupOP               Group = "op"
	GroupEmptyDataAllowed Group = "empty-data-allowed"
)

// DefaultDelay is the parsing pass of keywords without a delay entry.
const DefaultDelay = 1

// Define says where a keyword block declares a named entity.
type Define struct {
	Kind string
	// Param names the parameter holding the name. Empty when DataCell is set.
	Param string
	// DataCell is the cell of every data line holding a name, or -1.
	DataCell int
}

// Keywords holds keyword groupings. Keys are normalized keyword names.
type Keywords struct {
	groups       map[Group]map[string]struct{}
	opMerge      *csmap.Map[int]
	delays       *csmap.Map[int]
	deleteParent *csmap.Map[string]
	subs         *csmap.Map[map[string]struct{}]
	defines      *csmap.Map[Define]
}

func newKeywords() *Keywords {
	return &Keywords{
		groups:       make(map[Group]map[string]struct{}),
		opMerge:      csmap.New[int](),
		delays:       csmap.New[int](),
		deleteParent: csmap.New[string](),
		subs:         csmap.New[map[string]struct{}](),
		defines:      csmap.New[Define](),
	}
}

func loadKeywords(r io.Reader) (*Keywords, error) {
	doc, err := kdl.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing keyword table: %w", err)
	}
	k := newKeywords()
	for _, node := range doc.Nodes {
		if err := k.applyNode(node); err != nil {
			return nil, fmt.Errorf("keyword table: %w", err)
		}
	}
	return k, nil
}

func (k *Keywords) applyNode(node *document.Node) error {
	kind := node.Name.ValueString()
	first, err := stringArg(node, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	switch kind {
	case "group":
		names, err := stringArgs(node, 1)
		if err != nil {
			return fmt.Errorf("group %q: %w", first, err)
		}
		k.AddToGroup(Group(first), names...)
	case "op-merge", "delay":
		n, err := intArgs(node, 1)
		if err != nil || len(n) != 1 {
			return fmt.Errorf("%s %q: expected one integer: %w", kind, first, errOr(err, ErrMissingField))
		}
		if kind == "delay" {
			k.delays.Set(first, n[0])
		} else {
			k.opMerge.Set(first, n[0])
		}
	case "delete-parent":
		parent, err := stringArg(node, 1)
		if err != nil {
			return fmt.Errorf("delete-parent %q: %w", first, err)
		}
		k.SetDeleteParent(first, parent)
	case "sub":
		names, err := stringArgs(node, 1)
		if err != nil {
			return fmt.Errorf("sub %q: %w", first, err)
		}
		set, ok := k.subs.Get(first)
		if !ok {
			set = make(map[string]struct{}, len(names))
		}
		for _, n := range names {
			set[csmap.Normalize(n)] = struct{}{}
		}
		k.subs.Set(first, set)
	case "defines":
		d, err := parseDefine(node)
		if err != nil {
			return fmt.Errorf("defines %q: %w", first, err)
		}
		k.defines.Set(first, d)
	default:
		return fmt.Errorf("%q: %w", kind, ErrUnknownNode)
	}
	return nil
}

func parseDefine(node *document.Node) (Define, error) {
	d := Define{DataCell: -1}
	for key, v := range node.Properties {
		switch key {
		case "kind":
			s, ok := v.ResolvedValue().(string)
			if !ok {
				return Define{}, fmt.Errorf("kind: %w", ErrTypeMismatch)
			}
			d.Kind = s
		case "param":
			s, ok := v.ResolvedValue().(string)
			if !ok {
				return Define{}, fmt.Errorf("param: %w", ErrTypeMismatch)
			}
			d.Param = s
		case "data":
			n, err := toInt(v.ResolvedValue())
			if err != nil {
				return Define{}, fmt.Errorf("data: %w", err)
			}
			d.DataCell = n
		default:
			return Define{}, fmt.Errorf("property %q: %w", key, ErrUnknownNode)
		}
	}
	if d.Kind == "" || (d.Param == "" && d.DataCell < 0) {
		return Define{}, ErrMissingField
	}
	return d, nil
}

func errOr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

// Clone returns a deep copy.
func (k *Keywords) Clone() *Keywords {
	out := newKeywords()
	for g, set := range k.groups {
		out.groups[g] = maps.Clone(set)
	}
	out.opMerge = k.opMerge.Clone()
	out.delays = k.delays.Clone()
	out.deleteParent = k.deleteParent.Clone()
	for name, set := range k.subs.All() {
		out.subs.Set(name, maps.Clone(set))
	}
	out.defines = k.defines.Clone()
	return out
}

// In reports whether keyword name belongs to group g.
func (k *Keywords) In(g Group, name string) bool {
	_, ok := k.groups[g][csmap.Normalize(name)]
	return ok
}

// AddToGroup adds keyword names to group g.
func (k *Keywords) AddToGroup(g Group, names ...string) {
	set, ok := k.groups[g]
	if !ok {
		set = make(map[string]struct{}, len(names))
		k.groups[g] = set
	}
	for _, n := range names {
		set[csmap.Normalize(n)] = struct{}{}
	}
}

// Delay returns the parsing pass of a keyword's data.
func (k *Keywords) Delay(name string) int {
	if d, ok := k.delays.Get(name); ok {
		return d
	}
	return DefaultDelay
}

// MaxDelay returns the highest parsing pass.
func (k *Keywords) MaxDelay() int {
	m := DefaultDelay
	for _, d := range k.delays.All() {
		m = max(m, d)
	}
	return m
}

// OPMerge returns the items-per-line limit for a merge-consolidated
// keyword. The key is the normalized keyword name, optionally followed by
// ", param=value".
func (k *Keywords) OPMerge(key string) (int, bool) {
	return k.opMerge.Get(key)
}

// OPMergeKeys returns the merge-consolidation keys.
func (k *Keywords) OPMergeKeys() []string {
	return k.opMerge.Keys()
}

// DeleteParent returns the keyword of the enclosing block that is deleted
// together with a block of keyword name.
func (k *Keywords) DeleteParent(name string) (string, bool) {
	return k.deleteParent.Get(name)
}

// SetDeleteParent registers a delete-parent rule.
func (k *Keywords) SetDeleteParent(name, parent string) {
	k.deleteParent.Set(name, parent)
}

// HasSubs reports whether parent has a sub-block table.
func (k *Keywords) HasSubs(parent string) bool {
	return k.subs.Has(parent)
}

// AllowsSub reports whether child may nest under parent.
func (k *Keywords) AllowsSub(parent, child string) bool {
	set, ok := k.subs.Get(parent)
	if !ok {
		return false
	}
	_, ok = set[csmap.Normalize(child)]
	return ok
}

// Define returns the named-entity rule for a keyword.
func (k *Keywords) Define(name string) (Define, bool) {
	return k.defines.Get(name)
}

// Package catalog holds the static tables that drive deck parsing: element
// node counts and keyword groupings. Both load from embedded KDL documents.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"sync"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

//go:embed elements.kdl
var _elementsKDL []byte

//go:embed keywords.kdl
var _keywordsKDL []byte

// Sentinel errors for catalog loading and lookups.
var (
	ErrUnknownNode    = errors.New("unknown catalog node")
	ErrMissingField   = errors.New("missing required field")
	ErrTypeMismatch   = errors.New("argument type mismatch")
	ErrUnknownElement = errors.New("element node count unknown")
)

// ElementType describes how many nodes define one element of a type.
type ElementType struct {
	Name string
	// Nodes is the fixed node count. Zero for variable-node types.
	Nodes int
	// Allowed lists the accepted node counts of a variable-node type in
	// ascending order.
	Allowed []int
	// Guessed marks types inferred from deck data.
	Guessed bool
}

// Variable reports whether the type accepts more than one node count.
func (e ElementType) Variable() bool { return len(e.Allowed) > 0 }

// Accepts reports whether n nodes define a valid element of this type.
func (e ElementType) Accepts(n int) bool {
	if e.Variable() {
		return slices.Contains(e.Allowed, n)
	}
	return n == e.Nodes
}

// Max returns the largest accepted node count.
func (e ElementType) Max() int {
	if e.Variable() {
		return e.Allowed[len(e.Allowed)-1]
	}
	return e.Nodes
}

// Catalog is the element table plus keyword groupings. It is safe for
// concurrent use; guessed element types are cached for the catalog's lifetime.
type Catalog struct {
	mu       sync.RWMutex
	elements *csmap.Map[ElementType]

	Keywords *Keywords
}

var _default = sync.OnceValue(func() *Catalog {
	c, err := Load(bytes.NewReader(_elementsKDL), bytes.NewReader(_keywordsKDL))
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded tables: %v", err))
	}
	return c
})

// Default returns a fresh copy of the embedded catalog. Each copy has its
// own guess cache.
func Default() *Catalog {
	return _default().Clone()
}

// Load reads an element table and a keyword table in KDL form.
func Load(elements, keywords io.Reader) (*Catalog, error) {
	c := &Catalog{elements: csmap.New[ElementType]()}
	if err := c.loadElements(elements); err != nil {
		return nil, err
	}
	kw, err := loadKeywords(keywords)
	if err != nil {
		return nil, err
	}
	c.Keywords = kw
	return c, nil
}

// Clone returns a deep copy with an independent guess cache.
func (c *Catalog) Clone() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Catalog{elements: c.elements.Clone(), Keywords: c.Keywords.Clone()}
}

func (c *Catalog) loadElements(r io.Reader) error {
	doc, err := kdl.Parse(r)
	if err != nil {
		return fmt.Errorf("parsing element table: %w", err)
	}
	for _, node := range doc.Nodes {
		kind := node.Name.ValueString()
		name, err := stringArg(node, 0)
		if err != nil {
			return fmt.Errorf("element table %s: %w", kind, err)
		}
		counts, err := intArgs(node, 1)
		if err != nil {
			return fmt.Errorf("element table %s %q: %w", kind, name, err)
		}
		switch {
		case kind == "element" && len(counts) == 1:
			c.elements.Set(name, ElementType{Name: name, Nodes: counts[0]})
		case kind == "variable" && len(counts) > 0:
			slices.Sort(counts)
			c.elements.Set(name, ElementType{Name: name, Allowed: counts})
		case kind == "element" || kind == "variable":
			return fmt.Errorf("element table %s %q: node count: %w", kind, name, ErrMissingField)
		default:
			return fmt.Errorf("element table: %q: %w", kind, ErrUnknownNode)
		}
	}
	return nil
}

// Element returns the catalog entry for an element type label.
func (c *Catalog) Element(name string) (ElementType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.elements.Get(name)
}

// Register adds or replaces an element type.
func (c *Catalog) Register(e ElementType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elements.Set(e.Name, e)
}

// Guess records an element type whose node count was inferred from deck
// data and logs the diagnostic. A zero count is an error. Later lookups of
// the same type return the cached entry without a second warning.
func (c *Catalog) Guess(ctx context.Context, name string, nodes int) (ElementType, error) {
	log := slogctx.FromContext(ctx)
	if nodes <= 0 {
		log.LogAttrs(ctx, slog.LevelError, fmt.Sprintf(_guessFailedText, name, name, name), //nolint:sloglint // fixed diagnostic text
			slog.String("type", name),
		)
		return ElementType{}, fmt.Errorf("%s: %w", name, ErrUnknownElement)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.elements.Get(name); ok {
		return e, nil
	}
	log.LogAttrs(ctx, slog.LevelWarn, fmt.Sprintf(_guessText, name, nodes, name, name), //nolint:sloglint // fixed diagnostic text
		slog.String("type", name),
		slog.Int("nodes", nodes),
	)
	e := ElementType{Name: name, Nodes: nodes, Guessed: true}
	c.elements.Set(name, e)
	return e, nil
}

const (
	_guessText = " WARNING! Element type '%s' is not well documented. It looks like this element type needs %d nodes" +
		" to define the element. \n    If this is incorrect, please specify the 'numNodes' attribute by running" +
		" inp._elementTypeDictionary['%s'] = elType(name='%s', numNodes=NUM)"
	_guessFailedText = " ERROR! Could not find the proper number of nodes for element type '%s'. \n    Please specify" +
		" the 'numNodes' attribute by running inp._elementTypeDictionary['%s'] = elType(name='%s', numNodes=NUM)" +
		" before parsing the input file again."
)

// stringArg returns the string value at the given argument index.
func stringArg(node *document.Node, idx int) (string, error) {
	if idx >= len(node.Arguments) {
		return "", fmt.Errorf("argument %d: %w", idx, ErrMissingField)
	}
	v, ok := node.Arguments[idx].ResolvedValue().(string)
	if !ok {
		return "", fmt.Errorf("argument %d: not a string: %w", idx, ErrTypeMismatch)
	}
	return v, nil
}

// stringArgs returns all string arguments from index from onward.
func stringArgs(node *document.Node, from int) ([]string, error) {
	out := make([]string, 0, max(len(node.Arguments)-from, 0))
	for i := from; i < len(node.Arguments); i++ {
		s, err := stringArg(node, i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// intArgs returns all integer arguments from index from onward.
func intArgs(node *document.Node, from int) ([]int, error) {
	out := make([]int, 0, max(len(node.Arguments)-from, 0))
	for i := from; i < len(node.Arguments); i++ {
		n, err := toInt(node.Arguments[i].ResolvedValue())
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// toInt converts a resolved KDL number to int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil //nolint:gosec // table values are small
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	case *big.Int:
		if n.IsInt64() {
			return int(n.Int64()), nil
		}
	}
	return 0, fmt.Errorf("%v: not an integer: %w", v, ErrTypeMismatch)
}

package deck

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/scalar"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

var _placeholder = regexp.MustCompile(`^<\s*([A-Za-z_][A-Za-z0-9_]*)\s*>$`)

// DefineParameters reads `name = value` assignments from a *PARAMETER
// block into the deck's parameter table. Statements split on ';', text
// after '#' is ignored. Values that name an earlier parameter copy it;
// other values are scalars.
func (d *Deck) DefineParameters(ctx context.Context, h Handle) {
	b := d.Block(h)
	if b == nil {
		return
	}
	log := slogctx.FromContext(ctx)
	for _, l := range b.Data {
		if len(l.Cells) == 0 {
			continue
		}
		text, _, _ := strings.Cut(l.Cells[0].Raw(), "#")
		for stmt := range strings.SplitSeq(text, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			name, value, ok := strings.Cut(stmt, "=")
			name = strings.TrimSpace(name)
			if !ok || name == "" {
				log.LogAttrs(ctx, slog.LevelWarn, "skipping malformed parameter statement",
					slog.String("statement", strings.TrimSpace(stmt)),
					slog.String("path", b.Path.String()),
				)
				continue
			}
			d.Parameters.Set(name, d.evalParameter(strings.TrimSpace(value)))
		}
	}
}

func (d *Deck) evalParameter(value string) scalar.Scalar {
	if v, ok := d.Parameters.Get(value); ok {
		return v
	}
	if len(value) >= 2 && (value[0] == '\'' || value[0] == '"') && value[len(value)-1] == value[0] {
		return scalar.FromString(value[1 : len(value)-1])
	}
	return scalar.MustParse(value)
}

// Substitute resolves a "<name>" cell against the parameter table. Other
// cells are returned unchanged.
func (d *Deck) Substitute(s scalar.Scalar) scalar.Scalar {
	if !s.IsString() || d.Parameters.Len() == 0 {
		return s
	}
	m := _placeholder.FindStringSubmatch(s.Text())
	if m == nil {
		return s
	}
	if v, ok := d.Parameters.Get(m[1]); ok {
		return v
	}
	return s
}

// SubstituteText replaces every "<name>" occurrence in text with the
// parameter value, in one pass.
func (d *Deck) SubstituteText(text string) string {
	if d.Parameters.Len() == 0 || !strings.Contains(text, "<") {
		return text
	}
	pairs := make([]string, 0, d.Parameters.Len()*2)
	for k, v := range d.Parameters.All() {
		pairs = append(pairs, "<"+k+">", v.Text())
		if norm := csmap.Normalize(k); norm != k {
			pairs = append(pairs, "<"+norm+">", v.Text())
		}
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// LabelOf returns the integer label held by a cell after parameter
// substitution.
func (d *Deck) LabelOf(s scalar.Scalar) (int64, error) {
	v := d.Substitute(s)
	n, ok := v.Int()
	if !ok {
		return 0, fmt.Errorf("%q: not an integer label", s.Text())
	}
	return n, nil
}

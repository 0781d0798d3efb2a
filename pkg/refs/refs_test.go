package refs

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/parser"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

const _model = `*NODE, NSET=all
1, 0., 0.
2, 1., 0.
5, 1., 1.
6, 0., 1.
*ELEMENT, TYPE=CPS4, ELSET=plate
10, 1, 2, 5, 6
*ELEMENT, TYPE=T2D2, ELSET=bars
11, 5, 6
*NSET, NSET=corner
5, 6
*NSET, NSET=gen, GENERATE
1, 9, 4
*SURFACE, NAME=top, TYPE=NODE
corner, 1.0
*KINEMATIC COUPLING, REF NODE=5
corner, 1, 3
*MATERIAL, NAME=steel
*ELASTIC
210000., 0.3
*SOLID SECTION, ELSET=plate, MATERIAL=steel
1.0
*ELSET, ELSET=both
plate, 11
*BOUNDARY
5, 1, 2
corner, 3
*STEP, NAME=load
*STATIC
*CLOAD
6, 2, -10.
5, 1, 1.
*DLOAD
10, P, 1.0
*END STEP
`

func parse(t *testing.T, input string) *deck.Deck {
	t.Helper()
	d, err := parser.New(deck.DefaultConfig()).ParseString(context.Background(), input)
	require.NoError(t, err)
	require.Empty(t, d.Problems)
	return d
}

// describe renders refs as "path region" strings.
func describe(refs []Ref) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Path.String()+" "+r.Region.String())
	}
	return out
}

func TestFindReferences(t *testing.T) {
	t.Parallel()

	d := parse(t, _model)

	tests := []struct {
		kind string
		name string
		want []string
	}{
		{
			kind: "node",
			name: "5",
			want: []string{
				"root.keywords[1].data[0][3] line",
				"root.keywords[2].data[0][1] line",
				"root.keywords[3].data[0][0] sub_line",
				"root.keywords[4].data[0] generate",
				`root.keywords[6].parameter["REF NODE"] block`,
				"root.keywords[10].data[0][0] line",
				"root.keywords[11].sub_blocks[1].data[1][0] line",
			},
		},
		{
			kind: "nset",
			name: "CORNER",
			want: []string{
				"root.keywords[5].data[0][0] line",
				"root.keywords[6].data[0][0] line",
				"root.keywords[10].data[1][0] line",
			},
		},
		{
			kind: "elset",
			name: "plate",
			want: []string{
				`root.keywords[8].parameter["ELSET"] block`,
				"root.keywords[9].data[0][0] sub_line",
			},
		},
		{
			kind: "element",
			name: "10",
			want: []string{"root.keywords[11].sub_blocks[2].data[0][0] line"},
		},
		{
			kind: "element",
			name: "11",
			want: []string{"root.keywords[9].data[0][1] sub_line"},
		},
		{
			kind: "material",
			name: "Steel",
			want: []string{`root.keywords[8].parameter["MATERIAL"] block`},
		},
		{
			kind: "node",
			name: "3",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.name, func(t *testing.T) {
			t.Parallel()

			res := FindReferences(context.Background(), d, tt.kind, []string{tt.name})
			assert.Equal(t, []string{tt.name}, res.Names())
			if diff := cmp.Diff(tt.want, describe(res.Get(tt.name))); diff != "" {
				t.Errorf("references mismatch (-want +got):\n%s", diff)
			}
			for _, r := range res.Get(tt.name) {
				assert.Equal(t, tt.name, r.Name)
				_, err := d.Navigate(r.Path)
				require.NoError(t, err, r.Path.String())
			}
		})
	}
}

func TestFindReferencesAffected(t *testing.T) {
	t.Parallel()

	d := parse(t, _model)
	res := FindReferences(context.Background(), d, "node", []string{"5", "6"})
	assert.Equal(t, 2, len(res.Names()))

	affected := make(map[string][]string)
	for _, r := range res.Refs() {
		for _, p := range r.Affected {
			affected[r.Path.String()] = append(affected[r.Path.String()], p.String())
		}
	}
	assert.Equal(t, []string{"root.keywords[1].data[0]"}, affected["root.keywords[1].data[0][3]"])
	assert.Equal(t, []string{"root.keywords[1].data[0]"}, affected["root.keywords[1].data[0][4]"])
	assert.Equal(t, []string{"root.keywords[3].data[0][1]"}, affected["root.keywords[3].data[0][1]"])
	assert.Equal(t, []string{"root.keywords[6]"}, affected[`root.keywords[6].parameter["REF NODE"]`])

	// Refs come back in document order across names.
	all := res.Refs()
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, deck.Compare(all[i-1].Path, all[i].Path), 0)
	}
	assert.Equal(t, len(all), res.Len())
}

func TestFindReferencesUnknownKind(t *testing.T) {
	t.Parallel()

	d := parse(t, _model)
	res := FindReferences(context.Background(), d, "no such kind", []string{"corner"})
	assert.Equal(t, []string{"corner"}, res.Names())
	assert.Zero(t, res.Len())
}

func TestFindReferencesDangling(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := slogctx.ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	d := parse(t, _model)

	res := FindReferences(ctx, d, "nset", []string{"corner", "nowhere"})
	assert.Empty(t, res.Get("nowhere"))
	assert.Len(t, res.Get("corner"), 3)
	assert.Contains(t, buf.String(), ErrDanglingReference.Error())
	assert.Contains(t, buf.String(), "name=nowhere")
	assert.NotContains(t, buf.String(), "name=corner")

	buf.Reset()
	quiet := &Resolver{Rules: DefaultRules()}
	quiet.Find(ctx, d, "nset", []string{"nowhere"})
	assert.Empty(t, buf.String())
}

func TestFindReferencesParameterSubstitution(t *testing.T) {
	t.Parallel()

	d := parse(t, "*PARAMETER\nloaded = 7\n*NODE\n7, 0., 0.\n*CLOAD\n<loaded>, 1, 5.\n")
	res := FindReferences(context.Background(), d, "node", []string{"7"})
	assert.Equal(t, []string{"root.keywords[2].data[0][0] line"}, describe(res.Get("7")))
}

func TestFindReferencesStride(t *testing.T) {
	t.Parallel()

	input := "*NODE\n2, 0., 0.\n5, 1., 0.\n" +
		"*SHELL SECTION, ELSET=e, MATERIAL=m, TEMPERATURE=9\n1.0\n" +
		"*TEMPERATURE\n5, 1., 2., 3., 4., 5., 6., 7.\n5, 9., 10.\n2, 1., 2., 3., 4., 5., 6., 7.\n5, 9., 10.\n"
	d := parse(t, input)

	res := FindReferences(context.Background(), d, "node", []string{"5"})
	refs := res.Get("5")
	require.Len(t, refs, 1)
	assert.Equal(t, "root.keywords[2].data[0][0]", refs[0].Path.String())
	assert.Equal(t, RegionMultiLine, refs[0].Region)
	assert.Equal(t, []string{"root.keywords[2].data[0]", "root.keywords[2].data[1]"}, pathStrings(refs[0].Affected))
}

func TestFindReferencesMissingStride(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := slogctx.ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	d := parse(t, "*ELEMENT, TYPE=T2D2\n10, 1, 2\n*INITIAL CONDITIONS, TYPE=SOLUTION\n10, 0.5\n")

	res := FindReferences(ctx, d, "element", []string{"10"})
	assert.Empty(t, res.Get("10"))
	assert.Contains(t, buf.String(), "skipping reference scan")
}

func pathStrings(ps []deck.Path) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

func TestParseSlice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		n       int
		want    []int
		wantErr bool
	}{
		{in: "", n: 3, want: []int{0, 1, 2}},
		{in: "1", n: 3, want: []int{1}},
		{in: "4", n: 3, want: nil},
		{in: ":2", n: 5, want: []int{0, 1}},
		{in: "1:", n: 4, want: []int{1, 2, 3}},
		{in: "[::3]", n: 7, want: []int{0, 3, 6}},
		{in: "1:5:3", n: 9, want: []int{1, 4}},
		{in: "odd", n: 5, want: []int{1, 3}},
		{in: "EVEN", n: 5, want: []int{0, 2, 4}},
		{in: "1:2:0", wantErr: true},
		{in: "a", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			s, err := ParseSlice(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadSlice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Indices(tt.n))
		})
	}
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	line := deck.TextLine("field", "nodes", "n1", "x", "surface", "s1")
	tests := []struct {
		name string
		cell int
		want bool
	}{
		{name: "after-nodes", cell: 2, want: true},
		{name: "after-nodes", cell: 5, want: false},
		{name: "not-after-nodes", cell: 5, want: true},
		{name: "after-surface", cell: 5, want: true},
		{name: "after-surface", cell: 0, want: false},
		{name: "wetting-advance", cell: 5, want: false},
		{name: "not-material", cell: 0, want: true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, _predicates[tt.name](line, tt.cell), "%s at %d", tt.name, tt.cell)
	}
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "unknown top node", input: `rule "x"`, wantErr: ErrUnknownNode},
		{name: "unknown rule node", input: "kind \"x\" {\n  scan \"a\"\n}\n", wantErr: ErrUnknownNode},
		{name: "param without keyword", input: "kind \"x\" {\n  param \"name\"\n}\n", wantErr: ErrMissingField},
		{name: "bad slice", input: "kind \"x\" {\n  data cells=\"x\" \"a\"\n}\n", wantErr: ErrBadSlice},
		{name: "unknown predicate", input: "kind \"x\" {\n  data when=\"never\" \"a\"\n}\n", wantErr: ErrUnknownHook},
		{name: "unknown stride", input: "kind \"x\" {\n  data every=\"never\" \"a\"\n}\n", wantErr: ErrUnknownHook},
		{name: "bad region", input: "kind \"x\" {\n  data region=\"everything\" \"a\"\n}\n", wantErr: ErrTypeMismatch},
		{name: "unknown property", input: "kind \"x\" {\n  data colour=\"red\" \"a\"\n}\n", wantErr: ErrUnknownNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadRules(strings.NewReader(tt.input))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadRulesMerge(t *testing.T) {
	t.Parallel()

	r, err := LoadRules(strings.NewReader("kind \"a\" \"b\" {\n  param \"x\" \"k1\"\n}\nkind \"b\" {\n  data cells=\"0\" \"k2\"\n}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Kinds())
	assert.Len(t, r.For("a"), 1)
	require.Len(t, r.For("B"), 2)
	assert.True(t, r.For("b")[1].Scans("K 2"))
	assert.Nil(t, r.For("c"))
}

func TestDefaultRules(t *testing.T) {
	t.Parallel()

	kinds := DefaultRules().Kinds()
	for _, k := range []string{"node", "nset", "element", "elset", "surface", "orientation", "distribution", "material", "amplitude"} {
		assert.Contains(t, kinds, k)
	}
}

func TestParseRegion(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"multi-line", "multi_line", "MULTI LINE"} {
		r, err := ParseRegion(s)
		require.NoError(t, err, s)
		assert.Equal(t, RegionMultiLine, r)
	}
	assert.Equal(t, "all_data", RegionAllData.String())
}

package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndisidore/inpdeck/pkg/csmap"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/scalar"
)

// memResolver is a test Resolver that serves content from an in-memory map.
type memResolver struct {
	files map[string]string // abs path -> deck text
}

func (m *memResolver) Resolve(source string, basePath string) (io.ReadCloser, string, error) {
	abs := source
	if !path.IsAbs(source) {
		abs = path.Join(basePath, source)
	}
	abs = path.Clean(abs)
	content, ok := m.files[abs]
	if !ok {
		return nil, "", &testNotFoundError{path: abs}
	}
	return io.NopCloser(strings.NewReader(content)), abs, nil
}

type testNotFoundError struct{ path string }

func (e *testNotFoundError) Error() string { return "file not found: " + e.path }

// newTestParser creates a Parser backed by the memResolver.
func newTestParser(files map[string]string) *Parser {
	return &Parser{Resolver: &memResolver{files: files}, Config: deck.DefaultConfig()}
}

// parseEntry parses files[entry] through a memResolver parser.
func parseEntry(t *testing.T, p *Parser, files map[string]string, entry string) *deck.Deck {
	t.Helper()
	d, err := p.Parse(context.Background(), strings.NewReader(files[entry]), entry)
	require.NoError(t, err)
	return d
}

func mustParse(t *testing.T, input string) *deck.Deck {
	t.Helper()
	d, err := newTestParser(nil).ParseString(context.Background(), input)
	require.NoError(t, err)
	return d
}

// names lists the keyword names of hs.
func names(d *deck.Deck, hs []deck.Handle) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, d.Block(h).Name)
	}
	return out
}

func TestParseVariableElement(t *testing.T) {
	t.Parallel()

	data := "101,101,102,103,104,105,106,107,108,\n109,110,111,112,113,114,115,\n201,202,203"
	d := mustParse(t, "*ELEMENT, TYPE=C3D15V\n"+data+"\n")
	require.Empty(t, d.Problems)
	require.Len(t, d.Roots, 1)

	b := d.Block(d.Roots[0])
	assert.Equal(t, "C3D15V", b.ParamText("TYPE"))
	require.Len(t, b.Data, 1)
	line := b.Data[0]
	assert.Equal(t, []deck.Break{{At: 9, Tail: ","}, {At: 16, Tail: ","}}, line.Breaks)
	assert.Equal(t, data, line.Format(scalar.FormatOpts{}))

	e, ok := d.Mesh.Element(101)
	require.True(t, ok)
	assert.Len(t, e.Nodes, 18)
	assert.Equal(t, int64(203), e.Nodes[17])
}

func TestParseCommentInsideElementRecord(t *testing.T) {
	t.Parallel()

	d := mustParse(t, "*ELEMENT, TYPE=C3D20\n1, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,\n"+
		"** mid\n16, 17, 18, 19, 20\n** after\n")
	require.Empty(t, d.Problems)

	b := d.Block(d.Roots[0])
	require.Len(t, b.Data, 1)
	assert.Equal(t, []deck.Break{{At: 16, Tail: ",", Comments: []string{"** mid"}}}, b.Data[0].Breaks)
	assert.Equal(t, []deck.Comment{{Index: 1, Text: "** after"}}, b.Comments)

	e, ok := d.Mesh.Element(1)
	require.True(t, ok)
	assert.Len(t, e.Nodes, 20)
}

func TestParseElements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantLines []string
		wantCount bool
		wantErr   error
	}{
		{
			name:      "fixed type one line each",
			input:     "*ELEMENT, TYPE=C3D4, ELSET=e\n1, 1, 2, 3, 4\n** tail\n2, 2, 3, 4, 5\n",
			wantLines: []string{"1, 1, 2, 3, 4", "2, 2, 3, 4, 5"},
		},
		{
			name:      "fixed type split over lines",
			input:     "*ELEMENT, TYPE=C3D8\n1, 1, 2, 3, 4,\n 5, 6, 7, 8\n",
			wantLines: []string{"1, 1, 2, 3, 4,\n 5, 6, 7, 8"},
		},
		{
			name:      "fixed type trailing comma kept",
			input:     "*ELEMENT, TYPE=B31\n1, 1, 2,\n",
			wantLines: []string{"1, 1, 2,"},
		},
		{
			name:      "wrong node count",
			input:     "*ELEMENT, TYPE=C3D4\n1, 1, 2, 3, 4, 5\n",
			wantLines: []string{"1, 1, 2, 3, 4, 5"},
			wantCount: true,
		},
		{
			name:      "variable type out of range",
			input:     "*ELEMENT, TYPE=C3D15V\n1, 1, 2, 3\n",
			wantLines: []string{"1, 1, 2, 3"},
			wantCount: true,
		},
		{
			name:      "missing type",
			input:     "*ELEMENT\n1, 1, 2\n",
			wantLines: []string{"1, 1, 2"},
			wantErr:   ErrMissingType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := mustParse(t, tt.input)
			b := d.Block(d.Roots[0])
			got := make([]string, 0, len(b.Data))
			for _, l := range b.Data {
				got = append(got, l.Format(scalar.FormatOpts{}))
			}
			assert.Equal(t, tt.wantLines, got)

			switch {
			case tt.wantCount:
				require.Len(t, d.Problems, 1)
				var nerr *ElementNodeCountError
				require.ErrorAs(t, d.Problems[0], &nerr)
				assert.Equal(t, "1", nerr.Label)
				assert.ErrorIs(t, d.Problems[0], ErrElementNodeCount)
			case tt.wantErr != nil:
				require.Len(t, d.Problems, 1)
				assert.ErrorIs(t, d.Problems[0], tt.wantErr)
			default:
				assert.Empty(t, d.Problems)
			}
		})
	}
}

func TestElementNodeCountErrorMessage(t *testing.T) {
	t.Parallel()

	fixed := &ElementNodeCountError{Type: "C3D4", Label: "7", Count: 5, Allowed: []int{4}}
	assert.Equal(t, "element 7: an element of type C3D4 must have 4 nodes, got 5", fixed.Error())

	variable := &ElementNodeCountError{Type: "C3D15V", Label: "1", Count: 3, Allowed: []int{15, 16, 17, 18}}
	assert.Equal(t, "element 1: an element of type C3D15V must have between 15 and 18 nodes, got 3", variable.Error())
}

func TestParseUnknownElementType(t *testing.T) {
	t.Parallel()

	p := newTestParser(nil)
	p.Config.Catalog = p.Config.Catalog.Clone()
	d, err := p.ParseString(context.Background(), "*ELEMENT, TYPE=XYZ9\n1, 1, 2,\n 3\n2, 4, 5, 6\n")
	require.NoError(t, err)
	assert.Empty(t, d.Problems)

	et, ok := p.Config.Catalog.Element("XYZ9")
	require.True(t, ok)
	assert.True(t, et.Guessed)
	assert.Equal(t, 3, et.Nodes)
	assert.Len(t, d.Block(d.Roots[0]).Data, 2)
}

func TestParseHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		header     string
		wantName   string
		wantParams map[string]string
		wantTail   string
		wantErr    bool
	}{
		{
			name:     "quoted comma",
			header:   `*NSET, NSET="Set A, with comma", INSTANCE=part-1`,
			wantName: "nset",
			wantParams: map[string]string{
				"nset":     "Set A, with comma",
				"instance": "part-1",
			},
		},
		{
			name:       "flag parameter and spaces in name",
			header:     "*Solid Section, elset=E1, material=steel, GENERATE",
			wantName:   "solidsection",
			wantParams: map[string]string{"elset": "E1", "material": "steel", "generate": ""},
		},
		{
			name:       "continuation line",
			header:     "*STEP, NAME=s1,\n NLGEOM=YES",
			wantName:   "step",
			wantParams: map[string]string{"name": "s1", "nlgeom": "YES"},
		},
		{
			name:       "trailing comma",
			header:     "*NODE, NSET=all,  ",
			wantName:   "node",
			wantParams: map[string]string{"nset": "all"},
			wantTail:   ",  ",
		},
		{
			name:     "repeated parameter",
			header:   "*NSET, NSET=a, nset=b",
			wantName: "nset",
			wantErr:  true,
		},
		{
			name:     "empty parameter",
			header:   "*NSET, , NSET=a",
			wantName: "nset",
			wantErr:  true,
		},
		{
			name:     "unterminated quote",
			header:   `*NSET, NSET="a`,
			wantName: "nset",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := parseHeader("test.inp", tt.header, true)
			require.NotNil(t, b)
			assert.Equal(t, tt.wantName, b.Name)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedHeader)
				assert.Equal(t, tt.header, b.RawHeader)
				assert.Equal(t, tt.header, b.FormatHeader(scalar.FormatOpts{}))
				return
			}
			require.NoError(t, err)
			got := make(map[string]string, b.Params.Len())
			for k, p := range b.Params.All() {
				got[csmap.Normalize(k)] = p.Text()
			}
			if diff := cmp.Diff(tt.wantParams, got); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.wantTail, b.HeaderTail)
			assert.Equal(t, tt.header, b.FormatHeader(scalar.FormatOpts{}))
		})
	}
}

func TestParseMalformedHeaderStrict(t *testing.T) {
	t.Parallel()

	input := "*NSET, NSET=a, NSET=b\n1, 2\n"

	d := mustParse(t, input)
	require.Len(t, d.Problems, 1)
	assert.ErrorIs(t, d.Problems[0], ErrMalformedHeader)
	assert.Equal(t, "*NSET, NSET=a, NSET=b\n1, 2", d.Block(d.Roots[0]).Format(scalar.FormatOpts{}))

	p := newTestParser(nil)
	p.Config.Strict = true
	_, err := p.ParseString(context.Background(), input)
	require.ErrorIs(t, err, ErrMalformedHeader)
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		input        string
		wantNewline  string
		wantPrologue string
		wantTrailing bool
		wantRoots    int
	}{
		{
			name:         "lf with prologue",
			input:        "header text\n\n*NODE\n1, 0., 0.\n",
			wantNewline:  "\n",
			wantPrologue: "header text\n\n",
			wantTrailing: true,
			wantRoots:    1,
		},
		{
			name:         "crlf",
			input:        "*NODE\r\n1, 0., 0.\r\n*NSET, NSET=a\r\n1",
			wantNewline:  "\r\n",
			wantRoots:    2,
			wantTrailing: false,
		},
		{
			name:         "mixed endings read as lf",
			input:        "*NODE\r\n1, 0., 0.\n",
			wantNewline:  "\n",
			wantTrailing: true,
			wantRoots:    1,
		},
		{
			name:         "no keywords",
			input:        "just text",
			wantNewline:  "\n",
			wantPrologue: "just text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := mustParse(t, tt.input)
			assert.Equal(t, tt.wantNewline, d.File.Newline)
			assert.Equal(t, tt.wantPrologue, d.File.Prologue)
			assert.Equal(t, tt.wantTrailing, d.File.TrailingNewline)
			assert.Len(t, d.Roots, tt.wantRoots)
			assert.NotEmpty(t, d.File.Digest)
			for _, h := range d.Handles() {
				for _, l := range d.Block(h).Data {
					for _, c := range l.Cells {
						assert.NotContains(t, c.Raw(), "\r")
					}
				}
			}
		})
	}
}

func TestParseData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		input        string
		wantData     []string
		wantComments []deck.Comment
	}{
		{
			name:         "general blank line is data",
			input:        "*BOUNDARY\n1, 1, 3\n\n** c\n2, ENCASTRE\n",
			wantData:     []string{"1, 1, 3", "", "2, ENCASTRE"},
			wantComments: []deck.Comment{{Index: 2, Text: "** c"}},
		},
		{
			name:         "node blank line is comment",
			input:        "*NODE\n1, 0., 0.\n\n2, 1., 0.\n",
			wantData:     []string{"1, 0., 0.", "2, 1., 0."},
			wantComments: []deck.Comment{{Index: 1, Text: ""}},
		},
		{
			name:     "verbatim heading",
			input:    "*HEADING\n** not a comment, here\nModel: beam\n",
			wantData: []string{"** not a comment, here", "Model: beam"},
		},
		{
			name:         "parameter comments",
			input:        "*PARAMETER\n# note\nthick = 2.5\n",
			wantData:     []string{"thick = 2.5"},
			wantComments: []deck.Comment{{Index: 0, Text: "# note"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := mustParse(t, tt.input)
			require.Empty(t, d.Problems)
			b := d.Block(d.Roots[0])
			got := make([]string, 0, len(b.Data))
			for _, l := range b.Data {
				got = append(got, l.Format(scalar.FormatOpts{}))
			}
			assert.Equal(t, tt.wantData, got)
			assert.Equal(t, tt.wantComments, b.Comments)
		})
	}
}

func TestParseParameters(t *testing.T) {
	t.Parallel()

	d := mustParse(t, "*PARAMETER\nthick = 2.5\n*SHELL SECTION, ELSET=e\n<thick>\n")
	v, ok := d.Parameters.Get("thick")
	require.True(t, ok)
	assert.Equal(t, "2.5", v.Text())
	b := d.Block(d.Roots[1])
	assert.Equal(t, "2.5", d.Substitute(b.Data[0].Cells[0]).Text())
}

func TestParseNesting(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"*MATERIAL, NAME=steel",
		"*ELASTIC",
		"210000., 0.3",
		"*DENSITY",
		"7.8e-9",
		"*NSET, NSET=n",
		"1",
		"*STEP, NAME=s1",
		"*STATIC",
		"*BOUNDARY",
		"1, 1, 3",
		"*END STEP",
		"*NSET, NSET=after",
		"2",
	}, "\n")

	d := mustParse(t, input)
	require.Empty(t, d.Problems)
	assert.Equal(t, []string{"material", "nset", "step", "nset"}, names(d, d.Roots))

	mat := d.Block(d.Roots[0])
	assert.Equal(t, []string{"elastic", "density"}, names(d, mat.Subs))
	step := d.Block(d.Roots[2])
	assert.Equal(t, []string{"static", "boundary", "endstep"}, names(d, step.Subs))
	assert.Equal(t, "root.keywords[2].sub_blocks[1]", d.PathOf(step.Subs[1]).String())
}

func TestParseFlat(t *testing.T) {
	t.Parallel()

	p := newTestParser(nil)
	p.Config.Organize = false
	d, err := p.ParseString(context.Background(), "*STEP\n*STATIC\n*END STEP\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"step", "static", "endstep"}, names(d, d.Roots))
}

func TestParseUnmatchedEnd(t *testing.T) {
	t.Parallel()

	d := mustParse(t, "*NSET, NSET=a\n1\n*END STEP\n")
	require.Len(t, d.Problems, 1)
	assert.ErrorIs(t, d.Problems[0], ErrUnmatchedEnd)
	assert.Equal(t, []string{"nset", "endstep"}, names(d, d.Roots))

	p := newTestParser(nil)
	p.Config.Strict = true
	_, err := p.ParseString(context.Background(), "*STEP\n*END PART\n")
	require.ErrorIs(t, err, ErrUnmatchedEnd)
}

func TestParseInclude(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"/job/main.inp": "*HEADING\nmain\n*INCLUDE, INPUT=mesh/part.inp\n*STEP\n*STATIC\n*END STEP\n",
		"/job/mesh/part.inp": "** part mesh\n*NODE, NSET=all\n1, 0., 0.\n2, 1., 0.\n" +
			"*ELEMENT, TYPE=T3D2, ELSET=bars\n10, 1, 2\n",
	}
	d := parseEntry(t, newTestParser(files), files, "/job/main.inp")
	require.Empty(t, d.Problems)
	assert.Equal(t, []string{"heading", "include", "step"}, names(d, d.Roots))

	inc := d.Block(d.Roots[1])
	require.NotNil(t, inc.File)
	assert.Equal(t, "/job/mesh/part.inp", inc.File.Name)
	assert.Equal(t, "mesh/part.inp", inc.File.Ref)
	assert.Equal(t, "** part mesh\n", inc.File.Prologue)
	assert.Equal(t, []string{"node", "element"}, names(d, inc.Subs))
	assert.Same(t, inc.File, d.SourceOf(inc.Subs[0]))

	assert.Equal(t, []int64{10}, d.Mesh.ElementsOf(1))
	assert.True(t, d.Registry.Has("elset", "bars"))
}

func TestParseIncludeProblems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string]string
		wantErr error
	}{
		{
			name: "missing file",
			files: map[string]string{
				"/job/main.inp": "*INCLUDE, INPUT=gone.inp\n",
			},
			wantErr: ErrMissingChildFile,
		},
		{
			name: "circular include",
			files: map[string]string{
				"/job/main.inp": "*INCLUDE, INPUT=a.inp\n",
				"/job/a.inp":    "*INCLUDE, INPUT=b.inp\n",
				"/job/b.inp":    "*INCLUDE, INPUT=a.inp\n",
			},
			wantErr: ErrCircularInclude,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newTestParser(tt.files)
			p.Config.Strict = true
			d := parseEntry(t, p, tt.files, "/job/main.inp")
			require.Len(t, d.Problems, 1)
			assert.ErrorIs(t, d.Problems[0], tt.wantErr)
			if errors.Is(tt.wantErr, ErrMissingChildFile) {
				assert.True(t, errdefs.IsNotFound(d.Problems[0]))
			}
		})
	}
}

func TestParseDataFile(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"/job/main.inp":  "*NODE, INPUT=nodes.inp\n** inline\n*NSET, NSET=a\n1\n",
		"/job/nodes.inp": "1, 0., 0.\n2, 1., 0.\n",
	}
	d := parseEntry(t, newTestParser(files), files, "/job/main.inp")
	require.Empty(t, d.Problems)

	b := d.Block(d.Roots[0])
	require.NotNil(t, b.File)
	assert.Equal(t, "nodes.inp", b.File.Ref)
	assert.Equal(t, []string{"** inline"}, b.Inline)
	assert.Len(t, b.Data, 2)
	assert.Equal(t, 2, d.Mesh.NumNodes())

	p := newTestParser(files)
	p.Config.ParseSubFiles = false
	d = parseEntry(t, p, files, "/job/main.inp")
	b = d.Block(d.Roots[0])
	assert.Nil(t, b.File)
	assert.Equal(t, []deck.Comment{{Index: 0, Text: "** inline"}}, b.Comments)
}

func TestParseManifest(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"/job/main.inp":  "*MANIFEST, BASE STATE=YES\nbase.inp\n** skip\nload1.inp\nload2.inp\n",
		"/job/base.inp":  "*STEP, NAME=pre\n*STATIC\n*END STEP\n",
		"/job/load1.inp": "*STEP, NAME=l1\n*STATIC\n*END STEP\n",
		"/job/load2.inp": "*STEP, NAME=l2\n*FREQUENCY\n*END STEP\n",
	}

	for _, workers := range []int{0, 2} {
		p := newTestParser(files)
		p.Config.ManifestWorkers = workers
		d := parseEntry(t, p, files, "/job/main.inp")
		require.Empty(t, d.Problems)

		man := d.Block(d.Roots[0])
		require.Len(t, man.Subs, 3)
		for i, ref := range []string{"base.inp", "load1.inp", "load2.inp"} {
			ph := d.Block(man.Subs[i])
			assert.True(t, ph.Placeholder)
			assert.Equal(t, "DUMMY-MANIFEST_"+ref, ph.NameRaw)
			require.NotNil(t, ph.File)
			assert.Equal(t, "/job/"+ref, ph.File.Name)
		}

		steps := d.Steps()
		require.Len(t, steps, 3)
		assert.Equal(t, deck.NoHandle, d.Block(steps[0]).BaseStep)
		assert.Equal(t, steps[0], d.Block(steps[1]).BaseStep)
		assert.Equal(t, steps[0], d.Block(steps[2]).BaseStep)
	}
}

// cancelResolver cancels a context once a given file is resolved.
type cancelResolver struct {
	memResolver
	at     string
	cancel context.CancelFunc
}

func (c *cancelResolver) Resolve(source string, basePath string) (io.ReadCloser, string, error) {
	rc, abs, err := c.memResolver.Resolve(source, basePath)
	if abs == c.at {
		c.cancel()
	}
	return rc, abs, err
}

func TestParseManifestCanceled(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"/job/main.inp":  "*MANIFEST\nbase.inp\nload1.inp\nload2.inp\n",
		"/job/base.inp":  "*STEP, NAME=pre\n*STATIC\n*END STEP\n",
		"/job/load1.inp": "*STEP, NAME=l1\n*STATIC\n*END STEP\n",
		"/job/load2.inp": "*STEP, NAME=l2\n*STATIC\n*END STEP\n",
	}
	for _, workers := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			p := &Parser{
				Resolver: &cancelResolver{memResolver: memResolver{files: files}, at: "/job/load1.inp", cancel: cancel},
				Config:   deck.DefaultConfig(),
			}
			p.Config.ManifestWorkers = workers
			_, err := p.Parse(ctx, strings.NewReader(files["/job/main.inp"]), "/job/main.inp")
			require.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestBaseSteps(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"*STEP, NAME=a", "*STATIC", "*END STEP",
		"*STEP, NAME=b", "*FREQUENCY", "*END STEP",
		"*STEP, NAME=c, PERTURBATION", "*STATIC", "*END STEP",
		"*STEP, NAME=d", "*DYNAMIC", "*END STEP",
		"*STEP, NAME=e", "*STATIC", "*END STEP",
	}, "\n")
	d := mustParse(t, input)
	s := d.Steps()
	require.Len(t, s, 5)

	want := []deck.Handle{deck.NoHandle, s[0], s[0], s[0], s[3]}
	got := make([]deck.Handle, 0, len(s))
	for _, h := range s {
		got = append(got, d.Block(h).BaseStep)
	}
	assert.Equal(t, want, got)
}

func TestParseEvents(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"/job/main.inp": "*INCLUDE, INPUT=part.inp\n",
		"/job/part.inp": "*NODE\n1, 0., 0.\n",
	}
	events := make(chan Event, 16)
	p := newTestParser(files)
	p.Events = events
	parseEntry(t, p, files, "/job/main.inp")
	close(events)

	var got []Event
	for ev := range events {
		ev.Digest = ""
		got = append(got, ev)
	}
	want := []Event{
		{Kind: EventStarted, File: "/job/main.inp"},
		{Kind: EventStarted, File: "/job/part.inp", Depth: 1},
		{Kind: EventDone, File: "/job/part.inp", Depth: 1, Blocks: 1, Lines: 2},
		{Kind: EventDone, File: "/job/main.inp", Blocks: 1, Lines: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBlocks(t *testing.T) {
	t.Parallel()

	d := mustParse(t, "*NODE\n1, 0., 0.\n")
	hs, err := newTestParser(nil).ParseBlocks(context.Background(), d, "*STEP\n*STATIC\n*END STEP\n*NSET, NSET=x\n1\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"step", "nset"}, names(d, hs))
	assert.Len(t, d.Block(hs[0]).Subs, 2)
	assert.Len(t, d.Roots, 1, "blocks are not attached")
	assert.Equal(t, "1", d.Block(hs[1]).Data[0].Format(scalar.FormatOpts{}))

	_, err = newTestParser(nil).ParseBlocks(context.Background(), d, "*ELEMENT, TYPE=C3D4\n1, 1, 2\n")
	require.ErrorIs(t, err, ErrElementNodeCount)
}

func TestParseCanceled(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"/job/main.inp": "*INCLUDE, INPUT=part.inp\n",
		"/job/part.inp": "*NODE\n1, 0., 0.\n",
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestParser(files).Parse(ctx, strings.NewReader(files["/job/main.inp"]), "/job/main.inp")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLookupEncoding(t *testing.T) {
	t.Parallel()

	enc, err := LookupEncoding("UTF-8")
	require.NoError(t, err)
	assert.Nil(t, enc)

	enc, err = LookupEncoding("ISO-8859-1")
	require.NoError(t, err)
	assert.NotNil(t, enc)

	_, err = LookupEncoding("klingon")
	require.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestParseLatin1(t *testing.T) {
	t.Parallel()

	p := newTestParser(nil)
	p.Config.Encoding = "ISO-8859-1"
	d, err := p.Parse(context.Background(), strings.NewReader("*HEADING\nacier \xe9tir\xe9\n"), "l1.inp")
	require.NoError(t, err)
	assert.Equal(t, "acier étiré", d.Block(d.Roots[0]).Data[0].Cells[0].Raw())
}

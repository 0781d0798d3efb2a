package mutate

import (
	"context"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/parser"
	"github.com/ndisidore/inpdeck/pkg/writer"
)

func parse(t *testing.T, input string) *deck.Deck {
	t.Helper()
	d, err := parser.New(deck.DefaultConfig()).ParseString(context.Background(), input)
	require.NoError(t, err)
	require.Empty(t, d.Problems)
	return d
}

func renderDeck(t *testing.T, d *deck.Deck) string {
	t.Helper()
	s, err := writer.WriteString(context.Background(), d)
	require.NoError(t, err)
	return s
}

func mustPath(t *testing.T, s string) deck.Path {
	t.Helper()
	p, err := deck.ParsePath(s)
	require.NoError(t, err)
	return p
}

// names lists the keyword names of the children of parent.
func names(d *deck.Deck, parent deck.Handle) []string {
	hs := d.Children(parent)
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, d.Block(h).Name)
	}
	return out
}

func data(d *deck.Deck, h deck.Handle) []string {
	return d.Block(h).FormatData(d.Config.FormatOpts())
}

func header(d *deck.Deck, h deck.Handle) string {
	return d.Block(h).FormatHeader(d.Config.FormatOpts())
}

// checkPaths asserts every live block is reachable through its path.
func checkPaths(t *testing.T, d *deck.Deck) {
	t.Helper()
	for _, h := range d.Handles() {
		b := d.Block(h)
		got, err := d.Navigate(b.Path)
		require.NoError(t, err, b.Path.String())
		assert.Equal(t, h, got.Block, b.Path.String())
	}
}

const _small = `*HEADING
demo
*NODE
1, 0., 0.
2, 1., 0.
*NSET, NSET=base
1, 2
*STEP
*STATIC
*BOUNDARY
base, 1, 2
*END STEP
`

func TestInsert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		at        string
		content   string
		wantRoots []string
		wantStep  []string
	}{
		{
			name:      "before a root block",
			at:        "root.keywords[2]",
			content:   "*ELEMENT, TYPE=T2D2, ELSET=bar\n1, 1, 2\n",
			wantRoots: []string{"heading", "node", "element", "nset", "step"},
			wantStep:  []string{"static", "boundary", "endstep"},
		},
		{
			name:      "appended at the end",
			at:        "root.keywords[4]",
			content:   "*NSET, NSET=tip\n2\n",
			wantRoots: []string{"heading", "node", "nset", "step", "nset"},
			wantStep:  []string{"static", "boundary", "endstep"},
		},
		{
			name:      "inside a step",
			at:        "root.keywords[3].sub_blocks[1]",
			content:   "*CLOAD\n2, 2, -5.\n",
			wantRoots: []string{"heading", "node", "nset", "step"},
			wantStep:  []string{"static", "cload", "boundary", "endstep"},
		},
		{
			name:      "two blocks at once",
			at:        "root.keywords[1]",
			content:   "*NSET, NSET=a\n1\n*NSET, NSET=b\n2\n",
			wantRoots: []string{"heading", "nset", "nset", "node", "nset", "step"},
			wantStep:  []string{"static", "boundary", "endstep"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := parse(t, _small)
			hs, err := Insert(context.Background(), d, tt.content, mustPath(t, tt.at))
			require.NoError(t, err)
			require.NotEmpty(t, hs)

			assert.Equal(t, tt.wantRoots, names(d, deck.NoHandle))
			assert.Equal(t, tt.wantStep, names(d, d.Steps()[0]))
			assert.Equal(t, tt.at, d.Block(hs[0]).Path.String())
			checkPaths(t, d)
		})
	}
}

func TestInsertUpdatesIndexes(t *testing.T) {
	t.Parallel()

	d := parse(t, _small)
	_, err := Insert(context.Background(), d, "*ELEMENT, TYPE=T2D2, ELSET=bar\n1, 1, 2\n", mustPath(t, "root.keywords[2]"))
	require.NoError(t, err)

	assert.True(t, d.Registry.Has("elset", "bar"))
	assert.Equal(t, 1, d.Mesh.NumElements())
	assert.Equal(t, []int64{1}, d.Mesh.ElementsOf(2))
}

func TestInsertFailureLeavesDeck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		at      string
		content string
		wantErr error
		invalid bool
	}{
		{
			name:    "data path",
			at:      "root.keywords[1].data[0]",
			content: "*NSET, NSET=x\n1\n",
			wantErr: ErrNotBlockPath,
			invalid: true,
		},
		{
			name:    "index past the end",
			at:      "root.keywords[9]",
			content: "*NSET, NSET=x\n1\n",
			wantErr: ErrNotBlockPath,
			invalid: true,
		},
		{
			name:    "no keyword",
			at:      "root.keywords[1]",
			content: "",
			wantErr: ErrEmptyInsert,
			invalid: true,
		},
		{
			name:    "short element record",
			at:      "root.keywords[2]",
			content: "*ELEMENT, TYPE=T2D2\n1, 1\n",
			wantErr: parser.ErrElementNodeCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := parse(t, _small)
			before := renderDeck(t, d)

			_, err := Insert(context.Background(), d, tt.content, mustPath(t, tt.at))
			require.ErrorIs(t, err, tt.wantErr)
			if tt.invalid {
				assert.True(t, errdefs.IsInvalidArgument(err))
			}
			assert.Equal(t, before, renderDeck(t, d))
			assert.Equal(t, 0, d.Mesh.NumElements())
			assert.Equal(t, 2, d.Mesh.NumNodes())
		})
	}
}

func TestReplace(t *testing.T) {
	t.Parallel()

	d := parse(t, _small)
	hs, err := Replace(context.Background(), d, "*NSET, NSET=base\n1\n*NSET, NSET=tip\n2\n", mustPath(t, "root.keywords[2]"))
	require.NoError(t, err)
	require.Len(t, hs, 2)

	assert.Equal(t, []string{"heading", "node", "nset", "nset", "step"}, names(d, deck.NoHandle))
	assert.Equal(t, []string{"1"}, data(d, hs[0]))
	assert.Equal(t, []string{"2"}, data(d, hs[1]))
	assert.True(t, d.Registry.Has("nset", "tip"))
	checkPaths(t, d)

	_, err = Replace(context.Background(), d, "*NSET, NSET=x\n1\n", mustPath(t, "root.keywords[2].data[0]"))
	require.ErrorIs(t, err, ErrNotBlockPath)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		at    string
		check func(t *testing.T, d *deck.Deck)
	}{
		{
			name: "root block",
			at:   "root.keywords[2]",
			check: func(t *testing.T, d *deck.Deck) {
				assert.Equal(t, []string{"heading", "node", "step"}, names(d, deck.NoHandle))
				assert.False(t, d.Registry.Has("nset", "base"))
			},
		},
		{
			name: "sub-block",
			at:   "root.keywords[3].sub_blocks[1]",
			check: func(t *testing.T, d *deck.Deck) {
				assert.Equal(t, []string{"static", "endstep"}, names(d, d.Steps()[0]))
			},
		},
		{
			name: "record",
			at:   "root.keywords[1].data[1]",
			check: func(t *testing.T, d *deck.Deck) {
				assert.Equal(t, []string{"1, 0., 0."}, data(d, d.Roots[1]))
				_, ok := d.Mesh.Node(2)
				assert.False(t, ok)
			},
		},
		{
			name: "cell",
			at:   "root.keywords[2].data[0][1]",
			check: func(t *testing.T, d *deck.Deck) {
				assert.Equal(t, []string{"1"}, data(d, d.Roots[2]))
			},
		},
		{
			name: "parameter",
			at:   `root.keywords[2].parameter["nset"]`,
			check: func(t *testing.T, d *deck.Deck) {
				assert.Equal(t, "*NSET", header(d, d.Roots[2]))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := parse(t, _small)
			require.NoError(t, Delete(context.Background(), d, mustPath(t, tt.at)))
			tt.check(t, d)
			checkPaths(t, d)
		})
	}
}

func TestDeleteMissingPath(t *testing.T) {
	t.Parallel()

	d := parse(t, _small)
	before := renderDeck(t, d)

	err := Delete(context.Background(), d, mustPath(t, "root.keywords[7]"))
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Equal(t, before, renderDeck(t, d))
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	d := parse(t, _small)
	before := renderDeck(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Delete(ctx, d, mustPath(t, "root.keywords[2]"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, renderDeck(t, d))
	assert.True(t, strings.HasPrefix(before, "*HEADING"))
}

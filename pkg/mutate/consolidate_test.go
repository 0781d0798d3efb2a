package mutate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndisidore/inpdeck/pkg/deck"
)

func TestConsolidateOPKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantMerged int
		wantSubs   []string
		// wantData maps a step child index to its records.
		wantData map[int][]string
	}{
		{
			name: "boundary dof ranges",
			body: `*BOUNDARY, OP=NEW, ORIENTATION="O1"
"D", 2, 2, 0.
*BOUNDARY, OP=NEW, ORIENTATION="O1"
"D", 3, 3, 0.
*BOUNDARY, OP=NEW, ORIENTATION="O1"
"D", 4, 4, 0.
`,
			wantMerged: 2,
			wantSubs:   []string{"static", "boundary", "endstep"},
			wantData:   map[int][]string{1: {`"D", 2, 4, 0.`}},
		},
		{
			name: "boundary types append",
			body: `*BOUNDARY
1, ENCASTRE
*BOUNDARY
2, PINNED
`,
			wantMerged: 1,
			wantSubs:   []string{"static", "boundary", "endstep"},
			wantData:   map[int][]string{1: {"1, ENCASTRE", "2, PINNED"}},
		},
		{
			name: "different magnitudes stay apart",
			body: `*BOUNDARY
r, 1, 1, 0.
*BOUNDARY
r, 2, 2, 1.
*BOUNDARY
r, 3, 3, 0.
`,
			wantMerged: 2,
			wantSubs:   []string{"static", "boundary", "endstep"},
			wantData:   map[int][]string{1: {"r, 1, 1, 0.", "r, 3, 3, 0.", "r, 2, 2, 1."}},
		},
		{
			name: "loads append",
			body: `*CLOAD
1, 2, 5.
*CLOAD
2, 2, 7.
`,
			wantMerged: 1,
			wantSubs:   []string{"static", "cload", "endstep"},
			wantData:   map[int][]string{1: {"1, 2, 5.", "2, 2, 7."}},
		},
		{
			name: "different headers stay apart",
			body: `*CLOAD
1, 2, 5.
*CLOAD, AMPLITUDE=ramp
2, 2, 7.
`,
			wantMerged: 0,
			wantSubs:   []string{"static", "cload", "cload", "endstep"},
		},
		{
			name: "interleaved blocks stay apart",
			body: `*BOUNDARY
1, 1
*CLOAD
1, 2, 5.
*BOUNDARY
2, 1
`,
			wantMerged: 0,
			wantSubs:   []string{"static", "boundary", "cload", "boundary", "endstep"},
		},
		{
			name: "lagrangian constraints repack",
			body: `*ADAPTIVE MESH CONSTRAINT, CONSTRAINT TYPE=LAGRANGIAN
1, 2, 3
*ADAPTIVE MESH CONSTRAINT, CONSTRAINT TYPE=LAGRANGIAN
4, 5
`,
			wantMerged: 1,
			wantSubs:   []string{"static", "adaptivemeshconstraint", "endstep"},
			wantData:   map[int][]string{1: {"1, 2, 3, 4, 5"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := parse(t, "*STEP\n*STATIC\n"+tt.body+"*END STEP\n")
			n, err := ConsolidateOPKeywords(context.Background(), d, AllSteps)
			require.NoError(t, err)

			assert.Equal(t, tt.wantMerged, n)
			step := d.Steps()[0]
			assert.Equal(t, tt.wantSubs, names(d, step))
			kids := d.Children(step)
			for i, want := range tt.wantData {
				assert.Equal(t, want, data(d, kids[i]))
			}
			checkPaths(t, d)
		})
	}
}

func TestConsolidateOutputSubBlocks(t *testing.T) {
	t.Parallel()

	d := parse(t, `*STEP
*STATIC
*OUTPUT, FIELD, FREQUENCY=1
*ELEMENT OUTPUT
S
*OUTPUT, FIELD, FREQUENCY=1
*ELEMENT OUTPUT
E
*NODE OUTPUT
U
*END STEP
`)
	n, err := ConsolidateOPKeywords(context.Background(), d, AllSteps)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	step := d.Steps()[0]
	require.Equal(t, []string{"static", "output", "endstep"}, names(d, step))
	out := d.Children(step)[1]
	require.Equal(t, []string{"elementoutput", "nodeoutput"}, names(d, out))
	assert.Equal(t, []string{"S, E"}, data(d, d.Children(out)[0]))
	assert.Equal(t, []string{"U"}, data(d, d.Children(out)[1]))
	checkPaths(t, d)
}

func TestConsolidateStepRange(t *testing.T) {
	t.Parallel()

	input := `*STEP
*STATIC
*CLOAD
1, 2, 5.
*CLOAD
2, 2, 7.
*END STEP
*STEP
*STATIC
*CLOAD
1, 2, 5.
*CLOAD
2, 2, 7.
*END STEP
`
	d := parse(t, input)
	n, err := ConsolidateOPKeywords(context.Background(), d, StepRange{Start: 1, Stop: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	steps := d.Steps()
	assert.Equal(t, []string{"static", "cload", "cload", "endstep"}, names(d, steps[0]))
	assert.Equal(t, []string{"static", "cload", "endstep"}, names(d, steps[1]))

	before := renderDeck(t, d)
	_, err = ConsolidateOPKeywords(context.Background(), d, StepRange{Start: 1, Stop: 5})
	require.ErrorIs(t, err, deck.ErrInvalidPath)
	assert.Equal(t, before, renderDeck(t, d))
}

func TestCoalesceDofs(t *testing.T) {
	t.Parallel()

	d := parse(t, "*HEADING\n")
	lines := []deck.Line{
		deck.TextLine("a", " 1", " 1"),
		deck.TextLine("a", " 2", " 3"),
		deck.TextLine("b", " 1", " 1", " 0."),
		deck.TextLine("a", " 5", " 5"),
		deck.TextLine("c", " XSYMM"),
		deck.TextLine("A", " 4", " 4"),
	}
	var got []string
	for _, l := range coalesceDofs(d, lines) {
		got = append(got, l.Format(d.Config.FormatOpts()))
	}
	assert.Equal(t, []string{"c, XSYMM", "a, 1, 5", "b, 1, 1, 0."}, got)
}

func TestRuns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []int64
		want [][2]int64
	}{
		{name: "empty"},
		{name: "single", in: []int64{4}, want: [][2]int64{{4, 4}}},
		{name: "unsorted with duplicates", in: []int64{3, 1, 2, 2, 6, 7, 9}, want: [][2]int64{{1, 3}, {6, 7}, {9, 9}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, runs(tt.in))
		})
	}
}

func TestConvertOPNewToMod(t *testing.T) {
	t.Parallel()

	input := `*STEP, NAME=s1
*STATIC
*BOUNDARY, OP=NEW
1, 1, 2
*CLOAD, OP=NEW
1, 2, 5.
*OUTPUT, FIELD
*NODE OUTPUT
U
*END STEP
*STEP, NAME=s2
*STATIC
*BOUNDARY, OP=NEW
1, 1, 2
*CLOAD, OP=NEW
1, 2, 9.
*OUTPUT, FIELD
*NODE OUTPUT
U
*END STEP
`
	tests := []struct {
		name        string
		opts        ConvertOptions
		wantRemoved int
		wantS1      []string
		wantS2      []string
	}{
		{
			name:        "each step against its base",
			opts:        ConvertOptions{Steps: AllSteps, Base: -1},
			wantRemoved: 2,
			wantS1:      []string{"*STATIC", "*BOUNDARY, OP=MOD", "*CLOAD, OP=MOD", "*OUTPUT, FIELD, OP=REPLACE", "*END STEP"},
			wantS2:      []string{"*STATIC", "*CLOAD, OP=MOD", "*END STEP"},
		},
		{
			name:        "second step only",
			opts:        ConvertOptions{Steps: StepRange{Start: 1, Stop: -1}, Base: 0},
			wantRemoved: 2,
			wantS1:      []string{"*STATIC", "*BOUNDARY, OP=NEW", "*CLOAD, OP=NEW", "*OUTPUT, FIELD", "*END STEP"},
			wantS2:      []string{"*STATIC", "*CLOAD, OP=MOD", "*END STEP"},
		},
	}

	headers := func(d *deck.Deck, step deck.Handle) []string {
		var out []string
		for _, h := range d.Children(step) {
			out = append(out, header(d, h))
		}
		return out
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := parse(t, input)
			n, err := ConvertOPNewToMod(context.Background(), d, tt.opts)
			require.NoError(t, err)

			assert.Equal(t, tt.wantRemoved, n)
			steps := d.Steps()
			require.Len(t, steps, 2)
			assert.Equal(t, tt.wantS1, headers(d, steps[0]))
			assert.Equal(t, tt.wantS2, headers(d, steps[1]))
			checkPaths(t, d)
		})
	}
}

func TestConvertOPNewToModBadBase(t *testing.T) {
	t.Parallel()

	d := parse(t, "*STEP\n*STATIC\n*END STEP\n")
	_, err := ConvertOPNewToMod(context.Background(), d, ConvertOptions{Steps: AllSteps, Base: 3})
	require.ErrorIs(t, err, deck.ErrInvalidPath)
}

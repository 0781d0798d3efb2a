package progress

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndisidore/inpdeck/pkg/parser"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

func TestPlain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		events       []parser.Event
		wantLogs     []string
		wantLogCount map[string]int // exact occurrence count for specific substrings
		wantEmpty    bool
	}{
		{
			name: "file read",
			events: []parser.Event{
				{Kind: parser.EventStarted, File: "beam.inp"},
				{Kind: parser.EventDone, File: "beam.inp", Blocks: 4, Lines: 20, Digest: digest.FromString("beam")},
			},
			wantLogs: []string{"reading beam.inp", "read beam.inp: 4 blocks, 20 lines", digest.FromString("beam").String()},
		},
		{
			name: "child file indented",
			events: []parser.Event{
				{Kind: parser.EventStarted, File: "mesh.inp", Depth: 1},
			},
			wantLogs: []string{"[main]   reading mesh.inp"},
		},
		{
			name: "failure",
			events: []parser.Event{
				{Kind: parser.EventFailed, File: "bad.inp", Err: errors.New("unterminated quote")},
			},
			wantLogs: []string{"FAIL bad.inp: unterminated quote", "file.failed"},
		},
		{
			name: "one line per event",
			events: []parser.Event{
				{Kind: parser.EventStarted, File: "a.inp"},
				{Kind: parser.EventDone, File: "a.inp"},
			},
			wantLogCount: map[string]int{"file.started": 1, "file.done": 1},
		},
		{
			name:      "no events",
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			ctx := slogctx.ContextWithLogger(context.Background(), log)

			ch := make(chan parser.Event, len(tt.events))
			for _, ev := range tt.events {
				ch <- ev
			}
			close(ch)

			p := &Plain{}
			require.NoError(t, p.Start(ctx))
			require.NoError(t, p.Attach(ctx, "main", ch))
			p.Seal()
			require.NoError(t, p.Wait())

			output := buf.String()
			if tt.wantEmpty {
				assert.Empty(t, output)
			}
			for _, want := range tt.wantLogs {
				assert.Contains(t, output, want)
			}
			for substr, count := range tt.wantLogCount {
				assert.Equal(t, count, strings.Count(output, substr), "occurrences of %q", substr)
			}
		})
	}
}

func TestPlainCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan parser.Event, 1)
	ch <- parser.Event{Kind: parser.EventStarted, File: "a.inp"}
	close(ch)

	p := &Plain{}
	require.NoError(t, p.Attach(ctx, "main", ch))
	require.NoError(t, p.Wait())
}

func TestQuiet(t *testing.T) {
	t.Parallel()

	ch := make(chan parser.Event, 2)
	ch <- parser.Event{Kind: parser.EventStarted, File: "a.inp"}
	ch <- parser.Event{Kind: parser.EventFailed, File: "a.inp", Err: errors.New("boom")}
	close(ch)

	q := &Quiet{}
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Attach(context.Background(), "main", ch))
	q.Seal()
	require.NoError(t, q.Wait())
	assert.Empty(t, ch)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/urfave/cli/v3"

	"github.com/ndisidore/inpdeck/internal/pairfile"
	"github.com/ndisidore/inpdeck/internal/runner"
	"github.com/ndisidore/inpdeck/internal/stats"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/mutate"
	"github.com/ndisidore/inpdeck/pkg/refs"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
	"github.com/ndisidore/inpdeck/pkg/writer"
)

// errRoundTrip indicates a deck whose written form differs from its input.
var errRoundTrip = errors.New("deck changed on round trip")

// _reportTop is the keyword count listed by parse --stats.
const _reportTop = 10

// lines collects per-deck output of a batch so it prints in argument order.
type lines struct {
	mu  sync.Mutex
	out map[string]string
}

func (l *lines) set(job, s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		l.out = make(map[string]string)
	}
	l.out[job] = s
}

func (l *lines) print(a *app, paths []string) {
	for _, j := range runner.JobsFromPaths(paths) {
		if s, ok := l.out[j.Name]; ok {
			a.printf("%s", s)
		}
	}
}

func (a *app) parseAction(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	var st *stats.Collector
	if cmd.Bool("stats") {
		st = stats.NewCollector()
	}

	var out lines
	err := a.batch(ctx, cmd, paths, st, func(_ context.Context, job runner.Job, d *deck.Deck) error {
		out.set(job.Name, fmt.Sprintf("%s: %d blocks, %d nodes, %d elements, %d problems\n",
			job.Name, d.Len(), d.Mesh.NumNodes(), d.Mesh.NumElements(), len(d.Problems)))
		return nil
	})
	out.print(a, paths)
	if st != nil {
		a.mu.Lock()
		stats.PrintReport(a.stdout, st.Report(), _reportTop)
		a.mu.Unlock()
	}
	return err
}

func (a *app) statsAction(ctx context.Context, cmd *cli.Command) error {
	st := stats.NewCollector()
	err := a.batch(ctx, cmd, cmd.Args().Slice(), st, nil)
	a.mu.Lock()
	stats.PrintReport(a.stdout, st.Report(), int(cmd.Int("top")))
	a.mu.Unlock()
	return err
}

func (a *app) roundtripAction(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	var out lines
	err := a.batch(ctx, cmd, paths, nil, func(ctx context.Context, job runner.Job, d *deck.Deck) error {
		res, err := writer.Render(ctx, d, job.Path)
		if err != nil {
			return fmt.Errorf("rendering: %w", err)
		}
		var changed []string
		for _, f := range res.Files {
			if !f.Unchanged() {
				changed = append(changed, filepath.Base(f.Path))
			}
		}
		if len(changed) == 0 {
			out.set(job.Name, fmt.Sprintf("%s: unchanged (%d files)\n", job.Name, len(res.Files)))
			return nil
		}
		out.set(job.Name, fmt.Sprintf("%s: changed: %s\n", job.Name, strings.Join(changed, ", ")))
		return fmt.Errorf("%s: %w", strings.Join(changed, ", "), errRoundTrip)
	})
	out.print(a, paths)
	return err
}

func (a *app) showAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 1 || cmd.Args().Len() > 2 {
		return usage("inpdeck show <file> [path]")
	}
	d, err := a.load(ctx, cmd, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	opts := d.Config.FormatOpts()

	if cmd.Args().Len() == 1 {
		d.Walk(func(h deck.Handle, depth int) bool {
			b := d.Block(h)
			note := ""
			switch {
			case b.Placeholder:
				note = "  (child deck)"
			case len(b.Data) > 0:
				note = fmt.Sprintf("  (%d records)", len(b.Data))
			default:
			}
			a.printf("%s%s  %s%s\n", strings.Repeat("  ", depth), strings.TrimSpace(b.FormatHeader(opts)), b.Path, note)
			return true
		})
		return nil
	}

	p, err := deck.ParsePath(cmd.Args().Get(1))
	if err != nil {
		return err
	}
	t, err := d.Navigate(p)
	if err != nil {
		return err
	}
	b := d.Block(t.Block)
	switch {
	case t.Param != "":
		a.printf("%s\n", b.ParamText(t.Param))
	case t.Cell >= 0:
		a.printf("%s\n", strings.TrimSpace(b.Data[t.Line].Cells[t.Cell].Format(opts)))
	case t.Line >= 0:
		a.printf("%s\n", b.Data[t.Line].Format(opts))
	default:
		a.printf("%s\n", b.Format(opts))
	}
	return nil
}

// criteria reads NAME or NAME=VALUE flags into a parameter map.
func criteria(specs []string) map[string]string {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string]string, len(specs))
	for _, s := range specs {
		k, v, _ := strings.Cut(s, "=")
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func (a *app) findAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return usage("inpdeck find [flags] <file>")
	}
	mode, err := deck.ParseMode(cmd.String("mode"))
	if err != nil {
		return err
	}
	d, err := a.load(ctx, cmd, cmd.Args().First())
	if err != nil {
		return err
	}

	q := deck.NewQuery(cmd.StringSlice("keyword")...)
	q.Params = criteria(cmd.StringSlice("param"))
	q.Exclude = criteria(cmd.StringSlice("exclude"))
	q.Data = cmd.String("data")
	q.Mode = mode
	if s := cmd.String("parent"); s != "" {
		p, err := deck.ParsePath(s)
		if err != nil {
			return err
		}
		t, err := d.Navigate(p)
		if err != nil {
			return err
		}
		q.Parent = t.Block
	}

	hs, err := d.Find(q)
	if err != nil {
		return err
	}
	opts := d.Config.FormatOpts()
	for _, h := range hs {
		b := d.Block(h)
		a.printf("%s  %s\n", b.Path, strings.TrimSpace(b.FormatHeader(opts)))
	}
	return nil
}

func (a *app) refsAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 2 {
		return usage("inpdeck refs --kind KIND <file> <name>...")
	}
	resolver := refs.New()
	if path := cmd.String("rules"); path != "" {
		rules, err := loadRules(path)
		if err != nil {
			return err
		}
		resolver.Rules = rules
	}
	d, err := a.load(ctx, cmd, cmd.Args().First())
	if err != nil {
		return err
	}

	res := resolver.Find(ctx, d, cmd.String("kind"), cmd.Args().Slice()[1:])
	opts := d.Config.FormatOpts()
	for name, found := range res.All() {
		a.printf("%s: %d references\n", name, len(found))
		for _, r := range found {
			a.printf("  %s  %s  %s\n", r.Path, r.Region, strings.TrimSpace(d.Block(r.Block).FormatHeader(opts)))
		}
	}
	return nil
}

func loadRules(path string) (*refs.Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rules: %w", err)
	}
	defer func() { _ = f.Close() }()
	rules, err := refs.LoadRules(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

func (a *app) deleteAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return usage("inpdeck delete [flags] <file>")
	}
	paths, names := cmd.StringSlice("path"), cmd.StringSlice("name")
	if (len(paths) == 0) == (len(names) == 0) {
		return usage("inpdeck delete (--path PATH... | --kind KIND --name NAME...) <file>")
	}
	if len(names) > 0 && cmd.String("kind") == "" {
		return usage("inpdeck delete --kind KIND --name NAME... <file>")
	}

	// Deepest and last items go first so earlier paths stay valid.
	parsed := make([]deck.Path, 0, len(paths))
	for _, s := range paths {
		p, err := deck.ParsePath(s)
		if err != nil {
			return err
		}
		parsed = append(parsed, p)
	}
	slices.SortFunc(parsed, func(x, y deck.Path) int { return deck.Compare(y, x) })

	file := cmd.Args().First()
	d, err := a.load(ctx, cmd, file)
	if err != nil {
		return err
	}

	if len(parsed) > 0 {
		for _, p := range parsed {
			if err := mutate.Delete(ctx, d, p); err != nil {
				return err
			}
		}
		a.printf("deleted %d items\n", len(parsed))
		return a.save(ctx, cmd, file, d)
	}

	res, err := mutate.DeleteNames(ctx, d, cmd.String("kind"), names, mutate.Options{
		Limit:                   int(cmd.Int("limit")),
		DeleteModifiedCouplings: cmd.Bool("delete-modified-couplings"),
		DeleteFreedNodes:        cmd.Bool("delete-freed-nodes"),
	})
	if err != nil {
		return err
	}
	a.printResult(ctx, res)
	return a.save(ctx, cmd, file, d)
}

func (a *app) printResult(ctx context.Context, res *mutate.Result) {
	a.printf("deleted %d blocks, %d nodes, %d elements, %d cells in %d rounds\n",
		len(res.Blocks), len(res.Nodes), len(res.Elements), res.Cells, res.Rounds)
	for _, r := range res.Destroyed {
		a.printf("  removed %s %s\n", r.Kind, r.Name)
	}
	log := slogctx.FromContext(ctx)
	for _, w := range res.Warnings {
		log.LogAttrs(ctx, slog.LevelWarn, "deletion incomplete", slog.Any("error", w))
	}
}

func (a *app) insertAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return usage("inpdeck insert --at PATH (--content TEXT | --from FILE) <file>")
	}
	content, from := cmd.String("content"), cmd.String("from")
	if (content == "") == (from == "") {
		return usage("inpdeck insert --at PATH (--content TEXT | --from FILE) <file>")
	}
	if from != "" {
		raw, err := os.ReadFile(from)
		if err != nil {
			return fmt.Errorf("reading %s: %w", from, err)
		}
		content = string(raw)
	}
	at, err := deck.ParsePath(cmd.String("at"))
	if err != nil {
		return err
	}

	file := cmd.Args().First()
	d, err := a.load(ctx, cmd, file)
	if err != nil {
		return err
	}
	place, verb := mutate.Insert, "inserted"
	if cmd.Bool("replace") {
		place, verb = mutate.Replace, "replaced with"
	}
	hs, err := place(ctx, d, content, at)
	if err != nil {
		return err
	}
	a.printf("%s %d blocks at %s\n", verb, len(hs), at)
	return a.save(ctx, cmd, file, d)
}

func (a *app) mergeNodesAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return usage("inpdeck merge-nodes [--pair OLD:NEW... | --pairs FILE] <file>")
	}
	file := cmd.Args().First()
	pairs, err := nodePairs(cmd, file)
	if err != nil {
		return err
	}
	d, err := a.load(ctx, cmd, file)
	if err != nil {
		return err
	}
	res, err := mutate.MergeNodes(ctx, d, pairs, mutate.Options{})
	if err != nil {
		return err
	}
	a.printf("merged %d nodes\n", len(pairs))
	a.printResult(ctx, res)
	return a.save(ctx, cmd, file, d)
}

// nodePairs collects pairs from --pair, --pairs, or a pair file beside the deck.
func nodePairs(cmd *cli.Command, file string) ([]mutate.Pair, error) {
	pairs, err := pairfile.Parse(cmd.StringSlice("pair"))
	if err != nil {
		return nil, err
	}
	if path := cmd.String("pairs"); path != "" {
		more, err := pairfile.Load(path)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, more...)
	}
	if len(pairs) > 0 {
		return pairs, nil
	}
	pairs, err = pairfile.Find(filepath.Dir(file))
	if errors.Is(err, pairfile.ErrNoPairFile) {
		return nil, fmt.Errorf("%w: %w", err, errdefs.ErrInvalidArgument)
	}
	return pairs, err
}

func (a *app) consolidateAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return usage("inpdeck consolidate [flags] <file>")
	}
	file := cmd.Args().First()
	d, err := a.load(ctx, cmd, file)
	if err != nil {
		return err
	}
	r := mutate.StepRange{Start: int(cmd.Int("start")), Stop: int(cmd.Int("stop"))}
	merged, err := mutate.ConsolidateOPKeywords(ctx, d, r)
	if err != nil {
		return err
	}
	a.printf("merged %d blocks\n", merged)
	if cmd.Bool("op-new-to-mod") {
		removed, err := mutate.ConvertOPNewToMod(ctx, d, mutate.ConvertOptions{Steps: r, Base: int(cmd.Int("base"))})
		if err != nil {
			return err
		}
		a.printf("removed %d blocks repeated from the base step\n", removed)
	}
	return a.save(ctx, cmd, file, d)
}

func (a *app) expandGenerateAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return usage("inpdeck expand-generate [flags] <file>")
	}
	file := cmd.Args().First()
	d, err := a.load(ctx, cmd, file)
	if err != nil {
		return err
	}
	n, err := mutate.RemoveGenerate(ctx, d)
	if err != nil {
		return err
	}
	a.printf("expanded %d blocks\n", n)
	return a.save(ctx, cmd, file, d)
}

// save writes d to --output (or the job-suffixed input name), or prints the
// main file with --stdout.
func (a *app) save(ctx context.Context, cmd *cli.Command, file string, d *deck.Deck) error {
	if cmd.Bool("stdout") {
		a.mu.Lock()
		defer a.mu.Unlock()
		return writer.Write(ctx, d, a.stdout)
	}
	out := cmd.String("output")
	if out == "" {
		out = outputPath(file, d.Config.JobSuffix)
	}
	res, err := writer.WriteFile(ctx, d, out)
	if err != nil {
		return err
	}
	for _, f := range res.Files {
		a.printf("wrote %s\n", f.Path)
	}
	return nil
}

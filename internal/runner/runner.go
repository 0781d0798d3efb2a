// Package runner parses a batch of decks concurrently, reporting progress
// to a display and handing each parsed deck to an action.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ndisidore/inpdeck/internal/progress"
	"github.com/ndisidore/inpdeck/internal/stats"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/parser"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// Sentinel errors for input validation.
var (
	ErrNilDisplay   = errors.New("display must not be nil")
	ErrDuplicateJob = errors.New("duplicate job name")
	ErrEmptyPath    = errors.New("job has no path")
)

// Job names one deck to parse.
type Job struct {
	Name string
	Path string
}

// Action receives each successfully parsed deck. Actions for different
// jobs run concurrently.
type Action func(ctx context.Context, job Job, d *deck.Deck) error

// RunInput holds parameters for a batch run.
type RunInput struct {
	Jobs []Job
	// Config is the deck configuration every parser uses.
	Config deck.Config
	// Resolver opens child files; nil reads the local filesystem.
	Resolver parser.Resolver
	// Display renders parse progress to the user (TUI, plain, or quiet).
	Display progress.Display
	// Stats, when set, collects file and deck statistics.
	Stats *stats.Collector
	// Parallelism caps concurrent jobs; <= 0 means unlimited.
	Parallelism int
	// FailFast cancels the remaining jobs after the first failure.
	FailFast bool
	// Action is optional; a nil Action only parses.
	Action Action
}

// JobsFromPaths names one job per path after the file's base name without
// extension. Clashing names get a numeric suffix.
func JobsFromPaths(paths []string) []Job {
	jobs := make([]Job, 0, len(paths))
	seen := make(map[string]int, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		seen[name]++
		if n := seen[name]; n > 1 {
			name += "-" + strconv.Itoa(n)
		}
		jobs = append(jobs, Job{Name: name, Path: p})
	}
	return jobs
}

func validate(in RunInput) error {
	if in.Display == nil {
		return ErrNilDisplay
	}
	seen := make(map[string]struct{}, len(in.Jobs))
	for _, j := range in.Jobs {
		if j.Path == "" {
			return fmt.Errorf("job %q: %w", j.Name, ErrEmptyPath)
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("job %q: %w", j.Name, ErrDuplicateJob)
		}
		seen[j.Name] = struct{}{}
	}
	return nil
}

// Run parses every job, running the action on each parsed deck. Without
// FailFast all jobs run and their errors are joined.
func Run(ctx context.Context, in RunInput) error {
	if err := validate(in); err != nil {
		return err
	}
	if err := in.Display.Start(ctx); err != nil {
		return fmt.Errorf("starting display: %w", err)
	}

	var (
		g    *errgroup.Group
		gctx = ctx
	)
	if in.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	if in.Parallelism > 0 {
		g.SetLimit(in.Parallelism)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, job := range in.Jobs {
		g.Go(func() error {
			err := runJob(gctx, in, job)
			if err == nil {
				return nil
			}
			err = fmt.Errorf("job %q: %w", job.Name, err)
			if in.FailFast {
				return err
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	runErr := g.Wait()

	in.Display.Seal()
	dispErr := in.Display.Wait()
	if dispErr != nil {
		dispErr = fmt.Errorf("displaying progress: %w", dispErr)
	}
	return errors.Join(runErr, errors.Join(errs...), dispErr)
}

func runJob(ctx context.Context, in RunInput, job Job) error {
	ctx = slogctx.WithDeck(ctx, job.Name)
	log := slogctx.FromContext(ctx)

	events := make(chan parser.Event)
	out := make(chan parser.Event)
	if err := in.Display.Attach(ctx, job.Name, out); err != nil {
		return fmt.Errorf("attaching display: %w", err)
	}

	var fwd sync.WaitGroup
	fwd.Go(func() {
		defer close(out)
		forward(ctx, in.Stats, job.Name, events, out)
	})

	p := parser.New(in.Config)
	if in.Resolver != nil {
		p.Resolver = in.Resolver
	}
	p.Events = events

	start := time.Now()
	d, err := p.ParseFile(ctx, job.Path)
	close(events)
	fwd.Wait()
	if err != nil {
		return fmt.Errorf("parsing %s: %w", job.Path, err)
	}

	log.LogAttrs(ctx, slog.LevelDebug, "deck parsed",
		slog.String("path", job.Path),
		slog.Int("blocks", d.Len()),
		slog.Int("problems", len(d.Problems)),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	for _, prob := range d.Problems {
		log.LogAttrs(ctx, slog.LevelWarn, "parse problem", slog.Any("error", prob))
	}
	if in.Stats != nil {
		in.Stats.Summarize(job.Name, d)
	}

	if in.Action == nil {
		return nil
	}
	return in.Action(ctx, job, d)
}

// forward relays parser events to the display until events closes. Once
// ctx is done events are still drained so the parser never blocks.
func forward(ctx context.Context, st *stats.Collector, name string, events <-chan parser.Event, out chan<- parser.Event) {
	for ev := range events {
		if st != nil {
			st.Observe(name, ev)
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
}

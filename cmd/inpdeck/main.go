// Package main provides the CLI entry point for inpdeck.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/ndisidore/inpdeck/internal/progress"
	"github.com/ndisidore/inpdeck/internal/runner"
	"github.com/ndisidore/inpdeck/internal/stats"
	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// Exit codes.
const (
	_exitFailure  = 1
	_exitUsage    = 2
	_exitNotFound = 3
)

// _logFormats lists the accepted --log-format values besides auto.
var _logFormats = []string{"pretty", "json", "text"}

// usageErr classifies err as a usage error.
func usageErr(err error) error {
	return fmt.Errorf("%w: %w", err, errdefs.ErrInvalidArgument)
}

// parseLevel reads debug, info, warn or error.
func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

func validateLogFormat(s string) error {
	if s == "auto" || slices.Contains(_logFormats, s) {
		return nil
	}
	return fmt.Errorf("log format %q: want auto, %s", s, strings.Join(_logFormats, ", "))
}

func validateLogLevel(s string) error {
	_, err := parseLevel(s)
	return err
}

// usage reports a command invoked with missing or extra arguments.
func usage(line string) error {
	return fmt.Errorf("usage: %s: %w", line, errdefs.ErrInvalidArgument)
}

// app bundles dependencies so CLI action handlers become testable methods.
type app struct {
	stdout io.Writer
	stderr io.Writer
	isTTY  bool
	format string // resolved log format (pretty, json, text)

	mu sync.Mutex // guards stdout for concurrent batch actions
}

func main() {
	a := &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		isTTY:  term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("CI") == "",
	}
	cmd := a.command()
	cmd.ExitErrHandler = func(_ context.Context, _ *cli.Command, err error) {
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errdefs.IsInvalidArgument(err):
		return _exitUsage
	case errdefs.IsNotFound(err):
		return _exitNotFound
	default:
		return _exitFailure
	}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:  "inpdeck",
		Usage: "read, query and edit Abaqus input decks",
		Flags: globalFlags(),
		OnUsageError: func(_ context.Context, _ *cli.Command, err error, _ bool) error {
			return usageErr(err)
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			a.format = cmd.String("log-format")
			if a.format == "auto" {
				if a.isTTY {
					a.format = "pretty"
				} else {
					a.format = "text"
				}
			}
			if cmd.Bool("no-color") && a.format == "pretty" {
				a.format = "text"
			}
			level, err := parseLevel(cmd.String("log-level"))
			if err != nil {
				return ctx, usageErr(err)
			}
			logger := progress.NewLogger(a.stderr, a.format, level)
			return slogctx.ContextWithLogger(ctx, logger), nil
		},
		Commands: []*cli.Command{
			{
				Name:      "parse",
				Usage:     "parse decks and report their size and problems",
				ArgsUsage: "<file>...",
				Flags: append(batchFlags(),
					&cli.BoolFlag{
						Name:  "stats",
						Usage: "print deck statistics after parsing",
					},
				),
				Action: a.parseAction,
			},
			{
				Name:      "stats",
				Usage:     "print keyword and mesh statistics of decks",
				ArgsUsage: "<file>...",
				Flags: append(batchFlags(),
					&cli.IntFlag{
						Name:  "top",
						Usage: "keywords listed per deck (0 = all)",
						Value: 10,
					},
				),
				Action: a.statsAction,
			},
			{
				Name:      "roundtrip",
				Usage:     "check that decks are written back byte for byte",
				ArgsUsage: "<file>...",
				Flags:     batchFlags(),
				Action:    a.roundtripAction,
			},
			{
				Name:      "show",
				Usage:     "print the block tree, or the item at a path",
				ArgsUsage: "<file> [path]",
				Action:    a.showAction,
			},
			{
				Name:      "find",
				Usage:     "list blocks matching keyword, parameter and data criteria",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "keyword", Aliases: []string{"k"}, Usage: "keyword name (repeatable)"},
					&cli.StringSliceFlag{Name: "param", Usage: "parameter criterion NAME or NAME=VALUE (repeatable)"},
					&cli.StringSliceFlag{Name: "exclude", Usage: "reject blocks with parameter NAME or NAME=VALUE (repeatable)"},
					&cli.StringFlag{Name: "data", Usage: "substring of the block data"},
					&cli.StringFlag{Name: "mode", Usage: "criteria combination (all, keyandone, keyandany)", Value: "all"},
					&cli.StringFlag{Name: "parent", Usage: "only search the children of the block at this path"},
				},
				Action: a.findAction,
			},
			{
				Name:      "refs",
				Usage:     "list the references to named entities",
				ArgsUsage: "<file> <name>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "entity kind (node, element, nset, elset, surface, ...)", Required: true},
					&cli.StringFlag{Name: "rules", Usage: "KDL reference rule table replacing the built-in one"},
				},
				Action: a.refsAction,
			},
			{
				Name:      "delete",
				Usage:     "delete items by path, or named entities with every reference to them",
				ArgsUsage: "<file>",
				Flags: append(outputFlags(),
					&cli.StringSliceFlag{Name: "path", Usage: "path of a block, record, cell or parameter (repeatable)"},
					&cli.StringFlag{Name: "kind", Usage: "entity kind of --name"},
					&cli.StringSliceFlag{Name: "name", Usage: "entity name or label (repeatable)"},
					&cli.IntFlag{Name: "limit", Usage: "cap on cascading deletion rounds (0 = default)"},
					&cli.BoolFlag{Name: "delete-modified-couplings", Usage: "delete couplings whose set lost any data"},
					&cli.BoolFlag{Name: "delete-freed-nodes", Usage: "delete nodes left without elements"},
				),
				Action: a.deleteAction,
			},
			{
				Name:      "insert",
				Usage:     "insert (or replace with) keyword blocks at a path",
				ArgsUsage: "<file>",
				Flags: append(outputFlags(),
					&cli.StringFlag{Name: "at", Usage: "block path to insert at", Required: true},
					&cli.StringFlag{Name: "content", Usage: "keyword block text"},
					&cli.StringFlag{Name: "from", Usage: "read the keyword block text from a file"},
					&cli.BoolFlag{Name: "replace", Usage: "replace the block at the path"},
				),
				Action: a.insertAction,
			},
			{
				Name:      "merge-nodes",
				Usage:     "relabel element connectivity from old to new nodes and delete the old nodes",
				ArgsUsage: "<file>",
				Flags: append(outputFlags(),
					&cli.StringSliceFlag{Name: "pair", Usage: "node pair OLD:NEW (repeatable)"},
					&cli.StringFlag{Name: "pairs", Usage: "file of OLD,NEW lines (default: .inpdeck-pairs or pairs.csv beside the deck)"},
				),
				Action: a.mergeNodesAction,
			},
			{
				Name:      "consolidate",
				Usage:     "merge consecutive OP keyword blocks within steps",
				ArgsUsage: "<file>",
				Flags: append(outputFlags(),
					&cli.IntFlag{Name: "start", Usage: "first step position"},
					&cli.IntFlag{Name: "stop", Usage: "step position to stop before (-1 = last)", Value: -1},
					&cli.BoolFlag{Name: "op-new-to-mod", Usage: "also drop blocks repeated from the base step and switch the rest to OP=MOD"},
					&cli.IntFlag{Name: "base", Usage: "base step position for --op-new-to-mod (-1 = each step's own base)", Value: -1},
				),
				Action: a.consolidateAction,
			},
			{
				Name:      "expand-generate",
				Usage:     "rewrite GENERATE label ranges as explicit labels",
				ArgsUsage: "<file>",
				Flags:     outputFlags(),
				Action:    a.expandGenerateAction,
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:      "log-format",
			Usage:     "log format (auto, " + strings.Join(_logFormats, ", ") + ")",
			Value:     "auto",
			Sources:   cli.EnvVars("INPDECK_LOG_FORMAT"),
			Validator: validateLogFormat,
		},
		&cli.StringFlag{
			Name:      "log-level",
			Usage:     "log level (debug, info, warn, error)",
			Value:     "warn",
			Sources:   cli.EnvVars("INPDECK_LOG_LEVEL"),
			Validator: validateLogLevel,
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "plain text logs",
		},
		&cli.StringFlag{
			Name:    "encoding",
			Usage:   "text encoding of decks (IANA name)",
			Value:   "utf-8",
			Sources: cli.EnvVars("INPDECK_ENCODING"),
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "fail on the first bad block",
		},
		&cli.BoolFlag{
			Name:  "no-sub-files",
			Usage: "do not read INPUT= data files",
		},
		&cli.BoolFlag{
			Name:  "flat",
			Usage: "do not nest blocks under their opening keyword",
		},
		&cli.BoolFlag{
			Name:  "normalize-spacing",
			Usage: "write data tokens canonically instead of as read",
		},
		&cli.BoolFlag{
			Name:  "remove-trailing-zero",
			Usage: "write decimals without a trailing zero (1. instead of 1.0)",
		},
		&cli.StringFlag{
			Name:  "job-suffix",
			Usage: "suffix replacing .inp in written file names",
			Value: deck.DefaultJobSuffix,
		},
		&cli.IntFlag{
			Name:  "manifest-workers",
			Usage: "child decks of a manifest parsed concurrently (0 = sequential)",
		},
		&cli.StringFlag{
			Name:  "progress",
			Usage: "progress output mode (auto, tui, plain, quiet)",
			Value: "auto",
		},
		&cli.BoolFlag{
			Name:  "boring",
			Usage: "use ASCII instead of emoji in TUI output",
		},
	}
}

// batchFlags returns the shared flag set for commands over many decks.
func batchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "parallelism",
			Aliases: []string{"j"},
			Usage:   "max concurrent decks (0 = unlimited)",
		},
		&cli.BoolFlag{
			Name:  "fail-fast",
			Usage: "stop at the first deck that fails",
		},
	}
}

// outputFlags returns the shared flag set for commands that rewrite a deck.
func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output path (default: the input name with the job suffix)",
		},
		&cli.BoolFlag{
			Name:  "stdout",
			Usage: "print the main file instead of writing files",
		},
	}
}

// config maps the global flags onto a deck configuration.
func config(cmd *cli.Command) deck.Config {
	cfg := deck.DefaultConfig()
	cfg.Encoding = cmd.String("encoding")
	cfg.Strict = cmd.Bool("strict")
	cfg.ParseSubFiles = !cmd.Bool("no-sub-files")
	cfg.Organize = !cmd.Bool("flat")
	cfg.PreserveSpacing = !cmd.Bool("normalize-spacing")
	cfg.RemoveTrailingZero = cmd.Bool("remove-trailing-zero")
	cfg.ManifestWorkers = int(cmd.Int("manifest-workers"))
	if s := cmd.String("job-suffix"); s != "" {
		cfg.JobSuffix = s
	}
	return cfg
}

// outputPath swaps the extension of path for the job suffix.
func outputPath(path, suffix string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix
}

func (a *app) selectDisplay(mode string, boring, batch bool) (progress.Display, error) {
	switch mode {
	case "auto":
		switch {
		case !batch:
			return &progress.Quiet{}, nil
		case a.isTTY && a.format == "pretty":
			return &progress.TUI{Boring: boring}, nil
		default:
			return &progress.Plain{}, nil
		}
	case "tui":
		return &progress.TUI{Boring: boring}, nil
	case "plain":
		return &progress.Plain{}, nil
	case "quiet":
		return &progress.Quiet{}, nil
	default:
		return nil, fmt.Errorf("unknown progress mode %q (valid: auto, tui, plain, quiet): %w", mode, errdefs.ErrInvalidArgument)
	}
}

// batch parses the decks at paths through the runner and calls fn on each.
func (a *app) batch(ctx context.Context, cmd *cli.Command, paths []string, st *stats.Collector, fn runner.Action) error {
	if len(paths) == 0 {
		return usage("inpdeck " + cmd.Name + " <file>...")
	}
	parallelism := int(cmd.Int("parallelism"))
	if parallelism < 0 {
		return fmt.Errorf("invalid value %d for flag --parallelism: must be >= 0: %w", parallelism, errdefs.ErrInvalidArgument)
	}
	display, err := a.selectDisplay(cmd.String("progress"), cmd.Bool("boring"), true)
	if err != nil {
		return err
	}
	return runner.Run(ctx, runner.RunInput{
		Jobs:        runner.JobsFromPaths(paths),
		Config:      config(cmd),
		Display:     display,
		Stats:       st,
		Parallelism: parallelism,
		FailFast:    cmd.Bool("fail-fast"),
		Action:      fn,
	})
}

// load parses the single deck at path.
func (a *app) load(ctx context.Context, cmd *cli.Command, path string) (*deck.Deck, error) {
	display, err := a.selectDisplay(cmd.String("progress"), cmd.Bool("boring"), false)
	if err != nil {
		return nil, err
	}
	var d *deck.Deck
	err = runner.Run(ctx, runner.RunInput{
		Jobs:    runner.JobsFromPaths([]string{path}),
		Config:  config(cmd),
		Display: display,
		Action: func(_ context.Context, _ runner.Job, parsed *deck.Deck) error {
			d = parsed
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// printf writes to stdout; safe for concurrent actions.
func (a *app) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}

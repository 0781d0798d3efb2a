// Package stats summarizes parsed decks: files read, blocks, keyword
// frequencies and mesh size.
package stats

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/ndisidore/inpdeck/pkg/deck"
	"github.com/ndisidore/inpdeck/pkg/parser"
)

// FileStat records one file read while parsing a deck.
type FileStat struct {
	Name   string
	Blocks int
	Lines  int
	Digest digest.Digest
	// Repeat marks a file whose content was already read for this deck.
	Repeat   bool
	Duration time.Duration
}

// KeywordCount is the number of blocks of one keyword.
type KeywordCount struct {
	Keyword string
	Count   int
}

// DeckReport summarizes one deck.
type DeckReport struct {
	Deck        string
	Files       int
	RepeatFiles int
	Lines       int
	Blocks      int
	Nodes       int
	Elements    int
	Problems    int
	Keywords    []KeywordCount
	Duration    time.Duration
}

// Report aggregates statistics across all decks.
type Report struct {
	Decks []DeckReport
}

// RepeatRate returns the share of file reads whose content had already
// been read (0.0-1.0). Returns 0 when no file was read.
func (r Report) RepeatRate() float64 {
	var total, repeat int
	for i := range r.Decks {
		total += r.Decks[i].Files
		repeat += r.Decks[i].RepeatFiles
	}
	if total == 0 {
		return 0
	}
	return float64(repeat) / float64(total)
}

type deckStats struct {
	files    []FileStat
	seen     map[digest.Digest]struct{}
	started  map[string]time.Time
	summary  *DeckReport
	observed bool
}

// Collector accumulates parse events and deck summaries.
// It is safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	order []string // deck names in first-observed order
	decks map[string]*deckStats
	now   func() time.Time
}

// NewCollector returns a new Collector ready for use.
func NewCollector() *Collector {
	return &Collector{decks: make(map[string]*deckStats), now: time.Now}
}

func (c *Collector) deck(name string) *deckStats {
	ds, ok := c.decks[name]
	if !ok {
		ds = &deckStats{seen: make(map[digest.Digest]struct{}), started: make(map[string]time.Time)}
		c.decks[name] = ds
		c.order = append(c.order, name)
	}
	return ds
}

// Observe records a parse event for the named deck. Only Done events add
// file statistics; files are deduplicated by content digest.
func (c *Collector) Observe(name string, ev parser.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds := c.deck(name)
	switch ev.Kind {
	case parser.EventStarted:
		ds.started[ev.File] = c.now()
	case parser.EventDone:
		fs := FileStat{Name: ev.File, Blocks: ev.Blocks, Lines: ev.Lines, Digest: ev.Digest}
		if t, ok := ds.started[ev.File]; ok {
			fs.Duration = c.now().Sub(t)
		}
		if ev.Digest != "" {
			if _, dup := ds.seen[ev.Digest]; dup {
				fs.Repeat = true
			}
			ds.seen[ev.Digest] = struct{}{}
		}
		ds.files = append(ds.files, fs)
	default:
	}
}

// Summarize records the block and mesh statistics of a parsed deck.
func (c *Collector) Summarize(name string, d *deck.Deck) {
	counts := make(map[string]int)
	blocks := 0
	d.Walk(func(h deck.Handle, _ int) bool {
		b := d.Block(h)
		if b == nil || b.Placeholder {
			return true
		}
		blocks++
		counts[keywordName(b)]++
		return true
	})
	kws := make([]KeywordCount, 0, len(counts))
	for k, n := range counts {
		kws = append(kws, KeywordCount{Keyword: k, Count: n})
	}
	slices.SortFunc(kws, func(a, b KeywordCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Keyword, b.Keyword)
	})

	r := &DeckReport{Deck: name, Blocks: blocks, Problems: len(d.Problems), Keywords: kws}
	if d.Mesh != nil {
		r.Nodes, r.Elements = d.Mesh.NumNodes(), d.Mesh.NumElements()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.deck(name).summary = r
}

// keywordName spells a keyword upper case with single blanks.
func keywordName(b *deck.Block) string {
	return strings.ToUpper(strings.Join(strings.Fields(b.NameRaw), " "))
}

// Report returns the aggregated statistics in observation order.
// Call after all decks complete.
func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := Report{Decks: make([]DeckReport, 0, len(c.order))}
	for _, name := range c.order {
		ds := c.decks[name]
		dr := DeckReport{Deck: name}
		if ds.summary != nil {
			dr = *ds.summary
		}
		dr.Files, dr.RepeatFiles, dr.Lines, dr.Duration = 0, 0, 0, 0
		for _, f := range ds.files {
			dr.Files++
			if f.Repeat {
				dr.RepeatFiles++
			}
			dr.Lines += f.Lines
			dr.Duration += f.Duration
		}
		r.Decks = append(r.Decks, dr)
	}
	return r
}

// PrintReport writes a human-readable summary to w, listing at most top
// keywords per deck. top <= 0 lists them all.
func PrintReport(w io.Writer, r Report, top int) {
	_, _ = fmt.Fprintln(w, "Deck summary:")
	for _, dr := range r.Decks {
		_, _ = fmt.Fprintf(w, "  %-16s %d files (%d repeated), %d lines, %d blocks, %d nodes, %d elements  %s\n",
			dr.Deck, dr.Files, dr.RepeatFiles, dr.Lines, dr.Blocks, dr.Nodes, dr.Elements, dr.Duration.Round(time.Millisecond))
		if dr.Problems > 0 {
			_, _ = fmt.Fprintf(w, "    %d problems\n", dr.Problems)
		}
		kws := dr.Keywords
		if top > 0 && len(kws) > top {
			kws = kws[:top]
		}
		for _, k := range kws {
			_, _ = fmt.Fprintf(w, "    *%-28s %d\n", k.Keyword, k.Count)
		}
	}
	_, _ = fmt.Fprintf(w, "  Repeated file reads: %4.1f%%\n", r.RepeatRate()*100)
}

package progress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ndisidore/inpdeck/pkg/parser"
	"github.com/ndisidore/inpdeck/pkg/slogctx"
)

// Plain consumes parse events and emits them as slog messages.
// The slog handler (pretty/json/text) decides how to render.
type Plain struct {
	wg sync.WaitGroup
}

// Start is a no-op for Plain.
func (*Plain) Start(_ context.Context) error { return nil }

// Attach spawns a goroutine that consumes events and emits slog messages.
func (p *Plain) Attach(ctx context.Context, deck string, ch <-chan parser.Event) error {
	p.wg.Go(func() {
		p.consume(ctx, deck, ch)
	})
	return nil
}

// Seal is a no-op for Plain; Wait uses a WaitGroup and every Attach call
// completes before the caller waits.
func (*Plain) Seal() {}

// Wait blocks until all attached decks complete.
func (p *Plain) Wait() error {
	p.wg.Wait()
	return nil
}

func (*Plain) consume(ctx context.Context, deck string, ch <-chan parser.Event) {
	log := slogctx.FromContext(ctx)
	started := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			// The parser stops sending once ctx is done; drain whatever it
			// already queued so its owner can close ch.
			//revive:disable-next-line:empty-block // draining
			for range ch {
			}
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			logEvent(ctx, log, deck, ev, started)
		}
	}
}

func logEvent(ctx context.Context, log *slog.Logger, deck string, ev parser.Event, started map[string]time.Time) {
	indent := strings.Repeat("  ", ev.Depth)
	base := []slog.Attr{
		slog.String("deck", deck),
		slog.String("file", ev.File),
		slog.Int("depth", ev.Depth),
	}

	switch ev.Kind {
	case parser.EventStarted:
		started[ev.File] = time.Now()
		attrs := append(base, slog.String("event", "file.started"))
		//nolint:sloglint // dynamic msg encodes user-facing formatted output
		log.LogAttrs(ctx, slog.LevelDebug, fmt.Sprintf("[%s] %sreading %s", deck, indent, ev.File), attrs...)
	case parser.EventDone:
		var dur time.Duration
		if t, ok := started[ev.File]; ok {
			dur = time.Since(t).Round(time.Millisecond)
		}
		attrs := append(base,
			slog.String("event", "file.done"),
			slog.Int("blocks", ev.Blocks),
			slog.Int("lines", ev.Lines),
			slog.String("digest", ev.Digest.String()),
			slog.Duration("duration", dur),
		)
		//nolint:sloglint // dynamic msg encodes user-facing formatted output
		log.LogAttrs(ctx, slog.LevelInfo, fmt.Sprintf("[%s] %sread %s: %d blocks, %d lines", deck, indent, ev.File, ev.Blocks, ev.Lines), attrs...)
	case parser.EventFailed:
		attrs := append(base, slog.String("event", "file.failed"), slog.Any("error", ev.Err))
		//nolint:sloglint // dynamic msg encodes user-facing formatted output
		log.LogAttrs(ctx, slog.LevelError, fmt.Sprintf("[%s] %sFAIL %s: %v", deck, indent, ev.File, ev.Err), attrs...)
	default:
	}
}

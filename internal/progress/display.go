// Package progress renders parse progress for the CLI and builds its
// logger.
package progress

import (
	"context"
	"errors"

	"github.com/ndisidore/inpdeck/pkg/parser"
)

// ErrNotStarted is returned when Attach or Wait is called before Start.
var ErrNotStarted = errors.New("display not started")

// Display renders the parse events of one or more decks.
type Display interface {
	// Start prepares the display. It must be called before Attach.
	Start(ctx context.Context) error
	// Attach consumes the events of one deck until ch is closed.
	Attach(ctx context.Context, deck string, ch <-chan parser.Event) error
	// Seal declares that no more decks will be attached.
	Seal()
	// Wait blocks until every attached deck has been rendered.
	Wait() error
}

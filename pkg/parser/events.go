package parser

import (
	"github.com/opencontainers/go-digest"
)

// EventKind classifies a parse Event.
type EventKind int

// Event kinds.
const (
	EventStarted EventKind = iota
	EventDone
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventDone:
		return "done"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event reports progress on one file of a deck.
type Event struct {
	Kind EventKind
	File string
	// Depth is 0 for the main file and grows by one per child level.
	Depth int
	// Blocks and Lines count the keyword blocks and lines read; set on Done.
	Blocks int
	Lines  int
	Digest digest.Digest
	Err    error
}

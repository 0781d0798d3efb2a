package deck

import (
	"context"

	"github.com/ndisidore/inpdeck/pkg/catalog"
	"github.com/ndisidore/inpdeck/pkg/scalar"
)

// DefaultJobSuffix is appended to child file names on write.
const DefaultJobSuffix = "_NEW.inp"

// Config carries the settings threaded through parsing and writing.
type Config struct {
	// Encoding is the IANA name of the text encoding of input and output.
	Encoding string
	Catalog  *catalog.Catalog
	// Strict makes the first bad block fail the parse.
	Strict bool
	// ParseSubFiles enables reading INPUT= data files.
	ParseSubFiles bool
	// PreserveSpacing keeps the exact spelling of every data token.
	PreserveSpacing    bool
	RemoveTrailingZero bool
	// JobSuffix replaces the ".inp" extension of child files on write.
	JobSuffix string
	// Organize nests blocks under their opening keyword.
	Organize bool
	// ManifestWorkers bounds concurrent parsing of manifest child decks.
	// Zero parses them sequentially.
	ManifestWorkers int
	Extensions      []Extension
}

// DefaultConfig returns the default settings with the embedded catalog.
func DefaultConfig() Config {
	return Config{
		Encoding:        "utf-8",
		Catalog:         catalog.Default(),
		ParseSubFiles:   true,
		PreserveSpacing: true,
		JobSuffix:       DefaultJobSuffix,
		Organize:        true,
	}
}

// FormatOpts returns the scalar formatting options for writing.
func (c Config) FormatOpts() scalar.FormatOpts {
	return scalar.FormatOpts{RemoveTrailingZero: c.RemoveTrailingZero}
}

// Extension observes blocks as the parser places them.
type Extension interface {
	Name() string
	// OnBlock runs after block h and its data are in place. Returning an
	// error records a problem, or fails the parse in strict mode.
	OnBlock(ctx context.Context, d *Deck, h Handle) error
}

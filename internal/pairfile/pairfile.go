// Package pairfile loads node merge pairs for the merge-nodes command.
package pairfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/ndisidore/inpdeck/pkg/mutate"
)

// Sentinel errors for pair files.
var (
	ErrNoPairFile = errors.New("no pair file found")
	ErrBadPair    = errors.New("malformed node pair")
)

// Default file names looked up next to a deck, in order.
const (
	_pairsFile = ".inpdeck-pairs"
	_csvFile   = "pairs.csv"
)

// Find reads .inpdeck-pairs (or pairs.csv fallback) from dir.
// Returns ErrNoPairFile when neither file exists.
func Find(dir string) ([]mutate.Pair, error) {
	pairs, err := Load(filepath.Join(dir, _pairsFile))
	if err == nil {
		return pairs, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	pairs, err = Load(filepath.Join(dir, _csvFile))
	if err == nil {
		return pairs, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoPairFile
	}
	return nil, err
}

// Load reads the pair file at path.
func Load(path string) ([]mutate.Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	pairs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return pairs, nil
}

// Read parses one "old,new" node label pair per line. Commas, blanks or
// tabs separate the labels. Blank lines and comments (lines starting
// with #) are skipped.
func Read(r io.Reader) ([]mutate.Pair, error) {
	pairs := []mutate.Pair{}
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := parsePair(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		pairs = append(pairs, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning pair file: %w", err)
	}
	return pairs, nil
}

// Parse reads pairs written inline as "old:new", as given on the command line.
func Parse(specs []string) ([]mutate.Pair, error) {
	pairs := make([]mutate.Pair, 0, len(specs))
	for _, s := range specs {
		p, err := parsePair(strings.Replace(s, ":", ",", 1))
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func parsePair(line string) (mutate.Pair, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != 2 {
		return mutate.Pair{}, fmt.Errorf("%q: want two labels: %w", line, errors.Join(ErrBadPair, errdefs.ErrInvalidArgument))
	}
	var labels [2]int64
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil || v <= 0 {
			return mutate.Pair{}, fmt.Errorf("%q: label %q: %w", line, f, errors.Join(ErrBadPair, errdefs.ErrInvalidArgument))
		}
		labels[i] = v
	}
	return mutate.Pair{Old: labels[0], New: labels[1]}, nil
}

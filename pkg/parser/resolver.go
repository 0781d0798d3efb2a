package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Resolver opens child files named by *INCLUDE, *MANIFEST and INPUT=
// parameters. Implementations return the content reader, the resolved path
// (used for cycle detection and for resolving the child's own children) and
// any error.
type Resolver interface {
	Resolve(source string, basePath string) (io.ReadCloser, string, error)
}

// FileResolver resolves child files from the local filesystem.
type FileResolver struct{}

// Resolve opens the first existing candidate among the literal source, the
// source with surrounding blanks stripped, and both joined to basePath.
func (*FileResolver) Resolve(source string, basePath string) (io.ReadCloser, string, error) {
	for _, cand := range candidates(source, basePath) {
		f, err := os.Open(cand)
		if err == nil {
			return f, filepath.Clean(cand), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("opening %q from %s: %w", source, basePath, err)
		}
	}
	return nil, "", fmt.Errorf("resolving %q from %s: %w", source, basePath, os.ErrNotExist)
}

// candidates lists the paths tried for source, deduplicated, in search order.
func candidates(source, basePath string) []string {
	stripped := strings.TrimSpace(source)
	raw := []string{source, stripped}
	if basePath != "" {
		if !filepath.IsAbs(source) {
			raw = append(raw, filepath.Join(basePath, source))
		}
		if !filepath.IsAbs(stripped) {
			raw = append(raw, filepath.Join(basePath, stripped))
		}
	}
	out := raw[:0]
	seen := make(map[string]struct{}, len(raw))
	for _, c := range raw {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

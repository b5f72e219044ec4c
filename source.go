package strata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// scriptSuffix is the file suffix a directory entry must carry to be
// considered a change script. Everything else is ignored silently.
const scriptSuffix = ".sql"

// ChangeScript is one versioned unit of schema change, sourced from a single
// file. Its content is loaded only at apply time and never cached beyond one
// run.
type ChangeScript struct {
	// Version is the file name without its extension. Versions sort
	// lexicographically in intended application order, so a time-sortable
	// prefix like 20240101000000_create_brokers is the required naming
	// convention, not merely a suggestion.
	Version string

	// Name is a human-readable name derived from the version: the timestamp
	// prefix is stripped and underscores become spaces.
	Name string

	// Path is the script's location on disk.
	Path string
}

// Source discovers available change scripts from a directory.
type Source struct {
	dir string
}

// NewSource returns a source reading change scripts from the given directory.
func NewSource(dir string) *Source {
	return &Source{dir: dir}
}

// ListAvailable enumerates the change scripts in the source directory in
// ascending version order (a string sort; the filesystem's enumeration order
// is never trusted). A missing directory is created empty and yields an empty
// list, a first-run bootstrap convenience rather than an error.
func (s *Source) ListAvailable() ([]*ChangeScript, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := os.MkdirAll(s.dir, 0o755); err != nil {
				return nil, fmt.Errorf("error creating migrations directory %q: %w", s.dir, err)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("error reading migrations directory %q: %w", s.dir, err)
	}

	var scripts []*ChangeScript
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), scriptSuffix) {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), scriptSuffix)
		scripts = append(scripts, &ChangeScript{
			Version: version,
			Name:    scriptName(version),
			Path:    filepath.Join(s.dir, entry.Name()),
		})
	}

	slices.SortFunc(scripts, func(a, b *ChangeScript) int {
		return strings.Compare(a.Version, b.Version)
	})

	return scripts, nil
}

// Load returns the raw content of a change script, or a SourceReadError when
// the file vanished between listing and loading.
func (s *Source) Load(script *ChangeScript) (string, error) {
	content, err := os.ReadFile(script.Path)
	if err != nil {
		return "", &SourceReadError{Path: script.Path, Err: err}
	}
	return string(content), nil
}

// scriptName derives a human-readable name from a version string: the leading
// all-digit timestamp segment is dropped and separators become spaces.
// "20240101000000_create_brokers" becomes "create brokers".
func scriptName(version string) string {
	prefix, rest, found := strings.Cut(version, "_")
	if found && isAllDigits(prefix) {
		return strings.ReplaceAll(rest, "_", " ")
	}
	return strings.ReplaceAll(version, "_", " ")
}

func isAllDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, char := range value {
		if char < '0' || char > '9' {
			return false
		}
	}
	return true
}

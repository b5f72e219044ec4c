package strata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// versionTimeFormat is the timestamp prefix of authored change scripts,
// accurate down to the second so that versions sort lexicographically in
// authoring order. Two scripts authored within the same second collide; with
// an operator-driven, low-frequency workflow that narrow race is accepted.
const versionTimeFormat = "20060102150405"

const scriptTemplate = `-- Write the statements for this change script below. Statements are split on
-- the statement terminator before execution, so it must not appear inside
-- string literals. A script with no statements is valid.
--
-- CREATE TABLE instrument (
--     id INTEGER PRIMARY KEY
-- );
`

// Create writes a new templated change script into dir, versioned with the
// current timestamp and a normalized form of name (whitespace becomes
// underscores). Returns the path of the created file.
func Create(dir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("migration name is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating migrations directory %q: %w", dir, err)
	}

	version := time.Now().UTC().Format(versionTimeFormat) + "_" + normalizeName(name)
	path := filepath.Join(dir, version+scriptSuffix)

	if err := os.WriteFile(path, []byte(scriptTemplate), 0o644); err != nil {
		return "", fmt.Errorf("error writing change script %q: %w", path, err)
	}

	return path, nil
}

// normalizeName lowercases a human-supplied migration name and joins its
// words with underscores so it can embed in a file name.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

package strata

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SplitStatements splits a change script into individual statements on the
// `;` terminator, discarding empty and whitespace-only fragments. A script
// with no executable statements is valid and yields nil.
//
// The split is purely textual: it does not understand string literals or
// comments containing the terminator. Scripts must avoid embedding `;` inside
// literals, or restructure the statement. This is a deliberate constraint on
// script authors, not a parsing bug.
func SplitStatements(script string) []string {
	var statements []string
	for _, fragment := range strings.Split(script, ";") {
		if strings.TrimSpace(fragment) == "" {
			continue
		}
		statements = append(statements, fragment)
	}
	return statements
}

// Checksum returns a hex-encoded SHA-256 digest of a change script's raw
// (unsplit) content. Recorded in the ledger at apply time so that later edits
// to an already-applied script can be detected.
func Checksum(content string) string {
	digest := sha256.Sum256([]byte(content))
	return hex.EncodeToString(digest[:])
}

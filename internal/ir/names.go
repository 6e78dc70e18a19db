package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns the NFC form of an identifier (provider, operation or
// variable name) with surrounding whitespace removed. Data values are never
// normalized.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// IsQueryName reports whether name is reserved for pure queries.
func IsQueryName(name string) bool {
	return strings.HasPrefix(name, QueryPrefix)
}

// QueryPrefix marks operation names that are pure queries.
const QueryPrefix = "_"

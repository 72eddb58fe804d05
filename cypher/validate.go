// Package cypher validates LLM-generated graph queries before anything
// acts on them. Hand-written system queries never pass through here; the
// validator exists solely to keep a misbehaving or prompt-injected model
// from reaching a write path.
package cypher

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidQuery wraps every validation failure so callers can branch
// on the class without exposing the raw reason to clients.
var ErrInvalidQuery = errors.New("cypher: query rejected")

// writeKeywords are rejected anywhere outside a string literal, even
// though the allowlist alone would exclude them. Defense in depth.
var writeKeywords = []string{
	"CREATE ", "DELETE ", "DETACH ", "DROP ", "SET ", "MERGE ",
	"REMOVE ", "LOAD ", "COPY ", "ALTER ", "INSTALL ", "EXPORT ", "IMPORT ",
}

var (
	// Unbounded variable-length paths: [*], [:REL*], [*..], [:REL*..5]
	reUnboundedPath = regexp.MustCompile(`\[\s*(?::\w+\s*)?\*\s*(?:\.\.\s*\d+\s*)?\]`)
	// Bounded form required instead: [*1..3], [:LINKS_TO*1..2]
	reBoundedPath = regexp.MustCompile(`\[\s*(?::\w+\s*)?\*\s*\d+\s*\.\.\s*\d+\s*\]`)

	reLineComment  = regexp.MustCompile(`//[^\n]*`)
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// stripLiterals removes quoted string literals and comments so keyword
// checks cannot be bypassed by smuggling keywords inside strings.
func stripLiterals(q string) string {
	var b strings.Builder
	b.Grow(len(q))

	var quote byte
	for i := 0; i < len(q); i++ {
		c := q[i]
		if quote != 0 {
			if c == '\\' { // skip escaped char inside literal
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		b.WriteByte(c)
	}

	out := b.String()
	out = reLineComment.ReplaceAllString(out, " ")
	out = reBlockComment.ReplaceAllString(out, " ")
	return out
}

// Validate checks an LLM-generated read query against the allowlist and
// blocklist. It returns a wrapped ErrInvalidQuery on failure; the reason
// is for logs, not for clients.
func Validate(query string) error {
	stripped := strings.TrimSpace(stripLiterals(query))
	if stripped == "" {
		return fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}

	upper := strings.ToUpper(strings.Join(strings.Fields(stripped), " "))

	// Allowlist: only read entry points.
	if !strings.HasPrefix(upper, "MATCH ") &&
		!strings.HasPrefix(upper, "CALL QUERY_VECTOR_INDEX") {
		return fmt.Errorf("%w: must start with MATCH or CALL QUERY_VECTOR_INDEX", ErrInvalidQuery)
	}

	// Blocklist: write/DDL keywords anywhere in the stripped text.
	padded := " " + upper
	for _, kw := range writeKeywords {
		if strings.Contains(padded, " "+kw) || strings.Contains(padded, "("+kw) {
			return fmt.Errorf("%w: forbidden keyword %q", ErrInvalidQuery, strings.TrimSpace(kw))
		}
	}

	// Variable-length paths must be bounded.
	for _, m := range reUnboundedPath.FindAllString(stripped, -1) {
		if !reBoundedPath.MatchString(m) {
			return fmt.Errorf("%w: unbounded variable-length path %q", ErrInvalidQuery, m)
		}
	}

	return nil
}

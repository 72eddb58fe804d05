// Package sanitize redacts credential material from error strings before
// they cross a boundary (logs, API responses, tracebacks).
package sanitize

import "regexp"

const redacted = "***REDACTED***"

// Ordering matters: the most specific patterns run first so a broader
// pattern cannot leave a partially-redacted remnant behind.
var redactionPatterns = []*regexp.Regexp{
	// Dict-style: "api_key": "sk-abc..." (any quoted value)
	regexp.MustCompile(`(?i)("(?:api[_-]?key|token|secret[_-]?key|authorization)"\s*:\s*")[^"]+(")`),
	// Authorization header: Authorization: Bearer <token>
	regexp.MustCompile(`(?i)(authorization\s*:\s*)(?:bearer\s+)?[A-Za-z0-9._\-]{16,256}`),
	// key=value / key: value assignments with a long token
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret[_-]?key|bearer|authorization)\s*[=:]\s*)[A-Za-z0-9\-_]{20,128}`),
	// Quoted provider-style keys: "sk-..." in any surrounding text
	regexp.MustCompile(`(["'])sk-[A-Za-z0-9\-_]{16,125}(["'])`),
	// Any long quoted opaque token. The 30-char floor keeps legitimate
	// short identifiers (titles, ids) out of scope.
	regexp.MustCompile(`(["'])[A-Za-z0-9\-_]{30,128}(["'])`),
	// Bare provider-style keys
	regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{16,125}\b`),
}

// Redact replaces credential-shaped substrings with ***REDACTED***.
// Safe on arbitrary text; returns the input unchanged when nothing
// matches.
func Redact(s string) string {
	for _, p := range redactionPatterns {
		s = p.ReplaceAllStringFunc(s, func(m string) string {
			groups := p.FindStringSubmatch(m)
			switch len(groups) {
			case 3: // prefix + suffix captured (quotes or dict key)
				return groups[1] + redacted + groups[2]
			case 2: // prefix captured
				return groups[1] + redacted
			default:
				return redacted
			}
		})
	}
	return s
}

// RedactError is a nil-tolerant convenience for error values.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}

// Package sanitize cleans text that is passed back to MCP clients.
// Admin endpoints behind proxies can answer with HTML pages or terminal-colored
// output, and error chains may carry credentials; both are reduced to one safe line.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxErrorText bounds the length of error text in tool responses.
const MaxErrorText = 512

var (
	// ANSI escape codes: \x1b[...m (SGR sequences)
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

	htmlTag    = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// StripANSI removes ANSI escape codes.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// ErrorText reduces a raw error body to a single line of at most MaxErrorText runes.
func ErrorText(s string) string {
	s = StripANSI(s)
	s = htmlTag.ReplaceAllString(s, " ")
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))

	if r := []rune(s); len(r) > MaxErrorText {
		s = string(r[:MaxErrorText]) + "..."
	}
	return s
}

// Redact replaces every occurrence of secret in s. Empty secrets leave s unchanged.
func Redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[REDACTED]")
}

// Package policy holds content rules shared across the pipeline: PII
// redaction for anything leaving the process and detection of directive
// wording in system-authored text.
package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: card numbers would otherwise be taken for phone numbers.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`(?i)\b\d{1,5}\s+[a-z0-9.]+(?:\s+[a-z0-9.]+)?\s+(?:street|st|avenue|ave|road|rd|lane|ln|drive|dr|boulevard|blvd)\b`), "[REDACTED_ADDRESS]"},
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogSnippet redacts content and truncates it to at most max runes for
// log lines.
func LogSnippet(content string, max int) string {
	out, _ := RedactPII(strings.Join(strings.Fields(content), " "))
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	return string(runes[:max]) + "…"
}

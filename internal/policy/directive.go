package policy

import (
	"regexp"
	"strings"
)

var (
	directivePhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\byou\s+(must|should|need\s+to|have\s+to|ought\s+to|had\s+better)\b`),
		regexp.MustCompile(`(?i)\b(do\s+not|don'?t|never)\s+\w+`),
		regexp.MustCompile(`(?i)\bmake\s+sure\s+(you|to)\b`),
	}
	imperativeOpeners = map[string]struct{}{
		"call": {}, "text": {}, "go": {}, "stop": {}, "take": {}, "try": {},
		"breathe": {}, "calm": {}, "tell": {}, "contact": {}, "listen": {},
		"remember": {}, "focus": {}, "put": {}, "get": {}, "write": {},
		"avoid": {}, "promise": {}, "reach": {}, "leave": {}, "drink": {},
	}
	sentenceSplit = regexp.MustCompile(`[.!?;\n]+`)
)

// LooksDirective reports whether text contains prescriptive or imperative
// phrasing, either a directive phrase anywhere or a sentence that opens with
// a bare command verb.
func LooksDirective(text string) bool {
	in := strings.TrimSpace(text)
	if in == "" {
		return false
	}
	for _, re := range directivePhrases {
		if re.MatchString(in) {
			return true
		}
	}
	for _, sentence := range sentenceSplit.Split(in, -1) {
		words := strings.Fields(strings.ToLower(sentence))
		if len(words) == 0 {
			continue
		}
		first := strings.Trim(words[0], `"'(),:-`)
		if first == "please" && len(words) > 1 {
			first = strings.Trim(words[1], `"'(),:-`)
		}
		if _, ok := imperativeOpeners[first]; ok {
			return true
		}
	}
	return false
}

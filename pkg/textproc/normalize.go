package textproc

import "strings"

// Normalize cleans raw extracted text for chunking. Hyphenated line wraps are
// joined first (PDF extractors split words across line breaks as "frag-\nment"),
// then every run of whitespace collapses to a single space and the result is
// trimmed. The function is pure and idempotent; empty input yields "".
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	raw = strings.ReplaceAll(raw, "-\r\n", "")
	raw = strings.ReplaceAll(raw, "-\n", "")
	raw = strings.ReplaceAll(raw, "\x00", " ")
	raw = strings.ToValidUTF8(raw, "")
	return strings.Join(strings.Fields(raw), " ")
}

package sensing

import "regexp"

var (
	urlPattern        = regexp.MustCompile(`https?://[^\s"'<>]+`)
	identifierPattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_]{2,}\b`)
)

const maxEntities = 10

// extractEntities pulls a bounded set of URLs and capitalised identifiers out
// of a chunk of text, de-duplicated in first-seen order.
func extractEntities(text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) bool {
		if seen[s] {
			return false
		}
		seen[s] = true
		out = append(out, s)
		return len(out) >= maxEntities
	}
	for _, m := range urlPattern.FindAllString(text, -1) {
		if add(m) {
			return out
		}
	}
	for _, m := range identifierPattern.FindAllString(text, -1) {
		if add(m) {
			return out
		}
	}
	return out
}

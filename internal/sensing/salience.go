package sensing

import "strings"

const (
	salienceHigh    = 0.9
	salienceDefault = 0.5
	salienceLow     = 0.2
)

var highSalienceTerms = []string{"fatal", "error", "timeout"}
var lowSalienceTerms = []string{"info", "debug"}

// scoreSalience applies the keyword rule: fatal/error/timeout -> high,
// info/debug -> low, otherwise a mid default.
func scoreSalience(text string) float64 {
	lower := strings.ToLower(text)
	for _, term := range highSalienceTerms {
		if strings.Contains(lower, term) {
			return salienceHigh
		}
	}
	for _, term := range lowSalienceTerms {
		if strings.Contains(lower, term) {
			return salienceLow
		}
	}
	return salienceDefault
}

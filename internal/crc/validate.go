package crc

import (
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidGoal is returned by ValidateTargetURL for a malformed target
// URL, surfaced by the HTTP layer as a 400 before any run is created.
type ErrInvalidGoal struct {
	Reason string
}

func (e *ErrInvalidGoal) Error() string { return e.Reason }

// ValidateTargetURL rejects concatenated URLs ("https://a.comhttps://b.com")
// along with the ordinary malformed-URL cases, before Identity or the Typed
// Store are touched.
func ValidateTargetURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &ErrInvalidGoal{Reason: "target url is required"}
	}
	if strings.Count(raw, "://") > 1 {
		return &ErrInvalidGoal{Reason: fmt.Sprintf("target url %q looks like multiple URLs concatenated", raw)}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ErrInvalidGoal{Reason: fmt.Sprintf("target url %q is not a valid absolute URL", raw)}
	}
	return nil
}

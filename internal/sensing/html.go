package sensing

import (
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

// normalizeText reduces raw HTML input to its readable main content as
// Markdown before chunking; non-HTML text passes through untouched. Any
// extraction or conversion failure falls back to the raw input rather than
// an error: Sensing ingests whatever it is given.
func normalizeText(raw string) string {
	if !looksLikeHTML(raw) {
		return raw
	}
	source := raw
	base, _ := url.Parse("http://localhost/")
	if art, err := readability.FromReader(strings.NewReader(raw), base); err == nil && strings.TrimSpace(art.Content) != "" {
		source = art.Content
		if t := strings.TrimSpace(art.Title); t != "" {
			source = "<h1>" + t + "</h1>\n" + source
		}
	}
	md, err := htmltomarkdown.ConvertString(source)
	if err != nil || strings.TrimSpace(md) == "" {
		return raw
	}
	return md
}

// looksLikeHTML is a cheap tag sniff, not a parse: ingestion payloads are
// either page bodies (tagged) or logs and free text (not).
func looksLikeHTML(s string) bool {
	head := strings.ToLower(s)
	if len(head) > 2048 {
		head = head[:2048]
	}
	for _, marker := range []string{"<!doctype html", "<html", "<body", "<div", "<p>", "<span", "<table"} {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}

package browser

import "testing"

func TestParseDOMSnapshot(t *testing.T) {
	raw := map[string]any{
		"title":             "Login",
		"url":               "https://example.com/login",
		"meta_description":  "Sign in",
		"body_text_preview": "Welcome back",
		"total_elements":    float64(42),
		"headings": []any{
			map[string]any{"level": float64(1), "text": "Login"},
		},
		"interactive_elements": []any{"button#submit \"Sign in\""},
		"error_messages":       []any{"Invalid credentials"},
		"forms": []any{
			map[string]any{
				"selector": "#login-form",
				"fields": []any{
					map[string]any{"name": "username", "type": "text"},
					map[string]any{"name": "password", "type": "password"},
				},
			},
		},
	}

	snap := parseDOMSnapshot(raw)
	if snap.Title != "Login" || snap.URL != "https://example.com/login" {
		t.Fatalf("unexpected title/url: %+v", snap)
	}
	if snap.TotalElements != 42 {
		t.Fatalf("expected total_elements 42, got %d", snap.TotalElements)
	}
	if len(snap.Headings) != 1 || snap.Headings[0].Level != 1 || snap.Headings[0].Text != "Login" {
		t.Fatalf("unexpected headings: %+v", snap.Headings)
	}
	if len(snap.Forms) != 1 || snap.Forms[0].Selector != "#login-form" || len(snap.Forms[0].Fields) != 2 {
		t.Fatalf("unexpected forms: %+v", snap.Forms)
	}
	if len(snap.ErrorMessages) != 1 || snap.ErrorMessages[0] != "Invalid credentials" {
		t.Fatalf("unexpected error messages: %+v", snap.ErrorMessages)
	}
}

func TestParseDOMSnapshot_MissingFieldsDoNotPanic(t *testing.T) {
	snap := parseDOMSnapshot(map[string]any{})
	if snap.Title != "" || snap.TotalElements != 0 || snap.Headings != nil {
		t.Fatalf("expected zero-value snapshot, got %+v", snap)
	}
}

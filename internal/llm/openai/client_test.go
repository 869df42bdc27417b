package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"noema/internal/config"
	"noema/internal/llm"
)

func TestChatServerReturnsChoice(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"}
	cli := New(c, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := cli.Chat(ctx, []llm.Message{{Role: "user", Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Content != "hello" {
		t.Fatalf("expected hello, got %q", msg.Content)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if firstNonEmpty("", "a", "b") != "a" {
		t.Fatalf("unexpected firstNonEmpty")
	}
}

// TestSelfHostedSSEHeaderInjection verifies that requests to self-hosted
// mlx_lm.server backends receive the Accept: text/event-stream header.
func TestSelfHostedSSEHeaderInjection(t *testing.T) {
	var completionsAcceptHeader string
	var requestMade bool

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestMade = true
		if strings.Contains(r.URL.Path, "/chat/completions") {
			completionsAcceptHeader = r.Header.Get("Accept")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	httpClient := &http.Client{Transport: &http.Transport{}}

	c := config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "test-model"}
	cli := New(c, httpClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Chat(ctx, []llm.Message{{Role: "user", Content: "test"}}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !requestMade {
		t.Fatal("no request was made to the test server")
	}
	if completionsAcceptHeader != "text/event-stream" {
		t.Errorf("expected Accept: text/event-stream header on /chat/completions, got %q", completionsAcceptHeader)
	}
}

func TestSelfHostedTokenizeFallback(t *testing.T) {
	var tokenizeCalls int
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "/tokenize") {
			tokenizeCalls++
			_, _ = w.Write([]byte(`{"tokens":[1,2,3]}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "local-model"}
	cli := New(c, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := cli.Chat(ctx, []llm.Message{{Role: "user", Content: "hi"}}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokenizeCalls == 0 {
		t.Fatal("expected self-hosted tokenize fallback to be called")
	}
}

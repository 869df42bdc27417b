package llm

import "context"

// Message is the single request/response shape shared by every Provider
// variant (Gemini, OpenAI, Anthropic, Mock). Every QA engine in this repository (belief,
// decision, plangen, optimizer) only ever exchanges plain role/content turns
// with a model, so the provider layer carries nothing beyond that: no tool
// calling, no streaming, no image transport.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Provider is the capability every LLM backend satisfies: a single
// request/response Chat call. Gemini, OpenAI and Anthropic are the real variants;
// Mock satisfies the same contract for tests and offline runs.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, model string) (Message, error)
}

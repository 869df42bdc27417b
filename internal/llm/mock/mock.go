// Package mock implements a deterministic llm.Provider variant, used by
// tests and by the Decision Engine / Plan Generator's degraded paths when no
// real provider is configured.
package mock

import (
	"context"
	"fmt"

	"noema/internal/llm"
	"noema/internal/util"
)

// Client is a deterministic llm.Provider. Responder, when set, computes the
// reply content from the incoming messages; otherwise Client echoes a fixed
// no_op-shaped response, which is enough to keep the Decision Engine's
// LLM-failure-falls-back-to-no_op contract exercising real code paths in
// tests without a live API key.
type Client struct {
	Responder func(msgs []llm.Message) (string, error)
}

// New constructs a mock Client with no custom responder.
func New() *Client {
	return &Client{}
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	content := `{"type":"no_op","rationale":"mock provider: no responder configured"}`
	if c.Responder != nil {
		var err error
		content, err = c.Responder(msgs)
		if err != nil {
			return llm.Message{}, fmt.Errorf("mock provider: %w", err)
		}
	}
	recordUsage(model, msgs, content)
	return llm.Message{Role: "assistant", Content: content}, nil
}

// recordUsage feeds estimated token counts into the shared metrics so the
// /metrics/tokens endpoint stays populated in mock mode.
func recordUsage(model string, msgs []llm.Message, content string) {
	if model == "" {
		model = "mock"
	}
	prompt := 0
	for _, m := range msgs {
		prompt += util.CountTokens(m.Content)
	}
	llm.RecordTokenMetrics(model, prompt, util.CountTokens(content))
}

package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"noema/internal/domain"
	"noema/internal/llm"
)

const decisionSystemPrompt = `You are the decision-making module of a QA testing agent driving a real browser.
Given the current context, respond with exactly one JSON object describing the single next
atomic action to take, and nothing else:

{
  "type": "navigate_to_url|click_element|fill_input|submit_form|check_element_visible|capture_screenshot|wait_for_network_idle|no_op",
  "rationale": "why this action",
  "selector": "CSS selector, if applicable",
  "value": "URL or input value, if applicable",
  "expected_outcome": "what should happen if this succeeds"
}

Prefer no_op only when no other action makes progress on the current step. Never repeat the
exact same (type, selector, value) as the immediately preceding action unless genuinely
necessary; repeating it three times in a row will be treated as a stuck loop.`

// llmAction is the wire shape the Decision LLM replies with.
type llmAction struct {
	Type            domain.ActionType `json:"type"`
	Rationale       string            `json:"rationale"`
	Selector        string            `json:"selector"`
	Value           string            `json:"value"`
	ExpectedOutcome string            `json:"expected_outcome"`
}

func (e *Engine) invokeLLM(ctxData Context) (llmAction, error) {
	msgs := []llm.Message{
		{Role: "system", Content: decisionSystemPrompt},
		{Role: "user", Content: buildPrompt(ctxData)},
	}
	resp, err := e.provider.Chat(ctxData.ctx, msgs, e.model)
	if err != nil {
		return llmAction{}, fmt.Errorf("chat: %w", err)
	}
	var act llmAction
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &act); err != nil {
		return llmAction{}, fmt.Errorf("parse decision: %w", err)
	}
	return act, nil
}

func buildPrompt(c Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step: %s\n", c.StepTitle)
	if c.ActionHint != "" {
		fmt.Fprintf(&b, "Action hint: %s\n", c.ActionHint)
	}
	if c.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "Expected outcome: %s\n", c.ExpectedOutcome)
	}

	b.WriteString("\nBeliefs (confidence >= threshold):\n")
	if len(c.Beliefs) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range c.Beliefs {
		fmt.Fprintf(&b, "- %s (confidence %.2f): %s\n", m.Title, m.Confidence, m.Summary)
	}

	b.WriteString("\nRelevant experiences:\n")
	if len(c.Experiences) == 0 {
		b.WriteString("(none)\n")
	}
	for _, exp := range c.Experiences {
		fmt.Fprintf(&b, "- %s\n", exp.Statement)
	}

	b.WriteString("\nRecent actions this step:\n")
	if len(c.RecentActions) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range c.RecentActions {
		fmt.Fprintf(&b, "- %s selector=%q value=%q\n", a.Type, a.Selector, a.Value.Masked)
	}

	if c.LastDOM != nil {
		fmt.Fprintf(&b, "\nLast DOM snapshot: title=%q url=%q headings=%d interactive_elements=%d forms=%d errors=%v\n",
			c.LastDOM.Title, c.LastDOM.URL, len(c.LastDOM.Headings), len(c.LastDOM.InteractiveElements), len(c.LastDOM.Forms), c.LastDOM.ErrorMessages)
		if c.LastDOM.BodyTextPreview != "" {
			fmt.Fprintf(&b, "Body preview: %s\n", c.LastDOM.BodyTextPreview)
		}
	}

	if c.LastVisionDescription != "" {
		fmt.Fprintf(&b, "\nLast visual analysis (from the previous screenshot): %s\n", c.LastVisionDescription)
	}

	if c.Credentials.Username.Raw != "" {
		fmt.Fprintf(&b, "\nTest credentials available: username=%s password=%s (use ${username}/${password} style reasoning; never restate these raw values in your rationale)\n",
			c.Credentials.Username.Raw, c.Credentials.Password.Raw)
	}

	return b.String()
}

package belief

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"noema/internal/domain"
	"noema/internal/llm"
)

const beliefSystemPrompt = `You are the belief-formation module of a QA testing agent. You read one
observation plus the candidate mental models and graph edges it might relate to, and you
respond with a single JSON object matching this shape, and nothing else:

{
  "create_models": [{"title","domain","tags"[],"summary","core_principles"[],"assumptions"[],
    "procedures"[],"failure_modes"[],"diagnostics"[],"examples"[],"initial_confidence"}],
  "update_models": [{"model_id","change_summary","delta_confidence","add_tags"[],
    "add_assumptions"[],"add_failure_modes"[],"add_diagnostics"[]}],
  "graph_updates": [{"from_model","to_model","relation","weight"}],
  "contradictions": ["..."]
}

"domain" must be one of software_QA, programming, research, general.
"relation" must be one of depends_on, explains, extends, contradicts.
Leave any array empty rather than inventing content with no support in the observation.
Never fabricate a model_id that is not in the candidate list.`

// invokeLLM builds the prompt and parses the model's JSON response into a
// ModelUpdatePlan. LLM or parse failures are returned to the caller, who is
// expected to surface them as narration/errors without producing a plan
// (the Belief Engine has no no-op fallback the way the Decision Engine does;
// a failed belief update simply does not happen this round).
func (e *Engine) invokeLLM(ctx context.Context, obs domain.Observation, snippets []string, candidates []domain.MentalModel, edges []domain.GraphEdge) (*domain.ModelUpdatePlan, error) {
	msgs := []llm.Message{
		{Role: "system", Content: beliefSystemPrompt},
		{Role: "user", Content: buildUserPrompt(obs, snippets, candidates, edges)},
	}
	resp, err := e.provider.Chat(ctx, msgs, e.model)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	var plan domain.ModelUpdatePlan
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &plan); err != nil {
		return nil, fmt.Errorf("parse belief plan: %w", err)
	}
	return &plan, nil
}

func buildUserPrompt(obs domain.Observation, snippets []string, candidates []domain.MentalModel, edges []domain.GraphEdge) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Observation (salience %.2f): %s\n", obs.Salience, obs.Summary)
	if len(obs.KeyPoints) > 0 {
		fmt.Fprintf(&b, "Key points: %s\n", strings.Join(obs.KeyPoints, "; "))
	}
	if len(obs.Entities) > 0 {
		fmt.Fprintf(&b, "Entities: %s\n", strings.Join(obs.Entities, ", "))
	}
	if len(snippets) > 0 {
		b.WriteString("\nEvidence snippets from semantic memory:\n")
		for _, s := range snippets {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("\nCandidate models:\n")
	if len(candidates) == 0 {
		b.WriteString("(none found by tag/entity overlap)\n")
	}
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id=%s title=%q confidence=%.2f tags=%s\n", c.ID, c.Title, c.Confidence, strings.Join(c.Tags, ","))
	}
	b.WriteString("\nGraph edges touching candidates:\n")
	for _, ed := range edges {
		fmt.Fprintf(&b, "- %s --%s--> %s (weight %.2f)\n", ed.From, ed.Relation, ed.To, ed.Weight)
	}
	return b.String()
}

package llm

import "strings"

// ExtractJSON strips markdown code fences some providers wrap JSON
// responses in, so callers can json.Unmarshal the result directly. Shared by
// every component that asks an LLMProvider for a structured response
// (Belief Engine, Decision Engine, Plan Generator, Experience Optimizer).
func ExtractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}

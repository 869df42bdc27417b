package crc

import (
	"strings"

	"noema/internal/domain"
	"noema/internal/plangen"
)

// inferStepResult applies the step-success inference policy: a step passes
// if at least one of (a) the hinted action type was executed successfully,
// (b) a success sentinel in the last DOM snapshot matches expected_results,
// or (c) the last action is not a no_op, it succeeded, and the DOM shows no
// visible error messages. It fails if the cycle budget was exhausted without any of
// those, or the DOM's errorMessages match failure_indicator. The verdict is
// a pure function of the step's actions, outcomes, and final DOM snapshot.
func inferStepResult(actions []domain.Action, outcomes []domain.ActionOutcome, dom *domain.DOMSnapshot, step plangen.PlanStep) StepVerdict {
	if len(outcomes) == 0 {
		return StepFail
	}

	if dom != nil && step.FailureIndicator != "" {
		for _, msg := range dom.ErrorMessages {
			if containsFold(msg, step.FailureIndicator) {
				return StepFail
			}
		}
	}

	if step.ActionHint != "" {
		for i, a := range actions {
			if string(a.Type) == step.ActionHint && i < len(outcomes) && outcomes[i].Success {
				return StepPass
			}
		}
	}

	if dom != nil {
		for _, expected := range step.ExpectedResults {
			if expected == "" {
				continue
			}
			if containsFold(dom.Title, expected) || containsFold(dom.BodyTextPreview, expected) {
				return StepPass
			}
			for _, h := range dom.Headings {
				if containsFold(h.Text, expected) {
					return StepPass
				}
			}
		}
	}

	last := len(outcomes) - 1
	lastNonNoop := last >= len(actions) || actions[last].Type != domain.ActionNoOp
	if outcomes[last].Success && lastNonNoop && (dom == nil || len(dom.ErrorMessages) == 0) {
		return StepPass
	}

	return StepFail
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// countNonNoopSuccesses counts the actions among actions/outcomes that both
// succeeded and were not no_op; a step's sequence is recorded only when at
// least 2 such actions exist.
func countNonNoopSuccesses(actions []domain.Action, outcomes []domain.ActionOutcome) int {
	n := 0
	for i, a := range actions {
		if a.Type == domain.ActionNoOp {
			continue
		}
		if i < len(outcomes) && outcomes[i].Success {
			n++
		}
	}
	return n
}

// toSequenceSteps converts this step's executed Actions into the
// credential-tokenised SequenceStep templates recordActionSequence persists.
// Raw credential values are never captured in the template: Value.Raw is
// re-tokenised back to ${username}/${password} placeholders so a stored
// sequence never embeds a live secret.
func toSequenceSteps(actions []domain.Action, username, password string) []domain.SequenceStep {
	out := make([]domain.SequenceStep, 0, len(actions))
	for _, a := range actions {
		template := a.Value.Raw
		if username != "" && template == username {
			template = "${username}"
		} else if password != "" && template == password {
			template = "${password}"
		}
		out = append(out, domain.SequenceStep{
			Type:          a.Type,
			Selector:      a.Selector,
			ValueTemplate: template,
			Inputs:        a.Inputs,
			Rationale:     a.Rationale,
		})
	}
	return out
}

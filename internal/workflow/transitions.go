package workflow

import (
	"fmt"
	"slices"

	"quote-agent/internal/domain"
)

// StepWait ends the turn. It is a routing result only and never stored in
// the conversation state.
const StepWait domain.Step = "WAIT"

// transitions is the canonical map of handler-to-handler moves within a
// turn. Waiting is always allowed and is not listed.
var transitions = map[domain.Step][]domain.Step{
	domain.StepWelcome: {domain.StepGathering, domain.StepSalesAssistance},

	domain.StepGathering: {
		domain.StepValuation, domain.StepPolicyGeneration, domain.StepAudioGeneration,
		domain.StepSalesAssistance,
	},

	domain.StepCertificateAnalysis: {domain.StepGathering, domain.StepSalesAssistance},

	domain.StepValuation: {domain.StepPolicyGeneration, domain.StepAudioGeneration, domain.StepSalesAssistance},

	domain.StepPolicyGeneration: {domain.StepAudioGeneration, domain.StepSalesAssistance},

	domain.StepAudioGeneration: {domain.StepSalesAssistance},

	// The hub chains into an artifact step once its precondition holds.
	domain.StepSalesAssistance: {domain.StepValuation, domain.StepPolicyGeneration, domain.StepAudioGeneration},

	// COMPLETE hands new input to the hub and routes like it.
	domain.StepComplete: {
		domain.StepSalesAssistance, domain.StepValuation, domain.StepPolicyGeneration,
		domain.StepAudioGeneration,
	},
}

// ValidNextSteps returns the steps reachable from step within a turn.
func ValidNextSteps(step domain.Step) []domain.Step {
	return transitions[step]
}

// IsValidTransition reports whether the router may move from one step to
// another.
func IsValidTransition(from, to domain.Step) bool {
	if to == StepWait {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// ValidateStep checks that step names a known conversation step.
func ValidateStep(step domain.Step) error {
	if _, ok := transitions[step]; !ok {
		return fmt.Errorf("workflow: unknown step %q", step)
	}
	return nil
}

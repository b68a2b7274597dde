package workflow

import (
	"quote-agent/internal/domain"
	"quote-agent/internal/intent"
)

// maxSalesLoop bounds consecutive hub visits before the router stops
// chaining out of the hub.
const maxSalesLoop = 3

// Decision is the router's verdict after a handler ran.
type Decision struct {
	Next domain.Step
	// ClearConfirmation drops the pending confirmation flag.
	ClearConfirmation bool
	// Consume marks the input as used up for the rest of the turn so it
	// cannot confirm a second proposal.
	Consume bool
	// DeclineAudio records that the customer turned down the audio summary.
	DeclineAudio bool
	// LoopBound is set when the hub visit counter forced the turn to end.
	LoopBound bool
}

// RouteFunc chooses the next step from the step that just ran, the state it
// produced and the classified input of the turn.
type RouteFunc func(from domain.Step, st domain.ConversationState, in intent.Intent) Decision

var wait = Decision{Next: StepWait}

func to(step domain.Step) Decision { return Decision{Next: step} }

// Route is the default RouteFunc. It is pure.
func Route(from domain.Step, st domain.ConversationState, in intent.Intent) Decision {
	switch from {
	case domain.StepWelcome:
		if in.Empty() {
			return wait
		}
		return to(domain.StepGathering)
	case domain.StepGathering, domain.StepValuation:
		return routeProposal(from, st, in)
	case domain.StepCertificateAnalysis:
		if in.IsQuestion() {
			return to(domain.StepSalesAssistance)
		}
		if st.Valuation == nil && !st.AwaitingConfirmation && st.ReadyToQuote() {
			return to(domain.StepGathering)
		}
		return wait
	case domain.StepPolicyGeneration:
		return routePolicy(st, in)
	case domain.StepAudioGeneration:
		if in.IsQuestion() {
			return to(domain.StepSalesAssistance)
		}
		return wait
	case domain.StepSalesAssistance, domain.StepComplete:
		return routeHub(st, in)
	}
	return wait
}

// routeProposal handles the steps that put a proposal in front of the
// customer: the readiness prompt and the quote.
func routeProposal(from domain.Step, st domain.ConversationState, in intent.Intent) Decision {
	if st.AwaitingConfirmation {
		switch {
		case in.IsQuestion(), in.IsNegation():
			return to(domain.StepSalesAssistance)
		case in.IsConfirmation(), in.Wants(pendingRequest(st)):
			if target, ok := pendingTarget(st); ok {
				return Decision{Next: target, ClearConfirmation: true, Consume: true}
			}
		}
		return wait
	}
	if next, ok := actionable(st, in); ok && next != from {
		return Decision{Next: next, Consume: true}
	}
	if in.IsQuestion() {
		return to(domain.StepSalesAssistance)
	}
	return wait
}

func routePolicy(st domain.ConversationState, in intent.Intent) Decision {
	if st.Policy != nil && st.Audio == nil && !st.AudioDeclined {
		switch {
		case in.IsQuestion():
			return to(domain.StepSalesAssistance)
		case in.IsNegation():
			return Decision{Next: StepWait, DeclineAudio: true, Consume: true}
		case in.IsConfirmation(), in.Wants(intent.RequestAudio):
			return Decision{Next: domain.StepAudioGeneration, Consume: true}
		}
		return wait
	}
	if in.IsQuestion() {
		return to(domain.StepSalesAssistance)
	}
	return wait
}

func routeHub(st domain.ConversationState, in intent.Intent) Decision {
	if st.SalesLoop.Count > maxSalesLoop {
		return Decision{Next: StepWait, LoopBound: true}
	}
	next, ok := actionable(st, in)
	if !ok {
		return wait
	}
	target, pending := pendingTarget(st)
	return Decision{
		Next:              next,
		Consume:           true,
		ClearConfirmation: st.AwaitingConfirmation && pending && target == next,
	}
}

// actionable resolves an explicit request to the first step whose
// precondition holds. Asking for a policy before a valuation exists leads to
// the valuation.
func actionable(st domain.ConversationState, in intent.Intent) (domain.Step, bool) {
	if audioRetry(st, in) {
		return domain.StepAudioGeneration, true
	}
	switch {
	case in.Wants(intent.RequestAudio):
		if st.Policy != nil && st.Audio == nil {
			return domain.StepAudioGeneration, true
		}
	case in.Wants(intent.RequestPolicy):
		if st.Policy == nil {
			if st.Valuation == nil {
				return domain.StepValuation, true
			}
			return domain.StepPolicyGeneration, true
		}
	case in.Wants(intent.RequestValuation):
		if st.Valuation == nil {
			return domain.StepValuation, true
		}
	}
	return "", false
}

// audioRetry reports whether in accepts an audio offer still open after a
// failed synthesis.
func audioRetry(st domain.ConversationState, in intent.Intent) bool {
	return in.IsConfirmation() && st.NextAction == domain.ActionOfferAudio &&
		st.Policy != nil && st.Audio == nil && !st.AudioDeclined
}

// pendingTarget is the step a confirmation of the current proposal leads to.
func pendingTarget(st domain.ConversationState) (domain.Step, bool) {
	switch st.NextAction {
	case domain.ActionConfirmValuation:
		if st.Valuation == nil {
			return domain.StepValuation, true
		}
	case domain.ActionConfirmPolicy:
		if st.Valuation != nil && st.Policy == nil {
			return domain.StepPolicyGeneration, true
		}
	}
	return "", false
}

func pendingRequest(st domain.ConversationState) intent.Request {
	switch st.NextAction {
	case domain.ActionConfirmValuation:
		return intent.RequestValuation
	case domain.ActionConfirmPolicy:
		return intent.RequestPolicy
	}
	return intent.RequestNone
}

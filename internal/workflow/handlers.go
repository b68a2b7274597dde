package workflow

import (
	"context"
	"log/slog"
	"strings"

	"quote-agent/internal/domain"
	"quote-agent/internal/intent"
)

// Handler runs one step. It receives a private copy of the state and the
// input still available in the current turn. The error return is reserved
// for internal faults; collaborator failures become messages.
type Handler func(ctx context.Context, st domain.ConversationState, in intent.Intent) (domain.ConversationState, error)

func (e *Engine) welcome(_ context.Context, st domain.ConversationState, _ intent.Intent) (domain.ConversationState, error) {
	if st.AssistantMessages() > 0 {
		return st, nil
	}
	st.Say(welcomeMessage)
	st.CurrentStep = domain.StepGathering
	st.NextAction = domain.ActionAwaitCertificate
	return st, nil
}

func (e *Engine) gather(_ context.Context, st domain.ConversationState, in intent.Intent) (domain.ConversationState, error) {
	before := st.Business.Known()
	st.Business = domain.Merge(st.Business, factsFrom(st, in))
	learned := st.Business.Known() > before

	if st.AwaitingConfirmation || st.Valuation != nil {
		if learned {
			st.Say(noted(st))
		}
		return st, nil
	}
	if !learned {
		if in.IsQuestion() {
			return st, nil
		}
		if _, ok := actionable(st, in); ok {
			return st, nil
		}
	}

	if st.ReadyToQuote() {
		st.Say(readinessPrompt(st))
		st.AwaitingConfirmation = true
		st.NextAction = domain.ActionConfirmValuation
		return st, nil
	}
	msg, action := infoRequest(st)
	st.Say(msg)
	st.NextAction = action
	return st, nil
}

// factsFrom extracts facts from the input. A bare answer to the question
// asked last is accepted for the field that question was about.
func factsFrom(st domain.ConversationState, in intent.Intent) domain.BusinessInfo {
	if in.Empty() {
		return domain.BusinessInfo{}
	}
	facts := intent.ExtractFacts(in.Text)
	if !facts.IsEmpty() {
		return facts
	}
	switch st.NextAction {
	case domain.ActionRequestAddress:
		if addr, ok := intent.AddressAnswer(in.Text, in); ok && !st.Business.HasAddress() {
			facts.Address = domain.Ptr(addr)
		}
	case domain.ActionRequestArea, domain.ActionRequestInfo:
		if area, ok := intent.AreaAnswer(in.Text); ok && !st.Business.HasArea() {
			facts.FloorArea = domain.Ptr(area)
		}
	}
	return facts
}

func (e *Engine) analyzeCertificate(ctx context.Context, st domain.ConversationState, _ intent.Intent) (domain.ConversationState, error) {
	if st.PendingCertificate == nil {
		return st, nil
	}
	cert := *st.PendingCertificate
	facts := e.extractor.Extract(ctx, cert)

	st.Business = domain.Merge(st.Business, facts)
	st.Certificates = append(st.Certificates, cert)
	st.PendingCertificate = nil
	st.CurrentStep = resumeStep(st)

	if !st.AwaitingConfirmation && st.Valuation == nil {
		switch {
		case !st.Business.HasArea():
			st.NextAction = domain.ActionRequestArea
		case !st.Business.HasCategory():
			st.NextAction = domain.ActionRequestInfo
		default:
			st.NextAction = domain.ActionRequestPhotos
		}
	}

	if facts.IsEmpty() {
		slog.Info("workflow: certificate yielded no facts", "session_id", st.SessionID, "name", cert.Name)
		st.Say(msgCertificateUnreadable)
		return st, nil
	}
	st.Say(certificateSummary(facts, st))
	return st, nil
}

func (e *Engine) value(_ context.Context, st domain.ConversationState, _ intent.Intent) (domain.ConversationState, error) {
	if st.Valuation != nil {
		return st, nil
	}
	if !st.Business.HasArea() {
		st.Say(msgValuationNeedsArea)
		st.CurrentStep = domain.StepGathering
		st.NextAction = domain.ActionRequestArea
		st.AwaitingConfirmation = false
		return st, nil
	}

	v := e.valuator.Estimate(st.Business, st.Photos)
	if !v.Valid() {
		st.Say(valuationIncomplete(v.Rationale))
		st.CurrentStep = domain.StepGathering
		st.NextAction = domain.ActionRequestInfo
		st.AwaitingConfirmation = false
		return st, nil
	}

	st.Valuation = &v
	st.AwaitingConfirmation = true
	st.NextAction = domain.ActionConfirmPolicy
	st.SalesLoop = domain.LoopCounter{}
	st.Say(e.renderer.Quote(st.Business, v))
	return st, nil
}

func (e *Engine) issuePolicy(_ context.Context, st domain.ConversationState, in intent.Intent) (domain.ConversationState, error) {
	if st.Policy != nil {
		return st, nil
	}
	if st.Valuation == nil || !st.Valuation.Valid() {
		st.Say(msgPolicyNeedsValuation)
		st.CurrentStep = resumeStep(st)
		return st, nil
	}
	// A failed render is retried only on an explicit go-ahead.
	if !in.Empty() && !in.IsConfirmation() && !in.Wants(intent.RequestPolicy) {
		return st, nil
	}

	p, err := e.renderer.Render(st.Business, *st.Valuation)
	if err != nil {
		slog.Warn("workflow: policy render failed", "session_id", st.SessionID, "err", err)
		st.Say(msgPolicyFailed)
		st.AwaitingConfirmation = false
		st.NextAction = domain.ActionConfirmPolicy
		return st, nil
	}

	st.Policy = &p
	st.AwaitingConfirmation = false
	st.NextAction = domain.ActionOfferAudio
	st.SalesLoop = domain.LoopCounter{}
	st.Say(p.Text + "\n\n" + msgAudioOffer)
	return st, nil
}

func (e *Engine) synthesizeAudio(ctx context.Context, st domain.ConversationState, _ intent.Intent) (domain.ConversationState, error) {
	if st.Audio != nil {
		return st, nil
	}
	if st.Policy == nil {
		st.Say(msgAudioNeedsPolicy)
		st.CurrentStep = resumeStep(st)
		return st, nil
	}

	var v domain.Valuation
	if st.Valuation != nil {
		v = *st.Valuation
	}
	script := e.renderer.AudioScript(st.Business, v, *st.Policy)
	handle, err := e.speech.Synthesize(ctx, script)
	if err == nil && strings.TrimSpace(handle) == "" {
		err = errEmptyHandle
	}
	if err != nil {
		slog.Warn("workflow: speech synthesis failed", "session_id", st.SessionID, "err", err)
		st.Say(msgAudioFailed)
		st.CurrentStep = domain.StepSalesAssistance
		st.NextAction = domain.ActionOfferAudio
		return st, nil
	}

	st.Audio = &domain.AudioSummary{Handle: handle, Script: script}
	st.CurrentStep = domain.StepComplete
	st.NextAction = domain.ActionComplete
	st.SalesLoop = domain.LoopCounter{}
	st.Say(msgAudioReady)
	return st, nil
}

// assist is the hub. It answers questions without moving the conversation
// forward and never changes the current step.
func (e *Engine) assist(ctx context.Context, st domain.ConversationState, in intent.Intent) (domain.ConversationState, error) {
	if in.Empty() {
		return st, nil
	}
	if in.Text == st.SalesInput && st.Turn-st.SalesTurn <= 1 {
		return st, nil
	}
	st.SalesLoop = bumpLoop(st.SalesLoop, len(st.Messages))
	st.SalesInput = in.Text
	st.SalesTurn = st.Turn

	if _, ok := actionable(st, in); ok {
		if st.SalesLoop.Count <= maxSalesLoop {
			return st, nil
		}
		st.Say(msgLoopNudge)
		return st, nil
	}

	var answer string
	if in.IsNegation() {
		answer = negationReply(st)
	} else {
		answer = e.answer(ctx, st, in)
		if st.AwaitingConfirmation {
			if r := reminder(st); r != "" {
				answer += "\n\n---\n" + r
			}
		}
	}
	st.Say(answer)
	return st, nil
}

func (e *Engine) answer(ctx context.Context, st domain.ConversationState, in intent.Intent) string {
	topic := in.Topic
	if topic == intent.TopicNone {
		topic = intent.TopicOf(in.Text)
	}
	switch topic {
	case intent.TopicCoverage:
		return coverageAnswer(st.Policy != nil)
	case intent.TopicPricing:
		return pricingAnswer(st, e.premium(st))
	case intent.TopicPurchase:
		return purchaseAnswer(st)
	case intent.TopicClaims:
		return msgClaims
	case intent.TopicDocuments:
		return documentsAnswer(st.Policy != nil)
	}
	if e.sales == nil {
		return msgSalesFallback
	}
	reply, err := e.sales.Respond(ctx, st, in.Text)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			slog.Warn("workflow: sales responder failed", "session_id", st.SessionID, "err", err)
		}
		return msgSalesFallback
	}
	return strings.TrimSpace(reply)
}

func (e *Engine) premium(st domain.ConversationState) domain.Money {
	switch {
	case st.Policy != nil:
		return st.Policy.PremiumAnnual
	case st.Valuation != nil:
		return e.valuator.Premium(domain.Value(st.Business.Category), *st.Valuation)
	}
	return 0
}

// bumpLoop counts hub visits that fall within three messages of the
// previous one.
func bumpLoop(lc domain.LoopCounter, messages int) domain.LoopCounter {
	if lc.Count > 0 && messages-lc.LastMessage <= 3 {
		lc.Count++
	} else {
		lc.Count = 1
	}
	lc.LastMessage = messages
	return lc
}

// resumeStep is the step a conversation belongs in given its artifacts.
func resumeStep(st domain.ConversationState) domain.Step {
	switch {
	case st.Valuation == nil:
		return domain.StepGathering
	case st.Policy == nil:
		return domain.StepValuation
	case st.Audio == nil && !st.AudioDeclined:
		return domain.StepPolicyGeneration
	}
	return domain.StepComplete
}

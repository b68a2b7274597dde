package workflow

import (
	"context"

	"quote-agent/internal/domain"
	"quote-agent/internal/intent"
)

// FieldExtractor reads business facts from a certificate. It never fails;
// an unreadable certificate yields an empty BusinessInfo.
type FieldExtractor interface {
	Extract(ctx context.Context, cert domain.Attachment) domain.BusinessInfo
}

// ImageClassifier decides whether an upload is a certificate or a photo of
// the premises. Implementations default to domain.ImageLocalPhoto.
type ImageClassifier interface {
	Classify(ctx context.Context, img domain.Attachment) domain.ImageKind
}

type Valuator interface {
	Estimate(info domain.BusinessInfo, photos []domain.Attachment) domain.Valuation
	Premium(category string, v domain.Valuation) domain.Money
}

type PolicyRenderer interface {
	Render(info domain.BusinessInfo, v domain.Valuation) (domain.Policy, error)
	Quote(info domain.BusinessInfo, v domain.Valuation) string
	AudioScript(info domain.BusinessInfo, v domain.Valuation, p domain.Policy) string
}

// SpeechSynthesizer turns a script into audio and returns a handle to it.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, script string) (string, error)
}

type IntentClassifier interface {
	Classify(text string) intent.Intent
}

// SalesResponder answers free-form questions the templates do not cover.
type SalesResponder interface {
	Respond(ctx context.Context, st domain.ConversationState, input string) (string, error)
}

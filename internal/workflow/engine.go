// Package workflow drives the quoting conversation: it runs step handlers,
// asks the router where to go next and stops when the router says to wait
// for the customer or the per-turn iteration cap is reached.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quote-agent/internal/domain"
	"quote-agent/internal/intent"
)

const defaultMaxSteps = 10

var (
	// ErrEmptyAttachment is returned for uploads without content.
	ErrEmptyAttachment = errors.New("workflow: attachment is empty")
	// ErrPolicyIssued is returned when a valuation can no longer change.
	ErrPolicyIssued = errors.New("workflow: policy already issued")

	errEmptyHandle = errors.New("workflow: synthesizer returned an empty handle")
)

// Dependencies are the collaborators the engine delegates to. Classifier
// defaults to the keyword classifier and Sales may be nil, in which case
// free-form questions get a canned answer.
type Dependencies struct {
	Classifier IntentClassifier
	Extractor  FieldExtractor
	Images     ImageClassifier
	Valuator   Valuator
	Renderer   PolicyRenderer
	Speech     SpeechSynthesizer
	Sales      SalesResponder
}

type Engine struct {
	classifier IntentClassifier
	extractor  FieldExtractor
	images     ImageClassifier
	valuator   Valuator
	renderer   PolicyRenderer
	speech     SpeechSynthesizer
	sales      SalesResponder

	route    RouteFunc
	maxSteps int
	now      func() time.Time
	newID    func() string
	handlers map[domain.Step]Handler
}

type Option func(*Engine)

// WithMaxSteps sets how many handlers may run in a single turn.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithRouter replaces the default Route.
func WithRouter(r RouteFunc) Option {
	return func(e *Engine) {
		if r != nil {
			e.route = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator replaces the random session id source.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

func NewEngine(deps Dependencies, opts ...Option) (*Engine, error) {
	switch {
	case deps.Extractor == nil:
		return nil, errors.New("workflow: field extractor must not be nil")
	case deps.Images == nil:
		return nil, errors.New("workflow: image classifier must not be nil")
	case deps.Valuator == nil:
		return nil, errors.New("workflow: valuator must not be nil")
	case deps.Renderer == nil:
		return nil, errors.New("workflow: policy renderer must not be nil")
	case deps.Speech == nil:
		return nil, errors.New("workflow: speech synthesizer must not be nil")
	}
	e := &Engine{
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		images:     deps.Images,
		valuator:   deps.Valuator,
		renderer:   deps.Renderer,
		speech:     deps.Speech,
		sales:      deps.Sales,
		route:      Route,
		maxSteps:   defaultMaxSteps,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if e.classifier == nil {
		e.classifier = intent.NewClassifier()
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[domain.Step]Handler{
		domain.StepWelcome:             e.welcome,
		domain.StepGathering:           e.gather,
		domain.StepCertificateAnalysis: e.analyzeCertificate,
		domain.StepValuation:           e.value,
		domain.StepPolicyGeneration:    e.issuePolicy,
		domain.StepAudioGeneration:     e.synthesizeAudio,
		domain.StepSalesAssistance:     e.assist,
	}
	return e, nil
}

// CreateSession starts a conversation and greets the customer.
func (e *Engine) CreateSession(ctx context.Context) (domain.ConversationState, error) {
	st := domain.NewConversationState(e.newID(), e.now())
	return e.drive(ctx, st, domain.StepWelcome, intent.Intent{Kind: intent.KindNone})
}

// Run processes one customer message and returns the updated state. The
// input state is never modified. Blank input changes nothing.
func (e *Engine) Run(ctx context.Context, st domain.ConversationState, text string) (domain.ConversationState, error) {
	if err := ValidateStep(st.CurrentStep); err != nil {
		return st, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		slog.Debug("workflow: empty input ignored", "session_id", st.SessionID, "step", st.CurrentStep)
		return st, nil
	}
	in := e.classifier.Classify(text)
	if repeatsHubInput(st, text, in) {
		slog.Debug("workflow: repeated input ignored", "session_id", st.SessionID, "step", st.CurrentStep)
		return st, nil
	}

	next := st.Clone()
	next.Turn++
	next.LastInput = text
	next.Hear(text)
	return e.drive(ctx, next, entryStep(next.CurrentStep), in)
}

// repeatsHubInput reports whether text is what the hub answered in the last
// turn. Nothing has happened since, so the repeat is dropped without being
// logged. Requests that could still act (a retried policy after a render
// failure) are not dropped.
func repeatsHubInput(st domain.ConversationState, text string, in intent.Intent) bool {
	if text != st.SalesInput || st.SalesTurn != st.Turn {
		return false
	}
	_, ok := actionable(st, in)
	return !ok
}

// AttachCertificate queues a certificate and analyzes it right away.
func (e *Engine) AttachCertificate(ctx context.Context, st domain.ConversationState, cert domain.Attachment) (domain.ConversationState, error) {
	if cert.IsEmpty() {
		return st, ErrEmptyAttachment
	}
	if err := ValidateStep(st.CurrentStep); err != nil {
		return st, err
	}
	next := st.Clone()
	next.Turn++
	next.Hear("📄 Certificado adjunto: " + displayName(cert))
	next.PendingCertificate = &cert
	return e.drive(ctx, next, domain.StepCertificateAnalysis, intent.Intent{Kind: intent.KindNone})
}

// AttachPhoto adds a photo of the premises. Photos count towards the quote
// only while no valuation exists.
func (e *Engine) AttachPhoto(ctx context.Context, st domain.ConversationState, photo domain.Attachment) (domain.ConversationState, error) {
	if photo.IsEmpty() {
		return st, ErrEmptyAttachment
	}
	if err := ValidateStep(st.CurrentStep); err != nil {
		return st, err
	}
	next := st.Clone()
	next.Turn++
	next.Hear("📷 Foto adjunta: " + displayName(photo))
	next.Photos = append(next.Photos, photo)

	switch {
	case next.Valuation != nil:
		next.Say(msgPhotoAfterValuation)
		return next, nil
	case next.AwaitingConfirmation:
		next.Say(fmt.Sprintf("📷 Foto recibida (%d en total).\n\n%s", len(next.Photos), reminder(next)))
		return next, nil
	}
	return e.drive(ctx, next, domain.StepGathering, intent.Intent{Kind: intent.KindNone})
}

// AttachUpload lets the image classifier decide whether an upload is a
// certificate or a photo. Text documents are always certificates.
func (e *Engine) AttachUpload(ctx context.Context, st domain.ConversationState, upload domain.Attachment) (domain.ConversationState, domain.ImageKind, error) {
	if upload.IsEmpty() {
		return st, "", ErrEmptyAttachment
	}
	kind := domain.ImageCertificate
	if !upload.IsText() {
		kind = e.ClassifyUpload(ctx, upload)
	}
	if kind == domain.ImageCertificate {
		next, err := e.AttachCertificate(ctx, st, upload)
		return next, kind, err
	}
	next, err := e.AttachPhoto(ctx, st, upload)
	return next, domain.ImageLocalPhoto, err
}

// ClassifyUpload exposes the image classifier so callers can classify
// several uploads before applying them in order.
func (e *Engine) ClassifyUpload(ctx context.Context, upload domain.Attachment) domain.ImageKind {
	if upload.IsText() {
		return domain.ImageCertificate
	}
	if e.images.Classify(ctx, upload) == domain.ImageCertificate {
		return domain.ImageCertificate
	}
	return domain.ImageLocalPhoto
}

// InvalidateValuation discards the current valuation so it is computed
// again from the facts known now. It is refused once a policy exists.
func (e *Engine) InvalidateValuation(ctx context.Context, st domain.ConversationState) (domain.ConversationState, error) {
	if st.Policy != nil {
		return st, ErrPolicyIssued
	}
	if st.Valuation == nil {
		return st, nil
	}
	next := st.Clone()
	next.Valuation = nil
	next.AwaitingConfirmation = false
	next.NextAction = domain.ActionNone
	next.Say("Descarté la valuación anterior. Revisemos los datos de tu negocio para calcularla de nuevo.")
	return e.drive(ctx, next, domain.StepGathering, intent.Intent{Kind: intent.KindNone})
}

// Summarize is the read-only progress view.
func (e *Engine) Summarize(st domain.ConversationState) domain.Summary {
	return domain.Summarize(st)
}

// drive runs handlers starting at step until the router waits or the
// iteration cap is hit.
func (e *Engine) drive(ctx context.Context, st domain.ConversationState, step domain.Step, in intent.Intent) (domain.ConversationState, error) {
	trail := make([]domain.Step, 0, e.maxSteps)
	for range e.maxSteps {
		h, ok := e.handlers[step]
		if !ok || h == nil {
			return st, fmt.Errorf("workflow: no handler for step %q", step)
		}
		if step != domain.StepSalesAssistance {
			st.CurrentStep = step
		}

		produced := artifacts(st)
		var err error
		st, err = h(ctx, st, in)
		if err != nil {
			return st, fmt.Errorf("workflow: %s: %w", step, err)
		}
		trail = append(trail, step)
		// Input that produced an artifact cannot confirm the next proposal.
		if artifacts(st) > produced {
			in = intent.Intent{Kind: intent.KindNone}
		}

		d := e.route(step, st, in)
		if d.ClearConfirmation {
			st.AwaitingConfirmation = false
		}
		if d.Consume {
			in = intent.Intent{Kind: intent.KindNone}
		}
		if d.DeclineAudio {
			st.AudioDeclined = true
			st.CurrentStep = domain.StepComplete
			st.NextAction = domain.ActionComplete
			st.Say(msgAudioDeclined)
		}
		if d.LoopBound {
			slog.Warn("workflow: sales loop bound reached", "session_id", st.SessionID, "count", st.SalesLoop.Count)
			st.SalesLoop = domain.LoopCounter{}
		}
		if d.Next == StepWait {
			slog.Debug("workflow: turn complete", "session_id", st.SessionID, "trail", trail, "step", st.CurrentStep)
			return st, nil
		}
		if !IsValidTransition(step, d.Next) {
			return st, fmt.Errorf("workflow: invalid transition %s -> %s", step, d.Next)
		}
		step = d.Next
	}

	slog.Warn("workflow: iteration cap reached", "session_id", st.SessionID, "cap", e.maxSteps, "trail", trail)
	st.Say(msgTryAgain)
	return st, nil
}

func artifacts(st domain.ConversationState) int {
	n := 0
	if st.Valuation != nil {
		n++
	}
	if st.Policy != nil {
		n++
	}
	if st.Audio != nil {
		n++
	}
	return n
}

// entryStep maps the stored step to the handler that receives new input.
func entryStep(step domain.Step) domain.Step {
	if step == domain.StepComplete {
		return domain.StepSalesAssistance
	}
	return step
}

func displayName(a domain.Attachment) string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	if len(a.Digest) > 12 {
		return a.Digest[:12]
	}
	return "archivo"
}

package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"quote-agent/internal/domain"
	"quote-agent/internal/repository"
	"quote-agent/internal/workflow"
)

const (
	defaultMaxMessage  = 1000
	defaultMaxUploads  = 10
	defaultMaxUploadMB = 10
	classifyWorkers    = 4
	transcriptLimit    = 200
)

// Conversation is the workflow engine surface the service drives.
type Conversation interface {
	CreateSession(ctx context.Context) (domain.ConversationState, error)
	Run(ctx context.Context, st domain.ConversationState, text string) (domain.ConversationState, error)
	AttachCertificate(ctx context.Context, st domain.ConversationState, cert domain.Attachment) (domain.ConversationState, error)
	AttachPhoto(ctx context.Context, st domain.ConversationState, photo domain.Attachment) (domain.ConversationState, error)
	ClassifyUpload(ctx context.Context, upload domain.Attachment) domain.ImageKind
	InvalidateValuation(ctx context.Context, st domain.ConversationState) (domain.ConversationState, error)
	Summarize(st domain.ConversationState) domain.Summary
}

// QuoteService loads a session, applies one operation through the engine
// and saves the result under the version it was read at.
type QuoteService struct {
	engine        Conversation
	store         repository.Store
	maxMessageLen int
	maxUploads    int
	maxUploadSize int
}

type MessageInput struct {
	SessionID string
	Text      string
}

// UploadInput is one uploaded file. Text carries already extracted document
// text; Data carries image bytes.
type UploadInput struct {
	Name     string
	MIMEType string
	Data     []byte
	Text     string
}

// Output reports what one operation produced.
type Output struct {
	SessionID string
	Replies   []string
	Summary   domain.Summary
	Valuation *domain.Valuation
	Policy    *domain.Policy
	Audio     *domain.AudioSummary
	Uploads   []domain.ImageKind
}

func NewQuoteService(engine Conversation, store repository.Store, maxMessageLen, maxUploads int) (*QuoteService, error) {
	if engine == nil {
		return nil, errors.New("usecase: engine must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	if maxUploads <= 0 {
		maxUploads = defaultMaxUploads
	}
	return &QuoteService{
		engine:        engine,
		store:         store,
		maxMessageLen: maxMessageLen,
		maxUploads:    maxUploads,
		maxUploadSize: defaultMaxUploadMB << 20,
	}, nil
}

// Start creates a session and persists the greeting.
func (s *QuoteService) Start(ctx context.Context) (Output, error) {
	st, err := s.engine.CreateSession(ctx)
	if err != nil {
		return Output{}, engineError(err)
	}
	saved, err := s.store.Save(ctx, repository.Session{}, st)
	if err != nil {
		return Output{}, storeError("save", err)
	}
	return s.output(domain.ConversationState{}, saved.State), nil
}

// Send processes one customer message.
func (s *QuoteService) Send(ctx context.Context, in MessageInput) (Output, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Output{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(text) > s.maxMessageLen {
		return Output{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	return s.apply(ctx, in.SessionID, func(st domain.ConversationState) (domain.ConversationState, []domain.ImageKind, error) {
		next, err := s.engine.Run(ctx, st, text)
		return next, nil, err
	})
}

// AttachCertificate analyzes an operating licence.
func (s *QuoteService) AttachCertificate(ctx context.Context, sessionID string, in UploadInput) (Output, error) {
	att, err := s.attachment(in)
	if err != nil {
		return Output{}, err
	}
	return s.apply(ctx, sessionID, func(st domain.ConversationState) (domain.ConversationState, []domain.ImageKind, error) {
		next, err := s.engine.AttachCertificate(ctx, st, att)
		return next, []domain.ImageKind{domain.ImageCertificate}, err
	})
}

// AttachPhotos adds photos of the premises in the order given.
func (s *QuoteService) AttachPhotos(ctx context.Context, sessionID string, in []UploadInput) (Output, error) {
	atts, err := s.attachments(in)
	if err != nil {
		return Output{}, err
	}
	kinds := make([]domain.ImageKind, len(atts))
	for i := range kinds {
		kinds[i] = domain.ImageLocalPhoto
	}
	return s.apply(ctx, sessionID, func(st domain.ConversationState) (domain.ConversationState, []domain.ImageKind, error) {
		return s.applyAll(ctx, st, atts, kinds)
	})
}

// Upload lets the image classifier sort mixed uploads. Classification runs
// concurrently; the uploads are then applied one by one in request order.
func (s *QuoteService) Upload(ctx context.Context, sessionID string, in []UploadInput) (Output, error) {
	atts, err := s.attachments(in)
	if err != nil {
		return Output{}, err
	}
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return Output{}, err
	}

	kinds := make([]domain.ImageKind, len(atts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(classifyWorkers)
	for i, att := range atts {
		g.Go(func() error {
			kinds[i] = s.engine.ClassifyUpload(gctx, att)
			return nil
		})
	}
	_ = g.Wait() // classification never fails; it defaults to a photo

	return s.applyTo(ctx, sess, func(st domain.ConversationState) (domain.ConversationState, []domain.ImageKind, error) {
		return s.applyAll(ctx, st, atts, kinds)
	})
}

// Recalculate discards the valuation so it is computed again.
func (s *QuoteService) Recalculate(ctx context.Context, sessionID string) (Output, error) {
	return s.apply(ctx, sessionID, func(st domain.ConversationState) (domain.ConversationState, []domain.ImageKind, error) {
		next, err := s.engine.InvalidateValuation(ctx, st)
		return next, nil, err
	})
}

// Get returns the session's progress without changing it. Replies holds the
// last assistant message so a reconnecting client can show it.
func (s *QuoteService) Get(ctx context.Context, sessionID string) (Output, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return Output{}, err
	}
	out := s.output(sess.State, sess.State)
	if last, ok := sess.State.LastAssistantMessage(); ok {
		out.Replies = []string{last}
	}
	return out, nil
}

// Transcript returns the persisted message log.
func (s *QuoteService) Transcript(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error) {
	if _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	entries, err := s.store.Transcript(ctx, strings.TrimSpace(sessionID), transcriptLimit)
	if err != nil {
		return nil, storeError("transcript", err)
	}
	return entries, nil
}

type operation func(st domain.ConversationState) (domain.ConversationState, []domain.ImageKind, error)

func (s *QuoteService) apply(ctx context.Context, sessionID string, op operation) (Output, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return Output{}, err
	}
	return s.applyTo(ctx, sess, op)
}

func (s *QuoteService) applyTo(ctx context.Context, sess repository.Session, op operation) (Output, error) {
	next, kinds, err := op(sess.State)
	if err != nil {
		return Output{}, engineError(err)
	}
	saved, err := s.store.Save(ctx, sess, next)
	if err != nil {
		return Output{}, storeError("save", err)
	}
	out := s.output(sess.State, saved.State)
	out.Uploads = kinds
	return out, nil
}

func (s *QuoteService) applyAll(ctx context.Context, st domain.ConversationState, atts []domain.Attachment, kinds []domain.ImageKind) (domain.ConversationState, []domain.ImageKind, error) {
	var err error
	for i, att := range atts {
		if kinds[i] == domain.ImageCertificate {
			st, err = s.engine.AttachCertificate(ctx, st, att)
		} else {
			st, err = s.engine.AttachPhoto(ctx, st, att)
		}
		if err != nil {
			return st, kinds, err
		}
	}
	return st, kinds, nil
}

func (s *QuoteService) load(ctx context.Context, sessionID string) (repository.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return repository.Session{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	sess, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return repository.Session{}, storeError("load", err)
	}
	return sess, nil
}

func (s *QuoteService) attachment(in UploadInput) (domain.Attachment, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "archivo"
	}
	switch {
	case len(in.Data) > s.maxUploadSize:
		return domain.Attachment{}, newError(ErrorInvalidInput, "upload_too_large", nil)
	case len(in.Data) > 0:
		return domain.NewImageAttachment(name, in.MIMEType, in.Data), nil
	case strings.TrimSpace(in.Text) != "":
		return domain.NewTextAttachment(name, in.Text), nil
	}
	return domain.Attachment{}, newError(ErrorInvalidInput, "empty_upload", nil)
}

func (s *QuoteService) attachments(in []UploadInput) ([]domain.Attachment, error) {
	if len(in) == 0 {
		return nil, newError(ErrorInvalidInput, "no_uploads", nil)
	}
	if len(in) > s.maxUploads {
		return nil, newError(ErrorInvalidInput, "too_many_uploads", nil)
	}
	out := make([]domain.Attachment, 0, len(in))
	for _, u := range in {
		att, err := s.attachment(u)
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, nil
}

func (s *QuoteService) output(prev, next domain.ConversationState) Output {
	out := Output{
		SessionID: next.SessionID,
		Replies:   []string{},
		Summary:   s.engine.Summarize(next),
		Valuation: next.Valuation,
		Policy:    next.Policy,
		Audio:     next.Audio,
	}
	if len(next.Messages) < len(prev.Messages) {
		return out
	}
	for _, m := range next.Messages[len(prev.Messages):] {
		if m.Role == domain.RoleAssistant {
			out.Replies = append(out.Replies, m.Content)
		}
	}
	return out
}

func storeError(op string, err error) *Error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return newError(ErrorNotFound, "session_not_found", err)
	case errors.Is(err, repository.ErrConflict):
		return newError(ErrorConflict, "session_modified", err)
	}
	slog.Error("usecase: session store failed", "op", op, "err", err)
	return newError(ErrorInternal, "dynamodb_"+op+"_error", err)
}

func engineError(err error) *Error {
	switch {
	case errors.Is(err, workflow.ErrEmptyAttachment):
		return newError(ErrorInvalidInput, "empty_upload", err)
	case errors.Is(err, workflow.ErrPolicyIssued):
		return newError(ErrorConflict, "policy_already_issued", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorUpstream, "upstream_timeout", err)
	}
	slog.Error("usecase: conversation engine failed", "err", err)
	return newError(ErrorInternal, "workflow_error", err)
}

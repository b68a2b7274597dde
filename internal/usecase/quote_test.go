package usecase

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quote-agent/internal/domain"
	"quote-agent/internal/repository"
	"quote-agent/internal/workflow"
)

// mockEngine records calls and appends one assistant reply per operation.
type mockEngine struct {
	runErr       error
	invalidate   error
	classified   atomic.Int32
	kinds        map[string]domain.ImageKind
	applied      []string
	lastRunInput string
}

func (m *mockEngine) CreateSession(_ context.Context) (domain.ConversationState, error) {
	st := domain.NewConversationState("session-1", time.Unix(0, 0))
	st.Say("¡Hola!")
	return st, nil
}

func (m *mockEngine) Run(_ context.Context, st domain.ConversationState, text string) (domain.ConversationState, error) {
	if m.runErr != nil {
		return st, m.runErr
	}
	m.lastRunInput = text
	next := st.Clone()
	next.Hear(text)
	next.Say("respuesta a " + text)
	return next, nil
}

func (m *mockEngine) AttachCertificate(_ context.Context, st domain.ConversationState, cert domain.Attachment) (domain.ConversationState, error) {
	m.applied = append(m.applied, "cert:"+cert.Name)
	next := st.Clone()
	next.Say("certificado " + cert.Name)
	return next, nil
}

func (m *mockEngine) AttachPhoto(_ context.Context, st domain.ConversationState, photo domain.Attachment) (domain.ConversationState, error) {
	m.applied = append(m.applied, "photo:"+photo.Name)
	next := st.Clone()
	next.Photos = append(next.Photos, photo)
	next.Say("foto " + photo.Name)
	return next, nil
}

func (m *mockEngine) ClassifyUpload(_ context.Context, upload domain.Attachment) domain.ImageKind {
	m.classified.Add(1)
	if k, ok := m.kinds[upload.Name]; ok {
		return k
	}
	return domain.ImageLocalPhoto
}

func (m *mockEngine) InvalidateValuation(_ context.Context, st domain.ConversationState) (domain.ConversationState, error) {
	if m.invalidate != nil {
		return st, m.invalidate
	}
	next := st.Clone()
	next.Valuation = nil
	return next, nil
}

func (m *mockEngine) Summarize(st domain.ConversationState) domain.Summary {
	return domain.Summarize(st)
}

type failingStore struct {
	repository.Store
	loadErr error
	saveErr error
}

func (f *failingStore) Load(ctx context.Context, id string) (repository.Session, error) {
	if f.loadErr != nil {
		return repository.Session{}, f.loadErr
	}
	return f.Store.Load(ctx, id)
}

func (f *failingStore) Save(ctx context.Context, prev repository.Session, next domain.ConversationState) (repository.Session, error) {
	if f.saveErr != nil {
		return repository.Session{}, f.saveErr
	}
	return f.Store.Save(ctx, prev, next)
}

func newTestService(t *testing.T, engine *mockEngine, store repository.Store) *QuoteService {
	t.Helper()
	svc, err := NewQuoteService(engine, store, 50, 3)
	require.NoError(t, err)
	return svc
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func png(name string) UploadInput {
	return UploadInput{Name: name, MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
}

func TestNewQuoteService_ValidatesDependencies(t *testing.T) {
	_, err := NewQuoteService(nil, repository.NewMemoryStore(), 0, 0)
	require.Error(t, err)
	_, err = NewQuoteService(&mockEngine{}, nil, 0, 0)
	require.Error(t, err)
}

func TestStartAndSend(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestService(t, &mockEngine{}, store)

	out, err := svc.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, "session-1", out.SessionID)
	require.Equal(t, []string{"¡Hola!"}, out.Replies)

	out, err = svc.Send(context.Background(), MessageInput{SessionID: "session-1", Text: "  precio  "})
	require.NoError(t, err)
	require.Equal(t, []string{"respuesta a precio"}, out.Replies, "only the new assistant messages")

	got, err := svc.Get(context.Background(), "session-1")
	require.NoError(t, err)
	require.Equal(t, []string{"respuesta a precio"}, got.Replies)
	require.Equal(t, 3, got.Summary.Messages)

	entries, err := svc.Transcript(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestSend_Validation(t *testing.T) {
	svc := newTestService(t, &mockEngine{}, repository.NewMemoryStore())

	_, err := svc.Send(context.Background(), MessageInput{SessionID: "session-1", Text: strings.Repeat("a", 51)})
	expectError(t, err, ErrorInvalidInput, "message_too_long")

	_, err = svc.Send(context.Background(), MessageInput{SessionID: "session-1", Text: "  "})
	expectError(t, err, ErrorInvalidInput, "empty_message")

	_, err = svc.Send(context.Background(), MessageInput{SessionID: " ", Text: "hola"})
	expectError(t, err, ErrorInvalidInput, "missing_session_id")

	_, err = svc.Send(context.Background(), MessageInput{SessionID: "nope", Text: "hola"})
	expectError(t, err, ErrorNotFound, "session_not_found")
}

func TestSend_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		engine *mockEngine
		store  func(repository.Store) repository.Store
		code   ErrorCode
		reason string
	}{
		{
			name:   "engine fault",
			engine: &mockEngine{runErr: errors.New("workflow: unknown step")},
			code:   ErrorInternal, reason: "workflow_error",
		},
		{
			name:   "deadline",
			engine: &mockEngine{runErr: context.DeadlineExceeded},
			code:   ErrorUpstream, reason: "upstream_timeout",
		},
		{
			name:   "conflict",
			engine: &mockEngine{},
			store:  func(s repository.Store) repository.Store { return &failingStore{Store: s, saveErr: repository.ErrConflict} },
			code:   ErrorConflict, reason: "session_modified",
		},
		{
			name:   "store down",
			engine: &mockEngine{},
			store:  func(s repository.Store) repository.Store { return &failingStore{Store: s, loadErr: errors.New("throttled")} },
			code:   ErrorInternal, reason: "dynamodb_load_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var store repository.Store = repository.NewMemoryStore()
			_, err := newTestService(t, &mockEngine{}, store).Start(context.Background())
			require.NoError(t, err)
			if tc.store != nil {
				store = tc.store(store)
			}
			svc := newTestService(t, tc.engine, store)
			_, err = svc.Send(context.Background(), MessageInput{SessionID: "session-1", Text: "hola"})
			expectError(t, err, tc.code, tc.reason)
		})
	}
}

func TestUpload_ClassifiesThenAppliesInOrder(t *testing.T) {
	engine := &mockEngine{kinds: map[string]domain.ImageKind{"licencia.jpg": domain.ImageCertificate}}
	svc := newTestService(t, engine, repository.NewMemoryStore())
	_, err := svc.Start(context.Background())
	require.NoError(t, err)

	out, err := svc.Upload(context.Background(), "session-1", []UploadInput{
		png("frente.png"), png("licencia.jpg"), png("interior.png"),
	})
	require.NoError(t, err)
	require.Equal(t, int32(3), engine.classified.Load())
	require.Equal(t, []string{"photo:frente.png", "cert:licencia.jpg", "photo:interior.png"}, engine.applied)
	require.Equal(t, []domain.ImageKind{domain.ImageLocalPhoto, domain.ImageCertificate, domain.ImageLocalPhoto}, out.Uploads)
	require.Equal(t, []string{"foto frente.png", "certificado licencia.jpg", "foto interior.png"}, out.Replies)
	require.Equal(t, 2, out.Summary.Photos)
}

func TestUpload_Validation(t *testing.T) {
	engine := &mockEngine{}
	svc := newTestService(t, engine, repository.NewMemoryStore())

	_, err := svc.Upload(context.Background(), "session-1", nil)
	expectError(t, err, ErrorInvalidInput, "no_uploads")

	_, err = svc.Upload(context.Background(), "session-1", []UploadInput{png("a"), png("b"), png("c"), png("d")})
	expectError(t, err, ErrorInvalidInput, "too_many_uploads")

	_, err = svc.Upload(context.Background(), "session-1", []UploadInput{{Name: "vacío"}})
	expectError(t, err, ErrorInvalidInput, "empty_upload")

	_, err = svc.Upload(context.Background(), "nope", []UploadInput{png("a")})
	expectError(t, err, ErrorNotFound, "session_not_found")
	require.Zero(t, engine.classified.Load(), "nothing is classified for a missing session")

	big := UploadInput{Name: "big", Data: make([]byte, defaultMaxUploadMB<<20+1)}
	_, err = svc.AttachCertificate(context.Background(), "session-1", big)
	expectError(t, err, ErrorInvalidInput, "upload_too_large")
}

func TestAttachCertificateAndPhotos(t *testing.T) {
	engine := &mockEngine{}
	svc := newTestService(t, engine, repository.NewMemoryStore())
	_, err := svc.Start(context.Background())
	require.NoError(t, err)

	out, err := svc.AttachCertificate(context.Background(), "session-1", UploadInput{Name: "cert.txt", Text: "CERTIFICADO N° 1"})
	require.NoError(t, err)
	require.Equal(t, []domain.ImageKind{domain.ImageCertificate}, out.Uploads)

	out, err = svc.AttachPhotos(context.Background(), "session-1", []UploadInput{png("a.png"), png("b.png")})
	require.NoError(t, err)
	require.Len(t, out.Replies, 2)
	require.Equal(t, []string{"cert:cert.txt", "photo:a.png", "photo:b.png"}, engine.applied)
}

func TestRecalculate_PolicyIssuedIsConflict(t *testing.T) {
	engine := &mockEngine{invalidate: workflow.ErrPolicyIssued}
	svc := newTestService(t, engine, repository.NewMemoryStore())
	_, err := svc.Start(context.Background())
	require.NoError(t, err)

	_, err = svc.Recalculate(context.Background(), "session-1")
	expectError(t, err, ErrorConflict, "policy_already_issued")

	engine.invalidate = nil
	_, err = svc.Recalculate(context.Background(), "session-1")
	require.NoError(t, err)
}

func TestError_Format(t *testing.T) {
	require.Equal(t, "usecase: NOT_FOUND (session_not_found)", newError(ErrorNotFound, "session_not_found", nil).Error())
	inner := errors.New("boom")
	err := newError(ErrorInternal, "x", inner)
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "boom")
	var nilErr *Error
	require.Empty(t, nilErr.Error())
}

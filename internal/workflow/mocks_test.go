package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quote-agent/internal/domain"
	"quote-agent/internal/policy"
	"quote-agent/internal/valuation"
)

type mockExtractor struct {
	info  domain.BusinessInfo
	calls int
}

func (m *mockExtractor) Extract(_ context.Context, _ domain.Attachment) domain.BusinessInfo {
	m.calls++
	return m.info
}

type mockImages struct {
	kind  domain.ImageKind
	calls int
}

func (m *mockImages) Classify(_ context.Context, _ domain.Attachment) domain.ImageKind {
	m.calls++
	return m.kind
}

type mockRenderer struct {
	*policy.Renderer
	err     error
	renders int
}

func (m *mockRenderer) Render(info domain.BusinessInfo, v domain.Valuation) (domain.Policy, error) {
	m.renders++
	if m.err != nil {
		return domain.Policy{}, m.err
	}
	return m.Renderer.Render(info, v)
}

type mockSpeech struct {
	handle  string
	err     error
	scripts []string
}

func (m *mockSpeech) Synthesize(_ context.Context, script string) (string, error) {
	m.scripts = append(m.scripts, script)
	return m.handle, m.err
}

type mockSales struct {
	reply  string
	err    error
	inputs []string
}

func (m *mockSales) Respond(_ context.Context, _ domain.ConversationState, input string) (string, error) {
	m.inputs = append(m.inputs, input)
	return m.reply, m.err
}

type harness struct {
	engine    *Engine
	extractor *mockExtractor
	images    *mockImages
	renderer  *mockRenderer
	speech    *mockSpeech
	sales     *mockSales
	valuator  *valuation.Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	val := valuation.NewEngine(valuation.DefaultRates())
	clock := func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }
	r, err := policy.NewRenderer(val, policy.WithClock(clock))
	require.NoError(t, err)

	h := &harness{
		extractor: &mockExtractor{},
		images:    &mockImages{kind: domain.ImageLocalPhoto},
		renderer:  &mockRenderer{Renderer: r},
		speech:    &mockSpeech{handle: "/tmp/audio/summary.mp3"},
		sales:     &mockSales{reply: "Con gusto te ayudo."},
		valuator:  val,
	}
	opts = append([]Option{WithClock(clock), WithIDGenerator(func() string { return "session-1" })}, opts...)
	h.engine, err = NewEngine(Dependencies{
		Extractor: h.extractor,
		Images:    h.images,
		Valuator:  val,
		Renderer:  h.renderer,
		Speech:    h.speech,
		Sales:     h.sales,
	}, opts...)
	require.NoError(t, err)
	return h
}

func (h *harness) start(t *testing.T) domain.ConversationState {
	t.Helper()
	st, err := h.engine.CreateSession(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) run(t *testing.T, st domain.ConversationState, text string) domain.ConversationState {
	t.Helper()
	next, err := h.engine.Run(context.Background(), st, text)
	require.NoError(t, err)
	return next
}

func (h *harness) photo(t *testing.T, st domain.ConversationState) domain.ConversationState {
	t.Helper()
	next, err := h.engine.AttachPhoto(context.Background(), st, domain.NewImageAttachment("local.jpg", "image/jpeg", []byte{0xff, 0xd8, byte(len(st.Photos))}))
	require.NoError(t, err)
	return next
}

// quoted drives a fresh session up to a presented quote for an 80 m²
// bakery with one photo.
func (h *harness) quoted(t *testing.T) domain.ConversationState {
	t.Helper()
	st := h.start(t)
	st = h.run(t, st, "Tengo una panadería de 80 m2")
	st = h.photo(t, st)
	st = h.run(t, st, "sí")
	require.NotNil(t, st.Valuation)
	return st
}

// issued drives a fresh session up to an issued policy with the audio offer
// pending.
func (h *harness) issued(t *testing.T) domain.ConversationState {
	t.Helper()
	st := h.run(t, h.quoted(t), "sí")
	require.NotNil(t, st.Policy)
	return st
}

func lastMessage(t *testing.T, st domain.ConversationState) string {
	t.Helper()
	msg, ok := st.LastAssistantMessage()
	require.True(t, ok)
	return msg
}

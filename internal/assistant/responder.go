// Package assistant answers free-form customer questions with a chat model,
// scoped to the quote being built.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"quote-agent/internal/domain"
	"quote-agent/internal/integrations/openai"
)

const (
	defaultModel      = "gpt-4o-mini"
	defaultMaxHistory = 12
	defaultMaxInput   = 500
)

// OffTopicReply is said when a question has nothing to do with the quote or
// the moderation endpoint flags it.
const OffTopicReply = "Solo puedo ayudarte con temas de tu seguro y tu cotización. " +
	"¿Tienes alguna consulta sobre coberturas, precios o el proceso de contratación?"

var ErrInputTooLong = errors.New("assistant: question too long")

// ParamGetter batch-reads parameters. Names that do not exist are absent
// from the result.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type LLMClient interface {
	ChatJSON(ctx context.Context, model string, messages []domain.ChatMessage, schema openai.Schema) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// Responder implements the workflow sales responder. Persona and model are
// read from Parameter Store once per process.
type Responder struct {
	params      ParamGetter
	llm         LLMClient
	paramPrefix string
	maxHistory  int
	maxInput    int

	cacheMu     sync.RWMutex
	cacheLoaded bool
	persona     string
	model       string
}

func NewResponder(p ParamGetter, llm LLMClient, paramPrefix string, maxHistory int) (*Responder, error) {
	if p == nil {
		return nil, errors.New("assistant: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("assistant: llm client must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("assistant: parameter prefix must not be empty")
	}
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Responder{
		params:      p,
		llm:         llm,
		paramPrefix: paramPrefix,
		maxHistory:  maxHistory,
		maxInput:    defaultMaxInput,
	}, nil
}

func (r *Responder) Respond(ctx context.Context, st domain.ConversationState, input string) (string, error) {
	question := strings.TrimSpace(input)
	if question == "" {
		return "", errors.New("assistant: empty question")
	}
	if len([]rune(question)) > r.maxInput {
		return "", ErrInputTooLong
	}
	if err := r.ensureConfig(ctx); err != nil {
		return "", err
	}

	flagged, err := r.llm.Moderate(ctx, question)
	if err != nil {
		return "", fmt.Errorf("assistant: moderate: %w", err)
	}
	if flagged {
		slog.Info("assistant: question flagged by moderation", "session_id", st.SessionID)
		return OffTopicReply, nil
	}

	raw, err := r.llm.ChatJSON(ctx, r.model, buildPromptMessages(r.persona, st, question, r.maxHistory), scopedAnswerSchema)
	if err != nil {
		return "", fmt.Errorf("assistant: chat: %w", err)
	}
	decision, err := parseScopedAnswer(raw)
	if err != nil {
		return "", err
	}
	if !decision.InScope {
		return OffTopicReply, nil
	}
	return strings.TrimSpace(decision.Answer), nil
}

func (r *Responder) ensureConfig(ctx context.Context) error {
	r.cacheMu.RLock()
	if r.cacheLoaded {
		r.cacheMu.RUnlock()
		return nil
	}
	r.cacheMu.RUnlock()

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.cacheLoaded {
		return nil
	}

	personaName := r.paramPrefix + "/sales/pinned_prompt"
	modelName := r.paramPrefix + "/config/openai_model"
	vals, err := r.params.GetParameters(ctx, personaName, modelName)
	if err != nil {
		return fmt.Errorf("assistant: load config: %w", err)
	}
	persona := valueOr(vals[personaName], defaultPersona)
	model := valueOr(vals[modelName], defaultModel)

	r.persona = persona
	r.model = model
	r.cacheLoaded = true
	return nil
}

func valueOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

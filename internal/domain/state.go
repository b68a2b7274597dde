package domain

import (
	"slices"
	"time"
)

// Step is a node of the quoting conversation.
type Step string

const (
	StepWelcome             Step = "WELCOME"
	StepGathering           Step = "GATHERING"
	StepCertificateAnalysis Step = "CERTIFICATE_ANALYSIS"
	StepValuation           Step = "VALUATION"
	StepPolicyGeneration    Step = "POLICY_GENERATION"
	StepAudioGeneration     Step = "AUDIO_GENERATION"
	StepSalesAssistance     Step = "SALES_ASSISTANCE"
	StepComplete            Step = "COMPLETE"
)

// Action labels what the conversation is waiting for next.
type Action string

const (
	ActionNone             Action = ""
	ActionAwaitCertificate Action = "await_certificate"
	ActionRequestInfo      Action = "request_info"
	ActionRequestAddress   Action = "request_address"
	ActionRequestArea      Action = "request_area"
	ActionRequestPhotos    Action = "request_photos"
	ActionConfirmValuation Action = "confirm_valuation"
	ActionConfirmPolicy    Action = "confirm_policy"
	ActionOfferAudio       Action = "offer_audio"
	ActionComplete         Action = "complete"
)

// LoopCounter counts hub visits that happen close together in the log.
type LoopCounter struct {
	Count       int `json:"count"`
	LastMessage int `json:"last_message"`
}

// ConversationState is the aggregate threaded through every step handler.
type ConversationState struct {
	SessionID string        `json:"session_id"`
	CreatedAt time.Time     `json:"created_at"`
	Messages  []ChatMessage `json:"messages"`

	CurrentStep Step   `json:"current_step"`
	LastInput   string `json:"last_input"`
	Turn        int    `json:"turn"`

	Business      BusinessInfo  `json:"business"`
	Valuation     *Valuation    `json:"valuation,omitempty"`
	Policy        *Policy       `json:"policy,omitempty"`
	Audio         *AudioSummary `json:"audio,omitempty"`
	AudioDeclined bool          `json:"audio_declined,omitempty"`

	PendingCertificate *Attachment  `json:"pending_certificate,omitempty"`
	Certificates       []Attachment `json:"certificates,omitempty"`
	Photos             []Attachment `json:"photos,omitempty"`

	AwaitingConfirmation bool        `json:"awaiting_confirmation"`
	NextAction           Action      `json:"next_action"`
	SalesLoop            LoopCounter `json:"sales_loop"`
	SalesInput           string      `json:"sales_input,omitempty"`
	SalesTurn            int         `json:"sales_turn,omitempty"`
}

// NewConversationState returns an empty session positioned at WELCOME.
func NewConversationState(sessionID string, now time.Time) ConversationState {
	return ConversationState{
		SessionID:   sessionID,
		CreatedAt:   now.UTC(),
		Messages:    []ChatMessage{},
		CurrentStep: StepWelcome,
	}
}

// Clone returns a deep copy so that handlers working on the copy never
// mutate the caller's value.
func (s ConversationState) Clone() ConversationState {
	c := s
	c.Messages = slices.Clone(s.Messages)
	c.Business = Merge(s.Business, BusinessInfo{})
	if s.Valuation != nil {
		c.Valuation = Ptr(*s.Valuation)
	}
	if s.Policy != nil {
		c.Policy = Ptr(*s.Policy)
	}
	if s.Audio != nil {
		c.Audio = Ptr(*s.Audio)
	}
	if s.PendingCertificate != nil {
		c.PendingCertificate = Ptr(*s.PendingCertificate)
	}
	c.Certificates = slices.Clone(s.Certificates)
	c.Photos = slices.Clone(s.Photos)
	return c
}

// Say appends an assistant message to the log.
func (s *ConversationState) Say(content string) {
	s.Messages = append(s.Messages, ChatMessage{Role: RoleAssistant, Content: content})
}

// Hear appends a user message to the log.
func (s *ConversationState) Hear(content string) {
	s.Messages = append(s.Messages, ChatMessage{Role: RoleUser, Content: content})
}

// AssistantMessages counts assistant entries in the log.
func (s ConversationState) AssistantMessages() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleAssistant {
			n++
		}
	}
	return n
}

// LastAssistantMessage returns the most recent assistant message, if any.
func (s ConversationState) LastAssistantMessage() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content, true
		}
	}
	return "", false
}

// ReadyToQuote reports whether the facts needed for a valuation prompt are
// all known.
func (s ConversationState) ReadyToQuote() bool {
	return s.Business.HasArea() && s.Business.HasCategory() && len(s.Photos) > 0
}

// Summary is the read-only progress view shown by user interfaces.
type Summary struct {
	SessionID     string   `json:"session_id"`
	Step          Step     `json:"step"`
	HasValuation  bool     `json:"has_valuation"`
	HasPolicy     bool     `json:"has_policy"`
	HasAudio      bool     `json:"has_audio"`
	MissingFields []string `json:"missing_fields"`
	Messages      int      `json:"messages"`
	Photos        int      `json:"photos"`
	Awaiting      bool     `json:"awaiting_confirmation"`
}

// Summarize builds the progress view for the state.
func Summarize(s ConversationState) Summary {
	missing := s.Business.MissingFields()
	if len(s.Photos) == 0 && s.Valuation == nil {
		missing = append(missing, FieldPhotos)
	}
	if missing == nil {
		missing = []string{}
	}
	return Summary{
		SessionID:     s.SessionID,
		Step:          s.CurrentStep,
		HasValuation:  s.Valuation != nil,
		HasPolicy:     s.Policy != nil,
		HasAudio:      s.Audio != nil,
		MissingFields: missing,
		Messages:      len(s.Messages),
		Photos:        len(s.Photos),
		Awaiting:      s.AwaitingConfirmation,
	}
}

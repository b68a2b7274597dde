// Package handler adapts API Gateway proxy events to the quoting use cases.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"quote-agent/internal/domain"
	"quote-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// QuoteUseCase is implemented by usecase.QuoteService.
type QuoteUseCase interface {
	Start(ctx context.Context) (usecase.Output, error)
	Send(ctx context.Context, in usecase.MessageInput) (usecase.Output, error)
	AttachCertificate(ctx context.Context, sessionID string, in usecase.UploadInput) (usecase.Output, error)
	AttachPhotos(ctx context.Context, sessionID string, in []usecase.UploadInput) (usecase.Output, error)
	Upload(ctx context.Context, sessionID string, in []usecase.UploadInput) (usecase.Output, error)
	Recalculate(ctx context.Context, sessionID string) (usecase.Output, error)
	Get(ctx context.Context, sessionID string) (usecase.Output, error)
	Transcript(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error)
}

type Handler struct {
	uc QuoteUseCase
}

type messageRequest struct {
	Message string `json:"message"`
}

// fileRequest carries one upload. Data is base64 in JSON.
type fileRequest struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
	Text     string `json:"text"`
}

type filesRequest struct {
	Files []fileRequest `json:"files"`
}

type sessionResponse struct {
	SessionID string               `json:"sessionId"`
	Replies   []string             `json:"replies"`
	Summary   domain.Summary       `json:"summary"`
	Valuation *domain.Valuation    `json:"valuation,omitempty"`
	Policy    *domain.Policy       `json:"policy,omitempty"`
	Audio     *domain.AudioSummary `json:"audio,omitempty"`
	Uploads   []domain.ImageKind   `json:"uploads,omitempty"`
}

type transcriptMessage struct {
	Seq     int    `json:"seq"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Step    string `json:"step,omitempty"`
}

type transcriptResponse struct {
	SessionID string              `json:"sessionId"`
	Messages  []transcriptMessage `json:"messages"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(uc QuoteUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

// Handle serves:
//
//	POST /sessions
//	GET  /sessions/{id}
//	GET  /sessions/{id}/transcript
//	POST /sessions/{id}/messages|certificate|photos|uploads|recalculate
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := slog.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	sessionID, action, ok := parsePath(req.Path)
	if !ok {
		return respondError(correlationID, http.StatusNotFound, usecase.ErrorNotFound, "route_not_found"), nil
	}
	body, err := requestBody(req)
	if err != nil {
		return respondError(correlationID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_body"), nil
	}

	switch {
	case req.HTTPMethod == http.MethodPost && sessionID == "":
		return h.respond(log, correlationID, http.StatusCreated)(h.uc.Start(ctx))

	case req.HTTPMethod == http.MethodGet && sessionID != "" && action == "":
		return h.respond(log, correlationID, http.StatusOK)(h.uc.Get(ctx, sessionID))

	case req.HTTPMethod == http.MethodGet && action == "transcript":
		entries, err := h.uc.Transcript(ctx, sessionID)
		if err != nil {
			return mapError(log, correlationID, err), nil
		}
		return respondJSON(correlationID, http.StatusOK, newTranscriptResponse(sessionID, entries)), nil

	case req.HTTPMethod != http.MethodPost || sessionID == "":
		return respondError(correlationID, http.StatusMethodNotAllowed, usecase.ErrorInvalidInput, "method_not_allowed"), nil

	case action == "messages":
		var in messageRequest
		if err := decode(body, &in); err != nil {
			return respondError(correlationID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json"), nil
		}
		return h.respond(log, correlationID, http.StatusOK)(h.uc.Send(ctx, usecase.MessageInput{SessionID: sessionID, Text: in.Message}))

	case action == "certificate":
		var in fileRequest
		if err := decode(body, &in); err != nil {
			return respondError(correlationID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json"), nil
		}
		return h.respond(log, correlationID, http.StatusOK)(h.uc.AttachCertificate(ctx, sessionID, in.input()))

	case action == "photos", action == "uploads":
		var in filesRequest
		if err := decode(body, &in); err != nil {
			return respondError(correlationID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json"), nil
		}
		files := make([]usecase.UploadInput, 0, len(in.Files))
		for _, f := range in.Files {
			files = append(files, f.input())
		}
		if action == "photos" {
			return h.respond(log, correlationID, http.StatusOK)(h.uc.AttachPhotos(ctx, sessionID, files))
		}
		return h.respond(log, correlationID, http.StatusOK)(h.uc.Upload(ctx, sessionID, files))

	case action == "recalculate":
		return h.respond(log, correlationID, http.StatusOK)(h.uc.Recalculate(ctx, sessionID))
	}
	return respondError(correlationID, http.StatusNotFound, usecase.ErrorNotFound, "route_not_found"), nil
}

func (h *Handler) respond(log *slog.Logger, correlationID string, status int) func(usecase.Output, error) (events.APIGatewayProxyResponse, error) {
	return func(out usecase.Output, err error) (events.APIGatewayProxyResponse, error) {
		if err != nil {
			return mapError(log, correlationID, err), nil
		}
		log.Info("request handled", "session_id", out.SessionID, "step", out.Summary.Step, "replies", len(out.Replies))
		return respondJSON(correlationID, status, sessionResponse{
			SessionID: out.SessionID,
			Replies:   out.Replies,
			Summary:   out.Summary,
			Valuation: out.Valuation,
			Policy:    out.Policy,
			Audio:     out.Audio,
			Uploads:   out.Uploads,
		}), nil
	}
}

func (f fileRequest) input() usecase.UploadInput {
	return usecase.UploadInput{Name: f.Name, MIMEType: f.MIMEType, Data: f.Data, Text: f.Text}
}

func newTranscriptResponse(sessionID string, entries []domain.TranscriptEntry) transcriptResponse {
	msgs := make([]transcriptMessage, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, transcriptMessage{Seq: e.Seq, Role: e.Role, Content: e.Content, Step: e.Step})
	}
	return transcriptResponse{SessionID: sessionID, Messages: msgs}
}

// parsePath splits /sessions[/{id}[/{action}]], tolerating a stage prefix.
func parsePath(path string) (sessionID, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p != "sessions" {
			continue
		}
		rest := parts[i+1:]
		switch len(rest) {
		case 0:
			return "", "", true
		case 1:
			return rest[0], "", rest[0] != ""
		case 2:
			return rest[0], rest[1], rest[0] != "" && rest[1] != ""
		}
		return "", "", false
	}
	return "", "", false
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// decode accepts an empty body as an empty object.
func decode(body []byte, v any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func mapError(log *slog.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.Error("unexpected error", "err", err)
		return respondError(correlationID, http.StatusInternalServerError, usecase.ErrorInternal, "")
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorConflict:
		status = http.StatusConflict
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		log.Warn("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return respondError(correlationID, status, ucErr.Code, ucErr.Reason)
}

func respondError(correlationID string, status int, code usecase.ErrorCode, reason string) events.APIGatewayProxyResponse {
	return respondJSON(correlationID, status, errorResponse{Error: string(code), Reason: reason})
}

func respondJSON(correlationID string, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

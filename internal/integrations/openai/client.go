package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"quote-agent/internal/domain"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	maxJSONBody      = 1 << 20
	maxAudioBody     = 16 << 20
	maxErrorBodySize = 4096
)

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       any             `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// Schema is a strict JSON schema the model's reply must satisfy.
type Schema struct {
	Name   string
	Schema json.RawMessage
}

func (s *Schema) format() *responseFormat {
	if s == nil {
		return nil
	}
	return &responseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchemaConfig{Name: s.Name, Strict: true, Schema: s.Schema},
	}
}

// visionMessage carries multi-part content (text plus one image).
type visionMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int                `json:"index"`
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// moderationRequest is the request shape for the Moderations endpoint.
type moderationRequest struct {
	Input string `json:"input"`
}

// moderationResponse is the minimal response shape for the Moderations endpoint.
type moderationResponse struct {
	Results []struct {
		Flagged bool `json:"flagged"`
	} `json:"results"`
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for chat, vision, moderation
// and speech synthesis.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	retry       RetryPolicy

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey pins the key and skips the Parameter Store lookup. Used by the
// local CLI, which reads OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key retrieval. The key is fetched from SSM on the first call and reused
// for the lifetime of the process. A getter is not needed when WithAPIKey is
// supplied.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
		retry:       DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey != "" {
		return c, nil
	}
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	if c.paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	return c, nil
}

// resolveAPIKey fetches the API key from SSM on the first call and returns the
// cached result on every subsequent call within the same process lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		if c.apiKey != "" {
			return
		}
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

func chatURL(baseURL string) string       { return endpointURL(baseURL, "/chat/completions") }
func moderationURL(baseURL string) string { return endpointURL(baseURL, "/moderations") }
func speechURL(baseURL string) string     { return endpointURL(baseURL, "/audio/speech") }

// Chat sends a plain chat completion and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	return c.complete(ctx, model, messages, nil)
}

// ChatJSON is Chat with a strict JSON schema response format. The returned
// string is the raw JSON document produced by the model.
func (c *Client) ChatJSON(ctx context.Context, model string, messages []domain.ChatMessage, schema Schema) (string, error) {
	return c.complete(ctx, model, messages, &schema)
}

// VisionChat asks the model about a single image. The image is sent inline as
// a base64 data URL. schema may be nil for a free-text reply.
func (c *Client) VisionChat(ctx context.Context, model, prompt, mimeType string, image []byte, schema *Schema) (string, error) {
	if len(image) == 0 {
		return "", errors.New("openai: image must not be empty")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	msg := visionMessage{
		Role: domain.RoleUser,
		Content: []contentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &imageURL{
				URL:    "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image),
				Detail: "high",
			}},
		},
	}
	return c.complete(ctx, model, []visionMessage{msg}, schema)
}

func (c *Client) complete(ctx context.Context, model string, messages any, schema *Schema) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	temperature := 0.2
	body, err := json.Marshal(chatRequest{
		Model:          model,
		Messages:       messages,
		Temperature:    &temperature,
		ResponseFormat: schema.format(),
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	raw, err := c.post(ctx, "chat", url, apiKey, body, maxJSONBody)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

// Moderate calls the OpenAI Moderations API and returns true if the input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(moderationRequest{Input: input})
	if err != nil {
		return false, fmt.Errorf("openai: marshal moderation request: %w", err)
	}

	raw, err := c.post(ctx, "moderation", moderationURL(c.baseURL), apiKey, body, maxJSONBody)
	if err != nil {
		return false, fmt.Errorf("openai: moderation request failed: %w", err)
	}

	var payload moderationResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return false, fmt.Errorf("openai: decode moderation response: %w", decErr)
	}
	if len(payload.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return payload.Results[0].Flagged, nil
}

// Speech synthesizes input with the given voice and returns MP3 bytes.
func (c *Client) Speech(ctx context.Context, model, voice, input string) ([]byte, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("openai: speech input must not be empty")
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(speechRequest{Model: model, Input: input, Voice: voice, ResponseFormat: "mp3"})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal speech request: %w", err)
	}

	audio, err := c.post(ctx, "speech", speechURL(c.baseURL), apiKey, body, maxAudioBody)
	if err != nil {
		return nil, fmt.Errorf("openai: speech request failed: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("openai: empty speech response")
	}
	return audio, nil
}

// post sends body to url, retrying transient failures. A fresh request is
// built for every attempt so the body reader is never reused.
func (c *Client) post(ctx context.Context, op, url, apiKey string, body []byte, limit int64) ([]byte, error) {
	var out []byte
	err := withRetry(ctx, c.retry, op, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return fmt.Errorf("create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		raw, doErr := c.doRequest(req, url, limit)
		if doErr != nil {
			return doErr
		}
		out = raw
		return nil
	})
	return out, err
}

func (c *Client) doRequest(req *http.Request, url string, limit int64) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quote-agent/internal/domain"
)

// ---------------------------------------------------------------------------
// URL helpers
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

func TestModerationAndSpeechURL(t *testing.T) {
	require.Equal(t, "https://api.openai.com/v1/moderations", moderationURL(""))
	require.Equal(t, "http://localhost:8080/v1/moderations", moderationURL("http://localhost:8080"))
	require.Equal(t, "https://api.openai.com/v1/audio/speech", speechURL("https://api.openai.com/v1/"))
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/quote-agent")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/quote-agent/")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, "/quote-agent/open-ai-token", c.tokenParameterName())
}

func TestNewClient_PinnedKeyNeedsNoGetter(t *testing.T) {
	c, err := NewClient(nil, "", WithAPIKey(" sk-local "))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-local", key)
}

// ---------------------------------------------------------------------------
// resolveAPIKey: SSM caching behaviour
// ---------------------------------------------------------------------------

func TestResolveAPIKey_FetchedOnFirstCall(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/quote-agent")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, 1, calls)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

// ---------------------------------------------------------------------------
// fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestFetchAPIKey(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		want    string
		wantErr string
	}{
		{name: "json token", getter: &fakeGetter{val: `{"token":"sk-from-json"}`}, param: "/p/open-ai-token", want: "sk-from-json"},
		{name: "missing field", getter: &fakeGetter{val: `{"other":"value"}`}, param: "/p/open-ai-token", wantErr: "API token is empty"},
		{name: "malformed", getter: &fakeGetter{val: `{"broken`}, param: "/p/open-ai-token", wantErr: "unmarshal"},
		{name: "getter error", getter: &fakeGetter{err: errors.New("ssm unavailable")}, param: "/p/open-ai-token", wantErr: "ssm unavailable"},
		{name: "nil getter", getter: nil, param: "/p/open-ai-token", wantErr: "nil"},
		{name: "empty name", getter: &fakeGetter{val: `{"token":"x"}`}, param: " ", wantErr: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := fetchAPIKeyFromParamStore(context.Background(), tc.getter, tc.param)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, key)
		})
	}
}

// ---------------------------------------------------------------------------
// Client.Chat / ChatJSON / VisionChat
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/quote-agent",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}),
	)
	require.NoError(t, err)
	return c
}

const okChat = `{
	"id": "chatcmpl-123",
	"object": "chat.completion",
	"created": 1670000000,
	"choices": [{
		"index": 0,
		"message": { "role": "assistant", "content": "Hola desde el mock" }
	}]
}`

func TestClient_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NotContains(t, string(reqBody), "response_format")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okChat))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: "user", Content: "hola"}})
	require.NoError(t, err)
	require.Equal(t, "Hola desde el mock", resp)
}

func TestClient_ChatJSON_SendsSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(reqBody), `"response_format":{"type":"json_schema"`)
		require.Contains(t, string(reqBody), `"name":"sales_answer"`)
		require.Contains(t, string(reqBody), `"strict":true`)
		_, _ = w.Write([]byte(okChat))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	schema := Schema{Name: "sales_answer", Schema: json.RawMessage(`{"type":"object"}`)}
	_, err := c.ChatJSON(context.Background(), "gpt-mock", nil, schema)
	require.NoError(t, err)
}

func TestClient_VisionChat_InlinesImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []visionMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		parts := req.Messages[0].Content
		require.Len(t, parts, 2)
		require.Equal(t, "describe", parts[0].Text)
		require.Equal(t, "data:image/png;base64,AQID", parts[1].ImageURL.URL)
		_, _ = w.Write([]byte(okChat))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.VisionChat(context.Background(), "gpt-mock", "describe", "image/png", []byte{1, 2, 3}, nil)
	require.NoError(t, err)

	_, err = c.VisionChat(context.Background(), "gpt-mock", "describe", "image/png", nil, nil)
	require.Error(t, err)
}

func TestClient_Chat_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
	require.Contains(t, err.Error(), "400")

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 400, statusErr.HTTPStatusCode())
}

func TestClient_Chat_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Chat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.Error(t, err)
}

func TestClient_Chat_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/quote-agent")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_Chat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

// ---------------------------------------------------------------------------
// Retries
// ---------------------------------------------------------------------------

func TestClient_Chat_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(503)
			_, _ = w.Write([]byte(`{"error":"overloaded"}`))
			return
		}
		_, _ = w.Write([]byte(okChat))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.NoError(t, err)
	require.Equal(t, "Hola desde el mock", resp)
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_Chat_429GivesUpAfterPolicy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(429)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: "user", Content: "hola"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_Chat_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(401)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestRetryable(t *testing.T) {
	require.False(t, Retryable(nil))
	require.False(t, Retryable(context.Canceled))
	require.False(t, Retryable(errors.New("boom")))
	require.False(t, Retryable(&HTTPStatusError{StatusCode: 404}))
	require.True(t, Retryable(&HTTPStatusError{StatusCode: 429}))
	require.True(t, Retryable(&HTTPStatusError{StatusCode: 502}))
}

func TestWithRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := withRetry(ctx, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond}, "test", func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

// ---------------------------------------------------------------------------
// Client.Moderate
// ---------------------------------------------------------------------------

func TestClient_Moderate(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		flagged bool
		wantErr string
	}{
		{name: "not flagged", status: 200, body: `{"results":[{"flagged":false}]}`},
		{name: "flagged", status: 200, body: `{"results":[{"flagged":true}]}`, flagged: true},
		{name: "server error", status: 500, body: `{"error":"internal"}`, wantErr: "500"},
		{name: "malformed", status: 200, body: `not-json`, wantErr: "decode moderation response"},
		{name: "no results", status: 200, body: `{"results":[]}`, wantErr: "no results"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/moderations", r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			flagged, err := c.Moderate(context.Background(), "¿qué cubre el seguro?")
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.flagged, flagged)
		})
	}
}

func TestClient_Moderate_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/quote-agent",
		WithRetryPolicy(RetryPolicy{MaxAttempts: 1}))
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Moderate(context.Background(), "hola")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

// ---------------------------------------------------------------------------
// Client.Speech
// ---------------------------------------------------------------------------

func TestClient_Speech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/speech", r.URL.Path)
		var req speechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tts-mock", req.Model)
		require.Equal(t, "nova", req.Voice)
		require.Equal(t, "mp3", req.ResponseFormat)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	audio, err := c.Speech(context.Background(), "tts-mock", "nova", "Su póliza está lista.")
	require.NoError(t, err)
	require.Equal(t, []byte("ID3-fake-mp3"), audio)
}

func TestClient_Speech_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Speech(context.Background(), "tts-mock", "nova", "hola")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty speech response")

	_, err = c.Speech(context.Background(), "tts-mock", "nova", "  ")
	require.Error(t, err)

	_, err = c.Speech(context.Background(), "", "nova", "hola")
	require.Error(t, err)
}

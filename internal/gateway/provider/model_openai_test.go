package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"perpagent/internal/config"
)

func noSleep(context.Context, time.Duration) bool { return true }

func TestChatSendsOptionalFieldsAndDecodesToolCalls(t *testing.T) {
	var body []byte
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		headers = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"fetch_indicator","arguments":"{\"indicator\":\"rsi\"}"}}]}}]}`)
	}))
	defer srv.Close()

	c := NewFromConfig(config.AIConfig{
		Provider: "openrouter", APIURL: srv.URL + "/api/v1/chat/completions", APIKey: "sk-test-1234",
		Referer: "https://example.org", AppTitle: "perpagent", RequestTimeoutSeconds: 5,
	}, nil)
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:      "m",
		Messages:   []Message{{Role: RoleUser, Content: "hi"}},
		Tools:      []ToolDefinition{{Type: "function", Function: FunctionSpec{Name: "fetch_indicator", Parameters: map[string]any{"type": "object"}}}},
		ToolChoice: "auto",
		Reasoning:  map[string]any{"enabled": true, "effort": "high", "exclude": false},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test-1234", headers.Get("Authorization"))
	assert.Equal(t, "https://example.org", headers.Get("HTTP-Referer"))
	assert.Equal(t, "perpagent", headers.Get("X-Title"))

	doc := gjson.ParseBytes(body)
	assert.Equal(t, "auto", doc.Get("tool_choice").String())
	assert.Equal(t, "high", doc.Get("reasoning.effort").String())
	assert.False(t, doc.Get("response_format").Exists())
	assert.False(t, doc.Get("provider").Exists())
	assert.False(t, doc.Get("temperature").Exists())

	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, `{"indicator":"rsi"}`, resp.Message.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "", resp.Message.Content)
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestChatDecodesParsedAndContentParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}],"parsed":{"trade_decisions":[]}}}]}`)
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL}
	resp, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Message.Content)
	assert.JSONEq(t, `{"trade_decisions":[]}`, string(resp.Message.Parsed))
	assert.Equal(t, RoleAssistant, resp.Message.AsMessage().Role)
}

func TestChatRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, MaxRetries: 2, sleep: noSleep}
	resp, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestChatReturnsAPIErrorWithMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"message":  "Provider returned error",
			"metadata": map[string]any{"raw": "Failed to deserialize the JSON body", "provider_name": "xAI"},
		}})
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, MaxRetries: 2, sleep: noSleep}
	_, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 422, apiErr.StatusCode)
	assert.Equal(t, "xAI", apiErr.ProviderName)
	assert.True(t, apiErr.RejectsTools())
	assert.True(t, apiErr.RejectsStructuredOutput())
}

func TestChatTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := &OpenAIChatClient{BaseURL: url}
	_, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	_, ok := AsAPIError(err)
	assert.False(t, ok)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3", 0))
	assert.Equal(t, 800*time.Millisecond, retryAfter("", 0))
	assert.Equal(t, 1600*time.Millisecond, retryAfter("bogus", 1))
	assert.Equal(t, 8*time.Second, retryAfter("", 6))
}

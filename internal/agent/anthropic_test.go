package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicAgentToolLoop(t *testing.T) {
	t.Parallel()
	tb := newTestToolbox(t, 10)

	var round atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, SystemPrompt, req.System)
		assert.Equal(t, 512, req.MaxTokens)

		switch round.Add(1) {
		case 1:
			require.Len(t, req.Messages, 1)
			assert.Equal(t, "the prompt", req.Messages[0].Content[0].Text)
			_, _ = w.Write([]byte(`{"stop_reason":"tool_use","content":[
				{"type":"text","text":"Let me look."},
				{"type":"tool_use","id":"toolu_1","name":"list_tables","input":{}}]}`))
		case 2:
			require.Len(t, req.Messages, 3)
			assert.Equal(t, "assistant", req.Messages[1].Role)
			result := req.Messages[2].Content[0]
			assert.Equal(t, "tool_result", result.Type)
			assert.Equal(t, "toolu_1", result.ToolUseID)
			assert.Contains(t, result.Content, "activity")
			_, _ = w.Write([]byte(`{"stop_reason":"end_turn","content":[{"type":"text","text":"There is one table."}]}`))
		default:
			t.Errorf("unexpected round %d", round.Load())
		}
	}))
	defer server.Close()

	a := NewAnthropicAgent(Options{APIKey: "test-key", Model: "claude", BaseURL: server.URL, MaxTokens: 512}, tb)
	got, err := a.Answer(context.Background(), "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "There is one table.", got)
}

func TestAnthropicAgentAPIError(t *testing.T) {
	t.Parallel()
	tb := newTestToolbox(t, 10)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	a := NewAnthropicAgent(Options{APIKey: "k", Model: "m", BaseURL: server.URL}, tb)
	_, err := a.Answer(context.Background(), "q")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
	assert.Contains(t, err.Error(), "slow down")
}

func TestAnthropicAgentToolErrorFlagged(t *testing.T) {
	t.Parallel()
	tb := newTestToolbox(t, 10)

	var round atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if round.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"content":[{"type":"tool_use","id":"t1","name":"run_sql","input":{"query":"DROP TABLE activity"}}]}`))
			return
		}
		result := req.Messages[2].Content[0]
		assert.True(t, result.IsError)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"I can only read data."}]}`))
	}))
	defer server.Close()

	a := NewAnthropicAgent(Options{APIKey: "k", Model: "m", BaseURL: server.URL}, tb)
	got, err := a.Answer(context.Background(), "drop it")
	require.NoError(t, err)
	assert.Equal(t, "I can only read data.", got)
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alb4don/RPGAgentArena/pkg/config"
	"github.com/Alb4don/RPGAgentArena/pkg/credentials"
	"github.com/Alb4don/RPGAgentArena/pkg/errors"
)

func successBody(text string) map[string]interface{} {
	return map[string]interface{}{
		"id":    "msg_test",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-sonnet-4-5",
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
		"usage": map[string]interface{}{
			"input_tokens":  12,
			"output_tokens": 7,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(errType string) map[string]interface{} {
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    errType,
			"message": "synthetic failure",
		},
	}
}

func newTestClient(t *testing.T, serverURL string, maxAttempts, numKeys int) (*Client, *credentials.Pool, *[]time.Duration) {
	t.Helper()

	// Transient failures cool the failing key down, so a retrying test
	// needs one fresh key per expected attempt.
	creds := make([]config.CredentialConfig, 0, numKeys)
	for i := 0; i < numKeys; i++ {
		creds = append(creds, config.CredentialConfig{
			Alias: fmt.Sprintf("key_%d", i), APIKey: fmt.Sprintf("sk-test-%d", i),
			Provider: "anthropic", MonthlyBudgetUSD: 10,
			CostPer1KInput: 0.015, CostPer1KOutput: 0.075,
		})
	}
	pool, err := credentials.NewPool(creds)
	require.NoError(t, err)

	cfg := config.LLMConfig{
		ModelID: "claude-sonnet-4-5",
		BaseURL: serverURL,
		Timeout: config.Duration(5 * time.Second),
		Retry: config.RetryConfig{
			MaxAttempts: maxAttempts,
			BaseDelay:   config.Duration(time.Millisecond),
			MaxJitter:   config.Duration(time.Millisecond),
		},
		Generation: config.GenerationConfig{MaxTokens: 512, Temperature: 0.85},
	}

	client := NewClient(pool, cfg)
	var sleeps []time.Duration
	client.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return client, pool, &sleeps
}

func TestCompleteSuccess(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		writeJSON(w, http.StatusOK, successBody("I hold my ground. ACTION: defend"))
	}))
	defer server.Close()

	client, pool, _ := newTestClient(t, server.URL, 4, 1)

	resp, err := client.Complete(context.Background(), Request{
		System:      "You are a fighter.",
		Messages:    []Message{{Role: RoleUser, Content: "What do you do?"}},
		MaxTokens:   350,
		Temperature: 0.87,
	})
	require.NoError(t, err)

	assert.Equal(t, "I hold my ground. ACTION: defend", resp.Text)
	assert.Equal(t, int64(12), resp.TokensIn)
	assert.Equal(t, int64(7), resp.TokensOut)
	assert.Equal(t, "key_0", resp.CredentialAlias)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// Usage fed back into the pool.
	summaries := pool.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(12), summaries[0].TokensIn)
	assert.Equal(t, int64(7), summaries[0].TokensOut)
}

func TestCompleteRetriesTransientThenSucceeds(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n == 1 {
			writeJSON(w, http.StatusInternalServerError, errorBody("api_error"))
			return
		}
		writeJSON(w, http.StatusOK, successBody("Recovered."))
	}))
	defer server.Close()

	client, _, sleeps := newTestClient(t, server.URL, 4, 2)

	resp, err := client.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", resp.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	assert.Len(t, *sleeps, 1, "one backoff sleep between attempts")
}

func TestCompleteFatalNotRetried(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request_error"))
	}))
	defer server.Close()

	client, _, sleeps := newTestClient(t, server.URL, 4, 1)

	_, err := client.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
		MaxTokens: 100,
	})
	require.Error(t, err)

	var customErr *errors.Error
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, errors.LLMGenerationFailed, customErr.Code())
	assert.Equal(t, 400, customErr.Fields()["status"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	assert.Empty(t, *sleeps)
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		writeJSON(w, http.StatusServiceUnavailable, errorBody("overloaded_error"))
	}))
	defer server.Close()

	client, _, sleeps := newTestClient(t, server.URL, 3, 3)

	_, err := client.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
		MaxTokens: 100,
	})
	require.Error(t, err)

	var customErr *errors.Error
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, errors.LLMGenerationFailed, customErr.Code())
	assert.Equal(t, 3, customErr.Fields()["attempts"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	assert.Len(t, *sleeps, 3)

	// Backoff grows geometrically (modulo jitter below 1ms).
	s := *sleeps
	assert.GreaterOrEqual(t, s[1], s[0])
	assert.GreaterOrEqual(t, s[2], s[1])
}

func TestCompleteMalformedPayloadFatal(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		body := successBody("ignored")
		body["content"] = []map[string]interface{}{}
		writeJSON(w, http.StatusOK, body)
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server.URL, 4, 1)

	_, err := client.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
		MaxTokens: 100,
	})
	require.Error(t, err)

	var customErr *errors.Error
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, errors.InvalidResponse, customErr.Code())
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "shape errors are not retried")
}

func TestCompleteThinkingModeExcludesTemperature(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		writeJSON(w, http.StatusOK, successBody("*thinks*"))
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server.URL, 4, 1)

	_, err := client.Complete(context.Background(), Request{
		Messages:       []Message{{Role: RoleUser, Content: "hello"}},
		MaxTokens:      700,
		Temperature:    0.9,
		Thinking:       true,
		ThinkingBudget: 5000,
	})
	require.NoError(t, err)

	require.NotNil(t, captured)
	_, hasTemperature := captured["temperature"]
	assert.False(t, hasTemperature, "thinking mode substitutes the budget for temperature")

	thinking, ok := captured["thinking"].(map[string]interface{})
	require.True(t, ok)
	// Budget clamps to max_tokens - 100.
	assert.InDelta(t, 600, thinking["budget_tokens"], 0.1)
}

func TestCompleteSurfacesPoolExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, successBody("unused"))
	}))
	defer server.Close()

	client, pool, _ := newTestClient(t, server.URL, 4, 1)
	pool.Deactivate("key_0")

	_, err := client.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
		MaxTokens: 100,
	})
	require.Error(t, err)

	var customErr *errors.Error
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, errors.CredentialsUnavailable, customErr.Code())
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package openrouter_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/internal/provider/openrouter"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionJSON = `{
  "id": "gen-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "anthropic/claude-sonnet-4.5",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Routed hello", "reasoning": "thought about it"}}],
  "usage": {"prompt_tokens": 11, "completion_tokens": 6, "total_tokens": 17}
}`

const streamBody = `data: {"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[{"index":0,"delta":{"role":"assistant","content":"","reasoning":"step one"}}]}

: OPENROUTER PROCESSING

data: {"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[{"index":0,"delta":{"content":"Done","reasoning":null}}]}

data: {"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"anthropic/claude-sonnet-4.5","choices":[],"usage":{"prompt_tokens":11,"completion_tokens":3,"total_tokens":14}}

data: [DONE]

`

func newBackend(t *testing.T, handler http.HandlerFunc) *openrouter.Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := openrouter.New(openrouter.Config{APIKey: "or-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return b
}

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := openrouter.New(openrouter.Config{})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderCredentialMissing))
}

func TestNew_Defaults(t *testing.T) {
	b, err := openrouter.New(openrouter.Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, provider.TagOpenRouter, b.Tag())
	assert.Equal(t, "anthropic/claude-sonnet-4-5", b.Model())
}

func TestBuildParams(t *testing.T) {
	p := openrouter.BuildParams("meta/llama", provider.Call{Prompt: "hi", MaxTokens: 99})
	assert.Equal(t, int64(99), p.MaxTokens.Value)
	assert.False(t, p.Temperature.Valid())
	assert.Empty(t, p.ReasoningEffort, "reasoning is sent as a budget, not a tier")
}

func TestSend_WithReasoning(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))
		assert.Equal(t, "omnigate", r.Header.Get("X-Title"))
		raw, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(raw), `"reasoning":{"max_tokens":1024}`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	})

	resp, err := b.Send(context.Background(), provider.Call{Prompt: "hi", Thinking: provider.NewThinking(provider.EffortLow)})
	require.NoError(t, err)
	assert.Equal(t, "Routed hello", resp.Content)
	assert.Equal(t, "thought about it", resp.Thinking)
	assert.Equal(t, "anthropic/claude-sonnet-4.5", resp.Model)
	assert.Equal(t, provider.Usage{InputTokens: 11, OutputTokens: 6}, resp.Usage)
}

func TestSend_WithoutReasoningOmitsField(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(raw), `"reasoning"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	})

	_, err := b.Send(context.Background(), provider.Call{Prompt: "hi"})
	require.NoError(t, err)
}

func TestSend_RateLimited(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "4")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","code":429}}`)
	})

	_, err := b.Send(context.Background(), provider.Call{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderRateLimited))
	assert.True(t, provider.IsTransient(err))
}

func TestStream_ReasoningThenText(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, streamBody)
	})

	s, err := b.Stream(context.Background(), provider.Call{Prompt: "hi", Thinking: provider.NewThinking(provider.EffortLow)})
	require.NoError(t, err)
	resp, err := provider.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Done", resp.Content)
	assert.Equal(t, "step one", resp.Thinking)
	assert.Equal(t, provider.TagOpenRouter, resp.Provider)
	assert.Equal(t, provider.Usage{InputTokens: 11, OutputTokens: 3}, resp.Usage)
}

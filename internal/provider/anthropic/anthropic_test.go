// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package anthropic_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/internal/provider/anthropic"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messageJSON = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5-20250929",
  "content": [
    {"type": "thinking", "thinking": "considering", "signature": "sig"},
    {"type": "text", "text": "Hello there"}
  ],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 12, "output_tokens": 5}
}`

const streamBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","model":"claude-sonnet-4-5-20250929","content":[],"usage":{"input_tokens":12,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: ping
data: {"type":"ping"}

event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hel"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"lo"}}

event: content_block_stop
data: {"type":"content_block_stop","index":1}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":9}}

event: message_stop
data: {"type":"message_stop"}

`

func newBackend(t *testing.T, handler http.HandlerFunc) *anthropic.Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := anthropic.New(anthropic.Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return b
}

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := anthropic.New(anthropic.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderCredentialMissing))
}

func TestNew_DefaultModel(t *testing.T) {
	b, err := anthropic.New(anthropic.Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, provider.TagAnthropic, b.Tag())
	assert.Equal(t, provider.DefaultModels[provider.TagAnthropic], b.Model())
}

func TestBuildParams(t *testing.T) {
	temp := 0.4

	t.Run("plain", func(t *testing.T) {
		p := anthropic.BuildParams("claude-x", provider.Call{Prompt: "hi", MaxTokens: 100, Temperature: &temp})
		assert.Equal(t, "claude-x", string(p.Model))
		assert.Equal(t, int64(100), p.MaxTokens)
		require.Len(t, p.Messages, 1)
		assert.True(t, p.Temperature.Valid())
		assert.InDelta(t, 0.4, p.Temperature.Value, 1e-9)
		assert.Nil(t, p.Thinking.OfEnabled)
	})

	t.Run("default max tokens", func(t *testing.T) {
		p := anthropic.BuildParams("claude-x", provider.Call{Prompt: "hi"})
		assert.Equal(t, int64(provider.DefaultMaxTokens), p.MaxTokens)
	})

	t.Run("thinking raises max tokens and drops temperature", func(t *testing.T) {
		p := anthropic.BuildParams("claude-x", provider.Call{
			Prompt:      "hi",
			MaxTokens:   1000,
			Temperature: &temp,
			Thinking:    provider.NewThinking(provider.EffortMedium),
		})
		require.NotNil(t, p.Thinking.OfEnabled)
		assert.Equal(t, int64(4096), p.Thinking.OfEnabled.BudgetTokens)
		assert.Greater(t, p.MaxTokens, int64(4096))
		assert.False(t, p.Temperature.Valid())
	})
}

func TestSend(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, messageJSON)
	})

	resp, err := b.Send(context.Background(), provider.Call{Prompt: "hi", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, "considering", resp.Thinking)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, provider.Usage{InputTokens: 12, OutputTokens: 5}, resp.Usage)

	body := <-bodies
	assert.Equal(t, float64(64), body["max_tokens"])
	assert.Equal(t, "claude-sonnet-4-5", body["model"])
}

func TestSend_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		code   omnierr.Code
	}{
		{http.StatusTooManyRequests, omnierr.CodeProviderRateLimited},
		{529, omnierr.CodeProviderUnavailable},
		{http.StatusInternalServerError, omnierr.CodeProviderUnavailable},
		{http.StatusBadRequest, omnierr.CodeProviderUpstreamRejected},
		{http.StatusUnauthorized, omnierr.CodeProviderUpstreamRejected},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"nope"}}`)
			})

			_, err := b.Send(context.Background(), provider.Call{Prompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.code, omnierr.CodeOf(err))
			assert.Equal(t, int32(1), calls.Load(), "sdk retries are disabled")
			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, 2*time.Second, provider.RetryAfterOf(err))
			}
		})
	}
}

func TestStream(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(raw), `"stream":true`)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, streamBody)
	})

	s, err := b.Stream(context.Background(), provider.Call{Prompt: "hi", Thinking: provider.NewThinking(provider.EffortLow)})
	require.NoError(t, err)

	var kinds []provider.ChunkType
	var chunks []provider.StreamChunk
	for s.Next() {
		chunks = append(chunks, s.Current())
		kinds = append(kinds, s.Current().Type)
	}
	require.NoError(t, s.Err())
	require.NoError(t, s.Close())

	assert.Equal(t, provider.ChunkMessageStart, kinds[0])
	assert.Equal(t, "claude-sonnet-4-5-20250929", chunks[0].Model)
	assert.Equal(t, provider.ChunkMessageStop, kinds[len(kinds)-1])

	var text, thinking strings.Builder
	var usage *provider.Usage
	for _, c := range chunks {
		if c.Delta != nil {
			text.WriteString(c.Delta.Text)
			thinking.WriteString(c.Delta.Thinking)
		}
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	assert.Equal(t, "Hello", text.String())
	assert.Equal(t, "hmm", thinking.String())
	require.NotNil(t, usage)
	assert.Equal(t, provider.Usage{InputTokens: 12, OutputTokens: 9}, *usage)
}

func TestStream_HTTPErrorSurfacesOnFirstNext(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	})

	s, err := b.Stream(context.Background(), provider.Call{Prompt: "hi"})
	require.NoError(t, err)
	assert.False(t, s.Next())
	require.Error(t, s.Err())
	assert.True(t, omnierr.HasCode(s.Err(), omnierr.CodeProviderUnavailable))
	require.NoError(t, s.Close())
}

func TestStream_InBandOverloadIsUnavailable(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	})

	s, err := b.Stream(context.Background(), provider.Call{Prompt: "hi"})
	require.NoError(t, err)
	assert.False(t, s.Next())
	assert.True(t, omnierr.HasCode(s.Err(), omnierr.CodeProviderUnavailable))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider

import (
	"context"
	"math"
	"strings"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/omnigate-dev/omnigate/pkg/health"
)

// Tag identifies an upstream LLM provider.
type Tag string

const (
	TagAnthropic  Tag = "anthropic"
	TagOpenAI     Tag = "openai"
	TagGoogle     Tag = "google"
	TagOpenRouter Tag = "openrouter"
)

// KnownTags lists every supported provider in declaration order.
var KnownTags = []Tag{TagAnthropic, TagOpenAI, TagGoogle, TagOpenRouter}

func (t Tag) String() string { return string(t) }

// Known reports whether t is one of KnownTags.
func (t Tag) Known() bool {
	for _, k := range KnownTags {
		if k == t {
			return true
		}
	}
	return false
}

// ParseTag normalises s and checks it against KnownTags.
func ParseTag(s string) (Tag, error) {
	t := Tag(strings.ToLower(strings.TrimSpace(s)))
	if !t.Known() {
		return "", omnierr.New(omnierr.CodeProviderNotFound,
			"unknown provider "+strings.TrimSpace(s), omnierr.FieldProvider(s))
	}
	return t, nil
}

// Request is one prompt submitted through the gateway.
type Request struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Thinking    bool     `json:"thinking,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	// Provider, when set, is tried first for this request only.
	Provider Tag `json:"provider,omitempty"`
}

// DefaultMaxTokens is used when a request leaves MaxTokens unset.
const DefaultMaxTokens = 4096

// Validate checks the fields a caller controls.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return omnierr.New(omnierr.CodeProviderRequestInvalid, "prompt must not be empty")
	}
	if r.MaxTokens < 0 {
		return omnierr.Errorf(omnierr.CodeProviderRequestInvalid, "maxTokens must not be negative, got %d", r.MaxTokens)
	}
	if r.MaxTokens > math.MaxInt32 {
		return omnierr.Errorf(omnierr.CodeProviderRequestInvalid, "maxTokens must not exceed %d, got %d", math.MaxInt32, r.MaxTokens)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return omnierr.Errorf(omnierr.CodeProviderRequestInvalid, "temperature must be between 0 and 2, got %g", *r.Temperature)
	}
	if r.Provider != "" && !r.Provider.Known() {
		return omnierr.New(omnierr.CodeProviderNotEnabled,
			"unknown provider "+string(r.Provider), omnierr.FieldProvider(string(r.Provider)))
	}
	return nil
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Response is a completed, non-streamed answer.
type Response struct {
	Content  string         `json:"content"`
	Thinking string         `json:"thinking,omitempty"`
	Usage    Usage          `json:"usage"`
	Provider Tag            `json:"provider"`
	Model    string         `json:"model"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SetMetadata sets key, allocating the map on first use.
func (r *Response) SetMetadata(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Metadata keys set on responses.
const (
	MetaFallbackUsed      = "fallback_used"
	MetaRequestedProvider = "requested_provider"
	MetaActualProvider    = "actual_provider"
	MetaAttempts          = "attempts"
	MetaWarnings          = "warnings"
)

// ChunkType discriminates streamed chunks.
type ChunkType string

const (
	ChunkMessageStart      ChunkType = "message_start"
	ChunkContentBlockStart ChunkType = "content_block_start"
	ChunkContentBlockDelta ChunkType = "content_block_delta"
	ChunkContentBlockStop  ChunkType = "content_block_stop"
	ChunkMessageDelta      ChunkType = "message_delta"
	ChunkMessageStop       ChunkType = "message_stop"
)

// Delta carries incremental text or reasoning trace.
type Delta struct {
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// StreamChunk is one incremental event of a streamed answer.
type StreamChunk struct {
	Type     ChunkType `json:"type"`
	Index    int       `json:"index"`
	Delta    *Delta    `json:"delta,omitempty"`
	Usage    *Usage    `json:"usage,omitempty"`
	Model    string    `json:"model,omitempty"`
	Provider Tag       `json:"provider"`
}

// Stream is a finite, single-pass sequence of chunks. Callers must call
// Close when they stop pulling early; Close releases the upstream
// connection and is safe to call more than once.
type Stream interface {
	Next() bool
	Current() StreamChunk
	Err() error
	Close() error
}

// Call is a Request resolved for one upstream attempt.
type Call struct {
	Prompt      string
	MaxTokens   int64
	Temperature *float64
	// Thinking is nil when reasoning was not requested or was dropped.
	Thinking *Thinking
}

// Backend performs raw upstream calls for one vendor. Errors must already
// be classified with Classify.
type Backend interface {
	Tag() Tag
	Model() string
	Send(ctx context.Context, call Call) (*Response, error)
	Stream(ctx context.Context, call Call) (Stream, error)
}

// Client is the capability set the adapter routes over.
type Client interface {
	Tag() Tag
	Model() string
	Send(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (Stream, error)
	HealthCheck(ctx context.Context) health.Status
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/omnigate-dev/omnigate/internal/provider"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/respjson"
	"github.com/openai/openai-go/shared"
)

const baseURL = "https://openrouter.ai/api/v1"

// appTitle is sent as X-Title so requests are attributed on openrouter.ai.
const appTitle = "omnigate"

// Config holds OpenRouter backend configuration.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // optional, useful for testing against a mock server
	HTTPClient *http.Client
}

// Backend implements provider.Backend using OpenRouter's OpenAI-compatible API.
type Backend struct {
	client openaisdk.Client
	model  string
}

var _ provider.Backend = (*Backend)(nil)

// New creates a new OpenRouter backend. Returns an error if the API key is missing.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.MissingCredential(provider.TagOpenRouter)
	}
	if cfg.Model == "" {
		cfg.Model = provider.DefaultModels[provider.TagOpenRouter]
	}

	base := baseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
		option.WithHeader("X-Title", appTitle),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Backend{client: openaisdk.NewClient(opts...), model: cfg.Model}, nil
}

func (b *Backend) Tag() provider.Tag { return provider.TagOpenRouter }

func (b *Backend) Model() string { return b.model }

func (b *Backend) Send(ctx context.Context, call provider.Call) (*provider.Response, error) {
	completion, err := b.client.Chat.Completions.New(ctx, buildParams(b.model, call), requestOptions(call)...)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, omnierr.New(omnierr.CodeProviderResponseInvalid, "openrouter: completion has no choices",
			omnierr.FieldProvider(string(provider.TagOpenRouter)))
	}

	msg := completion.Choices[0].Message
	return &provider.Response{
		Content:  msg.Content,
		Thinking: reasoningText(msg.JSON.ExtraFields),
		Model:    completion.Model,
		Usage: provider.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

func (b *Backend) Stream(ctx context.Context, call provider.Call) (provider.Stream, error) {
	params := buildParams(b.model, call)
	params.StreamOptions = openaisdk.ChatCompletionStreamOptionsParam{
		IncludeUsage: openaisdk.Bool(true),
	}
	stream := b.client.Chat.Completions.NewStreaming(ctx, params, requestOptions(call)...)

	fill := func(n *provider.Normalizer) (bool, error) {
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				return false, classify(err)
			}
			return false, nil
		}

		chunk := stream.Current()
		n.SetModel(chunk.Model)
		for _, choice := range chunk.Choices {
			n.Thinking(reasoningText(choice.Delta.JSON.ExtraFields))
			n.Text(choice.Delta.Content)
		}
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			n.Usage(provider.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			})
		}
		return true, nil
	}

	return provider.NewPullStream(provider.NewNormalizer(provider.TagOpenRouter, b.model), fill, stream.Close), nil
}

// buildParams converts a provider.Call into the OpenAI-compatible request body.
func buildParams(model string, call provider.Call) openaisdk.ChatCompletionNewParams {
	maxTokens := call.MaxTokens
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	params := openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(call.Prompt),
		},
		MaxTokens: openaisdk.Int(maxTokens),
	}
	if call.Temperature != nil {
		params.Temperature = openaisdk.Float(*call.Temperature)
	}
	return params
}

// requestOptions adds OpenRouter's unified reasoning field, which the
// OpenAI request type does not model.
func requestOptions(call provider.Call) []option.RequestOption {
	if call.Thinking == nil {
		return nil
	}
	return []option.RequestOption{
		option.WithJSONSet("reasoning", map[string]any{"max_tokens": call.Thinking.BudgetTokens}),
	}
}

// reasoningText extracts the non-standard "reasoning" field OpenRouter
// adds to messages and deltas.
func reasoningText(extra map[string]respjson.Field) string {
	f, ok := extra["reasoning"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(f.Raw()), &s); err != nil {
		return ""
	}
	return s
}

// classify maps SDK errors onto the provider taxonomy.
func classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return provider.Classify(provider.TagOpenRouter, apiErr.StatusCode, provider.ParseRetryAfter(header), err)
	}
	return provider.Classify(provider.TagOpenRouter, 0, 0, err)
}

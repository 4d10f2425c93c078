// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/omnigate-dev/omnigate/internal/provider"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Config holds OpenAI backend configuration.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // optional, useful for testing against a mock server
	HTTPClient *http.Client
}

// Backend implements provider.Backend using the OpenAI Chat Completions API.
type Backend struct {
	client openaisdk.Client
	model  string
}

var _ provider.Backend = (*Backend)(nil)

// New creates a new OpenAI backend. Returns an error if the API key is missing.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.MissingCredential(provider.TagOpenAI)
	}
	if cfg.Model == "" {
		cfg.Model = provider.DefaultModels[provider.TagOpenAI]
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Backend{client: openaisdk.NewClient(opts...), model: cfg.Model}, nil
}

func (b *Backend) Tag() provider.Tag { return provider.TagOpenAI }

func (b *Backend) Model() string { return b.model }

func (b *Backend) Send(ctx context.Context, call provider.Call) (*provider.Response, error) {
	completion, err := b.client.Chat.Completions.New(ctx, buildParams(b.model, call))
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, omnierr.New(omnierr.CodeProviderResponseInvalid, "openai: completion has no choices",
			omnierr.FieldProvider(string(provider.TagOpenAI)))
	}

	return &provider.Response{
		Content: completion.Choices[0].Message.Content,
		Model:   completion.Model,
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
	stream := b.client.Chat.Completions.NewStreaming(ctx, params)

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

	return provider.NewPullStream(provider.NewNormalizer(provider.TagOpenAI, b.model), fill, stream.Close), nil
}

var reasoningEfforts = map[provider.Effort]shared.ReasoningEffort{
	provider.EffortLow:    shared.ReasoningEffortLow,
	provider.EffortMedium: shared.ReasoningEffortMedium,
	provider.EffortHigh:   shared.ReasoningEffortHigh,
}

// buildParams converts a provider.Call into OpenAI SDK ChatCompletionNewParams.
// OpenAI exposes reasoning as a tier rather than a token budget.
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
		MaxCompletionTokens: openaisdk.Int(maxTokens),
	}
	if call.Temperature != nil {
		params.Temperature = openaisdk.Float(*call.Temperature)
	}
	if call.Thinking != nil {
		effort, ok := reasoningEfforts[call.Thinking.Effort]
		if !ok {
			effort = shared.ReasoningEffortMedium
		}
		params.ReasoningEffort = effort
	}
	return params
}

// classify maps SDK errors onto the provider taxonomy.
func classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return provider.Classify(provider.TagOpenAI, apiErr.StatusCode, provider.ParseRetryAfter(header), err)
	}
	return provider.Classify(provider.TagOpenAI, 0, 0, err)
}

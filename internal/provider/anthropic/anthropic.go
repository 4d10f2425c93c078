// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/omnigate-dev/omnigate/internal/provider"
)

// Config holds Anthropic backend configuration.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // optional, useful for testing against a mock server
	HTTPClient *http.Client
}

// Backend implements provider.Backend using the Anthropic Messages API.
type Backend struct {
	client anthropicsdk.Client
	model  string
}

var _ provider.Backend = (*Backend)(nil)

// New creates a new Anthropic backend. Returns an error if the API key is missing.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.MissingCredential(provider.TagAnthropic)
	}
	if cfg.Model == "" {
		cfg.Model = provider.DefaultModels[provider.TagAnthropic]
	}

	// Retries belong to provider.RetryingClient.
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

	return &Backend{
		client: anthropicsdk.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

func (b *Backend) Tag() provider.Tag { return provider.TagAnthropic }

func (b *Backend) Model() string { return b.model }

func (b *Backend) Send(ctx context.Context, call provider.Call) (*provider.Response, error) {
	msg, err := b.client.Messages.New(ctx, buildParams(b.model, call))
	if err != nil {
		return nil, classify(err)
	}

	var text, thinking strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}
	return &provider.Response{
		Content:  text.String(),
		Thinking: thinking.String(),
		Model:    string(msg.Model),
		Usage: provider.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

func (b *Backend) Stream(ctx context.Context, call provider.Call) (provider.Stream, error) {
	stream := b.client.Messages.NewStreaming(ctx, buildParams(b.model, call))

	var usage provider.Usage
	fill := func(n *provider.Normalizer) (bool, error) {
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				return false, classify(err)
			}
			return false, nil
		}

		event := stream.Current()
		switch event.Type {
		case "message_start":
			n.SetModel(string(event.Message.Model))
			usage.InputTokens = event.Message.Usage.InputTokens
			usage.OutputTokens = event.Message.Usage.OutputTokens
			n.Usage(usage)
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				n.Text(event.Delta.Text)
			case "thinking_delta":
				n.Thinking(event.Delta.Thinking)
			}
		case "message_delta":
			// message_delta carries cumulative output usage; input tokens
			// only arrive on message_start.
			if event.Usage.InputTokens > 0 {
				usage.InputTokens = event.Usage.InputTokens
			}
			usage.OutputTokens = event.Usage.OutputTokens
			n.Usage(usage)
		case "message_stop":
			return false, nil
		}
		return true, nil
	}

	return provider.NewPullStream(provider.NewNormalizer(provider.TagAnthropic, b.model), fill, stream.Close), nil
}

// buildParams converts a provider.Call into Anthropic SDK MessageNewParams.
func buildParams(model string, call provider.Call) anthropicsdk.MessageNewParams {
	maxTokens := call.MaxTokens
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model: anthropicsdk.Model(model),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(call.Prompt)),
		},
	}

	if call.Thinking != nil {
		// The budget counts against max_tokens, and extended thinking
		// does not accept a custom temperature.
		budget := call.Thinking.BudgetTokens
		if maxTokens <= budget {
			maxTokens += budget
		}
		params.Thinking = anthropicsdk.ThinkingConfigParamOfEnabled(budget)
	} else if call.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*call.Temperature)
	}
	params.MaxTokens = maxTokens

	return params
}

// classify maps SDK errors onto the provider taxonomy.
func classify(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return provider.Classify(provider.TagAnthropic, apiErr.StatusCode, provider.ParseRetryAfter(header), err)
	}
	// Errors sent inside an open stream carry no status.
	if strings.Contains(err.Error(), "overloaded_error") {
		return provider.Classify(provider.TagAnthropic, 529, 0, err)
	}
	return provider.Classify(provider.TagAnthropic, 0, 0, err)
}

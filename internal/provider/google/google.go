// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package google

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/omnigate-dev/omnigate/internal/provider"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"google.golang.org/genai"
)

// Config holds Google backend configuration.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // optional, useful for testing against a mock server
	HTTPClient *http.Client
}

// Backend implements provider.Backend using the Google Gemini API.
type Backend struct {
	client *genai.Client
	model  string
}

var _ provider.Backend = (*Backend)(nil)

// New creates a new Google backend. Returns an error if the API key is missing.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.MissingCredential(provider.TagGoogle)
	}
	if cfg.Model == "" {
		cfg.Model = provider.DefaultModels[provider.TagGoogle]
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, omnierr.Wrap(err, omnierr.CodeProviderRequestInvalid, "google: creating client",
			omnierr.FieldProvider(string(provider.TagGoogle)))
	}

	return &Backend{client: client, model: cfg.Model}, nil
}

func (b *Backend) Tag() provider.Tag { return provider.TagGoogle }

func (b *Backend) Model() string { return b.model }

func (b *Backend) Send(ctx context.Context, call provider.Call) (*provider.Response, error) {
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(call.Prompt), buildConfig(call))
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, omnierr.New(omnierr.CodeProviderResponseInvalid, "google: response has no candidates",
			omnierr.FieldProvider(string(provider.TagGoogle)))
	}

	var text, thinking strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Thought {
			thinking.WriteString(part.Text)
		} else {
			text.WriteString(part.Text)
		}
	}

	out := &provider.Response{
		Content:  text.String(),
		Thinking: thinking.String(),
		Model:    resp.ModelVersion,
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = provider.Usage{
			InputTokens:  int64(u.PromptTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount) + int64(u.ThoughtsTokenCount),
		}
	}
	return out, nil
}

func (b *Backend) Stream(ctx context.Context, call provider.Call) (provider.Stream, error) {
	seq := b.client.Models.GenerateContentStream(ctx, b.model, genai.Text(call.Prompt), buildConfig(call))
	next, stop := iter.Pull2(seq)

	fill := func(n *provider.Normalizer) (bool, error) {
		resp, err, ok := next()
		if !ok {
			return false, nil
		}
		if err != nil {
			return false, classify(err)
		}
		if resp == nil {
			return true, nil
		}

		n.SetModel(resp.ModelVersion)
		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			for _, part := range resp.Candidates[0].Content.Parts {
				if part == nil {
					continue
				}
				if part.Thought {
					n.Thinking(part.Text)
				} else {
					n.Text(part.Text)
				}
			}
		}
		if u := resp.UsageMetadata; u != nil {
			n.Usage(provider.Usage{
				InputTokens:  int64(u.PromptTokenCount),
				OutputTokens: int64(u.CandidatesTokenCount) + int64(u.ThoughtsTokenCount),
			})
		}
		return true, nil
	}

	closeFn := func() error {
		stop()
		return nil
	}
	return provider.NewPullStream(provider.NewNormalizer(provider.TagGoogle, b.model), fill, closeFn), nil
}

// buildConfig converts a provider.Call into a GenerateContentConfig.
func buildConfig(call provider.Call) *genai.GenerateContentConfig {
	maxTokens := call.MaxTokens
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if call.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*call.Temperature))
	}
	if call.Thinking != nil {
		// Gemini counts thoughts against the output limit.
		cfg.MaxOutputTokens += int32(call.Thinking.BudgetTokens)
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(call.Thinking.BudgetTokens)),
		}
	}
	return cfg
}

// classify maps SDK errors onto the provider taxonomy.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.Classify(provider.TagGoogle, apiErr.Code, retryDelay(apiErr.Details), err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return provider.Classify(provider.TagGoogle, apiErrPtr.Code, retryDelay(apiErrPtr.Details), err)
	}
	return provider.Classify(provider.TagGoogle, 0, 0, err)
}

// retryDelay reads the google.rpc.RetryInfo detail quota errors carry.
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		typ, _ := d["@type"].(string)
		if !strings.HasSuffix(typ, "google.rpc.RetryInfo") {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if delay, err := time.ParseDuration(raw); err == nil && delay > 0 {
			return delay
		}
	}
	return 0
}

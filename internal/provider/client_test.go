// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider_test

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/omnigate-dev/omnigate/internal/metrics"
	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/internal/provider/providertest"
	"github.com/omnigate-dev/omnigate/internal/retry"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newClient(t *testing.T, b provider.Backend, opts provider.ClientOptions) *provider.RetryingClient {
	t.Helper()
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fastPolicy()
	}
	c, err := provider.NewClient(b, opts)
	require.NoError(t, err)
	return c
}

func unavailable() error {
	return omnierr.New(omnierr.CodeProviderUnavailable, "upstream down", omnierr.FieldProvider("anthropic"))
}

func rejected(status int) error {
	return omnierr.New(omnierr.CodeProviderUpstreamRejected, "bad request",
		omnierr.FieldProvider("anthropic"), omnierr.FieldStatusCode(status))
}

func TestNewClient_RejectsInvalidPolicy(t *testing.T) {
	_, err := provider.NewClient(providertest.NewBackend(provider.TagAnthropic), provider.ClientOptions{
		Retry: retry.Policy{MaxAttempts: -1},
	})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeConfigValidateInvalidValue))
}

func TestClientSend_AnnotatesResponse(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(_ context.Context, _ provider.Call) (*provider.Response, error) {
		return &provider.Response{Content: "hello"}, nil
	}
	c := newClient(t, b, provider.ClientOptions{})

	resp, err := c.Send(context.Background(), provider.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, provider.TagAnthropic, resp.Provider)
	assert.Equal(t, "anthropic-test", resp.Model, "backend model fills an empty response model")

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(provider.DefaultMaxTokens), calls[0].MaxTokens)
	assert.Nil(t, calls[0].Thinking)
}

func TestClientSend_PassesRequestFields(t *testing.T) {
	b := providertest.NewBackend(provider.TagOpenAI)
	c := newClient(t, b, provider.ClientOptions{Effort: provider.EffortHigh})
	temp := 0.3

	_, err := c.Send(context.Background(), provider.Request{Prompt: "hi", MaxTokens: 64, Temperature: &temp, Thinking: true})
	require.NoError(t, err)

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "hi", calls[0].Prompt)
	assert.Equal(t, int64(64), calls[0].MaxTokens)
	require.NotNil(t, calls[0].Temperature)
	assert.InDelta(t, 0.3, *calls[0].Temperature, 1e-9)
	require.NotNil(t, calls[0].Thinking)
	assert.Equal(t, provider.EffortHigh, calls[0].Thinking.Effort)
	assert.Equal(t, int64(16384), calls[0].Thinking.BudgetTokens)
}

func TestClientSend_InvalidRequestNeverCallsUpstream(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	c := newClient(t, b, provider.ClientOptions{})

	_, err := c.Send(context.Background(), provider.Request{Prompt: "  "})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderRequestInvalid))
	assert.Zero(t, b.CallCount())
}

func TestClientSend_RetriesTransientFailures(t *testing.T) {
	reg := metrics.New(nil)
	b := providertest.NewBackend(provider.TagAnthropic)
	failures := 2
	b.SendFunc = func(_ context.Context, _ provider.Call) (*provider.Response, error) {
		if failures > 0 {
			failures--
			return nil, unavailable()
		}
		return &provider.Response{Content: "finally"}, nil
	}
	c := newClient(t, b, provider.ClientOptions{Metrics: reg})

	resp, err := c.Send(context.Background(), provider.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "finally", resp.Content)
	assert.Equal(t, 3, b.CallCount())

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()
	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `omnigate_provider_retries_total{provider="anthropic"} 2`)
}

func TestClientSend_ExhaustsRetries(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(_ context.Context, _ provider.Call) (*provider.Response, error) {
		return nil, unavailable()
	}
	c := newClient(t, b, provider.ClientOptions{})

	_, err := c.Send(context.Background(), provider.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderUnavailable))
	assert.Equal(t, 3, b.CallCount())
	assert.False(t, c.Health().IsHealthy())
}

func TestClientSend_RejectionFailsFast(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(_ context.Context, _ provider.Call) (*provider.Response, error) {
		return nil, rejected(http.StatusUnauthorized)
	}
	c := newClient(t, b, provider.ClientOptions{})

	_, err := c.Send(context.Background(), provider.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderUpstreamRejected))
	assert.Equal(t, 1, b.CallCount())
	assert.True(t, c.Health().IsHealthy(), "rejections do not count against provider health")
}

func TestClientSend_UnclassifiedBackendErrorIsClassified(t *testing.T) {
	b := providertest.NewBackend(provider.TagGoogle)
	b.SendFunc = func(_ context.Context, _ provider.Call) (*provider.Response, error) {
		return nil, stderrors.New("weird")
	}
	c := newClient(t, b, provider.ClientOptions{})

	_, err := c.Send(context.Background(), provider.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderUpstreamFailure))
	assert.Equal(t, 1, b.CallCount())
}

func TestClientSend_DropsUnsupportedThinking(t *testing.T) {
	b := providertest.NewBackend(provider.TagOpenRouter)
	b.SendFunc = func(_ context.Context, call provider.Call) (*provider.Response, error) {
		if call.Thinking != nil {
			return nil, provider.FeatureUnsupported(provider.TagOpenRouter, "reasoning")
		}
		return &provider.Response{Content: "plain"}, nil
	}
	c := newClient(t, b, provider.ClientOptions{})

	resp, err := c.Send(context.Background(), provider.Request{Prompt: "hi", Thinking: true})
	require.NoError(t, err)
	assert.Equal(t, "plain", resp.Content)

	warnings, ok := resp.Metadata[provider.MetaWarnings].([]string)
	require.True(t, ok)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "reasoning budget")

	calls := b.Calls()
	require.Len(t, calls, 2)
	assert.NotNil(t, calls[0].Thinking)
	assert.Nil(t, calls[1].Thinking)
}

func TestClientSend_DropsThinkingOnBadRequest(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(_ context.Context, call provider.Call) (*provider.Response, error) {
		if call.Thinking != nil {
			return nil, rejected(http.StatusBadRequest)
		}
		return &provider.Response{Content: "plain"}, nil
	}
	c := newClient(t, b, provider.ClientOptions{})

	resp, err := c.Send(context.Background(), provider.Request{Prompt: "hi", Thinking: true})
	require.NoError(t, err)
	assert.Contains(t, resp.Metadata, provider.MetaWarnings)
	assert.Equal(t, 2, b.CallCount())
}

func TestClientSend_AuthRejectionKeepsThinkingError(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(_ context.Context, _ provider.Call) (*provider.Response, error) {
		return nil, rejected(http.StatusUnauthorized)
	}
	c := newClient(t, b, provider.ClientOptions{})

	_, err := c.Send(context.Background(), provider.Request{Prompt: "hi", Thinking: true})
	require.Error(t, err)
	assert.Equal(t, 1, b.CallCount())
}

func TestClientSend_LocalRateLimit(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	c := newClient(t, b, provider.ClientOptions{RateLimitPerMinute: 1})

	_, err := c.Send(context.Background(), provider.Request{Prompt: "one"})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), provider.Request{Prompt: "two"})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderRateLimited))
	assert.Greater(t, provider.RetryAfterOf(err), time.Duration(0))
	assert.Equal(t, 1, b.CallCount(), "the limited call never reaches upstream")
}

func TestClientSend_PerAttemptTimeout(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(ctx context.Context, _ provider.Call) (*provider.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := newClient(t, b, provider.ClientOptions{Timeout: 10 * time.Millisecond})

	_, err := c.Send(context.Background(), provider.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderUnavailable))
	assert.Equal(t, 3, b.CallCount(), "deadline expiry is transient")
}

func TestClientSend_CallerCancellationIsNotAProviderFailure(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(ctx context.Context, _ provider.Call) (*provider.Response, error) {
		return nil, ctx.Err()
	}
	c := newClient(t, b, provider.ClientOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Send(ctx, provider.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Health().Metrics().FailureCount)
}

func TestClientStream_DeliversChunks(t *testing.T) {
	b := providertest.NewBackend(provider.TagGoogle)
	c := newClient(t, b, provider.ClientOptions{})

	s, err := c.Stream(context.Background(), provider.Request{Prompt: "hi"})
	require.NoError(t, err)

	resp, err := provider.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "ok from google", resp.Content)
	assert.Equal(t, provider.TagGoogle, resp.Provider)
	assert.Equal(t, int64(1), c.Health().Metrics().SuccessCount)
}

func TestClientStream_RetriesBeforeFirstChunk(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	opens := 0
	b.StreamFunc = func(_ context.Context, _ provider.Call) (provider.Stream, error) {
		opens++
		if opens == 1 {
			return nil, unavailable()
		}
		if opens == 2 {
			// Opens fine but fails before producing anything.
			return provider.NewSliceStream(nil, unavailable()), nil
		}
		return provider.NewSliceStream(providertest.TextChunks(provider.TagAnthropic, "m", "third"), nil), nil
	}
	c := newClient(t, b, provider.ClientOptions{})

	s, err := c.Stream(context.Background(), provider.Request{Prompt: "hi"})
	require.NoError(t, err)
	resp, err := provider.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "third", resp.Content)
	assert.Equal(t, 3, opens)
}

func TestClientStream_EmptyStreamIsInvalidResponse(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.StreamFunc = func(_ context.Context, _ provider.Call) (provider.Stream, error) {
		return provider.NewSliceStream(nil, nil), nil
	}
	c := newClient(t, b, provider.ClientOptions{})

	_, err := c.Stream(context.Background(), provider.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderResponseInvalid))
	assert.Equal(t, 1, b.CallCount())
}

func TestClientStream_MidStreamFailureSurfacesThroughErr(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	chunks := providertest.TextChunks(provider.TagAnthropic, "m", "partial")
	b.StreamFunc = func(_ context.Context, _ provider.Call) (provider.Stream, error) {
		return provider.NewSliceStream(chunks[:3], stderrors.New("connection dropped")), nil
	}
	c := newClient(t, b, provider.ClientOptions{})

	s, err := c.Stream(context.Background(), provider.Request{Prompt: "hi"})
	require.NoError(t, err)

	var n int
	for s.Next() {
		n++
	}
	assert.Equal(t, 3, n)
	require.Error(t, s.Err())
	assert.Equal(t, omnierr.CodeProviderUpstreamFailure, omnierr.CodeOf(s.Err()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")
	assert.Equal(t, int64(1), c.Health().Metrics().FailureCount)
}

func TestClientStream_CloseReleasesUpstream(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	inner := provider.NewSliceStream(providertest.TextChunks(provider.TagAnthropic, "m", "a", "b"), nil)
	b.StreamFunc = func(_ context.Context, _ provider.Call) (provider.Stream, error) {
		return inner, nil
	}
	c := newClient(t, b, provider.ClientOptions{})

	s, err := c.Stream(context.Background(), provider.Request{Prompt: "hi"})
	require.NoError(t, err)
	require.True(t, s.Next())
	assert.Equal(t, provider.ChunkMessageStart, s.Current().Type)
	require.NoError(t, s.Close())
	assert.True(t, inner.Closed())
	assert.False(t, s.Next())
}

func TestClientStream_DropsUnsupportedThinking(t *testing.T) {
	b := providertest.NewBackend(provider.TagOpenRouter)
	b.StreamFunc = func(_ context.Context, call provider.Call) (provider.Stream, error) {
		if call.Thinking != nil {
			return nil, provider.FeatureUnsupported(provider.TagOpenRouter, "reasoning")
		}
		return provider.NewSliceStream(providertest.TextChunks(provider.TagOpenRouter, "m", "plain"), nil), nil
	}
	c := newClient(t, b, provider.ClientOptions{})

	s, err := c.Stream(context.Background(), provider.Request{Prompt: "hi", Thinking: true})
	require.NoError(t, err)
	w, ok := s.(interface{ Warnings() []string })
	require.True(t, ok)
	assert.Len(t, w.Warnings(), 1)

	resp, err := provider.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "plain", resp.Content)
}

func TestClientHealthCheck_Healthy(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	c := newClient(t, b, provider.ClientOptions{})

	st := c.HealthCheck(context.Background())
	assert.True(t, st.Healthy)
	assert.Equal(t, "anthropic", st.Provider)
	assert.Empty(t, st.Error)
	assert.False(t, st.Timestamp.IsZero())

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ping", calls[0].Prompt)
	assert.Equal(t, int64(1), calls[0].MaxTokens)
}

func TestClientHealthCheck_NoRetry(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(_ context.Context, _ provider.Call) (*provider.Response, error) {
		return nil, unavailable()
	}
	c := newClient(t, b, provider.ClientOptions{})

	st := c.HealthCheck(context.Background())
	assert.False(t, st.Healthy)
	assert.Contains(t, st.Error, "upstream down")
	assert.Equal(t, 1, b.CallCount())
}

func TestClientHealthCheck_Timeout(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(ctx context.Context, _ provider.Call) (*provider.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := newClient(t, b, provider.ClientOptions{HealthTimeout: 20 * time.Millisecond})

	start := time.Now()
	st := c.HealthCheck(context.Background())
	assert.False(t, st.Healthy)
	assert.Contains(t, st.Error, "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestClientHealthCheck_RecoversPanic(t *testing.T) {
	b := providertest.NewBackend(provider.TagAnthropic)
	b.SendFunc = func(_ context.Context, _ provider.Call) (*provider.Response, error) {
		panic("boom")
	}
	c := newClient(t, b, provider.ClientOptions{})

	st := c.HealthCheck(context.Background())
	assert.False(t, st.Healthy)
	assert.Contains(t, st.Error, "boom")
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omnigate-dev/omnigate/internal/metrics"
	"github.com/omnigate-dev/omnigate/internal/ratelimit"
	"github.com/omnigate-dev/omnigate/internal/retry"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/omnigate-dev/omnigate/pkg/health"
)

// DefaultHealthTimeout bounds a single health probe.
const DefaultHealthTimeout = 10 * time.Second

const healthPrompt = "ping"

// ClientOptions configure a RetryingClient.
type ClientOptions struct {
	Retry  retry.Policy
	Effort Effort
	// Timeout bounds one Send attempt, or the wait for the first chunk
	// of a stream. Zero means no per-attempt deadline.
	Timeout            time.Duration
	HealthTimeout      time.Duration
	RateLimitPerMinute int
	Cooldown           time.Duration
	Metrics            *metrics.Metrics
}

// ClientOptionsFor fills per-provider settings from d on top of base.
func ClientOptionsFor(d Descriptor, base ClientOptions) ClientOptions {
	base.Timeout = d.Timeout
	base.RateLimitPerMinute = d.RateLimitPerMinute
	return base
}

// RetryingClient wraps a Backend with retry, rate limiting, reasoning
// fallback, health probes and passive health tracking.
type RetryingClient struct {
	backend Backend
	opts    ClientOptions
	limiter *ratelimit.Window
	health  *HealthTracker
}

var _ Client = (*RetryingClient)(nil)

// NewClient wraps backend. Zero-valued options take package defaults.
func NewClient(backend Backend, opts ClientOptions) (*RetryingClient, error) {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if err := opts.Retry.Validate(); err != nil {
		return nil, err
	}
	if opts.Effort == "" {
		opts.Effort = EffortMedium
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultHealthCooldown
	}

	limiter, err := ratelimit.New(ratelimit.Config{Limit: opts.RateLimitPerMinute, MaxKeys: 1})
	if err != nil {
		return nil, err
	}
	tracker, err := NewHealthTracker(opts.Cooldown)
	if err != nil {
		return nil, err
	}
	return &RetryingClient{
		backend: backend,
		opts:    opts,
		limiter: limiter,
		health:  tracker,
	}, nil
}

func (c *RetryingClient) Tag() Tag { return c.backend.Tag() }

func (c *RetryingClient) Model() string { return c.backend.Model() }

// Health exposes the passive tracker.
func (c *RetryingClient) Health() *HealthTracker { return c.health }

func (c *RetryingClient) buildCall(req Request) Call {
	call := Call{
		Prompt:      req.Prompt,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: req.Temperature,
	}
	if call.MaxTokens <= 0 {
		call.MaxTokens = DefaultMaxTokens
	}
	if req.Thinking {
		call.Thinking = NewThinking(c.opts.Effort)
	}
	return call
}

// Send performs one logical request, retrying transient failures.
func (c *RetryingClient) Send(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	call := c.buildCall(req)

	resp, err := c.send(ctx, call)
	var warnings []string
	if err != nil && call.Thinking != nil && thinkingRejected(err) {
		warnings = append(warnings, c.dropThinking(call.Thinking, err))
		call.Thinking = nil
		resp, err = c.send(ctx, call)
	}

	c.health.Record(err)
	c.opts.Metrics.ObserveProviderCall(string(c.Tag()), "send", outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	resp.Provider = c.Tag()
	if resp.Model == "" {
		resp.Model = c.Model()
	}
	if len(warnings) > 0 {
		resp.SetMetadata(MetaWarnings, warnings)
	}
	return resp, nil
}

func (c *RetryingClient) send(ctx context.Context, call Call) (*Response, error) {
	var resp *Response
	err := retry.Do(ctx, c.opts.Retry, c.hooks(), func(ctx context.Context, _ int) error {
		if err := c.admit(); err != nil {
			return err
		}
		actx, cancel := c.attemptContext(ctx)
		defer cancel()

		r, err := c.backend.Send(actx, call)
		if err != nil {
			return Classify(c.Tag(), 0, 0, err)
		}
		if r == nil {
			return omnierr.New(omnierr.CodeProviderResponseInvalid,
				fmt.Sprintf("%s: empty response", c.Tag()), omnierr.FieldProvider(string(c.Tag())))
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Stream opens a streamed request. Failures before the first chunk are
// retried and returned here; later failures surface through Err.
func (c *RetryingClient) Stream(ctx context.Context, req Request) (Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	call := c.buildCall(req)

	s, err := c.openStream(ctx, call, start)
	var warnings []string
	if err != nil && call.Thinking != nil && thinkingRejected(err) {
		warnings = append(warnings, c.dropThinking(call.Thinking, err))
		call.Thinking = nil
		s, err = c.openStream(ctx, call, start)
	}
	if err != nil {
		c.health.Record(err)
		c.opts.Metrics.ObserveProviderCall(string(c.Tag()), "stream", outcome(err), time.Since(start))
		return nil, err
	}
	s.warnings = warnings
	return s, nil
}

func (c *RetryingClient) openStream(ctx context.Context, call Call, start time.Time) (*clientStream, error) {
	var out *clientStream
	err := retry.Do(ctx, c.opts.Retry, c.hooks(), func(ctx context.Context, _ int) error {
		if err := c.admit(); err != nil {
			return err
		}

		sctx, cancel := context.WithCancel(ctx)
		var timer *time.Timer
		if c.opts.Timeout > 0 {
			timer = time.AfterFunc(c.opts.Timeout, cancel)
		}
		stopTimer := func() {
			if timer != nil {
				timer.Stop()
			}
		}

		s, err := c.backend.Stream(sctx, call)
		if err != nil {
			stopTimer()
			cancel()
			return Classify(c.Tag(), 0, 0, err)
		}
		if !s.Next() {
			err := s.Err()
			_ = s.Close()
			stopTimer()
			cancel()
			if err == nil {
				err = omnierr.New(omnierr.CodeProviderResponseInvalid,
					fmt.Sprintf("%s: stream ended before the first chunk", c.Tag()),
					omnierr.FieldProvider(string(c.Tag())))
			}
			return Classify(c.Tag(), 0, 0, err)
		}
		stopTimer()

		out = &clientStream{tag: c.Tag(), cancel: cancel}
		out.primedStream = newPrimedStream(s, s.Current(), func(err error) {
			err = Classify(c.Tag(), 0, 0, err)
			c.health.Record(err)
			c.opts.Metrics.ObserveProviderCall(string(c.Tag()), "stream", outcome(err), time.Since(start))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HealthCheck sends a minimal request under a hard timeout. It never
// returns an error; failures are reported in the Status.
func (c *RetryingClient) HealthCheck(ctx context.Context) (status health.Status) {
	start := time.Now()
	tag := string(c.Tag())
	defer func() {
		if r := recover(); r != nil {
			slog.Error("provider health check panicked", "provider", tag, "panic", r)
			status = health.Unhealthy(tag, time.Since(start), time.Now(), fmt.Errorf("health check panicked: %v", r))
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()

	_, err := c.backend.Send(hctx, Call{Prompt: healthPrompt, MaxTokens: 1})
	elapsed := time.Since(start)
	if err != nil {
		if hctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("health check timed out after %s: %w", c.opts.HealthTimeout, err)
		}
		return health.Unhealthy(tag, elapsed, time.Now(), err)
	}
	return health.Healthy(tag, elapsed, time.Now())
}

func (c *RetryingClient) admit() error {
	ok, wait := c.limiter.Allow(string(c.Tag()))
	if ok {
		return nil
	}
	c.opts.Metrics.ObserveRateLimited("provider")
	return omnierr.New(omnierr.CodeProviderRateLimited,
		fmt.Sprintf("%s: local limit of %d requests per minute reached", c.Tag(), c.limiter.Limit()),
		omnierr.FieldProvider(string(c.Tag())),
		omnierr.Field(fieldRetryAfter, wait),
		omnierr.Field("scope", "local"),
	)
}

func (c *RetryingClient) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.Timeout)
}

func (c *RetryingClient) hooks() retry.Hooks {
	tag := string(c.Tag())
	return retry.Hooks{
		Retryable: func(err error) bool {
			if scope, ok := omnierr.FieldOf(err, "scope"); ok && scope == "local" {
				return false
			}
			return IsTransient(err)
		},
		RetryAfter: RetryAfterOf,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			slog.Warn("retrying provider call",
				"provider", tag, "attempt", attempt, "wait", wait, "error", err)
			c.opts.Metrics.ObserveRetry(tag)
		},
	}
}

func (c *RetryingClient) dropThinking(t *Thinking, cause error) string {
	slog.Warn("reasoning budget not accepted, continuing without it",
		"provider", c.Tag(), "effort", t.Effort, "budget_tokens", t.BudgetTokens, "error", cause)
	return fmt.Sprintf("%s did not accept a %s reasoning budget (%d tokens); answered without reasoning",
		c.Tag(), t.Effort, t.BudgetTokens)
}

// thinkingRejected reports whether err plausibly came from the reasoning
// option rather than the prompt.
func thinkingRejected(err error) bool {
	if omnierr.HasCode(err, omnierr.CodeProviderFeatureUnsupported) {
		return true
	}
	if !omnierr.HasCode(err, omnierr.CodeProviderUpstreamRejected) {
		return false
	}
	status, _ := omnierr.FieldOf(err, "status_code")
	code, _ := status.(int)
	return code == 400 || code == 422
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := omnierr.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

// clientStream adds classification, cancellation and warnings to a
// primed backend stream.
type clientStream struct {
	*primedStream
	tag       Tag
	cancel    context.CancelFunc
	warnings  []string
	closeOnce sync.Once
	closeErr  error
}

func (s *clientStream) Err() error {
	return Classify(s.tag, 0, 0, s.primedStream.Err())
}

func (s *clientStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.primedStream.Close()
		s.cancel()
	})
	return s.closeErr
}

// Warnings lists options that were dropped to open the stream.
func (s *clientStream) Warnings() []string { return s.warnings }

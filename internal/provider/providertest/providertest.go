// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

// Package providertest provides scriptable provider.Backend and
// provider.Client implementations for tests.
package providertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/pkg/health"
)

// TextChunks builds the normalized chunk sequence for a plain answer.
func TextChunks(tag provider.Tag, model string, texts ...string) []provider.StreamChunk {
	n := provider.NewNormalizer(tag, model)
	for _, t := range texts {
		n.Text(t)
	}
	n.Usage(provider.Usage{InputTokens: 1, OutputTokens: int64(len(texts))})
	n.Finish()

	var out []provider.StreamChunk
	for {
		c, ok := n.Pop()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

// Backend is a scriptable provider.Backend. Nil funcs answer "ok".
type Backend struct {
	TagValue   provider.Tag
	ModelValue string
	SendFunc   func(ctx context.Context, call provider.Call) (*provider.Response, error)
	StreamFunc func(ctx context.Context, call provider.Call) (provider.Stream, error)

	mu    sync.Mutex
	calls []provider.Call
}

var _ provider.Backend = (*Backend)(nil)

// NewBackend returns a Backend answering as tag.
func NewBackend(tag provider.Tag) *Backend {
	return &Backend{TagValue: tag, ModelValue: string(tag) + "-test"}
}

func (b *Backend) Tag() provider.Tag { return b.TagValue }

func (b *Backend) Model() string { return b.ModelValue }

func (b *Backend) record(call provider.Call) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *Backend) Send(ctx context.Context, call provider.Call) (*provider.Response, error) {
	b.record(call)
	if b.SendFunc != nil {
		return b.SendFunc(ctx, call)
	}
	return &provider.Response{Content: "ok from " + string(b.TagValue), Model: b.ModelValue}, nil
}

func (b *Backend) Stream(ctx context.Context, call provider.Call) (provider.Stream, error) {
	b.record(call)
	if b.StreamFunc != nil {
		return b.StreamFunc(ctx, call)
	}
	return provider.NewSliceStream(TextChunks(b.TagValue, b.ModelValue, "ok from ", string(b.TagValue)), nil), nil
}

// Calls returns every Call received so far.
func (b *Backend) Calls() []provider.Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]provider.Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount returns the number of upstream calls received.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// Client is a scriptable provider.Client. It answers successfully and
// probes healthy until told otherwise.
type Client struct {
	tag   provider.Tag
	model string

	mu        sync.Mutex
	sendErr   error
	streamErr error
	healthy   bool
	probeErr  error
	panicking bool
	sends     int
	streams   int
	probes    int
	chunks    []provider.StreamChunk
	midErr    error
	openErr   error
}

var _ provider.Client = (*Client)(nil)

// NewClient returns a healthy Client answering as tag.
func NewClient(tag provider.Tag) *Client {
	return &Client{tag: tag, model: string(tag) + "-test", healthy: true}
}

func (c *Client) Tag() provider.Tag { return c.tag }

func (c *Client) Model() string { return c.model }

// Fail makes Send and Stream return err until Recover.
func (c *Client) Fail(err error) {
	c.mu.Lock()
	c.sendErr, c.streamErr = err, err
	c.mu.Unlock()
}

// Recover clears any scripted call failure.
func (c *Client) Recover() {
	c.mu.Lock()
	c.sendErr, c.streamErr, c.midErr, c.openErr = nil, nil, nil, nil
	c.mu.Unlock()
}

// FailBeforeFirstChunk makes Stream succeed but end with err before
// producing anything.
func (c *Client) FailBeforeFirstChunk(err error) {
	c.mu.Lock()
	c.openErr = err
	c.mu.Unlock()
}

// FailMidStream makes streams deliver their chunks and then end with err.
func (c *Client) FailMidStream(err error) {
	c.mu.Lock()
	c.midErr = err
	c.mu.Unlock()
}

// SetHealthy scripts HealthCheck results. A nil err with healthy=false
// reports a generic failure.
func (c *Client) SetHealthy(healthy bool, err error) {
	c.mu.Lock()
	c.healthy, c.probeErr = healthy, err
	c.mu.Unlock()
}

// PanicOnProbe makes HealthCheck panic.
func (c *Client) PanicOnProbe() {
	c.mu.Lock()
	c.panicking = true
	c.mu.Unlock()
}

func (c *Client) Send(_ context.Context, req provider.Request) (*provider.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	return &provider.Response{
		Content:  "ok from " + string(c.tag),
		Provider: c.tag,
		Model:    c.model,
		Usage:    provider.Usage{InputTokens: int64(len(req.Prompt)), OutputTokens: 3},
	}, nil
}

func (c *Client) Stream(_ context.Context, _ provider.Request) (provider.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams++
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	if c.openErr != nil {
		return provider.NewSliceStream(nil, c.openErr), nil
	}
	chunks := c.chunks
	if chunks == nil {
		chunks = TextChunks(c.tag, c.model, "ok from ", string(c.tag))
	}
	if c.midErr != nil {
		chunks = chunks[:len(chunks)/2]
	}
	return provider.NewSliceStream(chunks, c.midErr), nil
}

func (c *Client) HealthCheck(_ context.Context) health.Status {
	c.mu.Lock()
	c.probes++
	healthy, err, panicking := c.healthy, c.probeErr, c.panicking
	c.mu.Unlock()

	if panicking {
		panic("probe exploded")
	}
	now := time.Now()
	if !healthy {
		if err == nil {
			err = errors.New("scripted failure")
		}
		return health.Unhealthy(string(c.tag), time.Millisecond, now, err)
	}
	return health.Healthy(string(c.tag), time.Millisecond, now)
}

// Sends returns the number of Send calls.
func (c *Client) Sends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

// Streams returns the number of Stream calls.
func (c *Client) Streams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams
}

// Probes returns the number of HealthCheck calls.
func (c *Client) Probes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probes
}

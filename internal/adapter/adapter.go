// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

// Package adapter routes requests across the configured providers. Each
// request tries its preferred provider first and falls back through the
// rest in priority order; the preferred provider itself can be switched at
// runtime by the health monitor or an operator.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/omnigate-dev/omnigate/internal/metrics"
	"github.com/omnigate-dev/omnigate/internal/provider"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/omnigate-dev/omnigate/pkg/health"
	"golang.org/x/sync/errgroup"
)

// Options configure an Adapter.
type Options struct {
	// Preferred becomes the current provider. Empty, or a provider that is
	// not enabled, selects the first enabled provider.
	Preferred provider.Tag
	Metrics   *metrics.Metrics
}

// Adapter is safe for concurrent use. The registry and client set are
// fixed at construction; only the current provider changes.
type Adapter struct {
	registry *provider.Registry
	clients  map[provider.Tag]provider.Client
	current  atomic.Pointer[provider.Tag]
	metrics  *metrics.Metrics
}

// New builds an Adapter over every enabled provider in reg. clients must
// hold a client for each of them.
func New(reg *provider.Registry, clients map[provider.Tag]provider.Client, opts Options) (*Adapter, error) {
	if reg == nil || reg.Len() == 0 {
		return nil, omnierr.New(omnierr.CodeProviderNoneConfigured,
			"no providers configured: enable at least one provider with a credential")
	}

	enabled := reg.EnabledTags()
	owned := make(map[provider.Tag]provider.Client, len(enabled))
	for _, tag := range enabled {
		c, ok := clients[tag]
		if !ok || c == nil {
			return nil, omnierr.New(omnierr.CodeProviderRegistryInvalid,
				fmt.Sprintf("no client for enabled provider %s", tag), omnierr.FieldProvider(string(tag)))
		}
		owned[tag] = c
	}

	start := enabled[0]
	if opts.Preferred != "" {
		if reg.IsEnabled(opts.Preferred) {
			start = opts.Preferred
		} else {
			slog.Warn("preferred provider is not enabled, using first enabled provider",
				"preferred", opts.Preferred, "provider", start)
		}
	}

	a := &Adapter{registry: reg, clients: owned, metrics: opts.Metrics}
	a.current.Store(&start)
	a.metrics.ObserveSwitch("", string(start))
	slog.Info("provider adapter ready", "current", start, "order", reg.String())
	return a, nil
}

// CurrentProvider returns the provider tried first for requests that do
// not name one.
func (a *Adapter) CurrentProvider() provider.Tag {
	return *a.current.Load()
}

// AvailableProviders returns the enabled providers in priority order.
func (a *Adapter) AvailableProviders() []provider.Tag {
	return a.registry.EnabledTags()
}

// Registry returns the registry the adapter routes over.
func (a *Adapter) Registry() *provider.Registry { return a.registry }

// Client returns the client for an enabled provider.
func (a *Adapter) Client(tag provider.Tag) (provider.Client, bool) {
	c, ok := a.clients[tag]
	return c, ok
}

// SwitchProvider makes tag the current provider. Unknown or disabled tags
// are rejected and leave the current provider unchanged.
func (a *Adapter) SwitchProvider(tag provider.Tag) error {
	if !a.registry.IsEnabled(tag) {
		return omnierr.New(omnierr.CodeProviderNotEnabled,
			fmt.Sprintf("provider %s is not enabled", tag), omnierr.FieldProvider(string(tag)))
	}
	next := tag
	prev := a.current.Swap(&next)
	if *prev != tag {
		a.metrics.ObserveSwitch(string(*prev), string(tag))
		slog.Info("switched provider", "from", *prev, "to", tag)
	}
	return nil
}

// candidates returns the try order for req: its requested provider, then
// every other enabled provider in priority order.
func (a *Adapter) candidates(req provider.Request) ([]provider.Tag, error) {
	first := req.Provider
	if first == "" {
		first = a.CurrentProvider()
	} else if !a.registry.IsEnabled(first) {
		return nil, omnierr.New(omnierr.CodeProviderNotEnabled,
			fmt.Sprintf("provider %s is not enabled", first), omnierr.FieldProvider(string(first)))
	}

	order := make([]provider.Tag, 0, a.registry.Len())
	order = append(order, first)
	for _, tag := range a.registry.EnabledTags() {
		if tag != first {
			order = append(order, tag)
		}
	}
	return order, nil
}

// SendMessage answers req from the first provider that succeeds. The
// response records which provider was requested and which one answered.
func (a *Adapter) SendMessage(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	order, err := a.candidates(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, tag := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := a.clients[tag].Send(ctx, req)
		if err == nil {
			a.annotate(resp, order[0], tag, i+1)
			return resp, nil
		}

		lastErr = err
		slog.Warn("provider failed",
			"provider", tag, "attempt", i+1, "remaining", len(order)-i-1, "error", err)
	}
	return nil, allFailed(order, lastErr)
}

// StreamMessage opens a stream from the first provider that produces a
// chunk. Once a chunk has been delivered the stream is committed to that
// provider; later failures surface through MessageStream.Err.
func (a *Adapter) StreamMessage(ctx context.Context, req provider.Request) (*MessageStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	order, err := a.candidates(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, tag := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ms, err := a.open(ctx, tag, req)
		if err == nil {
			ms.Requested = order[0]
			ms.FallbackUsed = tag != order[0]
			ms.Attempts = i + 1
			if ms.FallbackUsed {
				a.metrics.ObserveFallback(string(order[0]), string(tag))
			}
			return ms, nil
		}

		lastErr = err
		slog.Warn("provider stream failed before first chunk",
			"provider", tag, "attempt", i+1, "remaining", len(order)-i-1, "error", err)
	}
	return nil, allFailed(order, lastErr)
}

func (a *Adapter) open(ctx context.Context, tag provider.Tag, req provider.Request) (*MessageStream, error) {
	s, err := a.clients[tag].Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.Next() {
		return &MessageStream{Actual: tag, inner: s, first: s.Current(), primed: true}, nil
	}
	if err := s.Err(); err != nil {
		_ = s.Close()
		return nil, provider.Classify(tag, 0, 0, err)
	}
	// An upstream that legitimately produced nothing is still an answer.
	return &MessageStream{Actual: tag, inner: s}, nil
}

func (a *Adapter) annotate(resp *provider.Response, requested, actual provider.Tag, attempts int) {
	resp.Provider = actual
	resp.SetMetadata(provider.MetaFallbackUsed, requested != actual)
	resp.SetMetadata(provider.MetaRequestedProvider, string(requested))
	resp.SetMetadata(provider.MetaActualProvider, string(actual))
	resp.SetMetadata(provider.MetaAttempts, attempts)
	if requested != actual {
		a.metrics.ObserveFallback(string(requested), string(actual))
	}
}

// allFailed builds the exhaustion error. The cause's text and code are
// carried as fields so the all-failed code stays the one callers see.
func allFailed(order []provider.Tag, cause error) error {
	last := order[len(order)-1]
	msg := fmt.Sprintf("all %d providers failed; last (%s): %v", len(order), last, cause)
	return omnierr.New(omnierr.CodeProviderAllFailed, msg,
		omnierr.FieldProvider(string(last)),
		omnierr.Field("cause", fmt.Sprint(cause)),
		omnierr.Field("cause_code", string(omnierr.CodeOf(cause))),
		omnierr.Field("attempts", len(order)),
	)
}

// HealthCheck probes the current provider only.
func (a *Adapter) HealthCheck(ctx context.Context) health.Status {
	return a.clients[a.CurrentProvider()].HealthCheck(ctx)
}

// CheckProvider probes one enabled provider.
func (a *Adapter) CheckProvider(ctx context.Context, tag provider.Tag) (health.Status, error) {
	c, ok := a.clients[tag]
	if !ok {
		return health.Status{}, omnierr.New(omnierr.CodeProviderNotEnabled,
			fmt.Sprintf("provider %s is not enabled", tag), omnierr.FieldProvider(string(tag)))
	}
	return c.HealthCheck(ctx), nil
}

// CheckAllProviders probes every enabled provider concurrently.
func (a *Adapter) CheckAllProviders(ctx context.Context) map[provider.Tag]health.Status {
	tags := a.registry.EnabledTags()
	out := make(map[provider.Tag]health.Status, len(tags))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, tag := range tags {
		c := a.clients[tag]
		g.Go(func() error {
			st := c.HealthCheck(ctx)
			mu.Lock()
			out[tag] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// healthReporter is implemented by clients that track passive health.
type healthReporter interface {
	Health() *provider.HealthTracker
}

// ProviderHealth returns the passive health of every enabled provider
// whose client tracks it.
func (a *Adapter) ProviderHealth() map[provider.Tag]health.Metrics {
	out := make(map[provider.Tag]health.Metrics, len(a.clients))
	for tag, c := range a.clients {
		if hr, ok := c.(healthReporter); ok {
			out[tag] = hr.Health().Metrics()
		}
	}
	return out
}

// NextAfter returns the first enabled provider other than tag in priority
// order, or false when tag is the only one.
func (a *Adapter) NextAfter(tag provider.Tag) (provider.Tag, bool) {
	tags := a.registry.EnabledTags()
	i := slices.IndexFunc(tags, func(t provider.Tag) bool { return t != tag })
	if i < 0 {
		return "", false
	}
	return tags[i], true
}

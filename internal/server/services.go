// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package server

import (
	"context"
	"time"

	"github.com/omnigate-dev/omnigate/internal/adapter"
	"github.com/omnigate-dev/omnigate/internal/monitor"
	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/internal/secrets"
	"github.com/omnigate-dev/omnigate/pkg/health"
)

// Gateway is the routing surface the HTTP API serves.
type Gateway interface {
	CurrentProvider() provider.Tag
	AvailableProviders() []provider.Tag
	Registry() *provider.Registry
	SwitchProvider(tag provider.Tag) error
	SendMessage(ctx context.Context, req provider.Request) (*provider.Response, error)
	StreamMessage(ctx context.Context, req provider.Request) (*adapter.MessageStream, error)
	HealthCheck(ctx context.Context) health.Status
	CheckAllProviders(ctx context.Context) map[provider.Tag]health.Status
	ProviderHealth() map[provider.Tag]health.Metrics
}

// Recovery is the read side of the health monitor.
type Recovery interface {
	Monitoring() bool
	Counters() map[string]int
	RecoveryStats() monitor.RecoveryStats
	Export() monitor.HistoryExport
}

var (
	_ Gateway  = (*adapter.Adapter)(nil)
	_ Recovery = (*monitor.Monitor)(nil)
)

// Services holds the dependencies route handlers call. Recovery is nil
// when the monitor is disabled.
type Services struct {
	Gateway  Gateway
	Recovery Recovery
}

// ProviderView is the public description of one configured provider.
type ProviderView struct {
	Tag                provider.Tag    `json:"tag"`
	Enabled            bool            `json:"enabled"`
	Current            bool            `json:"current"`
	Priority           int             `json:"priority"`
	Model              string          `json:"model"`
	Credential         string          `json:"credential" enum:"keyring,inline,none" doc:"Where the key comes from; the key itself is never shown"`
	RateLimitPerMinute int             `json:"rate_limit_rpm"`
	Timeout            string          `json:"timeout"`
	Endpoint           string          `json:"endpoint,omitempty"`
	Health             *health.Metrics `json:"health,omitempty"`
}

func providerViews(gw Gateway) []ProviderView {
	current := gw.CurrentProvider()
	passive := gw.ProviderHealth()

	descs := gw.Registry().All()
	views := make([]ProviderView, 0, len(descs))
	for _, d := range descs {
		v := ProviderView{
			Tag:                d.Tag,
			Enabled:            d.Enabled,
			Current:            d.Tag == current,
			Priority:           d.Priority,
			Model:              d.Model,
			Credential:         credentialSource(d),
			RateLimitPerMinute: d.RateLimitPerMinute,
			Timeout:            d.Timeout.Round(time.Millisecond).String(),
			Endpoint:           d.BaseURL,
		}
		if m, ok := passive[d.Tag]; ok {
			v.Health = &m
		}
		views = append(views, v)
	}
	return views
}

func credentialSource(d provider.Descriptor) string {
	switch {
	case secrets.IsRef(d.CredentialRef):
		return "keyring"
	case d.APIKey != "":
		return "inline"
	default:
		return "none"
	}
}

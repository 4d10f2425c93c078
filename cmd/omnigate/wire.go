// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/omnigate-dev/omnigate/internal/adapter"
	"github.com/omnigate-dev/omnigate/internal/cloud"
	"github.com/omnigate-dev/omnigate/internal/config"
	"github.com/omnigate-dev/omnigate/internal/metrics"
	"github.com/omnigate-dev/omnigate/internal/monitor"
	"github.com/omnigate-dev/omnigate/internal/provider"
	anthropicprov "github.com/omnigate-dev/omnigate/internal/provider/anthropic"
	googleprov "github.com/omnigate-dev/omnigate/internal/provider/google"
	openaiprov "github.com/omnigate-dev/omnigate/internal/provider/openai"
	openrouterprov "github.com/omnigate-dev/omnigate/internal/provider/openrouter"
	"github.com/omnigate-dev/omnigate/internal/secrets"
	"github.com/omnigate-dev/omnigate/internal/server"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Gateway holds all wired subsystems and manages their lifecycle.
type Gateway struct {
	Server   *server.Server
	Adapter  *adapter.Adapter
	Monitor  *monitor.Monitor
	Registry *provider.Registry
	Metrics  *metrics.Metrics

	monitorInterval time.Duration
}

// backendFactory builds the raw upstream client for one provider.
type backendFactory func(provider.Descriptor) (provider.Backend, error)

// backendFactories maps provider tags to their constructors.
// Declared as a variable so tests can inject fakes.
var backendFactories = map[provider.Tag]backendFactory{
	provider.TagAnthropic: func(d provider.Descriptor) (provider.Backend, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: d.APIKey, Model: d.Model, BaseURL: d.BaseURL})
	},
	provider.TagGoogle: func(d provider.Descriptor) (provider.Backend, error) {
		return googleprov.New(googleprov.Config{APIKey: d.APIKey, Model: d.Model, BaseURL: d.BaseURL})
	},
	provider.TagOpenAI: func(d provider.Descriptor) (provider.Backend, error) {
		return openaiprov.New(openaiprov.Config{APIKey: d.APIKey, Model: d.Model, BaseURL: d.BaseURL})
	},
	provider.TagOpenRouter: func(d provider.Descriptor) (provider.Backend, error) {
		return openrouterprov.New(openrouterprov.Config{APIKey: d.APIKey, Model: d.Model, BaseURL: d.BaseURL})
	},
}

// WireGateway creates all subsystems from cfg and wires them together.
// store resolves keyring:// credential references.
func WireGateway(cfg *config.Config, store secrets.Store) (*Gateway, error) {
	descs, err := cfg.Descriptors(store)
	if err != nil {
		return nil, omnierr.Wrap(err, omnierr.CodeCLISetupFailure, "resolving provider credentials")
	}

	// 1. Provider registry.
	reg, err := provider.NewRegistry(descs)
	if err != nil {
		return nil, omnierr.Wrap(err, omnierr.CodeCLISetupFailure, "building provider registry")
	}
	if reg.Len() == 0 {
		return nil, omnierr.New(omnierr.CodeProviderNoneConfigured,
			"no provider has a credential: set ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY or OPENROUTER_API_KEY")
	}
	slog.Info("providers configured", "order", reg.String())

	// 2. Metrics.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	// 3. Provider clients.
	base := provider.ClientOptions{
		Retry:   cfg.Retry,
		Effort:  cfg.Effort(),
		Metrics: m,
	}
	clients := make(map[provider.Tag]provider.Client, reg.Len())
	for _, d := range reg.EnabledInPriorityOrder() {
		factory, ok := backendFactories[d.Tag]
		if !ok {
			return nil, omnierr.Errorf(omnierr.CodeCLISetupFailure, "no backend for provider %s", d.Tag)
		}
		backend, err := factory(d)
		if err != nil {
			return nil, omnierr.Wrapf(err, omnierr.CodeCLISetupFailure, "creating %s backend", d.Tag)
		}
		c, err := provider.NewClient(backend, provider.ClientOptionsFor(d, base))
		if err != nil {
			return nil, omnierr.Wrapf(err, omnierr.CodeCLISetupFailure, "creating %s client", d.Tag)
		}
		clients[d.Tag] = c
	}

	// 4. Failover adapter.
	a, err := adapter.New(reg, clients, adapter.Options{
		Preferred: provider.Tag(cfg.Models.Preferred),
		Metrics:   m,
	})
	if err != nil {
		return nil, omnierr.Wrap(err, omnierr.CodeCLISetupFailure, "creating adapter")
	}

	// 5. Health monitor, watching cloud targets when configured.
	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		var cc monitor.CloudChecker
		if len(cfg.Cloud.Targets) > 0 {
			orch, err := cloud.NewOrchestrator(cfg.Cloud.Targets, nil)
			if err != nil {
				return nil, omnierr.Wrap(err, omnierr.CodeCLISetupFailure, "creating cloud orchestrator")
			}
			cc = orch
		}
		mon, err = monitor.New(a, cc, monitor.Config{
			AlertThreshold: cfg.Monitor.AlertThreshold,
			ProbeTimeout:   cfg.Monitor.ProbeTimeout,
			HistoryLimit:   cfg.Monitor.HistoryLimit,
			Metrics:        m,
		})
		if err != nil {
			return nil, omnierr.Wrap(err, omnierr.CodeCLISetupFailure, "creating monitor")
		}
	}

	// 6. HTTP server.
	svc := &server.Services{Gateway: a}
	if mon != nil {
		svc.Recovery = mon
	}
	srv, err := server.New(server.Config{
		ListenAddr:        cfg.Networking.Listen,
		CORSOrigins:       cfg.Networking.CORSOrigins,
		AuthSecret:        cfg.Auth.Secret,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Version:           version,
	}, svc, m)
	if err != nil {
		return nil, omnierr.Wrap(err, omnierr.CodeCLISetupFailure, "creating server")
	}

	return &Gateway{
		Server:          srv,
		Adapter:         a,
		Monitor:         mon,
		Registry:        reg,
		Metrics:         m,
		monitorInterval: cfg.Monitor.Interval,
	}, nil
}

// Start runs the monitor and the HTTP server, blocking until ctx is
// cancelled.
func (gw *Gateway) Start(ctx context.Context) error {
	if gw.Monitor != nil {
		if err := gw.Monitor.Start(gw.monitorInterval); err != nil {
			return err
		}
		defer gw.Monitor.Stop()
	}
	return gw.Server.Start(ctx)
}

// Close releases all resources held by the gateway.
func (gw *Gateway) Close() error {
	if gw.Monitor != nil {
		gw.Monitor.Stop()
	}
	return gw.Server.Close()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/omnigate-dev/omnigate/internal/monitor"
	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "liveness",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Liveness check",
		Tags:        []string{"system"},
	}, s.handleLiveness)

	// Gateway endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "gateway-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/messages",
		Summary:     "Probe the current provider",
		Tags:        []string{"messages"},
	}, s.handleGatewayStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers",
		Summary:     "List configured providers",
		Tags:        []string{"providers"},
	}, s.handleListProviders)

	huma.Register(s.api, huma.Operation{
		OperationID: "check-providers",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers/health",
		Summary:     "Probe every enabled provider",
		Tags:        []string{"providers"},
	}, s.handleCheckProviders)

	huma.Register(s.api, huma.Operation{
		OperationID: "switch-provider",
		Method:      http.MethodPost,
		Path:        "/api/v1/providers/switch",
		Summary:     "Change the current provider",
		Tags:        []string{"providers"},
	}, s.handleSwitchProvider)

	// Recovery endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "recovery-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/recovery",
		Summary:     "Monitor state and recovery statistics",
		Tags:        []string{"recovery"},
	}, s.handleRecoveryStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "recovery-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/recovery/history",
		Summary:     "Export the recovery log",
		Tags:        []string{"recovery"},
	}, s.handleRecoveryHistory)
}

// --- Request/Response types for huma ---

type livenessOutput struct {
	Body struct {
		Status  string `json:"status" example:"ok" doc:"Gateway status"`
		Version string `json:"version"`
	}
}

type gatewayStatusOutput struct {
	Body struct {
		Healthy   bool           `json:"healthy"`
		Current   provider.Tag   `json:"current"`
		Status    health.Status  `json:"status"`
		Providers []provider.Tag `json:"providers" doc:"Enabled providers in priority order"`
	}
}

type listProvidersOutput struct {
	Body struct {
		Current   provider.Tag   `json:"current"`
		Providers []ProviderView `json:"providers"`
	}
}

type checkProvidersOutput struct {
	Body struct {
		Healthy   int                      `json:"healthy" doc:"Number of providers that passed"`
		Total     int                      `json:"total"`
		Providers map[string]health.Status `json:"providers"`
	}
}

type switchProviderInput struct {
	Body struct {
		Provider string `json:"provider" minLength:"1" doc:"Provider tag to make current"`
	}
}
type switchProviderOutput struct {
	Body struct {
		Previous provider.Tag `json:"previous"`
		Current  provider.Tag `json:"current"`
	}
}

type recoveryStatusOutput struct {
	Body struct {
		Monitoring bool                  `json:"monitoring"`
		Counters   map[string]int        `json:"counters" doc:"Consecutive failures per target"`
		Stats      monitor.RecoveryStats `json:"stats"`
	}
}

type recoveryHistoryOutput struct {
	Body monitor.HistoryExport
}

// --- Handlers ---

func (s *Server) handleLiveness(_ context.Context, _ *struct{}) (*livenessOutput, error) {
	out := &livenessOutput{}
	out.Body.Status = "ok"
	out.Body.Version = s.cfg.Version
	return out, nil
}

func (s *Server) handleGatewayStatus(ctx context.Context, _ *struct{}) (*gatewayStatusOutput, error) {
	gw := s.services.Gateway
	st := gw.HealthCheck(ctx)

	out := &gatewayStatusOutput{}
	out.Body.Healthy = st.Healthy
	out.Body.Current = gw.CurrentProvider()
	out.Body.Status = st
	out.Body.Providers = gw.AvailableProviders()
	return out, nil
}

func (s *Server) handleListProviders(_ context.Context, _ *struct{}) (*listProvidersOutput, error) {
	out := &listProvidersOutput{}
	out.Body.Current = s.services.Gateway.CurrentProvider()
	out.Body.Providers = providerViews(s.services.Gateway)
	return out, nil
}

func (s *Server) handleCheckProviders(ctx context.Context, _ *struct{}) (*checkProvidersOutput, error) {
	results := s.services.Gateway.CheckAllProviders(ctx)

	out := &checkProvidersOutput{}
	out.Body.Providers = make(map[string]health.Status, len(results))
	for tag, st := range results {
		out.Body.Providers[string(tag)] = st
		if st.Healthy {
			out.Body.Healthy++
		}
	}
	out.Body.Total = len(results)
	return out, nil
}

func (s *Server) handleSwitchProvider(_ context.Context, input *switchProviderInput) (*switchProviderOutput, error) {
	gw := s.services.Gateway
	previous := gw.CurrentProvider()
	if err := gw.SwitchProvider(provider.Tag(input.Body.Provider)); err != nil {
		return nil, errorFrom(err)
	}

	out := &switchProviderOutput{}
	out.Body.Previous = previous
	out.Body.Current = gw.CurrentProvider()
	return out, nil
}

func (s *Server) handleRecoveryStatus(_ context.Context, _ *struct{}) (*recoveryStatusOutput, error) {
	out := &recoveryStatusOutput{}
	out.Body.Counters = map[string]int{}
	if rec := s.services.Recovery; rec != nil {
		out.Body.Monitoring = rec.Monitoring()
		out.Body.Counters = rec.Counters()
		out.Body.Stats = rec.RecoveryStats()
	}
	return out, nil
}

func (s *Server) handleRecoveryHistory(_ context.Context, _ *struct{}) (*recoveryHistoryOutput, error) {
	if rec := s.services.Recovery; rec != nil {
		return &recoveryHistoryOutput{Body: rec.Export()}, nil
	}
	return &recoveryHistoryOutput{Body: monitor.HistoryExport{
		ExportedAt: time.Now(),
		History:    []monitor.RecoveryAction{},
	}}, nil
}

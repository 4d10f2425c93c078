// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package cloud_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omnigate-dev/omnigate/internal/cloud"
	"github.com/omnigate-dev/omnigate/internal/retry"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget_Endpoint(t *testing.T) {
	tests := []struct {
		name   string
		target cloud.Target
		want   string
	}{
		{"default path", cloud.Target{URL: "https://gw.example.com"}, "https://gw.example.com/api/health"},
		{"trailing slash", cloud.Target{URL: "https://gw.example.com/"}, "https://gw.example.com/api/health"},
		{"custom path", cloud.Target{URL: "https://gw.example.com", HealthPath: "healthz"}, "https://gw.example.com/healthz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.target.Endpoint())
		})
	}
	assert.Equal(t, "cloud-vercel", cloud.Target{Name: "vercel"}.Key())
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := cloud.NewOrchestrator([]cloud.Target{
		{Name: "", URL: "https://a.example.com"},
		{Name: "b", URL: "not a url"},
		{Name: "c", URL: "https://c.example.com", Timeout: -time.Second},
		{Name: "d", URL: "https://d.example.com"},
		{Name: "d", URL: "https://d2.example.com"},
	}, nil)
	require.Error(t, err)
	for _, want := range []string{"name must not be empty", `"b"`, `"c"`, `"d" declared twice`} {
		assert.Contains(t, err.Error(), want)
	}

	o, err := cloud.NewOrchestrator(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, o.CheckAll(context.Background()))
}

func TestCheckAll(t *testing.T) {
	var agent atomic.Value
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	noContent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer noContent.Close()

	o, err := cloud.NewOrchestrator([]cloud.Target{
		{Name: "up", URL: up.URL},
		{Name: "down", URL: down.URL},
		{Name: "nocontent", URL: noContent.URL},
	}, up.Client())
	require.NoError(t, err)

	got := o.CheckAll(context.Background())
	require.Len(t, got, 3)
	assert.True(t, got["up"].Healthy)
	assert.Equal(t, "up", got["up"].Provider)
	assert.False(t, got["down"].Healthy)
	assert.Contains(t, got["down"].Error, "HTTP 503")
	assert.False(t, got["nocontent"].Healthy, "only 200 counts as healthy")
	assert.Equal(t, cloud.UserAgent, agent.Load())
}

func TestProbe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	st := cloud.Probe(context.Background(), nil, cloud.Target{Name: "gone", URL: addr})
	assert.False(t, st.Healthy)
	assert.NotEmpty(t, st.Error)
}

func TestProbe_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	st := cloud.Probe(context.Background(), srv.Client(), cloud.Target{Name: "slow", URL: srv.URL, Timeout: 20 * time.Millisecond})
	assert.False(t, st.Healthy)
}

func TestProbeWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	policy := retry.Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	st, err := cloud.ProbeWithRetry(context.Background(), srv.Client(), cloud.Target{Name: "deploy", URL: srv.URL}, policy)
	require.NoError(t, err)
	assert.True(t, st.Healthy)
	assert.Equal(t, int32(3), calls.Load())
}

func TestProbeWithRetry_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	policy := retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	st, err := cloud.ProbeWithRetry(context.Background(), srv.Client(), cloud.Target{Name: "deploy", URL: srv.URL}, policy)
	require.Error(t, err)
	assert.False(t, st.Healthy)
	assert.True(t, omnierr.HasCode(err, omnierr.CodeCloudProbeFailure))
	assert.Equal(t, int32(2), calls.Load())

	_, err = cloud.ProbeWithRetry(context.Background(), nil, cloud.Target{Name: "x", URL: srv.URL}, retry.Policy{})
	assert.Error(t, err, "invalid policy")
}

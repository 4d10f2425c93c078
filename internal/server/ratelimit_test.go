// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package server_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/omnigate-dev/omnigate/internal/metrics"
	"github.com/omnigate-dev/omnigate/internal/server"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestFrom(f *fixture, remote, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	for k, vs := range header {
		req.Header[k] = vs
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestRateLimit_PerClientIP(t *testing.T) {
	m := metrics.New(nil)
	f := newFixture(t, server.Config{RequestsPerMinute: 2}, m)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, requestFrom(f, "10.0.0.1:1000", "/api/v1/providers", nil).Code)
	}
	// A new connection from the same host shares the window.
	w := requestFrom(f, "10.0.0.1:2000", "/api/v1/providers", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(omnierr.CodeServerRateLimited), decode[errorBody](t, w).Code)

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)

	assert.Equal(t, http.StatusOK, requestFrom(f, "10.0.0.2:1000", "/api/v1/providers", nil).Code,
		"other clients keep their own window")

	metricsBody := requestFrom(f, "10.0.0.1:1000", "/metrics", nil).Body.String()
	assert.Contains(t, metricsBody, `omnigate_rate_limited_total{scope="inbound"} 1`)
}

func TestRateLimit_PublicPathsNotCounted(t *testing.T) {
	f := newFixture(t, server.Config{RequestsPerMinute: 1}, nil)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, requestFrom(f, "10.0.0.1:1000", "/api/health", nil).Code)
	}
	assert.Equal(t, http.StatusOK, requestFrom(f, "10.0.0.1:1000", "/api/v1/providers", nil).Code)
}

func TestRateLimit_KeyedByTokenWhenAuthenticated(t *testing.T) {
	f := newFixture(t, server.Config{RequestsPerMinute: 1, AuthSecret: secret}, nil)

	assert.Equal(t, http.StatusOK, requestFrom(f, "10.0.0.1:1000", "/api/v1/providers", bearer(secret)).Code)
	assert.Equal(t, http.StatusTooManyRequests,
		requestFrom(f, "10.0.0.2:1000", "/api/v1/providers", bearer(secret)).Code,
		"the same token from another address shares one window")
}

func TestRateLimit_Disabled(t *testing.T) {
	f := newFixture(t, server.Config{}, nil)

	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusOK, requestFrom(f, "10.0.0.1:1000", "/api/v1/providers", nil).Code)
	}
}

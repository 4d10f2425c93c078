// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omnigate-dev/omnigate/internal/provider"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey_Headers(t *testing.T) {
	tests := []struct {
		tag   provider.Tag
		check func(t *testing.T, r *http.Request)
	}{
		{provider.TagAnthropic, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
			assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		}},
		{provider.TagOpenAI, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		}},
		{provider.TagOpenRouter, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		}},
		{provider.TagGoogle, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "test-api-key", r.URL.Query().Get("key"))
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.tag), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/models", r.URL.Path)
				tt.check(t, r)
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			}))
			defer srv.Close()

			err := provider.ValidateKey(context.Background(), srv.Client(), tt.tag, "test-api-key", srv.URL+"/v1")
			require.NoError(t, err)
		})
	}
}

func TestValidateKey_Errors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantCode   omnierr.Code
	}{
		{name: "401 rejected", statusCode: http.StatusUnauthorized, wantCode: omnierr.CodeProviderUpstreamRejected},
		{name: "403 rejected", statusCode: http.StatusForbidden, wantCode: omnierr.CodeProviderUpstreamRejected},
		{name: "429 rate limited", statusCode: http.StatusTooManyRequests, wantCode: omnierr.CodeProviderRateLimited},
		{name: "503 unavailable", statusCode: http.StatusServiceUnavailable, wantCode: omnierr.CodeProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			err := provider.ValidateKey(context.Background(), srv.Client(), provider.TagOpenAI, "k", srv.URL)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, omnierr.CodeOf(err))
		})
	}
}

func TestValidateKey_MissingKeyAndUnknownTag(t *testing.T) {
	err := provider.ValidateKey(context.Background(), nil, provider.TagOpenAI, "  ", "")
	assert.True(t, omnierr.HasCode(err, omnierr.CodeProviderCredentialMissing))

	err = provider.ValidateKey(context.Background(), nil, provider.Tag("mistral"), "k", "")
	assert.True(t, omnierr.IsNotFound(err))
}

func TestValidateKey_TransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := provider.ValidateKey(context.Background(), http.DefaultClient, provider.TagAnthropic, "k", url)
	require.Error(t, err)
	assert.True(t, omnierr.IsUnavailable(err))
}

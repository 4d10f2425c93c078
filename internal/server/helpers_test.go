// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omnigate-dev/omnigate/internal/adapter"
	"github.com/omnigate-dev/omnigate/internal/metrics"
	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/internal/provider/providertest"
	"github.com/omnigate-dev/omnigate/internal/server"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv      *server.Server
	services *server.Services
	adapter  *adapter.Adapter
	clients  map[provider.Tag]*providertest.Client
}

func defaultTags() []provider.Tag {
	return []provider.Tag{provider.TagAnthropic, provider.TagOpenAI}
}

// newFixture builds a server over fake clients enabled in tags order,
// without a monitor.
func newFixture(t *testing.T, cfg server.Config, m *metrics.Metrics, tags ...provider.Tag) *fixture {
	t.Helper()
	if len(tags) == 0 {
		tags = defaultTags()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}

	descs := make([]provider.Descriptor, 0, len(tags))
	for i, tag := range tags {
		descs = append(descs, provider.Descriptor{Tag: tag, Enabled: true, Priority: i + 1, APIKey: "k"})
	}
	reg, err := provider.NewRegistry(descs)
	require.NoError(t, err)

	fakes := make(map[provider.Tag]*providertest.Client, len(tags))
	clients := make(map[provider.Tag]provider.Client, len(tags))
	for _, tag := range tags {
		c := providertest.NewClient(tag)
		fakes[tag] = c
		clients[tag] = c
	}
	a, err := adapter.New(reg, clients, adapter.Options{})
	require.NoError(t, err)

	svc := &server.Services{Gateway: a}
	srv, err := server.New(cfg, svc, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return &fixture{srv: srv, services: svc, adapter: a, clients: fakes}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func unavailable(tag provider.Tag) error {
	return omnierr.New(omnierr.CodeProviderUnavailable, string(tag)+" is down", omnierr.FieldProvider(string(tag)))
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

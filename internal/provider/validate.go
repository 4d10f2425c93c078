// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

var modelsEndpoints = map[Tag]string{
	TagAnthropic:  "https://api.anthropic.com/v1/models",
	TagOpenAI:     "https://api.openai.com/v1/models",
	TagGoogle:     "https://generativelanguage.googleapis.com/v1beta/models",
	TagOpenRouter: "https://openrouter.ai/api/v1/models",
}

// ValidateKey makes a lightweight call to the provider's models endpoint
// to confirm key is accepted. baseURL overrides the vendor default; the
// models path is appended to it.
func ValidateKey(ctx context.Context, client *http.Client, tag Tag, key, baseURL string) error {
	if strings.TrimSpace(key) == "" {
		return MissingCredential(tag)
	}
	endpoint, ok := modelsEndpoints[tag]
	if !ok {
		return omnierr.Errorf(omnierr.CodeProviderNotFound, "unknown provider: %s", tag)
	}
	if baseURL != "" {
		endpoint = strings.TrimRight(baseURL, "/") + "/models"
	}

	headers := map[string]string{}
	switch tag {
	case TagAnthropic:
		headers["x-api-key"] = key
		headers["anthropic-version"] = "2023-06-01"
	case TagOpenAI, TagOpenRouter:
		headers["Authorization"] = "Bearer " + key
	case TagGoogle:
		// The Generative Language API authenticates via query parameter.
		u, err := url.Parse(endpoint)
		if err != nil {
			return omnierr.Wrap(err, omnierr.CodeProviderRequestInvalid, "parsing models endpoint",
				omnierr.FieldProvider(string(tag)))
		}
		q := u.Query()
		q.Set("key", key)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return omnierr.Wrap(err, omnierr.CodeProviderRequestInvalid, "building validation request",
			omnierr.FieldProvider(string(tag)))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Classify(tag, 0, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return omnierr.Errorf(omnierr.CodeProviderUpstreamRejected,
			"invalid %s API key (HTTP %d)", tag, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return Classify(tag, resp.StatusCode, ParseRetryAfter(resp.Header),
			fmt.Errorf("%s validation failed (HTTP %d)", tag, resp.StatusCode))
	}
	return nil
}

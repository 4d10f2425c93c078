// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/spf13/cobra"
)

const defaultGatewayAddr = "127.0.0.1:8787"

// defaultHTTPClient is the package-level HTTP client used by gateway commands.
// Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// gatewayClient provides HTTP access to a running Omnigate gateway.
type gatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newGatewayClient creates a client targeting the given host:port address.
func newGatewayClient(addr, token string) *gatewayClient {
	return &gatewayClient{
		baseURL: "http://" + addr,
		token:   token,
		http:    defaultHTTPClient,
	}
}

// addGatewayFlags registers --address and --token on cmd.
func addGatewayFlags(cmd *cobra.Command) {
	cmd.Flags().String("address", defaultGatewayAddr, "gateway address (host:port)")
	cmd.Flags().String("token", "", "bearer token (default $OMNIGATE_AUTH_SECRET)")
}

func gatewayFromFlags(cmd *cobra.Command) (*gatewayClient, string) {
	addr, _ := cmd.Flags().GetString("address")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("OMNIGATE_AUTH_SECRET")
	}
	return newGatewayClient(addr, token), addr
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *gatewayClient) getJSON(path string, dest any) error {
	return c.do(http.MethodGet, path, nil, dest)
}

// postJSON sends body as JSON and decodes the response into dest.
func (c *gatewayClient) postJSON(path string, body, dest any) error {
	return c.do(http.MethodPost, path, body, dest)
}

func (c *gatewayClient) do(method, path string, body, dest any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return omnierr.Wrap(err, omnierr.CodeCLIInputInvalid, "encoding request")
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, r)
	if err != nil {
		return omnierr.Wrap(err, omnierr.CodeCLIRequestFailure, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return omnierr.New(omnierr.CodeCLIGatewayNotRunning, "gateway is not running (connection refused)")
		}
		return omnierr.Wrap(err, omnierr.CodeCLIRequestFailure, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return omnierr.New(omnierr.CodeCLIRequestFailure,
				fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, apiErr.Error),
				omnierr.FieldStatusCode(resp.StatusCode), omnierr.Field("gateway_code", apiErr.Code))
		}
		return omnierr.New(omnierr.CodeCLIRequestFailure,
			fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, string(data)),
			omnierr.FieldStatusCode(resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return omnierr.Wrap(err, omnierr.CodeCLIResponseInvalid, "invalid response")
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

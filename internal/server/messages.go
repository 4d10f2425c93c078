// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/omnigate-dev/omnigate/internal/provider"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

const (
	maxMessageBytes = 1 << 20

	headerProvider = "X-Omnigate-Provider"
	headerFallback = "X-Omnigate-Fallback"
	headerWarnings = "X-Omnigate-Warnings"
)

// MetaDuration is the response metadata key holding handler latency in
// milliseconds.
const MetaDuration = "duration"

// MessageResponse is the body of a successful non-streamed message.
type MessageResponse struct {
	Success bool `json:"success"`
	*provider.Response
}

// StreamError is the last line of a stream that failed after its first
// chunk.
type StreamError struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Provider string `json:"provider,omitempty"`
}

func (s *Server) registerMessageRoute() {
	s.router.Post("/api/v1/messages", s.handleMessages)

	// The streaming branch needs the raw ResponseWriter, so the route is
	// served by chi and only documented through huma.
	minPrompt := 1
	minTemp, maxTemp := 0.0, 2.0
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "send-message",
		Method:      http.MethodPost,
		Path:        "/api/v1/messages",
		Summary:     "Send a prompt with automatic provider failover",
		Description: "Routes the prompt to the current provider and falls back in priority order. With stream=true the answer is newline-delimited JSON chunks.",
		Tags:        []string{"messages"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"prompt"},
						Properties: map[string]*huma.Schema{
							"prompt":      {Type: "string", MinLength: &minPrompt},
							"maxTokens":   {Type: "integer", Description: "Output token cap; defaults to 4096"},
							"temperature": {Type: "number", Minimum: &minTemp, Maximum: &maxTemp},
							"thinking":    {Type: "boolean", Description: "Request a reasoning trace"},
							"stream":      {Type: "boolean"},
							"provider": {
								Type:        "string",
								Enum:        []any{"anthropic", "openai", "google", "openrouter"},
								Description: "Provider to try first for this request",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Completed answer, or a chunk stream when stream=true",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Type: "object"}},
					"text/event-stream": {Schema: &huma.Schema{
						Type:        "string",
						Description: "One JSON chunk per line",
					}},
				},
			},
			"400": {Description: "Invalid request or provider not enabled"},
			"401": {Description: "Missing or invalid bearer token"},
			"429": {Description: "Inbound rate limit exceeded"},
			"500": {Description: "Every provider failed"},
		},
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)

	var req provider.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, &APIError{
				Message: "request body too large",
				Code:    string(omnierr.CodeServerRequestInvalid),
			})
			return
		}
		writeError(w, omnierr.Wrap(err, omnierr.CodeServerRequestInvalid, "invalid request body"))
		return
	}

	if req.Stream {
		s.streamMessage(w, r, req)
		return
	}

	start := time.Now()
	resp, err := s.services.Gateway.SendMessage(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	resp.SetMetadata(MetaDuration, time.Since(start).Milliseconds())

	w.Header().Set(headerProvider, string(resp.Provider))
	if used, ok := resp.Metadata[provider.MetaFallbackUsed].(bool); ok {
		w.Header().Set(headerFallback, strconv.FormatBool(used))
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Response: resp})
}

func (s *Server) streamMessage(w http.ResponseWriter, r *http.Request, req provider.Request) {
	ms, err := s.services.Gateway.StreamMessage(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = ms.Close() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(headerProvider, string(ms.Actual))
	w.Header().Set(headerFallback, strconv.FormatBool(ms.FallbackUsed))
	if warnings := ms.Warnings(); len(warnings) > 0 {
		w.Header().Set(headerWarnings, strings.Join(warnings, "; "))
	}
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}
	flush()

	enc := json.NewEncoder(w)
	for ms.Next() {
		if err := enc.Encode(ms.Current()); err != nil {
			slog.Debug("stream client went away", "provider", ms.Actual, "error", err)
			return
		}
		flush()
	}

	if err := ms.Err(); err != nil {
		e := errorFrom(err)
		if e.Provider == "" {
			e.Provider = string(ms.Actual)
		}
		slog.Warn("stream interrupted", "provider", ms.Actual, "code", e.Code, "error", err)
		_ = enc.Encode(StreamError{Type: "error", Error: e.Message, Code: e.Code, Provider: e.Provider})
		flush()
	}
}

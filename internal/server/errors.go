// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

// APIError is the body of every failed response.
type APIError struct {
	status   int
	Message  string   `json:"error" doc:"Human readable message"`
	Code     string   `json:"code,omitempty" doc:"Machine readable error code"`
	Provider string   `json:"provider,omitempty" doc:"Provider the failure is attributed to"`
	Details  []string `json:"details,omitempty" doc:"Validation details"`
}

func (e *APIError) Error() string  { return e.Message }
func (e *APIError) GetStatus() int { return e.status }

func init() {
	huma.NewError = newHumaError
}

// newHumaError replaces huma's problem+json errors so validation failures
// share the gateway's error shape. Schema violations answer 400.
func newHumaError(status int, msg string, errs ...error) huma.StatusError {
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}
	e := &APIError{status: status, Message: msg}
	for _, err := range errs {
		if err == nil {
			continue
		}
		e.Details = append(e.Details, err.Error())
		if e.Code == "" {
			e.Code = string(omnierr.CodeOf(err))
		}
	}
	if e.Code == "" {
		e.Code = string(codeForStatus(status))
	}
	return e
}

// errorFrom maps a coded error onto its HTTP status and body.
func errorFrom(err error) *APIError {
	var se *APIError
	if errors.As(err, &se) {
		return se
	}
	status := omnierr.HTTPStatus(err)
	e := &APIError{status: status, Message: err.Error()}
	if code := omnierr.CodeOf(err); code != "" {
		e.Code = string(code)
	} else {
		e.Code = string(codeForStatus(status))
	}
	if p, ok := omnierr.FieldOf(err, "provider"); ok {
		if s, ok := p.(string); ok {
			e.Provider = s
		}
	}
	return e
}

func codeForStatus(status int) omnierr.Code {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge:
		return omnierr.CodeServerRequestInvalid
	case http.StatusUnauthorized:
		return omnierr.CodeServerAuthUnauthorized
	case http.StatusTooManyRequests:
		return omnierr.CodeServerRateLimited
	default:
		return omnierr.CodeServerInternalFailure
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	e := errorFrom(err)
	if e.status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", e.Code, "provider", e.Provider, "error", err)
	}
	writeJSON(w, e.status, e)
}

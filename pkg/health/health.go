// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package health

import "time"

// Metrics exposes the current health state of a provider for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type Metrics struct {
	FailureCount  int64      `json:"failure_count"`
	SuccessCount  int64      `json:"success_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}

// Status is the result of a single health probe against a provider.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Provider  string    `json:"provider"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Healthy builds a passing status for provider.
func Healthy(provider string, latency time.Duration, at time.Time) Status {
	return Status{
		Healthy:   true,
		Provider:  provider,
		LatencyMs: latency.Milliseconds(),
		Timestamp: at,
	}
}

// Unhealthy builds a failing status carrying the error text. A nil err
// still yields a non-empty Error so callers can always display a reason.
func Unhealthy(provider string, latency time.Duration, at time.Time, err error) Status {
	msg := "unhealthy"
	if err != nil {
		msg = err.Error()
	}
	return Status{
		Healthy:   false,
		Provider:  provider,
		LatencyMs: latency.Milliseconds(),
		Error:     msg,
		Timestamp: at,
	}
}

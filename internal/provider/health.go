// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/omnigate-dev/omnigate/pkg/health"
)

// HealthTracker records the outcome of real traffic against a provider.
// A provider is considered healthy until RecordFailure is called. After a
// failure it stays unavailable for a cooldown period and then becomes
// eligible again so it can recover. Active probes are the monitor's
// concern; this is the passive view shown on status endpoints.
type HealthTracker struct {
	mu           sync.RWMutex
	healthy      bool
	failedAt     time.Time
	lastError    string
	cooldown     time.Duration
	failureCount int64
	successCount int64
	nowFunc      func() time.Time // for testing
}

// DefaultHealthCooldown is the duration after which an unhealthy provider
// becomes eligible for retry.
const DefaultHealthCooldown = 30 * time.Second

// NewHealthTracker creates a HealthTracker that starts healthy.
// Returns an error if cooldown is zero or negative.
func NewHealthTracker(cooldown time.Duration) (*HealthTracker, error) {
	if cooldown <= 0 {
		return nil, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &HealthTracker{
		healthy:  true,
		cooldown: cooldown,
		nowFunc:  time.Now,
	}, nil
}

// isHealthyLocked reports whether the provider is healthy or the cooldown
// has elapsed. The caller MUST hold at least h.mu.RLock.
func (h *HealthTracker) isHealthyLocked() bool {
	if h.healthy {
		return true
	}
	return h.nowFunc().Sub(h.failedAt) >= h.cooldown
}

// IsHealthy returns true if the provider is healthy or the cooldown has elapsed.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

// RecordSuccess marks the provider as healthy.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.healthy = true
	h.successCount++
	h.mu.Unlock()
}

// RecordFailure marks the provider as unhealthy and increments the
// cumulative failure count.
func (h *HealthTracker) RecordFailure(err error) {
	h.mu.Lock()
	h.healthy = false
	h.failedAt = h.nowFunc()
	h.failureCount++
	if err != nil {
		h.lastError = err.Error()
	}
	h.mu.Unlock()
}

// Record dispatches to RecordSuccess or RecordFailure. Caller mistakes
// and caller cancellation do not count against the provider.
func (h *HealthTracker) Record(err error) {
	switch {
	case err == nil:
		h.RecordSuccess()
	case errors.Is(err, context.Canceled):
	case omnierr.HasCode(err, omnierr.CodeProviderUpstreamRejected),
		omnierr.HasCode(err, omnierr.CodeProviderFeatureUnsupported),
		omnierr.HasCode(err, omnierr.CodeProviderRequestInvalid):
	default:
		h.RecordFailure(err)
	}
}

// SetNowFunc overrides the time source (for testing).
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

// LastError returns the text of the most recent recorded failure.
func (h *HealthTracker) LastError() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastError
}

// Metrics returns a point-in-time snapshot of the tracker's state. The
// returned struct holds no references to tracker internals.
func (h *HealthTracker) Metrics() health.Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := health.Metrics{
		FailureCount: h.failureCount,
		SuccessCount: h.successCount,
		LastError:    h.lastError,
	}

	if h.failureCount > 0 {
		t := h.failedAt
		m.LastFailureAt = &t
	}

	m.Available = h.isHealthyLocked()
	if !h.healthy {
		cooldownEnd := h.failedAt.Add(h.cooldown)
		m.CooldownUntil = &cooldownEnd
	}
	return m
}

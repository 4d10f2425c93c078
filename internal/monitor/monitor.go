// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

// Package monitor watches the current provider and the cloud deployments
// on a timer and switches providers when the current one keeps failing.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omnigate-dev/omnigate/internal/cloud"
	"github.com/omnigate-dev/omnigate/internal/metrics"
	"github.com/omnigate-dev/omnigate/internal/provider"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/omnigate-dev/omnigate/pkg/health"
)

const (
	DefaultAlertThreshold = 3
	DefaultInterval       = 30 * time.Second
	DefaultProbeTimeout   = 15 * time.Second
)

// NoAlternative is recorded as the failover provider when there was
// nothing to switch to.
const NoAlternative = "none"

// Target is the provider side the monitor probes and steers.
// *adapter.Adapter implements it.
type Target interface {
	CurrentProvider() provider.Tag
	CheckProvider(ctx context.Context, tag provider.Tag) (health.Status, error)
	NextAfter(tag provider.Tag) (provider.Tag, bool)
	SwitchProvider(tag provider.Tag) error
}

// CloudChecker reports deployment health keyed by target name.
// *cloud.Orchestrator implements it.
type CloudChecker interface {
	CheckAll(ctx context.Context) map[string]health.Status
}

// Level grades an alert.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert is raised when a target crosses the threshold or a failover fails.
type Alert struct {
	Level   Level     `json:"level"`
	Target  string    `json:"target"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Config tunes a Monitor. Zero values take package defaults.
type Config struct {
	AlertThreshold int
	ProbeTimeout   time.Duration
	// HistoryLimit caps the recovery log, dropping the oldest entries.
	// Zero keeps everything.
	HistoryLimit int
	// Alert is called synchronously from the monitor goroutine.
	Alert   func(Alert)
	Metrics *metrics.Metrics
}

// Monitor is safe for concurrent use.
type Monitor struct {
	target Target
	cloud  CloudChecker
	cfg    Config

	// tickMu serializes ticks, manual checks and failovers.
	tickMu sync.Mutex

	mu       sync.Mutex
	counters map[string]int
	history  []RecoveryAction

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an idle Monitor. cloud may be nil.
func New(target Target, cloud CloudChecker, cfg Config) (*Monitor, error) {
	if target == nil {
		return nil, omnierr.New(omnierr.CodeConfigValidateInvalidValue, "monitor needs a provider target")
	}
	if cfg.AlertThreshold < 0 || cfg.HistoryLimit < 0 || cfg.ProbeTimeout < 0 {
		return nil, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"monitor settings must not be negative (threshold %d, history %d, probe timeout %s)",
			cfg.AlertThreshold, cfg.HistoryLimit, cfg.ProbeTimeout)
	}
	if cfg.AlertThreshold == 0 {
		cfg.AlertThreshold = DefaultAlertThreshold
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Monitor{
		target:   target,
		cloud:    cloud,
		cfg:      cfg,
		counters: make(map[string]int),
	}, nil
}

// Start begins probing every interval. Calling Start while already
// running logs a warning and does nothing.
func (m *Monitor) Start(interval time.Duration) error {
	if interval <= 0 {
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"monitor interval must be positive, got %s", interval)
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		slog.Warn("health monitoring already active, ignoring start")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, interval, m.done)

	slog.Info("health monitoring started", "interval", interval, "alert_threshold", m.cfg.AlertThreshold)
	return nil
}

// Stop halts probing and waits for an in-flight tick to finish. It is a
// no-op when the monitor is idle.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("health monitoring stopped")
}

// Monitoring reports whether the periodic loop is running.
func (m *Monitor) Monitoring() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs one tick: the current provider, then each cloud target.
// It waits for any tick already in progress. Results that arrive after
// ctx is done are discarded, so cancelling never counts as a failure.
func (m *Monitor) CheckNow(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	if ctx.Err() != nil {
		return
	}

	current := m.target.CurrentProvider()
	st := m.probe(ctx, string(current), func(ctx context.Context) health.Status {
		return m.checkProvider(ctx, current)
	})
	if ctx.Err() != nil {
		slog.Debug("health check cancelled", "target", current)
		return
	}
	if m.observe(string(current), st) {
		reason := fmt.Sprintf("%s failed %d consecutive health checks: %s",
			current, m.cfg.AlertThreshold, st.Error)
		m.performFailover(ctx, current, reason)
		m.reset(string(current))
	}

	statuses := m.checkCloud(ctx)
	if ctx.Err() != nil {
		return
	}
	for name, st := range statuses {
		key := cloud.Target{Name: name}.Key()
		if m.observe(key, st) {
			m.alert(LevelWarning, key, fmt.Sprintf("deployment %s failed %d consecutive health checks: %s",
				name, m.cfg.AlertThreshold, st.Error))
			m.reset(key)
		}
	}
}

// checkProvider probes tag itself rather than whatever is current when
// the probe starts.
func (m *Monitor) checkProvider(ctx context.Context, tag provider.Tag) health.Status {
	st, err := m.target.CheckProvider(ctx, tag)
	if err != nil {
		return health.Unhealthy(string(tag), 0, time.Now(), err)
	}
	return st
}

// probe runs check under the probe timeout. Panics become unhealthy
// statuses.
func (m *Monitor) probe(ctx context.Context, name string, check func(context.Context) health.Status) (st health.Status) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("health probe panicked", "target", name, "panic", r, "stack", string(debug.Stack()))
			st = health.Unhealthy(name, time.Since(start), time.Now(), fmt.Errorf("probe panicked: %v", r))
		}
	}()
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	return check(pctx)
}

func (m *Monitor) checkCloud(ctx context.Context) (out map[string]health.Status) {
	if m.cloud == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cloud health check panicked", "panic", r)
			out = nil
		}
	}()
	return m.cloud.CheckAll(ctx)
}

// observe updates key's counter and reports whether it reached the
// threshold.
func (m *Monitor) observe(key string, st health.Status) bool {
	m.mu.Lock()
	if st.Healthy {
		m.counters[key] = 0
	} else {
		m.counters[key]++
	}
	n := m.counters[key]
	m.mu.Unlock()

	m.cfg.Metrics.ObserveProbe(key, st.Healthy, n)
	if st.Healthy {
		slog.Debug("health check passed", "target", key, "latency_ms", st.LatencyMs)
		return false
	}
	slog.Warn("health check failed", "target", key, "consecutive", n, "threshold", m.cfg.AlertThreshold, "error", st.Error)
	return n >= m.cfg.AlertThreshold
}

func (m *Monitor) reset(key string) {
	m.mu.Lock()
	m.counters[key] = 0
	m.mu.Unlock()
	m.cfg.Metrics.ResetStreak(key)
}

// Counters returns a copy of the consecutive-failure counters.
func (m *Monitor) Counters() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// PerformFailover switches away from the current provider and records the
// outcome. It never returns an error; failures are recorded as
// unsuccessful actions and alerted.
func (m *Monitor) PerformFailover(ctx context.Context, reason string) RecoveryAction {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	return m.performFailover(ctx, m.target.CurrentProvider(), reason)
}

func (m *Monitor) performFailover(ctx context.Context, failed provider.Tag, reason string) (action RecoveryAction) {
	start := time.Now()
	action = RecoveryAction{
		ID:               uuid.NewString(),
		Timestamp:        start,
		FailedProvider:   string(failed),
		FailoverProvider: NoAlternative,
		Reason:           reason,
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("failover panicked", "provider", failed, "panic", r, "stack", string(debug.Stack()))
			action.Success = false
			action.Outcome = OutcomeSwitchFailed
			action.Error = fmt.Sprintf("failover panicked: %v", r)
		}
		action.DurationMs = time.Since(start).Milliseconds()
		m.record(action)
	}()

	next, ok := m.target.NextAfter(failed)
	if !ok {
		action.Outcome = OutcomeNoAlternative
		action.Error = "no alternative provider enabled"
		m.alert(LevelCritical, string(failed),
			fmt.Sprintf("%s is unhealthy and no alternative provider is enabled", failed))
		return action
	}
	action.FailoverProvider = string(next)

	if err := m.target.SwitchProvider(next); err != nil {
		action.Outcome = OutcomeSwitchFailed
		action.Error = err.Error()
		m.alert(LevelCritical, string(failed), fmt.Sprintf("switching from %s to %s failed: %v", failed, next, err))
		return action
	}

	st := m.probe(ctx, string(next), func(ctx context.Context) health.Status {
		return m.checkProvider(ctx, next)
	})
	if !st.Healthy {
		action.Outcome = OutcomeFailoverUnhealthy
		action.Error = st.Error
		m.alert(LevelCritical, string(next),
			fmt.Sprintf("switched from %s to %s but %s is also unhealthy: %s", failed, next, next, st.Error))
		return action
	}

	action.Success = true
	action.Outcome = OutcomeFailoverSucceeded
	slog.Info("failover succeeded", "from", failed, "to", next, "reason", reason)
	return action
}

func (m *Monitor) alert(level Level, target, msg string) {
	a := Alert{Level: level, Target: target, Message: msg, At: time.Now()}
	switch level {
	case LevelCritical:
		slog.Error("health alert", "level", level, "target", target, "message", msg)
	default:
		slog.Warn("health alert", "level", level, "target", target, "message", msg)
	}
	if m.cfg.Alert == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("alert hook panicked", "panic", r)
		}
	}()
	m.cfg.Alert(a)
}

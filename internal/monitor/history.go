// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package monitor

import (
	"encoding/json"
	"time"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

// Outcome classifies a recovery attempt.
type Outcome string

const (
	OutcomeFailoverSucceeded Outcome = "failover_succeeded"
	OutcomeFailoverUnhealthy Outcome = "failover_unhealthy"
	OutcomeNoAlternative     Outcome = "no_alternative"
	OutcomeSwitchFailed      Outcome = "switch_failed"
)

// RecoveryAction is one failover attempt. Entries are appended and never
// changed.
type RecoveryAction struct {
	ID               string    `json:"id" yaml:"id"`
	Timestamp        time.Time `json:"timestamp" yaml:"timestamp"`
	FailedProvider   string    `json:"failed_provider" yaml:"failed_provider"`
	FailoverProvider string    `json:"failover_provider" yaml:"failover_provider"`
	Reason           string    `json:"reason" yaml:"reason"`
	Success          bool      `json:"success" yaml:"success"`
	Outcome          Outcome   `json:"outcome" yaml:"outcome"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs       int64     `json:"duration_ms" yaml:"duration_ms"`
}

// RecoveryStats summarizes the recovery log.
type RecoveryStats struct {
	Total         int             `json:"total" yaml:"total"`
	Successful    int             `json:"successful" yaml:"successful"`
	Failed        int             `json:"failed" yaml:"failed"`
	SuccessRate   float64         `json:"success_rate" yaml:"success_rate"`
	AvgDurationMs float64         `json:"avg_duration_ms" yaml:"avg_duration_ms"`
	LastRecovery  *RecoveryAction `json:"last_recovery,omitempty" yaml:"last_recovery,omitempty"`
}

// HistoryExport is the document produced by ExportHistory.
type HistoryExport struct {
	ExportedAt time.Time        `json:"exported_at" yaml:"exported_at"`
	Stats      RecoveryStats    `json:"stats" yaml:"stats"`
	History    []RecoveryAction `json:"history" yaml:"history"`
}

func (m *Monitor) record(a RecoveryAction) {
	m.mu.Lock()
	m.history = append(m.history, a)
	if limit := m.cfg.HistoryLimit; limit > 0 && len(m.history) > limit {
		m.history = append([]RecoveryAction(nil), m.history[len(m.history)-limit:]...)
	}
	m.mu.Unlock()
	m.cfg.Metrics.ObserveRecovery(string(a.Outcome))
}

// History returns a copy of the recovery log, oldest first.
func (m *Monitor) History() []RecoveryAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecoveryAction{}, m.history...)
}

// RecoveryStats summarizes the whole log. SuccessRate is a percentage.
func (m *Monitor) RecoveryStats() RecoveryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return statsOf(m.history)
}

func statsOf(history []RecoveryAction) RecoveryStats {
	var s RecoveryStats
	s.Total = len(history)
	if s.Total == 0 {
		return s
	}
	var total int64
	for _, a := range history {
		if a.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		total += a.DurationMs
	}
	s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
	s.AvgDurationMs = float64(total) / float64(s.Total)
	last := history[len(history)-1]
	s.LastRecovery = &last
	return s
}

// Export snapshots the log and its stats together.
func (m *Monitor) Export() HistoryExport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HistoryExport{
		ExportedAt: time.Now().UTC(),
		Stats:      statsOf(m.history),
		History:    append([]RecoveryAction{}, m.history...),
	}
}

// ExportHistory renders Export as indented JSON.
func (m *Monitor) ExportHistory() ([]byte, error) {
	data, err := json.MarshalIndent(m.Export(), "", "  ")
	if err != nil {
		return nil, omnierr.Wrap(err, omnierr.CodeMonitorExportFailure, "encoding recovery history")
	}
	return data, nil
}

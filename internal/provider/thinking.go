// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider

import (
	"strings"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

// Effort is the configured reasoning tier.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

var thinkingBudgets = map[Effort]int64{
	EffortLow:    1024,
	EffortMedium: 4096,
	EffortHigh:   16384,
}

// ParseEffort accepts low, medium or high. Empty means medium.
func ParseEffort(s string) (Effort, error) {
	e := Effort(strings.ToLower(strings.TrimSpace(s)))
	if e == "" {
		return EffortMedium, nil
	}
	if _, ok := thinkingBudgets[e]; !ok {
		return "", omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"reasoning effort must be low, medium or high, got %q", s)
	}
	return e, nil
}

// ThinkingBudget returns the token ceiling for e. Unknown tiers get the
// medium budget.
func ThinkingBudget(e Effort) int64 {
	if b, ok := thinkingBudgets[e]; ok {
		return b
	}
	return thinkingBudgets[EffortMedium]
}

// Thinking is the reasoning configuration attached to a Call.
type Thinking struct {
	Effort       Effort
	BudgetTokens int64
}

// NewThinking builds the Thinking for tier e.
func NewThinking(e Effort) *Thinking {
	if _, ok := thinkingBudgets[e]; !ok {
		e = EffortMedium
	}
	return &Thinking{Effort: e, BudgetTokens: ThinkingBudget(e)}
}

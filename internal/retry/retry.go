// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

// Package retry implements capped exponential backoff for upstream calls.
package retry

import (
	"context"
	"math"
	"time"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts. The wait before retry n (0-based) is
// min(InitialDelay * Multiplier^n, MaxDelay).
type Policy struct {
	MaxAttempts  int           `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" json:"multiplier" yaml:"multiplier"`
}

// DefaultPolicy returns the policy used for provider calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// ProbePolicy returns the slower policy used for deployment health probes.
func ProbePolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
	}
}

// None attempts an operation exactly once.
func None() Policy {
	return Policy{MaxAttempts: 1}
}

// Validate reports the first invalid field.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"retry max attempts must be at least 1, got %d", p.MaxAttempts)
	case p.InitialDelay < 0:
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"retry initial delay must not be negative, got %s", p.InitialDelay)
	case p.MaxDelay < p.InitialDelay:
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"retry max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay)
	case p.Multiplier < 1:
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"retry multiplier must be at least 1, got %g", p.Multiplier)
	}
	return nil
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 || p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Hooks customise a Do loop. Nil fields fall back to retrying every error
// with no hint and no callback.
type Hooks struct {
	// Retryable reports whether err is worth another attempt.
	Retryable func(err error) bool
	// RetryAfter extracts an upstream hint; zero means none.
	RetryAfter func(err error) time.Duration
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, the policy
// runs out of attempts, or ctx is done. The last error from fn is returned.
// attempt is 0-based.
func Do(ctx context.Context, p Policy, h Hooks, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		if h.Retryable != nil && !h.Retryable(err) {
			return err
		}

		wait := p.Delay(attempt)
		if h.RetryAfter != nil {
			if hint := h.RetryAfter(err); hint > wait {
				wait = hint
				if p.MaxDelay > 0 && wait > p.MaxDelay {
					wait = p.MaxDelay
				}
			}
		}
		if h.OnRetry != nil {
			h.OnRetry(attempt+1, wait, err)
		}

		if wait <= 0 {
			if ctx.Err() != nil {
				return err
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

// Package ratelimit provides an in-memory rolling-window request limiter
// keyed by caller.
package ratelimit

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

const (
	defaultWindow  = time.Minute
	defaultMaxKeys = 10000
)

// Config controls a Window. A Limit of zero or less disables limiting.
type Config struct {
	Limit   int
	Window  time.Duration
	MaxKeys int
}

func (c *Config) applyDefaults() {
	if c.Window == 0 {
		c.Window = defaultWindow
	}
	if c.MaxKeys == 0 {
		c.MaxKeys = defaultMaxKeys
	}
}

func (c *Config) validate() error {
	if c.Limit < 0 {
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"rate limit must not be negative (got %d)", c.Limit)
	}
	if c.Window < 0 {
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"rate limit window must be positive (got %s)", c.Window)
	}
	if c.MaxKeys < 0 {
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"rate limit max keys must not be negative (got %d)", c.MaxKeys)
	}
	return nil
}

type visitor struct {
	hits     []time.Time
	lastSeen time.Time
}

// Window admits at most Limit requests per key in any rolling Window.
// The zero value and a nil *Window admit everything.
type Window struct {
	cfg      Config
	mu       sync.Mutex
	visitors map[string]*visitor
	nowFunc  func() time.Time
}

// New validates cfg and returns a Window.
func New(cfg Config) (*Window, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Window{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		nowFunc:  time.Now,
	}, nil
}

// Limit returns the configured requests per window.
func (w *Window) Limit() int {
	if w == nil {
		return 0
	}
	return w.cfg.Limit
}

// SetNowFunc overrides the time source (for testing).
func (w *Window) SetNowFunc(fn func() time.Time) {
	w.mu.Lock()
	w.nowFunc = fn
	w.mu.Unlock()
}

// Allow records a request for key and reports whether it fits in the
// window. When it does not, retryAfter is the time until the oldest hit
// leaves the window.
func (w *Window) Allow(key string) (ok bool, retryAfter time.Duration) {
	if w == nil || w.cfg.Limit <= 0 {
		return true, 0
	}
	if key == "" {
		key = "unknown"
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFunc()
	v, found := w.visitors[key]
	if !found {
		if w.cfg.MaxKeys > 0 && len(w.visitors) >= w.cfg.MaxKeys {
			w.sweepLocked(now)
		}
		v = &visitor{}
		w.visitors[key] = v
	}
	v.lastSeen = now

	cutoff := now.Add(-w.cfg.Window)
	idx := 0
	for idx < len(v.hits) && !v.hits[idx].After(cutoff) {
		idx++
	}
	v.hits = v.hits[idx:]

	if len(v.hits) >= w.cfg.Limit {
		return false, v.hits[0].Add(w.cfg.Window).Sub(now)
	}
	v.hits = append(v.hits, now)
	return true, 0
}

// Remaining returns how many requests key may still make in the current
// window without recording one.
func (w *Window) Remaining(key string) int {
	if w == nil || w.cfg.Limit <= 0 {
		return -1
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	v, ok := w.visitors[key]
	if !ok {
		return w.cfg.Limit
	}
	cutoff := w.nowFunc().Add(-w.cfg.Window)
	used := 0
	for _, hit := range v.hits {
		if hit.After(cutoff) {
			used++
		}
	}
	return max(w.cfg.Limit-used, 0)
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.visitors)
}

// Sweep drops idle keys and enforces MaxKeys.
func (w *Window) Sweep() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.sweepLocked(w.nowFunc())
	w.mu.Unlock()
}

// Cleanup sweeps periodically until done is closed.
func (w *Window) Cleanup(interval time.Duration, done <-chan struct{}) {
	if w == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Sweep()
		case <-done:
			return
		}
	}
}

func (w *Window) sweepLocked(now time.Time) {
	type entry struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(w.visitors))
	for key, v := range w.visitors {
		if now.Sub(v.lastSeen) > w.cfg.Window {
			delete(w.visitors, key)
			continue
		}
		entries = append(entries, entry{key: key, lastSeen: v.lastSeen})
	}

	// Leave room for the key about to be inserted.
	if w.cfg.MaxKeys <= 0 || len(entries) < w.cfg.MaxKeys {
		return
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return a.lastSeen.Compare(b.lastSeen)
	})
	toEvict := len(entries) - w.cfg.MaxKeys + 1
	for i := 0; i < toEvict; i++ {
		delete(w.visitors, entries[i].key)
	}
	slog.Warn("rate limiter key cap enforced",
		"evicted", toEvict, "max_keys", w.cfg.MaxKeys, "remaining", len(w.visitors))
}

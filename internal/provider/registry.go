// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider

import (
	"fmt"
	"slices"
	"strings"
	"time"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

// Descriptor is the static configuration of one provider.
type Descriptor struct {
	Tag     Tag
	Enabled bool
	// Priority orders providers; lower is tried first.
	Priority int
	// CredentialRef is the literal key or a keyring:// reference as
	// written in config. It is never exposed over the API.
	CredentialRef string
	// APIKey is the resolved credential.
	APIKey             string
	Model              string
	RateLimitPerMinute int
	Timeout            time.Duration
	BaseURL            string
}

// DefaultModels are used when config names no model.
var DefaultModels = map[Tag]string{
	TagAnthropic:  "claude-sonnet-4-5",
	TagOpenAI:     "gpt-4.1",
	TagGoogle:     "gemini-2.5-flash",
	TagOpenRouter: "anthropic/claude-sonnet-4-5",
}

// DefaultTimeout bounds one upstream attempt when config sets none.
const DefaultTimeout = 60 * time.Second

// Registry is the read-only set of configured providers. It is built once
// at startup; changes require a restart.
type Registry struct {
	descriptors []Descriptor
	byTag       map[Tag]int
	enabled     []Descriptor
}

// NewRegistry validates descs and freezes them. Declaration order is kept
// as the tie-breaker for equal priorities.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make([]Descriptor, 0, len(descs)),
		byTag:       make(map[Tag]int, len(descs)),
	}

	var errs []error
	for i, d := range descs {
		if !d.Tag.Known() {
			errs = append(errs, omnierr.Errorf(omnierr.CodeProviderRegistryInvalid,
				"descriptor %d: unknown provider %q", i, d.Tag))
			continue
		}
		if _, dup := r.byTag[d.Tag]; dup {
			errs = append(errs, omnierr.Errorf(omnierr.CodeProviderRegistryInvalid,
				"descriptor %d: provider %q declared twice", i, d.Tag))
			continue
		}
		if d.RateLimitPerMinute < 0 {
			errs = append(errs, omnierr.Errorf(omnierr.CodeProviderRegistryInvalid,
				"provider %q: rate limit must not be negative", d.Tag))
			continue
		}
		if d.Timeout < 0 {
			errs = append(errs, omnierr.Errorf(omnierr.CodeProviderRegistryInvalid,
				"provider %q: timeout must not be negative", d.Tag))
			continue
		}
		if d.Model == "" {
			d.Model = DefaultModels[d.Tag]
		}
		if d.Timeout == 0 {
			d.Timeout = DefaultTimeout
		}
		if d.Enabled && strings.TrimSpace(d.APIKey) == "" {
			errs = append(errs, omnierr.Errorf(omnierr.CodeProviderCredentialMissing,
				"provider %q is enabled without a credential", d.Tag))
			continue
		}
		r.byTag[d.Tag] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
	}
	if len(errs) > 0 {
		return nil, omnierr.Join(errs...)
	}

	for _, d := range r.descriptors {
		if d.Enabled {
			r.enabled = append(r.enabled, d)
		}
	}
	slices.SortStableFunc(r.enabled, func(a, b Descriptor) int {
		return a.Priority - b.Priority
	})
	return r, nil
}

// EnabledInPriorityOrder returns enabled descriptors, lowest priority
// first, ties in declaration order. The slice is a copy.
func (r *Registry) EnabledInPriorityOrder() []Descriptor {
	return slices.Clone(r.enabled)
}

// EnabledTags is EnabledInPriorityOrder reduced to tags.
func (r *Registry) EnabledTags() []Tag {
	tags := make([]Tag, len(r.enabled))
	for i, d := range r.enabled {
		tags[i] = d.Tag
	}
	return tags
}

// All returns every descriptor in declaration order.
func (r *Registry) All() []Descriptor {
	return slices.Clone(r.descriptors)
}

// Get returns the descriptor for tag.
func (r *Registry) Get(tag Tag) (Descriptor, bool) {
	i, ok := r.byTag[tag]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// IsEnabled reports whether tag is configured and enabled.
func (r *Registry) IsEnabled(tag Tag) bool {
	d, ok := r.Get(tag)
	return ok && d.Enabled
}

// Len returns the number of enabled providers.
func (r *Registry) Len() int { return len(r.enabled) }

// String renders the priority order for logs.
func (r *Registry) String() string {
	parts := make([]string, len(r.enabled))
	for i, d := range r.enabled {
		parts[i] = fmt.Sprintf("%s(%d)", d.Tag, d.Priority)
	}
	return strings.Join(parts, " > ")
}

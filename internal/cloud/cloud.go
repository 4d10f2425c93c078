// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

// Package cloud probes the health endpoints of deployed gateway instances.
package cloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omnigate-dev/omnigate/internal/retry"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/omnigate-dev/omnigate/pkg/health"
)

// UserAgent identifies health probes in deployment access logs.
const UserAgent = "omnigate-health-monitor/1.0"

const (
	DefaultHealthPath = "/api/health"
	DefaultTimeout    = 10 * time.Second
)

// Target is one deployment to watch.
type Target struct {
	Name       string        `mapstructure:"name" json:"name" yaml:"name"`
	URL        string        `mapstructure:"url" json:"url" yaml:"url"`
	HealthPath string        `mapstructure:"health_path" json:"health_path,omitempty" yaml:"health_path,omitempty"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Key is the failure-counter key the monitor uses for t.
func (t Target) Key() string { return "cloud-" + t.Name }

// Endpoint joins URL and HealthPath.
func (t Target) Endpoint() string {
	path := t.HealthPath
	if path == "" {
		path = DefaultHealthPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(t.URL, "/") + path
}

// Validate checks that t can be probed.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return omnierr.New(omnierr.CodeConfigValidateInvalidValue, "cloud target name must not be empty")
	}
	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"cloud target %q: url must be an absolute http(s) URL, got %q", t.Name, t.URL)
	}
	if t.Timeout < 0 {
		return omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"cloud target %q: timeout must not be negative", t.Name)
	}
	return nil
}

// Orchestrator watches a fixed set of deployments. It only reads their
// health; deploys happen outside the gateway.
type Orchestrator struct {
	targets []Target
	client  *http.Client
}

// NewOrchestrator validates targets. A nil client uses a plain
// http.Client; per-target timeouts are applied through the context.
func NewOrchestrator(targets []Target, client *http.Client) (*Orchestrator, error) {
	seen := make(map[string]bool, len(targets))
	var errs []error
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[t.Name] {
			errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
				"cloud target %q declared twice", t.Name))
			continue
		}
		seen[t.Name] = true
	}
	if len(errs) > 0 {
		return nil, omnierr.Join(errs...)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Orchestrator{targets: append([]Target(nil), targets...), client: client}, nil
}

// Targets returns the watched deployments in declaration order.
func (o *Orchestrator) Targets() []Target {
	if o == nil {
		return nil
	}
	return append([]Target(nil), o.targets...)
}

// CheckAll probes every target in declaration order, keyed by name. A nil
// Orchestrator has no targets.
func (o *Orchestrator) CheckAll(ctx context.Context) map[string]health.Status {
	if o == nil {
		return map[string]health.Status{}
	}
	out := make(map[string]health.Status, len(o.targets))
	for _, t := range o.targets {
		out[t.Name] = Probe(ctx, o.client, t)
	}
	return out
}

// Probe issues one GET against t's health endpoint. Only HTTP 200 is
// healthy. It never returns an error; failures are reported in the Status.
func Probe(ctx context.Context, client *http.Client, t Target) health.Status {
	start := time.Now()
	if err := check(ctx, client, t); err != nil {
		return health.Unhealthy(t.Name, time.Since(start), time.Now(), err)
	}
	return health.Healthy(t.Name, time.Since(start), time.Now())
}

func check(ctx context.Context, client *http.Client, t Target) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Endpoint(), nil)
	if err != nil {
		return omnierr.Wrap(err, omnierr.CodeCloudProbeFailure, "building health request",
			omnierr.FieldTarget(t.Name))
	}
	req.Header.Set("User-Agent", UserAgent)

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return omnierr.Wrap(err, omnierr.CodeCloudProbeFailure, "requesting "+t.Endpoint(),
			omnierr.FieldTarget(t.Name))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return omnierr.New(omnierr.CodeCloudProbeFailure,
			fmt.Sprintf("%s returned HTTP %d", t.Endpoint(), resp.StatusCode),
			omnierr.FieldTarget(t.Name), omnierr.FieldStatusCode(resp.StatusCode))
	}
	return nil
}

// ProbeWithRetry probes t until it is healthy or p runs out of attempts,
// backing off between attempts. It returns the last status and, when
// unhealthy, the last error.
func ProbeWithRetry(ctx context.Context, client *http.Client, t Target, p retry.Policy) (health.Status, error) {
	if err := p.Validate(); err != nil {
		return health.Status{}, err
	}
	start := time.Now()
	hooks := retry.Hooks{
		OnRetry: func(attempt int, wait time.Duration, err error) {
			slog.Warn("deployment not healthy yet",
				"target", t.Name, "attempt", attempt, "wait", wait, "error", err)
		},
	}
	err := retry.Do(ctx, p, hooks, func(ctx context.Context, _ int) error {
		return check(ctx, client, t)
	})
	if err != nil {
		return health.Unhealthy(t.Name, time.Since(start), time.Now(), err), err
	}
	return health.Healthy(t.Name, time.Since(start), time.Now()), nil
}

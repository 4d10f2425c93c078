// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

// Package metrics exposes Prometheus collectors for provider calls,
// fallback routing and the health monitor. Every method is nil-safe so
// components can run without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omnigate"

// Metrics holds all gateway collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	providerRequests *prometheus.CounterVec
	providerRetries  *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec
	switches         *prometheus.CounterVec
	currentProvider  *prometheus.GaugeVec
	probes           *prometheus.CounterVec
	failureStreak    *prometheus.GaugeVec
	recoveries       *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry,
// which keeps repeated construction in tests from panicking.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Upstream provider calls by outcome code",
		}, []string{"provider", "operation", "outcome"}),
		providerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Retries of transient upstream failures",
		}, []string{"provider"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Latency of upstream provider calls including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "fallbacks_total",
			Help:      "Requests served by a provider other than the requested one",
		}, []string{"requested", "actual"}),
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "switches_total",
			Help:      "Changes of the current provider",
		}, []string{"from", "to"}),
		currentProvider: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "current_provider",
			Help:      "1 for the provider currently preferred by the adapter",
		}, []string{"provider"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "probes_total",
			Help:      "Health probes run by the monitor",
		}, []string{"target", "healthy"}),
		failureStreak: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "consecutive_failures",
			Help:      "Consecutive failed probes per target",
		}, []string{"target"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "recoveries_total",
			Help:      "Failover attempts by outcome",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Inbound HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by a local rate limit",
		}, []string{"scope"}),
	}

	reg.MustRegister(
		m.providerRequests,
		m.providerRetries,
		m.providerLatency,
		m.fallbacks,
		m.switches,
		m.currentProvider,
		m.probes,
		m.failureStreak,
		m.recoveries,
		m.httpRequests,
		m.rateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProviderCall(provider, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, operation, outcome).Inc()
	m.providerLatency.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRetry(provider string) {
	if m == nil {
		return
	}
	m.providerRetries.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveFallback(requested, actual string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(requested, actual).Inc()
}

// ObserveSwitch records a change of current provider and moves the gauge.
func (m *Metrics) ObserveSwitch(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.switches.WithLabelValues(from, to).Inc()
		m.currentProvider.WithLabelValues(from).Set(0)
	}
	m.currentProvider.WithLabelValues(to).Set(1)
}

func (m *Metrics) ObserveProbe(target string, healthy bool, streak int) {
	if m == nil {
		return
	}
	label := "false"
	if healthy {
		label = "true"
	}
	m.probes.WithLabelValues(target, label).Inc()
	m.failureStreak.WithLabelValues(target).Set(float64(streak))
}

func (m *Metrics) ResetStreak(target string) {
	if m == nil {
		return
	}
	m.failureStreak.WithLabelValues(target).Set(0)
}

func (m *Metrics) ObserveRecovery(outcome string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveRateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package config

import (
	"errors"
	"io/fs"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/omnigate-dev/omnigate/internal/cloud"
	"github.com/omnigate-dev/omnigate/internal/provider"
	"github.com/omnigate-dev/omnigate/internal/retry"
	"github.com/omnigate-dev/omnigate/internal/secrets"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Omnigate configuration.
type Config struct {
	Networking NetworkingConfig          `mapstructure:"networking"`
	Auth       AuthConfig                `mapstructure:"auth"`
	RateLimit  RateLimitConfig           `mapstructure:"ratelimit"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Models     ModelsConfig              `mapstructure:"models"`
	Reasoning  ReasoningConfig           `mapstructure:"reasoning"`
	Retry      retry.Policy              `mapstructure:"retry"`
	Monitor    MonitorConfig             `mapstructure:"monitor"`
	Cloud      CloudConfig               `mapstructure:"cloud"`

	// Path is the config file that was read, empty when none was found.
	Path string `mapstructure:"-"`
}

// NetworkingConfig controls the HTTP listener.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// AuthConfig holds the shared bearer secret. Empty disables auth.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// RateLimitConfig bounds inbound requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// ProviderConfig holds the credential and tuning for one provider. A
// provider is enabled when it has a credential and is not disabled.
type ProviderConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Priority     int           `mapstructure:"priority"`
	RateLimitRPM int           `mapstructure:"rate_limit_rpm"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Endpoint     string        `mapstructure:"endpoint"`
	Disabled     bool          `mapstructure:"disabled"`
}

// ModelsConfig selects the provider that starts as current.
type ModelsConfig struct {
	Preferred string `mapstructure:"preferred"`
}

// ReasoningConfig sets the thinking budget tier.
type ReasoningConfig struct {
	Effort string `mapstructure:"effort"`
}

// MonitorConfig controls the health monitor.
type MonitorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	AlertThreshold int           `mapstructure:"alert_threshold"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

// CloudConfig lists the deployments the monitor watches.
type CloudConfig struct {
	Targets []cloud.Target `mapstructure:"targets"`
}

// envAliases maps config keys to the conventional variables that also set
// them. The OMNIGATE_ form is always checked first.
var envAliases = map[string][]string{
	"providers.anthropic.api_key":  {"ANTHROPIC_API_KEY"},
	"providers.openai.api_key":     {"OPENAI_API_KEY"},
	"providers.google.api_key":     {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"providers.openrouter.api_key": {"OPENROUTER_API_KEY"},
}

// providerFields are bound per provider so env-only settings reach
// Unmarshal.
var providerFields = []string{"api_key", "model", "priority", "rate_limit_rpm", "timeout", "endpoint", "disabled"}

// deploymentTarget names the cloud target created from DEPLOYMENT_URL.
const deploymentTarget = "deployment"

func setDefaults(v *viper.Viper) {
	v.SetDefault("networking.listen", "127.0.0.1:8787")
	v.SetDefault("networking.cors_origins", []string{})
	v.SetDefault("models.preferred", "")
	v.SetDefault("ratelimit.requests_per_minute", 60)
	v.SetDefault("reasoning.effort", string(provider.EffortMedium))

	def := retry.DefaultPolicy()
	v.SetDefault("retry.max_attempts", def.MaxAttempts)
	v.SetDefault("retry.initial_delay", def.InitialDelay)
	v.SetDefault("retry.max_delay", def.MaxDelay)
	v.SetDefault("retry.multiplier", def.Multiplier)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 30*time.Second)
	v.SetDefault("monitor.alert_threshold", 3)
	v.SetDefault("monitor.probe_timeout", 15*time.Second)
	v.SetDefault("monitor.history_limit", 0)

	for i, tag := range provider.KnownTags {
		v.SetDefault("providers."+string(tag)+".priority", i+1)
	}
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("OMNIGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, tag := range provider.KnownTags {
		for _, field := range providerFields {
			key := "providers." + string(tag) + "." + field
			names := []string{"OMNIGATE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
			names = append(names, envAliases[key]...)
			if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
				return err
			}
		}
	}
	if err := v.BindEnv("auth.secret", "OMNIGATE_AUTH_SECRET", "OMNIGATE_SECRET"); err != nil {
		return err
	}
	return v.BindEnv("deployment_url", "OMNIGATE_DEPLOYMENT_URL", "DEPLOYMENT_URL")
}

// Load reads configuration from path, or from omnigate.yaml in the usual
// locations when path is empty, with environment overrides. A .env file
// in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, omnierr.Errorf(omnierr.CodeConfigLoadReadFailure, "reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, omnierr.Errorf(omnierr.CodeConfigLoadReadFailure, "binding environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, omnierr.Errorf(omnierr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	} else {
		// No SetConfigType: with it, viper also tries the bare name and
		// would pick up an ./omnigate binary.
		v.SetConfigName("omnigate")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/omnigate")
		v.AddConfigPath("/etc/omnigate")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, omnierr.Errorf(omnierr.CodeConfigParseInvalidFormat, "reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, omnierr.Errorf(omnierr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if u := strings.TrimSpace(v.GetString("deployment_url")); u != "" && !cfg.hasTargetURL(u) {
		cfg.Cloud.Targets = append(cfg.Cloud.Targets, cloud.Target{Name: deploymentTarget, URL: u})
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

func (c *Config) hasTargetURL(u string) bool {
	return slices.ContainsFunc(c.Cloud.Targets, func(t cloud.Target) bool {
		return strings.TrimRight(t.URL, "/") == strings.TrimRight(u, "/")
	})
}

// Validate checks the configuration for logical errors. It returns every
// problem found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateMonitor()...)

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"config: ratelimit.requests_per_minute must not be negative, got %d", c.RateLimit.RequestsPerMinute))
	}
	if _, err := provider.ParseEffort(c.Reasoning.Effort); err != nil {
		errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue, "config: reasoning.effort: %w", err))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue, "config: retry: %w", err))
	}
	return errs
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		return append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue, "config: networking.listen must not be empty"))
	}
	_, portStr, err := net.SplitHostPort(c.Networking.Listen)
	if err != nil {
		return append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"config: networking.listen must be a valid host:port address, got %q: %w", c.Networking.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"config: networking.listen port must be a number, got %q", portStr))
	} else if port < 0 || port > 65535 {
		errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"config: networking.listen port must be between 0 and 65535, got %d", port))
	}
	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p := c.Providers[name]
		if !provider.Tag(name).Known() {
			errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
				"config: providers.%s: unknown provider, expected one of %v", name, provider.KnownTags))
			continue
		}
		if p.RateLimitRPM < 0 {
			errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
				"config: providers.%s.rate_limit_rpm must not be negative, got %d", name, p.RateLimitRPM))
		}
		if p.Timeout < 0 {
			errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
				"config: providers.%s.timeout must not be negative, got %s", name, p.Timeout))
		}
		if p.Endpoint != "" {
			if u, err := url.Parse(p.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
					"config: providers.%s.endpoint must be an absolute URL, got %q", name, p.Endpoint))
			}
		}
		if secrets.IsRef(p.APIKey) {
			if _, _, err := secrets.ParseRef(p.APIKey); err != nil {
				errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
					"config: providers.%s.api_key: %w", name, err))
			}
		}
	}
	return errs
}

func (c *Config) validateModels() []error {
	if c.Models.Preferred == "" {
		return nil
	}
	if !provider.Tag(c.Models.Preferred).Known() {
		return []error{omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"config: models.preferred %q is not a known provider", c.Models.Preferred)}
	}
	return nil
}

func (c *Config) validateMonitor() []error {
	var errs []error

	m := c.Monitor
	if m.Enabled && m.Interval <= 0 {
		errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"config: monitor.interval must be positive, got %s", m.Interval))
	}
	if m.AlertThreshold < 1 {
		errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"config: monitor.alert_threshold must be at least 1, got %d", m.AlertThreshold))
	}
	if m.ProbeTimeout < 0 {
		errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"config: monitor.probe_timeout must not be negative, got %s", m.ProbeTimeout))
	}
	if m.HistoryLimit < 0 {
		errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
			"config: monitor.history_limit must not be negative, got %d", m.HistoryLimit))
	}

	seen := make(map[string]bool, len(c.Cloud.Targets))
	for i, t := range c.Cloud.Targets {
		if err := t.Validate(); err != nil {
			errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue, "config: cloud.targets[%d]: %w", i, err))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, omnierr.Errorf(omnierr.CodeConfigValidateInvalidValue,
				"config: cloud.targets[%d]: name %q declared twice", i, t.Name))
		}
		seen[t.Name] = true
	}
	return errs
}

// Descriptors resolves credentials and returns one descriptor per known
// provider in KnownTags order. Providers without a credential are present
// but disabled. Unresolvable keyring references are errors.
func (c *Config) Descriptors(store secrets.Store) ([]provider.Descriptor, error) {
	var (
		out  []provider.Descriptor
		errs []error
	)
	for _, tag := range provider.KnownTags {
		p := c.Providers[string(tag)]
		key, err := secrets.Resolve(store, strings.TrimSpace(p.APIKey))
		if err != nil {
			errs = append(errs, omnierr.Wrapf(err, omnierr.CodeSecretResolveFailure,
				"providers.%s.api_key", tag))
			continue
		}
		out = append(out, provider.Descriptor{
			Tag:                tag,
			Enabled:            key != "" && !p.Disabled,
			Priority:           p.Priority,
			CredentialRef:      p.APIKey,
			APIKey:             key,
			Model:              p.Model,
			RateLimitPerMinute: p.RateLimitRPM,
			Timeout:            p.Timeout,
			BaseURL:            p.Endpoint,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Effort returns the parsed reasoning tier. Validate has already rejected
// bad values.
func (c *Config) Effort() provider.Effort {
	e, err := provider.ParseEffort(c.Reasoning.Effort)
	if err != nil {
		return provider.EffortMedium
	}
	return e
}

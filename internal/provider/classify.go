// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

const fieldRetryAfter = "retry_after"

// Classify maps an upstream failure onto the gateway taxonomy. status is
// the HTTP status when the upstream answered, zero for transport errors.
// Errors that already carry a code are returned unchanged.
func Classify(tag Tag, status int, retryAfter time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if omnierr.CodeOf(err) != "" {
		return err
	}

	fields := []omnierr.Attr{omnierr.FieldProvider(string(tag))}
	if status != 0 {
		fields = append(fields, omnierr.FieldStatusCode(status))
	}

	switch {
	case status == http.StatusTooManyRequests:
		fields = append(fields, omnierr.Field(fieldRetryAfter, retryAfter))
		return omnierr.Wrap(err, omnierr.CodeProviderRateLimited,
			fmt.Sprintf("%s: rate limited", tag), fields...)
	case status == http.StatusRequestTimeout || status >= 500:
		return omnierr.Wrap(err, omnierr.CodeProviderUnavailable,
			fmt.Sprintf("%s: upstream unavailable (HTTP %d)", tag, status), fields...)
	case status >= 400:
		return omnierr.Wrap(err, omnierr.CodeProviderUpstreamRejected,
			fmt.Sprintf("%s: request rejected (HTTP %d)", tag, status), fields...)
	case status == 0 && isTransport(err):
		return omnierr.Wrap(err, omnierr.CodeProviderUnavailable,
			fmt.Sprintf("%s: transport failure", tag), fields...)
	default:
		return omnierr.Wrap(err, omnierr.CodeProviderUpstreamFailure,
			fmt.Sprintf("%s: upstream call failed", tag), fields...)
	}
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsTransient reports whether err is worth retrying on the same provider.
func IsTransient(err error) bool {
	return omnierr.IsRateLimited(err) || omnierr.IsUnavailable(err)
}

// RetryAfterOf returns the upstream retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	v, ok := omnierr.FieldOf(err, fieldRetryAfter)
	if !ok {
		return 0
	}
	d, _ := v.(time.Duration)
	return d
}

// ParseRetryAfter reads Retry-After (seconds or HTTP date) and the
// retry-after-ms extension some vendors send.
func ParseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	if ms := h.Get("Retry-After-Ms"); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v > 0 {
			return time.Duration(v * float64(time.Millisecond))
		}
	}
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// MissingCredential is returned when a backend is built without a key.
func MissingCredential(tag Tag) error {
	return omnierr.New(omnierr.CodeProviderCredentialMissing,
		fmt.Sprintf("%s: missing api_key in config", tag), omnierr.FieldProvider(string(tag)))
}

// FeatureUnsupported is returned by backends that cannot honour a Call
// option such as a thinking budget.
func FeatureUnsupported(tag Tag, feature string) error {
	return omnierr.New(omnierr.CodeProviderFeatureUnsupported,
		fmt.Sprintf("%s: %s is not supported by this model", tag, feature),
		omnierr.FieldProvider(string(tag)), omnierr.Field("feature", feature))
}

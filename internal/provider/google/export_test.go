// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package google

import (
	"time"

	"github.com/omnigate-dev/omnigate/internal/provider"
	"google.golang.org/genai"
)

// BuildConfig exposes buildConfig for white-box testing.
var BuildConfig = func(call provider.Call) *genai.GenerateContentConfig {
	return buildConfig(call)
}

// RetryDelay exposes retryDelay for white-box testing.
var RetryDelay = func(details []map[string]any) time.Duration {
	return retryDelay(details)
}

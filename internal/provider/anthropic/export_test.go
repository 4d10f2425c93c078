// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package anthropic

import (
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/omnigate-dev/omnigate/internal/provider"
)

// BuildParams exposes buildParams for white-box testing.
var BuildParams = func(model string, call provider.Call) anthropicsdk.MessageNewParams {
	return buildParams(model, call)
}

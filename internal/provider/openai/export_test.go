// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package openai

import (
	"github.com/omnigate-dev/omnigate/internal/provider"
	openaisdk "github.com/openai/openai-go"
)

// BuildParams exposes buildParams for white-box testing.
var BuildParams = func(model string, call provider.Call) openaisdk.ChatCompletionNewParams {
	return buildParams(model, call)
}

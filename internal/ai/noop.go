/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ai

import (
	"context"
	"fmt"
)

// NoOpProvider is a no-operation provider that echoes the latest user message.
// It never requests tools.
type NoOpProvider struct{}

// NewNoOpProvider creates a new NoOp provider
func NewNoOpProvider() *NoOpProvider {
	return &NoOpProvider{}
}

// Name returns the provider identifier
func (p *NoOpProvider) Name() string {
	return ProviderNameNoop
}

// Available always returns true for NoOp
func (p *NoOpProvider) Available() bool {
	return true
}

// Format returns FormatFolded; NoOp has no function-result channel.
func (p *NoOpProvider) Format() MessageFormat {
	return FormatFolded
}

// Invoke returns a canned reply without contacting any model.
func (p *NoOpProvider) Invoke(ctx context.Context, request Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last := ""
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role == RoleUser {
			last = request.Messages[i].Content
			break
		}
	}
	return &Response{
		Content:    fmt.Sprintf("[NoOp AI] No model is configured. Received: %q", last),
		StopReason: "stop",
	}, nil
}

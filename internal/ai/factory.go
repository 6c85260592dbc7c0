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
	"fmt"
	"os"
	"strings"
)

// NewProvider creates a provider based on the configuration
func NewProvider(config Config) (Provider, error) {
	// Resolve API key from environment if it looks like an env var reference
	apiKey := config.APIKey
	if strings.HasPrefix(apiKey, "$") {
		envVar := strings.TrimPrefix(apiKey, "$")
		apiKey = os.Getenv(envVar)
	}

	// Create a copy of config with resolved API key
	resolvedConfig := config
	resolvedConfig.APIKey = apiKey

	switch NormalizeProviderName(config.Provider) {
	case ProviderNameOpenAI:
		return NewOpenAIProvider(resolvedConfig), nil
	case ProviderNameAnthropic:
		return NewAnthropicProvider(resolvedConfig), nil
	case ProviderNameGemini:
		return NewGeminiProvider(resolvedConfig)
	case ProviderNameOpenAICompatible:
		return NewCompatibleProvider(resolvedConfig)
	case ProviderNameNoop:
		return NewNoOpProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", config.Provider)
	}
}

// NormalizeProviderName lowercases a provider ID and resolves aliases.
// An empty name selects noop.
func NormalizeProviderName(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "":
		return ProviderNameNoop
	case "local", "openai_compatible", "compatible":
		return ProviderNameOpenAICompatible
	case "google":
		return ProviderNameGemini
	default:
		return n
	}
}

// IsKnownProvider reports whether name, after normalization, selects a
// provider.
func IsKnownProvider(name string) bool {
	switch NormalizeProviderName(name) {
	case ProviderNameOpenAI, ProviderNameAnthropic, ProviderNameGemini, ProviderNameOpenAICompatible, ProviderNameNoop:
		return true
	}
	return false
}

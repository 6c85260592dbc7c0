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

import "sort"

// ModelStatus indicates whether a model is actively supported.
type ModelStatus string

const (
	ModelStatusActive     ModelStatus = "active"
	ModelStatusDeprecated ModelStatus = "deprecated"
)

// ModelEntry describes a single model offered in the settings UI.
type ModelEntry struct {
	ID            string      `json:"id"`
	Label         string      `json:"label"`
	Status        ModelStatus `json:"status"`
	ContextWindow int         `json:"contextWindow,omitempty"`
	Default       bool        `json:"default,omitempty"`
}

// ProviderEntry describes a provider and what it needs to be configured.
type ProviderEntry struct {
	ID               string       `json:"id"`
	Label            string       `json:"label"`
	RequiresAPIKey   bool         `json:"requiresApiKey"`
	RequiresEndpoint bool         `json:"requiresEndpoint"`
	Models           []ModelEntry `json:"models"`
}

// ModelCatalog maps provider names to their descriptions.
type ModelCatalog map[string]ProviderEntry

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() ModelCatalog {
	return ModelCatalog{
		ProviderNameAnthropic: {
			ID:             ProviderNameAnthropic,
			Label:          "Anthropic",
			RequiresAPIKey: true,
			Models: []ModelEntry{
				{ID: "claude-haiku-4-5-20251001", Label: "Claude Haiku 4.5", Status: ModelStatusActive, ContextWindow: 200000},
				{ID: defaultAnthropicModel, Label: "Claude Sonnet 4.5", Status: ModelStatusActive, ContextWindow: 200000, Default: true},
				{ID: "claude-opus-4-6", Label: "Claude Opus 4.6", Status: ModelStatusActive, ContextWindow: 200000},
				{ID: "claude-3-5-haiku-20241022", Label: "Claude 3.5 Haiku (Legacy)", Status: ModelStatusDeprecated, ContextWindow: 200000},
			},
		},
		ProviderNameOpenAI: {
			ID:             ProviderNameOpenAI,
			Label:          "OpenAI",
			RequiresAPIKey: true,
			Models: []ModelEntry{
				{ID: defaultOpenAIModel, Label: "GPT-4.1 Mini", Status: ModelStatusActive, ContextWindow: 1047576, Default: true},
				{ID: "gpt-4.1", Label: "GPT-4.1", Status: ModelStatusActive, ContextWindow: 1047576},
				{ID: "gpt-4o", Label: "GPT-4o", Status: ModelStatusActive, ContextWindow: 128000},
				{ID: "gpt-4o-mini", Label: "GPT-4o Mini", Status: ModelStatusDeprecated, ContextWindow: 128000},
			},
		},
		ProviderNameGemini: {
			ID:             ProviderNameGemini,
			Label:          "Google Gemini",
			RequiresAPIKey: true,
			Models: []ModelEntry{
				{ID: defaultGeminiModel, Label: "Gemini 2.5 Flash", Status: ModelStatusActive, ContextWindow: 1048576, Default: true},
				{ID: "gemini-2.5-pro", Label: "Gemini 2.5 Pro", Status: ModelStatusActive, ContextWindow: 1048576},
			},
		},
		ProviderNameOpenAICompatible: {
			ID:               ProviderNameOpenAICompatible,
			Label:            "OpenAI-compatible (local)",
			RequiresEndpoint: true,
		},
		ProviderNameNoop: {
			ID:    ProviderNameNoop,
			Label: "Disabled",
		},
	}
}

// ForProvider returns the models for a specific provider, or nil if not found.
func (c ModelCatalog) ForProvider(provider string) []ModelEntry {
	return c[NormalizeProviderName(provider)].Models
}

// DefaultModel returns the model used when none is configured, or "".
func (c ModelCatalog) DefaultModel(provider string) string {
	for _, m := range c.ForProvider(provider) {
		if m.Default {
			return m.ID
		}
	}
	return ""
}

// Providers returns the catalog entries ordered by provider ID.
func (c ModelCatalog) Providers() []ProviderEntry {
	out := make([]ProviderEntry, 0, len(c))
	for _, p := range c {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

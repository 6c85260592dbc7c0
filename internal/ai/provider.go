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

// Package ai provides the model invocation layer used by the chat agent.
// Each provider turns an ordered message list into either plain text or a
// batch of structured tool-call requests.
package ai

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotConfigured is returned when AI provider is not configured
var ErrNotConfigured = errors.New("AI provider not configured")

// Provider names accepted by NewProvider.
const (
	ProviderNameOpenAI           = "openai"
	ProviderNameAnthropic        = "anthropic"
	ProviderNameGemini           = "gemini"
	ProviderNameOpenAICompatible = "openai-compatible"
	ProviderNameNoop             = "noop"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// MessageFormat describes how a provider expects tool results to be shaped.
type MessageFormat string

const (
	// FormatNative sends tool results as dedicated function-result messages.
	FormatNative MessageFormat = "native"
	// FormatFolded sends tool results as assistant-authored text, for
	// providers that cannot represent a function-result message.
	FormatFolded MessageFormat = "folded"
)

// Provider invokes a language model.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic", "noop")
	Name() string

	// Available returns true if the provider is properly configured and ready
	Available() bool

	// Format reports the tool-result message shape this provider needs.
	Format() MessageFormat

	// Invoke sends one round to the model. Cancelling ctx aborts the call.
	Invoke(ctx context.Context, request Request) (*Response, error)
}

// ToolDef declares a tool the model may call.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall represents a function call requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Message is one element of the list sent to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolName   string     `json:"toolName,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
}

// Request is a single model round.
type Request struct {
	// System is the system prompt, sent ahead of Messages.
	System string `json:"system"`

	// Messages is the ordered conversation.
	Messages []Message `json:"messages"`

	// Tools binds tools to the call. Empty means plain completion.
	Tools []ToolDef `json:"tools,omitempty"`

	// MaxTokens limits the response length (provider-specific)
	MaxTokens int `json:"maxTokens,omitempty"`
}

// Response is the model's answer for one round. When ToolCalls is non-empty
// the model requested tools; Content may still carry accompanying text.
type Response struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	TokensUsed int        `json:"tokensUsed,omitempty"`
	StopReason string     `json:"stopReason,omitempty"`
}

// Config holds AI provider configuration
type Config struct {
	// Provider is the AI provider to use ("openai", "anthropic", "gemini", "openai-compatible", "noop")
	Provider string `json:"provider" koanf:"provider"`

	// APIKey is the API key for the provider (can be from env var)
	APIKey string `json:"apiKey,omitempty" koanf:"api_key"`

	// Endpoint is an optional custom API base URL
	Endpoint string `json:"endpoint,omitempty" koanf:"endpoint"`

	// Model is the model to use (e.g., "gpt-4.1", "claude-sonnet-4-5")
	Model string `json:"model,omitempty" koanf:"model"`

	// MaxTokens is the maximum tokens for responses
	MaxTokens int `json:"maxTokens,omitempty" koanf:"max_tokens"`

	// Timeout is the request timeout in seconds
	Timeout int `json:"timeout,omitempty" koanf:"timeout"`

	// FoldToolResults forces the folded tool-result format regardless of
	// what the provider supports natively.
	FoldToolResults bool `json:"foldToolResults,omitempty" koanf:"fold_tool_results"`

	// DailyTokenLimit caps tokens per 24h window (0 = unlimited).
	DailyTokenLimit int `json:"dailyTokenLimit,omitempty" koanf:"daily_token_limit"`

	// MonthlyTokenLimit caps tokens per 30-day window (0 = unlimited).
	MonthlyTokenLimit int `json:"monthlyTokenLimit,omitempty" koanf:"monthly_token_limit"`
}

// DefaultConfig returns a default configuration with NoOp provider
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderNameNoop,
		MaxTokens: 4096,
		Timeout:   90,
	}
}

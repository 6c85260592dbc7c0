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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5-20250929"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicProvider implements the Provider interface for Anthropic
type AnthropicProvider struct {
	apiKey    string
	model     string
	maxTokens int
	fold      bool
	client    anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(config Config) *AnthropicProvider {
	model := config.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: requestTimeout(config)}),
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(config.Endpoint))
	}

	return &AnthropicProvider{
		apiKey:    config.APIKey,
		model:     model,
		maxTokens: maxTokens,
		fold:      config.FoldToolResults,
		client:    anthropic.NewClient(opts...),
	}
}

// Name returns the provider identifier
func (p *AnthropicProvider) Name() string {
	return ProviderNameAnthropic
}

// Available returns true if an API key is configured
func (p *AnthropicProvider) Available() bool {
	return p.apiKey != ""
}

// Format reports native tool_result blocks unless folding was requested.
func (p *AnthropicProvider) Format() MessageFormat {
	if p.fold {
		return FormatFolded
	}
	return FormatNative
}

// Invoke sends one round to the Messages API.
func (p *AnthropicProvider) Invoke(ctx context.Context, request Request) (*Response, error) {
	if !p.Available() {
		return nil, ErrNotConfigured
	}

	system, messages := buildAnthropicMessages(request.System, request.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("anthropic request requires at least one user or assistant message")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(firstPositive(request.MaxTokens, p.maxTokens)),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(request.Tools) > 0 {
		params.Tools = buildAnthropicTools(request.Tools)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapProviderError(ProviderNameAnthropic, err)
	}

	out := &Response{
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		StopReason: string(msg.StopReason),
	}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: argsOrEmpty(block.Input),
			})
		}
	}
	out.Content = strings.Join(text, "\n")
	return out, nil
}

// buildAnthropicMessages converts the conversation into Anthropic message
// params. System-role messages are appended to the system blocks. Tool
// results become tool_result blocks in a user message; consecutive results
// are merged to keep roles alternating.
func buildAnthropicMessages(systemPrompt string, messages []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	if strings.TrimSpace(systemPrompt) != "" {
		system = append(system, anthropic.TextBlockParam{Text: systemPrompt})
	}

	result := make([]anthropic.MessageParam, 0, len(messages))
	lastToolResult := false
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
			continue
		case RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			lastToolResult = false
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				_ = json.Unmarshal(argsOrEmpty(tc.Args), &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
			lastToolResult = false
		case RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)
			if lastToolResult {
				last := &result[len(result)-1]
				last.Content = append(last.Content, block)
				continue
			}
			result = append(result, anthropic.NewUserMessage(block))
			lastToolResult = true
		}
	}
	return system, result
}

func buildAnthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if req := stringSlice(t.Parameters["required"]); len(req) > 0 {
			schema.Required = req
		}
		tool := &anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: schema,
			Type:        anthropic.ToolTypeCustom,
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: tool})
	}
	return result
}

// stringSlice accepts both []string and decoded JSON []any.
func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

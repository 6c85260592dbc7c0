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

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	llmopenai "github.com/tmc/langchaingo/llms/openai"
)

// localPlaceholderToken satisfies the client for local servers that do not
// check credentials.
const localPlaceholderToken = "sk-local"

// CompatibleProvider talks to any server exposing the OpenAI chat
// completions API (vLLM, Ollama, LM Studio, LiteLLM, ...).
type CompatibleProvider struct {
	endpoint  string
	model     string
	maxTokens int
	fold      bool
	llm       llms.Model
}

// NewCompatibleProvider creates a provider for an OpenAI-compatible endpoint.
// Without an endpoint the provider reports unavailable.
func NewCompatibleProvider(config Config) (*CompatibleProvider, error) {
	p := &CompatibleProvider{
		endpoint:  config.Endpoint,
		model:     config.Model,
		maxTokens: config.MaxTokens,
		fold:      config.FoldToolResults,
	}
	if config.Endpoint == "" {
		return p, nil
	}

	token := config.APIKey
	if token == "" {
		token = localPlaceholderToken
	}
	opts := []llmopenai.Option{
		llmopenai.WithBaseURL(config.Endpoint),
		llmopenai.WithToken(token),
		llmopenai.WithHTTPClient(&http.Client{Timeout: requestTimeout(config)}),
	}
	if config.Model != "" {
		opts = append(opts, llmopenai.WithModel(config.Model))
	}
	llm, err := llmopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai-compatible client: %w", err)
	}
	p.llm = llm
	return p, nil
}

// Name returns the provider identifier
func (p *CompatibleProvider) Name() string {
	return ProviderNameOpenAICompatible
}

// Available returns true if an endpoint is configured
func (p *CompatibleProvider) Available() bool {
	return p.llm != nil
}

// Format reports folded tool results when configured. Many local servers
// reject tool-role messages.
func (p *CompatibleProvider) Format() MessageFormat {
	if p.fold {
		return FormatFolded
	}
	return FormatNative
}

// Invoke sends one round through GenerateContent.
func (p *CompatibleProvider) Invoke(ctx context.Context, request Request) (*Response, error) {
	if !p.Available() {
		return nil, ErrNotConfigured
	}

	messages := buildLangchainMessages(request.System, request.Messages)
	opts := []llms.CallOption{}
	if maxTokens := firstPositive(request.MaxTokens, p.maxTokens); maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	if len(request.Tools) > 0 {
		opts = append(opts, llms.WithTools(buildLangchainTools(request.Tools)))
	}

	resp, err := p.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, wrapProviderError(ProviderNameOpenAICompatible, err)
	}
	if len(resp.Choices) == 0 {
		return &Response{StopReason: "stop"}, nil
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:    choice.Content,
		StopReason: choice.StopReason,
	}
	if total, ok := choice.GenerationInfo["TotalTokens"].(int); ok {
		out.TokensUsed = total
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   id,
			Name: tc.FunctionCall.Name,
			Args: rawArgs(tc.FunctionCall.Arguments),
		})
	}
	return out, nil
}

func buildLangchainMessages(systemPrompt string, messages []Message) []llms.MessageContent {
	result := make([]llms.MessageContent, 0, len(messages)+1)
	if systemPrompt != "" {
		result = append(result, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			result = append(result, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case RoleAssistant:
			parts := make([]llms.ContentPart, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				parts = append(parts, llms.TextPart(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsOrEmpty(tc.Args)),
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			result = append(result, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case RoleTool:
			result = append(result, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: m.ToolCallID,
						Name:       m.ToolName,
						Content:    m.Content,
					},
				},
			})
		default:
			result = append(result, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		}
	}
	return result
}

func buildLangchainTools(tools []ToolDef) []llms.Tool {
	result := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		var params any = t.Parameters
		if len(t.Parameters) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		result = append(result, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

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
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-4.1-mini"

// OpenAIProvider implements the Provider interface for OpenAI using the
// Responses API.
type OpenAIProvider struct {
	apiKey    string
	model     string
	maxTokens int
	client    openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) *OpenAIProvider {
	model := config.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: requestTimeout(config)}),
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(config.Endpoint))
	}

	return &OpenAIProvider{
		apiKey:    config.APIKey,
		model:     model,
		maxTokens: config.MaxTokens,
		client:    openai.NewClient(opts...),
	}
}

// Name returns the provider identifier
func (p *OpenAIProvider) Name() string {
	return ProviderNameOpenAI
}

// Available returns true if an API key is configured
func (p *OpenAIProvider) Available() bool {
	return p.apiKey != ""
}

// Format reports native function-call output items.
func (p *OpenAIProvider) Format() MessageFormat {
	return FormatNative
}

// Invoke sends one round to the Responses API.
func (p *OpenAIProvider) Invoke(ctx context.Context, request Request) (*Response, error) {
	if !p.Available() {
		return nil, ErrNotConfigured
	}

	input := buildOpenAIInput(request.Messages)
	if len(input) == 0 {
		return nil, fmt.Errorf("openai request requires at least one message")
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(p.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: input,
		},
	}
	if request.System != "" {
		params.Instructions = openai.String(request.System)
	}
	if maxTokens := firstPositive(request.MaxTokens, p.maxTokens); maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(maxTokens))
	}
	if len(request.Tools) > 0 {
		params.Tools = buildOpenAITools(request.Tools)
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, wrapProviderError(ProviderNameOpenAI, err)
	}

	out := &Response{
		Content:    resp.OutputText(),
		TokensUsed: int(resp.Usage.TotalTokens),
		StopReason: string(resp.Status),
	}
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		id := call.CallID
		if id == "" {
			id = call.ID
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   id,
			Name: call.Name,
			Args: rawArgs(call.Arguments),
		})
	}
	return out, nil
}

// buildOpenAIInput converts the conversation into Responses API input items.
func buildOpenAIInput(messages []Message) responses.ResponseInputParam {
	input := make(responses.ResponseInputParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleTool:
			if m.ToolCallID == "" {
				continue
			}
			input = append(input, responses.ResponseInputItemParamOfFunctionCallOutput(m.ToolCallID, m.Content))
		case RoleAssistant:
			if strings.TrimSpace(m.Content) != "" {
				input = append(input, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range m.ToolCalls {
				input = append(input, responses.ResponseInputItemParamOfFunctionCall(string(argsOrEmpty(tc.Args)), tc.ID, tc.Name))
			}
		case RoleSystem:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			input = append(input, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleSystem))
		default:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			input = append(input, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleUser))
		}
	}
	return input
}

func buildOpenAITools(tools []ToolDef) []responses.ToolUnionParam {
	result := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		variant := responses.ToolParamOfFunction(t.Name, t.Parameters, false)
		if t.Description != "" && variant.OfFunction != nil {
			variant.OfFunction.Description = openai.String(t.Description)
		}
		result = append(result, variant)
	}
	return result
}

// rawArgs normalizes a provider argument string into JSON. Empty or invalid
// input is passed through so the orchestrator can report the parse failure.
func rawArgs(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

func argsOrEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	return args
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func requestTimeout(config Config) time.Duration {
	if config.Timeout > 0 {
		return time.Duration(config.Timeout) * time.Second
	}
	return 90 * time.Second
}

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

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	apiKey    string
	model     string
	maxTokens int
	client    *genai.Client
}

// NewGeminiProvider creates a Gemini provider. The SDK client is only built
// when an API key is present; without one the provider reports unavailable.
func NewGeminiProvider(config Config) (*GeminiProvider, error) {
	model := config.Model
	if model == "" {
		model = defaultGeminiModel
	}
	p := &GeminiProvider{
		apiKey:    config.APIKey,
		model:     model,
		maxTokens: config.MaxTokens,
	}
	if config.APIKey == "" {
		return p, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: requestTimeout(config)},
	}
	if config.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.Endpoint}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

// Name returns the provider identifier
func (p *GeminiProvider) Name() string {
	return ProviderNameGemini
}

// Available returns true if the SDK client was created
func (p *GeminiProvider) Available() bool {
	return p.client != nil
}

// Format reports native function responses.
func (p *GeminiProvider) Format() MessageFormat {
	return FormatNative
}

// Invoke sends one round to GenerateContent.
func (p *GeminiProvider) Invoke(ctx context.Context, request Request) (*Response, error) {
	if !p.Available() {
		return nil, ErrNotConfigured
	}

	system, contents := buildGeminiContents(request.System, request.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini request requires at least one message")
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if maxTokens := firstPositive(request.MaxTokens, p.maxTokens); maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if len(request.Tools) > 0 {
		cfg.Tools = buildGeminiTools(request.Tools)
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, wrapProviderError(ProviderNameGemini, err)
	}

	out := &Response{}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}
	candidate := resp.Candidates[0]
	out.StopReason = string(candidate.FinishReason)

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: args,
			})
		}
	}
	out.Content = sb.String()
	return out, nil
}

// buildGeminiContents converts the conversation into genai contents. System
// messages are folded into the system instruction, which genai carries
// outside the content list.
func buildGeminiContents(systemPrompt string, messages []Message) (string, []*genai.Content) {
	system := []string{}
	if strings.TrimSpace(systemPrompt) != "" {
		system = append(system, systemPrompt)
	}

	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, m.Content)
			}
		case RoleAssistant:
			parts := make([]*genai.Part, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				_ = json.Unmarshal(argsOrEmpty(tc.Args), &args)
				part := genai.NewPartFromFunctionCall(tc.Name, args)
				part.FunctionCall.ID = tc.ID
				parts = append(parts, part)
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case RoleTool:
			payload := map[string]any{}
			if err := json.Unmarshal([]byte(m.Content), &payload); err != nil {
				payload = map[string]any{"output": m.Content}
			}
			part := genai.NewPartFromFunctionResponse(m.ToolName, payload)
			part.FunctionResponse.ID = m.ToolCallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func buildGeminiTools(tools []ToolDef) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if len(t.Parameters) > 0 {
			decl.ParametersJsonSchema = t.Parameters
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

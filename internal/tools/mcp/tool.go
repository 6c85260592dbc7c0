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

// Package mcp exposes tools served by external Model Context Protocol
// servers through the tools.Tool interface.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/tools"
)

// NameSeparator joins the server name and the tool name.
const NameSeparator = "__"

// QualifiedName returns the registry name of a tool served by server.
func QualifiedName(server, tool string) string {
	return server + NameSeparator + tool
}

// SplitName reverses QualifiedName.
func SplitName(name string) (server, tool string, ok bool) {
	return strings.Cut(name, NameSeparator)
}

// caller is the part of a client session a Tool needs.
type caller interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// Tool is one tool served by an external MCP server.
type Tool struct {
	server      string
	name        string
	description string
	schema      map[string]any
	session     caller
}

func newTool(server string, session caller, t *mcp.Tool) *Tool {
	return &Tool{
		server:      server,
		name:        t.Name,
		description: t.Description,
		schema:      inputSchema(t.InputSchema),
		session:     session,
	}
}

// Definition describes the tool to the model under its qualified name.
func (t *Tool) Definition() ai.ToolDef {
	desc := t.description
	if desc == "" {
		desc = fmt.Sprintf("Tool %s provided by the %s server", t.name, t.server)
	}
	return ai.ToolDef{
		Name:        QualifiedName(t.server, t.name),
		Description: desc,
		Parameters:  t.schema,
	}
}

// Type reports an external tool.
func (t *Tool) Type() tools.Type {
	return tools.TypeExternal
}

// Execute maps the arguments to the input schema and calls the server.
// A result flagged as an error by the server is returned as an error.
func (t *Tool) Execute(ctx context.Context, call tools.Call, _ tools.Context) (tools.Result, error) {
	args := MapArguments(t.schema, call.Arguments)
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: t.name, Arguments: args})
	if err != nil {
		return tools.Result{}, fmt.Errorf("calling %s on %s: %w", t.name, t.server, err)
	}

	content := resultText(res)
	if res.IsError {
		if content == "" {
			content = "tool reported an error"
		}
		return tools.Result{}, errors.New(content)
	}
	return tools.Ok(content), nil
}

// resultText joins text content. Structured content is used when the server
// returned no text.
func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		switch v := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			return string(data)
		}
	}
	return strings.Join(parts, "\n")
}

// inputSchema normalizes the schema the server advertised into a plain map.
func inputSchema(schema any) map[string]any {
	out := map[string]any{}
	if schema != nil {
		if data, err := json.Marshal(schema); err == nil {
			_ = json.Unmarshal(data, &out)
		}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

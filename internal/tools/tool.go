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

// Package tools defines the tool registry and the execution contract shared
// by the built-in Kubernetes tool and external MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/osagberg/kube-assist-agent/internal/ai"
)

// ErrUnknownTool is returned when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Type distinguishes tools implemented in-process from tools served by an
// external MCP server.
type Type string

const (
	TypeBuiltin  Type = "builtin"
	TypeExternal Type = "external"
)

// Call is a single tool invocation requested by the model.
type Call struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Arguments   map[string]any `json:"arguments"`
	Type        Type           `json:"type"`
	Description string         `json:"description,omitempty"`
}

// Result is the normalized outcome of a tool execution.
type Result struct {
	Content string `json:"content"`

	// ShouldAddToHistory is false when the result must not be recorded,
	// e.g. a write that is waiting for user confirmation.
	ShouldAddToHistory bool `json:"shouldAddToHistory"`

	// ShouldProcessFollowUp is false when no further model round should
	// follow this result.
	ShouldProcessFollowUp bool `json:"shouldProcessFollowUp"`
}

// Context is the ambient UI state passed to every tool execution.
type Context struct {
	// SelectedClusters names the clusters selected in the UI. The first
	// entry is the target for built-in Kubernetes calls.
	SelectedClusters []string `json:"selectedClusters,omitempty"`

	// Namespace is the namespace currently shown in the UI.
	Namespace string `json:"namespace,omitempty"`

	// CurrentResource identifies the resource the user is viewing, if any.
	CurrentResource string `json:"currentResource,omitempty"`

	// Summary is a free-form description of the current view, appended to
	// the system prompt.
	Summary string `json:"summary,omitempty"`
}

// Cluster returns the target cluster for built-in calls, or "" for the default.
func (c Context) Cluster() string {
	if len(c.SelectedClusters) == 0 {
		return ""
	}
	return c.SelectedClusters[0]
}

// Tool is one executable tool.
type Tool interface {
	// Definition describes the tool to the model.
	Definition() ai.ToolDef

	// Type reports whether the tool is built in or external.
	Type() Type

	// Execute runs one call. A returned error is converted into an error
	// result by the caller.
	Execute(ctx context.Context, call Call, toolCtx Context) (Result, error)
}

// Executor runs a tool call by name.
type Executor interface {
	Execute(ctx context.Context, call Call, toolCtx Context) (Result, error)
}

// Ok builds a result that is recorded and followed by another model round.
func Ok(content string) Result {
	return Result{Content: content, ShouldAddToHistory: true, ShouldProcessFollowUp: true}
}

// JSONResult marshals v into an Ok result.
func JSONResult(v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Result{}, err
	}
	return Ok(string(data)), nil
}

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

package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/osagberg/kube-assist-agent/internal/ai"
)

var log = logf.Log.WithName("tools")

// Registry holds the statically available tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	name := tool.Definition().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes every tool whose name starts with prefix and returns
// how many were removed. Used when an external server is reconnected.
func (r *Registry) Unregister(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name := range r.tools {
		if strings.HasPrefix(name, prefix) {
			delete(r.tools, name)
			n++
		}
	}
	return n
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Definitions returns the definitions of the enabled tools that are
// registered, in the order given. Unknown names are skipped.
func (r *Registry) Definitions(enabled []string) []ai.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ai.ToolDef, 0, len(enabled))
	for _, name := range enabled {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// TypeOf returns the tool type for name, defaulting to external for unknown
// names so that they are never auto-approved as built-ins.
func (r *Registry) TypeOf(name string) Type {
	if t, ok := r.Get(name); ok {
		return t.Type()
	}
	return TypeExternal
}

// Execute runs call through the registered tool and records metrics.
// Embedded failures in a successful result are counted as failures.
func (r *Registry) Execute(ctx context.Context, call Call, toolCtx Context) (Result, error) {
	tool, ok := r.Get(call.Name)
	if !ok {
		RecordToolExecution(call.Name, OutcomeError, 0)
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	start := time.Now()
	res, err := tool.Execute(ctx, call, toolCtx)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		log.V(1).Info("Tool execution failed", "tool", call.Name, "callId", call.ID, "error", err.Error())
		RecordToolExecution(call.Name, OutcomeError, elapsed)
	case !res.ShouldAddToHistory:
		RecordToolExecution(call.Name, OutcomeDeferred, elapsed)
	default:
		if failed, _ := DetectFailure(res.Content); failed {
			RecordToolExecution(call.Name, OutcomeFailed, elapsed)
		} else {
			RecordToolExecution(call.Name, OutcomeSuccess, elapsed)
		}
	}
	return res, err
}

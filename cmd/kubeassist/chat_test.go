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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osagberg/kube-assist-agent/internal/agent"
	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/tools"
	"github.com/osagberg/kube-assist-agent/internal/tools/kubernetes"
)

// scriptedModel returns its responses in order, then "done".
type scriptedModel struct {
	mu        sync.Mutex
	responses []*ai.Response
}

func (m *scriptedModel) Invoke(context.Context, ai.Request) (*ai.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return &ai.Response{Content: "done", TokensUsed: 3}, nil
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	return next, nil
}

func (m *scriptedModel) Format() ai.MessageFormat { return ai.FormatNative }

type fixedTool struct {
	name   string
	result tools.Result
}

func (t fixedTool) Definition() ai.ToolDef {
	return ai.ToolDef{Name: t.name, Description: t.name}
}

func (t fixedTool) Type() tools.Type { return tools.TypeBuiltin }

func (t fixedTool) Execute(context.Context, tools.Call, tools.Context) (tools.Result, error) {
	return t.result, nil
}

type recordingApplier struct {
	requests []kubernetes.Request
}

func (a *recordingApplier) Apply(_ context.Context, _ string, req kubernetes.Request) (string, error) {
	a.requests = append(a.requests, req)
	return "patched", nil
}

// lockedBuffer is written by the turn goroutine and the input loop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTerminal(t *testing.T, model *scriptedModel, input []string, ts ...tools.Tool) (*terminal, *lockedBuffer) {
	t.Helper()
	registry, err := tools.NewRegistry(ts...)
	require.NoError(t, err)

	lines := make(chan string, len(input))
	for _, l := range input {
		lines <- l
	}
	close(lines)

	out := &lockedBuffer{}
	term := &terminal{
		registry:  registry,
		out:       out,
		lines:     lines,
		approvals: make(chan approval.Request, 1),
	}
	term.gate = approval.NewGate(approval.WithNotifier(term.notify))
	term.orch = agent.New(model, registry, term.gate, agent.DefaultConfig())
	term.orch.ConfigureTools(registry.Names(), tools.Context{})
	return term, out
}

func toolCall(id, name string, args map[string]any) *ai.Response {
	if args == nil {
		args = map[string]any{}
	}
	raw, _ := json.Marshal(args)
	return &ai.Response{ToolCalls: []ai.ToolCall{{ID: id, Name: name, Args: raw}}, TokensUsed: 5}
}

func lastEntry(orch *agent.Orchestrator, role agent.Role) (agent.Entry, bool) {
	history := orch.History()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == role {
			return history[i], true
		}
	}
	return agent.Entry{}, false
}

func TestTerminal_ApproveRunsCall(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{toolCall("c1", "restart", nil)}}
	term, out := newTerminal(t, model, []string{"restart the pod", "y"},
		fixedTool{name: "restart", result: tools.Ok("restarted")})

	require.NoError(t, term.run(context.Background()))

	assert.Contains(t, out.String(), "Approval required")
	assert.Contains(t, out.String(), "done")
	entry, ok := lastEntry(term.orch, agent.RoleTool)
	require.True(t, ok)
	assert.Equal(t, "c1", entry.ToolCallID)
	assert.False(t, entry.Error)
}

func TestTerminal_DenyEndsTurn(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{toolCall("c1", "restart", nil)}}
	term, _ := newTerminal(t, model, []string{"restart the pod", "n"},
		fixedTool{name: "restart", result: tools.Ok("restarted")})

	require.NoError(t, term.run(context.Background()))

	_, ok := lastEntry(term.orch, agent.RoleTool)
	assert.False(t, ok, "denied call must not run")
	assert.False(t, term.orch.Busy())
}

func TestTerminal_AlwaysRemembersTools(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{toolCall("c1", "restart", nil)}}
	term, _ := newTerminal(t, model, []string{"restart the pod", "a"},
		fixedTool{name: "restart", result: tools.Ok("restarted")})

	require.NoError(t, term.run(context.Background()))

	assert.True(t, term.gate.Policy().AutoApproves("restart"))
}

func TestTerminal_ConfirmsDeferredWrite(t *testing.T) {
	args := map[string]any{
		"method": "PATCH",
		"url":    "/api/v1/namespaces/default/configmaps/demo",
		"body":   `{"data":{"k":"v"}}`,
	}
	pending := tools.Result{Content: "waiting for confirmation"}
	model := &scriptedModel{responses: []*ai.Response{toolCall("w1", "kube_write", args)}}
	term, out := newTerminal(t, model, []string{"patch it", "y", "y"},
		fixedTool{name: "kube_write", result: pending})
	applier := &recordingApplier{}
	term.applier = applier

	require.NoError(t, term.run(context.Background()))

	require.Len(t, applier.requests, 1)
	assert.Equal(t, "PATCH", applier.requests[0].Method)
	assert.Equal(t, "/api/v1/namespaces/default/configmaps/demo", applier.requests[0].URL)
	assert.Contains(t, out.String(), "applied")

	entry, ok := lastEntry(term.orch, agent.RoleTool)
	require.True(t, ok)
	assert.Equal(t, "w1", entry.ToolCallID)
	assert.Equal(t, "patched", entry.Content)
}

func TestTerminal_Commands(t *testing.T) {
	term, out := newTerminal(t, &scriptedModel{}, nil,
		fixedTool{name: "alpha"}, fixedTool{name: "beta"})

	assert.False(t, term.command("/tools alpha"))
	enabled, _ := term.orch.Enabled()
	assert.Equal(t, []string{"alpha"}, enabled)

	assert.False(t, term.command("/tools alpha,missing"))
	assert.Contains(t, out.String(), "unknown tools: missing")
	enabled, _ = term.orch.Enabled()
	assert.Equal(t, []string{"alpha"}, enabled)

	assert.False(t, term.command("/context payments"))
	_, toolCtx := term.orch.Enabled()
	assert.Equal(t, "payments", toolCtx.Namespace)

	assert.False(t, term.command("/bogus"))
	assert.Contains(t, out.String(), "unknown command /bogus")

	assert.True(t, term.command("/quit"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\n  b"))
	long := preview(string(bytes.Repeat([]byte("x"), maxResultPreview+10)))
	assert.Len(t, long, maxResultPreview+3)
}

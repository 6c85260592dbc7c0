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

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/tools"
)

// step produces the model response for one round.
type step func(ctx context.Context, req ai.Request) (*ai.Response, error)

// scriptedInvoker replays steps in order and records every request. Rounds
// past the script answer "done".
type scriptedInvoker struct {
	mu       sync.Mutex
	format   ai.MessageFormat
	steps    []step
	requests []ai.Request
}

func newInvoker(steps ...step) *scriptedInvoker {
	return &scriptedInvoker{format: ai.FormatNative, steps: steps}
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req ai.Request) (*ai.Response, error) {
	s.mu.Lock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	var next step
	if i < len(s.steps) {
		next = s.steps[i]
	}
	s.mu.Unlock()
	if next == nil {
		return &ai.Response{Content: "done"}, nil
	}
	return next(ctx, req)
}

func (s *scriptedInvoker) Format() ai.MessageFormat {
	return s.format
}

func (s *scriptedInvoker) rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedInvoker) request(i int) ai.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func reply(text string) step {
	return func(context.Context, ai.Request) (*ai.Response, error) {
		return &ai.Response{Content: text, TokensUsed: 10}, nil
	}
}

func callTools(calls ...ai.ToolCall) step {
	return func(context.Context, ai.Request) (*ai.Response, error) {
		return &ai.Response{ToolCalls: calls, TokensUsed: 10}, nil
	}
}

func failWith(err error) step {
	return func(context.Context, ai.Request) (*ai.Response, error) {
		return nil, err
	}
}

// blockUntilCancelled signals started and waits for ctx.
func blockUntilCancelled(started chan<- struct{}) step {
	return func(ctx context.Context, _ ai.Request) (*ai.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func toolCall(id, name, args string) ai.ToolCall {
	return ai.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
}

// stubTool is a tool whose behavior is a function.
type stubTool struct {
	name string
	typ  tools.Type
	exec func(ctx context.Context, call tools.Call) (tools.Result, error)
}

func (s *stubTool) Definition() ai.ToolDef {
	return ai.ToolDef{Name: s.name, Description: "stub " + s.name, Parameters: map[string]any{"type": "object"}}
}

func (s *stubTool) Type() tools.Type {
	if s.typ == "" {
		return tools.TypeBuiltin
	}
	return s.typ
}

func (s *stubTool) Execute(ctx context.Context, call tools.Call, _ tools.Context) (tools.Result, error) {
	return s.exec(ctx, call)
}

func returning(content string) func(context.Context, tools.Call) (tools.Result, error) {
	return func(context.Context, tools.Call) (tools.Result, error) {
		return tools.Ok(content), nil
	}
}

func throwing(msg string) func(context.Context, tools.Call) (tools.Result, error) {
	return func(context.Context, tools.Call) (tools.Result, error) {
		return tools.Result{}, errors.New(msg)
	}
}

func mustRegistry(ts ...tools.Tool) *tools.Registry {
	r, err := tools.NewRegistry(ts...)
	if err != nil {
		panic(err)
	}
	return r
}

// autoGate returns a gate that approves everything for the session.
func autoGate() *approval.Gate {
	g := approval.NewGate()
	g.Policy().SetSessionAutoApprove(true)
	return g
}

// denyingGate returns a gate that denies every interactive request.
func denyingGate() *approval.Gate {
	g := approval.NewGate()
	g.SetNotifier(func(r approval.Request) { _ = g.Deny(r.ID) })
	return g
}

// staticApprover approves a fixed set of IDs.
type staticApprover struct {
	ids    []string
	resets int
}

func (s *staticApprover) Request(context.Context, []tools.Call, approval.Snapshot) ([]string, error) {
	if len(s.ids) == 0 {
		return nil, approval.ErrDenied
	}
	return s.ids, nil
}

func (s *staticApprover) Reset() { s.resets++ }

func toolEntries(h []Entry) []Entry {
	var out []Entry
	for _, e := range h {
		if e.Role == RoleTool {
			out = append(out, e)
		}
	}
	return out
}

// funcInvoker answers from a pure function of the request, so replays are
// deterministic.
type funcInvoker struct {
	format ai.MessageFormat
	fn     func(req ai.Request) *ai.Response

	mu       sync.Mutex
	requests []ai.Request
}

func (f *funcInvoker) Invoke(_ context.Context, req ai.Request) (*ai.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(req), nil
}

func (f *funcInvoker) Format() ai.MessageFormat {
	if f.format == "" {
		return ai.FormatNative
	}
	return f.format
}

func (f *funcInvoker) allRequests() []ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ai.Request(nil), f.requests...)
}

// approverFunc decides with a function.
type approverFunc func(calls []tools.Call) ([]string, error)

func (f approverFunc) Request(_ context.Context, calls []tools.Call, _ approval.Snapshot) ([]string, error) {
	return f(calls)
}

func (f approverFunc) Reset() {}

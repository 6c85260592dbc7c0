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

package dashboard

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/config"
	"github.com/osagberg/kube-assist-agent/internal/tools"
	"github.com/osagberg/kube-assist-agent/internal/tools/kubernetes"
)

// fakeProvider replies with queued responses, then with a plain answer.
type fakeProvider struct {
	mu        sync.Mutex
	responses []*ai.Response
	requests  []ai.Request
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Available() bool { return true }
func (p *fakeProvider) Format() ai.MessageFormat { return ai.FormatNative }

func (p *fakeProvider) Invoke(ctx context.Context, req ai.Request) (*ai.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return &ai.Response{Content: "All good.", TokensUsed: 5}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func callTool(id, name, args string) *ai.Response {
	return &ai.Response{ToolCalls: []ai.ToolCall{{ID: id, Name: name, Args: json.RawMessage(args)}}, TokensUsed: 3}
}

// stubTool is a builtin tool returning a fixed result.
type stubTool struct {
	name   string
	result tools.Result
}

func (t stubTool) Definition() ai.ToolDef {
	return ai.ToolDef{Name: t.name, Description: "stub " + t.name}
}

func (t stubTool) Type() tools.Type { return tools.TypeBuiltin }

func (t stubTool) Execute(_ context.Context, _ tools.Call, _ tools.Context) (tools.Result, error) {
	return t.result, nil
}

// fakeApplier records confirmed writes.
type fakeApplier struct {
	mu       sync.Mutex
	clusters []string
	requests []kubernetes.Request
	err      error
}

func (a *fakeApplier) Apply(_ context.Context, cluster string, req kubernetes.Request) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clusters = append(a.clusters, cluster)
	a.requests = append(a.requests, req)
	if a.err != nil {
		return "", a.err
	}
	return `{"kind":"ConfigMap","metadata":{"name":"demo"}}`, nil
}

// newTestServer builds a server with a fake model and the named tools
// enabled for new sessions.
func newTestServer(t *testing.T, provider *fakeProvider, registered ...tools.Tool) *Server {
	t.Helper()
	if provider == nil {
		provider = &fakeProvider{}
	}
	registry, err := tools.NewRegistry(registered...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	names := registry.Names()
	models := ai.NewManagerWithProvider(provider, ai.DefaultConfig())
	s := NewServer(config.ServerConfig{RateLimit: 1000, RateBurst: 1000}, models, registry)
	s.WithAgent(s.agentCfg, names)
	return s
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewBuffer(data)
}

func do(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = jsonBody(t, body)
	}
	req := httptest.NewRequest(method, target, r)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

// sseEvent is a decoded stream event.
type sseEvent map[string]any

func (e sseEvent) typ() string {
	s, _ := e["type"].(string)
	return s
}

func (e sseEvent) str(key string) string {
	s, _ := e[key].(string)
	return s
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, chunk := range strings.Split(body, "\n\n") {
		data, ok := strings.CutPrefix(strings.TrimSpace(chunk), "data: ")
		if !ok {
			continue
		}
		var evt sseEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			t.Fatalf("invalid event %q: %v", data, err)
		}
		events = append(events, evt)
	}
	return events
}

func eventTypes(events []sseEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.typ()
	}
	return out
}

// readEvents decodes events from a live stream until stop returns true or
// the stream ends.
func readEvents(t *testing.T, r io.Reader, stop func(sseEvent) bool) []sseEvent {
	t.Helper()
	var events []sseEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var evt sseEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			t.Fatalf("invalid event %q: %v", data, err)
		}
		events = append(events, evt)
		if stop(evt) {
			return events
		}
	}
	return events
}

func postStream(t *testing.T, base string, body any) *http.Response {
	t.Helper()
	resp, err := http.Post(base+"/api/chat", "application/json", jsonBody(t, body))
	if err != nil {
		t.Fatalf("POST /api/chat: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

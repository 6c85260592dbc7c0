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
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/osagberg/kube-assist-agent/internal/agent"
	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/tools"
)

const nodesTool = "cluster_nodes"

func TestHandleChat_POSTOnly(t *testing.T) {
	s := newTestServer(t, nil)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rr := do(t, s, method, "/api/chat", chatRequest{Message: "hello"})
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("handleChat(%s) status = %d, want %d", method, rr.Code, http.StatusMethodNotAllowed)
		}
	}
}

func TestHandleChat_InvalidMessage(t *testing.T) {
	s := newTestServer(t, nil)
	tests := map[string]string{
		"empty":      "",
		"whitespace": "   ",
		"too long":   strings.Repeat("x", maxChatMessageLen+1),
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/api/chat", chatRequest{Message: msg})
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleChat_PlainAnswer(t *testing.T) {
	s := newTestServer(t, nil)

	rr := do(t, s, http.MethodPost, "/api/chat", chatRequest{Message: "hi"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := parseSSE(t, rr.Body.String())
	want := []string{eventSessionID, "thinking", "content", "done"}
	if got := eventTypes(events); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	sessionID := events[0].str("sessionId")
	if sessionID == "" {
		t.Fatal("session_id event carries no sessionId")
	}
	if got := events[2].str("content"); got != "All good." {
		t.Errorf("content = %q, want %q", got, "All good.")
	}
	if got := events[3].str("sessionId"); got != sessionID {
		t.Errorf("done sessionId = %q, want %q", got, sessionID)
	}

	hist := decodeJSON[HistoryResponse](t, do(t, s, http.MethodGet, "/api/chat/history?sessionId="+sessionID, nil))
	if len(hist.Entries) != 2 {
		t.Fatalf("history has %d entries, want 2", len(hist.Entries))
	}
	if hist.Entries[0].Role != agent.RoleUser || hist.Entries[1].Content != "All good." {
		t.Errorf("unexpected history %+v", hist.Entries)
	}
	if hist.TokensUsed != 5 {
		t.Errorf("tokensUsed = %d, want 5", hist.TokensUsed)
	}
}

func TestHandleChat_ReusesSession(t *testing.T) {
	s := newTestServer(t, nil)

	first := parseSSE(t, do(t, s, http.MethodPost, "/api/chat", chatRequest{Message: "one"}).Body.String())
	sessionID := first[0].str("sessionId")

	second := parseSSE(t, do(t, s, http.MethodPost, "/api/chat", chatRequest{SessionID: sessionID, Message: "two"}).Body.String())
	if slices.Contains(eventTypes(second), eventSessionID) {
		t.Error("known session announced a new session_id")
	}
	if n := s.sessions.len(); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}

	hist := decodeJSON[HistoryResponse](t, do(t, s, http.MethodGet, "/api/chat/history?sessionId="+sessionID, nil))
	if len(hist.Entries) != 4 {
		t.Errorf("history has %d entries, want 4", len(hist.Entries))
	}
}

func TestHandleChat_ContextReachesPrompt(t *testing.T) {
	provider := &fakeProvider{}
	s := newTestServer(t, provider)

	do(t, s, http.MethodPost, "/api/chat", chatRequest{
		Message: "what is failing?",
		Context: &tools.Context{SelectedClusters: []string{"prod"}, Namespace: "payments"},
	})

	if len(provider.requests) != 1 {
		t.Fatalf("model calls = %d, want 1", len(provider.requests))
	}
	system := provider.requests[0].System
	for _, want := range []string{"Selected clusters: prod", "Namespace: payments"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestHandleChat_MaxSessions(t *testing.T) {
	s := newTestServer(t, nil)
	s.sessions.max = 1

	do(t, s, http.MethodPost, "/api/chat", chatRequest{Message: "one"})
	rr := do(t, s, http.MethodPost, "/api/chat", chatRequest{Message: "two"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleChat_ApprovalRoundTrip(t *testing.T) {
	provider := &fakeProvider{responses: []*ai.Response{callTool("call-1", nodesTool, `{}`)}}
	s := newTestServer(t, provider, stubTool{name: nodesTool, result: tools.Ok(`{"nodes":3}`)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp := postStream(t, ts.URL, chatRequest{Message: "how many nodes?"})
	events := readEvents(t, resp.Body, func(e sseEvent) bool { return e.typ() == eventApprovalRequired })
	last := events[len(events)-1]
	if last.typ() != eventApprovalRequired {
		t.Fatalf("stream ended before approval: %v", eventTypes(events))
	}
	sessionID := events[0].str("sessionId")
	request, _ := last["request"].(map[string]any)
	requestID, _ := request["requestId"].(string)
	if requestID == "" {
		t.Fatalf("approval event has no requestId: %v", last)
	}

	busy := do(t, s, http.MethodPost, "/api/chat", chatRequest{SessionID: sessionID, Message: "again"})
	if busy.Code != http.StatusConflict {
		t.Errorf("concurrent turn status = %d, want %d", busy.Code, http.StatusConflict)
	}

	hist := decodeJSON[HistoryResponse](t, do(t, s, http.MethodGet, "/api/chat/history?sessionId="+sessionID, nil))
	if !hist.Busy || hist.PendingApproval == nil || hist.PendingApproval.ID != requestID {
		t.Errorf("history busy=%v pending=%v, want busy with request %s", hist.Busy, hist.PendingApproval, requestID)
	}

	ar := do(t, s, http.MethodPost, "/api/chat/approval", approvalDecision{
		SessionID:   sessionID,
		RequestID:   requestID,
		ApprovedIDs: []string{"call-1"},
	})
	if ar.Code != http.StatusOK {
		t.Fatalf("approval status = %d: %s", ar.Code, ar.Body.String())
	}

	rest := readEvents(t, resp.Body, func(e sseEvent) bool { return e.typ() == "done" })
	var result, content sseEvent
	for _, e := range rest {
		switch e.typ() {
		case "tool_result":
			result = e
		case "content":
			content = e
		}
	}
	if result == nil || result.str("callId") != "call-1" || result.str("content") != `{"nodes":3}` {
		t.Errorf("tool_result = %v", result)
	}
	if content == nil || content.str("content") != "All good." {
		t.Errorf("content = %v", content)
	}
}

func TestHandleChat_DenyEndsTurn(t *testing.T) {
	provider := &fakeProvider{responses: []*ai.Response{callTool("call-1", nodesTool, `{}`)}}
	s := newTestServer(t, provider, stubTool{name: nodesTool, result: tools.Ok(`{}`)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp := postStream(t, ts.URL, chatRequest{Message: "list nodes"})
	events := readEvents(t, resp.Body, func(e sseEvent) bool { return e.typ() == eventApprovalRequired })
	sessionID := events[0].str("sessionId")
	request, _ := events[len(events)-1]["request"].(map[string]any)
	requestID, _ := request["requestId"].(string)

	ar := do(t, s, http.MethodPost, "/api/chat/approval", approvalDecision{SessionID: sessionID, RequestID: requestID, Deny: true})
	if ar.Code != http.StatusOK {
		t.Fatalf("deny status = %d", ar.Code)
	}

	rest := readEvents(t, resp.Body, func(e sseEvent) bool { return e.typ() == "done" })
	if got := eventTypes(rest); !slices.Equal(got, []string{"done"}) {
		t.Errorf("events after deny = %v, want [done]", got)
	}

	hist := decodeJSON[HistoryResponse](t, do(t, s, http.MethodGet, "/api/chat/history?sessionId="+sessionID, nil))
	last := hist.Entries[len(hist.Entries)-1]
	if last.Role != agent.RoleAssistant || len(last.ToolCalls) != 1 {
		t.Errorf("last entry = %+v, want the unanswered assistant call", last)
	}
}

func TestHandleAbort_DuringApproval(t *testing.T) {
	provider := &fakeProvider{responses: []*ai.Response{callTool("call-1", nodesTool, `{}`)}}
	s := newTestServer(t, provider, stubTool{name: nodesTool, result: tools.Ok(`{}`)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp := postStream(t, ts.URL, chatRequest{Message: "list nodes"})
	events := readEvents(t, resp.Body, func(e sseEvent) bool { return e.typ() == eventApprovalRequired })
	sessionID := events[0].str("sessionId")

	rr := do(t, s, http.MethodPost, "/api/chat/abort", sessionRequest{SessionID: sessionID})
	if rr.Code != http.StatusOK {
		t.Fatalf("abort status = %d", rr.Code)
	}
	if got := decodeJSON[map[string]any](t, rr)["aborted"]; got != true {
		t.Errorf("aborted = %v, want true", got)
	}

	rest := readEvents(t, resp.Body, func(e sseEvent) bool { return e.typ() == "done" })
	if got := eventTypes(rest); !slices.Equal(got, []string{"error", "done"}) {
		t.Fatalf("events after abort = %v, want [error done]", got)
	}
	if got := rest[0].str("content"); got != "Request cancelled." {
		t.Errorf("error content = %q", got)
	}
}

func TestHandleAbort_Idle(t *testing.T) {
	s := newTestServer(t, nil)
	events := parseSSE(t, do(t, s, http.MethodPost, "/api/chat", chatRequest{Message: "hi"}).Body.String())

	rr := do(t, s, http.MethodPost, "/api/chat/abort", sessionRequest{SessionID: events[0].str("sessionId")})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decodeJSON[map[string]any](t, rr)["aborted"]; got != false {
		t.Errorf("aborted = %v, want false", got)
	}
}

func TestHandleApproval_NoPendingRequest(t *testing.T) {
	s := newTestServer(t, nil)
	events := parseSSE(t, do(t, s, http.MethodPost, "/api/chat", chatRequest{Message: "hi"}).Body.String())

	rr := do(t, s, http.MethodPost, "/api/chat/approval", approvalDecision{
		SessionID: events[0].str("sessionId"),
		RequestID: "stale",
	})
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusConflict)
	}

	rr = do(t, s, http.MethodPost, "/api/chat/approval", approvalDecision{SessionID: "x"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing requestId status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleReset(t *testing.T) {
	s := newTestServer(t, nil)
	s.agentCfg.Greeting = "Hello, ask me about your cluster."
	events := parseSSE(t, do(t, s, http.MethodPost, "/api/chat", chatRequest{Message: "hi"}).Body.String())
	sessionID := events[0].str("sessionId")

	rr := do(t, s, http.MethodPost, "/api/chat/reset", sessionRequest{SessionID: sessionID})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	hist := decodeJSON[HistoryResponse](t, rr)
	if len(hist.Entries) != 1 || !hist.Entries[0].DisplayOnly {
		t.Errorf("entries after reset = %+v, want only the greeting", hist.Entries)
	}
	if hist.TokensUsed != 0 {
		t.Errorf("tokensUsed = %d, want 0", hist.TokensUsed)
	}
}

func TestHandleHistory_Lookup(t *testing.T) {
	s := newTestServer(t, nil)
	if rr := do(t, s, http.MethodGet, "/api/chat/history", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/api/chat/history?sessionId=nope", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rr.Code)
	}
	if rr := do(t, s, http.MethodPost, "/api/chat/history?sessionId=nope", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rr.Code)
	}
}

func TestHandleTools(t *testing.T) {
	s := newTestServer(t, nil,
		stubTool{name: nodesTool, result: tools.Ok(`{}`)},
		stubTool{name: "docs__search", result: tools.Ok(`{}`)},
	)
	events := parseSSE(t, do(t, s, http.MethodPost, "/api/chat", chatRequest{Message: "hi"}).Body.String())
	sessionID := events[0].str("sessionId")

	rr := do(t, s, http.MethodPut, "/api/chat/tools", toolsUpdate{SessionID: sessionID, EnabledTools: []string{"missing"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown tool status = %d, want 400", rr.Code)
	}

	rr = do(t, s, http.MethodPut, "/api/chat/tools", toolsUpdate{
		SessionID:    sessionID,
		EnabledTools: []string{nodesTool},
		Context:      tools.Context{Namespace: "kube-system"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	list := decodeJSON[[]toolInfo](t, do(t, s, http.MethodGet, "/api/chat/tools?sessionId="+sessionID, nil))
	enabled := map[string]bool{}
	for _, info := range list {
		enabled[info.Name] = info.Enabled
	}
	if !enabled[nodesTool] || enabled["docs__search"] {
		t.Errorf("enabled = %v, want only %s", enabled, nodesTool)
	}

	hist := decodeJSON[HistoryResponse](t, do(t, s, http.MethodGet, "/api/chat/history?sessionId="+sessionID, nil))
	if hist.Context.Namespace != "kube-system" {
		t.Errorf("context namespace = %q, want kube-system", hist.Context.Namespace)
	}
}

func TestHandleApply_NotConfigured(t *testing.T) {
	s := newTestServer(t, nil)
	rr := do(t, s, http.MethodPost, "/api/chat/apply", applyRequest{Method: "DELETE", URL: "/api/v1/namespaces/default/pods/web"})
	if rr.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotImplemented)
	}
}

func TestHandleApply_Validation(t *testing.T) {
	s := newTestServer(t, nil).WithApplier(&fakeApplier{})
	tests := map[string]applyRequest{
		"get":        {Method: "GET", URL: "/api/v1/pods"},
		"no method":  {URL: "/api/v1/pods"},
		"no url":     {Method: "DELETE"},
		"no session": {Method: "DELETE", URL: "/api/v1/pods", ToolCallID: "call-1"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/api/chat/apply", req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestHandleApply_RecordsDeferredCall(t *testing.T) {
	const url = "/api/v1/namespaces/default/configmaps"
	pending := tools.Result{Content: `{"status":"pending_confirmation","toolCallId":"call-7"}`}
	provider := &fakeProvider{responses: []*ai.Response{
		callTool("call-7", agent.KubernetesToolName, `{"method":"POST","url":"`+url+`"}`),
	}}
	rules, err := approval.NewRules([]string{"true"})
	if err != nil {
		t.Fatalf("NewRules() error = %v", err)
	}
	applier := &fakeApplier{}
	s := newTestServer(t, provider, stubTool{name: agent.KubernetesToolName, result: pending}).
		WithRules(rules).
		WithApplier(applier)

	events := parseSSE(t, do(t, s, http.MethodPost, "/api/chat", chatRequest{
		Message: "create a config map",
		Context: &tools.Context{SelectedClusters: []string{"staging"}},
	}).Body.String())
	sessionID := events[0].str("sessionId")
	var deferred bool
	for _, e := range events {
		if e.typ() == "tool_result" {
			deferred, _ = e["deferred"].(bool)
		}
	}
	if !deferred {
		t.Fatalf("tool_result not deferred: %v", events)
	}

	rr := do(t, s, http.MethodPost, "/api/chat/apply", applyRequest{
		SessionID:  sessionID,
		ToolCallID: "call-7",
		Method:     "post",
		URL:        url,
		Body:       "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: demo\n",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeJSON[applyResponse](t, rr)
	if !resp.Success || !resp.Recorded {
		t.Errorf("response = %+v, want success and recorded", resp)
	}
	if len(applier.requests) != 1 || applier.requests[0].Method != "POST" || applier.clusters[0] != "staging" {
		t.Errorf("applier got %v on %v", applier.requests, applier.clusters)
	}

	hist := decodeJSON[HistoryResponse](t, do(t, s, http.MethodGet, "/api/chat/history?sessionId="+sessionID, nil))
	var found bool
	for _, e := range hist.Entries {
		if e.Role == agent.RoleTool && e.ToolCallID == "call-7" && e.Success {
			found = true
		}
	}
	if !found {
		t.Errorf("no tool entry for call-7 in %+v", hist.Entries)
	}

	again := decodeJSON[applyResponse](t, do(t, s, http.MethodPost, "/api/chat/apply", applyRequest{
		SessionID:  sessionID,
		ToolCallID: "call-7",
		Method:     "DELETE",
		URL:        url + "/demo",
	}))
	if again.Recorded {
		t.Error("second result for the same call was recorded")
	}
}

func TestHandleApply_Failure(t *testing.T) {
	applier := &fakeApplier{err: errors.New("configmaps \"demo\" already exists")}
	s := newTestServer(t, nil).WithApplier(applier)

	rr := do(t, s, http.MethodPost, "/api/chat/apply", applyRequest{Method: "POST", URL: "/api/v1/namespaces/default/configmaps", Body: "{}"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}
	resp := decodeJSON[applyResponse](t, rr)
	if resp.Success || !strings.Contains(resp.Error, "already exists") {
		t.Errorf("response = %+v", resp)
	}
	if failed, _ := tools.DetectFailure(resp.Result); !failed {
		t.Errorf("result %q is not an error body", resp.Result)
	}
}

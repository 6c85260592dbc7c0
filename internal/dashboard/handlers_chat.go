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
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/osagberg/kube-assist-agent/internal/agent"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/tools"
	"github.com/osagberg/kube-assist-agent/internal/tools/kubernetes"
)

// maxChatMessageLen is the maximum length of a single chat message.
const maxChatMessageLen = 8000

// maxChatBodySize is the maximum body size for chat requests.
const maxChatBodySize = 1 << 16 // 64 KB

// maxApplyBodySize bounds POST /api/chat/apply, which carries manifests.
const maxApplyBodySize = 1 << 20 // 1 MB

// Stream event types added on top of the orchestrator's events.
const (
	eventSessionID        = "session_id"
	eventApprovalRequired = "approval_required"
)

// streamEvent is an orchestrator event as sent on the wire. Done events
// carry the session ID.
type streamEvent struct {
	agent.Event
	SessionID string `json:"sessionId,omitempty"`
}

type sessionIDEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type approvalEvent struct {
	Type      string           `json:"type"`
	SessionID string           `json:"sessionId"`
	Request   approval.Request `json:"request"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	SessionID string         `json:"sessionId"`
	Message   string         `json:"message"`
	Context   *tools.Context `json:"context,omitempty"`
}

// sessionRequest is the JSON body of abort and reset.
type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// approvalDecision is the JSON body for POST /api/chat/approval.
type approvalDecision struct {
	SessionID   string   `json:"sessionId"`
	RequestID   string   `json:"requestId"`
	ApprovedIDs []string `json:"approvedIds"`
	Remember    bool     `json:"remember"`
	Deny        bool     `json:"deny"`
}

// toolsUpdate is the JSON body for PUT /api/chat/tools.
type toolsUpdate struct {
	SessionID    string        `json:"sessionId"`
	EnabledTools []string      `json:"enabledTools"`
	Context      tools.Context `json:"context"`
}

// toolInfo describes one registered tool for GET /api/chat/tools.
type toolInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        tools.Type `json:"type"`
	Enabled     bool       `json:"enabled"`
}

// applyRequest is the JSON body for POST /api/chat/apply.
type applyRequest struct {
	SessionID  string `json:"sessionId"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Cluster    string `json:"cluster,omitempty"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	Body       string `json:"body,omitempty"`
}

type applyResponse struct {
	Success  bool   `json:"success"`
	Result   string `json:"result"`
	Error    string `json:"error,omitempty"`
	Recorded bool   `json:"recorded"`
}

// HistoryResponse is the JSON response for GET /api/chat/history.
type HistoryResponse struct {
	SessionID       string            `json:"sessionId"`
	Entries         []agent.Entry     `json:"entries"`
	EnabledTools    []string          `json:"enabledTools"`
	Context         tools.Context     `json:"context"`
	TokensUsed      int64             `json:"tokensUsed"`
	Busy            bool              `json:"busy"`
	PendingApproval *approval.Request `json:"pendingApproval,omitempty"`
}

// handleChat handles POST /api/chat. It runs one turn and streams its
// events as Server-Sent Events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if !decodeBody(w, r, maxChatBodySize, &req) {
		return
	}

	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if len(msg) > maxChatMessageLen {
		http.Error(w, fmt.Sprintf("message exceeds maximum length of %d characters", maxChatMessageLen), http.StatusBadRequest)
		return
	}

	session, created, err := s.sessions.getOrCreate(req.SessionID, s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if session.orch.Busy() {
		http.Error(w, "A request is already in progress for this session", http.StatusConflict)
		return
	}
	if req.Context != nil {
		enabled, _ := session.orch.Enabled()
		session.orch.ConfigureTools(enabled, *req.Context)
	}

	stream := newEventStream(w)
	if created {
		stream.send(sessionIDEvent{Type: eventSessionID, SessionID: session.ID})
	}
	session.attach(stream)
	defer session.detach(stream)

	_, err = session.orch.RunTurn(r.Context(), msg, func(evt agent.Event) {
		out := streamEvent{Event: evt}
		if evt.Type == agent.EventDone {
			out.SessionID = session.ID
		}
		stream.send(out)
	})
	if errors.Is(err, agent.ErrTurnInProgress) {
		stream.send(streamEvent{Event: agent.Event{Type: agent.EventError, Content: "A request is already in progress for this session."}})
		stream.send(streamEvent{Event: agent.Event{Type: agent.EventDone}, SessionID: session.ID})
	}
	session.touch(s.now())
}

// handleApproval handles POST /api/chat/approval.
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req approvalDecision
	if !decodeBody(w, r, maxChatBodySize, &req) {
		return
	}
	if req.RequestID == "" {
		http.Error(w, "requestId is required", http.StatusBadRequest)
		return
	}
	session, ok := s.lookupSession(w, req.SessionID)
	if !ok {
		return
	}

	var err error
	if req.Deny {
		err = session.gate.Deny(req.RequestID)
	} else {
		err = session.gate.Resolve(req.RequestID, req.ApprovedIDs, req.Remember)
	}
	if errors.Is(err, approval.ErrNoPendingRequest) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		log.Error(err, "Failed to record approval decision", "session", session.ID)
		http.Error(w, "Failed to record decision", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": session.ID,
		"requestId": req.RequestID,
		"policy":    session.gate.Policy().Snapshot(),
	})
}

// handleAbort handles POST /api/chat/abort. Aborting an idle session is a
// no-op.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sessionRequest
	if !decodeBody(w, r, maxChatBodySize, &req) {
		return
	}
	session, ok := s.lookupSession(w, req.SessionID)
	if !ok {
		return
	}
	wasBusy := session.orch.Busy()
	session.orch.Abort()
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": session.ID, "aborted": wasBusy})
}

// handleReset handles POST /api/chat/reset and returns the fresh history.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sessionRequest
	if !decodeBody(w, r, maxChatBodySize, &req) {
		return
	}
	session, ok := s.lookupSession(w, req.SessionID)
	if !ok {
		return
	}
	session.orch.Reset()
	session.touch(s.now())
	writeJSON(w, http.StatusOK, historyOf(session))
}

// handleHistory handles GET /api/chat/history?sessionId=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session, ok := s.lookupSession(w, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, historyOf(session))
}

func historyOf(session *chatSession) HistoryResponse {
	enabled, toolCtx := session.orch.Enabled()
	resp := HistoryResponse{
		SessionID:    session.ID,
		Entries:      session.orch.History(),
		EnabledTools: enabled,
		Context:      toolCtx,
		TokensUsed:   session.orch.TokensUsed(),
		Busy:         session.orch.Busy(),
	}
	if pending, ok := session.gate.Pending(); ok {
		resp.PendingApproval = &pending
	}
	return resp
}

// handleTools handles GET and PUT for /api/chat/tools.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTools(w, r)
	case http.MethodPut:
		s.handlePutTools(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleListTools lists the registered tools, marking those enabled in the
// session when sessionId is given.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	enabled := s.defaultTools
	if id := r.URL.Query().Get("sessionId"); id != "" {
		session, ok := s.lookupSession(w, id)
		if !ok {
			return
		}
		enabled, _ = session.orch.Enabled()
	}
	names := s.registry.Names()
	infos := make([]toolInfo, 0, len(names))
	for _, name := range names {
		tool, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		def := tool.Definition()
		infos = append(infos, toolInfo{
			Name:        name,
			Description: def.Description,
			Type:        tool.Type(),
			Enabled:     slices.Contains(enabled, name),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// handlePutTools replaces the enabled tools and the UI context of a
// session. The change applies from the next turn.
func (s *Server) handlePutTools(w http.ResponseWriter, r *http.Request) {
	var req toolsUpdate
	if !decodeBody(w, r, maxChatBodySize, &req) {
		return
	}
	session, ok := s.lookupSession(w, req.SessionID)
	if !ok {
		return
	}
	for _, name := range req.EnabledTools {
		if _, ok := s.registry.Get(name); !ok {
			http.Error(w, fmt.Sprintf("unknown tool %q", name), http.StatusBadRequest)
			return
		}
	}
	if req.EnabledTools == nil {
		req.EnabledTools = []string{}
	}
	session.orch.ConfigureTools(req.EnabledTools, req.Context)
	session.touch(s.now())
	enabled, toolCtx := session.orch.Enabled()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":    session.ID,
		"enabledTools": enabled,
		"context":      toolCtx,
	})
}

// handleApply handles POST /api/chat/apply: the user confirmed a write the
// assistant proposed. With a toolCallId the outcome is recorded as that
// call's result.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.applier == nil {
		http.Error(w, "Applying changes is not configured", http.StatusNotImplemented)
		return
	}
	var req applyRequest
	if !decodeBody(w, r, maxApplyBodySize, &req) {
		return
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" || method == http.MethodGet {
		http.Error(w, "method must be one of POST, PUT, PATCH, DELETE", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	var session *chatSession
	if req.SessionID != "" || req.ToolCallID != "" {
		var ok bool
		if session, ok = s.lookupSession(w, req.SessionID); !ok {
			return
		}
	}
	cluster := req.Cluster
	if cluster == "" && session != nil {
		_, toolCtx := session.orch.Enabled()
		cluster = toolCtx.Cluster()
	}

	kreq := kubernetes.Request{Method: method, URL: req.URL, Body: req.Body}
	content, err := s.applier.Apply(r.Context(), cluster, kreq)
	resp := applyResponse{Success: err == nil, Result: content}
	if err != nil {
		log.Info("Confirmed change failed", "method", method, "url", req.URL, "cluster", cluster, "error", err.Error())
		resp.Error = err.Error()
		resp.Result = tools.ErrorContent(agent.KubernetesToolName, map[string]any{
			"method": method,
			"url":    req.URL,
		}, err.Error())
	}
	RecordApply(method, resp.Success)

	if session != nil && req.ToolCallID != "" {
		if _, rerr := session.orch.RecordToolResult(req.ToolCallID, resp.Result, !resp.Success); rerr != nil {
			log.Info("Apply result not recorded", "session", session.ID, "toolCallId", req.ToolCallID, "reason", rerr.Error())
		} else {
			resp.Recorded = true
		}
		session.touch(s.now())
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// lookupSession finds a session and writes the error response when it
// does not exist.
func (s *Server) lookupSession(w http.ResponseWriter, id string) (*chatSession, bool) {
	if id == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return nil, false
	}
	session, ok := s.sessions.get(id)
	if !ok {
		http.Error(w, "Chat session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

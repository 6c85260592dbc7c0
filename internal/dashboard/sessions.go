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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osagberg/kube-assist-agent/internal/agent"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/notifier"
	"github.com/osagberg/kube-assist-agent/internal/tools"
)

// errTooManySessions is returned when the session limit is reached.
var errTooManySessions = errors.New("maximum concurrent chat sessions reached")

// chatSession is one conversation: an orchestrator, its approval gate and
// the event stream of the turn in flight.
type chatSession struct {
	ID        string
	orch      *agent.Orchestrator
	gate      *approval.Gate
	CreatedAt time.Time

	mu             sync.Mutex
	lastAccessedAt time.Time
	stream         *eventStream
}

func (s *Server) newSession(id string) *chatSession {
	session := &chatSession{ID: id, CreatedAt: s.now()}
	session.gate = approval.NewGate(
		approval.WithRules(s.rules),
		approval.WithNotifier(func(req approval.Request) {
			session.notifyApproval(req)
			s.alerts.Go(approvalNotification(session.ID, req))
		}),
	)
	session.orch = agent.New(s.models, s.registry, session.gate, s.agentCfg)
	session.orch.ConfigureTools(s.defaultTools, tools.Context{})
	return session
}

func (cs *chatSession) touch(now time.Time) {
	cs.mu.Lock()
	cs.lastAccessedAt = now
	cs.mu.Unlock()
}

func (cs *chatSession) idleSince() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastAccessedAt
}

func (cs *chatSession) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(cs.idleSince()) > ttl && !cs.orch.Busy()
}

// attach routes approval requests to stream until detach.
func (cs *chatSession) attach(stream *eventStream) {
	cs.mu.Lock()
	cs.stream = stream
	cs.mu.Unlock()
}

func (cs *chatSession) detach(stream *eventStream) {
	cs.mu.Lock()
	if cs.stream == stream {
		cs.stream = nil
	}
	cs.mu.Unlock()
}

// notifyApproval forwards an interactive approval request to the open
// stream. Without one the request waits until the turn is aborted.
func (cs *chatSession) notifyApproval(req approval.Request) {
	cs.mu.Lock()
	stream := cs.stream
	cs.mu.Unlock()
	if stream == nil {
		log.Info("Approval requested with no open stream", "session", cs.ID, "requestId", req.ID)
		return
	}
	stream.send(approvalEvent{Type: eventApprovalRequired, SessionID: cs.ID, Request: req})
}

func approvalNotification(sessionID string, req approval.Request) notifier.Notification {
	names := make([]string, 0, len(req.Calls))
	for _, c := range req.Calls {
		if !slices.Contains(names, c.Name) {
			names = append(names, c.Name)
		}
	}
	return notifier.Notification{
		SessionID: sessionID,
		RequestID: req.ID,
		Tools:     names,
		Message:   req.LastUserMessage,
		Cluster:   req.Context.Cluster(),
		Namespace: req.Context.Namespace,
		Timestamp: req.CreatedAt,
	}
}

// sessionStore holds the live sessions.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*chatSession
	max      int
	create   func(id string) *chatSession
}

func newSessionStore(max int, create func(id string) *chatSession) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*chatSession),
		max:      max,
		create:   create,
	}
}

// getOrCreate returns the session named id, or a new session when id is
// empty or unknown.
func (st *sessionStore) getOrCreate(id string, now time.Time) (*chatSession, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id != "" {
		if session, ok := st.sessions[id]; ok {
			session.touch(now)
			return session, false, nil
		}
	}
	if len(st.sessions) >= st.max {
		return nil, false, errTooManySessions
	}

	session := st.create(uuid.NewString())
	session.touch(now)
	st.sessions[session.ID] = session
	RecordActiveSessions(len(st.sessions))
	return session, true, nil
}

func (st *sessionStore) get(id string) (*chatSession, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	session, ok := st.sessions[id]
	return session, ok
}

func (st *sessionStore) len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// evictIdle removes sessions idle for longer than ttl. Sessions with a turn
// in flight are kept.
func (st *sessionStore) evictIdle(now time.Time, ttl time.Duration) int {
	candidates := st.idleCandidates(now, ttl)
	if len(candidates) == 0 {
		return 0
	}
	return st.removeIdle(candidates, now, ttl)
}

func (st *sessionStore) idleCandidates(now time.Time, ttl time.Duration) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var ids []string
	for id, session := range st.sessions {
		if session.expired(now, ttl) {
			ids = append(ids, id)
		}
	}
	return ids
}

// removeIdle deletes the named sessions that are still expired. A session
// touched or started since idleCandidates ran is kept.
func (st *sessionStore) removeIdle(ids []string, now time.Time, ttl time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for _, id := range ids {
		session, ok := st.sessions[id]
		if !ok || !session.expired(now, ttl) {
			continue
		}
		delete(st.sessions, id)
		removed++
	}
	RecordActiveSessions(len(st.sessions))
	return removed
}

func (st *sessionStore) abortAll() {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, session := range st.sessions {
		session.orch.Abort()
	}
}

// eventStream writes Server-Sent Events. Writes are serialized.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) *eventStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: flusher}
}

func (es *eventStream) send(evt any) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error(err, "Failed to marshal SSE chat event")
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	_, _ = fmt.Fprintf(es.w, "data: %s\n\n", data)
	if es.flusher != nil {
		es.flusher.Flush()
	}
}

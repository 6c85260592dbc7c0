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

// Package approval implements the human approval gate that sits between a
// model's tool-call batch and its execution.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/osagberg/kube-assist-agent/internal/tools"
)

var log = logf.Log.WithName("approval")

var (
	// ErrDenied is returned when the user rejects a batch.
	ErrDenied = errors.New("tool calls denied by user")

	// ErrSuperseded is returned when a newer batch replaced a pending one.
	ErrSuperseded = errors.New("approval request superseded")

	// ErrNoPendingRequest is returned by Resolve and Deny when the request
	// ID does not name the pending request.
	ErrNoPendingRequest = errors.New("no pending approval request with that id")
)

// State is the gate's position in the approval state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingApproval
	StateApproved
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateApproved:
		return "approved"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// HistoryItem is one recent conversation line shown next to a request.
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Snapshot is the conversation state attached to an approval request.
type Snapshot struct {
	LastUserMessage string        `json:"lastUserMessage"`
	RecentHistory   []HistoryItem `json:"recentHistory"`
	Context         tools.Context `json:"context"`
}

// Request asks the user to approve the calls that no policy approved.
type Request struct {
	ID           string       `json:"requestId"`
	Calls        []tools.Call `json:"calls"`
	AutoApproved []string     `json:"autoApproved,omitempty"`
	Snapshot
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier is called once for every interactive request. It must not block.
type Notifier func(Request)

type decision struct {
	approved   []string
	remember   bool
	denied     bool
	superseded bool
}

type pending struct {
	request Request
	result  chan decision
}

// Gate decides which calls of a batch may run. One batch may wait for the
// user at a time; a new batch supersedes the waiting one.
type Gate struct {
	mu      sync.Mutex
	policy  *SessionPolicy
	rules   *Rules
	notify  Notifier
	state   State
	pending *pending
	now     func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithRules auto-approves calls matched by rules.
func WithRules(rules *Rules) Option {
	return func(g *Gate) {
		g.rules = rules
	}
}

// WithNotifier sets the callback that surfaces interactive requests.
func WithNotifier(n Notifier) Option {
	return func(g *Gate) {
		g.notify = n
	}
}

// NewGate creates a gate with an empty session policy.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		policy: NewSessionPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetNotifier replaces the notifier.
func (g *Gate) SetNotifier(n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notify = n
}

// Policy returns the session policy the gate maintains.
func (g *Gate) Policy() *SessionPolicy {
	return g.policy
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending returns the request waiting for a decision, if any.
func (g *Gate) Pending() (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Request{}, false
	}
	return g.pending.request, true
}

// Request returns the IDs of the approved calls in batch order. Calls are
// approved by the session flag, the per-tool set, or a rule; the rest are
// put to the user. It returns ErrDenied if the user denies the batch,
// ErrSuperseded if a newer batch replaces it, or the context error.
func (g *Gate) Request(ctx context.Context, calls []tools.Call, snapshot Snapshot) ([]string, error) {
	var auto []string
	var interactive []tools.Call
	for _, call := range calls {
		if g.policy.AutoApproves(call.Name) || g.rules.Allows(call) {
			auto = append(auto, call.ID)
			continue
		}
		interactive = append(interactive, call)
	}

	if len(interactive) == 0 {
		g.setState(StateApproved)
		RecordDecision(DecisionAuto)
		return callIDs(calls), nil
	}

	p := &pending{
		request: Request{
			ID:           uuid.NewString(),
			Calls:        interactive,
			AutoApproved: auto,
			Snapshot:     snapshot,
			CreatedAt:    g.now(),
		},
		result: make(chan decision, 1),
	}

	g.mu.Lock()
	if g.pending != nil {
		log.Info("Superseding pending approval request", "requestId", g.pending.request.ID)
		g.pending.result <- decision{superseded: true}
	}
	g.pending = p
	g.state = StateAwaitingApproval
	notify := g.notify
	g.mu.Unlock()

	log.V(1).Info("Awaiting approval", "requestId", p.request.ID, "calls", len(interactive), "autoApproved", len(auto))
	if notify != nil {
		notify(p.request)
	}

	start := g.now()
	select {
	case <-ctx.Done():
		g.mu.Lock()
		if g.pending == p {
			g.pending = nil
			g.state = StateIdle
		}
		g.mu.Unlock()
		RecordDecision(DecisionCancelled)
		return nil, ctx.Err()
	case d := <-p.result:
		RecordWait(g.now().Sub(start))
		return g.apply(calls, interactive, auto, d)
	}
}

func (g *Gate) apply(calls, interactive []tools.Call, auto []string, d decision) ([]string, error) {
	if d.superseded {
		RecordDecision(DecisionSuperseded)
		return nil, ErrSuperseded
	}

	approvedSet := make(map[string]bool, len(calls))
	for _, id := range auto {
		approvedSet[id] = true
	}
	chosen := make(map[string]bool, len(d.approved))
	for _, id := range d.approved {
		chosen[id] = true
	}
	var approvedNames []string
	for _, call := range interactive {
		if !d.denied && chosen[call.ID] {
			approvedSet[call.ID] = true
			approvedNames = append(approvedNames, call.Name)
		}
	}

	if d.denied || len(approvedSet) == 0 {
		g.setState(StateDenied)
		RecordDecision(DecisionDenied)
		return nil, ErrDenied
	}

	if d.remember {
		if len(approvedNames) == len(interactive) {
			g.policy.SetSessionAutoApprove(true)
		} else {
			g.policy.AddTools(approvedNames...)
		}
	}

	g.setState(StateApproved)
	if len(approvedSet) == len(calls) {
		RecordDecision(DecisionApproved)
	} else {
		RecordDecision(DecisionPartial)
	}

	ids := make([]string, 0, len(approvedSet))
	for _, call := range calls {
		if approvedSet[call.ID] {
			ids = append(ids, call.ID)
		}
	}
	return ids, nil
}

// Resolve approves the listed calls of the pending request. Calls that are
// not listed are not run. With remember set, approving every call turns on
// session-wide auto-approval; approving some adds their tool names to the
// per-tool set.
func (g *Gate) Resolve(requestID string, approvedIDs []string, remember bool) error {
	return g.decide(requestID, decision{approved: approvedIDs, remember: remember})
}

// Deny rejects the whole pending request.
func (g *Gate) Deny(requestID string) error {
	return g.decide(requestID, decision{denied: true})
}

func (g *Gate) decide(requestID string, d decision) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil || g.pending.request.ID != requestID {
		return ErrNoPendingRequest
	}
	g.pending.result <- d
	g.pending = nil
	return nil
}

// Reset forgets the session policy and supersedes any pending request.
func (g *Gate) Reset() {
	g.mu.Lock()
	if g.pending != nil {
		g.pending.result <- decision{superseded: true}
		g.pending = nil
	}
	g.state = StateIdle
	g.mu.Unlock()
	g.policy.Reset()
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
}

func callIDs(calls []tools.Call) []string {
	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.ID
	}
	return ids
}

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

// Package agent drives a conversation turn: it sends the history to the
// model, runs the tools the model asks for once they are approved, records
// the results and repeats until the model answers in plain text.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/tools"
)

// Orchestrator defaults.
const (
	DefaultMaxRounds        = 10
	DefaultMaxParallelTools = 4
	approvalHistoryWindow   = 5
)

// Invoker sends one round to a model.
type Invoker interface {
	Invoke(ctx context.Context, request ai.Request) (*ai.Response, error)
	Format() ai.MessageFormat
}

// ToolSet executes tools and describes them to the model.
type ToolSet interface {
	tools.Executor
	Definitions(enabled []string) []ai.ToolDef
	TypeOf(name string) tools.Type
}

// Approver decides which calls of a batch may run.
type Approver interface {
	Request(ctx context.Context, calls []tools.Call, snapshot approval.Snapshot) ([]string, error)
	Reset()
}

// EventType identifies the kind of event emitted during a turn.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventContent    EventType = "content"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event reports turn progress to the caller.
type Event struct {
	Type    EventType       `json:"type"`
	Content string          `json:"content,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	CallID  string          `json:"callId,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Failed  bool            `json:"failed,omitempty"`

	// Deferred marks a tool result that waits for user confirmation. The
	// call holds a pending placeholder entry until RecordToolResult.
	Deferred bool `json:"deferred,omitempty"`
	Tokens   int  `json:"tokens,omitempty"`
}

// Config tunes an Orchestrator.
type Config struct {
	// MaxRounds bounds the model rounds of one turn.
	MaxRounds int `json:"maxRounds" koanf:"max_rounds"`

	// MaxParallelTools bounds concurrent tool executions within a batch.
	MaxParallelTools int `json:"maxParallelTools" koanf:"max_parallel_tools"`

	// ToolContentCap is the tool-content byte cap per model round.
	ToolContentCap int `json:"toolContentCap" koanf:"tool_content_cap"`

	// MaxTokens is passed to the model with every round.
	MaxTokens int `json:"maxTokens,omitempty" koanf:"max_tokens"`

	// Greeting, when set, is kept as a display-only first entry.
	Greeting string `json:"greeting,omitempty" koanf:"greeting"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxRounds:        DefaultMaxRounds,
		MaxParallelTools: DefaultMaxParallelTools,
		ToolContentCap:   DefaultToolContentCap,
	}
}

// Orchestrator runs the turns of one conversation. Turns are strictly
// sequential; a second concurrent turn is rejected with ErrTurnInProgress.
type Orchestrator struct {
	invoker Invoker
	tools   ToolSet
	gate    Approver
	cfg     Config
	history *History

	mu      sync.Mutex
	enabled []string
	toolCtx tools.Context
	cancel  context.CancelFunc
	done    chan struct{}

	busy   atomic.Bool
	tokens atomic.Int64
}

// New creates an Orchestrator. Zero config fields take their defaults.
func New(invoker Invoker, toolSet ToolSet, gate Approver, cfg Config) *Orchestrator {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = DefaultMaxParallelTools
	}
	o := &Orchestrator{
		invoker: invoker,
		tools:   toolSet,
		gate:    gate,
		cfg:     cfg,
		history: NewHistory(WithToolContentCap(cfg.ToolContentCap)),
	}
	o.greet()
	return o
}

func (o *Orchestrator) greet() {
	if o.cfg.Greeting != "" {
		o.history.Append(DisplayEntry(o.cfg.Greeting))
	}
}

// History returns the full history, display-only entries included.
func (o *Orchestrator) History() []Entry {
	return o.history.Snapshot()
}

// TokensUsed returns the tokens consumed by the conversation since the last
// reset.
func (o *Orchestrator) TokensUsed() int64 {
	return o.tokens.Load()
}

// Busy reports whether a turn is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// ConfigureTools replaces the enabled tool set and the context passed to
// tool executions. It applies from the next turn on.
func (o *Orchestrator) ConfigureTools(enabled []string, toolCtx tools.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = slices.Clone(enabled)
	toolCtx.SelectedClusters = slices.Clone(toolCtx.SelectedClusters)
	o.toolCtx = toolCtx
}

// Enabled returns the enabled tool names and the tool context.
func (o *Orchestrator) Enabled() ([]string, tools.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.enabled), o.toolCtx
}

// Abort cancels the turn in flight, if any.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Reset aborts the turn in flight, waits for it to finish and clears the
// history and the session approval policy.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	o.history.Reset()
	o.gate.Reset()
	o.tokens.Store(0)
	o.greet()
}

// UserSend runs one turn without progress events.
func (o *Orchestrator) UserSend(ctx context.Context, text string) (Entry, error) {
	return o.RunTurn(ctx, text, nil)
}

// RunTurn appends text as a user entry and drives model rounds until the
// turn ends. The returned entry is the terminal reply; the only error is
// ErrTurnInProgress.
func (o *Orchestrator) RunTurn(ctx context.Context, text string, emit func(Event)) (Entry, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return Entry{}, ErrTurnInProgress
	}
	defer o.busy.Store(false)
	if emit == nil {
		emit = func(Event) {}
	}

	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.mu.Lock()
	o.cancel, o.done = cancel, done
	t := &turn{
		o:       o,
		ctx:     turnCtx,
		emit:    emit,
		enabled: slices.Clone(o.enabled),
		toolCtx: o.toolCtx,
	}
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		o.cancel, o.done = nil, nil
		o.mu.Unlock()
		close(done)
	}()

	start := time.Now()
	o.history.Append(UserEntry(text))
	entry, outcome := t.run()
	recordTurn(outcome, t.rounds, time.Since(start))
	log.V(1).Info("turn finished", "outcome", outcome, "rounds", t.rounds, "tokens", t.tokens)
	return entry, nil
}

// RecordToolResult records the outcome of a call that returned a pending
// confirmation and was applied later, replacing its placeholder. It fails
// when the call is unknown or already answered, or while a turn is in flight.
func (o *Orchestrator) RecordToolResult(callID, content string, failed bool) (Entry, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return Entry{}, ErrTurnInProgress
	}
	defer o.busy.Store(false)
	return o.history.Answer(callID, content, failed)
}

// turn holds the state of one RunTurn call.
type turn struct {
	o       *Orchestrator
	ctx     context.Context
	emit    func(Event)
	enabled []string
	toolCtx tools.Context
	rounds  int
	tokens  int
}

// pendingCall is an approved-or-not tool call with its parsed arguments.
type pendingCall struct {
	ref      ToolCallRef
	call     tools.Call
	parseErr error
}

type callOutcome struct {
	result tools.Result
	failed bool
	reason string
}

func (t *turn) run() (Entry, string) {
	o := t.o
	defs := o.tools.Definitions(t.enabled)
	external := false
	descriptions := make(map[string]string, len(defs))
	for _, d := range defs {
		descriptions[d.Name] = d.Description
		if o.tools.TypeOf(d.Name) == tools.TypeExternal {
			external = true
		}
	}

	for round := 0; ; round++ {
		if round >= o.cfg.MaxRounds {
			log.Info("turn exceeded the tool round limit", "maxRounds", o.cfg.MaxRounds)
			msg := fmt.Sprintf("The assistant reached the limit of %d tool rounds without a final answer.", o.cfg.MaxRounds)
			return t.terminate(ErrorEntry(errorReplyPrefix + msg)), OutcomeMaxRounds
		}
		o.history.ValidateAlignment()

		t.emit(Event{Type: EventThinking})
		resp, err := o.invoker.Invoke(t.ctx, ai.Request{
			System:    SystemPrompt(t.enabled, external, t.toolCtx, round > 0),
			Messages:  o.history.PrepareForModel(o.invoker.Format()),
			Tools:     defs,
			MaxTokens: o.cfg.MaxTokens,
		})
		t.rounds++
		if t.ctx.Err() != nil {
			return t.cancelled()
		}
		if err != nil {
			return t.failed(err)
		}
		if resp == nil {
			resp = &ai.Response{}
		}
		t.tokens += resp.TokensUsed
		o.tokens.Add(int64(resp.TokensUsed))

		if len(resp.ToolCalls) == 0 {
			return t.terminate(AssistantEntry(resp.Content, nil)), OutcomeAnswered
		}
		if len(t.enabled) == 0 {
			log.Info("model requested tools while all tools are disabled", "calls", len(resp.ToolCalls))
			return t.terminate(AssistantEntry(toolsDisabledReply, nil)), OutcomeToolsDisabled
		}

		batch, disabled := t.prepareBatch(resp.ToolCalls, descriptions)
		if len(batch) == 0 {
			log.Info("model requested only disabled tools", "tools", disabled)
			return t.terminate(AssistantEntry(disabledToolsReply(disabled), nil)), OutcomeToolsDisabled
		}

		refs := make([]ToolCallRef, len(batch))
		calls := make([]tools.Call, len(batch))
		for i, p := range batch {
			refs[i] = p.ref
			calls[i] = p.call
		}
		assistant := AssistantEntry(resp.Content, refs)
		o.history.Append(assistant)
		for _, p := range batch {
			t.emit(Event{Type: EventToolCall, Tool: p.ref.Name, CallID: p.ref.ID, Args: p.ref.Arguments})
		}

		approved, err := o.gate.Request(t.ctx, calls, t.snapshot())
		if err != nil {
			if t.ctx.Err() != nil {
				return t.cancelled()
			}
			log.Info("tool batch not approved", "reason", err.Error(), "calls", len(calls))
			t.emit(Event{Type: EventDone, Tokens: t.tokens})
			return assistant, OutcomeDenied
		}

		followUp := t.runBatch(batch, approved)
		o.history.TrimAfterLastToolRound()

		if t.ctx.Err() != nil {
			return t.cancelled()
		}
		if !followUp {
			t.emit(Event{Type: EventDone, Tokens: t.tokens})
			return assistant, OutcomeDeferred
		}
	}
}

// prepareBatch drops calls to tools outside the enabled set, assigns missing
// or duplicate IDs and parses arguments. Names of dropped tools are returned.
func (t *turn) prepareBatch(requested []ai.ToolCall, descriptions map[string]string) ([]pendingCall, []string) {
	var batch []pendingCall
	var disabled []string
	seen := map[string]bool{}
	for _, tc := range requested {
		if !slices.Contains(t.enabled, tc.Name) {
			if !slices.Contains(disabled, tc.Name) {
				disabled = append(disabled, tc.Name)
			}
			continue
		}
		id := tc.ID
		if id == "" || seen[id] {
			id = "call_" + uuid.NewString()
		}
		seen[id] = true

		args := tc.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		p := pendingCall{
			ref: ToolCallRef{ID: id, Name: tc.Name, Arguments: args},
			call: tools.Call{
				ID:          id,
				Name:        tc.Name,
				Type:        t.o.tools.TypeOf(tc.Name),
				Description: descriptions[tc.Name],
			},
		}
		if err := json.Unmarshal(args, &p.call.Arguments); err != nil {
			p.parseErr = fmt.Errorf("invalid tool arguments: %w", err)
		} else if p.call.Arguments == nil {
			p.parseErr = errors.New("invalid tool arguments: expected a JSON object")
		}
		batch = append(batch, p)
	}
	return batch, disabled
}

func (t *turn) snapshot() approval.Snapshot {
	recent := t.o.history.Recent(approvalHistoryWindow)
	items := make([]approval.HistoryItem, 0, len(recent))
	for _, e := range recent {
		items = append(items, approval.HistoryItem{Role: string(e.Role), Content: e.Content})
	}
	return approval.Snapshot{
		LastUserMessage: t.o.history.LastUserMessage(),
		RecentHistory:   items,
		Context:         t.toolCtx,
	}
}

// runBatch executes the approved calls and records their results in batch
// order. It reports whether any result asks for another model round.
func (t *turn) runBatch(batch []pendingCall, approvedIDs []string) bool {
	approved := make([]pendingCall, 0, len(approvedIDs))
	for _, p := range batch {
		if slices.Contains(approvedIDs, p.ref.ID) {
			approved = append(approved, p)
		}
	}
	outcomes := t.execute(approved)

	var failures []string
	followUp := false
	for i, p := range approved {
		out := outcomes[i]
		res := out.result
		if out.failed {
			failures = append(failures, fmt.Sprintf("%s: %s", p.ref.Name, out.reason))
		}
		if res.ShouldProcessFollowUp {
			followUp = true
		}
		if res.ShouldAddToHistory {
			t.o.history.Append(ToolEntry(p.ref.ID, p.ref.Name, res.Content, out.failed))
		} else {
			t.o.history.Append(AwaitingEntry(p.ref.ID, p.ref.Name), DisplayEntry(res.Content))
		}
		t.emit(Event{
			Type:     EventToolResult,
			Tool:     p.ref.Name,
			CallID:   p.ref.ID,
			Content:  res.Content,
			Failed:   out.failed,
			Deferred: !res.ShouldAddToHistory,
		})
	}
	if len(failures) > 0 {
		t.o.history.Append(SystemEntry(FailureDigest(failures), true))
	}
	return followUp
}

// execute runs calls concurrently, bounded by MaxParallelTools. Started
// executions are not cancelled by an abort.
func (t *turn) execute(calls []pendingCall) []callOutcome {
	outcomes := make([]callOutcome, len(calls))
	ctx := context.WithoutCancel(t.ctx)
	sem := make(chan struct{}, t.o.cfg.MaxParallelTools)
	var wg sync.WaitGroup

	for i, p := range calls {
		if p.parseErr != nil {
			outcomes[i] = callOutcome{
				result: tools.ErrorResult(p.call, p.parseErr),
				failed: true,
				reason: p.parseErr.Error(),
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = t.executeOne(ctx, p.call)
		}()
	}
	wg.Wait()
	return outcomes
}

func (t *turn) executeOne(ctx context.Context, call tools.Call) (out callOutcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("tool panicked: %v", r)
			log.Error(err, "tool execution panicked", "tool", call.Name, "callId", call.ID)
			out = callOutcome{result: tools.ErrorResult(call, err), failed: true, reason: err.Error()}
		}
	}()

	res, err := t.o.tools.Execute(ctx, call, t.toolCtx)
	if err != nil {
		log.V(1).Info("tool execution failed", "tool", call.Name, "callId", call.ID, "error", err.Error())
		return callOutcome{result: tools.ErrorResult(call, err), failed: true, reason: err.Error()}
	}
	if !res.ShouldAddToHistory {
		return callOutcome{result: res}
	}
	failed, reason := tools.DetectFailure(res.Content)
	return callOutcome{result: res, failed: failed, reason: reason}
}

// terminate appends the final entry and emits it.
func (t *turn) terminate(entry Entry) Entry {
	t.o.history.Append(entry)
	if entry.Error {
		t.emit(Event{Type: EventError, Content: entry.Content})
	} else {
		t.emit(Event{Type: EventContent, Content: entry.Content})
	}
	t.emit(Event{Type: EventDone, Tokens: t.tokens})
	return entry
}

func (t *turn) cancelled() (Entry, string) {
	log.V(1).Info("turn cancelled", "rounds", t.rounds)
	return t.terminate(ErrorEntry(cancelledReply)), OutcomeCancelled
}

func (t *turn) failed(err error) (Entry, string) {
	c := Classify(err)
	if c.Class == ClassCancelled {
		return t.cancelled()
	}
	log.Error(err, "model invocation failed", "class", c.Class, "round", t.rounds)
	return t.terminate(ErrorEntry(errorReply(c))), OutcomeError
}

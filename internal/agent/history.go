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
	"errors"
	"fmt"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/osagberg/kube-assist-agent/internal/ai"
)

const (
	// DefaultToolContentCap bounds the tool output sent to the model in one
	// round, aggregated across all tool entries.
	DefaultToolContentCap = 500_000

	// TruncationMarker is appended to tool content cut by the cap.
	TruncationMarker = "[truncated]"

	// NoResponseRecorded is the content of a tool entry synthesized for a
	// call that never received a response.
	NoResponseRecorded = "no response recorded"

	// AwaitingConfirmation is the content of a pending placeholder entry.
	AwaitingConfirmation = "Awaiting user confirmation. The change has not been applied yet."
)

var (
	// ErrUnknownCall is returned when no assistant entry carries the call ID.
	ErrUnknownCall = errors.New("no tool call with this id")

	// ErrAlreadyAnswered is returned when the call already has a tool entry.
	ErrAlreadyAnswered = errors.New("tool call already answered")
)

// History is the ordered conversation log of one session. It is mutated by
// the orchestrator only; other readers take snapshots.
type History struct {
	mu         sync.RWMutex
	entries    []Entry
	contentCap int
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithToolContentCap sets the tool-content byte cap. Values <= 0 keep the
// default.
func WithToolContentCap(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.contentCap = n
		}
	}
}

// NewHistory creates an empty history.
func NewHistory(opts ...HistoryOption) *History {
	h := &History{contentCap: DefaultToolContentCap}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ContentCap returns the configured tool-content cap in bytes.
func (h *History) ContentCap() int {
	return h.contentCap
}

// Append adds entries to the end of the history. Tool content over the cap
// is truncated with TruncationMarker.
func (h *History) Append(entries ...Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		h.entries = append(h.entries, h.capped(e.clone()))
	}
}

func (h *History) capped(e Entry) Entry {
	if e.Role == RoleTool && len(e.Content) > h.contentCap {
		e.Content = truncate(e.Content, h.contentCap)
		recordTruncation("append")
	}
	return e
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Snapshot returns a copy of every entry, display-only entries included.
func (h *History) Snapshot() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.clone()
	}
	return out
}

// Reset discards all entries.
func (h *History) Reset() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}

// LastUserMessage returns the content of the most recent user entry.
func (h *History) LastUserMessage() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Role == RoleUser {
			return h.entries[i].Content
		}
	}
	return ""
}

// Recent returns up to n of the latest entries that are not display-only.
func (h *History) Recent(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Entry
	for i := len(h.entries) - 1; i >= 0 && len(out) < n; i-- {
		if h.entries[i].DisplayOnly {
			continue
		}
		out = append(out, h.entries[i].clone())
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// PrepareForModel builds the message list for the next model round.
// Display-only entries and system notices other than alerts are dropped.
// Tool content is sanitized and held to the aggregate cap, newest entries
// first. Tool results that cannot be sent as function results, because the
// format is folded or the matching call is not in the list, are rewritten as
// assistant text.
func (h *History) PrepareForModel(format ai.MessageFormat) []ai.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	toolContent := h.budgetToolContent()
	messages := make([]ai.Message, 0, len(h.entries))
	open := map[string]bool{}

	for i, e := range h.entries {
		if e.DisplayOnly {
			continue
		}
		switch e.Role {
		case RoleUser:
			messages = append(messages, ai.Message{Role: ai.RoleUser, Content: e.Content})
		case RoleSystem:
			if e.Alert {
				messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: e.Content})
			}
		case RoleAssistant:
			msg := ai.Message{Role: ai.RoleAssistant, Content: e.Content}
			if format == ai.FormatNative {
				for _, c := range e.ToolCalls {
					msg.ToolCalls = append(msg.ToolCalls, ai.ToolCall{ID: c.ID, Name: c.Name, Args: c.Arguments})
					open[c.ID] = true
				}
			}
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			messages = append(messages, msg)
		case RoleTool:
			content := toolContent[i]
			if format == ai.FormatNative && open[e.ToolCallID] {
				delete(open, e.ToolCallID)
				messages = append(messages, ai.Message{
					Role:       ai.RoleTool,
					Content:    content,
					ToolCallID: e.ToolCallID,
					ToolName:   e.Name,
				})
				continue
			}
			messages = append(messages, ai.Message{
				Role:    ai.RoleAssistant,
				Content: fmt.Sprintf("Tool Response (%s): %s", e.ToolCallID, content),
			})
		}
	}
	return messages
}

// budgetToolContent returns sanitized tool content keyed by entry index.
// The cap is spent from the newest entry backwards.
func (h *History) budgetToolContent() map[int]string {
	out := map[int]string{}
	remaining := h.contentCap
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if e.Role != RoleTool || e.DisplayOnly {
			continue
		}
		content := Sanitize(e.Content)
		if len(content) > remaining {
			content = truncate(content, remaining)
			recordTruncation("aggregate")
		}
		remaining -= min(len(content), remaining)
		out[i] = content
	}
	return out
}

// lastToolRound returns the index of the newest assistant entry carrying
// tool calls, or -1.
func (h *History) lastToolRound() int {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].HasToolCalls() {
			return i
		}
	}
	return -1
}

// blockEnd returns the index just past the tool entries, and display-only
// entries among them, that follow the assistant entry at i.
func (h *History) blockEnd(i int) int {
	k := i + 1
	for k < len(h.entries) && (h.entries[k].Role == RoleTool || h.entries[k].DisplayOnly) {
		k++
	}
	return k
}

// TrimAfterLastToolRound removes entries appended past the newest tool round
// that do not belong to it: duplicate or foreign tool entries and any other
// non-display entry except alerts. It returns the number removed.
func (h *History) TrimAfterLastToolRound() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := h.lastToolRound()
	if idx < 0 {
		return 0
	}
	pending := map[string]bool{}
	for _, c := range h.entries[idx].ToolCalls {
		pending[c.ID] = true
	}

	kept := h.entries[:idx+1]
	removed := 0
	for _, e := range h.entries[idx+1:] {
		switch {
		case e.Role == RoleTool && pending[e.ToolCallID]:
			delete(pending, e.ToolCallID)
		case e.DisplayOnly, e.Role == RoleSystem && e.Alert:
		default:
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(h.entries[len(kept):])
	h.entries = kept
	if removed > 0 {
		log.Info("trimmed speculative entries after tool round", "removed", removed)
		recordTrim(removed)
	}
	return removed
}

// ValidateAlignment ensures every call of the newest tool round has a tool
// entry. Missing ones are synthesized as failed entries right after the
// round's tool block. It returns the number of synthesized entries.
func (h *History) ValidateAlignment() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := h.lastToolRound()
	if idx < 0 {
		return 0
	}
	answered := map[string]bool{}
	for _, e := range h.entries[idx+1:] {
		if e.Role == RoleTool {
			answered[e.ToolCallID] = true
		}
	}

	var missing []Entry
	for _, c := range h.entries[idx].ToolCalls {
		if answered[c.ID] {
			continue
		}
		answered[c.ID] = true
		missing = append(missing, ToolEntry(c.ID, c.Name, NoResponseRecorded, true))
	}
	if len(missing) == 0 {
		return 0
	}
	log.Info("repaired tool call alignment", "synthesized", len(missing))
	recordAlignmentRepair(len(missing))
	h.insert(h.blockEnd(idx), missing...)
	return len(missing)
}

// Answer records the tool entry for an earlier call. A pending placeholder
// is replaced in place; a call without any entry gets one in the tool block
// of the round that issued it.
func (h *History) Answer(callID, content string, failed bool) (Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if e.Role == RoleTool && e.ToolCallID == callID {
			if !e.Pending {
				return Entry{}, fmt.Errorf("%w: %s", ErrAlreadyAnswered, callID)
			}
			entry := h.capped(ToolEntry(callID, e.Name, content, failed))
			h.entries[i] = entry
			return entry, nil
		}
		if !e.HasToolCalls() {
			continue
		}
		for _, c := range e.ToolCalls {
			if c.ID == callID {
				entry := h.capped(ToolEntry(callID, c.Name, content, failed))
				h.insert(h.blockEnd(i), entry)
				return entry, nil
			}
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrUnknownCall, callID)
}

func (h *History) insert(at int, entries ...Entry) {
	h.entries = slices.Insert(h.entries, at, entries...)
}

// truncate cuts s to at most n bytes on a rune boundary and appends the
// truncation marker.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + TruncationMarker
}

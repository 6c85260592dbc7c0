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

import "encoding/json"

// Role identifies the kind of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCallRef is a tool call as requested by the model.
type ToolCallRef struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Entry is one record of the conversation history. Which fields are set
// depends on Role.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Assistant entries.
	ToolCalls   []ToolCallRef `json:"toolCalls,omitempty"`
	DisplayOnly bool          `json:"isDisplayOnly,omitempty"`

	// Tool entries.
	ToolCallID string `json:"toolCallId,omitempty"`
	Name       string `json:"name,omitempty"`
	Success    bool   `json:"success,omitempty"`

	// Pending marks the placeholder of a call that waits for user
	// confirmation. Answer replaces it with the applied result.
	Pending bool `json:"pending,omitempty"`

	// Error marks failed tool entries and terminal error replies.
	Error bool `json:"error,omitempty"`

	// Alert marks system entries that must reach the model, such as the
	// failure digest. Other system entries are covered by the system prompt.
	Alert bool `json:"alert,omitempty"`
}

// UserEntry returns a user message.
func UserEntry(content string) Entry {
	return Entry{Role: RoleUser, Content: content}
}

// AssistantEntry returns an assistant reply, optionally carrying tool calls.
func AssistantEntry(content string, calls []ToolCallRef) Entry {
	return Entry{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ErrorEntry returns a terminal assistant reply describing a failure.
func ErrorEntry(content string) Entry {
	return Entry{Role: RoleAssistant, Content: content, Error: true}
}

// DisplayEntry returns an assistant entry that is shown but never sent to
// the model.
func DisplayEntry(content string) Entry {
	return Entry{Role: RoleAssistant, Content: content, DisplayOnly: true}
}

// ToolEntry returns the recorded result of one tool call.
func ToolEntry(callID, name, content string, failed bool) Entry {
	return Entry{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		Name:       name,
		Success:    !failed,
		Error:      failed,
	}
}

// AwaitingEntry returns the placeholder tool entry of a call whose result
// waits for user confirmation.
func AwaitingEntry(callID, name string) Entry {
	return Entry{
		Role:       RoleTool,
		Content:    AwaitingConfirmation,
		ToolCallID: callID,
		Name:       name,
		Pending:    true,
	}
}

// SystemEntry returns a system notice. Alerts are forwarded to the model.
func SystemEntry(content string, alert bool) Entry {
	return Entry{Role: RoleSystem, Content: content, Alert: alert}
}

// HasToolCalls reports whether e is an assistant entry carrying tool calls.
func (e Entry) HasToolCalls() bool {
	return e.Role == RoleAssistant && len(e.ToolCalls) > 0
}

func (e Entry) clone() Entry {
	if e.ToolCalls != nil {
		calls := make([]ToolCallRef, len(e.ToolCalls))
		for i, c := range e.ToolCalls {
			calls[i] = c
			calls[i].Arguments = append(json.RawMessage(nil), c.Arguments...)
		}
		e.ToolCalls = calls
	}
	return e
}

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

package approval

import (
	"slices"
	"sync"
)

// SessionPolicy holds the remembered approval choices of one conversation.
type SessionPolicy struct {
	mu                 sync.RWMutex
	sessionAutoApprove bool
	tools              map[string]bool
}

// PolicySnapshot is a read-only copy of a SessionPolicy.
type PolicySnapshot struct {
	SessionAutoApprove bool     `json:"sessionAutoApprove"`
	Tools              []string `json:"tools"`
}

// NewSessionPolicy returns an empty policy.
func NewSessionPolicy() *SessionPolicy {
	return &SessionPolicy{tools: make(map[string]bool)}
}

// AutoApproves reports whether calls to the named tool skip the prompt.
func (p *SessionPolicy) AutoApproves(toolName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionAutoApprove || p.tools[toolName]
}

// SetSessionAutoApprove approves every future call in the session.
func (p *SessionPolicy) SetSessionAutoApprove(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionAutoApprove = v
}

// AddTools approves future calls to the named tools.
func (p *SessionPolicy) AddTools(names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range names {
		p.tools[name] = true
	}
}

// Reset forgets every remembered choice.
func (p *SessionPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionAutoApprove = false
	p.tools = make(map[string]bool)
}

// Snapshot returns a copy of the policy.
func (p *SessionPolicy) Snapshot() PolicySnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.tools))
	for name := range p.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return PolicySnapshot{SessionAutoApprove: p.sessionAutoApprove, Tools: names}
}

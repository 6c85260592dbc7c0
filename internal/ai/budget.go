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

package ai

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned when a token budget window is exhausted.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// Budget window lengths.
const (
	DailyWindow   = 24 * time.Hour
	MonthlyWindow = 30 * 24 * time.Hour
)

// BudgetWindow defines a time-bounded token limit.
type BudgetWindow struct {
	Name     string
	Duration time.Duration
	Limit    int
}

// WindowUsage reports current usage for a single budget window.
type WindowUsage struct {
	Name  string `json:"name"`
	Limit int    `json:"limit"`
	Used  int    `json:"used"`
}

type windowState struct {
	tokens    int
	startedAt time.Time
}

// Budget tracks model token usage across fixed windows. A nil *Budget
// allows everything.
type Budget struct {
	mu      sync.Mutex
	windows []BudgetWindow
	state   []windowState
	now     func() time.Time
}

// NewBudget creates a Budget from the given windows, or nil when there are none.
func NewBudget(windows []BudgetWindow) *Budget {
	if len(windows) == 0 {
		return nil
	}
	b := &Budget{
		windows: windows,
		state:   make([]windowState, len(windows)),
		now:     time.Now,
	}
	start := b.now()
	for i := range b.state {
		b.state[i].startedAt = start
	}
	return b
}

// BudgetFromConfig builds the daily and monthly windows set in config.
func BudgetFromConfig(config Config) *Budget {
	var windows []BudgetWindow
	if config.DailyTokenLimit > 0 {
		windows = append(windows, BudgetWindow{Name: "daily", Duration: DailyWindow, Limit: config.DailyTokenLimit})
	}
	if config.MonthlyTokenLimit > 0 {
		windows = append(windows, BudgetWindow{Name: "monthly", Duration: MonthlyWindow, Limit: config.MonthlyTokenLimit})
	}
	return NewBudget(windows)
}

// CheckAllowance returns ErrBudgetExceeded if adding tokens would exceed any
// window. It does not reserve anything.
func (b *Budget) CheckAllowance(tokens int) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	for i, w := range b.windows {
		if used := b.state[i].tokens; used+tokens > w.Limit {
			return fmt.Errorf("%w: %s window (%d/%d tokens)", ErrBudgetExceeded, w.Name, used, w.Limit)
		}
	}
	return nil
}

// RecordUsage adds consumed tokens to every window.
func (b *Budget) RecordUsage(tokens int) {
	if b == nil || tokens <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	for i := range b.state {
		b.state[i].tokens += tokens
	}
}

// GetUsage returns current usage for each window.
func (b *Budget) GetUsage() []WindowUsage {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	out := make([]WindowUsage, len(b.windows))
	for i, w := range b.windows {
		out[i] = WindowUsage{Name: w.Name, Limit: w.Limit, Used: b.state[i].tokens}
	}
	return out
}

// rollLocked resets windows whose duration has elapsed. Caller holds b.mu.
func (b *Budget) rollLocked() {
	now := b.now()
	for i, w := range b.windows {
		if now.Sub(b.state[i].startedAt) >= w.Duration {
			b.state[i] = windowState{startedAt: now}
		}
	}
}

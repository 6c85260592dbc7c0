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
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var log = logf.Log.WithName("ai")

// Circuit breaker defaults for Manager.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// Manager wraps the active Provider with a circuit breaker, a token budget
// and metrics, and allows swapping the provider at runtime. It implements
// Provider itself.
type Manager struct {
	mu       sync.RWMutex
	provider Provider
	config   Config
	budget   *Budget
	breaker  *CircuitBreaker
	now      func() time.Time
}

// NewManager creates a Manager for config.
func NewManager(config Config) (*Manager, error) {
	m := &Manager{now: time.Now}
	if err := m.Reconfigure(config); err != nil {
		return nil, err
	}
	return m, nil
}

// NewManagerWithProvider wraps an already constructed provider.
func NewManagerWithProvider(provider Provider, config Config) *Manager {
	if provider == nil {
		provider = NewNoOpProvider()
	}
	config.Provider = provider.Name()
	return &Manager{
		provider: provider,
		config:   config,
		budget:   BudgetFromConfig(config),
		breaker:  newBreaker(provider.Name()),
		now:      time.Now,
	}
}

func newBreaker(provider string) *CircuitBreaker {
	RecordCircuitState(provider, CircuitClosed)
	return NewCircuitBreaker(DefaultFailureThreshold, DefaultResetTimeout,
		WithOnStateChange(func(from, to CircuitState) {
			log.Info("Model circuit breaker state change", "provider", provider, "from", from.String(), "to", to.String())
			RecordCircuitState(provider, to)
		}))
}

// Name returns the current provider's name.
func (m *Manager) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider.Name()
}

// Available returns true if the current provider is available.
func (m *Manager) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider.Available()
}

// Format returns the current provider's message format.
func (m *Manager) Format() MessageFormat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider.Format()
}

// Invoke delegates to the current provider after the breaker and budget
// checks. Provider errors other than cancellation and rate limiting count
// towards opening the circuit.
func (m *Manager) Invoke(ctx context.Context, request Request) (*Response, error) {
	m.mu.RLock()
	provider, budget, breaker := m.provider, m.budget, m.breaker
	m.mu.RUnlock()
	name := provider.Name()

	if err := budget.CheckAllowance(1); err != nil {
		RecordBudgetExceeded(name)
		RecordModelCall(name, ResultRejected, 0, 0)
		return nil, &ProviderError{Provider: name, StatusCode: http.StatusTooManyRequests, Err: err}
	}
	if !breaker.Allow() {
		RecordModelCall(name, ResultRejected, 0, 0)
		return nil, &ProviderError{Provider: name, StatusCode: http.StatusServiceUnavailable, Err: ErrCircuitOpen}
	}

	start := m.now()
	resp, err := provider.Invoke(ctx, request)
	elapsed := m.now().Sub(start)

	switch {
	case err == nil:
		if resp == nil {
			resp = &Response{}
		}
		breaker.RecordSuccess()
		budget.RecordUsage(resp.TokensUsed)
		UpdateBudgetMetrics(budget)
		RecordModelCall(name, ResultSuccess, resp.TokensUsed, elapsed)
		return resp, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		breaker.RecordSuccess()
		RecordModelCall(name, ResultCancelled, 0, elapsed)
	case IsRateLimited(err):
		breaker.RecordRateLimit()
		RecordModelCall(name, ResultRateLimited, 0, elapsed)
	default:
		breaker.RecordFailure()
		RecordModelCall(name, ResultError, 0, elapsed)
	}
	return nil, err
}

// Reconfigure swaps the active provider at runtime. The circuit breaker and
// budget are reset for the new provider.
func (m *Manager) Reconfigure(config Config) error {
	config.Provider = NormalizeProviderName(config.Provider)
	provider, err := NewProvider(config)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.provider = provider
	m.config = config
	m.budget = BudgetFromConfig(config)
	m.breaker = newBreaker(provider.Name())
	log.Info("Model provider configured", "provider", provider.Name(), "model", config.Model, "available", provider.Available())
	return nil
}

// Config returns the active configuration with the API key removed.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.config
	c.APIKey = ""
	return c
}

// HasAPIKey reports whether the active configuration carries an API key.
func (m *Manager) HasAPIKey() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.APIKey != ""
}

// Usage returns the budget usage of the active provider.
func (m *Manager) Usage() []WindowUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.budget.GetUsage()
}

// CircuitState returns the breaker state of the active provider.
func (m *Manager) CircuitState() CircuitState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breaker.State()
}

// Provider returns the current underlying provider.
func (m *Manager) Provider() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider
}

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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeassist_model_calls_total",
			Help: "Total number of model invocations",
		},
		[]string{"provider", "result"},
	)

	modelTokensUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeassist_model_tokens_used_total",
			Help: "Total tokens consumed by model invocations",
		},
		[]string{"provider"},
	)

	modelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubeassist_model_call_duration_seconds",
			Help:    "Duration of model invocations",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 90},
		},
		[]string{"provider"},
	)

	modelBudgetExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeassist_model_budget_exceeded_total",
			Help: "Total model calls rejected by the token budget",
		},
		[]string{"provider"},
	)

	modelBudgetTokensUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubeassist_model_budget_tokens_used",
			Help: "Current token usage within budget window",
		},
		[]string{"window"},
	)

	modelBudgetTokensLimit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubeassist_model_budget_tokens_limit",
			Help: "Token limit for budget window",
		},
		[]string{"window"},
	)

	modelCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubeassist_model_circuit_state",
			Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		modelCallsTotal,
		modelTokensUsedTotal,
		modelCallDuration,
		modelBudgetExceededTotal,
		modelBudgetTokensUsed,
		modelBudgetTokensLimit,
		modelCircuitState,
	)
}

// Call results recorded by RecordModelCall.
const (
	ResultSuccess     = "success"
	ResultError       = "error"
	ResultCancelled   = "cancelled"
	ResultRateLimited = "rate_limited"
	ResultRejected    = "rejected"
)

// RecordModelCall records metrics for one model invocation.
func RecordModelCall(provider, result string, tokens int, duration time.Duration) {
	modelCallsTotal.WithLabelValues(provider, result).Inc()
	if tokens > 0 {
		modelTokensUsedTotal.WithLabelValues(provider).Add(float64(tokens))
	}
	if duration > 0 {
		modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// RecordBudgetExceeded records a call rejected by the budget.
func RecordBudgetExceeded(provider string) {
	modelBudgetExceededTotal.WithLabelValues(provider).Inc()
}

// UpdateBudgetMetrics updates budget usage gauges from current Budget state.
func UpdateBudgetMetrics(b *Budget) {
	if b == nil {
		return
	}
	for _, wu := range b.GetUsage() {
		modelBudgetTokensUsed.WithLabelValues(wu.Name).Set(float64(wu.Used))
		modelBudgetTokensLimit.WithLabelValues(wu.Name).Set(float64(wu.Limit))
	}
}

// RecordCircuitState sets the circuit state gauge for provider.
func RecordCircuitState(provider string, state CircuitState) {
	modelCircuitState.WithLabelValues(provider).Set(float64(state))
}

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

package tools

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Execution outcomes recorded by RecordToolExecution.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeError    = "error"
	OutcomeDeferred = "deferred"
)

var (
	toolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeassist_tool_executions_total",
			Help: "Total number of tool executions by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	toolExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubeassist_tool_execution_duration_seconds",
			Help:    "Duration of tool executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	toolCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeassist_tool_cache_lookups_total",
			Help: "Total tool response cache lookups by result",
		},
		[]string{"tool", "result"},
	)
)

func init() {
	metrics.Registry.MustRegister(toolExecutionsTotal, toolExecutionDuration, toolCacheLookupsTotal)
}

// RecordToolExecution records one tool execution.
func RecordToolExecution(tool, outcome string, duration time.Duration) {
	toolExecutionsTotal.WithLabelValues(tool, outcome).Inc()
	if duration > 0 {
		toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	}
}

// RecordCacheLookup records a response cache hit or miss for tool.
func RecordCacheLookup(tool string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	toolCacheLookupsTotal.WithLabelValues(tool, result).Inc()
}

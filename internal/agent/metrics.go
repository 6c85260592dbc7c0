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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var log = logf.Log.WithName("agent")

// Turn outcomes recorded by recordTurn.
const (
	OutcomeAnswered      = "answered"
	OutcomeDeferred      = "deferred"
	OutcomeDenied        = "denied"
	OutcomeCancelled     = "cancelled"
	OutcomeError         = "error"
	OutcomeMaxRounds     = "max_rounds"
	OutcomeToolsDisabled = "tools_disabled"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeassist_chat_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubeassist_chat_turn_duration_seconds",
			Help:    "Duration of chat turns",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	turnRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubeassist_chat_turn_rounds",
			Help:    "Number of model rounds per chat turn",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 10},
		},
	)

	alignmentRepairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kubeassist_chat_alignment_repairs_total",
			Help: "Total number of tool entries synthesized for unanswered tool calls",
		},
	)

	truncationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeassist_chat_tool_truncations_total",
			Help: "Total number of tool contents cut by the size cap",
		},
		[]string{"stage"},
	)

	trimmedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kubeassist_chat_trimmed_entries_total",
			Help: "Total number of speculative history entries removed after a tool round",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		turnsTotal,
		turnDuration,
		turnRounds,
		alignmentRepairsTotal,
		truncationsTotal,
		trimmedEntriesTotal,
	)
}

func recordTurn(outcome string, rounds int, duration time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if rounds > 0 {
		turnRounds.Observe(float64(rounds))
	}
}

func recordAlignmentRepair(n int) {
	alignmentRepairsTotal.Add(float64(n))
}

func recordTruncation(stage string) {
	truncationsTotal.WithLabelValues(stage).Inc()
}

func recordTrim(n int) {
	trimmedEntriesTotal.Add(float64(n))
}

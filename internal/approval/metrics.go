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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Decision labels.
const (
	DecisionAuto       = "auto"
	DecisionApproved   = "approved"
	DecisionPartial    = "partial"
	DecisionDenied     = "denied"
	DecisionSuperseded = "superseded"
	DecisionCancelled  = "cancelled"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeassist_approval_decisions_total",
			Help: "Tool-call batches by approval outcome",
		},
		[]string{"decision"},
	)

	waitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubeassist_approval_wait_seconds",
			Help:    "Time spent waiting for a user decision",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
		},
	)
)

func init() {
	metrics.Registry.MustRegister(decisionsTotal, waitDuration)
}

// RecordDecision counts one batch outcome.
func RecordDecision(decision string) {
	decisionsTotal.WithLabelValues(decision).Inc()
}

// RecordWait observes how long a user took to decide.
func RecordWait(d time.Duration) {
	waitDuration.Observe(d.Seconds())
}

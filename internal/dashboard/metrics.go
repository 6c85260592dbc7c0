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

package dashboard

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubeassist_chat_sessions_active",
			Help: "Number of live chat sessions",
		},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kubeassist_chat_rate_limited_total",
			Help: "Total number of chat mutations rejected by the rate limiter",
		},
	)

	appliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeassist_chat_applies_total",
			Help: "Total number of confirmed Kubernetes writes by method and success",
		},
		[]string{"method", "success"},
	)
)

func init() {
	metrics.Registry.MustRegister(activeSessions, rateLimitedTotal, appliesTotal)
}

// RecordActiveSessions sets the live session gauge.
func RecordActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordRateLimited counts a rejected mutation.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// RecordApply counts a confirmed write.
func RecordApply(method string, success bool) {
	appliesTotal.WithLabelValues(method, strconv.FormatBool(success)).Inc()
}

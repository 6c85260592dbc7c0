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

package notifier

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var notificationsSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kubeassist_approval_notifications_total",
		Help: "Approval alerts sent by notifier and success",
	},
	[]string{"notifier", "success"},
)

func init() {
	metrics.Registry.MustRegister(notificationsSent)
}

func recordSent(name string, ok bool) {
	notificationsSent.WithLabelValues(name, strconv.FormatBool(ok)).Inc()
}

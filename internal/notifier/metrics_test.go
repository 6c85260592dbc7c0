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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, name, success string) float64 {
	t.Helper()
	counter, err := notificationsSent.GetMetricWith(prometheus.Labels{"notifier": name, "success": success})
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordSent(t *testing.T) {
	okBefore := counterValue(t, "metrics-test", "true")
	failBefore := counterValue(t, "metrics-test", "false")

	recordSent("metrics-test", true)
	recordSent("metrics-test", true)
	recordSent("metrics-test", false)

	if got := counterValue(t, "metrics-test", "true") - okBefore; got != 2 {
		t.Errorf("success delta = %v, want 2", got)
	}
	if got := counterValue(t, "metrics-test", "false") - failBefore; got != 1 {
		t.Errorf("failure delta = %v, want 1", got)
	}
}

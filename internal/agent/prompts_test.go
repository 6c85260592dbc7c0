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
	"strings"
	"testing"

	"github.com/osagberg/kube-assist-agent/internal/tools"
)

func TestSystemPrompt(t *testing.T) {
	toolCtx := tools.Context{
		SelectedClusters: []string{"prod", "staging"},
		Namespace:        "payments",
		CurrentResource:  "deployment/api",
		Summary:          "Viewing the api deployment.",
	}

	tests := []struct {
		name     string
		enabled  []string
		external bool
		followUp bool
		ctx      tools.Context
		contains []string
		excludes []string
	}{
		{
			name:     "kubernetes tool enabled",
			enabled:  []string{KubernetesToolName},
			contains: []string{"SUGGESTIONS:", "```yaml", "Never suggest kubectl"},
			excludes: []string{"EXTERNAL TOOLS", "CURRENT CONTEXT", "disabled in the assistant settings"},
		},
		{
			name:     "kubernetes tool disabled",
			enabled:  []string{"github__search"},
			external: true,
			contains: []string{"disabled in the assistant settings", "EXTERNAL TOOLS"},
		},
		{
			name:     "follow-up round with context",
			enabled:  []string{KubernetesToolName},
			followUp: true,
			ctx:      toolCtx,
			contains: []string{
				"just received the results",
				"\n\nCURRENT CONTEXT:\nSelected clusters: prod, staging\nNamespace: payments\nCurrent resource: deployment/api\nViewing the api deployment.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SystemPrompt(tt.enabled, tt.external, tt.ctx, tt.followUp)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("prompt missing %q", s)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("prompt should not contain %q", s)
				}
			}
		})
	}
}

func TestFailureDigest(t *testing.T) {
	got := FailureDigest([]string{"kubernetes_api_request: pods is forbidden", "github__search: timeout"})
	for _, s := range []string{
		"CRITICAL: The following operations failed",
		"\n- kubernetes_api_request: pods is forbidden\n- github__search: timeout\n",
		"You MUST:",
	} {
		if !strings.Contains(got, s) {
			t.Errorf("digest missing %q:\n%s", s, got)
		}
	}
}

func TestDisabledToolsReply(t *testing.T) {
	got := disabledToolsReply([]string{KubernetesToolName})
	if !strings.Contains(got, "required tools (kubernetes_api_request) are currently disabled") {
		t.Errorf("reply = %q", got)
	}
	if !strings.Contains(got, `Enable the "kubernetes_api_request" tool`) {
		t.Errorf("reply = %q", got)
	}
}

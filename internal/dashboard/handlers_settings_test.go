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
	"net/http"
	"strings"
	"testing"

	"github.com/osagberg/kube-assist-agent/internal/ai"
)

func TestHandleAISettings_Get(t *testing.T) {
	s := newTestServer(t, nil)
	rr := do(t, s, http.MethodGet, "/api/settings/ai", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	got := decodeJSON[AISettingsResponse](t, rr)
	if got.Provider != "fake" || !got.ProviderReady || got.HasAPIKey {
		t.Errorf("settings = %+v", got)
	}
	if got.CircuitState != ai.CircuitClosed.String() {
		t.Errorf("circuitState = %q, want %q", got.CircuitState, ai.CircuitClosed.String())
	}
}

func TestHandleAISettings_PostValidation(t *testing.T) {
	s := newTestServer(t, nil)
	tests := map[string]AISettingsRequest{
		"unknown provider": {Provider: "watsonx"},
		"long key":         {APIKey: strings.Repeat("k", maxAPIKeyLen+1)},
		"long model":       {Model: strings.Repeat("m", maxModelLen+1)},
		"bad endpoint":     {Endpoint: "ftp://models.internal"},
		"negative tokens":  {MaxTokens: -1},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/api/settings/ai", req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestHandleAISettings_PostReconfigures(t *testing.T) {
	s := newTestServer(t, nil)
	fold := true

	rr := do(t, s, http.MethodPost, "/api/settings/ai", AISettingsRequest{
		Provider:        "local",
		Endpoint:        "http://localhost:11434/v1",
		Model:           "llama3.1",
		APIKey:          "sk-local-secret",
		FoldToolResults: &fold,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "sk-local-secret") {
		t.Error("response leaks the API key")
	}
	got := decodeJSON[AISettingsResponse](t, rr)
	if got.Provider != ai.ProviderNameOpenAICompatible || got.Model != "llama3.1" || !got.HasAPIKey || !got.FoldToolResults {
		t.Errorf("settings = %+v", got)
	}
	if !got.ProviderReady {
		t.Error("provider with endpoint not ready")
	}
	if s.models.Format() != ai.FormatFolded {
		t.Error("manager did not switch to folded tool results")
	}

	rr = do(t, s, http.MethodPost, "/api/settings/ai", AISettingsRequest{ClearAPIKey: true})
	if got := decodeJSON[AISettingsResponse](t, rr); got.HasAPIKey || got.Model != "llama3.1" {
		t.Errorf("after clearing key: %+v", got)
	}
}

func TestHandleAICatalog(t *testing.T) {
	s := newTestServer(t, nil)

	all := decodeJSON[ai.ModelCatalog](t, do(t, s, http.MethodGet, "/api/settings/ai/catalog", nil))
	if _, ok := all[ai.ProviderNameAnthropic]; !ok {
		t.Errorf("catalog missing %s", ai.ProviderNameAnthropic)
	}

	filtered := decodeJSON[ai.ModelCatalog](t, do(t, s, http.MethodGet, "/api/settings/ai/catalog?provider=google", nil))
	if len(filtered) != 1 {
		t.Fatalf("filtered catalog has %d providers, want 1", len(filtered))
	}
	if _, ok := filtered[ai.ProviderNameGemini]; !ok {
		t.Errorf("alias google did not select %s", ai.ProviderNameGemini)
	}

	if rr := do(t, s, http.MethodPost, "/api/settings/ai/catalog", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rr.Code)
	}
}

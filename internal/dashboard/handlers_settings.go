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
	"fmt"
	"net/http"
	"net/url"

	"github.com/osagberg/kube-assist-agent/internal/ai"
)

// Input length limits for AI settings fields.
const (
	maxAPIKeyLen        = 256
	maxModelLen         = 128
	maxEndpointLen      = 512
	maxSettingsBodySize = 1 << 20 // 1 MB
)

// AISettingsRequest is the JSON body for POST /api/settings/ai. Empty
// fields keep their current value.
type AISettingsRequest struct {
	Provider        string `json:"provider"`
	APIKey          string `json:"apiKey,omitempty"`
	ClearAPIKey     bool   `json:"clearApiKey,omitempty"`
	Model           string `json:"model,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	MaxTokens       int    `json:"maxTokens,omitempty"`
	FoldToolResults *bool  `json:"foldToolResults,omitempty"`
}

// AISettingsResponse is the JSON response for GET /api/settings/ai. The
// API key is never returned.
type AISettingsResponse struct {
	Provider        string           `json:"provider"`
	Model           string           `json:"model,omitempty"`
	Endpoint        string           `json:"endpoint,omitempty"`
	MaxTokens       int              `json:"maxTokens,omitempty"`
	FoldToolResults bool             `json:"foldToolResults"`
	HasAPIKey       bool             `json:"hasApiKey"`
	ProviderReady   bool             `json:"providerReady"`
	CircuitState    string           `json:"circuitState"`
	Usage           []ai.WindowUsage `json:"usage,omitempty"`
}

// handleAISettings handles GET and POST for /api/settings/ai
func (s *Server) handleAISettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.aiSettings())
	case http.MethodPost:
		s.handlePostAISettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) aiSettings() AISettingsResponse {
	s.mu.RLock()
	cfg := s.aiConfig
	s.mu.RUnlock()
	return AISettingsResponse{
		Provider:        s.models.Name(),
		Model:           cfg.Model,
		Endpoint:        cfg.Endpoint,
		MaxTokens:       cfg.MaxTokens,
		FoldToolResults: cfg.FoldToolResults,
		HasAPIKey:       cfg.APIKey != "",
		ProviderReady:   s.models.Available(),
		CircuitState:    s.models.CircuitState().String(),
		Usage:           s.models.Usage(),
	}
}

// handlePostAISettings swaps the model provider at runtime. Sessions pick
// up the new provider on their next model round.
func (s *Server) handlePostAISettings(w http.ResponseWriter, r *http.Request) {
	var req AISettingsRequest
	if !decodeBody(w, r, maxSettingsBodySize, &req) {
		return
	}

	if len(req.APIKey) > maxAPIKeyLen {
		http.Error(w, fmt.Sprintf("apiKey exceeds maximum length of %d", maxAPIKeyLen), http.StatusBadRequest)
		return
	}
	if len(req.Model) > maxModelLen {
		http.Error(w, fmt.Sprintf("model exceeds maximum length of %d", maxModelLen), http.StatusBadRequest)
		return
	}
	if len(req.Endpoint) > maxEndpointLen {
		http.Error(w, fmt.Sprintf("endpoint exceeds maximum length of %d", maxEndpointLen), http.StatusBadRequest)
		return
	}
	if req.Endpoint != "" {
		u, err := url.Parse(req.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			http.Error(w, "endpoint must be an http or https URL", http.StatusBadRequest)
			return
		}
	}
	if req.MaxTokens < 0 {
		http.Error(w, "maxTokens must not be negative", http.StatusBadRequest)
		return
	}
	if req.Provider != "" && !ai.IsKnownProvider(req.Provider) {
		http.Error(w, fmt.Sprintf("Invalid provider %q", req.Provider), http.StatusBadRequest)
		return
	}

	// Stage the new config without committing to server state yet.
	s.mu.RLock()
	staged := s.aiConfig
	s.mu.RUnlock()

	if req.Provider != "" {
		staged.Provider = ai.NormalizeProviderName(req.Provider)
	}
	if req.ClearAPIKey {
		staged.APIKey = ""
	} else if req.APIKey != "" {
		staged.APIKey = req.APIKey
	}
	if req.Model != "" {
		staged.Model = req.Model
	}
	if req.Endpoint != "" {
		staged.Endpoint = req.Endpoint
	}
	if req.MaxTokens > 0 {
		staged.MaxTokens = req.MaxTokens
	}
	if req.FoldToolResults != nil {
		staged.FoldToolResults = *req.FoldToolResults
	}

	if err := s.models.Reconfigure(staged); err != nil {
		log.Error(err, "Failed to reconfigure AI provider", "provider", staged.Provider)
		http.Error(w, "Failed to reconfigure AI provider", http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.aiConfig = staged
	s.mu.Unlock()

	resp := s.aiSettings()
	log.Info("AI settings updated", "provider", resp.Provider, "model", resp.Model, "ready", resp.ProviderReady)
	writeJSON(w, http.StatusOK, resp)
}

// handleAICatalog returns the model catalog, optionally filtered by provider.
// GET /api/settings/ai/catalog?provider=anthropic
func (s *Server) handleAICatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	catalog := ai.DefaultCatalog()
	if provider := r.URL.Query().Get("provider"); provider != "" {
		name := ai.NormalizeProviderName(provider)
		filtered := ai.ModelCatalog{}
		if entry, ok := catalog[name]; ok {
			filtered[name] = entry
		}
		catalog = filtered
	}
	writeJSON(w, http.StatusOK, catalog)
}

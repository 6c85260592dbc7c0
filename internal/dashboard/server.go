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

// Package dashboard serves the chat assistant over HTTP with Server-Sent
// Events.
package dashboard

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/osagberg/kube-assist-agent/internal/agent"
	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/config"
	"github.com/osagberg/kube-assist-agent/internal/notifier"
	"github.com/osagberg/kube-assist-agent/internal/tools"
	"github.com/osagberg/kube-assist-agent/internal/tools/kubernetes"
)

var log = logf.Log.WithName("dashboard")

// sessionSweepInterval is how often expired chat sessions are evicted.
const sessionSweepInterval = time.Minute

// Applier performs a confirmed Kubernetes write.
type Applier interface {
	Apply(ctx context.Context, cluster string, req kubernetes.Request) (string, error)
}

// Server is the chat HTTP server. Each session owns an orchestrator and an
// approval gate; the model manager and the tool registry are shared.
type Server struct {
	cfg      config.ServerConfig
	models   *ai.Manager
	registry *tools.Registry
	rules    *approval.Rules
	applier  Applier
	alerts   *notifier.Registry

	agentCfg     agent.Config
	defaultTools []string

	mu       sync.RWMutex
	aiConfig ai.Config

	sessions        *sessionStore
	mutationLimiter *rate.Limiter
	now             func() time.Time
}

// NewServer creates a chat server. Zero limits in cfg take the config
// package defaults.
func NewServer(cfg config.ServerConfig, models *ai.Manager, registry *tools.Registry) *Server {
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultAddr
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = config.DefaultMaxSessions
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = config.DefaultSessionTTL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = config.DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = config.DefaultRateBurst
	}
	s := &Server{
		cfg:             cfg,
		models:          models,
		registry:        registry,
		agentCfg:        agent.DefaultConfig(),
		defaultTools:    []string{agent.KubernetesToolName},
		aiConfig:        models.Config(),
		mutationLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		now:             time.Now,
	}
	s.sessions = newSessionStore(cfg.MaxSessions, s.newSession)
	return s
}

// WithAgent sets the orchestrator configuration and the tools enabled in
// new sessions.
func (s *Server) WithAgent(cfg agent.Config, enabled []string) *Server {
	s.agentCfg = cfg
	s.defaultTools = enabled
	return s
}

// WithRules sets the auto-approve rules shared by every session gate.
func (s *Server) WithRules(rules *approval.Rules) *Server {
	s.rules = rules
	return s
}

// WithNotifier sends an alert to every target when a session waits for
// approval.
func (s *Server) WithNotifier(r *notifier.Registry) *Server {
	s.alerts = r
	return s
}

// WithApplier enables POST /api/chat/apply.
func (s *Server) WithApplier(a Applier) *Server {
	s.applier = a
	return s
}

// WithAIConfig records the full model configuration, API key included, so
// settings updates can be staged on top of it.
func (s *Server) WithAIConfig(cfg ai.Config) *Server {
	s.mu.Lock()
	s.aiConfig = cfg
	s.mu.Unlock()
	return s
}

func (s *Server) tlsConfigured() bool {
	return s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
}

func (s *Server) validateSecurityConfig() error {
	if s.cfg.AuthToken == "" || s.tlsConfigured() || s.cfg.AllowInsecureHTTP {
		return nil
	}
	return fmt.Errorf("chat auth is configured but TLS is not enabled; set server.tls_cert_file and server.tls_key_file or server.allow_insecure_http=true for local development only")
}

// Handler returns the routed, authenticated HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.authMiddleware(s.rateLimitMiddleware(s.handleChat)))
	mux.HandleFunc("/api/chat/approval", s.authMiddleware(s.rateLimitMiddleware(s.handleApproval)))
	mux.HandleFunc("/api/chat/abort", s.authMiddleware(s.handleAbort))
	mux.HandleFunc("/api/chat/reset", s.authMiddleware(s.rateLimitMiddleware(s.handleReset)))
	mux.HandleFunc("/api/chat/history", s.authMiddleware(s.handleHistory))
	mux.HandleFunc("/api/chat/tools", s.authMiddleware(s.rateLimitMiddleware(s.handleTools)))
	mux.HandleFunc("/api/chat/apply", s.authMiddleware(s.rateLimitMiddleware(s.handleApply)))
	mux.HandleFunc("/api/settings/ai", s.authMiddleware(s.rateLimitMiddleware(s.handleAISettings)))
	mux.HandleFunc("/api/settings/ai/catalog", s.authMiddleware(s.handleAICatalog))
	return s.securityHeaders(mux)
}

// Start serves until ctx is cancelled. It implements manager.Runnable.
func (s *Server) Start(ctx context.Context) error {
	if err := s.validateSecurityConfig(); err != nil {
		return err
	}
	if s.cfg.AuthToken == "" {
		log.Info("WARNING: chat authentication not configured. Set server.auth_token to secure the API.")
	} else if !s.tlsConfigured() {
		log.Info("WARNING: chat auth enabled without TLS due to explicit override. Tokens will be sent in plaintext.")
	}

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Chat streams stay open for the whole turn, so no WriteTimeout.
	}

	go s.cleanupSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.tlsConfigured() {
			log.Info("Chat server TLS enabled", "cert", s.cfg.TLSCertFile)
			err = server.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("Starting chat server", "addr", s.cfg.Addr)

	select {
	case <-ctx.Done():
		log.Info("Shutting down chat server")
		s.sessions.abortAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// NeedLeaderElection reports false: every replica serves chat.
func (s *Server) NeedLeaderElection() bool {
	return false
}

// cleanupSessions periodically evicts sessions idle for longer than the
// session TTL.
func (s *Server) cleanupSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.evictIdle(s.now(), s.cfg.SessionTTL); n > 0 {
				log.V(1).Info("Evicted idle chat sessions", "count", n)
			}
		}
	}
}

// rateLimitMiddleware wraps a handler with token-bucket rate limiting on mutating methods.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete {
			if !s.mutationLimiter.Allow() {
				RecordRateLimited()
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		gotHash := sha256.Sum256([]byte(token))
		wantHash := sha256.Sum256([]byte(s.cfg.AuthToken))
		if subtle.ConstantTimeCompare(gotHash[:], wantHash[:]) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if s.tlsConfigured() {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}

// decodeBody reads a size-limited JSON body into v and writes the error
// response when it fails.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

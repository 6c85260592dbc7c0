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

// Package config loads the agent configuration from an optional YAML file
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/osagberg/kube-assist-agent/internal/agent"
	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/notifier"
	"github.com/osagberg/kube-assist-agent/internal/tools/mcp"
)

// EnvPrefix is the prefix of environment overrides. The first segment after
// the prefix names the section: KUBE_ASSIST_AI_API_KEY sets ai.api_key.
const EnvPrefix = "KUBE_ASSIST_"

const maxConfigFileSize = 1 << 20

// Server defaults.
const (
	DefaultAddr        = ":8085"
	DefaultMaxSessions = 100
	DefaultSessionTTL  = 30 * time.Minute
	DefaultRateLimit   = 2.0
	DefaultRateBurst   = 10
)

// Kubernetes tool defaults.
const (
	DefaultCacheSize    = 256
	DefaultCacheTTL     = 15 * time.Second
	DefaultLogTailLines = 500
)

// Config is the complete agent configuration.
type Config struct {
	AI         ai.Config        `koanf:"ai"`
	Agent      agent.Config     `koanf:"agent"`
	Approval   ApprovalConfig   `koanf:"approval"`
	Tools      ToolsConfig      `koanf:"tools"`
	Kubernetes KubernetesConfig `koanf:"kubernetes"`
	MCP        MCPConfig        `koanf:"mcp"`
	Server     ServerConfig     `koanf:"server"`
	Notify     NotifyConfig     `koanf:"notify"`
}

// ApprovalConfig holds the auto-approve rules.
type ApprovalConfig struct {
	// Rules are CEL expressions over call; a call matched by any of them
	// runs without asking.
	Rules []string `koanf:"rules"`

	// DisableDefaultRule drops the built-in read-only rule.
	DisableDefaultRule bool `koanf:"disable_default_rule"`
}

// Expressions returns the rules to compile, the default rule first.
func (c ApprovalConfig) Expressions() []string {
	if c.DisableDefaultRule {
		return c.Rules
	}
	return append([]string{approval.DefaultRule}, c.Rules...)
}

// ToolsConfig holds the tools enabled for new sessions.
type ToolsConfig struct {
	Enabled []string `koanf:"enabled"`
}

// KubernetesConfig configures the built-in Kubernetes tool.
type KubernetesConfig struct {
	// Kubeconfig overrides the standard loading rules.
	Kubeconfig string `koanf:"kubeconfig"`

	// Contexts are kubeconfig contexts exposed as named clusters.
	Contexts []string `koanf:"contexts"`

	CacheSize    int           `koanf:"cache_size"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
	LogTailLines int64         `koanf:"log_tail_lines"`
}

// MCPConfig lists the external tool servers to connect to.
type MCPConfig struct {
	Servers []mcp.ServerConfig `koanf:"servers"`
}

// NotifyConfig lists where approval alerts are sent.
type NotifyConfig struct {
	Targets []notifier.Target `koanf:"targets"`

	// AllowPrivate permits targets on private networks, such as an
	// in-cluster receiver.
	AllowPrivate bool `koanf:"allow_private"`
}

// ServerConfig configures the chat HTTP server.
type ServerConfig struct {
	Addr        string        `koanf:"addr"`
	AuthToken   string        `koanf:"auth_token"`
	MaxSessions int           `koanf:"max_sessions"`
	SessionTTL  time.Duration `koanf:"session_ttl"`

	// RateLimit is the sustained rate of chat mutations per second.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// AllowInsecureHTTP permits an auth token without TLS. Local use only.
	AllowInsecureHTTP bool `koanf:"allow_insecure_http"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads the YAML file at path, when path is set, and applies
// environment overrides.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadBytes(data)
}

// LoadBytes parses YAML data, which may be empty, and applies environment
// overrides and defaults.
func LoadBytes(data []byte) (*Config, error) {
	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps KUBE_ASSIST_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func applyDefaults(cfg *Config) {
	def := ai.DefaultConfig()
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = def.Provider
	}
	cfg.AI.Provider = ai.NormalizeProviderName(cfg.AI.Provider)
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = def.MaxTokens
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = def.Timeout
	}

	agentDef := agent.DefaultConfig()
	if cfg.Agent.MaxRounds == 0 {
		cfg.Agent.MaxRounds = agentDef.MaxRounds
	}
	if cfg.Agent.MaxParallelTools == 0 {
		cfg.Agent.MaxParallelTools = agentDef.MaxParallelTools
	}
	if cfg.Agent.ToolContentCap == 0 {
		cfg.Agent.ToolContentCap = agentDef.ToolContentCap
	}

	if cfg.Tools.Enabled == nil {
		cfg.Tools.Enabled = []string{agent.KubernetesToolName}
	}

	if cfg.Kubernetes.CacheSize == 0 {
		cfg.Kubernetes.CacheSize = DefaultCacheSize
	}
	if cfg.Kubernetes.CacheTTL == 0 {
		cfg.Kubernetes.CacheTTL = DefaultCacheTTL
	}
	if cfg.Kubernetes.LogTailLines == 0 {
		cfg.Kubernetes.LogTailLines = DefaultLogTailLines
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.MaxSessions == 0 {
		cfg.Server.MaxSessions = DefaultMaxSessions
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = DefaultSessionTTL
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = DefaultRateLimit
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = DefaultRateBurst
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if !ai.IsKnownProvider(c.AI.Provider) {
		errs = append(errs, fmt.Errorf("ai.provider: unknown provider %q", c.AI.Provider))
	}
	if c.Agent.MaxRounds < 0 || c.Agent.MaxParallelTools < 0 || c.Agent.ToolContentCap < 0 {
		errs = append(errs, errors.New("agent: limits must not be negative"))
	}
	if c.Server.MaxSessions < 0 || c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, errors.New("server: limits must not be negative"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server: tls_cert_file and tls_key_file must be set together"))
	}
	seen := map[string]bool{}
	for i, s := range c.MCP.Servers {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: %w", i, err))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: duplicate server name %q", i, s.Name))
		}
		seen[s.Name] = true
	}
	if _, err := approval.NewRules(c.Approval.Expressions()); err != nil {
		errs = append(errs, fmt.Errorf("approval.rules: %w", err))
	}
	for i, t := range c.Notify.Targets {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("notify.targets[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

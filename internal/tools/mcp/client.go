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

package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/osagberg/kube-assist-agent/internal/tools"
)

var log = logf.Log.WithName("tools.mcp")

// ClientName identifies this process to MCP servers.
const ClientName = "kube-assist-agent"

// ServerConfig names one external MCP server. Exactly one of Command or
// URL must be set.
type ServerConfig struct {
	Name    string            `koanf:"name" json:"name"`
	Command string            `koanf:"command" json:"command,omitempty"`
	Args    []string          `koanf:"args" json:"args,omitempty"`
	Env     map[string]string `koanf:"env" json:"env,omitempty"`
	URL     string            `koanf:"url" json:"url,omitempty"`
	Timeout int               `koanf:"timeout" json:"timeout,omitempty"`
}

// Validate checks that the config can be connected.
func (c ServerConfig) Validate() error {
	switch {
	case c.Name == "":
		return errors.New("mcp server name is required")
	case strings.Contains(c.Name, NameSeparator):
		return fmt.Errorf("mcp server name %q must not contain %q", c.Name, NameSeparator)
	case c.Command == "" && c.URL == "":
		return fmt.Errorf("mcp server %q needs a command or a url", c.Name)
	case c.Command != "" && c.URL != "":
		return fmt.Errorf("mcp server %q sets both command and url", c.Name)
	}
	return nil
}

func (c ServerConfig) transport() mcp.Transport {
	if c.URL != "" {
		timeout := 60 * time.Second
		if c.Timeout > 0 {
			timeout = time.Duration(c.Timeout) * time.Second
		}
		return &mcp.StreamableClientTransport{
			Endpoint:   c.URL,
			HTTPClient: &http.Client{Timeout: timeout},
		}
	}
	cmd := exec.Command(c.Command, c.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return &mcp.CommandTransport{Command: cmd}
}

// Server is a connected MCP server and the tools it serves.
type Server struct {
	name    string
	session *mcp.ClientSession
	tools   []*Tool
}

// Connect starts or dials the server described by cfg and lists its tools.
func Connect(ctx context.Context, cfg ServerConfig, version string) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return ConnectTransport(ctx, cfg.Name, cfg.transport(), version)
}

// ConnectTransport connects over an already built transport.
func ConnectTransport(ctx context.Context, name string, transport mcp.Transport, version string) (*Server, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to mcp server %q: %w", name, err)
	}

	s := &Server{name: name, session: session}
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("listing tools of mcp server %q: %w", name, err)
		}
		for _, t := range res.Tools {
			s.tools = append(s.tools, newTool(name, session, t))
		}
		if res.NextCursor == "" {
			break
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
	log.Info("Connected to MCP server", "server", name, "tools", len(s.tools))
	return s, nil
}

// Name returns the configured server name.
func (s *Server) Name() string {
	return s.name
}

// Tools returns the tools served by s.
func (s *Server) Tools() []*Tool {
	return s.tools
}

// Close ends the session. For command servers this stops the process.
func (s *Server) Close() error {
	return s.session.Close()
}

// Hub keeps the connected servers and their registrations in a registry.
type Hub struct {
	mu       sync.Mutex
	registry *tools.Registry
	version  string
	servers  map[string]*Server
}

// NewHub creates a hub that registers tools into registry.
func NewHub(registry *tools.Registry, version string) *Hub {
	return &Hub{
		registry: registry,
		version:  version,
		servers:  make(map[string]*Server),
	}
}

// ConnectAll connects every configured server. A server that fails to
// connect is logged and skipped; the joined errors are returned.
func (h *Hub) ConnectAll(ctx context.Context, configs []ServerConfig) error {
	var errs []error
	for _, cfg := range configs {
		s, err := Connect(ctx, cfg, h.version)
		if err != nil {
			log.Error(err, "MCP server unavailable", "server", cfg.Name)
			errs = append(errs, err)
			continue
		}
		if err := h.Add(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Add registers the tools of a connected server, replacing any previous
// connection with the same name.
func (h *Hub) Add(s *Server) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[s.name]; ok {
		h.registry.Unregister(s.name + NameSeparator)
		_ = old.Close()
	}
	for _, t := range s.tools {
		if err := h.registry.Register(t); err != nil {
			h.registry.Unregister(s.name + NameSeparator)
			return fmt.Errorf("registering tools of %q: %w", s.name, err)
		}
	}
	h.servers[s.name] = s
	return nil
}

// Remove unregisters and closes the named server.
func (h *Hub) Remove(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.servers[name]
	if !ok {
		return false
	}
	h.registry.Unregister(name + NameSeparator)
	delete(h.servers, name)
	if err := s.Close(); err != nil {
		log.V(1).Info("Closing MCP session failed", "server", name, "error", err.Error())
	}
	return true
}

// ToolNames returns the qualified names of every hub tool.
func (h *Hub) ToolNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for _, s := range h.servers {
		for _, t := range s.tools {
			names = append(names, t.Definition().Name)
		}
	}
	slices.Sort(names)
	return names
}

// Close closes every session.
func (h *Hub) Close() {
	h.mu.Lock()
	names := make([]string, 0, len(h.servers))
	for name := range h.servers {
		names = append(names, name)
	}
	h.mu.Unlock()
	for _, name := range names {
		h.Remove(name)
	}
}

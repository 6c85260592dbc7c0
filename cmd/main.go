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

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/config"
	"github.com/osagberg/kube-assist-agent/internal/dashboard"
	"github.com/osagberg/kube-assist-agent/internal/notifier"
	"github.com/osagberg/kube-assist-agent/internal/tools"
	kubetool "github.com/osagberg/kube-assist-agent/internal/tools/kubernetes"
	"github.com/osagberg/kube-assist-agent/internal/tools/mcp"
)

// version is reported to MCP servers. Set with -ldflags at build time.
var version = "dev"

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	var configFile string
	var metricsAddr string
	var metricsCertPath, metricsCertName, metricsCertKey string
	var probeAddr string
	var secureMetrics bool
	var enableHTTP2 bool
	var chatAddr string
	var aiProvider string
	var aiModel string
	var aiAPIKey string
	var mcpConnectTimeout time.Duration
	var tlsOpts []func(*tls.Config)
	flag.StringVar(&configFile, "config", "", "Path to the agent YAML config file (optional).")
	flag.StringVar(&metricsAddr, "metrics-bind-address", "0", "The address the metrics endpoint binds to. "+
		"Use :8443 for HTTPS or :8080 for HTTP, or leave as 0 to disable the metrics service.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&secureMetrics, "metrics-secure", true,
		"If set, the metrics endpoint is served securely via HTTPS. Use --metrics-secure=false to use HTTP instead.")
	flag.StringVar(&metricsCertPath, "metrics-cert-path", "",
		"The directory that contains the metrics server certificate.")
	flag.StringVar(&metricsCertName, "metrics-cert-name", "tls.crt", "The name of the metrics server certificate file.")
	flag.StringVar(&metricsCertKey, "metrics-cert-key", "tls.key", "The name of the metrics server key file.")
	flag.BoolVar(&enableHTTP2, "enable-http2", false,
		"If set, HTTP/2 will be enabled for the metrics server")
	flag.StringVar(&chatAddr, "chat-bind-address", "",
		"The address the chat server binds to (overrides server.addr).")
	flag.StringVar(&aiProvider, "ai-provider", "",
		"Model provider: openai, anthropic, gemini, openai-compatible or noop (overrides ai.provider).")
	flag.StringVar(&aiModel, "ai-model", "", "Model to use (provider default if empty).")
	flag.StringVar(&aiAPIKey, "ai-api-key", "",
		"API key for the model provider (or use KUBE_ASSIST_AI_API_KEY env var).")
	flag.DurationVar(&mcpConnectTimeout, "mcp-connect-timeout", 30*time.Second,
		"How long to wait for the configured MCP servers at startup.")
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := config.Load(configFile)
	if err != nil {
		setupLog.Error(err, "unable to load config", "file", configFile)
		os.Exit(1)
	}
	// Flags set on the command line win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "chat-bind-address":
			cfg.Server.Addr = chatAddr
		case "ai-provider":
			cfg.AI.Provider = ai.NormalizeProviderName(aiProvider)
		case "ai-model":
			cfg.AI.Model = aiModel
		case "ai-api-key":
			cfg.AI.APIKey = aiAPIKey
		}
	})
	if err := cfg.Validate(); err != nil {
		setupLog.Error(err, "invalid configuration")
		os.Exit(1)
	}

	// if the enable-http2 flag is false (the default), http/2 should be disabled
	// due to its vulnerabilities. More specifically, disabling http/2 will
	// prevent from being vulnerable to the HTTP/2 Stream Cancellation and
	// Rapid Reset CVEs. For more information see:
	// - https://github.com/advisories/GHSA-qppj-fm5r-hxr3
	// - https://github.com/advisories/GHSA-4374-p667-p6c8
	disableHTTP2 := func(c *tls.Config) {
		setupLog.Info("disabling http/2")
		c.NextProtos = []string{"http/1.1"}
	}
	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	metricsServerOptions := metricsserver.Options{
		BindAddress:   metricsAddr,
		SecureServing: secureMetrics,
		TLSOpts:       tlsOpts,
	}
	if secureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}
	if len(metricsCertPath) > 0 {
		setupLog.Info("Initializing metrics certificate watcher using provided certificates",
			"metrics-cert-path", metricsCertPath, "metrics-cert-name", metricsCertName, "metrics-cert-key", metricsCertKey)
		metricsServerOptions.CertDir = metricsCertPath
		metricsServerOptions.CertName = metricsCertName
		metricsServerOptions.KeyName = metricsCertKey
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsServerOptions,
		HealthProbeBindAddress: probeAddr,
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	clusters, err := kubetool.LoadClusterSet(mgr.GetConfig(), cfg.Kubernetes.Kubeconfig, cfg.Kubernetes.Contexts)
	if err != nil {
		setupLog.Error(err, "unable to load clusters")
		os.Exit(1)
	}
	kube := kubetool.New(clusters,
		kubetool.WithCache(cfg.Kubernetes.CacheSize, cfg.Kubernetes.CacheTTL),
		kubetool.WithLogTailLines(cfg.Kubernetes.LogTailLines))
	registry, err := tools.NewRegistry(kube)
	if err != nil {
		setupLog.Error(err, "unable to register tools")
		os.Exit(1)
	}
	setupLog.Info("Kubernetes tool ready", "clusters", clusters.Names())

	ctx := ctrl.SetupSignalHandler()

	hub := mcp.NewHub(registry, version)
	defer hub.Close()
	if len(cfg.MCP.Servers) > 0 {
		connectCtx, cancel := context.WithTimeout(ctx, mcpConnectTimeout)
		if err := hub.ConnectAll(connectCtx, cfg.MCP.Servers); err != nil {
			setupLog.Error(err, "some MCP servers are unavailable; continuing without them")
		}
		cancel()
		setupLog.Info("MCP tools registered", "tools", hub.ToolNames())
	}

	models, err := ai.NewManager(cfg.AI)
	if err != nil {
		setupLog.Error(err, "failed to create AI provider")
		os.Exit(1)
	}
	setupLog.Info("AI provider initialized",
		"provider", models.Name(),
		"available", models.Available(),
		"model", cfg.AI.Model,
		"dailyTokenLimit", cfg.AI.DailyTokenLimit,
		"monthlyTokenLimit", cfg.AI.MonthlyTokenLimit)

	rules, err := approval.NewRules(cfg.Approval.Expressions())
	if err != nil {
		setupLog.Error(err, "invalid approval rules")
		os.Exit(1)
	}

	alerts, err := notifier.NewRegistry(cfg.Notify.Targets, cfg.Notify.AllowPrivate)
	if err != nil {
		setupLog.Error(err, "invalid notify targets")
		os.Exit(1)
	}

	chat := dashboard.NewServer(cfg.Server, models, registry).
		WithAgent(cfg.Agent, cfg.Tools.Enabled).
		WithRules(rules).
		WithApplier(kube).
		WithNotifier(alerts).
		WithAIConfig(cfg.AI)
	if err := mgr.Add(chat); err != nil {
		setupLog.Error(err, "unable to add chat server")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager", "chat", cfg.Server.Addr, "enabledTools", cfg.Tools.Enabled)
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

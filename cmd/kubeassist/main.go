/*
kubeassist - interactive Kubernetes assistant in the terminal

Usage:

	kubeassist                       # Chat against the current kubeconfig context
	kubeassist -n payments           # Start with a namespace in context
	kubeassist --context staging     # Use another kubeconfig context
	kubeassist --config agent.yaml   # Load provider, rules and MCP servers from a file

Inside the session:

	/tools [a,b]      list or set the enabled tools
	/context <ns>     change the namespace passed to tools
	/reset            clear the conversation
	/quit             exit

Ctrl-C aborts the running turn; at the prompt it exits.
*/
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	_ "k8s.io/client-go/plugin/pkg/client/auth"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/osagberg/kube-assist-agent/internal/agent"
	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/config"
	"github.com/osagberg/kube-assist-agent/internal/tools"
	"github.com/osagberg/kube-assist-agent/internal/tools/kubernetes"
	"github.com/osagberg/kube-assist-agent/internal/tools/mcp"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

var version = "dev"

var (
	configFile  string
	kubeContext string
	namespace   string
	provider    string
	model       string
	mcpTimeout  time.Duration
)

func main() {
	flag.StringVar(&configFile, "config", "", "Path to the agent YAML config file")
	flag.StringVar(&kubeContext, "context", "", "Kubeconfig context to use")
	flag.StringVar(&namespace, "n", "", "Namespace passed to tools")
	flag.StringVar(&namespace, "namespace", "", "Namespace passed to tools")
	flag.StringVar(&provider, "provider", "", "Model provider (overrides ai.provider)")
	flag.StringVar(&model, "model", "", "Model name (overrides ai.model)")
	flag.DurationVar(&mcpTimeout, "mcp-timeout", 30*time.Second, "Timeout connecting to MCP servers")
	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%sError: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "provider":
			cfg.AI.Provider = ai.NormalizeProviderName(provider)
		case "model":
			cfg.AI.Model = model
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Load kubeconfig
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	loadingRules.ExplicitPath = cfg.Kubernetes.Kubeconfig
	configOverrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	if namespace == "" {
		if ns, _, err := kubeConfig.Namespace(); err == nil {
			namespace = ns
		}
	}

	clusters, err := kubernetes.LoadClusterSet(restConfig, cfg.Kubernetes.Kubeconfig, cfg.Kubernetes.Contexts)
	if err != nil {
		return err
	}
	kube := kubernetes.New(clusters,
		kubernetes.WithCache(cfg.Kubernetes.CacheSize, cfg.Kubernetes.CacheTTL),
		kubernetes.WithLogTailLines(cfg.Kubernetes.LogTailLines))
	registry, err := tools.NewRegistry(kube)
	if err != nil {
		return err
	}

	ctx := context.Background()
	hub := mcp.NewHub(registry, version)
	defer hub.Close()
	if len(cfg.MCP.Servers) > 0 {
		connectCtx, cancel := context.WithTimeout(ctx, mcpTimeout)
		if err := hub.ConnectAll(connectCtx, cfg.MCP.Servers); err != nil {
			fmt.Fprintf(os.Stderr, "%sWarning: %v%s\n", colorYellow, err, colorReset)
		}
		cancel()
	}

	models, err := ai.NewManager(cfg.AI)
	if err != nil {
		return err
	}
	if !models.Available() {
		return fmt.Errorf("model provider %q is not configured (set ai.api_key or KUBE_ASSIST_AI_API_KEY)", models.Name())
	}
	rules, err := approval.NewRules(cfg.Approval.Expressions())
	if err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	t := &terminal{
		registry:  registry,
		applier:   kube,
		out:       os.Stdout,
		lines:     readLines(os.Stdin),
		interrupt: interrupt,
		approvals: make(chan approval.Request, 1),
	}
	t.gate = approval.NewGate(approval.WithRules(rules), approval.WithNotifier(t.notify))
	t.orch = agent.New(models, registry, t.gate, cfg.Agent)

	enabled := cfg.Tools.Enabled
	if len(enabled) == 0 {
		enabled = registry.Names()
	}
	t.orch.ConfigureTools(enabled, tools.Context{Namespace: namespace})

	fmt.Printf("%skubeassist%s %s%s | %s | clusters: %v | namespace: %q%s\n",
		colorBold, colorReset, colorDim, models.Name(), version, clusters.Names(), namespace, colorReset)
	fmt.Printf("%sType /help for commands.%s\n", colorDim, colorReset)
	return t.run(ctx)
}

// readLines feeds stdin lines to a channel that closes on EOF.
func readLines(f *os.File) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

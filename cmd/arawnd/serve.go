package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dylanbstorey/arawn-sub003/internal/agent"
	agentctx "github.com/dylanbstorey/arawn-sub003/internal/agent/context"
	"github.com/dylanbstorey/arawn-sub003/internal/gateway"
	"github.com/dylanbstorey/arawn-sub003/internal/interactionlog"
	"github.com/dylanbstorey/arawn-sub003/internal/jobs"
	"github.com/dylanbstorey/arawn-sub003/internal/mcp"
	"github.com/dylanbstorey/arawn-sub003/internal/memory"
	"github.com/dylanbstorey/arawn-sub003/internal/memory/backend"
	"github.com/dylanbstorey/arawn-sub003/internal/observability"
	"github.com/dylanbstorey/arawn-sub003/internal/orchestrator"
	"github.com/dylanbstorey/arawn-sub003/internal/providers"
	"github.com/dylanbstorey/arawn-sub003/internal/sessions"
	"github.com/dylanbstorey/arawn-sub003/internal/subagent"
	"github.com/dylanbstorey/arawn-sub003/internal/tools/exec"
	"github.com/dylanbstorey/arawn-sub003/internal/tools/files"
	"github.com/dylanbstorey/arawn-sub003/internal/tools/memorysearch"
	"github.com/dylanbstorey/arawn-sub003/internal/tools/policy"
	"github.com/dylanbstorey/arawn-sub003/internal/tools/websearch"
	"github.com/dylanbstorey/arawn-sub003/internal/workspace"
)

// serveConfig holds every setting buildServeCmd's flags/env vars feed
// into runServe, in place of a YAML config loader (out of scope, see
// SPEC_FULL.md §1).
type serveConfig struct {
	addr            string
	workspaceRoot   string
	providerName    string
	model           string
	gatewaySecret   string
	interactionLogs string
	mcpEnabled      bool
	debug           bool
}

func buildServeCmd() *cobra.Command {
	cfg := serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the arawn agent runtime core",
		Long: `Start one agent runtime core: Session/Turn loop, native tools, MCP
adapters, subagent delegation, orchestrated compaction and an
interaction log, reachable over the bidirectional streaming transport.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyServeEnvDefaults(&cfg)
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", ":8099", "HTTP listen address for the gateway")
	cmd.Flags().StringVar(&cfg.workspaceRoot, "workspace", ".", "workspace root for bootstrap files and file/exec tools")
	cmd.Flags().StringVar(&cfg.providerName, "provider", "anthropic", "LLM provider: anthropic or openai")
	cmd.Flags().StringVar(&cfg.model, "model", "", "default model id (provider-specific default if empty)")
	cmd.Flags().StringVar(&cfg.gatewaySecret, "gateway-secret", "", "bearer-token secret for the Auth message; empty disables auth")
	cmd.Flags().StringVar(&cfg.interactionLogs, "interaction-log-dir", "", "directory for the daily interaction log; empty disables it")
	cmd.Flags().BoolVar(&cfg.mcpEnabled, "mcp-enabled", false, "connect configured MCP servers and bridge their tools in (none ship by default)")
	cmd.Flags().BoolVarP(&cfg.debug, "debug", "d", false, "enable debug logging")

	return cmd
}

// applyServeEnvDefaults overlays environment variables onto any flag
// left at its zero value, so ARAWN_* env vars work the same as flags
// without needing a config file.
func applyServeEnvDefaults(cfg *serveConfig) {
	if v := os.Getenv("ARAWN_ADDR"); v != "" && cfg.addr == ":8099" {
		cfg.addr = v
	}
	if v := os.Getenv("ARAWN_WORKSPACE"); v != "" && cfg.workspaceRoot == "." {
		cfg.workspaceRoot = v
	}
	if v := os.Getenv("ARAWN_PROVIDER"); v != "" && cfg.providerName == "anthropic" {
		cfg.providerName = v
	}
	if v := os.Getenv("ARAWN_MODEL"); v != "" && cfg.model == "" {
		cfg.model = v
	}
	if v := os.Getenv("ARAWN_GATEWAY_SECRET"); v != "" && cfg.gatewaySecret == "" {
		cfg.gatewaySecret = v
	}
	if v := os.Getenv("ARAWN_INTERACTION_LOG_DIR"); v != "" && cfg.interactionLogs == "" {
		cfg.interactionLogs = v
	}
	if v := os.Getenv("ARAWN_LOG_LEVEL"); v == "debug" {
		cfg.debug = true
	}
	if os.Getenv("ARAWN_MCP_ENABLED") == "true" {
		cfg.mcpEnabled = true
	}
}

// runServe wires every in-scope SPEC_FULL.md component into one
// running process: a provider, a session store, the native/MCP tool
// catalog, the orchestrator, the subagent spawner, the interaction log,
// and the gateway transport — then blocks until a shutdown signal.
func runServe(ctx context.Context, cfg serveConfig) error {
	if cfg.debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	logger := slog.Default().With("component", "arawnd")

	logger.Info("starting arawn runtime core",
		"version", version, "commit", commit, "addr", cfg.addr, "provider", cfg.providerName)

	provider, defaultModel, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	bootstrapResult, err := workspace.EnsureWorkspaceFiles(cfg.workspaceRoot, workspace.BootstrapFilesForConfig(nil), false)
	if err != nil {
		return fmt.Errorf("bootstrap workspace: %w", err)
	}
	logger.Info("workspace bootstrapped", "created", len(bootstrapResult.Created), "skipped", len(bootstrapResult.Skipped))

	wsCtx, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(&workspace.FileNames{Path: cfg.workspaceRoot}))
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}

	store := sessions.NewMemoryStore()

	toolCatalog, err := buildToolCatalog(cfg)
	if err != nil {
		return fmt.Errorf("build tool catalog: %w", err)
	}

	// toolPolicy records the canonical MCP identity behind every bridged
	// tool name, so a future allow/deny policy can reason about
	// "mcp:github.search" rather than the hashed runtime name
	// "mcp_github_search" safeToolName would otherwise produce for it.
	toolPolicy := policy.NewResolver()
	mcpMgr := mcp.NewManager(&mcp.Config{Enabled: cfg.mcpEnabled}, slog.Default())
	if err := mcpMgr.Start(ctx); err != nil {
		return fmt.Errorf("start mcp manager: %w", err)
	}

	// memManager is the §4.I structured-record memory contract
	// (Distill/FindContradictions/Supersede), a separate subsystem from
	// the flat-file memorysearch tools below; arawnd constructs and
	// holds it so a future tool/subagent can call into it, but nothing
	// here decides on its own when a turn's content is worth distilling.
	memBackend := backend.NewMemStore(0)
	memManager := memory.NewManager(memBackend, memory.Config{Enabled: true, MinContentLength: 32}, slog.Default())
	_ = memManager

	var ilog agent.InteractionLogger
	if cfg.interactionLogs != "" {
		w, err := interactionlog.NewWriter(interactionlog.Config{Enabled: true, Dir: cfg.interactionLogs})
		if err != nil {
			return fmt.Errorf("interaction log: %w", err)
		}
		defer w.Close()
		ilog = w
	}

	metrics := observability.NewMetrics()

	rt := agent.NewRuntime(provider, store)
	rt.SetDefaultModel(defaultModel)
	rt.SetMaxIterations(50)
	if sp := wsCtx.SystemPromptContext(); sp != "" {
		rt.SetSystemPrompt(sp)
	}
	for _, tool := range toolCatalog {
		rt.RegisterTool(tool)
	}
	bridgedTools := mcp.RegisterToolsWithRegistrar(rt, mcpMgr, toolPolicy)
	if len(bridgedTools) > 0 {
		logger.Info("bridged MCP tools into runtime", "count", len(bridgedTools))
	}
	if ilog != nil {
		rt.SetInteractionLogger(ilog)
	}
	rt.SetEventSink(newMetricsSink(metrics, cfg.providerName, defaultModel))

	packer := agentctx.NewPacker(agentctx.DefaultPackOptions())
	summarizer := &agent.LLMSummaryProvider{Provider: provider, Model: defaultModel}
	compactConfig := agent.DefaultCompactionConfig()
	rt.SetCompaction(compactConfig, summarizer)

	orch := orchestrator.New(rt, agent.NewCompactionManager(compactConfig, packer, summarizer), orchestrator.DefaultConfig())
	_ = orch // available to a future REST/CLI front end; the gateway drives rt directly per §4.F

	spawner := subagent.New(provider, store, func() []agent.Tool { return toolCatalog }, defaultModel)
	registerDefaultSubagents(spawner)
	jobStore := jobs.NewMemoryStore()
	_ = jobStore // Delegate background bookkeeping (§4.J); drained by the gateway's own session loop

	var verifier *gateway.TokenVerifier
	if cfg.gatewaySecret != "" {
		verifier = gateway.NewTokenVerifier(cfg.gatewaySecret)
	}
	gw := gateway.NewServer(rt, store, gateway.Config{Verifier: verifier})

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: cfg.addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("arawn runtime core stopped gracefully")
	return nil
}

// buildProvider constructs the configured agent.LLMProvider. Anthropic
// is the default (§4.D); OpenAI exercises the same contract with a
// different wire shape.
func buildProvider(cfg serveConfig) (agent.LLMProvider, string, error) {
	switch cfg.providerName {
	case "openai":
		model := cfg.model
		if model == "" {
			model = "gpt-4o"
		}
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			DefaultModel: model,
		})
		return p, model, err
	default:
		model := cfg.model
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			DefaultModel: model,
			MaxTokens:    4096,
		})
		return p, model, err
	}
}

// buildToolCatalog assembles the native tool set the runtime and every
// subagent are filtered against.
func buildToolCatalog(cfg serveConfig) ([]agent.Tool, error) {
	execMgr := exec.NewManager(cfg.workspaceRoot)
	filesCfg := files.Config{Workspace: cfg.workspaceRoot, MaxReadBytes: 256 * 1024}
	memSearchCfg := &memorysearch.Config{
		Directory:     cfg.workspaceRoot,
		MemoryFile:    "MEMORY.md",
		WorkspacePath: cfg.workspaceRoot,
		MaxResults:    10,
		MaxSnippetLen: 400,
	}

	return []agent.Tool{
		files.NewReadTool(filesCfg),
		files.NewWriteTool(filesCfg),
		files.NewEditTool(filesCfg),
		files.NewApplyPatchTool(filesCfg),
		exec.NewExecTool("run_command", execMgr),
		exec.NewProcessTool(execMgr),
		memorysearch.NewMemorySearchTool(memSearchCfg),
		memorysearch.NewMemoryGetTool(memSearchCfg),
		websearch.NewWebFetchTool(&websearch.FetchConfig{MaxChars: 20000}),
	}, nil
}

// registerDefaultSubagents registers the stock read-only exploration
// subagent every arawnd instance ships with; operators extend this set
// by calling spawner.Register from their own wiring.
func registerDefaultSubagents(s *subagent.Spawner) {
	s.Register(subagent.SubagentInfo{
		Name:            "researcher",
		Description:     "explores the workspace read-only and reports findings",
		AllowedTools:    []string{"read", "memory_search", "memory_get", "web_fetch"},
		ReadOnly:        true,
		DefaultMaxTurns: 8,
	})
}


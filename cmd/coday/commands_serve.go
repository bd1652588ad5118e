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

	"github.com/codayhq/coday/internal/agent"
	"github.com/codayhq/coday/internal/agent/providers"
	"github.com/codayhq/coday/internal/config"
	"github.com/codayhq/coday/internal/gateway"
	"github.com/codayhq/coday/internal/mcp"
	"github.com/codayhq/coday/internal/observability"
	venice "github.com/codayhq/coday/internal/providers/venice"
	"github.com/codayhq/coday/internal/thread"
	"github.com/codayhq/coday/pkg/models"
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the session gateway.
func buildServeCmd() *cobra.Command {
	var (
		codayConfigPath   string
		projectConfigPath string
		userConfigPath    string
		threadDir         string
		addr              string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Coday session gateway",
		Long: `Start the Coday session gateway, which loads the hierarchical
CODAY/PROJECT/USER configuration, connects the configured MCP servers and AI
providers, and serves the SSE session endpoints.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				codayConfigPath:   codayConfigPath,
				projectConfigPath: projectConfigPath,
				userConfigPath:    userConfigPath,
				threadDir:         threadDir,
				addr:              addr,
			})
		},
	}

	cmd.Flags().StringVar(&codayConfigPath, "coday-config", "", "path to the CODAY-level config file (read-only global defaults)")
	cmd.Flags().StringVar(&projectConfigPath, "project-config", "", "path to the PROJECT-level config file")
	cmd.Flags().StringVar(&userConfigPath, "user-config", "", "path to the USER-level config file")
	cmd.Flags().StringVar(&threadDir, "thread-dir", "./threads", "directory the thread repository persists to")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address the HTTP gateway listens on")

	return cmd
}

type serveOptions struct {
	codayConfigPath   string
	projectConfigPath string
	userConfigPath    string
	threadDir         string
	addr              string
}

// runServe loads the three config layers, wires providers/tools/MCP
// servers/gateway, and serves until a shutdown signal arrives.
func runServe(ctx context.Context, opts serveOptions) error {
	logger := observability.NewLogger(observability.LogConfig{Level: "info"})

	merged, err := loadMergedConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	provider, agentSpec, err := selectProvider(merged)
	if err != nil {
		return fmt.Errorf("failed to select provider: %w", err)
	}

	tools := agent.NewToolRegistry()
	loop := agent.NewLoop(provider, tools, defaultPriceTable())
	loop.PriceThreshold = merged.PriceThreshold

	mcpManager := mcp.NewManager(&mcp.Config{
		Enabled: len(merged.MCPServers) > 0,
		Servers: mcpServerSlice(merged),
	}, slog.Default())
	if err := mcpManager.Start(ctx); err != nil {
		slog.Warn("mcp manager start reported errors", "error", err)
	}
	defer func() {
		if err := mcpManager.Stop(); err != nil {
			slog.Warn("mcp manager stop failed", "error", err)
		}
	}()

	instances := mcp.NewInstanceCache(slog.Default(), mcp.DefaultGraceTimeout)
	defer instances.Shutdown()

	repo := thread.NewRepository(opts.threadDir)
	server := gateway.NewServer(logger)
	server.Agent = agentSpec
	server.NewThreadService = func(project string) *thread.Service {
		return thread.NewService(repo)
	}
	server.NewLoop = func() *agent.Loop { return loop }

	mux := http.NewServeMux()
	server.Routes(mux)

	httpServer := &http.Server{Addr: opts.addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("coday gateway listening", "addr", opts.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutdown signal received, draining connections")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("coday gateway stopped gracefully")
	return nil
}

// loadMergedConfig loads whichever of the three layer paths were supplied
// and folds them through config.MergeAll; an unset path contributes no
// layer rather than erroring.
func loadMergedConfig(opts serveOptions) (*config.Config, error) {
	coday, err := loadOptionalLayer(opts.codayConfigPath)
	if err != nil {
		return nil, err
	}
	project, err := loadOptionalLayer(opts.projectConfigPath)
	if err != nil {
		return nil, err
	}
	user, err := loadOptionalLayer(opts.userConfigPath)
	if err != nil {
		return nil, err
	}
	return config.MergeAll(coday, project, user, config.LookupHostEnv), nil
}

// mcpServerSlice converts the merged MCP server map into the []*ServerConfig
// shape Manager.Start iterates, marking each AutoStart so Start connects it.
func mcpServerSlice(cfg *config.Config) []*mcp.ServerConfig {
	servers := make([]*mcp.ServerConfig, 0, len(cfg.MCPServers))
	for id, sc := range cfg.MCPServers {
		sc.ID = id
		sc.AutoStart = sc.Enabled
		servers = append(servers, sc)
	}
	return servers
}

func loadOptionalLayer(path string) (*config.Config, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return config.LoadLayer(path)
}

// selectProvider picks the first configured provider and constructs its
// LLMProvider, defaulting to an agent that uses the BIG model size.
func selectProvider(cfg *config.Config) (agent.LLMProvider, models.Agent, error) {
	for _, name := range []string{"anthropic", "openai", "venice"} {
		p, ok := cfg.Providers[name]
		if !ok {
			continue
		}
		switch name {
		case "anthropic":
			prov, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: p.APIKey})
			if err != nil {
				return nil, models.Agent{}, err
			}
			return prov, defaultAgent(p), nil
		case "openai":
			return providers.NewOpenAIProvider(p.APIKey), defaultAgent(p), nil
		case "venice":
			prov, err := venice.NewVeniceProvider(venice.VeniceConfig{APIKey: p.APIKey})
			if err != nil {
				return nil, models.Agent{}, err
			}
			return prov, defaultAgent(p), nil
		}
	}
	return nil, models.Agent{}, fmt.Errorf("no usable provider configured (expected one of anthropic, openai, venice)")
}

func defaultAgent(p *config.ProviderConfig) models.Agent {
	return models.Agent{
		Name:      "default",
		ModelSize: models.ModelSizeBig,
		ModelName: p.BigModel,
	}
}

func defaultPriceTable() agent.PriceTable {
	return agent.PriceTable{
		"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15, CachePerMTok: 0.3},
		"gpt-4o":            {InputPerMTok: 2.5, OutputPerMTok: 10},
	}
}

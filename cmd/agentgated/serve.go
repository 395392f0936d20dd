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

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/audit"
	"github.com/haasonsaas/agentgate/internal/auth"
	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/gateway"
	"github.com/haasonsaas/agentgate/internal/heartbeat"
	"github.com/haasonsaas/agentgate/internal/nodes"
	"github.com/haasonsaas/agentgate/internal/observability"
	"github.com/haasonsaas/agentgate/internal/reply"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/tools"
	"github.com/haasonsaas/agentgate/internal/tools/builtin"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentgated gateway",
		Long: `Start the gateway server: load configuration, wire the Session Store,
Tool Registry, Safety Gate, Approval Store, Node Registry, and Agent Run
Engine, then accept WebSocket connections until SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  agentgated serve

  # Start with a custom config file
  agentgated serve --config /etc/agentgate/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug-level logging")
	return cmd
}

// runServe loads config, assembles every component, and serves until a
// shutdown signal arrives or the server errors out.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	logger := slog.Default()

	logger.Info("starting agentgated", "version", version, "commit", commit, "config", configPath, "debug", debug)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Info("configuration loaded",
		"host", cfg.Gateway.Host, "port", cfg.Gateway.Port,
		"auth_mode", cfg.Gateway.AuthMode, "sessions_backend", cfg.Sessions.Backend,
		"approvals_backend", cfg.Approvals.Backend, "safety_mode", cfg.Safety.Mode,
	)

	sessionStore, closeSessions, err := buildSessionStore(ctx, cfg.Sessions)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	defer closeSessions()

	approvalStore, err := buildApprovalStore(cfg.Approvals, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize approval store: %w", err)
	}
	defer approvalStore.Close()

	nodeRegistry := nodes.NewRegistry()

	toolRegistry := tools.NewRegistry()
	if err := builtin.Register(toolRegistry, builtin.Config{
		Workspace:    cfg.Workspace,
		MaxReadBytes: 1 << 20,
		Sessions:     sessionStore,
	}); err != nil {
		return fmt.Errorf("failed to register built-in tools: %w", err)
	}

	gate := tools.Gate{Safety: buildSafetyConfig(cfg.Safety), Approval: approvalStore}

	providerClients, err := buildProviderClients(cfg.Models)
	if err != nil {
		return fmt.Errorf("failed to initialize model providers: %w", err)
	}
	// The "standard" tier is the operative fallback chain: tier is
	// classified per run for observability (span/log attributes) but this
	// build's Run Engine takes one fixed candidate list per call rather
	// than branching on the classified tier, so models.routing.low/high
	// are accepted and validated but not yet consulted at request time.
	standardModels, err := buildModelCandidates(providerClients, cfg.Models.Routing.Standard)
	if err != nil {
		return fmt.Errorf("failed to resolve models.routing.standard: %w", err)
	}
	if len(standardModels) == 0 {
		return fmt.Errorf("models.routing.standard must list at least one \"provider/model\" candidate")
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    cfg.Observability.OTLPEndpoint,
	})
	defer shutdownTracer(context.Background())
	metrics := observability.NewMetrics()

	auditLogger, err := buildAuditLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer auditLogger.Close()
	auditLogger.Log(ctx, &audit.Event{Type: audit.EventGatewayStartup, Level: audit.LevelInfo, Action: "startup"})

	engine := &agent.RunEngine{
		Tools:    toolRegistry,
		Gate:     gate,
		Sessions: sessionStore,
		Nodes:    nodeRegistry,
		Tracer:   tracer,
		Metrics:  metrics,
		Audit:    auditLogger,
	}

	dispatcher := &reply.Dispatcher{
		Engine:     engine,
		Sessions:   sessionStore,
		BasePrompt: "You are agentgate, a local agent control-plane assistant with access to shell, filesystem, git, HTTP, and memory-search tools, gated by a Safety Gate and Approval Store.",
		Inline: []reply.InlineCommand{
			reply.StatusCommand(func() string { return "agentgated is running" }),
		},
		Models: func(string) []agent.ModelCandidate { return standardModels },
	}

	var jwtService *auth.JWTService
	if cfg.Gateway.AuthMode == "jwt" {
		jwtService = auth.NewJWTService(cfg.Gateway.JWTSecret, 0)
	}

	server := gateway.NewServer(gateway.Config{
		Logger:       logger,
		Sessions:     sessionStore,
		Tools:        toolRegistry,
		Gate:         gate,
		Nodes:        nodeRegistry,
		Engine:       engine,
		Models:       standardModels,
		Dispatcher:   dispatcher,
		AuthToken:    cfg.Gateway.AuthToken,
		JWT:          jwtService,
		TickInterval: cfg.Gateway.TickInterval,
	})
	defer server.Close()

	heartbeatRunner := heartbeat.NewRunner(
		time.Duration(cfg.Heartbeat.IntervalMinutes)*time.Minute,
		func() heartbeat.Diagnostic {
			return heartbeat.Diagnostic{Time: time.Now(), Health: "ok"}
		},
		logger,
		func(d heartbeat.Diagnostic) {
			auditLogger.LogAgentAction(ctx, "gateway", "heartbeat", "periodic diagnostic sample", map[string]any{
				"uptime_ms": d.UptimeMs, "connections": d.ConnectionCount, "health": d.Health,
			}, "")
		},
	)
	if err := heartbeatRunner.Start(time.Duration(cfg.Heartbeat.IntervalMinutes) * time.Minute); err != nil {
		return fmt.Errorf("failed to start heartbeat runner: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Observability.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/", server)
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("agentgated started", "addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutdown signal received, initiating graceful shutdown")
	auditLogger.Log(context.Background(), &audit.Event{Type: audit.EventGatewayShutdown, Level: audit.LevelInfo, Action: "shutdown"})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	heartbeatRunner.Stop(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("agentgated stopped gracefully")
	return nil
}

// buildSessionStore opens the configured Session Store backend and returns
// a close func that is always safe to call, even for the memory backend.
func buildSessionStore(ctx context.Context, cfg config.SessionsConfig) (sessions.Store, func(), error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := sessions.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return sessions.NewMemoryStore(), func() {}, nil
	}
}

// buildAuditLogger maps the daemon's small audit config surface onto the
// audit package's richer Config, always targeting the configured file path
// with both tool input and output retained.
func buildAuditLogger(cfg config.AuditConfig) (*audit.Logger, error) {
	return audit.NewLogger(audit.Config{
		Enabled:           true,
		Level:             audit.LevelInfo,
		Format:            audit.FormatJSON,
		Output:            "file:" + cfg.Path,
		IncludeToolInput:  true,
		IncludeToolOutput: true,
	})
}

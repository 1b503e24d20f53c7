package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cexll/agentd/pkg/agent"
	"github.com/cexll/agentd/pkg/audit"
	"github.com/cexll/agentd/pkg/bus"
	"github.com/cexll/agentd/pkg/config"
	"github.com/cexll/agentd/pkg/metrics"
	"github.com/cexll/agentd/pkg/model/factory"
	"github.com/cexll/agentd/pkg/sandbox"
	"github.com/cexll/agentd/pkg/session"
	"github.com/cexll/agentd/pkg/skills"
	"github.com/cexll/agentd/pkg/telemetry"
	"github.com/cexll/agentd/pkg/tool"
	"github.com/cexll/agentd/pkg/tool/builtin"
)

// runtime bundles everything a running agent needs. Close releases the
// pieces in reverse construction order.
type runtime struct {
	cfg      *config.AppConfig
	logger   *slog.Logger
	bus      *bus.Bus
	registry *tool.Registry
	sessions *session.Store
	skills   *skills.Manager
	metrics  *metrics.Store
	audit    *audit.Logger
	loop     *agent.Loop

	shutdownTracing func(context.Context) error
}

// buildRuntime assembles the agent from configuration. It does not start
// anything; callers run the loop (and watchers) themselves.
func buildRuntime(ctx context.Context, configDir string, streams ioStreams) (*runtime, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(streams.err, nil))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry setup: %w", err)
	}

	b := bus.New()
	registry := tool.NewRegistry()
	sandboxCfg := sandbox.Config{
		WorkspacePath:    cfg.Workspace,
		ExecTimeout:      cfg.Sandbox.ExecTimeout.Std(),
		MaxOutputBytes:   cfg.Sandbox.MaxOutputBytes,
		ExecEnabled:      cfg.ExecAllowed(),
		NetworkAllowlist: cfg.Sandbox.NetworkAllowlist,
	}
	if err := builtin.RegisterAll(registry, sandboxCfg); err != nil {
		b.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	var mirror session.Mirror
	if cfg.Mirror != nil {
		mirror = session.NewHTTPMirror(cfg.Mirror.BaseURL, cfg.Mirror.Token)
	}
	sessions := session.NewStore(cfg.Workspace, mirror, logger)

	skillMgr := skills.NewManager(filepath.Join(cfg.Workspace, "skills"), cfg.Skills.MinVersions, logger)

	store := metrics.NewStore()
	auditor := audit.New(cfg.Workspace, logger)

	provider, err := factory.New(cfg, logger)
	if err != nil {
		b.Close()
		auditor.Close()
		return nil, err
	}

	loop, err := agent.New(agent.Config{
		Bus:      b,
		App:      cfg,
		Provider: provider,
		Registry: registry,
		Sessions: sessions,
		Skills:   skillMgr,
		Metrics:  store,
		Audit:    auditor,
		Logger:   logger,
	})
	if err != nil {
		b.Close()
		auditor.Close()
		return nil, err
	}

	return &runtime{
		cfg:             cfg,
		logger:          logger,
		bus:             b,
		registry:        registry,
		sessions:        sessions,
		skills:          skillMgr,
		metrics:         store,
		audit:           auditor,
		loop:            loop,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close flushes sessions and stops the bus, audit log, and trace exporter.
func (r *runtime) Close(ctx context.Context) {
	r.bus.Close()
	r.sessions.Flush()
	r.audit.Close()
	if r.shutdownTracing != nil {
		if err := r.shutdownTracing(ctx); err != nil {
			r.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}
}

package main

import (
	"context"
	"fmt"

	"toolenv/internal/config"
	"toolenv/internal/env"
	"toolenv/internal/hook"
	"toolenv/internal/hook/handlers"
	"toolenv/internal/logger"
	"toolenv/internal/mcp"
	"toolenv/internal/metrics"
	"toolenv/internal/tool"
	"toolenv/internal/tool/builtin"
)

// session owns the template episode and everything it depends on.
type session struct {
	cfg      *config.Config
	log      *logger.Logger
	template *env.Env
	mcp      *mcp.Manager
}

// newSession builds the template episode from the built-in tool set plus any
// configured MCP servers. m may be nil.
func newSession(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*session, error) {
	tools, err := builtin.Toolset(cfg.Tools.Names, cfg.Tools.Options())
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, log: log}

	if len(cfg.MCP.Servers) > 0 {
		s.mcp = mcp.NewManager()
		if err := s.mcp.Initialize(ctx, cfg.MCP); err != nil {
			if s.mcp.ServerCount() == 0 {
				return nil, err
			}
			log.Warn("%v", err)
		}
		tools = append(tools, s.mcp.Tools()...)
		log.Debug("MCP servers: %v", s.mcp.ListServers())
	}

	template, err := env.New(tools, cfg.EnvConfig())
	if err != nil {
		s.Close()
		return nil, err
	}
	template.SetLogger(log)
	template.SetMetrics(m)
	if len(cfg.Hooks.DenyTools) > 0 {
		hooks := hook.NewManager()
		hooks.Register(handlers.NewDenyToolsHandler(cfg.Hooks.DenyTools...))
		template.SetHookManager(hooks)
	}
	s.template = template

	log.Info("Registered %d tools: %v", len(tools), toolList(tools))
	return s, nil
}

// Close releases the template's stateful tools and stops MCP servers.
func (s *session) Close() {
	if s.template != nil {
		if err := s.template.Close(); err != nil {
			s.log.Warn("close environment: %v", err)
		}
	}
	if s.mcp != nil {
		if err := s.mcp.Close(); err != nil {
			s.log.Warn("close MCP servers: %v", err)
		}
	}
}

func toolList(tools []tool.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// episodes clones n independent episodes from the template.
func (s *session) episodes(n int) ([]*env.Env, error) {
	if n < 1 {
		return nil, fmt.Errorf("episode count must be positive, got %d", n)
	}
	envs := make([]*env.Env, n)
	for i := range envs {
		envs[i] = s.template.Clone()
		envs[i].SetID(i)
	}
	return envs, nil
}

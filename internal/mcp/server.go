package mcp

import (
	"context"
	"fmt"

	"toolenv/internal/config"
)

// Server is a configured MCP server with a live session
type Server struct {
	config config.MCPServerConfig
	client *Client
}

// NewServer starts the configured stdio server and connects to it. ${VAR}
// references in its environment are expanded first.
func NewServer(ctx context.Context, cfg config.MCPServerConfig) (*Server, error) {
	transport := CommandTransport(cfg.Command, cfg.Args, config.ExpandEnvMap(cfg.Env))
	client, err := Connect(ctx, cfg.Name, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}

	return &Server{config: cfg, client: client}, nil
}

func (s *Server) Name() string    { return s.config.Name }
func (s *Server) Client() *Client { return s.client }

// Tools adapts every tool the server advertises.
func (s *Server) Tools() []*ToolAdapter {
	remote := s.client.Tools()
	adapters := make([]*ToolAdapter, 0, len(remote))
	for _, t := range remote {
		adapters = append(adapters, NewToolAdapter(s.client, t))
	}
	return adapters
}

// Health pings the server and checks that it still offers tools
func (s *Server) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("server %s: %w", s.Name(), err)
	}
	if len(s.client.Tools()) == 0 {
		return fmt.Errorf("server %s has no tools available", s.Name())
	}
	return nil
}

// Close shuts down the server
func (s *Server) Close() error {
	return s.client.Close()
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"toolenv/internal/config"
	"toolenv/internal/tool"
)

// Manager coordinates multiple MCP servers and the tools they expose
type Manager struct {
	servers map[string]*Server
	tools   map[string]tool.Tool
	mu      sync.RWMutex
}

// NewManager creates a new MCP manager
func NewManager() *Manager {
	return &Manager{
		servers: make(map[string]*Server),
		tools:   make(map[string]tool.Tool),
	}
}

// Initialize starts all enabled servers from config concurrently. It fails
// only when every server fails; a partial failure is reported alongside the
// servers that did start.
func (m *Manager) Initialize(ctx context.Context, cfg config.MCPConfig) error {
	names := make(map[string]bool)
	var enabled []config.MCPServerConfig
	for _, serverCfg := range cfg.Servers {
		if serverCfg.Disabled {
			continue
		}
		if names[serverCfg.Name] {
			return fmt.Errorf("duplicate server name: %s", serverCfg.Name)
		}
		names[serverCfg.Name] = true
		enabled = append(enabled, serverCfg)
	}
	if len(enabled) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(enabled))
	for i, serverCfg := range enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			server, err := NewServer(ctx, serverCfg)
			if err == nil {
				err = m.add(server)
			}
			if err != nil {
				errs[i] = fmt.Errorf("server %s: %w", serverCfg.Name, err)
			}
		}()
	}
	wg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}

	switch {
	case len(failed) == len(enabled):
		return fmt.Errorf("all MCP servers failed to initialize: %w", errors.Join(failed...))
	case len(failed) > 0:
		return fmt.Errorf("some MCP servers failed (loaded %d/%d): %w", len(enabled)-len(failed), len(enabled), errors.Join(failed...))
	}
	return nil
}

// add records a connected server and its tools. The server is closed when
// one of its tool names is already taken.
func (m *Manager) add(server *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	adapters := server.Tools()
	for _, a := range adapters {
		if _, exists := m.tools[a.Name()]; exists {
			server.Close()
			return fmt.Errorf("tool %s already registered", a.Name())
		}
	}
	for _, a := range adapters {
		m.tools[a.Name()] = a
	}
	m.servers[server.Name()] = server
	return nil
}

// Tools returns the adapted tools of every running server, sorted by name
func (m *Manager) Tools() []tool.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tools := make([]tool.Tool, 0, len(m.tools))
	for _, t := range m.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Close shuts down all MCP servers
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(m.servers))
	for name, server := range m.servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Close(); err != nil {
				errChan <- fmt.Errorf("server %s: %w", name, err)
			}
		}()
	}
	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	m.servers = make(map[string]*Server)
	m.tools = make(map[string]tool.Tool)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing servers: %w", errors.Join(errs...))
	}
	return nil
}

// Health checks every running server and joins their failures
func (m *Manager) Health(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, server := range m.servers {
		if err := server.Health(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListServers returns all active server names, sorted
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerCount returns the number of active servers
func (m *Manager) ServerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.servers)
}

package mcp

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Implementation identifies this process to MCP servers.
var Implementation = &mcp.Implementation{
	Name:    "toolenv",
	Version: "1.0.0",
}

// Client is one MCP session plus the tool list it advertised.
type Client struct {
	name    string
	session *mcp.ClientSession

	mu    sync.RWMutex
	tools []*mcp.Tool
}

// CommandTransport runs command as a stdio MCP server. env entries are added
// to the inherited environment.
func CommandTransport(command string, args []string, env map[string]string) *mcp.CommandTransport {
	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		cmd.Env = cmd.Environ()
		for key, value := range env {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
	}
	return &mcp.CommandTransport{Command: cmd}
}

// Connect opens a session over transport and lists the server's tools.
func Connect(ctx context.Context, name string, transport mcp.Transport) (*Client, error) {
	session, err := mcp.NewClient(Implementation, nil).Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
	}

	c := &Client{name: name, session: session}
	if err := c.Refresh(ctx); err != nil {
		session.Close()
		return nil, err
	}
	return c, nil
}

// Refresh re-reads the server's tool list.
func (c *Client) Refresh(ctx context.Context) error {
	var tools []*mcp.Tool
	for t, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("failed to list tools: %w", err)
		}
		tools = append(tools, t)
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return nil
}

// Name returns the server name used as the tool name prefix
func (c *Client) Name() string {
	return c.name
}

// Tools returns the tool list from the last Connect or Refresh
func (c *Client) Tools() []*mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool invokes a remote tool by its unprefixed name
func (c *Client) CallTool(ctx context.Context, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", toolName, err)
	}
	return result, nil
}

// Ping checks that the server still answers
func (c *Client) Ping(ctx context.Context) error {
	return c.session.Ping(ctx, nil)
}

// Close ends the session
func (c *Client) Close() error {
	return c.session.Close()
}

package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"toolenv/internal/jsonx"
	"toolenv/internal/tool"
)

const (
	// BatchConcurrency caps concurrent calls to one server within a batch.
	BatchConcurrency = 8

	successReward = 0.1
)

// ToolAdapter exposes a remote MCP tool as a stateless tool.Tool.
type ToolAdapter struct {
	client         *Client
	mcpTool        *mcp.Tool
	namespacedName string // e.g., "filesystem_read_file"
	schema         *jsonschema.Schema
}

// NewToolAdapter creates an adapter for an MCP tool. The input schema is
// converted once so that Parameters is stable across calls.
func NewToolAdapter(client *Client, mcpTool *mcp.Tool) *ToolAdapter {
	return &ToolAdapter{
		client:         client,
		mcpTool:        mcpTool,
		namespacedName: fmt.Sprintf("%s_%s", client.Name(), mcpTool.Name),
		schema:         convertSchema(mcpTool.InputSchema),
	}
}

// Name returns the namespaced tool name (server_tool)
func (a *ToolAdapter) Name() string {
	return a.namespacedName
}

// Description returns the MCP tool description
func (a *ToolAdapter) Description() string {
	desc := a.mcpTool.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool from %s server", a.client.Name())
	}
	return fmt.Sprintf("%s\n\n[MCP Server: %s]", desc, a.client.Name())
}

// Parameters returns the MCP tool's input schema
func (a *ToolAdapter) Parameters() *jsonschema.Schema {
	return a.schema
}

// Execute calls the MCP server. Transport failures are runtime faults; a
// result flagged IsError is an ordinary failed call.
func (a *ToolAdapter) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	result, err := a.client.CallTool(ctx, a.mcpTool.Name, args)
	if err != nil {
		return nil, err
	}

	if result.IsError {
		return &tool.Result{
			Success: false,
			Error:   formatMCPError(result),
		}, nil
	}

	return &tool.Result{
		Success: true,
		Output:  formatMCPContent(result.Content),
		Data: map[string]any{
			"mcp_server": a.client.Name(),
			"mcp_tool":   a.mcpTool.Name,
		},
	}, nil
}

// BatchExecute fans the calls out over the shared session.
func (a *ToolAdapter) BatchExecute(ctx context.Context, args []map[string]any) ([]*tool.Result, error) {
	return tool.ExecuteParallel(ctx, a, args, BatchConcurrency)
}

// Reward scores successful remote calls.
func (a *ToolAdapter) Reward(_ map[string]any, result *tool.Result) float64 {
	if result != nil && result.Success {
		return successReward
	}
	return 0
}

// convertSchema round-trips the SDK's untyped schema into a typed one.
func convertSchema(raw any) *jsonschema.Schema {
	empty := &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}}
	if raw == nil {
		return empty
	}
	if s, ok := raw.(*jsonschema.Schema); ok {
		return s
	}

	data, err := jsonx.Marshal(raw)
	if err != nil {
		return empty
	}
	var schema jsonschema.Schema
	if err := jsonx.Unmarshal(data, &schema); err != nil {
		return empty
	}
	return &schema
}

// formatMCPContent converts MCP content array to string
func formatMCPContent(content []mcp.Content) string {
	var parts []string

	for _, item := range content {
		switch c := item.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)

		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s]", c.MIMEType))

		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[Audio: %s]", c.MIMEType))

		default:
			data, err := jsonx.Marshal(item)
			if err != nil {
				parts = append(parts, fmt.Sprintf("[Unknown content type: %T]", item))
			} else {
				parts = append(parts, string(data))
			}
		}
	}

	return strings.Join(parts, "\n")
}

// formatMCPError extracts error message from MCP result
func formatMCPError(result *mcp.CallToolResult) string {
	if len(result.Content) > 0 {
		return formatMCPContent(result.Content)
	}
	return "MCP tool returned an error"
}

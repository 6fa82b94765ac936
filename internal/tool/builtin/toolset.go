package builtin

import (
	"fmt"

	"toolenv/internal/tool"
)

// Toolset names that expand to a fixed selection.
const (
	ToolsetAll  = "all"
	ToolsetNone = "none"
)

// Options configures the built-in tools.
type Options struct {
	// CorpusRoot is the directory searched and read by the search and read tools.
	CorpusRoot string

	// MaxMatches caps the lines returned per search query.
	MaxMatches int

	Sandbox SandboxOptions
}

type factory func(Options) tool.Tool

var factories = map[string]factory{
	"calculator": func(o Options) tool.Tool { return NewCalculatorTool(o.Sandbox) },
	"lua":        func(o Options) tool.Tool { return NewLuaTool(o.Sandbox) },
	"todo":       func(Options) tool.Tool { return NewTodoTool() },
	"search":     func(o Options) tool.Tool { return NewSearchTool(o.CorpusRoot, o.MaxMatches) },
	"read":       func(o Options) tool.Tool { return NewReadTool(o.CorpusRoot) },
}

// Names lists the built-in tools in their canonical order.
var Names = []string{"search", "read", "calculator", "lua", "todo"}

// Toolset builds tools by name. A single "all" selects every built-in tool
// and a single "none" selects nothing. Unknown names are an error.
func Toolset(names []string, opts Options) ([]tool.Tool, error) {
	if len(names) == 1 {
		switch names[0] {
		case ToolsetAll:
			names = Names
		case ToolsetNone:
			return nil, nil
		}
	}

	tools := make([]tool.Tool, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		f, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q (available: %v)", name, Names)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		tools = append(tools, f(opts))
	}
	return tools, nil
}

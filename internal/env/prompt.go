package env

import (
	"fmt"
	"strings"

	"toolenv/internal/jsonx"
	"toolenv/internal/tool"
)

const toolsPromptTemplate = `# Tools

You may call one or more functions to assist with the user query.

You are provided with function signatures within <tools></tools> XML tags:
<tools>
%s
</tools>

For each function call, return a json object with function name and arguments within <tool_call></tool_call> XML tags:
<tool_call>
{"name": <function-name>, "arguments": <args-json-object>}
</tool_call>`

// ToolsPrompt renders the instructions that teach a model the tool-call
// syntax, with one JSON tool description per line.
func (e *Env) ToolsPrompt() (string, error) {
	defs := e.tools.GetToolDefinitions()
	lines := make([]string, len(defs))
	for i, def := range defs {
		line, err := jsonx.MarshalString(def)
		if err != nil {
			return "", fmt.Errorf("describe tool %s: %w", def.Function.Name, err)
		}
		lines[i] = line
	}
	return fmt.Sprintf(toolsPromptTemplate, strings.Join(lines, "\n")), nil
}

// ToolsDescription lists the tools in plain text.
func (e *Env) ToolsDescription() string {
	tools := e.tools.List()
	if len(tools) == 0 {
		return "No tools available."
	}

	descriptions := []string{"Available tools:"}
	for _, t := range tools {
		descriptions = append(descriptions, describe(t))
	}
	return strings.Join(descriptions, "\n\n")
}

func describe(t tool.Tool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tool: %s\nDescription: %s", t.Name(), t.Description())
	if params := t.Parameters(); params != nil {
		if s, err := jsonx.MarshalString(params); err == nil {
			fmt.Fprintf(&sb, "\nParameters: %s", s)
		}
	}
	return sb.String()
}

// HistoryContext renders the successful calls so far as a numbered log.
func (e *Env) HistoryContext() string {
	if len(e.history) == 0 {
		return "No tool call history yet."
	}

	var sb strings.Builder
	sb.WriteString("Tool call history:\n")
	for i, rec := range e.history {
		args, err := jsonx.MarshalString(rec.Args)
		if err != nil {
			args = fmt.Sprintf("%v", rec.Args)
		}
		fmt.Fprintf(&sb, "%d. Tool: %s\n", i+1, rec.Tool)
		fmt.Fprintf(&sb, "   Arguments: %s\n", args)
		fmt.Fprintf(&sb, "   Result: %s\n\n", rec.Result.Observation())
	}
	return sb.String()
}

package handlers

import (
	"context"
	"fmt"

	"toolenv/internal/hook"
)

// DenyToolsHandler blocks execution of the named tools. A denied call
// counts as a failed execution for the episode that made it.
type DenyToolsHandler struct {
	toolNames map[string]bool
}

// NewDenyToolsHandler creates a handler that denies the given tools
func NewDenyToolsHandler(tools ...string) *DenyToolsHandler {
	toolNames := make(map[string]bool, len(tools))
	for _, t := range tools {
		toolNames[t] = true
	}
	return &DenyToolsHandler{toolNames: toolNames}
}

func (h *DenyToolsHandler) Name() string {
	return "deny_tools"
}

func (h *DenyToolsHandler) Points() []hook.HookPoint {
	return []hook.HookPoint{hook.BeforeToolExecution}
}

func (h *DenyToolsHandler) Priority() int {
	return 100 // High priority - runs first
}

func (h *DenyToolsHandler) Handle(ctx context.Context, data *hook.HookData) (*hook.Feedback, error) {
	if !h.toolNames[data.ToolName] {
		return hook.AllowFeedback(), nil
	}
	return hook.DenyFeedback(fmt.Sprintf("tool '%s' is disabled", data.ToolName)), nil
}

package llm

import (
	"context"
	"errors"
)

// ErrRetryable wraps provider errors worth retrying, such as rate limits.
var ErrRetryable = errors.New("retryable model error")

// Client is one chat completion backend.
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Provider() string
	Model() string
}

type ChatRequest struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// Stop ends generation at any of these sequences
	Stop []string
	// Seed requests deterministic sampling where the backend supports it
	Seed *int
}

type ChatResponse struct {
	Message    Message
	StopReason StopReason
	Usage      Usage
}

// ToolDefinition is the machine-readable description of one tool as it is
// shown to the model.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function *FunctionDef `json:"function"`
}

type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

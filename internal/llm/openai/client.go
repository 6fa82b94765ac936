package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"toolenv/internal/llm"
)

// Client talks to any OpenAI-compatible chat completions endpoint.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a new OpenAI client with the given API key and model.
// If baseURL is empty, it uses the default OpenAI API endpoint; otherwise the
// custom endpoint is used (vLLM, SGLang and other OpenAI-compatible servers).
func NewClient(apiKey, model string, baseURL ...string) *Client {
	config := openai.DefaultConfig(apiKey)
	if len(baseURL) > 0 && baseURL[0] != "" {
		config.BaseURL = baseURL[0]
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Chat sends one completion request. When generation stops on one of
// req.Stop, the matched sequence is put back so the reply still holds a
// closed tool-call block.
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Seed:        req.Seed,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in completion response")
	}

	choice := resp.Choices[0]
	content := choice.Message.Content
	if choice.FinishReason == openai.FinishReasonStop {
		content = restoreStop(content, req.Stop)
	}

	return &llm.ChatResponse{
		Message: llm.Message{
			Role:      llm.RoleAssistant,
			Content:   content,
			Timestamp: time.Now(),
		},
		StopReason: llm.StopReason(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) Provider() string {
	return "openai"
}

func (c *Client) Model() string {
	return c.model
}

func convertMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		result[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return result
}

// restoreStop appends the stop sequence whose opening counterpart is left
// unclosed. Only the <tool_call> pair is recognized.
func restoreStop(content string, stop []string) string {
	for _, seq := range stop {
		open := strings.Replace(seq, "</", "<", 1)
		if open == seq {
			continue
		}
		if strings.LastIndex(content, open) > strings.LastIndex(content, seq) {
			return content + seq
		}
	}
	return content
}

// classify marks throttling and server errors as retryable.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %w", llm.ErrRetryable, err)
		}
		return err
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && (reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500) {
		return fmt.Errorf("%w: %w", llm.ErrRetryable, err)
	}
	return err
}

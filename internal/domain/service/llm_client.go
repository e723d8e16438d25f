// Package service holds the LLM wire-contract this module's streaming
// layer (internal/stream) and provider layer (internal/infrastructure/llm)
// both depend on, so neither has to import the other. The teacher's
// ReAct agent loop that used to own these types is out of scope here —
// §5 of the spec makes internal/loop the single owner of the turn
// lifecycle, so the contract types are all this package keeps.
package service

import (
	"context"

	"github.com/contextpilot/pilot/internal/domain/entity"
	domaintool "github.com/contextpilot/pilot/internal/domain/tool"
)

// LLMClient is the interface a provider (or a router fanning out across
// several) implements to serve a model turn. internal/stream.ProviderAdapter
// is the one consumer that crosses into this package.
type LLMClient interface {
	// Generate sends a prompt with tool definitions and history, returning a full response.
	Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error)

	// GenerateStream sends a prompt and streams back partial responses.
	// The channel is closed when the stream ends. The caller must drain it.
	// Returns the final accumulated LLMResponse after the channel is closed.
	GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error)
}

// StreamChunk represents a single delta from a streaming LLM response.
type StreamChunk struct {
	DeltaText     string
	DeltaToolCall *entity.ToolCallInfo
	FinishReason  string // "stop", "tool_calls", "" (not yet finished)
}

// LLMRequest is the request sent to the language model.
type LLMRequest struct {
	Messages    []LLMMessage            `json:"messages"`
	Tools       []domaintool.Definition `json:"tools,omitempty"`
	Model       string                  `json:"model"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float64                 `json:"temperature"`
}

// LLMMessage represents a single message in the conversation.
type LLMMessage struct {
	Role       string                `json:"role"` // "system", "user", "assistant", "tool"
	Content    string                `json:"content"`
	ToolCalls  []entity.ToolCallInfo `json:"tool_calls,omitempty"`
	ToolCallID string                `json:"tool_call_id,omitempty"`
	Name       string                `json:"name,omitempty"`
}

// LLMResponse is the response from the language model.
type LLMResponse struct {
	Content    string                `json:"content"`
	ToolCalls  []entity.ToolCallInfo `json:"tool_calls,omitempty"`
	ModelUsed  string                `json:"model_used"`
	TokensUsed int                   `json:"tokens_used"`
}

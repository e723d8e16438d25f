// Package stream is C6: the streaming LLM client contract, the
// retry/error-classification policy around it, and the tool-execution
// pipeline that turns a finished stream into new session state.
package stream

import (
	"context"
	"strings"

	"github.com/contextpilot/pilot/internal/tool"
)

// Client is the interface the loop's streaming step drives. It
// decouples the event loop from any one provider's wire format the way
// the reference gateway's LLMClient interface decouples the agent loop
// from concrete provider clients.
type Client interface {
	GenerateStream(ctx context.Context, req Request, deltaCh chan<- Chunk) (*Response, error)
}

// Chunk is a single delta from a streaming response.
type Chunk struct {
	DeltaText     string
	DeltaToolCall *ToolCallDelta
	FinishReason  string
}

// ToolCallDelta is an incremental tool-call fragment; providers stream
// a tool call's id/name/arguments across several chunks.
type ToolCallDelta struct {
	ID        string
	Name      string
	ArgsDelta string
}

// Request is sent to Client.GenerateStream.
type Request struct {
	Messages    []Message
	Tools       []tool.Definition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Message is one entry of the flattened conversation sent to the
// provider — system/user/assistant/tool roles, with tool_calls/
// tool_call_id carried the way OpenAI-style wire formats require.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCallInfo
	ToolCallID string
	Name       string
}

// ToolCallInfo is a completed tool invocation request from the model.
type ToolCallInfo struct {
	ID        string
	Name      string
	Arguments string // raw JSON arguments
}

// Response is the accumulated result of a finished stream.
type Response struct {
	Content    string
	ToolCalls  []ToolCallInfo
	ModelUsed  string
	TokensUsed int
}

// TextContent is a defensive accessor mirroring the reference
// LLMMessage.TextContent helper for callers that may hold a Message
// built from multimodal parts in the future.
func (m *Message) TextContent() string {
	return strings.TrimSpace(m.Content)
}

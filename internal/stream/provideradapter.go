package stream

import (
	"context"
	"encoding/json"

	"github.com/contextpilot/pilot/internal/domain/entity"
	domainservice "github.com/contextpilot/pilot/internal/domain/service"
	domaintool "github.com/contextpilot/pilot/internal/domain/tool"
)

// ProviderAdapter implements Client by translating to and from the
// teacher's provider-routing stack (internal/infrastructure/llm.Router
// and its per-vendor Provider implementations), which already speaks
// domainservice.LLMClient. This is the one seam between C6's abstract
// streaming contract and a concrete, runnable default client.
type ProviderAdapter struct {
	client domainservice.LLMClient
}

// NewProviderAdapter wraps any domainservice.LLMClient — typically an
// *llm.Router with one or more vendor providers registered — as a C6
// stream.Client.
func NewProviderAdapter(client domainservice.LLMClient) *ProviderAdapter {
	return &ProviderAdapter{client: client}
}

// TextGeneratorAdapter wraps the same domainservice.LLMClient as a
// Summarizer's TextGenerator: one prompt in, one completion out, no
// streaming or tool calls, so TL;DR generation can reuse whatever
// model the router resolves for a small dedicated model name.
type TextGeneratorAdapter struct {
	client domainservice.LLMClient
	model  string
}

// NewTextGeneratorAdapter wires a TextGenerator against model (usually
// a cheaper model than the main conversation's).
func NewTextGeneratorAdapter(client domainservice.LLMClient, model string) *TextGeneratorAdapter {
	return &TextGeneratorAdapter{client: client, model: model}
}

func (a *TextGeneratorAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	req := &domainservice.LLMRequest{
		Messages: []domainservice.LLMMessage{{Role: "user", Content: prompt}},
		Model:    a.model,
	}
	resp, err := a.client.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (a *ProviderAdapter) GenerateStream(ctx context.Context, req Request, deltaCh chan<- Chunk) (*Response, error) {
	domainReq := toDomainRequest(req)
	domainCh := make(chan domainservice.StreamChunk)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for dc := range domainCh {
			deltaCh <- fromDomainChunk(dc)
		}
	}()

	resp, err := a.client.GenerateStream(ctx, domainReq, domainCh)
	close(domainCh)
	<-done
	if err != nil {
		return nil, err
	}
	return fromDomainResponse(resp), nil
}

func toDomainRequest(req Request) *domainservice.LLMRequest {
	messages := make([]domainservice.LLMMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = domainservice.LLMMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  toDomainToolCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
	}
	tools := make([]domaintool.Definition, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = domaintool.Definition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return &domainservice.LLMRequest{
		Messages: messages, Tools: tools, Model: req.Model,
		MaxTokens: req.MaxTokens, Temperature: req.Temperature,
	}
}

func toDomainToolCalls(calls []ToolCallInfo) []entity.ToolCallInfo {
	if len(calls) == 0 {
		return nil
	}
	out := make([]entity.ToolCallInfo, len(calls))
	for i, c := range calls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(c.Arguments), &args)
		out[i] = entity.ToolCallInfo{ID: c.ID, Name: c.Name, Arguments: args}
	}
	return out
}

func fromDomainChunk(dc domainservice.StreamChunk) Chunk {
	c := Chunk{DeltaText: dc.DeltaText, FinishReason: dc.FinishReason}
	if dc.DeltaToolCall != nil {
		argsJSON, _ := json.Marshal(dc.DeltaToolCall.Arguments)
		c.DeltaToolCall = &ToolCallDelta{
			ID: dc.DeltaToolCall.ID, Name: dc.DeltaToolCall.Name, ArgsDelta: string(argsJSON),
		}
	}
	return c
}

func fromDomainResponse(resp *domainservice.LLMResponse) *Response {
	if resp == nil {
		return &Response{}
	}
	toolCalls := make([]ToolCallInfo, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		argsJSON, _ := json.Marshal(tc.Arguments)
		toolCalls[i] = ToolCallInfo{ID: tc.ID, Name: tc.Name, Arguments: string(argsJSON)}
	}
	return &Response{
		Content: resp.Content, ToolCalls: toolCalls,
		ModelUsed: resp.ModelUsed, TokensUsed: resp.TokensUsed,
	}
}

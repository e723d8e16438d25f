package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/contextpilot/pilot/internal/session"
)

// Summarizer produces the TL;DR a finalized message is given in the
// background (§4.6 step: "TL;DR background task"), grounded on the
// reference LLMSummarizer's single-message variant.
type Summarizer interface {
	Summarize(ctx context.Context, msg *session.Message) (string, error)
}

// TextGenerator is the narrow model surface a Summarizer needs — a
// single prompt-in, text-out call, decoupled from the full streaming
// Client so TL;DR generation can use a cheaper model.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMSummarizer is the default Summarizer: one-shot prompt completion
// against TextGenerator.
type LLMSummarizer struct {
	client          TextGenerator
	maxOutputTokens int
	prompt          string
}

func NewLLMSummarizer(client TextGenerator, maxOutputTokens int) *LLMSummarizer {
	if maxOutputTokens <= 0 {
		maxOutputTokens = 500
	}
	return &LLMSummarizer{client: client, maxOutputTokens: maxOutputTokens, prompt: defaultSummaryPrompt}
}

const defaultSummaryPrompt = `Summarize the following message into a concise TL;DR, preserving:
1. The core request or decision it contains
2. Any code, file paths, or configuration it names
3. Open questions or follow-ups it leaves

Keep it under 300 characters.

Message:
%s

TL;DR:`

func (s *LLMSummarizer) Summarize(ctx context.Context, msg *session.Message) (string, error) {
	content := strings.TrimSpace(msg.EffectiveContent())
	if content == "" {
		return "", nil
	}
	prompt := fmt.Sprintf(s.prompt, content)
	return s.client.Generate(ctx, prompt)
}

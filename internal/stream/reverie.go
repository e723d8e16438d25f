package stream

import (
	"context"

	"github.com/contextpilot/pilot/internal/session"
)

// Reverie is a secondary, independently-cancellable sub-agent stream
// that shares the main turn's sorted panel prefix for cache-hit
// purposes (§4.5/Glossary) but carries its own conversation tail and
// its own pending/typewriter state — it never touches the main
// stream's Messages slice.
type Reverie struct {
	client   Client
	tail     []Message
	cancel   context.CancelFunc
	active   bool
	lastText string
}

// NewReverie starts idle; Start arms it with a prompt and the shared
// panel-derived context items formatted by the caller (ctxassembler's
// Turn.ContextItems, rendered the same way the main stream renders
// them, so the provider sees an identical prefix and the prompt cache
// is shared across both streams).
func NewReverie(client Client) *Reverie {
	return &Reverie{client: client}
}

// Start launches a reverie turn with its own conversation tail
// (typically a single system/user pair describing the sub-agent's
// task) prefixed by the shared panel context.
func (r *Reverie) Start(ctx context.Context, sharedPrefix []Message, tail []Message, model string, deltaCh chan<- Chunk) (*Response, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.active = true
	r.tail = tail
	defer func() { r.active = false }()

	messages := make([]Message, 0, len(sharedPrefix)+len(tail))
	messages = append(messages, sharedPrefix...)
	messages = append(messages, tail...)

	resp, err := r.client.GenerateStream(turnCtx, Request{Messages: messages, Model: model}, deltaCh)
	if err == nil && resp != nil {
		r.lastText = resp.Content
	}
	return resp, err
}

// Cancel stops an in-flight reverie stream without affecting the main
// stream task.
func (r *Reverie) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
	r.active = false
}

func (r *Reverie) Active() bool    { return r.active }
func (r *Reverie) LastText() string { return r.lastText }

// reverieState is the session-level marker recording whether a reverie
// stream is currently enabled, per the module's "if enabled" clause.
type reverieState struct {
	enabled bool
}

func ReverieEnabled(s *session.State) bool {
	st, _ := session.GetExt[reverieState](s)
	return st.enabled
}

func SetReverieEnabled(s *session.State, enabled bool) {
	session.SetExt(s, reverieState{enabled: enabled})
}
